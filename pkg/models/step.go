package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StepType identifies what a workflow step does.
type StepType string

const (
	StepTypeTrigger      StepType = "trigger"
	StepTypeSendEmail    StepType = "send_email"
	StepTypeSendSMS      StepType = "send_sms"
	StepTypeSendMessage  StepType = "send_message"
	StepTypeCreateTask   StepType = "create_task"
	StepTypeUpdateField  StepType = "update_field"
	StepTypeCreateRecord StepType = "create_record"
	StepTypeWait         StepType = "wait"
	StepTypeDecision     StepType = "decision"
	StepTypeWebhook      StepType = "webhook"
	StepTypeEnd          StepType = "end"
)

// Static errors for step configuration handling.
var (
	ErrConditionFieldRequired = errors.New("condition field is required")
	ErrUnknownOperator        = errors.New("unknown operator")
	ErrMalformedCondition     = errors.New("malformed condition")
	ErrUnknownStepType        = errors.New("unknown step type")
	ErrConfigMismatch         = errors.New("step config does not match step type")
)

// WorkflowStep is one node in a workflow's directed graph. StepKey is the
// graph edge identifier; NextStepKey is the default successor. Decision
// steps carry branch targets in their config.
type WorkflowStep struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	StepKey     string          `json:"step_key"  validate:"required"`
	StepType    StepType        `json:"step_type" validate:"required"`
	StepOrder   int             `json:"step_order"`
	StepConfig  json.RawMessage `json:"step_config,omitempty"`
	NextStepKey *string         `json:"next_step_key,omitempty"`
	PositionX   int             `json:"position_x"` // Canvas layout only
	PositionY   int             `json:"position_y"`
}

// EmailConfig configures a send_email step.
type EmailConfig struct {
	TemplateID string            `json:"template_id" validate:"required"`
	Recipient  string            `json:"recipient"`
	Variables  map[string]string `json:"variables,omitempty"`
	BestEffort bool              `json:"best_effort,omitempty"` // Continue on send failure
}

// SMSConfig configures a send_sms step.
type SMSConfig struct {
	Body       string `json:"body" validate:"required"`
	To         string `json:"to"`
	BestEffort bool   `json:"best_effort,omitempty"`
}

// MessageConfig configures a send_message (portal message) step.
type MessageConfig struct {
	Body       string `json:"body" validate:"required"`
	Channel    string `json:"channel,omitempty"`
	BestEffort bool   `json:"best_effort,omitempty"`
}

// TaskConfig configures a create_task step.
type TaskConfig struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

// FieldUpdateConfig configures an update_field step.
type FieldUpdateConfig struct {
	Field string `json:"field" validate:"required"`
	Value any    `json:"value"`
}

// RecordConfig configures a create_record step.
type RecordConfig struct {
	RecordType ObjectType     `json:"record_type" validate:"required"`
	Fields     map[string]any `json:"fields"`
}

// WaitConfig configures a wait step. Either Duration or Until must be set.
type WaitConfig struct {
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Until           string `json:"until,omitempty"` // RFC3339 timestamp
	Description     string `json:"description,omitempty"`
}

// Delay resolves the wait target relative to now.
func (c WaitConfig) Delay(now time.Time) (time.Time, error) {
	if c.Until != "" {
		target, err := time.Parse(time.RFC3339, c.Until)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid wait target %q: %w", c.Until, err)
		}

		return target, nil
	}

	return now.Add(time.Duration(c.DurationMinutes) * time.Minute), nil
}

// DecisionConfig configures a decision step. Condition is an expression
// evaluated against the execution context and record snapshot; OnTrue and
// OnFalse are branch target step keys.
type DecisionConfig struct {
	Condition string `json:"condition" validate:"required"`
	OnTrue    string `json:"on_true"   validate:"required"`
	OnFalse   string `json:"on_false"  validate:"required"`
}

// WebhookConfig configures a webhook step.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
}

// DecodeConfig unmarshals the step's raw config into its typed variant.
// Trigger and end steps have no config and return nil.
func (s *WorkflowStep) DecodeConfig() (any, error) {
	switch s.StepType {
	case StepTypeTrigger, StepTypeEnd:
		return nil, nil
	case StepTypeSendEmail:
		return decodeStepConfig[EmailConfig](s)
	case StepTypeSendSMS:
		return decodeStepConfig[SMSConfig](s)
	case StepTypeSendMessage:
		return decodeStepConfig[MessageConfig](s)
	case StepTypeCreateTask:
		return decodeStepConfig[TaskConfig](s)
	case StepTypeUpdateField:
		return decodeStepConfig[FieldUpdateConfig](s)
	case StepTypeCreateRecord:
		return decodeStepConfig[RecordConfig](s)
	case StepTypeWait:
		return decodeStepConfig[WaitConfig](s)
	case StepTypeDecision:
		return decodeStepConfig[DecisionConfig](s)
	case StepTypeWebhook:
		return decodeStepConfig[WebhookConfig](s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, s.StepType)
	}
}

// DecisionConfig returns the typed config of a decision step.
func (s *WorkflowStep) DecisionConfig() (*DecisionConfig, error) {
	if s.StepType != StepTypeDecision {
		return nil, fmt.Errorf("%w: step %s is %s", ErrConfigMismatch, s.StepKey, s.StepType)
	}

	return decodeStepConfig[DecisionConfig](s)
}

// WaitConfig returns the typed config of a wait step.
func (s *WorkflowStep) WaitConfig() (*WaitConfig, error) {
	if s.StepType != StepTypeWait {
		return nil, fmt.Errorf("%w: step %s is %s", ErrConfigMismatch, s.StepKey, s.StepType)
	}

	return decodeStepConfig[WaitConfig](s)
}

// SuccessorKeys returns every step key this step may advance to.
func (s *WorkflowStep) SuccessorKeys() []string {
	var keys []string

	if s.NextStepKey != nil && *s.NextStepKey != "" {
		keys = append(keys, *s.NextStepKey)
	}

	if s.StepType == StepTypeDecision {
		if config, err := s.DecisionConfig(); err == nil {
			if config.OnTrue != "" {
				keys = append(keys, config.OnTrue)
			}

			if config.OnFalse != "" {
				keys = append(keys, config.OnFalse)
			}
		}
	}

	return keys
}

// IsTerminal reports whether the step ends the workflow graph.
func (s *WorkflowStep) IsTerminal() bool {
	return s.StepType == StepTypeEnd
}

func decodeStepConfig[T any](s *WorkflowStep) (*T, error) {
	var config T

	if len(s.StepConfig) == 0 {
		return &config, nil
	}

	err := json.Unmarshal(s.StepConfig, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s config for step %s: %w", s.StepType, s.StepKey, err)
	}

	return &config, nil
}

// MustConfig marshals a typed config into raw step config. Intended for
// construction sites and tests where the input is known valid.
func MustConfig(config any) json.RawMessage {
	raw, err := json.Marshal(config)
	if err != nil {
		panic(err)
	}

	return raw
}
