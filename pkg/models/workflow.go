// Package models defines the core domain models for the workflow automation engine.
package models

import "time"

// ObjectType identifies the kind of business record a workflow operates on.
type ObjectType string

const (
	ObjectTypeLead       ObjectType = "lead"
	ObjectTypeMeeting    ObjectType = "meeting"
	ObjectTypePayment    ObjectType = "payment"
	ObjectTypeInvoice    ObjectType = "invoice"
	ObjectTypeService    ObjectType = "service"
	ObjectTypeDocument   ObjectType = "document"
	ObjectTypeContract   ObjectType = "contract"
	ObjectTypeIntakeForm ObjectType = "intake_form"
)

// TriggerType identifies the kind of event that starts a workflow.
type TriggerType string

const (
	TriggerTypeRecordCreate    TriggerType = "record_create"
	TriggerTypeRecordUpdate    TriggerType = "record_update"
	TriggerTypeFieldChange     TriggerType = "field_change"
	TriggerTypeScheduled       TriggerType = "scheduled"
	TriggerTypeManual          TriggerType = "manual"
	TriggerTypeFormSubmit      TriggerType = "form_submit"
	TriggerTypePaymentReceived TriggerType = "payment_received"
)

// TriggerConfig carries trigger-specific parameters.
type TriggerConfig struct {
	// Field is the watched field for field_change triggers.
	Field string `json:"field,omitempty"`
	// FromValue/ToValue constrain field_change triggers. Empty means wildcard.
	FromValue string `json:"from_value,omitempty"`
	ToValue   string `json:"to_value,omitempty"`
	// Cron defines when scheduled triggers fire, 5-field cron format.
	Cron string `json:"cron,omitempty"`
}

// ReentryMode governs whether a record that previously entered a workflow may
// enter it again.
type ReentryMode string

const (
	ReentryAllowAll  ReentryMode = "allow_all"
	ReentryAfterDays ReentryMode = "reentry_after_days"
	ReentryBlock     ReentryMode = "block_reentry"
)

// Workflow represents a named automation definition: a trigger plus a
// directed graph of steps.
type Workflow struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organization_id" validate:"required"`
	Name            string          `json:"name"            validate:"required,min=3"`
	Description     string          `json:"description"`
	ObjectType      ObjectType      `json:"object_type"     validate:"required"`
	TriggerType     TriggerType     `json:"trigger_type"    validate:"required"`
	TriggerConfig   TriggerConfig   `json:"trigger_config"`
	EntryCriteria   EntryCriteria   `json:"entry_criteria"`
	ReentryMode     ReentryMode     `json:"reentry_mode"`
	ReentryWaitDays int             `json:"reentry_wait_days"`
	IsActive        bool            `json:"is_active"`
	IsTemplate      bool            `json:"is_template"`
	CanvasData      map[string]any  `json:"canvas_data,omitempty"` // Visual layout only
	EvaluationOrder int             `json:"evaluation_order"`

	// NextFireAt is the precomputed due time of a scheduled trigger. The
	// scheduler advances it with a conditional update so that exactly one
	// instance wins each firing. Nil until a scheduler arms the workflow.
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`

	Steps           []*WorkflowStep `json:"steps"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// TriggerStep returns the workflow's trigger step, or nil if none exists.
func (w *Workflow) TriggerStep() *WorkflowStep {
	for _, step := range w.Steps {
		if step.StepType == StepTypeTrigger {
			return step
		}
	}

	return nil
}

// StepByKey looks up a step by its step key.
func (w *Workflow) StepByKey(key string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.StepKey == key {
			return step, true
		}
	}

	return nil, false
}

// EffectiveReentryMode normalizes an unset reentry mode to allow_all.
func (w *Workflow) EffectiveReentryMode() ReentryMode {
	if w.ReentryMode == "" {
		return ReentryAllowAll
	}

	return w.ReentryMode
}
