// Package events defines event types for record mutations and execution
// lifecycle notifications.
package events

import (
	"reflect"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
)

type EventType string

// Kafka topics.
const RecordTopic = "doulaflow.records"     // Inbound record mutation events
const ExecutionTopic = "doulaflow.events"   // Execution lifecycle events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound record events.
	RecordEventType EventType = "record.event"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	StepCompletedEvent      EventType = "execution.step.completed"
	StepFailedEvent         EventType = "execution.step.failed"
)

// EventKind is the kind of record mutation that produced a RecordEvent.
type EventKind string

const (
	EventKindCreate          EventKind = "create"
	EventKindUpdate          EventKind = "update"
	EventKindFieldChange     EventKind = "field_change"
	EventKindManual          EventKind = "manual"
	EventKindScheduled       EventKind = "scheduled"
	EventKindFormSubmit      EventKind = "form_submit"
	EventKindPaymentReceived EventKind = "payment_received"
)

// TriggerTypes returns the workflow trigger types this event kind can fire.
// Creates and updates also satisfy field_change triggers since the evaluator
// inspects old/new values itself.
func (k EventKind) TriggerTypes() []models.TriggerType {
	switch k {
	case EventKindCreate:
		return []models.TriggerType{models.TriggerTypeRecordCreate}
	case EventKindUpdate:
		return []models.TriggerType{models.TriggerTypeRecordUpdate, models.TriggerTypeFieldChange}
	case EventKindFieldChange:
		return []models.TriggerType{models.TriggerTypeFieldChange}
	case EventKindManual:
		return []models.TriggerType{models.TriggerTypeManual}
	case EventKindScheduled:
		return []models.TriggerType{models.TriggerTypeScheduled}
	case EventKindFormSubmit:
		return []models.TriggerType{models.TriggerTypeFormSubmit}
	case EventKindPaymentReceived:
		return []models.TriggerType{models.TriggerTypePaymentReceived}
	default:
		return nil
	}
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RecordEvent is a record mutation emitted by the CRM write paths. OldValues
// is empty for creates; NewValues always carries the current snapshot.
type RecordEvent struct {
	BaseEvent

	ObjectType     models.ObjectType `json:"object_type"`
	RecordID       string            `json:"record_id"`
	OrganizationID string            `json:"organization_id"`
	Kind           EventKind         `json:"kind"`
	OldValues      map[string]any    `json:"old_values,omitempty"`
	NewValues      map[string]any    `json:"new_values,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func (e RecordEvent) GetType() EventType {
	return RecordEventType
}

// ChangedField reports whether the named field differs between old and new
// snapshots.
func (e RecordEvent) ChangedField(field string) bool {
	oldValue, hadOld := e.OldValues[field]
	newValue, hasNew := e.NewValues[field]

	if hadOld != hasNew {
		return true
	}

	if !hadOld {
		return false
	}

	// Snapshot values are arbitrary JSON; objects and arrays are not
	// comparable with ==.
	return !reflect.DeepEqual(oldValue, newValue)
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string            `json:"execution_id"`
	WorkflowID   string            `json:"workflow_id"`
	WorkflowName string            `json:"workflow_name"`
	RecordType   models.ObjectType `json:"record_type"`
	RecordID     string            `json:"record_id"`
	TriggerType  string            `json:"trigger_type"`
	Initiator    string            `json:"initiator"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	WorkflowID    string `json:"workflow_id"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepKey     string `json:"step_key"`
	Error       string `json:"error"`
	RetryCount  int    `json:"retry_count"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	StepKey     string    `json:"step_key"`
	ResumeAt    time.Time `json:"resume_at"`
	WaitingFor  string    `json:"waiting_for"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type StepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepKey     string         `json:"step_key"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepKey     string `json:"step_key"`
	Error       string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
