package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status allows no further scheduler activity.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransitionTo enforces the execution state machine:
// running ⇄ waiting → completed | failed | cancelled, with failed/cancelled
// returning to running only through an explicit retry.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusRunning:
		return next == ExecutionStatusWaiting || next == ExecutionStatusCompleted ||
			next == ExecutionStatusFailed || next == ExecutionStatusCancelled
	case ExecutionStatusWaiting:
		return next == ExecutionStatusRunning || next == ExecutionStatusFailed ||
			next == ExecutionStatusCancelled
	case ExecutionStatusFailed, ExecutionStatusCancelled:
		return next == ExecutionStatusRunning // Explicit retry only
	default:
		return false
	}
}

// WorkflowExecution is one run of a workflow against one business record.
// LockedUntil/LockedBy implement the scheduler's claim lease; they are never
// exposed to clients.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"     validate:"required"`
	OrganizationID string          `json:"organization_id"`
	RecordType     ObjectType      `json:"record_type"     validate:"required"`
	RecordID       string          `json:"record_id"       validate:"required"`
	Status         ExecutionStatus `json:"status"`
	CurrentStepKey string          `json:"current_step_key"`
	Context        map[string]any  `json:"context,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	WaitingFor     string          `json:"waiting_for,omitempty"`
	LockedUntil    *time.Time      `json:"-"`
	LockedBy       string          `json:"-"`
}

// Duration returns how long the execution ran, zero for unfinished ones.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}

	return e.CompletedAt.Sub(e.StartedAt)
}

// IsDue reports whether the scheduler should dispatch the execution now.
func (e *WorkflowExecution) IsDue(now time.Time) bool {
	if e.Status != ExecutionStatusRunning && e.Status != ExecutionStatusWaiting {
		return false
	}

	return e.NextRunAt == nil || !e.NextRunAt.After(now)
}

// StepStatus is the lifecycle state of a single step attempt.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepExecution is the append-only audit record of one step attempt within
// an execution. One row per attempt, pending → running → terminal.
type StepExecution struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id" validate:"required"`
	StepID       string         `json:"step_id"`
	StepKey      string         `json:"step_key"     validate:"required"`
	Status       StepStatus     `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}
