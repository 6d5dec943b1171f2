package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/eventbus"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

var (
	// ErrWorkflowInactive is returned when a manual trigger targets a
	// deactivated workflow.
	ErrWorkflowInactive = errors.New("workflow is not active")

	// ErrInvalidTransition is returned by lifecycle operations invoked on an
	// execution in the wrong state.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrWorkflowInvalid is returned when activation is blocked by
	// validation errors.
	ErrWorkflowInvalid = errors.New("workflow failed validation")
)

// Lifecycle exposes the execution operations behind admin actions: manual
// trigger, retry, cancel and workflow activation.
type Lifecycle struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	now         func() time.Time
}

func NewLifecycle(p persistence.Persistence, bus eventbus.EventBus, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		persistence: p,
		eventBus:    bus,
		logger:      logger.With("module", "lifecycle"),
		now:         time.Now,
	}
}

// StartExecutions persists evaluator output and announces each start. Used
// by the activator after Evaluate.
func (l *Lifecycle) StartExecutions(ctx context.Context, executions []*models.WorkflowExecution) error {
	for _, execution := range executions {
		err := l.persistence.ExecutionRepository().Save(ctx, execution)
		if err != nil {
			return fmt.Errorf("failed to start execution for workflow %s: %w", execution.WorkflowID, err)
		}

		l.publishStarted(ctx, execution, "trigger")
	}

	return nil
}

// TriggerManually starts an execution for one record, bypassing entry
// criteria and re-entry rules. The workflow must be active.
func (l *Lifecycle) TriggerManually(ctx context.Context, workflowID string, recordType models.ObjectType, recordID string) (*models.WorkflowExecution, error) {
	workflow, err := l.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive {
		return nil, fmt.Errorf("cannot trigger workflow %s: %w", workflowID, ErrWorkflowInactive)
	}

	execution := NewExecution(workflow, recordType, recordID, map[string]any{
		"trigger_type": string(models.TriggerTypeManual),
	}, l.now().UTC())

	err = l.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	l.logger.InfoContext(ctx, "Workflow triggered manually",
		"workflow_id", workflowID, "record_id", recordID, "execution_id", execution.ID)

	l.publishStarted(ctx, execution, "manual")

	return execution, nil
}

// RetryExecution returns a failed or cancelled execution to running at its
// current step, clears the error state and re-enqueues it immediately.
func (l *Lifecycle) RetryExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := l.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !execution.Status.CanTransitionTo(models.ExecutionStatusRunning) ||
		(execution.Status != models.ExecutionStatusFailed && execution.Status != models.ExecutionStatusCancelled) {
		return nil, fmt.Errorf("cannot retry execution %s in status %s: %w", executionID, execution.Status, ErrInvalidTransition)
	}

	now := l.now().UTC()

	execution.Status = models.ExecutionStatusRunning
	execution.ErrorMessage = ""
	execution.RetryCount = 0
	execution.CompletedAt = nil
	execution.NextRunAt = &now
	execution.WaitingFor = ""

	err = l.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save retried execution: %w", err)
	}

	l.logger.InfoContext(ctx, "Execution retried",
		"execution_id", executionID, "step_key", execution.CurrentStepKey)

	l.publishStarted(ctx, execution, "retry")

	return execution, nil
}

// CancelExecution cancels a running or waiting execution and marks its
// in-flight step attempts skipped. Cancelling a terminal execution is a
// no-op.
func (l *Lifecycle) CancelExecution(ctx context.Context, executionID string) error {
	execution, err := l.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return nil
	}

	now := l.now().UTC()

	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now
	execution.NextRunAt = nil
	execution.WaitingFor = ""

	err = l.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to save cancelled execution: %w", err)
	}

	err = l.skipInFlightSteps(ctx, execution, now)
	if err != nil {
		l.logger.WarnContext(ctx, "Failed to mark in-flight steps skipped",
			"execution_id", executionID, "error", err)
	}

	l.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	l.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:   l.baseEvent(events.ExecutionCancelledEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
	})

	return nil
}

// ToggleActive activates or deactivates a workflow. Activation is gated on
// validation passing.
func (l *Lifecycle) ToggleActive(ctx context.Context, workflowID string, active bool) (*ValidationResult, error) {
	workflow, err := l.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if active {
		result := ValidateWorkflow(workflow)
		if !result.IsValid {
			return result, fmt.Errorf("cannot activate workflow %s: %w", workflowID, ErrWorkflowInvalid)
		}

		err = l.persistence.WorkflowRepository().SetActive(ctx, workflowID, true)
		if err != nil {
			return nil, err
		}

		l.logger.InfoContext(ctx, "Workflow activated", "workflow_id", workflowID)

		return result, nil
	}

	err = l.persistence.WorkflowRepository().SetActive(ctx, workflowID, false)
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Workflow deactivated", "workflow_id", workflowID)

	return &ValidationResult{IsValid: true}, nil
}

func (l *Lifecycle) skipInFlightSteps(ctx context.Context, execution *models.WorkflowExecution, now time.Time) error {
	stepExecutions, err := l.persistence.StepExecutionRepository().ListByExecution(ctx, execution.ID)
	if err != nil {
		return err
	}

	for _, stepExecution := range stepExecutions {
		if stepExecution.Status != models.StepStatusPending && stepExecution.Status != models.StepStatusRunning {
			continue
		}

		stepExecution.Status = models.StepStatusSkipped
		stepExecution.CompletedAt = &now

		err = l.persistence.StepExecutionRepository().Save(ctx, stepExecution)
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *Lifecycle) publishStarted(ctx context.Context, execution *models.WorkflowExecution, initiator string) {
	l.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   l.baseEvent(events.ExecutionStartedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		RecordType:  execution.RecordType,
		RecordID:    execution.RecordID,
		Initiator:   initiator,
	})
}

func (l *Lifecycle) publish(ctx context.Context, key string, event eventbus.Event) {
	if l.eventBus == nil {
		return
	}

	err := l.eventBus.Publish(ctx, key, event)
	if err != nil {
		l.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (l *Lifecycle) baseEvent(eventType events.EventType) events.BaseEvent {
	var id string
	if l.eventBus != nil {
		id = l.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: l.now().UTC(),
	}
}
