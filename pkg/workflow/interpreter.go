package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doulaflow/doulaflow/pkg/eventbus"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/otelhelper"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/registry"
	"github.com/doulaflow/doulaflow/pkg/senders"
)

// ErrExecutionCancelled is returned when a step completed but the execution
// was cancelled concurrently, so its result was discarded.
var ErrExecutionCancelled = errors.New("execution cancelled during step")

// Interpreter executes one step of an execution at a time: it resolves the
// current step against the live workflow, runs its handler, records the
// attempt in the step audit log and advances the execution.
type Interpreter struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	records     senders.RecordStore
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewInterpreter(p persistence.Persistence, r *registry.Registry, records senders.RecordStore, bus eventbus.EventBus, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		persistence: p,
		registry:    r,
		records:     records,
		eventBus:    bus,
		logger:      logger.With("module", "interpreter"),
		tracer:      otel.Tracer("doulaflow.interpreter"),
		now:         time.Now,
	}
}

// ExecuteStep runs the execution's current step and persists the outcome.
// The returned execution reflects the new state: still running (advance
// immediately), waiting (due later) or terminal. A returned error means the
// step attempt failed; the caller owns the retry policy.
func (i *Interpreter) ExecuteStep(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow) error {
	logger := i.logger.With(
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"step_key", execution.CurrentStepKey)

	step, found := workflow.StepByKey(execution.CurrentStepKey)
	if !found {
		// The workflow was edited under a live execution. Fail with a clear
		// message instead of guessing a successor.
		return fmt.Errorf("step %q no longer exists in workflow %s", execution.CurrentStepKey, workflow.ID)
	}

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepKeyKey, step.StepKey),
		attribute.String(otelhelper.StepTypeKey, string(step.StepType)))
	defer span.End()

	record, err := i.loadRecord(ctx, execution)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load record snapshot, continuing without it", "error", err)
	}

	stepExecution := &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepKey:     step.StepKey,
		Status:      models.StepStatusPending,
		Input:       execution.Context,
		StartedAt:   i.now().UTC(),
	}

	err = i.persistence.StepExecutionRepository().Save(ctx, stepExecution)
	if err != nil {
		return fmt.Errorf("failed to record step attempt: %w", err)
	}

	stepExecution.Status = models.StepStatusRunning

	err = i.persistence.StepExecutionRepository().Save(ctx, stepExecution)
	if err != nil {
		return fmt.Errorf("failed to mark step running: %w", err)
	}

	handler, err := i.registry.Handler(step.StepType)
	if err != nil {
		otelhelper.SetError(span, err)

		return i.failStep(ctx, execution, stepExecution, err)
	}

	result, err := handler.Execute(ctx, protocol.StepContext{
		Workflow:  workflow,
		Execution: execution,
		Step:      step,
		Record:    record,
	}, logger)
	if err != nil {
		otelhelper.SetError(span, err)

		return i.failStep(ctx, execution, stepExecution, err)
	}

	// Cooperative cancellation: re-read before committing the advancement.
	// A step that already ran has run; only its bookkeeping is discarded.
	fresh, err := i.persistence.ExecutionRepository().GetByID(ctx, execution.ID)
	if err == nil && fresh.Status == models.ExecutionStatusCancelled {
		i.finishStep(ctx, stepExecution, models.StepStatusSkipped, result.Output, "")
		logger.InfoContext(ctx, "Execution cancelled mid-step, discarding advancement")

		execution.Status = models.ExecutionStatusCancelled
		execution.CompletedAt = fresh.CompletedAt

		return ErrExecutionCancelled
	}

	i.finishStep(ctx, stepExecution, stepStatus(result), result.Output, "")
	i.advance(execution, workflow, step, result)

	err = i.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist execution state: %w", err)
	}

	i.publishStepEvents(ctx, execution, workflow, step, stepExecution, result)

	return nil
}

// advance applies the step result to the execution state machine.
func (i *Interpreter) advance(execution *models.WorkflowExecution, workflow *models.Workflow, step *models.WorkflowStep, result protocol.StepResult) {
	now := i.now().UTC()

	if execution.Context == nil {
		execution.Context = make(map[string]any)
	}

	if len(result.Output) > 0 {
		execution.Context[step.StepKey] = result.Output
	}

	if result.Until != nil || result.Delay > 0 {
		resumeAt := now.Add(result.Delay)
		if result.Until != nil {
			resumeAt = *result.Until
		}

		// The execution stays parked on this step. When the scheduler
		// resumes it the handler sees its stored resume time has elapsed
		// and advances past the wait.
		execution.Status = models.ExecutionStatusWaiting
		execution.NextRunAt = &resumeAt
		execution.WaitingFor = result.WaitingFor

		return
	}

	nextKey := step.NextStepKey
	if result.NextStepKey != nil {
		nextKey = result.NextStepKey
	}

	if result.End || step.IsTerminal() {
		execution.Status = models.ExecutionStatusCompleted
		execution.CompletedAt = &now
		execution.NextRunAt = nil
		execution.WaitingFor = ""

		return
	}

	if nextKey == nil || *nextKey == "" {
		// Running off the end of the graph completes the execution.
		execution.Status = models.ExecutionStatusCompleted
		execution.CompletedAt = &now
		execution.NextRunAt = nil
		execution.WaitingFor = ""

		return
	}

	execution.CurrentStepKey = *nextKey
	execution.Status = models.ExecutionStatusRunning
	execution.NextRunAt = nil
	execution.WaitingFor = ""
}

func (i *Interpreter) failStep(ctx context.Context, execution *models.WorkflowExecution, stepExecution *models.StepExecution, stepErr error) error {
	i.finishStep(ctx, stepExecution, models.StepStatusFailed, nil, stepErr.Error())

	i.publish(ctx, execution.ID, events.StepFailed{
		BaseEvent:   i.baseEvent(events.StepFailedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		StepKey:     stepExecution.StepKey,
		Error:       stepErr.Error(),
	})

	return stepErr
}

func (i *Interpreter) finishStep(ctx context.Context, stepExecution *models.StepExecution, status models.StepStatus, output map[string]any, errorMessage string) {
	now := i.now().UTC()

	stepExecution.Status = status
	stepExecution.Output = output
	stepExecution.ErrorMessage = errorMessage
	stepExecution.CompletedAt = &now

	err := i.persistence.StepExecutionRepository().Save(ctx, stepExecution)
	if err != nil {
		i.logger.ErrorContext(ctx, "Failed to finalize step execution record",
			"step_execution_id", stepExecution.ID, "error", err)
	}
}

func (i *Interpreter) loadRecord(ctx context.Context, execution *models.WorkflowExecution) (map[string]any, error) {
	if i.records == nil || execution.RecordID == "" {
		return nil, nil
	}

	return i.records.GetRecord(ctx, execution.OrganizationID, execution.RecordType, execution.RecordID)
}

func (i *Interpreter) publishStepEvents(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow, step *models.WorkflowStep, stepExecution *models.StepExecution, result protocol.StepResult) {
	i.publish(ctx, execution.ID, events.StepCompleted{
		BaseEvent:   i.baseEvent(events.StepCompletedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		StepKey:     step.StepKey,
		Output:      result.Output,
		DurationMs:  stepExecution.CompletedAt.Sub(stepExecution.StartedAt).Milliseconds(),
	})

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		i.publish(ctx, execution.ID, events.ExecutionCompleted{
			BaseEvent:   i.baseEvent(events.ExecutionCompletedEvent),
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			DurationMs:  execution.Duration().Milliseconds(),
		})
	case models.ExecutionStatusWaiting:
		waiting := events.ExecutionWaiting{
			BaseEvent:   i.baseEvent(events.ExecutionWaitingEvent),
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			StepKey:     execution.CurrentStepKey,
			WaitingFor:  execution.WaitingFor,
		}
		if execution.NextRunAt != nil {
			waiting.ResumeAt = *execution.NextRunAt
		}

		i.publish(ctx, execution.ID, waiting)
	}
}

func (i *Interpreter) publish(ctx context.Context, key string, event eventbus.Event) {
	if i.eventBus == nil {
		return
	}

	err := i.eventBus.Publish(ctx, key, event)
	if err != nil {
		i.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (i *Interpreter) baseEvent(eventType events.EventType) events.BaseEvent {
	id := uuid.New().String()
	if i.eventBus != nil {
		id = i.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: i.now().UTC(),
	}
}

func stepStatus(result protocol.StepResult) models.StepStatus {
	if result.Skipped {
		return models.StepStatusSkipped
	}

	return models.StepStatusCompleted
}
