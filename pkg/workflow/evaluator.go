// Package workflow implements the automation engine: trigger evaluation,
// step interpretation, execution scheduling and lifecycle management.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// Evaluator decides which workflows a record event starts.
type Evaluator struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewEvaluator(p persistence.Persistence, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		persistence: p,
		logger:      logger.With("module", "evaluator"),
		now:         time.Now,
	}
}

// Evaluate returns new executions for every active workflow the event
// triggers, in evaluation order. It never fails on malformed workflow
// configuration; such workflows are skipped and logged so the write that
// produced the event is never blocked.
func (e *Evaluator) Evaluate(ctx context.Context, event *events.RecordEvent) ([]*models.WorkflowExecution, error) {
	triggerTypes := event.Kind.TriggerTypes()
	if len(triggerTypes) == 0 {
		e.logger.WarnContext(ctx, "Unknown event kind, ignoring", "kind", event.Kind)

		return nil, nil
	}

	workflows, err := e.persistence.WorkflowRepository().GetActiveByTrigger(ctx, event.ObjectType, triggerTypes)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, workflow := range workflows {
		logger := e.logger.With("workflow_id", workflow.ID, "record_id", event.RecordID)

		if !e.matchesTrigger(workflow, event) {
			continue
		}

		matched, err := workflow.EntryCriteria.Matches(event.NewValues)
		if err != nil {
			// Fail closed: a workflow with broken criteria never fires.
			logger.WarnContext(ctx, "Entry criteria evaluation failed, skipping workflow", "error", err)

			continue
		}

		if !matched {
			continue
		}

		allowed, err := e.reentryAllowed(ctx, workflow, event.RecordID)
		if err != nil {
			logger.WarnContext(ctx, "Re-entry check failed, skipping workflow", "error", err)

			continue
		}

		if !allowed {
			logger.DebugContext(ctx, "Re-entry blocked", "reentry_mode", workflow.EffectiveReentryMode())

			continue
		}

		executions = append(executions, NewExecution(workflow, event.ObjectType, event.RecordID, map[string]any{
			"trigger_type": string(workflow.TriggerType),
			"event_kind":   string(event.Kind),
		}, e.now().UTC()))
	}

	return executions, nil
}

// matchesTrigger applies trigger-specific matching beyond object/trigger
// type. Only field_change triggers carry extra constraints.
func (e *Evaluator) matchesTrigger(workflow *models.Workflow, event *events.RecordEvent) bool {
	if workflow.TriggerType != models.TriggerTypeFieldChange {
		return true
	}

	config := workflow.TriggerConfig
	if config.Field == "" {
		return false
	}

	if !event.ChangedField(config.Field) {
		return false
	}

	// Empty from/to values are wildcards.
	if config.FromValue != "" && stringify(event.OldValues[config.Field]) != config.FromValue {
		return false
	}

	if config.ToValue != "" && stringify(event.NewValues[config.Field]) != config.ToValue {
		return false
	}

	return true
}

func (e *Evaluator) reentryAllowed(ctx context.Context, workflow *models.Workflow, recordID string) (bool, error) {
	mode := workflow.EffectiveReentryMode()
	if mode == models.ReentryAllowAll {
		return true, nil
	}

	prior, err := e.persistence.ExecutionRepository().ListByRecord(ctx, workflow.ID, workflow.ObjectType, recordID)
	if err != nil {
		return false, err
	}

	if len(prior) == 0 {
		return true, nil
	}

	if mode == models.ReentryBlock {
		return false, nil
	}

	// reentry_after_days: gate on the most recent execution's completion,
	// falling back to its start for unfinished ones.
	latest := prior[0]

	reference := latest.StartedAt
	if latest.CompletedAt != nil {
		reference = *latest.CompletedAt
	}

	wait := time.Duration(workflow.ReentryWaitDays) * 24 * time.Hour

	return e.now().UTC().Sub(reference) >= wait, nil
}

// NewExecution builds an execution positioned at the trigger step's
// successor. A workflow without a trigger step starts at its first non-trigger
// step in step order.
func NewExecution(workflow *models.Workflow, recordType models.ObjectType, recordID string, context map[string]any, now time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		OrganizationID: workflow.OrganizationID,
		RecordType:     recordType,
		RecordID:       recordID,
		Status:         models.ExecutionStatusRunning,
		CurrentStepKey: initialStepKey(workflow),
		Context:        context,
		StartedAt:      now,
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprint(value)
}

func initialStepKey(workflow *models.Workflow) string {
	trigger := workflow.TriggerStep()
	if trigger != nil && trigger.NextStepKey != nil {
		return *trigger.NextStepKey
	}

	for _, step := range workflow.Steps {
		if step.StepType != models.StepTypeTrigger {
			return step.StepKey
		}
	}

	return ""
}
