package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doulaflow/doulaflow/pkg/eventbus"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// SchedulerOptions tunes the dispatch loop. Zero values fall back to the
// defaults below.
type SchedulerOptions struct {
	Interval   time.Duration // Poll interval
	Lease      time.Duration // Claim lease; must exceed the longest step
	ClaimLimit int           // Executions claimed per pass
	MaxRetries int           // Step attempts before an execution fails
	Backoff    time.Duration // Base for exponential retry backoff
}

const (
	defaultInterval   = 15 * time.Second
	defaultLease      = 2 * time.Minute
	defaultClaimLimit = 25
	defaultMaxRetries = 3
	defaultBackoff    = 30 * time.Second
)

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}

	if o.Lease <= 0 {
		o.Lease = defaultLease
	}

	if o.ClaimLimit <= 0 {
		o.ClaimLimit = defaultClaimLimit
	}

	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}

	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}

	return o
}

// Scheduler owns the queue of due executions: it claims them with a lease,
// drives the interpreter until each execution waits or finishes, applies the
// retry policy, and fires scheduled triggers whose cron expression is due.
// Multiple scheduler instances may run concurrently; the claim lease keeps
// them from dispatching the same execution twice.
type Scheduler struct {
	persistence persistence.Persistence
	interpreter *Interpreter
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	workerID    string
	opts        SchedulerOptions
	now         func() time.Time
}

func NewScheduler(p persistence.Persistence, interpreter *Interpreter, bus eventbus.EventBus, logger *slog.Logger, workerID string, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		persistence: p,
		interpreter: interpreter,
		eventBus:    bus,
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
		workerID:    workerID,
		opts:        opts.withDefaults(),
		now:         time.Now,
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler started",
		"interval", s.opts.Interval,
		"claim_limit", s.opts.ClaimLimit,
		"max_retries", s.opts.MaxRetries)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopping")

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one dispatch pass: fire due scheduled triggers, then claim and
// dispatch due executions. Safe to invoke concurrently across instances.
func (s *Scheduler) Tick(ctx context.Context) {
	s.fireScheduledTriggers(ctx)

	claimed, err := s.persistence.ExecutionRepository().ClaimDue(ctx, s.workerID, s.opts.Lease, s.opts.ClaimLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to claim due executions", "error", err)

		return
	}

	for _, execution := range claimed {
		s.dispatch(ctx, execution)
	}
}

// dispatch drives one claimed execution until it waits, finishes or fails a
// step, then releases the claim.
func (s *Scheduler) dispatch(ctx context.Context, execution *models.WorkflowExecution) {
	logger := s.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	defer func() {
		err := s.persistence.ExecutionRepository().Release(ctx, execution.ID, s.workerID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to release claim", "error", err)
		}
	}()

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		s.failExecution(ctx, execution, "workflow no longer available: "+err.Error())

		return
	}

	for execution.Status == models.ExecutionStatusRunning || s.resumeWaiting(execution) {
		err = s.interpreter.ExecuteStep(ctx, execution, workflow)
		if err != nil {
			if errors.Is(err, ErrExecutionCancelled) {
				return
			}

			s.handleStepFailure(ctx, execution, err)

			return
		}
	}
}

// resumeWaiting flips a due waiting execution back to running so the loop
// dispatches its next step.
func (s *Scheduler) resumeWaiting(execution *models.WorkflowExecution) bool {
	if execution.Status != models.ExecutionStatusWaiting {
		return false
	}

	if !execution.IsDue(s.now().UTC()) {
		return false
	}

	execution.Status = models.ExecutionStatusRunning
	execution.NextRunAt = nil
	execution.WaitingFor = ""

	return true
}

// handleStepFailure applies the retry policy: exponential backoff while the
// retry budget lasts, terminal failure afterwards.
func (s *Scheduler) handleStepFailure(ctx context.Context, execution *models.WorkflowExecution, stepErr error) {
	logger := s.logger.With("execution_id", execution.ID, "step_key", execution.CurrentStepKey)

	execution.RetryCount++
	execution.ErrorMessage = stepErr.Error()

	if execution.RetryCount < s.opts.MaxRetries {
		backoff := s.opts.Backoff * (1 << (execution.RetryCount - 1))
		resumeAt := s.now().UTC().Add(backoff)

		execution.Status = models.ExecutionStatusRunning
		execution.NextRunAt = &resumeAt

		logger.WarnContext(ctx, "Step failed, retrying with backoff",
			"retry_count", execution.RetryCount, "resume_at", resumeAt, "error", stepErr)
	} else {
		s.markFailed(execution)

		logger.ErrorContext(ctx, "Step failed, retry budget exhausted",
			"retry_count", execution.RetryCount, "error", stepErr)

		s.publishFailed(ctx, execution)
	}

	err := s.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist retry state", "error", err)
	}
}

func (s *Scheduler) failExecution(ctx context.Context, execution *models.WorkflowExecution, message string) {
	execution.ErrorMessage = message
	s.markFailed(execution)

	err := s.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist failed execution", "execution_id", execution.ID, "error", err)
	}

	s.publishFailed(ctx, execution)
}

func (s *Scheduler) markFailed(execution *models.WorkflowExecution) {
	now := s.now().UTC()

	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.NextRunAt = nil
	execution.WaitingFor = ""
}

func (s *Scheduler) publishFailed(ctx context.Context, execution *models.WorkflowExecution) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent: events.BaseEvent{
			ID:        s.eventBus.GenerateID(),
			Type:      events.ExecutionFailedEvent,
			Timestamp: s.now().UTC(),
		},
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		StepKey:     execution.CurrentStepKey,
		Error:       execution.ErrorMessage,
		RetryCount:  execution.RetryCount,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish failure event", "execution_id", execution.ID, "error", err)
	}
}

// fireScheduledTriggers starts executions for active scheduled workflows
// whose precomputed next-fire time has come due. The fire time lives on the
// workflow row and is advanced with a conditional update, so exactly one
// instance wins each firing no matter how many schedulers poll.
func (s *Scheduler) fireScheduledTriggers(ctx context.Context) {
	repo := s.persistence.WorkflowRepository()

	workflows, err := repo.GetScheduled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list scheduled workflows", "error", err)

		return
	}

	now := s.now().UTC()

	for _, workflow := range workflows {
		if workflow.TriggerConfig.Cron == "" {
			continue
		}

		schedule, err := cron.ParseStandard(workflow.TriggerConfig.Cron)
		if err != nil {
			s.logger.WarnContext(ctx, "Invalid cron expression, skipping workflow",
				"workflow_id", workflow.ID, "cron", workflow.TriggerConfig.Cron, "error", err)

			continue
		}

		if workflow.NextFireAt == nil {
			// Never armed: persist the first due time without firing so a
			// fresh deployment does not replay missed history.
			_, err = repo.ClaimScheduledFire(ctx, workflow.ID, time.Time{}, schedule.Next(now))
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to arm scheduled workflow",
					"workflow_id", workflow.ID, "error", err)
			}

			continue
		}

		if workflow.NextFireAt.After(now) {
			continue
		}

		claimed, err := repo.ClaimScheduledFire(ctx, workflow.ID, *workflow.NextFireAt, schedule.Next(now))
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim scheduled firing",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		if !claimed {
			// Another instance won this firing.
			continue
		}

		execution := NewExecution(workflow, workflow.ObjectType, "", map[string]any{
			"trigger_type": string(models.TriggerTypeScheduled),
			"fired_at":     now.Format(time.RFC3339),
		}, now)

		err = s.persistence.ExecutionRepository().Save(ctx, execution)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to start scheduled execution",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		s.logger.InfoContext(ctx, "Scheduled trigger fired",
			"workflow_id", workflow.ID, "execution_id", execution.ID)
	}
}
