package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

func newTestScheduler(t *testing.T, p persistence.Persistence, interpreter *Interpreter, opts SchedulerOptions) *Scheduler {
	t.Helper()

	return NewScheduler(p, interpreter, nil, testLogger(), "worker-test", opts)
}

func TestScheduler_RetryBackoffThenFail(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()

	var attempts atomic.Int32

	reg := stubRegistry(&stubHandler{
		stepType: models.StepTypeWebhook,
		execute: func(context.Context, protocol.StepContext) (protocol.StepResult, error) {
			attempts.Add(1)

			return protocol.StepResult{}, errors.New("upstream unavailable")
		},
	})
	interpreter := NewInterpreter(p, reg, nil, nil, testLogger())

	workflow := buildWorkflow("wf-flaky",
		triggerStep("notify"),
		&models.WorkflowStep{
			ID:          "step-hook",
			StepKey:     "notify",
			StepType:    models.StepTypeWebhook,
			StepOrder:   1,
			NextStepKey: strPtr("finish"),
		},
		endStep("finish", 2))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	scheduler := newTestScheduler(t, p, interpreter, SchedulerOptions{
		Backoff:    5 * time.Millisecond,
		MaxRetries: 3,
	})

	scheduler.Tick(ctx)
	assert.Equal(t, int32(1), attempts.Load())

	stored, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "upstream unavailable", stored.ErrorMessage)
	require.NotNil(t, stored.NextRunAt)

	// Exhaust the retry budget.
	for retries := 0; retries < 2; retries++ {
		time.Sleep(30 * time.Millisecond)
		scheduler.Tick(ctx)
	}

	assert.Equal(t, int32(3), attempts.Load())

	stored, err = p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	require.NotNil(t, stored.CompletedAt)

	// A failed execution is terminal; further passes leave it alone.
	time.Sleep(30 * time.Millisecond)
	scheduler.Tick(ctx)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestScheduler_RunsExecutionToCompletion(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-done", triggerStep("finish"), endStep("finish", 1))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	scheduler := newTestScheduler(t, p, interpreter, SchedulerOptions{})
	scheduler.Tick(ctx)

	stored, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestScheduler_ResumesDueWaitingExecution(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-resume", triggerStep("finish"), endStep("finish", 1))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	resumeAt := time.Now().UTC().Add(-time.Minute)
	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC().Add(-time.Hour))
	execution.Status = models.ExecutionStatusWaiting
	execution.NextRunAt = &resumeAt
	execution.WaitingFor = "wait until resume"
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	scheduler := newTestScheduler(t, p, interpreter, SchedulerOptions{})
	scheduler.Tick(ctx)

	stored, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Empty(t, stored.WaitingFor)
}

func TestScheduler_MissingWorkflowFailsExecution(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)

	execution := &models.WorkflowExecution{
		ID:         "exec-orphan",
		WorkflowID: "wf-deleted",
		RecordType: models.ObjectTypeLead,
		RecordID:   "lead-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	scheduler := newTestScheduler(t, p, interpreter, SchedulerOptions{})
	scheduler.Tick(ctx)

	stored, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "workflow no longer available")
}

func TestScheduler_ScheduledTriggerFires(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)
	base := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)

	workflow := buildWorkflow("wf-nightly", triggerStep("finish"), endStep("finish", 1))
	workflow.TriggerType = models.TriggerTypeScheduled
	workflow.TriggerConfig = models.TriggerConfig{Cron: "* * * * *"}
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	scheduler := newTestScheduler(t, p, interpreter, SchedulerOptions{})
	scheduler.now = fixedNow(base)

	// First pass arms the schedule without firing.
	scheduler.Tick(ctx)

	executions, err := p.ExecutionRepository().ListByWorkflowSince(ctx, "wf-nightly", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, executions)

	// Two minutes later the cron has come due.
	scheduler.now = fixedNow(base.Add(2 * time.Minute))
	scheduler.Tick(ctx)

	executions, err = p.ExecutionRepository().ListByWorkflowSince(ctx, "wf-nightly", time.Time{})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Empty(t, executions[0].RecordID)
	assert.Equal(t, string(models.TriggerTypeScheduled), executions[0].Context["trigger_type"])

	// The same minute does not fire twice.
	scheduler.Tick(ctx)

	executions, err = p.ExecutionRepository().ListByWorkflowSince(ctx, "wf-nightly", time.Time{})
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestScheduler_ScheduledTriggerFiresOnceAcrossInstances(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)
	base := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)

	workflow := buildWorkflow("wf-nightly", triggerStep("finish"), endStep("finish", 1))
	workflow.TriggerType = models.TriggerTypeScheduled
	workflow.TriggerConfig = models.TriggerConfig{Cron: "* * * * *"}
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	first := newTestScheduler(t, p, interpreter, SchedulerOptions{})
	second := newTestScheduler(t, p, interpreter, SchedulerOptions{})

	// The fire time lives in the store, so the first instance arms it for
	// both of them.
	first.now = fixedNow(base)
	second.now = fixedNow(base)
	first.Tick(ctx)
	second.Tick(ctx)

	// Both instances see the same due firing; only one may win it.
	due := base.Add(2 * time.Minute)
	first.now = fixedNow(due)
	second.now = fixedNow(due)
	first.Tick(ctx)
	second.Tick(ctx)

	executions, err := p.ExecutionRepository().ListByWorkflowSince(ctx, "wf-nightly", time.Time{})
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	// The next firing goes to whichever instance polls first.
	later := base.Add(4 * time.Minute)
	second.now = fixedNow(later)
	first.now = fixedNow(later)
	second.Tick(ctx)
	first.Tick(ctx)

	executions, err = p.ExecutionRepository().ListByWorkflowSince(ctx, "wf-nightly", time.Time{})
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}
