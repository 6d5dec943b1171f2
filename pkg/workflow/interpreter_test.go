package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/registry"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/senders/quota"
)

func defaultInterpreter(t *testing.T, p persistence.Persistence) (*Interpreter, *senders.MemoryRecordStore) {
	t.Helper()

	store := senders.NewMemoryRecordStore()
	deps := senders.LogSenders(testLogger(), quota.NewMemoryQuota(0))
	deps.Records = store

	reg := registry.NewDefaultRegistry(testLogger(), deps)

	return NewInterpreter(p, reg, store, nil, testLogger()), store
}

func TestInterpreter_LinearAdvance(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, store := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-1",
		triggerStep("update-status"),
		&models.WorkflowStep{
			ID:          "step-update",
			StepKey:     "update-status",
			StepType:    models.StepTypeUpdateField,
			StepOrder:   1,
			StepConfig:  models.MustConfig(models.FieldUpdateConfig{Field: "status", Value: "contacted"}),
			NextStepKey: strPtr("finish"),
		},
		endStep("finish", 2))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	store.SeedRecord("org-1", models.ObjectTypeLead, "lead-1", map[string]any{"status": "new"})

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "finish", execution.CurrentStepKey)

	output, ok := execution.Context["update-status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "contacted", output["value"])
	assert.Equal(t, "new", output["previous_value"])

	record, err := store.GetRecord(ctx, "org-1", models.ObjectTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "contacted", record["status"])

	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)

	attempts, err := p.StepExecutionRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	keys := []string{attempts[0].StepKey, attempts[1].StepKey}
	assert.ElementsMatch(t, []string{"update-status", "finish"}, keys)

	for _, attempt := range attempts {
		assert.Equal(t, models.StepStatusCompleted, attempt.Status)
		assert.NotNil(t, attempt.CompletedAt)
	}
}

func TestInterpreter_WaitSchedulesResume(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-wait",
		triggerStep("cool-off"),
		&models.WorkflowStep{
			ID:          "step-wait",
			StepKey:     "cool-off",
			StepType:    models.StepTypeWait,
			StepOrder:   1,
			StepConfig:  models.MustConfig(models.WaitConfig{DurationMinutes: 60}),
			NextStepKey: strPtr("finish"),
		},
		endStep("finish", 2))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	assert.Equal(t, models.ExecutionStatusWaiting, execution.Status)
	assert.Equal(t, "cool-off", execution.CurrentStepKey, "parked execution stays on the wait step")
	assert.NotEmpty(t, execution.WaitingFor)
	require.NotNil(t, execution.NextRunAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *execution.NextRunAt, 10*time.Second)

	// Resuming once the wait elapsed moves past the wait step.
	execution.Context["cool-off"] = map[string]any{
		"resume_at": time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	}
	execution.Status = models.ExecutionStatusRunning

	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.WaitingFor)
}

func TestInterpreter_DecisionBranch(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, store := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-branch",
		triggerStep("is-vip"),
		&models.WorkflowStep{
			ID:        "step-decide",
			StepKey:   "is-vip",
			StepType:  models.StepTypeDecision,
			StepOrder: 1,
			StepConfig: models.MustConfig(models.DecisionConfig{
				Condition: `record.tier == "vip"`,
				OnTrue:    "vip-path",
				OnFalse:   "std-path",
			}),
		},
		endStep("vip-path", 2),
		endStep("std-path", 3))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	store.SeedRecord("org-1", models.ObjectTypeLead, "lead-1", map[string]any{"tier": "vip"})

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	require.NoError(t, interpreter.ExecuteStep(ctx, execution, workflow))
	assert.Equal(t, "vip-path", execution.CurrentStepKey)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
}

func TestInterpreter_MissingStepFails(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()
	interpreter, _ := defaultInterpreter(t, p)

	workflow := buildWorkflow("wf-edited", triggerStep("finish"), endStep("finish", 1))
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	execution := NewExecution(workflow, models.ObjectTypeLead, "lead-1", nil, time.Now().UTC())
	execution.CurrentStepKey = "removed-step"
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	err := interpreter.ExecuteStep(ctx, execution, workflow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer exists")
}

func TestInterpreter_FailedStepRecordsAttempt(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()

	reg := stubRegistry(&stubHandler{
		stepType: models.StepTypeWebhook,
		execute: func(context.Context, protocol.StepContext) (protocol.StepResult, error) {
			return protocol.StepResult{}, errors.New("connection refused")
		},
	})
	interpreter := NewInterpreter(p, reg, nil, nil, testLogger())

	workflow := buildWorkflow("wf-hook",
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

	err := interpreter.ExecuteStep(ctx, execution, workflow)
	require.Error(t, err)

	// The execution stays at the failed step; retries belong to the
	// scheduler.
	assert.Equal(t, "notify", execution.CurrentStepKey)

	attempts, listErr := p.StepExecutionRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StepStatusFailed, attempts[0].Status)
	assert.Equal(t, "connection refused", attempts[0].ErrorMessage)
}

func TestInterpreter_CancelledMidStep(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()

	reg := stubRegistry(&stubHandler{
		stepType: models.StepTypeWebhook,
		execute: func(ctx context.Context, stepCtx protocol.StepContext) (protocol.StepResult, error) {
			// Cancel concurrently while the step runs.
			cancelled := *stepCtx.Execution
			now := time.Now().UTC()
			cancelled.Status = models.ExecutionStatusCancelled
			cancelled.CompletedAt = &now
			require.NoError(t, p.ExecutionRepository().Save(ctx, &cancelled))

			return protocol.StepResult{Output: map[string]any{"sent": true}}, nil
		},
	})
	interpreter := NewInterpreter(p, reg, nil, nil, testLogger())

	workflow := buildWorkflow("wf-cancel",
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

	err := interpreter.ExecuteStep(ctx, execution, workflow)
	require.ErrorIs(t, err, ErrExecutionCancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)

	attempts, listErr := p.StepExecutionRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StepStatusSkipped, attempts[0].Status)
}
