package wait

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

func waitStep(config models.WaitConfig) protocol.StepContext {
	return protocol.StepContext{
		Workflow:  &models.Workflow{ID: "wf-1"},
		Execution: &models.WorkflowExecution{ID: "exec-1"},
		Step: &models.WorkflowStep{
			StepKey:    "pause",
			StepType:   models.StepTypeWait,
			StepConfig: models.MustConfig(config),
		},
	}
}

func TestHandler_Duration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &Handler{now: func() time.Time { return now }}

	result, err := handler.Execute(t.Context(), waitStep(models.WaitConfig{DurationMinutes: 90}), slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.Until)
	assert.Equal(t, now.Add(90*time.Minute), *result.Until)
	assert.NotEmpty(t, result.WaitingFor)
}

func TestHandler_Until(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &Handler{now: func() time.Time { return now }}

	result, err := handler.Execute(t.Context(),
		waitStep(models.WaitConfig{Until: "2026-03-02T09:00:00Z", Description: "morning check-in"}),
		slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.Until)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), *result.Until)
	assert.Equal(t, "morning check-in", result.WaitingFor)
}

func TestHandler_ElapsedWaitAdvances(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &Handler{now: func() time.Time { return now }}

	stepCtx := waitStep(models.WaitConfig{DurationMinutes: 90})
	stepCtx.Execution.Context = map[string]any{
		"pause": map[string]any{"resume_at": "2026-03-01T11:30:00Z"},
	}

	result, err := handler.Execute(t.Context(), stepCtx, slog.Default())
	require.NoError(t, err)

	assert.Nil(t, result.Until)
	assert.Zero(t, result.Delay)
	assert.Equal(t, "2026-03-01T12:00:00Z", result.Output["resumed_at"])
}

func TestHandler_PendingWaitParksAgain(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &Handler{now: func() time.Time { return now }}

	stepCtx := waitStep(models.WaitConfig{Until: "2026-03-01T14:00:00Z"})
	stepCtx.Execution.Context = map[string]any{
		"pause": map[string]any{"resume_at": "2026-03-01T14:00:00Z"},
	}

	result, err := handler.Execute(t.Context(), stepCtx, slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.Until)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), *result.Until)
}

func TestHandler_PastTargetResumesImmediately(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &Handler{now: func() time.Time { return now }}

	result, err := handler.Execute(t.Context(),
		waitStep(models.WaitConfig{Until: "2020-01-01T00:00:00Z"}),
		slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.Until)
	assert.Equal(t, now, *result.Until)
}

func TestHandler_MissingTarget(t *testing.T) {
	handler := NewHandler()

	_, err := handler.Execute(t.Context(), waitStep(models.WaitConfig{}), slog.Default())
	assert.Error(t, err)
}

func TestHandler_InvalidUntil(t *testing.T) {
	handler := NewHandler()

	_, err := handler.Execute(t.Context(), waitStep(models.WaitConfig{Until: "tomorrow"}), slog.Default())
	assert.Error(t, err)
}
