package decision

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

func decisionStep(condition string) *models.WorkflowStep {
	return &models.WorkflowStep{
		StepKey:  "branch",
		StepType: models.StepTypeDecision,
		StepConfig: models.MustConfig(models.DecisionConfig{
			Condition: condition,
			OnTrue:    "yes-path",
			OnFalse:   "no-path",
		}),
	}
}

func stepContext(step *models.WorkflowStep, record map[string]any) protocol.StepContext {
	return protocol.StepContext{
		Workflow:  &models.Workflow{ID: "wf-1", OrganizationID: "org-1"},
		Execution: &models.WorkflowExecution{ID: "exec-1", RecordType: models.ObjectTypeLead, RecordID: "lead-1"},
		Step:      step,
		Record:    record,
	}
}

func TestHandler_TrueBranch(t *testing.T) {
	handler := NewHandler()

	result, err := handler.Execute(t.Context(),
		stepContext(decisionStep(`record.status == "active"`), map[string]any{"status": "active"}),
		slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.NextStepKey)
	assert.Equal(t, "yes-path", *result.NextStepKey)
	assert.Equal(t, true, result.Output["outcome"])
}

func TestHandler_FalseBranch(t *testing.T) {
	handler := NewHandler()

	result, err := handler.Execute(t.Context(),
		stepContext(decisionStep(`record.score > 50`), map[string]any{"score": 10}),
		slog.Default())
	require.NoError(t, err)

	require.NotNil(t, result.NextStepKey)
	assert.Equal(t, "no-path", *result.NextStepKey)
}

func TestHandler_ContextVariables(t *testing.T) {
	handler := NewHandler()

	stepCtx := stepContext(decisionStep(`context.intro_email.sent == true`), nil)
	stepCtx.Execution.Context = map[string]any{
		"intro_email": map[string]any{"sent": true},
	}

	result, err := handler.Execute(t.Context(), stepCtx, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "yes-path", *result.NextStepKey)
}

func TestHandler_NonBoolResult(t *testing.T) {
	handler := NewHandler()

	_, err := handler.Execute(t.Context(),
		stepContext(decisionStep(`record.status`), map[string]any{"status": "active"}),
		slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestHandler_CompileError(t *testing.T) {
	handler := NewHandler()

	_, err := handler.Execute(t.Context(),
		stepContext(decisionStep(`record.status ==`), map[string]any{}),
		slog.Default())
	assert.Error(t, err)
}

func TestHandler_MissingFieldIsFalsy(t *testing.T) {
	handler := NewHandler()

	result, err := handler.Execute(t.Context(),
		stepContext(decisionStep(`record.missing_field == "x"`), map[string]any{}),
		slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "no-path", *result.NextStepKey)
}
