package workflow

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/persistence/file"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPersistence(t *testing.T) persistence.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func strPtr(s string) *string {
	return &s
}

// triggerStep builds the trigger node pointing at the first real step.
func triggerStep(next string) *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:          "step-trigger",
		StepKey:     "trigger",
		StepType:    models.StepTypeTrigger,
		StepOrder:   0,
		NextStepKey: strPtr(next),
	}
}

func endStep(key string, order int) *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:        "step-" + key,
		StepKey:   key,
		StepType:  models.StepTypeEnd,
		StepOrder: order,
	}
}

func buildWorkflow(id string, steps ...*models.WorkflowStep) *models.Workflow {
	return &models.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "Lead follow-up",
		ObjectType:     models.ObjectTypeLead,
		TriggerType:    models.TriggerTypeRecordCreate,
		IsActive:       true,
		Steps:          steps,
	}
}

// stubHandler lets tests script a step type's behavior.
type stubHandler struct {
	stepType models.StepType
	execute  func(ctx context.Context, stepCtx protocol.StepContext) (protocol.StepResult, error)
}

func (h *stubHandler) Type() models.StepType {
	return h.stepType
}

func (h *stubHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	return h.execute(ctx, stepCtx)
}

func stubRegistry(handlers ...*stubHandler) *registry.Registry {
	r := registry.NewRegistry(testLogger())

	for _, handler := range handlers {
		r.Register(handler)
	}

	r.Register(&stubHandler{
		stepType: models.StepTypeEnd,
		execute: func(context.Context, protocol.StepContext) (protocol.StepResult, error) {
			return protocol.StepResult{End: true}, nil
		},
	})

	return r
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
