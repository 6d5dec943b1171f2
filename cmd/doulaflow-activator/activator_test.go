package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/persistence/file"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

func createTestActivator(t *testing.T) (*Activator, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	activator := NewActivator(
		"activator-test",
		workflow.NewEvaluator(store, logger),
		workflow.NewLifecycle(store, nil, logger),
		nil,
		logger,
	)

	return activator, store
}

func createTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		Name:           "New lead welcome",
		ObjectType:     models.ObjectTypeLead,
		TriggerType:    models.TriggerTypeRecordCreate,
		IsActive:       true,
		Steps: []*models.WorkflowStep{
			{
				ID:          "step-trigger",
				StepKey:     "trigger",
				StepType:    models.StepTypeTrigger,
				NextStepKey: strPtr("finish"),
			},
			{
				ID:        "step-finish",
				StepKey:   "finish",
				StepType:  models.StepTypeEnd,
				StepOrder: 1,
			},
		},
	}
}

func createTestRecordEvent(recordID string) *events.RecordEvent {
	return &events.RecordEvent{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.RecordEventType,
			Timestamp: time.Now().UTC(),
		},
		ObjectType:     models.ObjectTypeLead,
		RecordID:       recordID,
		OrganizationID: "org-1",
		Kind:           events.EventKindCreate,
		NewValues:      map[string]any{"status": "new"},
		OccurredAt:     time.Now().UTC(),
	}
}

func strPtr(s string) *string {
	return &s
}

func TestHandleRecordEvent_StartsMatchingExecutions(t *testing.T) {
	activator, store := createTestActivator(t)
	ctx := context.Background()

	wf := createTestWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(ctx, wf))

	err := activator.handleRecordEvent(ctx, createTestRecordEvent("lead-1"))
	require.NoError(t, err)

	executions, err := store.ExecutionRepository().ListByWorkflow(ctx, wf.ID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	assert.Equal(t, models.ExecutionStatusRunning, executions[0].Status)
	assert.Equal(t, "lead-1", executions[0].RecordID)
}

func TestHandleRecordEvent_NoMatchIsNoop(t *testing.T) {
	activator, store := createTestActivator(t)
	ctx := context.Background()

	wf := createTestWorkflow()
	wf.ObjectType = models.ObjectTypeInvoice
	require.NoError(t, store.WorkflowRepository().Save(ctx, wf))

	err := activator.handleRecordEvent(ctx, createTestRecordEvent("lead-1"))
	require.NoError(t, err)

	executions, err := store.ExecutionRepository().ListByWorkflow(ctx, wf.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestNewActivator(t *testing.T) {
	activator, _ := createTestActivator(t)

	assert.Equal(t, "activator-test", activator.id)
	assert.NotNil(t, activator.evaluator)
	assert.NotNil(t, activator.lifecycle)
	assert.Equal(t, 0, activator.restartCount)
}
