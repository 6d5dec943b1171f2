package mutate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
)

type fakeTaskCreator struct {
	tasks []senders.Task
}

func (f *fakeTaskCreator) CreateTask(_ context.Context, _ string, task senders.Task) error {
	f.tasks = append(f.tasks, task)

	return nil
}

func mutateContext(step *models.WorkflowStep, record map[string]any) protocol.StepContext {
	return protocol.StepContext{
		Workflow:  &models.Workflow{ID: "wf-1", OrganizationID: "org-1"},
		Execution: &models.WorkflowExecution{ID: "exec-1", RecordType: models.ObjectTypeLead, RecordID: "lead-1"},
		Step:      step,
		Record:    record,
	}
}

func TestTaskHandler_CreatesTask(t *testing.T) {
	creator := &fakeTaskCreator{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := &TaskHandler{tasks: creator, now: func() time.Time { return now }}

	step := &models.WorkflowStep{
		StepKey:  "follow-up",
		StepType: models.StepTypeCreateTask,
		StepConfig: models.MustConfig(models.TaskConfig{
			Title:     "Call {{.record.first_name}}",
			DueInDays: 3,
			Assignee:  "user-7",
		}),
	}

	result, err := handler.Execute(t.Context(),
		mutateContext(step, map[string]any{"first_name": "Maya"}),
		slog.Default())
	require.NoError(t, err)

	require.Len(t, creator.tasks, 1)
	assert.Equal(t, "Call Maya", creator.tasks[0].Title)
	assert.Equal(t, "user-7", creator.tasks[0].AssigneeID)
	assert.Equal(t, "lead-1", creator.tasks[0].RecordID)
	assert.Equal(t, "2026-03-04T12:00:00Z", creator.tasks[0].DueAt)
	assert.Equal(t, "Call Maya", result.Output["title"])
}

func TestFieldUpdateHandler_UpdatesRecord(t *testing.T) {
	store := senders.NewMemoryRecordStore()
	store.SeedRecord("org-1", models.ObjectTypeLead, "lead-1", map[string]any{"status": "new"})

	handler := NewFieldUpdateHandler(store)

	step := &models.WorkflowStep{
		StepKey:  "mark-contacted",
		StepType: models.StepTypeUpdateField,
		StepConfig: models.MustConfig(models.FieldUpdateConfig{
			Field: "status",
			Value: "contacted",
		}),
	}

	record := map[string]any{"status": "new"}

	result, err := handler.Execute(t.Context(), mutateContext(step, record), slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "new", result.Output["previous_value"])
	assert.Equal(t, "contacted", result.Output["value"])

	// The in-flight record snapshot is updated for later steps.
	assert.Equal(t, "contacted", record["status"])

	stored, err := store.GetRecord(t.Context(), "org-1", models.ObjectTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "contacted", stored["status"])
}

func TestFieldUpdateHandler_TemplatedValue(t *testing.T) {
	store := senders.NewMemoryRecordStore()
	handler := NewFieldUpdateHandler(store)

	step := &models.WorkflowStep{
		StepKey:  "tag-source",
		StepType: models.StepTypeUpdateField,
		StepConfig: models.MustConfig(models.FieldUpdateConfig{
			Field: "source_copy",
			Value: "{{.record.source}}",
		}),
	}

	result, err := handler.Execute(t.Context(),
		mutateContext(step, map[string]any{"source": "web"}),
		slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "web", result.Output["value"])
}

func TestRecordHandler_CreatesRecord(t *testing.T) {
	store := senders.NewMemoryRecordStore()
	handler := NewRecordHandler(store)

	step := &models.WorkflowStep{
		StepKey:  "schedule-intake",
		StepType: models.StepTypeCreateRecord,
		StepConfig: models.MustConfig(models.RecordConfig{
			RecordType: models.ObjectTypeMeeting,
			Fields: map[string]any{
				"title":     "Intake with {{.record.first_name}}",
				"lead_id":   "{{.execution.record_id}}",
				"duration":  60,
			},
		}),
	}

	result, err := handler.Execute(t.Context(),
		mutateContext(step, map[string]any{"first_name": "Maya"}),
		slog.Default())
	require.NoError(t, err)

	recordID, ok := result.Output["record_id"].(string)
	require.True(t, ok)

	created, err := store.GetRecord(t.Context(), "org-1", models.ObjectTypeMeeting, recordID)
	require.NoError(t, err)
	assert.Equal(t, "Intake with Maya", created["title"])
	assert.Equal(t, "lead-1", created["lead_id"])
	assert.Equal(t, float64(60), created["duration"])
}
