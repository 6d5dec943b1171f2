// Package mutate implements the steps that change application state: task
// creation, field updates and record creation.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/template"
)

type TaskHandler struct {
	tasks senders.TaskCreator
	now   func() time.Time
}

func NewTaskHandler(tasks senders.TaskCreator) *TaskHandler {
	return &TaskHandler{tasks: tasks, now: time.Now}
}

func (h *TaskHandler) Type() models.StepType {
	return models.StepTypeCreateTask
}

func (h *TaskHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.TaskConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	title, err := template.RenderString(config.Title, stepCtx.Execution, stepCtx.Record)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to render task title: %w", err)
	}

	description, err := template.RenderString(config.Description, stepCtx.Execution, stepCtx.Record)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to render task description: %w", err)
	}

	task := senders.Task{
		Title:       title,
		Description: description,
		AssigneeID:  config.Assignee,
		RecordType:  stepCtx.Execution.RecordType,
		RecordID:    stepCtx.Execution.RecordID,
	}

	if config.DueInDays > 0 {
		task.DueAt = h.now().UTC().AddDate(0, 0, config.DueInDays).Format(time.RFC3339)
	}

	err = h.tasks.CreateTask(ctx, stepCtx.Workflow.OrganizationID, task)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to create task: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"title":  title,
		"due_at": task.DueAt,
	}}, nil
}

func decodeAs[T any](step *models.WorkflowStep) (*T, error) {
	decoded, err := step.DecodeConfig()
	if err != nil {
		return nil, err
	}

	config, ok := decoded.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: step %s", models.ErrConfigMismatch, step.StepKey)
	}

	return config, nil
}
