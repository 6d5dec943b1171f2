// Package web provides the HTTP handlers and request types for the workflow
// management API.
package web

import (
	"github.com/doulaflow/doulaflow/pkg/models"
)

// SaveWorkflowRequest is the request body for creating or replacing a
// workflow definition.
type SaveWorkflowRequest struct {
	Name            string                 `json:"name"              validate:"required,min=3"`
	Description     string                 `json:"description"`
	ObjectType      models.ObjectType      `json:"object_type"       validate:"required"`
	TriggerType     models.TriggerType     `json:"trigger_type"      validate:"required"`
	TriggerConfig   models.TriggerConfig   `json:"trigger_config"`
	EntryCriteria   models.EntryCriteria   `json:"entry_criteria"`
	ReentryMode     models.ReentryMode     `json:"reentry_mode"`
	ReentryWaitDays int                    `json:"reentry_wait_days"`
	EvaluationOrder int                    `json:"evaluation_order"`
	CanvasData      map[string]any         `json:"canvas_data,omitempty"`
	Steps           []*models.WorkflowStep `json:"steps"`
}

// ToWorkflow builds the domain model. New workflows start inactive; they go
// live through the activate endpoint, which validates them first.
func (r SaveWorkflowRequest) ToWorkflow(organizationID string) *models.Workflow {
	return &models.Workflow{
		OrganizationID:  organizationID,
		Name:            r.Name,
		Description:     r.Description,
		ObjectType:      r.ObjectType,
		TriggerType:     r.TriggerType,
		TriggerConfig:   r.TriggerConfig,
		EntryCriteria:   r.EntryCriteria,
		ReentryMode:     r.ReentryMode,
		ReentryWaitDays: r.ReentryWaitDays,
		EvaluationOrder: r.EvaluationOrder,
		CanvasData:      r.CanvasData,
		Steps:           r.Steps,
	}
}

// TriggerExecutionRequest is the request body for manually triggering a
// workflow against one record.
type TriggerExecutionRequest struct {
	RecordType models.ObjectType `json:"record_type" validate:"required"`
	RecordID   string            `json:"record_id"   validate:"required"`
}

// ActivateWorkflowRequest toggles a workflow's active flag.
type ActivateWorkflowRequest struct {
	Active bool `json:"active"`
}

// ExecutionDetailResponse pairs an execution with its step audit trail.
type ExecutionDetailResponse struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Steps     []*models.StepExecution   `json:"steps"`
}
