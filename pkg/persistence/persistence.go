// Package persistence provides the data storage abstraction for workflows,
// executions and step executions.
package persistence

import (
	"context"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	StepExecutionRepository() StepExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Workflows referenced by
// executions are never hard-deleted; Delete is a soft delete.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// GetActiveByTrigger returns active workflows for the object type whose
	// trigger type is one of triggerTypes, ordered by evaluation_order
	// ascending with ID as tie-break.
	GetActiveByTrigger(ctx context.Context, objectType models.ObjectType, triggerTypes []models.TriggerType) ([]*models.Workflow, error)

	// GetScheduled returns active workflows with a scheduled trigger.
	GetScheduled(ctx context.Context) ([]*models.Workflow, error)

	Save(ctx context.Context, workflow *models.Workflow) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error

	// ClaimScheduledFire advances the workflow's scheduled-trigger clock
	// from expected to next as a conditional update, so concurrent
	// schedulers cannot both win the same firing. A zero expected arms an
	// unset clock. Returns false when another instance already advanced it.
	ClaimScheduledFire(ctx context.Context, id string, expected, next time.Time) (bool, error)
}

// ExecutionRepository stores workflow executions and implements the
// scheduler's claim lease.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)

	// ListByRecord returns executions of one workflow against one record,
	// most recent first. Used for re-entry checks.
	ListByRecord(ctx context.Context, workflowID string, recordType models.ObjectType, recordID string) ([]*models.WorkflowExecution, error)

	// ListByWorkflowSince returns executions started at or after since.
	// A zero since means no lower bound.
	ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error)

	// ClaimDue atomically claims up to limit due executions for workerID with
	// the given lease. A claimed execution is invisible to other claimers
	// until the lease expires or Release is called. The claim is a
	// conditional update, safe across concurrent scheduler instances.
	ClaimDue(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*models.WorkflowExecution, error)

	// Release clears a claim held by workerID. Releasing an unclaimed or
	// foreign claim is a no-op.
	Release(ctx context.Context, executionID, workerID string) error
}

// StepExecutionRepository stores the append-only step audit log.
type StepExecutionRepository interface {
	Save(ctx context.Context, stepExecution *models.StepExecution) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	// ListByWorkflowSince returns step executions belonging to the workflow's
	// executions started at or after since. Used for funnel analytics.
	ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.StepExecution, error)
}
