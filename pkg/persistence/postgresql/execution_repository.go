package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository handles workflow execution database operations,
// including the scheduler's claim lease.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
		id
	  , workflow_id
	  , organization_id
	  , record_type
	  , record_id
	  , status
	  , current_step_key
	  , context
	  , error_message
	  , retry_count
	  , started_at
	  , completed_at
	  , next_run_at
	  , waiting_for
	  , locked_until
	  , locked_by
`

// Save upserts an execution.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, organization_id, record_type, record_id, status,
			current_step_key, context, error_message, retry_count,
			started_at, completed_at, next_run_at, waiting_for,
			locked_until, locked_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_key = EXCLUDED.current_step_key,
			context = EXCLUDED.context,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			completed_at = EXCLUDED.completed_at,
			next_run_at = EXCLUDED.next_run_at,
			waiting_for = EXCLUDED.waiting_for,
			locked_until = EXCLUDED.locked_until,
			locked_by = EXCLUDED.locked_by
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.OrganizationID,
		execution.RecordType,
		execution.RecordID,
		execution.Status,
		execution.CurrentStepKey,
		contextJSON,
		execution.ErrorMessage,
		execution.RetryCount,
		execution.StartedAt,
		execution.CompletedAt,
		execution.NextRunAt,
		execution.WaitingFor,
		execution.LockedUntil,
		execution.LockedBy,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow returns executions for a workflow, most recent first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	return r.queryExecutions(ctx, query, workflowID, limit)
}

// ListByRecord returns executions of one workflow against one record, most
// recent first.
func (r *ExecutionRepository) ListByRecord(ctx context.Context, workflowID string, recordType models.ObjectType, recordID string) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND record_type = $2 AND record_id = $3
		ORDER BY started_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID, string(recordType), recordID)
}

// ListByWorkflowSince returns executions started at or after since.
func (r *ExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND started_at >= $2
		ORDER BY started_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID, since)
}

// ClaimDue claims up to limit due executions for workerID. The conditional
// UPDATE makes the claim atomic across concurrent scheduler instances:
// a row is claimed only while still due and unclaimed.
func (r *ExecutionRepository) ClaimDue(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		UPDATE workflow_executions
		SET locked_until = NOW() + $2::interval, locked_by = $1
		WHERE id IN (
			SELECT id
			FROM workflow_executions
			WHERE status IN ('running', 'waiting')
			  AND (next_run_at IS NULL OR next_run_at <= NOW())
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY COALESCE(next_run_at, started_at) ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + executionColumns + `
	`

	leaseInterval := fmt.Sprintf("%d seconds", int(lease.Seconds()))

	return r.queryExecutions(ctx, query, workerID, leaseInterval, limit)
}

// Release clears a claim held by workerID. A foreign or missing claim is
// left untouched.
func (r *ExecutionRepository) Release(ctx context.Context, executionID, workerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET locked_until = NULL, locked_by = ''
		WHERE id = $1 AND locked_by = $2
	`, executionID, workerID)
	if err != nil {
		return persistence.NewExecutionError("Release", executionID, err)
	}

	return nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.OrganizationID,
		&execution.RecordType,
		&execution.RecordID,
		&execution.Status,
		&execution.CurrentStepKey,
		&contextJSON,
		&execution.ErrorMessage,
		&execution.RetryCount,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.NextRunAt,
		&execution.WaitingFor,
		&execution.LockedUntil,
		&execution.LockedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	return &execution, nil
}
