package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/google/uuid"
)

// StepExecutionRepository handles the append-only step audit log.
type StepExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepExecutionRepository creates a new step execution repository.
func NewStepExecutionRepository(db *sql.DB, logger *slog.Logger) *StepExecutionRepository {
	return &StepExecutionRepository{db: db, logger: logger}
}

// Save upserts a step execution row. Rows are created pending and updated in
// place as the attempt progresses; they are never deleted.
func (r *StepExecutionRepository) Save(ctx context.Context, stepExecution *models.StepExecution) error {
	if stepExecution.ID == "" {
		stepExecution.ID = uuid.New().String()
	}

	inputJSON, err := json.Marshal(stepExecution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := json.Marshal(stepExecution.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_executions (
			id, execution_id, step_id, step_key, status,
			input, output, error_message, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		stepExecution.ID,
		stepExecution.ExecutionID,
		stepExecution.StepID,
		stepExecution.StepKey,
		stepExecution.Status,
		inputJSON,
		outputJSON,
		stepExecution.ErrorMessage,
		stepExecution.StartedAt,
		stepExecution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveStepExecution", stepExecution.ExecutionID, err)
	}

	return nil
}

// ListByExecution returns an execution's step attempts in start order.
func (r *StepExecutionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	query := `
		SELECT id, execution_id, step_id, step_key, status,
		       input, output, error_message, started_at, completed_at
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY started_at ASC
	`

	return r.queryStepExecutions(ctx, query, executionID)
}

// ListByWorkflowSince returns step executions across a workflow's
// executions started at or after since.
func (r *StepExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.StepExecution, error) {
	query := `
		SELECT se.id, se.execution_id, se.step_id, se.step_key, se.status,
		       se.input, se.output, se.error_message, se.started_at, se.completed_at
		FROM step_executions se
		JOIN workflow_executions we ON we.id = se.execution_id
		WHERE we.workflow_id = $1 AND we.started_at >= $2
		ORDER BY se.started_at ASC
	`

	return r.queryStepExecutions(ctx, query, workflowID, since)
}

func (r *StepExecutionRepository) queryStepExecutions(ctx context.Context, query string, args ...any) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	stepExecutions := make([]*models.StepExecution, 0)

	for rows.Next() {
		stepExecution, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		stepExecutions = append(stepExecutions, stepExecution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return stepExecutions, nil
}

func scanStepExecution(row *sql.Rows) (*models.StepExecution, error) {
	var (
		stepExecution models.StepExecution
		inputJSON     []byte
		outputJSON    []byte
	)

	err := row.Scan(
		&stepExecution.ID,
		&stepExecution.ExecutionID,
		&stepExecution.StepID,
		&stepExecution.StepKey,
		&stepExecution.Status,
		&inputJSON,
		&outputJSON,
		&stepExecution.ErrorMessage,
		&stepExecution.StartedAt,
		&stepExecution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		err = json.Unmarshal(inputJSON, &stepExecution.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		err = json.Unmarshal(outputJSON, &stepExecution.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return &stepExecution, nil
}
