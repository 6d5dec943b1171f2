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
	"github.com/lib/pq"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
		id
	  , organization_id
	  , name
	  , description
	  , object_type
	  , trigger_type
	  , trigger_config
	  , entry_criteria
	  , reentry_mode
	  , reentry_wait_days
	  , is_active
	  , is_template
	  , canvas_data
	  , evaluation_order
	  , next_fire_at
	  , created_at
	  , updated_at
	  , deleted_at
`

// GetAll returns all workflows that are not soft-deleted.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryWorkflows(ctx, query)
}

// GetByID returns a workflow with its steps.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = r.loadSteps(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}

	return workflow, nil
}

// GetActiveByTrigger returns active workflows for the object type whose
// trigger type is in triggerTypes, in evaluation order.
func (r *WorkflowRepository) GetActiveByTrigger(ctx context.Context, objectType models.ObjectType, triggerTypes []models.TriggerType) ([]*models.Workflow, error) {
	types := make([]string, len(triggerTypes))
	for i, t := range triggerTypes {
		types[i] = string(t)
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		  AND is_active
		  AND NOT is_template
		  AND object_type = $1
		  AND trigger_type = ANY($2)
		ORDER BY evaluation_order ASC, id ASC
	`

	return r.queryWorkflows(ctx, query, string(objectType), pq.Array(types))
}

// GetScheduled returns active workflows with a scheduled trigger.
func (r *WorkflowRepository) GetScheduled(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		  AND is_active
		  AND NOT is_template
		  AND trigger_type = 'scheduled'
		ORDER BY evaluation_order ASC, id ASC
	`

	return r.queryWorkflows(ctx, query)
}

// Save upserts the workflow and replaces its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	triggerConfigJSON, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	entryCriteriaJSON, err := json.Marshal(workflow.EntryCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal entry criteria: %w", err)
	}

	var canvasDataJSON []byte
	if workflow.CanvasData != nil {
		canvasDataJSON, err = json.Marshal(workflow.CanvasData)
		if err != nil {
			return fmt.Errorf("failed to marshal canvas data: %w", err)
		}
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, organization_id, name, description, object_type, trigger_type,
			trigger_config, entry_criteria, reentry_mode, reentry_wait_days,
			is_active, is_template, canvas_data, evaluation_order,
			next_fire_at, created_at, updated_at, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			object_type = EXCLUDED.object_type,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			entry_criteria = EXCLUDED.entry_criteria,
			reentry_mode = EXCLUDED.reentry_mode,
			reentry_wait_days = EXCLUDED.reentry_wait_days,
			is_active = EXCLUDED.is_active,
			is_template = EXCLUDED.is_template,
			canvas_data = EXCLUDED.canvas_data,
			evaluation_order = EXCLUDED.evaluation_order,
			next_fire_at = EXCLUDED.next_fire_at,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = transaction.ExecContext(ctx, query,
		workflow.ID,
		workflow.OrganizationID,
		workflow.Name,
		workflow.Description,
		workflow.ObjectType,
		workflow.TriggerType,
		triggerConfigJSON,
		entryCriteriaJSON,
		workflow.EffectiveReentryMode(),
		workflow.ReentryWaitDays,
		workflow.IsActive,
		workflow.IsTemplate,
		canvasDataJSON,
		workflow.EvaluationOrder,
		workflow.NextFireAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to save workflow: %w", err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to clear workflow steps: %w", err)
	}

	for _, step := range workflow.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}

		step.WorkflowID = workflow.ID

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_steps (
				id, workflow_id, step_key, step_type, step_order,
				step_config, next_step_key, position_x, position_y
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			step.ID,
			step.WorkflowID,
			step.StepKey,
			step.StepType,
			step.StepOrder,
			nullableRaw(step.StepConfig),
			step.NextStepKey,
			step.PositionX,
			step.PositionY,
		)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to save workflow step %s: %w", step.StepKey, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow save: %w", err)
	}

	return nil
}

// SetActive toggles a workflow's active flag.
func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, active)
	if err != nil {
		return persistence.NewWorkflowError("SetActive", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("SetActive", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("SetActive", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// ClaimScheduledFire advances the scheduled-trigger clock from expected to
// next. The WHERE clause makes the update conditional, like ClaimDue, so
// concurrent schedulers cannot both win the same firing.
func (r *WorkflowRepository) ClaimScheduledFire(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	var (
		result sql.Result
		err    error
	)

	if expected.IsZero() {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflows
			SET next_fire_at = $2
			WHERE id = $1 AND deleted_at IS NULL AND next_fire_at IS NULL
		`, id, next)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflows
			SET next_fire_at = $3
			WHERE id = $1 AND deleted_at IS NULL AND next_fire_at = $2
		`, id, expected, next)
	}

	if err != nil {
		return false, persistence.NewWorkflowError("ClaimScheduledFire", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewWorkflowError("ClaimScheduledFire", id, err)
	}

	return affected > 0, nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET deleted_at = NOW(), is_active = false, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadSteps(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow steps: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow          models.Workflow
		triggerConfigJSON []byte
		entryCriteriaJSON []byte
		canvasDataJSON    []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&workflow.Name,
		&workflow.Description,
		&workflow.ObjectType,
		&workflow.TriggerType,
		&triggerConfigJSON,
		&entryCriteriaJSON,
		&workflow.ReentryMode,
		&workflow.ReentryWaitDays,
		&workflow.IsActive,
		&workflow.IsTemplate,
		&canvasDataJSON,
		&workflow.EvaluationOrder,
		&workflow.NextFireAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConfigJSON) > 0 {
		err = json.Unmarshal(triggerConfigJSON, &workflow.TriggerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if len(entryCriteriaJSON) > 0 {
		err = json.Unmarshal(entryCriteriaJSON, &workflow.EntryCriteria)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry criteria: %w", err)
		}
	}

	if len(canvasDataJSON) > 0 {
		err = json.Unmarshal(canvasDataJSON, &workflow.CanvasData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal canvas data: %w", err)
		}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, step_key, step_type, step_order,
		       step_config, next_step_key, position_x, position_y
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC, step_key ASC
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	workflow.Steps = make([]*models.WorkflowStep, 0)

	for rows.Next() {
		var (
			step       models.WorkflowStep
			configJSON []byte
		)

		err = rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.StepKey,
			&step.StepType,
			&step.StepOrder,
			&configJSON,
			&step.NextStepKey,
			&step.PositionX,
			&step.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to scan workflow step: %w", err)
		}

		step.StepConfig = configJSON
		workflow.Steps = append(workflow.Steps, &step)
	}

	return rows.Err()
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	return raw
}
