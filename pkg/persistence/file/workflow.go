package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root    string      // File system root for storing workflows
	claimMu *sync.Mutex // Serializes ClaimScheduledFire within the process
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string, claimMu *sync.Mutex) *WorkflowRepository {
	return &WorkflowRepository{root: root, claimMu: claimMu}
}

// GetAll returns every non-deleted workflow, ordered by evaluation order with
// ID as tie-break.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	dir := path.Join(wr.root, "workflows")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Workflow{}, nil
	}

	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5] // Remove .json extension

		workflow, err := wr.load(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if workflow != nil && workflow.DeletedAt == nil {
			workflows = append(workflows, workflow)
		}
	}

	sortByEvaluationOrder(workflows)

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := wr.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// GetActiveByTrigger returns active workflows for the object type whose
// trigger type is one of triggerTypes.
func (wr *WorkflowRepository) GetActiveByTrigger(ctx context.Context, objectType models.ObjectType, triggerTypes []models.TriggerType) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if !workflow.IsActive || workflow.ObjectType != objectType {
			continue
		}

		if slices.Contains(triggerTypes, workflow.TriggerType) {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// GetScheduled returns active workflows with a scheduled trigger.
func (wr *WorkflowRepository) GetScheduled(ctx context.Context) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	scheduled := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.IsActive && workflow.TriggerType == models.TriggerTypeScheduled {
			scheduled = append(scheduled, workflow)
		}
	}

	return scheduled, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	err := os.MkdirAll(path.Join(wr.root, "workflows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	filePath := path.Join(wr.root, "workflows", workflow.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// SetActive flips the workflow's active flag.
func (wr *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	workflow, err := wr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	workflow.IsActive = active

	return wr.Save(ctx, workflow)
}

// ClaimScheduledFire advances the scheduled-trigger clock from expected to
// next. The mutex makes the read-check-write sequence atomic within the
// process.
func (wr *WorkflowRepository) ClaimScheduledFire(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	wr.claimMu.Lock()
	defer wr.claimMu.Unlock()

	workflow, err := wr.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if expected.IsZero() {
		if workflow.NextFireAt != nil {
			return false, nil
		}
	} else if workflow.NextFireAt == nil || !workflow.NextFireAt.Equal(expected) {
		return false, nil
	}

	fireAt := next
	workflow.NextFireAt = &fireAt

	return true, wr.Save(ctx, workflow)
}

// Delete soft-deletes a workflow. Executions referencing it stay readable.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	workflow, err := wr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.IsActive = false

	return wr.Save(ctx, workflow)
}

func (wr *WorkflowRepository) load(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath := filepath.Clean(path.Join(wr.root, "workflows", workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

func sortByEvaluationOrder(workflows []*models.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].EvaluationOrder != workflows[j].EvaluationOrder {
			return workflows[i].EvaluationOrder < workflows[j].EvaluationOrder
		}

		return workflows[i].ID < workflows[j].ID
	})
}
