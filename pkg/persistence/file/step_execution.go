package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doulaflow/doulaflow/pkg/models"
)

// StepExecutionRepository handles step execution file operations.
type StepExecutionRepository struct {
	root string
}

// NewStepExecutionRepository creates a new step execution repository.
func NewStepExecutionRepository(root string) *StepExecutionRepository {
	return &StepExecutionRepository{root: root}
}

// Save saves a step execution to the file system.
func (sr *StepExecutionRepository) Save(_ context.Context, stepExecution *models.StepExecution) error {
	err := os.MkdirAll(path.Join(sr.root, "step_executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create step_executions directory: %w", err)
	}

	if stepExecution.ID == "" {
		stepExecution.ID = uuid.New().String()
	}

	data, err := json.MarshalIndent(stepExecution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step execution %s: %w", stepExecution.ID, err)
	}

	filePath := path.Join(sr.root, "step_executions", stepExecution.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// ListByExecution returns an execution's step attempts in start order.
func (sr *StepExecutionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	all, err := sr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.StepExecution, 0)

	for _, stepExecution := range all {
		if stepExecution.ExecutionID == executionID {
			matches = append(matches, stepExecution)
		}
	}

	sortByStartedAtAsc(matches)

	return matches, nil
}

// ListByWorkflowSince returns step executions belonging to the workflow's
// executions started at or after since. It scans executions first to resolve
// the workflow membership.
func (sr *StepExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.StepExecution, error) {
	executionRepo := NewExecutionRepository(sr.root, &sync.Mutex{})

	executions, err := executionRepo.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	memberIDs := make(map[string]bool)

	for _, execution := range executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		if !since.IsZero() && execution.StartedAt.Before(since) {
			continue
		}

		memberIDs[execution.ID] = true
	}

	all, err := sr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.StepExecution, 0)

	for _, stepExecution := range all {
		if memberIDs[stepExecution.ExecutionID] {
			matches = append(matches, stepExecution)
		}
	}

	sortByStartedAtAsc(matches)

	return matches, nil
}

func (sr *StepExecutionRepository) loadAll(_ context.Context) ([]*models.StepExecution, error) {
	dir := path.Join(sr.root, "step_executions")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.StepExecution{}, nil
	}

	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list step execution files: %w", err)
	}

	stepExecutions := make([]*models.StepExecution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		filePath := filepath.Clean(path.Join(dir, file))

		body, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch step execution %s: %w", file, err)
		}

		var stepExecution models.StepExecution

		err = json.Unmarshal(body, &stepExecution)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step execution %s: %w", file, err)
		}

		stepExecutions = append(stepExecutions, &stepExecution)
	}

	return stepExecutions, nil
}

func sortByStartedAtAsc(stepExecutions []*models.StepExecution) {
	sort.Slice(stepExecutions, func(i, j int) bool {
		return stepExecutions[i].StartedAt.Before(stepExecutions[j].StartedAt)
	})
}
