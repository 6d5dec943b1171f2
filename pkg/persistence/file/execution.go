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
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// storedExecution wraps a workflow execution for storage. The lock fields are
// excluded from the model's JSON encoding so they are carried explicitly here.
type storedExecution struct {
	*models.WorkflowExecution

	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
}

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root    string
	claimMu *sync.Mutex // Serializes ClaimDue within the process
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string, claimMu *sync.Mutex) *ExecutionRepository {
	return &ExecutionRepository{root: root, claimMu: claimMu}
}

// Save saves an execution to the file system.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	return er.write(execution)
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := er.load(id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

// ListByWorkflow returns the workflow's executions, most recent first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	executions, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			matches = append(matches, execution)
		}
	}

	sortByStartedAtDesc(matches)

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// ListByRecord returns executions of one workflow against one record, most
// recent first.
func (er *ExecutionRepository) ListByRecord(ctx context.Context, workflowID string, recordType models.ObjectType, recordID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID && execution.RecordType == recordType && execution.RecordID == recordID {
			matches = append(matches, execution)
		}
	}

	sortByStartedAtDesc(matches)

	return matches, nil
}

// ListByWorkflowSince returns executions started at or after since. A zero
// since means no lower bound.
func (er *ExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	executions, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		if !since.IsZero() && execution.StartedAt.Before(since) {
			continue
		}

		matches = append(matches, execution)
	}

	sortByStartedAtDesc(matches)

	return matches, nil
}

// ClaimDue atomically claims up to limit due executions for workerID. The
// mutex makes the read-check-write sequence atomic within the process.
func (er *ExecutionRepository) ClaimDue(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*models.WorkflowExecution, error) {
	er.claimMu.Lock()
	defer er.claimMu.Unlock()

	executions, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	due := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if !execution.IsDue(now) {
			continue
		}

		if execution.LockedUntil != nil && execution.LockedUntil.After(now) {
			continue
		}

		due = append(due, execution)
	}

	sort.Slice(due, func(i, j int) bool {
		return dueTime(due[i]).Before(dueTime(due[j]))
	})

	if len(due) > limit {
		due = due[:limit]
	}

	lockedUntil := now.Add(lease)

	for _, execution := range due {
		execution.LockedUntil = &lockedUntil
		execution.LockedBy = workerID

		err = er.write(execution)
		if err != nil {
			return nil, fmt.Errorf("failed to persist claim for execution %s: %w", execution.ID, err)
		}
	}

	return due, nil
}

// Release clears a claim held by workerID. Releasing an unclaimed or foreign
// claim is a no-op.
func (er *ExecutionRepository) Release(_ context.Context, executionID, workerID string) error {
	er.claimMu.Lock()
	defer er.claimMu.Unlock()

	execution, err := er.load(executionID)
	if err != nil {
		return err
	}

	if execution == nil || execution.LockedBy != workerID {
		return nil
	}

	execution.LockedUntil = nil
	execution.LockedBy = ""

	return er.write(execution)
}

func (er *ExecutionRepository) write(execution *models.WorkflowExecution) error {
	stored := storedExecution{
		WorkflowExecution: execution,
		LockedUntil:       execution.LockedUntil,
		LockedBy:          execution.LockedBy,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	filePath := path.Join(er.root, "executions", execution.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

func (er *ExecutionRepository) load(id string) (*models.WorkflowExecution, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var stored storedExecution

	stored.WorkflowExecution = &models.WorkflowExecution{}

	err = json.Unmarshal(body, &stored)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	stored.WorkflowExecution.LockedUntil = stored.LockedUntil
	stored.WorkflowExecution.LockedBy = stored.LockedBy

	return stored.WorkflowExecution, nil
}

func (er *ExecutionRepository) loadAll(_ context.Context) ([]*models.WorkflowExecution, error) {
	dir := path.Join(er.root, "executions")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.WorkflowExecution{}, nil
	}

	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		executionID := file[:len(file)-5]

		execution, err := er.load(executionID)
		if err != nil {
			return nil, err
		}

		if execution != nil {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

func sortByStartedAtDesc(executions []*models.WorkflowExecution) {
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})
}

func dueTime(execution *models.WorkflowExecution) time.Time {
	if execution.NextRunAt != nil {
		return *execution.NextRunAt
	}

	return execution.StartedAt
}
