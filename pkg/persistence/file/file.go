// Package file provides file-based persistence for workflows, executions and
// step executions. It is intended for development and tests; claim atomicity
// is guaranteed within a single process only.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root              string
	workflowRepo      *WorkflowRepository
	executionRepo     *ExecutionRepository
	stepExecutionRepo *StepExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	// Shared by the repositories' claim paths so that concurrent goroutines
	// in one process cannot win the same claim twice.
	claimMu := &sync.Mutex{}

	return &Persistence{
		root:              cleanRoot,
		workflowRepo:      NewWorkflowRepository(cleanRoot, claimMu),
		executionRepo:     NewExecutionRepository(cleanRoot, claimMu),
		stepExecutionRepo: NewStepExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// ExecutionRepository returns the execution repository implementation for file persistence.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// StepExecutionRepository returns the step execution repository implementation for file persistence.
func (fp *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return fp.stepExecutionRepo
}
