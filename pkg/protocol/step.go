// Package protocol defines the contract between the execution engine and
// step handlers.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
)

// StepContext carries everything a handler may read while executing a step.
type StepContext struct {
	Workflow  *models.Workflow
	Execution *models.WorkflowExecution
	Step      *models.WorkflowStep

	// Record holds the triggering record's current fields, nil when the
	// record could not be loaded.
	Record map[string]any
}

// StepResult tells the interpreter what happened and where to go next.
type StepResult struct {
	// Output is merged into the execution context under the step's key.
	Output map[string]any

	// NextStepKey overrides the step's configured successor. Decision steps
	// use this to pick a branch.
	NextStepKey *string

	// Delay postpones the next dispatch by a relative duration.
	Delay time.Duration

	// Until postpones the next dispatch to an absolute time. Takes
	// precedence over Delay when set.
	Until *time.Time

	// WaitingFor describes what a postponed execution is waiting on.
	WaitingFor string

	// Skipped marks the step as skipped rather than completed.
	Skipped bool

	// End completes the execution after this step.
	End bool
}

// StepHandler executes one step type.
type StepHandler interface {
	// Type returns the step type this handler serves.
	Type() models.StepType

	// Execute runs the step. A returned error fails the attempt; the
	// interpreter decides whether the execution retries or fails.
	Execute(ctx context.Context, stepCtx StepContext, logger *slog.Logger) (StepResult, error)
}
