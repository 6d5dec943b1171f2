// Package decision implements the branching step. Conditions are expr
// expressions evaluated against the record and the execution context.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

// Handler evaluates decision conditions. Compiled programs are cached and
// reused across goroutines.
type Handler struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewHandler() *Handler {
	return &Handler{cache: make(map[string]*vm.Program)}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeDecision
}

func (h *Handler) Execute(_ context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (protocol.StepResult, error) {
	config, err := stepCtx.Step.DecisionConfig()
	if err != nil {
		return protocol.StepResult{}, err
	}

	env := map[string]any{
		"record":  stepCtx.Record,
		"context": stepCtx.Execution.Context,
		"execution": map[string]any{
			"id":          stepCtx.Execution.ID,
			"record_id":   stepCtx.Execution.RecordID,
			"record_type": string(stepCtx.Execution.RecordType),
			"retry_count": stepCtx.Execution.RetryCount,
		},
	}

	program, err := h.getOrCompile(config.Condition, env)
	if err != nil {
		return protocol.StepResult{}, err
	}

	out, err := vm.Run(program, env)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("condition %q failed: %w", config.Condition, err)
	}

	outcome, ok := out.(bool)
	if !ok {
		return protocol.StepResult{}, fmt.Errorf("condition %q evaluated to %T, want bool", config.Condition, out)
	}

	next := config.OnFalse
	if outcome {
		next = config.OnTrue
	}

	logger.Debug("Decision evaluated",
		"step_key", stepCtx.Step.StepKey,
		"outcome", outcome,
		"next_step_key", next)

	return protocol.StepResult{
		NextStepKey: &next,
		Output: map[string]any{
			"condition": config.Condition,
			"outcome":   outcome,
		},
	}, nil
}

func (h *Handler) getOrCompile(condition string, env map[string]any) (*vm.Program, error) {
	h.mu.RLock()
	if program, ok := h.cache[condition]; ok {
		h.mu.RUnlock()

		return program, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check after acquiring write lock.
	if program, ok := h.cache[condition]; ok {
		return program, nil
	}

	program, err := expr.Compile(condition,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}

	h.cache[condition] = program

	return program, nil
}
