// Package wait implements the step that pauses an execution until a relative
// delay or absolute time has passed.
package wait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

type Handler struct {
	now func() time.Time
}

func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeWait
}

func (h *Handler) Execute(_ context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	config, err := stepCtx.Step.WaitConfig()
	if err != nil {
		return protocol.StepResult{}, err
	}

	if config.DurationMinutes <= 0 && config.Until == "" {
		return protocol.StepResult{}, fmt.Errorf("wait step %s has no duration or target time", stepCtx.Step.StepKey)
	}

	now := h.now().UTC()

	// A parked execution re-enters this step on resume. The stored resume
	// time tells us the wait already ran, so fall through to the successor
	// instead of restarting the clock.
	if prior, ok := stepCtx.Execution.Context[stepCtx.Step.StepKey].(map[string]any); ok {
		if raw, ok := prior["resume_at"].(string); ok {
			resumeAt, parseErr := time.Parse(time.RFC3339, raw)
			if parseErr == nil && !now.Before(resumeAt) {
				return protocol.StepResult{
					Output: map[string]any{
						"resume_at":  raw,
						"resumed_at": now.Format(time.RFC3339),
					},
				}, nil
			}
		}
	}

	target, err := config.Delay(now)
	if err != nil {
		return protocol.StepResult{}, err
	}

	// A target already in the past resumes on the next scheduler pass.
	if target.Before(now) {
		target = now
	}

	waitingFor := config.Description
	if waitingFor == "" {
		waitingFor = "wait until " + target.Format(time.RFC3339)
	}

	return protocol.StepResult{
		Until:      &target,
		WaitingFor: waitingFor,
		Output: map[string]any{
			"resume_at": target.Format(time.RFC3339),
		},
	}, nil
}
