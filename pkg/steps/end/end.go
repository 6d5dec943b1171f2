// Package end implements the terminal step.
package end

import (
	"context"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeEnd
}

func (h *Handler) Execute(_ context.Context, _ protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	return protocol.StepResult{End: true}, nil
}
