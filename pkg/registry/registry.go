// Package registry maps step types to their handlers.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
)

type Registry struct {
	logger   *slog.Logger
	handlers map[models.StepType]protocol.StepHandler
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[models.StepType]protocol.StepHandler),
	}
}

func (r *Registry) Register(handler protocol.StepHandler) {
	r.handlers[handler.Type()] = handler
}

func (r *Registry) Handler(stepType models.StepType) (protocol.StepHandler, error) {
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", stepType)
	}

	return handler, nil
}

// RegisteredTypes lists the step types with a handler, for validation.
func (r *Registry) RegisteredTypes() []models.StepType {
	types := make([]models.StepType, 0, len(r.handlers))
	for stepType := range r.handlers {
		types = append(types, stepType)
	}

	return types
}
