package mutate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/template"
)

type FieldUpdateHandler struct {
	records senders.RecordStore
}

func NewFieldUpdateHandler(records senders.RecordStore) *FieldUpdateHandler {
	return &FieldUpdateHandler{records: records}
}

func (h *FieldUpdateHandler) Type() models.StepType {
	return models.StepTypeUpdateField
}

func (h *FieldUpdateHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.FieldUpdateConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	value := config.Value
	if s, ok := value.(string); ok {
		value, err = template.RenderWithExecution(s, stepCtx.Execution, stepCtx.Record)
		if err != nil {
			return protocol.StepResult{}, fmt.Errorf("failed to render field value: %w", err)
		}
	}

	var previous any
	if stepCtx.Record != nil {
		previous = stepCtx.Record[config.Field]
	}

	err = h.records.UpdateField(ctx,
		stepCtx.Workflow.OrganizationID,
		stepCtx.Execution.RecordType,
		stepCtx.Execution.RecordID,
		config.Field,
		value)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to update field %s: %w", config.Field, err)
	}

	// Keep the handler's view of the record current for later steps.
	if stepCtx.Record != nil {
		stepCtx.Record[config.Field] = value
	}

	return protocol.StepResult{Output: map[string]any{
		"field":          config.Field,
		"value":          value,
		"previous_value": previous,
	}}, nil
}
