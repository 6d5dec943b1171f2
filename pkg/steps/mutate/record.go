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

type RecordHandler struct {
	records senders.RecordStore
}

func NewRecordHandler(records senders.RecordStore) *RecordHandler {
	return &RecordHandler{records: records}
}

func (h *RecordHandler) Type() models.StepType {
	return models.StepTypeCreateRecord
}

func (h *RecordHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.RecordConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	fields := make(map[string]any, len(config.Fields))

	for name, value := range config.Fields {
		if s, ok := value.(string); ok {
			rendered, err := template.RenderWithExecution(s, stepCtx.Execution, stepCtx.Record)
			if err != nil {
				return protocol.StepResult{}, fmt.Errorf("failed to render field %q: %w", name, err)
			}

			fields[name] = rendered

			continue
		}

		fields[name] = value
	}

	recordID, err := h.records.CreateRecord(ctx, stepCtx.Workflow.OrganizationID, config.RecordType, fields)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to create %s record: %w", config.RecordType, err)
	}

	return protocol.StepResult{Output: map[string]any{
		"record_type": string(config.RecordType),
		"record_id":   recordID,
	}}, nil
}
