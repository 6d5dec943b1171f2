package send

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/template"
)

type MessageHandler struct {
	sender senders.MessageSender
}

func NewMessageHandler(sender senders.MessageSender) *MessageHandler {
	return &MessageHandler{sender: sender}
}

func (h *MessageHandler) Type() models.StepType {
	return models.StepTypeSendMessage
}

func (h *MessageHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.MessageConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	body, err := template.RenderString(config.Body, stepCtx.Execution, stepCtx.Record)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to render message body: %w", err)
	}

	// Portal messages go to the client behind the record.
	recipientID := recordString(stepCtx.Record, "client_id")
	if recipientID == "" {
		recipientID = stepCtx.Execution.RecordID
	}

	err = h.sender.SendMessage(ctx, stepCtx.Workflow.OrganizationID, senders.InAppMessage{
		RecipientID: recipientID,
		Body:        body,
	})
	if err != nil {
		if config.BestEffort {
			logger.WarnContext(ctx, "Message send failed, continuing",
				"step_key", stepCtx.Step.StepKey, "error", err)

			return protocol.StepResult{Output: map[string]any{"sent": false, "error": err.Error()}}, nil
		}

		return protocol.StepResult{}, fmt.Errorf("failed to send message: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"sent":         true,
		"recipient_id": recipientID,
	}}, nil
}
