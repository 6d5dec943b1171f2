package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/senders/quota"
	"github.com/doulaflow/doulaflow/pkg/template"
)

type SMSHandler struct {
	sender senders.SMSSender
}

func NewSMSHandler(sender senders.SMSSender) *SMSHandler {
	return &SMSHandler{sender: sender}
}

func (h *SMSHandler) Type() models.StepType {
	return models.StepTypeSendSMS
}

func (h *SMSHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.SMSConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	body, err := template.RenderString(config.Body, stepCtx.Execution, stepCtx.Record)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to render sms body: %w", err)
	}

	to := config.To
	if to == "" {
		to = recordString(stepCtx.Record, "phone")
	}

	if to == "" {
		return protocol.StepResult{}, fmt.Errorf("no phone number for %s %s", stepCtx.Execution.RecordType, stepCtx.Execution.RecordID)
	}

	err = h.sender.SendSMS(ctx, stepCtx.Workflow.OrganizationID, senders.SMSMessage{To: to, Body: body})
	if err != nil {
		// Quota exhaustion is not transient; retrying within the month
		// cannot help, so surface it even on best-effort steps.
		if config.BestEffort && !errors.Is(err, quota.ErrQuotaExceeded) {
			logger.WarnContext(ctx, "SMS send failed, continuing",
				"step_key", stepCtx.Step.StepKey, "error", err)

			return protocol.StepResult{Output: map[string]any{"sent": false, "error": err.Error()}}, nil
		}

		return protocol.StepResult{}, fmt.Errorf("failed to send sms: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"sent":     true,
		"to":       to,
		"segments": quota.Segments(body),
	}}, nil
}
