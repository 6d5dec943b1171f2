// Package send implements the outbound communication steps: email, SMS and
// in-app messages.
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

type EmailHandler struct {
	sender senders.EmailSender
}

func NewEmailHandler(sender senders.EmailSender) *EmailHandler {
	return &EmailHandler{sender: sender}
}

func (h *EmailHandler) Type() models.StepType {
	return models.StepTypeSendEmail
}

func (h *EmailHandler) Execute(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs[models.EmailConfig](stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	recipient := config.Recipient
	if recipient == "" {
		recipient = recordString(stepCtx.Record, "email")
	}

	if recipient != "" {
		recipient, err = template.RenderString(recipient, stepCtx.Execution, stepCtx.Record)
		if err != nil {
			return protocol.StepResult{}, fmt.Errorf("failed to render recipient: %w", err)
		}
	}

	if recipient == "" {
		return protocol.StepResult{}, fmt.Errorf("no email recipient for %s %s", stepCtx.Execution.RecordType, stepCtx.Execution.RecordID)
	}

	variables := make(map[string]string, len(config.Variables))

	for name, value := range config.Variables {
		rendered, err := template.RenderString(value, stepCtx.Execution, stepCtx.Record)
		if err != nil {
			return protocol.StepResult{}, fmt.Errorf("failed to render variable %q: %w", name, err)
		}

		variables[name] = rendered
	}

	err = h.sender.SendEmail(ctx, stepCtx.Workflow.OrganizationID, senders.EmailMessage{
		TemplateID: config.TemplateID,
		Recipient:  recipient,
		Variables:  variables,
	})
	if err != nil {
		if config.BestEffort {
			logger.WarnContext(ctx, "Email send failed, continuing",
				"step_key", stepCtx.Step.StepKey, "error", err)

			return protocol.StepResult{Output: map[string]any{"sent": false, "error": err.Error()}}, nil
		}

		return protocol.StepResult{}, fmt.Errorf("failed to send email: %w", err)
	}

	return protocol.StepResult{Output: map[string]any{
		"sent":        true,
		"template_id": config.TemplateID,
		"recipient":   recipient,
	}}, nil
}

func decodeAs[T any](step *models.WorkflowStep) (*T, error) {
	decoded, err := step.DecodeConfig()
	if err != nil {
		return nil, err
	}

	config, ok := decoded.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: step %s", models.ErrConfigMismatch, step.StepKey)
	}

	return config, nil
}

func recordString(record map[string]any, field string) string {
	if record == nil {
		return ""
	}

	value, ok := record[field].(string)
	if !ok {
		return ""
	}

	return value
}
