// Package webhook implements the step that posts execution data to an
// external URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/template"
)

const defaultTimeoutSeconds = 30

// responseBodyLimit caps how much of a webhook response is kept in step
// output.
const responseBodyLimit = 64 * 1024

type Handler struct {
	client *http.Client
}

func NewHandler() *Handler {
	return &Handler{client: &http.Client{Timeout: defaultTimeoutSeconds * time.Second}}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeWebhook
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (protocol.StepResult, error) {
	config, err := decodeAs(stepCtx.Step)
	if err != nil {
		return protocol.StepResult{}, err
	}

	req, err := h.buildRequest(ctx, config, stepCtx)
	if err != nil {
		return protocol.StepResult{}, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to read webhook response: %w", err)
	}

	// Any non-2xx response fails the step.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return protocol.StepResult{}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "Webhook delivered",
		"step_key", stepCtx.Step.StepKey,
		"url", config.URL,
		"status_code", resp.StatusCode)

	return protocol.StepResult{Output: map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}}, nil
}

func (h *Handler) buildRequest(ctx context.Context, config *models.WebhookConfig, stepCtx protocol.StepContext) (*http.Request, error) {
	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodPost
	}

	payload := map[string]any{
		"workflow_id":  stepCtx.Workflow.ID,
		"execution_id": stepCtx.Execution.ID,
		"record_type":  string(stepCtx.Execution.RecordType),
		"record_id":    stepCtx.Execution.RecordID,
	}

	for name, value := range config.Payload {
		if s, ok := value.(string); ok {
			rendered, err := template.RenderWithExecution(s, stepCtx.Execution, stepCtx.Record)
			if err != nil {
				return nil, fmt.Errorf("failed to render payload field %q: %w", name, err)
			}

			payload[name] = rendered

			continue
		}

		payload[name] = value
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range config.Headers {
		rendered, err := template.RenderString(value, stepCtx.Execution, stepCtx.Record)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %q: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func decodeAs(step *models.WorkflowStep) (*models.WebhookConfig, error) {
	decoded, err := step.DecodeConfig()
	if err != nil {
		return nil, err
	}

	config, ok := decoded.(*models.WebhookConfig)
	if !ok {
		return nil, fmt.Errorf("%w: step %s", models.ErrConfigMismatch, step.StepKey)
	}

	return config, nil
}
