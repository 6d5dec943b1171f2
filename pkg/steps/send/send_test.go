package send

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/protocol"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/senders/quota"
)

type fakeEmailSender struct {
	sent []senders.EmailMessage
	err  error
}

func (f *fakeEmailSender) SendEmail(_ context.Context, _ string, message senders.EmailMessage) error {
	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, message)

	return nil
}

type fakeSMSSender struct {
	sent []senders.SMSMessage
	err  error
}

func (f *fakeSMSSender) SendSMS(_ context.Context, _ string, message senders.SMSMessage) error {
	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, message)

	return nil
}

func sendContext(step *models.WorkflowStep, record map[string]any) protocol.StepContext {
	return protocol.StepContext{
		Workflow:  &models.Workflow{ID: "wf-1", OrganizationID: "org-1"},
		Execution: &models.WorkflowExecution{ID: "exec-1", RecordType: models.ObjectTypeLead, RecordID: "lead-1"},
		Step:      step,
		Record:    record,
	}
}

func TestEmailHandler_Send(t *testing.T) {
	sender := &fakeEmailSender{}
	handler := NewEmailHandler(sender)

	step := &models.WorkflowStep{
		StepKey:  "welcome",
		StepType: models.StepTypeSendEmail,
		StepConfig: models.MustConfig(models.EmailConfig{
			TemplateID: "welcome-email",
			Variables:  map[string]string{"first_name": "{{.record.first_name}}"},
		}),
	}

	result, err := handler.Execute(t.Context(),
		sendContext(step, map[string]any{"email": "maya@example.com", "first_name": "Maya"}),
		slog.Default())
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "maya@example.com", sender.sent[0].Recipient)
	assert.Equal(t, "Maya", sender.sent[0].Variables["first_name"])
	assert.Equal(t, true, result.Output["sent"])
}

func TestEmailHandler_MissingRecipient(t *testing.T) {
	handler := NewEmailHandler(&fakeEmailSender{})

	step := &models.WorkflowStep{
		StepKey:    "welcome",
		StepType:   models.StepTypeSendEmail,
		StepConfig: models.MustConfig(models.EmailConfig{TemplateID: "welcome-email"}),
	}

	_, err := handler.Execute(t.Context(), sendContext(step, map[string]any{}), slog.Default())
	assert.Error(t, err)
}

func TestEmailHandler_SendFailureFailsStep(t *testing.T) {
	handler := NewEmailHandler(&fakeEmailSender{err: errors.New("smtp down")})

	step := &models.WorkflowStep{
		StepKey:    "welcome",
		StepType:   models.StepTypeSendEmail,
		StepConfig: models.MustConfig(models.EmailConfig{TemplateID: "welcome-email", Recipient: "a@b.c"}),
	}

	_, err := handler.Execute(t.Context(), sendContext(step, nil), slog.Default())
	assert.Error(t, err)
}

func TestEmailHandler_BestEffortContinues(t *testing.T) {
	handler := NewEmailHandler(&fakeEmailSender{err: errors.New("smtp down")})

	step := &models.WorkflowStep{
		StepKey:  "welcome",
		StepType: models.StepTypeSendEmail,
		StepConfig: models.MustConfig(models.EmailConfig{
			TemplateID: "welcome-email",
			Recipient:  "a@b.c",
			BestEffort: true,
		}),
	}

	result, err := handler.Execute(t.Context(), sendContext(step, nil), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, false, result.Output["sent"])
}

func TestSMSHandler_RendersBodyAndCountsSegments(t *testing.T) {
	sender := &fakeSMSSender{}
	handler := NewSMSHandler(sender)

	step := &models.WorkflowStep{
		StepKey:  "reminder",
		StepType: models.StepTypeSendSMS,
		StepConfig: models.MustConfig(models.SMSConfig{
			Body: "Hi {{.record.first_name}}, see you soon!",
		}),
	}

	result, err := handler.Execute(t.Context(),
		sendContext(step, map[string]any{"phone": "+15551234567", "first_name": "Maya"}),
		slog.Default())
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Hi Maya, see you soon!", sender.sent[0].Body)
	assert.Equal(t, "+15551234567", sender.sent[0].To)
	assert.Equal(t, 1, result.Output["segments"])
}

func TestSMSHandler_QuotaExceededFailsEvenBestEffort(t *testing.T) {
	handler := NewSMSHandler(&fakeSMSSender{err: quota.ErrQuotaExceeded})

	step := &models.WorkflowStep{
		StepKey:  "reminder",
		StepType: models.StepTypeSendSMS,
		StepConfig: models.MustConfig(models.SMSConfig{
			Body:       "hello",
			To:         "+15551234567",
			BestEffort: true,
		}),
	}

	_, err := handler.Execute(t.Context(), sendContext(step, nil), slog.Default())
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
}

func TestSMSHandler_MissingPhone(t *testing.T) {
	handler := NewSMSHandler(&fakeSMSSender{})

	step := &models.WorkflowStep{
		StepKey:    "reminder",
		StepType:   models.StepTypeSendSMS,
		StepConfig: models.MustConfig(models.SMSConfig{Body: "hello"}),
	}

	_, err := handler.Execute(t.Context(), sendContext(step, map[string]any{}), slog.Default())
	assert.Error(t, err)
}
