package senders

import (
	"context"
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/senders/quota"
)

// LogSenders returns a Senders bundle that logs every side effect instead of
// performing it. SMS sends still consume quota so development behaves like
// production.
func LogSenders(logger *slog.Logger, smsQuota quota.SMSQuota) Senders {
	return Senders{
		Email:   &logEmailSender{logger: logger},
		SMS:     &logSMSSender{logger: logger, quota: smsQuota},
		Message: &logMessageSender{logger: logger},
		Tasks:   &logTaskCreator{logger: logger},
		Records: NewMemoryRecordStore(),
	}
}

type logEmailSender struct {
	logger *slog.Logger
}

func (s *logEmailSender) SendEmail(ctx context.Context, organizationID string, message EmailMessage) error {
	s.logger.InfoContext(ctx, "Would send email",
		"organization_id", organizationID,
		"template_id", message.TemplateID,
		"recipient", message.Recipient)

	return nil
}

type logSMSSender struct {
	logger *slog.Logger
	quota  quota.SMSQuota
}

func (s *logSMSSender) SendSMS(ctx context.Context, organizationID string, message SMSMessage) error {
	segments := quota.Segments(message.Body)

	err := s.quota.Consume(ctx, organizationID, segments)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Would send SMS",
		"organization_id", organizationID,
		"to", message.To,
		"segments", segments)

	return nil
}

type logMessageSender struct {
	logger *slog.Logger
}

func (s *logMessageSender) SendMessage(ctx context.Context, organizationID string, message InAppMessage) error {
	s.logger.InfoContext(ctx, "Would send in-app message",
		"organization_id", organizationID,
		"recipient_id", message.RecipientID)

	return nil
}

type logTaskCreator struct {
	logger *slog.Logger
}

func (s *logTaskCreator) CreateTask(ctx context.Context, organizationID string, task Task) error {
	s.logger.InfoContext(ctx, "Would create task",
		"organization_id", organizationID,
		"title", task.Title,
		"assignee_id", task.AssigneeID)

	return nil
}
