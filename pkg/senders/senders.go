// Package senders defines the outbound side effects a workflow can perform
// and the record access the engine needs. Production implementations live in
// the host application; this package ships logging and in-memory ones for
// development and tests.
package senders

import (
	"context"

	"github.com/doulaflow/doulaflow/pkg/models"
)

// EmailMessage is a rendered email ready for delivery.
type EmailMessage struct {
	TemplateID string
	Recipient  string
	Variables  map[string]string
}

// SMSMessage is a rendered text message ready for delivery.
type SMSMessage struct {
	To   string
	Body string
}

// InAppMessage is a message delivered inside the client portal.
type InAppMessage struct {
	RecipientID string
	Body        string
}

// Task is a to-do item assigned to a team member.
type Task struct {
	Title       string
	Description string
	AssigneeID  string
	DueAt       string
	RecordType  models.ObjectType
	RecordID    string
}

// EmailSender delivers templated emails.
type EmailSender interface {
	SendEmail(ctx context.Context, organizationID string, message EmailMessage) error
}

// SMSSender delivers text messages. Implementations must consult the
// organization's quota before sending.
type SMSSender interface {
	SendSMS(ctx context.Context, organizationID string, message SMSMessage) error
}

// MessageSender delivers in-app messages.
type MessageSender interface {
	SendMessage(ctx context.Context, organizationID string, message InAppMessage) error
}

// TaskCreator creates tasks for team members.
type TaskCreator interface {
	CreateTask(ctx context.Context, organizationID string, task Task) error
}

// RecordStore reads and mutates the business records workflows run against.
type RecordStore interface {
	// GetRecord returns the record's fields as a flat map, nil if missing.
	GetRecord(ctx context.Context, organizationID string, recordType models.ObjectType, recordID string) (map[string]any, error)

	// UpdateField sets a single field on a record.
	UpdateField(ctx context.Context, organizationID string, recordType models.ObjectType, recordID, field string, value any) error

	// CreateRecord creates a record and returns its ID.
	CreateRecord(ctx context.Context, organizationID string, recordType models.ObjectType, fields map[string]any) (string, error)
}

// Senders bundles every outbound dependency a step handler may need.
type Senders struct {
	Email   EmailSender
	SMS     SMSSender
	Message MessageSender
	Tasks   TaskCreator
	Records RecordStore
}
