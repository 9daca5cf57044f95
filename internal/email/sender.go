// Package email renders transactional templates and delivers them over SMTP.
package email

import (
	"context"
	"time"
)

// Sender delivers every mail the CRM sends.
type Sender interface {
	SendWelcomeEmail(ctx context.Context, toEmail, name, tenantName, loginURL string) error
	SendActivityReminderEmail(ctx context.Context, toEmail string, reminder ActivityReminder) error
	SendSLABreachEmail(ctx context.Context, toEmail string, breach SLABreach) error
	SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error
}

// ActivityReminder is the data shown in a reminder mail.
type ActivityReminder struct {
	Name    string
	Subject string
	Type    string
	DueDate *time.Time
	LinkURL string
}

// SLABreach is the data shown in an SLA breach alert.
type SLABreach struct {
	Name         string
	TicketNumber string
	Subject      string
	Priority     string
	DueDate      time.Time
	LinkURL      string
}

// NoopSender drops every mail. Used when SMTP is not configured.
type NoopSender struct{}

func (NoopSender) SendWelcomeEmail(context.Context, string, string, string, string) error {
	return nil
}

func (NoopSender) SendActivityReminderEmail(context.Context, string, ActivityReminder) error {
	return nil
}

func (NoopSender) SendSLABreachEmail(context.Context, string, SLABreach) error {
	return nil
}

func (NoopSender) SendCustomEmail(context.Context, string, string, string) error {
	return nil
}

var _ Sender = NoopSender{}
