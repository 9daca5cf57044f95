package email

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"net"
	"strings"
	"time"

	"crm_saas_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements Sender over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

// NewSender returns an SMTP sender when SMTP is configured and a NoopSender otherwise.
func NewSender(cfg config.EmailConfig) Sender {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}
	}
	return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
}

func (s *SMTPSender) newMessage(toEmail, subject, htmlContent string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)
	return msg, nil
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg, err := s.newMessage(toEmail, subject, htmlContent)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) SendWelcomeEmail(ctx context.Context, toEmail, name, tenantName, loginURL string) error {
	content, err := renderEmailTemplate("welcome.html", welcomeEmailData{
		baseEmailData: baseEmailData{
			Title:    "Your account is ready",
			Heading:  "Your account is ready",
			CTALabel: "Sign in",
			CTAURL:   loginURL,
		},
		Name:       name,
		TenantName: tenantName,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectWelcomeFmt, tenantName), content)
}

func (s *SMTPSender) SendActivityReminderEmail(ctx context.Context, toEmail string, r ActivityReminder) error {
	content, err := renderEmailTemplate("activity_reminder.html", activityReminderEmailData{
		baseEmailData: baseEmailData{
			Title:    "Activity reminder",
			Heading:  r.Subject,
			CTALabel: "Open activity",
			CTAURL:   r.LinkURL,
		},
		Name:    r.Name,
		Subject: r.Subject,
		Type:    strings.ToLower(r.Type),
		DueDate: formatDate(r.DueDate),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectActivityReminderFmt, r.Subject), content)
}

func (s *SMTPSender) SendSLABreachEmail(ctx context.Context, toEmail string, b SLABreach) error {
	due := b.DueDate
	content, err := renderEmailTemplate("sla_breach.html", slaBreachEmailData{
		baseEmailData: baseEmailData{
			Title:    "SLA breached",
			Heading:  "SLA breached",
			CTALabel: "Open ticket",
			CTAURL:   b.LinkURL,
		},
		Name:         b.Name,
		TicketNumber: b.TicketNumber,
		Subject:      b.Subject,
		Priority:     b.Priority,
		DueDate:      formatDate(&due),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectSLABreachFmt, b.TicketNumber), content)
}

// SendCustomEmail wraps a caller-supplied body in the base layout. Plain text is escaped.
func (s *SMTPSender) SendCustomEmail(ctx context.Context, toEmail, subject, body string) error {
	content, err := RenderCustom(subject, body)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

// RenderCustom renders a campaign or workflow body inside the base layout.
func RenderCustom(subject, body string) (string, error) {
	var rendered template.HTML
	if looksLikeHTML(body) {
		rendered = template.HTML(body)
	} else {
		rendered = template.HTML(strings.ReplaceAll(html.EscapeString(body), "\n", "<br>"))
	}
	return renderEmailTemplate("custom.html", customEmailData{
		baseEmailData: baseEmailData{Title: subject, Heading: subject},
		Body:          rendered,
	})
}

var _ Sender = (*SMTPSender)(nil)
