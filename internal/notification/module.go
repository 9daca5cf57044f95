// Package notification turns domain events into in-app notifications and
// transactional mail. Domain modules publish events and never talk to the
// mailer or the notification store directly.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	notifhandler "crm_saas_backend/internal/notification/handler"
	"crm_saas_backend/internal/notification/inapp"
	"crm_saas_backend/internal/notification/sse"
	usersrepo "crm_saas_backend/internal/users/repository"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification types stored in notifications.type.
const (
	TypeLeadAssigned      = "LeadAssigned"
	TypeTicketAssigned    = "TicketAssigned"
	TypeTicketEscalated   = "TicketEscalated"
	TypeSLABreached       = "SLABreached"
	TypeActivityReminder  = "ActivityReminder"
	TypeCampaignCompleted = "CampaignCompleted"
)

// UserDirectory resolves user ids to mail recipients.
type UserDirectory interface {
	Contacts(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]usersrepo.Contact, error)
}

// Notifier persists and pushes one in-app notification.
type Notifier interface {
	Send(ctx context.Context, p inapp.SendParams) (inapp.Notification, error)
}

type Module struct {
	notifier   Notifier
	inApp      *inapp.Service
	stream     *sse.Service
	sender     email.Sender
	users      UserDirectory
	appBaseURL string
	log        *logger.Logger
	handler    *notifhandler.Handler
}

func NewModule(pool *pgxpool.Pool, sender email.Sender, users UserDirectory, appBaseURL string, log *logger.Logger) *Module {
	stream := sse.New(log)
	svc := inapp.NewService(inapp.NewRepository(pool), stream, log)
	m := newModule(svc, sender, users, appBaseURL, log)
	m.inApp = svc
	m.stream = stream
	m.handler = notifhandler.New(svc, stream.Handler())
	return m
}

func newModule(notifier Notifier, sender email.Sender, users UserDirectory, appBaseURL string, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{
		notifier:   notifier,
		sender:     sender,
		users:      users,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		log:        log,
	}
}

func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts /notifications. Every route works on the caller's own notifications.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.handler == nil {
		return
	}
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

// InAppService is used by the cleanup job.
func (m *Module) InAppService() *inapp.Service { return m.inApp }

// Close ends all open notification streams.
func (m *Module) Close() {
	if m.stream != nil {
		m.stream.Close()
	}
}

func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadAssigned{}.EventName(), m)
	bus.Subscribe(events.TicketAssigned{}.EventName(), m)
	bus.Subscribe(events.TicketEscalated{}.EventName(), m)
	bus.Subscribe(events.TicketSLABreached{}.EventName(), m)
	bus.Subscribe(events.ActivityReminderDue{}.EventName(), m)
	bus.Subscribe(events.CampaignCompleted{}.EventName(), m)
	bus.Subscribe(events.UserCreated{}.EventName(), m)
	bus.Subscribe(events.TenantRegistered{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadAssigned:
		return m.handleLeadAssigned(ctx, e)
	case events.TicketAssigned:
		return m.handleTicketAssigned(ctx, e)
	case events.TicketEscalated:
		return m.handleTicketEscalated(ctx, e)
	case events.TicketSLABreached:
		return m.handleSLABreached(ctx, e)
	case events.ActivityReminderDue:
		return m.handleActivityReminder(ctx, e)
	case events.CampaignCompleted:
		return m.handleCampaignCompleted(ctx, e)
	case events.UserCreated:
		return m.handleUserCreated(ctx, e)
	case events.TenantRegistered:
		return m.handleTenantRegistered(ctx, e)
	default:
		m.log.Warn("notification module received unknown event", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleLeadAssigned(ctx context.Context, e events.LeadAssigned) error {
	if e.AssigneeID == e.ActorID {
		return nil
	}
	return m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     e.AssigneeID,
		Type:       TypeLeadAssigned,
		Title:      "Lead assigned to you",
		Message:    fmt.Sprintf("You have been assigned the lead %q.", e.LeadTitle),
		EntityType: string(events.EntityLead),
		EntityID:   &e.LeadID,
	})
}

func (m *Module) handleTicketAssigned(ctx context.Context, e events.TicketAssigned) error {
	if e.AssigneeID == e.ActorID {
		return nil
	}
	return m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     e.AssigneeID,
		Type:       TypeTicketAssigned,
		Title:      "Ticket assigned to you",
		Message:    fmt.Sprintf("%s: %s", e.TicketNumber, e.Subject),
		EntityType: string(events.EntityTicket),
		EntityID:   &e.TicketID,
	})
}

func (m *Module) handleTicketEscalated(ctx context.Context, e events.TicketEscalated) error {
	if e.AssigneeID == nil {
		return nil
	}
	return m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     *e.AssigneeID,
		Type:       TypeTicketEscalated,
		Title:      "Ticket escalated",
		Message:    fmt.Sprintf("%s was escalated to %s priority (escalation #%d).", e.TicketNumber, e.Priority, e.EscalationCount),
		EntityType: string(events.EntityTicket),
		EntityID:   &e.TicketID,
	})
}

func (m *Module) handleSLABreached(ctx context.Context, e events.TicketSLABreached) error {
	if e.AssigneeID == nil {
		return nil
	}
	if err := m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     *e.AssigneeID,
		Type:       TypeSLABreached,
		Title:      "SLA breached",
		Message:    fmt.Sprintf("%s (%s) is past its due date.", e.TicketNumber, e.Subject),
		EntityType: string(events.EntityTicket),
		EntityID:   &e.TicketID,
	}); err != nil {
		return err
	}

	contact, ok := m.recipient(ctx, e.TenantID, *e.AssigneeID, e.AssigneeEmail)
	if !ok {
		return nil
	}
	err := m.sender.SendSLABreachEmail(ctx, contact.Email, email.SLABreach{
		Name:         contact.FirstName,
		TicketNumber: e.TicketNumber,
		Subject:      e.Subject,
		Priority:     e.Priority,
		DueDate:      e.DueDate,
		LinkURL:      m.link("/tickets", e.TicketID),
	})
	if err != nil {
		m.log.Error("failed to send sla breach email", "ticketId", e.TicketID, "error", err)
		return err
	}
	return nil
}

func (m *Module) handleActivityReminder(ctx context.Context, e events.ActivityReminderDue) error {
	if e.AssigneeID == nil {
		return nil
	}
	if err := m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     *e.AssigneeID,
		Type:       TypeActivityReminder,
		Title:      "Reminder: " + e.Subject,
		Message:    fmt.Sprintf("Your %s %q is coming up.", strings.ToLower(e.ActivityType), e.Subject),
		EntityType: string(events.EntityActivity),
		EntityID:   &e.ActivityID,
	}); err != nil {
		return err
	}

	contact, ok := m.recipient(ctx, e.TenantID, *e.AssigneeID, e.AssigneeEmail)
	if !ok {
		return nil
	}
	err := m.sender.SendActivityReminderEmail(ctx, contact.Email, email.ActivityReminder{
		Name:    contact.FirstName,
		Subject: e.Subject,
		Type:    e.ActivityType,
		DueDate: parseDue(e.DueDate),
		LinkURL: m.link("/activities", e.ActivityID),
	})
	if err != nil {
		m.log.Error("failed to send activity reminder email", "activityId", e.ActivityID, "error", err)
		return err
	}
	return nil
}

func (m *Module) handleCampaignCompleted(ctx context.Context, e events.CampaignCompleted) error {
	if e.OwnerID == nil {
		return nil
	}
	return m.notify(ctx, inapp.SendParams{
		TenantID:   e.TenantID,
		UserID:     *e.OwnerID,
		Type:       TypeCampaignCompleted,
		Title:      "Campaign completed",
		Message:    fmt.Sprintf("%q finished: %d sent, %d bounced.", e.Name, e.TotalSent, e.TotalBounced),
		EntityType: string(events.EntityCampaign),
		EntityID:   &e.CampaignID,
	})
}

func (m *Module) handleUserCreated(ctx context.Context, e events.UserCreated) error {
	if err := m.sender.SendWelcomeEmail(ctx, e.Email, e.FirstName, e.TenantName, m.appBaseURL+"/login"); err != nil {
		m.log.Error("failed to send welcome email", "userId", e.UserID, "error", err)
		return err
	}
	m.log.Info("welcome email sent", "userId", e.UserID)
	return nil
}

func (m *Module) handleTenantRegistered(ctx context.Context, e events.TenantRegistered) error {
	if e.AdminEmail == "" {
		return nil
	}
	name := ""
	if e.AdminID != nil {
		if contact, ok := m.recipient(ctx, e.TenantID, *e.AdminID, nil); ok {
			name = contact.FirstName
		}
	}
	if err := m.sender.SendWelcomeEmail(ctx, e.AdminEmail, name, e.Name, m.appBaseURL+"/login?tenant="+e.Identifier); err != nil {
		m.log.Error("failed to send tenant welcome email", "tenantId", e.TenantID, "error", err)
		return err
	}
	return nil
}

func (m *Module) notify(ctx context.Context, p inapp.SendParams) error {
	if _, err := m.notifier.Send(ctx, p); err != nil {
		return fmt.Errorf("notify %s: %w", p.Type, err)
	}
	return nil
}

// recipient prefers the address carried on the event and falls back to the user directory.
func (m *Module) recipient(ctx context.Context, tenantID, userID uuid.UUID, known *string) (usersrepo.Contact, bool) {
	var contact usersrepo.Contact
	if m.users != nil {
		found, err := m.users.Contacts(ctx, tenantID, []uuid.UUID{userID})
		if err != nil {
			m.log.Warn("user lookup failed", "userId", userID, "error", err)
		} else if c, ok := found[userID]; ok {
			contact = c
		}
	}
	if known != nil && *known != "" {
		contact.ID = userID
		contact.Email = *known
	}
	return contact, contact.Email != ""
}

func (m *Module) link(path string, id uuid.UUID) string {
	return m.appBaseURL + path + "/" + id.String()
}

func parseDue(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil
	}
	return &t
}

var _ apphttp.Module = (*Module)(nil)
