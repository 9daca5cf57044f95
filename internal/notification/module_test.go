package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/notification/inapp"
	usersrepo "crm_saas_backend/internal/users/repository"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []inapp.SendParams
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, p inapp.SendParams) (inapp.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return inapp.Notification{}, f.err
	}
	f.sent = append(f.sent, p)
	return inapp.Notification{ID: uuid.New(), UserID: p.UserID, Type: p.Type, Title: p.Title}, nil
}

type testSender struct {
	email.NoopSender
	mu        sync.Mutex
	welcome   []string
	slaAlerts []email.SLABreach
	reminders []email.ActivityReminder
	to        []string
}

func (s *testSender) SendWelcomeEmail(_ context.Context, to, _, _, loginURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcome = append(s.welcome, loginURL)
	s.to = append(s.to, to)
	return nil
}

func (s *testSender) SendSLABreachEmail(_ context.Context, to string, b email.SLABreach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaAlerts = append(s.slaAlerts, b)
	s.to = append(s.to, to)
	return nil
}

func (s *testSender) SendActivityReminderEmail(_ context.Context, to string, r email.ActivityReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, r)
	s.to = append(s.to, to)
	return nil
}

type fakeDirectory map[uuid.UUID]usersrepo.Contact

func (d fakeDirectory) Contacts(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]usersrepo.Contact, error) {
	out := map[uuid.UUID]usersrepo.Contact{}
	for _, id := range ids {
		if c, ok := d[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func newTestModule(n *fakeNotifier, s *testSender, d fakeDirectory) *Module {
	return newModule(n, s, d, "https://crm.example.com/", logger.Discard())
}

func TestLeadAssignedNotifiesAssignee(t *testing.T) {
	n := &fakeNotifier{}
	m := newTestModule(n, &testSender{}, nil)
	assignee := uuid.New()

	err := m.Handle(context.Background(), events.LeadAssigned{
		TenantID: uuid.New(), LeadID: uuid.New(), LeadTitle: "Acme rollout",
		AssigneeID: assignee, ActorID: uuid.New(),
	})

	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, assignee, n.sent[0].UserID)
	assert.Equal(t, TypeLeadAssigned, n.sent[0].Type)
	assert.Equal(t, "Lead", n.sent[0].EntityType)
	assert.Contains(t, n.sent[0].Message, "Acme rollout")
}

func TestSelfAssignmentIsSilent(t *testing.T) {
	n := &fakeNotifier{}
	m := newTestModule(n, &testSender{}, nil)
	user := uuid.New()

	require.NoError(t, m.Handle(context.Background(), events.TicketAssigned{
		TenantID: uuid.New(), TicketID: uuid.New(), AssigneeID: user, ActorID: user,
	}))
	assert.Empty(t, n.sent)
}

func TestSLABreachNotifiesAndEmails(t *testing.T) {
	n := &fakeNotifier{}
	s := &testSender{}
	assignee := uuid.New()
	dir := fakeDirectory{assignee: {ID: assignee, Email: "agent@example.com", FirstName: "Ada"}}
	m := newTestModule(n, s, dir)
	ticketID := uuid.New()
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := m.Handle(context.Background(), events.TicketSLABreached{
		TenantID: uuid.New(), TicketID: ticketID, TicketNumber: "TKT-000042",
		Subject: "Printer on fire", Priority: "Critical", DueDate: due, AssigneeID: &assignee,
	})

	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, TypeSLABreached, n.sent[0].Type)
	require.Len(t, s.slaAlerts, 1)
	assert.Equal(t, "Ada", s.slaAlerts[0].Name)
	assert.Equal(t, due, s.slaAlerts[0].DueDate)
	assert.Equal(t, "https://crm.example.com/tickets/"+ticketID.String(), s.slaAlerts[0].LinkURL)
	assert.Equal(t, []string{"agent@example.com"}, s.to)
}

func TestSLABreachWithoutAssigneeDoesNothing(t *testing.T) {
	n := &fakeNotifier{}
	s := &testSender{}
	m := newTestModule(n, s, nil)

	require.NoError(t, m.Handle(context.Background(), events.TicketSLABreached{TenantID: uuid.New(), TicketID: uuid.New()}))
	assert.Empty(t, n.sent)
	assert.Empty(t, s.slaAlerts)
}

func TestActivityReminderUsesEventEmail(t *testing.T) {
	n := &fakeNotifier{}
	s := &testSender{}
	m := newTestModule(n, s, fakeDirectory{})
	assignee := uuid.New()
	addr := "owner@example.com"
	due := "2026-05-04T09:30:00Z"

	err := m.Handle(context.Background(), events.ActivityReminderDue{
		TenantID: uuid.New(), ActivityID: uuid.New(), Subject: "Quarterly review",
		ActivityType: "Meeting", DueDate: &due, AssigneeID: &assignee, AssigneeEmail: &addr,
	})

	require.NoError(t, err)
	require.Len(t, s.reminders, 1)
	require.NotNil(t, s.reminders[0].DueDate)
	assert.Equal(t, 2026, s.reminders[0].DueDate.Year())
	assert.Equal(t, []string{addr}, s.to)
	assert.Equal(t, TypeActivityReminder, n.sent[0].Type)
}

func TestNotifierFailureSkipsEmail(t *testing.T) {
	n := &fakeNotifier{err: errors.New("db down")}
	s := &testSender{}
	assignee := uuid.New()
	addr := "owner@example.com"
	m := newTestModule(n, s, nil)

	err := m.Handle(context.Background(), events.ActivityReminderDue{
		TenantID: uuid.New(), ActivityID: uuid.New(), AssigneeID: &assignee, AssigneeEmail: &addr,
	})

	require.Error(t, err)
	assert.Empty(t, s.reminders)
}

func TestCampaignCompletedNotifiesOwner(t *testing.T) {
	n := &fakeNotifier{}
	owner := uuid.New()
	m := newTestModule(n, &testSender{}, nil)

	require.NoError(t, m.Handle(context.Background(), events.CampaignCompleted{
		TenantID: uuid.New(), CampaignID: uuid.New(), Name: "Spring", TotalSent: 10, TotalBounced: 1, OwnerID: &owner,
	}))
	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0].Message, "10 sent, 1 bounced")
}

func TestWelcomeMails(t *testing.T) {
	s := &testSender{}
	m := newTestModule(&fakeNotifier{}, s, nil)

	require.NoError(t, m.Handle(context.Background(), events.UserCreated{
		TenantID: uuid.New(), UserID: uuid.New(), Email: "new@example.com", FirstName: "Grace", TenantName: "Acme",
	}))
	require.NoError(t, m.Handle(context.Background(), events.TenantRegistered{
		TenantID: uuid.New(), Name: "Beta", Identifier: "beta", AdminEmail: "admin@beta.test",
	}))

	assert.Equal(t, []string{"new@example.com", "admin@beta.test"}, s.to)
	assert.Equal(t, "https://crm.example.com/login", s.welcome[0])
	assert.Equal(t, "https://crm.example.com/login?tenant=beta", s.welcome[1])
}

func TestSubscribedThroughBus(t *testing.T) {
	n := &fakeNotifier{}
	m := newTestModule(n, &testSender{}, nil)
	bus := events.NewInMemoryBus(logger.Discard())
	m.RegisterHandlers(bus)

	bus.Publish(context.Background(), events.LeadAssigned{TenantID: uuid.New(), LeadID: uuid.New(), AssigneeID: uuid.New()})
	bus.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.sent, 1)
}
