package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"crm_saas_backend/internal/campaigns/repository"
	"crm_saas_backend/internal/campaigns/transport"
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rules"
	segments "crm_saas_backend/internal/segments/service"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgNotFound          = "campaign not found"
	msgInvalidTransition = "campaign status does not allow this change"
	msgQueueUnavailable  = "job queue unavailable"

	// statusCheckEvery is how many recipients a send handles between pause checks.
	statusCheckEvery = 25
)

var (
	editableStatuses = []string{transport.StatusDraft, transport.StatusScheduled, transport.StatusPaused}
	sendableStatuses = []string{transport.StatusDraft, transport.StatusScheduled, transport.StatusPaused}
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Campaign, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.Campaign, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams, editable []string) error
	Transition(ctx context.Context, tenantID, id uuid.UUID, status string, from []string) error
	UpdateMetrics(ctx context.Context, tenantID, id uuid.UUID, p repository.MetricsParams) error
	Claim(ctx context.Context, tenantID, id uuid.UUID, now time.Time) error
	ClaimRecipient(ctx context.Context, tenantID, campaignID, contactID uuid.UUID, email string, now time.Time) (bool, error)
	FinishRecipient(ctx context.Context, tenantID, campaignID, contactID uuid.UUID, status string) error
	CompleteSend(ctx context.Context, tenantID, id uuid.UUID, sentAt time.Time) (repository.SendResult, error)
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
}

// Audiences resolves the contacts a segment targets.
type Audiences interface {
	Audience(ctx context.Context, tenantID, segmentID uuid.UUID) ([]segments.Recipient, error)
}

// Enqueuer schedules the background send. A nil Enqueuer means no job queue is configured.
type Enqueuer interface {
	EnqueueCampaignSend(ctx context.Context, tenantID, campaignID uuid.UUID, runAt *time.Time) error
}

type Service struct {
	repo      Repository
	audiences Audiences
	queue     Enqueuer
	mailer    email.Sender
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

func New(repo Repository, audiences Audiences, queue Enqueuer, mailer email.Sender, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		audiences: audiences,
		queue:     queue,
		mailer:    mailer,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams, req transport.ListCampaignsRequest) (httpkit.Paged[transport.CampaignResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, tenantID, repository.ListParams{
		Status:    req.Status,
		Type:      req.Type,
		Search:    page.Search,
		SortBy:    page.SortBy,
		SortOrder: page.SortOrder,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.CampaignResponse]{}, err
	}
	items := make([]transport.CampaignResponse, len(rows))
	for i, c := range rows {
		items[i] = ToResponse(c)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	return ToResponse(c), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateCampaignRequest) (transport.CampaignResponse, error) {
	if err := checkDates(req.StartDate, req.EndDate); err != nil {
		return transport.CampaignResponse{}, err
	}
	owner := req.OwnerID
	if owner == nil {
		owner = &actorID
	}
	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:            tenantID,
		Name:                sanitize.Text(req.Name),
		Description:         sanitize.TextPtr(req.Description),
		Type:                req.Type,
		Status:              transport.StatusDraft,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		Budget:              req.Budget,
		Currency:            upper(req.Currency),
		ExpectedRevenue:     req.ExpectedRevenue,
		ExpectedLeads:       req.ExpectedLeads,
		ExpectedConversions: req.ExpectedConversions,
		OwnerID:             owner,
		TargetAudience:      sanitize.TextPtr(req.TargetAudience),
		Tags:                sanitize.TextPtr(req.Tags),
		Subject:             sanitize.TextPtr(req.Subject),
		Content:             req.Content,
		SegmentID:           req.SegmentID,
		ScheduledDate:       req.ScheduledDate,
		CreatedBy:           &actorID,
	})
	if err != nil {
		return transport.CampaignResponse{}, err
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionCreated, nil)
}

// Update edits a Draft, Scheduled or Paused campaign. Moving the scheduledDate of a
// Scheduled campaign queues a new send for the new date.
func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateCampaignRequest) (transport.CampaignResponse, error) {
	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	start, end := current.StartDate, current.EndDate
	if req.StartDate != nil {
		start = req.StartDate
	}
	if req.EndDate != nil {
		end = req.EndDate
	}
	if err := checkDates(start, end); err != nil {
		return transport.CampaignResponse{}, err
	}
	if req.Type != nil && *req.Type != current.Type && current.Status != transport.StatusDraft {
		return transport.CampaignResponse{}, apperr.Conflict("campaign type can only change while Draft")
	}
	before := ToResponse(current)

	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		Name:                sanitize.TextPtr(req.Name),
		Description:         sanitize.TextPtr(req.Description),
		Type:                req.Type,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		Budget:              req.Budget,
		Currency:            upper(req.Currency),
		ExpectedRevenue:     req.ExpectedRevenue,
		ExpectedLeads:       req.ExpectedLeads,
		ExpectedConversions: req.ExpectedConversions,
		OwnerID:             req.OwnerID,
		TargetAudience:      sanitize.TextPtr(req.TargetAudience),
		Tags:                sanitize.TextPtr(req.Tags),
		Subject:             sanitize.TextPtr(req.Subject),
		Content:             req.Content,
		SegmentID:           req.SegmentID,
		ScheduledDate:       req.ScheduledDate,
	}, editableStatuses)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}

	if current.Status == transport.StatusScheduled && req.ScheduledDate != nil && s.queue != nil {
		if err := s.queue.EnqueueCampaignSend(ctx, tenantID, id, req.ScheduledDate); err != nil {
			return transport.CampaignResponse{}, err
		}
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionDeleted, ToResponse(c), nil)
	return nil
}

// Send validates an Email campaign and queues it, now or at its future scheduledDate.
func (s *Service) Send(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	if c.Type != transport.TypeEmail {
		return transport.CampaignResponse{}, apperr.BadRequest("only Email campaigns can be sent")
	}
	if blank(c.Subject) || blank(c.Content) || c.SegmentID == nil {
		return transport.CampaignResponse{}, apperr.Validation("subject, content and segmentId are required to send a campaign")
	}
	if !slices.Contains(sendableStatuses, c.Status) {
		return transport.CampaignResponse{}, apperr.Conflict(msgInvalidTransition)
	}
	if s.queue == nil {
		return transport.CampaignResponse{}, apperr.Unavailable(msgQueueUnavailable)
	}
	before := ToResponse(c)
	if err := s.queueSend(ctx, c, sendableStatuses); err != nil {
		return transport.CampaignResponse{}, err
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

// Pause holds a scheduled or running campaign. A running send stops at its next
// status check; recipients already mailed are not mailed again on resume.
func (s *Service) Pause(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	return s.transition(ctx, c, actorID, transport.StatusPaused, transport.StatusScheduled, transport.StatusInProgress)
}

// Resume requeues a paused campaign.
func (s *Service) Resume(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	if c.Status != transport.StatusPaused {
		return transport.CampaignResponse{}, apperr.Conflict(msgInvalidTransition)
	}
	if s.queue == nil {
		return transport.CampaignResponse{}, apperr.Unavailable(msgQueueUnavailable)
	}
	before := ToResponse(c)
	if err := s.queueSend(ctx, c, []string{transport.StatusPaused}); err != nil {
		return transport.CampaignResponse{}, err
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

func (s *Service) Cancel(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	return s.transition(ctx, c, actorID, transport.StatusCancelled,
		transport.StatusDraft, transport.StatusScheduled, transport.StatusInProgress, transport.StatusPaused)
}

func (s *Service) UpdateMetrics(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateMetricsRequest) (transport.CampaignResponse, error) {
	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	before := ToResponse(current)
	err = s.repo.UpdateMetrics(ctx, tenantID, id, repository.MetricsParams{
		TotalSent:           req.TotalSent,
		TotalDelivered:      req.TotalDelivered,
		TotalOpened:         req.TotalOpened,
		TotalClicked:        req.TotalClicked,
		TotalBounced:        req.TotalBounced,
		TotalUnsubscribed:   req.TotalUnsubscribed,
		TotalLeadsGenerated: req.TotalLeadsGenerated,
		TotalConversions:    req.TotalConversions,
		ActualCost:          req.ActualCost,
		ActualRevenue:       req.ActualRevenue,
	})
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

func (s *Service) Performance(ctx context.Context, tenantID, id uuid.UUID) (transport.PerformanceResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.PerformanceResponse{}, mapErr(err)
	}
	return Performance(c), nil
}

// Performance derives the campaign rates. A rate with a zero denominator is nil.
func Performance(c repository.Campaign) transport.PerformanceResponse {
	resp := transport.PerformanceResponse{
		CampaignID:     c.ID,
		Name:           c.Name,
		Status:         c.Status,
		TotalSent:      c.TotalSent,
		TotalDelivered: c.TotalDelivered,
		TotalOpened:    c.TotalOpened,
		TotalClicked:   c.TotalClicked,
		LeadsGenerated: c.TotalLeadsGenerated,
		Conversions:    c.TotalConversions,
		ActualCost:     c.ActualCost,
		ActualRevenue:  c.ActualRevenue,
		OpenRate:       percent(float64(c.TotalOpened), float64(c.TotalDelivered)),
		ClickRate:      percent(float64(c.TotalClicked), float64(c.TotalOpened)),
		ConversionRate: percent(float64(c.TotalConversions), float64(c.TotalLeadsGenerated)),
	}
	if c.ActualCost != nil {
		revenue := 0.0
		if c.ActualRevenue != nil {
			revenue = *c.ActualRevenue
		}
		resp.ROI = percent(revenue-*c.ActualCost, *c.ActualCost)
	}
	return resp
}

// ProcessSend delivers a queued campaign to its segment and returns how many
// recipients this run mailed. Tasks for campaigns that are not due, paused or
// cancelled are dropped without error. A failed run returns its error so the task
// is retried; the retry skips recipients an earlier run already claimed.
func (s *Service) ProcessSend(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	now := s.now().UTC()
	if err := s.repo.Claim(ctx, tenantID, id, now); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			s.log.Info("campaign send skipped", "tenant_id", tenantID, "campaign_id", id, "reason", err.Error())
			return 0, nil
		}
		return 0, err
	}
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}

	var recipients []segments.Recipient
	if c.SegmentID != nil {
		recipients, err = s.audiences.Audience(ctx, tenantID, *c.SegmentID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return 0, err
		}
	}

	sent := 0
	subject, content := deref(c.Subject), deref(c.Content)
	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if i > 0 && i%statusCheckEvery == 0 {
			running, err := s.stillRunning(ctx, tenantID, id)
			if err != nil {
				return sent, err
			}
			if !running {
				s.log.Info("campaign send stopped", "campaign_id", id, "sent", sent)
				return sent, nil
			}
		}

		claimed, err := s.repo.ClaimRecipient(ctx, tenantID, id, r.ContactID, r.Email, now)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		sent++
		record := rules.NewRecord(map[string]any{
			"contactId": r.ContactID.String(),
			"firstName": r.FirstName,
			"lastName":  r.LastName,
			"email":     r.Email,
		})
		outcome := repository.RecipientDelivered
		if err := s.mailer.SendCustomEmail(ctx, r.Email, rules.Render(subject, record), rules.Render(content, record)); err != nil {
			outcome = repository.RecipientBounced
			s.log.Warn("campaign email failed", "campaign_id", id, "contact_id", r.ContactID, "error", err)
		}
		if err := s.repo.FinishRecipient(context.WithoutCancel(ctx), tenantID, id, r.ContactID, outcome); err != nil {
			s.log.Error("campaign recipient not recorded", "campaign_id", id, "contact_id", r.ContactID, "error", err)
		}
	}

	res, err := s.repo.CompleteSend(context.WithoutCancel(ctx), tenantID, id, now)
	if errors.Is(err, repository.ErrInvalidTransition) {
		s.log.Info("campaign send stopped", "campaign_id", id, "sent", sent)
		return sent, nil
	}
	if err != nil {
		return sent, err
	}
	s.bus.Publish(ctx, events.CampaignCompleted{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     tenantID,
		CampaignID:   id,
		Name:         c.Name,
		TotalSent:    res.Sent,
		TotalBounced: res.Bounced,
		OwnerID:      c.OwnerID,
	})
	return sent, nil
}

func (s *Service) stillRunning(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status == transport.StatusInProgress, nil
}

func (s *Service) queueSend(ctx context.Context, c repository.Campaign, from []string) error {
	status := transport.StatusInProgress
	var runAt *time.Time
	if c.ScheduledDate != nil && c.ScheduledDate.After(s.now()) {
		status = transport.StatusScheduled
		runAt = c.ScheduledDate
	}
	if err := s.repo.Transition(ctx, c.TenantID, c.ID, status, from); err != nil {
		return mapErr(err)
	}
	if err := s.queue.EnqueueCampaignSend(ctx, c.TenantID, c.ID, runAt); err != nil {
		if rerr := s.repo.Transition(ctx, c.TenantID, c.ID, c.Status, []string{status}); rerr != nil {
			s.log.Error("campaign status rollback failed", "campaign_id", c.ID, "error", rerr)
		}
		return err
	}
	return nil
}

func (s *Service) transition(ctx context.Context, c repository.Campaign, actorID uuid.UUID, to string, from ...string) (transport.CampaignResponse, error) {
	before := ToResponse(c)
	if err := s.repo.Transition(ctx, c.TenantID, c.ID, to, from); err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, c.TenantID, actorID, c.ID, events.ActionUpdated, &before)
}

func (s *Service) reloadAndPublish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, before *transport.CampaignResponse) (transport.CampaignResponse, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.CampaignResponse{}, mapErr(err)
	}
	resp := ToResponse(c)
	s.publish(ctx, tenantID, actorID, id, action, resp, before)
	return resp, nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, c transport.CampaignResponse, before *transport.CampaignResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityCampaign,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(c),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func checkDates(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return apperr.Validation("endDate must not be before startDate")
	}
	return nil
}

func percent(num, denom float64) *float64 {
	if denom == 0 {
		return nil
	}
	v := num / denom * 100
	return &v
}

func upper(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToUpper(strings.TrimSpace(*s))
	return &v
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgNotFound)
	case errors.Is(err, repository.ErrInvalidTransition):
		return apperr.Conflict(msgInvalidTransition)
	}
	return err
}

func ToResponse(c repository.Campaign) transport.CampaignResponse {
	return transport.CampaignResponse{
		ID:                  c.ID,
		Name:                c.Name,
		Description:         c.Description,
		Type:                c.Type,
		Status:              c.Status,
		StartDate:           c.StartDate,
		EndDate:             c.EndDate,
		Budget:              c.Budget,
		ActualCost:          c.ActualCost,
		Currency:            c.Currency,
		ExpectedRevenue:     c.ExpectedRevenue,
		ActualRevenue:       c.ActualRevenue,
		ExpectedLeads:       c.ExpectedLeads,
		ExpectedConversions: c.ExpectedConversions,
		TotalSent:           c.TotalSent,
		TotalDelivered:      c.TotalDelivered,
		TotalOpened:         c.TotalOpened,
		TotalClicked:        c.TotalClicked,
		TotalBounced:        c.TotalBounced,
		TotalUnsubscribed:   c.TotalUnsubscribed,
		TotalLeadsGenerated: c.TotalLeadsGenerated,
		TotalConversions:    c.TotalConversions,
		OwnerID:             c.OwnerID,
		TargetAudience:      c.TargetAudience,
		Tags:                c.Tags,
		Subject:             c.Subject,
		Content:             c.Content,
		SegmentID:           c.SegmentID,
		ScheduledDate:       c.ScheduledDate,
		SentDate:            c.SentDate,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}
