package service

import (
	"context"
	"errors"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/tickets/repository"
	"crm_saas_backend/internal/tickets/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgNotFound         = "ticket not found"
	msgClosed           = "ticket is closed"
	msgAlreadyPaused    = "ticket sla is already paused"
	msgNotPaused        = "ticket sla is not paused"
	msgInvalidStatus    = "a closed ticket can only be reopened"
	msgCustomerNotFound = "customer not found"
	msgContactNotFound  = "contact not found"
	msgInvalidAssignee  = "assigned user must be an active user of this tenant"
)

// BreachBatch bounds one run of the SLA breach job.
const BreachBatch = 500

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Ticket, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Ticket, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	Close(ctx context.Context, tenantID, id uuid.UUID, p repository.CloseParams) error
	Escalate(ctx context.Context, tenantID, id uuid.UUID, p repository.EscalateParams) error
	PauseSLA(ctx context.Context, tenantID, id uuid.UUID, reason string, at time.Time) error
	ResumeSLA(ctx context.Context, tenantID, id uuid.UUID, at time.Time) (int, error)
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	MarkBreached(ctx context.Context, now time.Time, limit int) ([]repository.Breach, error)
}

type EntityChecker interface {
	Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type UserChecker interface {
	IsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type Service struct {
	repo      Repository
	customers EntityChecker
	contacts  EntityChecker
	users     UserChecker
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

func New(repo Repository, customers, contacts EntityChecker, users UserChecker, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, customers: customers, contacts: contacts, users: users, bus: bus, log: log, now: time.Now}
}

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListTicketsRequest) (httpkit.Paged[transport.TicketResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:           page.Search,
		Status:           req.Status,
		Priority:         req.Priority,
		Type:             req.Type,
		AssignedToUserID: req.AssignedToUserID,
		CustomerID:       req.CustomerID,
		SLABreached:      req.SLABreached,
		Viewer:           viewer,
		SortBy:           page.SortBy,
		SortOrder:        page.SortOrder,
		Limit:            page.Limit(),
		Offset:           page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.TicketResponse]{}, err
	}
	items := make([]transport.TicketResponse, len(rows))
	for i, t := range rows {
		items[i] = ToResponse(t)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.TicketResponse, error) {
	t, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	return ToResponse(t), nil
}

// Create numbers the ticket and, without an explicit due date, sets it from the priority's resolution target.
func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateTicketRequest) (transport.TicketResponse, error) {
	if err := s.checkRefs(ctx, tenantID, req.CustomerID, req.ContactID, req.AssignedToUserID); err != nil {
		return transport.TicketResponse{}, err
	}
	priority := transport.PriorityMedium
	if req.Priority != nil {
		priority = *req.Priority
	}
	ticketType := transport.TypeQuestion
	if req.Type != nil {
		ticketType = *req.Type
	}
	due := req.DueDate
	if due == nil {
		d := s.now().UTC().Add(TargetFor(priority).Resolution)
		due = &d
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:         tenantID,
		Subject:          sanitize.Text(req.Subject),
		Description:      sanitize.TextPtr(req.Description),
		CustomerID:       req.CustomerID,
		ContactID:        req.ContactID,
		Status:           transport.StatusNew,
		Priority:         priority,
		Type:             ticketType,
		Channel:          sanitize.TextPtr(req.Channel),
		Category:         sanitize.TextPtr(req.Category),
		SubCategory:      sanitize.TextPtr(req.SubCategory),
		Tags:             sanitize.TextPtr(req.Tags),
		AssignedToUserID: req.AssignedToUserID,
		DueDate:          due,
		CreatedBy:        &actorID,
	})
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}

	t, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	resp := ToResponse(t)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	if t.AssignedToUserID != nil {
		s.publishAssigned(ctx, t, actorID)
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateTicketRequest) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	before := ToResponse(current)

	params := repository.UpdateParams{
		Subject:     sanitize.TextPtr(req.Subject),
		Description: sanitize.TextPtr(req.Description),
		Priority:    req.Priority,
		Type:        req.Type,
		DueDate:     req.DueDate,
		Category:    sanitize.TextPtr(req.Category),
	}
	if req.Status != nil && *req.Status != current.Status {
		if !CanTransition(current.Status, *req.Status) {
			return transport.TicketResponse{}, apperr.BadRequest(msgInvalidStatus)
		}
		now := s.now().UTC()
		params.Status = req.Status
		if current.Status == transport.StatusNew && current.FirstResponseDate == nil {
			params.FirstResponseDate = &now
		}
		if *req.Status == transport.StatusResolved {
			params.ResolvedDate = &now
		}
	}

	if err := s.repo.Update(ctx, tenantID, id, params); err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	t, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(t), nil)
	return nil
}

func (s *Service) Assign(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.AssignTicketRequest) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	if err := s.checkRefs(ctx, tenantID, nil, nil, &req.UserID); err != nil {
		return transport.TicketResponse{}, err
	}
	before := ToResponse(current)
	if err := s.repo.Update(ctx, tenantID, id, repository.UpdateParams{AssignedToUserID: &req.UserID}); err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	t, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	resp := ToResponse(t)
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionUpdated, resp, &before)
	s.publishAssigned(ctx, t, viewer.UserID())
	return resp, nil
}

func (s *Service) Close(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.CloseTicketRequest) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	if current.Status == transport.StatusClosed {
		return transport.TicketResponse{}, apperr.Conflict(msgClosed)
	}
	before := ToResponse(current)
	err = s.repo.Close(ctx, tenantID, id, repository.CloseParams{
		Resolution:          sanitize.TextPtr(req.Resolution),
		SatisfactionRating:  req.SatisfactionRating,
		SatisfactionComment: sanitize.TextPtr(req.SatisfactionComment),
		ClosedAt:            s.now().UTC(),
	})
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

// Escalate raises priority one level and pulls the due date in when the new target is sooner.
func (s *Service) Escalate(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	if current.Status == transport.StatusClosed {
		return transport.TicketResponse{}, apperr.Conflict(msgClosed)
	}
	before := ToResponse(current)

	params := repository.EscalateParams{
		Priority: RaisePriority(current.Priority),
		Status:   current.Status,
	}
	if current.Status == transport.StatusNew {
		params.Status = transport.StatusOpen
	}
	due := s.now().UTC().Add(TargetFor(params.Priority).Resolution)
	if current.DueDate == nil || due.Before(*current.DueDate) {
		params.DueDate = &due
	}
	if err := s.repo.Escalate(ctx, tenantID, id, params); err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}

	resp, err := s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
	if err != nil {
		return resp, err
	}
	s.bus.Publish(ctx, events.TicketEscalated{
		BaseEvent:       events.NewBaseEvent(),
		TenantID:        tenantID,
		TicketID:        id,
		TicketNumber:    resp.TicketNumber,
		Subject:         resp.Subject,
		Priority:        resp.Priority,
		EscalationCount: resp.EscalationCount,
		AssigneeID:      resp.AssignedToUserID,
		ActorID:         viewer.UserID(),
	})
	return resp, nil
}

func (s *Service) PauseSLA(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.PauseSLARequest) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	if current.SLAPausedAt != nil {
		return transport.TicketResponse{}, apperr.Conflict(msgAlreadyPaused)
	}
	before := ToResponse(current)
	if err := s.repo.PauseSLA(ctx, tenantID, id, sanitize.Text(req.Reason), s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrPauseState) {
			return transport.TicketResponse{}, apperr.Conflict(msgAlreadyPaused)
		}
		return transport.TicketResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) ResumeSLA(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.TicketResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	if current.SLAPausedAt == nil {
		return transport.TicketResponse{}, apperr.Conflict(msgNotPaused)
	}
	before := ToResponse(current)
	if _, err := s.repo.ResumeSLA(ctx, tenantID, id, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrPauseState) {
			return transport.TicketResponse{}, apperr.Conflict(msgNotPaused)
		}
		return transport.TicketResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

// CheckSLABreaches flags overdue tickets and announces each one. It returns how many were flagged.
func (s *Service) CheckSLABreaches(ctx context.Context) (int, error) {
	breaches, err := s.repo.MarkBreached(ctx, s.now().UTC(), BreachBatch)
	if err != nil {
		return 0, err
	}
	for _, b := range breaches {
		s.bus.Publish(ctx, events.TicketSLABreached{
			BaseEvent:     events.NewBaseEvent(),
			TenantID:      b.TenantID,
			TicketID:      b.TicketID,
			TicketNumber:  b.TicketNumber,
			Subject:       b.Subject,
			Priority:      b.Priority,
			DueDate:       b.DueDate,
			AssigneeID:    b.AssigneeID,
			AssigneeEmail: b.AssigneeEmail,
		})
	}
	return len(breaches), nil
}

func (s *Service) reloadAndPublish(ctx context.Context, tenantID, actorID, id uuid.UUID, before *transport.TicketResponse) (transport.TicketResponse, error) {
	t, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.TicketResponse{}, mapErr(err)
	}
	after := ToResponse(t)
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, after, before)
	return after, nil
}

func (s *Service) publishAssigned(ctx context.Context, t repository.Ticket, actorID uuid.UUID) {
	s.bus.Publish(ctx, events.TicketAssigned{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     t.TenantID,
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		Subject:      t.Subject,
		AssigneeID:   *t.AssignedToUserID,
		ActorID:      actorID,
	})
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, t transport.TicketResponse, before *transport.TicketResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityTicket,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(t),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func (s *Service) checkRefs(ctx context.Context, tenantID uuid.UUID, customerID, contactID, assignee *uuid.UUID) error {
	if customerID != nil {
		ok, err := s.customers.Exists(ctx, tenantID, *customerID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation(msgCustomerNotFound)
		}
	}
	if contactID != nil {
		ok, err := s.contacts.Exists(ctx, tenantID, *contactID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation(msgContactNotFound)
		}
	}
	if assignee != nil {
		ok, err := s.users.IsActive(ctx, tenantID, *assignee)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation(msgInvalidAssignee)
		}
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgNotFound)
	case errors.Is(err, repository.ErrAlreadyClosed):
		return apperr.Conflict(msgClosed)
	}
	return err
}

func ToResponse(t repository.Ticket) transport.TicketResponse {
	return transport.TicketResponse{
		ID:                  t.ID,
		TicketNumber:        t.TicketNumber,
		Subject:             t.Subject,
		Description:         t.Description,
		CustomerID:          t.CustomerID,
		CustomerName:        t.CustomerName,
		ContactID:           t.ContactID,
		Status:              t.Status,
		Priority:            t.Priority,
		Type:                t.Type,
		Channel:             t.Channel,
		Category:            t.Category,
		SubCategory:         t.SubCategory,
		Tags:                t.Tags,
		Resolution:          t.Resolution,
		AssignedToUserID:    t.AssignedToUserID,
		DueDate:             t.DueDate,
		FirstResponseDate:   t.FirstResponseDate,
		ResolvedDate:        t.ResolvedDate,
		ClosedDate:          t.ClosedDate,
		SatisfactionRating:  t.SatisfactionRating,
		SatisfactionComment: t.SatisfactionComment,
		SLABreached:         t.SLABreached,
		SLAPausedAt:         t.SLAPausedAt,
		SLAPauseReason:      t.SLAPauseReason,
		SLAPausedMinutes:    t.SLAPausedMinutes,
		EscalationCount:     t.EscalationCount,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}
