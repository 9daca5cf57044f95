package service

import (
	"context"
	"errors"
	"time"

	"crm_saas_backend/internal/activities/repository"
	"crm_saas_backend/internal/activities/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgNotFound         = "activity not found"
	msgAlreadyCompleted = "activity is already completed"
	msgContactNotFound  = "contact not found"
	msgDealNotFound     = "deal not found"
	msgInvalidAssignee  = "assigned user must be an active user of this tenant"
	msgTimeOrder        = "endTime must not be before startTime"
)

const (
	// ReminderLead is how far ahead a due date triggers a reminder when reminderAt is unset.
	ReminderLead = 15 * time.Minute
	// ReminderBatch bounds one run of the reminder job.
	ReminderBatch = 500
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Activity, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Activity, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	Complete(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	ClaimReminders(ctx context.Context, now time.Time, window time.Duration, limit int) ([]repository.Reminder, error)
}

type EntityChecker interface {
	Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type UserChecker interface {
	IsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type Service struct {
	repo     Repository
	contacts EntityChecker
	deals    EntityChecker
	users    UserChecker
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

func New(repo Repository, contacts, deals EntityChecker, users UserChecker, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, contacts: contacts, deals: deals, users: users, bus: bus, log: log, now: time.Now}
}

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListActivitiesRequest) (httpkit.Paged[transport.ActivityResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:     page.Search,
		Type:       req.Type,
		Status:     req.Status,
		ContactID:  req.ContactID,
		DealID:     req.DealID,
		AssignedTo: req.AssignedTo,
		DueFrom:    req.DueFrom,
		DueTo:      req.DueTo,
		Viewer:     viewer,
		SortBy:     page.SortBy,
		SortOrder:  page.SortOrder,
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.ActivityResponse]{}, err
	}
	items := make([]transport.ActivityResponse, len(rows))
	for i, a := range rows {
		items[i] = ToResponse(a)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.ActivityResponse, error) {
	a, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	return ToResponse(a), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateActivityRequest) (transport.ActivityResponse, error) {
	if err := checkTimes(req.StartTime, req.EndTime); err != nil {
		return transport.ActivityResponse{}, err
	}
	if err := s.checkRefs(ctx, tenantID, req.ContactID, req.DealID, req.AssignedToUserID); err != nil {
		return transport.ActivityResponse{}, err
	}
	status := transport.StatusPlanned
	if req.Status != nil {
		status = *req.Status
	}
	priority := transport.PriorityMedium
	if req.Priority != nil {
		priority = *req.Priority
	}
	assignee := req.AssignedToUserID
	if assignee == nil {
		assignee = &actorID
	}
	var completedAt *time.Time
	if status == transport.StatusCompleted {
		now := s.now().UTC()
		completedAt = &now
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:         tenantID,
		Type:             req.Type,
		Status:           status,
		Priority:         priority,
		Subject:          sanitize.Text(req.Subject),
		Description:      sanitize.TextPtr(req.Description),
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		DueDate:          req.DueDate,
		ReminderAt:       req.ReminderAt,
		CompletedAt:      completedAt,
		ContactID:        req.ContactID,
		DealID:           req.DealID,
		RelatedToType:    req.RelatedToType,
		RelatedToID:      req.RelatedToID,
		AssignedToUserID: assignee,
		CreatedBy:        &actorID,
	})
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	a, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	resp := ToResponse(a)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	return resp, nil
}

// Update re-arms the reminder whenever reminderAt or dueDate moves.
func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateActivityRequest) (transport.ActivityResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	start, end := current.StartTime, current.EndTime
	if req.StartTime != nil {
		start = req.StartTime
	}
	if req.EndTime != nil {
		end = req.EndTime
	}
	if err := checkTimes(start, end); err != nil {
		return transport.ActivityResponse{}, err
	}
	if err := s.checkRefs(ctx, tenantID, req.ContactID, req.DealID, req.AssignedToUserID); err != nil {
		return transport.ActivityResponse{}, err
	}
	before := ToResponse(current)

	params := repository.UpdateParams{
		Type:             req.Type,
		Status:           req.Status,
		Priority:         req.Priority,
		Subject:          sanitize.TextPtr(req.Subject),
		Description:      sanitize.TextPtr(req.Description),
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		DueDate:          req.DueDate,
		ReminderAt:       req.ReminderAt,
		ContactID:        req.ContactID,
		DealID:           req.DealID,
		AssignedToUserID: req.AssignedToUserID,
		ResetReminder:    moved(current.ReminderAt, req.ReminderAt) || moved(current.DueDate, req.DueDate),
	}
	if req.Status != nil && *req.Status == transport.StatusCompleted && !current.IsCompleted {
		now := s.now().UTC()
		params.CompletedAt = &now
	}

	if err := s.repo.Update(ctx, tenantID, id, params); err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	a, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(a), nil)
	return nil
}

func (s *Service) Complete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.ActivityResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	if current.Status == transport.StatusCompleted {
		return transport.ActivityResponse{}, apperr.Conflict(msgAlreadyCompleted)
	}
	before := ToResponse(current)
	if err := s.repo.Complete(ctx, tenantID, id, s.now().UTC()); err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

// SendDueReminders claims due reminders and publishes one ActivityReminderDue per activity.
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	due, err := s.repo.ClaimReminders(ctx, s.now().UTC(), ReminderLead, ReminderBatch)
	if err != nil {
		return 0, err
	}
	for _, r := range due {
		var dueDate *string
		if r.DueDate != nil {
			v := r.DueDate.UTC().Format(time.RFC3339)
			dueDate = &v
		}
		s.bus.Publish(ctx, events.ActivityReminderDue{
			BaseEvent:     events.NewBaseEvent(),
			TenantID:      r.TenantID,
			ActivityID:    r.ActivityID,
			Subject:       r.Subject,
			ActivityType:  r.Type,
			DueDate:       dueDate,
			AssigneeID:    r.AssigneeID,
			AssigneeEmail: r.AssigneeEmail,
		})
	}
	return len(due), nil
}

func (s *Service) reloadAndPublish(ctx context.Context, tenantID, actorID, id uuid.UUID, before *transport.ActivityResponse) (transport.ActivityResponse, error) {
	a, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.ActivityResponse{}, mapErr(err)
	}
	after := ToResponse(a)
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, after, before)
	return after, nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, a transport.ActivityResponse, before *transport.ActivityResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityActivity,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(a),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func (s *Service) checkRefs(ctx context.Context, tenantID uuid.UUID, contactID, dealID, assignee *uuid.UUID) error {
	if contactID != nil {
		ok, err := s.contacts.Exists(ctx, tenantID, *contactID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation(msgContactNotFound)
		}
	}
	if dealID != nil {
		ok, err := s.deals.Exists(ctx, tenantID, *dealID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation(msgDealNotFound)
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

func checkTimes(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return apperr.Validation(msgTimeOrder)
	}
	return nil
}

func moved(current, next *time.Time) bool {
	if next == nil {
		return false
	}
	return current == nil || !current.Equal(*next)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgNotFound)
	case errors.Is(err, repository.ErrAlreadyCompleted):
		return apperr.Conflict(msgAlreadyCompleted)
	}
	return err
}

func ToResponse(a repository.Activity) transport.ActivityResponse {
	return transport.ActivityResponse{
		ID:               a.ID,
		Type:             a.Type,
		Status:           a.Status,
		Priority:         a.Priority,
		Subject:          a.Subject,
		Description:      a.Description,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		DueDate:          a.DueDate,
		ReminderAt:       a.ReminderAt,
		ReminderSent:     a.ReminderSent,
		IsCompleted:      a.IsCompleted,
		CompletedAt:      a.CompletedAt,
		ContactID:        a.ContactID,
		ContactName:      a.ContactName,
		DealID:           a.DealID,
		DealName:         a.DealName,
		RelatedToType:    a.RelatedToType,
		RelatedToID:      a.RelatedToID,
		AssignedToUserID: a.AssignedToUserID,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
