package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm_saas_backend/internal/contacts/repository"
	"crm_saas_backend/internal/contacts/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/phone"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgContactNotFound  = "contact not found"
	msgCustomerNotFound = "customer not found"
	msgInvalidOwner     = "owner must be an active user of this tenant"
)

// TimelineLimit caps the entries returned by Timeline.
const TimelineLimit = 100

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Contact, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Contact, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	Timeline(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]repository.TimelineEntry, error)
	HealthInputs(ctx context.Context, tenantID, id uuid.UUID, since time.Time) (repository.HealthInputs, error)
}

type UserChecker interface {
	IsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type Service struct {
	repo   Repository
	users  UserChecker
	bus    events.Bus
	log    *logger.Logger
	region string
	now    func() time.Time
}

func New(repo Repository, users UserChecker, bus events.Bus, log *logger.Logger, region string) *Service {
	return &Service{repo: repo, users: users, bus: bus, log: log, region: region, now: time.Now}
}

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListContactsRequest) (httpkit.Paged[transport.ContactResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:     page.Search,
		Status:     req.Status,
		CustomerID: req.CustomerID,
		Viewer:     viewer,
		SortBy:     page.SortBy,
		SortOrder:  page.SortOrder,
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.ContactResponse]{}, err
	}
	items := make([]transport.ContactResponse, len(rows))
	for i, c := range rows {
		items[i] = ToResponse(c)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.ContactResponse, error) {
	c, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}
	return ToResponse(c), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateContactRequest) (transport.ContactResponse, error) {
	if err := s.checkOwner(ctx, tenantID, req.OwnerUserID); err != nil {
		return transport.ContactResponse{}, err
	}
	status := transport.StatusActive
	if req.Status != nil {
		status = *req.Status
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:     tenantID,
		CustomerID:   req.CustomerID,
		FirstName:    sanitize.Text(req.FirstName),
		LastName:     sanitize.Text(req.LastName),
		Email:        lowerPtr(req.Email),
		Phone:        phone.NormalizePtr(req.Phone, s.region),
		Mobile:       phone.NormalizePtr(req.Mobile, s.region),
		JobTitle:     sanitize.TextPtr(req.JobTitle),
		Department:   sanitize.TextPtr(req.Department),
		IsPrimary:    req.IsPrimary && req.CustomerID != nil,
		Status:       status,
		AddressLine1: sanitize.TextPtr(req.AddressLine1),
		AddressLine2: sanitize.TextPtr(req.AddressLine2),
		City:         sanitize.TextPtr(req.City),
		State:        sanitize.TextPtr(req.State),
		PostalCode:   sanitize.TextPtr(req.PostalCode),
		Country:      sanitize.TextPtr(req.Country),
		LinkedInURL:  req.LinkedInURL,
		Notes:        sanitize.TextPtr(req.Notes),
		OwnerUserID:  ownerOrActor(req.OwnerUserID, actorID),
		CreatedBy:    &actorID,
	})
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}

	c, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}
	resp := ToResponse(c)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	return resp, nil
}

func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateContactRequest) (transport.ContactResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}
	before := ToResponse(current)

	if err := s.checkOwner(ctx, tenantID, req.OwnerUserID); err != nil {
		return transport.ContactResponse{}, err
	}

	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		CustomerID:   req.CustomerID,
		FirstName:    sanitize.TextPtr(req.FirstName),
		LastName:     sanitize.TextPtr(req.LastName),
		Email:        lowerPtr(req.Email),
		Phone:        phone.NormalizePtr(req.Phone, s.region),
		Mobile:       phone.NormalizePtr(req.Mobile, s.region),
		JobTitle:     sanitize.TextPtr(req.JobTitle),
		Department:   sanitize.TextPtr(req.Department),
		IsPrimary:    req.IsPrimary,
		Status:       req.Status,
		AddressLine1: sanitize.TextPtr(req.AddressLine1),
		AddressLine2: sanitize.TextPtr(req.AddressLine2),
		City:         sanitize.TextPtr(req.City),
		State:        sanitize.TextPtr(req.State),
		PostalCode:   sanitize.TextPtr(req.PostalCode),
		Country:      sanitize.TextPtr(req.Country),
		LinkedInURL:  req.LinkedInURL,
		Notes:        sanitize.TextPtr(req.Notes),
		OwnerUserID:  req.OwnerUserID,
	})
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}

	c, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.ContactResponse{}, mapErr(err)
	}
	after := ToResponse(c)
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionUpdated, after, &before)
	return after, nil
}

func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	c, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(c), nil)
	return nil
}

// Timeline lists linked activities, tickets and opportunities, newest first.
func (s *Service) Timeline(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) ([]transport.TimelineEntry, error) {
	if _, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer); err != nil {
		return nil, mapErr(err)
	}
	rows, err := s.repo.Timeline(ctx, viewer.TenantID(), id, TimelineLimit)
	if err != nil {
		return nil, err
	}
	out := make([]transport.TimelineEntry, len(rows))
	for i, e := range rows {
		out[i] = transport.TimelineEntry(e)
	}
	return out, nil
}

func (s *Service) HealthScore(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.HealthScoreResponse, error) {
	if _, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer); err != nil {
		return transport.HealthScoreResponse{}, mapErr(err)
	}
	now := s.now()
	in, err := s.repo.HealthInputs(ctx, viewer.TenantID(), id, now.Add(-HealthWindow))
	if err != nil {
		return transport.HealthScoreResponse{}, mapErr(err)
	}
	score, grade, components := HealthScore(in, now)
	return transport.HealthScoreResponse{
		ContactID:      id,
		Score:          score,
		Grade:          grade,
		Components:     components,
		LastActivityAt: in.LastActivityAt,
	}, nil
}

func (s *Service) checkOwner(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID) error {
	if userID == nil {
		return nil
	}
	ok, err := s.users.IsActive(ctx, tenantID, *userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation(msgInvalidOwner)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, c transport.ContactResponse, before *transport.ContactResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityContact,
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

func ownerOrActor(owner *uuid.UUID, actorID uuid.UUID) *uuid.UUID {
	if owner != nil {
		return owner
	}
	return &actorID
}

func lowerPtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.ToLower(strings.TrimSpace(*v))
	return &out
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgContactNotFound)
	case errors.Is(err, repository.ErrCustomerNotFound):
		return apperr.Validation(msgCustomerNotFound)
	}
	return err
}

func ToResponse(c repository.Contact) transport.ContactResponse {
	return transport.ContactResponse{
		ID:           c.ID,
		CustomerID:   c.CustomerID,
		CustomerName: c.CustomerName,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		FullName:     strings.TrimSpace(c.FirstName + " " + c.LastName),
		Email:        c.Email,
		Phone:        c.Phone,
		Mobile:       c.Mobile,
		JobTitle:     c.JobTitle,
		Department:   c.Department,
		IsPrimary:    c.IsPrimary,
		Status:       c.Status,
		AddressLine1: c.AddressLine1,
		AddressLine2: c.AddressLine2,
		City:         c.City,
		State:        c.State,
		PostalCode:   c.PostalCode,
		Country:      c.Country,
		LinkedInURL:  c.LinkedInURL,
		Notes:        c.Notes,
		OwnerUserID:  c.OwnerUserID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
