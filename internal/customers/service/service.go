package service

import (
	"context"
	"errors"
	"time"

	"crm_saas_backend/internal/customers/repository"
	"crm_saas_backend/internal/customers/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/phone"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgCustomerNotFound = "customer not found"
	msgCodeExists       = "customer code already exists"
	msgOpenDeals        = "customer has open opportunities"
	msgInvalidAssignee  = "assigned user must be an active user of this tenant"
	msgInvalidDate      = "dateOfBirth must be YYYY-MM-DD"
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Customer, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Customer, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	OpenOpportunities(ctx context.Context, tenantID, id uuid.UUID) (int, error)
	Contacts(ctx context.Context, tenantID, customerID uuid.UUID) ([]repository.ContactRef, error)
}

// UserChecker validates assignees.
type UserChecker interface {
	IsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

type Service struct {
	repo   Repository
	users  UserChecker
	bus    events.Bus
	log    *logger.Logger
	region string
}

func New(repo Repository, users UserChecker, bus events.Bus, log *logger.Logger, region string) *Service {
	return &Service{repo: repo, users: users, bus: bus, log: log, region: region}
}

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListCustomersRequest) (httpkit.Paged[transport.CustomerResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:    page.Search,
		Status:    req.Status,
		Type:      req.Type,
		Viewer:    viewer,
		SortBy:    page.SortBy,
		SortOrder: page.SortOrder,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.CustomerResponse]{}, err
	}
	items := make([]transport.CustomerResponse, len(rows))
	for i, c := range rows {
		items[i] = ToResponse(c)
	}
	return httpkit.NewPaged(items, total, page), nil
}

// Get returns the customer with its contacts.
func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.CustomerResponse, error) {
	c, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}
	contacts, err := s.repo.Contacts(ctx, viewer.TenantID(), id)
	if err != nil {
		return transport.CustomerResponse{}, err
	}
	resp := ToResponse(c)
	resp.Contacts = make([]transport.ContactRef, len(contacts))
	for i, ct := range contacts {
		resp.Contacts[i] = transport.ContactRef(ct)
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateCustomerRequest) (transport.CustomerResponse, error) {
	if err := s.checkAssignee(ctx, tenantID, req.AssignedToUserID); err != nil {
		return transport.CustomerResponse{}, err
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		return transport.CustomerResponse{}, err
	}

	customerType := transport.TypeIndividual
	if req.Type != nil {
		customerType = *req.Type
	} else if req.CompanyName != nil && *req.CompanyName != "" {
		customerType = transport.TypeBusiness
	}
	status := transport.StatusProspect
	if req.Status != nil {
		status = *req.Status
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:         tenantID,
		CustomerCode:     sanitize.TextPtr(req.CustomerCode),
		Name:             sanitize.Text(req.Name),
		Type:             customerType,
		Email:            req.Email,
		Phone:            phone.NormalizePtr(req.Phone, s.region),
		Mobile:           phone.NormalizePtr(req.Mobile, s.region),
		Website:          req.Website,
		FirstName:        sanitize.TextPtr(req.FirstName),
		LastName:         sanitize.TextPtr(req.LastName),
		Title:            sanitize.TextPtr(req.Title),
		DateOfBirth:      dob,
		CompanyName:      sanitize.TextPtr(req.CompanyName),
		TaxID:            sanitize.TextPtr(req.TaxID),
		Industry:         sanitize.TextPtr(req.Industry),
		EmployeeCount:    req.EmployeeCount,
		AnnualRevenue:    req.AnnualRevenue,
		AddressLine1:     sanitize.TextPtr(req.AddressLine1),
		AddressLine2:     sanitize.TextPtr(req.AddressLine2),
		City:             sanitize.TextPtr(req.City),
		State:            sanitize.TextPtr(req.State),
		PostalCode:       sanitize.TextPtr(req.PostalCode),
		Country:          sanitize.TextPtr(req.Country),
		Status:           status,
		Source:           req.Source,
		SourceDetail:     sanitize.TextPtr(req.SourceDetail),
		Notes:            sanitize.TextPtr(req.Notes),
		AssignedToUserID: req.AssignedToUserID,
		CreatedBy:        &actorID,
	})
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}

	c, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}
	resp := ToResponse(c)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	return resp, nil
}

func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateCustomerRequest) (transport.CustomerResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}
	before := ToResponse(current)

	if err := s.checkAssignee(ctx, tenantID, req.AssignedToUserID); err != nil {
		return transport.CustomerResponse{}, err
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		return transport.CustomerResponse{}, err
	}

	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		CustomerCode:     sanitize.TextPtr(req.CustomerCode),
		Name:             sanitize.TextPtr(req.Name),
		Type:             req.Type,
		Email:            req.Email,
		Phone:            phone.NormalizePtr(req.Phone, s.region),
		Mobile:           phone.NormalizePtr(req.Mobile, s.region),
		Website:          req.Website,
		FirstName:        sanitize.TextPtr(req.FirstName),
		LastName:         sanitize.TextPtr(req.LastName),
		Title:            sanitize.TextPtr(req.Title),
		DateOfBirth:      dob,
		CompanyName:      sanitize.TextPtr(req.CompanyName),
		TaxID:            sanitize.TextPtr(req.TaxID),
		Industry:         sanitize.TextPtr(req.Industry),
		EmployeeCount:    req.EmployeeCount,
		AnnualRevenue:    req.AnnualRevenue,
		AddressLine1:     sanitize.TextPtr(req.AddressLine1),
		AddressLine2:     sanitize.TextPtr(req.AddressLine2),
		City:             sanitize.TextPtr(req.City),
		State:            sanitize.TextPtr(req.State),
		PostalCode:       sanitize.TextPtr(req.PostalCode),
		Country:          sanitize.TextPtr(req.Country),
		Status:           req.Status,
		Source:           req.Source,
		SourceDetail:     sanitize.TextPtr(req.SourceDetail),
		Notes:            sanitize.TextPtr(req.Notes),
		AssignedToUserID: req.AssignedToUserID,
	})
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}

	c, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.CustomerResponse{}, mapErr(err)
	}
	after := ToResponse(c)
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionUpdated, after, &before)
	return after, nil
}

// Delete refuses while the customer still has open opportunities.
func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	c, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	open, err := s.repo.OpenOpportunities(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if open > 0 {
		return apperr.Conflict(msgOpenDeals).WithDetails(map[string]int{"openOpportunities": open})
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(c), nil)
	return nil
}

func (s *Service) checkAssignee(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID) error {
	if userID == nil {
		return nil
	}
	ok, err := s.users.IsActive(ctx, tenantID, *userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation(msgInvalidAssignee)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, c transport.CustomerResponse, before *transport.CustomerResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityCustomer,
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

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(transport.DateLayout, *raw)
	if err != nil {
		return nil, apperr.Validation(msgInvalidDate)
	}
	return &t, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgCustomerNotFound)
	case errors.Is(err, repository.ErrDuplicateCode):
		return apperr.Conflict(msgCodeExists)
	}
	return err
}

// ToResponse maps a stored customer to its API shape.
func ToResponse(c repository.Customer) transport.CustomerResponse {
	var dob *string
	if c.DateOfBirth != nil {
		v := c.DateOfBirth.Format(transport.DateLayout)
		dob = &v
	}
	return transport.CustomerResponse{
		ID:               c.ID,
		CustomerCode:     c.CustomerCode,
		Name:             c.Name,
		Type:             c.Type,
		Email:            c.Email,
		Phone:            c.Phone,
		Mobile:           c.Mobile,
		Website:          c.Website,
		FirstName:        c.FirstName,
		LastName:         c.LastName,
		Title:            c.Title,
		DateOfBirth:      dob,
		CompanyName:      c.CompanyName,
		TaxID:            c.TaxID,
		Industry:         c.Industry,
		EmployeeCount:    c.EmployeeCount,
		AnnualRevenue:    c.AnnualRevenue,
		AddressLine1:     c.AddressLine1,
		AddressLine2:     c.AddressLine2,
		City:             c.City,
		State:            c.State,
		PostalCode:       c.PostalCode,
		Country:          c.Country,
		Status:           c.Status,
		Source:           c.Source,
		SourceDetail:     c.SourceDetail,
		LifetimeValue:    c.LifetimeValue,
		Notes:            c.Notes,
		AssignedToUserID: c.AssignedToUserID,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}
