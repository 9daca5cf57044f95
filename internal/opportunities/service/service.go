package service

import (
	"context"
	"errors"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/opportunities/repository"
	"crm_saas_backend/internal/opportunities/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgNotFound         = "opportunity not found"
	msgClosed           = "opportunity is closed"
	msgCustomerNotFound = "customer not found"
	msgContactNotFound  = "contact not found"
	msgInvalidAssignee  = "assigned user must be an active user of this tenant"
	msgInvalidDate      = "expectedCloseDate must be YYYY-MM-DD"
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Opportunity, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Opportunity, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
}

// EntityChecker reports whether a record exists in the tenant.
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

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListOpportunitiesRequest) (httpkit.Paged[transport.OpportunityResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:     page.Search,
		Stage:      req.Stage,
		CustomerID: req.CustomerID,
		Viewer:     viewer,
		SortBy:     page.SortBy,
		SortOrder:  page.SortOrder,
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.OpportunityResponse]{}, err
	}
	items := make([]transport.OpportunityResponse, len(rows))
	for i, o := range rows {
		items[i] = ToResponse(o)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.OpportunityResponse, error) {
	o, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	return ToResponse(o), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateOpportunityRequest) (transport.OpportunityResponse, error) {
	if err := s.checkRefs(ctx, tenantID, &req.CustomerID, req.ContactID, req.AssignedToUserID); err != nil {
		return transport.OpportunityResponse{}, err
	}
	closeDate, err := parseDate(req.ExpectedCloseDate)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}

	stage := transport.StageProspecting
	if req.Stage != nil {
		stage = *req.Stage
	}
	probability := DefaultProbability(stage)
	if req.Probability != nil {
		probability = *req.Probability
	}
	oppType := transport.TypeNewBusiness
	if req.Type != nil {
		oppType = *req.Type
	}
	assignee := req.AssignedToUserID
	if assignee == nil {
		assignee = &actorID
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:          tenantID,
		Name:              sanitize.Text(req.Name),
		CustomerID:        req.CustomerID,
		ContactID:         req.ContactID,
		Amount:            req.Amount,
		Probability:       probability,
		Stage:             stage,
		Type:              oppType,
		ExpectedCloseDate: closeDate,
		Description:       sanitize.TextPtr(req.Description),
		Competitors:       sanitize.TextPtr(req.Competitors),
		NextSteps:         sanitize.TextPtr(req.NextSteps),
		AssignedToUserID:  assignee,
		CreatedBy:         &actorID,
	})
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}

	o, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	resp := ToResponse(o)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	return resp, nil
}

// Update refuses stage changes on closed deals. A stage change without an explicit
// probability takes the stage default.
func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateOpportunityRequest) (transport.OpportunityResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	before := ToResponse(current)

	if err := s.checkRefs(ctx, tenantID, req.CustomerID, req.ContactID, req.AssignedToUserID); err != nil {
		return transport.OpportunityResponse{}, err
	}
	closeDate, err := parseDate(req.ExpectedCloseDate)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}

	params := repository.UpdateParams{
		Name:              sanitize.TextPtr(req.Name),
		CustomerID:        req.CustomerID,
		ContactID:         req.ContactID,
		Amount:            req.Amount,
		Probability:       req.Probability,
		Type:              req.Type,
		ExpectedCloseDate: closeDate,
		Description:       sanitize.TextPtr(req.Description),
		Competitors:       sanitize.TextPtr(req.Competitors),
		NextSteps:         sanitize.TextPtr(req.NextSteps),
		AssignedToUserID:  req.AssignedToUserID,
	}
	if req.Stage != nil && *req.Stage != current.Stage {
		if IsClosed(current.Stage) {
			return transport.OpportunityResponse{}, apperr.Conflict(msgClosed)
		}
		params.Stage = req.Stage
		if params.Probability == nil {
			p := DefaultProbability(*req.Stage)
			params.Probability = &p
		}
		if IsClosed(*req.Stage) {
			now := s.now().UTC()
			params.ActualCloseDate = &now
		}
	}

	if err := s.repo.Update(ctx, tenantID, id, params); err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	o, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(o), nil)
	return nil
}

// AdvanceStage moves the deal one stage forward.
func (s *Service) AdvanceStage(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.OpportunityResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	next, err := NextStage(current.Stage)
	if err != nil {
		return transport.OpportunityResponse{}, err
	}
	before := ToResponse(current)
	probability := DefaultProbability(next)
	if err := s.repo.Update(ctx, tenantID, id, repository.UpdateParams{Stage: &next, Probability: &probability}); err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) Win(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.OpportunityResponse, error) {
	resp, err := s.close(ctx, viewer, id, transport.StageClosedWon, nil)
	if err != nil {
		return resp, err
	}
	s.bus.Publish(ctx, events.OpportunityWon{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      viewer.TenantID(),
		OpportunityID: id,
		CustomerID:    resp.CustomerID,
		Name:          resp.Name,
		Amount:        resp.Amount,
		ActorID:       viewer.UserID(),
	})
	return resp, nil
}

func (s *Service) Lose(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.LoseRequest) (transport.OpportunityResponse, error) {
	reason := sanitize.Text(req.LossReason)
	if reason == "" {
		return transport.OpportunityResponse{}, apperr.Validation("lossReason is required")
	}
	resp, err := s.close(ctx, viewer, id, transport.StageClosedLost, &reason)
	if err != nil {
		return resp, err
	}
	s.bus.Publish(ctx, events.OpportunityLost{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      viewer.TenantID(),
		OpportunityID: id,
		Name:          resp.Name,
		LossReason:    reason,
		ActorID:       viewer.UserID(),
	})
	return resp, nil
}

func (s *Service) close(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, stage string, lossReason *string) (transport.OpportunityResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	if IsClosed(current.Stage) {
		return transport.OpportunityResponse{}, apperr.Conflict(msgClosed)
	}
	before := ToResponse(current)
	probability := DefaultProbability(stage)
	now := s.now().UTC()
	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		Stage:           &stage,
		Probability:     &probability,
		ActualCloseDate: &now,
		LossReason:      lossReason,
	})
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, viewer.UserID(), id, &before)
}

func (s *Service) reloadAndPublish(ctx context.Context, tenantID, actorID, id uuid.UUID, before *transport.OpportunityResponse) (transport.OpportunityResponse, error) {
	o, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.OpportunityResponse{}, mapErr(err)
	}
	after := ToResponse(o)
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, after, before)
	return after, nil
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

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, o transport.OpportunityResponse, before *transport.OpportunityResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityOpportunity,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(o),
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
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgNotFound)
	}
	return err
}

func ToResponse(o repository.Opportunity) transport.OpportunityResponse {
	var closeDate *string
	if o.ExpectedCloseDate != nil {
		v := o.ExpectedCloseDate.Format(transport.DateLayout)
		closeDate = &v
	}
	return transport.OpportunityResponse{
		ID:                o.ID,
		Name:              o.Name,
		CustomerID:        o.CustomerID,
		CustomerName:      o.CustomerName,
		ContactID:         o.ContactID,
		ContactName:       o.ContactName,
		Amount:            o.Amount,
		Probability:       o.Probability,
		WeightedAmount:    Weighted(o.Amount, o.Probability),
		Stage:             o.Stage,
		Type:              o.Type,
		ExpectedCloseDate: closeDate,
		ActualCloseDate:   o.ActualCloseDate,
		Description:       o.Description,
		Competitors:       o.Competitors,
		NextSteps:         o.NextSteps,
		LossReason:        o.LossReason,
		AssignedToUserID:  o.AssignedToUserID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
