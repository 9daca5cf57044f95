package service

import (
	"context"
	"errors"
	"strings"

	customersrepo "crm_saas_backend/internal/customers/repository"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/leads/repository"
	"crm_saas_backend/internal/leads/scoring"
	"crm_saas_backend/internal/leads/transport"
	oppsrepo "crm_saas_backend/internal/opportunities/repository"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/phone"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgLeadNotFound     = "lead not found"
	msgAlreadyConverted = "lead already converted"
	msgNotConvertible   = "lost or unqualified leads cannot be converted"
	msgInvalidAssignee  = "assigned user must be an active user of this tenant"
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Lead, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (repository.Lead, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	Assign(ctx context.Context, tenantID, id, userID uuid.UUID) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	Convert(ctx context.Context, p repository.ConvertParams) (repository.ConvertResult, error)
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
}

func New(repo Repository, users UserChecker, bus events.Bus, log *logger.Logger, region string) *Service {
	return &Service{repo: repo, users: users, bus: bus, log: log, region: region}
}

func (s *Service) List(ctx context.Context, viewer httpkit.Identity, page httpkit.PageParams, req transport.ListLeadsRequest) (httpkit.Paged[transport.LeadResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, viewer.TenantID(), repository.ListParams{
		Search:           page.Search,
		Status:           req.Status,
		Source:           req.Source,
		Rating:           req.Rating,
		AssignedToUserID: req.AssignedToUserID,
		Viewer:           viewer,
		SortBy:           page.SortBy,
		SortOrder:        page.SortOrder,
		Limit:            page.Limit(),
		Offset:           page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.LeadResponse]{}, err
	}
	items := make([]transport.LeadResponse, len(rows))
	for i, l := range rows {
		items[i] = ToResponse(l)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) (transport.LeadResponse, error) {
	l, err := s.repo.Get(ctx, viewer.TenantID(), id, viewer)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	return ToResponse(l), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	if err := s.checkAssignee(ctx, tenantID, req.AssignedToUserID); err != nil {
		return transport.LeadResponse{}, err
	}

	p := repository.CreateParams{
		TenantID:         tenantID,
		Title:            sanitize.Text(req.Title),
		FirstName:        sanitize.TextPtr(req.FirstName),
		LastName:         sanitize.TextPtr(req.LastName),
		Email:            lowerPtr(req.Email),
		Phone:            phone.NormalizePtr(req.Phone, s.region),
		Mobile:           phone.NormalizePtr(req.Mobile, s.region),
		CompanyName:      sanitize.TextPtr(req.CompanyName),
		JobTitle:         sanitize.TextPtr(req.JobTitle),
		Industry:         sanitize.TextPtr(req.Industry),
		EmployeeCount:    req.EmployeeCount,
		AddressLine1:     sanitize.TextPtr(req.AddressLine1),
		City:             sanitize.TextPtr(req.City),
		State:            sanitize.TextPtr(req.State),
		Country:          sanitize.TextPtr(req.Country),
		Status:           valueOr(req.Status, transport.StatusNew),
		Source:           req.Source,
		SourceDetail:     sanitize.TextPtr(req.SourceDetail),
		Rating:           valueOr(req.Rating, transport.RatingCold),
		EstimatedValue:   req.EstimatedValue,
		Description:      sanitize.TextPtr(req.Description),
		AssignedToUserID: req.AssignedToUserID,
		CreatedBy:        &actorID,
	}
	p.Score = scoring.Score(profileOf(repository.Lead{
		Email: p.Email, Phone: p.Phone, Mobile: p.Mobile, CompanyName: p.CompanyName, JobTitle: p.JobTitle,
		Industry: p.Industry, EmployeeCount: p.EmployeeCount, EstimatedValue: p.EstimatedValue,
		Source: p.Source, Rating: p.Rating,
	})).Score

	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	l, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	resp := ToResponse(l)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	if l.AssignedToUserID != nil {
		s.publishAssigned(ctx, l, actorID)
	}
	return resp, nil
}

// Update rescoring runs over the merged profile unless the request sets score.
func (s *Service) Update(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	if current.Status == transport.StatusConverted {
		return transport.LeadResponse{}, apperr.Conflict(msgAlreadyConverted)
	}
	before := ToResponse(current)

	p := repository.UpdateParams{
		Title:          sanitize.TextPtr(req.Title),
		FirstName:      sanitize.TextPtr(req.FirstName),
		LastName:       sanitize.TextPtr(req.LastName),
		Email:          lowerPtr(req.Email),
		Phone:          phone.NormalizePtr(req.Phone, s.region),
		Mobile:         phone.NormalizePtr(req.Mobile, s.region),
		CompanyName:    sanitize.TextPtr(req.CompanyName),
		JobTitle:       sanitize.TextPtr(req.JobTitle),
		Industry:       sanitize.TextPtr(req.Industry),
		EmployeeCount:  req.EmployeeCount,
		AddressLine1:   sanitize.TextPtr(req.AddressLine1),
		City:           sanitize.TextPtr(req.City),
		State:          sanitize.TextPtr(req.State),
		Country:        sanitize.TextPtr(req.Country),
		Status:         req.Status,
		Source:         req.Source,
		SourceDetail:   sanitize.TextPtr(req.SourceDetail),
		Rating:         req.Rating,
		Score:          req.Score,
		EstimatedValue: req.EstimatedValue,
		Description:    sanitize.TextPtr(req.Description),
	}
	if p.Score == nil {
		score := scoring.Score(profileOf(merge(current, p))).Score
		p.Score = &score
	}

	if err := s.repo.Update(ctx, tenantID, id, p); err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	l, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	after := ToResponse(l)
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionUpdated, after, &before)
	return after, nil
}

func (s *Service) Delete(ctx context.Context, viewer httpkit.Identity, id uuid.UUID) error {
	tenantID := viewer.TenantID()
	l, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionDeleted, ToResponse(l), nil)
	return nil
}

func (s *Service) Assign(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.AssignLeadRequest) (transport.LeadResponse, error) {
	tenantID := viewer.TenantID()
	current, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	if err := s.checkAssignee(ctx, tenantID, &req.UserID); err != nil {
		return transport.LeadResponse{}, err
	}
	before := ToResponse(current)

	if err := s.repo.Assign(ctx, tenantID, id, req.UserID); err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	l, err := s.repo.Get(ctx, tenantID, id, nil)
	if err != nil {
		return transport.LeadResponse{}, mapErr(err)
	}
	after := ToResponse(l)
	s.publish(ctx, tenantID, viewer.UserID(), id, events.ActionUpdated, after, &before)
	s.publishAssigned(ctx, l, viewer.UserID())
	return after, nil
}

// Convert turns the lead into a customer and optionally an opportunity.
func (s *Service) Convert(ctx context.Context, viewer httpkit.Identity, id uuid.UUID, req transport.ConvertLeadRequest) (transport.ConvertLeadResponse, error) {
	tenantID := viewer.TenantID()
	actorID := viewer.UserID()
	l, err := s.repo.Get(ctx, tenantID, id, viewer)
	if err != nil {
		return transport.ConvertLeadResponse{}, mapErr(err)
	}
	switch l.Status {
	case transport.StatusConverted:
		return transport.ConvertLeadResponse{}, apperr.Conflict(msgAlreadyConverted)
	case transport.StatusLost, transport.StatusUnqualified:
		return transport.ConvertLeadResponse{}, apperr.BadRequest(msgNotConvertible)
	}

	params := repository.ConvertParams{
		TenantID: tenantID,
		LeadID:   id,
		Customer: customerFromLead(l, req, actorID),
	}
	if req.CreateOpportunity {
		params.Opportunity = opportunityFromLead(l, req, actorID)
	}

	result, err := s.repo.Convert(ctx, params)
	if err != nil {
		return transport.ConvertLeadResponse{}, mapErr(err)
	}

	s.bus.Publish(ctx, events.LeadConverted{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      tenantID,
		LeadID:        id,
		CustomerID:    result.CustomerID,
		OpportunityID: result.OpportunityID,
		ActorID:       actorID,
	})
	if converted, err := s.repo.Get(ctx, tenantID, id, nil); err == nil {
		before := ToResponse(l)
		s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, ToResponse(converted), &before)
	}
	return transport.ConvertLeadResponse{CustomerID: result.CustomerID, OpportunityID: result.OpportunityID}, nil
}

func customerFromLead(l repository.Lead, req transport.ConvertLeadRequest, actorID uuid.UUID) customersrepo.CreateParams {
	name := fullName(l)
	switch {
	case req.CustomerName != nil && strings.TrimSpace(*req.CustomerName) != "":
		name = sanitize.Text(*req.CustomerName)
	case l.CompanyName != nil && *l.CompanyName != "":
		name = *l.CompanyName
	case name == "":
		name = l.Title
	}
	customerType := "Individual"
	if l.CompanyName != nil && *l.CompanyName != "" {
		customerType = "Business"
	}
	return customersrepo.CreateParams{
		TenantID:         l.TenantID,
		Name:             name,
		Type:             customerType,
		Email:            l.Email,
		Phone:            l.Phone,
		Mobile:           l.Mobile,
		FirstName:        l.FirstName,
		LastName:         l.LastName,
		Title:            l.JobTitle,
		CompanyName:      l.CompanyName,
		Industry:         l.Industry,
		EmployeeCount:    l.EmployeeCount,
		AddressLine1:     l.AddressLine1,
		City:             l.City,
		State:            l.State,
		Country:          l.Country,
		Status:           "Active",
		Source:           customerSource(l.Source),
		SourceDetail:     l.SourceDetail,
		Notes:            l.Description,
		AssignedToUserID: l.AssignedToUserID,
		CreatedBy:        &actorID,
	}
}

func opportunityFromLead(l repository.Lead, req transport.ConvertLeadRequest, actorID uuid.UUID) *oppsrepo.CreateParams {
	name := l.Title
	if req.OpportunityName != nil && strings.TrimSpace(*req.OpportunityName) != "" {
		name = sanitize.Text(*req.OpportunityName)
	}
	amount := 0.0
	if l.EstimatedValue != nil {
		amount = *l.EstimatedValue
	}
	if req.OpportunityAmount != nil {
		amount = *req.OpportunityAmount
	}
	assignee := l.AssignedToUserID
	if assignee == nil {
		assignee = &actorID
	}
	return &oppsrepo.CreateParams{
		TenantID:         l.TenantID,
		Name:             name,
		Amount:           amount,
		Probability:      10,
		Stage:            "Prospecting",
		Type:             "NewBusiness",
		Description:      l.Description,
		AssignedToUserID: assignee,
		CreatedBy:        &actorID,
	}
}

// customerSource maps lead sources onto the narrower customer source list.
func customerSource(source *string) *string {
	if source == nil {
		return nil
	}
	out := "Other"
	switch *source {
	case "Website", "Referral", "SocialMedia", "TradeShow", "Partner", "Advertisement":
		out = *source
	}
	return &out
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

func (s *Service) publishAssigned(ctx context.Context, l repository.Lead, actorID uuid.UUID) {
	s.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   l.TenantID,
		LeadID:     l.ID,
		LeadTitle:  l.Title,
		AssigneeID: *l.AssignedToUserID,
		ActorID:    actorID,
	})
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, l transport.LeadResponse, before *transport.LeadResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityLead,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(l),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func profileOf(l repository.Lead) scoring.Profile {
	return scoring.Profile{
		HasEmail:       nonEmpty(l.Email),
		HasPhone:       nonEmpty(l.Phone) || nonEmpty(l.Mobile),
		HasCompany:     nonEmpty(l.CompanyName),
		HasJobTitle:    nonEmpty(l.JobTitle),
		HasIndustry:    nonEmpty(l.Industry),
		EmployeeCount:  l.EmployeeCount,
		EstimatedValue: l.EstimatedValue,
		Source:         l.Source,
		Rating:         l.Rating,
	}
}

// merge overlays the scoring-relevant fields of p on l.
func merge(l repository.Lead, p repository.UpdateParams) repository.Lead {
	pick := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	pick(&l.Email, p.Email)
	pick(&l.Phone, p.Phone)
	pick(&l.Mobile, p.Mobile)
	pick(&l.CompanyName, p.CompanyName)
	pick(&l.JobTitle, p.JobTitle)
	pick(&l.Industry, p.Industry)
	pick(&l.Source, p.Source)
	if p.EmployeeCount != nil {
		l.EmployeeCount = p.EmployeeCount
	}
	if p.EstimatedValue != nil {
		l.EstimatedValue = p.EstimatedValue
	}
	if p.Rating != nil {
		l.Rating = *p.Rating
	}
	return l
}

func nonEmpty(v *string) bool {
	return v != nil && strings.TrimSpace(*v) != ""
}

func valueOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

func lowerPtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.ToLower(strings.TrimSpace(*v))
	return &out
}

func fullName(l repository.Lead) string {
	var parts []string
	if nonEmpty(l.FirstName) {
		parts = append(parts, strings.TrimSpace(*l.FirstName))
	}
	if nonEmpty(l.LastName) {
		parts = append(parts, strings.TrimSpace(*l.LastName))
	}
	return strings.Join(parts, " ")
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgLeadNotFound)
	case errors.Is(err, repository.ErrAlreadyConverted):
		return apperr.Conflict(msgAlreadyConverted)
	}
	return err
}

func ToResponse(l repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:                    l.ID,
		Title:                 l.Title,
		FirstName:             l.FirstName,
		LastName:              l.LastName,
		FullName:              fullName(l),
		Email:                 l.Email,
		Phone:                 l.Phone,
		Mobile:                l.Mobile,
		CompanyName:           l.CompanyName,
		JobTitle:              l.JobTitle,
		Industry:              l.Industry,
		EmployeeCount:         l.EmployeeCount,
		AddressLine1:          l.AddressLine1,
		City:                  l.City,
		State:                 l.State,
		Country:               l.Country,
		Status:                l.Status,
		Source:                l.Source,
		SourceDetail:          l.SourceDetail,
		Rating:                l.Rating,
		Score:                 l.Score,
		EstimatedValue:        l.EstimatedValue,
		Description:           l.Description,
		AssignedToUserID:      l.AssignedToUserID,
		AssignedAt:            l.AssignedAt,
		ConvertedToCustomerID: l.ConvertedToCustomerID,
		ConvertedAt:           l.ConvertedAt,
		CreatedAt:             l.CreatedAt,
		UpdatedAt:             l.UpdatedAt,
	}
}
