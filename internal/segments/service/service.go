package service

import (
	"context"
	"errors"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rules"
	"crm_saas_backend/internal/segments/repository"
	"crm_saas_backend/internal/segments/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const msgNotFound = "segment not found"

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Segment, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.Segment, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	Candidates(ctx context.Context, tenantID uuid.UUID) ([]repository.Candidate, error)
}

// Recipient is a contact matched by a segment, with its fields for template rendering.
type Recipient struct {
	ContactID uuid.UUID
	FirstName string
	LastName  string
	Email     string
}

type Service struct {
	repo Repository
	bus  events.Bus
	log  *logger.Logger
}

func New(repo Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams) (httpkit.Paged[transport.SegmentResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, tenantID, repository.ListParams{
		Search:    page.Search,
		SortBy:    page.SortBy,
		SortOrder: page.SortOrder,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.SegmentResponse]{}, err
	}
	items := make([]transport.SegmentResponse, len(rows))
	for i, seg := range rows {
		items[i] = ToResponse(seg)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (transport.SegmentResponse, error) {
	seg, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.SegmentResponse{}, mapErr(err)
	}
	return ToResponse(seg), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateSegmentRequest) (transport.SegmentResponse, error) {
	if err := rules.ValidateAll(req.Criteria); err != nil {
		return transport.SegmentResponse{}, apperr.Validation(err.Error())
	}
	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:    tenantID,
		Name:        sanitize.Text(req.Name),
		Description: sanitize.TextPtr(req.Description),
		Criteria:    req.Criteria,
		CreatedBy:   &actorID,
	})
	if err != nil {
		return transport.SegmentResponse{}, err
	}
	seg, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.SegmentResponse{}, mapErr(err)
	}
	resp := ToResponse(seg)
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, resp, nil)
	return resp, nil
}

func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateSegmentRequest) (transport.SegmentResponse, error) {
	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.SegmentResponse{}, mapErr(err)
	}
	if req.Criteria != nil {
		if err := rules.ValidateAll(*req.Criteria); err != nil {
			return transport.SegmentResponse{}, apperr.Validation(err.Error())
		}
	}
	before := ToResponse(current)
	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		Name:        sanitize.TextPtr(req.Name),
		Description: sanitize.TextPtr(req.Description),
		Criteria:    req.Criteria,
	})
	if err != nil {
		return transport.SegmentResponse{}, mapErr(err)
	}
	seg, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.SegmentResponse{}, mapErr(err)
	}
	resp := ToResponse(seg)
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, resp, &before)
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	seg, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionDeleted, ToResponse(seg), nil)
	return nil
}

// Contacts previews one page of the segment's audience.
func (s *Service) Contacts(ctx context.Context, tenantID, id uuid.UUID, page httpkit.PageParams) (httpkit.Paged[transport.SegmentContact], error) {
	page = page.Normalize()
	audience, err := s.Audience(ctx, tenantID, id)
	if err != nil {
		return httpkit.Paged[transport.SegmentContact]{}, err
	}
	start := min(page.Offset(), len(audience))
	end := min(start+page.Limit(), len(audience))
	items := make([]transport.SegmentContact, 0, end-start)
	for _, r := range audience[start:end] {
		items = append(items, transport.SegmentContact{ID: r.ContactID, FirstName: r.FirstName, LastName: r.LastName, Email: r.Email})
	}
	return httpkit.NewPaged(items, len(audience), page), nil
}

// Audience evaluates the segment criteria over the tenant's Active contacts that have an email.
func (s *Service) Audience(ctx context.Context, tenantID, id uuid.UUID) ([]Recipient, error) {
	seg, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, mapErr(err)
	}
	candidates, err := s.repo.Candidates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(candidates))
	for _, c := range candidates {
		record, err := rules.RecordFromJSON(c.Data)
		if err != nil {
			s.log.Warn("segment candidate skipped", "contact_id", c.ID, "error", err)
			continue
		}
		if !rules.Match(seg.Criteria, record) {
			continue
		}
		out = append(out, Recipient{ContactID: c.ID, FirstName: c.FirstName, LastName: c.LastName, Email: c.Email})
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, seg transport.SegmentResponse, before *transport.SegmentResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntitySegment,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(seg),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func mapErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgNotFound)
	}
	return err
}

func ToResponse(seg repository.Segment) transport.SegmentResponse {
	criteria := seg.Criteria
	if criteria == nil {
		criteria = []rules.Condition{}
	}
	return transport.SegmentResponse{
		ID:          seg.ID,
		Name:        seg.Name,
		Description: seg.Description,
		Criteria:    criteria,
		CreatedAt:   seg.CreatedAt,
		UpdatedAt:   seg.UpdatedAt,
	}
}
