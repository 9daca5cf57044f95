package service

import (
	"context"
	"errors"
	"strings"

	"crm_saas_backend/internal/auth/password"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/users/repository"
	"crm_saas_backend/internal/users/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/phone"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgUserNotFound    = "user not found"
	msgEmailExists     = "email already exists"
	msgUserLimit       = "user limit reached for plan"
	msgCannotSelfDel   = "cannot delete your own account"
	msgCannotSelfDeact = "cannot deactivate your own account"
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.User, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.User, error)
	Create(ctx context.Context, p repository.CreateParams, roleIDs []uuid.UUID) (uuid.UUID, error)
	EmailExists(ctx context.Context, tenantID uuid.UUID, email string) (bool, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams, roleIDs []uuid.UUID) error
	SetRoles(ctx context.Context, tenantID, id uuid.UUID, roleIDs []uuid.UUID) error
	SetStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	TenantName(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// RoleValidator checks that role ids belong to the tenant.
type RoleValidator interface {
	ValidateRoleIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error
}

// SessionRevoker revokes a user's refresh tokens.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, tenantID, userID uuid.UUID) error
}

type Service struct {
	repo     Repository
	roles    RoleValidator
	sessions SessionRevoker
	bus      events.Bus
	log      *logger.Logger
	region   string
}

func New(repo Repository, roles RoleValidator, sessions SessionRevoker, bus events.Bus, log *logger.Logger, region string) *Service {
	return &Service{repo: repo, roles: roles, sessions: sessions, bus: bus, log: log, region: region}
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams, req transport.ListUsersRequest) (httpkit.Paged[transport.UserResponse], error) {
	page = page.Normalize()
	users, total, err := s.repo.List(ctx, tenantID, repository.ListParams{
		Search:    page.Search,
		Status:    req.Status,
		RoleID:    req.RoleID,
		SortBy:    page.SortBy,
		SortOrder: page.SortOrder,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.UserResponse]{}, err
	}
	items := make([]transport.UserResponse, len(users))
	for i, u := range users {
		items[i] = ToResponse(u)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (transport.UserResponse, error) {
	u, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, mapErr(err)
	}
	return ToResponse(u), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateUserRequest) (transport.UserResponse, error) {
	addr := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.repo.EmailExists(ctx, tenantID, addr)
	if err != nil {
		return transport.UserResponse{}, err
	}
	if exists {
		return transport.UserResponse{}, apperr.Conflict(msgEmailExists)
	}
	if err := s.roles.ValidateRoleIDs(ctx, tenantID, req.RoleIDs); err != nil {
		return transport.UserResponse{}, err
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return transport.UserResponse{}, err
	}

	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:     tenantID,
		Email:        addr,
		PasswordHash: hash,
		FirstName:    sanitize.Text(req.FirstName),
		LastName:     sanitize.Text(req.LastName),
		Phone:        phone.NormalizePtr(req.Phone, s.region),
		TimeZone:     req.TimeZone,
		Culture:      req.Culture,
		Department:   sanitize.TextPtr(req.Department),
		Team:         sanitize.TextPtr(req.Team),
		CreatedBy:    &actorID,
	}, req.RoleIDs)
	if err != nil {
		return transport.UserResponse{}, mapErr(err)
	}

	user, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, err
	}

	tenantName, err := s.repo.TenantName(ctx, tenantID)
	if err != nil {
		s.log.Warn("tenant name lookup failed", "tenant_id", tenantID.String(), "error", err)
	}
	s.bus.Publish(ctx, events.UserCreated{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		TenantName: tenantName,
		UserID:     id,
		Email:      user.Email,
		FirstName:  user.FirstName,
	})
	s.publish(ctx, tenantID, actorID, id, events.ActionCreated, user, nil)
	return user, nil
}

func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateUserRequest) (transport.UserResponse, error) {
	before, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, err
	}

	var roleIDs []uuid.UUID
	if req.RoleIDs != nil {
		roleIDs = *req.RoleIDs
		if roleIDs == nil {
			roleIDs = []uuid.UUID{}
		}
		if err := s.roles.ValidateRoleIDs(ctx, tenantID, roleIDs); err != nil {
			return transport.UserResponse{}, err
		}
	}

	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		FirstName:  sanitize.TextPtr(req.FirstName),
		LastName:   sanitize.TextPtr(req.LastName),
		Phone:      phone.NormalizePtr(req.Phone, s.region),
		TimeZone:   req.TimeZone,
		Culture:    req.Culture,
		Department: sanitize.TextPtr(req.Department),
		Team:       sanitize.TextPtr(req.Team),
	}, roleIDs)
	if err != nil {
		return transport.UserResponse{}, mapErr(err)
	}

	after, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, err
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, after, &before)
	return after, nil
}

func (s *Service) SetRoles(ctx context.Context, tenantID, actorID, id uuid.UUID, roleIDs []uuid.UUID) (transport.UserResponse, error) {
	if err := s.roles.ValidateRoleIDs(ctx, tenantID, roleIDs); err != nil {
		return transport.UserResponse{}, err
	}
	if err := s.repo.SetRoles(ctx, tenantID, id, roleIDs); err != nil {
		return transport.UserResponse{}, mapErr(err)
	}
	user, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, err
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, user, nil)
	return user, nil
}

func (s *Service) Activate(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.UserResponse, error) {
	return s.setStatus(ctx, tenantID, actorID, id, repository.StatusActive)
}

// Deactivate blocks the user and revokes every refresh token they hold.
func (s *Service) Deactivate(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.UserResponse, error) {
	if actorID == id {
		return transport.UserResponse{}, apperr.BadRequest(msgCannotSelfDeact)
	}
	user, err := s.setStatus(ctx, tenantID, actorID, id, repository.StatusInactive)
	if err != nil {
		return transport.UserResponse{}, err
	}
	if err := s.sessions.RevokeAllSessions(ctx, tenantID, id); err != nil {
		return transport.UserResponse{}, err
	}
	return user, nil
}

func (s *Service) setStatus(ctx context.Context, tenantID, actorID, id uuid.UUID, status string) (transport.UserResponse, error) {
	if err := s.repo.SetStatus(ctx, tenantID, id, status); err != nil {
		return transport.UserResponse{}, mapErr(err)
	}
	user, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return transport.UserResponse{}, err
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, user, nil)
	return user, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	if actorID == id {
		return apperr.BadRequest(msgCannotSelfDel)
	}
	user, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	if err := s.sessions.RevokeAllSessions(ctx, tenantID, id); err != nil {
		return err
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionDeleted, user, nil)
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, user transport.UserResponse, before *transport.UserResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityUser,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(user),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgUserNotFound)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return apperr.Conflict(msgEmailExists)
	case errors.Is(err, repository.ErrUserLimit):
		return apperr.Conflict(msgUserLimit)
	}
	return err
}

// ToResponse maps a stored user to its API shape.
func ToResponse(u repository.User) transport.UserResponse {
	roles := make([]transport.RoleRef, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = transport.RoleRef{ID: r.ID, Name: r.Name}
	}
	return transport.UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    strings.TrimSpace(u.FirstName + " " + u.LastName),
		Phone:       u.Phone,
		Status:      u.Status,
		TimeZone:    u.TimeZone,
		Culture:     u.Culture,
		Department:  u.Department,
		Team:        u.Team,
		LastLoginAt: u.LastLoginAt,
		Roles:       roles,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
