package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm_saas_backend/internal/auth/password"
	"crm_saas_backend/internal/auth/repository"
	"crm_saas_backend/internal/auth/token"
	"crm_saas_backend/internal/auth/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/phone"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgInvalidCredentials = "invalid credentials"
	msgAccountLocked      = "account locked"
	msgAccountInactive    = "account is inactive"
	msgTenantInactive     = "tenant is not active"
	msgTenantRequired     = "tenant required"
	msgTokenInvalid       = "invalid refresh token"
	msgTokenExpired       = "refresh token expired"
	msgWrongPassword      = "current password is incorrect"

	statusActive = "Active"
)

type Repository interface {
	FindLoginCandidates(ctx context.Context, email string, tenantID *uuid.UUID, identifier string) ([]repository.LoginUser, error)
	GetLoginUser(ctx context.Context, tenantID, userID uuid.UUID) (repository.LoginUser, error)
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*time.Time, error)
	RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID) error
	CreateRefreshToken(ctx context.Context, tenantID, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (repository.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, tenantID, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, tenantID, userID uuid.UUID, passwordHash string) error
	GetProfile(ctx context.Context, tenantID, userID uuid.UUID) (repository.Profile, error)
	UpdateProfile(ctx context.Context, tenantID, userID uuid.UUID, p repository.ProfileUpdate) error
}

// AccessLoader resolves roles, permission codes and data scope for a user.
type AccessLoader interface {
	Access(ctx context.Context, tenantID, userID uuid.UUID) (roles, permissions []string, dataScope scope.DataScope, err error)
}

// RequestMeta is the caller's network identity, recorded on auth events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type Service struct {
	repo   Repository
	access AccessLoader
	cfg    config.AuthServiceConfig
	bus    events.Bus
	log    *logger.Logger
	region string
	now    func() time.Time
}

func New(repo Repository, access AccessLoader, cfg config.AuthServiceConfig, bus events.Bus, log *logger.Logger, region string) *Service {
	return &Service{repo: repo, access: access, cfg: cfg, bus: bus, log: log, region: region, now: time.Now}
}

// Login authenticates by email and password. tenantID comes from the resolver when present.
func (s *Service) Login(ctx context.Context, req transport.LoginRequest, tenantID *uuid.UUID, meta RequestMeta) (transport.AuthResponse, error) {
	addr := strings.ToLower(strings.TrimSpace(req.Email))
	identifier := strings.TrimSpace(req.TenantIdentifier)

	candidates, err := s.repo.FindLoginCandidates(ctx, addr, tenantID, identifier)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	switch {
	case len(candidates) == 0:
		s.log.AuthEvent("login", addr, false, "unknown user")
		return transport.AuthResponse{}, apperr.Unauthorized(msgInvalidCredentials)
	case len(candidates) > 1:
		return transport.AuthResponse{}, apperr.BadRequest(msgTenantRequired)
	}
	user := candidates[0]

	if user.TenantStatus != statusActive {
		s.log.AuthEvent("login", addr, false, "tenant "+strings.ToLower(user.TenantStatus))
		return transport.AuthResponse{}, apperr.Forbidden(msgTenantInactive)
	}
	now := s.now()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		s.log.AuthEvent("login", addr, false, "locked")
		return transport.AuthResponse{}, apperr.Unauthorized(msgAccountLocked)
	}

	if err := password.Compare(user.PasswordHash, req.Password); err != nil {
		lockedUntil, recErr := s.repo.RecordFailedLogin(ctx, user.ID, s.cfg.GetLoginMaxFailedAttempts(), s.cfg.GetLoginLockoutDuration())
		if recErr != nil {
			return transport.AuthResponse{}, recErr
		}
		if lockedUntil != nil && lockedUntil.After(now) {
			s.log.AuthEvent("login", addr, false, "locked after failed attempts")
			return transport.AuthResponse{}, apperr.Unauthorized(msgAccountLocked)
		}
		s.log.AuthEvent("login", addr, false, "bad password")
		return transport.AuthResponse{}, apperr.Unauthorized(msgInvalidCredentials)
	}
	if user.Status != statusActive {
		s.log.AuthEvent("login", addr, false, "inactive")
		return transport.AuthResponse{}, apperr.Unauthorized(msgAccountInactive)
	}

	if err := s.repo.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		return transport.AuthResponse{}, err
	}
	resp, err := s.issue(ctx, user)
	if err != nil {
		return transport.AuthResponse{}, err
	}

	s.log.AuthEvent("login", addr, true, "")
	s.bus.Publish(ctx, events.UserLoggedIn{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  user.TenantID,
		UserID:    user.ID,
		Email:     user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return resp, nil
}

// Refresh rotates a refresh token and re-reads the user's roles and permissions.
// Presenting an already revoked token revokes all of the user's sessions.
func (s *Service) Refresh(ctx context.Context, raw string) (transport.AuthResponse, error) {
	if raw == "" {
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenInvalid)
	}
	hash := token.HashSHA256(raw)
	stored, err := s.repo.GetRefreshToken(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenInvalid)
	}
	if err != nil {
		return transport.AuthResponse{}, err
	}
	if stored.RevokedAt != nil {
		// A rotated token came back: the chain may be stolen, so end every session.
		s.log.AuthEvent("refresh", stored.UserID.String(), false, "revoked token reused")
		if err := s.repo.RevokeAllRefreshTokens(ctx, stored.TenantID, stored.UserID); err != nil {
			return transport.AuthResponse{}, err
		}
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenInvalid)
	}
	if s.now().After(stored.ExpiresAt) {
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenExpired)
	}

	user, err := s.repo.GetLoginUser(ctx, stored.TenantID, stored.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenInvalid)
	}
	if err != nil {
		return transport.AuthResponse{}, err
	}
	if err := s.checkUsable(user); err != nil {
		return transport.AuthResponse{}, err
	}

	access, err := s.accessToken(ctx, user)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	newRaw, err := token.GenerateRandomToken(token.RefreshTokenBytes)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	err = s.repo.RotateRefreshToken(ctx, hash, token.HashSHA256(newRaw), s.now().Add(s.cfg.GetRefreshTokenTTL()))
	if errors.Is(err, repository.ErrTokenRevoked) {
		return transport.AuthResponse{}, apperr.Unauthorized(msgTokenInvalid)
	}
	if err != nil {
		return transport.AuthResponse{}, err
	}
	access.RefreshToken = newRaw
	return access, nil
}

func (s *Service) checkUsable(user repository.LoginUser) error {
	if user.TenantStatus != statusActive {
		return apperr.Forbidden(msgTenantInactive)
	}
	if user.Status != statusActive {
		return apperr.Unauthorized(msgAccountInactive)
	}
	if user.LockedUntil != nil && user.LockedUntil.After(s.now()) {
		return apperr.Unauthorized(msgAccountLocked)
	}
	return nil
}

// IssueTokens signs in a user that was just created, e.g. by tenant registration.
func (s *Service) IssueTokens(ctx context.Context, tenantID, userID uuid.UUID) (transport.AuthResponse, error) {
	user, err := s.repo.GetLoginUser(ctx, tenantID, userID)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	return s.issue(ctx, user)
}

func (s *Service) issue(ctx context.Context, user repository.LoginUser) (transport.AuthResponse, error) {
	resp, err := s.accessToken(ctx, user)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	raw, err := token.GenerateRandomToken(token.RefreshTokenBytes)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	expiresAt := s.now().Add(s.cfg.GetRefreshTokenTTL())
	if err := s.repo.CreateRefreshToken(ctx, user.TenantID, user.ID, token.HashSHA256(raw), expiresAt); err != nil {
		return transport.AuthResponse{}, err
	}
	resp.RefreshToken = raw
	return resp, nil
}

func (s *Service) accessToken(ctx context.Context, user repository.LoginUser) (transport.AuthResponse, error) {
	roles, perms, dataScope, err := s.access.Access(ctx, user.TenantID, user.ID)
	if err != nil {
		return transport.AuthResponse{}, err
	}
	ttl := s.cfg.GetAccessTokenTTL()
	signed, err := token.SignAccess(s.cfg.GetJWTAccessSecret(), token.AccessClaims{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Roles:       roles,
		Permissions: perms,
		DataScope:   string(dataScope),
		Department:  deref(user.Department),
		Team:        deref(user.Team),
	}, ttl, s.now())
	if err != nil {
		return transport.AuthResponse{}, err
	}

	return transport.AuthResponse{
		AccessToken: signed,
		ExpiresIn:   int64(ttl.Seconds()),
		TenantID:    user.TenantID,
		UserID:      user.ID,
		User: transport.UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			FullName:    strings.TrimSpace(user.FirstName + " " + user.LastName),
			Roles:       nonNil(roles),
			Permissions: nonNil(perms),
			DataScope:   string(dataScope),
		},
	}, nil
}

// Logout revokes one refresh token. An unknown token is a 400.
func (s *Service) Logout(ctx context.Context, tenantID, userID uuid.UUID, raw string, meta RequestMeta) error {
	if raw == "" {
		return apperr.BadRequest(msgTokenInvalid)
	}
	err := s.repo.RevokeRefreshToken(ctx, userID, token.HashSHA256(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.BadRequest(msgTokenInvalid)
	}
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, events.UserLoggedOut{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, tenantID, userID uuid.UUID, meta RequestMeta) error {
	if err := s.repo.RevokeAllRefreshTokens(ctx, tenantID, userID); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.UserLoggedOut{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		UserID:    userID,
		All:       true,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// RevokeAllSessions is used when a user is deactivated or deleted.
func (s *Service) RevokeAllSessions(ctx context.Context, tenantID, userID uuid.UUID) error {
	return s.repo.RevokeAllRefreshTokens(ctx, tenantID, userID)
}

func (s *Service) Me(ctx context.Context, tenantID, userID uuid.UUID) (transport.ProfileResponse, error) {
	p, err := s.repo.GetProfile(ctx, tenantID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.ProfileResponse{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return transport.ProfileResponse{}, err
	}
	roles, perms, dataScope, err := s.access.Access(ctx, tenantID, userID)
	if err != nil {
		return transport.ProfileResponse{}, err
	}
	return transport.ProfileResponse{
		ID:          p.ID,
		TenantID:    p.TenantID,
		TenantName:  p.TenantName,
		Email:       p.Email,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		FullName:    strings.TrimSpace(p.FirstName + " " + p.LastName),
		Phone:       p.Phone,
		TimeZone:    p.TimeZone,
		Culture:     p.Culture,
		Department:  p.Department,
		Team:        p.Team,
		Roles:       nonNil(roles),
		Permissions: nonNil(perms),
		DataScope:   string(dataScope),
		LastLoginAt: p.LastLoginAt,
		CreatedAt:   p.CreatedAt,
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, tenantID, userID uuid.UUID, req transport.UpdateProfileRequest) (transport.ProfileResponse, error) {
	err := s.repo.UpdateProfile(ctx, tenantID, userID, repository.ProfileUpdate{
		FirstName: sanitize.TextPtr(req.FirstName),
		LastName:  sanitize.TextPtr(req.LastName),
		Phone:     phone.NormalizePtr(req.Phone, s.region),
		TimeZone:  req.TimeZone,
		Culture:   req.Culture,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return transport.ProfileResponse{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return transport.ProfileResponse{}, err
	}
	return s.Me(ctx, tenantID, userID)
}

// ChangePassword verifies the current password, stores the new hash and signs out every session.
func (s *Service) ChangePassword(ctx context.Context, tenantID, userID uuid.UUID, req transport.ChangePasswordRequest, meta RequestMeta) error {
	user, err := s.repo.GetLoginUser(ctx, tenantID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return err
	}
	if password.Compare(user.PasswordHash, req.CurrentPassword) != nil {
		return apperr.BadRequest(msgWrongPassword)
	}

	hash, err := password.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, tenantID, userID, hash); err != nil {
		return err
	}
	if err := s.repo.RevokeAllRefreshTokens(ctx, tenantID, userID); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.PasswordChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
