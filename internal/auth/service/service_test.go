package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"crm_saas_backend/internal/auth/password"
	"crm_saas_backend/internal/auth/repository"
	"crm_saas_backend/internal/auth/token"
	"crm_saas_backend/internal/auth/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct{}

func (testConfig) GetJWTAccessSecret() string             { return "test-secret" }
func (testConfig) GetAccessTokenTTL() time.Duration       { return 15 * time.Minute }
func (testConfig) GetRefreshTokenTTL() time.Duration      { return 7 * 24 * time.Hour }
func (testConfig) GetLoginMaxFailedAttempts() int         { return 3 }
func (testConfig) GetLoginLockoutDuration() time.Duration { return 15 * time.Minute }

type fakeAccess struct{}

func (fakeAccess) Access(context.Context, uuid.UUID, uuid.UUID) ([]string, []string, scope.DataScope, error) {
	return []string{"Admin"}, []string{"leads.view"}, scope.AllInOrganization, nil
}

type storedToken struct {
	repository.RefreshToken
	hash string
}

type fakeRepo struct {
	users    []repository.LoginUser
	tokens   map[string]*storedToken
	failures map[uuid.UUID]int
	pwd      map[uuid.UUID]string
}

func newFakeRepo(users ...repository.LoginUser) *fakeRepo {
	return &fakeRepo{users: users, tokens: map[string]*storedToken{}, failures: map[uuid.UUID]int{}, pwd: map[uuid.UUID]string{}}
}

func (f *fakeRepo) FindLoginCandidates(_ context.Context, email string, tenantID *uuid.UUID, _ string) ([]repository.LoginUser, error) {
	var out []repository.LoginUser
	for _, u := range f.users {
		if u.Email != email {
			continue
		}
		if tenantID != nil && u.TenantID != *tenantID {
			continue
		}
		if tenantID == nil && u.Status != statusActive {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRepo) GetLoginUser(_ context.Context, tenantID, userID uuid.UUID) (repository.LoginUser, error) {
	for _, u := range f.users {
		if u.ID == userID && u.TenantID == tenantID {
			return u, nil
		}
	}
	return repository.LoginUser{}, repository.ErrNotFound
}

func (f *fakeRepo) RecordFailedLogin(_ context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*time.Time, error) {
	f.failures[userID]++
	if f.failures[userID] >= maxAttempts {
		f.failures[userID] = 0
		until := time.Now().Add(lockout)
		for i := range f.users {
			if f.users[i].ID == userID {
				f.users[i].LockedUntil = &until
			}
		}
		return &until, nil
	}
	return nil, nil
}

func (f *fakeRepo) RecordSuccessfulLogin(_ context.Context, userID uuid.UUID) error {
	f.failures[userID] = 0
	return nil
}

func (f *fakeRepo) CreateRefreshToken(_ context.Context, tenantID, userID uuid.UUID, hash string, exp time.Time) error {
	f.tokens[hash] = &storedToken{RefreshToken: repository.RefreshToken{ID: uuid.New(), TenantID: tenantID, UserID: userID, ExpiresAt: exp}, hash: hash}
	return nil
}

func (f *fakeRepo) GetRefreshToken(_ context.Context, hash string) (repository.RefreshToken, error) {
	t, ok := f.tokens[hash]
	if !ok {
		return repository.RefreshToken{}, repository.ErrNotFound
	}
	return t.RefreshToken, nil
}

func (f *fakeRepo) RotateRefreshToken(_ context.Context, oldHash, newHash string, exp time.Time) error {
	t, ok := f.tokens[oldHash]
	if !ok {
		return repository.ErrNotFound
	}
	if t.RevokedAt != nil {
		return repository.ErrTokenRevoked
	}
	now := time.Now()
	t.RevokedAt = &now
	return f.CreateRefreshToken(context.Background(), t.TenantID, t.UserID, newHash, exp)
}

func (f *fakeRepo) RevokeRefreshToken(_ context.Context, userID uuid.UUID, hash string) error {
	t, ok := f.tokens[hash]
	if !ok || t.UserID != userID || t.RevokedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

func (f *fakeRepo) RevokeAllRefreshTokens(_ context.Context, _ uuid.UUID, userID uuid.UUID) error {
	now := time.Now()
	for _, t := range f.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeRepo) UpdatePassword(_ context.Context, _ uuid.UUID, userID uuid.UUID, hash string) error {
	f.pwd[userID] = hash
	for i := range f.users {
		if f.users[i].ID == userID {
			f.users[i].PasswordHash = hash
		}
	}
	return nil
}

func (f *fakeRepo) GetProfile(_ context.Context, tenantID, userID uuid.UUID) (repository.Profile, error) {
	u, err := f.GetLoginUser(context.Background(), tenantID, userID)
	if err != nil {
		return repository.Profile{}, err
	}
	return repository.Profile{ID: u.ID, TenantID: u.TenantID, TenantName: u.TenantName, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}, nil
}

func (f *fakeRepo) UpdateProfile(_ context.Context, _ uuid.UUID, userID uuid.UUID, p repository.ProfileUpdate) error {
	for i := range f.users {
		if f.users[i].ID == userID {
			if p.FirstName != nil {
				f.users[i].FirstName = *p.FirstName
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func newUser(t *testing.T, tenantID uuid.UUID, email, plain string) repository.LoginUser {
	t.Helper()
	hash, err := password.Hash(plain)
	require.NoError(t, err)
	return repository.LoginUser{
		ID: uuid.New(), TenantID: tenantID, TenantName: "Acme", TenantStatus: statusActive,
		Email: email, PasswordHash: hash, FirstName: "Ada", LastName: "Lovelace", Status: statusActive,
	}
}

func newService(repo *fakeRepo) (*Service, *events.InMemoryBus) {
	bus := events.NewInMemoryBus(logger.Discard())
	return New(repo, fakeAccess{}, testConfig{}, bus, logger.Discard(), "US"), bus
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	return appErr.HTTPStatus()
}

func TestLoginIssuesTokensAndStoresHashOnly(t *testing.T) {
	tenantID := uuid.New()
	user := newUser(t, tenantID, "ada@acme.test", "Secret123!")
	repo := newFakeRepo(user)
	svc, bus := newService(repo)

	var loggedIn int
	bus.Subscribe(events.UserLoggedIn{}.EventName(), events.HandlerFunc(func(context.Context, events.Event) error {
		loggedIn++
		return nil
	}))

	resp, err := svc.Login(context.Background(), transport.LoginRequest{Email: "ADA@acme.test ", Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)
	bus.Wait()

	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, user.ID, resp.UserID)
	assert.Equal(t, tenantID, resp.TenantID)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, []string{"Admin"}, resp.User.Roles)
	assert.Equal(t, 1, loggedIn)

	_, raw := repo.tokens[resp.RefreshToken]
	assert.False(t, raw, "raw refresh token must not be stored")
	_, hashed := repo.tokens[token.HashSHA256(resp.RefreshToken)]
	assert.True(t, hashed)
}

func TestLoginWrongPasswordLocksAfterMaxAttempts(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(user))
	req := transport.LoginRequest{Email: user.Email, Password: "wrong"}

	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), req, nil, RequestMeta{})
		assert.EqualError(t, err, msgInvalidCredentials)
	}
	_, err := svc.Login(context.Background(), req, nil, RequestMeta{})
	assert.EqualError(t, err, msgAccountLocked)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	_, err = svc.Login(context.Background(), transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	assert.EqualError(t, err, msgAccountLocked)
}

func TestLoginAmbiguousEmailRequiresTenant(t *testing.T) {
	a := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	b := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(a, b))

	_, err := svc.Login(context.Background(), transport.LoginRequest{Email: a.Email, Password: "Secret123!"}, nil, RequestMeta{})
	assert.EqualError(t, err, msgTenantRequired)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	resp, err := svc.Login(context.Background(), transport.LoginRequest{Email: a.Email, Password: "Secret123!"}, &b.TenantID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, resp.UserID)
}

func TestLoginSuspendedTenantIsForbidden(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	user.TenantStatus = "Suspended"
	svc, _ := newService(newFakeRepo(user))

	_, err := svc.Login(context.Background(), transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(user))

	first, err := svc.Login(context.Background(), transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	assert.EqualError(t, err, msgTokenInvalid)

	_, err = svc.Refresh(context.Background(), "unknown")
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestRefreshReuseRevokesWholeChain(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(user))
	ctx := context.Background()

	first, err := svc.Login(ctx, transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)
	other, err := svc.Login(ctx, transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)
	rotated, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.EqualError(t, err, msgTokenInvalid)

	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	assert.EqualError(t, err, msgTokenInvalid, "the rotated successor is revoked too")
	_, err = svc.Refresh(ctx, other.RefreshToken)
	assert.EqualError(t, err, msgTokenInvalid, "other sessions are revoked too")
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	repo := newFakeRepo(user)
	svc, _ := newService(repo)

	resp, err := svc.Login(context.Background(), transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = svc.Refresh(context.Background(), resp.RefreshToken)
	assert.EqualError(t, err, msgTokenExpired)
}

func TestLogoutUnknownTokenIsBadRequest(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(user))

	err := svc.Logout(context.Background(), user.TenantID, user.ID, "nope", RequestMeta{})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	repo := newFakeRepo(user)
	svc, _ := newService(repo)

	resp, err := svc.Login(context.Background(), transport.LoginRequest{Email: user.Email, Password: "Secret123!"}, nil, RequestMeta{})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.TenantID, user.ID, transport.ChangePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "NewSecret456!", ConfirmPassword: "NewSecret456!",
	}, RequestMeta{})
	assert.EqualError(t, err, msgWrongPassword)

	err = svc.ChangePassword(context.Background(), user.TenantID, user.ID, transport.ChangePasswordRequest{
		CurrentPassword: "Secret123!", NewPassword: "NewSecret456!", ConfirmPassword: "NewSecret456!",
	}, RequestMeta{})
	require.NoError(t, err)
	assert.NoError(t, password.Compare(repo.pwd[user.ID], "NewSecret456!"))

	_, err = svc.Refresh(context.Background(), resp.RefreshToken)
	assert.Error(t, err)
}

func TestMeMergesAccess(t *testing.T) {
	user := newUser(t, uuid.New(), "ada@acme.test", "Secret123!")
	svc, _ := newService(newFakeRepo(user))

	me, err := svc.Me(context.Background(), user.TenantID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", me.FullName)
	assert.Equal(t, "AllInOrganization", me.DataScope)
	assert.Equal(t, []string{"leads.view"}, me.Permissions)
}
