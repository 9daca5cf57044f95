package service

import (
	"context"
	"testing"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/users/repository"
	"crm_saas_backend/internal/users/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	users      map[uuid.UUID]repository.User
	emailTaken bool
	createErr  error
	createdPwd string
	roleSets   map[uuid.UUID][]uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[uuid.UUID]repository.User{}, roleSets: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.User, int, error) {
	out := make([]repository.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

func (f *fakeRepo) Get(_ context.Context, _ uuid.UUID, id uuid.UUID) (repository.User, error) {
	u, ok := f.users[id]
	if !ok {
		return repository.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams, roleIDs []uuid.UUID) (uuid.UUID, error) {
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	id := uuid.New()
	f.createdPwd = p.PasswordHash
	f.users[id] = repository.User{ID: id, TenantID: p.TenantID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName,
		Phone: p.Phone, Status: repository.StatusActive, CreatedAt: time.Now()}
	f.roleSets[id] = roleIDs
	return id, nil
}

func (f *fakeRepo) EmailExists(context.Context, uuid.UUID, string) (bool, error) {
	return f.emailTaken, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams, roleIDs []uuid.UUID) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	f.users[id] = u
	if roleIDs != nil {
		f.roleSets[id] = roleIDs
	}
	return nil
}

func (f *fakeRepo) SetRoles(_ context.Context, _ uuid.UUID, id uuid.UUID, roleIDs []uuid.UUID) error {
	f.roleSets[id] = roleIDs
	return nil
}

func (f *fakeRepo) SetStatus(_ context.Context, _ uuid.UUID, id uuid.UUID, status string) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	f.users[id] = u
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.users, id)
	return nil
}

func (f *fakeRepo) TenantName(context.Context, uuid.UUID) (string, error) {
	return "Acme", nil
}

type allowRoles struct{ err error }

func (a allowRoles) ValidateRoleIDs(context.Context, uuid.UUID, []uuid.UUID) error { return a.err }

type recordingRevoker struct{ revoked []uuid.UUID }

func (r *recordingRevoker) RevokeAllSessions(_ context.Context, _ uuid.UUID, userID uuid.UUID) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

func newService(repo *fakeRepo, revoker *recordingRevoker) (*Service, *events.InMemoryBus) {
	bus := events.NewInMemoryBus(logger.Discard())
	return New(repo, allowRoles{}, revoker, bus, logger.Discard(), "US"), bus
}

func validCreate() transport.CreateUserRequest {
	ph := "(650) 253-0000"
	return transport.CreateUserRequest{
		Email:     "  Ada@Example.com ",
		Password:  "Sup3r!secret",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     &ph,
	}
}

func TestCreateNormalizesAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	svc, bus := newService(repo, &recordingRevoker{})

	var created events.UserCreated
	bus.Subscribe(events.UserCreated{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		created = e.(events.UserCreated)
		return nil
	}))

	user, err := svc.Create(context.Background(), uuid.New(), uuid.New(), validCreate())
	require.NoError(t, err)
	bus.Wait()

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	require.NotNil(t, user.Phone)
	assert.Equal(t, "+16502530000", *user.Phone)
	assert.NotEqual(t, "Sup3r!secret", repo.createdPwd)
	assert.Equal(t, "Acme", created.TenantName)
}

func TestCreateConflicts(t *testing.T) {
	repo := newFakeRepo()
	repo.emailTaken = true
	svc, _ := newService(repo, &recordingRevoker{})

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), validCreate())
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	repo.emailTaken = false
	repo.createErr = repository.ErrUserLimit
	_, err = svc.Create(context.Background(), uuid.New(), uuid.New(), validCreate())
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.EqualError(t, err, msgUserLimit)
}

func TestCreateRejectsForeignRoles(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, allowRoles{err: apperr.BadRequest("one or more roles do not exist")}, &recordingRevoker{},
		events.NewInMemoryBus(logger.Discard()), logger.Discard(), "US")

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), validCreate())
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Empty(t, repo.users)
}

func TestDeactivateRevokesSessions(t *testing.T) {
	repo := newFakeRepo()
	revoker := &recordingRevoker{}
	svc, _ := newService(repo, revoker)
	id := uuid.New()
	repo.users[id] = repository.User{ID: id, Status: repository.StatusActive}

	user, err := svc.Deactivate(context.Background(), uuid.New(), uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInactive, user.Status)
	assert.Equal(t, []uuid.UUID{id}, revoker.revoked)
}

func TestUsersCannotRemoveThemselves(t *testing.T) {
	svc, _ := newService(newFakeRepo(), &recordingRevoker{})
	self := uuid.New()

	err := svc.Delete(context.Background(), uuid.New(), self, self)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = svc.Deactivate(context.Background(), uuid.New(), self, self)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestUpdateWithEmptyRoleListClearsRoles(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, &recordingRevoker{})
	id := uuid.New()
	repo.users[id] = repository.User{ID: id}
	repo.roleSets[id] = []uuid.UUID{uuid.New()}
	empty := []uuid.UUID{}

	_, err := svc.Update(context.Background(), uuid.New(), uuid.New(), id, transport.UpdateUserRequest{RoleIDs: &empty})
	require.NoError(t, err)
	assert.Empty(t, repo.roleSets[id])
}

func TestGetMissingUserIsNotFound(t *testing.T) {
	svc, _ := newService(newFakeRepo(), &recordingRevoker{})

	_, err := svc.Get(context.Background(), uuid.New(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
