package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"crm_saas_backend/internal/adapters/storage"
	"crm_saas_backend/internal/attachments/repository"
	"crm_saas_backend/internal/attachments/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows     map[uuid.UUID]repository.Attachment
	entities map[uuid.UUID]bool
	quota    int64
	used     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Attachment{}, entities: map[uuid.UUID]bool{}}
}

func (f *fakeRepo) EntityExists(_ context.Context, _ uuid.UUID, _ string, id uuid.UUID) (bool, error) {
	return f.entities[id], nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (repository.Attachment, error) {
	if f.quota > 0 && f.used+p.SizeBytes > f.quota {
		return repository.Attachment{}, repository.ErrQuotaExceeded
	}
	f.used += p.SizeBytes
	a := repository.Attachment{ID: uuid.New(), TenantID: p.TenantID, EntityType: p.EntityType, EntityID: p.EntityID,
		FileKey: p.FileKey, FileName: p.FileName, ContentType: p.ContentType, SizeBytes: p.SizeBytes, UploadedBy: p.UploadedBy}
	f.rows[a.ID] = a
	return a, nil
}

func (f *fakeRepo) List(context.Context, uuid.UUID, string, uuid.UUID) ([]repository.Attachment, error) {
	return nil, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID) (repository.Attachment, error) {
	a, ok := f.rows[id]
	if !ok || a.TenantID != tenantID {
		return repository.Attachment{}, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) Delete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

type fakeStore struct {
	objects map[string]int64
	deleted []string
}

func (f *fakeStore) PresignUpload(_ context.Context, bucket, key string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://files.example.com/" + bucket + "/" + key, FileKey: key, ExpiresAt: time.Now().Add(storage.PresignedURLTTL)}, nil
}

func (f *fakeStore) PresignDownload(_ context.Context, bucket, key, _ string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://files.example.com/" + bucket + "/" + key, FileKey: key}, nil
}

func (f *fakeStore) PutObject(context.Context, string, string, string, io.Reader, int64) error {
	return nil
}

func (f *fakeStore) DeleteObject(_ context.Context, _ string, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) StatObject(_ context.Context, _ string, key string) (int64, error) {
	size, ok := f.objects[key]
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	return size, nil
}

func (f *fakeStore) MaxFileSize() int64 { return 1000 }

func principal(perms ...string) *httpkit.Principal {
	return &httpkit.Principal{User: uuid.New(), Tenant: uuid.New(), Granted: perms}
}

func TestUploadURLChecksPermissionTypeAndEntity(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeStore{objects: map[string]int64{}}
	svc := New(repo, store, "crm-attachments", logger.Discard())
	entity := uuid.New()
	repo.entities[entity] = true
	req := transport.UploadURLRequest{EntityType: "Ticket", EntityID: entity, FileName: "log.txt", ContentType: "text/plain", SizeBytes: 10}

	_, err := svc.UploadURL(context.Background(), principal("tickets.view"), req)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	bad := req
	bad.ContentType = "application/x-msdownload"
	_, err = svc.UploadURL(context.Background(), principal("tickets.update"), bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	big := req
	big.SizeBytes = 5000
	_, err = svc.UploadURL(context.Background(), principal("tickets.update"), big)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	missing := req
	missing.EntityID = uuid.New()
	_, err = svc.UploadURL(context.Background(), principal("tickets.update"), missing)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	user := principal("tickets.update")
	got, err := svc.UploadURL(context.Background(), user, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.FileKey, user.Tenant.String()+"/ticket/"+entity.String()+"/log_"), got.FileKey)
}

func TestCreateUsesStoredSizeAndEnforcesQuota(t *testing.T) {
	repo := newFakeRepo()
	repo.quota = 150
	store := &fakeStore{objects: map[string]int64{}}
	svc := New(repo, store, "crm-attachments", logger.Discard())
	user := principal("leads.update")
	entity := uuid.New()
	repo.entities[entity] = true
	key := user.Tenant.String() + "/lead/" + entity.String() + "/a_1234abcd.pdf"
	store.objects[key] = 100

	got, err := svc.Create(context.Background(), user, transport.CreateAttachmentRequest{
		EntityType: "Lead", EntityID: entity, FileKey: key, FileName: "a.pdf", ContentType: "application/pdf", SizeBytes: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.SizeBytes)

	_, err = svc.Create(context.Background(), user, transport.CreateAttachmentRequest{
		EntityType: "Lead", EntityID: entity, FileKey: key, FileName: "a.pdf", ContentType: "application/pdf", SizeBytes: 100,
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCreateRejectsForeignOrMissingKeys(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeStore{objects: map[string]int64{}}
	svc := New(repo, store, "crm-attachments", logger.Discard())
	user := principal("contacts.update")
	entity := uuid.New()
	repo.entities[entity] = true

	_, err := svc.Create(context.Background(), user, transport.CreateAttachmentRequest{
		EntityType: "Contact", EntityID: entity, FileKey: uuid.NewString() + "/contact/" + entity.String() + "/x.pdf",
		FileName: "x.pdf", ContentType: "application/pdf", SizeBytes: 1,
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Create(context.Background(), user, transport.CreateAttachmentRequest{
		EntityType: "Contact", EntityID: entity, FileKey: user.Tenant.String() + "/contact/" + entity.String() + "/x.pdf",
		FileName: "x.pdf", ContentType: "application/pdf", SizeBytes: 1,
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDeleteRemovesObjectAndRow(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeStore{objects: map[string]int64{}}
	svc := New(repo, store, "crm-attachments", logger.Discard())
	user := principal("activities.update", "activities.view")
	a := repository.Attachment{ID: uuid.New(), TenantID: user.Tenant, EntityType: "Activity", FileKey: "k"}
	repo.rows[a.ID] = a

	dl, err := svc.Download(context.Background(), user, a.ID)
	require.NoError(t, err)
	assert.Contains(t, dl.URL, "/k")

	require.NoError(t, svc.Delete(context.Background(), user, a.ID))
	assert.Equal(t, []string{"k"}, store.deleted)
	assert.Empty(t, repo.rows)

	err = svc.Delete(context.Background(), user, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestOperationsNeedStorage(t *testing.T) {
	svc := New(newFakeRepo(), nil, "crm-attachments", logger.Discard())

	_, err := svc.UploadURL(context.Background(), principal("leads.update"), transport.UploadURLRequest{EntityType: "Lead"})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}
