package service

import (
	"context"
	"errors"
	"strings"

	"crm_saas_backend/internal/adapters/storage"
	"crm_saas_backend/internal/attachments/repository"
	"crm_saas_backend/internal/attachments/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	msgNotFound       = "attachment not found"
	msgEntityNotFound = "record not found"
	msgStorageOffline = "file storage is not configured"
	msgQuotaExceeded  = "storage quota exceeded"
	msgNotUploaded    = "file has not been uploaded"
	msgForeignKey     = "file key does not belong to this record"
)

// permissionModules maps entity types to the permission module guarding them.
var permissionModules = map[string]string{
	"Lead":        "leads",
	"Customer":    "customers",
	"Contact":     "contacts",
	"Opportunity": "opportunities",
	"Ticket":      "tickets",
	"Activity":    "activities",
}

type Repository interface {
	EntityExists(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID) (bool, error)
	Create(ctx context.Context, p repository.CreateParams) (repository.Attachment, error)
	List(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]repository.Attachment, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.Attachment, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

type Service struct {
	repo   Repository
	store  storage.ObjectStore
	bucket string
	log    *logger.Logger
}

// New builds the service. A nil store makes every operation answer 503.
func New(repo Repository, store storage.ObjectStore, bucket string, log *logger.Logger) *Service {
	return &Service{repo: repo, store: store, bucket: bucket, log: log}
}

// Authorize checks <module>.<action> for the entity type.
func Authorize(identity httpkit.Identity, entityType, action string) error {
	module, ok := permissionModules[entityType]
	if !ok {
		return apperr.BadRequest("unsupported entity type")
	}
	if !identity.HasPermission(module + "." + action) {
		return apperr.Forbidden("insufficient permissions")
	}
	return nil
}

// folder is the key prefix every object of one record lives under.
func folder(tenantID uuid.UUID, entityType string, entityID uuid.UUID) string {
	return tenantID.String() + "/" + strings.ToLower(entityType) + "/" + entityID.String()
}

func (s *Service) UploadURL(ctx context.Context, identity httpkit.Identity, req transport.UploadURLRequest) (transport.UploadURLResponse, error) {
	if s.store == nil {
		return transport.UploadURLResponse{}, apperr.Unavailable(msgStorageOffline)
	}
	if err := Authorize(identity, req.EntityType, "update"); err != nil {
		return transport.UploadURLResponse{}, err
	}
	if err := s.checkFile(req.ContentType, req.SizeBytes); err != nil {
		return transport.UploadURLResponse{}, err
	}
	tenantID := identity.TenantID()
	if err := s.checkEntity(ctx, tenantID, req.EntityType, req.EntityID); err != nil {
		return transport.UploadURLResponse{}, err
	}

	key := storage.ObjectKey(folder(tenantID, req.EntityType, req.EntityID), req.FileName)
	url, err := s.store.PresignUpload(ctx, s.bucket, key)
	if err != nil {
		return transport.UploadURLResponse{}, err
	}
	return transport.UploadURLResponse{UploadURL: url.URL, FileKey: url.FileKey, ExpiresAt: url.ExpiresAt}, nil
}

// Create records an uploaded object. The stored size wins over the declared one.
func (s *Service) Create(ctx context.Context, identity httpkit.Identity, req transport.CreateAttachmentRequest) (transport.AttachmentResponse, error) {
	if s.store == nil {
		return transport.AttachmentResponse{}, apperr.Unavailable(msgStorageOffline)
	}
	if err := Authorize(identity, req.EntityType, "update"); err != nil {
		return transport.AttachmentResponse{}, err
	}
	tenantID := identity.TenantID()
	if !strings.HasPrefix(req.FileKey, folder(tenantID, req.EntityType, req.EntityID)+"/") {
		return transport.AttachmentResponse{}, apperr.Validation(msgForeignKey)
	}
	if err := s.checkEntity(ctx, tenantID, req.EntityType, req.EntityID); err != nil {
		return transport.AttachmentResponse{}, err
	}
	size, err := s.store.StatObject(ctx, s.bucket, req.FileKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return transport.AttachmentResponse{}, apperr.Validation(msgNotUploaded)
	}
	if err != nil {
		return transport.AttachmentResponse{}, err
	}
	if err := s.checkFile(req.ContentType, size); err != nil {
		return transport.AttachmentResponse{}, err
	}

	actor := identity.UserID()
	a, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:    tenantID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		FileKey:     req.FileKey,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: storage.NormalizeContentType(req.ContentType),
		SizeBytes:   size,
		UploadedBy:  &actor,
	})
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return transport.AttachmentResponse{}, apperr.Conflict(msgQuotaExceeded)
	}
	if err != nil {
		return transport.AttachmentResponse{}, err
	}
	return ToResponse(a), nil
}

func (s *Service) List(ctx context.Context, identity httpkit.Identity, entityType string, entityID uuid.UUID) ([]transport.AttachmentResponse, error) {
	if err := Authorize(identity, entityType, "view"); err != nil {
		return nil, err
	}
	items, err := s.repo.List(ctx, identity.TenantID(), entityType, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]transport.AttachmentResponse, len(items))
	for i, a := range items {
		out[i] = ToResponse(a)
	}
	return out, nil
}

func (s *Service) Download(ctx context.Context, identity httpkit.Identity, id uuid.UUID) (transport.DownloadResponse, error) {
	if s.store == nil {
		return transport.DownloadResponse{}, apperr.Unavailable(msgStorageOffline)
	}
	a, err := s.load(ctx, identity, id, "view")
	if err != nil {
		return transport.DownloadResponse{}, err
	}
	url, err := s.store.PresignDownload(ctx, s.bucket, a.FileKey, a.FileName)
	if err != nil {
		return transport.DownloadResponse{}, err
	}
	return transport.DownloadResponse{URL: url.URL, FileName: a.FileName, ExpiresAt: url.ExpiresAt}, nil
}

// Delete removes the object, then the row. A missing object is not an error.
func (s *Service) Delete(ctx context.Context, identity httpkit.Identity, id uuid.UUID) error {
	if s.store == nil {
		return apperr.Unavailable(msgStorageOffline)
	}
	a, err := s.load(ctx, identity, id, "update")
	if err != nil {
		return err
	}
	if err := s.store.DeleteObject(ctx, s.bucket, a.FileKey); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, a.TenantID, a.ID); err != nil {
		return mapErr(err)
	}
	s.log.WithContext(ctx).Info("attachment deleted", "attachment_id", a.ID, "entity_type", a.EntityType)
	return nil
}

func (s *Service) load(ctx context.Context, identity httpkit.Identity, id uuid.UUID, action string) (repository.Attachment, error) {
	a, err := s.repo.Get(ctx, identity.TenantID(), id)
	if err != nil {
		return repository.Attachment{}, mapErr(err)
	}
	if err := Authorize(identity, a.EntityType, action); err != nil {
		return repository.Attachment{}, err
	}
	return a, nil
}

func (s *Service) checkFile(contentType string, size int64) error {
	if err := storage.ValidateContentType(contentType); err != nil {
		return err
	}
	return storage.ValidateFileSize(size, s.store.MaxFileSize())
}

func (s *Service) checkEntity(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID) error {
	ok, err := s.repo.EntityExists(ctx, tenantID, entityType, id)
	if errors.Is(err, repository.ErrUnknownEntity) {
		return apperr.BadRequest("unsupported entity type")
	}
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(msgEntityNotFound)
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgNotFound)
	}
	return err
}

func ToResponse(a repository.Attachment) transport.AttachmentResponse {
	return transport.AttachmentResponse{
		ID:          a.ID,
		EntityType:  a.EntityType,
		EntityID:    a.EntityID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		UploadedBy:  a.UploadedBy,
		CreatedAt:   a.CreatedAt,
	}
}
