package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"crm_saas_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignedURLTTL is the lifetime of every presigned URL.
const PresignedURLTTL = 15 * time.Minute

// ErrObjectNotFound is returned by StatObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// MinIOService implements ObjectStore using MinIO.
type MinIOService struct {
	client      *minio.Client
	maxFileSize int64
	now         func() time.Time
}

// NewMinIOService creates a new MinIO storage service.
func NewMinIOService(cfg config.MinIOConfig) (*MinIOService, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOService{
		client:      client,
		maxFileSize: cfg.GetMinIOMaxFileSize(),
		now:         time.Now,
	}, nil
}

// EnsureBuckets creates every missing bucket.
func (s *MinIOService) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func (s *MinIOService) PresignUpload(ctx context.Context, bucket, key string) (*PresignedURL, error) {
	expiresAt := s.now().Add(PresignedURLTTL)
	u, err := s.client.PresignedPutObject(ctx, bucket, key, PresignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}
	return &PresignedURL{URL: u.String(), FileKey: key, ExpiresAt: expiresAt}, nil
}

func (s *MinIOService) PresignDownload(ctx context.Context, bucket, key, fileName string) (*PresignedURL, error) {
	expiresAt := s.now().Add(PresignedURLTTL)

	reqParams := make(url.Values)
	if fileName != "" {
		reqParams.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	}

	u, err := s.client.PresignedGetObject(ctx, bucket, key, PresignedURLTTL, reqParams)
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return &PresignedURL{URL: u.String(), FileKey: key, ExpiresAt: expiresAt}, nil
}

func (s *MinIOService) PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOService) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOService) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return info.Size, nil
}

func (s *MinIOService) MaxFileSize() int64 {
	return s.maxFileSize
}

// ObjectKey builds `<folder>/<base>_<8 hex><ext>` so uploads never overwrite each other.
func ObjectKey(folder, fileName string) string {
	fileName = path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	ext := path.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return path.Join(folder, fmt.Sprintf("%s_%s%s", base, uuid.NewString()[:8], ext))
}

var _ ObjectStore = (*MinIOService)(nil)
