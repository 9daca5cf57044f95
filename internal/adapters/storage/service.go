// Package storage is the S3-compatible object store behind CSV exports and
// record attachments.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedURL contains the URL and metadata for a presigned upload/download operation.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ObjectStore is what the exports and attachments modules need from storage.
type ObjectStore interface {
	// PresignUpload returns a PUT URL for key.
	PresignUpload(ctx context.Context, bucket, key string) (*PresignedURL, error)
	// PresignDownload returns a GET URL that downloads key as fileName.
	PresignDownload(ctx context.Context, bucket, key, fileName string) (*PresignedURL, error)
	PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) error
	DeleteObject(ctx context.Context, bucket, key string) error
	// StatObject returns the stored size of key.
	StatObject(ctx context.Context, bucket, key string) (int64, error)
	MaxFileSize() int64
}
