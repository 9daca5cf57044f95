package transport

import (
	"time"

	"github.com/google/uuid"
)

type UploadURLRequest struct {
	EntityType  string    `json:"entityType" validate:"required,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	EntityID    uuid.UUID `json:"entityId" validate:"required"`
	FileName    string    `json:"fileName" validate:"required,max=255"`
	ContentType string    `json:"contentType" validate:"required,max=255"`
	SizeBytes   int64     `json:"sizeBytes" validate:"required,gt=0"`
}

type UploadURLResponse struct {
	UploadURL string    `json:"uploadUrl"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateAttachmentRequest struct {
	EntityType  string    `json:"entityType" validate:"required,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	EntityID    uuid.UUID `json:"entityId" validate:"required"`
	FileKey     string    `json:"fileKey" validate:"required,max=1024"`
	FileName    string    `json:"fileName" validate:"required,max=255"`
	ContentType string    `json:"contentType" validate:"required,max=255"`
	SizeBytes   int64     `json:"sizeBytes" validate:"required,gt=0"`
}

type ListAttachmentsRequest struct {
	EntityType string `form:"entityType" validate:"required,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	EntityID   string `form:"entityId" validate:"required,uuid"`
}

type AttachmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	EntityType  string     `json:"entityType"`
	EntityID    uuid.UUID  `json:"entityId"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	SizeBytes   int64      `json:"sizeBytes"`
	UploadedBy  *uuid.UUID `json:"uploadedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type DownloadResponse struct {
	URL       string    `json:"url"`
	FileName  string    `json:"fileName"`
	ExpiresAt time.Time `json:"expiresAt"`
}
