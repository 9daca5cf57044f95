package transport

import (
	"time"

	"github.com/google/uuid"
)

type ListAuditLogsRequest struct {
	EntityType string     `form:"entityType" validate:"omitempty,max=50"`
	EntityID   *uuid.UUID `form:"entityId"`
	UserID     *uuid.UUID `form:"userId"`
	Action     string     `form:"action" validate:"omitempty,max=50"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type AuditLogResponse struct {
	ID         uuid.UUID      `json:"id"`
	UserID     *uuid.UUID     `json:"userId,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   *uuid.UUID     `json:"entityId,omitempty"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	IPAddress  *string        `json:"ipAddress,omitempty"`
	UserAgent  *string        `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
