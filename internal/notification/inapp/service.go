package inapp

import (
	"context"
	"time"

	"crm_saas_backend/internal/notification/sse"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, p CreateParams) (Notification, error)
	List(ctx context.Context, tenantID, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Notification, int, error)
	CountUnread(ctx context.Context, tenantID, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, tenantID, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, tenantID, userID, id uuid.UUID) error
	Cleanup(ctx context.Context, readCutoff, anyCutoff time.Time) (int64, error)
}

// Pusher delivers a live event to a connected user.
type Pusher interface {
	Publish(userID uuid.UUID, event sse.Event)
}

type Service struct {
	repo Store
	sse  Pusher
	log  *logger.Logger
	now  func() time.Time
}

func NewService(repo Store, pusher Pusher, log *logger.Logger) *Service {
	return &Service{repo: repo, sse: pusher, log: log, now: time.Now}
}

type SendParams struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	Type       string
	Title      string
	Message    string
	EntityType string
	EntityID   *uuid.UUID
}

// Send persists the notification and pushes it via SSE if the user is online.
func (s *Service) Send(ctx context.Context, p SendParams) (Notification, error) {
	var entityType *string
	if p.EntityType != "" {
		entityType = &p.EntityType
	}

	n, err := s.repo.Create(ctx, CreateParams{
		TenantID:   p.TenantID,
		UserID:     p.UserID,
		Type:       p.Type,
		Title:      p.Title,
		Message:    p.Message,
		EntityType: entityType,
		EntityID:   p.EntityID,
	})
	if err != nil {
		s.log.WithContext(ctx).Error("failed to persist in-app notification", "error", err, "userId", p.UserID)
		return Notification{}, err
	}

	if s.sse != nil {
		s.sse.Publish(p.UserID, sse.Event{Type: sse.EventNotification, Message: n.Title, Data: n})
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, tenantID, userID uuid.UUID, unreadOnly bool, page httpkit.PageParams) (httpkit.Paged[Notification], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, tenantID, userID, unreadOnly, page.Limit(), page.Offset())
	if err != nil {
		return httpkit.Paged[Notification]{}, err
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) UnreadCount(ctx context.Context, tenantID, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, tenantID, userID)
}

func (s *Service) MarkRead(ctx context.Context, tenantID, userID, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, tenantID, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, tenantID, userID)
}

func (s *Service) Delete(ctx context.Context, tenantID, userID, id uuid.UUID) error {
	return s.repo.Delete(ctx, tenantID, userID, id)
}

// Cleanup removes read notifications older than retention and any
// notification older than three times retention.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	now := s.now()
	return s.repo.Cleanup(ctx, now.Add(-retention), now.Add(-3*retention))
}
