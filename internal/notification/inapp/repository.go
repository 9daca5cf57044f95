package inapp

import (
	"context"
	"fmt"
	"time"

	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate      = "notification.inapp.repository.create"
	opList        = "notification.inapp.repository.list"
	opCountUnread = "notification.inapp.repository.count_unread"
	opMarkRead    = "notification.inapp.repository.mark_read"
	opMarkAllRead = "notification.inapp.repository.mark_all_read"
	opDelete      = "notification.inapp.repository.delete"
	opCleanup     = "notification.inapp.repository.cleanup"

	errNotificationNotFound = "notification not found"
)

type Notification struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"userId"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	EntityType *string    `json:"entityType,omitempty"`
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type CreateParams struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	Type       string
	Title      string
	Message    string
	EntityType *string
	EntityID   *uuid.UUID
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, user_id, type, title, message, entity_type, entity_id, is_read, read_at, created_at`

func (r *Repository) Create(ctx context.Context, p CreateParams) (Notification, error) {
	if p.TenantID == uuid.Nil || p.UserID == uuid.Nil {
		return Notification{}, apperr.Validation("tenantId and userId are required").WithOp(opCreate)
	}

	var n Notification
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (tenant_id, user_id, type, title, message, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+notificationColumns,
		p.TenantID, p.UserID, p.Type, p.Title, p.Message, p.EntityType, p.EntityID,
	).Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &n.IsRead, &n.ReadAt, &n.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return Notification{}, apperr.Validation("invalid tenantId or userId").WithOp(opCreate)
	}
	if err != nil {
		return Notification{}, apperr.Wrap(apperr.KindInternal, "create notification failed", err).WithOp(opCreate)
	}
	return n, nil
}

func (r *Repository) List(ctx context.Context, tenantID, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	f := db.NewFilter()
	f.Where("tenant_id = " + f.Arg(tenantID))
	f.Where("user_id = " + f.Arg(userID))
	if unreadOnly {
		f.Where("is_read = FALSE")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "count notifications failed", err).WithOp(opList)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications `+f.SQL()+
		` ORDER BY created_at DESC LIMIT `+f.Arg(limit)+` OFFSET `+f.Arg(offset), f.Args()...)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "list notifications failed", err).WithOp(opList)
	}
	defer rows.Close()

	items := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &n.IsRead, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, 0, apperr.Wrap(apperr.KindInternal, "scan notification failed", err).WithOp(opList)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "iterate notifications failed", err).WithOp(opList)
	}
	return items, total, nil
}

func (r *Repository) CountUnread(ctx context.Context, tenantID, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE tenant_id = $1 AND user_id = $2 AND is_read = FALSE`, tenantID, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count unread notifications failed", err).WithOp(opCountUnread)
	}
	return count, nil
}

func (r *Repository) MarkRead(ctx context.Context, tenantID, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, now())
		WHERE id = $1 AND tenant_id = $2 AND user_id = $3`, id, tenantID, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark notification read failed", err).WithOp(opMarkRead)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(errNotificationNotFound).WithOp(opMarkRead)
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = now()
		WHERE tenant_id = $1 AND user_id = $2 AND is_read = FALSE`, tenantID, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "mark all notifications read failed", err).WithOp(opMarkAllRead)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) Delete(ctx context.Context, tenantID, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND tenant_id = $2 AND user_id = $3`, id, tenantID, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete notification failed", err).WithOp(opDelete)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(errNotificationNotFound).WithOp(opDelete)
	}
	return nil
}

// Cleanup deletes read notifications created before readCutoff and every
// notification created before anyCutoff.
func (r *Repository) Cleanup(ctx context.Context, readCutoff, anyCutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE (is_read = TRUE AND created_at < $1) OR created_at < $2`, readCutoff, anyCutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", opCleanup, err)
	}
	return tag.RowsAffected(), nil
}
