package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_saas_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("attachment not found")
	ErrUnknownEntity  = errors.New("unknown entity type")
	ErrQuotaExceeded  = errors.New("storage quota exceeded")
	ErrTenantNotFound = errors.New("tenant not found")
)

// entityTables maps attachable entity types to their tables.
var entityTables = map[string]string{
	"Lead":        "leads",
	"Customer":    "customers",
	"Contact":     "contacts",
	"Opportunity": "opportunities",
	"Ticket":      "tickets",
	"Activity":    "activities",
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Attachment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	EntityType  string
	EntityID    uuid.UUID
	FileKey     string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedBy  *uuid.UUID
	CreatedAt   time.Time
}

type CreateParams struct {
	TenantID    uuid.UUID
	EntityType  string
	EntityID    uuid.UUID
	FileKey     string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedBy  *uuid.UUID
}

const columns = `a.id, a.tenant_id, a.entity_type, a.entity_id, a.file_key, a.file_name, a.content_type, a.size_bytes, a.uploaded_by, a.created_at`

func scan(row pgx.Row) (Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.TenantID, &a.EntityType, &a.EntityID, &a.FileKey, &a.FileName, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt)
	return a, err
}

func existsQuery(table string) string {
	return `SELECT EXISTS (SELECT 1 FROM ` + table + ` e WHERE e.id = $1 AND e.tenant_id = $2 AND e.deleted_at IS NULL)`
}

// EntityExists reports whether the record is live in the tenant.
func (r *Repository) EntityExists(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID) (bool, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return false, ErrUnknownEntity
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, existsQuery(table), id, tenantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return exists, nil
}

// quotaQuery locks the tenant row so concurrent uploads are counted one at a time.
const quotaQuery = `
	SELECT t.max_storage_bytes,
		COALESCE((SELECT SUM(a.size_bytes) FROM attachments a WHERE a.tenant_id = t.id), 0)
	FROM tenants t
	WHERE t.id = $1
	FOR UPDATE OF t`

// Create inserts the attachment unless it would push the tenant past its storage quota.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Attachment, error) {
	var out Attachment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var limit, used int64
		if err := tx.QueryRow(ctx, quotaQuery, p.TenantID).Scan(&limit, &used); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTenantNotFound
			}
			return fmt.Errorf("load storage quota: %w", err)
		}
		if limit > 0 && used+p.SizeBytes > limit {
			return ErrQuotaExceeded
		}
		a, err := scan(tx.QueryRow(ctx, `
			INSERT INTO attachments AS a (tenant_id, entity_type, entity_id, file_key, file_name, content_type, size_bytes, uploaded_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+columns,
			p.TenantID, p.EntityType, p.EntityID, p.FileKey, p.FileName, p.ContentType, p.SizeBytes, p.UploadedBy))
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+` FROM attachments a
		WHERE a.tenant_id = $1 AND a.entity_type = $2 AND a.entity_id = $3
		ORDER BY a.created_at DESC`, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Attachment, error) { return scan(row) })
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Attachment, error) {
	a, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM attachments a WHERE a.id = $1 AND a.tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (r *Repository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
