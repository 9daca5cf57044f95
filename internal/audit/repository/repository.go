package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm_saas_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Entry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	OldValues  map[string]any
	NewValues  map[string]any
	IPAddress  *string
	UserAgent  *string
	CreatedAt  time.Time
}

type InsertParams struct {
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	OldValues  map[string]any
	NewValues  map[string]any
	IPAddress  *string
	UserAgent  *string
}

type ListParams struct {
	EntityType string
	EntityID   *uuid.UUID
	UserID     *uuid.UUID
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) error {
	oldJSON, err := marshalNullable(p.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalNullable(p.NewValues)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (tenant_id, user_id, action, entity_type, entity_id, old_values, new_values, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.TenantID, p.UserID, p.Action, p.EntityType, p.EntityID, oldJSON, newJSON, p.IPAddress, p.UserAgent)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Entry, int, error) {
	f := db.NewFilter()
	f.Where("a.tenant_id = " + f.Arg(tenantID))
	if p.EntityType != "" {
		f.Where("a.entity_type = " + f.Arg(p.EntityType))
	}
	if p.EntityID != nil {
		f.Where("a.entity_id = " + f.Arg(*p.EntityID))
	}
	if p.UserID != nil {
		f.Where("a.user_id = " + f.Arg(*p.UserID))
	}
	if p.Action != "" {
		f.Where("a.action = " + f.Arg(p.Action))
	}
	if p.From != nil {
		f.Where("a.created_at >= " + f.Arg(*p.From))
	}
	if p.To != nil {
		f.Where("a.created_at <= " + f.Arg(*p.To))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs a `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.tenant_id, a.user_id, a.action, a.entity_type, a.entity_id,
			a.old_values, a.new_values, a.ip_address, a.user_agent, a.created_at
		FROM audit_logs a `+f.SQL()+`
		ORDER BY a.created_at DESC
		LIMIT `+f.Arg(p.Limit)+` OFFSET `+f.Arg(p.Offset), f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var oldRaw, newRaw []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID,
			&oldRaw, &newRaw, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit log: %w", err)
		}
		if len(oldRaw) > 0 {
			_ = json.Unmarshal(oldRaw, &e.OldValues)
		}
		if len(newRaw) > 0 {
			_ = json.Unmarshal(newRaw, &e.NewValues)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
