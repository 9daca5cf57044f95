// Package maintenance hard-deletes soft-deleted rows once they are past retention.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"crm_saas_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type step struct {
	table string
	// guard is an extra predicate for rows still referenced without ON DELETE.
	guard string
}

// purgeOrder deletes children before the rows they reference.
var purgeOrder = []step{
	{table: "activities"},
	{table: "tickets"},
	{table: "opportunities"},
	{table: "leads"},
	{table: "contacts"},
	{table: "customers", guard: "NOT EXISTS (SELECT 1 FROM opportunities o WHERE o.customer_id = x.id)"},
	{table: "campaigns"},
	{table: "segments"},
	{table: "workflows"},
	{table: "webhooks"},
	{table: "roles"},
	{table: "users"},
	{table: "tenants"},
}

func purgeQuery(s step) string {
	q := `DELETE FROM ` + s.table + ` x WHERE x.deleted_at IS NOT NULL AND x.deleted_at < $1`
	if s.guard != "" {
		q += ` AND ` + s.guard
	}
	return q
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Purger struct {
	db        execer
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func NewPurger(pool *pgxpool.Pool, retention time.Duration, log *logger.Logger) *Purger {
	return &Purger{db: pool, retention: retention, log: log, now: time.Now}
}

// Purge runs every step and returns the total rows removed. A failing step
// stops the run; rows already removed stay removed.
func (p *Purger) Purge(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	total := 0
	for _, s := range purgeOrder {
		tag, err := p.db.Exec(ctx, purgeQuery(s), cutoff)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", s.table, err)
		}
		if n := int(tag.RowsAffected()); n > 0 {
			p.log.Info("purged soft-deleted rows", "table", s.table, "rows", n)
			total += n
		}
	}
	return total, nil
}
