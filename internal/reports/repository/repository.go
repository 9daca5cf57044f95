// Package repository runs the tenant-scoped aggregate queries behind reports.
// Every query filters on tenant_id = $1 and a half-open [$2, $3) window.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StageTotals aggregates opportunities created in the window by stage.
type StageTotals struct {
	Stage    string
	Count    int
	Amount   float64
	Weighted float64
}

type StatusCount struct {
	Status string
	Count  int
}

// TicketBucket aggregates tickets by status and priority. Hour sums cover only
// tickets that have the matching timestamp.
type TicketBucket struct {
	Status             string
	Priority           string
	Count              int
	Breached           int
	Resolved           int
	ResolutionHours    float64
	Responded          int
	FirstResponseHours float64
}

type UserTotals struct {
	UserID            uuid.UUID
	UserName          string
	ActivitiesCreated int
	TasksCompleted    int
	DealsClosed       int
	Revenue           float64
}

const pipelineQuery = `
	SELECT o.stage, COUNT(*), COALESCE(SUM(o.amount), 0)::float8,
		COALESCE(SUM(o.amount * o.probability / 100.0), 0)::float8
	FROM opportunities o
	WHERE o.tenant_id = $1 AND o.deleted_at IS NULL AND o.created_at >= $2 AND o.created_at < $3
	GROUP BY o.stage`

func (r *Repository) Pipeline(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]StageTotals, error) {
	rows, err := r.pool.Query(ctx, pipelineQuery, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("pipeline report: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StageTotals, error) {
		var s StageTotals
		err := row.Scan(&s.Stage, &s.Count, &s.Amount, &s.Weighted)
		return s, err
	})
}

const leadStatusQuery = `
	SELECT l.status, COUNT(*)
	FROM leads l
	WHERE l.tenant_id = $1 AND l.deleted_at IS NULL AND l.created_at >= $2 AND l.created_at < $3
	GROUP BY l.status`

func (r *Repository) LeadStatuses(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, leadStatusQuery, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("lead conversion report: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var s StatusCount
		err := row.Scan(&s.Status, &s.Count)
		return s, err
	})
}

const ticketQuery = `
	SELECT t.status, t.priority, COUNT(*),
		COUNT(*) FILTER (WHERE t.sla_breached),
		COUNT(t.resolved_date),
		COALESCE(SUM(EXTRACT(EPOCH FROM t.resolved_date - t.created_at) / 3600) FILTER (WHERE t.resolved_date IS NOT NULL), 0)::float8,
		COUNT(t.first_response_date),
		COALESCE(SUM(EXTRACT(EPOCH FROM t.first_response_date - t.created_at) / 3600) FILTER (WHERE t.first_response_date IS NOT NULL), 0)::float8
	FROM tickets t
	WHERE t.tenant_id = $1 AND t.deleted_at IS NULL AND t.created_at >= $2 AND t.created_at < $3
	GROUP BY t.status, t.priority`

func (r *Repository) Tickets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]TicketBucket, error) {
	rows, err := r.pool.Query(ctx, ticketQuery, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ticket analytics report: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TicketBucket, error) {
		var b TicketBucket
		err := row.Scan(&b.Status, &b.Priority, &b.Count, &b.Breached, &b.Resolved, &b.ResolutionHours, &b.Responded, &b.FirstResponseHours)
		return b, err
	})
}

const userActivityQuery = `
	SELECT u.id, trim(u.first_name || ' ' || u.last_name),
		(SELECT COUNT(*) FROM activities a
			WHERE a.tenant_id = u.tenant_id AND a.created_by = u.id AND a.deleted_at IS NULL
				AND a.created_at >= $2 AND a.created_at < $3),
		(SELECT COUNT(*) FROM activities a
			WHERE a.tenant_id = u.tenant_id AND a.assigned_to_user_id = u.id AND a.deleted_at IS NULL
				AND a.type = 'Task' AND a.status = 'Completed'
				AND a.completed_at >= $2 AND a.completed_at < $3),
		won.deals, won.revenue
	FROM users u
	CROSS JOIN LATERAL (
		SELECT COUNT(*) AS deals, COALESCE(SUM(o.amount), 0)::float8 AS revenue
		FROM opportunities o
		WHERE o.tenant_id = u.tenant_id AND o.assigned_to_user_id = u.id AND o.deleted_at IS NULL
			AND o.stage = 'ClosedWon' AND o.actual_close_date >= $2 AND o.actual_close_date < $3
	) won
	WHERE u.tenant_id = $1 AND u.deleted_at IS NULL AND u.status = 'Active'
	ORDER BY won.revenue DESC, u.last_name, u.first_name`

func (r *Repository) UserActivity(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]UserTotals, error) {
	rows, err := r.pool.Query(ctx, userActivityQuery, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("user activity report: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (UserTotals, error) {
		var u UserTotals
		err := row.Scan(&u.UserID, &u.UserName, &u.ActivitiesCreated, &u.TasksCompleted, &u.DealsClosed, &u.Revenue)
		return u, err
	})
}
