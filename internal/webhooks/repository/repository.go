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
	ErrNotFound         = errors.New("webhook not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrNotRetryable     = errors.New("only failed or abandoned deliveries can be retried")
)

// StaleProcessing is how long a claimed delivery may stay in processing before
// another dispatcher run picks it up again.
const StaleProcessing = 10 * time.Minute

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Webhook struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	URL         string
	Events      []string
	IsActive    bool
	Secret      string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type CreateParams struct {
	TenantID    uuid.UUID
	URL         string
	Events      []string
	IsActive    bool
	Secret      string
	Description *string
	CreatedBy   *uuid.UUID
}

type UpdateParams struct {
	URL         *string
	Events      *[]string
	IsActive    *bool
	Secret      *string
	Description *string
}

type Delivery struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	WebhookID     uuid.UUID
	EventType     string
	Payload       []byte
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastAttemptAt *time.Time
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}

type NewDelivery struct {
	TenantID  uuid.UUID
	WebhookID uuid.UUID
	EventType string
	Payload   []byte
}

// Claimed is a delivery locked for sending, with its webhook target.
type Claimed struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	WebhookID    uuid.UUID
	EventType    string
	Payload      []byte
	AttemptCount int
	URL          string
	Secret       string
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Success       bool
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	NextAttemptAt time.Time
}

const webhookColumns = `w.id, w.tenant_id, w.url, w.events, w.is_active, w.secret, w.description, w.created_at, w.updated_at`

func scanWebhook(row pgx.Row) (Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.TenantID, &w.URL, &w.Events, &w.IsActive, &w.Secret, &w.Description, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Webhook, int, error) {
	f := db.TenantScoped("w", tenantID)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks w `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhooks: %w", err)
	}
	query := `SELECT ` + webhookColumns + ` FROM webhooks w ` + f.SQL() +
		` ORDER BY w.created_at DESC LIMIT ` + f.Arg(limit) + ` OFFSET ` + f.Arg(offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	out := make([]Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Webhook, error) {
	f := db.NewFilter()
	f.Row("w", id, tenantID)
	w, err := scanWebhook(r.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks w `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Webhook{}, ErrNotFound
	}
	if err != nil {
		return Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhooks (tenant_id, url, events, is_active, secret, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.TenantID, p.URL, p.Events, p.IsActive, p.Secret, p.Description, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert webhook: %w", err)
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("url", p.URL)
	set.SetPtr("events", p.Events)
	set.SetPtr("is_active", p.IsActive)
	set.SetPtr("secret", p.Secret)
	set.SetPtr("description", p.Description)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE webhooks SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhooks SET deleted_at = now(), is_active = false
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const subscribersQuery = `SELECT w.id FROM webhooks w
	WHERE w.tenant_id = $1 AND w.deleted_at IS NULL AND w.is_active
		AND ($2 = ANY(w.events) OR '*' = ANY(w.events))`

// Subscribers returns the tenant's active webhooks listening for eventType.
func (r *Repository) Subscribers(ctx context.Context, tenantID uuid.UUID, eventType string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, subscribersQuery, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("load webhook subscribers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// Enqueue writes pending deliveries in one batch.
func (r *Repository) Enqueue(ctx context.Context, deliveries []NewDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(`
			INSERT INTO webhook_deliveries (tenant_id, webhook_id, event_type, payload, status, attempt_count, next_attempt_at)
			VALUES ($1, $2, $3, $4, 'pending', 0, now())`,
			d.TenantID, d.WebhookID, d.EventType, d.Payload)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("enqueue webhook deliveries: %w", err)
	}
	return nil
}

func (r *Repository) ListDeliveries(ctx context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]Delivery, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_deliveries WHERE tenant_id = $1 AND webhook_id = $2`,
		tenantID, webhookID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count webhook deliveries: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, webhook_id, event_type, payload, status, attempt_count, next_attempt_at,
			last_attempt_at, status_code, response_body, error, created_at
		FROM webhook_deliveries
		WHERE tenant_id = $1 AND webhook_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, tenantID, webhookID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]Delivery, 0)
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.WebhookID, &d.EventType, &d.Payload, &d.Status, &d.AttemptCount,
			&d.NextAttemptAt, &d.LastAttemptAt, &d.StatusCode, &d.ResponseBody, &d.Error, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Reset puts a failed or abandoned delivery back in the pending queue with a fresh attempt budget.
func (r *Repository) Reset(ctx context.Context, tenantID, webhookID, deliveryID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'pending', attempt_count = 0, next_attempt_at = now(), error = NULL
		WHERE id = $1 AND tenant_id = $2 AND webhook_id = $3 AND status IN ('failed', 'abandoned')`,
		deliveryID, tenantID, webhookID)
	if err != nil {
		return fmt.Errorf("reset webhook delivery: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err = r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id = $1 AND tenant_id = $2 AND webhook_id = $3)`,
		deliveryID, tenantID, webhookID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check webhook delivery: %w", err)
	}
	if !exists {
		return ErrDeliveryNotFound
	}
	return ErrNotRetryable
}

// claimQuery locks due deliveries of live webhooks, marks them processing and
// counts the attempt. $1 = now, $2 = limit, $3 = the status to pick up,
// $4 = the attempt ceiling.
const claimQuery = `
	WITH due AS (
		SELECT d.id
		FROM webhook_deliveries d
		JOIN webhooks w ON w.id = d.webhook_id AND w.tenant_id = d.tenant_id
		WHERE w.deleted_at IS NULL AND w.is_active
			AND d.attempt_count < $4
			AND (
				(d.status = $3 AND d.next_attempt_at <= $1)
				OR (d.status = 'processing' AND d.last_attempt_at < $1 - make_interval(secs => $5))
			)
		ORDER BY d.next_attempt_at
		LIMIT $2
		FOR UPDATE OF d SKIP LOCKED
	)
	UPDATE webhook_deliveries d
	SET status = 'processing', attempt_count = d.attempt_count + 1, last_attempt_at = $1
	FROM due, webhooks w
	WHERE d.id = due.id AND w.id = d.webhook_id AND w.tenant_id = d.tenant_id
	RETURNING d.id, d.tenant_id, d.webhook_id, d.event_type, d.payload, d.attempt_count, w.url, w.secret`

// ClaimPending claims pending deliveries. Deliveries stuck in processing are reclaimed.
func (r *Repository) ClaimPending(ctx context.Context, now time.Time, limit, maxAttempts int) ([]Claimed, error) {
	return r.claim(ctx, now, limit, "pending", maxAttempts)
}

// ClaimRetries claims failed deliveries whose backoff has elapsed.
func (r *Repository) ClaimRetries(ctx context.Context, now time.Time, limit, maxAttempts int) ([]Claimed, error) {
	return r.claim(ctx, now, limit, "failed", maxAttempts)
}

func (r *Repository) claim(ctx context.Context, now time.Time, limit int, status string, maxAttempts int) ([]Claimed, error) {
	rows, err := r.pool.Query(ctx, claimQuery, now, limit, status, maxAttempts, StaleProcessing.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim %s webhook deliveries: %w", status, err)
	}
	defer rows.Close()

	var out []Claimed
	for rows.Next() {
		var c Claimed
		if err := rows.Scan(&c.ID, &c.TenantID, &c.WebhookID, &c.EventType, &c.Payload, &c.AttemptCount, &c.URL, &c.Secret); err != nil {
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Finish stores the outcome of an attempt.
func (r *Repository) Finish(ctx context.Context, tenantID, id uuid.UUID, o Outcome) error {
	status := "failed"
	if o.Success {
		status = "success"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $3, status_code = $4, response_body = $5, error = $6, next_attempt_at = $7
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status, o.StatusCode, o.ResponseBody, o.Error, o.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("finish webhook delivery: %w", err)
	}
	return nil
}

const abandonQuery = `
	UPDATE webhook_deliveries SET status = 'abandoned'
	WHERE attempt_count >= $1
		AND (status = 'failed' OR (status = 'processing' AND last_attempt_at < $2))`

// Abandon gives up on deliveries that used every attempt, including ones whose
// last attempt never reported back.
func (r *Repository) Abandon(ctx context.Context, now time.Time, maxAttempts int) (int, error) {
	tag, err := r.pool.Exec(ctx, abandonQuery, maxAttempts, now.Add(-StaleProcessing))
	if err != nil {
		return 0, fmt.Errorf("abandon webhook deliveries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
