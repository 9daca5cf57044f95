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
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("campaign status does not allow this change")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Campaign struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Name                string
	Description         *string
	Type                string
	Status              string
	StartDate           *time.Time
	EndDate             *time.Time
	Budget              *float64
	ActualCost          *float64
	Currency            *string
	ExpectedRevenue     *float64
	ActualRevenue       *float64
	ExpectedLeads       *int
	ExpectedConversions *int
	TotalSent           int
	TotalDelivered      int
	TotalOpened         int
	TotalClicked        int
	TotalBounced        int
	TotalUnsubscribed   int
	TotalLeadsGenerated int
	TotalConversions    int
	OwnerID             *uuid.UUID
	TargetAudience      *string
	Tags                *string
	Subject             *string
	Content             *string
	SegmentID           *uuid.UUID
	ScheduledDate       *time.Time
	SentDate            *time.Time
	CreatedBy           *uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}

type CreateParams struct {
	TenantID            uuid.UUID
	Name                string
	Description         *string
	Type                string
	Status              string
	StartDate           *time.Time
	EndDate             *time.Time
	Budget              *float64
	Currency            *string
	ExpectedRevenue     *float64
	ExpectedLeads       *int
	ExpectedConversions *int
	OwnerID             *uuid.UUID
	TargetAudience      *string
	Tags                *string
	Subject             *string
	Content             *string
	SegmentID           *uuid.UUID
	ScheduledDate       *time.Time
	CreatedBy           *uuid.UUID
}

type UpdateParams struct {
	Name                *string
	Description         *string
	Type                *string
	StartDate           *time.Time
	EndDate             *time.Time
	Budget              *float64
	Currency            *string
	ExpectedRevenue     *float64
	ExpectedLeads       *int
	ExpectedConversions *int
	OwnerID             *uuid.UUID
	TargetAudience      *string
	Tags                *string
	Subject             *string
	Content             *string
	SegmentID           *uuid.UUID
	ScheduledDate       *time.Time
}

type MetricsParams struct {
	TotalSent           *int
	TotalDelivered      *int
	TotalOpened         *int
	TotalClicked        *int
	TotalBounced        *int
	TotalUnsubscribed   *int
	TotalLeadsGenerated *int
	TotalConversions    *int
	ActualCost          *float64
	ActualRevenue       *float64
}

const (
	RecipientSending   = "Sending"
	RecipientDelivered = "Delivered"
	RecipientBounced   = "Bounced"
)

// SendResult holds the counters of a completed send.
type SendResult struct {
	Sent      int
	Delivered int
	Bounced   int
	SentAt    time.Time
}

type ListParams struct {
	Status    *string
	Type      *string
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

const campaignColumns = `c.id, c.tenant_id, c.name, c.description, c.type, c.status, c.start_date, c.end_date,
	c.budget, c.actual_cost, c.currency, c.expected_revenue, c.actual_revenue, c.expected_leads, c.expected_conversions,
	c.total_sent, c.total_delivered, c.total_opened, c.total_clicked, c.total_bounced, c.total_unsubscribed,
	c.total_leads_generated, c.total_conversions, c.owner_id, c.target_audience, c.tags, c.subject, c.content,
	c.segment_id, c.scheduled_date, c.sent_date, c.created_by, c.created_at, c.updated_at`

var sortColumns = map[string]string{
	"name":          "c.name",
	"status":        "c.status",
	"type":          "c.type",
	"startdate":     "c.start_date",
	"scheduleddate": "c.scheduled_date",
	"createdat":     "c.created_at",
}

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Type, &c.Status, &c.StartDate, &c.EndDate,
		&c.Budget, &c.ActualCost, &c.Currency, &c.ExpectedRevenue, &c.ActualRevenue, &c.ExpectedLeads, &c.ExpectedConversions,
		&c.TotalSent, &c.TotalDelivered, &c.TotalOpened, &c.TotalClicked, &c.TotalBounced, &c.TotalUnsubscribed,
		&c.TotalLeadsGenerated, &c.TotalConversions, &c.OwnerID, &c.TargetAudience, &c.Tags, &c.Subject, &c.Content,
		&c.SegmentID, &c.ScheduledDate, &c.SentDate, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Campaign, int, error) {
	f := db.TenantScoped("c", tenantID)
	f.Equals("c.status", p.Status)
	f.Equals("c.type", p.Type)
	f.Search(p.Search, "c.name", "c.description", "c.tags")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM campaigns c `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns c ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "c.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Campaign, error) {
	f := db.NewFilter()
	f.Row("c", id, tenantID)
	c, err := scanCampaign(r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns c `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (tenant_id, name, description, type, status, start_date, end_date, budget, currency,
			expected_revenue, expected_leads, expected_conversions, owner_id, target_audience, tags, subject, content,
			segment_id, scheduled_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id`,
		p.TenantID, p.Name, p.Description, p.Type, p.Status, p.StartDate, p.EndDate, p.Budget, p.Currency,
		p.ExpectedRevenue, p.ExpectedLeads, p.ExpectedConversions, p.OwnerID, p.TargetAudience, p.Tags, p.Subject, p.Content,
		p.SegmentID, p.ScheduledDate, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert campaign: %w", err)
	}
	return id, nil
}

// Update applies p to a campaign whose status is one of editable.
func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams, editable []string) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", p.Name)
	set.SetPtr("description", p.Description)
	set.SetPtr("type", p.Type)
	set.SetPtr("start_date", p.StartDate)
	set.SetPtr("end_date", p.EndDate)
	set.SetPtr("budget", p.Budget)
	set.SetPtr("currency", p.Currency)
	set.SetPtr("expected_revenue", p.ExpectedRevenue)
	set.SetPtr("expected_leads", p.ExpectedLeads)
	set.SetPtr("expected_conversions", p.ExpectedConversions)
	set.SetPtr("owner_id", p.OwnerID)
	set.SetPtr("target_audience", p.TargetAudience)
	set.SetPtr("tags", p.Tags)
	set.SetPtr("subject", p.Subject)
	set.SetPtr("content", p.Content)
	set.SetPtr("segment_id", p.SegmentID)
	set.SetPtr("scheduled_date", p.ScheduledDate)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)
	f.Where("status = ANY(" + f.Arg(editable) + ")")

	tag, err := r.pool.Exec(ctx, `UPDATE campaigns SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrInvalidTransition)
	}
	return nil
}

// Transition moves a campaign to status when its current status is one of from.
func (r *Repository) Transition(ctx context.Context, tenantID, id uuid.UUID, status string, from []string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND status = ANY($4)`,
		id, tenantID, status, from)
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrInvalidTransition)
	}
	return nil
}

func (r *Repository) UpdateMetrics(ctx context.Context, tenantID, id uuid.UUID, p MetricsParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("total_sent", p.TotalSent)
	set.SetPtr("total_delivered", p.TotalDelivered)
	set.SetPtr("total_opened", p.TotalOpened)
	set.SetPtr("total_clicked", p.TotalClicked)
	set.SetPtr("total_bounced", p.TotalBounced)
	set.SetPtr("total_unsubscribed", p.TotalUnsubscribed)
	set.SetPtr("total_leads_generated", p.TotalLeadsGenerated)
	set.SetPtr("total_conversions", p.TotalConversions)
	set.SetPtr("actual_cost", p.ActualCost)
	set.SetPtr("actual_revenue", p.ActualRevenue)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE campaigns SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update campaign metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const claimQuery = `
	UPDATE campaigns SET status = 'InProgress', updated_at = now()
	WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND type = 'Email'
		AND status IN ('Scheduled', 'InProgress') AND sent_date IS NULL
		AND (scheduled_date IS NULL OR scheduled_date <= $3)`

// Claim moves a due Email campaign to InProgress. A campaign already InProgress
// stays claimable so a retried or resumed send picks up where it stopped; the
// per-recipient claim keeps anyone from being mailed twice.
func (r *Repository) Claim(ctx context.Context, tenantID, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, claimQuery, id, tenantID, now)
	if err != nil {
		return fmt.Errorf("claim campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrInvalidTransition)
	}
	return nil
}

const claimRecipientQuery = `
	INSERT INTO campaign_recipients (campaign_id, tenant_id, contact_id, email, status, attempted_at)
	VALUES ($1, $2, $3, $4, 'Sending', $5)
	ON CONFLICT (campaign_id, contact_id) DO NOTHING`

// ClaimRecipient reports whether this call is the one that may mail the contact.
func (r *Repository) ClaimRecipient(ctx context.Context, tenantID, campaignID, contactID uuid.UUID, email string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, claimRecipientQuery, campaignID, tenantID, contactID, email, now)
	if err != nil {
		return false, fmt.Errorf("claim campaign recipient: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FinishRecipient(ctx context.Context, tenantID, campaignID, contactID uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaign_recipients SET status = $4
		WHERE campaign_id = $1 AND tenant_id = $2 AND contact_id = $3`,
		campaignID, tenantID, contactID, status)
	if err != nil {
		return fmt.Errorf("finish campaign recipient: %w", err)
	}
	return nil
}

const completeSendQuery = `
	UPDATE campaigns c SET status = 'Completed', sent_date = $3,
		total_sent = r.sent, total_delivered = r.delivered, total_bounced = r.bounced,
		updated_at = now()
	FROM (
		SELECT COUNT(*) AS sent,
			COUNT(*) FILTER (WHERE status = 'Delivered') AS delivered,
			COUNT(*) FILTER (WHERE status = 'Bounced') AS bounced
		FROM campaign_recipients WHERE campaign_id = $1 AND tenant_id = $2
	) r
	WHERE c.id = $1 AND c.tenant_id = $2 AND c.deleted_at IS NULL AND c.status = 'InProgress'
	RETURNING c.total_sent, c.total_delivered, c.total_bounced`

// CompleteSend marks a running campaign Completed and sets its counters from the
// recipient log, so sends spread over several attempts are counted once.
func (r *Repository) CompleteSend(ctx context.Context, tenantID, id uuid.UUID, sentAt time.Time) (SendResult, error) {
	res := SendResult{SentAt: sentAt}
	err := r.pool.QueryRow(ctx, completeSendQuery, id, tenantID, sentAt).Scan(&res.Sent, &res.Delivered, &res.Bounced)
	if errors.Is(err, pgx.ErrNoRows) {
		return SendResult{}, r.missOr(ctx, tenantID, id, ErrInvalidTransition)
	}
	if err != nil {
		return SendResult{}, fmt.Errorf("complete campaign send: %w", err)
	}
	return res, nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) missOr(ctx context.Context, tenantID, id uuid.UUID, otherwise error) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
		id, tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return otherwise
}
