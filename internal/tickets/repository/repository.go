package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceName keys the per-tenant ticket counter.
const SequenceName = "ticket"

var (
	ErrNotFound      = errors.New("ticket not found")
	ErrAlreadyClosed = errors.New("ticket already closed")
	ErrPauseState    = errors.New("ticket sla pause state unchanged")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Ticket struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	TicketNumber        string
	Subject             string
	Description         *string
	CustomerID          *uuid.UUID
	CustomerName        *string
	ContactID           *uuid.UUID
	Status              string
	Priority            string
	Type                string
	Channel             *string
	Category            *string
	SubCategory         *string
	Tags                *string
	Resolution          *string
	AssignedToUserID    *uuid.UUID
	DueDate             *time.Time
	FirstResponseDate   *time.Time
	ResolvedDate        *time.Time
	ClosedDate          *time.Time
	SatisfactionRating  *int
	SatisfactionComment *string
	SLABreached         bool
	SLAPausedAt         *time.Time
	SLAPauseReason      *string
	SLAPausedMinutes    int
	EscalationCount     int
	CreatedBy           *uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}

type CreateParams struct {
	TenantID         uuid.UUID
	Subject          string
	Description      *string
	CustomerID       *uuid.UUID
	ContactID        *uuid.UUID
	Status           string
	Priority         string
	Type             string
	Channel          *string
	Category         *string
	SubCategory      *string
	Tags             *string
	AssignedToUserID *uuid.UUID
	DueDate          *time.Time
	CreatedBy        *uuid.UUID
}

type UpdateParams struct {
	Subject           *string
	Description       *string
	Priority          *string
	Type              *string
	DueDate           *time.Time
	Category          *string
	Status            *string
	FirstResponseDate *time.Time
	ResolvedDate      *time.Time
	AssignedToUserID  *uuid.UUID
}

type CloseParams struct {
	Resolution          *string
	SatisfactionRating  *int
	SatisfactionComment *string
	ClosedAt            time.Time
}

type EscalateParams struct {
	Priority string
	Status   string
	DueDate  *time.Time
}

type ListParams struct {
	Search           string
	Status           *string
	Priority         *string
	Type             *string
	AssignedToUserID *uuid.UUID
	CustomerID       *uuid.UUID
	SLABreached      *bool
	Viewer           httpkit.Identity
	SortBy           string
	SortOrder        string
	Limit            int
	Offset           int
}

// Breach is a ticket newly flagged by MarkBreached, with its assignee's address.
type Breach struct {
	TenantID      uuid.UUID
	TicketID      uuid.UUID
	TicketNumber  string
	Subject       string
	Priority      string
	DueDate       time.Time
	AssigneeID    *uuid.UUID
	AssigneeEmail *string
}

const ticketColumns = `t.id, t.tenant_id, t.ticket_number, t.subject, t.description, t.customer_id, cu.name, t.contact_id,
	t.status, t.priority, t.type, t.channel, t.category, t.sub_category, t.tags, t.resolution, t.assigned_to_user_id,
	t.due_date, t.first_response_date, t.resolved_date, t.closed_date, t.satisfaction_rating, t.satisfaction_comment,
	t.sla_breached, t.sla_paused_at, t.sla_pause_reason, t.sla_paused_minutes, t.escalation_count, t.created_by,
	t.created_at, t.updated_at`

const ticketFrom = ` FROM tickets t
	LEFT JOIN customers cu ON cu.id = t.customer_id AND cu.tenant_id = t.tenant_id AND cu.deleted_at IS NULL `

var sortColumns = map[string]string{
	"ticketnumber": "t.ticket_number",
	"subject":      "t.subject",
	"status":       "t.status",
	"priority":     "t.priority",
	"duedate":      "t.due_date",
	"createdat":    "t.created_at",
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.TenantID, &t.TicketNumber, &t.Subject, &t.Description, &t.CustomerID, &t.CustomerName, &t.ContactID,
		&t.Status, &t.Priority, &t.Type, &t.Channel, &t.Category, &t.SubCategory, &t.Tags, &t.Resolution, &t.AssignedToUserID,
		&t.DueDate, &t.FirstResponseDate, &t.ResolvedDate, &t.ClosedDate, &t.SatisfactionRating, &t.SatisfactionComment,
		&t.SLABreached, &t.SLAPausedAt, &t.SLAPauseReason, &t.SLAPausedMinutes, &t.EscalationCount, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Ticket, int, error) {
	f := db.TenantScoped("t", tenantID)
	f.Equals("t.status", p.Status)
	f.Equals("t.priority", p.Priority)
	f.Equals("t.type", p.Type)
	f.Equals("t.assigned_to_user_id", p.AssignedToUserID)
	f.Equals("t.customer_id", p.CustomerID)
	f.Equals("t.sla_breached", p.SLABreached)
	f.Search(p.Search, "t.ticket_number", "t.subject", "t.description")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "t.assigned_to_user_id", "t")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets t `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	query := `SELECT ` + ticketColumns + ticketFrom + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "t.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := make([]Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Ticket, error) {
	f := db.NewFilter()
	f.Row("t", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "t.assigned_to_user_id", "t")
	}
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, ErrNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Create draws the next TKT number and inserts the row in one transaction.
func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		seq, err := db.NextSequence(ctx, tx, p.TenantID, SequenceName)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO tickets (tenant_id, ticket_number, subject, description, customer_id, contact_id, status,
				priority, type, channel, category, sub_category, tags, assigned_to_user_id, due_date, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`,
			p.TenantID, db.FormatNumber("TKT", seq), p.Subject, p.Description, p.CustomerID, p.ContactID, p.Status,
			p.Priority, p.Type, p.Channel, p.Category, p.SubCategory, p.Tags, p.AssignedToUserID, p.DueDate, p.CreatedBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		return nil
	})
	return id, err
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("subject", p.Subject)
	set.SetPtr("description", p.Description)
	set.SetPtr("priority", p.Priority)
	set.SetPtr("type", p.Type)
	set.SetPtr("due_date", p.DueDate)
	set.SetPtr("category", p.Category)
	set.SetPtr("status", p.Status)
	set.SetPtr("assigned_to_user_id", p.AssignedToUserID)
	if p.FirstResponseDate != nil {
		set.Raw("first_response_date = COALESCE(first_response_date, " + f.Arg(*p.FirstResponseDate) + ")")
	}
	if p.ResolvedDate != nil {
		set.Raw("resolved_date = COALESCE(resolved_date, " + f.Arg(*p.ResolvedDate) + ")")
	}
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close only touches tickets that are still open, so two concurrent closes cannot both win.
func (r *Repository) Close(ctx context.Context, tenantID, id uuid.UUID, p CloseParams) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = 'Closed', closed_date = $3, resolved_date = COALESCE(resolved_date, $3),
			resolution = COALESCE($4, resolution), satisfaction_rating = COALESCE($5, satisfaction_rating),
			satisfaction_comment = COALESCE($6, satisfaction_comment), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND status <> 'Closed'`,
		id, tenantID, p.ClosedAt, p.Resolution, p.SatisfactionRating, p.SatisfactionComment)
	if err != nil {
		return fmt.Errorf("close ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrAlreadyClosed)
	}
	return nil
}

func (r *Repository) Escalate(ctx context.Context, tenantID, id uuid.UUID, p EscalateParams) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET escalation_count = escalation_count + 1, priority = $3, status = $4,
			due_date = COALESCE($5, due_date), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND status <> 'Closed'`,
		id, tenantID, p.Priority, p.Status, p.DueDate)
	if err != nil {
		return fmt.Errorf("escalate ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrAlreadyClosed)
	}
	return nil
}

func (r *Repository) PauseSLA(ctx context.Context, tenantID, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET sla_paused_at = $3, sla_pause_reason = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND sla_paused_at IS NULL`,
		id, tenantID, at, reason)
	if err != nil {
		return fmt.Errorf("pause ticket sla: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOr(ctx, tenantID, id, ErrPauseState)
	}
	return nil
}

const resumeQuery = `
	UPDATE tickets t SET
		sla_paused_minutes = t.sla_paused_minutes + p.mins,
		due_date = t.due_date + make_interval(mins => p.mins),
		sla_paused_at = NULL,
		sla_pause_reason = NULL,
		updated_at = now()
	FROM (
		SELECT id, GREATEST(FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - sla_paused_at)) / 60), 0)::int AS mins
		FROM tickets
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND sla_paused_at IS NOT NULL
		FOR UPDATE
	) p
	WHERE t.id = p.id
	RETURNING p.mins`

// ResumeSLA credits the paused minutes and shifts the due date by the same amount.
func (r *Repository) ResumeSLA(ctx context.Context, tenantID, id uuid.UUID, at time.Time) (int, error) {
	var mins int
	err := r.pool.QueryRow(ctx, resumeQuery, id, tenantID, at).Scan(&mins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missOr(ctx, tenantID, id, ErrPauseState)
	}
	if err != nil {
		return 0, fmt.Errorf("resume ticket sla: %w", err)
	}
	return mins, nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const breachQuery = `
	WITH due AS (
		SELECT id FROM tickets
		WHERE deleted_at IS NULL AND sla_breached = false AND sla_paused_at IS NULL
			AND status NOT IN ('Resolved', 'Closed') AND due_date < $1
		ORDER BY due_date
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	), flagged AS (
		UPDATE tickets t SET sla_breached = true, updated_at = now()
		FROM due WHERE t.id = due.id
		RETURNING t.id, t.tenant_id, t.ticket_number, t.subject, t.priority, t.due_date, t.assigned_to_user_id
	)
	SELECT f.tenant_id, f.id, f.ticket_number, f.subject, f.priority, f.due_date, f.assigned_to_user_id, u.email
	FROM flagged f
	LEFT JOIN users u ON u.id = f.assigned_to_user_id AND u.tenant_id = f.tenant_id AND u.deleted_at IS NULL AND u.status = 'Active'`

// MarkBreached flags up to limit overdue tickets across all tenants and returns them.
func (r *Repository) MarkBreached(ctx context.Context, now time.Time, limit int) ([]Breach, error) {
	rows, err := r.pool.Query(ctx, breachQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("mark breached tickets: %w", err)
	}
	defer rows.Close()

	var out []Breach
	for rows.Next() {
		var b Breach
		if err := rows.Scan(&b.TenantID, &b.TicketID, &b.TicketNumber, &b.Subject, &b.Priority, &b.DueDate,
			&b.AssigneeID, &b.AssigneeEmail); err != nil {
			return nil, fmt.Errorf("scan breach: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) missOr(ctx context.Context, tenantID, id uuid.UUID, otherwise error) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
		id, tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check ticket: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return otherwise
}
