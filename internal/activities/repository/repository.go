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

var (
	ErrNotFound         = errors.New("activity not found")
	ErrAlreadyCompleted = errors.New("activity already completed")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Activity struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Type             string
	Status           string
	Priority         string
	Subject          string
	Description      *string
	StartTime        *time.Time
	EndTime          *time.Time
	DueDate          *time.Time
	ReminderAt       *time.Time
	ReminderSent     bool
	IsCompleted      bool
	CompletedAt      *time.Time
	ContactID        *uuid.UUID
	ContactName      *string
	DealID           *uuid.UUID
	DealName         *string
	RelatedToType    *string
	RelatedToID      *uuid.UUID
	AssignedToUserID *uuid.UUID
	CreatedBy        *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

type CreateParams struct {
	TenantID         uuid.UUID
	Type             string
	Status           string
	Priority         string
	Subject          string
	Description      *string
	StartTime        *time.Time
	EndTime          *time.Time
	DueDate          *time.Time
	ReminderAt       *time.Time
	CompletedAt      *time.Time
	ContactID        *uuid.UUID
	DealID           *uuid.UUID
	RelatedToType    *string
	RelatedToID      *uuid.UUID
	AssignedToUserID *uuid.UUID
	CreatedBy        *uuid.UUID
}

type UpdateParams struct {
	Type             *string
	Status           *string
	Priority         *string
	Subject          *string
	Description      *string
	StartTime        *time.Time
	EndTime          *time.Time
	DueDate          *time.Time
	ReminderAt       *time.Time
	ContactID        *uuid.UUID
	DealID           *uuid.UUID
	AssignedToUserID *uuid.UUID
	// CompletedAt marks the activity completed; ResetReminder re-arms the reminder job.
	CompletedAt   *time.Time
	ResetReminder bool
}

type ListParams struct {
	Search     string
	Type       *string
	Status     *string
	ContactID  *uuid.UUID
	DealID     *uuid.UUID
	AssignedTo *uuid.UUID
	DueFrom    *time.Time
	DueTo      *time.Time
	Viewer     httpkit.Identity
	SortBy     string
	SortOrder  string
	Limit      int
	Offset     int
}

// Reminder is an activity claimed by ClaimReminders.
type Reminder struct {
	TenantID      uuid.UUID
	ActivityID    uuid.UUID
	Subject       string
	Type          string
	DueDate       *time.Time
	AssigneeID    *uuid.UUID
	AssigneeEmail *string
}

const activityColumns = `a.id, a.tenant_id, a.type, a.status, a.priority, a.subject, a.description, a.start_time, a.end_time,
	a.due_date, a.reminder_at, a.reminder_sent, a.is_completed, a.completed_at, a.contact_id,
	CASE WHEN ct.id IS NULL THEN NULL ELSE ct.first_name || ' ' || ct.last_name END, a.deal_id, o.name,
	a.related_to_type, a.related_to_id, a.assigned_to_user_id, a.created_by, a.created_at, a.updated_at`

const activityFrom = ` FROM activities a
	LEFT JOIN contacts ct ON ct.id = a.contact_id AND ct.tenant_id = a.tenant_id AND ct.deleted_at IS NULL
	LEFT JOIN opportunities o ON o.id = a.deal_id AND o.tenant_id = a.tenant_id AND o.deleted_at IS NULL `

var sortColumns = map[string]string{
	"subject":   "a.subject",
	"type":      "a.type",
	"status":    "a.status",
	"priority":  "a.priority",
	"duedate":   "a.due_date",
	"starttime": "a.start_time",
	"createdat": "a.created_at",
}

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.TenantID, &a.Type, &a.Status, &a.Priority, &a.Subject, &a.Description, &a.StartTime, &a.EndTime,
		&a.DueDate, &a.ReminderAt, &a.ReminderSent, &a.IsCompleted, &a.CompletedAt, &a.ContactID,
		&a.ContactName, &a.DealID, &a.DealName,
		&a.RelatedToType, &a.RelatedToID, &a.AssignedToUserID, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Activity, int, error) {
	f := db.TenantScoped("a", tenantID)
	f.Equals("a.type", p.Type)
	f.Equals("a.status", p.Status)
	f.Equals("a.contact_id", p.ContactID)
	f.Equals("a.deal_id", p.DealID)
	f.Equals("a.assigned_to_user_id", p.AssignedTo)
	if p.DueFrom != nil {
		f.Where("a.due_date >= " + f.Arg(*p.DueFrom))
	}
	if p.DueTo != nil {
		f.Where("a.due_date <= " + f.Arg(*p.DueTo))
	}
	f.Search(p.Search, "a.subject", "a.description")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "a.assigned_to_user_id", "a")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities a `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	query := `SELECT ` + activityColumns + activityFrom + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "a.due_date NULLS LAST, a.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	out := make([]Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Activity, error) {
	f := db.NewFilter()
	f.Row("a", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "a.assigned_to_user_id", "a")
	}
	a, err := scanActivity(r.pool.QueryRow(ctx, `SELECT `+activityColumns+activityFrom+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO activities (tenant_id, type, status, priority, subject, description, start_time, end_time, due_date,
			reminder_at, is_completed, completed_at, contact_id, deal_id, related_to_type, related_to_id,
			assigned_to_user_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		p.TenantID, p.Type, p.Status, p.Priority, p.Subject, p.Description, p.StartTime, p.EndTime, p.DueDate,
		p.ReminderAt, p.CompletedAt != nil, p.CompletedAt, p.ContactID, p.DealID, p.RelatedToType, p.RelatedToID,
		p.AssignedToUserID, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert activity: %w", err)
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("type", p.Type)
	set.SetPtr("status", p.Status)
	set.SetPtr("priority", p.Priority)
	set.SetPtr("subject", p.Subject)
	set.SetPtr("description", p.Description)
	set.SetPtr("start_time", p.StartTime)
	set.SetPtr("end_time", p.EndTime)
	set.SetPtr("due_date", p.DueDate)
	set.SetPtr("reminder_at", p.ReminderAt)
	set.SetPtr("contact_id", p.ContactID)
	set.SetPtr("deal_id", p.DealID)
	set.SetPtr("assigned_to_user_id", p.AssignedToUserID)
	if p.CompletedAt != nil {
		set.Raw("is_completed = true")
		set.Set(true, "completed_at", *p.CompletedAt)
	}
	if p.ResetReminder {
		set.Raw("reminder_sent = false")
	}
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE activities SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete flips an open activity to Completed.
func (r *Repository) Complete(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE activities SET status = 'Completed', is_completed = true, completed_at = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND status <> 'Completed'`,
		id, tenantID, at)
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM activities WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
			id, tenantID).Scan(&exists); err != nil {
			return fmt.Errorf("check activity: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyCompleted
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE activities SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const reminderQuery = `
	WITH due AS (
		SELECT id FROM activities
		WHERE deleted_at IS NULL AND reminder_sent = false AND status NOT IN ('Completed', 'Cancelled')
			AND (reminder_at <= $1 OR (reminder_at IS NULL AND due_date > $1 AND due_date <= $2))
		ORDER BY COALESCE(reminder_at, due_date)
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	), claimed AS (
		UPDATE activities a SET reminder_sent = true
		FROM due WHERE a.id = due.id
		RETURNING a.id, a.tenant_id, a.subject, a.type, a.due_date, a.assigned_to_user_id
	)
	SELECT c.tenant_id, c.id, c.subject, c.type, c.due_date, c.assigned_to_user_id, u.email
	FROM claimed c
	LEFT JOIN users u ON u.id = c.assigned_to_user_id AND u.tenant_id = c.tenant_id AND u.deleted_at IS NULL AND u.status = 'Active'`

// ClaimReminders marks up to limit due reminders as sent and returns them. A reminder is due when
// reminder_at has passed, or when there is no reminder_at and the due date falls within window.
func (r *Repository) ClaimReminders(ctx context.Context, now time.Time, window time.Duration, limit int) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, reminderQuery, now, now.Add(window), limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rm Reminder
		if err := rows.Scan(&rm.TenantID, &rm.ActivityID, &rm.Subject, &rm.Type, &rm.DueDate, &rm.AssigneeID, &rm.AssigneeEmail); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}
