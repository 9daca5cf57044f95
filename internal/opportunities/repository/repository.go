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

var ErrNotFound = errors.New("opportunity not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Opportunity struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Name              string
	CustomerID        uuid.UUID
	CustomerName      *string
	ContactID         *uuid.UUID
	ContactName       *string
	Amount            float64
	Probability       int
	Stage             string
	Type              string
	ExpectedCloseDate *time.Time
	ActualCloseDate   *time.Time
	Description       *string
	Competitors       *string
	NextSteps         *string
	LossReason        *string
	AssignedToUserID  *uuid.UUID
	CreatedBy         *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         *time.Time
}

type CreateParams struct {
	TenantID          uuid.UUID
	Name              string
	CustomerID        uuid.UUID
	ContactID         *uuid.UUID
	Amount            float64
	Probability       int
	Stage             string
	Type              string
	ExpectedCloseDate *time.Time
	Description       *string
	Competitors       *string
	NextSteps         *string
	AssignedToUserID  *uuid.UUID
	CreatedBy         *uuid.UUID
}

type UpdateParams struct {
	Name              *string
	CustomerID        *uuid.UUID
	ContactID         *uuid.UUID
	Amount            *float64
	Probability       *int
	Stage             *string
	Type              *string
	ExpectedCloseDate *time.Time
	ActualCloseDate   *time.Time
	Description       *string
	Competitors       *string
	NextSteps         *string
	LossReason        *string
	AssignedToUserID  *uuid.UUID
}

type ListParams struct {
	Search     string
	Stage      *string
	CustomerID *uuid.UUID
	Viewer     httpkit.Identity
	SortBy     string
	SortOrder  string
	Limit      int
	Offset     int
}

const opportunityColumns = `o.id, o.tenant_id, o.name, o.customer_id, cu.name, o.contact_id,
	NULLIF(TRIM(COALESCE(ct.first_name, '') || ' ' || COALESCE(ct.last_name, '')), ''),
	o.amount::float8, o.probability, o.stage, o.type, o.expected_close_date, o.actual_close_date,
	o.description, o.competitors, o.next_steps, o.loss_reason, o.assigned_to_user_id, o.created_by,
	o.created_at, o.updated_at`

const opportunityFrom = ` FROM opportunities o
	LEFT JOIN customers cu ON cu.id = o.customer_id AND cu.tenant_id = o.tenant_id
	LEFT JOIN contacts ct ON ct.id = o.contact_id AND ct.tenant_id = o.tenant_id AND ct.deleted_at IS NULL `

var sortColumns = map[string]string{
	"name":              "o.name",
	"amount":            "o.amount",
	"stage":             "o.stage",
	"probability":       "o.probability",
	"expectedclosedate": "o.expected_close_date",
	"createdat":         "o.created_at",
}

func scanOpportunity(row pgx.Row) (Opportunity, error) {
	var o Opportunity
	err := row.Scan(&o.ID, &o.TenantID, &o.Name, &o.CustomerID, &o.CustomerName, &o.ContactID, &o.ContactName,
		&o.Amount, &o.Probability, &o.Stage, &o.Type, &o.ExpectedCloseDate, &o.ActualCloseDate,
		&o.Description, &o.Competitors, &o.NextSteps, &o.LossReason, &o.AssignedToUserID, &o.CreatedBy,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Opportunity, int, error) {
	f := db.TenantScoped("o", tenantID)
	f.Equals("o.stage", p.Stage)
	f.Equals("o.customer_id", p.CustomerID)
	f.Search(p.Search, "o.name", "o.description")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "o.assigned_to_user_id", "o")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM opportunities o `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count opportunities: %w", err)
	}

	query := `SELECT ` + opportunityColumns + opportunityFrom + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "o.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	out := make([]Opportunity, 0)
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Opportunity, error) {
	f := db.NewFilter()
	f.Row("o", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "o.assigned_to_user_id", "o")
	}
	o, err := scanOpportunity(r.pool.QueryRow(ctx, `SELECT `+opportunityColumns+opportunityFrom+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Opportunity{}, ErrNotFound
	}
	if err != nil {
		return Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	return o, nil
}

// Exists reports whether a live opportunity with id belongs to the tenant.
func (r *Repository) Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM opportunities WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
		id, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check opportunity: %w", err)
	}
	return ok, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	return InsertOpportunity(ctx, r.pool, p)
}

// InsertOpportunity writes one row through q so lead conversion can share its transaction.
func InsertOpportunity(ctx context.Context, q db.Querier, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO opportunities (tenant_id, name, customer_id, contact_id, amount, probability, stage, type,
			expected_close_date, description, competitors, next_steps, assigned_to_user_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		p.TenantID, p.Name, p.CustomerID, p.ContactID, p.Amount, p.Probability, p.Stage, p.Type,
		p.ExpectedCloseDate, p.Description, p.Competitors, p.NextSteps, p.AssignedToUserID, p.CreatedBy,
	).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return uuid.Nil, fmt.Errorf("insert opportunity: customer or contact missing: %w", err)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert opportunity: %w", err)
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", p.Name)
	set.SetPtr("customer_id", p.CustomerID)
	set.SetPtr("contact_id", p.ContactID)
	set.SetPtr("amount", p.Amount)
	set.SetPtr("probability", p.Probability)
	set.SetPtr("stage", p.Stage)
	set.SetPtr("type", p.Type)
	set.SetPtr("expected_close_date", p.ExpectedCloseDate)
	set.SetPtr("actual_close_date", p.ActualCloseDate)
	set.SetPtr("description", p.Description)
	set.SetPtr("competitors", p.Competitors)
	set.SetPtr("next_steps", p.NextSteps)
	set.SetPtr("loss_reason", p.LossReason)
	set.SetPtr("assigned_to_user_id", p.AssignedToUserID)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE opportunities SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE opportunities SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete opportunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
