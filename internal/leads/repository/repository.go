package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	customersrepo "crm_saas_backend/internal/customers/repository"
	oppsrepo "crm_saas_backend/internal/opportunities/repository"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("lead not found")
	ErrAlreadyConverted = errors.New("lead already converted")
)

const StatusConverted = "Converted"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	Title                 string
	FirstName             *string
	LastName              *string
	Email                 *string
	Phone                 *string
	Mobile                *string
	CompanyName           *string
	JobTitle              *string
	Industry              *string
	EmployeeCount         *int
	AddressLine1          *string
	City                  *string
	State                 *string
	Country               *string
	Status                string
	Source                *string
	SourceDetail          *string
	Rating                string
	Score                 int
	EstimatedValue        *float64
	Description           *string
	AssignedToUserID      *uuid.UUID
	AssignedAt            *time.Time
	ConvertedToCustomerID *uuid.UUID
	ConvertedAt           *time.Time
	CreatedBy             *uuid.UUID
	CreatedAt             time.Time
	UpdatedAt             *time.Time
}

type CreateParams struct {
	TenantID         uuid.UUID
	Title            string
	FirstName        *string
	LastName         *string
	Email            *string
	Phone            *string
	Mobile           *string
	CompanyName      *string
	JobTitle         *string
	Industry         *string
	EmployeeCount    *int
	AddressLine1     *string
	City             *string
	State            *string
	Country          *string
	Status           string
	Source           *string
	SourceDetail     *string
	Rating           string
	Score            int
	EstimatedValue   *float64
	Description      *string
	AssignedToUserID *uuid.UUID
	CreatedBy        *uuid.UUID
}

type UpdateParams struct {
	Title          *string
	FirstName      *string
	LastName       *string
	Email          *string
	Phone          *string
	Mobile         *string
	CompanyName    *string
	JobTitle       *string
	Industry       *string
	EmployeeCount  *int
	AddressLine1   *string
	City           *string
	State          *string
	Country        *string
	Status         *string
	Source         *string
	SourceDetail   *string
	Rating         *string
	Score          *int
	EstimatedValue *float64
	Description    *string
}

type ListParams struct {
	Search           string
	Status           *string
	Source           *string
	Rating           *string
	AssignedToUserID *uuid.UUID
	Viewer           httpkit.Identity
	SortBy           string
	SortOrder        string
	Limit            int
	Offset           int
}

// ConvertParams carries the records created by a conversion. Opportunity.CustomerID is
// filled in with the new customer.
type ConvertParams struct {
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	Customer    customersrepo.CreateParams
	Opportunity *oppsrepo.CreateParams
}

type ConvertResult struct {
	CustomerID    uuid.UUID
	OpportunityID *uuid.UUID
}

const leadColumns = `l.id, l.tenant_id, l.title, l.first_name, l.last_name, l.email, l.phone, l.mobile,
	l.company_name, l.job_title, l.industry, l.employee_count, l.address_line1, l.city, l.state, l.country,
	l.status, l.source, l.source_detail, l.rating, l.score, l.estimated_value::float8, l.description,
	l.assigned_to_user_id, l.assigned_at, l.converted_to_customer_id, l.converted_at, l.created_by,
	l.created_at, l.updated_at`

var sortColumns = map[string]string{
	"title":          "l.title",
	"status":         "l.status",
	"rating":         "l.rating",
	"score":          "l.score",
	"estimatedvalue": "l.estimated_value",
	"createdat":      "l.created_at",
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Title, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Mobile,
		&l.CompanyName, &l.JobTitle, &l.Industry, &l.EmployeeCount, &l.AddressLine1, &l.City, &l.State, &l.Country,
		&l.Status, &l.Source, &l.SourceDetail, &l.Rating, &l.Score, &l.EstimatedValue, &l.Description,
		&l.AssignedToUserID, &l.AssignedAt, &l.ConvertedToCustomerID, &l.ConvertedAt, &l.CreatedBy,
		&l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Lead, int, error) {
	f := db.TenantScoped("l", tenantID)
	f.Equals("l.status", p.Status)
	f.Equals("l.source", p.Source)
	f.Equals("l.rating", p.Rating)
	f.Equals("l.assigned_to_user_id", p.AssignedToUserID)
	f.Search(p.Search, "l.title", "l.first_name", "l.last_name", "l.email", "l.company_name")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "l.assigned_to_user_id", "l")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads l `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	query := `SELECT ` + leadColumns + ` FROM leads l ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "l.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	out := make([]Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Lead, error) {
	f := db.NewFilter()
	f.Row("l", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "l.assigned_to_user_id", "l")
	}
	l, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads l `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var assignedAt *time.Time
	if p.AssignedToUserID != nil {
		now := time.Now().UTC()
		assignedAt = &now
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, title, first_name, last_name, email, phone, mobile, company_name, job_title,
			industry, employee_count, address_line1, city, state, country, status, source, source_detail, rating,
			score, estimated_value, description, assigned_to_user_id, assigned_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25)
		RETURNING id`,
		p.TenantID, p.Title, p.FirstName, p.LastName, p.Email, p.Phone, p.Mobile, p.CompanyName, p.JobTitle,
		p.Industry, p.EmployeeCount, p.AddressLine1, p.City, p.State, p.Country, p.Status, p.Source, p.SourceDetail, p.Rating,
		p.Score, p.EstimatedValue, p.Description, p.AssignedToUserID, assignedAt, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert lead: %w", err)
	}
	return id, nil
}

// Update leaves converted leads untouched and reports ErrAlreadyConverted for them.
func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("title", p.Title)
	set.SetPtr("first_name", p.FirstName)
	set.SetPtr("last_name", p.LastName)
	set.SetPtr("email", p.Email)
	set.SetPtr("phone", p.Phone)
	set.SetPtr("mobile", p.Mobile)
	set.SetPtr("company_name", p.CompanyName)
	set.SetPtr("job_title", p.JobTitle)
	set.SetPtr("industry", p.Industry)
	set.SetPtr("employee_count", p.EmployeeCount)
	set.SetPtr("address_line1", p.AddressLine1)
	set.SetPtr("city", p.City)
	set.SetPtr("state", p.State)
	set.SetPtr("country", p.Country)
	set.SetPtr("status", p.Status)
	set.SetPtr("source", p.Source)
	set.SetPtr("source_detail", p.SourceDetail)
	set.SetPtr("rating", p.Rating)
	set.SetPtr("score", p.Score)
	set.SetPtr("estimated_value", p.EstimatedValue)
	set.SetPtr("description", p.Description)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)
	f.Where("status <> " + f.Arg(StatusConverted))

	tag, err := r.pool.Exec(ctx, `UPDATE leads SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConverted(ctx, tenantID, id)
	}
	return nil
}

// Assign sets the assignee and stamps assigned_at.
func (r *Repository) Assign(ctx context.Context, tenantID, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET assigned_to_user_id = $3, assigned_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("assign lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Convert creates the customer, the optional opportunity, and marks the lead
// converted in one transaction. The lead row is locked first.
func (r *Repository) Convert(ctx context.Context, p ConvertParams) (ConvertResult, error) {
	var out ConvertResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `
			SELECT status FROM leads WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL FOR UPDATE`,
			p.LeadID, p.TenantID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock lead: %w", err)
		}
		if status == StatusConverted {
			return ErrAlreadyConverted
		}

		customerID, _, err := customersrepo.InsertCustomer(ctx, tx, p.Customer)
		if err != nil {
			return err
		}
		out.CustomerID = customerID

		if p.Opportunity != nil {
			opp := *p.Opportunity
			opp.CustomerID = customerID
			oppID, err := oppsrepo.InsertOpportunity(ctx, tx, opp)
			if err != nil {
				return err
			}
			out.OpportunityID = &oppID
		}

		_, err = tx.Exec(ctx, `
			UPDATE leads SET status = $3, converted_to_customer_id = $4, converted_at = now(), updated_at = now()
			WHERE id = $1 AND tenant_id = $2`, p.LeadID, p.TenantID, StatusConverted, customerID)
		if err != nil {
			return fmt.Errorf("mark lead converted: %w", err)
		}
		return nil
	})
	return out, err
}

func (r *Repository) missOrConverted(ctx context.Context, tenantID, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM leads WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check lead: %w", err)
	}
	return ErrAlreadyConverted
}
