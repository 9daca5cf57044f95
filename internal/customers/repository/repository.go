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
	ErrNotFound      = errors.New("customer not found")
	ErrDuplicateCode = errors.New("customer code already exists")
)

// SequenceName is the tenant_sequences counter behind CUS-000001 codes.
const SequenceName = "customer"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Customer struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	CustomerCode     string
	Name             string
	Type             string
	Email            *string
	Phone            *string
	Mobile           *string
	Website          *string
	FirstName        *string
	LastName         *string
	Title            *string
	DateOfBirth      *time.Time
	CompanyName      *string
	TaxID            *string
	Industry         *string
	EmployeeCount    *int
	AnnualRevenue    *float64
	AddressLine1     *string
	AddressLine2     *string
	City             *string
	State            *string
	PostalCode       *string
	Country          *string
	Status           string
	Source           *string
	SourceDetail     *string
	Notes            *string
	AssignedToUserID *uuid.UUID
	CreatedBy        *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        *time.Time
	LifetimeValue    float64
}

// ContactRef is the short contact shape embedded in customer detail.
type ContactRef struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	JobTitle  *string   `json:"jobTitle,omitempty"`
	IsPrimary bool      `json:"isPrimary"`
	Status    string    `json:"status"`
}

type CreateParams struct {
	TenantID         uuid.UUID
	CustomerCode     *string
	Name             string
	Type             string
	Email            *string
	Phone            *string
	Mobile           *string
	Website          *string
	FirstName        *string
	LastName         *string
	Title            *string
	DateOfBirth      *time.Time
	CompanyName      *string
	TaxID            *string
	Industry         *string
	EmployeeCount    *int
	AnnualRevenue    *float64
	AddressLine1     *string
	AddressLine2     *string
	City             *string
	State            *string
	PostalCode       *string
	Country          *string
	Status           string
	Source           *string
	SourceDetail     *string
	Notes            *string
	AssignedToUserID *uuid.UUID
	CreatedBy        *uuid.UUID
}

type UpdateParams struct {
	CustomerCode     *string
	Name             *string
	Type             *string
	Email            *string
	Phone            *string
	Mobile           *string
	Website          *string
	FirstName        *string
	LastName         *string
	Title            *string
	DateOfBirth      *time.Time
	CompanyName      *string
	TaxID            *string
	Industry         *string
	EmployeeCount    *int
	AnnualRevenue    *float64
	AddressLine1     *string
	AddressLine2     *string
	City             *string
	State            *string
	PostalCode       *string
	Country          *string
	Status           *string
	Source           *string
	SourceDetail     *string
	Notes            *string
	AssignedToUserID *uuid.UUID
}

type ListParams struct {
	Search    string
	Status    *string
	Type      *string
	Viewer    httpkit.Identity
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

const customerColumns = `c.id, c.tenant_id, c.customer_code, c.name, c.type, c.email, c.phone, c.mobile, c.website,
	c.first_name, c.last_name, c.title, c.date_of_birth, c.company_name, c.tax_id, c.industry,
	c.employee_count, c.annual_revenue, c.address_line1, c.address_line2, c.city, c.state, c.postal_code,
	c.country, c.status, c.source, c.source_detail, c.notes, c.assigned_to_user_id, c.created_by,
	c.created_at, c.updated_at,
	COALESCE((SELECT SUM(o.amount) FROM opportunities o
		WHERE o.customer_id = c.id AND o.tenant_id = c.tenant_id AND o.stage = 'ClosedWon' AND o.deleted_at IS NULL), 0)`

var sortColumns = map[string]string{
	"name":         "c.name",
	"customercode": "c.customer_code",
	"status":       "c.status",
	"type":         "c.type",
	"createdat":    "c.created_at",
	"updatedat":    "c.updated_at",
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.CustomerCode, &c.Name, &c.Type, &c.Email, &c.Phone, &c.Mobile, &c.Website,
		&c.FirstName, &c.LastName, &c.Title, &c.DateOfBirth, &c.CompanyName, &c.TaxID, &c.Industry,
		&c.EmployeeCount, &c.AnnualRevenue, &c.AddressLine1, &c.AddressLine2, &c.City, &c.State, &c.PostalCode,
		&c.Country, &c.Status, &c.Source, &c.SourceDetail, &c.Notes, &c.AssignedToUserID, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt, &c.LifetimeValue)
	return c, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Customer, int, error) {
	f := db.TenantScoped("c", tenantID)
	f.Equals("c.status", p.Status)
	f.Equals("c.type", p.Type)
	f.Search(p.Search, "c.name", "c.customer_code", "c.email", "c.company_name")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "c.assigned_to_user_id", "c")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers c `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}

	query := `SELECT ` + customerColumns + ` FROM customers c ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "c.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	out := make([]Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Get loads one customer. A non-nil viewer applies the data scope; out-of-scope rows are ErrNotFound.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Customer, error) {
	f := db.NewFilter()
	f.Row("c", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "c.assigned_to_user_id", "c")
	}
	c, err := scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers c `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// Exists reports whether a live customer with id belongs to the tenant.
func (r *Repository) Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return Exists(ctx, r.pool, tenantID, id)
}

func Exists(ctx context.Context, q db.Querier, tenantID, id uuid.UUID) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
		id, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check customer: %w", err)
	}
	return ok, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		id, _, err = InsertCustomer(ctx, tx, p)
		return err
	})
	return id, err
}

// InsertCustomer assigns the next CUS code when none is given. Lead conversion calls it inside its own transaction.
func InsertCustomer(ctx context.Context, q db.Querier, p CreateParams) (uuid.UUID, string, error) {
	code := ""
	if p.CustomerCode != nil && *p.CustomerCode != "" {
		code = *p.CustomerCode
	} else {
		next, err := db.NextSequence(ctx, q, p.TenantID, SequenceName)
		if err != nil {
			return uuid.Nil, "", err
		}
		code = db.FormatNumber("CUS", next)
	}

	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO customers (tenant_id, customer_code, name, type, email, phone, mobile, website,
			first_name, last_name, title, date_of_birth, company_name, tax_id, industry, employee_count,
			annual_revenue, address_line1, address_line2, city, state, postal_code, country, status,
			source, source_detail, notes, assigned_to_user_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29)
		RETURNING id`,
		p.TenantID, code, p.Name, p.Type, p.Email, p.Phone, p.Mobile, p.Website,
		p.FirstName, p.LastName, p.Title, p.DateOfBirth, p.CompanyName, p.TaxID, p.Industry, p.EmployeeCount,
		p.AnnualRevenue, p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode, p.Country, p.Status,
		p.Source, p.SourceDetail, p.Notes, p.AssignedToUserID, p.CreatedBy,
	).Scan(&id)
	if db.IsUniqueViolation(err) {
		return uuid.Nil, "", ErrDuplicateCode
	}
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("insert customer: %w", err)
	}
	return id, code, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("customer_code", p.CustomerCode)
	set.SetPtr("name", p.Name)
	set.SetPtr("type", p.Type)
	set.SetPtr("email", p.Email)
	set.SetPtr("phone", p.Phone)
	set.SetPtr("mobile", p.Mobile)
	set.SetPtr("website", p.Website)
	set.SetPtr("first_name", p.FirstName)
	set.SetPtr("last_name", p.LastName)
	set.SetPtr("title", p.Title)
	set.SetPtr("date_of_birth", p.DateOfBirth)
	set.SetPtr("company_name", p.CompanyName)
	set.SetPtr("tax_id", p.TaxID)
	set.SetPtr("industry", p.Industry)
	set.SetPtr("employee_count", p.EmployeeCount)
	set.SetPtr("annual_revenue", p.AnnualRevenue)
	set.SetPtr("address_line1", p.AddressLine1)
	set.SetPtr("address_line2", p.AddressLine2)
	set.SetPtr("city", p.City)
	set.SetPtr("state", p.State)
	set.SetPtr("postal_code", p.PostalCode)
	set.SetPtr("country", p.Country)
	set.SetPtr("status", p.Status)
	set.SetPtr("source", p.Source)
	set.SetPtr("source_detail", p.SourceDetail)
	set.SetPtr("notes", p.Notes)
	set.SetPtr("assigned_to_user_id", p.AssignedToUserID)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE customers SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenOpportunities counts deals of the customer that are not closed.
func (r *Repository) OpenOpportunities(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM opportunities
		WHERE tenant_id = $1 AND customer_id = $2 AND deleted_at IS NULL
		  AND stage NOT IN ('ClosedWon', 'ClosedLost')`, tenantID, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open opportunities: %w", err)
	}
	return n, nil
}

func (r *Repository) Contacts(ctx context.Context, tenantID, customerID uuid.UUID) ([]ContactRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, first_name, last_name, email, phone, job_title, is_primary, status
		FROM contacts
		WHERE tenant_id = $1 AND customer_id = $2 AND deleted_at IS NULL
		ORDER BY is_primary DESC, last_name, first_name`, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list customer contacts: %w", err)
	}
	defer rows.Close()

	out := make([]ContactRef, 0)
	for rows.Next() {
		var c ContactRef
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.JobTitle, &c.IsPrimary, &c.Status); err != nil {
			return nil, fmt.Errorf("scan customer contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
