package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	customersrepo "crm_saas_backend/internal/customers/repository"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("contact not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Contact struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CustomerID   *uuid.UUID
	CustomerName *string
	FirstName    string
	LastName     string
	Email        *string
	Phone        *string
	Mobile       *string
	JobTitle     *string
	Department   *string
	IsPrimary    bool
	Status       string
	AddressLine1 *string
	AddressLine2 *string
	City         *string
	State        *string
	PostalCode   *string
	Country      *string
	LinkedInURL  *string
	Notes        *string
	OwnerUserID  *uuid.UUID
	CreatedBy    *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

type CreateParams struct {
	TenantID     uuid.UUID
	CustomerID   *uuid.UUID
	FirstName    string
	LastName     string
	Email        *string
	Phone        *string
	Mobile       *string
	JobTitle     *string
	Department   *string
	IsPrimary    bool
	Status       string
	AddressLine1 *string
	AddressLine2 *string
	City         *string
	State        *string
	PostalCode   *string
	Country      *string
	LinkedInURL  *string
	Notes        *string
	OwnerUserID  *uuid.UUID
	CreatedBy    *uuid.UUID
}

type UpdateParams struct {
	CustomerID   *uuid.UUID
	FirstName    *string
	LastName     *string
	Email        *string
	Phone        *string
	Mobile       *string
	JobTitle     *string
	Department   *string
	IsPrimary    *bool
	Status       *string
	AddressLine1 *string
	AddressLine2 *string
	City         *string
	State        *string
	PostalCode   *string
	Country      *string
	LinkedInURL  *string
	Notes        *string
	OwnerUserID  *uuid.UUID
}

type ListParams struct {
	Search     string
	Status     *string
	CustomerID *uuid.UUID
	Viewer     httpkit.Identity
	SortBy     string
	SortOrder  string
	Limit      int
	Offset     int
}

// TimelineEntry is one activity, ticket or opportunity linked to a contact.
type TimelineEntry struct {
	Type       string    `json:"type"`
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// HealthInputs are the raw counts behind the health score.
type HealthInputs struct {
	Status             string
	LastActivityAt     *time.Time
	RecentActivities   int
	OpenTickets        int
	WonOpportunities   int
	RecentActivityFrom time.Time
}

const contactColumns = `ct.id, ct.tenant_id, ct.customer_id, cu.name, ct.first_name, ct.last_name, ct.email, ct.phone,
	ct.mobile, ct.job_title, ct.department, ct.is_primary, ct.status, ct.address_line1, ct.address_line2,
	ct.city, ct.state, ct.postal_code, ct.country, ct.linkedin_url, ct.notes, ct.owner_user_id, ct.created_by,
	ct.created_at, ct.updated_at`

const contactFrom = ` FROM contacts ct
	LEFT JOIN customers cu ON cu.id = ct.customer_id AND cu.tenant_id = ct.tenant_id AND cu.deleted_at IS NULL `

var sortColumns = map[string]string{
	"firstname": "ct.first_name",
	"lastname":  "ct.last_name",
	"email":     "ct.email",
	"status":    "ct.status",
	"createdat": "ct.created_at",
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.CustomerName, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Mobile, &c.JobTitle, &c.Department, &c.IsPrimary, &c.Status, &c.AddressLine1, &c.AddressLine2,
		&c.City, &c.State, &c.PostalCode, &c.Country, &c.LinkedInURL, &c.Notes, &c.OwnerUserID, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Contact, int, error) {
	f := db.TenantScoped("ct", tenantID)
	f.Equals("ct.status", p.Status)
	f.Equals("ct.customer_id", p.CustomerID)
	f.Search(p.Search, "ct.first_name", "ct.last_name", "ct.email", "ct.job_title")
	if p.Viewer != nil {
		scope.Apply(f, p.Viewer, "ct.owner_user_id", "ct")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts ct `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}

	query := `SELECT ` + contactColumns + contactFrom + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "ct.last_name, ct.first_name") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID, viewer httpkit.Identity) (Contact, error) {
	f := db.NewFilter()
	f.Row("ct", id, tenantID)
	if viewer != nil {
		scope.Apply(f, viewer, "ct.owner_user_id", "ct")
	}
	c, err := scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+contactFrom+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// Exists reports whether a live contact with id belongs to the tenant.
func (r *Repository) Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contacts WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
		id, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check contact: %w", err)
	}
	return ok, nil
}

// Create inserts the contact. A primary contact clears the flag on its siblings in the same transaction.
func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if p.CustomerID != nil {
			if err := requireCustomer(ctx, tx, p.TenantID, *p.CustomerID); err != nil {
				return err
			}
		}
		if p.IsPrimary && p.CustomerID != nil {
			if err := clearPrimary(ctx, tx, p.TenantID, *p.CustomerID, uuid.Nil); err != nil {
				return err
			}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO contacts (tenant_id, customer_id, first_name, last_name, email, phone, mobile, job_title,
				department, is_primary, status, address_line1, address_line2, city, state, postal_code, country,
				linkedin_url, notes, owner_user_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			RETURNING id`,
			p.TenantID, p.CustomerID, p.FirstName, p.LastName, p.Email, p.Phone, p.Mobile, p.JobTitle,
			p.Department, p.IsPrimary, p.Status, p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode, p.Country,
			p.LinkedInURL, p.Notes, p.OwnerUserID, p.CreatedBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
		return nil
	})
	return id, err
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var customerID *uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT customer_id FROM contacts WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL FOR UPDATE`,
			id, tenantID).Scan(&customerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock contact: %w", err)
		}

		if p.CustomerID != nil {
			if err := requireCustomer(ctx, tx, tenantID, *p.CustomerID); err != nil {
				return err
			}
			customerID = p.CustomerID
		}
		if p.IsPrimary != nil && *p.IsPrimary && customerID != nil {
			if err := clearPrimary(ctx, tx, tenantID, *customerID, id); err != nil {
				return err
			}
		}

		f := db.NewFilter()
		set := db.NewSetBuilder(f)
		set.SetPtr("customer_id", p.CustomerID)
		set.SetPtr("first_name", p.FirstName)
		set.SetPtr("last_name", p.LastName)
		set.SetPtr("email", p.Email)
		set.SetPtr("phone", p.Phone)
		set.SetPtr("mobile", p.Mobile)
		set.SetPtr("job_title", p.JobTitle)
		set.SetPtr("department", p.Department)
		set.SetPtr("is_primary", p.IsPrimary)
		set.SetPtr("status", p.Status)
		set.SetPtr("address_line1", p.AddressLine1)
		set.SetPtr("address_line2", p.AddressLine2)
		set.SetPtr("city", p.City)
		set.SetPtr("state", p.State)
		set.SetPtr("postal_code", p.PostalCode)
		set.SetPtr("country", p.Country)
		set.SetPtr("linkedin_url", p.LinkedInURL)
		set.SetPtr("notes", p.Notes)
		set.SetPtr("owner_user_id", p.OwnerUserID)
		set.Raw("updated_at = now()")
		f.Row("", id, tenantID)

		if _, err := tx.Exec(ctx, `UPDATE contacts SET `+set.SQL()+` `+f.SQL(), f.Args()...); err != nil {
			return fmt.Errorf("update contact: %w", err)
		}
		return nil
	})
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts SET deleted_at = now(), is_primary = false
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const timelineQuery = `
	SELECT * FROM (
		SELECT 'Activity' AS type, a.id, a.subject AS title, a.status,
			COALESCE(a.completed_at, a.start_time, a.due_date, a.created_at) AS occurred_at
		FROM activities a
		WHERE a.tenant_id = $1 AND a.contact_id = $2 AND a.deleted_at IS NULL
		UNION ALL
		SELECT 'Ticket', t.id, t.ticket_number || ' ' || t.subject, t.status, t.created_at
		FROM tickets t
		WHERE t.tenant_id = $1 AND t.contact_id = $2 AND t.deleted_at IS NULL
		UNION ALL
		SELECT 'Opportunity', o.id, o.name, o.stage, COALESCE(o.actual_close_date, o.created_at)
		FROM opportunities o
		WHERE o.tenant_id = $1 AND o.contact_id = $2 AND o.deleted_at IS NULL
	) entries
	ORDER BY occurred_at DESC
	LIMIT $3`

func (r *Repository) Timeline(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]TimelineEntry, error) {
	rows, err := r.pool.Query(ctx, timelineQuery, tenantID, id, limit)
	if err != nil {
		return nil, fmt.Errorf("contact timeline: %w", err)
	}
	defer rows.Close()

	out := make([]TimelineEntry, 0)
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.Type, &e.ID, &e.Title, &e.Status, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const healthQuery = `
	SELECT ct.status,
		(SELECT MAX(COALESCE(a.completed_at, a.created_at)) FROM activities a
			WHERE a.tenant_id = ct.tenant_id AND a.contact_id = ct.id AND a.deleted_at IS NULL),
		(SELECT COUNT(*) FROM activities a
			WHERE a.tenant_id = ct.tenant_id AND a.contact_id = ct.id AND a.deleted_at IS NULL AND a.created_at >= $3),
		(SELECT COUNT(*) FROM tickets t
			WHERE t.tenant_id = ct.tenant_id AND t.contact_id = ct.id AND t.deleted_at IS NULL
			  AND t.status NOT IN ('Resolved', 'Closed')),
		(SELECT COUNT(*) FROM opportunities o
			WHERE o.tenant_id = ct.tenant_id AND o.contact_id = ct.id AND o.deleted_at IS NULL AND o.stage = 'ClosedWon')
	FROM contacts ct
	WHERE ct.id = $1 AND ct.tenant_id = $2 AND ct.deleted_at IS NULL`

// HealthInputs gathers the counts behind the health score. Activities count from since.
func (r *Repository) HealthInputs(ctx context.Context, tenantID, id uuid.UUID, since time.Time) (HealthInputs, error) {
	in := HealthInputs{RecentActivityFrom: since}
	err := r.pool.QueryRow(ctx, healthQuery, id, tenantID, since).
		Scan(&in.Status, &in.LastActivityAt, &in.RecentActivities, &in.OpenTickets, &in.WonOpportunities)
	if errors.Is(err, pgx.ErrNoRows) {
		return HealthInputs{}, ErrNotFound
	}
	if err != nil {
		return HealthInputs{}, fmt.Errorf("contact health: %w", err)
	}
	return in, nil
}

func requireCustomer(ctx context.Context, q db.Querier, tenantID, customerID uuid.UUID) error {
	ok, err := customersrepo.Exists(ctx, q, tenantID, customerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCustomerNotFound
	}
	return nil
}

func clearPrimary(ctx context.Context, q db.Querier, tenantID, customerID, keep uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE contacts SET is_primary = false, updated_at = now()
		WHERE tenant_id = $1 AND customer_id = $2 AND id <> $3 AND is_primary AND deleted_at IS NULL`,
		tenantID, customerID, keep)
	if err != nil {
		return fmt.Errorf("clear primary contact: %w", err)
	}
	return nil
}
