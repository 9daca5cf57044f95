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
	ErrNotFound  = errors.New("tenant not found")
	ErrDuplicate = errors.New("tenant identifier already exists")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool exposes the pool so callers can compose a transaction across modules.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

type Tenant struct {
	ID              uuid.UUID
	Name            string
	Identifier      string
	Subdomain       *string
	Status          string
	Plan            string
	MaxUsers        int
	MaxStorageBytes int64
	LogoURL         *string
	PrimaryColor    *string
	TimeZone        *string
	Culture         *string
	UserCount       int
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

type TenantUser struct {
	ID          uuid.UUID
	Email       string
	FirstName   string
	LastName    string
	Phone       *string
	Status      string
	LastLoginAt *time.Time
	Roles       []string
}

type CreateParams struct {
	Name            string
	Identifier      string
	Subdomain       *string
	Plan            string
	MaxUsers        int
	MaxStorageBytes int64
	LogoURL         *string
	PrimaryColor    *string
	TimeZone        *string
	Culture         *string
}

type UpdateParams struct {
	Name            *string
	Subdomain       *string
	Status          *string
	Plan            *string
	MaxUsers        *int
	MaxStorageBytes *int64
	LogoURL         *string
	PrimaryColor    *string
	TimeZone        *string
	Culture         *string
}

type ListParams struct {
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

const tenantColumns = `t.id, t.name, t.identifier, t.subdomain, t.status, t.plan, t.max_users,
	t.max_storage_bytes, t.logo_url, t.primary_color, t.time_zone, t.culture, t.created_at, t.updated_at`

const getTenantQuery = `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.id = $1 AND t.deleted_at IS NULL`

const resolveTenantQuery = `SELECT ` + tenantColumns + ` FROM tenants t
	WHERE t.deleted_at IS NULL AND (lower(t.identifier) = lower($1) OR lower(t.subdomain) = lower($1))
	LIMIT 1`

const tenantUsersQuery = `
	SELECT u.id, u.email, u.first_name, u.last_name, u.phone, u.status, u.last_login_at,
		COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id AND r.deleted_at IS NULL
	WHERE u.tenant_id = $1 AND u.deleted_at IS NULL
	GROUP BY u.id
	ORDER BY u.created_at`

const userCountsQuery = `
	SELECT tenant_id, COUNT(*) FROM users
	WHERE tenant_id = ANY($1) AND deleted_at IS NULL
	GROUP BY tenant_id`

var sortColumns = map[string]string{
	"name":       "t.name",
	"identifier": "t.identifier",
	"status":     "t.status",
	"plan":       "t.plan",
	"createdat":  "t.created_at",
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Identifier, &t.Subdomain, &t.Status, &t.Plan, &t.MaxUsers,
		&t.MaxStorageBytes, &t.LogoURL, &t.PrimaryColor, &t.TimeZone, &t.Culture, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]Tenant, int, error) {
	f := db.NewFilter()
	f.Where("t.deleted_at IS NULL")
	f.Search(params.Search, "t.name", "t.identifier", "t.subdomain")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants t `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants t ` + f.SQL() + ` ` +
		db.OrderBy(params.SortBy, params.SortOrder, sortColumns, "t.created_at DESC") +
		` LIMIT ` + f.Arg(params.Limit) + ` OFFSET ` + f.Arg(params.Offset)

	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	items := make([]Tenant, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan tenant: %w", err)
		}
		items = append(items, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	counts, err := r.userCounts(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].UserCount = counts[items[i].ID]
	}
	return items, total, nil
}

func (r *Repository) userCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, userCountsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("count tenant users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, getTenantQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// Resolve finds a live tenant by identifier or subdomain.
func (r *Repository) Resolve(ctx context.Context, key string) (Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, resolveTenantQuery, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("resolve tenant: %w", err)
	}
	return t, nil
}

func (r *Repository) Users(ctx context.Context, tenantID uuid.UUID) ([]TenantUser, error) {
	rows, err := r.pool.Query(ctx, tenantUsersQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant users: %w", err)
	}
	defer rows.Close()

	out := make([]TenantUser, 0)
	for rows.Next() {
		var u TenantUser
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Status, &u.LastLoginAt, &u.Roles); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// IdentifierExists checks every tenant, soft-deleted ones included.
func (r *Repository) IdentifierExists(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE lower(identifier) = lower($1))`, identifier).Scan(&exists)
	return exists, err
}

// Insert creates a tenant on q. Used inside the registration transaction.
func Insert(ctx context.Context, q db.Querier, p CreateParams) (Tenant, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO tenants AS t (name, identifier, subdomain, plan, max_users, max_storage_bytes,
			logo_url, primary_color, time_zone, culture)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+tenantColumns,
		p.Name, p.Identifier, p.Subdomain, p.Plan, p.MaxUsers, p.MaxStorageBytes,
		p.LogoURL, p.PrimaryColor, p.TimeZone, p.Culture)
	t, err := scanTenant(row)
	if db.IsUniqueViolation(err) {
		return Tenant{}, ErrDuplicate
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

// Provision inserts the tenant and runs setup on the same transaction.
// Nothing is committed unless setup succeeds.
func (r *Repository) Provision(ctx context.Context, p CreateParams, setup func(ctx context.Context, q db.Querier, t Tenant) error) (Tenant, error) {
	var created Tenant
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		t, err := Insert(ctx, tx, p)
		if err != nil {
			return err
		}
		created = t
		return setup(ctx, tx, t)
	})
	if err != nil {
		return Tenant{}, err
	}
	return created, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (Tenant, error) {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", p.Name)
	set.SetPtr("subdomain", p.Subdomain)
	set.SetPtr("status", p.Status)
	set.SetPtr("plan", p.Plan)
	set.SetPtr("max_users", p.MaxUsers)
	set.SetPtr("max_storage_bytes", p.MaxStorageBytes)
	set.SetPtr("logo_url", p.LogoURL)
	set.SetPtr("primary_color", p.PrimaryColor)
	set.SetPtr("time_zone", p.TimeZone)
	set.SetPtr("culture", p.Culture)
	if set.Empty() {
		return r.Get(ctx, id)
	}
	set.Raw("updated_at = now()")
	f.Where("t.id = " + f.Arg(id))
	f.Where("t.deleted_at IS NULL")

	t, err := scanTenant(r.pool.QueryRow(ctx,
		`UPDATE tenants AS t SET `+set.SQL()+` `+f.SQL()+` RETURNING `+tenantColumns, f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if db.IsUniqueViolation(err) {
		return Tenant{}, ErrDuplicate
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	return t, nil
}

func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET deleted_at = now(), status = 'Inactive' WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveUsers counts non-deleted users; used for the plan seat limit.
func CountActiveUsers(ctx context.Context, q db.Querier, tenantID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&n)
	return n, err
}
