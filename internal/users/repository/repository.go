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
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrUserLimit      = errors.New("user limit reached")
)

const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
	StatusDeleted  = "Deleted"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type RoleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type User struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Email       string
	FirstName   string
	LastName    string
	Phone       *string
	Status      string
	TimeZone    *string
	Culture     *string
	Department  *string
	Team        *string
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	Roles       []RoleRef
}

type CreateParams struct {
	TenantID     uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
	TimeZone     *string
	Culture      *string
	Department   *string
	Team         *string
	CreatedBy    *uuid.UUID
}

type UpdateParams struct {
	FirstName  *string
	LastName   *string
	Phone      *string
	TimeZone   *string
	Culture    *string
	Department *string
	Team       *string
}

type ListParams struct {
	Search    string
	Status    *string
	RoleID    *uuid.UUID
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

const userColumns = `u.id, u.tenant_id, u.email, u.first_name, u.last_name, u.phone, u.status,
	u.time_zone, u.culture, u.department, u.team, u.last_login_at, u.created_at, u.updated_at,
	COALESCE((SELECT json_agg(json_build_object('id', r.id, 'name', r.name) ORDER BY r.name)
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id AND r.deleted_at IS NULL
		WHERE ur.user_id = u.id), '[]')`

var sortColumns = map[string]string{
	"email":       "u.email",
	"firstname":   "u.first_name",
	"lastname":    "u.last_name",
	"status":      "u.status",
	"lastloginat": "u.last_login_at",
	"createdat":   "u.created_at",
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Status,
		&u.TimeZone, &u.Culture, &u.Department, &u.Team, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt, &u.Roles)
	return u, err
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]User, int, error) {
	f := db.TenantScoped("u", tenantID)
	f.Equals("u.status", p.Status)
	if p.RoleID != nil {
		f.Where("EXISTS (SELECT 1 FROM user_roles fr WHERE fr.user_id = u.id AND fr.role_id = " + f.Arg(*p.RoleID) + ")")
	}
	f.Search(p.Search, "u.email", "u.first_name", "u.last_name")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users u ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "u.created_at DESC") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (User, error) {
	f := db.NewFilter()
	f.Row("u", id, tenantID)
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Create inserts the user and its roles. The tenant row is locked so the seat check cannot race.
func (r *Repository) Create(ctx context.Context, p CreateParams, roleIDs []uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var maxUsers, current int
		if err := tx.QueryRow(ctx, `SELECT max_users FROM tenants WHERE id = $1 FOR UPDATE`, p.TenantID).Scan(&maxUsers); err != nil {
			return fmt.Errorf("lock tenant: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND deleted_at IS NULL`, p.TenantID).Scan(&current); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if current >= maxUsers {
			return ErrUserLimit
		}

		var err error
		id, err = InsertUser(ctx, tx, p)
		if err != nil {
			return err
		}
		return ReplaceRoles(ctx, tx, id, roleIDs)
	})
	return id, err
}

// InsertUser creates a user row on q.
func InsertUser(ctx context.Context, q db.Querier, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO users (tenant_id, email, password_hash, first_name, last_name, phone, time_zone,
			culture, department, team, created_by)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.TenantID, p.Email, p.PasswordHash, p.FirstName, p.LastName, p.Phone, p.TimeZone,
		p.Culture, p.Department, p.Team, p.CreatedBy).Scan(&id)
	if db.IsUniqueViolation(err) {
		return uuid.Nil, ErrDuplicateEmail
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// ReplaceRoles sets the user's roles to exactly roleIDs.
func ReplaceRoles(ctx context.Context, q db.Querier, userID uuid.UUID, roleIDs []uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear user roles: %w", err)
	}
	if len(roleIDs) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, userID, roleIDs); err != nil {
		return fmt.Errorf("assign user roles: %w", err)
	}
	return nil
}

func (r *Repository) EmailExists(ctx context.Context, tenantID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL)`,
		tenantID, email).Scan(&exists)
	return exists, err
}

// Update applies a partial update and, when roleIDs is non-nil, replaces the roles in the same transaction.
func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams, roleIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		f := db.NewFilter()
		set := db.NewSetBuilder(f)
		set.SetPtr("first_name", p.FirstName)
		set.SetPtr("last_name", p.LastName)
		set.SetPtr("phone", p.Phone)
		set.SetPtr("time_zone", p.TimeZone)
		set.SetPtr("culture", p.Culture)
		set.SetPtr("department", p.Department)
		set.SetPtr("team", p.Team)
		set.Raw("updated_at = now()")
		f.Row("", id, tenantID)

		tag, err := tx.Exec(ctx, `UPDATE users SET `+set.SQL()+` `+f.SQL(), f.Args()...)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if roleIDs != nil {
			return ReplaceRoles(ctx, tx, id, roleIDs)
		}
		return nil
	})
}

func (r *Repository) SetRoles(ctx context.Context, tenantID, id uuid.UUID, roleIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL)`,
			id, tenantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ReplaceRoles(ctx, tx, id, roleIDs)
	})
}

func (r *Repository) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID, status)
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET status = 'Deleted', deleted_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Contact is the minimal mail target used by reminders and alerts.
type Contact struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
}

// Contacts loads active users by id within one tenant.
func (r *Repository) Contacts(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Contact, error) {
	out := make(map[uuid.UUID]Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, first_name, last_name FROM users
		WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL AND status = 'Active'`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load user contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// TenantName is shown in welcome mails.
func (r *Repository) TenantName(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM tenants WHERE id = $1`, tenantID).Scan(&name)
	return name, err
}

// IsActive reports whether id is an active, non-deleted user of the tenant.
func (r *Repository) IsActive(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users
			WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL AND status = 'Active')`, id, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return ok, nil
}
