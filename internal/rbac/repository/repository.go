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

var ErrNotFound = errors.New("role not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Permission struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Module      string
	Description *string
}

type Role struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	Description     *string
	IsSystemRole    bool
	DataScope       string
	PermissionCount int
	UserCount       int
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

type CreateRoleParams struct {
	TenantID      uuid.UUID
	Name          string
	Description   *string
	IsSystemRole  bool
	DataScope     string
	PermissionIDs []uuid.UUID
}

type UpdateRoleParams struct {
	Name        *string
	Description *string
	DataScope   *string
}

// UserAccess is everything the token issuer needs about a user's roles.
type UserAccess struct {
	Roles       []string
	Permissions []string
	Scopes      []string
}

const roleColumns = `r.id, r.tenant_id, r.name, r.description, r.is_system_role, r.data_scope,
	(SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id) AS permission_count,
	(SELECT COUNT(*) FROM user_roles ur JOIN users u ON u.id = ur.user_id
		WHERE ur.role_id = r.id AND u.deleted_at IS NULL) AS user_count,
	r.created_at, r.updated_at`

const listRolesQuery = `SELECT ` + roleColumns + `
	FROM roles r
	WHERE r.tenant_id = $1 AND r.deleted_at IS NULL
	ORDER BY r.is_system_role DESC, r.name ASC`

const getRoleQuery = `SELECT ` + roleColumns + `
	FROM roles r
	WHERE r.id = $1 AND r.tenant_id = $2 AND r.deleted_at IS NULL`

const rolePermissionsQuery = `
	SELECT p.id, p.code, p.name, p.module, p.description
	FROM role_permissions rp
	JOIN permissions p ON p.id = rp.permission_id
	JOIN roles r ON r.id = rp.role_id
	WHERE rp.role_id = $1 AND r.tenant_id = $2
	ORDER BY p.module, p.code`

const userAccessQuery = `
	SELECT r.name, r.data_scope,
		COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id AND r.deleted_at IS NULL
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.user_id = $1 AND r.tenant_id = $2
	GROUP BY r.id, r.name, r.data_scope
	ORDER BY r.name`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.IsSystemRole, &r.DataScope,
		&r.PermissionCount, &r.UserCount, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *Repository) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	rows, err := r.pool.Query(ctx, listRolesQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	items := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		items = append(items, role)
	}
	return items, rows.Err()
}

func (r *Repository) GetRole(ctx context.Context, tenantID, id uuid.UUID) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, getRoleQuery, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (r *Repository) RolePermissions(ctx context.Context, tenantID, roleID uuid.UUID) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, rolePermissionsQuery, roleID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	return collectPermissions(rows)
}

func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, module, description FROM permissions ORDER BY module, code`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return collectPermissions(rows)
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	items := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Module, &p.Description); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// RoleNameExists checks for a live role with the same name (case-insensitive), excluding excludeID.
func (r *Repository) RoleNameExists(ctx context.Context, tenantID uuid.UUID, name string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM roles
			WHERE tenant_id = $1 AND lower(name) = lower($2) AND deleted_at IS NULL
				AND ($3::uuid IS NULL OR id <> $3)
		)`, tenantID, name, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("role name exists: %w", err)
	}
	return exists, nil
}

// CountPermissions returns how many of ids exist in the catalog table.
func (r *Repository) CountPermissions(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1)`, ids).Scan(&n); err != nil {
		return 0, fmt.Errorf("count permissions: %w", err)
	}
	return n, nil
}

// PlatformPermissionCount counts ids belonging to platform-only modules.
func (r *Repository) PlatformPermissionCount(ctx context.Context, ids []uuid.UUID, modules []string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1) AND module = ANY($2)`, ids, modules).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count platform permissions: %w", err)
	}
	return n, nil
}

func (r *Repository) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		id, err = InsertRole(ctx, tx, params)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return r.GetRole(ctx, params.TenantID, id)
}

// InsertRole writes a role and its permission links using q, which may be a transaction.
func InsertRole(ctx context.Context, q db.Querier, params CreateRoleParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO roles (tenant_id, name, description, is_system_role, data_scope)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		params.TenantID, params.Name, params.Description, params.IsSystemRole, params.DataScope,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert role: %w", err)
	}
	if err := replacePermissions(ctx, q, id, params.PermissionIDs); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// InsertRoleWithCodes is used when seeding system roles from the catalog.
func InsertRoleWithCodes(ctx context.Context, q db.Querier, params CreateRoleParams, codes []string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO roles (tenant_id, name, description, is_system_role, data_scope)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		params.TenantID, params.Name, params.Description, params.IsSystemRole, params.DataScope,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert role: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE code = ANY($2)`, id, codes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("grant role permissions: %w", err)
	}
	return id, nil
}

func replacePermissions(ctx context.Context, q db.Querier, roleID uuid.UUID, ids []uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, roleID, ids)
	if err != nil {
		return fmt.Errorf("insert role permissions: %w", err)
	}
	return nil
}

func (r *Repository) UpdateRole(ctx context.Context, tenantID, id uuid.UUID, params UpdateRoleParams) (Role, error) {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", params.Name)
	set.SetPtr("description", params.Description)
	set.SetPtr("data_scope", params.DataScope)
	if set.Empty() {
		return r.GetRole(ctx, tenantID, id)
	}
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, "UPDATE roles SET "+set.SQL()+" "+f.SQL(), f.Args()...)
	if err != nil {
		return Role{}, fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, ErrNotFound
	}
	return r.GetRole(ctx, tenantID, id)
}

// ReplaceRolePermissions swaps the whole permission set in one transaction.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, ids []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = now() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, roleID, tenantID)
		if err != nil {
			return fmt.Errorf("touch role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return replacePermissions(ctx, tx, roleID, ids)
	})
}

func (r *Repository) SoftDeleteRole(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE roles SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountValidRoles returns how many of ids are live roles of the tenant.
func (r *Repository) CountValidRoles(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM roles WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`, tenantID, ids).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count roles: %w", err)
	}
	return n, nil
}

// UserAccess loads role names, granted codes and scopes of one user.
func (r *Repository) UserAccess(ctx context.Context, tenantID, userID uuid.UUID) (UserAccess, error) {
	return LoadUserAccess(ctx, r.pool, tenantID, userID)
}

// LoadUserAccess runs the access query on q.
func LoadUserAccess(ctx context.Context, q db.Querier, tenantID, userID uuid.UUID) (UserAccess, error) {
	rows, err := q.Query(ctx, userAccessQuery, userID, tenantID)
	if err != nil {
		return UserAccess{}, fmt.Errorf("user access: %w", err)
	}
	defer rows.Close()

	access := UserAccess{Roles: []string{}, Permissions: []string{}, Scopes: []string{}}
	seen := make(map[string]struct{})
	for rows.Next() {
		var name, dataScope string
		var codes []string
		if err := rows.Scan(&name, &dataScope, &codes); err != nil {
			return UserAccess{}, fmt.Errorf("scan user access: %w", err)
		}
		access.Roles = append(access.Roles, name)
		access.Scopes = append(access.Scopes, dataScope)
		for _, code := range codes {
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			access.Permissions = append(access.Permissions, code)
		}
	}
	return access, rows.Err()
}

// UpsertPermission keeps the permissions table in sync with the catalog.
func (r *Repository) UpsertPermission(ctx context.Context, code, name, module string, description *string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permissions (code, name, module, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, module = EXCLUDED.module, description = EXCLUDED.description`,
		code, name, module, description)
	if err != nil {
		return fmt.Errorf("upsert permission %s: %w", code, err)
	}
	return nil
}
