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
	ErrNotFound     = errors.New("not found")
	ErrTokenRevoked = errors.New("refresh token revoked")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoginUser is a user row joined with its tenant's state.
type LoginUser struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	TenantName          string
	TenantStatus        string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Status              string
	Department          *string
	Team                *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
}

type Profile struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	TenantName  string
	Email       string
	FirstName   string
	LastName    string
	Phone       *string
	TimeZone    *string
	Culture     *string
	Department  *string
	Team        *string
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
	TimeZone  *string
	Culture   *string
}

type RefreshToken struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	RevokedAt *time.Time
}

const loginColumns = `u.id, u.tenant_id, t.name, t.status, u.email, u.password_hash, u.first_name, u.last_name,
	u.status, u.department, u.team, u.failed_login_attempts, u.locked_until`

func scanLoginUser(row pgx.Row) (LoginUser, error) {
	var u LoginUser
	err := row.Scan(&u.ID, &u.TenantID, &u.TenantName, &u.TenantStatus, &u.Email, &u.PasswordHash, &u.FirstName,
		&u.LastName, &u.Status, &u.Department, &u.Team, &u.FailedLoginAttempts, &u.LockedUntil)
	return u, err
}

// FindLoginCandidates returns live users with the email. tenantID and identifier narrow the search;
// without either only Active users in live tenants are considered.
func (r *Repository) FindLoginCandidates(ctx context.Context, email string, tenantID *uuid.UUID, identifier string) ([]LoginUser, error) {
	f := db.NewFilter()
	f.Where("lower(u.email) = lower(" + f.Arg(email) + ")")
	f.Where("u.deleted_at IS NULL")
	f.Where("t.deleted_at IS NULL")
	switch {
	case tenantID != nil:
		f.Where("u.tenant_id = " + f.Arg(*tenantID))
	case identifier != "":
		f.Where("lower(t.identifier) = lower(" + f.Arg(identifier) + ")")
	default:
		f.Where("u.status = 'Active'")
	}

	rows, err := r.pool.Query(ctx, `SELECT `+loginColumns+` FROM users u JOIN tenants t ON t.id = u.tenant_id `+f.SQL()+` LIMIT 2`, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("find login user: %w", err)
	}
	defer rows.Close()

	out := make([]LoginUser, 0, 1)
	for rows.Next() {
		u, err := scanLoginUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetLoginUser reloads a user for refresh and token issuing.
func (r *Repository) GetLoginUser(ctx context.Context, tenantID, userID uuid.UUID) (LoginUser, error) {
	u, err := scanLoginUser(r.pool.QueryRow(ctx, `SELECT `+loginColumns+`
		FROM users u JOIN tenants t ON t.id = u.tenant_id
		WHERE u.id = $1 AND u.tenant_id = $2 AND u.deleted_at IS NULL AND t.deleted_at IS NULL`, userID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LoginUser{}, ErrNotFound
	}
	return u, err
}

// RecordFailedLogin bumps the failure counter and locks the account once it reaches maxAttempts.
// The counter restarts after a lock.
func (r *Repository) RecordFailedLogin(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*time.Time, error) {
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN now() + make_interval(secs => $3) ELSE locked_until END,
			failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2 THEN 0 ELSE failed_login_attempts + 1 END
		WHERE id = $1
		RETURNING locked_until`, userID, maxAttempts, lockout.Seconds()).Scan(&lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("record failed login: %w", err)
	}
	return lockedUntil, nil
}

func (r *Repository) RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login_at = now()
		WHERE id = $1`, userID)
	return err
}

func (r *Repository) CreateRefreshToken(ctx context.Context, tenantID, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (tenant_id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)`, tenantID, userID, tokenHash, expiresAt)
	return err
}

func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var t RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = $1`,
		tokenHash).Scan(&t.ID, &t.TenantID, &t.UserID, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	return t, err
}

// RotateRefreshToken revokes oldHash and stores newHash atomically. A concurrent rotation loses with ErrTokenRevoked.
func (r *Repository) RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var tenantID, userID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE refresh_tokens SET revoked_at = now()
			WHERE token_hash = $1 AND revoked_at IS NULL
			RETURNING tenant_id, user_id`, oldHash).Scan(&tenantID, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenRevoked
		}
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (tenant_id, user_id, token_hash, expires_at)
			VALUES ($1, $2, $3, $4)`, tenantID, userID, newHash, expiresAt)
		return err
	})
}

// RevokeRefreshToken revokes one of the user's live tokens.
func (r *Repository) RevokeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND user_id = $2 AND revoked_at IS NULL`, tokenHash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) RevokeAllRefreshTokens(ctx context.Context, tenantID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND tenant_id = $2 AND revoked_at IS NULL`, userID, tenantID)
	return err
}

func (r *Repository) UpdatePassword(ctx context.Context, tenantID, userID uuid.UUID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, userID, tenantID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetProfile(ctx context.Context, tenantID, userID uuid.UUID) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, u.tenant_id, t.name, u.email, u.first_name, u.last_name, u.phone, u.time_zone,
			u.culture, u.department, u.team, u.last_login_at, u.created_at
		FROM users u JOIN tenants t ON t.id = u.tenant_id
		WHERE u.id = $1 AND u.tenant_id = $2 AND u.deleted_at IS NULL`, userID, tenantID).Scan(
		&p.ID, &p.TenantID, &p.TenantName, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.TimeZone,
		&p.Culture, &p.Department, &p.Team, &p.LastLoginAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, tenantID, userID uuid.UUID, p ProfileUpdate) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("first_name", p.FirstName)
	set.SetPtr("last_name", p.LastName)
	set.SetPtr("phone", p.Phone)
	set.SetPtr("time_zone", p.TimeZone)
	set.SetPtr("culture", p.Culture)
	set.Raw("updated_at = now()")
	f.Row("", userID, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE users SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredRefreshTokens deletes tokens that expired or were revoked before cutoff.
func (r *Repository) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
