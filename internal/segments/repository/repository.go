package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm_saas_backend/internal/rules"
	"crm_saas_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("segment not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Segment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description *string
	Criteria    []rules.Condition
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type CreateParams struct {
	TenantID    uuid.UUID
	Name        string
	Description *string
	Criteria    []rules.Condition
	CreatedBy   *uuid.UUID
}

type UpdateParams struct {
	Name        *string
	Description *string
	Criteria    *[]rules.Condition
}

type ListParams struct {
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// Candidate is an Active contact with an email, plus its row as JSON for rule evaluation.
type Candidate struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Data      []byte
}

const segmentColumns = `s.id, s.tenant_id, s.name, s.description, s.criteria, s.created_by, s.created_at, s.updated_at`

var sortColumns = map[string]string{
	"name":      "s.name",
	"createdat": "s.created_at",
}

func scanSegment(row pgx.Row) (Segment, error) {
	var s Segment
	var criteria []byte
	if err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Description, &criteria, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Segment{}, err
	}
	if err := json.Unmarshal(criteria, &s.Criteria); err != nil {
		return Segment{}, fmt.Errorf("decode segment criteria: %w", err)
	}
	return s, nil
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Segment, int, error) {
	f := db.TenantScoped("s", tenantID)
	f.Search(p.Search, "s.name", "s.description")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM segments s `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count segments: %w", err)
	}

	query := `SELECT ` + segmentColumns + ` FROM segments s ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "s.name") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	out := make([]Segment, 0)
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Segment, error) {
	f := db.NewFilter()
	f.Row("s", id, tenantID)
	s, err := scanSegment(r.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments s `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Segment{}, ErrNotFound
	}
	if err != nil {
		return Segment{}, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	criteria, err := encodeCriteria(p.Criteria)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO segments (tenant_id, name, description, criteria, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.TenantID, p.Name, p.Description, criteria, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert segment: %w", err)
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", p.Name)
	set.SetPtr("description", p.Description)
	if p.Criteria != nil {
		criteria, err := encodeCriteria(*p.Criteria)
		if err != nil {
			return err
		}
		set.Set(true, "criteria", criteria)
	}
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE segments SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE segments SET deleted_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const candidatesQuery = `
	SELECT ct.id, ct.first_name, ct.last_name, ct.email, to_jsonb(ct)
	FROM contacts ct
	WHERE ct.tenant_id = $1 AND ct.deleted_at IS NULL AND ct.status = 'Active'
		AND ct.email IS NOT NULL AND ct.email <> ''
	ORDER BY ct.last_name, ct.first_name, ct.id`

// Candidates returns every contact a segment could target.
func (r *Repository) Candidates(ctx context.Context, tenantID uuid.UUID) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, candidatesQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load segment candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Data); err != nil {
			return nil, fmt.Errorf("scan segment candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeCriteria(conds []rules.Condition) ([]byte, error) {
	if conds == nil {
		conds = []rules.Condition{}
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return nil, fmt.Errorf("encode segment criteria: %w", err)
	}
	return raw, nil
}
