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

var (
	ErrNotFound       = errors.New("workflow not found")
	ErrEntityNotFound = errors.New("workflow target not found")
	ErrUnknownEntity  = errors.New("unknown workflow entity type")
)

// entityTables maps workflow entity types to their tables. Only these tables are
// ever interpolated into SQL.
var entityTables = map[string]string{
	"Lead":        "leads",
	"Customer":    "customers",
	"Contact":     "contacts",
	"Opportunity": "opportunities",
	"Ticket":      "tickets",
	"Activity":    "activities",
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Action struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

type Workflow struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description *string
	EntityType  string
	TriggerType string
	IsActive    bool
	Conditions  []rules.Condition
	Actions     []Action
	Schedule    *string
	NextRunAt   *time.Time
	LastRunAt   *time.Time
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type CreateParams struct {
	TenantID    uuid.UUID
	Name        string
	Description *string
	EntityType  string
	TriggerType string
	IsActive    bool
	Conditions  []rules.Condition
	Actions     []Action
	Schedule    *string
	NextRunAt   *time.Time
	CreatedBy   *uuid.UUID
}

// UpdateParams replaces the workflow definition. NextRunAt and Schedule are
// always written so that switching away from Scheduled clears them.
type UpdateParams struct {
	Name        *string
	Description *string
	EntityType  *string
	TriggerType *string
	IsActive    *bool
	Conditions  *[]rules.Condition
	Actions     *[]Action
	Schedule    *string
	NextRunAt   *time.Time
}

type ListParams struct {
	EntityType  *string
	TriggerType *string
	IsActive    *bool
	Search      string
	SortBy      string
	SortOrder   string
	Limit       int
	Offset      int
}

type Execution struct {
	ID         uuid.UUID
	WorkflowID uuid.UUID
	EntityID   *uuid.UUID
	Status     string
	Error      *string
	ExecutedAt time.Time
}

type ExecutionParams struct {
	TenantID   uuid.UUID
	WorkflowID uuid.UUID
	EntityID   *uuid.UUID
	Status     string
	Error      *string
}

// Snapshot is one entity row as JSON.
type Snapshot struct {
	ID   uuid.UUID
	Data []byte
}

type TaskParams struct {
	TenantID         uuid.UUID
	Subject          string
	Description      *string
	DueDate          *time.Time
	RelatedToType    string
	RelatedToID      uuid.UUID
	AssignedToUserID *uuid.UUID
}

const workflowColumns = `w.id, w.tenant_id, w.name, w.description, w.entity_type, w.trigger_type, w.is_active,
	w.conditions, w.actions, w.schedule, w.next_run_at, w.last_run_at, w.created_by, w.created_at, w.updated_at`

var sortColumns = map[string]string{
	"name":        "w.name",
	"entitytype":  "w.entity_type",
	"triggertype": "w.trigger_type",
	"createdat":   "w.created_at",
}

func scanWorkflow(row pgx.Row) (Workflow, error) {
	var w Workflow
	var conditions, actions []byte
	err := row.Scan(&w.ID, &w.TenantID, &w.Name, &w.Description, &w.EntityType, &w.TriggerType, &w.IsActive,
		&conditions, &actions, &w.Schedule, &w.NextRunAt, &w.LastRunAt, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Workflow{}, err
	}
	if err := json.Unmarshal(conditions, &w.Conditions); err != nil {
		return Workflow{}, fmt.Errorf("decode workflow conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &w.Actions); err != nil {
		return Workflow{}, fmt.Errorf("decode workflow actions: %w", err)
	}
	return w, nil
}

func collect(rows pgx.Rows) ([]Workflow, error) {
	defer rows.Close()
	out := make([]Workflow, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Workflow, int, error) {
	f := db.TenantScoped("w", tenantID)
	f.Equals("w.entity_type", p.EntityType)
	f.Equals("w.trigger_type", p.TriggerType)
	f.Equals("w.is_active", p.IsActive)
	f.Search(p.Search, "w.name", "w.description")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflows w `+f.SQL(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows w ` + f.SQL() + ` ` +
		db.OrderBy(p.SortBy, p.SortOrder, sortColumns, "w.name") +
		` LIMIT ` + f.Arg(p.Limit) + ` OFFSET ` + f.Arg(p.Offset)
	rows, err := r.pool.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	out, err := collect(rows)
	return out, total, err
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Workflow, error) {
	f := db.NewFilter()
	f.Row("w", id, tenantID)
	w, err := scanWorkflow(r.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows w `+f.SQL(), f.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	conditions, actions, err := encode(p.Conditions, p.Actions)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflows (tenant_id, name, description, entity_type, trigger_type, is_active, conditions, actions,
			schedule, next_run_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.TenantID, p.Name, p.Description, p.EntityType, p.TriggerType, p.IsActive, conditions, actions,
		p.Schedule, p.NextRunAt, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert workflow: %w", err)
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, p UpdateParams) error {
	f := db.NewFilter()
	set := db.NewSetBuilder(f)
	set.SetPtr("name", p.Name)
	set.SetPtr("description", p.Description)
	set.SetPtr("entity_type", p.EntityType)
	set.SetPtr("trigger_type", p.TriggerType)
	set.SetPtr("is_active", p.IsActive)
	if p.Conditions != nil {
		raw, err := json.Marshal(nonNil(*p.Conditions))
		if err != nil {
			return fmt.Errorf("encode workflow conditions: %w", err)
		}
		set.Set(true, "conditions", raw)
	}
	if p.Actions != nil {
		raw, err := json.Marshal(nonNil(*p.Actions))
		if err != nil {
			return fmt.Errorf("encode workflow actions: %w", err)
		}
		set.Set(true, "actions", raw)
	}
	set.Set(true, "schedule", p.Schedule)
	set.Set(true, "next_run_at", p.NextRunAt)
	set.Raw("updated_at = now()")
	f.Row("", id, tenantID)

	tag, err := r.pool.Exec(ctx, `UPDATE workflows SET `+set.SQL()+` `+f.SQL(), f.Args()...)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetActive(ctx context.Context, tenantID, id uuid.UUID, active bool, nextRunAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflows SET is_active = $3, next_run_at = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID, active, nextRunAt)
	if err != nil {
		return fmt.Errorf("set workflow active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflows SET deleted_at = now(), is_active = false
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const activeQuery = `SELECT ` + workflowColumns + ` FROM workflows w
	WHERE w.tenant_id = $1 AND w.entity_type = $2 AND w.trigger_type = $3
		AND w.is_active AND w.deleted_at IS NULL
	ORDER BY w.created_at, w.id`

// Active returns the tenant's active workflows for one entity type and trigger.
func (r *Repository) Active(ctx context.Context, tenantID uuid.UUID, entityType, trigger string) ([]Workflow, error) {
	rows, err := r.pool.Query(ctx, activeQuery, tenantID, entityType, trigger)
	if err != nil {
		return nil, fmt.Errorf("load active workflows: %w", err)
	}
	return collect(rows)
}

func (r *Repository) RecordExecution(ctx context.Context, p ExecutionParams) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_executions (tenant_id, workflow_id, entity_id, status, error)
		VALUES ($1, $2, $3, $4, $5)`,
		p.TenantID, p.WorkflowID, p.EntityID, p.Status, p.Error)
	if err != nil {
		return fmt.Errorf("record workflow execution: %w", err)
	}
	return nil
}

func (r *Repository) ListExecutions(ctx context.Context, tenantID, workflowID uuid.UUID, limit, offset int) ([]Execution, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM workflow_executions WHERE tenant_id = $1 AND workflow_id = $2`,
		tenantID, workflowID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count workflow executions: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, entity_id, status, error, executed_at
		FROM workflow_executions
		WHERE tenant_id = $1 AND workflow_id = $2
		ORDER BY executed_at DESC, id
		LIMIT $3 OFFSET $4`, tenantID, workflowID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflow executions: %w", err)
	}
	defer rows.Close()

	out := make([]Execution, 0)
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.EntityID, &e.Status, &e.Error, &e.ExecutedAt); err != nil {
			return nil, 0, fmt.Errorf("scan workflow execution: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

const dueQuery = `SELECT ` + workflowColumns + ` FROM workflows w
	WHERE w.trigger_type = 'Scheduled' AND w.is_active AND w.deleted_at IS NULL
		AND w.next_run_at <= $1
	ORDER BY w.next_run_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

// ClaimDue locks due Scheduled workflows across all tenants, advances their
// next_run_at with next and stamps last_run_at, all in one transaction.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int, next func(Workflow) *time.Time) ([]Workflow, error) {
	var claimed []Workflow
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, dueQuery, now, limit)
		if err != nil {
			return fmt.Errorf("select due workflows: %w", err)
		}
		due, err := collect(rows)
		if err != nil {
			return err
		}
		for _, w := range due {
			nextRun := next(w)
			if _, err := tx.Exec(ctx, `
				UPDATE workflows SET next_run_at = $3, last_run_at = $4
				WHERE id = $1 AND tenant_id = $2`, w.ID, w.TenantID, nextRun, now); err != nil {
				return fmt.Errorf("advance workflow schedule: %w", err)
			}
			w.NextRunAt = nextRun
			w.LastRunAt = &now
			claimed = append(claimed, w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Snapshots returns up to limit live rows of entityType for the tenant as JSON.
func (r *Repository) Snapshots(ctx context.Context, tenantID uuid.UUID, entityType string, limit int) ([]Snapshot, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return nil, ErrUnknownEntity
	}
	rows, err := r.pool.Query(ctx, snapshotQuery(table), tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("load %s snapshots: %w", table, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.Data); err != nil {
			return nil, fmt.Errorf("scan %s snapshot: %w", table, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func snapshotQuery(table string) string {
	return `SELECT e.id, to_jsonb(e) FROM ` + table + ` e
		WHERE e.tenant_id = $1 AND e.deleted_at IS NULL
		ORDER BY e.created_at DESC, e.id
		LIMIT $2`
}

// UpdateField sets one whitelisted column and returns the updated row as JSON.
// The column must come from the service's field whitelist.
func (r *Repository) UpdateField(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID, column string, value any) ([]byte, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return nil, ErrUnknownEntity
	}
	var data []byte
	err := r.pool.QueryRow(ctx, updateFieldQuery(table, column), id, tenantID, value).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s.%s: %w", table, column, err)
	}
	return data, nil
}

func updateFieldQuery(table, column string) string {
	return `UPDATE ` + table + ` e SET ` + column + ` = $3, updated_at = now()
		WHERE e.id = $1 AND e.tenant_id = $2 AND e.deleted_at IS NULL
		RETURNING to_jsonb(e)`
}

const createTaskQuery = `
	INSERT INTO activities AS a (tenant_id, type, status, priority, subject, description, due_date,
		related_to_type, related_to_id, assigned_to_user_id)
	VALUES ($1, 'Task', 'Planned', 'Medium', $2, $3, $4, $5, $6,
		(SELECT u.id FROM users u WHERE u.id = $7 AND u.tenant_id = $1 AND u.deleted_at IS NULL))
	RETURNING a.id, to_jsonb(a)`

// CreateTask inserts a Task activity linked to the triggering record. An assignee
// outside the tenant is dropped.
func (r *Repository) CreateTask(ctx context.Context, p TaskParams) (uuid.UUID, []byte, error) {
	var id uuid.UUID
	var data []byte
	err := r.pool.QueryRow(ctx, createTaskQuery, p.TenantID, p.Subject, p.Description, p.DueDate,
		p.RelatedToType, p.RelatedToID, p.AssignedToUserID).Scan(&id, &data)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("create workflow task: %w", err)
	}
	return id, data, nil
}

func encode(conds []rules.Condition, actions []Action) ([]byte, []byte, error) {
	c, err := json.Marshal(nonNil(conds))
	if err != nil {
		return nil, nil, fmt.Errorf("encode workflow conditions: %w", err)
	}
	a, err := json.Marshal(nonNil(actions))
	if err != nil {
		return nil, nil, fmt.Errorf("encode workflow actions: %w", err)
	}
	return c, a, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
