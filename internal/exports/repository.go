package exports

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type column struct {
	Header string
	Expr   string
}

type entitySpec struct {
	Table   string
	Columns []column
}

// entities lists what can be exported and the columns written, in order.
var entities = map[string]entitySpec{
	"leads": {Table: "leads", Columns: []column{
		{"Id", "e.id"}, {"Title", "e.title"}, {"First Name", "e.first_name"}, {"Last Name", "e.last_name"},
		{"Email", "e.email"}, {"Phone", "e.phone"}, {"Company", "e.company_name"}, {"Status", "e.status"},
		{"Source", "e.source"}, {"Rating", "e.rating"}, {"Score", "e.score"}, {"Estimated Value", "e.estimated_value"},
		{"Assigned To", "e.assigned_to_user_id"}, {"Created At", "e.created_at"},
	}},
	"contacts": {Table: "contacts", Columns: []column{
		{"Id", "e.id"}, {"First Name", "e.first_name"}, {"Last Name", "e.last_name"}, {"Email", "e.email"},
		{"Phone", "e.phone"}, {"Mobile", "e.mobile"}, {"Job Title", "e.job_title"}, {"Department", "e.department"},
		{"Customer Id", "e.customer_id"}, {"Primary", "e.is_primary"}, {"Status", "e.status"}, {"Created At", "e.created_at"},
	}},
	"customers": {Table: "customers", Columns: []column{
		{"Id", "e.id"}, {"Code", "e.customer_code"}, {"Name", "e.name"}, {"Type", "e.type"}, {"Email", "e.email"},
		{"Phone", "e.phone"}, {"Company", "e.company_name"}, {"Industry", "e.industry"}, {"City", "e.city"},
		{"Country", "e.country"}, {"Status", "e.status"}, {"Created At", "e.created_at"},
	}},
	"opportunities": {Table: "opportunities", Columns: []column{
		{"Id", "e.id"}, {"Name", "e.name"}, {"Customer Id", "e.customer_id"}, {"Amount", "e.amount"},
		{"Probability", "e.probability"}, {"Stage", "e.stage"}, {"Type", "e.type"},
		{"Expected Close Date", "e.expected_close_date"}, {"Actual Close Date", "e.actual_close_date"},
		{"Assigned To", "e.assigned_to_user_id"}, {"Created At", "e.created_at"},
	}},
	"tickets": {Table: "tickets", Columns: []column{
		{"Id", "e.id"}, {"Number", "e.ticket_number"}, {"Subject", "e.subject"}, {"Status", "e.status"},
		{"Priority", "e.priority"}, {"Type", "e.type"}, {"Customer Id", "e.customer_id"}, {"Due Date", "e.due_date"},
		{"Resolved Date", "e.resolved_date"}, {"SLA Breached", "e.sla_breached"}, {"Created At", "e.created_at"},
	}},
}

func (s entitySpec) headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
	}
	return out
}

// query selects every column as text so rows scan uniformly.
func (s entitySpec) query() string {
	exprs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		exprs[i] = "COALESCE(" + c.Expr + "::text, '')"
	}
	return "SELECT " + strings.Join(exprs, ", ") + " FROM " + s.Table +
		" e WHERE e.tenant_id = $1 AND e.deleted_at IS NULL ORDER BY e.created_at, e.id"
}

// Repository streams export rows.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Stream calls fn for every row of the tenant's entity without buffering the result set.
func (r *Repository) Stream(ctx context.Context, tenantID uuid.UUID, spec entitySpec, fn func([]string) error) error {
	rows, err := r.pool.Query(ctx, spec.query(), tenantID)
	if err != nil {
		return fmt.Errorf("export %s: %w", spec.Table, err)
	}
	defer rows.Close()

	record := make([]string, len(spec.Columns))
	dest := make([]any, len(spec.Columns))
	for i := range record {
		dest[i] = &record[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan %s export row: %w", spec.Table, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return rows.Err()
}
