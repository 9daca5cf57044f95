package db

import (
	"fmt"
	"strings"
)

// Filter accumulates WHERE conditions with positional pgx arguments.
type Filter struct {
	clauses []string
	args    []any
}

// NewFilter starts a filter. Tenant queries begin with TenantScoped instead.
func NewFilter() *Filter {
	return &Filter{}
}

// TenantScoped starts a filter on `<alias>.tenant_id = $1 AND <alias>.deleted_at IS NULL`.
func TenantScoped(alias string, tenantID any) *Filter {
	f := NewFilter()
	f.Where(col(alias, "tenant_id") + " = " + f.Arg(tenantID))
	f.Where(col(alias, "deleted_at") + " IS NULL")
	return f
}

// Row adds `<alias>.id = $n AND <alias>.tenant_id = $m AND <alias>.deleted_at IS NULL`.
func (f *Filter) Row(alias string, id, tenantID any) {
	f.Where(col(alias, "id") + " = " + f.Arg(id))
	f.Where(col(alias, "tenant_id") + " = " + f.Arg(tenantID))
	f.Where(col(alias, "deleted_at") + " IS NULL")
}

// Arg registers a value and returns its placeholder.
func (f *Filter) Arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

// Where adds a raw condition. Placeholders inside it must come from Arg.
func (f *Filter) Where(clause string) {
	f.clauses = append(f.clauses, clause)
}

// Equals adds `column = value` when value is non-nil.
func (f *Filter) Equals(column string, value any) {
	if isNil(value) {
		return
	}
	f.Where(column + " = " + f.Arg(deref(value)))
}

// Search adds an OR-ed ILIKE over columns when term is not blank.
func (f *Filter) Search(term string, columns ...string) {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return
	}
	ph := f.Arg("%" + escapeLike(term) + "%")
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " ILIKE " + ph
	}
	f.Where("(" + strings.Join(parts, " OR ") + ")")
}

// SQL renders the WHERE clause, or an empty string.
func (f *Filter) SQL() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(f.clauses, " AND ")
}

// Args returns the accumulated arguments.
func (f *Filter) Args() []any {
	return f.args
}

// OrderBy maps an API sort key to a whitelisted column. Unknown keys fall back.
func OrderBy(sortBy, sortOrder string, columns map[string]string, fallback string) string {
	column, ok := columns[strings.ToLower(strings.TrimSpace(sortBy))]
	if !ok {
		return "ORDER BY " + fallback
	}
	dir := "ASC"
	if strings.EqualFold(strings.TrimSpace(sortOrder), "desc") {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST", column, dir)
}

// SetBuilder builds the SET list of a partial UPDATE.
type SetBuilder struct {
	filter *Filter
	sets   []string
}

// NewSetBuilder shares placeholder numbering with f, which must be used for the WHERE clause after the SET.
func NewSetBuilder(f *Filter) *SetBuilder {
	return &SetBuilder{filter: f}
}

// Set adds `column = value` when enabled.
func (b *SetBuilder) Set(enabled bool, column string, value any) {
	if !enabled {
		return
	}
	b.sets = append(b.sets, column+" = "+b.filter.Arg(value))
}

// SetPtr adds `column = *value` when value is a non-nil pointer.
func (b *SetBuilder) SetPtr(column string, value any) {
	if isNil(value) {
		return
	}
	b.Set(true, column, deref(value))
}

// Raw adds an expression such as `updated_at = now()`.
func (b *SetBuilder) Raw(expr string) {
	b.sets = append(b.sets, expr)
}

// Empty reports whether no column was set.
func (b *SetBuilder) Empty() bool {
	return len(b.sets) == 0
}

// SQL renders the comma-separated assignments.
func (b *SetBuilder) SQL() string {
	return strings.Join(b.sets, ", ")
}

func col(alias, name string) string {
	if alias == "" {
		return name
	}
	return alias + "." + name
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
