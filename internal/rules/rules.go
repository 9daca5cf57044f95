// Package rules evaluates the condition lists shared by workflows and segments.
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operator names a comparison.
type Operator string

const (
	Equals         Operator = "equals"
	NotEquals      Operator = "not_equals"
	Contains       Operator = "contains"
	NotContains    Operator = "not_contains"
	StartsWith     Operator = "starts_with"
	EndsWith       Operator = "ends_with"
	GreaterThan    Operator = "greater_than"
	LessThan       Operator = "less_than"
	GreaterOrEqual Operator = "greater_or_equal"
	LessOrEqual    Operator = "less_or_equal"
	IsEmpty        Operator = "is_empty"
	IsNotEmpty     Operator = "is_not_empty"
	In             Operator = "in"
	NotIn          Operator = "not_in"
)

var availableOperators = map[Operator]bool{
	Equals: true, NotEquals: true, Contains: true, NotContains: true, StartsWith: true, EndsWith: true,
	GreaterThan: true, LessThan: true, GreaterOrEqual: true, LessOrEqual: true,
	IsEmpty: true, IsNotEmpty: true, In: true, NotIn: true,
}

// Condition compares one field of a record against Value.
type Condition struct {
	Field    string   `json:"field" validate:"required,max=100"`
	Operator Operator `json:"operator" validate:"required"`
	Value    string   `json:"value" validate:"max=1000"`
}

// Valid returns an error for unknown operators or a missing field.
func (c Condition) Valid() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	if !availableOperators[c.Operator] {
		return fmt.Errorf("operator %q is invalid", c.Operator)
	}
	return nil
}

// ValidateAll checks every condition and reports the first problem with its index.
func ValidateAll(conds []Condition) error {
	for i, c := range conds {
		if err := c.Valid(); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
	}
	return nil
}

// Record is a flattened entity snapshot keyed by normalized field name.
type Record map[string]any

// NewRecord normalizes the keys of data. Nested objects are ignored.
func NewRecord(data map[string]any) Record {
	r := make(Record, len(data))
	for k, v := range data {
		r[normalize(k)] = v
	}
	return r
}

// RecordFromJSON decodes a JSON object into a Record.
func RecordFromJSON(raw []byte) (Record, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return NewRecord(data), nil
}

// Lookup returns the field value, ignoring case and the separators _ - and .
func (r Record) Lookup(field string) (any, bool) {
	v, ok := r[normalize(field)]
	return v, ok
}

// Match reports whether every condition holds. An empty list matches.
func Match(conds []Condition, r Record) bool {
	for _, c := range conds {
		if !Evaluate(c, r) {
			return false
		}
	}
	return true
}

// Evaluate applies one condition to r.
func Evaluate(c Condition, r Record) bool {
	raw, _ := r.Lookup(c.Field)
	actual := stringify(raw)

	switch c.Operator {
	case IsEmpty:
		return actual == ""
	case IsNotEmpty:
		return actual != ""
	case Equals:
		return compare(actual, c.Value) == 0
	case NotEquals:
		return compare(actual, c.Value) != 0
	case Contains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(c.Value))
	case NotContains:
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(c.Value))
	case StartsWith:
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(c.Value))
	case EndsWith:
		return strings.HasSuffix(strings.ToLower(actual), strings.ToLower(c.Value))
	case GreaterThan:
		return actual != "" && compare(actual, c.Value) > 0
	case LessThan:
		return actual != "" && compare(actual, c.Value) < 0
	case GreaterOrEqual:
		return actual != "" && compare(actual, c.Value) >= 0
	case LessOrEqual:
		return actual != "" && compare(actual, c.Value) <= 0
	case In:
		return inList(actual, c.Value)
	case NotIn:
		return !inList(actual, c.Value)
	}
	return false
}

// compare orders numbers numerically, RFC 3339 timestamps chronologically and
// everything else as case-insensitive strings.
func compare(a, b string) int {
	if x, errA := strconv.ParseFloat(a, 64); errA == nil {
		if y, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := parseTime(a); ok {
		if y, ok := parseTime(b); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func inList(actual, list string) bool {
	for _, item := range strings.Split(list, ",") {
		if compare(actual, strings.TrimSpace(item)) == 0 {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func normalize(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	for _, r := range strings.ToLower(field) {
		if r == '_' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
