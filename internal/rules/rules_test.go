package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record() Record {
	return NewRecord(map[string]any{
		"status":           "Qualified",
		"assignedToUserId": "6f1c",
		"estimatedValue":   float64(12000),
		"email":            "Jane@Example.com",
		"createdAt":        "2026-05-01T10:00:00Z",
		"notes":            nil,
		"isPrimary":        true,
	})
}

func TestLookupIgnoresCaseAndSeparators(t *testing.T) {
	r := record()
	for _, field := range []string{"assigned_to_user_id", "AssignedToUserID", "assigned-to.user_id"} {
		v, ok := r.Lookup(field)
		require.True(t, ok, field)
		assert.Equal(t, "6f1c", v)
	}
}

func TestOperators(t *testing.T) {
	r := record()
	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{"status", Equals, "qualified"}, true},
		{Condition{"status", NotEquals, "New"}, true},
		{Condition{"email", Contains, "example"}, true},
		{Condition{"email", NotContains, "gmail"}, true},
		{Condition{"email", StartsWith, "jane"}, true},
		{Condition{"email", EndsWith, ".org"}, false},
		{Condition{"estimated_value", GreaterThan, "9999.5"}, true},
		{Condition{"estimated_value", LessThan, "500"}, false},
		{Condition{"estimated_value", GreaterOrEqual, "12000"}, true},
		{Condition{"estimated_value", LessOrEqual, "11999"}, false},
		{Condition{"notes", IsEmpty, ""}, true},
		{Condition{"missing", IsEmpty, ""}, true},
		{Condition{"email", IsNotEmpty, ""}, true},
		{Condition{"status", In, "New, Qualified"}, true},
		{Condition{"status", NotIn, "New,Lost"}, true},
		{Condition{"createdAt", GreaterThan, "2026-04-30T23:59:59Z"}, true},
		{Condition{"createdAt", LessThan, "2026-05-01T09:00:00+00:00"}, false},
		{Condition{"isPrimary", Equals, "true"}, true},
		{Condition{"missing", GreaterThan, "0"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Evaluate(tc.cond, r), "%s %s %s", tc.cond.Field, tc.cond.Operator, tc.cond.Value)
	}
}

func TestNumericBeatsLexicalOrdering(t *testing.T) {
	r := NewRecord(map[string]any{"score": float64(9)})
	assert.True(t, Evaluate(Condition{"score", LessThan, "10"}, r))
}

func TestMatchRequiresAllConditions(t *testing.T) {
	r := record()
	assert.True(t, Match(nil, r))
	assert.True(t, Match([]Condition{{"status", Equals, "Qualified"}, {"email", Contains, "@"}}, r))
	assert.False(t, Match([]Condition{{"status", Equals, "Qualified"}, {"email", Contains, "gmail"}}, r))
}

func TestValidateAllRejectsUnknownOperator(t *testing.T) {
	err := ValidateAll([]Condition{{"status", Equals, "New"}, {"status", "like", "N%"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conditions[1]")

	assert.Error(t, Condition{Field: " ", Operator: Equals}.Valid())
}

func TestRecordFromJSON(t *testing.T) {
	r, err := RecordFromJSON([]byte(`{"first_name":"Ada","score":42}`))
	require.NoError(t, err)
	assert.True(t, Evaluate(Condition{"firstName", Equals, "ada"}, r))
	assert.True(t, Evaluate(Condition{"score", Equals, "42"}, r))
}
