package repository

import (
	"strings"
	"testing"
)

func TestSortColumnsAreQualified(t *testing.T) {
	for key, column := range sortColumns {
		if !strings.HasPrefix(column, "l.") {
			t.Fatalf("sort key %q maps to unqualified column %q", key, column)
		}
	}
}

func TestLeadColumnsCastMoney(t *testing.T) {
	if !strings.Contains(leadColumns, "l.estimated_value::float8") {
		t.Fatal("estimated_value must be read as float8")
	}
}
