package repository

import (
	"strings"
	"testing"
)

func TestJoinsStayInTenant(t *testing.T) {
	for _, fragment := range []string{"cu.tenant_id = o.tenant_id", "ct.tenant_id = o.tenant_id"} {
		if !strings.Contains(opportunityFrom, fragment) {
			t.Fatalf("join missing %q", fragment)
		}
	}
}

func TestSortColumnsAreQualified(t *testing.T) {
	for key, column := range sortColumns {
		if !strings.HasPrefix(column, "o.") {
			t.Fatalf("sort key %q maps to unqualified column %q", key, column)
		}
	}
}
