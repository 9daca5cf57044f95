package repository

import (
	"strings"
	"testing"
)

func TestCandidatesAreActiveTenantContactsWithEmail(t *testing.T) {
	for _, fragment := range []string{
		"ct.tenant_id = $1",
		"ct.deleted_at IS NULL",
		"ct.status = 'Active'",
		"ct.email IS NOT NULL",
	} {
		if !strings.Contains(candidatesQuery, fragment) {
			t.Fatalf("candidates query missing %q", fragment)
		}
	}
}

func TestEncodeCriteriaNeverNull(t *testing.T) {
	raw, err := encodeCriteria(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "[]" {
		t.Fatalf("expected empty array, got %s", raw)
	}
}
