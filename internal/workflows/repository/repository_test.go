package repository

import (
	"strings"
	"testing"
)

func TestDueQueryLocksAndSkips(t *testing.T) {
	for _, fragment := range []string{
		"trigger_type = 'Scheduled'",
		"w.is_active",
		"next_run_at <= $1",
		"FOR UPDATE SKIP LOCKED",
	} {
		if !strings.Contains(dueQuery, fragment) {
			t.Fatalf("due query missing %q", fragment)
		}
	}
}

func TestActiveQueryIsTenantScoped(t *testing.T) {
	if !strings.Contains(activeQuery, "w.tenant_id = $1") || !strings.Contains(activeQuery, "w.deleted_at IS NULL") {
		t.Fatal("active workflow lookup must be tenant scoped")
	}
}

func TestEntityQueriesAreTenantScoped(t *testing.T) {
	for entity, table := range entityTables {
		for name, q := range map[string]string{
			"snapshot": snapshotQuery(table),
			"update":   updateFieldQuery(table, "status"),
		} {
			if !strings.Contains(q, "e.tenant_id = $") || !strings.Contains(q, "e.deleted_at IS NULL") {
				t.Fatalf("%s query for %s must be tenant scoped: %s", name, entity, q)
			}
		}
	}
}

func TestTaskAssigneeMustBelongToTenant(t *testing.T) {
	if !strings.Contains(createTaskQuery, "u.tenant_id = $1") {
		t.Fatal("task assignee lookup must stay within the tenant")
	}
}
