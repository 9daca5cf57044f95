package repository

import (
	"strings"
	"testing"
)

func TestTimelineIsTenantScopedPerSource(t *testing.T) {
	for _, alias := range []string{"a", "t", "o"} {
		fragment := alias + ".tenant_id = $1 AND " + alias + ".contact_id = $2 AND " + alias + ".deleted_at IS NULL"
		if !strings.Contains(timelineQuery, fragment) {
			t.Fatalf("timeline query missing %q", fragment)
		}
	}
	if !strings.Contains(timelineQuery, "ORDER BY occurred_at DESC") {
		t.Fatal("timeline must be newest first")
	}
}

func TestHealthQueryCountsStayInTenant(t *testing.T) {
	if got := strings.Count(healthQuery, "tenant_id = ct.tenant_id"); got != 4 {
		t.Fatalf("expected 4 tenant-correlated subqueries, got %d", got)
	}
}

func TestCustomerJoinIsTenantScoped(t *testing.T) {
	if !strings.Contains(contactFrom, "cu.tenant_id = ct.tenant_id") {
		t.Fatal("customer join must stay within the tenant")
	}
}
