package repository

import (
	"strings"
	"testing"
)

func TestReportQueriesAreTenantScopedAndWindowed(t *testing.T) {
	for name, q := range map[string]string{
		"pipeline": pipelineQuery,
		"leads":    leadStatusQuery,
		"tickets":  ticketQuery,
		"users":    userActivityQuery,
	} {
		if !strings.Contains(q, "tenant_id = $1") {
			t.Fatalf("%s query must be tenant scoped", name)
		}
		if !strings.Contains(q, ">= $2") || !strings.Contains(q, "< $3") {
			t.Fatalf("%s query must use a half-open window", name)
		}
		if !strings.Contains(q, "deleted_at IS NULL") {
			t.Fatalf("%s query must skip soft-deleted rows", name)
		}
	}
}

func TestUserActivitySubqueriesStayInTenant(t *testing.T) {
	if strings.Count(userActivityQuery, "tenant_id = u.tenant_id") != 3 {
		t.Fatal("every per-user aggregate must join on the user's tenant")
	}
}
