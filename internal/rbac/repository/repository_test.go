package repository

import (
	"strings"
	"testing"
)

func TestRoleQueriesAreTenantScoped(t *testing.T) {
	for name, q := range map[string]string{
		"list":        listRolesQuery,
		"get":         getRoleQuery,
		"permissions": rolePermissionsQuery,
		"access":      userAccessQuery,
	} {
		if !strings.Contains(q, "r.tenant_id = $") {
			t.Fatalf("%s query must filter by tenant: %s", name, q)
		}
	}
}

func TestRoleQueriesSkipDeletedRoles(t *testing.T) {
	for _, q := range []string{listRolesQuery, getRoleQuery, userAccessQuery} {
		if !strings.Contains(q, "r.deleted_at IS NULL") {
			t.Fatalf("query must exclude soft-deleted roles: %s", q)
		}
	}
}

func TestUserCountIgnoresDeletedUsers(t *testing.T) {
	if !strings.Contains(roleColumns, "u.deleted_at IS NULL") {
		t.Fatal("user_count must ignore soft-deleted users")
	}
}
