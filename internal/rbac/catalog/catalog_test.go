package catalog

import (
	"slices"
	"testing"

	"crm_saas_backend/internal/rbac/scope"
)

func TestCatalogLoadsAndExcludesPlatformModules(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	tenantCodes := c.Codes(false)
	if slices.Contains(tenantCodes, "tenants.view") {
		t.Fatal("tenants.* must not be granted outside the platform tenant")
	}
	if !slices.Contains(c.Codes(true), "tenants.view") {
		t.Fatal("platform codes must be listed when requested")
	}
	if module, ok := c.Module("leads.convert"); !ok || module != "leads" {
		t.Fatalf("unexpected module lookup %q %v", module, ok)
	}
}

func TestDefaultRolesExpandToCatalogCodes(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	roles, err := DefaultRoles()
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 3 {
		t.Fatalf("expected Admin, Manager and User, got %d roles", len(roles))
	}

	byName := map[string]RoleDef{}
	for _, r := range roles {
		byName[r.Name] = r
	}

	admin := c.RoleCodes(byName["Admin"], false)
	if slices.Contains(admin, "tenants.create") || !slices.Contains(admin, "roles.delete") {
		t.Fatalf("unexpected admin codes %v", admin)
	}
	if !slices.Contains(c.RoleCodes(byName["Admin"], true), "tenants.create") {
		t.Fatal("platform admin must receive tenants.*")
	}

	manager := c.RoleCodes(byName["Manager"], false)
	if !slices.Contains(manager, "reports.view") || slices.Contains(manager, "roles.create") {
		t.Fatalf("unexpected manager codes %v", manager)
	}
	if byName["Manager"].DataScope != scope.Department || byName["User"].DataScope != scope.OnlyOwn {
		t.Fatal("unexpected default data scopes")
	}

	user := c.RoleCodes(byName["User"], false)
	if slices.Contains(user, "leads.delete") || !slices.Contains(user, "tickets.create") {
		t.Fatalf("unexpected user codes %v", user)
	}
}
