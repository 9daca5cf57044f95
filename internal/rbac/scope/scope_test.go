package scope

import (
	"strings"
	"testing"

	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"

	"github.com/google/uuid"
)

func newIdentity(scope, dept, team string) httpkit.Identity {
	return &httpkit.Principal{User: uuid.New(), Tenant: uuid.New(), Scope: scope, Dept: dept, TeamName: team}
}

func TestMostPermissive(t *testing.T) {
	if got := MostPermissive([]string{"OnlyOwn", "Department", "TeamOnly"}); got != Department {
		t.Fatalf("expected Department, got %s", got)
	}
	if got := MostPermissive(nil); got != OnlyOwn {
		t.Fatalf("expected OnlyOwn without roles, got %s", got)
	}
	if got := MostPermissive([]string{"bogus", "AllInOrganization"}); got != AllInOrganization {
		t.Fatalf("expected AllInOrganization, got %s", got)
	}
}

func TestApplyAllInOrganizationAddsNothing(t *testing.T) {
	f := db.TenantScoped("l", uuid.New())
	Apply(f, newIdentity("AllInOrganization", "", ""), "l.assigned_to_user_id", "l")
	if len(f.Args()) != 1 || strings.Contains(f.SQL(), "assigned_to_user_id") {
		t.Fatalf("expected no scope clause, got %s", f.SQL())
	}
}

func TestApplyDepartment(t *testing.T) {
	f := db.TenantScoped("l", uuid.New())
	Apply(f, newIdentity("Department", "sales", ""), "l.assigned_to_user_id", "l")
	sql := f.SQL()
	if !strings.Contains(sql, "l.assigned_to_user_id IN (SELECT u.id FROM users u WHERE u.tenant_id = $2 AND u.department = $3)") {
		t.Fatalf("unexpected department clause: %s", sql)
	}
	if f.Args()[2] != "sales" {
		t.Fatalf("unexpected args %v", f.Args())
	}
}

func TestApplyOnlyOwnMatchesOwnerOrCreator(t *testing.T) {
	id := newIdentity("OnlyOwn", "", "")
	f := db.TenantScoped("t", uuid.New())
	Apply(f, id, "t.assigned_to_user_id", "t")
	if !strings.Contains(f.SQL(), "(t.assigned_to_user_id = $2 OR t.created_by = $2)") {
		t.Fatalf("unexpected own clause: %s", f.SQL())
	}
	if f.Args()[1] != id.UserID() {
		t.Fatal("expected the caller's id as argument")
	}
}

func TestApplyTeamWithoutTeamFallsBackToOwn(t *testing.T) {
	f := db.TenantScoped("", uuid.New())
	Apply(f, newIdentity("TeamOnly", "", ""), "assigned_to_user_id", "")
	if !strings.Contains(f.SQL(), "(assigned_to_user_id = $2 OR created_by = $2)") {
		t.Fatalf("expected OnlyOwn fallback, got %s", f.SQL())
	}
}
