// Package scope narrows list and read queries to the caller's data scope.
package scope

import (
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"
)

// DataScope is the record visibility granted by a role.
type DataScope string

const (
	AllInOrganization DataScope = "AllInOrganization"
	Department        DataScope = "Department"
	TeamOnly          DataScope = "TeamOnly"
	OnlyOwn           DataScope = "OnlyOwn"
)

var rank = map[DataScope]int{
	AllInOrganization: 4,
	Department:        3,
	TeamOnly:          2,
	OnlyOwn:           1,
}

// Valid reports whether s is a known scope.
func (s DataScope) Valid() bool {
	_, ok := rank[s]
	return ok
}

// MostPermissive picks the widest scope among a user's roles. No roles means OnlyOwn.
func MostPermissive(scopes []string) DataScope {
	best := OnlyOwn
	for _, s := range scopes {
		ds := DataScope(s)
		if rank[ds] > rank[best] {
			best = ds
		}
	}
	return best
}

// Apply appends the scope condition for the caller to f.
// ownerColumn is the qualified owner column (e.g. "l.assigned_to_user_id"); alias qualifies created_by.
// Department and TeamOnly fall back to OnlyOwn when the user has no department or team.
func Apply(f *db.Filter, id httpkit.Identity, ownerColumn, alias string) {
	createdBy := "created_by"
	if alias != "" {
		createdBy = alias + ".created_by"
	}

	switch effective(id) {
	case AllInOrganization:
		return
	case Department:
		f.Where(ownerColumn + " IN (SELECT u.id FROM users u WHERE u.tenant_id = " + f.Arg(id.TenantID()) +
			" AND u.department = " + f.Arg(id.Department()) + ")")
	case TeamOnly:
		f.Where(ownerColumn + " IN (SELECT u.id FROM users u WHERE u.tenant_id = " + f.Arg(id.TenantID()) +
			" AND u.team = " + f.Arg(id.Team()) + ")")
	default:
		ph := f.Arg(id.UserID())
		f.Where("(" + ownerColumn + " = " + ph + " OR " + createdBy + " = " + ph + ")")
	}
}

func effective(id httpkit.Identity) DataScope {
	s := DataScope(id.DataScope())
	if !s.Valid() {
		return OnlyOwn
	}
	if s == Department && id.Department() == "" {
		return OnlyOwn
	}
	if s == TeamOnly && id.Team() == "" {
		return OnlyOwn
	}
	return s
}
