// Package catalog holds the permission catalog and the system roles seeded for each tenant.
package catalog

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"

	"crm_saas_backend/internal/rbac/scope"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

//go:embed roles.yaml
var rolesYAML []byte

// PermissionDef is one catalog entry.
type PermissionDef struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ModuleDef groups permissions of one module.
type ModuleDef struct {
	Module      string          `yaml:"module"`
	Platform    bool            `yaml:"platform"`
	Permissions []PermissionDef `yaml:"permissions"`
}

// Catalog is the full permission catalog.
type Catalog struct {
	Modules []ModuleDef `yaml:"modules"`
}

// RoleDef describes a system role created for each tenant.
type RoleDef struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	DataScope      scope.DataScope `yaml:"dataScope"`
	AllPermissions bool            `yaml:"allPermissions"`
	Modules        []string        `yaml:"modules"`
	Permissions    []string        `yaml:"permissions"`
}

type roleFile struct {
	Roles []RoleDef `yaml:"roles"`
}

// LoadCatalog parses the embedded catalog and rejects duplicate codes.
func LoadCatalog() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("parse permission catalog: %w", err)
	}
	seen := make(map[string]struct{})
	for _, m := range c.Modules {
		for _, p := range m.Permissions {
			if _, dup := seen[p.Code]; dup {
				return nil, fmt.Errorf("duplicate permission code %q", p.Code)
			}
			seen[p.Code] = struct{}{}
		}
	}
	return &c, nil
}

// DefaultRoles parses the embedded system role definitions.
func DefaultRoles() ([]RoleDef, error) {
	var f roleFile
	if err := yaml.Unmarshal(rolesYAML, &f); err != nil {
		return nil, fmt.Errorf("parse default roles: %w", err)
	}
	for _, r := range f.Roles {
		if !r.DataScope.Valid() {
			return nil, fmt.Errorf("role %s: invalid data scope %q", r.Name, r.DataScope)
		}
	}
	return f.Roles, nil
}

// Codes returns every permission code. Platform-only modules are skipped unless includePlatform.
func (c *Catalog) Codes(includePlatform bool) []string {
	out := make([]string, 0)
	for _, m := range c.Modules {
		if m.Platform && !includePlatform {
			continue
		}
		for _, p := range m.Permissions {
			out = append(out, p.Code)
		}
	}
	return out
}

// Module returns the module name that owns code.
func (c *Catalog) Module(code string) (string, bool) {
	for _, m := range c.Modules {
		for _, p := range m.Permissions {
			if p.Code == code {
				return m.Module, true
			}
		}
	}
	return "", false
}

// RoleCodes expands a role definition into permission codes.
// The platform tenant's Admin additionally receives platform-only permissions.
func (c *Catalog) RoleCodes(role RoleDef, platformTenant bool) []string {
	if role.AllPermissions {
		return c.Codes(platformTenant)
	}

	set := make(map[string]struct{})
	for _, m := range c.Modules {
		if m.Platform || !slices.Contains(role.Modules, m.Module) {
			continue
		}
		for _, p := range m.Permissions {
			set[p.Code] = struct{}{}
		}
	}
	for _, code := range role.Permissions {
		if module, ok := c.Module(code); ok && !c.isPlatform(module) {
			set[code] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) isPlatform(module string) bool {
	for _, m := range c.Modules {
		if m.Module == module {
			return m.Platform
		}
	}
	return false
}
