// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"context"
	"net/http"
	"slices"

	"crm_saas_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextUserIDKey is the gin context key for the authenticated user ID.
	ContextUserIDKey = "userID"
	// ContextRolesKey is the gin context key for the user's role names.
	ContextRolesKey = "roles"
	// ContextTenantIDKey is the gin context key for the tenant ID.
	ContextTenantIDKey = "tenantID"
	// ContextPermissionsKey is the gin context key for granted permission codes.
	ContextPermissionsKey = "permissions"
	// ContextDataScopeKey is the gin context key for the effective data scope.
	ContextDataScopeKey = "dataScope"
	// ContextDepartmentKey and ContextTeamKey carry the user's org placement.
	ContextDepartmentKey = "department"
	ContextTeamKey       = "team"
	// ContextResolvedTenantKey carries the tenant resolved for anonymous requests.
	ContextResolvedTenantKey = "resolvedTenant"
)

// Identity represents the authenticated user's identity.
// Handlers read it through this interface instead of raw gin keys.
type Identity interface {
	UserID() uuid.UUID
	TenantID() uuid.UUID
	Roles() []string
	Permissions() []string
	HasRole(role string) bool
	HasPermission(code string) bool
	DataScope() string
	Department() string
	Team() string
	IsAuthenticated() bool
}

// Principal is the concrete identity carried by an access token.
type Principal struct {
	User      uuid.UUID
	Tenant    uuid.UUID
	RoleNames []string
	Granted   []string
	Scope     string
	Dept      string
	TeamName  string
	authed    bool
}

func (p *Principal) UserID() uuid.UUID        { return p.User }
func (p *Principal) TenantID() uuid.UUID      { return p.Tenant }
func (p *Principal) Roles() []string          { return p.RoleNames }
func (p *Principal) Permissions() []string    { return p.Granted }
func (p *Principal) HasRole(role string) bool { return slices.Contains(p.RoleNames, role) }
func (p *Principal) HasPermission(code string) bool {
	return slices.Contains(p.Granted, code)
}
func (p *Principal) DataScope() string     { return p.Scope }
func (p *Principal) Department() string    { return p.Dept }
func (p *Principal) Team() string          { return p.TeamName }
func (p *Principal) IsAuthenticated() bool { return p.authed }

// SetPrincipal stores p on the gin context and enriches the request context for logging.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(ContextUserIDKey, p.User)
	c.Set(ContextTenantIDKey, p.Tenant)
	c.Set(ContextRolesKey, p.RoleNames)
	c.Set(ContextPermissionsKey, p.Granted)
	c.Set(ContextDataScopeKey, p.Scope)
	c.Set(ContextDepartmentKey, p.Dept)
	c.Set(ContextTeamKey, p.TeamName)

	ctx := context.WithValue(c.Request.Context(), logger.UserIDKey, p.User.String())
	ctx = context.WithValue(ctx, logger.TenantIDKey, p.Tenant.String())
	c.Request = c.Request.WithContext(ctx)
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	userID, ok := c.Get(ContextUserIDKey)
	if !ok {
		return &Principal{}
	}
	uid, ok := userID.(uuid.UUID)
	if !ok {
		return &Principal{}
	}

	p := &Principal{User: uid, authed: true}
	if v, ok := c.Get(ContextTenantIDKey); ok {
		p.Tenant, _ = v.(uuid.UUID)
	}
	p.RoleNames = c.GetStringSlice(ContextRolesKey)
	p.Granted = c.GetStringSlice(ContextPermissionsKey)
	p.Scope = c.GetString(ContextDataScopeKey)
	p.Dept = c.GetString(ContextDepartmentKey)
	p.TeamName = c.GetString(ContextTeamKey)
	return p
}

// MustGetIdentity extracts the Identity from a Gin context.
// If the user is not authenticated or carries no tenant, it aborts with 401 and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() || id.TenantID() == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return nil
	}
	return id
}

// SetResolvedTenant records the tenant resolved from X-Tenant-ID or the host.
func SetResolvedTenant(c *gin.Context, tenantID uuid.UUID) {
	c.Set(ContextResolvedTenantKey, tenantID)
	ctx := context.WithValue(c.Request.Context(), logger.TenantIDKey, tenantID.String())
	c.Request = c.Request.WithContext(ctx)
}

// ResolvedTenant returns the tenant set by the resolver middleware, if any.
func ResolvedTenant(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextResolvedTenantKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
