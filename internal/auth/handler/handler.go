package handler

import (
	"net/http"
	"time"

	"crm_saas_backend/internal/auth/service"
	"crm_saas_backend/internal/auth/transport"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc    *service.Service
	cookie config.CookieConfig
	val    *validator.Validator
}

func New(svc *service.Service, cookie config.CookieConfig, val *validator.Validator) *Handler {
	return &Handler{svc: svc, cookie: cookie, val: val}
}

// RegisterPublicRoutes mounts the anonymous login and refresh endpoints.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/login", h.Login)
	rg.POST("/refresh", h.Refresh)
}

// RegisterProtectedRoutes mounts endpoints that need a valid access token.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/logout", h.Logout)
	rg.POST("/logout-all", h.LogoutAll)
	rg.GET("/me", h.Me)
	rg.PUT("/profile", h.UpdateProfile)
	rg.PUT("/change-password", h.ChangePassword)
}

func (h *Handler) Login(c *gin.Context) {
	var req transport.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	var tenantID *uuid.UUID
	if resolved, ok := httpkit.ResolvedTenant(c); ok {
		tenantID = &resolved
	}

	resp, err := h.svc.Login(c.Request.Context(), req, tenantID, meta(c))
	if httpkit.HandleError(c, err) {
		return
	}
	h.setRefreshCookie(c, resp.RefreshToken)
	httpkit.OK(c, resp)
}

// Refresh accepts the token from the body or, failing that, the refresh cookie.
func (h *Handler) Refresh(c *gin.Context) {
	var req transport.RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	raw := req.RefreshToken
	if raw == "" {
		raw, _ = c.Cookie(h.cookie.GetRefreshCookieName())
	}

	resp, err := h.svc.Refresh(c.Request.Context(), raw)
	if err != nil {
		h.clearRefreshCookie(c)
		httpkit.HandleError(c, err)
		return
	}
	h.setRefreshCookie(c, resp.RefreshToken)
	httpkit.OK(c, resp)
}

func (h *Handler) Logout(c *gin.Context) {
	var req transport.LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	raw := req.RefreshToken
	if raw == "" {
		raw, _ = c.Cookie(h.cookie.GetRefreshCookieName())
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	err := h.svc.Logout(c.Request.Context(), identity.TenantID(), identity.UserID(), raw, meta(c))
	if httpkit.HandleError(c, err) {
		return
	}
	h.clearRefreshCookie(c)
	httpkit.NoContent(c)
}

func (h *Handler) LogoutAll(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	if httpkit.HandleError(c, h.svc.LogoutAll(c.Request.Context(), identity.TenantID(), identity.UserID(), meta(c))) {
		return
	}
	h.clearRefreshCookie(c)
	httpkit.NoContent(c)
}

func (h *Handler) Me(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	profile, err := h.svc.Me(c.Request.Context(), identity.TenantID(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, profile)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req transport.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	profile, err := h.svc.UpdateProfile(c.Request.Context(), identity.TenantID(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, profile)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req transport.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	err := h.svc.ChangePassword(c.Request.Context(), identity.TenantID(), identity.UserID(), req, meta(c))
	if httpkit.HandleError(c, err) {
		return
	}
	h.clearRefreshCookie(c)
	httpkit.NoContent(c)
}

func meta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func (h *Handler) setRefreshCookie(c *gin.Context, value string) {
	maxAge := int(h.cookie.GetRefreshTokenTTL() / time.Second)
	c.SetSameSite(h.cookie.GetRefreshCookieSameSite())
	c.SetCookie(
		h.cookie.GetRefreshCookieName(),
		value,
		maxAge,
		h.cookie.GetRefreshCookiePath(),
		h.cookie.GetRefreshCookieDomain(),
		h.cookie.GetRefreshCookieSecure(),
		true,
	)
}

func (h *Handler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(h.cookie.GetRefreshCookieSameSite())
	c.SetCookie(
		h.cookie.GetRefreshCookieName(),
		"",
		-1,
		h.cookie.GetRefreshCookiePath(),
		h.cookie.GetRefreshCookieDomain(),
		h.cookie.GetRefreshCookieSecure(),
		true,
	)
}
