package handler

import (
	"net/http"

	"crm_saas_backend/internal/attachments/service"
	"crm_saas_backend/internal/attachments/transport"
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
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts the routes. Permissions depend on the attached entity
// and are checked by the service.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload-url", h.UploadURL)
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id/download", h.Download)
	rg.DELETE("/:id", h.Delete)
}

func (h *Handler) UploadURL(c *gin.Context) {
	var req transport.UploadURLRequest
	if !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.UploadURL(c.Request.Context(), identity, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateAttachmentRequest
	if !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Create(c.Request.Context(), identity, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

func (h *Handler) List(c *gin.Context) {
	var req transport.ListAttachmentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
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
	result, err := h.svc.List(c.Request.Context(), identity, req.EntityType, uuid.MustParse(req.EntityID))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Download(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	result, err := h.svc.Download(c.Request.Context(), identity, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Delete(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity, id)) {
		return
	}
	httpkit.NoContent(c)
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return false
	}
	return true
}

func pathIdentity(c *gin.Context) (uuid.UUID, httpkit.Identity, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, nil, false
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.Nil, nil, false
	}
	return id, identity, true
}
