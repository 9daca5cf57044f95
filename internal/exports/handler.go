package exports

import (
	"fmt"
	"net/http"
	"strings"

	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type storeRequest struct {
	Entity string `json:"entity" validate:"required,oneof=leads contacts customers opportunities tickets"`
}

// Handler serves CSV exports.
type Handler struct {
	exporter *Exporter
	val      *validator.Validator
	log      *logger.Logger
}

func NewHandler(exporter *Exporter, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{exporter: exporter, val: val, log: log}
}

// Download streams GET /exports/<entity>.csv.
func (h *Handler) Download(c *gin.Context) {
	file := c.Param("file")
	entity, ok := strings.CutSuffix(file, ".csv")
	if !ok {
		httpkit.Error(c, http.StatusNotFound, "unknown export", nil)
		return
	}
	spec, err := lookup(entity)
	if httpkit.HandleError(c, err) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	c.Header("Content-Type", contentTypeCSV+"; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", spec.Table))
	c.Status(http.StatusOK)

	// Headers are already sent, so a failure mid-stream can only be logged.
	if _, err := h.exporter.write(c.Request.Context(), c.Writer, identity.TenantID(), spec); err != nil {
		h.log.WithContext(c.Request.Context()).Error("csv export failed", "entity", spec.Table, "error", err)
	}
}

// Store handles POST /exports.
func (h *Handler) Store(c *gin.Context) {
	var req storeRequest
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
	result, err := h.exporter.Store(c.Request.Context(), identity.TenantID(), req.Entity)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}
