// Package service records the audit trail. Writes are best effort: failures are
// logged and never surface to the caller.
package service

import (
	"context"
	"strings"

	"crm_saas_backend/internal/audit/repository"
	"crm_saas_backend/internal/audit/transport"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	ua "github.com/mileusna/useragent"
)

const (
	ActionCreate         = "Create"
	ActionUpdate         = "Update"
	ActionDelete         = "Delete"
	ActionLogin          = "Login"
	ActionLogout         = "Logout"
	ActionLogoutAll      = "LogoutAll"
	ActionPasswordChange = "PasswordChange"
	ActionConvert        = "Convert"
	ActionAssign         = "Assign"
	ActionEscalate       = "Escalate"
	ActionClose          = "Close"
	ActionWin            = "Win"
	ActionLose           = "Lose"
	ActionSend           = "Send"
)

type Repository interface {
	Insert(ctx context.Context, p repository.InsertParams) error
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Entry, int, error)
}

// Entry is one audit record before it is enriched with request metadata.
type Entry struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	OldValues  map[string]any
	NewValues  map[string]any
	IPAddress  string
	UserAgent  string
}

type Service struct {
	repo Repository
	log  *logger.Logger
}

func New(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record writes e. Missing IP and user agent are taken from the request context.
func (s *Service) Record(ctx context.Context, e Entry) {
	if e.TenantID == uuid.Nil {
		return
	}
	if client, ok := httpkit.ClientFrom(ctx); ok {
		if e.IPAddress == "" {
			e.IPAddress = client.IP
		}
		if e.UserAgent == "" {
			e.UserAgent = client.UserAgent
		}
	}

	err := s.repo.Insert(ctx, repository.InsertParams{
		TenantID:   e.TenantID,
		UserID:     optionalID(e.UserID),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   optionalID(e.EntityID),
		OldValues:  e.OldValues,
		NewValues:  e.NewValues,
		IPAddress:  optionalString(e.IPAddress),
		UserAgent:  optionalString(SummarizeUserAgent(e.UserAgent)),
	})
	if err != nil {
		s.log.WithContext(ctx).Warn("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}

// SummarizeUserAgent reduces a user agent header to "<browser> on <os>".
func SummarizeUserAgent(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	parsed := ua.Parse(header)
	switch {
	case parsed.Name != "" && parsed.OS != "":
		return parsed.Name + " on " + parsed.OS
	case parsed.Name != "":
		return parsed.Name
	}
	if len(header) > 200 {
		return header[:200]
	}
	return header
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams, req transport.ListAuditLogsRequest) (httpkit.Paged[transport.AuditLogResponse], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, tenantID, repository.ListParams{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		UserID:     req.UserID,
		Action:     req.Action,
		From:       req.From,
		To:         req.To,
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.AuditLogResponse]{}, err
	}
	out := make([]transport.AuditLogResponse, len(items))
	for i, e := range items {
		out[i] = transport.AuditLogResponse{
			ID:         e.ID,
			UserID:     e.UserID,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			OldValues:  e.OldValues,
			NewValues:  e.NewValues,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			CreatedAt:  e.CreatedAt,
		}
	}
	return httpkit.NewPaged(out, total, page), nil
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
