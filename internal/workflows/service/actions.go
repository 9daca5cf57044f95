package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"crm_saas_backend/internal/rules"
	"crm_saas_backend/internal/workflows/transport"
	"crm_saas_backend/platform/apperr"

	"github.com/google/uuid"
)

type fieldSpec struct {
	column string
	values []string
}

// updatableFields lists what UpdateField may change, per entity type. Keys are
// normalized field names.
var updatableFields = map[string]map[string]fieldSpec{
	"Lead": {
		"status": {column: "status", values: []string{"New", "Contacted", "Qualified", "Unqualified", "Lost"}},
		"rating": {column: "rating", values: []string{"Cold", "Warm", "Hot"}},
	},
	"Customer": {
		"status": {column: "status", values: []string{"Prospect", "Active", "Inactive", "Churned"}},
	},
	"Contact": {
		"status": {column: "status", values: []string{"Active", "Inactive", "Unsubscribed"}},
	},
	"Opportunity": {
		"stage": {column: "stage", values: []string{"Prospecting", "Qualification", "Proposal", "Negotiation"}},
	},
	"Ticket": {
		"priority": {column: "priority", values: []string{"Low", "Medium", "High", "Critical"}},
		"status":   {column: "status", values: []string{"Open", "InProgress", "Pending", "OnHold", "Resolved"}},
	},
	"Activity": {
		"priority": {column: "priority", values: []string{"Low", "Medium", "High"}},
		"status":   {column: "status", values: []string{"Planned", "InProgress", "Cancelled"}},
	},
}

func fieldFor(entityType, field string) (fieldSpec, bool) {
	spec, ok := updatableFields[entityType][normalizeField(field)]
	return spec, ok
}

func normalizeField(field string) string {
	return strings.NewReplacer("_", "", "-", "", ".", "").Replace(strings.ToLower(strings.TrimSpace(field)))
}

// decodeParams converts the free-form parameter map into a typed struct and validates it.
func (s *Service) decodeParams(params map[string]any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return s.val.Struct(out)
}

// validateActions checks every action and its parameters for entityType.
func (s *Service) validateActions(ctx context.Context, tenantID uuid.UUID, entityType string, actions []transport.Action) error {
	if len(actions) == 0 {
		return apperr.Validation("at least one action is required")
	}
	for i, a := range actions {
		if err := s.validateAction(ctx, tenantID, entityType, a); err != nil {
			return apperr.Validation(fmt.Sprintf("actions[%d] (%s): %s", i, a.Type, err.Error()))
		}
	}
	return nil
}

func (s *Service) validateAction(ctx context.Context, tenantID uuid.UUID, entityType string, a transport.Action) error {
	switch a.Type {
	case transport.ActionSendEmail:
		var p transport.SendEmailParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		if !rules.IsPlaceholder(p.To) && s.val.Var(p.To, "email") != nil {
			return fmt.Errorf("to must be an email address or a {{.field}} placeholder")
		}
	case transport.ActionCreateTask:
		var p transport.CreateTaskParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		if p.AssignToUserID != nil {
			ok, err := s.users.IsActive(ctx, tenantID, *p.AssignToUserID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("assignToUserId is not an active user")
			}
		}
	case transport.ActionUpdateField:
		var p transport.UpdateFieldParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		spec, ok := fieldFor(entityType, p.Field)
		if !ok {
			return fmt.Errorf("field %q cannot be updated on %s", p.Field, entityType)
		}
		if !slices.Contains(spec.values, p.Value) {
			return fmt.Errorf("value must be one of %s", strings.Join(spec.values, ", "))
		}
	case transport.ActionCallWebhook:
		var p transport.CallWebhookParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		if err := s.checkURL(p.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown action type")
	}
	return nil
}

func (s *Service) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("url is invalid")
	}
	if u.Scheme == "https" || (u.Scheme == "http" && s.allowHTTP) {
		return nil
	}
	return fmt.Errorf("url must use https")
}
