package service

import (
	"context"

	"crm_saas_backend/internal/events"
)

// Subscribe registers the audit handlers on bus.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.EntityChanged{}.EventName(), events.HandlerFunc(s.onEntityChanged))
	bus.Subscribe(events.UserLoggedIn{}.EventName(), events.HandlerFunc(s.onAuth))
	bus.Subscribe(events.UserLoggedOut{}.EventName(), events.HandlerFunc(s.onAuth))
	bus.Subscribe(events.PasswordChanged{}.EventName(), events.HandlerFunc(s.onAuth))
	bus.Subscribe(events.LeadConverted{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.LeadAssigned{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.TicketAssigned{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.TicketEscalated{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.OpportunityWon{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.OpportunityLost{}.EventName(), events.HandlerFunc(s.onDomain))
	bus.Subscribe(events.CampaignCompleted{}.EventName(), events.HandlerFunc(s.onDomain))
}

func (s *Service) onEntityChanged(ctx context.Context, evt events.Event) error {
	e, ok := evt.(events.EntityChanged)
	if !ok {
		return nil
	}
	entry := Entry{
		TenantID:   e.TenantID,
		UserID:     e.ActorID,
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
	}
	switch e.Action {
	case events.ActionCreated:
		entry.Action = ActionCreate
		entry.NewValues = e.Data
	case events.ActionDeleted:
		entry.Action = ActionDelete
		entry.OldValues = e.Data
	default:
		entry.Action = ActionUpdate
		if e.EntityType == events.EntityTicket && e.Data["status"] == "Closed" && e.Previous["status"] != "Closed" {
			entry.Action = ActionClose
		}
		entry.OldValues = e.Previous
		entry.NewValues = e.Data
	}
	s.Record(ctx, entry)
	return nil
}

func (s *Service) onAuth(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.UserLoggedIn:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.UserID, Action: ActionLogin, EntityType: string(events.EntityUser),
			EntityID: e.UserID, IPAddress: e.IPAddress, UserAgent: e.UserAgent})
	case events.UserLoggedOut:
		action := ActionLogout
		if e.All {
			action = ActionLogoutAll
		}
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.UserID, Action: action, EntityType: string(events.EntityUser),
			EntityID: e.UserID, IPAddress: e.IPAddress, UserAgent: e.UserAgent})
	case events.PasswordChanged:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.UserID, Action: ActionPasswordChange, EntityType: string(events.EntityUser),
			EntityID: e.UserID, IPAddress: e.IPAddress, UserAgent: e.UserAgent})
	}
	return nil
}

func (s *Service) onDomain(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.LeadConverted:
		values := map[string]any{"customerId": e.CustomerID.String()}
		if e.OpportunityID != nil {
			values["opportunityId"] = e.OpportunityID.String()
		}
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionConvert,
			EntityType: string(events.EntityLead), EntityID: e.LeadID, NewValues: values})
	case events.LeadAssigned:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionAssign,
			EntityType: string(events.EntityLead), EntityID: e.LeadID,
			NewValues: map[string]any{"assignedToUserId": e.AssigneeID.String()}})
	case events.TicketAssigned:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionAssign,
			EntityType: string(events.EntityTicket), EntityID: e.TicketID,
			NewValues: map[string]any{"assignedToUserId": e.AssigneeID.String()}})
	case events.TicketEscalated:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionEscalate,
			EntityType: string(events.EntityTicket), EntityID: e.TicketID,
			NewValues: map[string]any{"priority": e.Priority, "escalationCount": e.EscalationCount}})
	case events.OpportunityWon:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionWin,
			EntityType: string(events.EntityOpportunity), EntityID: e.OpportunityID,
			NewValues: map[string]any{"amount": e.Amount}})
	case events.OpportunityLost:
		s.Record(ctx, Entry{TenantID: e.TenantID, UserID: e.ActorID, Action: ActionLose,
			EntityType: string(events.EntityOpportunity), EntityID: e.OpportunityID,
			NewValues: map[string]any{"lossReason": e.LossReason}})
	case events.CampaignCompleted:
		s.Record(ctx, Entry{TenantID: e.TenantID, Action: ActionSend,
			EntityType: string(events.EntityCampaign), EntityID: e.CampaignID,
			NewValues: map[string]any{"totalSent": e.TotalSent, "totalBounced": e.TotalBounced}})
	}
	return nil
}
