package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/webhooks/repository"
	"crm_saas_backend/internal/webhooks/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgNotFound         = "webhook not found"
	msgDeliveryNotFound = "webhook delivery not found"
	msgNotRetryable     = "only failed or abandoned deliveries can be retried"
	msgURLScheme        = "url must use https"
	maskedSecret        = "********"
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]repository.Webhook, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.Webhook, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	Subscribers(ctx context.Context, tenantID uuid.UUID, eventType string) ([]uuid.UUID, error)
	Enqueue(ctx context.Context, deliveries []repository.NewDelivery) error
	ListDeliveries(ctx context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]repository.Delivery, int, error)
	Reset(ctx context.Context, tenantID, webhookID, deliveryID uuid.UUID) error
	ClaimPending(ctx context.Context, now time.Time, limit, maxAttempts int) ([]repository.Claimed, error)
	ClaimRetries(ctx context.Context, now time.Time, limit, maxAttempts int) ([]repository.Claimed, error)
	Finish(ctx context.Context, tenantID, id uuid.UUID, o repository.Outcome) error
	Abandon(ctx context.Context, now time.Time, maxAttempts int) (int, error)
}

// Options tune delivery.
type Options struct {
	// AllowHTTP permits plain http targets. Only development enables it.
	AllowHTTP   bool
	Timeout     time.Duration
	MaxAttempts int
}

type Service struct {
	repo        Repository
	bus         events.Bus
	log         *logger.Logger
	metrics     *metrics.Registry
	dispatcher  *dispatcher
	allowHTTP   bool
	maxAttempts int
	now         func() time.Time
}

func New(repo Repository, bus events.Bus, log *logger.Logger, reg *metrics.Registry, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	s := &Service{
		repo:        repo,
		bus:         bus,
		log:         log,
		metrics:     reg,
		allowHTTP:   opts.AllowHTTP,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}
	s.dispatcher = newDispatcher(opts.Timeout)
	return s
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams) (httpkit.Paged[transport.WebhookResponse], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, tenantID, page.Limit(), page.Offset())
	if err != nil {
		return httpkit.Paged[transport.WebhookResponse]{}, err
	}
	out := make([]transport.WebhookResponse, len(items))
	for i, w := range items {
		out[i] = ToResponse(w, false)
	}
	return httpkit.NewPaged(out, total, page), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (transport.WebhookResponse, error) {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WebhookResponse{}, mapErr(err)
	}
	return ToResponse(w, false), nil
}

// Create registers a webhook. The secret is returned in full only here.
func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateWebhookRequest) (transport.WebhookResponse, error) {
	if err := s.checkURL(req.URL); err != nil {
		return transport.WebhookResponse{}, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:    tenantID,
		URL:         strings.TrimSpace(req.URL),
		Events:      normalizeEvents(req.Events),
		IsActive:    active,
		Secret:      req.Secret,
		Description: sanitize.TextPtr(req.Description),
		CreatedBy:   &actorID,
	})
	if err != nil {
		return transport.WebhookResponse{}, err
	}
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WebhookResponse{}, mapErr(err)
	}
	s.publish(ctx, tenantID, actorID, w, events.ActionCreated, nil)
	return ToResponse(w, true), nil
}

func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateWebhookRequest) (transport.WebhookResponse, error) {
	before, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WebhookResponse{}, mapErr(err)
	}
	p := repository.UpdateParams{
		IsActive:    req.IsActive,
		Secret:      req.Secret,
		Description: sanitize.TextPtr(req.Description),
	}
	if req.URL != nil {
		if err := s.checkURL(*req.URL); err != nil {
			return transport.WebhookResponse{}, err
		}
		u := strings.TrimSpace(*req.URL)
		p.URL = &u
	}
	if req.Events != nil {
		evs := normalizeEvents(*req.Events)
		p.Events = &evs
	}
	if err := s.repo.Update(ctx, tenantID, id, p); err != nil {
		return transport.WebhookResponse{}, mapErr(err)
	}
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WebhookResponse{}, mapErr(err)
	}
	prev := ToResponse(before, false)
	s.publish(ctx, tenantID, actorID, w, events.ActionUpdated, &prev)
	return ToResponse(w, false), nil
}

func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, actorID, w, events.ActionDeleted, nil)
	return nil
}

func (s *Service) Deliveries(ctx context.Context, tenantID, webhookID uuid.UUID, page httpkit.PageParams) (httpkit.Paged[transport.DeliveryResponse], error) {
	if _, err := s.repo.Get(ctx, tenantID, webhookID); err != nil {
		return httpkit.Paged[transport.DeliveryResponse]{}, mapErr(err)
	}
	page = page.Normalize()
	items, total, err := s.repo.ListDeliveries(ctx, tenantID, webhookID, page.Limit(), page.Offset())
	if err != nil {
		return httpkit.Paged[transport.DeliveryResponse]{}, err
	}
	out := make([]transport.DeliveryResponse, len(items))
	for i, d := range items {
		out[i] = DeliveryToResponse(d)
	}
	return httpkit.NewPaged(out, total, page), nil
}

// Test queues a webhook.test delivery for the next dispatcher run.
func (s *Service) Test(ctx context.Context, tenantID, webhookID uuid.UUID) error {
	w, err := s.repo.Get(ctx, tenantID, webhookID)
	if err != nil {
		return mapErr(err)
	}
	payload, err := envelope(transport.EventTest, tenantID, s.now(), map[string]any{
		"webhookId": w.ID,
		"message":   "test delivery",
	})
	if err != nil {
		return err
	}
	return s.repo.Enqueue(ctx, []repository.NewDelivery{{
		TenantID:  tenantID,
		WebhookID: w.ID,
		EventType: transport.EventTest,
		Payload:   payload,
	}})
}

func (s *Service) Retry(ctx context.Context, tenantID, webhookID, deliveryID uuid.UUID) error {
	if _, err := s.repo.Get(ctx, tenantID, webhookID); err != nil {
		return mapErr(err)
	}
	return mapErr(s.repo.Reset(ctx, tenantID, webhookID, deliveryID))
}

// Handle is the outbox writer: one pending delivery per active webhook
// subscribed to the event's public name.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.WebhookEvent)
	if !ok {
		return nil
	}
	eventType := e.WebhookEventType()
	tenantID := e.Tenant()
	ids, err := s.repo.Subscribers(ctx, tenantID, eventType)
	if err != nil || len(ids) == 0 {
		return err
	}
	payload, err := envelope(eventType, tenantID, e.OccurredAt(), e)
	if err != nil {
		return err
	}
	deliveries := make([]repository.NewDelivery, len(ids))
	for i, id := range ids {
		deliveries[i] = repository.NewDelivery{TenantID: tenantID, WebhookID: id, EventType: eventType, Payload: payload}
	}
	return s.repo.Enqueue(ctx, deliveries)
}

func (s *Service) checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return apperr.Validation("invalid url")
	}
	if u.Scheme == "https" || (u.Scheme == "http" && s.allowHTTP) {
		return nil
	}
	return apperr.Validation(msgURLScheme)
}

func (s *Service) publish(ctx context.Context, tenantID, actorID uuid.UUID, w repository.Webhook, action events.Action, previous *transport.WebhookResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityWebhook,
		EntityID:   w.ID,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(ToResponse(w, false)),
	}
	if previous != nil {
		evt.Previous = events.Snapshot(*previous)
	}
	s.bus.Publish(ctx, evt)
}

// envelope is the JSON body posted to subscribers.
func envelope(eventType string, tenantID uuid.UUID, at time.Time, data any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":      eventType,
		"tenantId":   tenantID,
		"occurredAt": at.UTC(),
		"data":       data,
	})
}

func normalizeEvents(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgNotFound)
	case errors.Is(err, repository.ErrDeliveryNotFound):
		return apperr.NotFound(msgDeliveryNotFound)
	case errors.Is(err, repository.ErrNotRetryable):
		return apperr.Conflict(msgNotRetryable)
	}
	return err
}

// ToResponse maps a webhook. The secret is masked unless reveal is set.
func ToResponse(w repository.Webhook, reveal bool) transport.WebhookResponse {
	secret := maskedSecret
	if reveal {
		secret = w.Secret
	}
	evs := w.Events
	if evs == nil {
		evs = []string{}
	}
	return transport.WebhookResponse{
		ID:          w.ID,
		URL:         w.URL,
		Events:      evs,
		IsActive:    w.IsActive,
		Secret:      secret,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func DeliveryToResponse(d repository.Delivery) transport.DeliveryResponse {
	return transport.DeliveryResponse{
		ID:            d.ID,
		WebhookID:     d.WebhookID,
		EventType:     d.EventType,
		Payload:       json.RawMessage(d.Payload),
		Status:        d.Status,
		AttemptCount:  d.AttemptCount,
		NextAttemptAt: d.NextAttemptAt,
		LastAttemptAt: d.LastAttemptAt,
		StatusCode:    d.StatusCode,
		ResponseBody:  d.ResponseBody,
		Error:         d.Error,
		CreatedAt:     d.CreatedAt,
	}
}
