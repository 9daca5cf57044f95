package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"crm_saas_backend/internal/webhooks/repository"
	"crm_saas_backend/internal/webhooks/signature"
	"crm_saas_backend/internal/webhooks/transport"

	"golang.org/x/sync/errgroup"
)

const (
	// ClaimBatch bounds how many deliveries one run sends.
	ClaimBatch = 100
	// Parallelism bounds concurrent outbound requests per run.
	Parallelism = 10

	maxResponseBody = 1024
	maxBackoff      = time.Hour
)

type dispatcher struct {
	client *http.Client
}

func newDispatcher(timeout time.Duration) *dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &dispatcher{client: &http.Client{Timeout: timeout}}
}

// ProcessPending sends queued deliveries. It returns how many were attempted.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	claimed, err := s.repo.ClaimPending(ctx, s.now(), ClaimBatch, s.maxAttempts)
	if err != nil {
		return 0, err
	}
	return s.dispatch(ctx, claimed)
}

// RetryFailed abandons exhausted deliveries and re-sends the ones whose backoff elapsed.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	abandoned, err := s.repo.Abandon(ctx, s.now(), s.maxAttempts)
	if err != nil {
		return 0, err
	}
	for range abandoned {
		s.metrics.WebhookDelivered(transport.DeliveryAbandoned)
	}
	claimed, err := s.repo.ClaimRetries(ctx, s.now(), ClaimBatch, s.maxAttempts)
	if err != nil {
		return 0, err
	}
	return s.dispatch(ctx, claimed)
}

func (s *Service) dispatch(ctx context.Context, claimed []repository.Claimed) (int, error) {
	if len(claimed) == 0 {
		return 0, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Parallelism)
	for _, d := range claimed {
		g.Go(func() error {
			outcome := s.attempt(gctx, d)
			// The outcome is stored even when the run is being cancelled.
			return s.repo.Finish(context.WithoutCancel(gctx), d.TenantID, d.ID, outcome)
		})
	}
	return len(claimed), g.Wait()
}

func (s *Service) attempt(ctx context.Context, d repository.Claimed) repository.Outcome {
	now := s.now()
	code, body, err := s.dispatcher.post(ctx, d, now)

	statusCode := 0
	if code != nil {
		statusCode = *code
	}
	s.log.WebhookDelivery(d.ID.String(), d.EventType, d.AttemptCount, statusCode, err)

	out := repository.Outcome{StatusCode: code, ResponseBody: body, NextAttemptAt: now}
	if err == nil {
		out.Success = true
		s.metrics.WebhookDelivered(transport.DeliverySuccess)
		return out
	}
	msg := err.Error()
	out.Error = &msg
	out.NextAttemptAt = now.Add(Backoff(d.AttemptCount))
	s.metrics.WebhookDelivered(transport.DeliveryFailed)
	return out
}

// post sends one delivery. A nil error means a 2xx response.
func (d *dispatcher) post(ctx context.Context, c repository.Claimed, at time.Time) (*int, *string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(c.Payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	signature.Apply(req, c.Secret, c.EventType, c.Payload, at)
	req.Header.Set(signature.HeaderDelivery, c.ID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	code := resp.StatusCode
	var body *string
	if len(raw) > 0 {
		text := string(raw)
		body = &text
	}
	if code < 200 || code > 299 {
		return &code, body, fmt.Errorf("unexpected status %d", code)
	}
	return &code, body, nil
}

// Backoff is the wait after the given (1-based) failed attempt: 2^(attempt-1)
// minutes, capped at an hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return maxBackoff
	}
	return min(time.Duration(1<<(attempt-1))*time.Minute, maxBackoff)
}
