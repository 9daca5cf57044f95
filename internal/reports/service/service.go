package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"crm_saas_backend/internal/reports/repository"
	"crm_saas_backend/internal/reports/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	dateLayout    = "2006-01-02"

	nameSalesPipeline   = "sales-pipeline"
	nameLeadConversion  = "lead-conversion"
	nameTicketAnalytics = "ticket-analytics"
	nameUserActivity    = "user-activity"
)

type Repository interface {
	Pipeline(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]repository.StageTotals, error)
	LeadStatuses(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]repository.StatusCount, error)
	Tickets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]repository.TicketBucket, error)
	UserActivity(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]repository.UserTotals, error)
}

// Cache holds serialized reports. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Range is a resolved half-open report window.
type Range struct {
	From time.Time
	To   time.Time
}

type Service struct {
	repo  Repository
	cache Cache
	log   *logger.Logger
	now   func() time.Time
}

func New(repo Repository, cache Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log, now: time.Now}
}

// Resolve parses the request bounds, defaulting to the last 30 days.
func (s *Service) Resolve(req transport.RangeRequest) (Range, error) {
	now := s.now().UTC()
	r := Range{From: now.Add(-defaultWindow), To: now}
	if v := strings.TrimSpace(req.From); v != "" {
		t, _, err := parseBound(v)
		if err != nil {
			return Range{}, apperr.Validation("invalid from date")
		}
		r.From = t
	}
	if v := strings.TrimSpace(req.To); v != "" {
		t, dateOnly, err := parseBound(v)
		if err != nil {
			return Range{}, apperr.Validation("invalid to date")
		}
		if dateOnly {
			t = t.Add(24 * time.Hour)
		}
		r.To = t
	}
	if !r.From.Before(r.To) {
		return Range{}, apperr.Validation("from must be before to")
	}
	return r, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateLayout, v)
	return t, true, err
}

func (s *Service) SalesPipeline(ctx context.Context, tenantID uuid.UUID, r Range) (transport.SalesPipelineReport, error) {
	return cached(ctx, s, tenantID, nameSalesPipeline, r, func(ctx context.Context) (transport.SalesPipelineReport, error) {
		stages, err := s.repo.Pipeline(ctx, tenantID, r.From, r.To)
		if err != nil {
			return transport.SalesPipelineReport{}, err
		}
		return SalesPipeline(stages), nil
	})
}

func (s *Service) LeadConversion(ctx context.Context, tenantID uuid.UUID, r Range) (transport.LeadConversionReport, error) {
	return cached(ctx, s, tenantID, nameLeadConversion, r, func(ctx context.Context) (transport.LeadConversionReport, error) {
		statuses, err := s.repo.LeadStatuses(ctx, tenantID, r.From, r.To)
		if err != nil {
			return transport.LeadConversionReport{}, err
		}
		return LeadConversion(statuses), nil
	})
}

func (s *Service) TicketAnalytics(ctx context.Context, tenantID uuid.UUID, r Range) (transport.TicketAnalyticsReport, error) {
	return cached(ctx, s, tenantID, nameTicketAnalytics, r, func(ctx context.Context) (transport.TicketAnalyticsReport, error) {
		buckets, err := s.repo.Tickets(ctx, tenantID, r.From, r.To)
		if err != nil {
			return transport.TicketAnalyticsReport{}, err
		}
		return TicketAnalytics(buckets), nil
	})
}

func (s *Service) UserActivity(ctx context.Context, tenantID uuid.UUID, r Range) ([]transport.UserActivityReport, error) {
	return cached(ctx, s, tenantID, nameUserActivity, r, func(ctx context.Context) ([]transport.UserActivityReport, error) {
		users, err := s.repo.UserActivity(ctx, tenantID, r.From, r.To)
		if err != nil {
			return nil, err
		}
		return UserActivity(users), nil
	})
}

// Dashboard computes the four reports concurrently.
func (s *Service) Dashboard(ctx context.Context, tenantID uuid.UUID, r Range) (transport.DashboardReport, error) {
	var out transport.DashboardReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.SalesPipeline, err = s.SalesPipeline(gctx, tenantID, r)
		return err
	})
	g.Go(func() (err error) {
		out.LeadConversion, err = s.LeadConversion(gctx, tenantID, r)
		return err
	})
	g.Go(func() (err error) {
		out.TicketAnalytics, err = s.TicketAnalytics(gctx, tenantID, r)
		return err
	})
	g.Go(func() (err error) {
		out.UserActivity, err = s.UserActivity(gctx, tenantID, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return transport.DashboardReport{}, err
	}
	return out, nil
}

// CacheKey is report:<tenant>:<name>:<from>:<to> with RFC 3339 bounds.
func CacheKey(tenantID uuid.UUID, name string, r Range) string {
	return "report:" + tenantID.String() + ":" + name + ":" + r.From.UTC().Format(time.RFC3339) + ":" + r.To.UTC().Format(time.RFC3339)
}

// cached serves a report from the cache or computes and stores it. Cache
// failures are logged and never fail the request.
func cached[T any](ctx context.Context, s *Service, tenantID uuid.UUID, name string, r Range, compute func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return compute(ctx)
	}
	key := CacheKey(tenantID, name, r)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("report cache read failed", "report", name, "error", err)
	}
	if ok {
		var hit T
		if err := json.Unmarshal(raw, &hit); err == nil {
			return hit, nil
		}
	}

	result, err := compute(ctx)
	if err != nil {
		return result, err
	}
	if encoded, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, encoded, CacheTTL); err != nil {
			s.log.Warn("report cache write failed", "report", name, "error", err)
		}
	}
	return result, nil
}
