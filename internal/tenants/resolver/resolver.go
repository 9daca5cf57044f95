// Package resolver maps X-Tenant-ID or the request subdomain to a tenant on anonymous routes.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"crm_saas_backend/internal/tenants/repository"
	"crm_saas_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	DefaultTTL     = 60 * time.Second

	statusActive      = "Active"
	defaultMaxEntries = 10000
)

// Lookup finds a tenant by UUID, identifier or subdomain.
type Lookup interface {
	Resolve(ctx context.Context, key string) (repository.Tenant, error)
}

type entry struct {
	id      uuid.UUID
	status  string
	found   bool
	expires time.Time
}

type Resolver struct {
	lookup     Lookup
	baseDomain string
	ttl        time.Duration
	now        func() time.Time

	mu         sync.RWMutex
	cache      map[string]entry
	maxEntries int
	lastSweep  time.Time
	group      singleflight.Group
}

func New(lookup Lookup, baseDomain string, ttl time.Duration) *Resolver {
	return &Resolver{
		lookup:     lookup,
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, ".")),
		ttl:        ttl,
		now:        time.Now,
		cache:      make(map[string]entry),
		maxEntries: defaultMaxEntries,
	}
}

// Middleware resolves the tenant when the request names one. Requests without a
// header or tenant subdomain pass through untouched.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.keyFor(c.Request)
		if key == "" {
			c.Next()
			return
		}

		e, err := r.get(c.Request.Context(), key)
		if err != nil {
			httpkit.Error(c, http.StatusInternalServerError, "tenant lookup failed", nil)
			c.Abort()
			return
		}
		if !e.found {
			httpkit.Error(c, http.StatusNotFound, "tenant not found", nil)
			c.Abort()
			return
		}
		if e.status != statusActive {
			httpkit.Error(c, http.StatusForbidden, "tenant is not active", nil)
			c.Abort()
			return
		}

		httpkit.SetResolvedTenant(c, e.id)
		c.Next()
	}
}

func (r *Resolver) keyFor(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get(HeaderTenantID)); v != "" {
		return strings.ToLower(v)
	}
	return r.subdomain(req.Host)
}

func (r *Resolver) subdomain(hostport string) string {
	if r.baseDomain == "" {
		return ""
	}
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	suffix := "." + r.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || sub == "www" || sub == "api" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func (r *Resolver) get(ctx context.Context, key string) (entry, error) {
	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expires) {
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		t, err := r.lookup.Resolve(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return entry{found: false, expires: r.now().Add(r.ttl)}, nil
		}
		if err != nil {
			return entry{}, err
		}
		return entry{id: t.ID, status: t.Status, found: true, expires: r.now().Add(r.ttl)}, nil
	})
	if err != nil {
		return entry{}, err
	}
	e = v.(entry)
	r.store(key, e)
	return e, nil
}

// store caches e, sweeping expired entries at most once per TTL. A full cache
// never takes a miss; a hit evicts an arbitrary entry.
func (r *Resolver) store(key string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= r.ttl || len(r.cache) >= r.maxEntries {
		for k, old := range r.cache {
			if !now.Before(old.expires) {
				delete(r.cache, k)
			}
		}
		r.lastSweep = now
	}
	if _, ok := r.cache[key]; !ok && len(r.cache) >= r.maxEntries {
		if !e.found {
			return
		}
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = e
}

// Invalidate drops every cached entry. Called after tenant updates and deletes.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]entry)
	r.mu.Unlock()
}
