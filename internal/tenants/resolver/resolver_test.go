package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crm_saas_backend/internal/tenants/repository"
	"crm_saas_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeLookup struct {
	tenants map[string]repository.Tenant
	calls   atomic.Int32
}

func (f *fakeLookup) Resolve(_ context.Context, key string) (repository.Tenant, error) {
	f.calls.Add(1)
	t, ok := f.tenants[key]
	if !ok {
		return repository.Tenant{}, repository.ErrNotFound
	}
	return t, nil
}

func newRouter(r *Resolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", r.Middleware(), func(c *gin.Context) {
		id, ok := httpkit.ResolvedTenant(c)
		if !ok {
			c.String(http.StatusOK, "none")
			return
		}
		c.String(http.StatusOK, id.String())
	})
	return engine
}

func do(engine *gin.Engine, host, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = host
	if header != "" {
		req.Header.Set(HeaderTenantID, header)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestMiddlewareResolvesHeaderAndCaches(t *testing.T) {
	id := uuid.New()
	lookup := &fakeLookup{tenants: map[string]repository.Tenant{"acme": {ID: id, Status: statusActive}}}
	engine := newRouter(New(lookup, "crm.test", DefaultTTL))

	for i := 0; i < 3; i++ {
		w := do(engine, "localhost", "ACME")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, id.String(), w.Body.String())
	}
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestMiddlewareResolvesSubdomain(t *testing.T) {
	id := uuid.New()
	lookup := &fakeLookup{tenants: map[string]repository.Tenant{"acme": {ID: id, Status: statusActive}}}
	engine := newRouter(New(lookup, "crm.test", DefaultTTL))

	w := do(engine, "acme.crm.test:8080", "")
	assert.Equal(t, id.String(), w.Body.String())

	w = do(engine, "www.crm.test", "")
	assert.Equal(t, "none", w.Body.String())
}

func TestMiddlewareRejectsUnknownAndInactive(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]repository.Tenant{"frozen": {ID: uuid.New(), Status: "Suspended"}}}
	engine := newRouter(New(lookup, "", DefaultTTL))

	assert.Equal(t, http.StatusNotFound, do(engine, "localhost", "ghost").Code)
	assert.Equal(t, http.StatusForbidden, do(engine, "localhost", "frozen").Code)
	assert.Equal(t, http.StatusOK, do(engine, "localhost", "").Code)
}

func TestCacheExpires(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]repository.Tenant{"acme": {ID: uuid.New(), Status: statusActive}}}
	r := New(lookup, "", time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }
	engine := newRouter(r)

	do(engine, "localhost", "acme")
	now = now.Add(2 * time.Minute)
	do(engine, "localhost", "acme")
	assert.Equal(t, int32(2), lookup.calls.Load())

	r.Invalidate()
	do(engine, "localhost", "acme")
	assert.Equal(t, int32(3), lookup.calls.Load())
}

func TestCacheStaysBoundedUnderJunkKeys(t *testing.T) {
	id := uuid.New()
	lookup := &fakeLookup{tenants: map[string]repository.Tenant{"acme": {ID: id, Status: statusActive}}}
	r := New(lookup, "", time.Minute)
	r.maxEntries = 100
	now := time.Now()
	r.now = func() time.Time { return now }
	engine := newRouter(r)

	assert.Equal(t, http.StatusOK, do(engine, "localhost", "acme").Code)
	for i := 0; i < 5000; i++ {
		assert.Equal(t, http.StatusNotFound, do(engine, "localhost", fmt.Sprintf("junk-%d", i)).Code)
	}
	assert.LessOrEqual(t, len(r.cache), 100)
	_, ok := r.cache["acme"]
	assert.True(t, ok, "a full cache keeps resolved tenants")

	now = now.Add(time.Hour)
	assert.Equal(t, id.String(), do(engine, "localhost", "acme").Body.String())
	assert.Len(t, r.cache, 1)
}
