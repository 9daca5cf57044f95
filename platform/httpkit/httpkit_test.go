package httpkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtCfg struct{ secret string }

func (c jwtCfg) GetJWTAccessSecret() string { return c.secret }

func signAccess(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestAuthRequiredPopulatesIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID, tenantID := uuid.New(), uuid.New()

	r := gin.New()
	r.GET("/me", AuthRequired(jwtCfg{"s3cret"}), RequirePermission("leads.view"), func(c *gin.Context) {
		id := MustGetIdentity(c)
		OK(c, gin.H{
			"user":   id.UserID().String(),
			"tenant": id.TenantID().String(),
			"scope":  id.DataScope(),
			"team":   id.Team(),
		})
	})

	token := signAccess(t, "s3cret", jwt.MapClaims{
		"sub":         userID.String(),
		"type":        "access",
		"tenant_id":   tenantID.String(),
		"roles":       []string{"User"},
		"permissions": []string{"leads.view"},
		"data_scope":  "TeamOnly",
		"team":        "north",
		"exp":         time.Now().Add(time.Minute).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["user"] != userID.String() || body["tenant"] != tenantID.String() || body["scope"] != "TeamOnly" || body["team"] != "north" {
		t.Fatalf("unexpected identity %v", body)
	}
}

func TestAuthRequiredRejectsRefreshTokenAndMissingTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", AuthRequired(jwtCfg{"k"}), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []jwt.MapClaims{
		{"sub": uuid.NewString(), "type": "refresh", "tenant_id": uuid.NewString(), "exp": time.Now().Add(time.Minute).Unix()},
		{"sub": uuid.NewString(), "type": "access", "exp": time.Now().Add(time.Minute).Unix()},
		{"sub": uuid.NewString(), "type": "access", "tenant_id": uuid.NewString(), "exp": time.Now().Add(-time.Minute).Unix()},
	}
	for i, claims := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+signAccess(t, "k", claims))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("case %d: expected 401, got %d", i, rec.Code)
		}
	}
}

func TestRequirePermissionForbidsMissingCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		SetPrincipal(c, Principal{User: uuid.New(), Tenant: uuid.New(), Granted: []string{"leads.view"}})
	}, RequirePermission("leads.delete"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/y", func(c *gin.Context) {
		SetPrincipal(c, Principal{User: uuid.New(), Tenant: uuid.New(), Granted: []string{"leads.view"}})
	}, RequireAnyPermission("leads.delete", "leads.view"), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/y", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{fmt.Errorf("svc: %w", apperr.NotFound("lead not found")), http.StatusNotFound, "lead not found"},
		{apperr.Conflict("lead already converted"), http.StatusConflict, "lead already converted"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, msgInternalError},
		{apperr.Internal("secret detail"), http.StatusInternalServerError, msgInternalError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		if !HandleError(c, tc.err) {
			t.Fatal("expected error to be handled")
		}
		var body ErrorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if rec.Code != tc.code || body.Error != tc.msg {
			t.Fatalf("%v: got %d %q", tc.err, rec.Code, body.Error)
		}
	}
}

func TestNewPagedComputesNavigation(t *testing.T) {
	p := NewPaged([]int{1, 2}, 45, PageParams{Page: 2, PageSize: 20})
	if p.TotalPages != 3 || !p.HasNextPage || !p.HasPreviousPage {
		t.Fatalf("unexpected page %+v", p)
	}

	empty := NewPaged[int](nil, 0, PageParams{PageSize: 500})
	if empty.Items == nil || empty.PageSize != MaxPageSize || empty.Page != 1 || empty.TotalPages != 0 {
		t.Fatalf("unexpected empty page %+v", empty)
	}
	if (PageParams{Page: 3, PageSize: 10}).Offset() != 20 {
		t.Fatal("unexpected offset")
	}
}

func TestFixedWindowLimitSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.NewFixedWindow(ratelimit.NewMemoryStore(), 1, time.Minute)

	r := gin.New()
	r.Use(FixedWindowLimit(limiter, logger.Discard()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "http://acme.example.com/x", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "http://acme.example.com/x", nil))
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", second.Code)
	}

	other := httptest.NewRecorder()
	r.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "http://globex.example.com/x", nil))
	if other.Code != http.StatusOK {
		t.Fatalf("expected a different host to have its own window, got %d", other.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), SecurityHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get(HeaderRequestID) != "abc-123" {
		t.Fatal("expected request id to be echoed")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must only be set on TLS")
	}
}

func TestClientInfoReachesContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ClientInfo())
	var got Client
	r.GET("/x", func(c *gin.Context) {
		got, _ = ClientFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got.UserAgent != "curl/8.0" || got.IP == "" {
		t.Fatalf("unexpected client %+v", got)
	}
}
