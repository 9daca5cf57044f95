// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderRequestID carries the request correlation id in both directions.
	HeaderRequestID = "X-Request-ID"

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
	errForbidden    = "forbidden"
)

// RequestID propagates or generates a request id and stores it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type clientKey struct{}

// Client is the caller's network identity, available to event handlers through the context.
type Client struct {
	IP        string
	UserAgent string
}

// ClientInfo stores the client IP and user agent on the request context.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), clientKey{}, Client{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ClientFrom returns the client recorded by ClientInfo, if any.
func ClientFrom(ctx context.Context) (Client, bool) {
	v, ok := ctx.Value(clientKey{}).(Client)
	return v, ok
}

// RequestLogger logs HTTP requests with timing.
// Errors attached with c.Error (unmapped failures from HandleError) are logged as http_error.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()
		reqLog := log.WithContext(c.Request.Context())

		for _, ginErr := range c.Errors {
			reqLog.HTTPError(c.Request.Method, path, status, ginErr.Err, clientIP)
		}
		reqLog.HTTPRequest(c.Request.Method, path, status, float64(latency.Milliseconds()), clientIP)
	}
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// IPRateLimiter manages per-IP token bucket limiters.
type IPRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		rate:  r,
		burst: burst,
		log:   log,
	}
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	limiter, _ := i.limiters.LoadOrStore(ip, rate.NewLimiter(i.rate, i.burst))
	return limiter.(*rate.Limiter)
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.getLimiter(ip).Allow() {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// AuthRateLimiter is a stricter rate limiter for auth endpoints.
type AuthRateLimiter struct {
	*IPRateLimiter
}

// NewAuthRateLimiter allows 5 requests per minute per IP with a burst of 5.
func NewAuthRateLimiter(log *logger.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		IPRateLimiter: NewIPRateLimiter(rate.Limit(5.0/60.0), 5, log),
	}
}

// AuthRequired returns middleware that validates JWT access tokens.
// Supports token via Authorization header (Bearer) or query param.
func AuthRequired(cfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			rawToken = c.Query("token")
			if rawToken == "" {
				abortUnauthorized(c, errMissingToken)
				return
			}
		}

		claims, err := parseAccessClaims(rawToken, cfg)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		principal, err := principalFromClaims(claims)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// RequireRole returns middleware that checks if the user has the specified role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(c.GetStringSlice(ContextRolesKey), role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: errForbidden})
			return
		}
		c.Next()
	}
}

// RequirePermission requires every listed permission code.
func RequirePermission(codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := c.GetStringSlice(ContextPermissionsKey)
		for _, code := range codes {
			if !slices.Contains(granted, code) {
				c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: errForbidden})
				return
			}
		}
		c.Next()
	}
}

// RequireAnyPermission requires at least one of the listed permission codes.
func RequireAnyPermission(codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := c.GetStringSlice(ContextPermissionsKey)
		for _, code := range codes {
			if slices.Contains(granted, code) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: errForbidden})
	}
}

func principalFromClaims(claims jwt.MapClaims) (Principal, error) {
	userIDRaw, _ := claims["sub"].(string)
	userID, err := uuid.Parse(userIDRaw)
	if err != nil {
		return Principal{}, err
	}

	tenantRaw, _ := claims["tenant_id"].(string)
	tenantID, err := uuid.Parse(strings.TrimSpace(tenantRaw))
	if err != nil {
		return Principal{}, err
	}

	scope, _ := claims["data_scope"].(string)
	dept, _ := claims["dept"].(string)
	team, _ := claims["team"].(string)

	return Principal{
		User:      userID,
		Tenant:    tenantID,
		RoleNames: extractStrings(claims["roles"]),
		Granted:   extractStrings(claims["permissions"]),
		Scope:     scope,
		Dept:      dept,
		TeamName:  team,
		authed:    true,
	}, nil
}

func extractStrings(value any) []string {
	out := make([]string, 0)
	switch typed := value.(type) {
	case []string:
		return append(out, typed...)
	case []any:
		for _, item := range typed {
			if text, ok := item.(string); ok {
				out = append(out, text)
			}
		}
	}
	return out
}

func extractBearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}

	rawToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if rawToken == "" {
		return "", false
	}

	return rawToken, true
}

func parseAccessClaims(rawToken string, cfg config.JWTConfig) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(rawToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(cfg.GetJWTAccessSecret()), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New(errInvalidToken)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New(errInvalidToken)
	}

	if tokenType, _ := claims["type"].(string); tokenType != "access" {
		return nil, errors.New(errInvalidToken)
	}

	return claims, nil
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: message})
}
