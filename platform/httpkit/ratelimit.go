package httpkit

import (
	"math"
	"net/http"
	"strconv"

	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/ratelimit"

	"github.com/gin-gonic/gin"
)

// FixedWindowLimit applies the shared fixed-window limiter.
// The partition is the authenticated user, else the Host header, else the client IP.
// Store failures let the request through.
func FixedWindowLimit(limiter *ratelimit.FixedWindow, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := partitionKey(c)
		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			if log != nil {
				log.WithContext(c.Request.Context()).Warn("rate limit store unavailable", "error", err)
			}
			c.Next()
			return
		}

		if !decision.Allowed {
			if log != nil {
				log.RateLimitExceeded(key, c.Request.URL.Path)
			}
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

func partitionKey(c *gin.Context) string {
	if id := GetIdentity(c); id.IsAuthenticated() {
		return "user:" + id.UserID().String()
	}
	if host := c.Request.Host; host != "" {
		return "host:" + host
	}
	return "ip:" + c.ClientIP()
}
