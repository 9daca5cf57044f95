// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// MigrationConfig controls schema migrations on boot.
type MigrationConfig interface {
	GetMigrationsEnabled() bool
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// AuthServiceConfig provides settings needed by the auth service.
type AuthServiceConfig interface {
	JWTConfig
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetLoginMaxFailedAttempts() int
	GetLoginLockoutDuration() time.Duration
}

// CookieConfig provides settings for refresh token cookies.
type CookieConfig interface {
	GetRefreshCookieName() string
	GetRefreshCookieDomain() string
	GetRefreshCookiePath() string
	GetRefreshCookieSecure() bool
	GetRefreshCookieSameSite() http.SameSite
	GetRefreshTokenTTL() time.Duration
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	IsDevelopment() bool
}

// RateLimitConfig provides the fixed-window limiter settings.
type RateLimitConfig interface {
	GetRateLimitPermits() int
	GetRateLimitWindow() time.Duration
}

// TenantConfig provides tenant resolution settings.
type TenantConfig interface {
	GetTenantBaseDomain() string
	GetPlatformTenant() string
	GetDefaultPhoneRegion() string
}

// BootstrapConfig provides the optional platform admin created on first boot.
type BootstrapConfig interface {
	GetPlatformTenant() string
	GetPlatformAdminEmail() string
	GetPlatformAdminPassword() string
}

// RedisConfig provides the shared Redis connection.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for SMTP delivery.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetAppBaseURL() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketExports() string
	GetMinioBucketAttachments() string
	IsMinIOEnabled() bool
}

// WebhookConfig provides outbound webhook delivery settings.
type WebhookConfig interface {
	GetWebhookTimeout() time.Duration
	GetWebhookMaxAttempts() int
	IsDevelopment() bool
}

// WorkflowConfig provides workflow engine settings.
type WorkflowConfig interface {
	GetWorkflowScheduledBatch() int
}

// RetentionConfig provides cleanup horizons for periodic jobs.
type RetentionConfig interface {
	GetNotificationRetention() time.Duration
	GetPurgeRetention() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	MigrationsEnabled      bool
	JWTAccessSecret        string
	JWTRefreshSecret       string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	LoginMaxFailedAttempts int
	LoginLockoutDuration   time.Duration
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	AppBaseURL             string
	RefreshCookieName      string
	RefreshCookieDomain    string
	RefreshCookiePath      string
	RefreshCookieSecure    bool
	RefreshCookieSameSite  http.SameSite
	RateLimitPermits       int
	RateLimitWindow        time.Duration
	TenantBaseDomain       string
	PlatformTenant         string
	DefaultPhoneRegion     string
	PlatformAdminEmail     string
	PlatformAdminPassword  string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	EmailFromName          string
	EmailFromAddress       string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOMaxFileSize       int64
	MinioBucketExports     string
	MinioBucketAttachments string
	WebhookTimeout         time.Duration
	WebhookMaxAttempts     int
	WorkflowScheduledBatch int
	NotificationRetention  time.Duration
	PurgeRetention         time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetMigrationsEnabled() bool { return c.MigrationsEnabled }

func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

func (c *Config) GetAccessTokenTTL() time.Duration       { return c.AccessTokenTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration      { return c.RefreshTokenTTL }
func (c *Config) GetLoginMaxFailedAttempts() int         { return c.LoginMaxFailedAttempts }
func (c *Config) GetLoginLockoutDuration() time.Duration { return c.LoginLockoutDuration }

func (c *Config) GetRefreshCookieName() string            { return c.RefreshCookieName }
func (c *Config) GetRefreshCookieDomain() string          { return c.RefreshCookieDomain }
func (c *Config) GetRefreshCookiePath() string            { return c.RefreshCookiePath }
func (c *Config) GetRefreshCookieSecure() bool            { return c.RefreshCookieSecure }
func (c *Config) GetRefreshCookieSameSite() http.SameSite { return c.RefreshCookieSameSite }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) IsDevelopment() bool      { return strings.EqualFold(c.Env, "development") }

func (c *Config) GetRateLimitPermits() int          { return c.RateLimitPermits }
func (c *Config) GetRateLimitWindow() time.Duration { return c.RateLimitWindow }

func (c *Config) GetTenantBaseDomain() string   { return c.TenantBaseDomain }
func (c *Config) GetPlatformTenant() string     { return c.PlatformTenant }
func (c *Config) GetDefaultPhoneRegion() string { return c.DefaultPhoneRegion }

func (c *Config) GetPlatformAdminEmail() string    { return c.PlatformAdminEmail }
func (c *Config) GetPlatformAdminPassword() string { return c.PlatformAdminPassword }

func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

func (c *Config) GetEmailEnabled() bool       { return c.SMTPHost != "" }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetAppBaseURL() string       { return c.AppBaseURL }

func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64        { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketExports() string     { return c.MinioBucketExports }
func (c *Config) GetMinioBucketAttachments() string { return c.MinioBucketAttachments }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

func (c *Config) GetWebhookTimeout() time.Duration { return c.WebhookTimeout }
func (c *Config) GetWebhookMaxAttempts() int       { return c.WebhookMaxAttempts }

func (c *Config) GetWorkflowScheduledBatch() int { return c.WorkflowScheduledBatch }

func (c *Config) GetNotificationRetention() time.Duration { return c.NotificationRetention }
func (c *Config) GetPurgeRetention() time.Duration        { return c.PurgeRetention }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	env := getEnv("APP_ENV", "development")
	refreshCookieSecure := strings.EqualFold(getEnv("REFRESH_COOKIE_SECURE", ""), "true")
	if getEnv("REFRESH_COOKIE_SECURE", "") == "" {
		refreshCookieSecure = strings.EqualFold(env, "production")
	}

	cfg := &Config{
		Env:                    env,
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		MigrationsEnabled:      strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret:       getEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:         mustDuration(getEnv("JWT_ACCESS_TTL", "15m")),
		RefreshTokenTTL:        mustDuration(getEnv("JWT_REFRESH_TTL", "720h")),
		LoginMaxFailedAttempts: mustInt(getEnv("LOGIN_MAX_FAILED", "5")),
		LoginLockoutDuration:   mustDuration(getEnv("LOGIN_LOCKOUT", "15m")),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:             getEnv("APP_BASE_URL", "http://localhost:3000"),
		RefreshCookieName:      getEnv("REFRESH_COOKIE_NAME", "crm_refresh"),
		RefreshCookieDomain:    getEnv("REFRESH_COOKIE_DOMAIN", ""),
		RefreshCookiePath:      getEnv("REFRESH_COOKIE_PATH", "/api/v1/auth"),
		RefreshCookieSecure:    refreshCookieSecure,
		RefreshCookieSameSite:  parseSameSite(getEnv("REFRESH_COOKIE_SAMESITE", "Lax")),
		RateLimitPermits:       mustInt(getEnv("RATE_LIMIT_PERMITS", "100")),
		RateLimitWindow:        mustDuration(getEnv("RATE_LIMIT_WINDOW", "60s")),
		TenantBaseDomain:       strings.ToLower(getEnv("TENANT_BASE_DOMAIN", "")),
		PlatformTenant:         strings.ToLower(getEnv("PLATFORM_TENANT", "system")),
		DefaultPhoneRegion:     strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "US")),
		PlatformAdminEmail:     strings.TrimSpace(getEnv("PLATFORM_ADMIN_EMAIL", "")),
		PlatformAdminPassword:  getEnv("PLATFORM_ADMIN_PASSWORD", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		EmailFromName:          getEnv("EMAIL_FROM_NAME", "CRM"),
		EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", ""),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:       mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "52428800")),
		MinioBucketExports:     getEnv("MINIO_BUCKET_EXPORTS", "crm-exports"),
		MinioBucketAttachments: getEnv("MINIO_BUCKET_ATTACHMENTS", "crm-attachments"),
		WebhookTimeout:         mustDuration(getEnv("WEBHOOK_TIMEOUT", "10s")),
		WebhookMaxAttempts:     mustInt(getEnv("WEBHOOK_MAX_ATTEMPTS", "5")),
		WorkflowScheduledBatch: mustInt(getEnv("WORKFLOW_SCHEDULED_BATCH", "500")),
		NotificationRetention:  mustDuration(getEnv("NOTIFICATION_RETENTION", "720h")),
		PurgeRetention:         mustDuration(getEnv("PURGE_RETENTION", "720h")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if c.SMTPHost != "" && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP_HOST is set")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive durations")
	}
	if c.RateLimitPermits < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_PERMITS and RATE_LIMIT_WINDOW must be positive")
	}
	if (c.PlatformAdminEmail == "") != (c.PlatformAdminPassword == "") {
		return fmt.Errorf("PLATFORM_ADMIN_EMAIL and PLATFORM_ADMIN_PASSWORD must be set together")
	}
	if c.PlatformTenant == "" {
		return fmt.Errorf("PLATFORM_TENANT cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}
