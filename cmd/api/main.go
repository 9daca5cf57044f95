package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm_saas_backend/internal/activities"
	"crm_saas_backend/internal/adapters/storage"
	"crm_saas_backend/internal/attachments"
	"crm_saas_backend/internal/audit"
	"crm_saas_backend/internal/auth"
	"crm_saas_backend/internal/campaigns"
	campaignservice "crm_saas_backend/internal/campaigns/service"
	"crm_saas_backend/internal/contacts"
	"crm_saas_backend/internal/customers"
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/exports"
	"crm_saas_backend/internal/health"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/http/router"
	"crm_saas_backend/internal/leads"
	"crm_saas_backend/internal/notification"
	"crm_saas_backend/internal/opportunities"
	"crm_saas_backend/internal/rbac"
	"crm_saas_backend/internal/reports"
	"crm_saas_backend/internal/scheduler"
	"crm_saas_backend/internal/segments"
	"crm_saas_backend/internal/tenants"
	"crm_saas_backend/internal/tickets"
	"crm_saas_backend/internal/users"
	"crm_saas_backend/internal/webhooks"
	webhookservice "crm_saas_backend/internal/webhooks/service"
	"crm_saas_backend/internal/workflows"
	workflowservice "crm_saas_backend/internal/workflows/service"
	"crm_saas_backend/migrations"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"
	"crm_saas_backend/platform/ratelimit"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if cfg.GetMigrationsEnabled() {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			applied, err := db.RunMigrations(ctx, cfg, migrations.FS)
			if err == nil {
				log.Info("database migrations complete", "applied", applied)
			}
			return err
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		panic("invalid REDIS_URL: " + err.Error())
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	eventBus := events.NewInMemoryBus(log)
	reg := metrics.New()
	val := validator.New()
	sender := email.NewSender(cfg)
	store := initStorage(ctx, cfg, log)
	campaignQueue, closeQueue := initCampaignQueue(cfg, log)
	defer closeQueue()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	rbacModule, err := rbac.NewModule(pool, eventBus, val)
	if err != nil {
		log.Error("failed to load permission catalog", "error", err)
		panic("failed to load permission catalog: " + err.Error())
	}
	if err := rbacModule.Sync(ctx); err != nil {
		log.Error("failed to sync permissions", "error", err)
		panic("failed to sync permissions: " + err.Error())
	}

	authModule := auth.NewModule(pool, rbacModule.Service(), cfg, eventBus, log, val)
	usersModule := users.NewModule(pool, rbacModule.Service(), authModule.Service(), eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	tenantsModule := tenants.NewModule(pool, rbacModule.Service(), authModule.Service(), cfg, eventBus, log, val)
	if err := tenantsModule.Bootstrap(ctx, cfg); err != nil {
		log.Error("failed to bootstrap platform tenant", "error", err)
		panic("failed to bootstrap platform tenant: " + err.Error())
	}

	userChecker := usersModule.Repository()
	customersModule := customers.NewModule(pool, userChecker, eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	contactsModule := contacts.NewModule(pool, userChecker, eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	leadsModule := leads.NewModule(pool, userChecker, eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	opportunitiesModule := opportunities.NewModule(pool, customersModule.Repository(), contactsModule.Repository(), userChecker, eventBus, log, val)
	activitiesModule := activities.NewModule(pool, contactsModule.Repository(), opportunitiesModule.Repository(), userChecker, eventBus, log, val)
	ticketsModule := tickets.NewModule(pool, customersModule.Repository(), contactsModule.Repository(), userChecker, eventBus, log, val)
	segmentsModule := segments.NewModule(pool, eventBus, log, val)
	campaignsModule := campaigns.NewModule(pool, segmentsModule.Service(), campaignQueue, sender, eventBus, log, val)
	workflowsModule := workflows.NewModule(pool, userChecker, sender, eventBus, log, val, workflowservice.Options{
		AllowHTTP:      cfg.IsDevelopment(),
		ScheduledBatch: cfg.GetWorkflowScheduledBatch(),
		WebhookTimeout: cfg.GetWebhookTimeout(),
	})
	webhooksModule := webhooks.NewModule(pool, eventBus, log, reg, val, webhookservice.Options{
		AllowHTTP:   cfg.IsDevelopment(),
		Timeout:     cfg.GetWebhookTimeout(),
		MaxAttempts: cfg.GetWebhookMaxAttempts(),
	})
	reportsModule := reports.NewModule(pool, redisClient, log)
	exportsModule := exports.NewModule(pool, store, cfg.GetMinioBucketExports(), val, log)
	attachmentsModule := attachments.NewModule(pool, store, cfg.GetMinioBucketAttachments(), val, log)
	auditModule := audit.NewModule(pool, eventBus, log, val)

	notificationModule := notification.NewModule(pool, sender, usersModule.Repository(), cfg.GetAppBaseURL(), log)

	notificationModule.RegisterHandlers(eventBus)
	workflowsModule.RegisterHandlers(eventBus)
	webhooksModule.RegisterHandlers(eventBus)

	checks := []health.Check{health.DatabaseCheck(db.NewPoolAdapter(pool))}
	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisClient != nil {
		checks = append(checks, health.RedisCheck(redisClient))
		limiterStore = ratelimit.NewRedisStore(redisClient)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:         cfg,
		Logger:         log,
		EventBus:       eventBus,
		Metrics:        reg,
		RateLimiter:    ratelimit.NewFixedWindow(limiterStore, cfg.GetRateLimitPermits(), cfg.GetRateLimitWindow()),
		TenantResolver: tenantsModule.Resolver().Middleware(),
		Modules: []apphttp.Module{
			health.NewModule(checks...),
			authModule,
			tenantsModule,
			usersModule,
			rbacModule,
			customersModule,
			contactsModule,
			leadsModule,
			opportunitiesModule,
			activitiesModule,
			ticketsModule,
			segmentsModule,
			campaignsModule,
			workflowsModule,
			webhooksModule,
			reportsModule,
			exportsModule,
			attachmentsModule,
			auditModule,
			notificationModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		notificationModule.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initStorage returns nil when MinIO is not configured; attachments and stored exports then answer 503.
func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) storage.ObjectStore {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; attachments and stored exports disabled")
		return nil
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	if err := withRetry(ctx, log, "ensure storage buckets", 5, 2*time.Second, func() error {
		return svc.EnsureBuckets(ctx, cfg.GetMinioBucketAttachments(), cfg.GetMinioBucketExports())
	}); err != nil {
		log.Error("failed to ensure storage buckets exist", "error", err)
		panic("failed to ensure storage buckets exist: " + err.Error())
	}
	log.Info("storage service initialized",
		"attachmentsBucket", cfg.GetMinioBucketAttachments(),
		"exportsBucket", cfg.GetMinioBucketExports(),
	)
	return svc
}

func initCampaignQueue(cfg config.SchedulerConfig, log *logger.Logger) (campaignservice.Enqueuer, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; campaign sends disabled")
		return nil, func() {}
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		return nil, func() {}
	}

	return client, func() {
		_ = client.Close()
	}
}

// newRedisClient returns a nil interface when REDIS_URL is unset so optional consumers can test for it.
func newRedisClient(cfg config.SchedulerConfig) (redis.UniversalClient, error) {
	if cfg.GetRedisURL() == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
