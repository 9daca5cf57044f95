package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm_saas_backend/internal/activities"
	"crm_saas_backend/internal/audit"
	"crm_saas_backend/internal/campaigns"
	"crm_saas_backend/internal/contacts"
	"crm_saas_backend/internal/customers"
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/maintenance"
	"crm_saas_backend/internal/notification"
	"crm_saas_backend/internal/opportunities"
	"crm_saas_backend/internal/scheduler"
	"crm_saas_backend/internal/segments"
	"crm_saas_backend/internal/tickets"
	usersrepo "crm_saas_backend/internal/users/repository"
	"crm_saas_backend/internal/webhooks"
	webhookservice "crm_saas_backend/internal/webhooks/service"
	"crm_saas_backend/internal/workflows"
	workflowservice "crm_saas_backend/internal/workflows/service"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Jobs publish the same events the API does, so the worker carries its own subscribers.
	eventBus := events.NewInMemoryBus(log)
	reg := metrics.New()
	val := validator.New()
	sender := email.NewSender(cfg)
	users := usersrepo.New(pool)

	customersModule := customers.NewModule(pool, users, eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	contactsModule := contacts.NewModule(pool, users, eventBus, log, cfg.GetDefaultPhoneRegion(), val)
	opportunitiesModule := opportunities.NewModule(pool, customersModule.Repository(), contactsModule.Repository(), users, eventBus, log, val)
	activitiesModule := activities.NewModule(pool, contactsModule.Repository(), opportunitiesModule.Repository(), users, eventBus, log, val)
	ticketsModule := tickets.NewModule(pool, customersModule.Repository(), contactsModule.Repository(), users, eventBus, log, val)
	segmentsModule := segments.NewModule(pool, eventBus, log, val)
	// Sends run here; nothing in the worker re-enqueues them.
	campaignsModule := campaigns.NewModule(pool, segmentsModule.Service(), nil, sender, eventBus, log, val)
	workflowsModule := workflows.NewModule(pool, users, sender, eventBus, log, val, workflowservice.Options{
		AllowHTTP:      cfg.IsDevelopment(),
		ScheduledBatch: cfg.GetWorkflowScheduledBatch(),
		WebhookTimeout: cfg.GetWebhookTimeout(),
	})
	webhooksModule := webhooks.NewModule(pool, eventBus, log, reg, val, webhookservice.Options{
		AllowHTTP:   cfg.IsDevelopment(),
		Timeout:     cfg.GetWebhookTimeout(),
		MaxAttempts: cfg.GetWebhookMaxAttempts(),
	})
	audit.NewModule(pool, eventBus, log, val)

	notificationModule := notification.NewModule(pool, sender, users, cfg.GetAppBaseURL(), log)
	defer notificationModule.Close()
	notificationModule.RegisterHandlers(eventBus)
	workflowsModule.RegisterHandlers(eventBus)
	webhooksModule.RegisterHandlers(eventBus)

	purger := maintenance.NewPurger(pool, cfg.GetPurgeRetention(), log)
	inApp := notificationModule.InAppService()
	retention := cfg.GetNotificationRetention()

	worker, err := scheduler.NewWorker(cfg, scheduler.Jobs{
		SLABreachCheck:     ticketsModule.Service().CheckSLABreaches,
		ActivityReminders:  activitiesModule.Service().SendDueReminders,
		WorkflowsScheduled: workflowsModule.Service().RunScheduled,
		NotificationsCleanup: func(ctx context.Context) (int, error) {
			n, err := inApp.Cleanup(ctx, retention)
			return int(n), err
		},
		PurgeDeleted:           purger.Purge,
		WebhooksProcessPending: webhooksModule.Service().ProcessPending,
		WebhooksRetryFailed:    webhooksModule.Service().RetryFailed,
		CampaignSend:           campaignsModule.Service().ProcessSend,
	}, reg, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	log.Info("worker stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
