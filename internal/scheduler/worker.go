package scheduler

import (
	"context"
	"fmt"
	"time"

	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Job is one periodic scan. It returns how many records it acted on.
type Job func(ctx context.Context) (int, error)

// Jobs binds task names to module operations. A nil job leaves its task unregistered.
type Jobs struct {
	SLABreachCheck         Job
	ActivityReminders      Job
	WorkflowsScheduled     Job
	NotificationsCleanup   Job
	PurgeDeleted           Job
	WebhooksProcessPending Job
	WebhooksRetryFailed    Job
	CampaignSend           func(ctx context.Context, tenantID, campaignID uuid.UUID) (int, error)
}

func (j Jobs) periodic() map[string]Job {
	return map[string]Job{
		TaskSLABreachCheck:         j.SLABreachCheck,
		TaskActivityReminders:      j.ActivityReminders,
		TaskWorkflowsScheduled:     j.WorkflowsScheduled,
		TaskNotificationsCleanup:   j.NotificationsCleanup,
		TaskPurgeDeleted:           j.PurgeDeleted,
		TaskWebhooksProcessPending: j.WebhooksProcessPending,
		TaskWebhooksRetryFailed:    j.WebhooksRetryFailed,
	}
}

type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logger.Logger
	metrics   *metrics.Registry
}

func NewWorker(cfg config.SchedulerConfig, jobs Jobs, reg *metrics.Registry, log *logger.Logger) (*Worker, error) {
	opt, queue, err := connection(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})
	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})

	w := &Worker{
		server:    server,
		scheduler: sched,
		mux:       asynq.NewServeMux(),
		log:       log,
		metrics:   reg,
	}

	registered := w.register(jobs)
	for _, p := range PeriodicTasks {
		if !registered[p.Task] {
			continue
		}
		// Periodic scans are not retried; the next tick picks up what was missed.
		if _, err := sched.Register(p.Cron, asynq.NewTask(p.Task, nil), asynq.Queue(queue), asynq.MaxRetry(0)); err != nil {
			return nil, fmt.Errorf("register %s: %w", p.Task, err)
		}
	}

	return w, nil
}

// register mounts a handler per non-nil job and reports which periodic tasks got one.
func (w *Worker) register(jobs Jobs) map[string]bool {
	registered := make(map[string]bool)
	for task, job := range jobs.periodic() {
		if job == nil {
			w.log.Warn("periodic task disabled", "task", task)
			continue
		}
		w.mux.HandleFunc(task, w.run(task, job))
		registered[task] = true
	}
	if jobs.CampaignSend != nil {
		w.mux.HandleFunc(TaskCampaignSend, w.handleCampaignSend(jobs.CampaignSend))
	}
	return registered
}

func (w *Worker) run(task string, job Job) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		start := time.Now()
		n, err := job(ctx)
		w.log.JobEvent(task, time.Since(start), n, err)
		w.metrics.JobProcessed(task, err)
		return err
	}
}

func (w *Worker) handleCampaignSend(send func(ctx context.Context, tenantID, campaignID uuid.UUID) (int, error)) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseCampaignSendPayload(task)
		if err != nil {
			// A malformed payload never succeeds on retry.
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return w.run(TaskCampaignSend, func(ctx context.Context) (int, error) {
			return send(ctx, payload.TenantID, payload.CampaignID)
		})(ctx, task)
	}
}

// Run blocks until ctx is cancelled, then drains the server and stops the scheduler.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if err := w.scheduler.Start(); err != nil {
		w.log.Error("periodic scheduler failed to start", "error", err)
		return
	}
	if err := w.server.Start(w.mux); err != nil {
		w.scheduler.Shutdown()
		w.log.Error("scheduler worker failed to start", "error", err)
		return
	}

	<-ctx.Done()
	w.scheduler.Shutdown()
	w.server.Shutdown()
}
