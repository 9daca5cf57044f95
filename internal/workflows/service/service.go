package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rules"
	"crm_saas_backend/internal/workflows/repository"
	"crm_saas_backend/internal/workflows/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"
	"crm_saas_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	msgNotFound         = "workflow not found"
	msgScheduleRequired = "schedule is required for Scheduled workflows"

	// DueBatch caps how many Scheduled workflows one job run claims.
	DueBatch = 100
)

type Repository interface {
	List(ctx context.Context, tenantID uuid.UUID, p repository.ListParams) ([]repository.Workflow, int, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (repository.Workflow, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error
	SetActive(ctx context.Context, tenantID, id uuid.UUID, active bool, nextRunAt *time.Time) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	Active(ctx context.Context, tenantID uuid.UUID, entityType, trigger string) ([]repository.Workflow, error)
	RecordExecution(ctx context.Context, p repository.ExecutionParams) error
	ListExecutions(ctx context.Context, tenantID, workflowID uuid.UUID, limit, offset int) ([]repository.Execution, int, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, next func(repository.Workflow) *time.Time) ([]repository.Workflow, error)
	Snapshots(ctx context.Context, tenantID uuid.UUID, entityType string, limit int) ([]repository.Snapshot, error)
	UpdateField(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID, column string, value any) ([]byte, error)
	CreateTask(ctx context.Context, p repository.TaskParams) (uuid.UUID, []byte, error)
}

// UserChecker confirms a task assignee is an active user of the tenant.
type UserChecker interface {
	IsActive(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
}

type Options struct {
	// AllowHTTP permits plain http CallWebhook targets (development only).
	AllowHTTP      bool
	ScheduledBatch int
	WebhookTimeout time.Duration
}

type Service struct {
	repo      Repository
	users     UserChecker
	mailer    email.Sender
	client    *http.Client
	bus       events.Bus
	log       *logger.Logger
	val       *validator.Validator
	allowHTTP bool
	batch     int
	now       func() time.Time
}

func New(repo Repository, users UserChecker, mailer email.Sender, bus events.Bus, log *logger.Logger, val *validator.Validator, opts Options) *Service {
	if mailer == nil {
		mailer = email.NoopSender{}
	}
	if opts.ScheduledBatch <= 0 {
		opts.ScheduledBatch = 500
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 10 * time.Second
	}
	return &Service{
		repo:      repo,
		users:     users,
		mailer:    mailer,
		client:    &http.Client{Timeout: opts.WebhookTimeout},
		bus:       bus,
		log:       log,
		val:       val,
		allowHTTP: opts.AllowHTTP,
		batch:     opts.ScheduledBatch,
		now:       time.Now,
	}
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, page httpkit.PageParams, req transport.ListWorkflowsRequest) (httpkit.Paged[transport.WorkflowResponse], error) {
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, tenantID, repository.ListParams{
		EntityType:  req.EntityType,
		TriggerType: req.TriggerType,
		IsActive:    req.IsActive,
		Search:      page.Search,
		SortBy:      page.SortBy,
		SortOrder:   page.SortOrder,
		Limit:       page.Limit(),
		Offset:      page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.WorkflowResponse]{}, err
	}
	items := make([]transport.WorkflowResponse, len(rows))
	for i, w := range rows {
		items[i] = ToResponse(w)
	}
	return httpkit.NewPaged(items, total, page), nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (transport.WorkflowResponse, error) {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	return ToResponse(w), nil
}

func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateWorkflowRequest) (transport.WorkflowResponse, error) {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	schedule, nextRun, err := s.define(ctx, tenantID, req.EntityType, req.TriggerType, active, req.Schedule, req.Conditions, req.Actions)
	if err != nil {
		return transport.WorkflowResponse{}, err
	}
	id, err := s.repo.Create(ctx, repository.CreateParams{
		TenantID:    tenantID,
		Name:        sanitize.Text(req.Name),
		Description: sanitize.TextPtr(req.Description),
		EntityType:  req.EntityType,
		TriggerType: req.TriggerType,
		IsActive:    active,
		Conditions:  req.Conditions,
		Actions:     toRepoActions(req.Actions),
		Schedule:    schedule,
		NextRunAt:   nextRun,
		CreatedBy:   &actorID,
	})
	if err != nil {
		return transport.WorkflowResponse{}, err
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionCreated, nil)
}

// Update merges req into the stored definition and validates the result as a whole.
func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateWorkflowRequest) (transport.WorkflowResponse, error) {
	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	before := ToResponse(current)

	entityType := pick(req.EntityType, current.EntityType)
	trigger := pick(req.TriggerType, current.TriggerType)
	active := current.IsActive
	if req.IsActive != nil {
		active = *req.IsActive
	}
	scheduleIn := current.Schedule
	if req.Schedule != nil {
		scheduleIn = req.Schedule
	}
	conditions := current.Conditions
	if req.Conditions != nil {
		conditions = *req.Conditions
	}
	actions := before.Actions
	if req.Actions != nil {
		actions = *req.Actions
	}

	schedule, nextRun, err := s.define(ctx, tenantID, entityType, trigger, active, scheduleIn, conditions, actions)
	if err != nil {
		return transport.WorkflowResponse{}, err
	}
	repoActions := toRepoActions(actions)
	err = s.repo.Update(ctx, tenantID, id, repository.UpdateParams{
		Name:        sanitize.TextPtr(req.Name),
		Description: sanitize.TextPtr(req.Description),
		EntityType:  req.EntityType,
		TriggerType: req.TriggerType,
		IsActive:    req.IsActive,
		Conditions:  req.Conditions,
		Actions:     &repoActions,
		Schedule:    schedule,
		NextRunAt:   nextRun,
	})
	if err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return mapErr(err)
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionDeleted, ToResponse(w), nil)
	return nil
}

func (s *Service) Activate(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.WorkflowResponse, error) {
	return s.setActive(ctx, tenantID, actorID, id, true)
}

func (s *Service) Deactivate(ctx context.Context, tenantID, actorID, id uuid.UUID) (transport.WorkflowResponse, error) {
	return s.setActive(ctx, tenantID, actorID, id, false)
}

func (s *Service) setActive(ctx context.Context, tenantID, actorID, id uuid.UUID, active bool) (transport.WorkflowResponse, error) {
	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	var nextRun *time.Time
	if active && current.TriggerType == transport.TriggerScheduled {
		nextRun = s.nextAfter(current.Schedule, s.now())
	}
	before := ToResponse(current)
	if err := s.repo.SetActive(ctx, tenantID, id, active, nextRun); err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	return s.reloadAndPublish(ctx, tenantID, actorID, id, events.ActionUpdated, &before)
}

func (s *Service) Executions(ctx context.Context, tenantID, id uuid.UUID, page httpkit.PageParams) (httpkit.Paged[transport.ExecutionResponse], error) {
	page = page.Normalize()
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return httpkit.Paged[transport.ExecutionResponse]{}, mapErr(err)
	}
	rows, total, err := s.repo.ListExecutions(ctx, tenantID, id, page.Limit(), page.Offset())
	if err != nil {
		return httpkit.Paged[transport.ExecutionResponse]{}, err
	}
	items := make([]transport.ExecutionResponse, len(rows))
	for i, e := range rows {
		items[i] = transport.ExecutionResponse{ID: e.ID, EntityID: e.EntityID, Status: e.Status, Error: e.Error, ExecutedAt: e.ExecutedAt}
	}
	return httpkit.NewPaged(items, total, page), nil
}

// define validates a full workflow definition and returns the schedule to store
// together with the next run time.
func (s *Service) define(ctx context.Context, tenantID uuid.UUID, entityType, trigger string, active bool, schedule *string,
	conditions []rules.Condition, actions []transport.Action) (*string, *time.Time, error) {
	if err := rules.ValidateAll(conditions); err != nil {
		return nil, nil, apperr.Validation(err.Error())
	}
	if err := s.validateActions(ctx, tenantID, entityType, actions); err != nil {
		return nil, nil, err
	}
	if trigger != transport.TriggerScheduled {
		return nil, nil, nil
	}
	if schedule == nil || *schedule == "" {
		return nil, nil, apperr.Validation(msgScheduleRequired)
	}
	if _, err := cron.ParseStandard(*schedule); err != nil {
		return nil, nil, apperr.Validation("schedule is not a valid cron expression")
	}
	if !active {
		return schedule, nil, nil
	}
	return schedule, s.nextAfter(schedule, s.now()), nil
}

func (s *Service) nextAfter(schedule *string, after time.Time) *time.Time {
	if schedule == nil {
		return nil
	}
	sched, err := cron.ParseStandard(*schedule)
	if err != nil {
		s.log.Warn("workflow schedule unparsable", "schedule", *schedule, "error", err)
		return nil
	}
	next := sched.Next(after.UTC())
	return &next
}

func (s *Service) reloadAndPublish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, before *transport.WorkflowResponse) (transport.WorkflowResponse, error) {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return transport.WorkflowResponse{}, mapErr(err)
	}
	resp := ToResponse(w)
	s.publish(ctx, tenantID, actorID, id, action, resp, before)
	return resp, nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, id uuid.UUID, action events.Action, w transport.WorkflowResponse, before *transport.WorkflowResponse) {
	evt := events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityWorkflow,
		EntityID:   id,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(w),
	}
	if before != nil {
		evt.Previous = events.Snapshot(before)
	}
	s.bus.Publish(ctx, evt)
}

func pick(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func mapErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgNotFound)
	}
	return err
}

func toRepoActions(actions []transport.Action) []repository.Action {
	out := make([]repository.Action, len(actions))
	for i, a := range actions {
		out[i] = repository.Action{Type: a.Type, Parameters: a.Parameters}
	}
	return out
}

func ToResponse(w repository.Workflow) transport.WorkflowResponse {
	conditions := w.Conditions
	if conditions == nil {
		conditions = []rules.Condition{}
	}
	actions := make([]transport.Action, len(w.Actions))
	for i, a := range w.Actions {
		actions[i] = transport.Action{Type: a.Type, Parameters: a.Parameters}
	}
	return transport.WorkflowResponse{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		EntityType:  w.EntityType,
		TriggerType: w.TriggerType,
		IsActive:    w.IsActive,
		Conditions:  conditions,
		Actions:     actions,
		Schedule:    w.Schedule,
		NextRunAt:   w.NextRunAt,
		LastRunAt:   w.LastRunAt,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}
