package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rules"
	"crm_saas_backend/internal/webhooks/signature"
	"crm_saas_backend/internal/workflows/repository"
	"crm_saas_backend/internal/workflows/transport"

	"github.com/google/uuid"
)

const callWebhookEvent = "workflow.action"

var triggers = map[events.Action]string{
	events.ActionCreated: transport.TriggerOnCreate,
	events.ActionUpdated: transport.TriggerOnUpdate,
	events.ActionDeleted: transport.TriggerOnDelete,
}

// target is the record a workflow run acts on.
type target struct {
	tenantID   uuid.UUID
	entityType string
	entityID   uuid.UUID
	data       map[string]any
	record     rules.Record
}

func (t *target) merge(data map[string]any) {
	for k, v := range data {
		t.data[k] = v
	}
	for k, v := range rules.NewRecord(data) {
		t.record[k] = v
	}
}

// Handle runs the tenant's workflows for an entity change. Changes written by
// workflow actions are ignored so that workflows cannot trigger each other.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.EntityChanged)
	if !ok || e.FromWorkflow() {
		return nil
	}
	entityType := string(e.EntityType)
	if _, ok := updatableFields[entityType]; !ok {
		return nil
	}
	trigger, ok := triggers[e.Action]
	if !ok {
		return nil
	}
	workflows, err := s.repo.Active(ctx, e.TenantID, entityType, trigger)
	if err != nil {
		return err
	}
	for _, w := range workflows {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		s.execute(ctx, w, &target{
			tenantID:   e.TenantID,
			entityType: entityType,
			entityID:   e.EntityID,
			data:       data,
			record:     rules.NewRecord(data),
		}, true)
	}
	return nil
}

// RunScheduled runs every due Scheduled workflow over up to the configured batch of
// the tenant's records. It returns the number of records the workflows matched.
func (s *Service) RunScheduled(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ClaimDue(ctx, now, DueBatch, func(w repository.Workflow) *time.Time {
		return s.nextAfter(w.Schedule, now)
	})
	if err != nil {
		return 0, err
	}
	matched := 0
	for _, w := range due {
		snaps, err := s.repo.Snapshots(ctx, w.TenantID, w.EntityType, s.batch)
		if err != nil {
			s.log.Error("workflow snapshot load failed", "workflow_id", w.ID, "error", err)
			continue
		}
		for _, snap := range snaps {
			if ctx.Err() != nil {
				return matched, ctx.Err()
			}
			var data map[string]any
			if err := json.Unmarshal(snap.Data, &data); err != nil {
				s.log.Warn("workflow snapshot skipped", "workflow_id", w.ID, "entity_id", snap.ID, "error", err)
				continue
			}
			if s.execute(ctx, w, &target{
				tenantID:   w.TenantID,
				entityType: w.EntityType,
				entityID:   snap.ID,
				data:       data,
				record:     rules.NewRecord(data),
			}, false) != transport.ExecutionSkipped {
				matched++
			}
		}
	}
	return matched, nil
}

// execute evaluates the conditions and runs the actions in order. The first failing
// action stops the run. Non-matching records are recorded as Skipped only when
// recordSkip is set.
func (s *Service) execute(ctx context.Context, w repository.Workflow, t *target, recordSkip bool) string {
	if !rules.Match(w.Conditions, t.record) {
		if recordSkip {
			s.record(ctx, w, t.entityID, transport.ExecutionSkipped, "")
		}
		return transport.ExecutionSkipped
	}
	status, msg := transport.ExecutionSucceeded, ""
	for i, a := range w.Actions {
		if err := s.runAction(ctx, w, t, a); err != nil {
			status = transport.ExecutionFailed
			msg = fmt.Sprintf("action %d (%s): %v", i, a.Type, err)
			s.log.Warn("workflow action failed", "workflow_id", w.ID, "entity_id", t.entityID, "error", msg)
			break
		}
	}
	s.record(ctx, w, t.entityID, status, msg)
	return status
}

func (s *Service) record(ctx context.Context, w repository.Workflow, entityID uuid.UUID, status, msg string) {
	var errText *string
	if msg != "" {
		errText = &msg
	}
	err := s.repo.RecordExecution(ctx, repository.ExecutionParams{
		TenantID:   w.TenantID,
		WorkflowID: w.ID,
		EntityID:   &entityID,
		Status:     status,
		Error:      errText,
	})
	if err != nil {
		s.log.Error("workflow execution not recorded", "workflow_id", w.ID, "error", err)
	}
	if status == transport.ExecutionSkipped {
		return
	}
	s.bus.Publish(ctx, events.WorkflowExecuted{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   w.TenantID,
		WorkflowID: w.ID,
		EntityID:   &entityID,
		Status:     status,
		Error:      msg,
	})
}

func (s *Service) runAction(ctx context.Context, w repository.Workflow, t *target, a repository.Action) error {
	switch a.Type {
	case transport.ActionSendEmail:
		var p transport.SendEmailParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		return s.sendEmail(ctx, t, p)
	case transport.ActionCreateTask:
		var p transport.CreateTaskParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		return s.createTask(ctx, t, p)
	case transport.ActionUpdateField:
		var p transport.UpdateFieldParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		return s.updateField(ctx, t, p)
	case transport.ActionCallWebhook:
		var p transport.CallWebhookParams
		if err := s.decodeParams(a.Parameters, &p); err != nil {
			return err
		}
		return s.callWebhook(ctx, w, t, p)
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

func (s *Service) sendEmail(ctx context.Context, t *target, p transport.SendEmailParams) error {
	to := rules.Render(p.To, t.record)
	if to == "" {
		return fmt.Errorf("recipient %q resolved to an empty address", p.To)
	}
	return s.mailer.SendCustomEmail(ctx, to, rules.Render(p.Subject, t.record), rules.Render(p.Body, t.record))
}

func (s *Service) createTask(ctx context.Context, t *target, p transport.CreateTaskParams) error {
	var due *time.Time
	if p.DueInHours != nil {
		d := s.now().UTC().Add(time.Duration(*p.DueInHours) * time.Hour)
		due = &d
	}
	assignee := p.AssignToUserID
	if assignee == nil {
		if v, ok := t.record.Lookup("assignedToUserId"); ok {
			if id, err := uuid.Parse(fmt.Sprint(v)); err == nil {
				assignee = &id
			}
		}
	}
	var description *string
	if p.Description != nil {
		d := rules.Render(*p.Description, t.record)
		description = &d
	}
	id, data, err := s.repo.CreateTask(ctx, repository.TaskParams{
		TenantID:         t.tenantID,
		Subject:          rules.Render(p.Subject, t.record),
		Description:      description,
		DueDate:          due,
		RelatedToType:    t.entityType,
		RelatedToID:      t.entityID,
		AssignedToUserID: assignee,
	})
	if err != nil {
		return err
	}
	s.publishChange(ctx, t.tenantID, events.EntityActivity, id, events.ActionCreated, data, nil)
	return nil
}

func (s *Service) updateField(ctx context.Context, t *target, p transport.UpdateFieldParams) error {
	spec, ok := fieldFor(t.entityType, p.Field)
	if !ok {
		return fmt.Errorf("field %q cannot be updated on %s", p.Field, t.entityType)
	}
	data, err := s.repo.UpdateField(ctx, t.tenantID, t.entityType, t.entityID, spec.column, p.Value)
	if err != nil {
		return err
	}
	previous := make(map[string]any, len(t.data))
	for k, v := range t.data {
		previous[k] = v
	}
	updated := s.publishChange(ctx, t.tenantID, events.EntityType(t.entityType), t.entityID, events.ActionUpdated, data, previous)
	t.merge(updated)
	return nil
}

func (s *Service) callWebhook(ctx context.Context, w repository.Workflow, t *target, p transport.CallWebhookParams) error {
	if err := s.checkURL(p.URL); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"workflowId": w.ID,
		"entityType": t.entityType,
		"entityId":   t.entityID,
		"data":       t.data,
	})
	if err != nil {
		return err
	}
	method := http.MethodPost
	if p.Method != nil {
		method = *p.Method
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	secret := ""
	if p.Secret != nil {
		secret = *p.Secret
	}
	signature.Apply(req, secret, callWebhookEvent, body, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// publishChange emits an EntityChanged marked as written by a workflow and returns
// the decoded row.
func (s *Service) publishChange(ctx context.Context, tenantID uuid.UUID, entityType events.EntityType, id uuid.UUID,
	action events.Action, raw []byte, previous map[string]any) map[string]any {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Warn("workflow change snapshot undecodable", "entity_id", id, "error", err)
	}
	s.bus.Publish(ctx, events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   id,
		Action:     action,
		ActorID:    uuid.Nil,
		Source:     events.SourceWorkflow,
		Data:       data,
		Previous:   previous,
	})
	return data
}
