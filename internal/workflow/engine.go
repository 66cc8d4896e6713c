// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/metrics"
	"github.com/google/uuid"
)

type Deps struct {
	Templates TemplateStore
	Instances InstanceStore
	Events    EventStore
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine drives linear approval chains over the configured stores.
type Engine struct {
	templates TemplateStore
	instances InstanceStore
	events    EventStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		templates: deps.Templates,
		instances: deps.Instances,
		events:    deps.Events,
		publisher: deps.Publisher,
		logger:    logger,
		now:       now,
	}
}

// ---------------- TEMPLATES ----------------

func (e *Engine) CreateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) (domain.WorkflowTemplate, error) {
	tmpl = normalizeTemplate(tmpl)
	if err := ValidateTemplate(tmpl); err != nil {
		return domain.WorkflowTemplate{}, err
	}

	now := e.now()
	tmpl.ID = uuid.New()
	tmpl.Version = 1
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	assignStepIDs(&tmpl)

	if err := e.templates.CreateTemplate(ctx, tmpl); err != nil {
		e.logger.Error("create template failed", "name", tmpl.Name, "error", err)
		return domain.WorkflowTemplate{}, err
	}

	e.logger.Info("template created",
		"template_id", tmpl.ID,
		"name", tmpl.Name,
		"steps", len(tmpl.Steps),
	)
	return tmpl, nil
}

// UpdateTemplate replaces a template definition and bumps its version.
// Instances already started keep their own copy of the steps.
func (e *Engine) UpdateTemplate(ctx context.Context, id uuid.UUID, tmpl domain.WorkflowTemplate) (domain.WorkflowTemplate, error) {
	existing, err := e.templates.GetTemplate(ctx, id)
	if err != nil {
		return domain.WorkflowTemplate{}, err
	}

	tmpl = normalizeTemplate(tmpl)
	if err := ValidateTemplate(tmpl); err != nil {
		return domain.WorkflowTemplate{}, err
	}

	tmpl.ID = existing.ID
	tmpl.Version = existing.Version + 1
	tmpl.CreatedAt = existing.CreatedAt
	tmpl.UpdatedAt = e.now()
	assignStepIDs(&tmpl)

	if err := e.templates.UpdateTemplate(ctx, tmpl); err != nil {
		e.logger.Error("update template failed", "template_id", id, "error", err)
		return domain.WorkflowTemplate{}, err
	}

	e.logger.Info("template updated",
		"template_id", tmpl.ID,
		"version", tmpl.Version,
		"active", tmpl.Active,
	)
	return tmpl, nil
}

func (e *Engine) GetTemplate(ctx context.Context, id uuid.UUID) (domain.WorkflowTemplate, error) {
	return e.templates.GetTemplate(ctx, id)
}

func (e *Engine) FindTemplateByName(ctx context.Context, name string) (domain.WorkflowTemplate, error) {
	return e.templates.FindTemplateByName(ctx, strings.TrimSpace(name))
}

func (e *Engine) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.WorkflowTemplate, error) {
	return e.templates.ListTemplates(ctx, activeOnly)
}

// ---------------- INSTANCES ----------------

// StartWorkflow creates an instance from the referenced template. Several
// instances may run against the same entity.
func (e *Engine) StartWorkflow(ctx context.Context, params StartParams) (domain.WorkflowInstance, error) {
	tmpl, err := e.templates.GetTemplate(ctx, params.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			e.logger.Warn("start workflow: template not found", "template_id", params.TemplateID)
		} else {
			e.logger.Error("start workflow: load template failed", "template_id", params.TemplateID, "error", err)
		}
		return domain.WorkflowInstance{}, err
	}
	if !tmpl.Active {
		return domain.WorkflowInstance{}, fmt.Errorf("start workflow %s: %w", tmpl.ID, domain.ErrTemplateInactive)
	}

	inst, events, err := NewInstance(tmpl, params, e.now())
	if err != nil {
		return domain.WorkflowInstance{}, err
	}

	if err := e.instances.CreateInstance(ctx, inst, events); err != nil {
		e.logger.Error("create instance failed",
			"template_id", tmpl.ID,
			"entity_id", params.EntityID,
			"error", err,
		)
		return domain.WorkflowInstance{}, err
	}

	metrics.IncWorkflowStarted(tmpl.Category)
	metrics.IncInstanceStatus(inst.Status)

	e.logger.Info("workflow started",
		"instance_id", inst.ID,
		"template_id", tmpl.ID,
		"entity_id", inst.EntityID,
		"entity_type", inst.EntityType,
		"initiated_by", inst.InitiatedBy,
		"current_step", inst.CurrentStep,
	)

	if inst.Status.Terminal() {
		e.publish(ctx, inst, domain.EventWorkflowCompleted, inst.CurrentStep)
	}

	return inst, nil
}

// ActOnStep approves or rejects the instance's current step.
func (e *Engine) ActOnStep(ctx context.Context, params ActParams) (domain.WorkflowInstance, error) {
	now := e.now()
	var decided time.Duration

	inst, err := e.instances.MutateInstance(ctx, params.InstanceID, func(inst *domain.WorkflowInstance) ([]domain.EventRecord, error) {
		var startedAt *time.Time
		if params.StepIndex >= 0 && params.StepIndex < len(inst.Steps) {
			startedAt = inst.Steps[params.StepIndex].StartedDate
		}

		events, err := Apply(inst, params, now)
		if err != nil {
			return nil, err
		}
		if startedAt != nil {
			decided = now.Sub(*startedAt)
		}
		return events, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			e.logger.Warn("act on step: instance not found", "instance_id", params.InstanceID)
		} else {
			e.logger.Warn("act on step rejected",
				"instance_id", params.InstanceID,
				"step_index", params.StepIndex,
				"action", params.Action,
				"error", err,
			)
		}
		return domain.WorkflowInstance{}, err
	}

	metrics.IncStepAction(params.Action)
	if decided > 0 {
		metrics.ObserveStepDecision(decided)
	}

	e.logger.Info("step decided",
		"instance_id", inst.ID,
		"step_index", params.StepIndex,
		"action", params.Action,
		"actor", params.Actor,
		"status", inst.Status,
		"current_step", inst.CurrentStep,
	)

	switch inst.Status {
	case domain.InstanceCompleted:
		metrics.IncInstanceStatus(inst.Status)
		e.publish(ctx, inst, domain.EventWorkflowCompleted, params.StepIndex)
	case domain.InstanceCancelled:
		metrics.IncInstanceStatus(inst.Status)
		e.publish(ctx, inst, domain.EventWorkflowCancelled, params.StepIndex)
	}

	return inst, nil
}

// MarkOverdue flags the current step of an instance as past due. It reports
// whether a new flag was recorded.
func (e *Engine) MarkOverdue(ctx context.Context, instanceID uuid.UUID, stepIndex int) (bool, error) {
	flagged := false

	inst, err := e.instances.MutateInstance(ctx, instanceID, func(inst *domain.WorkflowInstance) ([]domain.EventRecord, error) {
		events, err := MarkOverdue(inst, stepIndex, e.now())
		if err != nil {
			return nil, err
		}
		flagged = len(events) > 0
		return events, nil
	})
	if err != nil {
		return false, err
	}

	if flagged {
		metrics.IncOverdueSteps()
		e.logger.Warn("step overdue",
			"instance_id", inst.ID,
			"step_index", stepIndex,
			"assignee", inst.Steps[stepIndex].Assignee,
		)
		e.publish(ctx, inst, domain.EventStepOverdue, stepIndex)
	}

	return flagged, nil
}

func (e *Engine) ListOverdue(ctx context.Context, limit int) ([]domain.OverdueStep, error) {
	return e.instances.ListOverdue(ctx, e.now(), limit)
}

func (e *Engine) GetInstance(ctx context.Context, id uuid.UUID) (domain.WorkflowInstance, error) {
	return e.instances.GetInstance(ctx, id)
}

func (e *Engine) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.WorkflowInstance, error) {
	return e.instances.ListInstances(ctx, filter)
}

func (e *Engine) ListEventsAfter(ctx context.Context, instanceID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	return e.events.ListEventsAfter(ctx, instanceID, afterSeq)
}

func (e *Engine) ResolveCursorByEventID(ctx context.Context, instanceID uuid.UUID, eventID uuid.UUID) (int64, error) {
	return e.events.ResolveCursorByEventID(ctx, instanceID, eventID)
}

func (e *Engine) publish(ctx context.Context, inst domain.WorkflowInstance, typ domain.EventType, stepIndex int) {
	if e.publisher == nil {
		return
	}

	msg := domain.LifecycleMessage{
		Type:       typ,
		InstanceID: inst.ID,
		TemplateID: inst.TemplateID,
		EntityID:   inst.EntityID,
		EntityType: inst.EntityType,
		Status:     inst.Status,
		StepIndex:  stepIndex,
		OccurredAt: e.now(),
	}

	if err := e.publisher.Publish(ctx, msg); err != nil {
		metrics.IncPublishFailures()
		e.logger.Error("publish lifecycle message failed",
			"instance_id", inst.ID,
			"type", typ,
			"error", err,
		)
	}
}

func normalizeTemplate(tmpl domain.WorkflowTemplate) domain.WorkflowTemplate {
	tmpl = tmpl.Clone()
	tmpl.Name = strings.TrimSpace(tmpl.Name)
	tmpl.Category = strings.TrimSpace(tmpl.Category)
	for i := range tmpl.Steps {
		tmpl.Steps[i].Key = strings.TrimSpace(tmpl.Steps[i].Key)
		tmpl.Steps[i].Name = strings.TrimSpace(tmpl.Steps[i].Name)
		tmpl.Steps[i].Assignee = strings.TrimSpace(tmpl.Steps[i].Assignee)
	}
	return tmpl
}

func assignStepIDs(tmpl *domain.WorkflowTemplate) {
	for i := range tmpl.Steps {
		if tmpl.Steps[i].ID == uuid.Nil {
			tmpl.Steps[i].ID = uuid.New()
		}
	}
}
