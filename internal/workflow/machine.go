// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
)

type StartParams struct {
	TemplateID  uuid.UUID
	EntityID    string
	EntityType  string
	InitiatedBy string
	Attributes  map[string]string
}

type ActParams struct {
	InstanceID uuid.UUID
	StepIndex  int
	Action     domain.Action
	Comment    string
	Fields     map[string]string
	Actor      string
}

// NewInstance copies tmpl's steps into a fresh instance and activates the
// first applicable step. Steps whose conditions fail on the way are skipped;
// if none applies the instance is completed immediately.
func NewInstance(tmpl domain.WorkflowTemplate, params StartParams, now time.Time) (domain.WorkflowInstance, []domain.EventRecord, error) {
	if len(tmpl.Steps) == 0 {
		return domain.WorkflowInstance{}, nil, domain.ErrTemplateHasNoSteps
	}

	inst := domain.WorkflowInstance{
		ID:           uuid.New(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		EntityID:     params.EntityID,
		EntityType:   params.EntityType,
		Status:       domain.InstanceActive,
		CurrentStep:  0,
		Steps:        make([]domain.WorkflowStep, len(tmpl.Steps)),
		Attributes:   make(map[string]string, len(params.Attributes)),
		StartDate:    now,
		InitiatedBy:  params.InitiatedBy,
		Version:      1,
	}
	for k, v := range params.Attributes {
		inst.Attributes[k] = v
	}

	for i, bp := range tmpl.Steps {
		step := domain.WorkflowStep{
			ID:             uuid.New(),
			Key:            bp.Key,
			Name:           bp.Name,
			Description:    bp.Description,
			Assignee:       bp.Assignee,
			Status:         domain.StepPending,
			Comments:       []string{},
			RequiredFields: append([]string(nil), bp.RequiredFields...),
			Conditions:     append([]domain.Condition(nil), bp.Conditions...),
		}
		if bp.DueInHours > 0 {
			due := now.Add(time.Duration(bp.DueInHours) * time.Hour)
			step.DueDate = &due
		}
		inst.Steps[i] = step
	}

	events := []domain.EventRecord{
		newEvent(&inst, domain.EventWorkflowStarted, nil, params.InitiatedBy, now, map[string]any{
			"template_id":   tmpl.ID,
			"template_name": tmpl.Name,
			"entity_id":     params.EntityID,
			"entity_type":   params.EntityType,
		}),
	}

	advanced, err := activateFrom(&inst, 0, params.InitiatedBy, now)
	if err != nil {
		return domain.WorkflowInstance{}, nil, err
	}

	return inst, append(events, advanced...), nil
}

// Apply performs an approve or reject on the instance's current step.
// Any error leaves inst untouched.
func Apply(inst *domain.WorkflowInstance, params ActParams, now time.Time) ([]domain.EventRecord, error) {
	const op = "act"

	if !params.Action.Valid() {
		return nil, transitionErr(op, inst, params.StepIndex, domain.ErrInvalidAction)
	}
	if inst.Status != domain.InstanceActive {
		return nil, transitionErr(op, inst, params.StepIndex, domain.ErrInstanceNotActive)
	}
	if params.StepIndex != inst.CurrentStep || params.StepIndex < 0 || params.StepIndex >= len(inst.Steps) {
		return nil, transitionErr(op, inst, params.StepIndex, domain.ErrStepOutOfTurn)
	}

	step := &inst.Steps[params.StepIndex]
	comment := strings.TrimSpace(params.Comment)

	switch params.Action {
	case domain.ActionApprove:
		if !domain.CanTransition(step.Status, domain.StepCompleted) {
			return nil, transitionErr(op, inst, params.StepIndex, domain.ErrInvalidTransition)
		}

		attrs := mergeAttributes(inst.Attributes, params.Fields)
		if missing := missingFields(step.RequiredFields, attrs); len(missing) > 0 {
			err := transitionErr(op, inst, params.StepIndex, domain.ErrMissingRequiredFields)
			err.Fields = missing
			return nil, err
		}

		// Staged on a copy until the next step activates.
		working := inst.Clone()
		done := &working.Steps[params.StepIndex]
		working.Attributes = attrs
		done.Status = domain.StepCompleted
		completed := now
		done.CompletedDate = &completed
		if comment != "" {
			done.Comments = append(done.Comments, "Approved: "+comment)
		}
		working.Version++

		idx := params.StepIndex
		events := []domain.EventRecord{
			newEvent(&working, domain.EventStepApproved, &idx, params.Actor, now, map[string]any{
				"step":    done.Key,
				"comment": comment,
				"fields":  params.Fields,
			}),
		}

		advanced, err := activateFrom(&working, params.StepIndex+1, params.Actor, now)
		if err != nil {
			return nil, err
		}
		*inst = working
		return append(events, advanced...), nil

	default:
		if !domain.CanTransition(step.Status, domain.StepRejected) {
			return nil, transitionErr(op, inst, params.StepIndex, domain.ErrInvalidTransition)
		}

		step.Status = domain.StepRejected
		if comment != "" {
			step.Comments = append(step.Comments, "Rejected: "+comment)
		}
		inst.Status = domain.InstanceCancelled
		closed := now
		inst.CompletedDate = &closed
		inst.Version++

		idx := params.StepIndex
		return []domain.EventRecord{
			newEvent(inst, domain.EventStepRejected, &idx, params.Actor, now, map[string]any{
				"step":    step.Key,
				"comment": comment,
			}),
			newEvent(inst, domain.EventWorkflowCancelled, &idx, params.Actor, now, map[string]any{
				"reason": "step_rejected",
			}),
		}, nil
	}
}

// MarkOverdue flags the current step as past its due date. It is a no-op
// when the step was already flagged or is not yet due.
func MarkOverdue(inst *domain.WorkflowInstance, stepIndex int, now time.Time) ([]domain.EventRecord, error) {
	const op = "mark overdue"

	if inst.Status != domain.InstanceActive {
		return nil, transitionErr(op, inst, stepIndex, domain.ErrInstanceNotActive)
	}
	if stepIndex != inst.CurrentStep || stepIndex < 0 || stepIndex >= len(inst.Steps) {
		return nil, transitionErr(op, inst, stepIndex, domain.ErrStepOutOfTurn)
	}

	step := &inst.Steps[stepIndex]
	if step.Status != domain.StepInProgress || step.DueDate == nil || !step.DueDate.Before(now) || step.OverdueNotified != nil {
		return nil, nil
	}

	flagged := now
	step.OverdueNotified = &flagged
	inst.Version++

	return []domain.EventRecord{
		newEvent(inst, domain.EventStepOverdue, &stepIndex, "", now, map[string]any{
			"step":     step.Key,
			"assignee": step.Assignee,
			"due_date": step.DueDate,
		}),
	}, nil
}

func activateFrom(inst *domain.WorkflowInstance, from int, actor string, now time.Time) ([]domain.EventRecord, error) {
	events := make([]domain.EventRecord, 0, 2)

	for i := from; i < len(inst.Steps); i++ {
		step := &inst.Steps[i]
		idx := i

		if !domain.Applies(step.Conditions, inst.Attributes) {
			if !domain.CanTransition(step.Status, domain.StepSkipped) {
				return nil, transitionErr("advance", inst, i, domain.ErrInvalidTransition)
			}
			step.Status = domain.StepSkipped
			events = append(events, newEvent(inst, domain.EventStepSkipped, &idx, actor, now, map[string]any{
				"step": step.Key,
			}))
			continue
		}

		if !domain.CanTransition(step.Status, domain.StepInProgress) {
			return nil, transitionErr("advance", inst, i, domain.ErrInvalidTransition)
		}
		step.Status = domain.StepInProgress
		started := now
		step.StartedDate = &started
		inst.CurrentStep = i
		events = append(events, newEvent(inst, domain.EventStepStarted, &idx, actor, now, map[string]any{
			"step":     step.Key,
			"assignee": step.Assignee,
		}))
		return events, nil
	}

	inst.Status = domain.InstanceCompleted
	completed := now
	inst.CompletedDate = &completed
	events = append(events, newEvent(inst, domain.EventWorkflowCompleted, nil, actor, now, nil))
	return events, nil
}

func mergeAttributes(base, fields map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func missingFields(required []string, attrs map[string]string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(attrs[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func newEvent(inst *domain.WorkflowInstance, typ domain.EventType, stepIndex *int, actor string, now time.Time, payload map[string]any) domain.EventRecord {
	ev := domain.EventRecord{
		ID:         uuid.New(),
		InstanceID: inst.ID,
		Type:       typ,
		Actor:      actor,
		CreatedAt:  now,
	}
	if stepIndex != nil {
		idx := *stepIndex
		ev.StepIndex = &idx
	}
	if payload != nil {
		ev.Payload, _ = json.Marshal(payload)
	}
	return ev
}

func transitionErr(op string, inst *domain.WorkflowInstance, stepIndex int, err error) *domain.TransitionError {
	return &domain.TransitionError{
		Op:         op,
		InstanceID: inst.ID,
		StepIndex:  stepIndex,
		Err:        err,
	}
}
