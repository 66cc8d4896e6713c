// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowStep struct {
	ID              uuid.UUID   `json:"id"`
	Key             string      `json:"key"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Assignee        string      `json:"assignee"`
	Status          StepStatus  `json:"status"`
	StartedDate     *time.Time  `json:"started_date,omitempty"`
	DueDate         *time.Time  `json:"due_date,omitempty"`
	CompletedDate   *time.Time  `json:"completed_date,omitempty"`
	Comments        []string    `json:"comments"`
	RequiredFields  []string    `json:"required_fields,omitempty"`
	Conditions      []Condition `json:"conditions,omitempty"`
	OverdueNotified *time.Time  `json:"overdue_notified_at,omitempty"`
}

type WorkflowInstance struct {
	ID            uuid.UUID         `json:"id"`
	TemplateID    uuid.UUID         `json:"template_id"`
	TemplateName  string            `json:"template_name"`
	EntityID      string            `json:"entity_id"`
	EntityType    string            `json:"entity_type"`
	Status        InstanceStatus    `json:"status"`
	CurrentStep   int               `json:"current_step"`
	Steps         []WorkflowStep    `json:"steps"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	StartDate     time.Time         `json:"start_date"`
	CompletedDate *time.Time        `json:"completed_date,omitempty"`
	InitiatedBy   string            `json:"initiated_by"`
	Version       int               `json:"version"`
}

// Clone returns a copy sharing no slices, maps or pointers with i.
func (i WorkflowInstance) Clone() WorkflowInstance {
	out := i
	out.Steps = make([]WorkflowStep, len(i.Steps))
	for idx, s := range i.Steps {
		out.Steps[idx] = s.clone()
	}
	if i.Attributes != nil {
		out.Attributes = make(map[string]string, len(i.Attributes))
		for k, v := range i.Attributes {
			out.Attributes[k] = v
		}
	}
	out.CompletedDate = cloneTime(i.CompletedDate)
	return out
}

func (s WorkflowStep) clone() WorkflowStep {
	out := s
	out.Comments = cloneSlice(s.Comments)
	out.RequiredFields = cloneSlice(s.RequiredFields)
	out.Conditions = cloneSlice(s.Conditions)
	out.StartedDate = cloneTime(s.StartedDate)
	out.DueDate = cloneTime(s.DueDate)
	out.CompletedDate = cloneTime(s.CompletedDate)
	out.OverdueNotified = cloneTime(s.OverdueNotified)
	return out
}

// cloneSlice keeps nil and empty slices distinct.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type InstanceFilter struct {
	EntityID   string
	EntityType string
	TemplateID uuid.UUID
	Status     InstanceStatus
	Limit      int
}

// OverdueStep identifies an in-progress step whose due date has passed.
type OverdueStep struct {
	InstanceID uuid.UUID `json:"instance_id"`
	StepIndex  int       `json:"step_index"`
	DueDate    time.Time `json:"due_date"`
}
