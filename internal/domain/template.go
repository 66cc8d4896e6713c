// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type StepBlueprint struct {
	ID             uuid.UUID   `json:"id" yaml:"-"`
	Key            string      `json:"key" yaml:"key" validate:"required,max=64"`
	Name           string      `json:"name" yaml:"name" validate:"required,max=200"`
	Description    string      `json:"description,omitempty" yaml:"description"`
	Assignee       string      `json:"assignee" yaml:"assignee" validate:"required"`
	DueInHours     int         `json:"due_in_hours,omitempty" yaml:"due_in_hours" validate:"gte=0"`
	RequiredFields []string    `json:"required_fields,omitempty" yaml:"required_fields" validate:"dive,required"`
	Conditions     []Condition `json:"conditions,omitempty" yaml:"conditions" validate:"dive"`
}

type WorkflowTemplate struct {
	ID          uuid.UUID       `json:"id" yaml:"-"`
	Name        string          `json:"name" yaml:"name" validate:"required,min=3,max=200"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Category    string          `json:"category" yaml:"category" validate:"required"`
	Steps       []StepBlueprint `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
	Active      bool            `json:"active" yaml:"-"`
	Version     int             `json:"version" yaml:"-"`
	CreatedAt   time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"-"`
}

// Clone returns a copy sharing no slices with t.
func (t WorkflowTemplate) Clone() WorkflowTemplate {
	out := t
	out.Steps = make([]StepBlueprint, len(t.Steps))
	for i, s := range t.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

func (s StepBlueprint) clone() StepBlueprint {
	out := s
	out.RequiredFields = cloneSlice(s.RequiredFields)
	out.Conditions = cloneSlice(s.Conditions)
	return out
}
