// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrTemplateNotFound = errors.New("workflow template not found")
var ErrTemplateNameTaken = errors.New("workflow template name already in use")
var ErrTemplateInactive = errors.New("workflow template is inactive")
var ErrInvalidTemplate = errors.New("invalid workflow template")
var ErrTemplateHasNoSteps = errors.New("workflow template has no steps")
var ErrInstanceNotFound = errors.New("workflow instance not found")
var ErrInstanceNotActive = errors.New("workflow instance is not active")
var ErrStepOutOfTurn = errors.New("step is not the current step")
var ErrInvalidAction = errors.New("invalid step action")
var ErrInvalidTransition = errors.New("invalid step status transition")
var ErrMissingRequiredFields = errors.New("missing required fields")
var ErrEventNotFound = errors.New("event not found")

// TransitionError carries the instance and step an engine operation failed on.
type TransitionError struct {
	Op         string
	InstanceID uuid.UUID
	StepIndex  int
	Fields     []string
	Err        error
}

func (e *TransitionError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s instance %s step %d: %v %v", e.Op, e.InstanceID, e.StepIndex, e.Err, e.Fields)
	}
	return fmt.Sprintf("%s instance %s step %d: %v", e.Op, e.InstanceID, e.StepIndex, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
