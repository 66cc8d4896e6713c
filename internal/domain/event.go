// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventStepStarted       EventType = "STEP_STARTED"
	EventStepApproved      EventType = "STEP_APPROVED"
	EventStepRejected      EventType = "STEP_REJECTED"
	EventStepSkipped       EventType = "STEP_SKIPPED"
	EventStepOverdue       EventType = "STEP_OVERDUE"
	EventWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventWorkflowCancelled EventType = "WORKFLOW_CANCELLED"
)

// EventRecord is one entry of an instance's append-only transition log.
// Seq is assigned by the store on append.
type EventRecord struct {
	ID         uuid.UUID       `json:"id"`
	Seq        int64           `json:"seq"`
	InstanceID uuid.UUID       `json:"instance_id"`
	Type       EventType       `json:"type"`
	StepIndex  *int            `json:"step_index,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LifecycleMessage is published when an instance finishes or a step runs
// past its due date.
type LifecycleMessage struct {
	Type       EventType      `json:"type"`
	InstanceID uuid.UUID      `json:"instance_id"`
	TemplateID uuid.UUID      `json:"template_id"`
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Status     InstanceStatus `json:"status"`
	StepIndex  int            `json:"step_index"`
	OccurredAt time.Time      `json:"occurred_at"`
}
