// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
)

type TemplateStore interface {
	CreateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) error
	UpdateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id uuid.UUID) (domain.WorkflowTemplate, error)
	FindTemplateByName(ctx context.Context, name string) (domain.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.WorkflowTemplate, error)
}

// InstanceStore persists instances together with their transition events.
// MutateInstance must run fn and persist the result atomically; when fn
// returns an error nothing is written.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst domain.WorkflowInstance, events []domain.EventRecord) error
	GetInstance(ctx context.Context, id uuid.UUID) (domain.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.WorkflowInstance, error)
	MutateInstance(
		ctx context.Context,
		id uuid.UUID,
		fn func(inst *domain.WorkflowInstance) ([]domain.EventRecord, error),
	) (domain.WorkflowInstance, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.OverdueStep, error)
}

type EventStore interface {
	ListEventsAfter(ctx context.Context, instanceID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, instanceID uuid.UUID, eventID uuid.UUID) (int64, error)
}

// Publisher receives lifecycle messages for finished or overdue instances.
type Publisher interface {
	Publish(ctx context.Context, msg domain.LifecycleMessage) error
}
