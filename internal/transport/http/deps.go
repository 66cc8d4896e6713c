// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/workflow"
	"github.com/google/uuid"
)

type TemplateService interface {
	CreateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) (domain.WorkflowTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, tmpl domain.WorkflowTemplate) (domain.WorkflowTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (domain.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.WorkflowTemplate, error)
}

type InstanceService interface {
	StartWorkflow(ctx context.Context, params workflow.StartParams) (domain.WorkflowInstance, error)
	ActOnStep(ctx context.Context, params workflow.ActParams) (domain.WorkflowInstance, error)
	GetInstance(ctx context.Context, id uuid.UUID) (domain.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.WorkflowInstance, error)
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, instanceID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, instanceID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
