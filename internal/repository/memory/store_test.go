// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tmpl := domain.WorkflowTemplate{
		ID:     uuid.New(),
		Name:   "Purchase Order Approval",
		Active: true,
		Steps:  []domain.StepBlueprint{{Key: "review", Name: "Review", Assignee: "manager"}},
	}
	require.NoError(t, s.CreateTemplate(ctx, tmpl))

	tmpl.Steps[0].Name = "changed by caller"

	got, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Review", got.Steps[0].Name)

	got.Steps[0].Name = "changed again"
	again, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Review", again.Steps[0].Name)

	byName, err := s.FindTemplateByName(ctx, "  purchase order APPROVAL ")
	require.NoError(t, err)
	assert.Equal(t, tmpl.ID, byName.ID)

	_, err = s.FindTemplateByName(ctx, "Vendor Onboarding")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)

	err = s.UpdateTemplate(ctx, domain.WorkflowTemplate{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestListTemplatesActiveOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateTemplate(ctx, domain.WorkflowTemplate{ID: uuid.New(), Name: "B", Active: true}))
	require.NoError(t, s.CreateTemplate(ctx, domain.WorkflowTemplate{ID: uuid.New(), Name: "A", Active: false}))

	all, err := s.ListTemplates(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name)

	active, err := s.ListTemplates(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "B", active[0].Name)
}

func TestMutateInstanceCommitsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inst := testInstance(time.Now().Add(time.Hour))

	require.NoError(t, s.CreateInstance(ctx, inst, []domain.EventRecord{
		{ID: uuid.New(), InstanceID: inst.ID, Type: domain.EventWorkflowStarted},
	}))

	boom := errors.New("boom")
	_, err := s.MutateInstance(ctx, inst.ID, func(in *domain.WorkflowInstance) ([]domain.EventRecord, error) {
		in.Status = domain.InstanceCancelled
		return []domain.EventRecord{{ID: uuid.New(), InstanceID: in.ID, Type: domain.EventWorkflowCancelled}}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceActive, got.Status)

	events, err := s.ListEventsAfter(ctx, inst.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	updated, err := s.MutateInstance(ctx, inst.ID, func(in *domain.WorkflowInstance) ([]domain.EventRecord, error) {
		in.Status = domain.InstanceCancelled
		return []domain.EventRecord{{ID: uuid.New(), InstanceID: in.ID, Type: domain.EventWorkflowCancelled}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceCancelled, updated.Status)

	events, err = s.ListEventsAfter(ctx, inst.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, domain.EventWorkflowCancelled, events[0].Type)

	_, err = s.MutateInstance(ctx, uuid.New(), func(*domain.WorkflowInstance) ([]domain.EventRecord, error) {
		t.Fatal("fn must not run for unknown instance")
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestListInstancesFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := testInstance(time.Now())
	second := testInstance(time.Now())
	second.EntityID = "PO-2"
	second.Status = domain.InstanceCompleted

	require.NoError(t, s.CreateInstance(ctx, first, nil))
	require.NoError(t, s.CreateInstance(ctx, second, nil))

	list, err := s.ListInstances(ctx, domain.InstanceFilter{EntityID: "PO-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	list, err = s.ListInstances(ctx, domain.InstanceFilter{Status: domain.InstanceCompleted})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = s.ListInstances(ctx, domain.InstanceFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestListOverdue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	late := testInstance(now.Add(-2 * time.Hour))
	later := testInstance(now.Add(-time.Hour))
	onTime := testInstance(now.Add(time.Hour))
	flagged := testInstance(now.Add(-3 * time.Hour))
	flagged.Steps[0].OverdueNotified = &now

	for _, inst := range []domain.WorkflowInstance{later, onTime, flagged, late} {
		require.NoError(t, s.CreateInstance(ctx, inst, nil))
	}

	overdue, err := s.ListOverdue(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, late.ID, overdue[0].InstanceID)
	assert.Equal(t, later.ID, overdue[1].InstanceID)

	overdue, err = s.ListOverdue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, overdue, 1)
}

func TestEventCursor(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inst := testInstance(time.Now())
	other := testInstance(time.Now())

	started := domain.EventRecord{ID: uuid.New(), InstanceID: inst.ID, Type: domain.EventWorkflowStarted}
	require.NoError(t, s.CreateInstance(ctx, inst, []domain.EventRecord{started}))
	require.NoError(t, s.CreateInstance(ctx, other, []domain.EventRecord{
		{ID: uuid.New(), InstanceID: other.ID, Type: domain.EventWorkflowStarted},
	}))

	seq, err := s.ResolveCursorByEventID(ctx, inst.ID, started.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	_, err = s.ResolveCursorByEventID(ctx, other.ID, started.ID)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	events, err := s.ListEventsAfter(ctx, other.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Seq)

	_, err = s.ListEventsAfter(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func testInstance(due time.Time) domain.WorkflowInstance {
	return domain.WorkflowInstance{
		ID:         uuid.New(),
		TemplateID: uuid.New(),
		EntityID:   "PO-1",
		EntityType: "purchase_order",
		Status:     domain.InstanceActive,
		Steps: []domain.WorkflowStep{
			{Key: "review", Name: "Review", Assignee: "manager", Status: domain.StepInProgress, DueDate: &due},
		},
		StartDate: due.Add(-24 * time.Hour),
	}
}

func TestTemplateNamesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := domain.WorkflowTemplate{ID: uuid.New(), Name: "Purchase Order Approval", Active: true}
	other := domain.WorkflowTemplate{ID: uuid.New(), Name: "Vendor Onboarding", Active: true}
	require.NoError(t, s.CreateTemplate(ctx, first))
	require.NoError(t, s.CreateTemplate(ctx, other))

	dup := domain.WorkflowTemplate{ID: uuid.New(), Name: "purchase order APPROVAL"}
	assert.ErrorIs(t, s.CreateTemplate(ctx, dup), domain.ErrTemplateNameTaken)

	_, err := s.GetTemplate(ctx, dup.ID)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)

	renamed := other
	renamed.Name = "Purchase Order Approval"
	assert.ErrorIs(t, s.UpdateTemplate(ctx, renamed), domain.ErrTemplateNameTaken)

	stored, err := s.GetTemplate(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vendor Onboarding", stored.Name)

	// Keeping its own name is not a conflict.
	first.Version = 2
	require.NoError(t, s.UpdateTemplate(ctx, first))

	for i := 0; i < 20; i++ {
		found, err := s.FindTemplateByName(ctx, "purchase order approval")
		require.NoError(t, err)
		require.Equal(t, first.ID, found.ID)
	}
}
