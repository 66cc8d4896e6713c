//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/persistence/postgres"
	"github.com/adiadia/approval-workflow/internal/workflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPurchaseOrderLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	engine := integrationEngine(pool, nil)
	tmpl, err := engine.CreateTemplate(ctx, integrationTemplate("Purchase Order Approval"))
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	inst, err := engine.StartWorkflow(ctx, workflow.StartParams{
		TemplateID:  tmpl.ID,
		EntityID:    "PO-2024-001",
		EntityType:  "purchase_order",
		InitiatedBy: "john.smith",
		Attributes:  map[string]string{"amount": "12500"},
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	if inst.Steps[0].Status != domain.StepInProgress {
		t.Fatalf("expected first step in-progress got %s", inst.Steps[0].Status)
	}

	for i, comment := range []string{"ok", "ok", ""} {
		inst, err = engine.ActOnStep(ctx, workflow.ActParams{
			InstanceID: inst.ID,
			StepIndex:  i,
			Action:     domain.ActionApprove,
			Comment:    comment,
			Actor:      inst.Steps[i].Assignee,
		})
		if err != nil {
			t.Fatalf("approve step %d: %v", i, err)
		}
	}

	stored, err := engine.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if stored.Status != domain.InstanceCompleted {
		t.Fatalf("expected completed instance got %s", stored.Status)
	}
	if stored.CompletedDate == nil {
		t.Fatal("expected completed date")
	}
	if stored.Attributes["amount"] != "12500" {
		t.Fatalf("expected attributes to persist got %+v", stored.Attributes)
	}
	for i, step := range stored.Steps {
		if step.Status != domain.StepCompleted {
			t.Fatalf("expected step[%d] completed got %s", i, step.Status)
		}
	}
	if len(stored.Steps[0].Comments) != 1 || stored.Steps[0].Comments[0] != "Approved: ok" {
		t.Fatalf("unexpected step[0] comments %+v", stored.Steps[0].Comments)
	}
	if len(stored.Steps[2].Comments) != 0 {
		t.Fatalf("expected no comment on final step got %+v", stored.Steps[2].Comments)
	}

	events, err := engine.ListEventsAfter(ctx, inst.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 8 {
		t.Fatalf("expected 8 events got %d", len(events))
	}
	if events[len(events)-1].Type != domain.EventWorkflowCompleted {
		t.Fatalf("expected last event %s got %s", domain.EventWorkflowCompleted, events[len(events)-1].Type)
	}

	seq, err := engine.ResolveCursorByEventID(ctx, inst.ID, events[3].ID)
	if err != nil {
		t.Fatalf("resolve cursor: %v", err)
	}
	tail, err := engine.ListEventsAfter(ctx, inst.ID, seq)
	if err != nil {
		t.Fatalf("list events after cursor: %v", err)
	}
	if len(tail) != 4 {
		t.Fatalf("expected 4 events after cursor got %d", len(tail))
	}
}

func TestRejectAndFailedActionIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	engine := integrationEngine(pool, nil)
	tmpl, err := engine.CreateTemplate(ctx, integrationTemplate("Vendor Onboarding"))
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	inst, err := engine.StartWorkflow(ctx, workflow.StartParams{
		TemplateID: tmpl.ID,
		EntityID:   "VEN-7",
		EntityType: "vendor",
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	_, err = engine.ActOnStep(ctx, workflow.ActParams{
		InstanceID: inst.ID,
		StepIndex:  1,
		Action:     domain.ActionApprove,
	})
	if !errors.Is(err, domain.ErrStepOutOfTurn) {
		t.Fatalf("expected ErrStepOutOfTurn got %v", err)
	}

	unchanged, err := engine.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if unchanged.Version != inst.Version {
		t.Fatalf("expected version %d after failed action got %d", inst.Version, unchanged.Version)
	}

	inst, err = engine.ActOnStep(ctx, workflow.ActParams{
		InstanceID: inst.ID,
		StepIndex:  0,
		Action:     domain.ActionReject,
		Comment:    "missing tax documents",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if inst.Status != domain.InstanceCancelled {
		t.Fatalf("expected cancelled got %s", inst.Status)
	}
	if inst.Steps[1].Status != domain.StepPending {
		t.Fatalf("expected later step untouched got %s", inst.Steps[1].Status)
	}

	list, err := engine.ListInstances(ctx, domain.InstanceFilter{
		EntityID: "VEN-7",
		Status:   domain.InstanceCancelled,
	})
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(list) != 1 || list[0].ID != inst.ID {
		t.Fatalf("expected cancelled instance in list got %+v", list)
	}

	if _, err := engine.GetInstance(ctx, uuid.New()); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound got %v", err)
	}
}

func TestTemplateRepositoryUpdateIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	engine := integrationEngine(pool, nil)
	tmpl, err := engine.CreateTemplate(ctx, integrationTemplate("Expense Claim"))
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	edited := tmpl
	edited.Steps = edited.Steps[:1]
	edited.Steps[0].Conditions = []domain.Condition{
		{Field: "amount", Operator: domain.OpGreaterThan, Value: "500"},
	}
	updated, err := engine.UpdateTemplate(ctx, tmpl.ID, edited)
	if err != nil {
		t.Fatalf("update template: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 got %d", updated.Version)
	}

	byName, err := NewTemplateRepository(pool, nil).FindTemplateByName(ctx, "expense claim")
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if len(byName.Steps) != 1 || len(byName.Steps[0].Conditions) != 1 {
		t.Fatalf("expected one conditional step got %+v", byName.Steps)
	}

	if _, err := engine.GetTemplate(ctx, uuid.New()); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound got %v", err)
	}

	if _, err := engine.CreateTemplate(ctx, integrationTemplate("EXPENSE CLAIM")); !errors.Is(err, domain.ErrTemplateNameTaken) {
		t.Fatalf("expected ErrTemplateNameTaken on duplicate create got %v", err)
	}

	other, err := engine.CreateTemplate(ctx, integrationTemplate("Travel Request"))
	if err != nil {
		t.Fatalf("create second template: %v", err)
	}
	renamed := other
	renamed.Name = "Expense Claim"
	if _, err := engine.UpdateTemplate(ctx, other.ID, renamed); !errors.Is(err, domain.ErrTemplateNameTaken) {
		t.Fatalf("expected ErrTemplateNameTaken on rename got %v", err)
	}
}

func TestListOverdueIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	later := time.Now().UTC().Add(48 * time.Hour)
	engine := integrationEngine(pool, func() time.Time { return later })
	tmpl, err := engine.CreateTemplate(ctx, integrationTemplate("Capital Expenditure"))
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	starter := integrationEngine(pool, nil)
	inst, err := starter.StartWorkflow(ctx, workflow.StartParams{TemplateID: tmpl.ID, EntityID: "CAPEX-1"})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	repo := NewInstanceRepository(pool, nil)
	overdue, err := repo.ListOverdue(ctx, later, 10)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].InstanceID != inst.ID || overdue[0].StepIndex != 0 {
		t.Fatalf("expected first step overdue got %+v", overdue)
	}

	flagged, err := engine.MarkOverdue(ctx, inst.ID, 0)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if !flagged {
		t.Fatal("expected step to be flagged overdue")
	}

	overdue, err = repo.ListOverdue(ctx, later, 10)
	if err != nil {
		t.Fatalf("list overdue after mark: %v", err)
	}
	if len(overdue) != 0 {
		t.Fatalf("expected no overdue steps after mark got %+v", overdue)
	}
}

func integrationEngine(pool *pgxpool.Pool, now func() time.Time) *workflow.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return workflow.NewEngine(workflow.Deps{
		Templates: NewTemplateRepository(pool, logger),
		Instances: NewInstanceRepository(pool, logger),
		Events:    NewEventRepository(pool, logger),
		Logger:    logger,
		Now:       now,
	})
}

func integrationTemplate(name string) domain.WorkflowTemplate {
	return domain.WorkflowTemplate{
		Name:     name,
		Category: "procurement",
		Active:   true,
		Steps: []domain.StepBlueprint{
			{Key: "manager-review", Name: "Manager Review", Assignee: "manager", DueInHours: 24},
			{Key: "finance-review", Name: "Finance Review", Assignee: "finance", DueInHours: 48},
			{Key: "final-approval", Name: "Final Approval", Assignee: "director"},
		},
	}
}

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	if err := postgres.EnsureSchema(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}

	return pool
}

func truncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			events,
			workflow_instance_steps,
			workflow_instances,
			workflow_template_steps,
			workflow_templates
		RESTART IDENTITY CASCADE
	`)
	return err
}
