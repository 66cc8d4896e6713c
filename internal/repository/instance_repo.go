// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const instanceColumns = `
	id, template_id, template_name, entity_id, entity_type, status,
	current_step, attributes, initiated_by, version, start_date, completed_date`

type InstanceRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewInstanceRepository(pool *pgxpool.Pool, logger *slog.Logger) *InstanceRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &InstanceRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateInstance writes the instance, its step copies and its initial events
// in one transaction.
func (r *InstanceRepository) CreateInstance(ctx context.Context, inst domain.WorkflowInstance, events []domain.EventRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	attrs, err := attributesJSON(inst.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_instances
			(id, template_id, template_name, entity_id, entity_type, status,
			 current_step, attributes, initiated_by, version, start_date, completed_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		inst.ID,
		inst.TemplateID,
		inst.TemplateName,
		inst.EntityID,
		inst.EntityType,
		inst.Status,
		inst.CurrentStep,
		attrs,
		inst.InitiatedBy,
		inst.Version,
		inst.StartDate,
		inst.CompletedDate,
	)
	if err != nil {
		r.logger.Error("insert instance failed", "instance_id", inst.ID, "error", err)
		return err
	}

	for pos, step := range inst.Steps {
		conds, err := conditionsJSON(step.Conditions)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_instance_steps
				(id, instance_id, position, step_key, name, description, assignee, status,
				 started_date, due_date, completed_date, overdue_notified_at,
				 comments, required_fields, conditions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			step.ID,
			inst.ID,
			pos,
			step.Key,
			step.Name,
			step.Description,
			step.Assignee,
			step.Status,
			step.StartedDate,
			step.DueDate,
			step.CompletedDate,
			step.OverdueNotified,
			textArray(step.Comments),
			textArray(step.RequiredFields),
			conds,
		); err != nil {
			r.logger.Error("insert instance step failed",
				"instance_id", inst.ID,
				"step", pos,
				"error", err,
			)
			return err
		}
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		r.logger.Error("insert start events failed", "instance_id", inst.ID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit instance failed", "instance_id", inst.ID, "error", err)
		return err
	}

	return nil
}

func (r *InstanceRepository) GetInstance(ctx context.Context, id uuid.UUID) (domain.WorkflowInstance, error) {
	inst, err := loadInstance(ctx, r.pool, id, false)
	if err != nil {
		if !errors.Is(err, domain.ErrInstanceNotFound) {
			r.logger.Error("get instance failed", "instance_id", id, "error", err)
		}
		return domain.WorkflowInstance{}, err
	}
	return inst, nil
}

func (r *InstanceRepository) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.WorkflowInstance, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.EntityID != "" {
		add("entity_id=$%d", filter.EntityID)
	}
	if filter.EntityType != "" {
		add("entity_type=$%d", filter.EntityType)
	}
	if filter.TemplateID != uuid.Nil {
		add("template_id=$%d", filter.TemplateID)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}

	query := "SELECT" + instanceColumns + " FROM workflow_instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("list instances query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowInstance, 0, 8)
	ids := make([]uuid.UUID, 0, 8)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			r.logger.Error("scan instance row failed", "error", err)
			return nil, err
		}
		out = append(out, inst)
		ids = append(ids, inst.ID)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("instances rows iteration failed", "error", err)
		return nil, err
	}

	steps, err := loadInstanceSteps(ctx, r.pool, ids)
	if err != nil {
		r.logger.Error("list instance steps failed", "error", err)
		return nil, err
	}
	for i := range out {
		out[i].Steps = steps[out[i].ID]
	}

	return out, nil
}

// MutateInstance locks the instance row, applies fn and writes back the
// instance, its steps and the returned events before committing.
func (r *InstanceRepository) MutateInstance(
	ctx context.Context,
	id uuid.UUID,
	fn func(inst *domain.WorkflowInstance) ([]domain.EventRecord, error),
) (domain.WorkflowInstance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback(ctx)

	inst, err := loadInstance(ctx, tx, id, true)
	if err != nil {
		if !errors.Is(err, domain.ErrInstanceNotFound) {
			r.logger.Error("lock instance failed", "instance_id", id, "error", err)
		}
		return domain.WorkflowInstance{}, err
	}

	events, err := fn(&inst)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}

	attrs, err := attributesJSON(inst.Attributes)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_instances
		SET status=$2,
		    current_step=$3,
		    attributes=$4,
		    version=$5,
		    completed_date=$6,
		    updated_at=NOW()
		WHERE id=$1
	`,
		inst.ID,
		inst.Status,
		inst.CurrentStep,
		attrs,
		inst.Version,
		inst.CompletedDate,
	); err != nil {
		r.logger.Error("update instance failed", "instance_id", id, "error", err)
		return domain.WorkflowInstance{}, err
	}

	for pos, step := range inst.Steps {
		if _, err := tx.Exec(ctx, `
			UPDATE workflow_instance_steps
			SET status=$3,
			    started_date=$4,
			    due_date=$5,
			    completed_date=$6,
			    overdue_notified_at=$7,
			    comments=$8
			WHERE instance_id=$1 AND position=$2
		`,
			inst.ID,
			pos,
			step.Status,
			step.StartedDate,
			step.DueDate,
			step.CompletedDate,
			step.OverdueNotified,
			textArray(step.Comments),
		); err != nil {
			r.logger.Error("update instance step failed",
				"instance_id", id,
				"step", pos,
				"error", err,
			)
			return domain.WorkflowInstance{}, err
		}
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		r.logger.Error("insert transition events failed", "instance_id", id, "error", err)
		return domain.WorkflowInstance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit instance mutation failed", "instance_id", id, "error", err)
		return domain.WorkflowInstance{}, err
	}

	return inst, nil
}

func (r *InstanceRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.OverdueStep, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.instance_id, s.position, s.due_date
		FROM workflow_instance_steps s
		JOIN workflow_instances i ON i.id = s.instance_id
		WHERE i.status = 'active'
		  AND s.position = i.current_step
		  AND s.status = 'in-progress'
		  AND s.overdue_notified_at IS NULL
		  AND s.due_date IS NOT NULL
		  AND s.due_date < $1
		ORDER BY s.due_date ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		r.logger.Error("list overdue query failed", "error", err)
		return nil, err
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OverdueStep, error) {
		var o domain.OverdueStep
		err := row.Scan(&o.InstanceID, &o.StepIndex, &o.DueDate)
		return o, err
	})
	if err != nil {
		r.logger.Error("scan overdue rows failed", "error", err)
		return nil, err
	}

	return out, nil
}

func loadInstance(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (domain.WorkflowInstance, error) {
	query := "SELECT" + instanceColumns + " FROM workflow_instances WHERE id=$1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	inst, err := scanInstance(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowInstance{}, domain.ErrInstanceNotFound
		}
		return domain.WorkflowInstance{}, err
	}

	steps, err := loadInstanceSteps(ctx, q, []uuid.UUID{id})
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	inst.Steps = steps[id]

	return inst, nil
}

func scanInstance(row pgx.Row) (domain.WorkflowInstance, error) {
	var (
		inst  domain.WorkflowInstance
		attrs []byte
	)
	if err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.TemplateName,
		&inst.EntityID,
		&inst.EntityType,
		&inst.Status,
		&inst.CurrentStep,
		&attrs,
		&inst.InitiatedBy,
		&inst.Version,
		&inst.StartDate,
		&inst.CompletedDate,
	); err != nil {
		return domain.WorkflowInstance{}, err
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &inst.Attributes); err != nil {
			return domain.WorkflowInstance{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	if len(inst.Attributes) == 0 {
		inst.Attributes = nil
	}

	return inst, nil
}

func loadInstanceSteps(ctx context.Context, q querier, instanceIDs []uuid.UUID) (map[uuid.UUID][]domain.WorkflowStep, error) {
	out := make(map[uuid.UUID][]domain.WorkflowStep, len(instanceIDs))
	if len(instanceIDs) == 0 {
		return out, nil
	}

	rows, err := q.Query(ctx, `
		SELECT instance_id, id, step_key, name, description, assignee, status,
		       started_date, due_date, completed_date, overdue_notified_at,
		       comments, required_fields, conditions
		FROM workflow_instance_steps
		WHERE instance_id = ANY($1)
		ORDER BY instance_id, position ASC
	`, instanceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			instanceID uuid.UUID
			step       domain.WorkflowStep
			rawConds   []byte
		)
		if err := rows.Scan(
			&instanceID,
			&step.ID,
			&step.Key,
			&step.Name,
			&step.Description,
			&step.Assignee,
			&step.Status,
			&step.StartedDate,
			&step.DueDate,
			&step.CompletedDate,
			&step.OverdueNotified,
			&step.Comments,
			&step.RequiredFields,
			&rawConds,
		); err != nil {
			return nil, err
		}
		if step.Conditions, err = decodeConditions(rawConds); err != nil {
			return nil, fmt.Errorf("decode conditions for step %s: %w", step.ID, err)
		}
		if len(step.RequiredFields) == 0 {
			step.RequiredFields = nil
		}
		out[instanceID] = append(out[instanceID], step)
	}

	return out, rows.Err()
}
