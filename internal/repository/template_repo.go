// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TemplateRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTemplateRepository(pool *pgxpool.Pool, logger *slog.Logger) *TemplateRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TemplateRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *TemplateRepository) CreateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_templates
			(id, name, description, category, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		tmpl.ID,
		tmpl.Name,
		tmpl.Description,
		tmpl.Category,
		tmpl.Active,
		tmpl.Version,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	)
	if err != nil {
		err = translateTemplateWriteErr(err)
		if errors.Is(err, domain.ErrTemplateNameTaken) {
			r.logger.Warn("template name taken", "template_id", tmpl.ID, "name", tmpl.Name)
			return err
		}
		r.logger.Error("insert template failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	if err := insertTemplateSteps(ctx, tx, tmpl); err != nil {
		r.logger.Error("insert template steps failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit template failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	return nil
}

// UpdateTemplate rewrites the template row and replaces its steps.
func (r *TemplateRepository) UpdateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		UPDATE workflow_templates
		SET name=$2,
		    description=$3,
		    category=$4,
		    active=$5,
		    version=$6,
		    updated_at=$7
		WHERE id=$1
	`,
		tmpl.ID,
		tmpl.Name,
		tmpl.Description,
		tmpl.Category,
		tmpl.Active,
		tmpl.Version,
		tmpl.UpdatedAt,
	)
	if err != nil {
		err = translateTemplateWriteErr(err)
		if errors.Is(err, domain.ErrTemplateNameTaken) {
			r.logger.Warn("template name taken", "template_id", tmpl.ID, "name", tmpl.Name)
			return err
		}
		r.logger.Error("update template failed", "template_id", tmpl.ID, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_template_steps WHERE template_id=$1`, tmpl.ID); err != nil {
		r.logger.Error("delete template steps failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	if err := insertTemplateSteps(ctx, tx, tmpl); err != nil {
		r.logger.Error("insert template steps failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit template update failed", "template_id", tmpl.ID, "error", err)
		return err
	}

	return nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (domain.WorkflowTemplate, error) {
	var tmpl domain.WorkflowTemplate

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, category, active, version, created_at, updated_at
		FROM workflow_templates
		WHERE id=$1
	`, id).Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Description,
		&tmpl.Category,
		&tmpl.Active,
		&tmpl.Version,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowTemplate{}, domain.ErrTemplateNotFound
		}
		r.logger.Error("get template failed", "template_id", id, "error", err)
		return domain.WorkflowTemplate{}, err
	}

	steps, err := r.loadSteps(ctx, []uuid.UUID{id})
	if err != nil {
		return domain.WorkflowTemplate{}, err
	}
	tmpl.Steps = steps[id]

	return tmpl, nil
}

func (r *TemplateRepository) FindTemplateByName(ctx context.Context, name string) (domain.WorkflowTemplate, error) {
	var id uuid.UUID

	err := r.pool.QueryRow(ctx,
		`SELECT id FROM workflow_templates WHERE LOWER(name)=LOWER($1)`,
		name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowTemplate{}, domain.ErrTemplateNotFound
		}
		r.logger.Error("find template by name failed", "name", name, "error", err)
		return domain.WorkflowTemplate{}, err
	}

	return r.GetTemplate(ctx, id)
}

func (r *TemplateRepository) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.WorkflowTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, category, active, version, created_at, updated_at
		FROM workflow_templates
		WHERE ($1 = FALSE OR active)
		ORDER BY name ASC, id ASC
	`, activeOnly)
	if err != nil {
		r.logger.Error("list templates query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowTemplate, 0, 8)
	ids := make([]uuid.UUID, 0, 8)
	for rows.Next() {
		var tmpl domain.WorkflowTemplate
		if err := rows.Scan(
			&tmpl.ID,
			&tmpl.Name,
			&tmpl.Description,
			&tmpl.Category,
			&tmpl.Active,
			&tmpl.Version,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		); err != nil {
			r.logger.Error("scan template row failed", "error", err)
			return nil, err
		}
		out = append(out, tmpl)
		ids = append(ids, tmpl.ID)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("templates rows iteration failed", "error", err)
		return nil, err
	}

	steps, err := r.loadSteps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Steps = steps[out[i].ID]
	}

	return out, nil
}

func (r *TemplateRepository) loadSteps(ctx context.Context, templateIDs []uuid.UUID) (map[uuid.UUID][]domain.StepBlueprint, error) {
	out := make(map[uuid.UUID][]domain.StepBlueprint, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT template_id, id, step_key, name, description, assignee,
		       due_in_hours, required_fields, conditions
		FROM workflow_template_steps
		WHERE template_id = ANY($1)
		ORDER BY template_id, position ASC
	`, templateIDs)
	if err != nil {
		r.logger.Error("list template steps query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			templateID uuid.UUID
			bp         domain.StepBlueprint
			rawConds   []byte
		)
		if err := rows.Scan(
			&templateID,
			&bp.ID,
			&bp.Key,
			&bp.Name,
			&bp.Description,
			&bp.Assignee,
			&bp.DueInHours,
			&bp.RequiredFields,
			&rawConds,
		); err != nil {
			r.logger.Error("scan template step row failed", "error", err)
			return nil, err
		}
		if bp.Conditions, err = decodeConditions(rawConds); err != nil {
			return nil, fmt.Errorf("decode conditions for step %s: %w", bp.ID, err)
		}
		if len(bp.RequiredFields) == 0 {
			bp.RequiredFields = nil
		}
		out[templateID] = append(out[templateID], bp)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("template steps rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func insertTemplateSteps(ctx context.Context, q querier, tmpl domain.WorkflowTemplate) error {
	for pos, bp := range tmpl.Steps {
		conds, err := conditionsJSON(bp.Conditions)
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO workflow_template_steps
				(id, template_id, position, step_key, name, description,
				 assignee, due_in_hours, required_fields, conditions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			bp.ID,
			tmpl.ID,
			pos,
			bp.Key,
			bp.Name,
			bp.Description,
			bp.Assignee,
			bp.DueInHours,
			textArray(bp.RequiredFields),
			conds,
		); err != nil {
			return fmt.Errorf("insert step %q: %w", bp.Key, err)
		}
	}
	return nil
}
