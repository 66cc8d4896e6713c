// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	uniqueViolation        = "23505"
	templateNameConstraint = "workflow_templates_name_idx"
)

// translateTemplateWriteErr maps a unique violation on the template name
// index to domain.ErrTemplateNameTaken.
func translateTemplateWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == templateNameConstraint {
		return fmt.Errorf("%w: %s", domain.ErrTemplateNameTaken, pgErr.Detail)
	}
	return err
}

func conditionsJSON(conds []domain.Condition) ([]byte, error) {
	if len(conds) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(conds)
}

func decodeConditions(raw []byte) ([]domain.Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var conds []domain.Condition
	if err := json.Unmarshal(raw, &conds); err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return conds, nil
}

func attributesJSON(attrs map[string]string) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(attrs)
}

func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
