// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, instanceID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id=$1)`,
		instanceID,
	).Scan(&exists); err != nil {
		r.logger.Error("check instance for events failed", "instance_id", instanceID, "error", err)
		return nil, err
	}
	if !exists {
		return nil, domain.ErrInstanceNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, instance_id, type, step_index, actor, payload, created_at
		FROM events
		WHERE instance_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		instanceID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"instance_id", instanceID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.InstanceID,
			&ev.Type,
			&ev.StepIndex,
			&ev.Actor,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"instance_id", instanceID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"instance_id", instanceID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, instanceID uuid.UUID, eventID uuid.UUID) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT seq
		FROM events
		WHERE id=$1
		  AND instance_id=$2
	`,
		eventID,
		instanceID,
	).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrEventNotFound
		}
		r.logger.Error("resolve event cursor failed",
			"instance_id", instanceID,
			"event_id", eventID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}

// insertEvents appends events inside the caller's transaction; seq is
// assigned by the database.
func insertEvents(ctx context.Context, q querier, events []domain.EventRecord) error {
	for _, ev := range events {
		var payload any
		if len(ev.Payload) > 0 {
			payload = []byte(ev.Payload)
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO events (id, instance_id, type, step_index, actor, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			ev.ID,
			ev.InstanceID,
			ev.Type,
			ev.StepIndex,
			ev.Actor,
			payload,
			ev.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}
