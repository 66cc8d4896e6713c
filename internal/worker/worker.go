// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
)

// Sweeper is the engine surface used to find and flag overdue steps.
type Sweeper interface {
	ListOverdue(ctx context.Context, limit int) ([]domain.OverdueStep, error)
	MarkOverdue(ctx context.Context, instanceID uuid.UUID, stepIndex int) (bool, error)
}

type Deps struct {
	Engine    Sweeper
	Logger    *slog.Logger
	BatchSize int
	Interval  time.Duration
}

// Worker flags in-progress steps whose due date has passed.
type Worker struct {
	engine    Sweeper
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = 100
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &Worker{
		engine:    deps.Engine,
		logger:    l,
		batchSize: batch,
		interval:  interval,
	}
}

// ProcessOnce runs one sweep and returns how many steps were newly flagged.
// A failure on one instance does not stop the sweep; the first such error is
// returned after all candidates were tried.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	candidates, err := w.engine.ListOverdue(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("list overdue steps failed", "error", err)
		return 0, err
	}

	var (
		flagged  int
		firstErr error
	)
	for _, c := range candidates {
		ok, err := w.engine.MarkOverdue(ctx, c.InstanceID, c.StepIndex)
		if err != nil {
			// The instance moved on between listing and flagging.
			if errors.Is(err, domain.ErrStepOutOfTurn) || errors.Is(err, domain.ErrInstanceNotActive) {
				w.logger.Debug("overdue candidate no longer current",
					"instance_id", c.InstanceID,
					"step_index", c.StepIndex,
				)
				continue
			}
			w.logger.Error("mark overdue failed",
				"instance_id", c.InstanceID,
				"step_index", c.StepIndex,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			flagged++
		}
	}

	if flagged > 0 {
		w.logger.Info("overdue sweep finished",
			"candidates", len(candidates),
			"flagged", flagged,
		)
	}

	return flagged, firstErr
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("overdue sweeper started", "interval", w.interval, "batch_size", w.batchSize)

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("overdue sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("overdue sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
