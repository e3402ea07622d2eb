package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stratumbio/teskit/internal/model"
	"github.com/stratumbio/teskit/internal/store"
)

// Reconciler defaults.
const (
	defaultReconcileInterval = 30 * time.Second
	defaultPollConcurrency   = 8
)

// Reconciler periodically polls the backend for every live task and folds
// state changes back into the store. One task's poll failure never blocks
// the rest of the sweep.
type Reconciler struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
	limit    int
}

// NewReconciler creates a reconciler sweeping at the given interval
// (defaulted when non-positive).
func NewReconciler(e *Engine, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Reconciler{
		engine:   e,
		logger:   logger,
		interval: interval,
		limit:    defaultPollConcurrency,
	}
}

// Run sweeps until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep polls every live task once. Poll failures are logged and counted;
// the affected task keeps its stored state until a later sweep succeeds.
func (r *Reconciler) sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
	}()

	tasks, err := r.engine.store.ListActiveTasks(ctx)
	if err != nil {
		r.logger.Error("reconcile: listing active tasks failed", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			r.reconcileTask(ctx, task)
			return nil
		})
	}
	g.Wait()
}

// reconcileTask polls one task and persists its state on change.
func (r *Reconciler) reconcileTask(ctx context.Context, task *model.Task) {
	if task.BackendRef == "" {
		// Submission never reached the backend; nothing to poll.
		return
	}

	state, err := r.engine.refreshState(ctx, task)
	if err != nil {
		reconcilePollFailures.Inc()
		r.logger.Warn("reconcile: poll failed", "task_id", task.ID, "error", err)
		return
	}
	if state == task.State {
		return
	}

	if err := r.engine.store.UpdateTaskState(ctx, task.ID, state); err != nil {
		if err == store.ErrNotFound {
			return
		}
		r.logger.Error("reconcile: state update failed", "task_id", task.ID, "error", err)
		return
	}
	r.logger.Info("task state changed", "task_id", task.ID, "from", task.State, "to", state)
}
