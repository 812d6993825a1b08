// Package reminder delivers due-task reminders and sweeps stale assistant state.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/store"
)

const (
	defaultInterval  = 30 * time.Second
	defaultRetention = 7 * 24 * time.Hour
	defaultIdleTTL   = 24 * time.Hour
	dueBatchSize     = 100
)

// NotifyFunc delivers a reminder for a task that just became due.
type NotifyFunc func(task domain.Task)

// IdlePruner drops in-memory conversation state unused since a cutoff.
type IdlePruner interface {
	PruneIdle(before time.Time) int
}

// Config controls the worker cadence and retention windows.
type Config struct {
	Interval          time.Duration
	NotifiedRetention time.Duration
	PendingTaskMaxAge time.Duration
}

// Worker periodically claims due tasks and removes expired rows.
type Worker struct {
	repo        store.ReminderStore
	notify      NotifyFunc
	cfg         Config
	history     IdlePruner
	historyIdle time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithHistoryPruner makes each sweep drop cached conversations idle for
// longer than idleTTL.
func WithHistoryPruner(p IdlePruner, idleTTL time.Duration) Option {
	return func(w *Worker) {
		if idleTTL <= 0 {
			idleTTL = defaultIdleTTL
		}
		w.history = p
		w.historyIdle = idleTTL
	}
}

// NewWorker creates a worker. notify may be nil, in which case due tasks
// are only marked.
func NewWorker(repo store.ReminderStore, cfg Config, notify NotifyFunc, logger *slog.Logger, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.NotifiedRetention <= 0 {
		cfg.NotifiedRetention = defaultRetention
	}
	if cfg.PendingTaskMaxAge <= 0 {
		cfg.PendingTaskMaxAge = defaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		repo:   repo,
		notify: notify,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the worker in a goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		w.logger.Info("Reminder worker started", "interval", w.cfg.Interval)

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-ctx.Done():
				w.logger.Info("Reminder worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass and returns how many reminders were delivered.
func (w *Worker) Sweep(ctx context.Context) int {
	now := w.now()
	delivered := w.deliverDue(ctx, now)
	w.cleanup(ctx, now)
	return delivered
}

func (w *Worker) deliverDue(ctx context.Context, now time.Time) int {
	tasks, err := w.repo.ListDueTasks(ctx, now, dueBatchSize)
	if err != nil {
		w.logger.Error("Reminder worker failed to list due tasks", "error", err)
		return 0
	}

	delivered := 0
	for _, task := range tasks {
		claimed, err := w.repo.MarkTaskNotified(ctx, task.ID)
		if err != nil {
			w.logger.Warn("Reminder worker failed to claim task", "task_id", task.ID, "user_id", task.UserID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		task.Notified = true
		if w.notify != nil {
			w.notify(task)
		}
		delivered++
		w.logger.Info("Reminder delivered", "task_id", task.ID, "user_id", task.UserID)
	}
	return delivered
}

func (w *Worker) cleanup(ctx context.Context, now time.Time) {
	steps := []struct {
		op string
		fn func(context.Context) (int64, error)
	}{
		{"delete notified tasks", func(ctx context.Context) (int64, error) {
			return w.repo.DeleteNotifiedTasks(ctx, now.Add(-w.cfg.NotifiedRetention))
		}},
		{"cleanup stale pending tasks", func(ctx context.Context) (int64, error) {
			return w.repo.CleanupStalePendingTasks(ctx, now.Add(-w.cfg.PendingTaskMaxAge))
		}},
		{"cleanup expired greetings", func(ctx context.Context) (int64, error) {
			return w.repo.CleanupExpiredGreetings(ctx, now)
		}},
	}

	for _, step := range steps {
		removed, err := step.fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("Reminder worker canceled during cleanup", "op", step.op, "error", err)
				return
			}
			w.logger.Warn("Reminder worker cleanup failed", "op", step.op, "error", err)
			continue
		}
		if removed > 0 {
			w.logger.Info("Reminder worker cleaned up rows", "op", step.op, "count", removed)
		}
	}

	if w.history != nil {
		if n := w.history.PruneIdle(now.Add(-w.historyIdle)); n > 0 {
			w.logger.Info("Reminder worker pruned idle conversations", "count", n)
		}
	}
}
