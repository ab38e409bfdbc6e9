package daemonrun

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/notifications"
)

// NewSupervisor wires a job supervisor over the real external tools. The
// daemon and the foreground run command share it.
func NewSupervisor(cfg *config.Config, store *history.Store, logger *slog.Logger) (*job.Supervisor, error) {
	tools := batch.ToolsFromConfig(cfg)
	defaults := batch.OptionsFromConfig(cfg)
	opts := job.Options{
		Config: cfg,
		NewRunner: func(jobLogger *slog.Logger) job.Runner {
			return batch.NewRunner(tools, defaults, jobLogger)
		},
		Notifier: notifications.NewService(cfg),
		Logger:   logger,
	}
	if store != nil {
		opts.History = store
	}
	return job.New(opts)
}

// RecoverInterrupted marks history rows left running by a dead process. It
// only does so while the job lock is free, so a live job in another process
// is never touched.
func RecoverInterrupted(ctx context.Context, cfg *config.Config, store *history.Store, logger *slog.Logger) {
	if store == nil {
		return
	}
	lock := flock.New(cfg.Paths.LockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return
	}
	defer func() { _ = lock.Unlock() }()

	n, err := store.MarkInterrupted(ctx, time.Now())
	if err != nil {
		logger.Warn("mark interrupted runs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "history_recover_failed"),
		)
		return
	}
	if n > 0 {
		logger.Warn("previous runs ended without finishing",
			logging.Int64("count", n),
			logging.String(logging.FieldEventType, "runs_interrupted"),
			logging.String(logging.FieldImpact, "books being converted at the time were left untouched or half-converted into a temp file"),
			logging.String(logging.FieldErrorHint, "run convert again; stale temp files are cleaned up automatically"),
		)
	}
}
