package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/notifications"
	"github.com/MATXBY/m4brew/internal/preflight"
	"github.com/MATXBY/m4brew/internal/services"
)

// Runner executes one batch. batch.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req batch.Request) batch.Summary
}

// HistoryStore records job starts and outcomes. history.Store satisfies it.
type HistoryStore interface {
	Begin(ctx context.Context, rec history.Record) error
	Finish(ctx context.Context, id, status string, exitCode int, summary batch.Summary, finishedAt time.Time) error
}

// Options wires a Supervisor.
type Options struct {
	Config *config.Config
	// NewRunner builds the runner for one job around its job-scoped logger.
	NewRunner func(logger *slog.Logger) Runner
	History   HistoryStore
	Notifier  notifications.Service
	Logger    *slog.Logger
}

type jobState struct {
	snap    Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
	partial batch.Summary
	log     *logging.JobLog
}

// Supervisor owns the job slot. It is safe for concurrent use.
type Supervisor struct {
	cfg       *config.Config
	newRunner func(*slog.Logger) Runner
	history   HistoryStore
	notifier  notifications.Service
	logger    *slog.Logger
	lock      *flock.Flock
	busy      atomic.Bool

	libMu sync.RWMutex
	lib   config.Library

	mu      sync.RWMutex
	current *jobState

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int

	now func() time.Time
}

// New constructs a supervisor. The lock file lives at cfg.Paths.LockPath.
func New(opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "config is required", nil)
	}
	if opts.NewRunner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "runner factory is required", nil)
	}
	if opts.Config.Paths.LockPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "lock path is required", nil)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(opts.Config)
	}
	return &Supervisor{
		cfg:       opts.Config,
		newRunner: opts.NewRunner,
		history:   opts.History,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(opts.Logger, "job"),
		lock:      flock.New(opts.Config.Paths.LockPath),
		lib:       opts.Config.Library,
		subs:      make(map[int]chan Update),
		now:       time.Now,
	}, nil
}

// Start validates req and launches the batch in the background. A rejected
// request returns a *StartError and leaves the previous job untouched.
func (s *Supervisor) Start(req StartRequest) (Snapshot, error) {
	lib := s.Library()
	plan, err := Resolve(req, lib)
	if err != nil {
		return s.Snapshot(), err
	}
	if !s.busy.CompareAndSwap(false, true) {
		return s.Snapshot(), &StartError{Code: CodeAlreadyRunning, Detail: "a job is already running"}
	}

	if err := preflight.CheckRoot(preflight.RootCheck{
		Root:              plan.Root,
		AllowedMounts:     lib.AllowedMounts,
		RequireMountpoint: lib.RequireMountpoint,
		NeedWrite:         !plan.DryRun,
	}); err != nil {
		s.busy.Store(false)
		var failure *preflight.Failure
		if errors.As(err, &failure) {
			s.logger.Warn("job rejected by preflight",
				logging.String("code", failure.Code),
				logging.String("detail", failure.Detail),
				logging.String(logging.FieldEventType, "start_rejected"),
				logging.String(logging.FieldErrorHint, "fix the root folder setting or mount the share"),
			)
			return s.Snapshot(), &StartError{Code: failure.Code, Detail: failure.Detail}
		}
		return s.Snapshot(), &StartError{Code: preflight.CodeFolderMissing, Detail: err.Error()}
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		s.busy.Store(false)
		return s.Snapshot(), &StartError{Code: CodeLockError, Detail: err.Error()}
	}
	if !locked {
		s.busy.Store(false)
		return s.Snapshot(), &StartError{Code: CodeAlreadyRunning, Detail: "another m4brew process holds " + s.lock.Path()}
	}

	id := uuid.NewString()
	started := s.now()
	jobLog, err := logging.OpenJobLog(s.cfg.Paths.LogDir, id)
	if err != nil {
		s.logger.Warn("job log unavailable; continuing without it",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_log_unavailable"),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
		)
		jobLog = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = services.WithJobID(ctx, id)
	st := &jobState{
		snap: Snapshot{
			ID:         id,
			Status:     StatusRunning,
			Mode:       string(plan.Mode),
			DryRun:     plan.DryRun,
			Started:    &started,
			RootFolder: plan.Root,
			Settings:   Settings{AudioMode: plan.AudioMode, Bitrate: plan.BitrateKbps},
			LogPath:    jobLog.Path(),
		},
		cancel:  cancel,
		done:    make(chan struct{}),
		partial: batch.Summary{Mode: plan.Mode, DryRun: plan.DryRun},
		log:     jobLog,
	}

	s.mu.Lock()
	s.current = st
	snap := st.snapshotLocked(started)
	s.mu.Unlock()

	logger := logging.WithJobID(logging.TeeLogger(s.logger, jobLog.Handler(s.cfg.Logging.Level)), id)
	logger.Info("job started",
		logging.String(logging.FieldMode, string(plan.Mode)),
		logging.Bool("dry_run", plan.DryRun),
		logging.String("root", plan.Root),
	)
	if s.history != nil {
		if err := s.history.Begin(context.Background(), history.Record{
			ID:          id,
			Mode:        string(plan.Mode),
			DryRun:      plan.DryRun,
			RootFolder:  plan.Root,
			AudioMode:   plan.AudioMode,
			BitrateKbps: plan.BitrateKbps,
			StartedAt:   started,
		}); err != nil {
			logger.Warn("history record failed", logging.Error(err), logging.String(logging.FieldEventType, "history_failed"))
		}
	}
	s.broadcast(Update{Snapshot: snap})

	breq := batch.Request{
		Mode:        plan.Mode,
		DryRun:      plan.DryRun,
		Root:        plan.Root,
		AudioMode:   plan.AudioMode,
		BitrateKbps: plan.BitrateKbps,
	}
	if jobLog != nil {
		breq.Transcript = jobLog
	}
	go s.run(ctx, st, breq, logger)
	return snap, nil
}

func (s *Supervisor) run(ctx context.Context, st *jobState, breq batch.Request, logger *slog.Logger) {
	events := make(chan batch.Event, 32)
	breq.Events = events
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range events {
			s.apply(st, ev)
		}
	}()

	summary, crashed := s.execute(ctx, breq, logger)
	close(events)
	<-consumed
	s.finish(st, summary, crashed, logger)
}

func (s *Supervisor) execute(ctx context.Context, breq batch.Request, logger *slog.Logger) (summary batch.Summary, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			logging.ErrorWithContext(logger, "batch worker crashed", batch.ReasonWorkerCrashed,
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	return s.newRunner(logger).Run(ctx, breq), false
}

func (s *Supervisor) apply(st *jobState, ev batch.Event) {
	s.mu.Lock()
	if ev.Total > 0 {
		st.snap.Total = ev.Total
	}
	switch ev.Type {
	case batch.EventBookStarted:
		st.snap.Current = ev.Index
		st.snap.CurrentPath = ev.Book
		st.snap.Stage = ""
	case batch.EventStage:
		st.snap.Stage = ev.Stage
	case batch.EventBookFinished:
		st.snap.Stage = ""
		tally(&st.partial, ev)
	}
	snap := st.snapshotLocked(s.now())
	s.mu.Unlock()
	s.broadcast(Update{Event: &ev, Snapshot: snap})
}

func tally(sum *batch.Summary, ev batch.Event) {
	switch ev.Outcome {
	case "created":
		sum.Created++
	case "renamed":
		sum.Renamed++
	case "deleted":
		sum.Deleted++
	case "skipped":
		sum.Skipped++
		switch ev.Code {
		case batch.CodeNoM4B:
			sum.SkippedNone++
		case batch.CodeMultipleM4B:
			sum.SkippedMultiple++
		}
	case "failed":
		sum.Failed++
		sum.FailedBooks = append(sum.FailedBooks, ev.Book)
	}
	if ev.Code != "" {
		sum.Warnings = append(sum.Warnings, batch.Warning{Code: ev.Code, Book: ev.Book})
	}
}

// finish publishes the outcome. The job slot and the lock stay held until
// history, notification and subscribers have seen it, so Wait and the next
// Start never overlap a finalising job.
func (s *Supervisor) finish(st *jobState, summary batch.Summary, crashed bool, logger *slog.Logger) {
	st.cancel()
	finished := s.now()

	s.mu.RLock()
	started := *st.snap.Started
	cancelRequested := st.snap.CancelRequested
	partial := st.partial
	s.mu.RUnlock()

	if crashed {
		summary = batch.FailureSummary(partial, batch.ReasonWorkerCrashed, finished.Sub(started))
		if st.log != nil {
			if line, err := summary.MarshalLine(); err == nil {
				_, _ = fmt.Fprintf(st.log, "%s\n", line)
			}
		}
	}

	status := StatusFinished
	exitCode := ExitSuccess
	switch {
	case summary.Reason == batch.ReasonCanceled || (cancelRequested && !summary.Success):
		status = StatusCanceled
		exitCode = ExitCanceled
	case !summary.Success:
		exitCode = ExitFailure
	}

	s.mu.Lock()
	st.snap.Status = status
	st.snap.Summary = &summary
	st.snap.ExitCode = &exitCode
	st.snap.Finished = &finished
	st.snap.Stage = ""
	snap := st.snapshotLocked(finished)
	s.mu.Unlock()

	logger.Info("job finished",
		logging.String("status", string(status)),
		logging.Int("exit_code", exitCode),
		logging.Float64("runtime_s", summary.RuntimeSeconds),
	)
	if err := st.log.Close(); err != nil {
		s.logger.Warn("close job log failed", logging.Error(err))
	}

	if s.history != nil {
		if err := s.history.Finish(context.Background(), snap.ID, string(status), exitCode, summary, finished); err != nil {
			s.logger.Warn("history update failed", logging.Error(err), logging.String(logging.FieldEventType, "history_failed"))
		}
	}
	s.notify(snap, summary, crashed)
	s.broadcast(Update{Snapshot: snap})

	if err := s.lock.Unlock(); err != nil {
		logger.Warn("release job lock failed", logging.Error(err), logging.String(logging.FieldEventType, "lock_release_failed"))
	}
	s.busy.Store(false)
	close(st.done)
}

func (s *Supervisor) notify(snap Snapshot, summary batch.Summary, crashed bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotificationTimeout()+time.Second)
	defer cancel()
	if crashed {
		if err := s.notifier.NotifyError(ctx, errors.New("batch worker crashed"), "job "+snap.ID); err != nil {
			s.logger.Debug("notification failed", logging.Error(err))
		}
		return
	}
	report := notifications.JobReport{
		ID:       snap.ID,
		Status:   string(snap.Status),
		Canceled: snap.Status == StatusCanceled,
		Summary:  summary,
	}
	if err := s.notifier.NotifyJobFinished(ctx, report); err != nil {
		s.logger.Debug("notification failed", logging.Error(err))
	}
}

// Library returns the saved settings new jobs default to.
func (s *Supervisor) Library() config.Library {
	s.libMu.RLock()
	defer s.libMu.RUnlock()
	return s.lib
}

// UpdateLibrary applies a settings update for future jobs and returns the
// result plus the rejected field names. A running job keeps its settings.
func (s *Supervisor) UpdateLibrary(update config.SettingsUpdate) (config.Library, []string) {
	s.libMu.Lock()
	defer s.libMu.Unlock()
	next, rejected := s.lib.ApplySettings(update)
	s.lib = next
	return next, rejected
}

// Snapshot returns a consistent copy of the job slot.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Snapshot{Status: StatusNone}
	}
	return s.current.snapshotLocked(s.now())
}

func (st *jobState) snapshotLocked(now time.Time) Snapshot {
	snap := st.snap
	if snap.Started != nil && snap.Status.Active() {
		snap.RuntimeSeconds = float64(now.Sub(*snap.Started).Round(10*time.Millisecond)) / float64(time.Second)
	} else if snap.Summary != nil {
		snap.RuntimeSeconds = snap.Summary.RuntimeSeconds
	}
	return snap
}

// Cancel requests cancellation of a running job. It reports false, and
// changes nothing, unless the job is running.
func (s *Supervisor) Cancel() (Snapshot, bool) {
	s.mu.Lock()
	st := s.current
	if st == nil || st.snap.Status != StatusRunning {
		snap := Snapshot{Status: StatusNone}
		if st != nil {
			snap = st.snapshotLocked(s.now())
		}
		s.mu.Unlock()
		return snap, false
	}
	st.snap.Status = StatusCanceling
	st.snap.CancelRequested = true
	snap := st.snapshotLocked(s.now())
	cancel := st.cancel
	s.mu.Unlock()

	cancel()
	s.logger.Info("job cancel requested", logging.String(logging.FieldJobID, snap.ID))
	s.broadcast(Update{Snapshot: snap})
	return snap, true
}

// Wait blocks until the current job (if any) has fully finalised.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.RLock()
	st := s.current
	s.mu.RUnlock()
	if st == nil {
		return nil
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels a running job and waits for it to finalise.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Cancel()
	return s.Wait(ctx)
}

// Subscribe registers for updates. Slow subscribers miss updates rather than
// stall the job. The returned func unsubscribes.
func (s *Supervisor) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Supervisor) broadcast(update Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// LogPath returns the job log location for id.
func (s *Supervisor) LogPath(id string) string {
	return logging.JobLogPath(s.cfg.Paths.LogDir, id)
}
