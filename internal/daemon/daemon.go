package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/preflight"
)

// HistoryReader lists recorded runs. history.Store satisfies it.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
	Get(ctx context.Context, id string) (history.Record, error)
}

// Options wires a Daemon.
type Options struct {
	Config *config.Config
	// ConfigPath is where settings updates are saved; empty disables saving.
	ConfigPath string
	Supervisor *job.Supervisor
	History    HistoryReader
	LogHub     *logging.StreamHub
	LogArchive *logging.EventArchive
	Logger     *slog.Logger
}

// Daemon serves the API for one supervisor.
type Daemon struct {
	cfg        *config.Config
	configPath string
	sup        *job.Supervisor
	history    HistoryReader
	hub        *logging.StreamHub
	archive    *logging.EventArchive
	logger     *slog.Logger
	startedAt  time.Time

	saveMu  sync.Mutex
	api     *apiServer
	running atomic.Bool
}

// New constructs a daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Supervisor == nil {
		return nil, errors.New("daemon requires config and supervisor")
	}
	d := &Daemon{
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		sup:        opts.Supervisor,
		history:    opts.History,
		hub:        opts.LogHub,
		archive:    opts.LogArchive,
		logger:     logging.NewComponentLogger(opts.Logger, "daemon"),
		startedAt:  time.Now(),
	}
	d.api = newAPIServer(d, opts.Logger)
	return d, nil
}

// Start begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	if err := d.api.start(ctx, d.cfg.Paths.APIBind); err != nil {
		d.running.Store(false)
		return err
	}
	d.logger.Info("m4brew daemon started",
		logging.String("address", d.Addr()),
		logging.String("lock", d.cfg.Paths.LockPath),
	)
	return nil
}

// Stop cancels any running job, waits for it to finalise, and stops serving.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	if err := d.sup.Shutdown(ctx); err != nil {
		d.logger.Warn("job did not finish before shutdown deadline",
			logging.Error(err),
			logging.String(logging.FieldEventType, "shutdown_job_timeout"),
			logging.String(logging.FieldImpact, "the run will be recorded as interrupted on next start"),
		)
	}
	d.api.stop()
	d.logger.Info("m4brew daemon stopped")
}

// Addr returns the bound API address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns daemon, job and dependency state.
func (d *Daemon) Status() api.DaemonStatus {
	lib := d.sup.Library()
	checkCfg := *d.cfg
	checkCfg.Library = lib
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		LockPath:     d.cfg.Paths.LockPath,
		HistoryPath:  d.cfg.Paths.HistoryDB,
		LogDir:       d.cfg.Paths.LogDir,
		Job:          d.sup.Snapshot(),
		Settings:     api.FromLibrary(lib),
		Dependencies: preflight.CheckSystemDeps(&checkCfg),
		Checks:       preflight.RunAll(&checkCfg),
	}
}

// Settings returns the saved run defaults.
func (d *Daemon) Settings() api.SettingsResponse {
	return api.SettingsResponse{Settings: api.FromLibrary(d.sup.Library()), Saved: true}
}

// UpdateSettings applies update for future jobs and saves the config file.
func (d *Daemon) UpdateSettings(update config.SettingsUpdate) (api.SettingsResponse, error) {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	lib, rejected := d.sup.UpdateLibrary(update)
	resp := api.SettingsResponse{Settings: api.FromLibrary(lib), Rejected: rejected}
	if d.configPath == "" {
		return resp, nil
	}
	next := *d.cfg
	next.Library = lib
	if err := config.Save(d.configPath, &next); err != nil {
		return resp, fmt.Errorf("save settings: %w", err)
	}
	resp.Saved = true
	d.logger.Info("settings updated",
		logging.String("root_folder", lib.RootFolder),
		logging.String("audio_mode", lib.AudioMode),
		logging.Int("bitrate_kbps", lib.BitrateKbps),
		logging.Any("rejected", rejected),
	)
	return resp, nil
}
