package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/daemonrun"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
)

type runFlags struct {
	dryRun    bool
	root      string
	audioMode string
	bitrate   int
	json      bool
	verbose   bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:       "run <convert|correct|cleanup>",
		Short:     "Run a batch in the foreground",
		Long:      "Run a batch in this process. It takes the same job lock as the daemon, so only one batch runs at a time. Dry run is on unless --dry-run=false is given.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"convert", "correct", "cleanup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			logger, err := foregroundLogger(cfg, stderr, flags.verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				logger.Warn("history unavailable; run will not be recorded", logging.Error(err))
				store = nil
			} else {
				defer store.Close()
			}
			daemonrun.RecoverInterrupted(cmd.Context(), cfg, store, logger)

			sup, err := daemonrun.NewSupervisor(cfg, store, logger)
			if err != nil {
				return err
			}

			interactive := !flags.verbose && !flags.json
			if file, ok := stderr.(*os.File); !ok || !isTerminal(file) {
				interactive = false
			}
			view := newProgressView(stderr, interactive)

			signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := runForeground(signalCtx, sup, flags.request(args[0]), view)
			if err != nil {
				var startErr *job.StartError
				if errors.As(err, &startErr) {
					return fmt.Errorf("job not started (%s): %s", startErr.Code, startErr.Detail)
				}
				return err
			}

			stdout := cmd.OutOrStdout()
			if flags.json {
				if err := writeJSON(cmd, snap); err != nil {
					return err
				}
			} else if snap.Summary != nil {
				renderSummary(stdout, *snap.Summary, shouldColorize(stdout))
				if snap.LogPath != "" {
					fmt.Fprintf(stdout, "Full log: %s\n", snap.LogPath)
				}
			}
			if snap.ExitCode != nil && *snap.ExitCode != job.ExitSuccess {
				return &exitError{code: *snap.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", true, "Log what would change without touching the library")
	cmd.Flags().StringVar(&flags.root, "root", "", "Library root (defaults to the saved root_folder)")
	cmd.Flags().StringVar(&flags.audioMode, "audio-mode", "", "Channel policy: match, mono or stereo")
	cmd.Flags().IntVar(&flags.bitrate, "bitrate", 0, "Output bitrate in kbps")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the final job snapshot as JSON")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr instead of drawing a progress bar")
	return cmd
}

func (f runFlags) request(mode string) job.StartRequest {
	dryRun := f.dryRun
	return job.StartRequest{
		Mode:        mode,
		DryRun:      &dryRun,
		RootFolder:  f.root,
		AudioMode:   f.audioMode,
		BitrateKbps: f.bitrate,
	}
}

// runForeground starts req on sup and feeds updates to view until the job is
// terminal. Cancelling ctx asks the job to stop; the call still waits for it
// to finalise.
func runForeground(ctx context.Context, sup *job.Supervisor, req job.StartRequest, view *progressView) (job.Snapshot, error) {
	updates, unsubscribe := sup.Subscribe(256)
	defer unsubscribe()

	started, err := sup.Start(req)
	if err != nil {
		return job.Snapshot{}, err
	}

	done := make(chan struct{})
	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()

	interrupt := ctx.Done()
	for {
		select {
		case <-interrupt:
			interrupt = nil
			sup.Cancel()
		case update := <-updates:
			if update.Snapshot.ID == started.ID {
				view.handle(update)
			}
		case <-done:
			for {
				select {
				case update := <-updates:
					if update.Snapshot.ID == started.ID {
						view.handle(update)
					}
				default:
					view.finish()
					return sup.Snapshot(), nil
				}
			}
		}
	}
}

// foregroundLogger writes to m4brew.log and, when verbose, to stderr.
func foregroundLogger(cfg *config.Config, stderr io.Writer, verbose bool) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !verbose {
		return logger, nil
	}
	return logging.TeeLogger(logger, logging.NewConsoleHandler(stderr, cfg.Logging.Level)), nil
}
