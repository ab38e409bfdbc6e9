package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/logs"
)

const jobLogPollInterval = 500 * time.Millisecond

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Start, inspect and cancel jobs on the daemon",
	}
	jobCmd.AddCommand(
		newJobStartCommand(ctx),
		newJobStatusCommand(ctx),
		newJobCancelCommand(ctx),
		newJobLogCommand(ctx),
		newJobWatchCommand(ctx),
	)
	return jobCmd
}

func newJobStartCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var watch bool

	cmd := &cobra.Command{
		Use:       "start <convert|correct|cleanup>",
		Short:     "Ask the daemon to start a job",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"convert", "correct", "cleanup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				snap, err := client.StartJob(cmd.Context(), flags.request(args[0]))
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd, snap)
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Started %s job %s\n", modeTitle(snap.Mode, snap.DryRun), snap.ID)
				if !watch {
					return nil
				}
				return watchJob(cmd.Context(), client, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", true, "Log what would change without touching the library")
	cmd.Flags().StringVar(&flags.root, "root", "", "Library root (defaults to the saved root_folder)")
	cmd.Flags().StringVar(&flags.audioMode, "audio-mode", "", "Channel policy: match, mono or stereo")
	cmd.Flags().IntVar(&flags.bitrate, "bitrate", 0, "Output bitrate in kbps")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the accepted job snapshot as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job ends")
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current or last job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				snap, err := client.Job(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, snap)
				}
				stdout := cmd.OutOrStdout()
				renderJobStatus(stdout, snap, shouldColorize(stdout))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the snapshot as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.CancelJob(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Accepted {
					fmt.Fprintln(stdout, "No running job to cancel")
					return nil
				}
				fmt.Fprintf(stdout, "Cancel requested for job %s; it stops after the current book\n", resp.Job.ID)
				return nil
			})
		},
	}
}

func newJobLogCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "log [job-id]",
		Short: "Print a job's full log",
		Long:  "Print the full log of a job (the current one when no id is given). With an id, the log file is read directly when the daemon is not running.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			err = copyJobLog(cmd.Context(), client, id, follow, cmd.OutOrStdout())
			if errors.Is(err, api.ErrDaemonUnavailable) && id != "" {
				return printJobLogFile(cmd.Context(), ctx.configValue().Paths.LogDir, id, cmd.OutOrStdout())
			}
			return wrapDaemonError(err, ctx.configValue().Paths.APIBind)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing until the job ends")
	return cmd
}

func newJobWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the running job's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				return watchJob(cmd.Context(), client, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
}

// copyJobLog writes the log of job id to out, polling for more while follow
// is set and the job has not ended.
func copyJobLog(ctx context.Context, client *api.Client, id string, follow bool, out io.Writer) error {
	var offset int64
	for {
		chunk, err := client.JobLog(ctx, id, offset)
		if err != nil {
			return err
		}
		if chunk.Content != "" {
			if _, err := io.WriteString(out, chunk.Content); err != nil {
				return err
			}
		}
		id = chunk.JobID
		offset = chunk.Next
		if !follow || chunk.Done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jobLogPollInterval):
		}
	}
}

// printJobLogFile reads a job log straight from disk.
func printJobLogFile(ctx context.Context, logDir, id string, out io.Writer) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid job id %q", id)
	}
	path := logging.JobLogPath(logDir, id)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no log for job %s: %w", id, err)
	}
	result, err := logs.Tail(ctx, path, logs.TailOptions{})
	if err != nil {
		return err
	}
	for _, line := range result.Lines {
		fmt.Fprintln(out, line)
	}
	return nil
}

// watchJob streams /api/events until the job it first sees is terminal, then
// prints its summary.
func watchJob(ctx context.Context, client *api.Client, stdout, stderr io.Writer) error {
	conn, err := client.DialEvents(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	interactive := false
	if file, ok := stderr.(*os.File); ok {
		interactive = isTerminal(file)
	}
	view := newProgressView(stderr, interactive)

	var jobID string
	for {
		var update api.JobUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read progress feed: %w", err)
		}
		snap := update.Snapshot
		if snap.Status == job.StatusNone {
			fmt.Fprintln(stdout, "No job has run yet")
			return nil
		}
		if jobID == "" {
			jobID = snap.ID
		}
		if snap.ID != jobID {
			continue
		}
		view.handle(update)
		if snap.Status.Terminal() {
			view.finish()
			renderJobStatus(stdout, snap, shouldColorize(stdout))
			if snap.ExitCode != nil && *snap.ExitCode != job.ExitSuccess {
				return &exitError{code: *snap.ExitCode}
			}
			return nil
		}
	}
}

func renderJobStatus(w io.Writer, snap job.Snapshot, colorize bool) {
	printSection(w, "Job", colorize)
	if snap.Status == job.StatusNone {
		fmt.Fprintln(w, renderStatusLine("Status", statusInfo, "no job has run yet", colorize))
		return
	}
	fmt.Fprintln(w, renderStatusLine("Status", jobStatusKind(snap), string(snap.Status), colorize))
	fmt.Fprintln(w, renderStatusLine("ID", statusInfo, snap.ID, colorize))
	fmt.Fprintln(w, renderStatusLine("Mode", statusInfo, modeTitle(snap.Mode, snap.DryRun), colorize))
	fmt.Fprintln(w, renderStatusLine("Settings", statusInfo,
		fmt.Sprintf("audio %s, %d kbps", snap.Settings.AudioMode, snap.Settings.Bitrate), colorize))
	if snap.Total > 0 {
		fmt.Fprintln(w, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%d/%d", snap.Current, snap.Total), colorize))
	}
	if snap.Status.Active() && snap.CurrentPath != "" {
		fmt.Fprintln(w, renderStatusLine("Current book", statusInfo, snap.CurrentPath, colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Runtime", statusInfo, formatRuntime(snap.RuntimeSeconds), colorize))
	if snap.CancelRequested {
		fmt.Fprintln(w, renderStatusLine("Cancel requested", statusWarn, yesNo(true), colorize))
	}
	if snap.Summary != nil {
		fmt.Fprintln(w)
		renderSummary(w, *snap.Summary, colorize)
	}
}
