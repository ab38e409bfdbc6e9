package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, library and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			status, err := client.Status(cmd.Context())
			switch {
			case err == nil:
			case errors.Is(err, api.ErrDaemonUnavailable):
				status = localStatus(cfg)
			default:
				return wrapDaemonError(err, cfg.Paths.APIBind)
			}

			if jsonOut {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			renderDaemonStatus(stdout, status, cfg.Paths.APIBind, shouldColorize(stdout))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}

// localStatus gathers what can be checked without the daemon.
func localStatus(cfg *config.Config) api.DaemonStatus {
	return api.DaemonStatus{
		LockPath:     cfg.Paths.LockPath,
		HistoryPath:  cfg.Paths.HistoryDB,
		LogDir:       cfg.Paths.LogDir,
		Settings:     api.FromLibrary(cfg.Library),
		Dependencies: preflight.CheckSystemDeps(cfg),
		Checks:       preflight.RunAll(cfg),
	}
}

func renderDaemonStatus(w io.Writer, status api.DaemonStatus, bind string, colorize bool) {
	printSection(w, "Daemon", colorize)
	if status.Running {
		fmt.Fprintln(w, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d) on %s", status.PID, bind), colorize))
		fmt.Fprintln(w, renderStatusLine("Since", statusInfo, status.StartedAt.Local().Format("2006-01-02 15:04:05"), colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Settings", colorize)
	fmt.Fprintln(w, renderStatusLine("Root folder", statusInfo, status.Settings.RootFolder, colorize))
	fmt.Fprintln(w, renderStatusLine("Audio mode", statusInfo, status.Settings.AudioMode, colorize))
	fmt.Fprintln(w, renderStatusLine("Bitrate", statusInfo, fmt.Sprintf("%d kbps", status.Settings.BitrateKbps), colorize))
	fmt.Fprintln(w)

	printSection(w, "Checks", colorize)
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(w, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Dependencies", colorize)
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(w, line)
	}

	if status.Running {
		fmt.Fprintln(w)
		renderJobStatus(w, status.Job, colorize)
	}
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, "ready ("+dep.Path+")", colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}
