package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runs, err := loadHistory(cmd.Context(), ctx, cfg, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, api.HistoryResponse{Runs: runs})
			}
			stdout := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(stdout, "No runs recorded")
				return nil
			}
			fmt.Fprint(stdout, renderHistory(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	return cmd
}

// loadHistory asks the daemon and falls back to reading the store directly
// when it is not running.
func loadHistory(cmdCtx context.Context, ctx *commandContext, cfg *config.Config, limit int) ([]history.Record, error) {
	client, err := ctx.client()
	if err != nil {
		return nil, err
	}
	resp, err := client.History(cmdCtx, limit)
	if err == nil {
		return resp.Runs, nil
	}
	if !errors.Is(err, api.ErrDaemonUnavailable) {
		return nil, wrapDaemonError(err, cfg.Paths.APIBind)
	}
	store, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(cmdCtx, limit)
}

func renderHistory(runs []history.Record) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		result := "-"
		counts := "-"
		if run.Summary != nil {
			kind, message := summaryOutcome(*run.Summary)
			result = statusLabels[kind] + " " + message
			counts = compactCounts(run)
		} else if run.Reason != "" {
			result = run.Reason
		}
		exit := "-"
		if run.ExitCode != nil {
			exit = strconv.Itoa(*run.ExitCode)
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(run.ID),
			modeTitle(run.Mode, run.DryRun),
			run.Status,
			exit,
			counts,
			result,
		})
	}
	return renderTable([]column{
		left("Started"), left("ID"), left("Mode"), left("Status"), right("Exit"), left("Counts"), left("Result"),
	}, rows)
}

func compactCounts(run history.Record) string {
	s := run.Summary
	switch run.Mode {
	case "convert":
		return "created " + strconv.Itoa(s.Created) + ", skipped " + strconv.Itoa(s.Skipped) + ", failed " + strconv.Itoa(s.Failed)
	case "correct":
		return "renamed " + strconv.Itoa(s.Renamed) + ", skipped " + strconv.Itoa(s.Skipped) + ", failed " + strconv.Itoa(s.Failed)
	default:
		return "deleted " + strconv.Itoa(s.Deleted) + ", failed " + strconv.Itoa(s.Failed)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
