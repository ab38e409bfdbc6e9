package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print daemon log events",
		Long:  "Print daemon log events from the API. When the daemon is not running, the last lines of daemon.log are shown instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			err = logs.Stream(cmd.Context(), client, logs.StreamOptions{
				Lines:    lines,
				Follow:   follow,
				FilePath: filepath.Join(cfg.Paths.LogDir, "daemon.log"),
			},
				func(event api.LogEvent) { fmt.Fprintln(stdout, formatLogEvent(event)) },
				func(line string) { fmt.Fprintln(stdout, line) },
			)
			return wrapDaemonError(err, cfg.Paths.APIBind)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for new events")
	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "Events per request, or lines when reading the file")
	return cmd
}

func formatLogEvent(event api.LogEvent) string {
	var b strings.Builder
	b.WriteString(event.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, " %-5s ", strings.ToUpper(event.Level))
	if event.Component != "" {
		b.WriteString(event.Component)
		b.WriteString(": ")
	}
	b.WriteString(event.Message)
	if event.JobID != "" {
		fmt.Fprintf(&b, " job=%s", shortID(event.JobID))
	}
	if event.Book != "" {
		fmt.Fprintf(&b, " book=%q", event.Book)
	}
	keys := make([]string, 0, len(event.Fields))
	for key := range event.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, event.Fields[key])
	}
	return b.String()
}
