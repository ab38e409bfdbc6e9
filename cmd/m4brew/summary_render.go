package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MATXBY/m4brew/internal/batch"
)

var titleCaser = cases.Title(language.English)

func modeTitle(mode string, dryRun bool) string {
	title := titleCaser.String(mode)
	if dryRun {
		title += " (dry run)"
	}
	return title
}

func formatRuntime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(100 * time.Millisecond).String()
}

// summaryOutcome condenses a summary into one status line.
func summaryOutcome(s batch.Summary) (statusKind, string) {
	switch {
	case s.Reason == batch.ReasonCanceled:
		return statusWarn, "canceled"
	case s.Reason != "":
		return statusError, s.Reason
	case s.Failed > 0:
		return statusError, fmt.Sprintf("%d book(s) failed", s.Failed)
	case s.WarningsCount > 0:
		return statusOK, fmt.Sprintf("completed with %d warning(s)", s.WarningsCount)
	default:
		return statusOK, "completed"
	}
}

func summaryCountRows(s batch.Summary) [][]string {
	row := func(label string, n int) []string { return []string{label, strconv.Itoa(n)} }
	var rows [][]string
	switch s.Mode {
	case batch.ModeConvert:
		rows = append(rows, row("Created", s.Created), row("Skipped", s.Skipped))
	case batch.ModeCorrect:
		rows = append(rows,
			row("Renamed", s.Renamed),
			row("Skipped (several .m4b)", s.SkippedMultiple),
			row("Skipped (no .m4b)", s.SkippedNone),
		)
	case batch.ModeCleanup:
		rows = append(rows, row("Deleted", s.Deleted))
	}
	return append(rows, row("Failed", s.Failed), row("Warnings", s.WarningsCount))
}

func renderSummary(w io.Writer, s batch.Summary, colorize bool) {
	printSection(w, modeTitle(string(s.Mode), s.DryRun)+" summary", colorize)
	kind, message := summaryOutcome(s)
	fmt.Fprintln(w, renderStatusLine("Result", kind, message, colorize))
	fmt.Fprintln(w, renderStatusLine("Runtime", statusInfo, formatRuntime(s.RuntimeSeconds), colorize))
	fmt.Fprint(w, renderTable([]column{left("Outcome"), right("Books")}, summaryCountRows(s)))

	if len(s.FailedBooks) > 0 {
		fmt.Fprintln(w, "Failed books:")
		for _, book := range s.FailedBooks {
			fmt.Fprintf(w, "  - %s\n", book)
		}
	}
	if len(s.Warnings) > 0 {
		rows := make([][]string, 0, len(s.Warnings))
		for _, warning := range s.Warnings {
			rows = append(rows, []string{warning.Code, warning.Book})
		}
		fmt.Fprint(w, renderTable([]column{left("Warning"), left("Book")}, rows))
	}
}
