package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/job"
)

const progressDescriptionWidth = 48

// progressView renders job updates either as a progress bar (terminals) or
// as one line per finished book.
type progressView struct {
	out         io.Writer
	interactive bool
	bar         *progressbar.ProgressBar
}

func newProgressView(out io.Writer, interactive bool) *progressView {
	return &progressView{out: out, interactive: interactive}
}

func (p *progressView) handle(update job.Update) {
	ev := update.Event
	if ev == nil {
		return
	}
	switch ev.Type {
	case batch.EventRunStarted:
		if !p.interactive {
			fmt.Fprintf(p.out, "%d book(s) to process\n", ev.Total)
			return
		}
		if ev.Total > 0 {
			p.bar = newBookBar(p.out, ev.Total)
		}
	case batch.EventBookStarted:
		if p.bar != nil {
			p.bar.Describe(truncateLabel(fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.Book)))
		}
	case batch.EventStage:
		if p.bar != nil {
			p.bar.Describe(truncateLabel(fmt.Sprintf("[%d/%d] %s (%s)", ev.Index, ev.Total, ev.Book, ev.Stage)))
		}
	case batch.EventBookFinished:
		if p.bar != nil {
			_ = p.bar.Set(ev.Index)
			return
		}
		line := fmt.Sprintf("[%d/%d] %s: %s", ev.Index, ev.Total, ev.Book, ev.Outcome)
		if ev.Code != "" {
			line += " (" + ev.Code + ")"
		}
		fmt.Fprintln(p.out, line)
	case batch.EventRunFinished:
		p.finish()
	}
}

func (p *progressView) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
	p.bar = nil
}

func newBookBar(out io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func truncateLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= progressDescriptionWidth {
		return label
	}
	return string(runes[:progressDescriptionWidth-1]) + "…"
}
