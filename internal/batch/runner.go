package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/convert"
	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/textutil"
	"github.com/MATXBY/m4brew/internal/tools"
)

// Warning codes produced outside the conversion executor.
const (
	CodeNoM4B        = "no_m4b"
	CodeMultipleM4B  = "multiple_m4b"
	CodeRenameFailed = "rename_failed"
	CodeDeleteFailed = "delete_failed"
	CodeReadFailed   = "read_failed"
)

// Tools are the external capabilities a convert run needs.
type Tools struct {
	Merge    tools.MergeTool
	Remux    tools.RemuxTool
	Detector audio.Detector
}

// Request selects one run.
type Request struct {
	Mode        Mode
	DryRun      bool
	Root        string
	AudioMode   string
	BitrateKbps int
	// Transcript receives the run header and the final summary line.
	Transcript io.Writer
	// Events receives progress markers; sends block, so the caller must drain it.
	Events chan<- Event
}

// Runner executes batch sweeps.
type Runner struct {
	tools    Tools
	defaults convert.Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner builds a runner. defaults carries the conversion tuning; the
// per-run fields (dry run, bitrate, policy) come from each Request.
func NewRunner(t Tools, defaults convert.Options, logger *slog.Logger) *Runner {
	return &Runner{
		tools:    t,
		defaults: defaults,
		logger:   logging.NewComponentLogger(logger, "batch"),
		now:      time.Now,
	}
}

type run struct {
	req     Request
	logger  *slog.Logger
	summary Summary
	total   int
}

// Run performs the sweep and returns its summary. Per-book failures are
// counted, never returned; ctx cancellation stops the run between books and
// interrupts any in-flight tool.
func (r *Runner) Run(ctx context.Context, req Request) Summary {
	start := r.now()
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldMode, string(req.Mode)))
	state := &run{
		req:     req,
		logger:  logger,
		summary: Summary{Mode: req.Mode, DryRun: req.DryRun, Warnings: []Warning{}},
	}
	r.writeHeader(req, start)
	logger.Info("run started",
		logging.String("root", req.Root),
		logging.Bool("dry_run", req.DryRun),
	)

	switch req.Mode {
	case ModeConvert:
		r.convert(ctx, state)
	case ModeCorrect:
		r.correct(ctx, state)
	case ModeCleanup:
		r.cleanup(ctx, state)
	default:
		state.summary.Reason = "invalid_mode"
	}
	if state.summary.Reason == "" && ctx.Err() != nil {
		state.summary.Reason = ReasonCanceled
	}

	state.summary.Finalize(r.now().Sub(start))
	summary := state.summary
	r.finish(state, summary)
	return summary
}

func (r *Runner) finish(state *run, summary Summary) {
	attrs := []logging.Attr{
		logging.Bool("success", summary.Success),
		logging.Int("created", summary.Created),
		logging.Int("renamed", summary.Renamed),
		logging.Int("deleted", summary.Deleted),
		logging.Int("skipped", summary.Skipped),
		logging.Int("failed", summary.Failed),
		logging.Int("warnings", summary.WarningsCount),
	}
	if summary.Reason != "" {
		attrs = append(attrs, logging.String("reason", summary.Reason))
	}
	state.logger.Info("run finished", logging.Args(attrs...)...)

	if w := state.req.Transcript; w != nil {
		if line, err := summary.MarshalLine(); err == nil {
			_, _ = fmt.Fprintf(w, "%s\n", line)
		}
	}
	state.emit(Event{Type: EventRunFinished, Total: state.total, Summary: &summary})
}

func (r *Runner) writeHeader(req Request, start time.Time) {
	if req.Transcript == nil {
		return
	}
	_, _ = fmt.Fprintf(req.Transcript, "[%s] Running MODE=%s DRY_RUN=%t\nROOT_FOLDER=%s\nAUDIO_MODE=%s\nBITRATE=%d\n\n",
		start.Format("2006-01-02 15:04:05"), req.Mode, req.DryRun, req.Root, req.AudioMode, req.BitrateKbps)
}

func (s *run) emit(ev Event) {
	if s.req.Events == nil {
		return
	}
	if ev.Total == 0 {
		ev.Total = s.total
	}
	s.req.Events <- ev
}

func (s *run) rootMissing(err error) bool {
	if errors.Is(err, library.ErrRootMissing) {
		s.summary.Reason = ReasonRootMissing
		logging.ErrorWithContext(s.logger, "library root missing; nothing to do", "root_missing",
			logging.String("root", s.req.Root),
			logging.String(logging.FieldErrorHint, "check root_folder and that the share is mounted"),
		)
		return true
	}
	return false
}

func (r *Runner) discover(s *run) ([]library.BookFolder, bool) {
	books, skipped, err := library.Discover(s.req.Root)
	if err != nil {
		if !s.rootMissing(err) {
			s.summary.Reason = ReasonDiscovery
			logging.ErrorWithContext(s.logger, "library scan failed", "discovery_failed", logging.Error(err))
		}
		return nil, false
	}
	s.unreadable(skipped)
	return books, true
}

// unreadable counts each folder the scan could not list as a failed book.
func (s *run) unreadable(skipped []library.ReadError) {
	for _, miss := range skipped {
		s.summary.Failed++
		s.summary.FailedBooks = append(s.summary.FailedBooks, miss.Path)
		s.summary.warn(CodeReadFailed, miss.Path)
		logging.ErrorWithContext(s.logger, "folder unreadable; skipping", CodeReadFailed,
			logging.String(logging.FieldBook, miss.Path),
			logging.Error(miss.Err),
			logging.String(logging.FieldErrorHint, "check folder permissions for the m4brew user"),
		)
	}
}

func (r *Runner) convert(ctx context.Context, s *run) {
	books, ok := r.discover(s)
	if !ok {
		return
	}

	type item struct {
		book  library.BookFolder
		class library.Classification
	}
	var work []item
	for _, book := range books {
		class := library.Classify(book)
		if class.Plan == library.PlanSkipEmpty {
			s.logger.Debug("no audio files; ignoring", logging.String(logging.FieldBook, book.Path))
			continue
		}
		work = append(work, item{book: book, class: class})
	}
	s.total = len(work)
	s.emit(Event{Type: EventRunStarted})

	opts := r.defaults
	opts.DryRun = s.req.DryRun
	opts.BitrateKbps = s.req.BitrateKbps
	opts.Policy = audio.NormalizePolicy(s.req.AudioMode)
	exec := convert.NewExecutor(r.tools.Merge, r.tools.Remux, r.tools.Detector, opts, s.logger)

	for i, it := range work {
		if ctx.Err() != nil {
			s.summary.Reason = ReasonCanceled
			return
		}
		book, class := it.book, it.class
		bookLogger := s.logger.With(logging.String(logging.FieldBook, book.Path))
		s.emit(Event{Type: EventBookStarted, Index: i + 1, Book: book.Path})

		if class.Plan == library.PlanSkipHasM4B {
			s.summary.Skipped++
			bookLogger.Info("already has an m4b; skipping", logging.String("plan", string(class.Plan)))
			s.emit(Event{Type: EventBookFinished, Index: i + 1, Book: book.Path, Outcome: string(convert.OutcomeSkipped)})
			continue
		}
		if class.IgnoredM4A {
			s.summary.warn(convert.CodeMixedSources, book.Path)
			bookLogger.Info("mp3 and m4a files present; converting mp3 and ignoring m4a",
				logging.Int("m4a_ignored", len(book.M4A)),
				logging.String(logging.FieldEventType, convert.CodeMixedSources),
			)
		}

		index := i + 1
		res := exec.Convert(ctx, convert.Request{
			Book:           book,
			Classification: class,
			OnStage: func(stage string) {
				s.emit(Event{Type: EventStage, Index: index, Book: book.Path, Stage: stage})
			},
		})
		for _, note := range res.Notes {
			s.summary.warn(note, book.Path)
		}
		code := ""
		switch res.Outcome {
		case convert.OutcomeCreated:
			s.summary.Created++
		case convert.OutcomeSkipped:
			s.summary.Skipped++
			if res.Err != nil {
				code = convert.Code(res.Err)
				s.summary.warn(code, book.Path)
			}
		case convert.OutcomeFailed:
			s.summary.Failed++
			s.summary.FailedBooks = append(s.summary.FailedBooks, book.Path)
			code = convert.Code(res.Err)
			s.summary.warn(code, book.Path)
		case convert.OutcomeCanceled:
			s.summary.Reason = ReasonCanceled
			s.emit(Event{Type: EventBookFinished, Index: index, Book: book.Path, Outcome: string(res.Outcome)})
			return
		}
		s.emit(Event{Type: EventBookFinished, Index: index, Book: book.Path, Outcome: string(res.Outcome), Code: code})
	}
}

// CorrectName is the post-correct file name: "Book - Author.m4b".
func CorrectName(book library.BookFolder) string {
	return textutil.JoinName(book.Name, book.Author) + ".m4b"
}

func (r *Runner) correct(ctx context.Context, s *run) {
	books, ok := r.discover(s)
	if !ok {
		return
	}
	s.total = len(books)
	s.emit(Event{Type: EventRunStarted})

	for i, book := range books {
		if ctx.Err() != nil {
			s.summary.Reason = ReasonCanceled
			return
		}
		index := i + 1
		bookLogger := s.logger.With(logging.String(logging.FieldBook, book.Path))
		s.emit(Event{Type: EventBookStarted, Index: index, Book: book.Path})
		outcome, code := r.correctBook(bookLogger, s, book)
		s.emit(Event{Type: EventBookFinished, Index: index, Book: book.Path, Outcome: outcome, Code: code})
	}
}

func (r *Runner) correctBook(logger *slog.Logger, s *run, book library.BookFolder) (string, string) {
	switch len(book.M4B) {
	case 0:
		s.summary.Skipped++
		s.summary.SkippedNone++
		s.summary.warn(CodeNoM4B, book.Path)
		logger.Warn("no m4b to rename; skipping",
			logging.String(logging.FieldEventType, CodeNoM4B),
			logging.String(logging.FieldErrorHint, "run convert first"),
		)
		return "skipped", CodeNoM4B
	case 1:
	default:
		s.summary.Skipped++
		s.summary.SkippedMultiple++
		s.summary.warn(CodeMultipleM4B, book.Path)
		logger.Warn("several m4b files; not guessing which to rename",
			logging.Int("count", len(book.M4B)),
			logging.String(logging.FieldEventType, CodeMultipleM4B),
			logging.String(logging.FieldErrorHint, "keep one .m4b in the folder and rerun"),
		)
		return "skipped", CodeMultipleM4B
	}

	current := book.M4B[0]
	target := CorrectName(book)
	if current == target {
		logger.Debug("already correctly named", logging.String("file", current))
		return "unchanged", ""
	}
	src := filepath.Join(book.Path, current)
	dst := filepath.Join(book.Path, target)
	if _, err := os.Lstat(dst); err == nil {
		s.summary.Failed++
		s.summary.FailedBooks = append(s.summary.FailedBooks, book.Path)
		s.summary.warn(CodeRenameFailed, book.Path)
		logging.ErrorWithContext(logger, "rename target already exists", CodeRenameFailed, logging.String("to", target))
		return "failed", CodeRenameFailed
	}
	if s.req.DryRun {
		logger.Info("dry run: would rename", logging.String("from", current), logging.String("to", target))
		s.summary.Renamed++
		return "renamed", ""
	}
	if err := os.Rename(src, dst); err != nil {
		s.summary.Failed++
		s.summary.FailedBooks = append(s.summary.FailedBooks, book.Path)
		s.summary.warn(CodeRenameFailed, book.Path)
		logging.ErrorWithContext(logger, "rename failed", CodeRenameFailed, logging.Error(err))
		return "failed", CodeRenameFailed
	}
	s.summary.Renamed++
	logger.Info("renamed", logging.String("from", current), logging.String("to", target))
	return "renamed", ""
}

func (r *Runner) cleanup(ctx context.Context, s *run) {
	dirs, skipped, err := library.FindBackupDirs(s.req.Root)
	if err != nil {
		if !s.rootMissing(err) {
			s.summary.Reason = ReasonDiscovery
			logging.ErrorWithContext(s.logger, "backup scan failed", "discovery_failed", logging.Error(err))
		}
		return
	}
	s.unreadable(skipped)
	s.total = len(dirs)
	s.emit(Event{Type: EventRunStarted})

	for i, dir := range dirs {
		if ctx.Err() != nil {
			s.summary.Reason = ReasonCanceled
			return
		}
		index := i + 1
		book := filepath.Dir(dir)
		s.emit(Event{Type: EventBookStarted, Index: index, Book: book})
		logger := s.logger.With(logging.String(logging.FieldBook, book))
		outcome, code := "deleted", ""
		switch {
		case s.req.DryRun:
			logger.Info("dry run: would delete backup folder", logging.String("path", dir))
			s.summary.Deleted++
		default:
			if err := os.RemoveAll(dir); err != nil {
				outcome, code = "failed", CodeDeleteFailed
				s.summary.Failed++
				s.summary.FailedBooks = append(s.summary.FailedBooks, book)
				s.summary.warn(CodeDeleteFailed, book)
				logging.ErrorWithContext(logger, "delete backup folder failed", CodeDeleteFailed,
					logging.String("path", dir),
					logging.Error(err),
				)
			} else {
				s.summary.Deleted++
				logger.Info("deleted backup folder", logging.String("path", dir))
			}
		}
		s.emit(Event{Type: EventBookFinished, Index: index, Book: book, Outcome: outcome, Code: code})
	}
}
