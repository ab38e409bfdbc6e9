package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/fileutil"
	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/media/m4b"
	"github.com/MATXBY/m4brew/internal/services"
	"github.com/MATXBY/m4brew/internal/tools"
)

// Per-book stages reported through Request.OnStage.
const (
	StageProbe    = "probe"
	StageEncode   = "encode"
	StageRemux    = "remux"
	StageValidate = "validate"
	StageBackup   = "backup"
)

// Outcome is the terminal state of one book.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Options are the run-wide conversion settings.
type Options struct {
	BitrateKbps     int
	Policy          audio.Policy
	MinOutputBytes  int64
	VerifyContainer bool
	BookTimeout     time.Duration
	Order           library.Comparator
	MergeJobs       int
	DryRun          bool
}

// Request is one book to convert.
type Request struct {
	Book           library.BookFolder
	Classification library.Classification
	OnStage        func(stage string)
}

// Result describes what happened to one book. Err is set for skipped, failed
// and canceled outcomes; Notes carries non-fatal warning codes.
type Result struct {
	Outcome  Outcome
	Output   string
	Temp     string
	Channels audio.Channels
	Command  []string
	Notes    []string
	Err      error
}

// Executor converts books one at a time.
type Executor struct {
	merge    tools.MergeTool
	remux    tools.RemuxTool
	detector audio.Detector
	opts     Options
	logger   *slog.Logger
}

// NewExecutor wires the tool seams and run options.
func NewExecutor(merge tools.MergeTool, remux tools.RemuxTool, detector audio.Detector, opts Options, logger *slog.Logger) *Executor {
	if opts.Order == nil {
		opts.Order = library.NaturalOrder{}
	}
	return &Executor{
		merge:    merge,
		remux:    remux,
		detector: detector,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "convert"),
	}
}

// Convert processes one book. It never panics on per-book failures; every
// problem is reported through the Result.
func (e *Executor) Convert(ctx context.Context, req Request) Result {
	book := req.Book
	class := req.Classification
	ctx = services.WithBook(ctx, book.Path)
	logger := logging.WithContext(ctx, e.logger)

	output := OutputPath(book)
	temp := TempPath(book)
	result := Result{Output: output, Temp: temp}

	if !class.Plan.Converts() {
		result.Outcome = OutcomeSkipped
		return result
	}
	if fileutil.Exists(output) {
		logging.WarnWithContext(logger, "canonical output already present; skipping",
			"output_exists",
			logging.String("output", output),
			logging.String(logging.FieldErrorHint, "inspect the book folder; m4brew never overwrites an existing .m4b"),
		)
		return skipped(result, fmt.Errorf("%w: %s", ErrOutputExists, output))
	}

	order := library.OrderTracks(class.Sources, e.opts.Order)
	if len(order.Ambiguous) > 0 {
		pair := order.Ambiguous[0]
		logging.WarnWithContext(logger, "track order is ambiguous; skipping",
			"ambiguous_order",
			logging.String("comparator", e.opts.Order.Name()),
			logging.String("first", pair[0]),
			logging.String("second", pair[1]),
			logging.String(logging.FieldErrorHint, "rename the tracks so their numbering is unique"),
		)
		return skipped(result, fmt.Errorf("%w: %q and %q sort equal under %s order", ErrAmbiguousOrder, pair[0], pair[1], e.opts.Order.Name()))
	}
	sources := make([]string, 0, len(order.Tracks))
	for _, name := range order.Tracks {
		sources = append(sources, filepath.Join(book.Path, name))
	}

	if fileutil.Exists(temp) {
		if e.opts.DryRun {
			logger.Info("dry run: would remove stale temp file", logging.String("temp", temp))
		} else if err := os.Remove(temp); err != nil {
			return e.fail(logger, result, "", services.Wrap(services.ErrExternalTool, "prepare", "remove stale temp", temp, err))
		} else {
			logger.Info("removed stale temp file", logging.String("temp", temp))
		}
	}

	meta := library.ReadMetadata(book, sources[0])
	var run func(context.Context, func(string)) error
	stage := StageRemux
	if class.Plan.Remux() {
		rreq := tools.RemuxRequest{Input: sources[0], Output: temp, Title: meta.Title, Artist: meta.Artist, Album: meta.Album}
		result.Command = e.remux.Command(rreq)
		run = func(ctx context.Context, onOutput func(string)) error { return e.remux.Remux(ctx, rreq, onOutput) }
	} else {
		stage = StageEncode
		result.Channels = e.resolveChannels(ctx, logger, req, sources[0], &result)
		mreq := tools.MergeRequest{
			Inputs:      sources,
			Output:      temp,
			BitrateKbps: e.opts.BitrateKbps,
			Channels:    int(result.Channels),
			Title:       meta.Title,
			Artist:      meta.Artist,
			Album:       meta.Album,
			Jobs:        e.opts.MergeJobs,
		}
		result.Command = e.merge.Command(mreq)
		run = func(ctx context.Context, onOutput func(string)) error { return e.merge.Merge(ctx, mreq, onOutput) }
	}

	if e.opts.DryRun {
		logger.Info("dry run: would convert",
			logging.String("plan", string(class.Plan)),
			logging.String("command", tools.FormatCommand(result.Command)),
		)
		result.Outcome = OutcomeCreated
		return result
	}

	if err := e.runTool(ctx, logger, req, stage, run); err != nil {
		removeTemp(logger, temp)
		if services.IsCanceled(err) {
			result.Outcome = OutcomeCanceled
			result.Err = err
			logger.Info("conversion canceled; temp file discarded", logging.String("temp", temp))
			return result
		}
		return e.fail(logger, result, "check the job log for the tool output", err)
	}

	e.stage(req, StageValidate)
	if err := e.validate(temp); err != nil {
		if errors.Is(err, ErrOutputMissing) {
			return e.fail(logger, result, "the tool exited cleanly but wrote nothing; run it by hand to inspect", err)
		}
		return e.fail(logger, result, "temp file kept for inspection: "+temp, err)
	}

	if ctx.Err() != nil {
		removeTemp(logger, temp)
		result.Outcome = OutcomeCanceled
		result.Err = services.Wrap(services.ErrCanceled, "validate", "promote output", "", ctx.Err())
		return result
	}

	if err := os.Rename(temp, output); err != nil {
		removeTemp(logger, temp)
		return e.fail(logger, result, "", fmt.Errorf("%w: %w", ErrRenameFailed, err))
	}

	e.stage(req, StageBackup)
	result.Outcome = OutcomeCreated
	if err := e.backup(book, sources); err != nil {
		result.Notes = append(result.Notes, CodeBackupFailed)
		result.Err = err
		logging.WarnWithContext(logger, "output created but sources could not be fully backed up",
			"backup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some sources remain beside the new .m4b"),
			logging.String(logging.FieldErrorHint, "move the remaining sources into "+library.BackupDirName+" by hand"),
		)
	}
	logger.Info("book converted",
		logging.String("output", output),
		logging.String("plan", string(class.Plan)),
		logging.Int("sources", len(sources)),
	)
	return result
}

func (e *Executor) resolveChannels(ctx context.Context, logger *slog.Logger, req Request, first string, result *Result) audio.Channels {
	detected := audio.Stereo
	if !e.opts.DryRun && audio.NeedsProbe(e.opts.Policy) && e.detector != nil {
		e.stage(req, StageProbe)
		channels, err := e.detector.Detect(ctx, first)
		if err != nil {
			result.Notes = append(result.Notes, CodeProbeFailed)
			logging.WarnWithContext(logger, "channel probe failed; assuming stereo",
				"probe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "output encoded as stereo"),
				logging.String(logging.FieldErrorHint, "check ffprobe is installed and the source is readable"),
			)
		} else {
			detected = channels
		}
	}
	channels := audio.Resolve(detected, e.opts.Policy)
	logger.Debug("channels resolved",
		logging.String("policy", string(audio.NormalizePolicy(string(e.opts.Policy)))),
		logging.String("detected", detected.String()),
		logging.String("channels", channels.String()),
	)
	return channels
}

func (e *Executor) runTool(ctx context.Context, logger *slog.Logger, req Request, stage string, run func(context.Context, func(string)) error) error {
	e.stage(req, stage)
	toolCtx := ctx
	if e.opts.BookTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, e.opts.BookTimeout)
		defer cancel()
	}
	start := time.Now()
	err := run(toolCtx, func(line string) {
		logger.Debug("tool output", logging.String(logging.FieldStage, stage), logging.String("line", line))
	})
	if err == nil {
		logger.Debug("tool finished", logging.String(logging.FieldStage, stage), logging.Duration("elapsed", time.Since(start)))
		return nil
	}
	switch {
	case ctx.Err() != nil:
		return services.Wrap(services.ErrCanceled, stage, "run tool", "", err)
	case errors.Is(toolCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stage, "run tool", "exceeded "+e.opts.BookTimeout.String(), err)
	default:
		return err
	}
}

func (e *Executor) validate(temp string) error {
	info, err := os.Stat(temp)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrOutputMissing, temp)
		}
		return fmt.Errorf("%w: %w", ErrOutputMissing, err)
	}
	if info.Size() < e.opts.MinOutputBytes {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrOutputUndersized, info.Size(), e.opts.MinOutputBytes)
	}
	if e.opts.VerifyContainer {
		if _, err := m4b.Validate(temp); err != nil {
			return fmt.Errorf("%w: %w", ErrOutputInvalid, err)
		}
	}
	return nil
}

func (e *Executor) backup(book library.BookFolder, sources []string) error {
	dir := BackupDir(book)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	var errs []error
	for _, src := range sources {
		if err := fileutil.MoveFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBackupFailed, errors.Join(errs...))
	}
	return nil
}

func (e *Executor) fail(logger *slog.Logger, result Result, hint string, err error) Result {
	result.Outcome = OutcomeFailed
	result.Err = err
	attrs := []logging.Attr{
		logging.Error(err),
		logging.String("code", Code(err)),
		logging.String(logging.FieldImpact, "book skipped; sources untouched"),
	}
	if hint != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	}
	logging.ErrorWithContext(logger, "book conversion failed", "book_failed", attrs...)
	return result
}

func (e *Executor) stage(req Request, stage string) {
	if req.OnStage != nil {
		req.OnStage(stage)
	}
}

func skipped(result Result, err error) Result {
	result.Outcome = OutcomeSkipped
	result.Err = err
	return result
}

func removeTemp(logger *slog.Logger, temp string) {
	if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove temp file",
			logging.String("temp", temp),
			logging.Error(err),
			logging.String(logging.FieldEventType, "temp_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "delete the file by hand; the next run also removes it"),
		)
	}
}
