package convert

import (
	"errors"

	"github.com/MATXBY/m4brew/internal/services"
)

var (
	ErrOutputExists     = errors.New("canonical output already exists")
	ErrAmbiguousOrder   = errors.New("ambiguous track order")
	ErrOutputMissing    = errors.New("tool reported success but left no output")
	ErrOutputUndersized = errors.New("output below minimum size")
	ErrOutputInvalid    = errors.New("output failed container verification")
	ErrRenameFailed     = errors.New("promote output failed")
	ErrBackupFailed     = errors.New("backup of sources failed")
)

// Warning codes reported in run summaries.
const (
	CodeMixedSources     = "mixed_sources"
	CodeOutputExists     = "output_exists"
	CodeAmbiguousOrder   = "ambiguous_order"
	CodeToolFailed       = "tool_failed"
	CodeToolTimeout      = "tool_timeout"
	CodeOutputMissing    = "output_missing"
	CodeOutputUndersized = "output_undersized"
	CodeOutputInvalid    = "output_invalid"
	CodeRenameFailed     = "rename_failed"
	CodeBackupFailed     = "backup_failed"
	CodeProbeFailed      = "probe_failed"
)

// Code maps a conversion error onto its warning code. Unknown errors report
// as tool failures.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutputExists):
		return CodeOutputExists
	case errors.Is(err, ErrAmbiguousOrder):
		return CodeAmbiguousOrder
	case errors.Is(err, services.ErrTimeout):
		return CodeToolTimeout
	case errors.Is(err, ErrOutputMissing):
		return CodeOutputMissing
	case errors.Is(err, ErrOutputUndersized):
		return CodeOutputUndersized
	case errors.Is(err, ErrOutputInvalid):
		return CodeOutputInvalid
	case errors.Is(err, ErrRenameFailed):
		return CodeRenameFailed
	case errors.Is(err, ErrBackupFailed):
		return CodeBackupFailed
	default:
		return CodeToolFailed
	}
}
