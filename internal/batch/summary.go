package batch

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strings"
	"time"
)

// Mode selects the sweep a run performs.
type Mode string

const (
	ModeConvert Mode = "convert"
	ModeCorrect Mode = "correct"
	ModeCleanup Mode = "cleanup"
)

// ParseMode accepts a mode name case-insensitively.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeConvert:
		return ModeConvert, true
	case ModeCorrect:
		return ModeCorrect, true
	case ModeCleanup:
		return ModeCleanup, true
	default:
		return "", false
	}
}

// Failure reasons recorded on a Summary.
const (
	ReasonRootMissing   = "root_missing"
	ReasonCanceled      = "canceled"
	ReasonWorkerCrashed = "worker_crashed"
	ReasonDiscovery     = "discovery_failed"
)

// Warning ties a code to the book (or directory) it concerns.
type Warning struct {
	Code string `json:"code"`
	Book string `json:"book"`
}

// Summary is the terminal record of a run.
type Summary struct {
	Success         bool      `json:"success"`
	Mode            Mode      `json:"mode"`
	DryRun          bool      `json:"dry_run"`
	RuntimeSeconds  float64   `json:"runtime_s"`
	Created         int       `json:"created"`
	Renamed         int       `json:"renamed"`
	Deleted         int       `json:"deleted"`
	Skipped         int       `json:"skipped"`
	SkippedMultiple int       `json:"skipped_multiple"`
	SkippedNone     int       `json:"skipped_none"`
	Failed          int       `json:"failed"`
	FailedBooks     []string  `json:"failed_books,omitempty"`
	WarningsCount   int       `json:"warnings_count"`
	Warnings        []Warning `json:"warnings"`
	Reason          string    `json:"reason,omitempty"`
}

// FailureSummary closes out a run that ended abnormally. partial carries the
// counts reached so far; reason marks the run unsuccessful.
func FailureSummary(partial Summary, reason string, runtime time.Duration) Summary {
	s := partial
	s.FailedBooks = slices.Clone(partial.FailedBooks)
	s.Warnings = slices.Clone(partial.Warnings)
	s.Reason = reason
	s.Finalize(runtime)
	return s
}

func (s *Summary) warn(code, book string) {
	s.Warnings = append(s.Warnings, Warning{Code: code, Book: book})
}

// Finalize fills the derived fields: warnings_count, runtime_s, success.
func (s *Summary) Finalize(runtime time.Duration) {
	if s.Warnings == nil {
		s.Warnings = []Warning{}
	}
	s.WarningsCount = len(s.Warnings)
	s.RuntimeSeconds = math.Round(runtime.Seconds()*100) / 100
	s.Success = s.Failed == 0 && s.Reason == ""
}

// MarshalLine renders the summary as one JSON line without a trailing newline.
func (s Summary) MarshalLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
