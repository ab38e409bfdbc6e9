package job

import (
	"time"

	"github.com/MATXBY/m4brew/internal/batch"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusNone      Status = "none"
	StatusRunning   Status = "running"
	StatusCanceling Status = "canceling"
	StatusFinished  Status = "finished"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the job has ended.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

// Active reports whether a batch is still executing.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCanceling
}

// Exit codes recorded on terminal jobs.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitCanceled = 130
)

// Settings is the per-run settings snapshot.
type Settings struct {
	AudioMode string `json:"audio_mode"`
	Bitrate   int    `json:"bitrate"`
}

// Snapshot is the pollable view of the job slot.
type Snapshot struct {
	ID              string         `json:"id"`
	Status          Status         `json:"status"`
	Mode            string         `json:"mode"`
	DryRun          bool           `json:"dry_run"`
	Started         *time.Time     `json:"started"`
	Finished        *time.Time     `json:"finished,omitempty"`
	RuntimeSeconds  float64        `json:"runtime_s"`
	Current         int            `json:"current"`
	Total           int            `json:"total"`
	CurrentPath     string         `json:"current_path"`
	Stage           string         `json:"stage,omitempty"`
	RootFolder      string         `json:"root_folder,omitempty"`
	Settings        Settings       `json:"settings"`
	Summary         *batch.Summary `json:"summary"`
	ExitCode        *int           `json:"exit_code"`
	CancelRequested bool           `json:"cancel_requested"`
	LogPath         string         `json:"log_path,omitempty"`
}

// StartRequest is a request to start a job. Empty fields fall back to the
// saved settings; a nil DryRun means a dry run.
type StartRequest struct {
	Mode        string `json:"mode"`
	DryRun      *bool  `json:"dry_run,omitempty"`
	RootFolder  string `json:"root_folder,omitempty"`
	AudioMode   string `json:"audio_mode,omitempty"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty"`
}

// Start rejection codes beyond the preflight ones.
const (
	CodeAlreadyRunning = "already_running"
	CodeInvalidMode    = "invalid_mode"
	CodeLockError      = "lock_error"
)

// StartError rejects a start request; no job is created.
type StartError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (e *StartError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// Update is delivered to subscribers. Event is nil for pure snapshot updates.
type Update struct {
	Event    *batch.Event `json:"event,omitempty"`
	Snapshot Snapshot     `json:"snapshot"`
}
