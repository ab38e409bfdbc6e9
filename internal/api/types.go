package api

import (
	"time"

	"github.com/MATXBY/m4brew/internal/deps"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/preflight"
)

// JobStatus is the job snapshot served by GET /api/job.
type JobStatus = job.Snapshot

// StartJobRequest is the body of POST /api/job.
type StartJobRequest = job.StartRequest

// JobUpdate is one message on the /api/events websocket.
type JobUpdate = job.Update

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus = deps.Status

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	LockPath     string             `json:"lock_path"`
	HistoryPath  string             `json:"history_path"`
	LogDir       string             `json:"log_dir"`
	Job          JobStatus          `json:"job"`
	Settings     Settings           `json:"settings"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []preflight.Result `json:"checks"`
}

// Settings are the saved per-run defaults plus the accepted values.
type Settings struct {
	RootFolder      string   `json:"root_folder"`
	AudioMode       string   `json:"audio_mode"`
	BitrateKbps     int      `json:"bitrate_kbps"`
	AllowedBitrates []int    `json:"allowed_bitrates"`
	AudioModes      []string `json:"audio_modes"`
}

// SettingsResponse answers GET and PUT /api/settings. Rejected lists fields
// of an update that failed validation and kept their previous value.
type SettingsResponse struct {
	Settings Settings `json:"settings"`
	Rejected []string `json:"rejected,omitempty"`
	Saved    bool     `json:"saved"`
}

// CancelResponse answers POST /api/job/cancel.
type CancelResponse struct {
	Accepted bool      `json:"accepted"`
	Job      JobStatus `json:"job"`
}

// JobLogResponse carries job log bytes from Offset up to Next.
type JobLogResponse struct {
	JobID   string `json:"job_id"`
	Offset  int64  `json:"offset"`
	Next    int64  `json:"next"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// HistoryResponse lists recent runs, newest first.
type HistoryResponse struct {
	Runs []history.Record `json:"runs"`
}

// LogEvent is a structured daemon log entry.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp time.Time         `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Book      string            `json:"book,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	EventType string            `json:"event_type,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps log events and the cursor for the next request.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}
