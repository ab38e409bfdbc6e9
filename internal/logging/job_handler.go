package logging

import (
	"context"
	"log/slog"
)

// jobIDHandler wraps another handler to inject a job_id attribute into all records.
type jobIDHandler struct {
	base  slog.Handler
	jobID string
}

func newJobIDHandler(base slog.Handler, jobID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	return &jobIDHandler{base: base, jobID: jobID}
}

func (h *jobIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *jobIDHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldJobID, h.jobID))
	return h.base.Handle(ctx, record)
}

func (h *jobIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jobIDHandler{base: h.base.WithAttrs(attrs), jobID: h.jobID}
}

func (h *jobIDHandler) WithGroup(name string) slog.Handler {
	return &jobIDHandler{base: h.base.WithGroup(name), jobID: h.jobID}
}

// WithJobID returns a logger whose records all carry the job identifier.
func WithJobID(logger *slog.Logger, jobID string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if jobID == "" {
		return logger
	}
	return slog.New(newJobIDHandler(logger.Handler(), jobID))
}
