package logging

import (
	"context"
	"log/slog"
	"strings"
)

// streamHandler mirrors every record into a StreamHub before passing it on.
type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	scoped []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(recordEvent(record, h.scoped))
	return h.next.Handle(ctx, record)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &streamHandler{
		next:   h.next.WithAttrs(attrs),
		hub:    h.hub,
		scoped: append(h.scoped[:len(h.scoped):len(h.scoped)], attrs...),
	}
}

// WithGroup drops scoped attrs from the hub view; grouped keys are only
// rendered by the wrapped handler.
func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub}
}

// recordEvent lifts the well-known fields out of a record. Record attrs win
// over scoped ones because they are applied last.
func recordEvent(record slog.Record, scoped []slog.Attr) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     levelLabel(record.Level),
		Message:   strings.TrimSpace(record.Message),
	}
	set := func(attr slog.Attr) bool {
		key := strings.TrimSpace(attr.Key)
		if key == "" {
			return true
		}
		val := attrString(attr.Value)
		switch key {
		case FieldComponent:
			evt.Component = val
		case FieldJobID:
			evt.JobID = val
		case FieldBook:
			evt.Book = val
		case FieldStage:
			evt.Stage = val
		case FieldEventType:
			evt.EventType = val
		default:
			if evt.Fields == nil {
				evt.Fields = map[string]string{}
			}
			evt.Fields[key] = val
		}
		return true
	}
	for _, attr := range scoped {
		set(attr)
	}
	record.Attrs(set)
	return evt
}
