package logging

import (
	"context"
	"sync"
	"time"
)

// LogEvent is one structured log line held by a StreamHub.
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

// LogEventSink receives every event a hub publishes, after it is sequenced.
type LogEventSink interface {
	Append(LogEvent)
}

const defaultStreamCapacity = 512

// StreamHub keeps the most recent log events in a fixed ring and lets
// readers block until something newer than their cursor shows up.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	head    int
	size    int
	lastSeq uint64
	changed chan struct{}
	sinks   []LogEventSink
}

// NewStreamHub returns a hub holding up to capacity events. Older events
// are overwritten; EventArchive keeps the complete record.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = defaultStreamCapacity
	}
	return &StreamHub{
		ring:    make([]LogEvent, capacity),
		changed: make(chan struct{}),
	}
}

// AddSink registers sink for all later events.
func (h *StreamHub) AddSink(sink LogEventSink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish sequences evt, stores it and wakes blocked readers.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.Timestamp = evt.Timestamp.UTC()

	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	slot := (h.head + h.size) % len(h.ring)
	if h.size == len(h.ring) {
		h.head = (h.head + 1) % len(h.ring)
	} else {
		h.size++
	}
	h.ring[slot] = evt
	close(h.changed)
	h.changed = make(chan struct{})
	sinks := h.sinks
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Fetch returns up to limit events sequenced after since together with the
// cursor for the next call. With wait set it blocks until an event arrives
// or ctx is done.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		h.mu.Lock()
		events := h.collectLocked(since, limit)
		last := h.lastSeq
		changed := h.changed
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, last, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, last, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the newest limit events and the current cursor.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return nil, h.lastSeq
	}
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	return h.copyLocked(h.size-limit, limit), h.lastSeq
}

// FirstSequence is the oldest sequence still held, or the current cursor
// when the hub is empty.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstLocked()
}

func (h *StreamHub) firstLocked() uint64 {
	if h.size == 0 {
		return h.lastSeq
	}
	return h.lastSeq - uint64(h.size) + 1
}

func (h *StreamHub) collectLocked(since uint64, limit int) []LogEvent {
	if h.size == 0 || since >= h.lastSeq {
		return nil
	}
	skip := 0
	if first := h.firstLocked(); since >= first {
		skip = int(since - first + 1)
	}
	n := h.size - skip
	if limit > 0 && limit < n {
		n = limit
	}
	return h.copyLocked(skip, n)
}

// copyLocked copies n events starting at logical position from (0 = oldest).
func (h *StreamHub) copyLocked(from, n int) []LogEvent {
	out := make([]LogEvent, n)
	for i := range out {
		out[i] = h.ring[(h.head+from+i)%len(h.ring)]
	}
	return out
}
