package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// EventArchive journals every hub event of one daemon session as JSON lines
// so /api/logs can serve cursors the ring buffer has already dropped.
type EventArchive struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewEventArchive truncates (or creates) path and opens it for appending. An
// empty path disables archiving and returns nil.
func NewEventArchive(path string) (*EventArchive, error) {
	if path == "" {
		return nil, nil
	}
	if err := ensureLogDir(path); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &EventArchive{path: path, file: file}, nil
}

// Append journals evt. Failures are ignored: losing archive lines is better
// than blocking the logger.
func (a *EventArchive) Append(evt LogEvent) {
	if a == nil {
		return
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	_, _ = a.file.Write(line)
}

// ReadSince returns up to limit events with a sequence above since (limit 0
// means all) and the cursor to resume from. The cursor is the last returned
// sequence when limit cut the read short, the archive's highest otherwise.
func (a *EventArchive) ReadSince(since uint64, limit int) ([]LogEvent, uint64, error) {
	if a == nil {
		return nil, since, nil
	}
	file, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, since, nil
	}
	if err != nil {
		return nil, since, fmt.Errorf("open archive %s: %w", a.path, err)
	}
	defer file.Close()

	var events []LogEvent
	highest := since
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt LogEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			// A torn final line from a crash is expected; skip it.
			continue
		}
		highest = max(highest, evt.Sequence)
		if evt.Sequence <= since || (limit > 0 && len(events) >= limit) {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, highest, fmt.Errorf("read archive %s: %w", a.path, err)
	}
	if limit > 0 && len(events) == limit {
		highest = events[len(events)-1].Sequence
	}
	return events, highest, nil
}

// Close stops further appends.
func (a *EventArchive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path is the journal location.
func (a *EventArchive) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}
