package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JobLog is the append-only plain-text log of a single batch run. It receives
// the run header, the console rendering of every record logged during the run,
// and the final JSON summary line.
type JobLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// JobLogPath returns the location of the job log for id under logDir.
func JobLogPath(logDir, id string) string {
	return filepath.Join(logDir, "jobs", id+".log")
}

// OpenJobLog creates (or reopens for append) the log for job id.
func OpenJobLog(logDir, id string) (*JobLog, error) {
	path := JobLogPath(logDir, id)
	if err := ensureLogDir(path); err != nil {
		return nil, fmt.Errorf("ensure job log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log %s: %w", path, err)
	}
	return &JobLog{path: path, file: file}, nil
}

// Write appends raw bytes; JobLog satisfies io.Writer.
func (l *JobLog) Write(p []byte) (int, error) {
	if l == nil {
		return len(p), nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0, os.ErrClosed
	}
	return l.file.Write(p)
}

// Handler returns a console handler that renders records into the job log.
func (l *JobLog) Handler(level string) slog.Handler {
	if l == nil {
		return NoopHandler{}
	}
	return NewConsoleHandler(l, level)
}

// Path returns the on-disk location of the log.
func (l *JobLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle. Further writes fail with os.ErrClosed.
func (l *JobLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadJobLog returns the log content starting at offset and the offset to use
// for the next read. A missing file reads as empty.
func ReadJobLog(path string, offset int64) ([]byte, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, err
		}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}
