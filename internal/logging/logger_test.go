package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/logging"
)

func TestConsoleLoggerFormatsBookAndComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
		JobID:       "job-1",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "batch").Info("book converted",
		logging.String(logging.FieldBook, "Author/Book"),
		logging.Int("inputs", 2),
	)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, fragment := range []string{"INFO batch: book converted [Author/Book]", "inputs=2", "job_id=job-1"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("info lines should not carry source locations: %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("channels detected", logging.String("channels", "mono"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, fragment := range []string{`"ts":`, `"level":"debug"`, `"msg":"channels detected"`, `"source":"logger_test.go:`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigCreatesLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "m4brew.log")); err != nil {
		t.Fatalf("expected m4brew.log: %v", err)
	}
}

func TestStreamReceivesRecords(t *testing.T) {
	hub := logging.NewStreamHub(16)
	logger, err := logging.New(logging.Options{
		Format:      "console",
		OutputPaths: []string{filepath.Join(t.TempDir(), "out.log")},
		Stream:      hub,
		JobID:       "job-9",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("undersized output", logging.String(logging.FieldEventType, "output_undersized"))

	events, _ := hub.Tail(5)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != "output_undersized" || events[0].Level != "WARN" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}
