package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MATXBY/m4brew/internal/config"
)

// ConfigOption adjusts a config built by NewConfig. base is the test's temp
// root.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns a config whose state, log and library directories live
// under t.TempDir(). The library root exists and is empty; notifications are
// off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	state := filepath.Join(base, "state")
	cfg.Paths.StateDir = state
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.LockPath = filepath.Join(state, "m4brew.lock")
	cfg.Paths.HistoryDB = filepath.Join(state, "history.db")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Library.RootFolder = filepath.Join(base, "library")
	cfg.Notifications.JobCompleted = false
	cfg.Notifications.Errors = false

	mkdirs(t, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Library.RootFolder)
	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	return &cfg
}

// BaseDir is the temp root behind a NewConfig config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WithAudioMode sets the saved channel policy.
func WithAudioMode(mode string) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Library.AudioMode = mode
	}
}

// WithStubbedBinaries puts do-nothing executables named names (the external
// tools when empty) first on PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, base string, _ *config.Config) {
		if len(names) == 0 {
			names = []string{"m4b-tool", "ffmpeg", "ffprobe"}
		}
		bin := filepath.Join(base, "bin")
		mkdirs(t, bin)
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

func mkdirs(t testing.TB, dirs ...string) {
	t.Helper()
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
}
