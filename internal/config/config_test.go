package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/MATXBY/m4brew/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "m4brew", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path %q", resolved)
	}

	wantState := filepath.Join(tempHome, ".local", "share", "m4brew")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.LockPath != filepath.Join(wantState, "m4brew.lock") {
		t.Fatalf("unexpected lock path %q", cfg.Paths.LockPath)
	}
	if cfg.Paths.HistoryDB != filepath.Join(wantState, "history.db") {
		t.Fatalf("unexpected history path %q", cfg.Paths.HistoryDB)
	}
	if cfg.Paths.APIBind != "127.0.0.1:8080" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Library.AudioMode != "match" || cfg.Library.BitrateKbps != 64 {
		t.Fatalf("unexpected library defaults %+v", cfg.Library)
	}
	if cfg.Conversion.MinOutputBytes != 5*1024*1024 {
		t.Fatalf("unexpected min output bytes %d", cfg.Conversion.MinOutputBytes)
	}
	if cfg.BookTimeout().Hours() != 1 {
		t.Fatalf("expected one hour book timeout, got %s", cfg.BookTimeout())
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg := config.Default()
	cfg.Library.RootFolder = "/srv/audiobooks"
	cfg.Library.AudioMode = "MONO"
	cfg.Library.BitrateKbps = 96
	cfg.Library.AllowedMounts = []string{" /srv ", ""}
	cfg.Paths.LogDir = "~/logs"
	cfg.Conversion.Order = "lexical"

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if loaded.Library.AudioMode != "mono" {
		t.Fatalf("expected audio mode lower-cased, got %q", loaded.Library.AudioMode)
	}
	if loaded.Library.BitrateKbps != 96 {
		t.Fatalf("unexpected bitrate %d", loaded.Library.BitrateKbps)
	}
	if len(loaded.Library.AllowedMounts) != 1 || loaded.Library.AllowedMounts[0] != "/srv" {
		t.Fatalf("unexpected allowed mounts %v", loaded.Library.AllowedMounts)
	}
	if loaded.Paths.LogDir != filepath.Join(tempHome, "logs") {
		t.Fatalf("unexpected log dir %q", loaded.Paths.LogDir)
	}
	if loaded.Conversion.Order != "lexical" {
		t.Fatalf("unexpected order %q", loaded.Conversion.Order)
	}
}

func TestEnvironmentOverridesLibrary(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("M4BREW_ROOT_FOLDER", "/data/books")
	t.Setenv("M4BREW_AUDIO_MODE", "stereo")
	t.Setenv("M4BREW_BITRATE", "128")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Library.RootFolder != "/data/books" || cfg.Library.AudioMode != "stereo" || cfg.Library.BitrateKbps != 128 {
		t.Fatalf("environment overrides not applied: %+v", cfg.Library)
	}
}

func TestValidateRejectsBadLibrarySettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"relative root", func(c *config.Config) { c.Library.RootFolder = "books" }, "root_folder"},
		{"bitrate", func(c *config.Config) { c.Library.BitrateKbps = 100 }, "bitrate_kbps"},
		{"audio mode", func(c *config.Config) { c.Library.AudioMode = "surround" }, "audio_mode"},
		{"order", func(c *config.Config) { c.Conversion.Order = "random" }, "conversion.order"},
		{"timeout", func(c *config.Config) { c.Conversion.BookTimeoutSeconds = 0 }, "book_timeout_seconds"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestApplySettingsClampsInvalidValues(t *testing.T) {
	lib := config.Default().Library

	root := "relative/path"
	bitrate := 100
	mode := "surround"
	updated, rejected := lib.ApplySettings(config.SettingsUpdate{RootFolder: &root, BitrateKbps: &bitrate, AudioMode: &mode})
	if updated.RootFolder != lib.RootFolder || updated.BitrateKbps != lib.BitrateKbps || updated.AudioMode != lib.AudioMode {
		t.Fatalf("invalid values must keep current settings, got %+v", updated)
	}
	if len(rejected) != 3 {
		t.Fatalf("expected three rejected fields, got %v", rejected)
	}

	root = " /mnt/books "
	bitrate = 128
	mode = "Mono"
	updated, rejected = lib.ApplySettings(config.SettingsUpdate{RootFolder: &root, BitrateKbps: &bitrate, AudioMode: &mode})
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections %v", rejected)
	}
	if updated.RootFolder != "/mnt/books" || updated.BitrateKbps != 128 || updated.AudioMode != "mono" {
		t.Fatalf("unexpected settings %+v", updated)
	}
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := config.Default()
	cfg.Library.RootFolder = "/srv/books"
	cfg.Library.BitrateKbps = 32
	if err := config.Save(path, &cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, _, exists, err := config.Load(path)
	if err != nil || !exists {
		t.Fatalf("Load: exists=%v err=%v", exists, err)
	}
	if loaded.Library.RootFolder != "/srv/books" || loaded.Library.BitrateKbps != 32 {
		t.Fatalf("saved settings not loaded: %+v", loaded.Library)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}
