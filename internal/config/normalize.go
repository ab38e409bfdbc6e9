package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLibrary(); err != nil {
		return err
	}
	c.normalizeConversion()
	c.normalizeTools()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockPath) == "" {
		c.Paths.LockPath = filepath.Join(c.Paths.StateDir, defaultLockName)
	}
	if c.Paths.LockPath, err = expandPath(c.Paths.LockPath); err != nil {
		return fmt.Errorf("paths.lock_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" {
		c.Paths.HistoryDB = filepath.Join(c.Paths.StateDir, defaultHistoryName)
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if value, ok := os.LookupEnv("M4BREW_API_TOKEN"); ok && c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	return nil
}

// normalizeLibrary applies the M4BREW_* environment overrides used by
// container deployments; an environment value always wins over the file.
func (c *Config) normalizeLibrary() error {
	if value, ok := os.LookupEnv("M4BREW_ROOT_FOLDER"); ok && strings.TrimSpace(value) != "" {
		c.Library.RootFolder = value
	}
	if value, ok := os.LookupEnv("M4BREW_AUDIO_MODE"); ok && strings.TrimSpace(value) != "" {
		c.Library.AudioMode = value
	}
	if value, ok := os.LookupEnv("M4BREW_BITRATE"); ok && strings.TrimSpace(value) != "" {
		bitrate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("M4BREW_BITRATE: %w", err)
		}
		c.Library.BitrateKbps = bitrate
	}

	c.Library.RootFolder = strings.TrimSpace(c.Library.RootFolder)
	if c.Library.RootFolder != "" {
		c.Library.RootFolder = filepath.Clean(c.Library.RootFolder)
	}
	c.Library.AudioMode = strings.ToLower(strings.TrimSpace(c.Library.AudioMode))
	if c.Library.AudioMode == "" {
		c.Library.AudioMode = defaultAudioMode
	}
	if c.Library.BitrateKbps == 0 {
		c.Library.BitrateKbps = defaultBitrateKbps
	}

	mounts := make([]string, 0, len(c.Library.AllowedMounts))
	for _, mount := range c.Library.AllowedMounts {
		if trimmed := strings.TrimSpace(mount); trimmed != "" {
			mounts = append(mounts, filepath.Clean(trimmed))
		}
	}
	c.Library.AllowedMounts = mounts
	return nil
}

func (c *Config) normalizeConversion() {
	c.Conversion.Order = strings.ToLower(strings.TrimSpace(c.Conversion.Order))
	if c.Conversion.Order == "" {
		c.Conversion.Order = defaultOrder
	}
	if c.Conversion.MinOutputBytes == 0 {
		c.Conversion.MinOutputBytes = defaultMinOutputBytes
	}
	if c.Conversion.MergeJobs == 0 {
		c.Conversion.MergeJobs = defaultMergeJobs
	}
}

func (c *Config) normalizeTools() {
	c.Tools.M4BTool = defaultIfBlank(c.Tools.M4BTool, defaultM4BTool)
	c.Tools.FFmpeg = defaultIfBlank(c.Tools.FFmpeg, defaultFFmpeg)
	c.Tools.FFprobe = defaultIfBlank(c.Tools.FFprobe, defaultFFprobe)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(defaultIfBlank(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(defaultIfBlank(c.Logging.Level, defaultLogLevel))
}

func defaultIfBlank(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
