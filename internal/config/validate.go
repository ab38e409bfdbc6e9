package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLibrary(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLibrary() error {
	if c.Library.RootFolder != "" && !filepath.IsAbs(c.Library.RootFolder) {
		return fmt.Errorf("library.root_folder must be an absolute path, got %q", c.Library.RootFolder)
	}
	if !IsAudioMode(c.Library.AudioMode) {
		return fmt.Errorf("library.audio_mode must be one of match, mono, stereo; got %q", c.Library.AudioMode)
	}
	if !IsAllowedBitrate(c.Library.BitrateKbps) {
		return fmt.Errorf("library.bitrate_kbps must be one of %v; got %d", AllowedBitrates, c.Library.BitrateKbps)
	}
	for _, mount := range c.Library.AllowedMounts {
		if !filepath.IsAbs(mount) {
			return fmt.Errorf("library.allowed_mounts entries must be absolute, got %q", mount)
		}
	}
	return nil
}

func (c *Config) validateConversion() error {
	if c.Conversion.BookTimeoutSeconds <= 0 {
		return errors.New("conversion.book_timeout_seconds must be positive")
	}
	if c.Conversion.MinOutputBytes < 0 {
		return errors.New("conversion.min_output_bytes must not be negative")
	}
	if c.Conversion.MergeJobs < 0 {
		return errors.New("conversion.merge_jobs must not be negative")
	}
	switch c.Conversion.Order {
	case "natural", "lexical":
	default:
		return fmt.Errorf("conversion.order must be natural or lexical; got %q", c.Conversion.Order)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json; got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
