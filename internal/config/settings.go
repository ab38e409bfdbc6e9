package config

import (
	"slices"
	"strings"
	"time"
)

// AllowedBitrates lists the AAC bitrates (kbps) offered for re-encoding.
var AllowedBitrates = []int{32, 64, 96, 128, 160, 192}

var audioModes = []string{"match", "mono", "stereo"}

// IsAllowedBitrate reports whether kbps is one of AllowedBitrates.
func IsAllowedBitrate(kbps int) bool {
	return slices.Contains(AllowedBitrates, kbps)
}

// IsAudioMode reports whether mode names a known channel policy.
func IsAudioMode(mode string) bool {
	return slices.Contains(audioModes, mode)
}

// AudioModes returns the accepted channel policies.
func AudioModes() []string {
	return slices.Clone(audioModes)
}

// SettingsUpdate carries the user-editable run settings. Nil fields are left
// unchanged.
type SettingsUpdate struct {
	RootFolder  *string `json:"root_folder,omitempty"`
	AudioMode   *string `json:"audio_mode,omitempty"`
	BitrateKbps *int    `json:"bitrate_kbps,omitempty"`
}

// ApplySettings returns lib with update applied. Invalid values are ignored
// and the current value kept: the root must be a non-empty absolute path, the
// bitrate must be allowed, and the audio mode must be match, mono, or stereo.
// The second return value lists the rejected fields.
func (lib Library) ApplySettings(update SettingsUpdate) (Library, []string) {
	var rejected []string
	if update.RootFolder != nil {
		root := strings.TrimSpace(*update.RootFolder)
		if root != "" && strings.HasPrefix(root, "/") {
			lib.RootFolder = root
		} else {
			rejected = append(rejected, "root_folder")
		}
	}
	if update.BitrateKbps != nil {
		if IsAllowedBitrate(*update.BitrateKbps) {
			lib.BitrateKbps = *update.BitrateKbps
		} else {
			rejected = append(rejected, "bitrate_kbps")
		}
	}
	if update.AudioMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*update.AudioMode))
		if IsAudioMode(mode) {
			lib.AudioMode = mode
		} else {
			rejected = append(rejected, "audio_mode")
		}
	}
	return lib, rejected
}

// BookTimeout returns the per-book external tool deadline.
func (c *Config) BookTimeout() time.Duration {
	return time.Duration(c.Conversion.BookTimeoutSeconds) * time.Second
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}
