package config

const (
	defaultConfigPath         = "~/.config/m4brew/config.toml"
	defaultStateDir           = "~/.local/share/m4brew"
	defaultLogDir             = "~/.local/share/m4brew/logs"
	defaultLockName           = "m4brew.lock"
	defaultHistoryName        = "history.db"
	defaultAPIBind            = "127.0.0.1:8080"
	defaultRootFolder         = "/mnt/remotes/192.168.4.4_media/Audiobooks"
	defaultAudioMode          = "match"
	defaultBitrateKbps        = 64
	defaultBookTimeoutSeconds = 60 * 60
	defaultMinOutputBytes     = 5 * 1024 * 1024
	defaultOrder              = "natural"
	defaultMergeJobs          = 2
	defaultM4BTool            = "m4b-tool"
	defaultFFmpeg             = "ffmpeg"
	defaultFFprobe            = "ffprobe"
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Library: Library{
			RootFolder:  defaultRootFolder,
			AudioMode:   defaultAudioMode,
			BitrateKbps: defaultBitrateKbps,
		},
		Conversion: Conversion{
			BookTimeoutSeconds: defaultBookTimeoutSeconds,
			MinOutputBytes:     defaultMinOutputBytes,
			VerifyContainer:    true,
			Order:              defaultOrder,
			MergeJobs:          defaultMergeJobs,
		},
		Tools: Tools{
			M4BTool: defaultM4BTool,
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobCompleted:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
