package batch

import (
	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/convert"
	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/tools/ffmpeg"
	"github.com/MATXBY/m4brew/internal/tools/m4btool"
)

// ToolsFromConfig binds the real external binaries named in cfg.Tools.
func ToolsFromConfig(cfg *config.Config) Tools {
	return Tools{
		Merge:    m4btool.New(cfg.Tools.M4BTool),
		Remux:    ffmpeg.New(cfg.Tools.FFmpeg),
		Detector: audio.FFprobeDetector{Binary: cfg.Tools.FFprobe},
	}
}

// OptionsFromConfig returns the conversion tuning from cfg. Bitrate, policy
// and dry run are filled per request.
func OptionsFromConfig(cfg *config.Config) convert.Options {
	return convert.Options{
		BitrateKbps:     cfg.Library.BitrateKbps,
		Policy:          audio.NormalizePolicy(cfg.Library.AudioMode),
		MinOutputBytes:  cfg.Conversion.MinOutputBytes,
		VerifyContainer: cfg.Conversion.VerifyContainer,
		BookTimeout:     cfg.BookTimeout(),
		Order:           library.ComparatorByName(cfg.Conversion.Order),
		MergeJobs:       cfg.Conversion.MergeJobs,
	}
}
