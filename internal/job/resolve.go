package job

import (
	"strings"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
)

// Plan is a start request with every default applied.
type Plan struct {
	Mode        batch.Mode
	DryRun      bool
	Root        string
	AudioMode   string
	BitrateKbps int
}

// Resolve validates req against the saved library settings. Only the mode is
// strict; an unknown audio mode becomes match and a disallowed bitrate falls
// back to the saved one.
func Resolve(req StartRequest, lib config.Library) (Plan, error) {
	mode, ok := batch.ParseMode(req.Mode)
	if !ok {
		return Plan{}, &StartError{Code: CodeInvalidMode, Detail: "mode must be convert, correct or cleanup"}
	}
	plan := Plan{
		Mode:        mode,
		DryRun:      true,
		Root:        strings.TrimSpace(req.RootFolder),
		AudioMode:   string(audio.NormalizePolicy(req.AudioMode)),
		BitrateKbps: req.BitrateKbps,
	}
	if req.DryRun != nil {
		plan.DryRun = *req.DryRun
	}
	if plan.Root == "" {
		plan.Root = lib.RootFolder
	}
	if strings.TrimSpace(req.AudioMode) == "" {
		plan.AudioMode = string(audio.NormalizePolicy(lib.AudioMode))
	}
	if !config.IsAllowedBitrate(plan.BitrateKbps) {
		plan.BitrateKbps = lib.BitrateKbps
	}
	if !config.IsAllowedBitrate(plan.BitrateKbps) {
		plan.BitrateKbps = config.Default().Library.BitrateKbps
	}
	return plan, nil
}
