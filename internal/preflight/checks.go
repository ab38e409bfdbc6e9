package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/deps"
)

// Result reports the outcome of a single health check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLibraryRoot runs the start-time root checks as a status entry.
func CheckLibraryRoot(cfg *config.Config) Result {
	const name = "Library root"
	err := CheckRoot(RootCheck{
		Root:              cfg.Library.RootFolder,
		AllowedMounts:     cfg.Library.AllowedMounts,
		RequireMountpoint: cfg.Library.RequireMountpoint,
		NeedWrite:         true,
	})
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Library.RootFolder}
}

// CheckSystemDeps evaluates the external tools for the given config. The
// daemon and the CLI status command share this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "m4b-tool",
			Command:     cfg.Tools.M4BTool,
			Description: "Required to merge MP3 and multi-part M4A books",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Tools.FFmpeg,
			Description: "Required to remux single M4A books",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Tools.FFprobe,
			Description: "Detects source channel layout for the match policy",
			Optional:    true,
		},
	})
}

// RunAll executes the directory checks used by status views.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckLibraryRoot(cfg),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
}
