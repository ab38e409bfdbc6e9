package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Rejection codes returned to start requests.
const (
	CodeNoRoot        = "no_root"
	CodeFolderMissing = "folder_missing"
	CodeNotMounted    = "not_mounted"
	CodeWriteDenied   = "write_denied"
)

// Failure is a typed preflight rejection.
type Failure struct {
	Code   string
	Detail string
}

func (f *Failure) Error() string {
	return f.Code + ": " + f.Detail
}

// RootCheck describes the library root a job wants to use.
type RootCheck struct {
	Root              string
	AllowedMounts     []string
	RequireMountpoint bool
	// NeedWrite is false for dry runs, which never write.
	NeedWrite bool
}

// CheckRoot validates the root in order: set, exists, under an allowed
// mount, actually mounted (when required), writable.
func CheckRoot(check RootCheck) error {
	root := strings.TrimSpace(check.Root)
	if root == "" {
		return &Failure{Code: CodeNoRoot, Detail: "no root folder configured"}
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		return &Failure{Code: CodeNoRoot, Detail: fmt.Sprintf("root folder %q is not absolute", root)}
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Failure{Code: CodeFolderMissing, Detail: root + " does not exist"}
		}
		return &Failure{Code: CodeFolderMissing, Detail: fmt.Sprintf("stat %s: %v", root, err)}
	}
	if !info.IsDir() {
		return &Failure{Code: CodeFolderMissing, Detail: root + " is not a directory"}
	}

	mount := ""
	if len(check.AllowedMounts) > 0 {
		var ok bool
		mount, ok = allowedMount(root, check.AllowedMounts)
		if !ok {
			return &Failure{Code: CodeNotMounted, Detail: fmt.Sprintf("%s is not under an allowed mount (%s)", root, strings.Join(check.AllowedMounts, ", "))}
		}
	}
	if check.RequireMountpoint {
		mounted, err := withinMountpoint(root, mount)
		if err != nil {
			return &Failure{Code: CodeNotMounted, Detail: err.Error()}
		}
		if !mounted {
			return &Failure{Code: CodeNotMounted, Detail: root + " is not on a mounted filesystem; is the share connected?"}
		}
	}

	if check.NeedWrite {
		if err := unix.Access(root, unix.W_OK|unix.X_OK); err != nil {
			return &Failure{Code: CodeWriteDenied, Detail: fmt.Sprintf("%s is not writable: %v", root, err)}
		}
	}
	return nil
}

// allowedMount returns the longest allowed prefix containing root.
func allowedMount(root string, mounts []string) (string, bool) {
	best := ""
	for _, m := range mounts {
		m = filepath.Clean(strings.TrimSpace(m))
		if m == "." || m == "" {
			continue
		}
		if root == m || m == "/" || strings.HasPrefix(root, m+string(filepath.Separator)) {
			if len(m) > len(best) {
				best = m
			}
		}
	}
	return best, best != ""
}

// withinMountpoint walks from dir up to stop (or "/") and reports whether any
// directory on the way sits on a different device than its parent.
func withinMountpoint(dir, stop string) (bool, error) {
	if stop == "" {
		stop = "/"
	}
	current := dir
	for {
		if current == "/" {
			return false, nil
		}
		isMount, err := IsMountpoint(current)
		if err != nil {
			return false, err
		}
		if isMount {
			return true, nil
		}
		if current == stop {
			return false, nil
		}
		current = filepath.Dir(current)
	}
}

// IsMountpoint reports whether dir is the root of a mounted filesystem.
func IsMountpoint(dir string) (bool, error) {
	var self, parent unix.Stat_t
	if err := unix.Stat(dir, &self); err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if err := unix.Stat(filepath.Join(dir, ".."), &parent); err != nil {
		return false, fmt.Errorf("stat parent of %s: %w", dir, err)
	}
	if self.Dev != parent.Dev {
		return true, nil
	}
	return self.Ino == parent.Ino, nil
}
