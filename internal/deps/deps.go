// Package deps reports whether the external programs m4brew drives are
// installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names one external program.
type Requirement struct {
	Name        string
	Command     string
	Description string
	// Optional programs degrade a feature when missing instead of
	// blocking runs.
	Optional bool
}

// Status is the outcome of looking up a Requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Path        string `json:"path,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Check resolves req.Command on PATH (or as a path).
func Check(req Requirement) Status {
	st := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(st.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found", st.Command)
		return st
	}
	st.Available, st.Path = true, path
	return st
}

// CheckBinaries runs Check over reqs, preserving order.
func CheckBinaries(reqs []Requirement) []Status {
	out := make([]Status, len(reqs))
	for i, req := range reqs {
		out[i] = Check(req)
	}
	return out
}

// MissingRequired filters statuses down to unavailable, non-optional ones.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, st := range statuses {
		if st.Optional || st.Available {
			continue
		}
		missing = append(missing, st)
	}
	return missing
}
