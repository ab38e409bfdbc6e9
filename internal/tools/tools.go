// Package tools defines the capability seams for the external programs that
// build .m4b files, plus the subprocess executor they share.
//
// The conversion executor only depends on MergeTool and RemuxTool; concrete
// implementations live in the m4btool and ffmpeg subpackages and tests use
// in-process fakes.
package tools

import "context"

// MergeRequest describes a re-encoding merge of several sources into one book.
type MergeRequest struct {
	// Inputs are absolute source paths in playback order.
	Inputs      []string
	Output      string
	BitrateKbps int
	Channels    int
	Title       string
	Artist      string
	Album       string
	Jobs        int
}

// RemuxRequest describes a stream-copy of a single source into a book container.
type RemuxRequest struct {
	Input  string
	Output string
	Title  string
	Artist string
	Album  string
}

// MergeTool re-encodes and concatenates sources (MP3 or multi-part M4A).
type MergeTool interface {
	Name() string
	// Command returns the argv that Merge would run, for dry-run previews.
	Command(req MergeRequest) []string
	Merge(ctx context.Context, req MergeRequest, onOutput func(string)) error
}

// RemuxTool copies a single M4A's audio into an .m4b without re-encoding.
type RemuxTool interface {
	Name() string
	Command(req RemuxRequest) []string
	Remux(ctx context.Context, req RemuxRequest, onOutput func(string)) error
}
