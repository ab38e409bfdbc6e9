// Package m4btool drives `m4b-tool merge`, which re-encodes and concatenates
// a book's sources into one chapterised .m4b.
package m4btool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MATXBY/m4brew/internal/services"
	"github.com/MATXBY/m4brew/internal/tools"
)

// Client implements tools.MergeTool.
type Client struct {
	binary string
	exec   tools.Executor
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (used in tests).
func WithExecutor(exec tools.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// New constructs a client for the given binary name or path.
func New(binary string, opts ...Option) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = "m4b-tool"
	}
	c := &Client{binary: binary, exec: tools.CommandExecutor{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "m4b-tool" }

// Command returns the full argv, binary first.
func (c *Client) Command(req tools.MergeRequest) []string {
	args := []string{
		"merge",
		"--no-interaction",
		"--output-file=" + req.Output,
	}
	if req.BitrateKbps > 0 {
		args = append(args, "--audio-bitrate="+strconv.Itoa(req.BitrateKbps)+"k")
	}
	if req.Channels > 0 {
		args = append(args, "--audio-channels="+strconv.Itoa(req.Channels))
	}
	if req.Title != "" {
		args = append(args, "--name="+req.Title)
	}
	if req.Artist != "" {
		args = append(args, "--artist="+req.Artist)
	}
	if req.Album != "" {
		args = append(args, "--album="+req.Album)
	}
	if req.Jobs > 1 {
		args = append(args, "--jobs="+strconv.Itoa(req.Jobs))
	}
	args = append(args, "--")
	args = append(args, req.Inputs...)
	return append([]string{c.binary}, args...)
}

// Merge runs the merge. Failures are tagged with services.ErrExternalTool.
func (c *Client) Merge(ctx context.Context, req tools.MergeRequest, onOutput func(string)) error {
	if len(req.Inputs) == 0 {
		return services.Wrap(services.ErrValidation, "merge", "build command", "no input files", nil)
	}
	if req.Output == "" {
		return services.Wrap(services.ErrValidation, "merge", "build command", "no output path", nil)
	}
	argv := c.Command(req)
	if err := c.exec.Run(ctx, argv[0], argv[1:], onOutput); err != nil {
		return services.Wrap(services.ErrExternalTool, "merge", c.Name(), fmt.Sprintf("%d inputs", len(req.Inputs)), err)
	}
	return nil
}
