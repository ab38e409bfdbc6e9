// Package ffmpeg remuxes a single M4A into an .m4b container with stream copy.
package ffmpeg

import (
	"context"
	"strings"

	"github.com/MATXBY/m4brew/internal/services"
	"github.com/MATXBY/m4brew/internal/tools"
)

// Client implements tools.RemuxTool.
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

func New(binary string, opts ...Option) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	c := &Client{binary: binary, exec: tools.CommandExecutor{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "ffmpeg" }

// Command returns the full argv. The muxer is pinned to ipod so the output
// name does not influence the container.
func (c *Client) Command(req tools.RemuxRequest) []string {
	argv := []string{
		c.binary,
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", req.Input,
		"-map", "0:a", "-map_metadata", "0", "-map_chapters", "0",
		"-c", "copy",
	}
	if req.Title != "" {
		argv = append(argv, "-metadata", "title="+req.Title)
	}
	if req.Artist != "" {
		argv = append(argv, "-metadata", "artist="+req.Artist)
	}
	if req.Album != "" {
		argv = append(argv, "-metadata", "album="+req.Album)
	}
	return append(argv, "-f", "ipod", req.Output)
}

func (c *Client) Remux(ctx context.Context, req tools.RemuxRequest, onOutput func(string)) error {
	if req.Input == "" || req.Output == "" {
		return services.Wrap(services.ErrValidation, "remux", "build command", "input and output are required", nil)
	}
	argv := c.Command(req)
	if err := c.exec.Run(ctx, argv[0], argv[1:], onOutput); err != nil {
		return services.Wrap(services.ErrExternalTool, "remux", c.Name(), req.Input, err)
	}
	return nil
}
