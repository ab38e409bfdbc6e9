package logs

import (
	"context"
	"errors"
	"time"

	"github.com/MATXBY/m4brew/internal/api"
)

// EventSource is the part of api.Client Stream reads from.
type EventSource interface {
	Logs(ctx context.Context, since uint64, limit int, follow bool) (api.LogStreamResponse, error)
}

// StreamOptions controls Stream.
type StreamOptions struct {
	// Lines is the page size for the API and the tail size for the file.
	Lines  int
	Follow bool
	// FilePath is read when the daemon does not answer.
	FilePath string
}

const followWait = 5 * time.Second

// Stream emits daemon log events through onEvent, or raw lines of
// opts.FilePath through onLine when the daemon is unreachable. With Follow
// set it runs until ctx ends.
func Stream(ctx context.Context, source EventSource, opts StreamOptions, onEvent func(api.LogEvent), onLine func(string)) error {
	var since uint64
	for {
		resp, err := source.Logs(ctx, since, opts.Lines, opts.Follow && since > 0)
		if errors.Is(err, api.ErrDaemonUnavailable) && since == 0 {
			return streamFile(ctx, opts, onLine)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, event := range resp.Events {
			onEvent(event)
		}
		if resp.Next > since {
			since = resp.Next
		}
		if !opts.Follow {
			return nil
		}
		if len(resp.Events) == 0 && since == 0 {
			// Nothing logged yet; avoid a hot loop until the first event.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
		}
	}
}

func streamFile(ctx context.Context, opts StreamOptions, onLine func(string)) error {
	lines := opts.Lines
	if lines <= 0 {
		lines = 50
	}
	tail := TailOptions{Offset: -1, Lines: lines}
	for {
		result, err := Tail(ctx, opts.FilePath, tail)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range result.Lines {
			onLine(line)
		}
		if !opts.Follow {
			return nil
		}
		tail = TailOptions{Offset: result.Offset, Follow: true, Wait: followWait}
	}
}
