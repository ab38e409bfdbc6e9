package logs_test

import (
	"context"
	"slices"
	"testing"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/logs"
)

type fakeSource struct {
	pages []api.LogStreamResponse
	err   error
	calls []uint64
}

func (f *fakeSource) Logs(_ context.Context, since uint64, _ int, _ bool) (api.LogStreamResponse, error) {
	f.calls = append(f.calls, since)
	if f.err != nil {
		return api.LogStreamResponse{}, f.err
	}
	if len(f.pages) == 0 {
		return api.LogStreamResponse{Next: since}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func TestStreamPrefersAPI(t *testing.T) {
	source := &fakeSource{pages: []api.LogStreamResponse{{
		Events: []api.LogEvent{{Sequence: 1, Message: "one"}, {Sequence: 2, Message: "two"}},
		Next:   2,
	}}}
	var got []string
	err := logs.Stream(context.Background(), source, logs.StreamOptions{Lines: 10},
		func(e api.LogEvent) { got = append(got, e.Message) },
		func(string) { t.Fatal("file fallback used while API answered") },
	)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("events = %v", got)
	}
}

func TestStreamFallsBackToFile(t *testing.T) {
	path := writeLog(t, "l1\nl2\nl3\n")
	source := &fakeSource{err: api.ErrDaemonUnavailable}

	var got []string
	err := logs.Stream(context.Background(), source, logs.StreamOptions{Lines: 2, FilePath: path},
		func(api.LogEvent) { t.Fatal("unexpected API event") },
		func(line string) { got = append(got, line) },
	)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !slices.Equal(got, []string{"l2", "l3"}) {
		t.Fatalf("lines = %v", got)
	}
}
