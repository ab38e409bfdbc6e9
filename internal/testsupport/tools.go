package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/tools"
)

// DefaultFakeOutputSize clears the default 5 MiB undersized-output threshold.
const DefaultFakeOutputSize = 6 * 1024 * 1024

// ErrFakeTool is returned by fake tools for books configured to fail.
var ErrFakeTool = errors.New("fake tool exited with status 1")

// FakeBehavior controls what a fake tool does per book. Books are matched by
// the base name of the output's directory.
type FakeBehavior struct {
	// OutputSize is the number of bytes written; zero means DefaultFakeOutputSize.
	OutputSize int
	// Fail lists books whose invocation exits non-zero after a partial write.
	Fail map[string]bool
	// NoOutput lists books that report success without writing anything.
	NoOutput map[string]bool
	// Block makes every call wait for cancellation after a partial write.
	Block bool
	// Started receives the book name as each call begins when non-nil.
	Started chan string
}

type fakeCore struct {
	behavior FakeBehavior
	mu       sync.Mutex
	calls    []string
}

func (f *fakeCore) run(ctx context.Context, output string, onOutput func(string)) error {
	book := filepath.Base(filepath.Dir(output))
	f.mu.Lock()
	f.calls = append(f.calls, book)
	f.mu.Unlock()

	if f.behavior.Started != nil {
		select {
		case f.behavior.Started <- book:
		default:
		}
	}
	if onOutput != nil {
		onOutput("processing " + book)
	}
	if f.behavior.NoOutput[book] {
		return nil
	}
	if f.behavior.Fail[book] || f.behavior.Block {
		if err := os.WriteFile(output, []byte("partial"), 0o644); err != nil {
			return err
		}
	}
	if f.behavior.Block {
		<-ctx.Done()
		return fmt.Errorf("fake tool interrupted: %w", ctx.Err())
	}
	if f.behavior.Fail[book] {
		return ErrFakeTool
	}
	size := f.behavior.OutputSize
	if size == 0 {
		size = DefaultFakeOutputSize
	}
	return os.WriteFile(output, MinimalM4B(size), 0o644)
}

// Calls returns the books the fake was invoked for, in order.
func (f *fakeCore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeMerge is an in-process tools.MergeTool.
type FakeMerge struct {
	fakeCore
	reqMu    sync.Mutex
	requests []tools.MergeRequest
}

// NewFakeMerge returns a merge fake with the given behavior.
func NewFakeMerge(behavior FakeBehavior) *FakeMerge {
	return &FakeMerge{fakeCore: fakeCore{behavior: behavior}}
}

func (f *FakeMerge) Name() string { return "fake-merge" }

func (f *FakeMerge) Command(req tools.MergeRequest) []string {
	argv := []string{"fake-merge", "--output-file=" + req.Output, fmt.Sprintf("--audio-channels=%d", req.Channels)}
	return append(argv, req.Inputs...)
}

func (f *FakeMerge) Merge(ctx context.Context, req tools.MergeRequest, onOutput func(string)) error {
	f.reqMu.Lock()
	f.requests = append(f.requests, req)
	f.reqMu.Unlock()
	return f.run(ctx, req.Output, onOutput)
}

// Requests returns the merge requests received.
func (f *FakeMerge) Requests() []tools.MergeRequest {
	f.reqMu.Lock()
	defer f.reqMu.Unlock()
	return append([]tools.MergeRequest(nil), f.requests...)
}

// FakeRemux is an in-process tools.RemuxTool.
type FakeRemux struct {
	fakeCore
}

// NewFakeRemux returns a remux fake with the given behavior.
func NewFakeRemux(behavior FakeBehavior) *FakeRemux {
	return &FakeRemux{fakeCore: fakeCore{behavior: behavior}}
}

func (f *FakeRemux) Name() string { return "fake-remux" }

func (f *FakeRemux) Command(req tools.RemuxRequest) []string {
	return []string{"fake-remux", "-i", req.Input, "-c", "copy", req.Output}
}

func (f *FakeRemux) Remux(ctx context.Context, req tools.RemuxRequest, onOutput func(string)) error {
	return f.run(ctx, req.Output, onOutput)
}

// StubDetector is an audio.Detector returning a fixed layout.
type StubDetector struct {
	Channels audio.Channels
	Err      error
	calls    atomic.Int32
}

func (s *StubDetector) Detect(context.Context, string) (audio.Channels, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return audio.Stereo, s.Err
	}
	if s.Channels == 0 {
		return audio.Stereo, nil
	}
	return s.Channels, nil
}

// Calls reports how many times Detect ran.
func (s *StubDetector) Calls() int {
	return int(s.calls.Load())
}
