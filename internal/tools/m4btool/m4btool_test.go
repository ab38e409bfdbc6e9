package m4btool

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MATXBY/m4brew/internal/services"
	"github.com/MATXBY/m4brew/internal/tools"
)

type recordingExecutor struct {
	binary string
	args   []string
	err    error
}

func (r *recordingExecutor) Run(_ context.Context, binary string, args []string, onOutput func(string)) error {
	r.binary = binary
	r.args = append([]string(nil), args...)
	if onOutput != nil {
		onOutput("merging")
	}
	return r.err
}

func TestCommandIncludesEncodingOptions(t *testing.T) {
	client := New("/usr/local/bin/m4b-tool")
	argv := client.Command(tools.MergeRequest{
		Inputs:      []string{"/b/01.mp3", "/b/02.mp3"},
		Output:      "/b/.m4brew-tmp-A - B.m4b",
		BitrateKbps: 64,
		Channels:    1,
		Title:       "B",
		Artist:      "A",
		Album:       "B",
		Jobs:        4,
	})
	want := []string{
		"/usr/local/bin/m4b-tool", "merge", "--no-interaction",
		"--output-file=/b/.m4brew-tmp-A - B.m4b",
		"--audio-bitrate=64k", "--audio-channels=1",
		"--name=B", "--artist=A", "--album=B", "--jobs=4",
		"--", "/b/01.mp3", "/b/02.mp3",
	}
	if !slices.Equal(argv, want) {
		t.Fatalf("argv mismatch\n got: %q\nwant: %q", argv, want)
	}
}

func TestMergeDelegatesToExecutor(t *testing.T) {
	exec := &recordingExecutor{}
	client := New("", WithExecutor(exec))
	var lines []string
	err := client.Merge(context.Background(), tools.MergeRequest{Inputs: []string{"/b/01.mp3"}, Output: "/b/out.m4b"}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if exec.binary != "m4b-tool" {
		t.Fatalf("binary = %q", exec.binary)
	}
	if exec.args[0] != "merge" || exec.args[len(exec.args)-1] != "/b/01.mp3" {
		t.Fatalf("unexpected args %q", exec.args)
	}
	if len(lines) != 1 {
		t.Fatalf("expected output callback, got %v", lines)
	}
}

func TestMergeWrapsFailure(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("exit status 1")}
	client := New("m4b-tool", WithExecutor(exec))
	err := client.Merge(context.Background(), tools.MergeRequest{Inputs: []string{"a.mp3"}, Output: "out.m4b"}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestMergeRejectsEmptyInputs(t *testing.T) {
	exec := &recordingExecutor{}
	err := New("m4b-tool", WithExecutor(exec)).Merge(context.Background(), tools.MergeRequest{Output: "out.m4b"}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if exec.binary != "" {
		t.Fatal("executor should not run")
	}
}
