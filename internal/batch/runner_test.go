package batch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/convert"
	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/testsupport"
)

func newRunner(behavior testsupport.FakeBehavior) (*batch.Runner, *testsupport.FakeMerge, *testsupport.FakeRemux) {
	merge := testsupport.NewFakeMerge(behavior)
	remux := testsupport.NewFakeRemux(behavior)
	runner := batch.NewRunner(batch.Tools{
		Merge:    merge,
		Remux:    remux,
		Detector: &testsupport.StubDetector{Channels: audio.Stereo},
	}, convert.Options{
		MinOutputBytes:  5 * 1024 * 1024,
		VerifyContainer: true,
		BookTimeout:     time.Minute,
	}, logging.NewNop())
	return runner, merge, remux
}

func request(mode batch.Mode, root string, dryRun bool) batch.Request {
	return batch.Request{Mode: mode, DryRun: dryRun, Root: root, AudioMode: "mono", BitrateKbps: 64}
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

func TestConvertIsolatesFailingBook(t *testing.T) {
	root := t.TempDir()
	bookA := testsupport.MakeBook(t, root, "Author", "BookA", "01.mp3", "02.mp3")
	bookC := testsupport.MakeBook(t, root, "Author", "BookC", "01.mp3")
	runner, merge, _ := newRunner(testsupport.FakeBehavior{Fail: map[string]bool{"BookC": true}})

	summary := runner.Run(context.Background(), request(batch.ModeConvert, root, false))
	if summary.Created != 1 || summary.Failed != 1 || summary.Success {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !exists(t, filepath.Join(bookA, "BookA.m4b")) ||
		!exists(t, filepath.Join(bookA, library.BackupDirName, "01.mp3")) ||
		!exists(t, filepath.Join(bookA, library.BackupDirName, "02.mp3")) {
		t.Fatal("BookA should be converted and backed up")
	}
	if exists(t, filepath.Join(bookC, "BookC.m4b")) || exists(t, filepath.Join(bookC, library.BackupDirName)) {
		t.Fatal("BookC must be left untouched")
	}
	if !slices.Equal(summary.FailedBooks, []string{bookC}) {
		t.Fatalf("failed books %v", summary.FailedBooks)
	}
	if !slices.Contains(summary.Warnings, batch.Warning{Code: convert.CodeToolFailed, Book: bookC}) {
		t.Fatalf("expected tool_failed warning, got %v", summary.Warnings)
	}
	if reqs := merge.Requests(); len(reqs) != 2 || reqs[0].Channels != 1 {
		t.Fatalf("expected mono merges, got %+v", reqs)
	}
}

func TestConvertSingleM4ABook(t *testing.T) {
	root := t.TempDir()
	bookB := testsupport.MakeBook(t, root, "Author", "BookB", "part.m4a")
	runner, merge, remux := newRunner(testsupport.FakeBehavior{})

	summary := runner.Run(context.Background(), request(batch.ModeConvert, root, false))
	if summary.Created != 1 || !summary.Success {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(merge.Calls()) != 0 || len(remux.Calls()) != 1 {
		t.Fatalf("expected remux path, merge=%v remux=%v", merge.Calls(), remux.Calls())
	}
	if !exists(t, filepath.Join(bookB, "BookB.m4b")) || !exists(t, filepath.Join(bookB, library.BackupDirName, "part.m4a")) {
		t.Fatal("BookB should be converted and backed up")
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "One", "01.mp3")
	testsupport.MakeBook(t, root, "A", "Two", "a.m4a", "b.m4a")
	testsupport.MakeBook(t, root, "B", "Three", "x.m4a")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	first := runner.Run(context.Background(), request(batch.ModeConvert, root, false))
	if first.Created != 3 {
		t.Fatalf("first run created %d", first.Created)
	}
	second := runner.Run(context.Background(), request(batch.ModeConvert, root, false))
	if second.Created != 0 || second.Skipped != 3 || !second.Success {
		t.Fatalf("second run %+v", second)
	}
}

func TestConvertIgnoresEmptyBooks(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "Empty", "cover.jpg")
	testsupport.MakeBook(t, root, "A", "Done", "Done.m4b")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	events := make(chan batch.Event, 64)
	req := request(batch.ModeConvert, root, false)
	req.Events = events
	summary := runner.Run(context.Background(), req)
	close(events)

	if summary.Created+summary.Skipped+summary.Failed != 1 {
		t.Fatalf("empty book should be excluded from counts: %+v", summary)
	}
	first := <-events
	if first.Type != batch.EventRunStarted || first.Total != 1 {
		t.Fatalf("unexpected first event %+v", first)
	}
}

func TestConvertDryRunLeavesTreeIdentical(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "One", "01.mp3", "02.mp3", "extra.m4a")
	testsupport.MakeBook(t, root, "A", "Two", "part.m4a")
	testsupport.MakeBook(t, root, "B", "Three", "a.m4a", "b.m4a")
	before := testsupport.ListTree(t, root)
	runner, merge, remux := newRunner(testsupport.FakeBehavior{})

	summary := runner.Run(context.Background(), request(batch.ModeConvert, root, true))
	if summary.Created != 3 || !summary.DryRun {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !slices.Contains(summary.Warnings, batch.Warning{Code: convert.CodeMixedSources, Book: filepath.Join(root, "A", "One")}) {
		t.Fatalf("expected mixed_sources note, got %v", summary.Warnings)
	}
	if len(merge.Calls())+len(remux.Calls()) != 0 {
		t.Fatal("dry run must not invoke tools")
	}
	if after := testsupport.ListTree(t, root); !slices.Equal(before, after) {
		t.Fatalf("dry run changed the tree\nbefore %v\nafter  %v", before, after)
	}
}

func TestCorrectRenamesOnceAndSkipsAmbiguous(t *testing.T) {
	root := t.TempDir()
	one := testsupport.MakeBook(t, root, "Author", "Book", "Book.m4b")
	testsupport.MakeBook(t, root, "Author", "Two", "a.m4b", "b.m4b")
	testsupport.MakeBook(t, root, "Author", "None", "01.mp3")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	first := runner.Run(context.Background(), request(batch.ModeCorrect, root, false))
	if first.Renamed != 1 || first.SkippedMultiple != 1 || first.SkippedNone != 1 || !first.Success {
		t.Fatalf("first run %+v", first)
	}
	if !exists(t, filepath.Join(one, "Book - Author.m4b")) {
		t.Fatal("expected renamed file")
	}

	second := runner.Run(context.Background(), request(batch.ModeCorrect, root, false))
	if second.Renamed != 0 || second.SkippedMultiple != 1 {
		t.Fatalf("second run %+v", second)
	}
	if !exists(t, filepath.Join(root, "Author", "Two", "a.m4b")) || !exists(t, filepath.Join(root, "Author", "Two", "b.m4b")) {
		t.Fatal("ambiguous book must not be renamed")
	}
}

func TestCorrectDryRun(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "Author", "Book", "whatever.m4b")
	before := testsupport.ListTree(t, root)
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	summary := runner.Run(context.Background(), request(batch.ModeCorrect, root, true))
	if summary.Renamed != 1 {
		t.Fatalf("dry run should preview the rename: %+v", summary)
	}
	if after := testsupport.ListTree(t, root); !slices.Equal(before, after) {
		t.Fatal("dry run changed the tree")
	}
}

func TestCorrectDryRunReportsExistingTarget(t *testing.T) {
	root := t.TempDir()
	book := testsupport.MakeBook(t, root, "Author", "Book", "old name.m4b")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})
	// A folder already holds the target name, so there is one .m4b to
	// consider but the rename cannot happen.
	if err := os.Mkdir(filepath.Join(book, "Book - Author.m4b"), 0o755); err != nil {
		t.Fatal(err)
	}

	dry := runner.Run(context.Background(), request(batch.ModeCorrect, root, true))
	applied := runner.Run(context.Background(), request(batch.ModeCorrect, root, false))
	for name, summary := range map[string]batch.Summary{"dry run": dry, "real run": applied} {
		if summary.Renamed != 0 || summary.Failed != 1 || summary.Success {
			t.Fatalf("%s: unexpected summary %+v", name, summary)
		}
		if !slices.Contains(summary.Warnings, batch.Warning{Code: batch.CodeRenameFailed, Book: book}) {
			t.Fatalf("%s: expected rename_failed warning, got %v", name, summary.Warnings)
		}
	}
	if !exists(t, filepath.Join(book, "old name.m4b")) {
		t.Fatal("source must stay in place")
	}
}

func TestUnreadableFoldersDoNotStopTheRun(t *testing.T) {
	root := t.TempDir()
	good := testsupport.MakeBook(t, root, "Author", "BookA", "01.mp3", "02.mp3")
	testsupport.MakeBook(t, root, "Author", filepath.Join("BookA", library.BackupDirName), "old.mp3")
	locked := testsupport.MakeBook(t, root, "Zed", "Locked", "01.mp3")
	testsupport.MakeUnreadable(t, locked)
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	converted := runner.Run(context.Background(), request(batch.ModeConvert, root, false))
	if converted.Reason != "" || converted.Created != 1 || converted.Failed != 1 || converted.Success {
		t.Fatalf("convert: unexpected summary %+v", converted)
	}
	if !exists(t, filepath.Join(good, "BookA.m4b")) {
		t.Fatal("readable book should still be converted")
	}
	want := batch.Warning{Code: batch.CodeReadFailed, Book: locked}
	if !slices.Contains(converted.Warnings, want) || !slices.Equal(converted.FailedBooks, []string{locked}) {
		t.Fatalf("convert: expected read_failed for %s, got %+v", locked, converted)
	}

	corrected := runner.Run(context.Background(), request(batch.ModeCorrect, root, true))
	if corrected.Reason != "" || corrected.Renamed != 1 || corrected.Failed != 1 || !slices.Contains(corrected.Warnings, want) {
		t.Fatalf("correct: unexpected summary %+v", corrected)
	}

	cleaned := runner.Run(context.Background(), request(batch.ModeCleanup, root, false))
	if cleaned.Reason != "" || cleaned.Deleted != 1 || cleaned.Failed != 1 || !slices.Contains(cleaned.Warnings, want) {
		t.Fatalf("cleanup: unexpected summary %+v", cleaned)
	}
	if exists(t, filepath.Join(good, library.BackupDirName)) {
		t.Fatal("readable backup folder should be deleted")
	}
}

func TestCleanupDeletesEveryBackupDir(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", filepath.Join("One", library.BackupDirName), "01.mp3")
	testsupport.MakeBook(t, root, "B", filepath.Join("Two", "Disc", library.BackupDirName), "02.mp3")
	testsupport.MakeBook(t, root, "B", "Two", "Two.m4b")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	dry := runner.Run(context.Background(), request(batch.ModeCleanup, root, true))
	if dry.Deleted != 2 || !exists(t, filepath.Join(root, "A", "One", library.BackupDirName)) {
		t.Fatalf("dry run should only preview: %+v", dry)
	}

	applied := runner.Run(context.Background(), request(batch.ModeCleanup, root, false))
	if applied.Deleted != 2 || !applied.Success {
		t.Fatalf("unexpected summary %+v", applied)
	}
	if exists(t, filepath.Join(root, "A", "One", library.BackupDirName)) ||
		exists(t, filepath.Join(root, "B", "Two", "Disc", library.BackupDirName)) {
		t.Fatal("backup folders should be gone")
	}
	if !exists(t, filepath.Join(root, "B", "Two", "Two.m4b")) {
		t.Fatal("cleanup must not touch books")
	}
}

func TestEveryModeReportsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "absent")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})
	for _, mode := range []batch.Mode{batch.ModeConvert, batch.ModeCorrect, batch.ModeCleanup} {
		summary := runner.Run(context.Background(), request(mode, root, false))
		if summary.Success || summary.Reason != batch.ReasonRootMissing {
			t.Fatalf("%s: unexpected summary %+v", mode, summary)
		}
	}
}

func TestTranscriptHasHeaderAndSummaryLine(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "One", "01.mp3")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	var buf bytes.Buffer
	req := request(batch.ModeConvert, root, true)
	req.Transcript = &buf
	summary := runner.Run(context.Background(), req)

	out := buf.String()
	if !strings.Contains(out, "Running MODE=convert DRY_RUN=true\nROOT_FOLDER="+root+"\nAUDIO_MODE=mono\nBITRATE=64\n\n") {
		t.Fatalf("missing header in %q", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	var parsed batch.Summary
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &parsed); err != nil {
		t.Fatalf("last line is not a summary: %v", err)
	}
	if parsed.Created != summary.Created || parsed.Mode != batch.ModeConvert {
		t.Fatalf("parsed %+v, want %+v", parsed, summary)
	}
}

func TestCanceledContextStopsBeforeWork(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "One", "01.mp3")
	runner, merge, _ := newRunner(testsupport.FakeBehavior{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := runner.Run(ctx, request(batch.ModeConvert, root, false))
	if summary.Reason != batch.ReasonCanceled || summary.Success {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(merge.Calls()) != 0 {
		t.Fatal("no book should start after cancel")
	}
}

func TestEventsTrackProgress(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", "One", "01.mp3")
	testsupport.MakeBook(t, root, "A", "Two", "x.m4a")
	runner, _, _ := newRunner(testsupport.FakeBehavior{})

	events := make(chan batch.Event, 64)
	req := request(batch.ModeConvert, root, false)
	req.Events = events
	runner.Run(context.Background(), req)
	close(events)

	var types []batch.EventType
	var last batch.Event
	for ev := range events {
		if ev.Type != batch.EventStage {
			types = append(types, ev.Type)
		}
		last = ev
	}
	want := []batch.EventType{
		batch.EventRunStarted,
		batch.EventBookStarted, batch.EventBookFinished,
		batch.EventBookStarted, batch.EventBookFinished,
		batch.EventRunFinished,
	}
	if !slices.Equal(types, want) {
		t.Fatalf("event order %v", types)
	}
	if last.Summary == nil || last.Summary.Created != 2 || last.Total != 2 {
		t.Fatalf("unexpected final event %+v", last)
	}
}
