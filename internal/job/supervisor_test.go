package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/MATXBY/m4brew/internal/audio"
	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/convert"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/preflight"
	"github.com/MATXBY/m4brew/internal/testsupport"
)

func boolPtr(v bool) *bool { return &v }

func fakeRunnerFactory(behavior testsupport.FakeBehavior) func(*slog.Logger) job.Runner {
	return func(logger *slog.Logger) job.Runner {
		return batch.NewRunner(batch.Tools{
			Merge:    testsupport.NewFakeMerge(behavior),
			Remux:    testsupport.NewFakeRemux(behavior),
			Detector: &testsupport.StubDetector{Channels: audio.Stereo},
		}, convert.Options{
			MinOutputBytes:  5 * 1024 * 1024,
			VerifyContainer: true,
			BookTimeout:     time.Minute,
		}, logger)
	}
}

func newSupervisor(t *testing.T, cfg *config.Config, factory func(*slog.Logger) job.Runner) (*job.Supervisor, *history.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	sup, err := job.New(job.Options{
		Config:    cfg,
		NewRunner: factory,
		History:   store,
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return sup, store
}

func waitDone(t *testing.T, sup *job.Supervisor) job.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	return sup.Snapshot()
}

func startCode(err error) string {
	var se *job.StartError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func TestSnapshotBeforeAnyJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))
	if snap := sup.Snapshot(); snap.Status != job.StatusNone {
		t.Fatalf("expected none, got %q", snap.Status)
	}
	if _, ok := sup.Cancel(); ok {
		t.Fatal("cancel with no job should be a no-op")
	}
}

func TestStartRunsBatchToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MakeBook(t, cfg.Library.RootFolder, "Author", "Book", "01.mp3", "02.mp3")
	sup, store := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))

	started, err := sup.Start(job.StartRequest{Mode: "convert", DryRun: boolPtr(false)})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.ID == "" || started.Status != job.StatusRunning {
		t.Fatalf("unexpected start snapshot %+v", started)
	}

	snap := waitDone(t, sup)
	if snap.Status != job.StatusFinished || snap.ExitCode == nil || *snap.ExitCode != job.ExitSuccess {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if snap.Summary == nil || snap.Summary.Created != 1 || !snap.Summary.Success {
		t.Fatalf("unexpected summary %+v", snap.Summary)
	}
	if snap.Total != 1 || snap.Current != 1 {
		t.Fatalf("progress %d/%d", snap.Current, snap.Total)
	}

	again := sup.Snapshot()
	if again.RuntimeSeconds != snap.RuntimeSeconds || *again.Finished != *snap.Finished {
		t.Fatal("finished snapshot must be stable across polls")
	}

	rec, err := store.Get(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("history get: %v", err)
	}
	if rec.Status != history.StatusFinished || rec.Summary == nil || rec.Summary.Created != 1 {
		t.Fatalf("unexpected history record %+v", rec)
	}
}

func TestStartDefaultsToDryRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MakeBook(t, cfg.Library.RootFolder, "Author", "Book", "01.mp3")
	before := testsupport.ListTree(t, cfg.Library.RootFolder)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))

	snap, err := sup.Start(job.StartRequest{Mode: "convert"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !snap.DryRun {
		t.Fatal("omitted dry_run must mean a dry run")
	}
	waitDone(t, sup)
	after := testsupport.ListTree(t, cfg.Library.RootFolder)
	if strings.Join(before, "\n") != strings.Join(after, "\n") {
		t.Fatalf("dry run changed the tree:\n%v\n%v", before, after)
	}
}

func TestStartRejectsInvalidMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))
	_, err := sup.Start(job.StartRequest{Mode: "explode"})
	if code := startCode(err); code != job.CodeInvalidMode {
		t.Fatalf("expected invalid_mode, got %v", err)
	}
	if sup.Snapshot().Status != job.StatusNone {
		t.Fatal("rejected start must not create a job")
	}
}

func TestStartRejectsMissingRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))

	cases := map[string]string{
		filepath.Join(testsupport.BaseDir(cfg), "absent"): preflight.CodeFolderMissing,
		"relative/path": preflight.CodeNoRoot,
	}
	for root, want := range cases {
		_, err := sup.Start(job.StartRequest{Mode: "cleanup", RootFolder: root})
		if code := startCode(err); code != want {
			t.Fatalf("root %q: expected %s, got %v", root, want, err)
		}
	}
	// The slot must be free again after rejections.
	if _, err := sup.Start(job.StartRequest{Mode: "cleanup"}); err != nil {
		t.Fatalf("start after rejections: %v", err)
	}
	waitDone(t, sup)
}

func TestConcurrentStartsAdmitOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MakeBook(t, cfg.Library.RootFolder, "Author", "Book", "01.mp3")
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{Block: true}))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = sup.Start(job.StartRequest{Mode: "convert", DryRun: boolPtr(false)})
		}()
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case startCode(err) != job.CodeAlreadyRunning:
			t.Fatalf("unexpected rejection %v", err)
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admitted start, got %d", admitted)
	}
	sup.Cancel()
	waitDone(t, sup)
}

func TestForeignLockHolderBlocksStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	other := flock.New(cfg.Paths.LockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquire foreign lock: %v", err)
	}
	defer other.Unlock()

	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))
	_, err = sup.Start(job.StartRequest{Mode: "cleanup"})
	if code := startCode(err); code != job.CodeAlreadyRunning {
		t.Fatalf("expected already_running, got %v", err)
	}
}

func TestCancelStopsRunningJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	book := testsupport.MakeBook(t, cfg.Library.RootFolder, "Author", "Book", "01.mp3", "02.mp3")
	started := make(chan string, 1)
	sup, store := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{Block: true, Started: started}))

	if _, err := sup.Start(job.StartRequest{Mode: "convert", DryRun: boolPtr(false)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}

	snap, ok := sup.Cancel()
	if !ok || snap.Status != job.StatusCanceling || !snap.CancelRequested {
		t.Fatalf("unexpected cancel snapshot %+v", snap)
	}
	if _, again := sup.Cancel(); again {
		t.Fatal("second cancel must be a no-op")
	}

	final := waitDone(t, sup)
	if final.Status != job.StatusCanceled || final.ExitCode == nil || *final.ExitCode != job.ExitCanceled {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if _, err := os.Stat(filepath.Join(book, "Book.m4b")); !os.IsNotExist(err) {
		t.Fatal("canceled book must not produce an output")
	}
	entries, _ := os.ReadDir(book)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".m4brew-tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}

	other := flock.New(cfg.Paths.LockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock should be free after cancel: %v", err)
	}
	_ = other.Unlock()

	rec, err := store.Get(context.Background(), final.ID)
	if err != nil || rec.Status != history.StatusCanceled {
		t.Fatalf("history record %+v err %v", rec, err)
	}
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, batch.Request) batch.Summary {
	panic("boom")
}

func TestPanickingRunnerFinishesAsCrashed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, func(*slog.Logger) job.Runner { return panicRunner{} })

	if _, err := sup.Start(job.StartRequest{Mode: "cleanup"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitDone(t, sup)
	if snap.Status != job.StatusFinished || snap.Summary == nil || snap.Summary.Reason != batch.ReasonWorkerCrashed {
		t.Fatalf("unexpected crash snapshot %+v", snap)
	}
	if snap.Summary.Success || *snap.ExitCode != job.ExitFailure {
		t.Fatal("crashed job must not report success")
	}
	if _, err := sup.Start(job.StartRequest{Mode: "cleanup"}); err != nil {
		t.Fatalf("slot should be free after a crash: %v", err)
	}
	waitDone(t, sup)
}

type crashAfterTwoBooks struct{}

func (crashAfterTwoBooks) Run(_ context.Context, req batch.Request) batch.Summary {
	req.Events <- batch.Event{Type: batch.EventBookFinished, Index: 1, Total: 3, Book: "/lib/A/One", Outcome: "created"}
	req.Events <- batch.Event{Type: batch.EventBookFinished, Index: 2, Total: 3, Book: "/lib/A/Two", Outcome: "failed", Code: convert.CodeToolFailed}
	panic("boom")
}

func TestCrashedJobKeepsPartialCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, store := newSupervisor(t, cfg, func(*slog.Logger) job.Runner { return crashAfterTwoBooks{} })

	if _, err := sup.Start(job.StartRequest{Mode: "convert"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitDone(t, sup)
	sum := snap.Summary
	if sum == nil || sum.Reason != batch.ReasonWorkerCrashed || sum.Success {
		t.Fatalf("unexpected crash summary %+v", sum)
	}
	if sum.Mode != batch.ModeConvert || !sum.DryRun || sum.Created != 1 || sum.Failed != 1 || sum.WarningsCount != 1 {
		t.Fatalf("crash summary lost partial counts: %+v", sum)
	}
	rec, err := store.Get(context.Background(), snap.ID)
	if err != nil || rec.Summary == nil || rec.Summary.Reason != batch.ReasonWorkerCrashed || rec.Summary.Created != 1 {
		t.Fatalf("history record %+v err %v", rec, err)
	}
}

type finishHook struct {
	onFinish func()
	finished atomic.Int32
}

func (h *finishHook) Begin(context.Context, history.Record) error { return nil }

func (h *finishHook) Finish(context.Context, string, string, int, batch.Summary, time.Time) error {
	if h.onFinish != nil {
		h.onFinish()
	}
	h.finished.Add(1)
	return nil
}

func TestSlotStaysBusyUntilJobIsFinalised(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	hook := &finishHook{}
	sup, err := job.New(job.Options{
		Config:    cfg,
		NewRunner: fakeRunnerFactory(testsupport.FakeBehavior{}),
		History:   hook,
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	var duringFinish error
	hook.onFinish = func() {
		_, duringFinish = sup.Start(job.StartRequest{Mode: "cleanup"})
	}

	first, err := sup.Start(job.StartRequest{Mode: "cleanup"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitDone(t, sup)
	if snap.ID != first.ID || !snap.Status.Terminal() {
		t.Fatalf("wait returned for the wrong job: %+v", snap)
	}
	if hook.finished.Load() != 1 {
		t.Fatal("wait returned before history was updated")
	}
	if code := startCode(duringFinish); code != job.CodeAlreadyRunning {
		t.Fatalf("start during finalisation should be rejected, got %v", duringFinish)
	}

	hook.onFinish = nil
	if _, err := sup.Start(job.StartRequest{Mode: "cleanup"}); err != nil {
		t.Fatalf("slot should be free once finalised: %v", err)
	}
	waitDone(t, sup)
}

func TestJobLogCarriesHeaderAndSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MakeBook(t, cfg.Library.RootFolder, "Author", "Book", "01.mp3")
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))

	if _, err := sup.Start(job.StartRequest{Mode: "convert"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitDone(t, sup)
	data, err := os.ReadFile(snap.LogPath)
	if err != nil {
		t.Fatalf("read job log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "Running MODE=convert DRY_RUN=true") {
		t.Fatalf("missing header in %q", text)
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var line batch.Summary
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &line); err != nil || line.Mode != batch.ModeConvert || !line.DryRun {
		t.Fatalf("missing summary line in %q: %v", text, err)
	}
}

func TestSubscribersSeeTerminalUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))
	updates, unsubscribe := sup.Subscribe(256)
	defer unsubscribe()

	if _, err := sup.Start(job.StartRequest{Mode: "cleanup"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, sup)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Snapshot.Status.Terminal() {
				return
			}
		case <-deadline:
			t.Fatal("no terminal update received")
		}
	}
}

func TestUpdateLibraryAppliesToNextJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup, _ := newSupervisor(t, cfg, fakeRunnerFactory(testsupport.FakeBehavior{}))

	bitrate, bad := 96, 100
	mode := "stereo"
	lib, rejected := sup.UpdateLibrary(config.SettingsUpdate{BitrateKbps: &bitrate, AudioMode: &mode})
	if len(rejected) != 0 || lib.BitrateKbps != 96 {
		t.Fatalf("update rejected %v lib %+v", rejected, lib)
	}
	if _, rejected = sup.UpdateLibrary(config.SettingsUpdate{BitrateKbps: &bad}); len(rejected) != 1 {
		t.Fatalf("expected bitrate rejection, got %v", rejected)
	}

	snap, err := sup.Start(job.StartRequest{Mode: "cleanup"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Settings.Bitrate != 96 || snap.Settings.AudioMode != "stereo" {
		t.Fatalf("job did not pick up saved settings: %+v", snap.Settings)
	}
	waitDone(t, sup)
}
