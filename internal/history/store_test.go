package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/services"
	"github.com/MATXBY/m4brew/internal/testsupport"
)

func TestBeginFinishAndList(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Begin(ctx, history.Record{ID: "a", Mode: "convert", DryRun: true, RootFolder: "/lib", AudioMode: "mono", BitrateKbps: 64, StartedAt: start}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Begin(ctx, history.Record{ID: "b", Mode: "cleanup", StartedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	summary := batch.Summary{Success: true, Mode: batch.ModeConvert, DryRun: true, Created: 3, Warnings: []batch.Warning{}}
	if err := store.Finish(ctx, "a", history.StatusFinished, 0, summary, start.Add(time.Minute)); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].ID != "b" {
		t.Fatalf("expected newest first, got %+v", records)
	}
	got := records[1]
	if got.Status != history.StatusFinished || !got.DryRun || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Summary == nil || got.Summary.Created != 3 {
		t.Fatalf("summary not stored: %+v", got.Summary)
	}
	if !got.StartedAt.Equal(start) {
		t.Fatalf("started_at %v", got.StartedAt)
	}
}

func TestMarkInterrupted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if err := store.Begin(ctx, history.Record{ID: "stuck", Mode: "convert", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	n, err := store.MarkInterrupted(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("MarkInterrupted = %d, %v", n, err)
	}
	rec, err := store.Get(ctx, "stuck")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != history.StatusInterrupted || rec.FinishedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n, _ := store.MarkInterrupted(ctx, time.Now()); n != 0 {
		t.Fatalf("second sweep touched %d rows", n)
	}
}

func TestGetAndFinishUnknown(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := store.Finish(context.Background(), "nope", history.StatusFinished, 0, batch.Summary{}, time.Now())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Begin(context.Background(), history.Record{ID: "x", Mode: "correct", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	store, err = history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if _, err := store.Get(context.Background(), "x"); err != nil {
		t.Fatalf("row lost: %v", err)
	}
}
