package library_test

import (
	"path/filepath"
	"testing"

	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/testsupport"
)

func TestReadMetadataFallsBackToFolderNames(t *testing.T) {
	root := t.TempDir()
	path := testsupport.MakeBook(t, root, "Ursula K. Le Guin", "The Dispossessed", "01.mp3")
	book := library.BookFolder{Author: "Ursula K. Le Guin", Name: "The Dispossessed", Path: path}

	meta := library.ReadMetadata(book, filepath.Join(path, "01.mp3"))
	if meta.Title != "The Dispossessed" || meta.Album != "The Dispossessed" {
		t.Fatalf("expected folder title fallback, got %+v", meta)
	}
	if meta.Artist != "Ursula K. Le Guin" {
		t.Fatalf("expected author fallback, got %+v", meta)
	}

	if got := library.ReadMetadata(book, ""); got != meta {
		t.Fatalf("missing source should behave like untagged source: %+v", got)
	}
}
