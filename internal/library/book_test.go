package library_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/testsupport"
)

func TestDiscoverIsSortedAndSkipsRecycle(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "Zadie Smith", "White Teeth", "01.mp3")
	testsupport.MakeBook(t, root, "Andy Weir", "Project Hail Mary", "part.m4a")
	testsupport.MakeBook(t, root, "Andy Weir", "Artemis", "a.mp3")
	testsupport.MakeBook(t, root, library.RecycleDirName, "Deleted Book", "x.mp3")
	testsupport.MakeBook(t, root, ".hidden", "Secret", "x.mp3")
	if err := os.WriteFile(filepath.Join(root, "stray.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	books, skipped, err := library.Discover(root)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("Discover: %v skipped=%v", err, skipped)
	}
	var labels []string
	for _, b := range books {
		labels = append(labels, b.Author+"/"+b.Name)
	}
	want := []string{"Andy Weir/Artemis", "Andy Weir/Project Hail Mary", "Zadie Smith/White Teeth"}
	if !slices.Equal(labels, want) {
		t.Fatalf("unexpected discovery order %v", labels)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, _, err := library.Discover(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, library.ErrRootMissing) {
		t.Fatalf("expected ErrRootMissing, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := library.Discover(file); !errors.Is(err, library.ErrRootMissing) {
		t.Fatalf("expected ErrRootMissing for a file root, got %v", err)
	}
}

func TestInspectInventory(t *testing.T) {
	root := t.TempDir()
	path := testsupport.MakeBook(t, root, "Author", "Book",
		"01.MP3", "02.mp3", "extra.M4A", "cover.jpg",
		library.TempPrefix+"Author - Book.m4b", "._01.mp3",
	)
	testsupport.MakeBook(t, root, "Author", filepath.Join("Book", library.BackupDirName), "old.mp3")
	testsupport.MakeBook(t, root, "Author", filepath.Join("Book", "Disc 2"), "03.mp3")

	book, err := library.Inspect("Author", "Book", path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !slices.Equal(book.MP3, []string{"01.MP3", "02.mp3"}) {
		t.Fatalf("unexpected mp3 inventory %v", book.MP3)
	}
	if !slices.Equal(book.M4A, []string{"extra.M4A"}) {
		t.Fatalf("unexpected m4a inventory %v", book.M4A)
	}
	if len(book.M4B) != 0 {
		t.Fatalf("temp outputs must not count as m4b: %v", book.M4B)
	}
	if !book.HasBackup {
		t.Fatal("expected backup dir to be detected")
	}
}

func TestFindBackupDirs(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", filepath.Join("One", library.BackupDirName), "01.mp3")
	testsupport.MakeBook(t, root, "A", filepath.Join("Two", "nested", library.BackupDirName), "02.mp3")
	testsupport.MakeBook(t, root, library.RecycleDirName, filepath.Join("Gone", library.BackupDirName), "x.mp3")
	testsupport.MakeBook(t, root, "B", "Three", "x.mp3")

	dirs, skipped, err := library.FindBackupDirs(root)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("FindBackupDirs: %v skipped=%v", err, skipped)
	}
	want := []string{
		filepath.Join(root, "A", "One", library.BackupDirName),
		filepath.Join(root, "A", "Two", "nested", library.BackupDirName),
	}
	if !slices.Equal(dirs, want) {
		t.Fatalf("unexpected backup dirs %v", dirs)
	}
}

func TestDiscoverKeepsGoingPastUnreadableFolders(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "Author", "Good", "01.mp3")
	locked := testsupport.MakeBook(t, root, "Author", "Locked", "01.mp3")
	testsupport.MakeBook(t, root, "Zed", "Hidden Away", "01.mp3")
	lockedAuthor := filepath.Join(root, "Zed")
	testsupport.MakeUnreadable(t, locked)
	testsupport.MakeUnreadable(t, lockedAuthor)

	books, skipped, err := library.Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(books) != 1 || books[0].Name != "Good" {
		t.Fatalf("expected only the readable book, got %+v", books)
	}
	var paths []string
	for _, s := range skipped {
		paths = append(paths, s.Path)
		if !errors.Is(s, fs.ErrPermission) {
			t.Fatalf("expected permission error for %s, got %v", s.Path, s.Err)
		}
	}
	if want := []string{locked, lockedAuthor}; !slices.Equal(paths, want) {
		t.Fatalf("skipped %v, want %v", paths, want)
	}
}

func TestDiscoverFollowsSymlinkedFolders(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()
	testsupport.MakeBook(t, elsewhere, "Linked Author", "Real Book", "01.mp3")
	testsupport.MakeBook(t, elsewhere, "Shelf", "Linked Book", "01.mp3")
	testsupport.MakeBook(t, root, "Author", "Plain", "01.mp3")
	if err := os.Symlink(filepath.Join(elsewhere, "Linked Author"), filepath.Join(root, "Linked Author")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(elsewhere, "Shelf", "Linked Book"), filepath.Join(root, "Author", "Linked Book")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(elsewhere, "missing"), filepath.Join(root, "Author", "Dangling")); err != nil {
		t.Fatal(err)
	}

	books, skipped, err := library.Discover(root)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("Discover: %v skipped=%v", err, skipped)
	}
	var labels []string
	for _, b := range books {
		labels = append(labels, b.Author+"/"+b.Name)
	}
	want := []string{"Author/Linked Book", "Author/Plain", "Linked Author/Real Book"}
	if !slices.Equal(labels, want) {
		t.Fatalf("unexpected books %v", labels)
	}
}

func TestFindBackupDirsSkipsUnreadableFolders(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeBook(t, root, "A", filepath.Join("One", library.BackupDirName), "01.mp3")
	locked := testsupport.MakeBook(t, root, "Z", "Locked", "01.mp3")
	testsupport.MakeUnreadable(t, locked)

	dirs, skipped, err := library.FindBackupDirs(root)
	if err != nil {
		t.Fatalf("FindBackupDirs: %v", err)
	}
	if want := []string{filepath.Join(root, "A", "One", library.BackupDirName)}; !slices.Equal(dirs, want) {
		t.Fatalf("unexpected backup dirs %v", dirs)
	}
	if len(skipped) != 1 || skipped[0].Path != locked {
		t.Fatalf("expected %s to be reported, got %v", locked, skipped)
	}
}
