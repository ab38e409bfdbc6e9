package convert

import (
	"path/filepath"

	"github.com/MATXBY/m4brew/internal/library"
	"github.com/MATXBY/m4brew/internal/textutil"
)

// OutputPath is the canonical converted file: <book>/<Book>.m4b.
func OutputPath(book library.BookFolder) string {
	return filepath.Join(book.Path, book.Name+".m4b")
}

// TempPath is the private in-flight file. The prefix keeps it out of
// classification on later passes.
func TempPath(book library.BookFolder) string {
	name := textutil.JoinName(book.Author, book.Name)
	if name == "" {
		name = "book"
	}
	return filepath.Join(book.Path, library.TempPrefix+name+".m4b")
}

// BackupDir is where consumed sources are moved after success.
func BackupDir(book library.BookFolder) string {
	return filepath.Join(book.Path, library.BackupDirName)
}
