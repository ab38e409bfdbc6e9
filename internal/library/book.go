package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// BackupDirName holds original sources moved aside after a validated conversion.
	BackupDirName = "_backup_files"
	// RecycleDirName is the NAS recycle bin that must never be treated as an author.
	RecycleDirName = "#recycle"
	// TempPrefix marks in-flight conversion outputs inside a book folder.
	TempPrefix = ".m4brew-tmp-"
)

// ErrRootMissing reports that the library root does not exist or is not a directory.
var ErrRootMissing = errors.New("library root missing")

// BookFolder is one root/Author/Book directory and its top-level audio inventory.
// File lists hold base names in directory order.
type BookFolder struct {
	Author    string
	Name      string
	Path      string
	MP3       []string
	M4A       []string
	M4B       []string
	HasBackup bool
}

// ReadError is an author or book directory that could not be listed.
type ReadError struct {
	Path string
	Err  error
}

func (e ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e ReadError) Unwrap() error { return e.Err }

// Discover lists every book folder under root in a stable order: authors then
// books, each sorted by name. Hidden entries and the #recycle author are skipped.
// Symlinked author and book directories are followed.
//
// Only an unusable root is an error. Unreadable author or book directories are
// returned as ReadErrors next to the books that could be read.
func Discover(root string) ([]BookFolder, []ReadError, error) {
	authors, err := readDirs(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errNotDir) {
			return nil, nil, fmt.Errorf("%w: %s", ErrRootMissing, root)
		}
		return nil, nil, fmt.Errorf("read library root: %w", err)
	}

	var (
		books   []BookFolder
		skipped []ReadError
	)
	for _, author := range authors {
		if author == RecycleDirName {
			continue
		}
		authorPath := filepath.Join(root, author)
		names, err := readDirs(authorPath)
		if err != nil {
			skipped = append(skipped, ReadError{Path: authorPath, Err: err})
			continue
		}
		for _, name := range names {
			bookPath := filepath.Join(authorPath, name)
			book, err := Inspect(author, name, bookPath)
			if err != nil {
				skipped = append(skipped, ReadError{Path: bookPath, Err: errors.Unwrap(err)})
				continue
			}
			books = append(books, book)
		}
	}
	return books, skipped, nil
}

// Inspect builds the audio inventory for a single book folder.
func Inspect(author, name, path string) (BookFolder, error) {
	book := BookFolder{Author: author, Name: name, Path: path}
	entries, err := os.ReadDir(path)
	if err != nil {
		return book, fmt.Errorf("read book %s: %w", path, err)
	}
	for _, entry := range entries {
		entryName := entry.Name()
		if entry.IsDir() {
			if entryName == BackupDirName {
				book.HasBackup = true
			}
			continue
		}
		if strings.HasPrefix(entryName, ".") || strings.HasPrefix(entryName, TempPrefix) {
			continue
		}
		if !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
			continue
		}
		switch strings.ToLower(filepath.Ext(entryName)) {
		case ".mp3":
			book.MP3 = append(book.MP3, entryName)
		case ".m4a":
			book.M4A = append(book.M4A, entryName)
		case ".m4b":
			book.M4B = append(book.M4B, entryName)
		}
	}
	return book, nil
}

// FindBackupDirs returns every _backup_files directory under root, at any
// depth, in walk order. Matched directories are not descended into and
// symlinks are not followed. Directories that cannot be read are skipped and
// reported as ReadErrors.
func FindBackupDirs(root string) ([]string, []ReadError, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrRootMissing, root)
	}
	var (
		dirs    []string
		skipped []ReadError
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			skipped = append(skipped, ReadError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if d.Name() == RecycleDirName {
			return filepath.SkipDir
		}
		if d.Name() == BackupDirName {
			dirs = append(dirs, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk library: %w", err)
	}
	return dirs, skipped, nil
}

var errNotDir = errors.New("not a directory")

func readDirs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errNotDir
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !isDir(path, entry) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// isDir reports whether entry is a directory, resolving symlinks. Dangling
// links are not directories.
func isDir(parent string, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, entry.Name()))
	return err == nil && info.IsDir()
}
