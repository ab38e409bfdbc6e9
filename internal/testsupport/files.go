package testsupport

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := min(int64(chunkSize), remaining)
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// MakeBook creates root/author/book and writes a small placeholder for each
// file name. book may contain separators to build nested folders. It returns
// the book directory.
func MakeBook(t testing.TB, root, author, book string, files ...string) string {
	t.Helper()

	dir := filepath.Join(root, author, book)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for _, name := range files {
		WriteFile(t, filepath.Join(dir, name), 128)
	}
	return dir
}

// MakeUnreadable removes all permissions from dir until the test ends. Tests
// that need a listing failure are skipped when the process can still read the
// directory, as it can when running as root.
func MakeUnreadable(t testing.TB, dir string) {
	t.Helper()

	if err := os.Chmod(dir, 0); err != nil {
		t.Fatalf("chmod %s: %v", dir, err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	if _, err := os.ReadDir(dir); err == nil {
		t.Skip("directory permissions are not enforced for this user")
	}
}

// ListTree returns "relative/path size" entries for every file and directory
// under root, sorted. Two equal listings mean nothing was created, removed,
// renamed or resized.
func ListTree(t testing.TB, root string) []string {
	t.Helper()

	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			entries = append(entries, rel+"/")
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, fmt.Sprintf("%s %d", rel, info.Size()))
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	slices.Sort(entries)
	return entries
}

const (
	// MinimalM4BTimescale is the movie timescale written by MinimalM4B.
	MinimalM4BTimescale = 1000
	// MinimalM4BSeconds is the movie duration written by MinimalM4B.
	MinimalM4BSeconds = 90.0
)

// MinimalM4B returns a structurally valid MP4 (ftyp, moov/mvhd, mdat) padded
// with an mdat payload to roughly size bytes.
func MinimalM4B(size int) []byte {
	var out []byte

	ftyp := box("ftyp", []byte("M4B \x00\x00\x02\x00M4B isom"))
	out = append(out, ftyp...)

	mvhd := make([]byte, 100)
	// version 0, flags 0, creation and modification time left zero
	binary.BigEndian.PutUint32(mvhd[12:], MinimalM4BTimescale)
	binary.BigEndian.PutUint32(mvhd[16:], uint32(MinimalM4BSeconds*MinimalM4BTimescale))
	binary.BigEndian.PutUint32(mvhd[20:], 0x00010000)
	binary.BigEndian.PutUint16(mvhd[24:], 0x0100)
	// identity matrix
	binary.BigEndian.PutUint32(mvhd[36:], 0x00010000)
	binary.BigEndian.PutUint32(mvhd[52:], 0x00010000)
	binary.BigEndian.PutUint32(mvhd[68:], 0x40000000)
	binary.BigEndian.PutUint32(mvhd[96:], 2)
	out = append(out, box("moov", box("mvhd", mvhd))...)

	padding := max(size-len(out)-8, 0)
	return append(out, box("mdat", make([]byte, padding))...)
}

func box(kind string, payload []byte) []byte {
	buf := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(8+len(payload)))
	copy(buf[4:], kind)
	return append(buf, payload...)
}
