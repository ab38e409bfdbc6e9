package library

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// Metadata is the title/author information handed to the merge tool.
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// ReadMetadata reads tags from the first source file and fills gaps from the
// folder names: the book folder for title and album, the author folder for artist.
func ReadMetadata(book BookFolder, firstSource string) Metadata {
	meta := Metadata{}
	if firstSource != "" {
		if file, err := os.Open(firstSource); err == nil {
			if m, err := tag.ReadFrom(file); err == nil {
				meta.Album = strings.TrimSpace(m.Album())
				meta.Artist = strings.TrimSpace(m.AlbumArtist())
				if meta.Artist == "" {
					meta.Artist = strings.TrimSpace(m.Artist())
				}
			}
			_ = file.Close()
		}
	}
	if meta.Album == "" {
		meta.Album = book.Name
	}
	if meta.Artist == "" {
		meta.Artist = book.Author
	}
	// Track titles name chapters, not the book.
	meta.Title = meta.Album
	return meta
}
