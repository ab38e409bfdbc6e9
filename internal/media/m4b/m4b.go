// Package m4b inspects the MP4 box structure of produced audiobook files.
package m4b

import (
	"errors"
	"fmt"
	"os"

	gomp4 "github.com/abema/go-mp4"
)

// ErrInvalidContainer reports a file that does not carry a usable movie header.
var ErrInvalidContainer = errors.New("invalid mp4 container")

var soundHandler = [4]byte{'s', 'o', 'u', 'n'}

// Info summarises the movie header and track layout.
type Info struct {
	Timescale   uint32
	Duration    uint64
	AudioTracks int
	hasMovie    bool
}

// Seconds returns the movie duration in seconds.
func (i Info) Seconds() float64 {
	if i.Timescale == 0 {
		return 0
	}
	return float64(i.Duration) / float64(i.Timescale)
}

// Probe walks moov/mvhd and moov/trak/mdia/hdlr of the file at path.
func Probe(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()

	var info Info
	_, err = gomp4.ReadBoxStructure(file, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov():
			info.hasMovie = true
			return h.Expand()
		case gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia():
			return h.Expand()
		case gomp4.BoxTypeMvhd():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if mvhd, ok := payload.(*gomp4.Mvhd); ok {
				info.Timescale = mvhd.Timescale
				if mvhd.GetVersion() == 0 {
					info.Duration = uint64(mvhd.DurationV0)
				} else {
					info.Duration = mvhd.DurationV1
				}
			}
			return nil, nil
		case gomp4.BoxTypeHdlr():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if hdlr, ok := payload.(*gomp4.Hdlr); ok && hdlr.HandlerType == soundHandler {
				info.AudioTracks++
			}
			return nil, nil
		default:
			return nil, nil
		}
	})
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	return info, nil
}

// Validate probes path and requires a movie header with a non-zero duration.
func Validate(path string) (Info, error) {
	info, err := Probe(path)
	if err != nil {
		return info, err
	}
	if !info.hasMovie {
		return info, fmt.Errorf("%w: no moov box", ErrInvalidContainer)
	}
	if info.Timescale == 0 || info.Duration == 0 {
		return info, fmt.Errorf("%w: zero duration", ErrInvalidContainer)
	}
	return info, nil
}
