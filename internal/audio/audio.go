// Package audio resolves the output channel layout for a merged book.
package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/MATXBY/m4brew/internal/media/ffprobe"
)

// Channels is the output channel count handed to the merge tool.
type Channels int

const (
	Mono   Channels = 1
	Stereo Channels = 2
)

func (c Channels) String() string {
	if c == Mono {
		return "mono"
	}
	return "stereo"
}

// Policy is the configured channel policy.
type Policy string

const (
	PolicyMatch  Policy = "match"
	PolicyMono   Policy = "mono"
	PolicyStereo Policy = "stereo"
)

// NormalizePolicy maps free-form input onto a Policy. Anything unrecognised
// is treated as match.
func NormalizePolicy(value string) Policy {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyMono:
		return PolicyMono
	case PolicyStereo:
		return PolicyStereo
	default:
		return PolicyMatch
	}
}

// FromCount normalises a probed channel count. Only a single channel stays mono.
func FromCount(count int) Channels {
	if count == 1 {
		return Mono
	}
	return Stereo
}

// Resolve applies policy to the detected layout.
func Resolve(detected Channels, policy Policy) Channels {
	switch NormalizePolicy(string(policy)) {
	case PolicyMono:
		return Mono
	case PolicyStereo:
		return Stereo
	default:
		if detected == Mono {
			return Mono
		}
		return Stereo
	}
}

// NeedsProbe reports whether resolving policy requires inspecting a source.
func NeedsProbe(policy Policy) bool {
	return NormalizePolicy(string(policy)) == PolicyMatch
}

// Detector reports the channel layout of a source file.
type Detector interface {
	Detect(ctx context.Context, path string) (Channels, error)
}

// FFprobeDetector reads the first audio stream's channel count via ffprobe.
type FFprobeDetector struct {
	Binary string
}

func (d FFprobeDetector) Detect(ctx context.Context, path string) (Channels, error) {
	result, err := ffprobe.Inspect(ctx, d.Binary, path)
	if err != nil {
		return Stereo, err
	}
	stream, ok := result.FirstAudioStream()
	if !ok {
		return Stereo, fmt.Errorf("no audio stream in %s", path)
	}
	return FromCount(stream.Channels), nil
}
