package api

import (
	"slices"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/logging"
)

// FromLibrary converts saved library settings to the wire form.
func FromLibrary(lib config.Library) Settings {
	return Settings{
		RootFolder:      lib.RootFolder,
		AudioMode:       lib.AudioMode,
		BitrateKbps:     lib.BitrateKbps,
		AllowedBitrates: slices.Clone(config.AllowedBitrates),
		AudioModes:      config.AudioModes(),
	}
}

// FromLogEvents converts hub events, keeping only those matching jobID and
// component when set.
func FromLogEvents(events []logging.LogEvent, jobID, component string) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		if jobID != "" && evt.JobID != jobID {
			continue
		}
		if component != "" && evt.Component != component {
			continue
		}
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: evt.Timestamp,
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			JobID:     evt.JobID,
			Book:      evt.Book,
			Stage:     evt.Stage,
			EventType: evt.EventType,
			Fields:    evt.Fields,
		})
	}
	return out
}
