package job

import (
	"testing"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
)

func TestResolve(t *testing.T) {
	lib := config.Library{RootFolder: "/books", AudioMode: "mono", BitrateKbps: 64}
	dry := false

	tests := []struct {
		name string
		req  StartRequest
		want Plan
	}{
		{
			name: "defaults from saved settings",
			req:  StartRequest{Mode: "convert"},
			want: Plan{Mode: batch.ModeConvert, DryRun: true, Root: "/books", AudioMode: "mono", BitrateKbps: 64},
		},
		{
			name: "explicit values win",
			req:  StartRequest{Mode: "Correct", DryRun: &dry, RootFolder: "/other", AudioMode: "stereo", BitrateKbps: 128},
			want: Plan{Mode: batch.ModeCorrect, DryRun: false, Root: "/other", AudioMode: "stereo", BitrateKbps: 128},
		},
		{
			name: "unknown audio mode becomes match",
			req:  StartRequest{Mode: "convert", AudioMode: "surround"},
			want: Plan{Mode: batch.ModeConvert, DryRun: true, Root: "/books", AudioMode: "match", BitrateKbps: 64},
		},
		{
			name: "disallowed bitrate falls back",
			req:  StartRequest{Mode: "cleanup", BitrateKbps: 100},
			want: Plan{Mode: batch.ModeCleanup, DryRun: true, Root: "/books", AudioMode: "mono", BitrateKbps: 64},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.req, lib)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveRejectsUnknownMode(t *testing.T) {
	_, err := Resolve(StartRequest{Mode: "rebuild"}, config.Library{})
	se, ok := err.(*StartError)
	if !ok || se.Code != CodeInvalidMode {
		t.Fatalf("expected invalid_mode, got %v", err)
	}
}
