package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rallycut/rallycut/internal/rally"
)

const detectionStream = `# frame detections from match.mp4
{"cx": 0.50, "cy": 0.40, "w": 0.02, "h": 0.02, "conf": 0.9, "t": 0.0}

{"cx": 0.52, "cy": 0.38, "w": 0.02, "h": 0.02, "conf": 0.85, "t": 0.033}
{"cx": 0.54, "cy": 0.37, "w": 0.02, "h": 0.02, "conf": 0.8, "t": 0.067}
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDetections(t *testing.T) {
	path := writeTempFile(t, "detections.jsonl", detectionStream)

	detections, err := loadDetections(path)
	if err != nil {
		t.Fatalf("loadDetections returned error: %v", err)
	}
	if len(detections) != 3 {
		t.Fatalf("loadDetections returned %d detections, want 3", len(detections))
	}
	if detections[0].CX != 0.50 || detections[0].Time != 0.0 {
		t.Errorf("first detection = %+v, want cx=0.50 t=0.0", detections[0])
	}
	if detections[2].Confidence != 0.8 {
		t.Errorf("last detection conf = %v, want 0.8", detections[2].Confidence)
	}
}

func TestLoadDetectionsBadLine(t *testing.T) {
	path := writeTempFile(t, "bad.jsonl", `{"cx": 0.5, "cy": 0.5, "w": 0.02, "h": 0.02, "conf": 0.9, "t": 0.0}
not json
`)
	if _, err := loadDetections(path); err == nil {
		t.Fatal("expected error for malformed line, got nil")
	}
}

func TestLoadDetectionsMissingFile(t *testing.T) {
	if _, err := loadDetections(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestBuildConfigPresets(t *testing.T) {
	tests := []struct {
		preset  string
		wantErr bool
	}{
		{"default", false},
		{"", false},
		{"conservative", false},
		{"aggressive", false},
		{"high-precision", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			_, err := buildConfig(tt.preset, "", false)
			if (err != nil) != tt.wantErr {
				t.Errorf("buildConfig(%q) error = %v, wantErr %v", tt.preset, err, tt.wantErr)
			}
		})
	}
}

func TestBuildConfigOverlay(t *testing.T) {
	path := writeTempFile(t, "tuning.json", `{"max_tracks": 4, "start_buffer": 2.5}`)

	cfg, err := buildConfig("default", path, true)
	if err != nil {
		t.Fatalf("buildConfig returned error: %v", err)
	}
	if cfg.Tracker.MaxTracks != 4 {
		t.Errorf("MaxTracks = %d, want 4", cfg.Tracker.MaxTracks)
	}
	if cfg.Decider.StartBuffer != 2.5 {
		t.Errorf("StartBuffer = %v, want 2.5", cfg.Decider.StartBuffer)
	}
	if !cfg.Verbose || !cfg.Decider.Verbose || !cfg.Segments.Verbose {
		t.Error("verbose flag not propagated to sub-configs")
	}
}

func TestAnalyzeEmptyStream(t *testing.T) {
	segments, stats, samples, err := analyze(context.Background(), rally.DefaultProcessorConfig(), nil, 10.0, 30)
	if err != nil {
		t.Fatalf("analyze returned error: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("got %d segments from empty stream, want 0", len(segments))
	}
	if stats.FramesProcessed != 300 {
		t.Errorf("FramesProcessed = %d, want 300", stats.FramesProcessed)
	}
	if len(samples) != 300 {
		t.Errorf("got %d samples, want 300", len(samples))
	}
}

func TestAnalyzeDropsOutOfRangeDetections(t *testing.T) {
	detections := []rally.Detection{
		{CX: 0.5, CY: 0.5, W: 0.02, H: 0.02, Confidence: 0.9, Time: -1.0},
		{CX: 0.5, CY: 0.5, W: 0.02, H: 0.02, Confidence: 0.9, Time: 99.0},
	}
	_, stats, _, err := analyze(context.Background(), rally.DefaultProcessorConfig(), detections, 5.0, 30)
	if err != nil {
		t.Fatalf("analyze returned error: %v", err)
	}
	if stats.DetectionFrames != 0 {
		t.Errorf("DetectionFrames = %d, want 0 for out-of-range timestamps", stats.DetectionFrames)
	}
}
