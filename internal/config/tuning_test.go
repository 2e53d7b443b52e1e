package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rallycut/rallycut/internal/rally"
)

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tuning.json")

	testJSON := `{
  "start_buffer": 2.0,
  "grace_frames": 3,
  "min_rally_sec": 2.5,
  "preroll": 1.5,
  "min_segment_length": 3.0,
  "parabola_min_r2": 0.9,
  "max_tracks": 8
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.StartBuffer == nil || *cfg.StartBuffer != 2.0 {
		t.Errorf("Expected StartBuffer 2.0, got %v", cfg.StartBuffer)
	}
	if cfg.GraceFrames == nil || *cfg.GraceFrames != 3 {
		t.Errorf("Expected GraceFrames 3, got %v", cfg.GraceFrames)
	}
	if cfg.MinRallySec == nil || *cfg.MinRallySec != 2.5 {
		t.Errorf("Expected MinRallySec 2.5, got %v", cfg.MinRallySec)
	}
	if cfg.PreRoll == nil || *cfg.PreRoll != 1.5 {
		t.Errorf("Expected PreRoll 1.5, got %v", cfg.PreRoll)
	}
	if cfg.MaxTracks == nil || *cfg.MaxTracks != 8 {
		t.Errorf("Expected MaxTracks 8, got %v", cfg.MaxTracks)
	}

	// Unset fields stay nil.
	if cfg.PostRoll != nil {
		t.Errorf("Expected PostRoll nil, got %v", *cfg.PostRoll)
	}
	if cfg.GatingDistance != nil {
		t.Errorf("Expected GatingDistance nil, got %v", *cfg.GatingDistance)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	if err := os.WriteFile(configPath, []byte(`{"min_rally_sec": 3.0}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	applied := cfg.Apply(rally.DefaultProcessorConfig())
	if applied.Decider.MinRallySec != 3.0 {
		t.Errorf("Expected applied MinRallySec 3.0, got %f", applied.Decider.MinRallySec)
	}

	// Everything not named keeps the default.
	def := rally.DefaultProcessorConfig()
	if applied.Decider.StartBuffer != def.Decider.StartBuffer {
		t.Errorf("StartBuffer changed by partial config: %f", applied.Decider.StartBuffer)
	}
	if applied.Segments.PreRoll != def.Segments.PreRoll {
		t.Errorf("PreRoll changed by partial config: %f", applied.Segments.PreRoll)
	}
	if applied.Tracker.MaxTracks != def.Tracker.MaxTracks {
		t.Errorf("MaxTracks changed by partial config: %d", applied.Tracker.MaxTracks)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	// Non-JSON extension
	txtPath := filepath.Join(tmpDir, "config.txt")
	if err := os.WriteFile(txtPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadTuningConfig(txtPath); err == nil {
		t.Error("Expected error for non-JSON extension")
	}

	// Missing file
	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	// Malformed JSON
	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"start_buffer": `), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadTuningConfig(badPath); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestTuningConfigValidate(t *testing.T) {
	fptr := func(v float64) *float64 { return &v }
	iptr := func(v int) *int { return &v }

	tests := []struct {
		name    string
		cfg     TuningConfig
		wantErr bool
	}{
		{"empty is valid", TuningConfig{}, false},
		{"valid overrides", TuningConfig{StartBuffer: fptr(2.0), GraceFrames: iptr(1)}, false},
		{"negative start_buffer", TuningConfig{StartBuffer: fptr(-1.0)}, true},
		{"zero min_rally_sec", TuningConfig{MinRallySec: fptr(0)}, true},
		{"r2 above one", TuningConfig{ParabolaMinR2: fptr(1.2)}, true},
		{"negative grace_frames", TuningConfig{GraceFrames: iptr(-1)}, true},
		{"max_tracks zero", TuningConfig{MaxTracks: iptr(0)}, true},
		{"parabola_min_points too small", TuningConfig{ParabolaMinPoints: iptr(2)}, true},
		{"negative preroll", TuningConfig{PreRoll: fptr(-0.5)}, true},
		{
			"soft end below hard end",
			TuningConfig{HardEndBallAbsence: fptr(2.0), SoftEndProjectileTimeout: fptr(1.0)},
			true,
		},
		{
			"short preroll cap above preroll",
			TuningConfig{PreRoll: fptr(1.0), MaxPrerollForShort: fptr(2.0)},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestApplyOverridesAllGroups(t *testing.T) {
	fptr := func(v float64) *float64 { return &v }
	iptr := func(v int) *int { return &v }
	bptr := func(v bool) *bool { return &v }

	cfg := TuningConfig{
		MaxMisses:             iptr(20),
		GatingDistance:        fptr(0.2),
		EnableEnhancedPhysics: bptr(false),
		EnhancedMinR2:         fptr(0.8),
		HardEndBallAbsence:    fptr(1.0),
		PostRoll:              fptr(1.0),
		ProjectileWindowSec:   fptr(2.0),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Unexpected validation error: %v", err)
	}

	applied := cfg.Apply(rally.DefaultProcessorConfig())
	if applied.Tracker.MaxMisses != 20 {
		t.Errorf("MaxMisses = %d, want 20", applied.Tracker.MaxMisses)
	}
	if applied.Tracker.GatingDistance != 0.2 {
		t.Errorf("GatingDistance = %f, want 0.2", applied.Tracker.GatingDistance)
	}
	if applied.Physics.EnableEnhancedPhysics {
		t.Error("EnableEnhancedPhysics = true, want false")
	}
	if applied.Physics.EnhancedMinR2 != 0.8 {
		t.Errorf("EnhancedMinR2 = %f, want 0.8", applied.Physics.EnhancedMinR2)
	}
	if applied.Decider.HardEndBallAbsence != 1.0 {
		t.Errorf("HardEndBallAbsence = %f, want 1.0", applied.Decider.HardEndBallAbsence)
	}
	if applied.Segments.PostRoll != 1.0 {
		t.Errorf("PostRoll = %f, want 1.0", applied.Segments.PostRoll)
	}
	if applied.ProjectileWindowSec != 2.0 {
		t.Errorf("ProjectileWindowSec = %f, want 2.0", applied.ProjectileWindowSec)
	}
}
