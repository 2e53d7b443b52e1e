// Package config provides the flat JSON tuning overlay for the rally
// pipeline. All fields are pointers with omitempty so a partial file only
// overrides what it names; everything else keeps the compiled-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rallycut/rallycut/internal/rally"
)

// TuningConfig is the flat parameter bag accepted from a JSON file. Field
// names match the pipeline configuration they override.
type TuningConfig struct {
	// Tracker params
	MaxTracks        *int     `json:"max_tracks,omitempty"`
	MaxMisses        *int     `json:"max_misses,omitempty"`
	GatingDistance   *float64 `json:"gating_distance,omitempty"`
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`
	MinConfidence    *float64 `json:"min_confidence,omitempty"`

	// Physics / classifier params
	EnableEnhancedPhysics       *bool    `json:"enable_enhanced_physics,omitempty"`
	ParabolaMinPoints           *int     `json:"parabola_min_points,omitempty"`
	ParabolaMinR2               *float64 `json:"parabola_min_r2,omitempty"`
	EnhancedMinR2               *float64 `json:"enhanced_min_r2,omitempty"`
	MaxJumpPerFrame             *float64 `json:"max_jump_per_frame,omitempty"`
	MinQualityScore             *float64 `json:"min_quality_score,omitempty"`
	MinClassificationConfidence *float64 `json:"min_classification_confidence,omitempty"`
	VelocityConsistency         *float64 `json:"velocity_consistency_threshold,omitempty"`
	TrajectorySmoothness        *float64 `json:"trajectory_smoothness_threshold,omitempty"`
	MinVerticalMotion           *float64 `json:"min_vertical_motion,omitempty"`

	// Rally decider params
	StartBuffer              *float64 `json:"start_buffer,omitempty"`
	GraceFrames              *int     `json:"grace_frames,omitempty"`
	MinRallySec              *float64 `json:"min_rally_sec,omitempty"`
	HardEndBallAbsence       *float64 `json:"hard_end_ball_absence,omitempty"`
	SoftEndProjectileTimeout *float64 `json:"soft_end_projectile_timeout,omitempty"`
	SoftEndBallRateThreshold *float64 `json:"soft_end_ball_rate_threshold,omitempty"`
	StayAliveRecencyWindow   *float64 `json:"stay_alive_recency_window,omitempty"`

	// Segment builder params
	PreRoll               *float64 `json:"preroll,omitempty"`
	PostRoll              *float64 `json:"postroll,omitempty"`
	ShortSegmentThreshold *float64 `json:"short_segment_threshold,omitempty"`
	MaxPrerollForShort    *float64 `json:"max_preroll_for_short,omitempty"`
	MinGapToMerge         *float64 `json:"min_gap_to_merge,omitempty"`
	MinSegmentLength      *float64 `json:"min_segment_length,omitempty"`

	// Pipeline params
	ProjectileWindowSec *float64 `json:"projectile_window_sec,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads and validates a TuningConfig from a JSON file.
// Fields omitted from the file stay nil and keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that any set values are individually and mutually sane.
// Runtime components assume a validated config; this is the boundary where
// bad combinations are rejected.
func (c *TuningConfig) Validate() error {
	unitChecks := []struct {
		name  string
		value *float64
	}{
		{"min_confidence", c.MinConfidence},
		{"parabola_min_r2", c.ParabolaMinR2},
		{"enhanced_min_r2", c.EnhancedMinR2},
		{"min_quality_score", c.MinQualityScore},
		{"min_classification_confidence", c.MinClassificationConfidence},
	}
	for _, chk := range unitChecks {
		if chk.value != nil && (*chk.value < 0 || *chk.value > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", chk.name, *chk.value)
		}
	}

	positiveChecks := []struct {
		name  string
		value *float64
	}{
		{"gating_distance", c.GatingDistance},
		{"process_noise_pos", c.ProcessNoisePos},
		{"process_noise_vel", c.ProcessNoiseVel},
		{"measurement_noise", c.MeasurementNoise},
		{"start_buffer", c.StartBuffer},
		{"min_rally_sec", c.MinRallySec},
		{"hard_end_ball_absence", c.HardEndBallAbsence},
		{"soft_end_projectile_timeout", c.SoftEndProjectileTimeout},
		{"min_segment_length", c.MinSegmentLength},
		{"projectile_window_sec", c.ProjectileWindowSec},
	}
	for _, chk := range positiveChecks {
		if chk.value != nil && *chk.value <= 0 {
			return fmt.Errorf("%s must be positive, got %f", chk.name, *chk.value)
		}
	}

	nonNegativeChecks := []struct {
		name  string
		value *float64
	}{
		{"preroll", c.PreRoll},
		{"postroll", c.PostRoll},
		{"max_preroll_for_short", c.MaxPrerollForShort},
		{"min_gap_to_merge", c.MinGapToMerge},
	}
	for _, chk := range nonNegativeChecks {
		if chk.value != nil && *chk.value < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", chk.name, *chk.value)
		}
	}

	if c.GraceFrames != nil && *c.GraceFrames < 0 {
		return fmt.Errorf("grace_frames must be non-negative, got %d", *c.GraceFrames)
	}
	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be >= 1, got %d", *c.MaxMisses)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be >= 1, got %d", *c.MaxTracks)
	}
	if c.ParabolaMinPoints != nil && *c.ParabolaMinPoints < 3 {
		return fmt.Errorf("parabola_min_points must be >= 3, got %d", *c.ParabolaMinPoints)
	}

	// Cross-field: the soft end must not be easier to reach than the hard
	// end, and the short-segment cap must not exceed the normal pre-roll.
	if c.HardEndBallAbsence != nil && c.SoftEndProjectileTimeout != nil &&
		*c.SoftEndProjectileTimeout < *c.HardEndBallAbsence {
		return fmt.Errorf("soft_end_projectile_timeout (%f) must be >= hard_end_ball_absence (%f)",
			*c.SoftEndProjectileTimeout, *c.HardEndBallAbsence)
	}
	if c.PreRoll != nil && c.MaxPrerollForShort != nil && *c.MaxPrerollForShort > *c.PreRoll {
		return fmt.Errorf("max_preroll_for_short (%f) must be <= preroll (%f)",
			*c.MaxPrerollForShort, *c.PreRoll)
	}

	return nil
}

// Apply overlays every set field onto a ProcessorConfig and returns it.
func (c *TuningConfig) Apply(cfg rally.ProcessorConfig) rally.ProcessorConfig {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setInt(&cfg.Tracker.MaxTracks, c.MaxTracks)
	setInt(&cfg.Tracker.MaxMisses, c.MaxMisses)
	setFloat(&cfg.Tracker.GatingDistance, c.GatingDistance)
	setFloat(&cfg.Tracker.ProcessNoisePos, c.ProcessNoisePos)
	setFloat(&cfg.Tracker.ProcessNoiseVel, c.ProcessNoiseVel)
	setFloat(&cfg.Tracker.MeasurementNoise, c.MeasurementNoise)
	setFloat(&cfg.Tracker.MinConfidence, c.MinConfidence)

	setBool(&cfg.Physics.EnableEnhancedPhysics, c.EnableEnhancedPhysics)
	setInt(&cfg.Physics.ParabolaMinPoints, c.ParabolaMinPoints)
	setFloat(&cfg.Physics.ParabolaMinR2, c.ParabolaMinR2)
	setFloat(&cfg.Physics.EnhancedMinR2, c.EnhancedMinR2)
	setFloat(&cfg.Physics.MaxJumpPerFrame, c.MaxJumpPerFrame)
	setFloat(&cfg.Physics.MinQualityScore, c.MinQualityScore)
	setFloat(&cfg.Physics.MinClassificationConfidence, c.MinClassificationConfidence)
	setFloat(&cfg.Physics.VelocityConsistencyThreshold, c.VelocityConsistency)
	setFloat(&cfg.Physics.TrajectorySmoothnessThreshold, c.TrajectorySmoothness)
	setFloat(&cfg.Physics.MinVerticalMotion, c.MinVerticalMotion)

	setFloat(&cfg.Decider.StartBuffer, c.StartBuffer)
	setInt(&cfg.Decider.GraceFrames, c.GraceFrames)
	setFloat(&cfg.Decider.MinRallySec, c.MinRallySec)
	setFloat(&cfg.Decider.HardEndBallAbsence, c.HardEndBallAbsence)
	setFloat(&cfg.Decider.SoftEndProjectileTimeout, c.SoftEndProjectileTimeout)
	setFloat(&cfg.Decider.SoftEndBallRateThreshold, c.SoftEndBallRateThreshold)
	setFloat(&cfg.Decider.StayAliveRecencyWindow, c.StayAliveRecencyWindow)

	setFloat(&cfg.Segments.PreRoll, c.PreRoll)
	setFloat(&cfg.Segments.PostRoll, c.PostRoll)
	setFloat(&cfg.Segments.ShortSegmentThreshold, c.ShortSegmentThreshold)
	setFloat(&cfg.Segments.MaxPrerollForShort, c.MaxPrerollForShort)
	setFloat(&cfg.Segments.MinGapToMerge, c.MinGapToMerge)
	setFloat(&cfg.Segments.MinSegmentLength, c.MinSegmentLength)

	setFloat(&cfg.ProjectileWindowSec, c.ProjectileWindowSec)

	return cfg
}
