package rally

import (
	"context"
	"math"

	"github.com/rallycut/rallycut/internal/monitoring"
)

// ProcessorConfig aggregates the per-component configurations plus the
// frame-loop parameters that glue them together.
type ProcessorConfig struct {
	Tracker  TrackerConfig
	Physics  PhysicsConfig
	Decider  DeciderConfig
	Segments SegmentConfig

	// ProjectileWindowSec is the trailing slice of the best track's history
	// handed to the classifier each frame.
	ProjectileWindowSec float64

	// Contact estimation: a step change in the best track's speed larger
	// than VelocityChangeThreshold (frame fractions per second), at least
	// MinContactSeparation seconds after the previous one, counts as a
	// ball contact.
	VelocityChangeThreshold float64
	MinContactSeparation    float64

	Verbose bool
}

// DefaultProcessorConfig returns the default end-to-end configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Tracker:                 DefaultTrackerConfig(),
		Physics:                 DefaultPhysicsConfig(),
		Decider:                 DefaultDeciderConfig(),
		Segments:                DefaultSegmentConfig(),
		ProjectileWindowSec:     1.0,
		VelocityChangeThreshold: 0.5,
		MinContactSeparation:    0.3,
	}
}

// ConservativeConfig trades recall for precision: fewer false rallies,
// possibly missing marginal ones.
func ConservativeConfig() ProcessorConfig {
	cfg := DefaultProcessorConfig()
	cfg.Tracker.MinConfidence = 0.5
	cfg.Decider.StartBuffer = 2.0
	cfg.Decider.MinRallySec = 2.0
	cfg.Physics.MinQualityScore = 0.7
	return cfg
}

// AggressiveConfig trades precision for recall: catches more rallies at the
// cost of occasional false positives.
func AggressiveConfig() ProcessorConfig {
	cfg := DefaultProcessorConfig()
	cfg.Tracker.MinConfidence = 0.2
	cfg.Decider.StartBuffer = 1.0
	cfg.Decider.MinRallySec = 1.0
	cfg.Physics.MinQualityScore = 0.45
	cfg.Physics.MinClassificationConfidence = 0.5
	return cfg
}

// HighPrecisionConfig keeps only the cleanest rallies.
func HighPrecisionConfig() ProcessorConfig {
	cfg := DefaultProcessorConfig()
	cfg.Tracker.MinConfidence = 0.6
	cfg.Decider.StartBuffer = 2.0
	cfg.Decider.MinRallySec = 3.0
	cfg.Physics.MinQualityScore = 0.8
	cfg.Physics.EnhancedMinR2 = 0.8
	cfg.Segments.MinSegmentLength = 3.0
	return cfg
}

// ActivitySample is one frame's worth of pipeline evidence, retained for
// reporting.
type ActivitySample struct {
	Time            float64 `json:"t"`
	HasBall         bool    `json:"has_ball"`
	IsProjectile    bool    `json:"is_projectile"`
	RallyActive     bool    `json:"rally_active"`
	TrackConfidence float64 `json:"track_confidence"`
}

// Processor wires the four core components into a per-frame loop:
// detections → tracker → classifier → decider → segment builder. Data flows
// strictly forward; no component calls backward into an earlier stage.
//
// The processor is single-threaded and synchronous: one ProcessFrame call
// per video frame in increasing timestamp order. Cancellation is checked
// only at the frame boundary, so state is always self-consistent and
// resumable between frames. Each video gets its own Processor; nothing is
// shared between instances.
type Processor struct {
	Config ProcessorConfig

	tracker    *Tracker
	classifier *MovementClassifier
	decider    *RallyDecider
	builder    *SegmentBuilder

	stats   *RunStats
	samples []ActivitySample

	// Per-rally evidence accumulation.
	rallyOpen          bool
	rallyConfidenceSum float64
	rallyConfidenceN   int
	rallyMaxConfidence float64
	rallyContacts      int
	lastSpeed          float64
	haveLastSpeed      bool
	lastContactTime    float64
	haveContact        bool
}

// NewProcessor creates an independent processing instance for one video.
func NewProcessor(config ProcessorConfig) *Processor {
	return &Processor{
		Config:     config,
		tracker:    NewTracker(config.Tracker),
		classifier: NewMovementClassifier(config.Physics),
		decider:    NewRallyDecider(config.Decider),
		builder:    NewSegmentBuilder(config.Segments),
		stats:      newRunStats(),
	}
}

// Samples returns the per-frame activity samples collected so far.
func (p *Processor) Samples() []ActivitySample { return p.samples }

// ProcessFrame feeds one frame of detections through the pipeline. The only
// error it can return is ctx.Err(); all degenerate input resolves to "no
// evidence" rather than a failure.
func (p *Processor) ProcessFrame(ctx context.Context, detections []Detection, timestamp float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.stats.FramesProcessed++

	valid := FilterValid(detections)
	hasBall := len(valid) > 0
	if hasBall {
		p.stats.DetectionFrames++
	}

	retired := p.tracker.Update(valid, timestamp)
	p.recordRetired(retired)

	best := p.tracker.BestTrack()
	isProjectile := false
	trackConfidence := 0.0
	if best != nil {
		trackConfidence = best.Confidence
		isProjectile = p.classifier.IsValidProjectile(best.RecentPoints(p.Config.ProjectileWindowSec))
	}

	active := p.decider.Update(hasBall, isProjectile, timestamp)
	p.trackRally(active, timestamp, trackConfidence, best)
	p.builder.Observe(active, timestamp)

	p.samples = append(p.samples, ActivitySample{
		Time:            timestamp,
		HasBall:         hasBall,
		IsProjectile:    isProjectile,
		RallyActive:     active,
		TrackConfidence: trackConfidence,
	})
	return nil
}

// Finalize flushes trailing tracks, closes any open rally at totalDuration,
// and returns the final segments together with the run statistics.
func (p *Processor) Finalize(totalDuration float64) ([]Segment, *RunStats) {
	p.recordRetired(p.tracker.Flush())
	if p.rallyOpen {
		p.closeRally(totalDuration)
	}
	segments := p.builder.Finalize(totalDuration)
	p.stats.recordSegments(segments, totalDuration)
	if p.Config.Verbose {
		monitoring.Logf("run: %d frames, %d rallies, %d segments (%.1fs kept of %.1fs)",
			p.stats.FramesProcessed, p.stats.RallyCount, len(segments), p.stats.TotalSegmentSec, totalDuration)
	}
	return segments, p.stats
}

// recordRetired classifies every retired track and tallies the verdicts.
func (p *Processor) recordRetired(retired []*BallTrack) {
	for _, tr := range retired {
		p.stats.TracksRetired++
		c := p.classifier.Classify(tr.History)
		p.stats.MovementCounts[c.Type]++
	}
}

// trackRally maintains per-rally evidence accumulation and contact
// estimation across decider transitions.
func (p *Processor) trackRally(active bool, timestamp, trackConfidence float64, best *BallTrack) {
	if active && !p.rallyOpen {
		p.rallyOpen = true
		p.rallyConfidenceSum = 0
		p.rallyConfidenceN = 0
		p.rallyMaxConfidence = 0
		p.rallyContacts = 0
		p.haveContact = false
	}
	if !active && p.rallyOpen {
		p.closeRally(timestamp)
	}

	if p.rallyOpen {
		p.rallyConfidenceSum += trackConfidence
		p.rallyConfidenceN++
		p.rallyMaxConfidence = math.Max(p.rallyMaxConfidence, trackConfidence)
	}

	// Contact estimation from sharp speed changes on the best track.
	if best == nil {
		p.haveLastSpeed = false
		return
	}
	speed := best.Speed()
	if p.haveLastSpeed && p.rallyOpen &&
		math.Abs(speed-p.lastSpeed) > p.Config.VelocityChangeThreshold {
		if !p.haveContact || timestamp-p.lastContactTime > p.Config.MinContactSeparation {
			p.rallyContacts++
			p.lastContactTime = timestamp
			p.haveContact = true
		}
	}
	p.lastSpeed = speed
	p.haveLastSpeed = true
}

func (p *Processor) closeRally(endTime float64) {
	p.rallyOpen = false
	avg := 0.0
	if p.rallyConfidenceN > 0 {
		avg = p.rallyConfidenceSum / float64(p.rallyConfidenceN)
	}
	start := p.decider.RallyStartTime()
	rec := RallyRecord{
		Start:             start,
		End:               endTime,
		MaxConfidence:     p.rallyMaxConfidence,
		AvgConfidence:     avg,
		EstimatedContacts: p.rallyContacts,
	}
	rec.QualityScore = rallyQuality(rec.Duration(), avg, p.rallyContacts)
	p.stats.recordRally(rec)
}
