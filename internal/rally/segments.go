package rally

import (
	"math"
	"sort"

	"github.com/rallycut/rallycut/internal/monitoring"
)

// Segment is a half-open media time range [Start, End) in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// SegmentConfig holds the padding, merging and filtering parameters of the
// segment builder. All values are seconds.
type SegmentConfig struct {
	PreRoll  float64 // padding before each raw span's start
	PostRoll float64 // padding after each raw span's end

	// ShortSegmentThreshold caps the pre-roll of raw spans shorter than
	// this to MaxPrerollForShort, so brief rallies do not absorb unrelated
	// footage before them.
	ShortSegmentThreshold float64
	MaxPrerollForShort    float64

	MinGapToMerge    float64 // padded spans closer than this merge into one
	MinSegmentLength float64 // padded spans shorter than this are dropped

	Verbose bool
}

// DefaultSegmentConfig returns the segment-builder defaults.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		PreRoll:               2.0,
		PostRoll:              0.5,
		ShortSegmentThreshold: 2.5,
		MaxPrerollForShort:    0.5,
		MinGapToMerge:         1.5,
		MinSegmentLength:      2.0,
	}
}

// SegmentBuilder accumulates active spans — from a per-frame Observe stream,
// from raw appended ranges, or from pre-padded ranges — and produces the
// final clamped, padded, merged, sorted segment list in Finalize. State is
// private and single-writer; one instance per video.
type SegmentBuilder struct {
	Config SegmentConfig

	currentStart float64
	open         bool
	ranges       []Segment
}

// NewSegmentBuilder creates an empty builder.
func NewSegmentBuilder(config SegmentConfig) *SegmentBuilder {
	return &SegmentBuilder{Config: config}
}

// Reset discards all accumulated spans and any open observation.
func (sb *SegmentBuilder) Reset() {
	sb.currentStart = 0
	sb.open = false
	sb.ranges = sb.ranges[:0]
}

// Observe records the rally-activity state at a timestamp. Contiguous runs
// of active observations become raw spans; padding is applied when a run
// closes.
func (sb *SegmentBuilder) Observe(isActive bool, timestamp float64) {
	if isActive {
		if !sb.open {
			sb.currentStart = timestamp
			sb.open = true
		}
		return
	}
	if sb.open {
		sb.closeSpan(sb.currentStart, timestamp)
		sb.open = false
	}
}

// AppendRaw adds a raw [start,end) span; pre/post-roll padding is applied
// on the same path as observed spans.
func (sb *SegmentBuilder) AppendRaw(start, end float64) {
	sb.closeSpan(start, end)
}

// AppendPadded adds a span that is already padded. No additional pre/post
// roll is applied; merging, filtering and clamping still happen in Finalize.
func (sb *SegmentBuilder) AppendPadded(start, end float64) {
	sb.ranges = append(sb.ranges, Segment{Start: start, End: end})
}

// Finalize closes any open span at totalDuration and returns the final
// segments: clamped to [0, totalDuration], sorted by start, merged across
// gaps ≤ MinGapToMerge, with spans shorter than MinSegmentLength dropped.
// No observations or all-inactive input yields an empty result.
func (sb *SegmentBuilder) Finalize(totalDuration float64) []Segment {
	if sb.open {
		sb.closeSpan(sb.currentStart, totalDuration)
		sb.open = false
	}

	clamped := make([]Segment, 0, len(sb.ranges))
	for _, r := range sb.ranges {
		start := math.Max(0, r.Start)
		end := math.Min(totalDuration, r.End)
		if end > start {
			clamped = append(clamped, Segment{Start: start, End: end})
		}
	}
	sort.Slice(clamped, func(i, j int) bool { return clamped[i].Start < clamped[j].Start })

	var merged []Segment
	for _, r := range clamped {
		if n := len(merged); n > 0 && gapBetween(merged[n-1], r) <= sb.Config.MinGapToMerge {
			merged[n-1].End = math.Max(merged[n-1].End, r.End)
			continue
		}
		merged = append(merged, r)
	}

	final := merged[:0:0]
	for _, r := range merged {
		if r.Duration() >= sb.Config.MinSegmentLength {
			final = append(final, r)
		}
	}

	if sb.Config.Verbose {
		var total float64
		for _, r := range final {
			total += r.Duration()
		}
		monitoring.Logf("segments: %d raw -> %d final, %.1fs total", len(sb.ranges), len(final), total)
	}
	return final
}

// closeSpan applies padding to a raw span and stores it. Short raw spans
// get the capped pre-roll.
func (sb *SegmentBuilder) closeSpan(start, end float64) {
	preroll := sb.Config.PreRoll
	if end-start < sb.Config.ShortSegmentThreshold {
		preroll = math.Min(preroll, sb.Config.MaxPrerollForShort)
	}
	sb.ranges = append(sb.ranges, Segment{
		Start: start - preroll,
		End:   end + sb.Config.PostRoll,
	})
}

func gapBetween(a, b Segment) float64 {
	return math.Max(0, b.Start-a.End)
}
