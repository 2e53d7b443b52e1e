// Package rally implements the rally-detection core: a multi-target ball
// tracker, a physics-based trajectory classifier, a hysteresis rally state
// machine, and a segment builder that turns the per-frame activity stream
// into padded, merged, clamped output time ranges.
//
// All positions are normalized frame-fraction coordinates in [0,1] with the
// origin at the top-left of the frame and y increasing downward (image
// convention). All timestamps are media-relative seconds. The whole package
// is designed for single-threaded, sequential invocation: one call per video
// frame in non-decreasing timestamp order. Independent videos get
// independent instances; nothing here is shared.
package rally

import "math"

// Detection is one frame's evidence of a ball candidate: a normalized
// bounding box, the detector confidence, and the frame timestamp.
// Detections are immutable and produced externally, zero or more per frame.
type Detection struct {
	// CX, CY are the box centre in frame-fraction coordinates [0,1].
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	// W, H are the box extent in frame fractions.
	W float64 `json:"w"`
	H float64 `json:"h"`
	// Confidence is the detector score in [0,1].
	Confidence float64 `json:"conf"`
	// Time is the media-relative timestamp in seconds.
	Time float64 `json:"t"`
}

// Valid reports whether the detection is finite, positively sized and inside
// the normalized coordinate domain. Malformed detections are rejected before
// they reach the tracker; the tracker itself assumes clean input.
func (d Detection) Valid() bool {
	for _, v := range []float64{d.CX, d.CY, d.W, d.H, d.Confidence, d.Time} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if d.W <= 0 || d.H <= 0 {
		return false
	}
	if d.CX < 0 || d.CX > 1 || d.CY < 0 || d.CY > 1 {
		return false
	}
	return d.Confidence >= 0 && d.Confidence <= 1 && d.Time >= 0
}

// FilterValid returns the subset of detections that pass Valid, preserving
// input order. This is the input-validation boundary in front of the core.
func FilterValid(detections []Detection) []Detection {
	out := detections[:0:0]
	for _, d := range detections {
		if d.Valid() {
			out = append(out, d)
		}
	}
	return out
}
