package rally

// RallyRecord is one completed rally as seen by the pipeline, with the
// evidence statistics accumulated while it was active.
type RallyRecord struct {
	Start             float64 `json:"start"`
	End               float64 `json:"end"`
	MaxConfidence     float64 `json:"max_confidence"`
	AvgConfidence     float64 `json:"avg_confidence"`
	EstimatedContacts int     `json:"estimated_contacts"`
	QualityScore      float64 `json:"quality_score"`
}

// Duration returns the rally length in seconds.
func (r RallyRecord) Duration() float64 { return r.End - r.Start }

// rallyQuality scores a completed rally from its duration, average evidence
// confidence and estimated ball contacts. Longer, higher-confidence rallies
// with more contacts score higher; the score saturates at 10s and 10
// contacts.
func rallyQuality(duration, avgConfidence float64, contacts int) float64 {
	durationScore := clamp01(duration / 10.0)
	contactScore := clamp01(float64(contacts) / 10.0)
	return 0.3*durationScore + 0.4*clamp01(avgConfidence) + 0.3*contactScore
}

// RunStats holds aggregate statistics for one processed video.
type RunStats struct {
	FramesProcessed int `json:"frames_processed"`
	DetectionFrames int `json:"detection_frames"`
	TracksRetired   int `json:"tracks_retired"`

	// MovementCounts tallies the classification of every retired track.
	MovementCounts map[MovementType]int `json:"movement_counts"`

	RallyCount       int           `json:"rally_count"`
	TotalRallySec    float64       `json:"total_rally_sec"`
	AvgRallySec      float64       `json:"avg_rally_sec"`
	AvgRallyQuality  float64       `json:"avg_rally_quality"`
	TotalContacts    int           `json:"total_contacts"`
	Rallies          []RallyRecord `json:"rallies"`
	SegmentCount     int           `json:"segment_count"`
	TotalSegmentSec  float64       `json:"total_segment_sec"`
	CoverageFraction float64       `json:"coverage_fraction"`
}

// newRunStats returns an empty stats accumulator.
func newRunStats() *RunStats {
	return &RunStats{MovementCounts: make(map[MovementType]int)}
}

// recordRally folds a completed rally into the aggregates.
func (rs *RunStats) recordRally(r RallyRecord) {
	rs.Rallies = append(rs.Rallies, r)
	rs.RallyCount++
	rs.TotalRallySec += r.Duration()
	rs.TotalContacts += r.EstimatedContacts
	rs.AvgRallySec = rs.TotalRallySec / float64(rs.RallyCount)

	var qualitySum float64
	for _, rec := range rs.Rallies {
		qualitySum += rec.QualityScore
	}
	rs.AvgRallyQuality = qualitySum / float64(rs.RallyCount)
}

// recordSegments folds the final segment list into the aggregates.
func (rs *RunStats) recordSegments(segments []Segment, totalDuration float64) {
	rs.SegmentCount = len(segments)
	rs.TotalSegmentSec = 0
	for _, s := range segments {
		rs.TotalSegmentSec += s.Duration()
	}
	if totalDuration > 0 {
		rs.CoverageFraction = rs.TotalSegmentSec / totalDuration
	}
}
