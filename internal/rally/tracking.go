package rally

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Numerical stability constants for the Kalman filter. Not user-tunable.
const (
	// minDeterminant is the smallest innovation-covariance determinant we
	// will invert; anything below it is treated as singular.
	minDeterminant = 1e-12
	// singularDistanceRejection is returned as the gating distance when the
	// innovation covariance is singular, so the pair is never matched.
	singularDistanceRejection = 1e9
)

// TrackerConfig holds configuration parameters for the ball tracker.
// Position units are frame fractions, time units seconds.
type TrackerConfig struct {
	MaxTracks           int     // Maximum number of concurrent tracks
	MaxMisses           int     // Consecutive missed frames before eviction
	GatingDistance      float64 // Maximum association distance (frame fraction)
	ProcessNoisePos     float64 // Process noise for position (σ²)
	ProcessNoiseVel     float64 // Process noise for velocity (σ²)
	MeasurementNoise    float64 // Measurement noise (σ²)
	MinConfidence       float64 // Minimum detection confidence to spawn a track
	ConfidenceDecay     float64 // Per-frame track confidence decay factor
	ConfidenceBoost     float64 // Confidence added when a detection matches
	MinPointsToFinalize int     // History length below which an evicted track is discarded
	DefaultFrameDt      float64 // dt assumed for the very first frame (seconds)
}

// DefaultTrackerConfig returns tracker defaults tuned for ball-sized objects
// in normalized coordinates at typical 30 fps footage.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxTracks:           16,
		MaxMisses:           15,
		GatingDistance:      0.15,
		ProcessNoisePos:     1e-4,
		ProcessNoiseVel:     5e-4,
		MeasurementNoise:    1e-3,
		MinConfidence:       0.3,
		ConfidenceDecay:     0.95,
		ConfidenceBoost:     0.1,
		MinPointsToFinalize: 5,
		DefaultFrameDt:      1.0 / 30.0,
	}
}

// TrackPoint is a single position sample in a track's history.
type TrackPoint struct {
	X          float64 // frame fraction
	Y          float64 // frame fraction, image convention (down is positive)
	Time       float64 // media seconds
	Confidence float64 // detector confidence of the matched detection
}

// BallTrack is an ordered position history believed to be the same physical
// object across frames, together with its Kalman filter state. A track is
// owned exclusively by the Tracker while live; once evicted it is handed out
// for classification and never mutated again.
type BallTrack struct {
	ID string

	// Kalman state [x, y, vx, vy] and 4x4 covariance, row-major.
	X, Y, VX, VY float64
	P            [16]float64

	// Lifecycle counters.
	Hits   int // total successful associations
	Misses int // consecutive missed frames
	Age    int // total frames this track has existed

	Confidence float64 // tracking confidence [0,1], decays between hits
	LastSeen   float64 // timestamp of the last matched detection

	// History holds one sample per matched detection, strictly time-ordered.
	History []TrackPoint
}

// Speed returns the current velocity magnitude in frame fractions per second.
func (bt *BallTrack) Speed() float64 {
	return math.Hypot(bt.VX, bt.VY)
}

// RecentPoints returns the trailing samples covering at least windowSec of
// media time (and always at least the final sample). The returned slice
// aliases the history; callers must not mutate it.
func (bt *BallTrack) RecentPoints(windowSec float64) []TrackPoint {
	n := len(bt.History)
	if n == 0 {
		return nil
	}
	cutoff := bt.History[n-1].Time - windowSec
	i := n - 1
	for i > 0 && bt.History[i-1].Time >= cutoff {
		i--
	}
	return bt.History[i:]
}

// TimeSpan returns the media time covered by the track's history.
func (bt *BallTrack) TimeSpan() float64 {
	if len(bt.History) < 2 {
		return 0
	}
	return bt.History[len(bt.History)-1].Time - bt.History[0].Time
}

// Tracker maintains the set of live ball tracks across frames using a
// constant-velocity Kalman filter per track. Tracks are kept in a slice in
// creation order so that association and eviction are fully deterministic.
type Tracker struct {
	Config TrackerConfig

	tracks   []*BallTrack
	lastTime float64
	started  bool
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{Config: config}
}

// Tracks returns the live track set. The slice is owned by the tracker.
func (t *Tracker) Tracks() []*BallTrack {
	return t.tracks
}

// BestTrack returns the live track with the highest confidence, or nil when
// no tracks exist. Ties favour the older track.
func (t *Tracker) BestTrack() *BallTrack {
	var best *BallTrack
	for _, tr := range t.tracks {
		if best == nil || tr.Confidence > best.Confidence {
			best = tr
		}
	}
	return best
}

// Reset discards all tracks and timing state.
func (t *Tracker) Reset() {
	t.tracks = nil
	t.lastTime = 0
	t.started = false
}

// candidatePair is one (track, detection) association candidate.
type candidatePair struct {
	trackIdx int
	detIdx   int
	distance float64
}

// Update advances every live track to the frame timestamp, associates the
// frame's detections, spawns tracks for unmatched detections, ages and
// evicts stale tracks. It returns the tracks retired this frame that carry
// enough history to be worth classifying; shorter retirees are discarded.
//
// Association is global sorted-distance: every in-gate (track, detection)
// pair is collected, sorted ascending by distance (ties broken by detection
// index, then track order), and committed greedily only when both sides are
// still unclaimed. The nearest detection therefore always wins its track
// regardless of input order.
func (t *Tracker) Update(detections []Detection, timestamp float64) []*BallTrack {
	dt := t.Config.DefaultFrameDt
	if t.started && timestamp > t.lastTime {
		dt = timestamp - t.lastTime
	}
	t.lastTime = timestamp
	t.started = true

	// Predict all live tracks to the current frame.
	for _, tr := range t.tracks {
		t.predict(tr, dt)
	}

	// Collect all in-gate candidate pairs.
	var pairs []candidatePair
	for ti, tr := range t.tracks {
		for di, det := range detections {
			d := t.gatingDistance(tr, det)
			if d < t.Config.GatingDistance {
				pairs = append(pairs, candidatePair{trackIdx: ti, detIdx: di, distance: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].distance != pairs[j].distance {
			return pairs[i].distance < pairs[j].distance
		}
		if pairs[i].detIdx != pairs[j].detIdx {
			return pairs[i].detIdx < pairs[j].detIdx
		}
		return pairs[i].trackIdx < pairs[j].trackIdx
	})

	trackClaimed := make([]bool, len(t.tracks))
	detClaimed := make([]bool, len(detections))
	for _, p := range pairs {
		if trackClaimed[p.trackIdx] || detClaimed[p.detIdx] {
			continue
		}
		trackClaimed[p.trackIdx] = true
		detClaimed[p.detIdx] = true
		t.correct(t.tracks[p.trackIdx], detections[p.detIdx], timestamp)
	}

	// Age unmatched tracks and evict past the miss threshold.
	var live, retired []*BallTrack
	for ti, tr := range t.tracks {
		tr.Age++
		tr.Confidence *= t.Config.ConfidenceDecay
		if trackClaimed[ti] {
			live = append(live, tr)
			continue
		}
		tr.Misses++
		if tr.Misses > t.Config.MaxMisses {
			if len(tr.History) >= t.Config.MinPointsToFinalize {
				retired = append(retired, tr)
			}
			continue
		}
		live = append(live, tr)
	}
	t.tracks = live

	// Unmatched detections spawn new tracks, capped at MaxTracks.
	for di, det := range detections {
		if detClaimed[di] || det.Confidence < t.Config.MinConfidence {
			continue
		}
		if len(t.tracks) >= t.Config.MaxTracks {
			break
		}
		t.tracks = append(t.tracks, newBallTrack(det, timestamp))
	}

	return retired
}

// Flush retires every remaining live track, returning those long enough to
// classify. Call at end of stream so trailing trajectories are not lost.
func (t *Tracker) Flush() []*BallTrack {
	var retired []*BallTrack
	for _, tr := range t.tracks {
		if len(tr.History) >= t.Config.MinPointsToFinalize {
			retired = append(retired, tr)
		}
	}
	t.tracks = nil
	return retired
}

func newBallTrack(det Detection, timestamp float64) *BallTrack {
	return &BallTrack{
		ID: uuid.NewString(),
		X:  det.CX,
		Y:  det.CY,
		// Velocity starts at zero with high uncertainty.
		P: [16]float64{
			0.01, 0, 0, 0,
			0, 0.01, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		},
		Hits:       1,
		Age:        1,
		Confidence: det.Confidence,
		LastSeen:   timestamp,
		History: []TrackPoint{{
			X:          det.CX,
			Y:          det.CY,
			Time:       timestamp,
			Confidence: det.Confidence,
		}},
	}
}

// predict applies the constant-velocity Kalman prediction step.
func (t *Tracker) predict(tr *BallTrack, dt float64) {
	// State transition F:
	// [1 0 dt 0 ]
	// [0 1 0  dt]
	// [0 0 1  0 ]
	// [0 0 0  1 ]
	tr.X += tr.VX * dt
	tr.Y += tr.VY * dt

	// P' = F P Fᵀ + Q, computed directly.
	P := tr.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		tr.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		tr.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		tr.P[i*4+2] = FP[i*4+2]
		tr.P[i*4+3] = FP[i*4+3]
	}
	tr.P[0*4+0] += t.Config.ProcessNoisePos
	tr.P[1*4+1] += t.Config.ProcessNoisePos
	tr.P[2*4+2] += t.Config.ProcessNoiseVel
	tr.P[3*4+3] += t.Config.ProcessNoiseVel
}

// gatingDistance returns the Mahalanobis distance between the track's
// predicted position and the detection centre, falling back to Euclidean
// distance when the innovation covariance is near-singular.
func (t *Tracker) gatingDistance(tr *BallTrack, det Detection) float64 {
	dx := det.CX - tr.X
	dy := det.CY - tr.Y

	// Innovation covariance S = H P Hᵀ + R with H selecting position.
	s00 := tr.P[0*4+0] + t.Config.MeasurementNoise
	s01 := tr.P[0*4+1]
	s10 := tr.P[1*4+0]
	s11 := tr.P[1*4+1] + t.Config.MeasurementNoise

	det2 := s00*s11 - s01*s10
	if det2 < minDeterminant {
		return math.Hypot(dx, dy)
	}

	inv00 := s11 / det2
	inv01 := -s01 / det2
	inv10 := -s10 / det2
	inv11 := s00 / det2

	d2 := dx*dx*inv00 + dx*dy*(inv01+inv10) + dy*dy*inv11
	if d2 < 0 {
		return singularDistanceRejection
	}
	// Scale by the measurement noise so the configured gate stays in frame
	// fractions rather than unitless Mahalanobis sigmas.
	return math.Sqrt(d2 * t.Config.MeasurementNoise)
}

// correct applies the Kalman update step with a matched detection.
func (t *Tracker) correct(tr *BallTrack, det Detection, timestamp float64) {
	yX := det.CX - tr.X
	yY := det.CY - tr.Y

	s00 := tr.P[0*4+0] + t.Config.MeasurementNoise
	s01 := tr.P[0*4+1]
	s10 := tr.P[1*4+0]
	s11 := tr.P[1*4+1] + t.Config.MeasurementNoise

	detS := s00*s11 - s01*s10
	if detS < minDeterminant {
		// Singular innovation covariance: skip the filter update but still
		// record the sample so the trajectory history stays complete.
		tr.appendSample(det, timestamp, t.Config.ConfidenceBoost)
		return
	}

	inv00 := s11 / detS
	inv01 := -s01 / detS
	inv10 := -s10 / detS
	inv11 := s00 / detS

	// Kalman gain K = P Hᵀ S⁻¹ (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = tr.P[i*4+0]*inv00 + tr.P[i*4+1]*inv10
		K[i*2+1] = tr.P[i*4+0]*inv01 + tr.P[i*4+1]*inv11
	}

	tr.X += K[0*2+0]*yX + K[0*2+1]*yY
	tr.Y += K[1*2+0]*yX + K[1*2+1]*yY
	tr.VX += K[2*2+0]*yX + K[2*2+1]*yY
	tr.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I - K H) P
	var IKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var id float64
			if i == j {
				id = 1
			}
			var kh float64
			switch j {
			case 0:
				kh = K[i*2+0]
			case 1:
				kh = K[i*2+1]
			}
			IKH[i*4+j] = id - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IKH[i*4+k] * tr.P[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	tr.P = newP

	tr.appendSample(det, timestamp, t.Config.ConfidenceBoost)
}

func (tr *BallTrack) appendSample(det Detection, timestamp, boost float64) {
	tr.Hits++
	tr.Misses = 0
	tr.LastSeen = timestamp
	tr.Confidence = math.Min(1, tr.Confidence+boost)
	tr.History = append(tr.History, TrackPoint{
		X:          det.CX,
		Y:          det.CY,
		Time:       timestamp,
		Confidence: det.Confidence,
	})
}
