package rally

import (
	"testing"
)

func det(cx, cy, conf, t float64) Detection {
	return Detection{CX: cx, CY: cy, W: 0.02, H: 0.02, Confidence: conf, Time: t}
}

func TestTrackerSpawnsTrackFromDetection(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	retired := tr.Update([]Detection{det(0.5, 0.5, 0.9, 0)}, 0)
	if len(retired) != 0 {
		t.Errorf("Expected no retired tracks, got %d", len(retired))
	}
	if len(tr.Tracks()) != 1 {
		t.Fatalf("Expected 1 track, got %d", len(tr.Tracks()))
	}

	track := tr.Tracks()[0]
	if track.ID == "" {
		t.Error("Expected non-empty track ID")
	}
	if len(track.History) != 1 {
		t.Errorf("Expected history length 1, got %d", len(track.History))
	}
	if track.X != 0.5 || track.Y != 0.5 {
		t.Errorf("Expected position (0.5, 0.5), got (%f, %f)", track.X, track.Y)
	}
}

func TestTrackerIgnoresLowConfidenceSpawn(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	tr.Update([]Detection{
		det(0.3, 0.3, 0.9, 0),
		det(0.7, 0.7, 0.2, 0), // below MinConfidence
	}, 0)

	if len(tr.Tracks()) != 1 {
		t.Errorf("Expected 1 track (low-confidence detection ignored), got %d", len(tr.Tracks()))
	}
}

func TestTrackerFollowsMovingBall(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	for i := 0; i < 10; i++ {
		ts := float64(i) / 30.0
		tr.Update([]Detection{det(0.2+0.01*float64(i), 0.5, 0.9, ts)}, ts)
	}

	if len(tr.Tracks()) != 1 {
		t.Fatalf("Expected 1 continuous track, got %d", len(tr.Tracks()))
	}
	track := tr.Tracks()[0]
	if track.Hits != 10 {
		t.Errorf("Expected 10 hits, got %d", track.Hits)
	}
	if len(track.History) != 10 {
		t.Errorf("Expected 10 history points, got %d", len(track.History))
	}
	if track.Misses != 0 {
		t.Errorf("Expected 0 misses, got %d", track.Misses)
	}
	// The filter should have converged to rightward motion.
	if track.VX <= 0 {
		t.Errorf("Expected positive VX after rightward motion, got %f", track.VX)
	}
}

func TestTrackerNearestDetectionWinsRegardlessOfOrder(t *testing.T) {
	near := det(0.505, 0.5, 0.9, 1.0/30.0)
	far := det(0.56, 0.5, 0.9, 1.0/30.0)

	run := func(frame []Detection) *BallTrack {
		tr := NewTracker(DefaultTrackerConfig())
		tr.Update([]Detection{det(0.5, 0.5, 0.9, 0)}, 0)
		tr.Update(frame, 1.0/30.0)
		// The original track is the one with two history points.
		for _, track := range tr.Tracks() {
			if len(track.History) == 2 {
				return track
			}
		}
		return nil
	}

	for _, frame := range [][]Detection{{near, far}, {far, near}} {
		track := run(frame)
		if track == nil {
			t.Fatal("Original track not found")
		}
		got := track.History[1]
		if got.X != near.CX || got.Y != near.CY {
			t.Errorf("Expected nearest detection (%f, %f) to win, track got (%f, %f)",
				near.CX, near.CY, got.X, got.Y)
		}
	}
}

func TestTrackerEvictsAndRetiresStaleTrack(t *testing.T) {
	cfg := DefaultTrackerConfig()
	tr := NewTracker(cfg)

	// Enough matched frames to make the track worth classifying.
	for i := 0; i < cfg.MinPointsToFinalize; i++ {
		ts := float64(i) / 30.0
		tr.Update([]Detection{det(0.5, 0.5, 0.9, ts)}, ts)
	}

	var retired []*BallTrack
	for i := 0; i <= cfg.MaxMisses; i++ {
		ts := float64(cfg.MinPointsToFinalize+i) / 30.0
		retired = append(retired, tr.Update(nil, ts)...)
	}

	if len(retired) != 1 {
		t.Fatalf("Expected 1 retired track, got %d", len(retired))
	}
	if len(retired[0].History) != cfg.MinPointsToFinalize {
		t.Errorf("Expected %d history points, got %d", cfg.MinPointsToFinalize, len(retired[0].History))
	}
	if len(tr.Tracks()) != 0 {
		t.Errorf("Expected no live tracks after eviction, got %d", len(tr.Tracks()))
	}
}

func TestTrackerDiscardsShortTrackOnEviction(t *testing.T) {
	cfg := DefaultTrackerConfig()
	tr := NewTracker(cfg)

	// Only two matched frames, below MinPointsToFinalize.
	tr.Update([]Detection{det(0.5, 0.5, 0.9, 0)}, 0)
	tr.Update([]Detection{det(0.5, 0.5, 0.9, 1.0/30.0)}, 1.0/30.0)

	var retired []*BallTrack
	for i := 0; i <= cfg.MaxMisses; i++ {
		ts := float64(2+i) / 30.0
		retired = append(retired, tr.Update(nil, ts)...)
	}

	if len(retired) != 0 {
		t.Errorf("Expected short track to be discarded, got %d retired", len(retired))
	}
	if len(tr.Tracks()) != 0 {
		t.Errorf("Expected no live tracks, got %d", len(tr.Tracks()))
	}
}

func TestTrackerCapsTrackCount(t *testing.T) {
	cfg := DefaultTrackerConfig()
	tr := NewTracker(cfg)

	var frame []Detection
	for i := 0; i < cfg.MaxTracks+4; i++ {
		frame = append(frame, det(0.02+0.045*float64(i), 0.5, 0.9, 0))
	}
	tr.Update(frame, 0)

	if len(tr.Tracks()) != cfg.MaxTracks {
		t.Errorf("Expected track count capped at %d, got %d", cfg.MaxTracks, len(tr.Tracks()))
	}
}

func TestTrackerFlush(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	for i := 0; i < 6; i++ {
		ts := float64(i) / 30.0
		tr.Update([]Detection{det(0.5, 0.5, 0.9, ts)}, ts)
	}

	retired := tr.Flush()
	if len(retired) != 1 {
		t.Fatalf("Expected 1 retired track from Flush, got %d", len(retired))
	}
	if len(retired[0].History) != 6 {
		t.Errorf("Expected 6 history points, got %d", len(retired[0].History))
	}
	if len(tr.Tracks()) != 0 {
		t.Errorf("Expected no live tracks after Flush, got %d", len(tr.Tracks()))
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{det(0.5, 0.5, 0.9, 0)}, 0)
	tr.Reset()
	if len(tr.Tracks()) != 0 {
		t.Errorf("Expected no tracks after Reset, got %d", len(tr.Tracks()))
	}
}

func TestBestTrackPrefersHighestConfidence(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	if tr.BestTrack() != nil {
		t.Error("Expected nil BestTrack for empty tracker")
	}

	tr.Update([]Detection{det(0.2, 0.5, 0.4, 0), det(0.8, 0.5, 0.9, 0)}, 0)
	best := tr.BestTrack()
	if best == nil {
		t.Fatal("Expected non-nil BestTrack")
	}
	if best.History[0].X != 0.8 {
		t.Errorf("Expected best track at x=0.8, got x=%f", best.History[0].X)
	}
}

func TestRecentPointsWindow(t *testing.T) {
	track := &BallTrack{}
	for i := 0; i <= 10; i++ {
		track.History = append(track.History, TrackPoint{Time: float64(i) * 0.1})
	}

	recent := track.RecentPoints(0.35)
	if len(recent) != 4 {
		t.Fatalf("Expected 4 recent points, got %d", len(recent))
	}
	if recent[0].Time < 0.65 {
		t.Errorf("Expected first recent point at >= 0.65s, got %f", recent[0].Time)
	}

	all := track.RecentPoints(100)
	if len(all) != len(track.History) {
		t.Errorf("Expected full history for oversized window, got %d of %d", len(all), len(track.History))
	}

	empty := &BallTrack{}
	if empty.RecentPoints(1) != nil {
		t.Error("Expected nil for empty history")
	}
}
