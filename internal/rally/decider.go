package rally

import "github.com/rallycut/rallycut/internal/monitoring"

// RallyState is the decider's mode.
type RallyState string

const (
	// RallyIdle means no rally is in progress.
	RallyIdle RallyState = "idle"
	// RallyActive means a rally is confirmed and ongoing.
	RallyActive RallyState = "active"
)

// DeciderConfig holds the hysteresis parameters of the rally state machine.
// All durations are seconds of media time.
type DeciderConfig struct {
	// StartBuffer is the continuous projectile-evidence run required before
	// idle transitions to active.
	StartBuffer float64
	// GraceFrames is the number of consecutive non-projectile frames
	// tolerated inside a run before the run-start clock resets.
	GraceFrames int

	// MinRallySec is the floor below which no exit condition is honored,
	// regardless of evidence.
	MinRallySec float64
	// HardEndBallAbsence ends an active rally when no ball at all has been
	// seen for this long.
	HardEndBallAbsence float64
	// SoftEndProjectileTimeout is the projectile-evidence silence required
	// for a soft end, together with a low trailing ball-sighting rate.
	SoftEndProjectileTimeout float64
	// SoftEndBallRateThreshold is the trailing ball-sighting rate (per
	// second) below which the soft end may fire.
	SoftEndBallRateThreshold float64
	// BallRateWindow is the trailing window over which the ball-sighting
	// rate is measured.
	BallRateWindow float64
	// StayAliveRecencyWindow keeps the rally alive as long as a projectile
	// was seen this recently, blocking both end conditions.
	StayAliveRecencyWindow float64

	Verbose bool
}

// DefaultDeciderConfig returns the decider defaults.
func DefaultDeciderConfig() DeciderConfig {
	return DeciderConfig{
		StartBuffer:              1.5,
		GraceFrames:              2,
		MinRallySec:              1.5,
		HardEndBallAbsence:       0.8,
		SoftEndProjectileTimeout: 1.5,
		SoftEndBallRateThreshold: 0.5,
		BallRateWindow:           3.0,
		StayAliveRecencyWindow:   1.0,
	}
}

// RallyDecider turns per-frame ball/projectile evidence into a per-frame
// "rally active" signal through a hysteresis state machine: starting a rally
// takes a sustained run of projectile evidence, ending one takes a sustained
// absence. It is a pure function of sequential input — the caller supplies
// monotonically non-decreasing timestamps and there are no timers or
// background work. Single-writer; one instance per video.
type RallyDecider struct {
	Config DeciderConfig

	state RallyState

	// Run clocks. runStart < 0 means no projectile run is in progress.
	runStart           float64
	graceMisses        int
	lastBallSeen       float64
	lastProjectileSeen float64
	rallyStart         float64
	seenBall           bool
	seenProjectile     bool

	// Timestamps of recent ball sightings for the soft-end rate check.
	ballSightings []float64
}

// NewRallyDecider creates a decider in the idle state.
func NewRallyDecider(config DeciderConfig) *RallyDecider {
	d := &RallyDecider{Config: config}
	d.Reset()
	return d
}

// State returns the current mode.
func (d *RallyDecider) State() RallyState { return d.state }

// RallyStartTime returns the start timestamp of the current rally. Only
// meaningful while the decider is active.
func (d *RallyDecider) RallyStartTime() float64 { return d.rallyStart }

// Reset clears all internal clocks and returns to idle, discarding any
// retained evidence.
func (d *RallyDecider) Reset() {
	d.state = RallyIdle
	d.runStart = -1
	d.graceMisses = 0
	d.lastBallSeen = 0
	d.lastProjectileSeen = 0
	d.rallyStart = 0
	d.seenBall = false
	d.seenProjectile = false
	d.ballSightings = d.ballSightings[:0]
}

// Update advances the state machine by one frame and reports whether a
// rally is active at this timestamp. hasBall is true when any ball was
// detected this frame; isProjectile is true when the current trajectory
// passes the projectile gate.
func (d *RallyDecider) Update(hasBall, isProjectile bool, timestamp float64) bool {
	if hasBall {
		d.lastBallSeen = timestamp
		d.seenBall = true
		d.recordBallSighting(timestamp)
	}
	if isProjectile {
		d.lastProjectileSeen = timestamp
		d.seenProjectile = true
	}

	switch d.state {
	case RallyIdle:
		d.updateIdle(isProjectile, timestamp)
	case RallyActive:
		d.updateActive(timestamp)
	}
	return d.state == RallyActive
}

// updateIdle tracks the continuous projectile run. An isolated non-
// projectile frame inside the grace allowance does not reset the run-start
// clock; exceeding the allowance does.
func (d *RallyDecider) updateIdle(isProjectile bool, timestamp float64) {
	if isProjectile {
		if d.runStart < 0 {
			d.runStart = timestamp
		}
		d.graceMisses = 0
		if timestamp-d.runStart >= d.Config.StartBuffer {
			d.state = RallyActive
			d.rallyStart = d.runStart
			if d.Config.Verbose {
				monitoring.Logf("rally: idle -> active at %.2fs (run began %.2fs)", timestamp, d.runStart)
			}
		}
		return
	}
	if d.runStart >= 0 {
		d.graceMisses++
		if d.graceMisses > d.Config.GraceFrames {
			d.runStart = -1
			d.graceMisses = 0
		}
	}
}

// updateActive applies the exit conditions, all gated on MinRallySec and
// the stay-alive window.
func (d *RallyDecider) updateActive(timestamp float64) {
	if timestamp-d.rallyStart < d.Config.MinRallySec {
		return
	}
	// Stay-alive: a recent projectile blocks both end conditions.
	if d.seenProjectile && timestamp-d.lastProjectileSeen <= d.Config.StayAliveRecencyWindow {
		return
	}

	// Hard end: the ball has vanished entirely.
	if !d.seenBall || timestamp-d.lastBallSeen >= d.Config.HardEndBallAbsence {
		d.endRally(timestamp, "hard end: ball absent")
		return
	}

	// Soft end: projectile evidence is stale and plain sightings have
	// slowed to a trickle. Distinguishes "ball briefly left frame" from
	// "the rally is over".
	if (!d.seenProjectile || timestamp-d.lastProjectileSeen >= d.Config.SoftEndProjectileTimeout) &&
		d.ballRate(timestamp) < d.Config.SoftEndBallRateThreshold {
		d.endRally(timestamp, "soft end: stale evidence")
	}
}

func (d *RallyDecider) endRally(timestamp float64, reason string) {
	if d.Config.Verbose {
		monitoring.Logf("rally: active -> idle at %.2fs (%s)", timestamp, reason)
	}
	d.state = RallyIdle
	d.runStart = -1
	d.graceMisses = 0
}

func (d *RallyDecider) recordBallSighting(timestamp float64) {
	d.ballSightings = append(d.ballSightings, timestamp)
	cutoff := timestamp - d.Config.BallRateWindow
	i := 0
	for i < len(d.ballSightings) && d.ballSightings[i] < cutoff {
		i++
	}
	d.ballSightings = d.ballSightings[i:]
}

// ballRate returns plain ball sightings per second over the trailing window.
func (d *RallyDecider) ballRate(timestamp float64) float64 {
	if d.Config.BallRateWindow <= 0 {
		return 0
	}
	cutoff := timestamp - d.Config.BallRateWindow
	n := 0
	for _, ts := range d.ballSightings {
		if ts >= cutoff {
			n++
		}
	}
	return float64(n) / d.Config.BallRateWindow
}
