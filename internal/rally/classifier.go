package rally

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MovementType classifies how a tracked ball is moving. It is a closed set;
// consumers switch exhaustively over the four values.
type MovementType string

const (
	// MovementAirborne is genuine free-flight motion. Only airborne
	// trajectories count as rally evidence.
	MovementAirborne MovementType = "airborne"
	// MovementCarried is a ball held or carried by a player.
	MovementCarried MovementType = "carried"
	// MovementRolling is a ball rolling along the ground.
	MovementRolling MovementType = "rolling"
	// MovementUnknown covers insufficient or contradictory evidence.
	MovementUnknown MovementType = "unknown"
)

// Classification confidence levels.
const (
	highConfidence   = 0.85
	mediumConfidence = 0.70
	lowConfidence    = 0.50
)

// MovementClassification is the classifier's verdict for one trajectory:
// the movement type, a confidence, and the detail metrics that produced it.
type MovementClassification struct {
	Type       MovementType
	Confidence float64

	// Detail metrics, all derived fresh from the trajectory.
	VelocityConsistency float64 // coefficient of variation of step speeds
	AccelerationScore   float64 // single dominant downward acceleration → 1
	SmoothnessScore     float64 // low acceleration variance → 1
	VerticalMotionScore float64 // vertical excursion relative to MinVerticalMotion
	QualityScore        float64 // aggregate fit/physics quality
	TimeSpan            float64 // covered media seconds

	Physics PhysicsValidation
}

// MovementClassifier decides whether a trajectory is a genuine airborne
// projectile versus carried, rolling, or ambiguous motion. It is stateless;
// every call computes a fresh snapshot.
type MovementClassifier struct {
	Config PhysicsConfig
}

// NewMovementClassifier creates a classifier with the given physics config.
func NewMovementClassifier(config PhysicsConfig) *MovementClassifier {
	return &MovementClassifier{Config: config}
}

// Classify derives a MovementClassification from a trajectory. Fewer than
// the minimum point count or too little covered time yields MovementUnknown
// with low confidence, never an error.
func (mc *MovementClassifier) Classify(points []TrackPoint) MovementClassification {
	cfg := mc.Config
	result := MovementClassification{Type: MovementUnknown, Confidence: lowConfidence * 0.5}
	if len(points) < cfg.ParabolaMinPoints {
		return result
	}
	result.TimeSpan = points[len(points)-1].Time - points[0].Time
	if result.TimeSpan < cfg.MinFlightTime {
		return result
	}

	result.Physics = ValidatePhysics(points, cfg)
	result.VelocityConsistency = result.Physics.VelocityConsistency
	result.AccelerationScore = accelerationPatternScore(points)
	result.SmoothnessScore = smoothnessScore(points)
	result.VerticalMotionScore = verticalMotionScore(points, cfg.MinVerticalMotion)
	result.QualityScore = mc.qualityScore(result)

	switch {
	case mc.isRolling(result):
		result.Type = MovementRolling
		result.Confidence = mc.rollingConfidence(result)
	case mc.isCarried(result):
		result.Type = MovementCarried
		result.Confidence = mc.carriedConfidence(result)
	case mc.isAirborne(result):
		result.Type = MovementAirborne
		result.Confidence = mc.airborneConfidence(result)
	default:
		result.Type = MovementUnknown
		result.Confidence = lowConfidence
	}
	return result
}

// IsValidProjectile reports whether the trajectory passes the full
// projectile gate. In legacy mode this is an R² threshold plus the
// spatial-jump check; in enhanced mode the classification must be airborne
// with quality, confidence and R² above their configured floors.
func (mc *MovementClassifier) IsValidProjectile(points []TrackPoint) bool {
	cfg := mc.Config
	if len(points) < cfg.ParabolaMinPoints {
		return false
	}
	if points[len(points)-1].Time-points[0].Time < cfg.MinFlightTime {
		return false
	}
	if maxStepDisplacement(points) > cfg.MaxJumpPerFrame {
		return false
	}

	if !cfg.EnableEnhancedPhysics {
		fit, ok := fitParabola(points)
		return ok && fit.OpensDownward && fit.R2 >= cfg.ParabolaMinR2
	}

	c := mc.Classify(points)
	return c.Type == MovementAirborne &&
		c.QualityScore >= cfg.MinQualityScore &&
		c.Confidence >= cfg.MinClassificationConfidence &&
		c.Physics.R2 >= cfg.EnhancedMinR2
}

// Rolling: the ball hugs a horizontal line — almost no vertical excursion,
// very smooth, and no gravity signature in the acceleration pattern.
func (mc *MovementClassifier) isRolling(c MovementClassification) bool {
	return c.VerticalMotionScore < 0.5 &&
		c.SmoothnessScore >= mc.Config.TrajectorySmoothnessThreshold &&
		c.AccelerationScore < 0.5
}

func (mc *MovementClassifier) rollingConfidence(c MovementClassification) float64 {
	confidence := mediumConfidence
	if c.VerticalMotionScore < 0.2 {
		confidence += 0.1
	}
	if c.SmoothnessScore > 0.8 {
		confidence += 0.05
	}
	return clampConfidence(confidence, lowConfidence, highConfidence)
}

// Carried: erratic speed and a jagged path — a hand, not gravity, is
// steering the ball.
func (mc *MovementClassifier) isCarried(c MovementClassification) bool {
	return c.VelocityConsistency > mc.Config.VelocityConsistencyThreshold &&
		c.SmoothnessScore < mc.Config.TrajectorySmoothnessThreshold
}

func (mc *MovementClassifier) carriedConfidence(c MovementClassification) float64 {
	confidence := mediumConfidence
	if c.VelocityConsistency > 2*mc.Config.VelocityConsistencyThreshold {
		confidence += 0.1
	}
	if c.SmoothnessScore < 0.25 {
		confidence += 0.05
	}
	return clampConfidence(confidence, lowConfidence, highConfidence)
}

// Airborne: good parabolic fit, a single dominant downward acceleration,
// smooth path, and meaningful vertical excursion.
func (mc *MovementClassifier) isAirborne(c MovementClassification) bool {
	return c.Physics.R2 >= mc.Config.EnhancedMinR2 &&
		c.AccelerationScore >= 0.5 &&
		c.SmoothnessScore >= mc.Config.TrajectorySmoothnessThreshold &&
		c.VerticalMotionScore >= 1.0
}

func (mc *MovementClassifier) airborneConfidence(c MovementClassification) float64 {
	confidence := mediumConfidence
	if c.Physics.R2 > 0.9 {
		confidence += 0.1
	}
	if c.AccelerationScore > 0.8 {
		confidence += 0.05
	}
	if c.SmoothnessScore > 0.8 {
		confidence += 0.05
	}
	if c.Physics.NoJumps {
		confidence += 0.05
	}
	return clampConfidence(confidence, lowConfidence, 1.0)
}

// qualityScore aggregates fit quality, smoothness and acceleration pattern
// into a single [0,1] score.
func (mc *MovementClassifier) qualityScore(c MovementClassification) float64 {
	return clamp01(0.5*c.Physics.R2 + 0.25*c.SmoothnessScore + 0.25*c.AccelerationScore)
}

// accelerationPatternScore expects a single dominant downward acceleration
// over the trajectory, as gravity produces: per-step vertical accelerations
// should be mostly positive (image convention) without sign reversals.
// Returns 1 for a clean gravity signature, 0 for noisy reversals.
func accelerationPatternScore(points []TrackPoint) float64 {
	accels := stepVerticalAccels(points)
	if len(accels) == 0 {
		return 0
	}
	downward := 0
	for _, a := range accels {
		if a > 0 {
			downward++
		}
	}
	return float64(downward) / float64(len(accels))
}

// smoothnessScore is inversely related to the variance of per-step
// acceleration magnitudes; a freely flying ball has near-constant
// acceleration. Zero-variance input scores 1.
func smoothnessScore(points []TrackPoint) float64 {
	var mags []float64
	for i := 1; i < len(points)-1; i++ {
		dt1 := points[i].Time - points[i-1].Time
		dt2 := points[i+1].Time - points[i].Time
		if dt1 <= 0 || dt2 <= 0 {
			continue
		}
		v1x := (points[i].X - points[i-1].X) / dt1
		v1y := (points[i].Y - points[i-1].Y) / dt1
		v2x := (points[i+1].X - points[i].X) / dt2
		v2y := (points[i+1].Y - points[i].Y) / dt2
		dtm := (dt1 + dt2) / 2
		mags = append(mags, math.Hypot((v2x-v1x)/dtm, (v2y-v1y)/dtm))
	}
	if len(mags) < 2 {
		return 1
	}
	variance := stat.Variance(mags, nil)
	// Empirical ceiling for acceleration variance in frame-fraction units.
	const maxReasonableVariance = 400.0
	return clamp01(1 - variance/maxReasonableVariance)
}

// verticalMotionScore is the trajectory's vertical excursion relative to the
// configured floor: ≥1 means enough vertical motion for a serve or rally,
// <1 shades toward rolling.
func verticalMotionScore(points []TrackPoint, minVerticalMotion float64) float64 {
	if len(points) == 0 || minVerticalMotion <= 0 {
		return 0
	}
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points[1:] {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return (maxY - minY) / minVerticalMotion
}

// stepVerticalAccels computes per-step vertical accelerations from central
// velocity differences, skipping zero-dt steps.
func stepVerticalAccels(points []TrackPoint) []float64 {
	var accels []float64
	for i := 1; i < len(points)-1; i++ {
		dt1 := points[i].Time - points[i-1].Time
		dt2 := points[i+1].Time - points[i].Time
		if dt1 <= 0 || dt2 <= 0 {
			continue
		}
		v1 := (points[i].Y - points[i-1].Y) / dt1
		v2 := (points[i+1].Y - points[i].Y) / dt2
		accels = append(accels, (v2-v1)/((dt1+dt2)/2))
	}
	return accels
}

func clampConfidence(value, min, max float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}
