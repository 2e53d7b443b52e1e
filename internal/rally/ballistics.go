package rally

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PhysicsConfig holds the trajectory-validation parameters. Positions are
// frame fractions (y down, image convention), times are seconds, so for an
// airborne ball the vertical motion y(t) is a parabola with positive
// quadratic coefficient.
type PhysicsConfig struct {
	EnableEnhancedPhysics bool // false selects the legacy single-threshold gate

	ParabolaMinPoints int     // minimum samples before a fit is attempted
	MinFlightTime     float64 // minimum covered seconds before a fit is attempted

	ParabolaMinR2 float64 // legacy-mode R² threshold
	EnhancedMinR2 float64 // enhanced-mode R² floor for projectile validity

	MaxJumpPerFrame float64 // maximum single-frame position jump (frame fraction)

	// Plausible vertical acceleration band in frame fractions per second².
	// With a ~10 m court depth filling the frame, gravity lands near 1.0.
	MinVerticalAccel float64
	MaxVerticalAccel float64

	VelocityConsistencyThreshold  float64 // coefficient-of-variation ceiling for free flight
	TrajectorySmoothnessThreshold float64 // smoothness floor for free flight
	MinVerticalMotion             float64 // vertical excursion floor (frame fraction)

	MinQualityScore             float64 // projectile gate: aggregate quality floor
	MinClassificationConfidence float64 // projectile gate: classification confidence floor
}

// DefaultPhysicsConfig returns the enhanced-mode defaults.
func DefaultPhysicsConfig() PhysicsConfig {
	return PhysicsConfig{
		EnableEnhancedPhysics:         true,
		ParabolaMinPoints:             5,
		MinFlightTime:                 0.2,
		ParabolaMinR2:                 0.85,
		EnhancedMinR2:                 0.70,
		MaxJumpPerFrame:               0.25,
		MinVerticalAccel:              0.1,
		MaxVerticalAccel:              8.0,
		VelocityConsistencyThreshold:  0.35,
		TrajectorySmoothnessThreshold: 0.5,
		MinVerticalMotion:             0.05,
		MinQualityScore:               0.6,
		MinClassificationConfidence:   0.6,
	}
}

// ParabolaFit holds the result of fitting y(t) = a·t² + b·t + c to a
// trajectory's vertical motion.
type ParabolaFit struct {
	A, B, C       float64
	R2            float64 // coefficient of determination
	ResidualRMS   float64 // RMS residual in frame fractions
	PointCount    int
	OpensDownward bool // true when the arc opens downward in world terms (a > 0 in image coords)
}

// PhysicsValidation is an immutable per-track snapshot of the physics
// sub-checks and their aggregate confidence. Computed fresh per call.
type PhysicsValidation struct {
	Fit      *ParabolaFit // nil when no fit was attempted or the system was singular
	R2       float64      // zero when Fit is nil
	TimeSpan float64      // covered media seconds

	CurvatureOK    bool // arc opens downward (gravity pulls the ball back)
	AccelerationOK bool // fitted vertical acceleration within the plausible band
	VelocityOK     bool // per-step speeds consistent with free flight
	NoJumps        bool // no single-frame jump above MaxJumpPerFrame

	VelocityConsistency float64 // coefficient of variation of step speeds (lower = steadier)
	MaxJump             float64 // largest single-frame displacement observed

	Confidence float64 // aggregate [0,1]
}

// ValidatePhysics runs the physics sub-checks over a trajectory. Degenerate
// input (too few points, zero time span, identical positions) yields a
// zero-confidence result, never an error or NaN.
func ValidatePhysics(points []TrackPoint, cfg PhysicsConfig) PhysicsValidation {
	v := PhysicsValidation{}
	if len(points) < cfg.ParabolaMinPoints {
		return v
	}
	v.TimeSpan = points[len(points)-1].Time - points[0].Time
	if v.TimeSpan < cfg.MinFlightTime {
		return v
	}

	v.MaxJump = maxStepDisplacement(points)
	v.NoJumps = v.MaxJump <= cfg.MaxJumpPerFrame

	if fit, ok := fitParabola(points); ok {
		v.Fit = &fit
		v.R2 = fit.R2
		v.CurvatureOK = fit.OpensDownward
		// y(t) = a t² + ... so the vertical acceleration is 2a.
		accel := 2 * fit.A
		v.AccelerationOK = accel >= cfg.MinVerticalAccel && accel <= cfg.MaxVerticalAccel
	}

	v.VelocityConsistency = velocityConsistency(points)
	v.VelocityOK = v.VelocityConsistency <= cfg.VelocityConsistencyThreshold

	// Aggregate: fit quality carries half the weight, the boolean
	// sub-checks split the rest.
	score := 0.5 * clamp01(v.R2)
	if v.CurvatureOK && v.AccelerationOK {
		score += 0.2
	}
	if v.VelocityOK {
		score += 0.15
	}
	if v.NoJumps {
		score += 0.15
	}
	v.Confidence = clamp01(score)
	return v
}

// fitParabola least-squares fits y(t) = a·t² + b·t + c using a Vandermonde
// system solved by QR. Returns ok=false for singular systems or degenerate
// trajectories rather than propagating NaN.
func fitParabola(points []TrackPoint) (ParabolaFit, bool) {
	n := len(points)
	if n < 3 {
		return ParabolaFit{}, false
	}

	// Shift time to the first sample for conditioning.
	t0 := points[0].Time
	a := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	for i, p := range points {
		t := p.Time - t0
		a.Set(i, 0, t*t)
		a.Set(i, 1, t)
		a.Set(i, 2, 1)
		y.SetVec(i, p.Y)
	}

	var qr mat.QR
	qr.Factorize(a)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, y); err != nil {
		return ParabolaFit{}, false
	}

	fit := ParabolaFit{
		A:          coef.AtVec(0),
		B:          coef.AtVec(1),
		C:          coef.AtVec(2),
		PointCount: n,
	}
	if math.IsNaN(fit.A) || math.IsInf(fit.A, 0) {
		return ParabolaFit{}, false
	}
	// Image convention: y grows downward, so a genuine arc has a > 0.
	fit.OpensDownward = fit.A > 0

	// R² against the fitted quadratic; zero-variance input scores zero.
	var ssRes, ssTot, mean float64
	for _, p := range points {
		mean += p.Y
	}
	mean /= float64(n)
	for _, p := range points {
		t := p.Time - t0
		pred := fit.A*t*t + fit.B*t + fit.C
		ssRes += (p.Y - pred) * (p.Y - pred)
		ssTot += (p.Y - mean) * (p.Y - mean)
	}
	if ssTot > 0 {
		fit.R2 = clamp01(1 - ssRes/ssTot)
	}
	fit.ResidualRMS = math.Sqrt(ssRes / float64(n))
	return fit, true
}

// velocityConsistency returns the coefficient of variation of per-step
// speeds. A freely flying ball changes speed smoothly, so the value stays
// low; a carried ball jitters. Degenerate input returns 0.
func velocityConsistency(points []TrackPoint) float64 {
	speeds := stepSpeeds(points)
	if len(speeds) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(speeds, nil)
	if mean <= 0 {
		return 0
	}
	return std / mean
}

// stepSpeeds computes per-step speed magnitudes, skipping zero-dt steps.
func stepSpeeds(points []TrackPoint) []float64 {
	var speeds []float64
	for i := 1; i < len(points); i++ {
		dt := points[i].Time - points[i-1].Time
		if dt <= 0 {
			continue
		}
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		speeds = append(speeds, math.Hypot(dx, dy)/dt)
	}
	return speeds
}

func maxStepDisplacement(points []TrackPoint) float64 {
	var maxJump float64
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		if d := math.Hypot(dx, dy); d > maxJump {
			maxJump = d
		}
	}
	return maxJump
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
