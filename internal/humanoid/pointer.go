package humanoid

import (
	"math"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"go.uber.org/zap"
)

const (
	// minPathSteps keeps even tiny movements from collapsing into a single
	// teleporting jump.
	minPathSteps = 8
	// pxPerStep controls path resolution relative to distance.
	pxPerStep = 12.0
	// perlinFrequency is the sampling rate of the drift noise along the path.
	perlinFrequency = 0.8
)

// PlanPointerPath returns a curved pointer path from one point to another:
// a cubic Bezier spine with Perlin drift layered on top, sampled with an
// ease-in/ease-out velocity profile so endpoints move slower than the
// middle of the path.
func (h *Humanoid) PlanPointerPath(from, to schemas.Point) []schemas.PointerStep {
	h.mu.Lock()
	defer h.mu.Unlock()

	dist := math.Hypot(to.X-from.X, to.Y-from.Y)
	steps := int(dist/pxPerStep) + minPathSteps

	// Random control points bow the path sideways, proportional to distance.
	offset := dist * 0.3
	ctrl1 := schemas.Point{
		X: from.X + (to.X-from.X)*0.25 + (h.rng.Float64()-0.5)*offset,
		Y: from.Y + (to.Y-from.Y)*0.25 + (h.rng.Float64()-0.5)*offset,
	}
	ctrl2 := schemas.Point{
		X: from.X + (to.X-from.X)*0.75 + (h.rng.Float64()-0.5)*offset,
		Y: from.Y + (to.Y-from.Y)*0.75 + (h.rng.Float64()-0.5)*offset,
	}

	plan := make([]schemas.PointerStep, 0, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		p := cubicBezier(t, from, ctrl1, ctrl2, to)

		// Perlin drift keeps the path from being a perfect curve. Scaled
		// down near the endpoints so the cursor still lands on target.
		envelope := math.Sin(t * math.Pi)
		h.noiseTime += perlinFrequency / float64(steps)
		p.X += h.noiseX.Noise1D(h.noiseTime) * h.cfg.PointerDriftPx * envelope
		p.Y += h.noiseY.Noise1D(h.noiseTime) * h.cfg.PointerDriftPx * envelope

		// Ease-in/ease-out: slower at the ends, faster through the middle.
		speedFactor := 1.6 - 1.2*envelope
		delay := time.Duration(float64(h.cfg.PointerStepInterval) * speedFactor)
		// Jitter the step period to avoid perfect periodicity.
		delay += time.Duration(h.rng.Intn(3)-1) * time.Millisecond
		if delay < 0 {
			delay = 0
		}

		plan = append(plan, schemas.PointerStep{X: p.X, Y: p.Y, Delay: delay})
	}

	// The final step always lands exactly on target.
	plan[len(plan)-1].X = to.X
	plan[len(plan)-1].Y = to.Y

	h.logger.Debug("Planned pointer path",
		zap.Float64("distance", dist),
		zap.Int("steps", len(plan)))
	return plan
}

// cubicBezier evaluates a cubic Bezier curve at parameter t.
func cubicBezier(t float64, p0, p1, p2, p3 schemas.Point) schemas.Point {
	u := 1 - t
	uu, tt := u*u, t*t
	uuu, ttt := uu*u, tt*t

	return schemas.Point{
		X: uuu*p0.X + 3*uu*t*p1.X + 3*u*tt*p2.X + ttt*p3.X,
		Y: uuu*p0.Y + 3*uu*t*p1.Y + 3*u*tt*p2.Y + ttt*p3.Y,
	}
}
