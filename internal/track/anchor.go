package track

import (
	"math"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// matchAnchor locates the reference patch inside the current search window by
// block matching: coarse-to-fine sum-of-squared-differences search over
// integer positions, then a parabolic fit around the best match for the
// sub-pixel estimate. The position update is exponentially damped to keep
// seeing-induced jitter out of the guiding signal.
//
// The reference patch is never refreshed here; see Tracker.Start.
func (t *Tracker) matchAnchor(img *frame.Buffer) (measurement, bool) {
	half := t.refSize / 2

	// Candidate centers must keep the whole patch inside the window.
	xmin := t.window.X + half
	xmax := t.window.X + t.window.Width - (t.refSize - half)
	ymin := t.window.Y + half
	ymax := t.window.Y + t.window.Height - (t.refSize - half)
	if xmin >= xmax || ymin >= ymax {
		return measurement{}, false
	}

	area := img.Mono8Region(t.window)
	stride := t.window.Width

	// sad computes the sum of squared differences between the reference
	// patch and the window content centered at (cx, cy) frame coordinates.
	sad := func(cx, cy int) uint64 {
		ox := cx - half - t.window.X
		oy := cy - half - t.window.Y
		var sum uint64
		for y := 0; y < t.refSize; y++ {
			lineA := area[(oy+y)*stride+ox:]
			lineR := t.refBlock[y*t.refSize:]
			for x := 0; x < t.refSize; x++ {
				d := int64(lineA[x]) - int64(lineR[x])
				sum += uint64(d * d)
			}
		}
		return sum
	}

	prev := t.pos.Round()
	best := prev
	if best.X < xmin {
		best.X = xmin
	}
	if best.X >= xmax {
		best.X = xmax - 1
	}
	if best.Y < ymin {
		best.Y = ymin
	}
	if best.Y >= ymax {
		best.Y = ymax - 1
	}

	// Coarse-to-fine: scan with step 2, then refine with step 1 around the
	// coarse best.
	lx, hx, ly, hy := xmin, xmax, ymin, ymax
	for step := 2; step > 0; step /= 2 {
		minSum := uint64(math.MaxUint64)
		for y := ly; y < hy; y += step {
			for x := lx; x < hx; x += step {
				if s := sad(x, y); s < minSum {
					minSum = s
					best = frame.Point{X: x, Y: y}
				}
			}
		}
		lx, hx = clampRange(best.X-step, best.X+step+1, xmin, xmax)
		ly, hy = clampRange(best.Y-step, best.Y+step+1, ymin, ymax)
	}

	sub := frame.PointF{X: float64(best.X), Y: float64(best.Y)}

	// Parabolic sub-pixel interpolation around the integer peak, per axis.
	if best.X-1 >= xmin && best.X+1 < xmax {
		sub.X += parabolicOffset(
			float64(sad(best.X-1, best.Y)),
			float64(sad(best.X, best.Y)),
			float64(sad(best.X+1, best.Y)),
		)
	}
	if best.Y-1 >= ymin && best.Y+1 < ymax {
		sub.Y += parabolicOffset(
			float64(sad(best.X, best.Y-1)),
			float64(sad(best.X, best.Y)),
			float64(sad(best.X, best.Y+1)),
		)
	}

	// Exponential damping toward the measurement.
	damped := frame.PointF{
		X: t.pos.X + (sub.X-t.pos.X)*t.cfg.Damping,
		Y: t.pos.Y + (sub.Y-t.pos.Y)*t.cfg.Damping,
	}

	return measurement{pos: damped, ok: true}, true
}

// parabolicOffset fits a parabola through three equidistant samples and
// returns the offset of its vertex from the center sample, clamped to
// [-0.5, 0.5]. For an SSD surface the vertex is the sub-pixel minimum.
func parabolicOffset(sm1, s0, sp1 float64) float64 {
	denom := sm1 - 2*s0 + sp1
	if denom == 0 {
		return 0
	}
	off := 0.5 * (sm1 - sp1) / denom
	if off > 0.5 {
		off = 0.5
	}
	if off < -0.5 {
		off = -0.5
	}
	return off
}

func clampRange(lo, hi, min, max int) (int, int) {
	if lo < min {
		lo = min
	}
	if hi > max {
		hi = max
	}
	return lo, hi
}
