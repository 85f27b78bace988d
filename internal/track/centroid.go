package track

import (
	"math"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// measurement is one frame's position estimate.
type measurement struct {
	pos    frame.PointF
	radius float64
	ok     bool
}

// measureCentroid locates the feature inside window as an intensity-weighted
// centroid after background subtraction.
//
// Star mode: threshold = window mean + k·stddev (local background estimate
// plus a configured multiple of the noise estimate); pixels at or below it
// contribute zero weight.
//
// Planet mode: the target is a bright disk against a dark background, so the
// threshold is the half-maximum between the darkest and brightest window
// pixels; the disk radius is estimated from the above-threshold pixel count.
func measureCentroid(img *frame.Buffer, window frame.Rect, cfg Config, planet bool) measurement {
	if window.Empty() {
		return measurement{}
	}

	mean, stddev, minV, maxV := windowStats(img, window)

	var threshold float64
	if planet {
		threshold = (minV + maxV) / 2
	} else {
		threshold = mean + cfg.NoiseMultiplier*stddev
	}

	var sumW, sumX, sumY float64
	var count int
	for y := window.Y; y < window.Y+window.Height; y++ {
		for x := window.X; x < window.X+window.Width; x++ {
			w := img.Gray(x, y) - threshold
			if w <= 0 {
				continue
			}
			sumW += w
			sumX += w * float64(x)
			sumY += w * float64(y)
			count++
		}
	}

	if sumW < cfg.MinWeight {
		return measurement{}
	}

	m := measurement{
		pos: frame.PointF{X: sumX / sumW, Y: sumY / sumW},
		ok:  true,
	}
	if planet {
		m.radius = math.Sqrt(float64(count) / math.Pi)
	}
	return m
}

// windowStats computes the mean, standard deviation and value range of the
// window's luminance in one pass.
func windowStats(img *frame.Buffer, window frame.Rect) (mean, stddev, minV, maxV float64) {
	n := float64(window.Width * window.Height)
	if n == 0 {
		return 0, 0, 0, 0
	}

	minV = math.Inf(1)
	maxV = math.Inf(-1)

	var sum, sumSq float64
	for y := window.Y; y < window.Y+window.Height; y++ {
		for x := window.X; x < window.X+window.Width; x++ {
			v := img.Gray(x, y)
			sum += v
			sumSq += v * v
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}

	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance > 0 {
		stddev = math.Sqrt(variance)
	}
	return mean, stddev, minV, maxV
}
