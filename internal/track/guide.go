package track

import (
	"errors"
	"math"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// ErrBadCalibration reports (anti-)parallel calibration directions.
var ErrBadCalibration = errors.New("track: calibration directions are collinear")

// Calibration transforms image-space displacement vectors into mount-axes
// space. It is built from the image-space directions that correspond to a
// positive slew around each mount axis (measured by a calibration slew before
// guiding starts).
type Calibration struct {
	// m is the image-to-mount-axes matrix (the inverse of the axes-to-image
	// matrix assembled from the calibration directions).
	m [2][2]float64
}

// IdentityCalibration maps image +X to the primary axis and image +Y to the
// secondary axis. Used until a real calibration is performed.
func IdentityCalibration() Calibration {
	return Calibration{m: [2][2]float64{{1, 0}, {0, 1}}}
}

// NewCalibration builds the transform from the image-space direction of a
// positive primary-axis slew and a positive secondary-axis slew. Fails if the
// directions are (anti-)parallel.
func NewCalibration(primaryDir, secondaryDir [2]float64) (Calibration, error) {
	// Axes-to-image matrix has the two directions as columns.
	axesToImg := [2][2]float64{
		{primaryDir[0], secondaryDir[0]},
		{primaryDir[1], secondaryDir[1]},
	}

	det := axesToImg[0][0]*axesToImg[1][1] - axesToImg[0][1]*axesToImg[1][0]
	if det == 0 {
		return Calibration{}, ErrBadCalibration
	}

	return Calibration{m: [2][2]float64{
		{axesToImg[1][1] / det, -axesToImg[0][1] / det},
		{-axesToImg[1][0] / det, axesToImg[0][0] / det},
	}}, nil
}

// Direction returns the unit vector in mount-axes space that moves the image
// along offset. The zero offset returns (0, 0).
func (c Calibration) Direction(offset frame.PointF) (primary, secondary float64) {
	primary = c.m[0][0]*offset.X + c.m[0][1]*offset.Y
	secondary = c.m[1][0]*offset.X + c.m[1][1]*offset.Y

	length := math.Hypot(primary, secondary)
	if length == 0 {
		return 0, 0
	}
	return primary / length, secondary / length
}

// SetCalibration installs the image-to-mount transform used by GuideRate.
func (t *Tracker) SetCalibration(c Calibration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calib = c
}

// StartGuiding records the current estimate as the fixed guiding reference
// point. Requires an active, non-lost track.
func (t *Tracker) StartGuiding() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == ModeDisabled || t.lost {
		return ErrNotTracking
	}
	p := t.pos
	t.guideRef = &p
	return nil
}

// StopGuiding clears the reference point.
func (t *Tracker) StopGuiding() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.guideRef = nil
}

// GuideRate converts the displacement between the guiding reference and the
// current estimate into per-axis rate commands (sidereal multiples):
// magnitude = clamp(gain·|displacement|, max), direction via the calibration
// matrix. active is false when guiding is off; a lost track or a displacement
// inside the deadband yields (0, 0) with active still true, which the caller
// uses to halt corrections without abandoning guiding.
func (t *Tracker) GuideRate() (primary, secondary float64, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.guideRef == nil || t.mode == ModeDisabled {
		return 0, 0, false
	}
	if t.lost {
		return 0, 0, true
	}

	// Displacement that would move the feature back to the reference.
	disp := frame.PointF{X: t.guideRef.X - t.pos.X, Y: t.guideRef.Y - t.pos.Y}
	dist := math.Hypot(disp.X, disp.Y)
	if dist <= t.cfg.GuideDeadband {
		return 0, 0, true
	}

	rate := t.cfg.GuideGain * dist
	if rate > t.cfg.MaxGuideRate {
		rate = t.cfg.MaxGuideRate
	}

	dirP, dirS := t.calib.Direction(disp)
	return rate * dirP, rate * dirS, true
}
