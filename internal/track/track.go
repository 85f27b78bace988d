// Package track maintains a per-frame estimate of a visual feature's position
// and derives the three signals the capture loop consumes: a mount guiding
// rate, a recording crop ROI and a preview stabilization offset.
//
// The tracker is driven synchronously from the capture loop (one Update per
// frame, latency budget one frame period). State is mutex-protected only
// because read-only snapshots are served to other goroutines; all mutation
// happens on the capture goroutine.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

var (
	// ErrLostTrack reports that the feature could not be located in the
	// current search window. The tracker keeps scanning an expanded window;
	// this is a degradation, not a terminal failure.
	ErrLostTrack = errors.New("track: feature lost")

	// ErrDisabled reports an Update on a tracker that is not active
	// (never started, stopped, or auto-disabled after the reacquisition
	// budget ran out).
	ErrDisabled = errors.New("track: tracking disabled")

	// ErrNotTracking reports a guiding/stabilization request without an
	// active track.
	ErrNotTracking = errors.New("track: tracking not active")
)

// Mode selects the position estimator.
type Mode int

const (
	// ModeDisabled: no tracking.
	ModeDisabled Mode = iota
	// ModeCentroid: intensity-weighted centroid after background
	// subtraction (stars, comet nuclei).
	ModeCentroid
	// ModeAnchor: block correlation against a reference patch captured at
	// tracking start (surface features, low-contrast targets).
	ModeAnchor
	// ModePlanet: centroid with half-maximum disk threshold; additionally
	// estimates the disk radius for crop sizing.
	ModePlanet
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeCentroid:
		return "centroid"
	case ModeAnchor:
		return "anchor"
	case ModePlanet:
		return "planet"
	default:
		return "unknown"
	}
}

// Config tunes the tracker. Zero values select the defaults.
type Config struct {
	// NoiseMultiplier k in threshold = background + k·noise (centroid mode).
	NoiseMultiplier float64
	// MinWeight is the minimum total above-threshold weight below which the
	// feature counts as lost.
	MinWeight float64
	// SearchRadius is the anchor-mode search extent in pixels around the
	// previous estimate.
	SearchRadius int
	// RefBlockSize is the anchor-mode reference patch edge length.
	RefBlockSize int
	// WindowMargin is the margin added around the estimate when recentering
	// the centroid search window.
	WindowMargin int
	// ReacquireFrames is how many frames a lost tracker scans the expanded
	// window before auto-disabling.
	ReacquireFrames int
	// ExpandFactor scales the search window while the feature is lost.
	ExpandFactor float64
	// Damping applies exponential damping to anchor position updates
	// (0 = frozen, 1 = no damping).
	Damping float64
	// GuideGain converts pixels of displacement into a guiding rate in
	// sidereal multiples.
	GuideGain float64
	// MaxGuideRate clamps the commanded rate (sidereal multiples).
	MaxGuideRate float64
	// GuideDeadband is the displacement (pixels) below which no correction
	// is commanded.
	GuideDeadband float64
	// CropMargin sizes the planet-mode crop ROI: edge = 2·radius·CropMargin.
	CropMargin float64
}

// SetDefaults fills in zero fields.
func (c *Config) SetDefaults() {
	if c.NoiseMultiplier == 0 {
		c.NoiseMultiplier = 3.0
	}
	if c.MinWeight == 0 {
		c.MinWeight = 50.0
	}
	if c.SearchRadius == 0 {
		c.SearchRadius = 20
	}
	if c.RefBlockSize == 0 {
		c.RefBlockSize = 64
	}
	if c.WindowMargin == 0 {
		c.WindowMargin = 16
	}
	if c.ReacquireFrames == 0 {
		c.ReacquireFrames = 30
	}
	if c.ExpandFactor == 0 {
		c.ExpandFactor = 2.0
	}
	if c.Damping == 0 {
		c.Damping = 0.5
	}
	if c.GuideGain == 0 {
		c.GuideGain = 0.05
	}
	if c.MaxGuideRate == 0 {
		c.MaxGuideRate = 8.0
	}
	if c.GuideDeadband == 0 {
		c.GuideDeadband = 2.0
	}
	if c.CropMargin == 0 {
		c.CropMargin = 1.5
	}
}

// Result is the outcome of one Update.
type Result struct {
	// Pos is the current sub-pixel estimate (unchanged while lost).
	Pos frame.PointF
	// Window is the search window for the next frame. Always within frame
	// bounds and containing the previous estimate plus a margin.
	Window frame.Rect
	// Radius is the estimated disk radius (planet mode only).
	Radius float64
	// Lost reports the feature was not found this frame.
	Lost bool
	// Reacquired reports the feature was found again after being lost.
	Reacquired bool
	// Disabled reports the reacquisition budget ran out; the tracker has
	// turned itself off.
	Disabled bool
}

// Snapshot is a read-only view of tracker state for display.
type Snapshot struct {
	Mode          Mode
	Pos           frame.PointF
	Window        frame.Rect
	Radius        float64
	Lost          bool
	Guiding       bool
	Stabilization bool
}

// Tracker implements the per-frame feature position estimator.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	mode   Mode
	pos    frame.PointF
	window frame.Rect

	// Nominal window size, restored after reacquisition undoes the
	// lost-track expansion.
	baseW, baseH int

	// Anchor mode reference patch (Mono8, refSize×refSize).
	refBlock []byte
	refSize  int

	radius     float64
	lost       bool
	lostFrames int

	calib    Calibration
	guideRef *frame.PointF
	stabRef  *frame.PointF
}

// New creates a tracker in ModeDisabled.
func New(cfg Config) *Tracker {
	cfg.SetDefaults()
	return &Tracker{cfg: cfg, mode: ModeDisabled, calib: IdentityCalibration()}
}

// Start activates tracking in the given mode inside roi on img.
//
// Centroid/planet: the initial estimate is the weighted centroid within roi.
// Anchor: the reference patch is captured around roi's center; it is
// refreshed only by a new Start, never silently, so correlation drift cannot
// accumulate.
func (t *Tracker) Start(mode Mode, roi frame.Rect, img *frame.Buffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode == ModeDisabled {
		return fmt.Errorf("track: cannot start in mode %v", mode)
	}
	bounds := img.Bounds()
	roi = roi.ClampTo(bounds)
	if roi.Empty() {
		return fmt.Errorf("track: ROI %v outside frame %v", roi, bounds)
	}

	switch mode {
	case ModeCentroid, ModePlanet:
		m := measureCentroid(img, roi, t.cfg, mode == ModePlanet)
		if !m.ok {
			return fmt.Errorf("%w: no feature above threshold in %v", ErrLostTrack, roi)
		}
		t.pos = m.pos
		t.radius = m.radius
		t.baseW, t.baseH = roi.Width, roi.Height

	case ModeAnchor:
		center := roi.Center()
		ref := frame.CenteredRect(center, t.cfg.RefBlockSize, t.cfg.RefBlockSize)
		if !bounds.ContainsRect(ref) {
			return fmt.Errorf("track: anchor too close to frame edge at %v", ref)
		}
		t.refBlock = img.Mono8Region(ref)
		t.refSize = t.cfg.RefBlockSize
		t.pos = center
		t.radius = 0
		t.baseW = 2*t.cfg.SearchRadius + t.cfg.RefBlockSize
		t.baseH = t.baseW
	}

	t.mode = mode
	t.lost = false
	t.lostFrames = 0
	t.window = t.recenterWindow(bounds, t.baseW, t.baseH)

	slog.Info("track: tracking started",
		"mode", mode.String(),
		"pos_x", t.pos.X, "pos_y", t.pos.Y,
		"window", t.window.String(),
	)
	return nil
}

// Stop disables tracking and clears guiding/stabilization references.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = ModeDisabled
	t.lost = false
	t.lostFrames = 0
	t.refBlock = nil
	t.guideRef = nil
	t.stabRef = nil
}

// Active reports whether a mode is engaged (lost-and-scanning still counts).
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode != ModeDisabled
}

// Update advances the estimate using img. Returns ErrLostTrack while the
// feature cannot be located (the Result still carries the expanded window and
// the Disabled flag once the budget runs out), ErrDisabled if tracking is off.
func (t *Tracker) Update(img *frame.Buffer) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == ModeDisabled {
		return Result{Disabled: true}, ErrDisabled
	}

	bounds := img.Bounds()
	t.window = t.window.ClampTo(bounds)

	var (
		m  measurement
		ok bool
	)
	switch t.mode {
	case ModeCentroid, ModePlanet:
		m = measureCentroid(img, t.window, t.cfg, t.mode == ModePlanet)
		ok = m.ok
	case ModeAnchor:
		m, ok = t.matchAnchor(img)
	}

	if !ok {
		return t.onLost(bounds), ErrLostTrack
	}

	reacquired := t.lost
	t.lost = false
	t.lostFrames = 0
	t.pos = m.pos
	t.radius = m.radius
	t.window = t.recenterWindow(bounds, t.baseW, t.baseH)

	if reacquired {
		slog.Info("track: feature reacquired", "pos_x", t.pos.X, "pos_y", t.pos.Y)
	}

	return Result{
		Pos:        t.pos,
		Window:     t.window,
		Radius:     t.radius,
		Reacquired: reacquired,
	}, nil
}

// onLost expands the search window and burns one frame of the reacquisition
// budget; exhausting it disables the tracker.
func (t *Tracker) onLost(bounds frame.Rect) Result {
	if !t.lost {
		slog.Warn("track: feature lost",
			"mode", t.mode.String(),
			"pos_x", t.pos.X, "pos_y", t.pos.Y,
			"reacquire_budget", t.cfg.ReacquireFrames,
		)
	}
	t.lost = true
	t.lostFrames++

	w := int(float64(t.baseW) * t.cfg.ExpandFactor)
	h := int(float64(t.baseH) * t.cfg.ExpandFactor)
	t.window = t.recenterWindow(bounds, w, h)

	res := Result{Pos: t.pos, Window: t.window, Radius: t.radius, Lost: true}
	if t.lostFrames > t.cfg.ReacquireFrames {
		slog.Warn("track: reacquisition budget exhausted, disabling",
			"frames_lost", t.lostFrames,
		)
		t.mode = ModeDisabled
		t.guideRef = nil
		t.stabRef = nil
		res.Disabled = true
	}
	return res
}

// recenterWindow builds a w×h window centered on the current estimate,
// clamped to bounds. The clamp keeps the invariant that the window contains
// the previous estimate plus a margin (or as much of it as the frame allows).
func (t *Tracker) recenterWindow(bounds frame.Rect, w, h int) frame.Rect {
	if w < t.cfg.WindowMargin*2 {
		w = t.cfg.WindowMargin * 2
	}
	if h < t.cfg.WindowMargin*2 {
		h = t.cfg.WindowMargin * 2
	}
	return frame.CenteredRect(t.pos, w, h).ClampTo(bounds)
}

// Snapshot returns a copy of the displayable state. Safe for concurrent use.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Mode:          t.mode,
		Pos:           t.pos,
		Window:        t.window,
		Radius:        t.radius,
		Lost:          t.lost,
		Guiding:       t.guideRef != nil,
		Stabilization: t.stabRef != nil,
	}
}

// CropROI returns the live-crop rectangle: width×height centered on the
// estimate, or radius-proportional in planet mode when width/height are zero.
// The bool is false when no crop can be derived (tracking off or lost).
func (t *Tracker) CropROI(width, height int, bounds frame.Rect) (frame.Rect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == ModeDisabled || t.lost {
		return frame.Rect{}, false
	}
	if width <= 0 || height <= 0 {
		if t.radius <= 0 {
			return frame.Rect{}, false
		}
		edge := int(2 * t.radius * t.cfg.CropMargin)
		width, height = edge, edge
	}
	return frame.CenteredRect(t.pos, width, height).ClampTo(bounds), true
}

// StartStabilization records the current estimate as the stabilization
// reference. Preview-only: recorded frames are never shifted.
func (t *Tracker) StartStabilization() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == ModeDisabled {
		return ErrNotTracking
	}
	p := t.pos
	t.stabRef = &p
	return nil
}

// StopStabilization clears the reference.
func (t *Tracker) StopStabilization() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stabRef = nil
}

// StabilizationOffset returns the preview shift that undoes drift since
// StartStabilization: the negative of the estimate's displacement.
func (t *Tracker) StabilizationOffset() (frame.PointF, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stabRef == nil || t.mode == ModeDisabled {
		return frame.PointF{}, false
	}
	return frame.PointF{X: t.stabRef.X - t.pos.X, Y: t.stabRef.Y - t.pos.Y}, true
}
