package track_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/track"
)

// newMono8 obtains a zeroed Mono8 test frame.
func newMono8(t *testing.T, pool *frame.Pool, w, h int) *frame.Buffer {
	t.Helper()
	buf := pool.Obtain(w, h, frame.Mono8)
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	return buf
}

// drawDisk renders a filled disk of the given value.
func drawDisk(buf *frame.Buffer, cx, cy, r float64, val uint8) {
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r*r {
				buf.Data[y*buf.Stride()+x] = val
			}
		}
	}
}

// TestCentroidFollowsMovingFeature validates the per-frame estimate.
//
// Scenario:
//  1. Start centroid tracking on a disk at (100, 80).
//  2. Feed a frame with the disk moved to (104, 83).
//  3. Assert: the estimate follows within a fraction of a pixel.
func TestCentroidFollowsMovingFeature(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()
	drawDisk(img, 100, 80, 5, 200)

	roi := frame.Rect{X: 70, Y: 50, Width: 60, Height: 60}
	if err := tr.Start(track.ModeCentroid, roi, img); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	snap := tr.Snapshot()
	if math.Abs(snap.Pos.X-100) > 0.5 || math.Abs(snap.Pos.Y-80) > 0.5 {
		t.Fatalf("initial estimate (%.2f, %.2f), want (100, 80)", snap.Pos.X, snap.Pos.Y)
	}

	moved := newMono8(t, pool, 320, 240)
	defer moved.Release()
	drawDisk(moved, 104, 83, 5, 200)

	res, err := tr.Update(moved)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if math.Abs(res.Pos.X-104) > 0.5 || math.Abs(res.Pos.Y-83) > 0.5 {
		t.Errorf("estimate (%.2f, %.2f), want (104, 83)", res.Pos.X, res.Pos.Y)
	}
	if !res.Window.Contains(res.Pos.Round()) {
		t.Errorf("window %v does not contain estimate %v", res.Window, res.Pos.Round())
	}

	t.Logf("estimate followed to (%.2f, %.2f), window %v", res.Pos.X, res.Pos.Y, res.Window)
}

// TestLostTrackExpandsWindowThenDisables validates degradation and the
// reacquisition budget.
//
// Scenario:
//  1. Start tracking, then feed blank frames (feature gone).
//  2. Assert: ErrLostTrack, estimate unchanged, window expanded.
//  3. After the budget runs out: Disabled flag set, Update returns ErrDisabled.
func TestLostTrackExpandsWindowThenDisables(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{ReacquireFrames: 3})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()
	drawDisk(img, 160, 120, 5, 200)

	roi := frame.Rect{X: 130, Y: 90, Width: 60, Height: 60}
	if err := tr.Start(track.ModeCentroid, roi, img); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	windowBefore := tr.Snapshot().Window

	blank := newMono8(t, pool, 320, 240)
	defer blank.Release()

	res, err := tr.Update(blank)
	if !errors.Is(err, track.ErrLostTrack) {
		t.Fatalf("Update() on blank frame: err = %v, want ErrLostTrack", err)
	}
	if !res.Lost {
		t.Error("Result.Lost not set")
	}
	if math.Abs(res.Pos.X-160) > 0.5 {
		t.Errorf("estimate moved while lost: %.2f", res.Pos.X)
	}
	if res.Window.Width <= windowBefore.Width {
		t.Errorf("window not expanded: %v (was %v)", res.Window, windowBefore)
	}

	// Burn the remaining budget.
	var last track.Result
	for i := 0; i < 3; i++ {
		last, err = tr.Update(blank)
		if !errors.Is(err, track.ErrLostTrack) {
			t.Fatalf("Update() #%d: err = %v, want ErrLostTrack", i+2, err)
		}
	}
	if !last.Disabled {
		t.Error("Disabled not set after budget exhausted")
	}
	if tr.Active() {
		t.Error("tracker still active after auto-disable")
	}
	if _, err := tr.Update(blank); !errors.Is(err, track.ErrDisabled) {
		t.Errorf("Update() after disable: err = %v, want ErrDisabled", err)
	}
}

// TestReacquireAfterLoss validates recovery inside the expanded window.
func TestReacquireAfterLoss(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()
	drawDisk(img, 160, 120, 5, 200)

	roi := frame.Rect{X: 130, Y: 90, Width: 60, Height: 60}
	if err := tr.Start(track.ModeCentroid, roi, img); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	blank := newMono8(t, pool, 320, 240)
	defer blank.Release()
	if _, err := tr.Update(blank); !errors.Is(err, track.ErrLostTrack) {
		t.Fatalf("expected ErrLostTrack, got %v", err)
	}

	// Feature reappears, displaced but inside the expanded window.
	back := newMono8(t, pool, 320, 240)
	defer back.Release()
	drawDisk(back, 175, 130, 5, 200)

	res, err := tr.Update(back)
	if err != nil {
		t.Fatalf("Update() after reappearance failed: %v", err)
	}
	if !res.Reacquired {
		t.Error("Reacquired not set")
	}
	if math.Abs(res.Pos.X-175) > 0.5 || math.Abs(res.Pos.Y-130) > 0.5 {
		t.Errorf("estimate (%.2f, %.2f), want (175, 130)", res.Pos.X, res.Pos.Y)
	}
}

// TestPlanetModeRadiusAndCrop validates disk radius estimation and the
// radius-proportional crop ROI.
func TestPlanetModeRadiusAndCrop(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()
	drawDisk(img, 160, 120, 20, 180)

	roi := frame.Rect{X: 100, Y: 60, Width: 120, Height: 120}
	if err := tr.Start(track.ModePlanet, roi, img); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	snap := tr.Snapshot()
	if math.Abs(snap.Radius-20) > 2 {
		t.Errorf("radius estimate %.1f, want ~20", snap.Radius)
	}

	crop, ok := tr.CropROI(0, 0, img.Bounds())
	if !ok {
		t.Fatal("CropROI() not available")
	}
	// Default margin 1.5: edge = 2·radius·1.5 = ~60.
	if crop.Width < 50 || crop.Width > 70 {
		t.Errorf("crop edge %d, want ~60", crop.Width)
	}
	if !crop.Contains(snap.Pos.Round()) {
		t.Errorf("crop %v does not contain estimate %v", crop, snap.Pos.Round())
	}
}

// TestAnchorMatchRecoversShift validates block correlation.
//
// Scenario:
//  1. Capture an anchor reference on a random texture.
//  2. Feed the same texture shifted by (3, 2).
//  3. Assert: the estimate moves by the shift (damping disabled).
func TestAnchorMatchRecoversShift(t *testing.T) {
	const w, h = 320, 240
	rng := rand.New(rand.NewSource(1))
	tex := make([]byte, w*h)
	for i := range tex {
		tex[i] = uint8(rng.Intn(256))
	}

	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{
		RefBlockSize: 32,
		SearchRadius: 10,
		Damping:      1, // undamped, deterministic convergence
	})

	ref := newMono8(t, pool, w, h)
	defer ref.Release()
	copy(ref.Data, tex)

	roi := frame.Rect{X: 84, Y: 84, Width: 32, Height: 32} // centered on (100, 100)
	if err := tr.Start(track.ModeAnchor, roi, ref); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	shifted := newMono8(t, pool, w, h)
	defer shifted.Release()
	const dx, dy = 3, 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x-dx, y-dy
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				shifted.Data[y*w+x] = tex[sy*w+sx]
			}
		}
	}

	res, err := tr.Update(shifted)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if math.Abs(res.Pos.X-(100+dx)) > 0.6 || math.Abs(res.Pos.Y-(100+dy)) > 0.6 {
		t.Errorf("estimate (%.2f, %.2f), want (~%d, ~%d)", res.Pos.X, res.Pos.Y, 100+dx, 100+dy)
	}

	t.Logf("anchor recovered shift: (%.2f, %.2f)", res.Pos.X-100, res.Pos.Y-100)
}

// TestAnchorStartRejectsEdgeROI validates the reference patch bounds check.
func TestAnchorStartRejectsEdgeROI(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()

	roi := frame.Rect{X: 0, Y: 0, Width: 20, Height: 20}
	if err := tr.Start(track.ModeAnchor, roi, img); err == nil {
		t.Error("Start() accepted an anchor ROI whose reference patch leaves the frame")
	}
}

// TestStabilizationOffset validates preview drift compensation.
func TestStabilizationOffset(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	tr := track.New(track.Config{})

	img := newMono8(t, pool, 320, 240)
	defer img.Release()
	drawDisk(img, 160, 120, 5, 200)

	roi := frame.Rect{X: 130, Y: 90, Width: 60, Height: 60}
	if err := tr.Start(track.ModeCentroid, roi, img); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := tr.StartStabilization(); err != nil {
		t.Fatalf("StartStabilization() failed: %v", err)
	}

	moved := newMono8(t, pool, 320, 240)
	defer moved.Release()
	drawDisk(moved, 166, 124, 5, 200)
	if _, err := tr.Update(moved); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	off, ok := tr.StabilizationOffset()
	if !ok {
		t.Fatal("StabilizationOffset() not available")
	}
	// The offset undoes the drift: feature moved (+6, +4), shift is (-6, -4).
	if math.Abs(off.X+6) > 0.5 || math.Abs(off.Y+4) > 0.5 {
		t.Errorf("offset (%.2f, %.2f), want (-6, -4)", off.X, off.Y)
	}

	tr.StopStabilization()
	if _, ok := tr.StabilizationOffset(); ok {
		t.Error("StabilizationOffset() still available after stop")
	}
}
