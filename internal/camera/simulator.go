package camera

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// SimConfig configures the synthetic camera.
type SimConfig struct {
	Width  int
	Height int
	Format frame.PixelFormat

	// FPS is the simulated frame rate. <= 0 means "as fast as possible"
	// (useful in tests).
	FPS float64

	// Star parameters: a Gaussian blob rendered against a dark background.
	StarX     float64
	StarY     float64
	StarSigma float64
	StarPeak  float64

	// DriftX/DriftY move the star per frame (pixels/frame), simulating
	// periodic-error drift for tracking and guiding tests.
	DriftX float64
	DriftY float64

	// Disk switches the target to a uniform bright disk of DiskRadius
	// pixels (planetary target).
	Disk       bool
	DiskRadius float64

	// NoiseAmp is the amplitude of uniform background noise in DN.
	NoiseAmp float64

	// Seed for the noise generator; 0 picks a fixed default so tests are
	// reproducible.
	Seed int64
}

func (c *SimConfig) setDefaults() {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.StarSigma == 0 {
		c.StarSigma = 3.0
	}
	if c.StarPeak == 0 {
		c.StarPeak = 200.0
	}
	if c.DiskRadius == 0 {
		c.DiskRadius = 40.0
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

// Simulator is a synthetic Source: a drifting star or planetary disk over a
// noisy background. It backs the CLI's --source=sim mode and the test suite.
type Simulator struct {
	mu     sync.Mutex
	cfg    SimConfig
	rng    *rand.Rand
	posX   float64
	posY   float64
	paused bool
	last   time.Time
}

// NewSimulator creates a synthetic camera.
func NewSimulator(cfg SimConfig) *Simulator {
	cfg.setDefaults()
	return &Simulator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		posX: cfg.StarX,
		posY: cfg.StarY,
	}
}

// TargetPosition returns the current true target center. Tests compare
// tracker estimates against it.
func (s *Simulator) TargetPosition() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posX, s.posY
}

// SetDrift changes the per-frame drift vector.
func (s *Simulator) SetDrift(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DriftX, s.cfg.DriftY = dx, dy
}

// Nudge displaces the target immediately (simulates a mount correction or a
// gust).
func (s *Simulator) Nudge(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posX += dx
	s.posY += dy
}

// CaptureFrame renders the next synthetic frame into dst (implements Source).
// Capturing while paused is a contract violation and errors out.
func (s *Simulator) CaptureFrame(ctx context.Context, dst *frame.Buffer) error {
	s.mu.Lock()
	cfg := s.cfg
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return fmt.Errorf("camera: capture on a paused simulator")
	}

	// Pace to the configured frame rate.
	if cfg.FPS > 0 {
		period := time.Duration(float64(time.Second) / cfg.FPS)
		s.mu.Lock()
		next := s.last.Add(period)
		s.mu.Unlock()
		if wait := time.Until(next); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = time.Now()
	s.posX += s.cfg.DriftX
	s.posY += s.cfg.DriftY

	dst.Reformat(cfg.Width, cfg.Height, cfg.Format)
	s.render(dst)
	return nil
}

func (s *Simulator) render(dst *frame.Buffer) {
	cfg := s.cfg
	twoSigmaSq := 2 * cfg.StarSigma * cfg.StarSigma
	radiusSq := cfg.DiskRadius * cfg.DiskRadius

	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dx := float64(x) - s.posX
			dy := float64(y) - s.posY

			var v float64
			if cfg.Disk {
				if dx*dx+dy*dy <= radiusSq {
					v = cfg.StarPeak
				}
			} else {
				v = cfg.StarPeak * math.Exp(-(dx*dx+dy*dy)/twoSigmaSq)
			}
			if cfg.NoiseAmp > 0 {
				v += cfg.NoiseAmp * s.rng.Float64()
			}
			if v > 255 {
				v = 255
			}

			setGray(dst, x, y, v)
		}
	}
}

func setGray(dst *frame.Buffer, x, y int, v float64) {
	switch dst.Format {
	case frame.Mono8:
		dst.Data[y*dst.Stride()+x] = uint8(v)
	case frame.Mono16:
		off := y*dst.Stride() + 2*x
		u := uint16(v * 257)
		dst.Data[off] = uint8(u)
		dst.Data[off+1] = uint8(u >> 8)
	case frame.RGB24:
		off := y*dst.Stride() + 3*x
		dst.Data[off] = uint8(v)
		dst.Data[off+1] = uint8(v)
		dst.Data[off+2] = uint8(v)
	}
}

// Pause suspends the simulated exposure clock (implements Source).
func (s *Simulator) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

// Resume restarts it (implements Source).
func (s *Simulator) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.last = time.Time{}
	return nil
}

// Close releases nothing; the simulator has no device handle (implements
// Source).
func (s *Simulator) Close() error { return nil }
