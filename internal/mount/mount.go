// Package mount defines the capability interface the guiding loop uses to
// command a telescope mount. The concrete serial protocols live behind it and
// are out of scope for this core.
package mount

import (
	"math"
	"sync"
)

// SecondsPerDay is the length of the sidereal day in SI seconds.
const SecondsPerDay = 86164.09065

// SiderealRate is the sidereal tracking rate in radians per second. Guiding
// rates are expressed as multiples of it.
const SiderealRate = 2 * math.Pi / SecondsPerDay

// Mount accepts move-at-rate commands on its two axes.
//
// Implementations must be safe for use from the capture goroutine; a backend
// whose handle is single-threaded adds its own internal synchronization.
type Mount interface {
	// SetGuideRate commands the primary (RA) and secondary (Dec) axes to
	// move at the given rates, in multiples of SiderealRate. Zero stops the
	// axis correction (sidereal tracking, if any, is the backend's concern).
	SetGuideRate(ra, dec float64) error

	// Stop halts all axis motion.
	Stop() error
}

// Sim is an in-memory Mount that records the last commanded rates.
// Used by tests and the CLI's simulator mode.
type Sim struct {
	mu      sync.Mutex
	ra, dec float64
	stopped bool
	calls   int
}

// NewSim creates a simulated mount.
func NewSim() *Sim { return &Sim{} }

// SetGuideRate records the commanded rates (implements Mount).
func (s *Sim) SetGuideRate(ra, dec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ra, s.dec = ra, dec
	s.stopped = false
	s.calls++
	return nil
}

// Stop zeroes both axes (implements Mount).
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ra, s.dec = 0, 0
	s.stopped = true
	s.calls++
	return nil
}

// Rates returns the last commanded rates.
func (s *Sim) Rates() (ra, dec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ra, s.dec
}

// Stopped reports whether the last command was Stop.
func (s *Sim) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Calls returns the number of commands received.
func (s *Sim) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
