// Package camera defines the capability interface a camera backend exposes to
// the capture loop, plus the built-in backends (synthetic simulator,
// GStreamer).
//
// A backend's internal protocol (USB, SDK, GStreamer pipeline) is its own
// concern; the capture loop sees only Source. Backends that cannot use their
// native handle from an arbitrary goroutine must add their own internal
// synchronization; the Source contract does not change per backend.
package camera

import (
	"context"
	"errors"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// ErrFrameUnavailable signals a transient empty acquire (e.g. a poll-based
// driver with no frame ready yet). The capture loop retries; it is not a
// failure.
var ErrFrameUnavailable = errors.New("camera: frame unavailable")

// Source is the uniform "acquire next frame" capability.
//
// Implementations must guarantee:
//   - CaptureFrame blocks until a frame is ready, the context is cancelled,
//     or the device fails. It is the only unbounded wait in the capture loop.
//   - CaptureFrame writes into dst, reformatting it if the video mode
//     changed; dst is exclusively held by the caller for the duration.
//   - Close is idempotent.
type Source interface {
	// CaptureFrame acquires the next frame into dst.
	//
	// Returns nil on success, ErrFrameUnavailable for a transient empty
	// poll, ctx.Err() if cancelled, and any other error for a device
	// failure that ends the session.
	CaptureFrame(ctx context.Context, dst *frame.Buffer) error

	// Pause suspends acquisition; CaptureFrame must not be called while
	// paused.
	Pause() error

	// Resume restarts acquisition after Pause.
	Resume() error

	// Close releases the device.
	Close() error
}
