package capture

import (
	"errors"

	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/record"
	"github.com/GreatAttractor/vidoxide/internal/track"
)

var (
	// ErrBusy rejects a control request that conflicts with current state
	// (e.g. StartRecording while a job is active). Nothing changes; the
	// caller may retry after the conflicting activity ends.
	ErrBusy = errors.New("capture: conflicting control request")

	// ErrDisconnected reports a control request on a terminated session.
	ErrDisconnected = errors.New("capture: session disconnected")

	// ErrNotStarted reports a control request before Start.
	ErrNotStarted = errors.New("capture: session not started")

	// ErrNoFrame rejects a request that needs a captured frame (e.g.
	// StartTracking) before the first frame arrived.
	ErrNoFrame = errors.New("capture: no frame captured yet")
)

// op enumerates control message kinds. Messages are consumed exactly once by
// the capture loop, in arrival order, strictly between acquisition cycles.
type op int

const (
	opStartTracking op = iota
	opStopTracking
	opStartGuiding
	opStopGuiding
	opSetCalibration
	opStartRecording
	opStopRecording
	opSetCrop
	opClearCrop
	opStartStabilization
	opStopStabilization
	opPause
	opResume
	opDisconnect
)

// command is one control message. The reply channel (buffered, size 1)
// reports acceptance or the rejection reason back to the sender.
type command struct {
	op    op
	mode  track.Mode
	roi   frame.Rect
	spec  record.JobSpec
	calib track.Calibration
	reply chan error
}
