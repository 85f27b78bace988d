package vidoxide

import (
	"context"
	"fmt"

	"github.com/GreatAttractor/vidoxide/internal/camera"
	"github.com/GreatAttractor/vidoxide/internal/capture"
	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/mount"
	"github.com/GreatAttractor/vidoxide/internal/record"
	"github.com/GreatAttractor/vidoxide/internal/track"
)

// Re-exports from internal packages; the facade keeps client imports to the
// root package only.
type (
	Config        = capture.Config
	Notification  = capture.Notification
	PreviewFrame  = capture.PreviewFrame
	Buffer        = frame.Buffer
	PixelFormat   = frame.PixelFormat
	Point         = frame.Point
	PointF        = frame.PointF
	Rect          = frame.Rect
	PoolStats     = frame.PoolStats
	TrackMode     = track.Mode
	TrackConfig   = track.Config
	TrackSnapshot = track.Snapshot
	Calibration   = track.Calibration
	JobSpec       = record.JobSpec
	Limit         = record.Limit
	Container     = record.Container
	JobStatus     = record.Status
	Source        = camera.Source
	Mount         = mount.Mount
)

const (
	Mono8  = frame.Mono8
	Mono16 = frame.Mono16
	RGB24  = frame.RGB24

	ModeDisabled = track.ModeDisabled
	ModeCentroid = track.ModeCentroid
	ModeAnchor   = track.ModeAnchor
	ModePlanet   = track.ModePlanet

	FileSequence = record.FileSequence
	SERVideo     = record.SERVideo

	NoteJobStarted         = capture.NoteJobStarted
	NoteJobStopped         = capture.NoteJobStopped
	NoteJobFailed          = capture.NoteJobFailed
	NoteBufferPressure     = capture.NoteBufferPressure
	NoteRecordingProgress  = capture.NoteRecordingProgress
	NoteTrackingLost       = capture.NoteTrackingLost
	NoteTrackingReacquired = capture.NoteTrackingReacquired
	NoteTrackingDisabled   = capture.NoteTrackingDisabled
	NoteInfo               = capture.NoteInfo
	NoteCaptureError       = capture.NoteCaptureError
	NoteDisconnected       = capture.NoteDisconnected
)

var (
	ErrBusy         = capture.ErrBusy
	ErrDisconnected = capture.ErrDisconnected
	ErrNoFrame      = capture.ErrNoFrame
	ErrLostTrack    = track.ErrLostTrack
)

// IdentityCalibration assumes image axes coincide with mount axes.
func IdentityCalibration() Calibration { return track.IdentityCalibration() }

// NewCalibration builds the image-to-mount transform from the measured image
// drift directions of the two mount axes.
func NewCalibration(primaryDir, secondaryDir [2]float64) (Calibration, error) {
	return track.NewCalibration(primaryDir, secondaryDir)
}

// Session is one camera connection: the capture loop plus its control and
// egress surfaces. Create with Connect, terminate with Disconnect.
//
// All methods are safe for concurrent use. Control methods block until the
// capture loop accepts or rejects the request (at a cycle boundary).
type Session struct {
	orch *capture.Orchestrator
}

// Connect opens a session on the given camera source and starts capturing.
// mnt may be nil; guiding corrections are then computed but not applied.
func Connect(ctx context.Context, cfg Config, src Source, mnt Mount) (*Session, error) {
	if src == nil {
		return nil, fmt.Errorf("vidoxide: nil camera source")
	}
	orch := capture.New(cfg, src, mnt)
	if err := orch.Start(ctx); err != nil {
		return nil, err
	}
	return &Session{orch: orch}, nil
}

// Preview is the lossy newest-only preview egress; see RequestPreview.
// Closed on disconnect.
func (s *Session) Preview() <-chan PreviewFrame { return s.orch.Preview() }

// Notifications delivers job, tracking and telemetry notifications. Closed
// on disconnect, after the final NoteDisconnected.
func (s *Session) Notifications() <-chan Notification { return s.orch.Notifications() }

// RequestPreview arms delivery of the next captured frame on Preview. Call
// again after consuming each frame; un-requested frames skip the preview
// path entirely.
func (s *Session) RequestPreview() { s.orch.RequestPreview() }

// BufferedBytes reports the bytes captured but not yet written by the
// recording consumer. Approximate; readers tolerate staleness.
func (s *Session) BufferedBytes() int64 { return s.orch.BufferedBytes() }

// TrackingState returns a display snapshot of the tracker.
func (s *Session) TrackingState() TrackSnapshot { return s.orch.TrackingState() }

// PoolStats returns frame-pool telemetry.
func (s *Session) PoolStats() PoolStats { return s.orch.PoolStats() }

// StartTracking locks the tracker onto the most recent frame within roi.
func (s *Session) StartTracking(mode TrackMode, roi Rect) error {
	return s.orch.StartTracking(mode, roi)
}

// StopTracking disables tracking along with guiding and stabilization.
func (s *Session) StopTracking() error { return s.orch.StopTracking() }

// StartGuiding begins issuing mount corrections holding the tracked feature
// at its current position. Requires active, non-lost tracking.
func (s *Session) StartGuiding() error { return s.orch.StartGuiding() }

// StopGuiding halts mount corrections and stops the mount.
func (s *Session) StopGuiding() error { return s.orch.StopGuiding() }

// SetCalibration installs the image-to-mount-axes transform used by guiding.
func (s *Session) SetCalibration(c Calibration) error { return s.orch.SetCalibration(c) }

// StartRecording creates and activates a recording job. At most one job
// exists at a time; ErrBusy otherwise.
func (s *Session) StartRecording(spec JobSpec) error { return s.orch.StartRecording(spec) }

// StopRecording requests flush-and-stop of the active job. The job reports
// its terminal status via Notifications once the queue has drained.
func (s *Session) StopRecording() error { return s.orch.StopRecording() }

// SetCrop records only area instead of the full frame. While tracking, the
// crop follows the tracked feature. A zero-size area selects a box sized
// proportionally to the tracked disk radius (planet mode).
func (s *Session) SetCrop(area Rect) error { return s.orch.SetCrop(area) }

// ClearCrop restores full-frame recording.
func (s *Session) ClearCrop() error { return s.orch.ClearCrop() }

// StartStabilization enables preview-only drift compensation relative to the
// tracked feature. Recorded data is never shifted.
func (s *Session) StartStabilization() error { return s.orch.StartStabilization() }

// StopStabilization disables preview drift compensation.
func (s *Session) StopStabilization() error { return s.orch.StopStabilization() }

// Pause suspends acquisition; the session stays connected and control
// requests are still served.
func (s *Session) Pause() error { return s.orch.Pause() }

// Resume restarts acquisition after Pause.
func (s *Session) Resume() error { return s.orch.Resume() }

// Disconnect terminates the session: tracking stopped, the active job
// flushed to a terminal status, all buffers released, the source closed.
// Blocks until done; idempotent.
func (s *Session) Disconnect() error { return s.orch.Disconnect() }
