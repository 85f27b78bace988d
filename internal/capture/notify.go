package capture

import (
	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/record"
)

// NotificationKind tags outgoing coordinator notifications.
type NotificationKind int

const (
	// NoteJobStarted: a recording job became active.
	NoteJobStarted NotificationKind = iota
	// NoteJobStopped: the job terminated cleanly (every enqueued frame
	// written or accounted as dropped).
	NoteJobStopped
	// NoteJobFailed: the job terminated on a write failure; Err has the
	// reason. Recording is not retried automatically.
	NoteJobFailed
	// NoteBufferPressure: the recording path entered backpressure and new
	// frames are being dropped from recording (preview/tracking continue).
	NoteBufferPressure
	// NoteRecordingProgress: periodic recording summary line.
	NoteRecordingProgress
	// NoteTrackingLost: the tracker cannot locate the feature; guiding and
	// crop outputs are suspended while it scans an expanded window.
	NoteTrackingLost
	// NoteTrackingReacquired: the feature was found again; outputs resume.
	NoteTrackingReacquired
	// NoteTrackingDisabled: the reacquisition budget ran out; tracking
	// turned itself off.
	NoteTrackingDisabled
	// NoteInfo: periodic capture telemetry (fps, recording progress).
	NoteInfo
	// NoteCaptureError: the camera failed; the session is terminating.
	NoteCaptureError
	// NoteDisconnected: the capture loop has terminated and released all
	// resources. Always the final notification.
	NoteDisconnected
)

func (k NotificationKind) String() string {
	switch k {
	case NoteJobStarted:
		return "job-started"
	case NoteJobStopped:
		return "job-stopped"
	case NoteJobFailed:
		return "job-failed"
	case NoteBufferPressure:
		return "buffer-pressure"
	case NoteRecordingProgress:
		return "recording-progress"
	case NoteTrackingLost:
		return "tracking-lost"
	case NoteTrackingReacquired:
		return "tracking-reacquired"
	case NoteTrackingDisabled:
		return "tracking-disabled"
	case NoteInfo:
		return "info"
	case NoteCaptureError:
		return "capture-error"
	case NoteDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Notification is one message on the egress channel. Delivery is lossy
// (non-blocking send, drop counter) for everything except session-structural
// facts, which the coordinator can always re-read from accessors.
type Notification struct {
	Kind NotificationKind

	// JobID and JobStatus are set for job notifications.
	JobID     string
	JobStatus record.Status

	// Err is set for NoteJobFailed and NoteCaptureError.
	Err error

	// Message is a user-facing line for progress/info notifications.
	Message string

	// FPS is the measured capture rate (NoteInfo).
	FPS float64
}

// PreviewFrame is one frame handed to the preview consumer: a retained
// buffer share plus the stabilization offset to apply when rendering.
// The receiver must Release the buffer after use and re-arm readiness with
// RequestPreview.
type PreviewFrame struct {
	Buf *frame.Buffer

	// Stabilization is the preview-only shift undoing tracked-feature
	// drift; zero when stabilization is off. Recorded data is never
	// shifted.
	Stabilization frame.PointF
}
