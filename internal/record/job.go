// Package record persists a bounded, backpressure-aware stream of captured
// frames to an output sequence or video container.
//
// The capture loop is the single producer; one consumer goroutine per job
// drains the ingress queue in FIFO order. Every enqueued frame is eventually
// either written or explicitly dropped, and the shared buffered-bytes counter
// is decremented exactly once per frame regardless of outcome.
package record

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Container selects the on-disk output form.
type Container int

const (
	// FileSequence writes one image file per frame with sequential naming
	// plus a timestamp sidecar.
	FileSequence Container = iota
	// SERVideo writes a single SER container (header, raw frames, UTC
	// timestamp trailer).
	SERVideo
)

func (c Container) String() string {
	switch c {
	case FileSequence:
		return "file-sequence"
	case SERVideo:
		return "ser-video"
	default:
		return "unknown"
	}
}

// Limit bounds a recording job. The zero value means unbounded (record until
// stopped).
type Limit struct {
	// Frames stops the job after this many written frames (0 = no limit).
	Frames int
	// Duration stops the job this long after it started (0 = no limit).
	Duration time.Duration
}

// Unbounded reports whether no limit is set.
func (l Limit) Unbounded() bool { return l.Frames == 0 && l.Duration == 0 }

// JobSpec describes the requested output.
type JobSpec struct {
	// Path is the output directory (FileSequence) or file (SERVideo).
	Path string
	// Prefix names sequence files: <Prefix>_00000.pgm etc. Empty defaults
	// to "frame".
	Prefix string
	// Container selects the output form.
	Container Container
	// Limit optionally bounds the job.
	Limit Limit
}

// Status is the recording job state.
type Status int

const (
	// StatusPending: created, no frame written yet.
	StatusPending Status = iota
	// StatusActive: consumer is writing frames.
	StatusActive
	// StatusStopping: stop requested, queued frames still draining.
	StatusStopping
	// StatusStopped: terminated cleanly.
	StatusStopped
	// StatusFailed: terminated by a write failure; see Job.Err.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusStopped || s == StatusFailed }

// Job is one recording run. At most one job is active per capture session.
type Job struct {
	// ID identifies the job in notifications and logs.
	ID string
	// Spec is the requested output.
	Spec JobSpec
	// Started is when the consumer began.
	Started time.Time

	status atomic.Int32

	// Frames counts frames durably written; Dropped counts frames dropped
	// from the recording path (backpressure or post-failure drain).
	frames  atomic.Uint64
	dropped atomic.Uint64

	errMu sync.Mutex
	err   error
}

// NewJob creates a pending job for the given spec.
func NewJob(spec JobSpec) *Job {
	if spec.Prefix == "" {
		spec.Prefix = "frame"
	}
	return &Job{
		ID:   uuid.New().String(),
		Spec: spec,
	}
}

// Status returns the current job status.
func (j *Job) Status() Status { return Status(j.status.Load()) }

func (j *Job) setStatus(s Status) { j.status.Store(int32(s)) }

// Frames returns the number of frames written so far.
func (j *Job) Frames() uint64 { return j.frames.Load() }

// Dropped returns the number of frames dropped from the recording path.
func (j *Job) Dropped() uint64 { return j.dropped.Load() }

// CountDropped adds to the dropped-frame tally. Called by the capture loop
// for backpressure drops and by the consumer for post-failure drains.
func (j *Job) CountDropped() { j.dropped.Add(1) }

// Err returns the failure reason for StatusFailed jobs.
func (j *Job) Err() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.err
}

func (j *Job) fail(err error) {
	j.errMu.Lock()
	j.err = err
	j.errMu.Unlock()
	j.setStatus(StatusFailed)
}

// LimitReached reports whether the job's frame or duration bound has been
// hit. Checked by the capture loop once per cycle.
func (j *Job) LimitReached(now time.Time) bool {
	if j.Spec.Limit.Frames > 0 && j.frames.Load() >= uint64(j.Spec.Limit.Frames) {
		return true
	}
	if j.Spec.Limit.Duration > 0 && !j.Started.IsZero() && now.Sub(j.Started) >= j.Spec.Limit.Duration {
		return true
	}
	return false
}

// Progress renders a one-line user-facing summary.
func (j *Job) Progress() string {
	switch {
	case j.Spec.Limit.Frames > 0:
		return fmt.Sprintf("recorded %d/%d frames (%d dropped)", j.Frames(), j.Spec.Limit.Frames, j.Dropped())
	case j.Spec.Limit.Duration > 0:
		left := j.Spec.Limit.Duration - time.Since(j.Started)
		if left < 0 {
			left = 0
		}
		return fmt.Sprintf("recorded %d frames (%d dropped), time left %s",
			j.Frames(), j.Dropped(), left.Round(time.Second))
	default:
		return fmt.Sprintf("recorded %d frames (%d dropped)", j.Frames(), j.Dropped())
	}
}
