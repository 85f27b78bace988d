package record

import (
	"fmt"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// Writer persists frames to one output target. Implementations are used from
// the consumer goroutine only and need no internal locking.
type Writer interface {
	// WriteFrame persists region of buf, tagged with the capture timestamp.
	// buf is a shared read-only view; the writer must not retain it past
	// the call.
	WriteFrame(buf *frame.Buffer, region frame.Rect, ts time.Time) error

	// Finalize flushes and completes the output (e.g. patches the container
	// frame count). Called exactly once, after the last WriteFrame.
	Finalize() error
}

// NewWriter creates the Writer for a job spec.
func NewWriter(spec JobSpec) (Writer, error) {
	switch spec.Container {
	case FileSequence:
		return NewFileSeqWriter(spec.Path, spec.Prefix)
	case SERVideo:
		return NewSERWriter(spec.Path)
	default:
		return nil, fmt.Errorf("record: unknown container %d", spec.Container)
	}
}
