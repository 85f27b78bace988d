package record

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// Item is one frame handed to the consumer: a retained buffer share, the
// region to persist (full frame or live-crop ROI) and the capture timestamp.
// The consumer releases the share after the frame is written or dropped.
type Item struct {
	Buf       *frame.Buffer
	Region    frame.Rect
	Timestamp time.Time
}

// Event is an advisory message from the consumer to the capture loop:
// a write failure or a periodic progress line. Termination itself is
// observed via Done, not events, so it cannot be lost to a full channel.
type Event struct {
	Job *Job
	// Err is the write failure that ended the job, nil for progress events.
	Err error
	// Progress is a user-facing summary line (rate, buffered amount).
	Progress string
}

const progressInterval = time.Second

// Consumer drains a FIFO ingress queue for one job. The capture loop is the
// single producer; Enqueue and Stop must be called from the same goroutine.
type Consumer struct {
	job    *Job
	writer Writer

	in       chan Item
	buffered *atomic.Int64
	events   chan<- Event

	done     chan struct{}
	stopOnce sync.Once

	bytesWritten uint64
}

// StartConsumer activates the job and spawns its drain goroutine.
// buffered is the shared captured-but-not-yet-recorded byte counter; the
// consumer decrements it exactly once per enqueued item.
func StartConsumer(job *Job, w Writer, queueDepth int, buffered *atomic.Int64, events chan<- Event) *Consumer {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	c := &Consumer{
		job:      job,
		writer:   w,
		in:       make(chan Item, queueDepth),
		buffered: buffered,
		events:   events,
		done:     make(chan struct{}),
	}
	job.Started = time.Now()
	job.setStatus(StatusActive)
	go c.run()

	slog.Info("record: job started",
		"job_id", job.ID,
		"container", job.Spec.Container.String(),
		"path", job.Spec.Path,
	)
	return c
}

// Enqueue hands a frame to the consumer without blocking. Returns false if
// the queue is full; the caller keeps ownership of the share in that case.
func (c *Consumer) Enqueue(it Item) bool {
	select {
	case c.in <- it:
		return true
	default:
		return false
	}
}

// Stop requests flush-and-stop: the queue is closed, every frame already
// enqueued is still written (or explicitly dropped) before the job reaches a
// terminal status. Idempotent.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.job.Status() == StatusActive {
			c.job.setStatus(StatusStopping)
		}
		close(c.in)
	})
}

// Done is closed once the job has reached a terminal status and the writer
// is finalized. A write failure alone does not close it: the consumer keeps
// draining (and dropping) enqueued frames until the producer calls Stop.
func (c *Consumer) Done() <-chan struct{} { return c.done }

func (c *Consumer) run() {
	defer close(c.done)

	lastProgress := time.Now()
	failed := false

	for it := range c.in {
		size := int64(it.Buf.ByteSize())

		if failed {
			// Job already failed: drain, account, release.
			c.job.CountDropped()
		} else if err := c.writer.WriteFrame(it.Buf, it.Region, it.Timestamp); err != nil {
			slog.Error("record: write failure, job failed",
				"job_id", c.job.ID,
				"error", err,
			)
			c.job.fail(err)
			c.job.CountDropped()
			failed = true
			c.emit(Event{Job: c.job, Err: err})
		} else {
			c.job.frames.Add(1)
			c.bytesWritten += uint64(size)
		}

		// Exactly-once accounting per enqueued frame, written or dropped.
		c.buffered.Add(-size)
		it.Buf.Release()

		if now := time.Now(); now.Sub(lastProgress) >= progressInterval {
			rate := float64(c.bytesWritten) / (1024 * 1024) / now.Sub(c.job.Started).Seconds()
			c.emit(Event{Job: c.job, Progress: c.job.Progress() +
				formatRate(rate, c.buffered.Load())})
			lastProgress = now
		}
	}

	if err := c.writer.Finalize(); err != nil && !failed {
		c.job.fail(err)
		c.emit(Event{Job: c.job, Err: err})
		failed = true
	}
	if !failed {
		c.job.setStatus(StatusStopped)
	}

	slog.Info("record: job finished",
		"job_id", c.job.ID,
		"status", c.job.Status().String(),
		"frames", c.job.Frames(),
		"dropped", c.job.Dropped(),
	)
}

// emit sends an advisory event without blocking; a full channel drops it.
func (c *Consumer) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func formatRate(mibPerSec float64, buffered int64) string {
	return fmt.Sprintf(" | %.1f MiB/s, buffered %.1f MiB",
		mibPerSec, float64(buffered)/(1024*1024))
}
