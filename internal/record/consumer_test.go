package record_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/record"
)

// fakeWriter records written frame sequence numbers in memory.
type fakeWriter struct {
	mu        sync.Mutex
	seqs      []uint64
	failAfter int // fail every WriteFrame once this many succeeded (-1: never)
	finalized bool
	finalErr  error
}

func newFakeWriter() *fakeWriter { return &fakeWriter{failAfter: -1} }

var errDiskFull = errors.New("disk full")

func (w *fakeWriter) WriteFrame(buf *frame.Buffer, region frame.Rect, ts time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter >= 0 && len(w.seqs) >= w.failAfter {
		return errDiskFull
	}
	w.seqs = append(w.seqs, buf.Seq)
	return nil
}

func (w *fakeWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return w.finalErr
}

func (w *fakeWriter) written() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint64, len(w.seqs))
	copy(out, w.seqs)
	return out
}

func enqueueFrame(t *testing.T, c *record.Consumer, pool *frame.Pool, buffered *atomic.Int64, seq uint64) {
	t.Helper()
	buf := pool.Obtain(64, 48, frame.Mono8)
	buf.Seq = seq
	buf.Timestamp = time.Now()

	size := int64(buf.ByteSize())
	if !c.Enqueue(record.Item{Buf: buf, Region: buf.Bounds(), Timestamp: buf.Timestamp}) {
		buf.Release()
		t.Fatalf("Enqueue(seq=%d) rejected", seq)
	}
	buffered.Add(size)
}

func waitDone(t *testing.T, c *record.Consumer) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not terminate")
	}
}

// TestConsumerWritesInOrderAndDrains validates FIFO persistence and
// flush-and-stop semantics.
//
// Scenario:
//  1. Enqueue 10 frames, then Stop.
//  2. Assert: all 10 written in order, job stopped, buffered counter back to
//     zero, every buffer share released.
func TestConsumerWritesInOrderAndDrains(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	var buffered atomic.Int64
	events := make(chan record.Event, 16)

	job := record.NewJob(record.JobSpec{Path: "mem", Container: record.SERVideo})
	w := newFakeWriter()
	c := record.StartConsumer(job, w, 32, &buffered, events)

	for i := uint64(1); i <= 10; i++ {
		enqueueFrame(t, c, pool, &buffered, i)
	}
	c.Stop()
	waitDone(t, c)

	if got := job.Status(); got != record.StatusStopped {
		t.Errorf("status = %v, want stopped", got)
	}
	seqs := w.written()
	if len(seqs) != 10 {
		t.Fatalf("wrote %d frames, want 10", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Errorf("frame %d has seq %d, want %d (FIFO order)", i, s, i+1)
		}
	}
	if job.Frames() != 10 || job.Dropped() != 0 {
		t.Errorf("frames=%d dropped=%d, want 10/0", job.Frames(), job.Dropped())
	}
	if got := buffered.Load(); got != 0 {
		t.Errorf("buffered = %d after drain, want 0", got)
	}
	if !w.finalized {
		t.Error("writer not finalized")
	}

	// All shares released: the pool can recycle every buffer.
	stats := pool.Stats()
	b := pool.Obtain(64, 48, frame.Mono8)
	defer b.Release()
	if pool.Stats().Recycles != stats.Recycles+1 {
		t.Error("buffer shares still held after drain")
	}
}

// TestConsumerWriteFailureFailsJob validates the failure path.
//
// Scenario:
//  1. Writer fails on the 4th frame.
//  2. Assert: job failed with the writer's error, remaining frames counted as
//     dropped, buffered counter still drained to zero.
func TestConsumerWriteFailureFailsJob(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	var buffered atomic.Int64
	events := make(chan record.Event, 16)

	job := record.NewJob(record.JobSpec{Path: "mem"})
	w := newFakeWriter()
	w.failAfter = 3
	c := record.StartConsumer(job, w, 32, &buffered, events)

	for i := uint64(1); i <= 8; i++ {
		enqueueFrame(t, c, pool, &buffered, i)
	}

	// The job fails on the 4th write but the ingress stays open: the
	// producer observes the failed status and closes it with Stop.
	deadline := time.Now().Add(2 * time.Second)
	for job.Status() != record.StatusFailed {
		if time.Now().After(deadline) {
			t.Fatal("job never reached failed status")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-c.Done():
		t.Fatal("Done closed before the producer stopped the consumer")
	default:
	}

	c.Stop()
	waitDone(t, c)

	if got := job.Status(); got != record.StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
	if !errors.Is(job.Err(), errDiskFull) {
		t.Errorf("job error = %v, want errDiskFull", job.Err())
	}
	if job.Frames() != 3 {
		t.Errorf("frames = %d, want 3 (written before failure)", job.Frames())
	}
	// The failing frame plus the 4 drained after it.
	if job.Dropped() != 5 {
		t.Errorf("dropped = %d, want 5", job.Dropped())
	}
	if got := buffered.Load(); got != 0 {
		t.Errorf("buffered = %d after drain, want 0", got)
	}
}

// TestConsumerFinalizeFailureFailsJob validates that a container that cannot
// be completed fails the job even when every write succeeded.
func TestConsumerFinalizeFailureFailsJob(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	var buffered atomic.Int64
	events := make(chan record.Event, 16)

	job := record.NewJob(record.JobSpec{Path: "mem"})
	w := newFakeWriter()
	w.finalErr = errDiskFull
	c := record.StartConsumer(job, w, 32, &buffered, events)

	enqueueFrame(t, c, pool, &buffered, 1)
	c.Stop()
	waitDone(t, c)

	if got := job.Status(); got != record.StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
	if !errors.Is(job.Err(), errDiskFull) {
		t.Errorf("job error = %v, want errDiskFull", job.Err())
	}
}

// TestConsumerEnqueueRejectsWhenFull validates non-blocking ingress.
func TestConsumerEnqueueRejectsWhenFull(t *testing.T) {
	pool := frame.NewPool(16 << 20)
	var buffered atomic.Int64

	job := record.NewJob(record.JobSpec{Path: "mem"})

	// A writer that blocks until released keeps the queue from draining.
	gate := make(chan struct{})
	w := &gatedWriter{gate: gate}
	c := record.StartConsumer(job, w, 2, &buffered, nil)

	// One in flight at the writer, two in the queue, the next must bounce.
	accepted := 0
	for i := uint64(1); i <= 10; i++ {
		buf := pool.Obtain(64, 48, frame.Mono8)
		buf.Seq = i
		if c.Enqueue(record.Item{Buf: buf, Region: buf.Bounds(), Timestamp: time.Now()}) {
			buffered.Add(int64(buf.ByteSize()))
			accepted++
		} else {
			buf.Release()
		}
	}
	if accepted >= 10 {
		t.Error("Enqueue never rejected with a blocked writer")
	}

	close(gate)
	c.Stop()
	waitDone(t, c)

	if got := buffered.Load(); got != 0 {
		t.Errorf("buffered = %d after drain, want 0", got)
	}
	t.Logf("accepted %d of 10 with queue depth 2", accepted)
}

// TestConsumerStopIdempotent validates repeated Stop calls.
func TestConsumerStopIdempotent(t *testing.T) {
	var buffered atomic.Int64
	job := record.NewJob(record.JobSpec{Path: "mem"})
	c := record.StartConsumer(job, newFakeWriter(), 4, &buffered, nil)

	c.Stop()
	c.Stop()
	waitDone(t, c)

	if got := job.Status(); got != record.StatusStopped {
		t.Errorf("status = %v, want stopped", got)
	}
}

// TestJobLimits validates frame and duration bounds.
func TestJobLimits(t *testing.T) {
	now := time.Now()

	j := record.NewJob(record.JobSpec{Limit: record.Limit{Frames: 2}})
	if j.LimitReached(now) {
		t.Error("frame limit reached with no frames written")
	}

	d := record.NewJob(record.JobSpec{Limit: record.Limit{Duration: time.Minute}})
	d.Started = now.Add(-2 * time.Minute)
	if !d.LimitReached(now) {
		t.Error("duration limit not reached after 2 minutes")
	}

	u := record.NewJob(record.JobSpec{})
	if !u.Spec.Limit.Unbounded() {
		t.Error("zero limit not unbounded")
	}
	if u.LimitReached(now.Add(time.Hour)) {
		t.Error("unbounded job reported a limit")
	}
}

// gatedWriter blocks every WriteFrame until the gate closes.
type gatedWriter struct {
	gate <-chan struct{}
}

func (w *gatedWriter) WriteFrame(buf *frame.Buffer, region frame.Rect, ts time.Time) error {
	<-w.gate
	return nil
}

func (w *gatedWriter) Finalize() error { return nil }
