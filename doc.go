// Package vidoxide is the capture core of an astronomical video recorder:
// high-rate camera acquisition with pooled frame buffers, feature tracking
// with mount guiding, and bounded, backpressure-aware recording to SER video
// or image sequences.
//
// # Philosophy
//
// "The capture loop never waits for a consumer."
//
// Planetary and lunar imaging lives or dies on sustained frame rate: a
// capture loop stalled behind a slow disk loses the moment of good seeing.
// Every hand-off out of the loop is therefore non-blocking by construction.
// Preview shows the newest frame only; recording drains through a FIFO queue
// and sheds load when a byte ceiling is exceeded, counting what it drops.
//
// # Architecture
//
// One goroutine owns the acquisition cycle:
//
//	camera → frame pool → [tracker] → preview (newest-only, lossy)
//	                               → recording (FIFO, bounded, counted drops)
//
// Frames are reference-counted pool buffers shared zero-copy between
// consumers. Control requests (tracking, guiding, recording, crop, pause)
// are messages consumed strictly between acquisition cycles, so loop state
// needs no locking.
//
// # Basic Usage
//
// Connect, preview, record:
//
//	sess, err := vidoxide.Connect(context.Background(), vidoxide.Config{}, src, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Disconnect()
//
//	sess.RequestPreview()
//	for pf := range sess.Preview() {
//	    render(pf.Buf)
//	    pf.Buf.Release()
//	    sess.RequestPreview()
//	}
//
// Recording with a frame limit:
//
//	err = sess.StartRecording(vidoxide.JobSpec{
//	    Path:      "jupiter.ser",
//	    Container: vidoxide.SERVideo,
//	    Limit:     vidoxide.Limit{Frames: 5000},
//	})
//
// Track a star and guide the mount:
//
//	err = sess.StartTracking(vidoxide.ModeCentroid, roi)
//	err = sess.StartGuiding()
//
// # Drop Semantics
//
// Drops are expected and accounted, never silent:
//
//   - Preview: unconsumed frames are replaced by newer ones. Correct
//     behavior, the display wants the present, not the past.
//   - Recording: frames dropped under backpressure or after a write failure
//     increment the job's dropped counter and are reported on stop.
//   - Pool pressure: when the buffer ceiling is hit the pool reuses the
//     oldest in-flight buffer and bumps its generation, so a holder can
//     detect the content went stale.
//
// # Zero-Copy Contract
//
// frame.Buffer.Data is shared by reference between preview, tracking and
// recording. Holders must treat it as read-only and must Release their share
// when done; the pool recycles a buffer only once every share is released.
//
// # Lifecycle
//
//  1. Connect(): open the source, start the capture loop
//  2. StartTracking()/StartRecording()/...: normal operation
//  3. Disconnect(): stop tracking, flush the active job to a terminal
//     status, release all buffers, close the source
//
// Disconnect blocks until the loop has fully terminated and is idempotent.
// The final notification on Notifications() is always the disconnect note.
package vidoxide
