// Package capture runs the acquisition cycle for the lifetime of a camera
// connection: acquire into a pooled buffer, run the tracker, fan the frame
// out to preview and recording, drain control messages. One goroutine owns
// the whole cycle; consumers communicate through message channels and two
// atomics (preview readiness, buffered recording bytes).
//
// Suspension points: the loop blocks only on the camera's "next frame ready"
// and, while paused, on the control channel. Hand-off to preview and
// recording is non-blocking by construction.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GreatAttractor/vidoxide/internal/camera"
	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/mount"
	"github.com/GreatAttractor/vidoxide/internal/record"
	"github.com/GreatAttractor/vidoxide/internal/track"
)

// Config tunes the capture session. Zero values select the defaults.
type Config struct {
	// PoolCeilingBytes bounds total frame-buffer allocation.
	PoolCeilingBytes int64
	// RecordCeilingBytes is the soft captured-but-not-recorded byte limit;
	// above it, new frames are dropped from the recording path.
	RecordCeilingBytes int64
	// QueueDepth is the recording ingress queue capacity (frames).
	QueueDepth int
	// InfoInterval is the cadence of NoteInfo telemetry.
	InfoInterval time.Duration
	// GuideInterval throttles mount rate updates.
	GuideInterval time.Duration
	// InitialWidth/InitialHeight/InitialFormat size the first capture
	// buffer; backends adjust on the first frame.
	InitialWidth  int
	InitialHeight int
	InitialFormat frame.PixelFormat
	// Track tunes the feature tracker.
	Track track.Config
}

// SetDefaults fills in zero fields.
func (c *Config) SetDefaults() {
	if c.PoolCeilingBytes == 0 {
		c.PoolCeilingBytes = 256 << 20
	}
	if c.RecordCeilingBytes == 0 {
		c.RecordCeilingBytes = 2 << 30
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 64
	}
	if c.InfoInterval == 0 {
		c.InfoInterval = time.Second
	}
	if c.GuideInterval == 0 {
		c.GuideInterval = time.Second
	}
	if c.InitialWidth == 0 {
		c.InitialWidth = 640
	}
	if c.InitialHeight == 0 {
		c.InitialHeight = 480
	}
	c.Track.SetDefaults()
}

// cropState specifies live cropping for recording. When tracking is active
// the crop area follows the estimate at a fixed offset (set when the crop was
// requested), clamped to frame bounds. An auto crop instead re-derives the
// area each frame from the tracked disk radius (planet mode).
type cropState struct {
	auto   bool
	offset *frame.Point // offset of area origin from the tracked position
	area   frame.Rect
}

// Orchestrator owns the capture loop for one camera connection.
//
// State machine: Idle → Capturing ⇄ {tracking, recording flags} →
// Disconnecting → Terminated. Tracking and recording are orthogonal flags on
// the capturing state, not separate states.
type Orchestrator struct {
	cfg Config
	src camera.Source
	mnt mount.Mount // may be nil: guiding output is computed but not sent

	pool    *frame.Pool
	tracker *track.Tracker

	ctrl    chan command
	preview chan PreviewFrame
	notes   chan Notification

	// Cross-flow atomics. Both tolerate staleness: previewWanted is
	// re-armed by the coordinator after each consumed frame, buffered is
	// a soft limit read once per cycle.
	previewWanted atomic.Bool
	buffered      atomic.Int64

	notesDropped   atomic.Uint64
	previewDropped atomic.Uint64

	// Loop-owned state (no locking: touched only by run()).
	job       *record.Job
	consumer  *record.Consumer
	recEvents chan record.Event
	overflow  bool
	crop      *cropState
	guiding   bool
	wasLost   bool
	paused    bool
	last      *frame.Buffer // most recent capture, one retained share
	seq       uint64
	width     int
	height    int
	format    frame.PixelFormat

	fpsCount  int
	lastInfo  time.Time
	lastGuide time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startedMu  sync.Mutex
	started    bool
	terminated chan struct{}

	disconnectReply chan error
}

// New creates an orchestrator for the given camera source. mnt may be nil.
func New(cfg Config, src camera.Source, mnt mount.Mount) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{
		cfg:        cfg,
		src:        src,
		mnt:        mnt,
		pool:       frame.NewPool(cfg.PoolCeilingBytes),
		tracker:    track.New(cfg.Track),
		ctrl:       make(chan command, 16),
		preview:    make(chan PreviewFrame, 1),
		notes:      make(chan Notification, 64),
		recEvents:  make(chan record.Event, 16),
		terminated: make(chan struct{}),
		width:      cfg.InitialWidth,
		height:     cfg.InitialHeight,
		format:     cfg.InitialFormat,
	}
}

// Start spawns the capture loop. Only the first call succeeds.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedMu.Lock()
	defer o.startedMu.Unlock()

	if o.started {
		return fmt.Errorf("capture: already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.started = true
	o.lastInfo = time.Now()

	o.wg.Add(1)
	go o.run()

	slog.Info("capture: session started",
		"pool_ceiling_bytes", o.cfg.PoolCeilingBytes,
		"record_ceiling_bytes", o.cfg.RecordCeilingBytes,
	)
	return nil
}

// Preview is the lossy preview egress: at most one frame in flight, gated by
// RequestPreview. Closed on termination.
func (o *Orchestrator) Preview() <-chan PreviewFrame { return o.preview }

// Notifications is the egress for job/tracking/telemetry notifications.
// Closed on termination, after the final NoteDisconnected.
func (o *Orchestrator) Notifications() <-chan Notification { return o.notes }

// RequestPreview arms preview readiness. Lock-free; the capture loop checks
// the flag once per cycle and hands over the newest frame.
func (o *Orchestrator) RequestPreview() { o.previewWanted.Store(true) }

// BufferedBytes returns the approximately consistent captured-but-not-yet-
// recorded byte count. Readers tolerate staleness.
func (o *Orchestrator) BufferedBytes() int64 { return o.buffered.Load() }

// TrackingState returns a read-only tracker snapshot for display.
func (o *Orchestrator) TrackingState() track.Snapshot { return o.tracker.Snapshot() }

// PoolStats returns buffer-pool telemetry.
func (o *Orchestrator) PoolStats() frame.PoolStats { return o.pool.Stats() }

// --- Control requests (reported back to the sender via reply channels) ---

// StartTracking engages the tracker on the most recent frame. Re-issuing
// while tracking re-locks (captures a fresh anchor reference patch).
func (o *Orchestrator) StartTracking(mode track.Mode, roi frame.Rect) error {
	return o.send(command{op: opStartTracking, mode: mode, roi: roi})
}

// StopTracking disables tracking, guiding and stabilization.
func (o *Orchestrator) StopTracking() error { return o.send(command{op: opStopTracking}) }

// StartGuiding fixes the current estimate as the guiding reference point.
func (o *Orchestrator) StartGuiding() error { return o.send(command{op: opStartGuiding}) }

// StopGuiding halts mount corrections.
func (o *Orchestrator) StopGuiding() error { return o.send(command{op: opStopGuiding}) }

// SetCalibration installs the image-to-mount-axes transform.
func (o *Orchestrator) SetCalibration(c track.Calibration) error {
	return o.send(command{op: opSetCalibration, calib: c})
}

// StartRecording creates and activates a job. Returns ErrBusy while another
// job exists (including one still stopping).
func (o *Orchestrator) StartRecording(spec record.JobSpec) error {
	return o.send(command{op: opStartRecording, spec: spec})
}

// StopRecording requests flush-and-stop: frames already enqueued are still
// written before the job reports stopped. Returns ErrBusy with no job.
func (o *Orchestrator) StopRecording() error { return o.send(command{op: opStopRecording}) }

// SetCrop enables live-crop recording of area (following the tracked feature
// when tracking is active). A zero-size area selects the radius-proportional
// box around the tracked disk; that form requires an active planet-mode track.
func (o *Orchestrator) SetCrop(area frame.Rect) error {
	return o.send(command{op: opSetCrop, roi: area})
}

// ClearCrop restores full-frame recording.
func (o *Orchestrator) ClearCrop() error { return o.send(command{op: opClearCrop}) }

// StartStabilization starts preview-only drift compensation.
func (o *Orchestrator) StartStabilization() error {
	return o.send(command{op: opStartStabilization})
}

// StopStabilization stops it.
func (o *Orchestrator) StopStabilization() error {
	return o.send(command{op: opStopStabilization})
}

// Pause suspends acquisition; control messages are still processed.
func (o *Orchestrator) Pause() error { return o.send(command{op: opPause}) }

// Resume restarts acquisition.
func (o *Orchestrator) Resume() error { return o.send(command{op: opResume}) }

// Disconnect terminates the session: tracking stopped, the active job (if
// any) flushed to a terminal status, every buffer share released. Blocks
// until the loop has exited. Idempotent.
func (o *Orchestrator) Disconnect() error {
	err := o.send(command{op: opDisconnect})
	if errors.Is(err, ErrDisconnected) {
		err = nil
	}
	o.wg.Wait()
	return err
}

func (o *Orchestrator) send(cmd command) error {
	o.startedMu.Lock()
	started := o.started
	o.startedMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	cmd.reply = make(chan error, 1)
	select {
	case o.ctrl <- cmd:
	case <-o.terminated:
		return ErrDisconnected
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-o.terminated:
		// The loop terminated before processing the message; for a
		// disconnect request that is success.
		return ErrDisconnected
	}
}

// --- Capture loop ---

func (o *Orchestrator) run() {
	defer o.wg.Done()
	defer o.cleanup()

	for {
		if o.paused {
			select {
			case <-o.ctx.Done():
				return
			case cmd := <-o.ctrl:
				if o.apply(cmd) {
					return
				}
			}
			continue
		}

		if !o.cycle() {
			return
		}

		o.pollRecorder()
		o.maybeInfo()

		// Drain pending control messages without blocking; they never
		// interrupt a cycle in progress.
		draining := true
		for draining {
			select {
			case cmd := <-o.ctrl:
				if o.apply(cmd) {
					return
				}
			case <-o.ctx.Done():
				return
			default:
				draining = false
			}
		}
	}
}

// cycle runs one acquisition iteration. Returns false to terminate the loop.
func (o *Orchestrator) cycle() bool {
	buf := o.pool.Obtain(o.width, o.height, o.format)

	if err := o.src.CaptureFrame(o.ctx, buf); err != nil {
		buf.Release()
		switch {
		case errors.Is(err, camera.ErrFrameUnavailable):
			return true // transient, retry
		case o.ctx.Err() != nil:
			return false
		default:
			slog.Error("capture: camera failure", "error", err)
			o.notify(Notification{Kind: NoteCaptureError, Err: err})
			return false
		}
	}

	// Backends may have reformatted the buffer on a video-mode change.
	o.width, o.height, o.format = buf.Width, buf.Height, buf.Format

	o.seq++
	buf.Seq = o.seq
	if buf.Timestamp.IsZero() {
		buf.Timestamp = time.Now()
	}
	buf.TraceID = uuid.New().String()
	o.fpsCount++

	// Keep one retained share of the newest frame; StartTracking locks onto
	// it between cycles.
	if o.last != nil {
		o.last.Release()
	}
	o.last = buf.Retain()

	o.onTracking(buf)
	o.onPreview(buf)
	o.onRecording(buf)

	// The write share: from here the buffer is owned by its consumers.
	buf.Release()
	return true
}

func (o *Orchestrator) onTracking(buf *frame.Buffer) {
	if !o.tracker.Active() {
		return
	}

	res, err := o.tracker.Update(buf)
	if err != nil {
		if errors.Is(err, track.ErrLostTrack) {
			if !o.wasLost {
				o.wasLost = true
				o.notify(Notification{Kind: NoteTrackingLost})
				// Guiding output suspends: halt corrections rather than
				// chase a phantom.
				if o.guiding && o.mnt != nil {
					if merr := o.mnt.SetGuideRate(0, 0); merr != nil {
						slog.Error("capture: mount rate zeroing failed", "error", merr)
					}
				}
			}
			if res.Disabled {
				o.wasLost = false
				o.guiding = false
				o.notify(Notification{Kind: NoteTrackingDisabled})
			}
		}
		return
	}

	if res.Reacquired {
		o.wasLost = false
		o.notify(Notification{Kind: NoteTrackingReacquired})
	}

	// Live crop follows the tracked position: an auto crop re-derives the
	// radius-proportional box each frame, a fixed area keeps the offset set
	// when the crop was requested.
	if o.crop != nil {
		if o.crop.auto {
			if area, ok := o.tracker.CropROI(0, 0, buf.Bounds()); ok {
				o.crop.area = area
			}
		} else {
			pos := res.Pos.Round()
			if o.crop.offset == nil {
				off := o.crop.area.Pos().Sub(pos)
				o.crop.offset = &off
			} else {
				o.crop.area.X = pos.X + o.crop.offset.X
				o.crop.area.Y = pos.Y + o.crop.offset.Y
				o.crop.area = o.crop.area.ClampTo(buf.Bounds())
			}
		}
	}

	if o.guiding && time.Since(o.lastGuide) >= o.cfg.GuideInterval {
		o.lastGuide = time.Now()
		ra, dec, active := o.tracker.GuideRate()
		if active && o.mnt != nil {
			if err := o.mnt.SetGuideRate(ra, dec); err != nil {
				slog.Error("capture: mount command failed, guiding disabled", "error", err)
				o.guiding = false
				o.tracker.StopGuiding()
			}
		}
	}
}

func (o *Orchestrator) onPreview(buf *frame.Buffer) {
	// Lock-free readiness check; the coordinator re-arms after consuming.
	if !o.previewWanted.Swap(false) {
		return
	}

	pf := PreviewFrame{Buf: buf.Retain()}
	if off, ok := o.tracker.StabilizationOffset(); ok {
		pf.Stabilization = off
	}

	select {
	case o.preview <- pf:
	default:
		// Previous preview not consumed; newest-only, no backlog.
		pf.Buf.Release()
		o.previewDropped.Add(1)
	}
}

func (o *Orchestrator) onRecording(buf *frame.Buffer) {
	if o.job == nil {
		return
	}

	if o.job.LimitReached(time.Now()) {
		o.consumer.Stop()
		return
	}
	if o.job.Status() != record.StatusActive {
		return
	}

	size := int64(buf.ByteSize())
	if o.buffered.Load() > o.cfg.RecordCeilingBytes {
		// Backpressure: drop from the recording path only; preview and
		// tracking already ran on this frame.
		o.job.CountDropped()
		if !o.overflow {
			o.overflow = true
			slog.Warn("capture: recording backpressure, dropping frames",
				"buffered_bytes", o.buffered.Load(),
				"ceiling", o.cfg.RecordCeilingBytes,
			)
			o.notify(Notification{Kind: NoteBufferPressure, JobID: o.job.ID})
		}
		return
	}
	o.overflow = false

	region := buf.Bounds()
	if o.crop != nil {
		region = o.crop.area.ClampTo(buf.Bounds())
	}

	it := record.Item{Buf: buf.Retain(), Region: region, Timestamp: buf.Timestamp}
	if o.consumer.Enqueue(it) {
		o.buffered.Add(size)
	} else {
		it.Buf.Release()
		o.job.CountDropped()
	}
}

// pollRecorder observes consumer termination and forwards advisory events.
func (o *Orchestrator) pollRecorder() {
	draining := true
	for draining {
		select {
		case ev := <-o.recEvents:
			if ev.Err != nil {
				// Terminal failure is reported on Done below; the event
				// itself is advisory.
				continue
			}
			o.notify(Notification{
				Kind:      NoteRecordingProgress,
				JobID:     ev.Job.ID,
				JobStatus: ev.Job.Status(),
				Message:   ev.Progress,
			})
		default:
			draining = false
		}
	}

	if o.consumer == nil {
		return
	}
	if o.job.Status() == record.StatusFailed {
		// The writer already failed; close the ingress so the remaining
		// queue drains and the job reaches Done.
		o.consumer.Stop()
	}
	select {
	case <-o.consumer.Done():
		o.finishJob()
	default:
	}
}

func (o *Orchestrator) finishJob() {
	job := o.job
	o.job = nil
	o.consumer = nil
	o.overflow = false

	if job.Status() == record.StatusFailed {
		o.notify(Notification{
			Kind:      NoteJobFailed,
			JobID:     job.ID,
			JobStatus: record.StatusFailed,
			Err:       job.Err(),
		})
		return
	}
	o.notify(Notification{
		Kind:      NoteJobStopped,
		JobID:     job.ID,
		JobStatus: job.Status(),
		Message:   job.Progress(),
	})
}

func (o *Orchestrator) maybeInfo() {
	elapsed := time.Since(o.lastInfo)
	if elapsed < o.cfg.InfoInterval {
		return
	}

	note := Notification{
		Kind: NoteInfo,
		FPS:  float64(o.fpsCount) / elapsed.Seconds(),
	}
	if o.job != nil {
		note.JobID = o.job.ID
		note.JobStatus = o.job.Status()
		note.Message = o.job.Progress()
	}
	o.notify(note)

	o.fpsCount = 0
	o.lastInfo = time.Now()
}

// apply processes one control message. Returns true to terminate the loop.
func (o *Orchestrator) apply(cmd command) bool {
	switch cmd.op {
	case opStartTracking:
		if o.last == nil {
			cmd.reply <- ErrNoFrame
			break
		}
		err := o.tracker.Start(cmd.mode, cmd.roi, o.last)
		if err == nil {
			o.wasLost = false
		}
		cmd.reply <- err

	case opStopTracking:
		o.stopGuiding()
		o.tracker.Stop()
		o.wasLost = false
		cmd.reply <- nil

	case opStartGuiding:
		err := o.tracker.StartGuiding()
		if err == nil {
			o.guiding = true
			o.lastGuide = time.Time{}
		}
		cmd.reply <- err

	case opStopGuiding:
		o.stopGuiding()
		cmd.reply <- nil

	case opSetCalibration:
		o.tracker.SetCalibration(cmd.calib)
		cmd.reply <- nil

	case opStartRecording:
		if o.job != nil {
			cmd.reply <- ErrBusy
			break
		}
		if cmd.spec.Prefix == "" {
			cmd.spec.Prefix = "frame"
		}
		w, err := record.NewWriter(cmd.spec)
		if err != nil {
			cmd.reply <- err
			break
		}
		job := record.NewJob(cmd.spec)
		o.job = job
		o.consumer = record.StartConsumer(job, w, o.cfg.QueueDepth, &o.buffered, o.recEvents)
		o.overflow = false
		o.notify(Notification{Kind: NoteJobStarted, JobID: job.ID, JobStatus: job.Status()})
		cmd.reply <- nil

	case opStopRecording:
		if o.job == nil {
			cmd.reply <- ErrBusy
			break
		}
		o.consumer.Stop()
		cmd.reply <- nil

	case opSetCrop:
		if cmd.roi.Width <= 0 || cmd.roi.Height <= 0 {
			// Zero area selects the radius-proportional box around the
			// tracked disk.
			area, ok := o.tracker.CropROI(0, 0, frame.Rect{Width: o.width, Height: o.height})
			if !ok {
				cmd.reply <- track.ErrNotTracking
				break
			}
			o.crop = &cropState{auto: true, area: area}
			cmd.reply <- nil
			break
		}
		o.crop = &cropState{area: cmd.roi}
		if snap := o.tracker.Snapshot(); snap.Mode != track.ModeDisabled {
			off := cmd.roi.Pos().Sub(snap.Pos.Round())
			o.crop.offset = &off
		}
		cmd.reply <- nil

	case opClearCrop:
		o.crop = nil
		cmd.reply <- nil

	case opStartStabilization:
		cmd.reply <- o.tracker.StartStabilization()

	case opStopStabilization:
		o.tracker.StopStabilization()
		cmd.reply <- nil

	case opPause:
		if err := o.src.Pause(); err != nil {
			cmd.reply <- err
			break
		}
		o.paused = true
		cmd.reply <- nil

	case opResume:
		if err := o.src.Resume(); err != nil {
			cmd.reply <- err
			break
		}
		o.paused = false
		cmd.reply <- nil

	case opDisconnect:
		o.disconnectReply = cmd.reply
		return true

	default:
		cmd.reply <- fmt.Errorf("capture: unknown control op %d", cmd.op)
	}
	return false
}

func (o *Orchestrator) stopGuiding() {
	if !o.guiding {
		return
	}
	o.guiding = false
	o.tracker.StopGuiding()
	if o.mnt != nil {
		if err := o.mnt.Stop(); err != nil {
			slog.Error("capture: mount stop failed", "error", err)
		}
	}
}

// cleanup releases every owned resource: tracking and guiding stopped, the
// active job flushed to a terminal status, buffer shares dropped, channels
// closed. Runs exactly once, on loop exit.
func (o *Orchestrator) cleanup() {
	o.stopGuiding()
	o.tracker.Stop()

	if o.last != nil {
		o.last.Release()
		o.last = nil
	}

	if o.consumer != nil {
		// Flush-and-stop: every frame already enqueued is written or
		// explicitly dropped before the job reports a terminal status.
		o.consumer.Stop()
		<-o.consumer.Done()
		o.finishJob()
	}

	if err := o.src.Close(); err != nil {
		slog.Error("capture: camera close failed", "error", err)
	}

	o.notify(Notification{Kind: NoteDisconnected})
	close(o.preview)
	close(o.notes)

	if o.disconnectReply != nil {
		o.disconnectReply <- nil
	}
	o.cancel()
	close(o.terminated)

	slog.Info("capture: session terminated",
		"frames", o.seq,
		"notes_dropped", o.notesDropped.Load(),
		"preview_dropped", o.previewDropped.Load(),
	)
}

// notify sends without blocking; a full egress channel drops the note.
func (o *Orchestrator) notify(n Notification) {
	select {
	case o.notes <- n:
	default:
		o.notesDropped.Add(1)
	}
}
