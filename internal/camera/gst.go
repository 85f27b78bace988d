package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// GstConfig configures the GStreamer-backed camera source.
type GstConfig struct {
	// Device is the V4L2 device path (e.g. /dev/video0). Empty selects
	// videotestsrc, which is useful for bench runs without hardware.
	Device string

	Width  int
	Height int

	// TargetFPS caps the pipeline frame rate. <= 0 leaves the device rate.
	TargetFPS float64

	// Format selects the appsink caps. Mono8 → GRAY8, Mono16 → GRAY16_LE,
	// RGB24 → RGB.
	Format frame.PixelFormat
}

// GstSource is a Source backed by a GStreamer pipeline:
//
//	v4l2src (or videotestsrc) → videoconvert → videorate → capsfilter → appsink
//
// The appsink is configured latest-only (max-buffers=1, drop=true) so a slow
// capture loop sees the newest frame, never a backlog. Samples arrive on a
// GStreamer streaming thread and are handed to CaptureFrame through a
// single-slot channel; the pipeline handle itself is touched only from the
// constructing goroutine plus Pause/Resume/Close, which GStreamer allows.
type GstSource struct {
	cfg      GstConfig
	pipeline *gst.Pipeline
	appsink  *app.Sink

	samples chan gstSample
	dropped atomic.Uint64
	closed  atomic.Bool
}

type gstSample struct {
	data          []byte
	width, height int
}

// NewGstSource builds and starts the pipeline. Fail-fast: configuration and
// element creation problems surface here, not at first capture.
func NewGstSource(cfg GstConfig) (*GstSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid geometry %dx%d", cfg.Width, cfg.Height)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("camera: failed to create pipeline: %w", err)
	}

	var src *gst.Element
	if cfg.Device != "" {
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("camera: failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)
	} else {
		src, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("camera: failed to create videotestsrc: %w", err)
		}
		src.SetProperty("is-live", true)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("camera: failed to create videoconvert: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("camera: failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("camera: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(cfg)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("camera: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("camera: failed to link pipeline elements: %w", err)
	}

	s := &GstSource{
		cfg:      cfg,
		pipeline: pipeline,
		appsink:  appsink,
		samples:  make(chan gstSample, 1),
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("camera: failed to start pipeline: %w", err)
	}

	slog.Info("camera: gstreamer source started",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.TargetFPS,
		"format", cfg.Format,
	)

	return s, nil
}

func buildCaps(cfg GstConfig) string {
	format := "GRAY8"
	switch cfg.Format {
	case frame.Mono16:
		format = "GRAY16_LE"
	case frame.RGB24:
		format = "RGB"
	}
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, cfg.Width, cfg.Height)
	if cfg.TargetFPS > 0 {
		// Express the rate as a fraction with millifps resolution.
		caps += fmt.Sprintf(",framerate=%d/1000", int(cfg.TargetFPS*1000))
	}
	return caps
}

// onNewSample runs on the GStreamer streaming thread: copy out the pixel data
// (GStreamer reuses its buffer) and hand it to CaptureFrame, latest-only.
func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("camera: empty buffer received")
		return gst.FlowOK
	}

	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()

	sm := gstSample{data: out, width: s.cfg.Width, height: s.cfg.Height}
	select {
	case s.samples <- sm:
	default:
		// Capture loop still busy with the previous frame; replace it.
		select {
		case <-s.samples:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.samples <- sm:
		default:
		}
	}

	return gst.FlowOK
}

// CaptureFrame blocks until the pipeline delivers a frame (implements Source).
func (s *GstSource) CaptureFrame(ctx context.Context, dst *frame.Buffer) error {
	if s.closed.Load() {
		return fmt.Errorf("camera: source closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sm, ok := <-s.samples:
		if !ok {
			return fmt.Errorf("camera: source closed")
		}
		dst.Reformat(sm.width, sm.height, s.cfg.Format)
		if len(sm.data) < len(dst.Data) {
			return fmt.Errorf("camera: short sample: %d bytes, want %d", len(sm.data), len(dst.Data))
		}
		copy(dst.Data, sm.data[:len(dst.Data)])
		return nil
	}
}

// Dropped returns the number of samples overwritten because the capture loop
// lagged the pipeline.
func (s *GstSource) Dropped() uint64 { return s.dropped.Load() }

// Pause sets the pipeline to PAUSED (implements Source).
func (s *GstSource) Pause() error {
	return s.pipeline.SetState(gst.StatePaused)
}

// Resume sets the pipeline back to PLAYING (implements Source).
func (s *GstSource) Resume() error {
	return s.pipeline.SetState(gst.StatePlaying)
}

// Close tears the pipeline down. Idempotent (implements Source).
func (s *GstSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("camera: failed to stop pipeline: %w", err)
	}
	// Give the streaming thread a moment to exit its callback before the
	// pipeline is collected.
	time.Sleep(50 * time.Millisecond)
	slog.Info("camera: gstreamer source closed", "dropped", s.dropped.Load())
	return nil
}
