package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GreatAttractor/vidoxide"
	"github.com/GreatAttractor/vidoxide/internal/camera"
	"github.com/GreatAttractor/vidoxide/internal/mount"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a headless capture session",
	Long: `Capture runs acquisition without a GUI: frames are pulled from the
selected source and optionally recorded. With a recording limit set the
command exits once the job reaches a terminal status; otherwise it runs
until interrupted.`,
	RunE: runCapture,
}

func init() {
	f := captureCmd.Flags()
	f.String("source", "sim", "frame source: sim or gst")
	f.String("device", "/dev/video0", "V4L2 device (gst source)")
	f.Int("width", 640, "frame width")
	f.Int("height", 480, "frame height")
	f.Float64("fps", 30, "target frame rate")
	f.String("format", "mono8", "pixel format: mono8, mono16, rgb24")

	f.String("record", "", "record to this path (directory or .ser file)")
	f.String("container", "ser", "recording container: ser or seq")
	f.String("prefix", "frame", "file name prefix (seq container)")
	f.Int("limit-frames", 0, "stop recording after this many frames")
	f.Duration("limit-duration", 0, "stop recording after this long")

	f.String("track", "", "start tracking in this ROI, as x,y,wxh (e.g. 100,100,64x64)")
	f.String("track-mode", "centroid", "tracking mode: centroid, anchor, planet")
	f.Bool("guide", false, "guide a simulated mount from the tracked feature")

	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	format, err := parseFormat(mustString(cmd, "format"))
	if err != nil {
		return err
	}
	width := mustInt(cmd, "width")
	height := mustInt(cmd, "height")
	fps := mustFloat(cmd, "fps")

	src, err := buildSource(cmd, width, height, fps, format)
	if err != nil {
		return err
	}

	var mnt vidoxide.Mount
	if mustBool(cmd, "guide") {
		mnt = mount.NewSim()
	}

	sess, err := vidoxide.Connect(ctx, vidoxide.Config{
		InitialWidth:  width,
		InitialHeight: height,
		InitialFormat: format,
	}, src, mnt)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	if roiSpec := mustString(cmd, "track"); roiSpec != "" {
		roi, err := parseROI(roiSpec)
		if err != nil {
			return err
		}
		mode, err := parseTrackMode(mustString(cmd, "track-mode"))
		if err != nil {
			return err
		}
		// The first frame may not have arrived yet.
		if err := waitTracking(ctx, sess, mode, roi); err != nil {
			return err
		}
		if mnt != nil {
			sess.SetCalibration(vidoxide.IdentityCalibration())
			if err := sess.StartGuiding(); err != nil {
				return err
			}
		}
	}

	recording := false
	limited := false
	if path := mustString(cmd, "record"); path != "" {
		spec := vidoxide.JobSpec{
			Path:   path,
			Prefix: mustString(cmd, "prefix"),
			Limit: vidoxide.Limit{
				Frames:   mustInt(cmd, "limit-frames"),
				Duration: mustDuration(cmd, "limit-duration"),
			},
		}
		switch mustString(cmd, "container") {
		case "ser":
			spec.Container = vidoxide.SERVideo
		case "seq":
			spec.Container = vidoxide.FileSequence
		default:
			return fmt.Errorf("unknown container %q", mustString(cmd, "container"))
		}
		if err := sess.StartRecording(spec); err != nil {
			return err
		}
		recording = true
		limited = !spec.Limit.Unbounded()
	}

	go drainPreview(sess)

	for {
		select {
		case <-ctx.Done():
			return sess.Disconnect()
		case note, ok := <-sess.Notifications():
			if !ok {
				return nil
			}
			reportNote(note)
			switch note.Kind {
			case vidoxide.NoteJobFailed:
				if recording {
					return note.Err
				}
			case vidoxide.NoteJobStopped:
				if recording && limited {
					return sess.Disconnect()
				}
			case vidoxide.NoteCaptureError:
				return note.Err
			case vidoxide.NoteDisconnected:
				return nil
			}
		}
	}
}

// waitTracking retries StartTracking until the first frame has arrived.
func waitTracking(ctx context.Context, sess *vidoxide.Session, mode vidoxide.TrackMode, roi vidoxide.Rect) error {
	for {
		err := sess.StartTracking(mode, roi)
		if !errors.Is(err, vidoxide.ErrNoFrame) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// drainPreview keeps the preview path exercised at a modest rate.
func drainPreview(sess *vidoxide.Session) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	sess.RequestPreview()
	for {
		select {
		case pf, ok := <-sess.Preview():
			if !ok {
				return
			}
			pf.Buf.Release()
		case <-tick.C:
			sess.RequestPreview()
		}
	}
}

func reportNote(note vidoxide.Notification) {
	switch note.Kind {
	case vidoxide.NoteInfo:
		slog.Info("capture", "fps", fmt.Sprintf("%.1f", note.FPS), "status", note.Message)
	case vidoxide.NoteRecordingProgress:
		slog.Info("recording", "job_id", note.JobID, "progress", note.Message)
	case vidoxide.NoteJobFailed, vidoxide.NoteCaptureError:
		slog.Error(note.Kind.String(), "error", note.Err)
	default:
		slog.Info(note.Kind.String(), "job_id", note.JobID, "message", note.Message)
	}
}

func buildSource(cmd *cobra.Command, width, height int, fps float64, format vidoxide.PixelFormat) (vidoxide.Source, error) {
	switch mustString(cmd, "source") {
	case "sim":
		return camera.NewSimulator(camera.SimConfig{
			Width:  width,
			Height: height,
			Format: format,
			FPS:    fps,
			StarX:  float64(width) / 2,
			StarY:  float64(height) / 2,
		}), nil
	case "gst":
		return camera.NewGstSource(camera.GstConfig{
			Device:    mustString(cmd, "device"),
			Width:     width,
			Height:    height,
			TargetFPS: fps,
			Format:    format,
		})
	default:
		return nil, fmt.Errorf("unknown source %q", mustString(cmd, "source"))
	}
}

func parseFormat(s string) (vidoxide.PixelFormat, error) {
	switch strings.ToLower(s) {
	case "mono8":
		return vidoxide.Mono8, nil
	case "mono16":
		return vidoxide.Mono16, nil
	case "rgb24":
		return vidoxide.RGB24, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", s)
	}
}

func parseTrackMode(s string) (vidoxide.TrackMode, error) {
	switch strings.ToLower(s) {
	case "centroid":
		return vidoxide.ModeCentroid, nil
	case "anchor":
		return vidoxide.ModeAnchor, nil
	case "planet":
		return vidoxide.ModePlanet, nil
	default:
		return 0, fmt.Errorf("unknown tracking mode %q", s)
	}
}

// parseROI parses "x,y,WxH".
func parseROI(s string) (vidoxide.Rect, error) {
	var r vidoxide.Rect
	if _, err := fmt.Sscanf(s, "%d,%d,%dx%d", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
		return r, fmt.Errorf("bad ROI %q (want x,y,WxH): %w", s, err)
	}
	return r, nil
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func mustInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func mustFloat(cmd *cobra.Command, name string) float64 {
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func mustDuration(cmd *cobra.Command, name string) time.Duration {
	v, _ := cmd.Flags().GetDuration(name)
	return v
}
