package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// SER container constants. The header is a fixed 178-byte little-endian
// record; 16-bit frame data endianness is flagged with reversed meaning
// relative to the online documentation (0 = little-endian in practice).
const (
	serSignature       = "Vidoxide"
	serHeaderSize      = 178
	serFrameCountOff   = 38
	serColorMono       = 0
	serColorRGB        = 100
	serLittleEndian    = 0
	serTicksPerSecond  = 10_000_000
	serTicksUnixOffset = 62135596800 // seconds from year 1 to the Unix epoch
)

// SERWriter writes a single SER video: header, tightly packed raw frames,
// then the optional UTC timestamp trailer (one int64 of 100 ns ticks per
// frame). The frame geometry is locked by the first frame; a mid-recording
// video mode change is a write error, which fails the job.
type SERWriter struct {
	file *os.File
	bw   *bufio.Writer

	// Locked on first frame.
	width, height int
	format        frame.PixelFormat
	started       bool

	frameCount uint32
	timestamps []int64
}

// NewSERWriter creates the output file. The header is written lazily with
// the first frame, once the geometry is known.
func NewSERWriter(path string) (*SERWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: creating SER file: %w", err)
	}
	return &SERWriter{file: f, bw: bufio.NewWriter(f)}, nil
}

// WriteFrame appends one frame (implements Writer).
func (w *SERWriter) WriteFrame(buf *frame.Buffer, region frame.Rect, ts time.Time) error {
	region = region.ClampTo(buf.Bounds())
	if region.Empty() {
		return fmt.Errorf("record: empty region %v", region)
	}

	if !w.started {
		w.width, w.height, w.format = region.Width, region.Height, buf.Format
		if err := w.writeHeader(); err != nil {
			return err
		}
		w.started = true
	} else if region.Width != w.width || region.Height != w.height || buf.Format != w.format {
		return fmt.Errorf("record: unexpected frame %dx%d %v (SER locked to %dx%d %v)",
			region.Width, region.Height, buf.Format, w.width, w.height, w.format)
	}

	bpp := buf.Format.BytesPerPixel()
	for y := region.Y; y < region.Y+region.Height; y++ {
		line := buf.Data[y*buf.Stride()+region.X*bpp : y*buf.Stride()+(region.X+region.Width)*bpp]
		if _, err := w.bw.Write(line); err != nil {
			return fmt.Errorf("record: writing SER frame: %w", err)
		}
	}

	w.frameCount++
	w.timestamps = append(w.timestamps, toSERTicks(ts))
	return nil
}

func (w *SERWriter) writeHeader() error {
	hdr := make([]byte, serHeaderSize)
	copy(hdr[0:14], serSignature)

	colorID := uint32(serColorMono)
	if w.format == frame.RGB24 {
		colorID = serColorRGB
	}
	le := binary.LittleEndian
	le.PutUint32(hdr[18:], colorID)
	le.PutUint32(hdr[22:], serLittleEndian)
	le.PutUint32(hdr[26:], uint32(w.width))
	le.PutUint32(hdr[30:], uint32(w.height))
	le.PutUint32(hdr[34:], uint32(w.format.BytesPerPixel())/colorChannels(w.format)*8)
	// frame_count at offset 38 is patched in Finalize.
	// observer/instrument/telescope (3×40 bytes) left zeroed.
	if _, err := w.bw.Write(hdr); err != nil {
		return fmt.Errorf("record: writing SER header: %w", err)
	}
	return nil
}

func colorChannels(f frame.PixelFormat) uint32 {
	if f == frame.RGB24 {
		return 3
	}
	return 1
}

// Finalize writes the timestamp trailer, patches the header frame count and
// closes the file (implements Writer).
func (w *SERWriter) Finalize() error {
	if w.started {
		// Timestamp trailer: one little-endian int64 of UTC ticks per frame.
		for _, ticks := range w.timestamps {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(ticks))
			if _, err := w.bw.Write(b[:]); err != nil {
				w.file.Close()
				return fmt.Errorf("record: writing SER timestamp trailer: %w", err)
			}
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("record: flushing SER file: %w", err)
	}

	if w.started {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w.frameCount)
		if _, err := w.file.WriteAt(b[:], serFrameCountOff); err != nil {
			w.file.Close()
			return fmt.Errorf("record: patching SER frame count: %w", err)
		}
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("record: closing SER file: %w", err)
	}
	return nil
}

// toSERTicks converts a time to .NET-style 100 ns ticks since year 1 (UTC),
// the SER trailer unit.
func toSERTicks(ts time.Time) int64 {
	ts = ts.UTC()
	return (ts.Unix()+serTicksUnixOffset)*serTicksPerSecond + int64(ts.Nanosecond())/100
}
