package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// FileSeqWriter writes one image file per frame with sequential naming
// (<prefix>_00000.pgm, _00001.pgm, ...) plus a timestamps.txt sidecar mapping
// each index to its capture time. Mono frames are written as binary PGM,
// RGB24 as binary PPM; Mono16 is written big-endian per the netpbm spec.
type FileSeqWriter struct {
	dir     string
	prefix  string
	counter int
	tsFile  *os.File
	tsBuf   *bufio.Writer
}

// NewFileSeqWriter creates the output directory if needed and opens the
// timestamp sidecar.
func NewFileSeqWriter(dir, prefix string) (*FileSeqWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: creating output dir: %w", err)
	}
	tsFile, err := os.Create(filepath.Join(dir, prefix+"_timestamps.txt"))
	if err != nil {
		return nil, fmt.Errorf("record: creating timestamp sidecar: %w", err)
	}
	return &FileSeqWriter{
		dir:    dir,
		prefix: prefix,
		tsFile: tsFile,
		tsBuf:  bufio.NewWriter(tsFile),
	}, nil
}

// WriteFrame writes one frame file (implements Writer).
func (w *FileSeqWriter) WriteFrame(buf *frame.Buffer, region frame.Rect, ts time.Time) error {
	name := fmt.Sprintf("%s_%05d.%s", w.prefix, w.counter, extension(buf.Format))
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("record: creating %s: %w", name, err)
	}
	bw := bufio.NewWriter(f)

	if err := writeNetpbm(bw, buf, region); err != nil {
		f.Close()
		return fmt.Errorf("record: writing %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("record: flushing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("record: closing %s: %w", name, err)
	}

	fmt.Fprintf(w.tsBuf, "%05d %s\n", w.counter, ts.UTC().Format(time.RFC3339Nano))
	w.counter++
	return nil
}

// Finalize flushes the timestamp sidecar (implements Writer).
func (w *FileSeqWriter) Finalize() error {
	if err := w.tsBuf.Flush(); err != nil {
		w.tsFile.Close()
		return fmt.Errorf("record: flushing timestamp sidecar: %w", err)
	}
	if err := w.tsFile.Close(); err != nil {
		return fmt.Errorf("record: closing timestamp sidecar: %w", err)
	}
	return nil
}

func extension(f frame.PixelFormat) string {
	if f == frame.RGB24 {
		return "ppm"
	}
	return "pgm"
}

func writeNetpbm(bw *bufio.Writer, buf *frame.Buffer, region frame.Rect) error {
	region = region.ClampTo(buf.Bounds())
	if region.Empty() {
		return fmt.Errorf("empty region %v", region)
	}

	var magic string
	var maxVal int
	switch buf.Format {
	case frame.Mono8:
		magic, maxVal = "P5", 255
	case frame.Mono16:
		magic, maxVal = "P5", 65535
	case frame.RGB24:
		magic, maxVal = "P6", 255
	default:
		return fmt.Errorf("unsupported pixel format %v", buf.Format)
	}

	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n%d\n", magic, region.Width, region.Height, maxVal); err != nil {
		return err
	}

	bpp := buf.Format.BytesPerPixel()
	for y := region.Y; y < region.Y+region.Height; y++ {
		line := buf.Data[y*buf.Stride()+region.X*bpp : y*buf.Stride()+(region.X+region.Width)*bpp]
		if buf.Format == frame.Mono16 {
			// Stored little-endian, netpbm wants big-endian.
			for i := 0; i < len(line); i += 2 {
				if err := bw.WriteByte(line[i+1]); err != nil {
					return err
				}
				if err := bw.WriteByte(line[i]); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return nil
}
