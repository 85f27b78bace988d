// Package frame provides frame buffers with shared read-only ownership and a
// bounded, reuse-first buffer pool.
//
// Immutability contract: a Buffer's pixel data is written only by the capture
// loop, and only while the loop is the buffer's sole holder. Once a buffer has
// been handed to any consumer (preview, recording, tracker reference) it is
// read-only until every holder has released its share.
package frame

import (
	"sync/atomic"
	"time"
)

// PixelFormat identifies the layout of a Buffer's pixel data.
type PixelFormat int

const (
	// Mono8 is 8-bit grayscale, 1 byte per pixel.
	Mono8 PixelFormat = iota
	// Mono16 is 16-bit grayscale, little-endian, 2 bytes per pixel.
	Mono16
	// RGB24 is 8-bit-per-channel interleaved RGB, 3 bytes per pixel.
	RGB24
)

// BytesPerPixel returns the per-pixel storage size of the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case Mono8:
		return 1
	case Mono16:
		return 2
	case RGB24:
		return 3
	default:
		return 1
	}
}

func (f PixelFormat) String() string {
	switch f {
	case Mono8:
		return "Mono8"
	case Mono16:
		return "Mono16"
	case RGB24:
		return "RGB24"
	default:
		return "unknown"
	}
}

// Buffer is a single captured frame: contiguous pixel storage plus metadata.
//
// Lifecycle: obtained from a Pool by the capture loop (sole holder), written
// once, then shared read-only with consumers via Retain/Release. When the
// reference count drops to zero the pool may hand the storage out again.
type Buffer struct {
	// Data holds Width*Height*BytesPerPixel bytes of pixel data.
	// MUST NOT be modified after the buffer has been shared.
	Data []byte

	// Width and Height in pixels.
	Width  int
	Height int

	// Format describes the layout of Data.
	Format PixelFormat

	// Seq is the monotonic capture sequence number, stamped by the capture
	// loop after a successful acquire.
	Seq uint64

	// Timestamp is the capture time reported for the frame.
	Timestamp time.Time

	// TraceID identifies the frame across the pipeline (preview, recording,
	// notifications).
	TraceID string

	pool *Pool

	// refs counts outstanding shares beyond the pool itself. 0 means the
	// buffer is reclaimable.
	refs atomic.Int32

	// gen is bumped when the pool forcibly reuses the buffer while shares
	// are still outstanding. A consumer that recorded Generation() at
	// hand-off can detect that its view went stale.
	gen atomic.Uint64

	// obtainSeq orders buffers by production time for least-recently-produced
	// forced reuse. Guarded by the pool mutex.
	obtainSeq uint64
}

// Retain adds a share and returns the buffer for convenient hand-off.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops a share. The final release makes the buffer reclaimable by
// its pool; it never blocks and never frees memory.
func (b *Buffer) Release() {
	if n := b.refs.Add(-1); n < 0 {
		panic("frame: Release without matching Retain/Obtain")
	}
}

// Refs returns the current number of outstanding shares.
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// Generation returns the buffer's reuse generation. See Pool.Obtain for the
// forced-reuse case that bumps it.
func (b *Buffer) Generation() uint64 { return b.gen.Load() }

// ByteSize returns the size of the pixel payload in bytes.
func (b *Buffer) ByteSize() int { return b.Width * b.Height * b.Format.BytesPerPixel() }

// Stride returns the number of bytes per pixel row.
func (b *Buffer) Stride() int { return b.Width * b.Format.BytesPerPixel() }

// Bounds returns the full-frame rectangle at origin (0,0).
func (b *Buffer) Bounds() Rect {
	return Rect{X: 0, Y: 0, Width: b.Width, Height: b.Height}
}

// Reformat resizes the buffer for a new geometry, reallocating storage if the
// current backing array is too small. Callers may only invoke it while they
// are the buffer's sole holder (e.g. a camera backend adjusting the
// destination after a video-mode change).
func (b *Buffer) Reformat(width, height int, format PixelFormat) {
	need := width * height * format.BytesPerPixel()
	if cap(b.Data) < need {
		if b.pool != nil {
			b.pool.liveBytes.Add(int64(need - cap(b.Data)))
		}
		b.Data = make([]byte, need)
	}
	b.Data = b.Data[:need]
	b.Width = width
	b.Height = height
	b.Format = format
}

// Gray returns the luminance of the pixel at (x, y) scaled to [0, 255].
// Mono16 is downscaled, RGB24 uses an unweighted channel mean.
func (b *Buffer) Gray(x, y int) float64 {
	switch b.Format {
	case Mono8:
		return float64(b.Data[y*b.Stride()+x])
	case Mono16:
		off := y*b.Stride() + 2*x
		v := uint16(b.Data[off]) | uint16(b.Data[off+1])<<8
		return float64(v) / 257.0
	case RGB24:
		off := y*b.Stride() + 3*x
		return (float64(b.Data[off]) + float64(b.Data[off+1]) + float64(b.Data[off+2])) / 3.0
	default:
		return 0
	}
}

// Mono8Region converts the given region to tightly packed Mono8 pixels.
// Used by the tracker for reference blocks and search areas; r must lie
// within the frame bounds.
func (b *Buffer) Mono8Region(r Rect) []byte {
	out := make([]byte, r.Width*r.Height)
	i := 0
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			out[i] = uint8(b.Gray(x, y))
			i++
		}
	}
	return out
}
