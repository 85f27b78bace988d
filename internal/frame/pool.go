package frame

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pool is a bounded set of reusable frame buffers.
//
// Reuse policy (in order):
//  1. Recycle a buffer with no outstanding shares (reference count zero).
//  2. Allocate fresh storage while total live allocation stays under the
//     configured byte ceiling.
//  3. Forcibly reuse the least-recently-produced buffer regardless of
//     holders. This is lossy degradation under buffer pressure, preferred
//     over unbounded growth; the buffer's generation is bumped so holders
//     can detect the stale view.
//
// Obtain never blocks and never fails. Total live allocation never exceeds
// ceiling + one in-flight write buffer (the allocation that tripped the
// ceiling check).
type Pool struct {
	mu      sync.Mutex
	buffers []*Buffer
	nextSeq uint64

	ceiling   int64
	liveBytes atomic.Int64

	// Operational counters, read without the lock by Stats.
	recycles       atomic.Uint64
	allocs         atomic.Uint64
	pressureEvents atomic.Uint64
}

// PoolStats is a snapshot of pool state for telemetry.
type PoolStats struct {
	// Buffers is the number of buffers the pool has ever allocated and
	// still owns.
	Buffers int
	// LiveBytes is the total allocated pixel storage.
	LiveBytes int64
	// Recycles counts Obtain calls satisfied by an idle buffer.
	Recycles uint64
	// Allocs counts Obtain calls satisfied by fresh allocation.
	Allocs uint64
	// PressureEvents counts forced lossy reuses (ceiling reached with no
	// idle buffer). Non-zero means consumers are holding frames longer than
	// one frame period; expected under slow recording I/O.
	PressureEvents uint64
}

// NewPool creates a pool with the given allocation ceiling in bytes.
func NewPool(ceilingBytes int64) *Pool {
	return &Pool{ceiling: ceilingBytes}
}

// Obtain returns a buffer sized for width×height pixels of the given format,
// held exclusively by the caller (one share). It never blocks.
func (p *Pool) Obtain(width, height int, format PixelFormat) *Buffer {
	need := width * height * format.BytesPerPixel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSeq++

	// Fast path: recycle an idle buffer. CompareAndSwap claims it against a
	// racing Release from a consumer goroutine.
	for _, b := range p.buffers {
		if b.refs.CompareAndSwap(0, 1) {
			b.obtainSeq = p.nextSeq
			p.recycles.Add(1)
			p.reformatLocked(b, width, height, format)
			return b
		}
	}

	// Allocate while under the ceiling (or for the very first buffer).
	if len(p.buffers) == 0 || p.liveBytes.Load()+int64(need) <= p.ceiling {
		b := &Buffer{
			Data:      make([]byte, need),
			Width:     width,
			Height:    height,
			Format:    format,
			pool:      p,
			obtainSeq: p.nextSeq,
		}
		b.refs.Store(1)
		p.liveBytes.Add(int64(need))
		p.buffers = append(p.buffers, b)
		p.allocs.Add(1)
		return b
	}

	// Buffer pressure: every buffer is held and the ceiling is reached.
	// Forcibly reuse the least-recently-produced buffer. Holders keep their
	// shares; the generation bump marks their view stale.
	victim := p.buffers[0]
	for _, b := range p.buffers[1:] {
		if b.obtainSeq < victim.obtainSeq {
			victim = b
		}
	}
	victim.gen.Add(1)
	victim.refs.Add(1)
	victim.obtainSeq = p.nextSeq
	p.pressureEvents.Add(1)
	slog.Warn("pool: buffer pressure, lossy reuse",
		"seq", victim.Seq,
		"holders", victim.refs.Load()-1,
		"live_bytes", p.liveBytes.Load(),
		"ceiling", p.ceiling,
	)
	p.reformatLocked(victim, width, height, format)
	return victim
}

func (p *Pool) reformatLocked(b *Buffer, width, height int, format PixelFormat) {
	need := width * height * format.BytesPerPixel()
	if cap(b.Data) < need {
		p.liveBytes.Add(int64(need - cap(b.Data)))
		b.Data = make([]byte, need)
	}
	b.Data = b.Data[:need]
	b.Width = width
	b.Height = height
	b.Format = format
}

// Stats returns a snapshot of pool telemetry. Safe for concurrent use;
// values may be slightly stale.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	n := len(p.buffers)
	p.mu.Unlock()

	return PoolStats{
		Buffers:        n,
		LiveBytes:      p.liveBytes.Load(),
		Recycles:       p.recycles.Load(),
		Allocs:         p.allocs.Load(),
		PressureEvents: p.pressureEvents.Load(),
	}
}
