package frame_test

import (
	"testing"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

// TestPoolRecyclesReleasedBuffer validates the reuse-first policy.
//
// Scenario:
//  1. Obtain a buffer, release it.
//  2. Obtain again with the same geometry.
//  3. Assert: no second allocation (same backing array recycled).
func TestPoolRecyclesReleasedBuffer(t *testing.T) {
	pool := frame.NewPool(64 << 20)

	a := pool.Obtain(640, 480, frame.Mono8)
	a.Data[0] = 42
	a.Release()

	b := pool.Obtain(640, 480, frame.Mono8)
	defer b.Release()

	stats := pool.Stats()
	if stats.Allocs != 1 {
		t.Errorf("Allocs = %d, want 1 (second Obtain should recycle)", stats.Allocs)
	}
	if stats.Recycles != 1 {
		t.Errorf("Recycles = %d, want 1", stats.Recycles)
	}
	if b.Data[0] != 42 {
		t.Error("recycled buffer does not share storage with released one")
	}
}

// TestPoolAllocatesUnderCeiling validates growth while held buffers exist.
func TestPoolAllocatesUnderCeiling(t *testing.T) {
	size := int64(640 * 480)
	pool := frame.NewPool(4 * size)

	var held []*frame.Buffer
	for i := 0; i < 4; i++ {
		held = append(held, pool.Obtain(640, 480, frame.Mono8))
	}

	stats := pool.Stats()
	if stats.Allocs != 4 {
		t.Errorf("Allocs = %d, want 4", stats.Allocs)
	}
	if stats.LiveBytes != 4*size {
		t.Errorf("LiveBytes = %d, want %d", stats.LiveBytes, 4*size)
	}
	if stats.PressureEvents != 0 {
		t.Errorf("PressureEvents = %d, want 0 (still under ceiling)", stats.PressureEvents)
	}

	for _, b := range held {
		b.Release()
	}
}

// TestPoolForcedReuseUnderPressure validates lossy degradation at the ceiling.
//
// Scenario:
//  1. Fill the pool to its ceiling with held buffers.
//  2. Obtain one more; no idle buffer exists and allocation is forbidden.
//  3. Assert: the least-recently-produced buffer is reused, its generation
//     bumped so the original holder can detect the stale view.
func TestPoolForcedReuseUnderPressure(t *testing.T) {
	size := int64(100 * 100)
	pool := frame.NewPool(2 * size)

	first := pool.Obtain(100, 100, frame.Mono8)
	second := pool.Obtain(100, 100, frame.Mono8)

	gen0 := first.Generation()

	victim := pool.Obtain(100, 100, frame.Mono8)

	if victim != first {
		t.Fatal("forced reuse did not pick the least-recently-produced buffer")
	}
	if victim.Generation() != gen0+1 {
		t.Errorf("Generation = %d, want %d (bump marks the stale view)", victim.Generation(), gen0+1)
	}

	stats := pool.Stats()
	if stats.PressureEvents != 1 {
		t.Errorf("PressureEvents = %d, want 1", stats.PressureEvents)
	}
	if stats.LiveBytes != 2*size {
		t.Errorf("LiveBytes = %d, want %d (forced reuse must not grow the pool)", stats.LiveBytes, 2*size)
	}

	// The original holder and the new producer each own a share.
	if victim.Refs() != 2 {
		t.Errorf("victim Refs = %d, want 2", victim.Refs())
	}

	victim.Release()
	first.Release()
	second.Release()
}

// TestPoolObtainGrowsForLargerGeometry validates storage reallocation on a
// video mode change.
func TestPoolObtainGrowsForLargerGeometry(t *testing.T) {
	pool := frame.NewPool(64 << 20)

	small := pool.Obtain(100, 100, frame.Mono8)
	small.Release()

	big := pool.Obtain(200, 200, frame.Mono16)
	defer big.Release()

	if got, want := len(big.Data), 200*200*2; got != want {
		t.Errorf("len(Data) = %d, want %d", got, want)
	}
	if big.Width != 200 || big.Height != 200 || big.Format != frame.Mono16 {
		t.Errorf("geometry = %dx%d %v, want 200x200 Mono16", big.Width, big.Height, big.Format)
	}
	if got := pool.Stats().LiveBytes; got != 200*200*2 {
		t.Errorf("LiveBytes = %d, want %d after reallocation", got, 200*200*2)
	}
}

// TestBufferRetainRelease validates share counting.
func TestBufferRetainRelease(t *testing.T) {
	pool := frame.NewPool(1 << 20)
	b := pool.Obtain(10, 10, frame.Mono8)

	if b.Refs() != 1 {
		t.Fatalf("Refs after Obtain = %d, want 1", b.Refs())
	}
	b.Retain()
	if b.Refs() != 2 {
		t.Fatalf("Refs after Retain = %d, want 2", b.Refs())
	}
	b.Release()
	b.Release()
	if b.Refs() != 0 {
		t.Fatalf("Refs after releases = %d, want 0", b.Refs())
	}
}

// TestBufferReleaseUnderflowPanics validates the Retain/Release pairing guard.
func TestBufferReleaseUnderflowPanics(t *testing.T) {
	pool := frame.NewPool(1 << 20)
	b := pool.Obtain(10, 10, frame.Mono8)
	b.Release()

	defer func() {
		if recover() == nil {
			t.Error("Release past zero did not panic")
		}
	}()
	b.Release()
}

func TestBufferGray(t *testing.T) {
	pool := frame.NewPool(1 << 20)

	mono16 := pool.Obtain(2, 1, frame.Mono16)
	defer mono16.Release()
	// 0xFFFF scales to 255.
	mono16.Data[2] = 0xFF
	mono16.Data[3] = 0xFF
	if got := mono16.Gray(1, 0); got != 255 {
		t.Errorf("Mono16 Gray = %v, want 255", got)
	}

	rgb := pool.Obtain(1, 1, frame.RGB24)
	defer rgb.Release()
	rgb.Data[0], rgb.Data[1], rgb.Data[2] = 30, 60, 90
	if got := rgb.Gray(0, 0); got != 60 {
		t.Errorf("RGB24 Gray = %v, want 60 (channel mean)", got)
	}
}
