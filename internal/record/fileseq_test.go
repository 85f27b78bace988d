package record_test

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GreatAttractor/vidoxide/internal/frame"
	"github.com/GreatAttractor/vidoxide/internal/record"
)

// TestFileSeqWriterNamesAndSidecar validates sequential naming and the
// timestamp sidecar.
func TestFileSeqWriterNamesAndSidecar(t *testing.T) {
	dir := t.TempDir()
	w, err := record.NewFileSeqWriter(dir, "jup")
	if err != nil {
		t.Fatalf("NewFileSeqWriter() failed: %v", err)
	}

	pool := frame.NewPool(1 << 20)
	buf := pool.Obtain(4, 2, frame.Mono8)
	defer buf.Release()
	copy(buf.Data, []byte{10, 20, 30, 40, 50, 60, 70, 80})

	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := w.WriteFrame(buf, buf.Bounds(), ts.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("WriteFrame() #%d failed: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, fmt.Sprintf("jup_%05d.pgm", i))
		data, err := os.ReadFile(name)
		if err != nil {
			t.Fatalf("frame file %d missing: %v", i, err)
		}
		want := []byte("P5\n4 2\n255\n")
		if !bytes.HasPrefix(data, want) {
			t.Errorf("frame %d header = %q, want prefix %q", i, data[:len(want)], want)
		}
		if !bytes.HasSuffix(data, buf.Data) {
			t.Errorf("frame %d pixel payload mismatch", i)
		}
	}

	sidecar, err := os.Open(filepath.Join(dir, "jup_timestamps.txt"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	defer sidecar.Close()

	var lines []string
	sc := bufio.NewScanner(sidecar)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("sidecar has %d lines, want 3", len(lines))
	}
	if lines[1] != "00001 2026-03-14T12:00:01Z" {
		t.Errorf("sidecar line 1 = %q", lines[1])
	}
}

// TestFileSeqWriterMono16BigEndian validates the netpbm byte order for 16-bit
// frames.
func TestFileSeqWriterMono16BigEndian(t *testing.T) {
	dir := t.TempDir()
	w, err := record.NewFileSeqWriter(dir, "frame")
	if err != nil {
		t.Fatalf("NewFileSeqWriter() failed: %v", err)
	}

	pool := frame.NewPool(1 << 20)
	buf := pool.Obtain(1, 1, frame.Mono16)
	defer buf.Release()
	// 0x1234 stored little-endian.
	buf.Data[0] = 0x34
	buf.Data[1] = 0x12

	if err := w.WriteFrame(buf, buf.Bounds(), time.Now()); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "frame_00000.pgm"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("P5\n1 1\n65535\n")) {
		t.Fatalf("unexpected header: %q", data)
	}
	payload := data[len("P5\n1 1\n65535\n"):]
	if len(payload) != 2 || payload[0] != 0x12 || payload[1] != 0x34 {
		t.Errorf("payload = %v, want big-endian [0x12 0x34]", payload)
	}
}

// TestFileSeqWriterRGB validates the PPM variant.
func TestFileSeqWriterRGB(t *testing.T) {
	dir := t.TempDir()
	w, err := record.NewFileSeqWriter(dir, "frame")
	if err != nil {
		t.Fatalf("NewFileSeqWriter() failed: %v", err)
	}

	pool := frame.NewPool(1 << 20)
	buf := pool.Obtain(2, 1, frame.RGB24)
	defer buf.Release()
	copy(buf.Data, []byte{255, 0, 0, 0, 255, 0})

	if err := w.WriteFrame(buf, buf.Bounds(), time.Now()); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "frame_00000.ppm"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("P6\n2 1\n255\n")) {
		t.Errorf("unexpected header: %q", data[:12])
	}
	if !bytes.HasSuffix(data, buf.Data) {
		t.Error("pixel payload mismatch")
	}
}
