package frame_test

import (
	"testing"

	"github.com/GreatAttractor/vidoxide/internal/frame"
)

func TestRectClampTo(t *testing.T) {
	bounds := frame.Rect{X: 0, Y: 0, Width: 640, Height: 480}

	cases := []struct {
		name string
		in   frame.Rect
		want frame.Rect
	}{
		{
			name: "already inside",
			in:   frame.Rect{X: 10, Y: 20, Width: 100, Height: 100},
			want: frame.Rect{X: 10, Y: 20, Width: 100, Height: 100},
		},
		{
			name: "past right edge translates back",
			in:   frame.Rect{X: 600, Y: 0, Width: 100, Height: 100},
			want: frame.Rect{X: 540, Y: 0, Width: 100, Height: 100},
		},
		{
			name: "negative origin translates forward",
			in:   frame.Rect{X: -30, Y: -10, Width: 100, Height: 100},
			want: frame.Rect{X: 0, Y: 0, Width: 100, Height: 100},
		},
		{
			name: "wider than bounds shrinks",
			in:   frame.Rect{X: -100, Y: 0, Width: 1000, Height: 100},
			want: frame.Rect{X: 0, Y: 0, Width: 640, Height: 100},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.ClampTo(bounds)
			if got != tc.want {
				t.Errorf("ClampTo(%v) = %v, want %v", tc.in, got, tc.want)
			}
			if !bounds.ContainsRect(got) {
				t.Errorf("result %v not contained in bounds %v", got, bounds)
			}
		})
	}
}

func TestCenteredRect(t *testing.T) {
	r := frame.CenteredRect(frame.PointF{X: 100, Y: 50}, 64, 32)
	want := frame.Rect{X: 68, Y: 34, Width: 64, Height: 32}
	if r != want {
		t.Errorf("CenteredRect = %v, want %v", r, want)
	}

	// Rounding: 100.6 rounds to 101.
	r = frame.CenteredRect(frame.PointF{X: 100.6, Y: 50}, 10, 10)
	if r.X != 96 {
		t.Errorf("CenteredRect with fractional center: X = %d, want 96", r.X)
	}
}

func TestPointFRound(t *testing.T) {
	cases := []struct {
		in   frame.PointF
		want frame.Point
	}{
		{frame.PointF{X: 1.4, Y: 1.5}, frame.Point{X: 1, Y: 2}},
		{frame.PointF{X: -1.4, Y: -1.5}, frame.Point{X: -1, Y: -2}},
		{frame.PointF{X: 0, Y: 0}, frame.Point{X: 0, Y: 0}},
	}
	for _, tc := range cases {
		if got := tc.in.Round(); got != tc.want {
			t.Errorf("Round(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRectCenterRoundTrip(t *testing.T) {
	r := frame.Rect{X: 10, Y: 20, Width: 64, Height: 64}
	back := frame.CenteredRect(r.Center(), r.Width, r.Height)
	if back != r {
		t.Errorf("CenteredRect(Center()) = %v, want %v", back, r)
	}
}
