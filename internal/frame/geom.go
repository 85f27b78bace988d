package frame

import "fmt"

// Point is an integer pixel coordinate.
type Point struct {
	X int
	Y int
}

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// PointF is a sub-pixel coordinate. Tracker position estimates are PointF;
// everything that touches raw pixels works on Point/Rect.
type PointF struct {
	X float64
	Y float64
}

// AddF returns p + q.
func (p PointF) AddF(q PointF) PointF { return PointF{p.X + q.X, p.Y + q.Y} }

// SubF returns p - q.
func (p PointF) SubF(q PointF) PointF { return PointF{p.X - q.X, p.Y - q.Y} }

// Round returns the nearest integer pixel coordinate.
func (p PointF) Round() Point {
	return Point{X: roundToInt(p.X), Y: roundToInt(p.Y)}
}

func roundToInt(v float64) int {
	if v >= 0 {
		return int(v + 0.5)
	}
	return int(v - 0.5)
}

// Rect is an axis-aligned pixel rectangle. Width and Height are always >= 0.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.X, r.Y)
}

// Pos returns the origin (top-left corner) of r.
func (r Rect) Pos() Point { return Point{r.X, r.Y} }

// Center returns the sub-pixel center of r.
func (r Rect) Center() PointF {
	return PointF{
		X: float64(r.X) + float64(r.Width)/2,
		Y: float64(r.Y) + float64(r.Height)/2,
	}
}

// Empty reports whether r has zero area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// ContainsRect reports whether q lies fully inside r.
func (r Rect) ContainsRect(q Rect) bool {
	return q.X >= r.X && q.Y >= r.Y &&
		q.X+q.Width <= r.X+r.Width && q.Y+q.Height <= r.Y+r.Height
}

// ClampTo translates r so it lies within bounds, shrinking it if it is
// larger than bounds along an axis. The result always satisfies
// bounds.ContainsRect(result).
func (r Rect) ClampTo(bounds Rect) Rect {
	out := r

	if out.Width > bounds.Width {
		out.Width = bounds.Width
	}
	if out.Height > bounds.Height {
		out.Height = bounds.Height
	}

	if out.X < bounds.X {
		out.X = bounds.X
	}
	if out.Y < bounds.Y {
		out.Y = bounds.Y
	}
	if out.X+out.Width > bounds.X+bounds.Width {
		out.X = bounds.X + bounds.Width - out.Width
	}
	if out.Y+out.Height > bounds.Y+bounds.Height {
		out.Y = bounds.Y + bounds.Height - out.Height
	}

	return out
}

// Inflate grows r by margin pixels on every side.
func (r Rect) Inflate(margin int) Rect {
	return Rect{
		X:      r.X - margin,
		Y:      r.Y - margin,
		Width:  r.Width + 2*margin,
		Height: r.Height + 2*margin,
	}
}

// CenteredRect returns a width×height rectangle centered on c.
func CenteredRect(c PointF, width, height int) Rect {
	p := c.Round()
	return Rect{X: p.X - width/2, Y: p.Y - height/2, Width: width, Height: height}
}
