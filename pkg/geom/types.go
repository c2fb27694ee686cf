// Package geom provides the small geometric value types shared by the viewer
// packages. Points and vectors are gonum r2.Vec values.
package geom

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Size represents a 2D size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Sz creates a new Size.
func Sz(width, height float64) Size {
	return Size{Width: width, Height: height}
}

// IsEmpty reports whether either dimension is zero, negative or NaN.
func (s Size) IsEmpty() bool {
	return !(s.Width > 0) || !(s.Height > 0)
}

// Center returns the centre point of a box of this size anchored at the origin.
func (s Size) Center() r2.Vec {
	return r2.Vec{X: s.Width / 2, Y: s.Height / 2}
}

// Scale returns the size multiplied by f on both axes.
func (s Size) Scale(f float64) Size {
	return Size{Width: s.Width * f, Height: s.Height * f}
}

// Rect is an axis-aligned rectangle with floating-point edges.
// Min is inclusive, Max is exclusive.
type Rect struct {
	Min r2.Vec `json:"min"`
	Max r2.Vec `json:"max"`
}

// R creates a Rect from its edges, normalising the corner order.
func R(x0, y0, x1, y1 float64) Rect {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{Min: r2.Vec{X: x0, Y: y0}, Max: r2.Vec{X: x1, Y: y1}}
}

// FromSize returns the rectangle [0,w)x[0,h).
func FromSize(s Size) Rect {
	return Rect{Max: r2.Vec{X: s.Width, Y: s.Height}}
}

// FromImageRect converts an integer image rectangle.
func FromImageRect(r image.Rectangle) Rect {
	return R(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Size returns the extent as a Size.
func (r Rect) Size() Size { return Size{Width: r.Width(), Height: r.Height()} }

// Center returns the centre point.
func (r Rect) Center() r2.Vec {
	return r2.Vec{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// IsEmpty reports whether the rectangle contains no area.
func (r Rect) IsEmpty() bool {
	return !(r.Max.X > r.Min.X) || !(r.Max.Y > r.Min.Y)
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(p r2.Vec) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// ContainsRect reports whether o lies entirely inside r.
func (r Rect) ContainsRect(o Rect) bool {
	return o.Min.X >= r.Min.X && o.Max.X <= r.Max.X && o.Min.Y >= r.Min.Y && o.Max.Y <= r.Max.Y
}

// Intersects reports whether the two rectangles share any area.
func (r Rect) Intersects(o Rect) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X && r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

// Intersect returns the overlap of r and o. The result is empty if they do
// not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		Min: r2.Vec{X: math.Max(r.Min.X, o.Min.X), Y: math.Max(r.Min.Y, o.Min.Y)},
		Max: r2.Vec{X: math.Min(r.Max.X, o.Max.X), Y: math.Min(r.Max.Y, o.Max.Y)},
	}
	if out.IsEmpty() {
		return Rect{}
	}
	return out
}

// Union returns the smallest rectangle containing both rectangles.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return Rect{
		Min: r2.Vec{X: math.Min(r.Min.X, o.Min.X), Y: math.Min(r.Min.Y, o.Min.Y)},
		Max: r2.Vec{X: math.Max(r.Max.X, o.Max.X), Y: math.Max(r.Max.Y, o.Max.Y)},
	}
}

// Inset shrinks the rectangle by d on every side. Negative d grows it.
func (r Rect) Inset(d float64) Rect {
	return Rect{
		Min: r2.Vec{X: r.Min.X + d, Y: r.Min.Y + d},
		Max: r2.Vec{X: r.Max.X - d, Y: r.Max.Y - d},
	}
}

// Scale multiplies every edge by f.
func (r Rect) Scale(f float64) Rect {
	return Rect{Min: r2.Scale(f, r.Min), Max: r2.Scale(f, r.Max)}
}

// Translate moves the rectangle by d.
func (r Rect) Translate(d r2.Vec) Rect {
	return Rect{Min: r2.Add(r.Min, d), Max: r2.Add(r.Max, d)}
}

// Corners returns the four corners clockwise from the top-left.
func (r Rect) Corners() [4]r2.Vec {
	return [4]r2.Vec{
		r.Min,
		{X: r.Max.X, Y: r.Min.Y},
		r.Max,
		{X: r.Min.X, Y: r.Max.Y},
	}
}

// ImageRect rounds the rectangle outwards to integer pixel edges.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.Min.X)), int(math.Floor(r.Min.Y)),
		int(math.Ceil(r.Max.X)), int(math.Ceil(r.Max.Y)),
	)
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points ...r2.Vec) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{Min: r2.Vec{X: minX, Y: minY}, Max: r2.Vec{X: maxX, Y: maxY}}
}

// RotateAround rotates p by deg degrees (clockwise on a y-down screen) about pivot.
func RotateAround(p r2.Vec, deg float64, pivot r2.Vec) r2.Vec {
	if deg == 0 {
		return p
	}
	return r2.Rotate(p, deg*math.Pi/180, pivot)
}

// Clamp limits v to [lo, hi]. If lo > hi the midpoint is returned.
func Clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Lerp interpolates linearly between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpVec interpolates linearly between two vectors.
func LerpVec(a, b r2.Vec, t float64) r2.Vec {
	return r2.Vec{X: Lerp(a.X, b.X, t), Y: Lerp(a.Y, b.Y, t)}
}
