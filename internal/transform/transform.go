// Package transform converts gestures into a scale/offset/rotation state and
// maps points between content and screen space.
package transform

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Transform places the content in the container.
//
// A content point c maps to the screen point
//
//	Offset + Scale·(pivot + R(Rotation)·(c − pivot))
//
// where pivot is the content centre. Offset is in container pixels and
// Rotation is in degrees, clockwise on screen.
type Transform struct {
	Scale    float64   `json:"scale"`
	Offset   r2.Vec    `json:"offset"`
	Rotation float64   `json:"rotation"`
	Time     time.Time `json:"time"`
}

// Identity returns the transform that maps content pixels to screen pixels 1:1.
func Identity() Transform {
	return Transform{Scale: 1}
}

func (t Transform) String() string {
	return fmt.Sprintf("scale=%.4f offset=(%.1f,%.1f) rotation=%.1f", t.Scale, t.Offset.X, t.Offset.Y, t.Rotation)
}

// ToScreen maps a content point to container coordinates.
func (t Transform) ToScreen(c r2.Vec, content geom.Size) r2.Vec {
	return r2.Add(t.Offset, t.project(c, content))
}

// ToContent maps a container point back to content coordinates.
func (t Transform) ToContent(s r2.Vec, content geom.Size) r2.Vec {
	if t.Scale == 0 {
		return s
	}
	p := r2.Scale(1/t.Scale, r2.Sub(s, t.Offset))
	return geom.RotateAround(p, -t.Rotation, content.Center())
}

// project is ToScreen without the offset.
func (t Transform) project(c r2.Vec, content geom.Size) r2.Vec {
	return r2.Scale(t.Scale, geom.RotateAround(c, t.Rotation, content.Center()))
}

// Bounds returns the screen bounding box of the transformed content.
func (t Transform) Bounds(content geom.Size) geom.Rect {
	corners := geom.FromSize(content).Corners()
	for i, c := range corners {
		corners[i] = t.ToScreen(c, content)
	}
	return geom.BoundingBox(corners[:]...)
}

// VisibleContentRect inverse-maps the container and clips the result to the
// content bounds.
func (t Transform) VisibleContentRect(g Geometry) geom.Rect {
	corners := geom.FromSize(g.ContainerSize).Corners()
	for i, s := range corners {
		corners[i] = t.ToContent(s, g.ContentSize)
	}
	return geom.BoundingBox(corners[:]...).Intersect(geom.FromSize(g.ContentSize))
}

// anchored returns t with its offset chosen so content point c lands on
// screen point s.
func (t Transform) anchored(c, s r2.Vec, content geom.Size) Transform {
	t.Offset = r2.Sub(s, t.project(c, content))
	return t
}

func (t Transform) approxEqual(o Transform) bool {
	const eps = 1e-6
	return math.Abs(t.Scale-o.Scale) <= eps*math.Max(1, t.Scale) &&
		math.Abs(t.Offset.X-o.Offset.X) <= 1e-3 &&
		math.Abs(t.Offset.Y-o.Offset.Y) <= 1e-3 &&
		math.Abs(t.Rotation-o.Rotation) <= eps
}

func geometryError(g Geometry) *tile.GeometryError {
	return &tile.GeometryError{
		ContainerWidth:  g.ContainerSize.Width,
		ContainerHeight: g.ContainerSize.Height,
		ContentWidth:    g.ContentSize.Width,
		ContentHeight:   g.ContentSize.Height,
	}
}
