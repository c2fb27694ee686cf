package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/kiesman99/zoomtile/pkg/geom"
)

// ContentScale selects the base scale that maps content into the container.
type ContentScale uint8

const (
	Fit  ContentScale = iota // whole content visible (min ratio)
	Fill                     // content fills the container width
	None                     // one content pixel per container pixel
	Crop                     // content covers the container (max ratio)
)

var contentScaleNames = map[string]ContentScale{
	"fit":  Fit,
	"fill": Fill,
	"none": None,
	"crop": Crop,
}

func (c ContentScale) String() string {
	for name, v := range contentScaleNames {
		if v == c {
			return name
		}
	}
	return fmt.Sprintf("ContentScale(%d)", uint8(c))
}

// ParseContentScale parses fit, fill, none or crop.
func ParseContentScale(s string) (ContentScale, error) {
	if v, ok := contentScaleNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return Fit, fmt.Errorf("unknown content scale %q (want fit|fill|none|crop)", s)
}

// Alignment positions content that is smaller than the container. X and Y
// are fractions: 0 = start, 0.5 = centre, 1 = end.
type Alignment struct {
	X, Y float64
}

var (
	TopStart     = Alignment{0, 0}
	TopCenter    = Alignment{0.5, 0}
	TopEnd       = Alignment{1, 0}
	CenterStart  = Alignment{0, 0.5}
	Center       = Alignment{0.5, 0.5}
	CenterEnd    = Alignment{1, 0.5}
	BottomStart  = Alignment{0, 1}
	BottomCenter = Alignment{0.5, 1}
	BottomEnd    = Alignment{1, 1}
)

var alignmentNames = map[string]Alignment{
	"top-start":     TopStart,
	"top-center":    TopCenter,
	"top-end":       TopEnd,
	"center-start":  CenterStart,
	"center":        Center,
	"center-end":    CenterEnd,
	"bottom-start":  BottomStart,
	"bottom-center": BottomCenter,
	"bottom-end":    BottomEnd,
}

// ParseAlignment parses names like "center" or "top-start".
func ParseAlignment(s string) (Alignment, error) {
	if v, ok := alignmentNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return Center, fmt.Errorf("unknown alignment %q", s)
}

// Geometry is the per-image layout input of the engine.
type Geometry struct {
	ContentSize   geom.Size
	ContainerSize geom.Size
	Alignment     Alignment
	ContentScale  ContentScale

	// NativeScale is the scale at which one screen pixel shows one source
	// pixel (source width / content width). Zero means 1.
	NativeScale float64
}

// Degenerate reports whether either size is empty.
func (g Geometry) Degenerate() bool {
	return g.ContentSize.IsEmpty() || g.ContainerSize.IsEmpty()
}

// Err returns a *tile.GeometryError when the geometry is degenerate.
func (g Geometry) Err() error {
	if !g.Degenerate() {
		return nil
	}
	return geometryError(g)
}

func (g Geometry) native() float64 {
	if g.NativeScale > 0 {
		return g.NativeScale
	}
	return 1
}

// BaseScale returns the scale chosen by the content-scale policy.
func (g Geometry) BaseScale() float64 {
	if g.Degenerate() {
		return 1
	}
	wr := g.ContainerSize.Width / g.ContentSize.Width
	hr := g.ContainerSize.Height / g.ContentSize.Height
	switch g.ContentScale {
	case Fill:
		return wr
	case None:
		return 1
	case Crop:
		return math.Max(wr, hr)
	default:
		return math.Min(wr, hr)
	}
}

// CoverScale is the smallest scale at which the content covers the container.
func (g Geometry) CoverScale() float64 {
	if g.Degenerate() {
		return 1
	}
	return math.Max(g.ContainerSize.Width/g.ContentSize.Width, g.ContainerSize.Height/g.ContentSize.Height)
}
