// Package paint rasterises compositor draw lists into an RGBA frame.
package paint

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/compositor"
)

// Background is the default frame colour.
var Background = color.NRGBA{R: 24, G: 24, B: 24, A: 255}

var layerColors = map[compositor.Layer]color.NRGBA{
	compositor.LayerThumbnail: {R: 160, G: 160, B: 160, A: 255},
	compositor.LayerFallback:  {R: 255, G: 160, B: 0, A: 255},
	compositor.LayerCurrent:   {R: 0, G: 220, B: 120, A: 255},
}

// Canvas is a frame buffer of the container size.
type Canvas struct {
	img        *image.RGBA
	Background color.Color
	// Interpolator resamples tile pixels; nil means bilinear.
	Interpolator draw.Interpolator
	// ShowTileBounds outlines and labels every op with its layer colour.
	ShowTileBounds bool
}

// NewCanvas allocates a w x h canvas.
func NewCanvas(w, h int) *Canvas {
	return &Canvas{
		img:        image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0))),
		Background: Background,
	}
}

// Image returns the frame buffer.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Clear fills the canvas with the background colour.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(c.Background), image.Point{}, draw.Src)
}

// Render clears the canvas and draws ops in order.
func (c *Canvas) Render(ops []compositor.DrawOp) *image.RGBA {
	c.Clear()
	for _, op := range ops {
		c.Draw(op)
	}
	if c.ShowTileBounds {
		for _, op := range ops {
			c.outline(op)
		}
	}
	return c.img
}

// Draw composites one op over the canvas.
func (c *Canvas) Draw(op compositor.DrawOp) {
	if op.Pixels == nil || op.Source.Empty() || op.Dest.IsEmpty() {
		return
	}
	interp := c.Interpolator
	if interp == nil {
		interp = draw.ApproxBiLinear
	}
	interp.Transform(c.img, Affine(op), op.Pixels, op.Source, draw.Over, nil)
}

// Affine returns the source-to-screen matrix of op: scale Source onto
// Dest, then rotate about Pivot.
func Affine(op compositor.DrawOp) f64.Aff3 {
	kx := op.Dest.Width() / float64(op.Source.Dx())
	ky := op.Dest.Height() / float64(op.Source.Dy())
	tx := op.Dest.Min.X - float64(op.Source.Min.X)*kx - op.Pivot.X
	ty := op.Dest.Min.Y - float64(op.Source.Min.Y)*ky - op.Pivot.Y

	sin, cos := math.Sincos(op.Rotation * math.Pi / 180)
	return f64.Aff3{
		cos * kx, -sin * ky, cos*tx - sin*ty + op.Pivot.X,
		sin * kx, cos * ky, sin*tx + cos*ty + op.Pivot.Y,
	}
}

func (c *Canvas) outline(op compositor.DrawOp) {
	col, ok := layerColors[op.Layer]
	if !ok {
		return
	}
	q := op.Quad()
	b := c.img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	for i := range q {
		edge(z, q[i], q[(i+1)%len(q)])
	}
	z.Draw(c.img, b, image.NewUniform(col), image.Point{})

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(q[0].X)+3, int(q[0].Y)+13),
	}
	d.DrawString(op.Key.String())
}

// edge adds a one pixel wide band from p to q, centred on the pixel
// centres and extended by half a pixel at both ends so corners close.
func edge(z *vector.Rasterizer, p, q r2.Vec) {
	d := r2.Sub(q, p)
	n := r2.Norm(d)
	if n == 0 {
		return
	}
	d = r2.Scale(0.5/n, d)
	w := r2.Vec{X: -d.Y, Y: d.X}
	half := r2.Vec{X: 0.5, Y: 0.5}
	p = r2.Sub(r2.Add(p, half), d)
	q = r2.Add(r2.Add(q, half), d)

	pts := [4]r2.Vec{r2.Add(p, w), r2.Add(q, w), r2.Sub(q, w), r2.Sub(p, w)}
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, pt := range pts[1:] {
		z.LineTo(float32(pt.X), float32(pt.Y))
	}
	z.ClosePath()
}
