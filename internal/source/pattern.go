package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Pattern is a procedural image of any size. Pixels are computed on demand,
// so a 100000x100000 pattern costs nothing until regions are decoded. It has
// a coarse checkerboard, a fine grid and a colour gradient, which makes
// misplaced or wrongly scaled tiles easy to spot.
type Pattern struct {
	Width, Height int
	Cell          int // checker cell size in source pixels
}

// NewPattern returns a Pattern with 512px checker cells.
func NewPattern(width, height int) *Pattern {
	return &Pattern{Width: width, Height: height, Cell: 512}
}

func (p *Pattern) Info(ctx context.Context) (tile.ImageInfo, error) {
	return tile.ImageInfo{Width: p.Width, Height: p.Height, MimeType: "image/x-pattern"}, ctx.Err()
}

// At returns the colour of source pixel (x, y).
func (p *Pattern) At(x, y int) color.NRGBA {
	cell := max(p.Cell, 1)
	r := uint8(x * 255 / max(p.Width, 1))
	g := uint8(y * 255 / max(p.Height, 1))
	b := uint8(96)
	if (x/cell+y/cell)%2 == 0 {
		b = 200
	}
	if x%(cell/8+1) == 0 || y%(cell/8+1) == 0 {
		r, g, b = r/2, g/2, b/2
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// DecodeRegion point-samples the pattern at the top-left of every
// sampleSize block.
func (p *Pattern) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error) {
	rect = rect.Intersect(image.Rect(0, 0, p.Width, p.Height))
	if rect.Empty() {
		return nil, fmt.Errorf("region outside %dx%d pattern", p.Width, p.Height)
	}
	sampleSize = max(sampleSize, 1)
	w, h := SampledSize(rect, sampleSize)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sy := rect.Min.Y + y*sampleSize
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, p.At(rect.Min.X+x*sampleSize, sy))
		}
	}
	return img, nil
}

// Delayed wraps a source and sleeps before every region decode, simulating
// a slow codec or disk. Cancellation interrupts the sleep.
type Delayed struct {
	tile.ImageSource
	Latency time.Duration
}

func (d *Delayed) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error) {
	t := time.NewTimer(d.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return d.ImageSource.DecodeRegion(ctx, rect, sampleSize)
}
