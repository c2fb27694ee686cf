// Package source provides ImageSource implementations: decoded images held
// in memory, files, HTTP downloads and a procedural test pattern.
package source

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Memory serves regions of an already decoded image.
type Memory struct {
	img  image.Image
	mime string
}

// NewMemory wraps img. mime is informational.
func NewMemory(img image.Image, mime string) *Memory {
	return &Memory{img: img, mime: mime}
}

// Image returns the wrapped image.
func (m *Memory) Image() image.Image { return m.img }

// Info returns the image dimensions.
func (m *Memory) Info(ctx context.Context) (tile.ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return tile.ImageInfo{}, err
	}
	b := m.img.Bounds()
	return tile.ImageInfo{Width: b.Dx(), Height: b.Dy(), MimeType: m.mime}, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// DecodeRegion box-filters rect down by sampleSize. Subsampled regions are
// read in place; only an unscaled region is copied.
func (m *Memory) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := m.img.Bounds()
	rect = rect.Add(b.Min).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("region %v outside image %v", rect, b)
	}
	var out image.Image
	sub, ok := m.img.(subImager)
	switch {
	case sampleSize <= 1:
		out = imaging.Crop(m.img, rect)
	case ok:
		w, h := SampledSize(rect, sampleSize)
		out = imaging.Resize(sub.SubImage(rect), w, h, imaging.Box)
	default:
		w, h := SampledSize(rect, sampleSize)
		out = imaging.Resize(imaging.Crop(m.img, rect), w, h, imaging.Box)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SampledSize returns the pixel size of rect subsampled by sampleSize,
// rounding up so edge tiles keep their last partial pixel.
func SampledSize(rect image.Rectangle, sampleSize int) (w, h int) {
	if sampleSize < 1 {
		sampleSize = 1
	}
	w = max((rect.Dx()+sampleSize-1)/sampleSize, 1)
	h = max((rect.Dy()+sampleSize-1)/sampleSize, 1)
	return w, h
}
