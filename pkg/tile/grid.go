package tile

import (
	"fmt"
	"image"
	"math"
)

// DefaultTileSize is the edge length of a decoded tile in pixels.
const DefaultTileSize = 256

// Grid describes the tile pyramid of one source image.
//
// Tier 0 holds the whole image in a single tile. Every further tier doubles
// the sampled resolution, up to MaxTier where one tile pixel is one source
// pixel. At every tier the tile rectangles cover the image exactly once;
// tiles on the right and bottom edges are clipped to the image bounds.
type Grid struct {
	Width    int
	Height   int
	TileSize int
	MaxTier  int
}

// NewGrid creates the pyramid for a width x height source.
func NewGrid(width, height, tileSize int) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("invalid source size %dx%d", width, height)
	}
	if tileSize <= 0 {
		return Grid{}, fmt.Errorf("invalid tile size %d", tileSize)
	}
	maxDim := max(width, height)
	tiers := 0
	for tileSize<<tiers < maxDim {
		tiers++
	}
	return Grid{Width: width, Height: height, TileSize: tileSize, MaxTier: tiers}, nil
}

// Bounds returns the full source rectangle.
func (g Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// SampleSize returns the subsampling factor of a tier (a power of two).
func (g Grid) SampleSize(tier int) int {
	tier = g.ClampTier(tier)
	return 1 << (g.MaxTier - tier)
}

// Span returns the number of source pixels one tile covers along an axis.
func (g Grid) Span(tier int) int {
	return g.TileSize * g.SampleSize(tier)
}

// ClampTier limits tier to [0, MaxTier].
func (g Grid) ClampTier(tier int) int {
	if tier < 0 {
		return 0
	}
	if tier > g.MaxTier {
		return g.MaxTier
	}
	return tier
}

// Dims returns the number of rows and columns at a tier.
func (g Grid) Dims(tier int) (rows, cols int) {
	span := g.Span(tier)
	rows = (g.Height + span - 1) / span
	cols = (g.Width + span - 1) / span
	return rows, cols
}

// Valid reports whether k addresses an existing tile.
func (g Grid) Valid(k Key) bool {
	if k.Tier < 0 || k.Tier > g.MaxTier {
		return false
	}
	rows, cols := g.Dims(k.Tier)
	return k.Row >= 0 && k.Row < rows && k.Col >= 0 && k.Col < cols
}

// Rect returns the source-pixel rectangle of a tile.
func (g Grid) Rect(k Key) image.Rectangle {
	span := g.Span(k.Tier)
	r := image.Rect(k.Col*span, k.Row*span, (k.Col+1)*span, (k.Row+1)*span)
	return r.Intersect(g.Bounds())
}

// Range returns the inclusive row and column range of tiles at tier that
// intersect r, grown by margin tiles on each side and clamped to the grid.
// ok is false when r does not touch the image.
func (g Grid) Range(tier int, r image.Rectangle, margin int) (row0, col0, row1, col1 int, ok bool) {
	r = r.Intersect(g.Bounds())
	if r.Empty() {
		return 0, 0, 0, 0, false
	}
	span := g.Span(tier)
	rows, cols := g.Dims(tier)
	col0 = max(r.Min.X/span-margin, 0)
	row0 = max(r.Min.Y/span-margin, 0)
	col1 = min((r.Max.X-1)/span+margin, cols-1)
	row1 = min((r.Max.Y-1)/span+margin, rows-1)
	return row0, col0, row1, col1, true
}

// KeysIn lists the tiles at tier intersecting r, row-major.
func (g Grid) KeysIn(tier int, r image.Rectangle) []Key {
	row0, col0, row1, col1, ok := g.Range(g.ClampTier(tier), r, 0)
	if !ok {
		return nil
	}
	keys := make([]Key, 0, (row1-row0+1)*(col1-col0+1))
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			keys = append(keys, Key{Tier: g.ClampTier(tier), Row: row, Col: col})
		}
	}
	return keys
}

// TierForDensity picks the tier whose sample density best matches d, the
// number of screen pixels per source pixel: tier = round(log2(d·2^MaxTier)).
func (g Grid) TierForDensity(d float64) int {
	if !(d > 0) || math.IsInf(d, 0) {
		return 0
	}
	return g.ClampTier(int(math.Round(math.Log2(d * float64(int(1)<<g.MaxTier)))))
}
