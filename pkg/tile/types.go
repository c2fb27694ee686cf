package tile

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Key identifies a rectangular region of the source image at one tier.
type Key struct {
	Tier int `json:"tier"`
	Row  int `json:"row"`
	Col  int `json:"col"`
}

// ThumbnailKey is the single tile of tier 0.
var ThumbnailKey = Key{}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Tier, k.Row, k.Col)
}

// Less orders keys by tier, then row, then column.
func (k Key) Less(o Key) bool {
	if k.Tier != o.Tier {
		return k.Tier < o.Tier
	}
	if k.Row != o.Row {
		return k.Row < o.Row
	}
	return k.Col < o.Col
}

// ImageInfo holds the metadata of a source image.
type ImageInfo struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mime_type,omitempty"`
}

// Size returns the dimensions as an image.Point.
func (i ImageInfo) Size() image.Point {
	return image.Pt(i.Width, i.Height)
}

// ImageSource is the decode capability consumed by the loader. Implementations
// must be safe for concurrent use: DecodeRegion is called from several
// workers at once.
type ImageSource interface {
	// Info returns the full pixel dimensions of the source image.
	Info(ctx context.Context) (ImageInfo, error)

	// DecodeRegion decodes rect (in source pixels) subsampled by sampleSize,
	// which is always a power of two. The result should be roughly
	// rect.Dx()/sampleSize by rect.Dy()/sampleSize pixels.
	DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error)
}

// Tile is the cache entry for one Key.
type Tile struct {
	Key      Key
	State    State
	Pixels   image.Image // owned by the cache while Ready
	Bytes    int64
	LastUsed time.Time

	// Failure bookkeeping.
	Attempts int
	RetryAt  time.Time
	Err      error
}

// NewTile creates a Pending tile.
func NewTile(key Key, now time.Time) *Tile {
	return &Tile{Key: key, State: Pending, LastUsed: now}
}

// PixelBytes returns the memory charged for an image, assuming 4 bytes per pixel.
func PixelBytes(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
