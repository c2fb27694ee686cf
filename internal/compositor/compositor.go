// Package compositor turns a transform and the available tiles into an
// ordered list of draw operations.
package compositor

import (
	"image"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Layer tells a paint backend what role an op plays.
type Layer uint8

const (
	LayerThumbnail Layer = iota
	LayerFallback
	LayerCurrent
)

func (l Layer) String() string {
	switch l {
	case LayerThumbnail:
		return "thumbnail"
	case LayerFallback:
		return "fallback"
	}
	return "current"
}

// DrawOp maps the Source rectangle of Pixels onto Dest. Dest is the
// unrotated screen rectangle; the backend rotates it by Rotation degrees
// about Pivot.
type DrawOp struct {
	Key      tile.Key        `json:"key"`
	Layer    Layer           `json:"layer"`
	Source   image.Rectangle `json:"source"`
	Dest     geom.Rect       `json:"dest"`
	Rotation float64         `json:"rotation"`
	Pivot    r2.Vec          `json:"pivot"`
	Pixels   image.Image     `json:"-"`
}

// Quad returns the four screen corners of the op after rotation.
func (op DrawOp) Quad() [4]r2.Vec {
	c := op.Dest.Corners()
	for i := range c {
		c[i] = geom.RotateAround(c[i], op.Rotation, op.Pivot)
	}
	return c
}

// Bounds returns the screen bounding box of the rotated op.
func (op DrawOp) Bounds() geom.Rect {
	q := op.Quad()
	return geom.BoundingBox(q[:]...)
}

// TileSet looks up Ready tiles.
type TileSet interface {
	Tile(k tile.Key) (*tile.Tile, bool)
}

// Compose builds the draw list: the thumbnail over the whole content, then
// Ready fallback tiles from coarse to fine, then Ready tiles of the plan's
// tier. Within a tier ops are ordered by row and column. Ops that miss the
// container are dropped. Compose has no side effects.
func Compose(t transform.Transform, g transform.Geometry, grid tile.Grid, plan *planner.Plan, tiles TileSet) []DrawOp {
	if g.Degenerate() || grid.Width == 0 {
		return nil
	}
	container := geom.FromSize(g.ContainerSize)
	c := &composer{t: t, g: g, grid: grid, container: container}

	var ops []DrawOp
	if th, ok := tiles.Tile(tile.ThumbnailKey); ok && th.Pixels != nil {
		if op, ok := c.op(th, LayerThumbnail, grid.Bounds()); ok {
			ops = append(ops, op)
		}
	}
	if plan == nil {
		return ops
	}

	fallback := slices.Clone(plan.Fallback)
	sortKeys(fallback)
	for _, k := range fallback {
		if k.Tier == 0 || k.Tier >= plan.Tier {
			continue
		}
		ops = c.appendTile(ops, tiles, k, LayerFallback)
	}

	current := slices.Clone(plan.Visible)
	current = append(current, plan.Prefetch...)
	sortKeys(current)
	for _, k := range current {
		if k.Tier == 0 && plan.Tier == 0 {
			continue
		}
		ops = c.appendTile(ops, tiles, k, LayerCurrent)
	}
	return ops
}

type composer struct {
	t         transform.Transform
	g         transform.Geometry
	grid      tile.Grid
	container geom.Rect
}

func (c *composer) appendTile(ops []DrawOp, tiles TileSet, k tile.Key, layer Layer) []DrawOp {
	tl, ok := tiles.Tile(k)
	if !ok || tl.Pixels == nil {
		return ops
	}
	if op, ok := c.op(tl, layer, c.grid.Rect(k)); ok {
		ops = append(ops, op)
	}
	return ops
}

// op maps a tile covering src (source pixels) to the screen.
func (c *composer) op(tl *tile.Tile, layer Layer, src image.Rectangle) (DrawOp, bool) {
	content := c.g.ContentSize
	sx := content.Width / float64(c.grid.Width)
	sy := content.Height / float64(c.grid.Height)
	rect := geom.R(float64(src.Min.X)*sx, float64(src.Min.Y)*sy, float64(src.Max.X)*sx, float64(src.Max.Y)*sy)

	// Unrotated placement: scale about the origin, then offset. Rotation
	// about the screen image of the content centre completes the mapping.
	dest := rect.Scale(c.t.Scale).Translate(c.t.Offset)
	op := DrawOp{
		Key:      tl.Key,
		Layer:    layer,
		Source:   tl.Pixels.Bounds(),
		Dest:     dest,
		Rotation: c.t.Rotation,
		Pivot:    r2.Add(c.t.Offset, r2.Scale(c.t.Scale, content.Center())),
		Pixels:   tl.Pixels,
	}
	if !op.Bounds().Intersects(c.container) {
		return DrawOp{}, false
	}
	return op, true
}

func sortKeys(keys []tile.Key) {
	slices.SortFunc(keys, func(a, b tile.Key) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
}
