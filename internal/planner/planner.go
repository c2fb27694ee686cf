// Package planner decides which tiles the current viewport needs.
package planner

import (
	"image"
	"math"
	"slices"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// DefaultPrefetchMargin is the number of tile rings loaded around the
// visible tiles.
const DefaultPrefetchMargin = 1

// Plan is the set of tiles one viewport needs.
type Plan struct {
	Tier       int   `json:"tier"`
	SampleSize int   `json:"sample_size"`
	Generation int64 `json:"generation"`

	// VisibleRect is the visible region in source pixels.
	VisibleRect image.Rectangle `json:"visible_rect"`

	// Visible tiles of Tier, nearest the viewport centre first.
	Visible []tile.Key `json:"visible"`
	// Prefetch tiles of Tier in the margin ring, nearest first.
	Prefetch []tile.Key `json:"prefetch"`
	// Fallback tiles of tiers 1..Tier-1 covering VisibleRect, coarse first.
	Fallback []tile.Key `json:"fallback"`

	visible map[tile.Key]struct{}
	all     map[tile.Key]struct{}
}

// Fixed builds a plan from explicit key lists.
func Fixed(tier int, generation int64, visible, prefetch, fallback []tile.Key) *Plan {
	p := &Plan{
		Tier:       tier,
		Generation: generation,
		Visible:    visible,
		Prefetch:   prefetch,
		Fallback:   fallback,
	}
	p.index()
	return p
}

// IsVisible reports whether k is one of the visible tiles.
func (p *Plan) IsVisible(k tile.Key) bool {
	_, ok := p.visible[k]
	return ok
}

// Contains reports whether k is part of the plan, including the thumbnail.
func (p *Plan) Contains(k tile.Key) bool {
	if k == tile.ThumbnailKey {
		return true
	}
	_, ok := p.all[k]
	return ok
}

// Keys returns visible, prefetch and fallback keys in load priority order.
func (p *Plan) Keys() []tile.Key {
	keys := make([]tile.Key, 0, len(p.Visible)+len(p.Prefetch)+len(p.Fallback))
	keys = append(keys, p.Visible...)
	keys = append(keys, p.Fallback...)
	keys = append(keys, p.Prefetch...)
	return keys
}

func (p *Plan) index() {
	p.visible = make(map[tile.Key]struct{}, len(p.Visible))
	p.all = make(map[tile.Key]struct{}, len(p.Visible)+len(p.Prefetch)+len(p.Fallback))
	for _, k := range p.Visible {
		p.visible[k] = struct{}{}
		p.all[k] = struct{}{}
	}
	for _, k := range p.Prefetch {
		p.all[k] = struct{}{}
	}
	for _, k := range p.Fallback {
		p.all[k] = struct{}{}
	}
}

// sameTiles reports whether two plans request the same tiles.
func (p *Plan) sameTiles(o *Plan) bool {
	return o != nil && p.Tier == o.Tier &&
		slices.Equal(p.Visible, o.Visible) &&
		slices.Equal(p.Prefetch, o.Prefetch) &&
		slices.Equal(p.Fallback, o.Fallback)
}

// Planner maps transforms to plans for one source image. The generation
// counter advances only when the requested tile set changes.
type Planner struct {
	grid   tile.Grid
	margin int
	gen    int64
	last   *Plan
}

// New creates a planner over grid. A negative margin disables prefetch.
func New(grid tile.Grid, margin int) *Planner {
	return &Planner{grid: grid, margin: max(margin, 0)}
}

// Grid returns the tile pyramid.
func (p *Planner) Grid() tile.Grid { return p.grid }

// Last returns the most recent plan, or nil.
func (p *Planner) Last() *Plan { return p.last }

// SourceRect converts a content-space rectangle to source pixels.
func SourceRect(r geom.Rect, content geom.Size, grid tile.Grid) image.Rectangle {
	if content.IsEmpty() || r.IsEmpty() {
		return image.Rectangle{}
	}
	sx := float64(grid.Width) / content.Width
	sy := float64(grid.Height) / content.Height
	src := geom.R(r.Min.X*sx, r.Min.Y*sy, r.Max.X*sx, r.Max.Y*sy)
	return src.ImageRect().Intersect(grid.Bounds())
}

// Density returns screen pixels per source pixel at transform t.
func Density(t transform.Transform, content geom.Size, grid tile.Grid) float64 {
	if content.IsEmpty() || grid.Width == 0 {
		return 0
	}
	return t.Scale * content.Width / float64(grid.Width)
}

// Plan computes the tiles needed to draw t.
func (p *Planner) Plan(t transform.Transform, g transform.Geometry) *Plan {
	plan := &Plan{}
	if g.Degenerate() {
		plan.VisibleRect = p.grid.Bounds()
	} else {
		plan.Tier = p.grid.TierForDensity(Density(t, g.ContentSize, p.grid))
		plan.VisibleRect = SourceRect(t.VisibleContentRect(g), g.ContentSize, p.grid)
	}
	plan.SampleSize = p.grid.SampleSize(plan.Tier)

	if !plan.VisibleRect.Empty() {
		center := plan.VisibleRect.Min.Add(plan.VisibleRect.Max).Div(2)
		plan.Visible = p.grid.KeysIn(plan.Tier, plan.VisibleRect)
		p.byDistance(plan.Visible, center)

		if p.margin > 0 {
			row0, col0, row1, col1, _ := p.grid.Range(plan.Tier, plan.VisibleRect, p.margin)
			inner := make(map[tile.Key]struct{}, len(plan.Visible))
			for _, k := range plan.Visible {
				inner[k] = struct{}{}
			}
			for row := row0; row <= row1; row++ {
				for col := col0; col <= col1; col++ {
					k := tile.Key{Tier: plan.Tier, Row: row, Col: col}
					if _, ok := inner[k]; !ok {
						plan.Prefetch = append(plan.Prefetch, k)
					}
				}
			}
			p.byDistance(plan.Prefetch, center)
		}

		for tier := 1; tier < plan.Tier; tier++ {
			plan.Fallback = append(plan.Fallback, p.grid.KeysIn(tier, plan.VisibleRect)...)
		}
	}
	plan.index()

	if plan.sameTiles(p.last) {
		plan.Generation = p.gen
	} else {
		p.gen++
		plan.Generation = p.gen
		logging.Logger().Debug("planner: new plan",
			"generation", plan.Generation,
			"tier", plan.Tier,
			"visible", len(plan.Visible),
			"prefetch", len(plan.Prefetch),
			"fallback", len(plan.Fallback))
	}
	p.last = plan
	return plan
}

// byDistance sorts keys by the distance of their tile centre from c, with
// key order breaking ties.
func (p *Planner) byDistance(keys []tile.Key, c image.Point) {
	dist := func(k tile.Key) float64 {
		r := p.grid.Rect(k)
		m := r.Min.Add(r.Max).Div(2)
		return math.Hypot(float64(m.X-c.X), float64(m.Y-c.Y))
	}
	slices.SortFunc(keys, func(a, b tile.Key) int {
		da, db := dist(a), dist(b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}
