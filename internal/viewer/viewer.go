// Package viewer ties the transform engine, tile planner, tile loader and
// compositor together. A Viewer is not safe for concurrent use; Session runs
// one on its own goroutine.
package viewer

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/kiesman99/zoomtile/internal/compositor"
	"github.com/kiesman99/zoomtile/internal/config"
	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/paint"
	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/internal/tilecache"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Frame is everything needed to draw one frame.
type Frame struct {
	Transform   transform.Transform `json:"transform"`
	Geometry    transform.Geometry  `json:"geometry"`
	Source      tile.ImageInfo      `json:"source"`
	Plan        *planner.Plan       `json:"plan"`
	Ops         []compositor.DrawOp `json:"ops"`
	Pending     int                 `json:"pending"`
	Unavailable int                 `json:"unavailable"`
	OverBudget  int                 `json:"over_budget"`
	Animating   bool                `json:"animating"`
}

// Info returns a one-line summary of the frame for debugging.
func (f Frame) Info() string {
	tier := 0
	if f.Plan != nil {
		tier = f.Plan.Tier
	}
	return fmt.Sprintf("scale %.4f offset (%.1f, %.1f) rotation %.1fdeg content %gx%g source %dx%d container %gx%g tier %d ops %d pending %d",
		f.Transform.Scale, f.Transform.Offset.X, f.Transform.Offset.Y, f.Transform.Rotation,
		f.Geometry.ContentSize.Width, f.Geometry.ContentSize.Height,
		f.Source.Width, f.Source.Height,
		f.Geometry.ContainerSize.Width, f.Geometry.ContainerSize.Height,
		tier, len(f.Ops), f.Pending)
}

// Viewer is the single-owner coordinator for one image.
type Viewer struct {
	opts    config.Options
	info    tile.ImageInfo
	grid    tile.Grid
	engine  *transform.Engine
	planner *planner.Planner
	loader  *tilecache.Loader
	canvas  *paint.Canvas
}

// New reads the source metadata, decodes and pins the thumbnail, and starts
// the tile workers. The content size equals the source size. A degenerate
// container is not an error; the viewer shows the identity transform until
// Resize gives it a usable size.
func New(ctx context.Context, src tile.ImageSource, opts config.Options, container geom.Size) (*Viewer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	info, err := src.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("read image info: %w", err)
	}
	grid, err := tile.NewGrid(info.Width, info.Height, opts.TileSize)
	if err != nil {
		return nil, err
	}
	thumb, err := src.DecodeRegion(ctx, grid.Bounds(), grid.SampleSize(0))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}

	policy, align := opts.Layout()
	g := transform.Geometry{
		ContentSize:   geom.Sz(float64(info.Width), float64(info.Height)),
		ContainerSize: container,
		Alignment:     align,
		ContentScale:  policy,
	}
	engine, _ := transform.NewEngine(g, opts.Engine())

	v := &Viewer{
		opts:    opts,
		info:    info,
		grid:    grid,
		engine:  engine,
		planner: planner.New(grid, opts.PrefetchMargin),
		loader:  tilecache.NewLoader(ctx, src, grid, opts.Loader()),
	}
	v.loader.SetThumbnail(thumb, time.Now())
	logging.Logger().Info("viewer: image ready",
		"width", info.Width, "height", info.Height,
		"tiers", grid.MaxTier+1, "tile_size", grid.TileSize)
	return v, nil
}

// Info returns the source metadata.
func (v *Viewer) Info() tile.ImageInfo { return v.info }

// Grid returns the tile pyramid.
func (v *Viewer) Grid() tile.Grid { return v.grid }

// Options returns the viewer settings.
func (v *Viewer) Options() config.Options { return v.opts }

// Transform returns the current transform without advancing animations.
func (v *Viewer) Transform() transform.Transform { return v.engine.Transform() }

// Geometry returns the current content and container sizes.
func (v *Viewer) Geometry() transform.Geometry { return v.engine.Geometry() }

// Err reports a degenerate geometry, if any.
func (v *Viewer) Err() error { return v.engine.Err() }

// HandleEvent feeds one gesture to the engine.
func (v *Viewer) HandleEvent(ev transform.Event) transform.Transform {
	return v.engine.Handle(ev)
}

// AnimateTo starts an eased animation towards target.
func (v *Viewer) AnimateTo(target transform.Transform, now time.Time) transform.Transform {
	return v.engine.AnimateTo(target, v.opts.AnimationDuration, now)
}

// JumpTo moves to target immediately, clamped into range.
func (v *Viewer) JumpTo(target transform.Transform, now time.Time) transform.Transform {
	return v.engine.AnimateTo(target, 0, now)
}

// Resize changes the container size.
func (v *Viewer) Resize(container geom.Size, now time.Time) error {
	_, err := v.engine.Resize(container, now)
	return err
}

// Frame advances animations to now, requests the tiles the new viewport
// needs and composes what is available.
func (v *Viewer) Frame(now time.Time) Frame {
	t, animating := v.engine.Update(now)
	g := v.engine.Geometry()
	plan := v.planner.Plan(t, g)
	res := v.loader.Request(plan, now)
	return Frame{
		Transform:   t,
		Geometry:    g,
		Source:      v.info,
		Plan:        plan,
		Ops:         compositor.Compose(t, g, v.grid, plan, v.loader),
		Pending:     res.Pending,
		Unavailable: res.Unavailable,
		OverBudget:  res.OverBudget,
		Animating:   animating,
	}
}

// Paint rasterises f at the container size.
func (v *Viewer) Paint(f Frame) *image.RGBA {
	w := int(f.Geometry.ContainerSize.Width + 0.5)
	h := int(f.Geometry.ContainerSize.Height + 0.5)
	if v.canvas == nil || v.canvas.Image().Bounds().Dx() != w || v.canvas.Image().Bounds().Dy() != h {
		v.canvas = paint.NewCanvas(w, h)
		v.canvas.ShowTileBounds = v.opts.ShowTileBounds
	}
	return v.canvas.Render(f.Ops)
}

// Completions delivers worker results; pass each to ApplyCompletion.
func (v *Viewer) Completions() <-chan tilecache.Completion { return v.loader.Completions() }

// ApplyCompletion folds a worker result into the cache and reports whether
// a new frame should be drawn.
func (v *Viewer) ApplyCompletion(c tilecache.Completion, now time.Time) bool {
	return v.loader.Apply(c, now)
}

// Drain applies every completion already delivered.
func (v *Viewer) Drain(now time.Time) bool { return v.loader.Drain(now) }

// Stats returns the loader counters.
func (v *Viewer) Stats() tilecache.Stats { return v.loader.Stats() }

// Tiles lists the tiles the cache currently tracks, with their state.
func (v *Viewer) Tiles() []TileInfo {
	cache := v.loader.Cache()
	plan := v.loader.Plan()
	var out []TileInfo
	add := func(t *tile.Tile) {
		ti := TileInfo{
			Key:     t.Key,
			State:   t.State.String(),
			Segment: cache.Segment(t.Key).String(),
			Bytes:   t.Bytes,
		}
		if plan != nil {
			ti.Visible = plan.IsVisible(t.Key)
			ti.Planned = plan.Contains(t.Key)
		}
		if t.Err != nil {
			ti.Error = t.Err.Error()
		}
		out = append(out, ti)
	}
	for _, k := range cache.Keys() {
		if t, ok := cache.Entry(k); ok {
			add(t)
		}
	}
	waiting := make([]tile.Key, 0, len(cache.Waiting()))
	for k := range cache.Waiting() {
		waiting = append(waiting, k)
	}
	slices.SortFunc(waiting, func(a, b tile.Key) int {
		if a.Less(b) {
			return -1
		}
		return 1
	})
	for _, k := range waiting {
		add(cache.Waiting()[k])
	}
	return out
}

// TileInfo describes one tracked tile.
type TileInfo struct {
	Key     tile.Key `json:"key"`
	State   string   `json:"state"`
	Segment string   `json:"segment"`
	Bytes   int64    `json:"bytes"`
	Visible bool     `json:"visible"`
	Planned bool     `json:"planned"`
	Error   string   `json:"error,omitempty"`
}

// Close stops the tile workers.
func (v *Viewer) Close() error { return v.loader.Close() }
