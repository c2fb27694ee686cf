package compositor

import (
	"image"
	"math"
	"reflect"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

type tileMap map[tile.Key]*tile.Tile

func (m tileMap) Tile(k tile.Key) (*tile.Tile, bool) {
	t, ok := m[k]
	return t, ok
}

func (m tileMap) add(grid tile.Grid, keys ...tile.Key) {
	for _, k := range keys {
		r := grid.Rect(k)
		s := grid.SampleSize(k.Tier)
		img := image.NewRGBA(image.Rect(0, 0, (r.Dx()+s-1)/s, (r.Dy()+s-1)/s))
		m[k] = &tile.Tile{Key: k, State: tile.Ready, Pixels: img, Bytes: tile.PixelBytes(img)}
	}
}

type fixture struct {
	grid   tile.Grid
	engine *transform.Engine
	plans  *planner.Planner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	grid, err := tile.NewGrid(4000, 3000, 256)
	if err != nil {
		t.Fatal(err)
	}
	e, err := transform.NewEngine(transform.Geometry{
		ContentSize:   geom.Sz(4000, 3000),
		ContainerSize: geom.Sz(800, 600),
		Alignment:     transform.Center,
	}, transform.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{grid: grid, engine: e, plans: planner.New(grid, 1)}
}

func (f *fixture) compose(tiles TileSet) ([]DrawOp, *planner.Plan) {
	plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())
	return Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles), plan
}

// covered reports whether screen point p lies inside any op.
func covered(ops []DrawOp, p r2.Vec) bool {
	const eps = 1e-6
	for _, op := range ops {
		q := geom.RotateAround(p, -op.Rotation, op.Pivot)
		d := op.Dest
		if q.X >= d.Min.X-eps && q.X <= d.Max.X+eps && q.Y >= d.Min.Y-eps && q.Y <= d.Max.Y+eps {
			return true
		}
	}
	return false
}

func TestComposeOrder(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyGestureDelta(r2.Vec{}, 10, 0, r2.Vec{X: 400, Y: 300}, time.Time{})
	plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())

	tiles := tileMap{}
	tiles.add(f.grid, tile.ThumbnailKey)
	tiles.add(f.grid, plan.Fallback...)
	tiles.add(f.grid, plan.Visible...)

	ops := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)
	if len(ops) == 0 {
		t.Fatal("no ops")
	}
	if ops[0].Layer != LayerThumbnail || ops[0].Key != tile.ThumbnailKey {
		t.Fatalf("first op = %+v, want the thumbnail", ops[0])
	}
	for i := 1; i < len(ops); i++ {
		a, b := ops[i-1], ops[i]
		if a.Layer > b.Layer {
			t.Fatalf("op %d: layer %s after %s", i, b.Layer, a.Layer)
		}
		if a.Layer == b.Layer && !a.Key.Less(b.Key) {
			t.Fatalf("op %d: key %v not after %v", i, b.Key, a.Key)
		}
	}
	var current int
	for _, op := range ops {
		if op.Layer == LayerCurrent {
			current++
		}
	}
	if current != len(plan.Visible) {
		t.Errorf("current-tier ops = %d, want %d", current, len(plan.Visible))
	}
}

func TestComposeThumbnailCoversContent(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyGestureDelta(r2.Vec{X: 30, Y: -20}, 1.3, 25, r2.Vec{X: 200, Y: 100}, time.Time{})
	tiles := tileMap{}
	tiles.add(f.grid, tile.ThumbnailKey)
	ops, _ := f.compose(tiles)

	tr, g := f.engine.Transform(), f.engine.Geometry()
	content := geom.FromSize(g.ContentSize)
	for y := 0; y < 600; y += 3 {
		for x := 0; x < 800; x += 3 {
			p := r2.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			if !content.Contains(tr.ToContent(p, g.ContentSize)) {
				continue
			}
			if !covered(ops, p) {
				t.Fatalf("content pixel (%d,%d) not covered", x, y)
			}
		}
	}
}

func TestComposeCurrentTierCoversViewport(t *testing.T) {
	for _, rot := range []float64{0, 30, 90} {
		f := newFixture(t)
		f.engine.ApplyGestureDelta(r2.Vec{}, 10, rot, r2.Vec{X: 400, Y: 300}, time.Time{})
		plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())
		tiles := tileMap{}
		tiles.add(f.grid, plan.Visible...)
		ops := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)

		for y := 0; y < 600; y += 2 {
			for x := 0; x < 800; x += 2 {
				if !covered(ops, r2.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5}) {
					t.Fatalf("rotation %v: pixel (%d,%d) not covered by %d ops", rot, x, y, len(ops))
				}
			}
		}
	}
}

func TestComposeFallbackFillsMissingTiles(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyGestureDelta(r2.Vec{}, 10, 0, r2.Vec{X: 400, Y: 300}, time.Time{})
	plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())

	tiles := tileMap{}
	tiles.add(f.grid, tile.ThumbnailKey)
	tiles.add(f.grid, plan.Visible[:2]...)
	ops := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)

	for y := 0; y < 600; y += 4 {
		for x := 0; x < 800; x += 4 {
			if !covered(ops, r2.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5}) {
				t.Fatalf("pixel (%d,%d) blank with partial tiles", x, y)
			}
		}
	}
}

func TestComposeCullsOffscreen(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyGestureDelta(r2.Vec{}, 10, 0, r2.Vec{X: 400, Y: 300}, time.Time{})
	plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())

	tiles := tileMap{}
	rows, cols := f.grid.Dims(plan.Tier)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			tiles.add(f.grid, tile.Key{Tier: plan.Tier, Row: r, Col: c})
		}
	}
	ops := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)
	container := geom.FromSize(f.engine.Geometry().ContainerSize)
	for _, op := range ops {
		if !op.Bounds().Intersects(container) {
			t.Errorf("op %v lies outside the container", op.Key)
		}
	}
	if len(ops) != len(plan.Visible) {
		t.Errorf("got %d ops, want only the %d visible tiles", len(ops), len(plan.Visible))
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyGestureDelta(r2.Vec{X: 10}, 3, 12, r2.Vec{X: 100, Y: 500}, time.Time{})
	plan := f.plans.Plan(f.engine.Transform(), f.engine.Geometry())
	tiles := tileMap{}
	tiles.add(f.grid, tile.ThumbnailKey)
	tiles.add(f.grid, plan.Fallback...)
	tiles.add(f.grid, plan.Visible...)

	a := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)
	b := Compose(f.engine.Transform(), f.engine.Geometry(), f.grid, plan, tiles)
	if !reflect.DeepEqual(a, b) {
		t.Error("Compose is not deterministic")
	}
}

func TestComposeSourceMatchesPixels(t *testing.T) {
	f := newFixture(t)
	tiles := tileMap{}
	tiles.add(f.grid, tile.ThumbnailKey)
	ops, _ := f.compose(tiles)
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want only the thumbnail", len(ops))
	}
	op := ops[0]
	if op.Source != op.Pixels.Bounds() {
		t.Errorf("source %v differs from pixel bounds %v", op.Source, op.Pixels.Bounds())
	}
	want := geom.R(0, 0, 800, 600)
	d := op.Dest
	if math.Abs(d.Min.X-want.Min.X)+math.Abs(d.Min.Y-want.Min.Y)+math.Abs(d.Max.X-want.Max.X)+math.Abs(d.Max.Y-want.Max.Y) > 1e-9 {
		t.Errorf("thumbnail dest = %+v, want %+v", op.Dest, want)
	}
}
