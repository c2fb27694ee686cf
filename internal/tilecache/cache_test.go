package tilecache

import (
	"errors"
	"image"
	"slices"
	"testing"
	"time"

	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// readyTile returns a Ready 64x64 tile (16 KiB).
func readyTile(k tile.Key) *tile.Tile {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	t := tile.NewTile(k, epoch)
	t.State, t.Pixels, t.Bytes = tile.Ready, img, tile.PixelBytes(img)
	return t
}

const tileBytes = 64 * 64 * 4

func row(tier, n int) []tile.Key {
	keys := make([]tile.Key, n)
	for i := range keys {
		keys[i] = tile.Key{Tier: tier, Row: 0, Col: i}
	}
	return keys
}

func TestCacheBudgetKeepsFourOfSixVisible(t *testing.T) {
	c := NewCache(4 * tileBytes)
	c.Pin(readyTile(tile.ThumbnailKey))

	// Four stale tiles from an earlier viewport.
	old := planner.Fixed(3, 1, row(3, 4), nil, nil)
	for i, k := range row(3, 4) {
		if err := c.Insert(readyTile(k), old, epoch.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	visible := row(4, 6)
	plan := planner.Fixed(4, 2, visible, nil, []tile.Key{{Tier: 3, Row: 0, Col: 0}})
	var rejected []tile.Key
	for i, k := range visible {
		err := c.Insert(readyTile(k), plan, epoch.Add(time.Second+time.Duration(i)*time.Millisecond))
		var be *tile.BudgetExceededError
		if errors.As(err, &be) {
			rejected = append(rejected, k)
			continue
		}
		if err != nil {
			t.Fatalf("insert %v: %v", k, err)
		}
	}

	if len(rejected) != 2 || rejected[0] != visible[4] || rejected[1] != visible[5] {
		t.Fatalf("rejected = %v, want the last two visible tiles", rejected)
	}
	for _, k := range visible[:4] {
		if _, ok := c.Ready(k); !ok {
			t.Errorf("visible tile %v should be Ready", k)
		}
	}
	for _, k := range row(3, 4) {
		if _, ok := c.Ready(k); ok {
			t.Errorf("stale tile %v should have been evicted", k)
		}
	}
	if c.Used() > c.Budget() {
		t.Errorf("used %d exceeds budget %d", c.Used(), c.Budget())
	}
	if !c.Parked(visible[4]) {
		t.Error("rejected key should be parked")
	}
	if _, ok := c.Ready(tile.ThumbnailKey); !ok {
		t.Error("thumbnail must stay pinned")
	}

	// Once the viewport moves on the parked keys are released.
	c.ReleaseParked(planner.Fixed(4, 3, row(4, 2), nil, nil), false)
	if c.Parked(visible[4]) {
		t.Error("parked key should be released when it leaves the plan")
	}
}

func TestCacheNeverEvictsVisible(t *testing.T) {
	c := NewCache(2 * tileBytes)
	plan := planner.Fixed(2, 1, row(2, 2), row(2, 3)[2:], nil)
	for _, k := range row(2, 2) {
		if err := c.Insert(readyTile(k), plan, epoch); err != nil {
			t.Fatal(err)
		}
	}
	err := c.Insert(readyTile(tile.Key{Tier: 2, Col: 2}), plan, epoch.Add(time.Second))
	var be *tile.BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("prefetch insert error = %v, want budget exceeded", err)
	}
	if c.Len() != 2 {
		t.Errorf("cache holds %d tiles, want the 2 visible ones", c.Len())
	}
}

func TestCacheEvictionTieBreak(t *testing.T) {
	c := NewCache(3 * tileBytes)
	keys := []tile.Key{{Tier: 4, Col: 0}, {Tier: 1, Col: 0}, {Tier: 1, Col: 1}}
	for _, k := range keys {
		if err := c.Insert(readyTile(k), nil, epoch); err != nil {
			t.Fatal(err)
		}
	}
	plan := planner.Fixed(4, 1, []tile.Key{{Tier: 4, Col: 5}}, nil, nil)

	// Equal LastUsed: the tile furthest from tier 4 goes first, and among
	// those the larger key.
	if err := c.Insert(readyTile(tile.Key{Tier: 4, Col: 5}), plan, epoch); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Ready(tile.Key{Tier: 1, Col: 1}); ok {
		t.Error("expected 1/0/1 to be evicted first")
	}
	if _, ok := c.Ready(tile.Key{Tier: 1, Col: 0}); !ok {
		t.Error("1/0/0 should survive the first eviction")
	}

	if err := c.Insert(readyTile(tile.Key{Tier: 4, Col: 6}), planner.Fixed(4, 2, []tile.Key{{Tier: 4, Col: 5}, {Tier: 4, Col: 6}}, nil, nil), epoch); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Ready(tile.Key{Tier: 1, Col: 0}); ok {
		t.Error("expected 1/0/0 to be evicted second")
	}
	if _, ok := c.Ready(tile.Key{Tier: 4, Col: 0}); !ok {
		t.Error("4/0/0 is closest to the current tier and should survive")
	}
}

func TestCacheColdEvictedBeforeHot(t *testing.T) {
	c := NewCache(2 * tileBytes)
	hotKey, coldKey := tile.Key{Tier: 2, Col: 0}, tile.Key{Tier: 2, Col: 1}
	plan := planner.Fixed(2, 1, nil, []tile.Key{hotKey}, nil)
	if err := c.Insert(readyTile(hotKey), plan, epoch); err != nil {
		t.Fatal(err)
	}
	// Newer but unplanned: lands in the cold segment.
	if err := c.Insert(readyTile(coldKey), plan, epoch.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if c.Segment(hotKey) != Hot || c.Segment(coldKey) != Cold {
		t.Fatalf("segments = %s/%s, want hot/cold", c.Segment(hotKey), c.Segment(coldKey))
	}
	if err := c.Insert(readyTile(tile.Key{Tier: 2, Col: 2}), planner.Fixed(2, 2, []tile.Key{{Tier: 2, Col: 2}}, []tile.Key{hotKey}, nil), epoch.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	if c.Segment(coldKey) != NotCached {
		t.Error("cold tile should be evicted first despite being newer")
	}
	if c.Segment(hotKey) != Hot {
		t.Error("hot tile should survive")
	}
}

func TestCacheTouchPromotesCold(t *testing.T) {
	c := NewCache(DefaultBudget)
	k := tile.Key{Tier: 3, Row: 1, Col: 1}
	if err := c.Insert(readyTile(k), nil, epoch); err != nil {
		t.Fatal(err)
	}
	if c.Segment(k) != Cold {
		t.Fatalf("segment = %s, want cold", c.Segment(k))
	}
	used := c.Used()
	if _, ok := c.Touch(k, epoch.Add(time.Minute)); !ok {
		t.Fatal("touch should find the tile")
	}
	if c.Segment(k) != Hot {
		t.Errorf("segment after touch = %s, want hot", c.Segment(k))
	}
	if c.Used() != used {
		t.Errorf("used bytes changed on promotion: %d -> %d", used, c.Used())
	}
}

func TestCachePlannedTilesDoNotEvictEachOther(t *testing.T) {
	c := NewCache(4 * tileBytes)
	visible := row(2, 2)
	prefetch := []tile.Key{{Tier: 2, Col: 2}, {Tier: 2, Col: 3}, {Tier: 2, Col: 4}, {Tier: 2, Col: 5}}
	plan := planner.Fixed(2, 1, visible, prefetch, nil)

	// Prefetch tiles arrive first and fill the budget.
	for i, k := range prefetch {
		if err := c.Insert(readyTile(k), plan, epoch.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("insert %v: %v", k, err)
		}
	}
	// Visible tiles take the room of the oldest prefetch tiles, which stay parked.
	for _, k := range visible {
		if err := c.Insert(readyTile(k), plan, epoch.Add(time.Second)); err != nil {
			t.Fatalf("insert visible %v: %v", k, err)
		}
	}
	for _, k := range prefetch[:2] {
		if !c.Parked(k) {
			t.Errorf("evicted prefetch tile %v should be parked", k)
		}
	}

	// A released prefetch tile cannot push out another planned prefetch tile.
	delete(c.parked, prefetch[0])
	err := c.Insert(readyTile(prefetch[0]), plan, epoch.Add(2*time.Second))
	var be *tile.BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("insert error = %v, want budget exceeded", err)
	}
	for _, k := range append(slices.Clone(visible), prefetch[2:]...) {
		if _, ok := c.Ready(k); !ok {
			t.Errorf("planned tile %v should still be Ready", k)
		}
	}
	if !c.Parked(prefetch[0]) {
		t.Error("rejected prefetch tile should be parked")
	}
	if c.evictions != 2 {
		t.Errorf("evictions = %d, want 2", c.evictions)
	}
}

func TestCacheUnplannedTilesEvictEachOther(t *testing.T) {
	c := NewCache(2 * tileBytes)
	for i, k := range row(3, 3) {
		if err := c.Insert(readyTile(k), nil, epoch.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("insert %v: %v", k, err)
		}
	}
	if _, ok := c.Ready(row(3, 1)[0]); ok {
		t.Error("oldest cold tile should have been evicted")
	}
	if c.Parked(row(3, 1)[0]) {
		t.Error("unplanned tiles are not parked")
	}
}
