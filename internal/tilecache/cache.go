// Package tilecache holds decoded tiles under a byte budget and loads missing
// tiles on a worker pool.
package tilecache

import (
	"math"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// DefaultBudget is the default byte budget for Ready tiles.
const DefaultBudget = 64 << 20

// Segment names where a tile lives in the cache.
type Segment uint8

const (
	NotCached Segment = iota
	Hot               // planned when it was decoded
	Cold              // decoded after the plan moved on; evicted first
	Pinned            // the thumbnail
	Waiting           // pending, loading or failed; holds no pixels
)

var segmentNames = [...]string{"none", "hot", "cold", "pinned", "waiting"}

func (s Segment) String() string {
	if int(s) < len(segmentNames) {
		return segmentNames[s]
	}
	return "unknown"
}

// Cache maps keys to tiles. Ready tiles are held in two LRU segments whose
// total size is bounded by the byte budget; other tiles cost nothing. The
// Cache is owned by a single goroutine.
type Cache struct {
	budget int64
	used   int64

	hot, cold *simplelru.LRU[tile.Key, *tile.Tile]
	waiting   map[tile.Key]*tile.Tile
	thumb     *tile.Tile

	// parked holds keys dropped for lack of budget, with the bytes they need.
	parked map[tile.Key]int64

	evictions  int64
	rejections int64
}

// NewCache creates a cache with the given byte budget.
func NewCache(budget int64) *Cache {
	if budget <= 0 {
		budget = DefaultBudget
	}
	c := &Cache{
		budget:  budget,
		waiting: make(map[tile.Key]*tile.Tile),
		parked:  make(map[tile.Key]int64),
	}
	onEvict := func(_ tile.Key, t *tile.Tile) { c.used -= t.Bytes }
	// The LRUs are bounded by bytes, not entries.
	c.hot, _ = simplelru.NewLRU[tile.Key, *tile.Tile](math.MaxInt32, onEvict)
	c.cold, _ = simplelru.NewLRU[tile.Key, *tile.Tile](math.MaxInt32, onEvict)
	return c
}

// Budget returns the byte budget.
func (c *Cache) Budget() int64 { return c.budget }

// Used returns the bytes held by Ready tiles, excluding the thumbnail.
func (c *Cache) Used() int64 { return c.used }

// Pin installs the thumbnail. It is never evicted and not charged.
func (c *Cache) Pin(t *tile.Tile) {
	c.thumb = t
}

// Thumbnail returns the pinned thumbnail, or nil.
func (c *Cache) Thumbnail() *tile.Tile { return c.thumb }

// Ready returns the Ready tile for k without touching recency.
func (c *Cache) Ready(k tile.Key) (*tile.Tile, bool) {
	if k == tile.ThumbnailKey && c.thumb != nil {
		return c.thumb, true
	}
	if t, ok := c.hot.Peek(k); ok {
		return t, true
	}
	return c.cold.Peek(k)
}

// Touch marks the Ready tile k as used at now. A cold tile is promoted to
// the hot segment.
func (c *Cache) Touch(k tile.Key, now time.Time) (*tile.Tile, bool) {
	if k == tile.ThumbnailKey && c.thumb != nil {
		c.thumb.LastUsed = now
		return c.thumb, true
	}
	if t, ok := c.hot.Get(k); ok {
		t.LastUsed = now
		return t, true
	}
	if t, ok := c.cold.Peek(k); ok {
		c.cold.Remove(k)
		c.hot.Add(k, t)
		c.used += t.Bytes
		t.LastUsed = now
		return t, true
	}
	return nil, false
}

// Segment reports where k is held.
func (c *Cache) Segment(k tile.Key) Segment {
	switch {
	case k == tile.ThumbnailKey && c.thumb != nil:
		return Pinned
	case c.hot.Contains(k):
		return Hot
	case c.cold.Contains(k):
		return Cold
	case c.waiting[k] != nil:
		return Waiting
	}
	return NotCached
}

// Entry returns the tile for k in any state.
func (c *Cache) Entry(k tile.Key) (*tile.Tile, bool) {
	if t, ok := c.Ready(k); ok {
		return t, true
	}
	t, ok := c.waiting[k]
	return t, ok
}

// Track records a tile that is not Ready.
func (c *Cache) Track(t *tile.Tile) {
	c.waiting[t.Key] = t
}

// Untrack forgets a tile that is not Ready.
func (c *Cache) Untrack(k tile.Key) {
	delete(c.waiting, k)
}

// Waiting returns the non-ready tiles.
func (c *Cache) Waiting() map[tile.Key]*tile.Tile { return c.waiting }

// Parked reports whether k was dropped for lack of budget and not yet released.
func (c *Cache) Parked(k tile.Key) bool {
	_, ok := c.parked[k]
	return ok
}

// ReleaseParked forgets parked keys that left the plan or would now fit.
// When changed is set every parked key is released.
func (c *Cache) ReleaseParked(plan *planner.Plan, changed bool) {
	for k, need := range c.parked {
		if changed || plan == nil || !plan.Contains(k) || c.used+need <= c.budget {
			delete(c.parked, k)
		}
	}
}

// Remove drops the Ready tile k. The thumbnail cannot be removed.
func (c *Cache) Remove(k tile.Key) bool {
	return c.hot.Remove(k) || c.cold.Remove(k)
}

// Insert adds a Ready tile. It goes to the hot segment when plan contains it
// and to the cold segment otherwise. Tiles are evicted to make room, never
// a visible tile of plan. If room cannot be made the tile is dropped, its key
// is parked and a *tile.BudgetExceededError is returned.
func (c *Cache) Insert(t *tile.Tile, plan *planner.Plan, now time.Time) error {
	delete(c.waiting, t.Key)
	if t.Key == tile.ThumbnailKey {
		c.Pin(t)
		return nil
	}
	c.Remove(t.Key)

	if !c.makeRoom(t, plan) {
		c.rejections++
		c.parked[t.Key] = t.Bytes
		err := &tile.BudgetExceededError{Key: t.Key, Need: t.Bytes, Used: c.used, Budget: c.budget}
		t.Pixels = nil
		return err
	}
	t.LastUsed = now
	if plan != nil && plan.Contains(t.Key) {
		c.hot.Add(t.Key, t)
	} else {
		c.cold.Add(t.Key, t)
	}
	c.used += t.Bytes
	return nil
}

// Eviction classes, lowest evicted first.
const (
	classCold = iota
	classUnplanned
	classPrefetch
	classFallback
	classVisible
)

func (c *Cache) class(k tile.Key, plan *planner.Plan, cold bool) int {
	switch {
	case plan != nil && plan.IsVisible(k):
		return classVisible
	case cold:
		return classCold
	case plan == nil || !plan.Contains(k):
		return classUnplanned
	case k.Tier == plan.Tier:
		return classPrefetch
	}
	return classFallback
}

type candidate struct {
	t     *tile.Tile
	class int
	dist  int
}

// evictable reports whether a tile of class cl may make room for a tile of
// class incoming. Planned tiles only give way to more important ones.
func evictable(cl, incoming int) bool {
	if cl == classVisible {
		return false
	}
	return cl < incoming || cl == incoming && cl <= classUnplanned
}

// makeRoom evicts tiles until t fits. Candidates are the tiles evictable for
// t's class. Order: class, then oldest LastUsed, then larger tier distance
// from the current tier, then larger key. Evicted tiles that are still
// planned are parked.
func (c *Cache) makeRoom(t *tile.Tile, plan *planner.Plan) bool {
	if c.used+t.Bytes <= c.budget {
		return true
	}
	if t.Bytes > c.budget {
		return false
	}
	incoming := c.class(t.Key, plan, false)
	current := 0
	if plan != nil {
		current = plan.Tier
	}

	var cands []candidate
	collect := func(seg *simplelru.LRU[tile.Key, *tile.Tile], cold bool) {
		for _, k := range seg.Keys() {
			ct, _ := seg.Peek(k)
			cl := c.class(k, plan, cold)
			if !evictable(cl, incoming) {
				continue
			}
			d := k.Tier - current
			if d < 0 {
				d = -d
			}
			cands = append(cands, candidate{t: ct, class: cl, dist: d})
		}
	}
	collect(c.cold, true)
	collect(c.hot, false)

	var free int64
	for _, cd := range cands {
		free += cd.t.Bytes
	}
	if c.used-free+t.Bytes > c.budget {
		return false
	}

	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.class != b.class:
			return a.class - b.class
		case !a.t.LastUsed.Equal(b.t.LastUsed):
			return a.t.LastUsed.Compare(b.t.LastUsed)
		case a.dist != b.dist:
			return b.dist - a.dist
		case b.t.Key.Less(a.t.Key):
			return -1
		case a.t.Key.Less(b.t.Key):
			return 1
		}
		return 0
	})
	for _, cd := range cands {
		if c.used+t.Bytes <= c.budget {
			break
		}
		c.Remove(cd.t.Key)
		cd.t.Pixels = nil
		c.evictions++
		if plan != nil && plan.Contains(cd.t.Key) {
			c.parked[cd.t.Key] = cd.t.Bytes
		}
		logging.Logger().Debug("tilecache: evicted", "key", cd.t.Key, "bytes", cd.t.Bytes, "for", t.Key)
	}
	return c.used+t.Bytes <= c.budget
}

// Keys returns the Ready keys (thumbnail included) in key order.
func (c *Cache) Keys() []tile.Key {
	keys := make([]tile.Key, 0, c.hot.Len()+c.cold.Len()+1)
	if c.thumb != nil {
		keys = append(keys, tile.ThumbnailKey)
	}
	keys = append(keys, c.hot.Keys()...)
	keys = append(keys, c.cold.Keys()...)
	slices.SortFunc(keys, func(a, b tile.Key) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return keys
}

// Len returns the number of Ready tiles excluding the thumbnail.
func (c *Cache) Len() int { return c.hot.Len() + c.cold.Len() }

// Clear drops every tile except the thumbnail.
func (c *Cache) Clear() {
	c.hot.Purge()
	c.cold.Purge()
	clear(c.waiting)
	clear(c.parked)
	c.used = 0
}
