package tilecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Options configures a Loader. Zero values select the defaults.
type Options struct {
	Budget        int64
	Workers       int
	QueueSize     int
	DecodeTimeout time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// DefaultOptions returns the loader defaults.
func DefaultOptions() Options {
	return Options{
		Budget:        DefaultBudget,
		Workers:       runtime.NumCPU(),
		QueueSize:     256,
		DecodeTimeout: 10 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   250 * time.Millisecond,
		BackoffMax:    5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Budget <= 0 {
		o.Budget = d.Budget
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.DecodeTimeout <= 0 {
		o.DecodeTimeout = d.DecodeTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(d.BackoffMax, o.BackoffBase)
	}
	return o
}

// Backoff returns the retry delay after the given number of failed attempts.
func (o Options) Backoff(attempts int) time.Duration {
	d := o.BackoffBase
	for i := 1; i < attempts && d < o.BackoffMax; i++ {
		d *= 2
	}
	return min(d, o.BackoffMax)
}

// Result is what Request can serve right away.
type Result struct {
	Ready       []*tile.Tile
	Pending     int
	Unavailable int
	OverBudget  int
}

// Stats summarises cache and loader activity.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
	Rejections   int64 `json:"budget_rejections"`
	Decodes      int64 `json:"decodes"`
	Failures     int64 `json:"failures"`
	Permanent    int64 `json:"permanent_failures"`
	Superseded   int64 `json:"superseded"`
	Hot          int   `json:"hot_tiles"`
	Cold         int   `json:"cold_tiles"`
	Waiting      int   `json:"waiting_tiles"`
	Queued       int   `json:"queued_jobs"`
	Bytes        int64 `json:"bytes"`
	Budget       int64 `json:"budget"`
	Generation   int64 `json:"generation"`
	LastDecodeMS int64 `json:"last_decode_ms"`
}

// Loader resolves plans into Ready tiles. Request, Apply and every other
// method except Completions must be called from the owning goroutine;
// workers only reach the owner through the completion channel.
type Loader struct {
	opts  Options
	grid  tile.Grid
	cache *Cache
	q     *queue
	pool  *pool
	out   chan Completion

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool

	plan  *planner.Plan
	stats Stats
}

// NewLoader starts the worker pool. Workers stop when ctx is cancelled or
// Close is called.
func NewLoader(ctx context.Context, src tile.ImageSource, grid tile.Grid, opts Options) *Loader {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	l := &Loader{
		opts:   opts,
		grid:   grid,
		cache:  NewCache(opts.Budget),
		q:      newQueue(opts.QueueSize),
		out:    make(chan Completion, opts.QueueSize+2*opts.Workers),
		cancel: cancel,
	}
	l.pool = startPool(ctx, opts.Workers, src, l.q, l.out, opts.DecodeTimeout)
	return l
}

// Options returns the effective options.
func (l *Loader) Options() Options { return l.opts }

// Cache exposes the underlying cache.
func (l *Loader) Cache() *Cache { return l.cache }

// SetThumbnail pins img as the tier 0 tile.
func (l *Loader) SetThumbnail(img image.Image, now time.Time) {
	t := tile.NewTile(tile.ThumbnailKey, now)
	t.State, t.Pixels, t.Bytes = tile.Ready, img, tile.PixelBytes(img)
	l.cache.Pin(t)
}

// Completions returns the channel the owner must drain into Apply.
func (l *Loader) Completions() <-chan Completion { return l.out }

// Tile returns the Ready tile for k. It satisfies the compositor's TileSet.
func (l *Loader) Tile(k tile.Key) (*tile.Tile, bool) {
	return l.cache.Ready(k)
}

// Plan returns the plan of the last Request.
func (l *Loader) Plan() *planner.Plan { return l.plan }

// Request serves plan from the cache and enqueues decodes for missing tiles
// and Failed tiles whose backoff has elapsed. A plan with a new generation
// supersedes queued jobs outside it.
func (l *Loader) Request(plan *planner.Plan, now time.Time) Result {
	var res Result
	if l.closed || plan == nil {
		return res
	}
	keys := plan.Keys()
	changed := l.plan == nil || l.plan.Generation != plan.Generation
	if changed {
		priority := make(map[tile.Key]int, len(keys))
		for i, k := range keys {
			priority[k] = i
		}
		for _, k := range l.q.supersede(priority) {
			if t, ok := l.cache.waiting[k]; ok && t.State == tile.Pending {
				if t.Attempts == 0 {
					l.cache.Untrack(k)
				} else {
					_ = l.transition(t, tile.EventFailed)
				}
			}
			l.stats.Superseded++
		}
	}
	l.plan = plan
	l.stats.Generation = plan.Generation
	l.cache.ReleaseParked(plan, changed)

	for _, k := range keys {
		if t, ok := l.cache.Touch(k, now); ok {
			l.stats.Hits++
			res.Ready = append(res.Ready, t)
			continue
		}
		if l.cache.Parked(k) {
			res.OverBudget++
			continue
		}
		t, ok := l.cache.waiting[k]
		if !ok {
			l.stats.Misses++
			t = tile.NewTile(k, now)
			if !l.enqueue(t, plan.Generation) {
				continue
			}
			l.cache.Track(t)
			res.Pending++
			continue
		}
		t.LastUsed = now
		if t.State != tile.Failed {
			res.Pending++
			continue
		}
		if t.Attempts >= l.opts.MaxAttempts {
			res.Unavailable++
			continue
		}
		if now.Before(t.RetryAt) {
			res.Pending++
			continue
		}
		if l.enqueue(t, plan.Generation) {
			if err := l.transition(t, tile.EventRetry); err == nil {
				res.Pending++
			}
		}
	}
	return res
}

func (l *Loader) enqueue(t *tile.Tile, gen int64) bool {
	ok := l.q.push(job{
		key:        t.Key,
		rect:       l.grid.Rect(t.Key),
		sampleSize: l.grid.SampleSize(t.Key.Tier),
		generation: gen,
		attempt:    t.Attempts + 1,
	})
	if !ok {
		logging.Logger().Debug("tilecache: queue full", "key", t.Key)
	}
	return ok
}

func (l *Loader) transition(t *tile.Tile, ev tile.Event) error {
	next, err := tile.Transition(t.State, ev)
	if err != nil {
		logging.Logger().Debug("tilecache: ignored transition", "key", t.Key, "err", err)
		return err
	}
	t.State = next
	return nil
}

// Apply folds one completion into the cache and reports whether the display
// should be redrawn. Applying the same completion twice has no further
// effect.
func (l *Loader) Apply(c Completion, now time.Time) bool {
	if l.closed {
		return false
	}
	switch c.Kind {
	case Started:
		if t, ok := l.cache.waiting[c.Key]; ok && t.State == tile.Pending {
			_ = l.transition(t, tile.EventStart)
		}
		return false

	case Decoded:
		if _, ok := l.cache.Ready(c.Key); ok || l.cache.Parked(c.Key) {
			return false
		}
		t, ok := l.cache.waiting[c.Key]
		if !ok {
			t = tile.NewTile(c.Key, now)
		}
		if err := l.transition(t, tile.EventDecoded); err != nil {
			return false
		}
		t.Pixels, t.Bytes = c.Pixels, tile.PixelBytes(c.Pixels)
		t.Attempts, t.Err, t.RetryAt = 0, nil, time.Time{}
		l.stats.Decodes++
		l.stats.LastDecodeMS = c.Elapsed.Milliseconds()
		if err := l.cache.Insert(t, l.plan, now); err != nil {
			logging.Logger().Warn("tilecache: tile dropped", "key", c.Key, "err", err)
			return false
		}
		relevant := l.plan != nil && (l.plan.IsVisible(c.Key) || (l.plan.Contains(c.Key) && c.Key.Tier < l.plan.Tier))
		logging.Logger().Debug("tilecache: tile ready", "key", c.Key, "segment", l.cache.Segment(c.Key), "redraw", relevant)
		return relevant

	case Failed:
		// A failure of an attempt already counted is stale.
		t, ok := l.cache.waiting[c.Key]
		if !ok || c.Attempt <= t.Attempts {
			return false
		}
		if err := l.transition(t, tile.EventFailed); err != nil {
			return false
		}
		t.Attempts = c.Attempt
		t.RetryAt = now.Add(l.opts.Backoff(t.Attempts))
		permanent := t.Attempts >= l.opts.MaxAttempts
		t.Err = &tile.DecodeError{Key: c.Key, Attempt: t.Attempts, Permanent: permanent, Err: c.Err}
		l.stats.Failures++
		if permanent {
			l.stats.Permanent++
			t.Err = fmt.Errorf("%w: %w", tile.ErrUnavailable, t.Err)
			logging.Logger().Warn("tilecache: tile unavailable", "key", c.Key, "err", c.Err)
		} else {
			logging.Logger().Debug("tilecache: decode failed", "key", c.Key, "attempt", t.Attempts, "retry_at", t.RetryAt, "err", c.Err)
		}
		return false
	}
	return false
}

// Drain applies every completion already queued, without blocking.
func (l *Loader) Drain(now time.Time) bool {
	redraw := false
	for {
		select {
		case c := <-l.out:
			if l.Apply(c, now) {
				redraw = true
			}
		default:
			return redraw
		}
	}
}

// Stats returns a snapshot of the counters.
func (l *Loader) Stats() Stats {
	s := l.stats
	s.Evictions = l.cache.evictions
	s.Rejections = l.cache.rejections
	s.Hot = l.cache.hot.Len()
	s.Cold = l.cache.cold.Len()
	s.Waiting = len(l.cache.waiting)
	s.Queued = l.q.len()
	s.Bytes = l.cache.Used()
	s.Budget = l.cache.Budget()
	return s
}

// Close stops the workers and waits for them. In-flight decodes are
// abandoned.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed = true
		l.cancel()
		l.q.close()
		if werr := l.pool.wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	})
	return err
}
