package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/pkg/geom"
)

// Options tunes the engine. Zero values select the defaults.
type Options struct {
	// MinScale and MaxScale bound the settled scale. Zero derives them from
	// the content-scale policy: min is the base scale, max is four times the
	// larger of the base and native scales.
	MinScale float64
	MaxScale float64

	// DoubleTapScale is the zoomed scale of the double-tap toggle. Zero
	// means max(cover scale, 3·base scale).
	DoubleTapScale float64

	// Overshoot is the factor by which a gesture may exceed the scale range.
	Overshoot float64

	// RubberBand is the fraction of the container an active gesture may pan
	// past the content edge.
	RubberBand float64

	AnimationDuration time.Duration

	// FlingFriction is the exponential decay rate of fling velocity per
	// second; FlingMinVelocity is the release speed (px/s) that starts one.
	FlingFriction    float64
	FlingMinVelocity float64
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Overshoot:         1.2,
		RubberBand:        0.15,
		AnimationDuration: 300 * time.Millisecond,
		FlingFriction:     4,
		FlingMinVelocity:  50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Overshoot < 1 {
		o.Overshoot = d.Overshoot
	}
	if o.RubberBand < 0 {
		o.RubberBand = 0
	}
	if o.AnimationDuration <= 0 {
		o.AnimationDuration = d.AnimationDuration
	}
	if o.FlingFriction <= 0 {
		o.FlingFriction = d.FlingFriction
	}
	if o.FlingMinVelocity <= 0 {
		o.FlingMinVelocity = d.FlingMinVelocity
	}
	return o
}

// Engine owns the current transform. It is not safe for concurrent use; the
// viewer drives it from a single goroutine.
type Engine struct {
	opts Options
	geo  Geometry
	err  error

	base, minScale, maxScale, tapScale float64

	cur     Transform
	anim    *Animation
	active  bool
	focal   r2.Vec
	tracker velocityTracker
}

// NewEngine creates an engine placed per the content-scale policy and
// alignment. Degenerate geometry yields an identity engine together with a
// *tile.GeometryError; the engine stays usable.
func NewEngine(g Geometry, opts Options) (*Engine, error) {
	e := &Engine{opts: opts.withDefaults()}
	err := e.setGeometry(g)
	if err != nil {
		logging.Logger().Warn("transform: degenerate geometry, using identity", "err", err)
		e.cur = Identity()
		return e, err
	}
	e.cur = e.initial(0)
	return e, nil
}

func (e *Engine) setGeometry(g Geometry) error {
	e.geo = g
	if err := g.Err(); err != nil {
		e.err = err
		e.base, e.minScale, e.maxScale, e.tapScale = 1, 1, 1, 1
		return err
	}
	e.err = nil
	e.base = g.BaseScale()

	e.minScale = e.base
	if e.opts.MinScale > 0 {
		e.minScale = e.opts.MinScale
	}
	e.maxScale = 4 * math.Max(e.base, g.native())
	if e.opts.MaxScale > 0 {
		e.maxScale = e.opts.MaxScale
	}
	if e.maxScale < e.minScale {
		e.maxScale = e.minScale
	}

	e.tapScale = math.Max(g.CoverScale(), 3*e.base)
	if e.opts.DoubleTapScale > 0 {
		e.tapScale = e.opts.DoubleTapScale
	}
	e.tapScale = geom.Clamp(e.tapScale, e.minScale, e.maxScale)
	if e.tapScale <= e.initialScale()*(1+1e-6) {
		e.tapScale = e.maxScale
	}
	return nil
}

// Transform returns the current transform.
func (e *Engine) Transform() Transform { return e.cur }

// Geometry returns the current layout input.
func (e *Engine) Geometry() Geometry { return e.geo }

// Err returns the geometry error, if the engine is running on identity.
func (e *Engine) Err() error { return e.err }

// ScaleRange returns the settled scale limits.
func (e *Engine) ScaleRange() (lo, hi float64) { return e.minScale, e.maxScale }

// BaseScale returns the scale chosen by the content-scale policy.
func (e *Engine) BaseScale() float64 { return e.base }

// DoubleTapScale returns the zoomed scale of the double-tap toggle.
func (e *Engine) DoubleTapScale() float64 { return e.tapScale }

// Animating reports whether an animation is running.
func (e *Engine) Animating() bool { return e.anim != nil }

// Active reports whether a gesture is in progress.
func (e *Engine) Active() bool { return e.active }

func (e *Engine) initialScale() float64 {
	return geom.Clamp(e.base, e.minScale, e.maxScale)
}

func (e *Engine) initial(rotation float64) Transform {
	t := Transform{Scale: e.initialScale(), Rotation: rotation, Time: e.cur.Time}
	b := t.Bounds(e.geo.ContentSize)
	c := e.geo.ContainerSize
	t.Offset = r2.Vec{
		X: e.geo.Alignment.X*(c.Width-b.Width()) - b.Min.X,
		Y: e.geo.Alignment.Y*(c.Height-b.Height()) - b.Min.Y,
	}
	return t
}

// offsetRange returns the hard offset limits on one axis. b is the
// transformed content extent with zero offset, size the container extent.
func offsetRange(bMin, bMax, size, align float64) (lo, hi float64) {
	if bMax-bMin >= size-1e-9 {
		return size - bMax, -bMin
	}
	v := align*(size-(bMax-bMin)) - bMin
	return v, v
}

// clampOffset limits t.Offset to the hard range grown by slack (a fraction
// of the container size).
func (e *Engine) clampOffset(t Transform, slack float64) Transform {
	t0 := t
	t0.Offset = r2.Vec{}
	b := t0.Bounds(e.geo.ContentSize)
	c := e.geo.ContainerSize
	loX, hiX := offsetRange(b.Min.X, b.Max.X, c.Width, e.geo.Alignment.X)
	loY, hiY := offsetRange(b.Min.Y, b.Max.Y, c.Height, e.geo.Alignment.Y)
	sx, sy := slack*c.Width, slack*c.Height
	t.Offset = r2.Vec{
		X: geom.Clamp(t.Offset.X, loX-sx, hiX+sx),
		Y: geom.Clamp(t.Offset.Y, loY-sy, hiY+sy),
	}
	return t
}

// settle returns the nearest transform inside the hard range. An
// out-of-range scale is clamped about focal.
func (e *Engine) settle(t Transform, focal r2.Vec) Transform {
	if s := geom.Clamp(t.Scale, e.minScale, e.maxScale); s != t.Scale {
		c := t.ToContent(focal, e.geo.ContentSize)
		t.Scale = s
		t = t.anchored(c, focal, e.geo.ContentSize)
	}
	return e.clampOffset(t, 0)
}

// InRange reports whether t satisfies the hard scale and offset limits.
func (e *Engine) InRange(t Transform) bool {
	return t.approxEqual(e.settle(t, e.geo.ContainerSize.Center()))
}

// ApplyGestureDelta applies one gesture frame. The content point under focal
// moves to focal+pan; scale may overshoot the range by the overshoot factor
// and offset may pass the content edge by the rubber-band allowance.
func (e *Engine) ApplyGestureDelta(pan r2.Vec, scaleFactor, rotationDelta float64, focal r2.Vec, now time.Time) Transform {
	if e.err != nil {
		return e.cur
	}
	e.anim = nil
	if !e.active {
		e.active = true
		e.tracker.reset()
	}
	if !(scaleFactor > 0) || math.IsInf(scaleFactor, 0) {
		scaleFactor = 1
	}
	content := e.geo.ContentSize
	c := e.cur.ToContent(focal, content)
	next := Transform{
		Scale:    geom.Clamp(e.cur.Scale*scaleFactor, e.minScale/e.opts.Overshoot, e.maxScale*e.opts.Overshoot),
		Rotation: e.cur.Rotation + rotationDelta,
		Time:     now,
	}
	target := r2.Add(focal, pan)
	next = next.anchored(c, target, content)
	e.cur = e.clampOffset(next, e.opts.RubberBand)
	e.focal = target
	e.tracker.add(pan, now)
	return e.cur
}

// Release ends a gesture. An out-of-range transform snaps back; otherwise a
// fast enough release starts a fling. A zero velocity is replaced by the
// estimate from recent pan deltas.
func (e *Engine) Release(velocity r2.Vec, now time.Time) Transform {
	if e.err != nil {
		return e.cur
	}
	e.active = false
	if velocity == (r2.Vec{}) {
		velocity = e.tracker.estimate(now)
	}
	e.tracker.reset()

	target := e.settle(e.cur, e.focal)
	if !target.approxEqual(e.cur) {
		e.anim = newTween(e.cur, target, e.opts.AnimationDuration, now)
		return e.cur
	}
	if math.Hypot(velocity.X, velocity.Y) >= e.opts.FlingMinVelocity {
		e.anim = newFling(e.cur, velocity, e.opts.FlingFriction, now)
	}
	return e.cur
}

// AnimateTo eases to target, clamped into the hard range, over d. A
// non-positive d jumps immediately.
func (e *Engine) AnimateTo(target Transform, d time.Duration, now time.Time) Transform {
	if e.err != nil {
		return e.cur
	}
	e.active = false
	if !(target.Scale > 0) {
		target.Scale = e.cur.Scale
	}
	target = e.settle(target, e.geo.ContainerSize.Center())
	if d <= 0 {
		target.Time = now
		e.cur, e.anim = target, nil
		return e.cur
	}
	e.anim = newTween(e.cur, target, d, now)
	return e.cur
}

// DoubleTap toggles between the base scale and the double-tap scale,
// keeping the content under focal in place when zooming in.
func (e *Engine) DoubleTap(focal r2.Vec, now time.Time) Transform {
	if e.err != nil {
		return e.cur
	}
	var target Transform
	if e.cur.Scale < e.tapScale*(1-1e-3) {
		c := e.cur.ToContent(focal, e.geo.ContentSize)
		target = Transform{Scale: e.tapScale, Rotation: e.cur.Rotation}.anchored(c, focal, e.geo.ContentSize)
		target = e.settle(target, focal)
	} else {
		target = e.initial(e.cur.Rotation)
	}
	return e.AnimateTo(target, e.opts.AnimationDuration, now)
}

// Rotate turns the content by deg degrees about the container centre.
func (e *Engine) Rotate(deg float64, now time.Time) Transform {
	if e.err != nil {
		return e.cur
	}
	center := e.geo.ContainerSize.Center()
	c := e.cur.ToContent(center, e.geo.ContentSize)
	t := e.cur
	t.Rotation += deg
	t = t.anchored(c, center, e.geo.ContentSize)
	return e.AnimateTo(t, e.opts.AnimationDuration, now)
}

// Update advances the running animation to now and returns the current
// transform and whether an animation is still running.
func (e *Engine) Update(now time.Time) (Transform, bool) {
	if e.anim == nil {
		return e.cur, false
	}
	t, done := e.anim.At(now)
	if e.anim.Kind == Fling {
		t = e.clampOffset(t, 0)
	}
	e.cur = t
	if done {
		e.anim = nil
	}
	return e.cur, e.anim != nil
}

// Resize changes the container size. The content point at the old container
// centre stays at the new centre; a transform at the base scale follows the
// new base scale.
func (e *Engine) Resize(container geom.Size, now time.Time) (Transform, error) {
	g := e.geo
	g.ContainerSize = container
	if e.err != nil {
		if err := e.setGeometry(g); err != nil {
			return e.cur, err
		}
		e.cur = e.initial(0)
		e.cur.Time = now
		return e.cur, nil
	}

	atBase := math.Abs(e.cur.Scale-e.initialScale()) <= 1e-9*e.cur.Scale
	c := e.cur.ToContent(e.geo.ContainerSize.Center(), e.geo.ContentSize)
	if err := e.setGeometry(g); err != nil {
		logging.Logger().Warn("transform: degenerate geometry after resize", "err", err)
		e.cur, e.anim, e.active = Identity(), nil, false
		return e.cur, err
	}
	t := e.cur
	if atBase {
		t.Scale = e.initialScale()
	}
	center := container.Center()
	t = t.anchored(c, center, g.ContentSize)
	t = e.settle(t, center)
	t.Time = now
	e.cur, e.anim = t, nil
	return e.cur, nil
}

// Handle dispatches one input event.
func (e *Engine) Handle(ev Event) Transform {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	switch ev.Type {
	case EventPan:
		return e.ApplyGestureDelta(ev.Pan, 1, 0, ev.Focal, ev.Time)
	case EventPinch:
		return e.ApplyGestureDelta(ev.Pan, ev.Scale, ev.Rotation, ev.Focal, ev.Time)
	case EventRotate:
		return e.ApplyGestureDelta(r2.Vec{}, 1, ev.Rotation, ev.Focal, ev.Time)
	case EventDoubleTap:
		return e.DoubleTap(ev.Focal, ev.Time)
	case EventRelease:
		return e.Release(ev.Velocity, ev.Time)
	}
	return e.cur
}
