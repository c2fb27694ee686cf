package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/pkg/geom"
)

// AnimationKind distinguishes eased tweens from inertial flings.
type AnimationKind uint8

const (
	Tween AnimationKind = iota
	Fling
)

func (k AnimationKind) String() string {
	if k == Fling {
		return "fling"
	}
	return "tween"
}

// flingStopSpeed is the speed in px/s below which a fling ends.
const flingStopSpeed = 5.0

// Animation is a time-parameterised transform. At is a pure function of the
// elapsed time; the engine evaluates it once per frame.
type Animation struct {
	Kind     AnimationKind
	From     Transform
	To       Transform // tween target; unused for flings
	Velocity r2.Vec    // fling start velocity in px/s
	Friction float64   // fling decay rate per second
	Start    time.Time
	Duration time.Duration
}

func newTween(from, to Transform, d time.Duration, now time.Time) *Animation {
	return &Animation{Kind: Tween, From: from, To: to, Start: now, Duration: d}
}

func newFling(from Transform, v r2.Vec, friction float64, now time.Time) *Animation {
	speed := math.Hypot(v.X, v.Y)
	if friction <= 0 || speed <= flingStopSpeed {
		return nil
	}
	secs := math.Log(speed/flingStopSpeed) / friction
	return &Animation{
		Kind:     Fling,
		From:     from,
		Velocity: v,
		Friction: friction,
		Start:    now,
		Duration: time.Duration(secs * float64(time.Second)),
	}
}

// At returns the transform at now and whether the animation has finished.
func (a *Animation) At(now time.Time) (Transform, bool) {
	elapsed := now.Sub(a.Start)
	if elapsed < 0 {
		elapsed = 0
	}
	done := elapsed >= a.Duration
	switch a.Kind {
	case Fling:
		if done {
			elapsed = a.Duration
		}
		secs := elapsed.Seconds()
		travel := (1 - math.Exp(-a.Friction*secs)) / a.Friction
		t := a.From
		t.Offset = r2.Add(a.From.Offset, r2.Scale(travel, a.Velocity))
		t.Time = now
		return t, done
	default:
		if done || a.Duration <= 0 {
			t := a.To
			t.Time = now
			return t, true
		}
		f := fastOutSlowIn(float64(elapsed) / float64(a.Duration))
		return Transform{
			Scale:    geom.Lerp(a.From.Scale, a.To.Scale, f),
			Offset:   geom.LerpVec(a.From.Offset, a.To.Offset, f),
			Rotation: geom.Lerp(a.From.Rotation, a.To.Rotation, f),
			Time:     now,
		}, false
	}
}

// fastOutSlowIn evaluates the cubic bezier (0.4, 0, 0.2, 1) at x in [0,1].
func fastOutSlowIn(x float64) float64 {
	return cubicBezier(0.4, 0, 0.2, 1, x)
}

// cubicBezier evaluates a CSS-style timing curve with endpoints (0,0) and
// (1,1). The parameter for x is found by bisection.
func cubicBezier(x1, y1, x2, y2, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	bez := func(p1, p2, t float64) float64 {
		u := 1 - t
		return 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t
	}
	lo, hi := 0.0, 1.0
	t := x
	for i := 0; i < 32; i++ {
		bx := bez(x1, x2, t)
		if math.Abs(bx-x) < 1e-7 {
			break
		}
		if bx < x {
			lo = t
		} else {
			hi = t
		}
		t = (lo + hi) / 2
	}
	return bez(y1, y2, t)
}
