package transform

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// EventType enumerates the gestures the engine understands.
type EventType uint8

const (
	EventPan EventType = iota
	EventPinch
	EventRotate
	EventDoubleTap
	EventRelease
)

var eventNames = [...]string{"pan", "pinch", "rotate", "double-tap", "release"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// ParseEventType accepts the names returned by String.
func ParseEventType(s string) (EventType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range eventNames {
		if s == name || s == strings.ReplaceAll(name, "-", "") {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Event is one discrete gesture update delivered by the host.
type Event struct {
	Type     EventType `json:"type"`
	Pan      r2.Vec    `json:"pan"`      // screen-space translation delta
	Scale    float64   `json:"scale"`    // multiplicative factor; 0 means 1
	Rotation float64   `json:"rotation"` // degrees
	Focal    r2.Vec    `json:"focal"`
	Velocity r2.Vec    `json:"velocity"` // px/s, release only
	Time     time.Time `json:"time"`
}

// velocityWindow bounds the pan samples used to estimate release velocity.
const velocityWindow = 100 * time.Millisecond

type panSample struct {
	delta r2.Vec
	at    time.Time
}

// velocityTracker estimates pointer velocity from recent pan deltas. It is
// used when a release event carries no velocity of its own.
type velocityTracker struct {
	samples []panSample
}

func (v *velocityTracker) add(delta r2.Vec, at time.Time) {
	v.samples = append(v.samples, panSample{delta, at})
	cut := 0
	for cut < len(v.samples) && at.Sub(v.samples[cut].at) > velocityWindow {
		cut++
	}
	v.samples = v.samples[cut:]
}

func (v *velocityTracker) reset() {
	v.samples = v.samples[:0]
}

func (v *velocityTracker) estimate(now time.Time) r2.Vec {
	if len(v.samples) < 2 {
		return r2.Vec{}
	}
	first := v.samples[0]
	if now.Sub(v.samples[len(v.samples)-1].at) > velocityWindow {
		return r2.Vec{}
	}
	span := v.samples[len(v.samples)-1].at.Sub(first.at).Seconds()
	if span <= 0 {
		return r2.Vec{}
	}
	var sum r2.Vec
	for _, s := range v.samples[1:] {
		sum = r2.Add(sum, s.delta)
	}
	return r2.Scale(1/span, sum)
}
