package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/transform"
)

// parseGesture parses one scripted gesture:
//
//	pan:DX,DY
//	pinch:FACTOR[@X,Y]
//	rotate:DEGREES[@X,Y]
//	double-tap[@X,Y]
//	release[:VX,VY]
//
// The focal point defaults to focal.
func parseGesture(s string, focal r2.Vec) (transform.Event, error) {
	var ev transform.Event
	body, at, hasAt := strings.Cut(strings.TrimSpace(s), "@")
	name, arg, hasArg := strings.Cut(body, ":")

	typ, err := transform.ParseEventType(name)
	if err != nil {
		return ev, err
	}
	ev.Type = typ
	ev.Focal = focal
	if hasAt {
		if ev.Focal, err = parseVec(at); err != nil {
			return ev, fmt.Errorf("gesture %q: focal point: %w", s, err)
		}
	}

	switch typ {
	case transform.EventPan:
		if !hasArg {
			return ev, fmt.Errorf("gesture %q: pan needs DX,DY", s)
		}
		ev.Pan, err = parseVec(arg)
	case transform.EventPinch:
		if !hasArg {
			return ev, fmt.Errorf("gesture %q: pinch needs a factor", s)
		}
		ev.Scale, err = strconv.ParseFloat(arg, 64)
		if err == nil && !(ev.Scale > 0) {
			err = fmt.Errorf("factor must be positive")
		}
	case transform.EventRotate:
		if !hasArg {
			return ev, fmt.Errorf("gesture %q: rotate needs degrees", s)
		}
		ev.Rotation, err = strconv.ParseFloat(arg, 64)
	case transform.EventRelease:
		if hasArg {
			ev.Velocity, err = parseVec(arg)
		}
	case transform.EventDoubleTap:
		if hasArg {
			err = fmt.Errorf("double-tap takes no argument")
		}
	}
	if err != nil {
		return ev, fmt.Errorf("gesture %q: %w", s, err)
	}
	return ev, nil
}

func parseVec(s string) (r2.Vec, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return r2.Vec{}, fmt.Errorf("want X,Y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return r2.Vec{}, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return r2.Vec{}, err
	}
	return r2.Vec{X: x, Y: y}, nil
}
