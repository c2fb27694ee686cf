package tile

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a stopped loader or viewer.
	ErrClosed = errors.New("tile: closed")

	// ErrUnavailable marks a tile that failed permanently for the session.
	ErrUnavailable = errors.New("tile: permanently unavailable")
)

// GeometryError reports a degenerate container or content size. The engine
// recovers by substituting the identity transform.
type GeometryError struct {
	ContainerWidth, ContainerHeight float64
	ContentWidth, ContentHeight     float64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("degenerate geometry: container %gx%g, content %gx%g",
		e.ContainerWidth, e.ContainerHeight, e.ContentWidth, e.ContentHeight)
}

// DecodeError wraps a failed region decode.
type DecodeError struct {
	Key       Key
	Attempt   int
	Permanent bool
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("decode tile %s: attempt %d (giving up): %v", e.Key, e.Attempt, e.Err)
	}
	return fmt.Sprintf("decode tile %s: attempt %d: %v", e.Key, e.Attempt, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// BudgetExceededError reports that a tile could not be cached because the
// tiles the viewport needs already use the whole byte budget.
type BudgetExceededError struct {
	Key    Key
	Need   int64
	Used   int64
	Budget int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("cache budget exceeded for tile %s: need %d bytes, %d of %d in use by visible tiles",
		e.Key, e.Need, e.Used, e.Budget)
}
