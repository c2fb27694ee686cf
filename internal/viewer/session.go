package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// DefaultFrameInterval is the tick of the session loop, about 60 frames
// per second.
const DefaultFrameInterval = 16 * time.Millisecond

// Session owns a Viewer on one goroutine. Other goroutines reach it only
// through Do.
type Session struct {
	ID string

	v        *Viewer
	interval time.Duration
	now      func() time.Time

	calls     chan func(*Viewer)
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	last  Frame
	dirty bool
}

// NewSession wraps v. The session takes ownership of v and closes it when
// Run returns.
func NewSession(v *Viewer, interval time.Duration) *Session {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Session{
		ID:       uuid.NewString(),
		v:        v,
		interval: interval,
		now:      time.Now,
		calls:    make(chan func(*Viewer)),
		done:     make(chan struct{}),
		dirty:    true,
	}
}

// Do runs fn on the session goroutine and waits for it to return. It fails
// with tile.ErrClosed once Run has stopped.
func (s *Session) Do(ctx context.Context, fn func(*Viewer)) error {
	finished := make(chan struct{})
	call := func(v *Viewer) {
		defer close(finished)
		fn(v)
	}
	select {
	case s.calls <- call:
	case <-s.done:
		return tile.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Run executes a received call before it can stop.
	<-finished
	return nil
}

// Last returns the most recent frame built by the loop. It must be called
// from inside Do.
func (s *Session) Last() Frame { return s.last }

// Invalidate asks the loop to build a new frame on the next tick. It must
// be called from inside Do.
func (s *Session) Invalidate() { s.dirty = true }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the viewer until ctx is cancelled: it executes calls, applies
// tile completions and builds a frame on every tick while something
// changed, an animation runs or tiles are outstanding.
func (s *Session) Run(ctx context.Context) error {
	defer s.stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logging.Logger().With("session", s.ID)
	log.Info("viewer: session started")
	for {
		select {
		case <-ctx.Done():
			log.Info("viewer: session stopped")
			return nil

		case fn := <-s.calls:
			fn(s.v)
			s.dirty = true

		case c := <-s.v.Completions():
			if s.v.ApplyCompletion(c, s.now()) {
				s.dirty = true
			}

		case <-ticker.C:
			if s.dirty || s.last.Animating || s.last.Pending > 0 {
				s.last = s.v.Frame(s.now())
				s.dirty = false
			}
		}
	}
}

func (s *Session) stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.v.Close(); err != nil {
			logging.Logger().Warn("viewer: close", "session", s.ID, "err", err)
		}
	})
}
