package tilecache

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// solid returns an opaque image of the requested region at sampleSize.
func solid(rect image.Rectangle, sampleSize int) image.Image {
	w := max((rect.Dx()+sampleSize-1)/sampleSize, 1)
	h := max((rect.Dy()+sampleSize-1)/sampleSize, 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: uint8(rect.Min.X), G: uint8(rect.Min.Y), A: 0xff})
	return img
}

// fakeSource decodes instantly, optionally waiting on a gate or failing.
type fakeSource struct {
	width, height int
	gate          chan struct{} // nil means no waiting
	fail          error
	ignoreCtx     bool

	mu    sync.Mutex
	calls []image.Rectangle
}

func (s *fakeSource) Info(context.Context) (tile.ImageInfo, error) {
	return tile.ImageInfo{Width: s.width, Height: s.height}, nil
}

func (s *fakeSource) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rect)
	s.mu.Unlock()
	if s.gate != nil {
		if s.ignoreCtx {
			<-s.gate
		} else {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return solid(rect, sampleSize), nil
}

func (s *fakeSource) decoded() []image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]image.Rectangle(nil), s.calls...)
}

var errBroken = errors.New("broken region")

// await applies completions until n Decoded or Failed completions were seen.
func await(t *testing.T, l *Loader, n int, now time.Time) []Completion {
	t.Helper()
	var done []Completion
	timeout := time.After(5 * time.Second)
	for len(done) < n {
		select {
		case c := <-l.Completions():
			l.Apply(c, now)
			if c.Kind != Started {
				done = append(done, c)
			}
		case <-timeout:
			t.Fatalf("timed out after %d of %d completions", len(done), n)
		}
	}
	return done
}

// awaitStarted applies completions until key has started.
func awaitStarted(t *testing.T, l *Loader, key tile.Key, now time.Time) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-l.Completions():
			l.Apply(c, now)
			if c.Kind == Started && c.Key == key {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v to start", key)
		}
	}
}
