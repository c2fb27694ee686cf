package tilecache

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// CompletionKind tells the owning loop what a worker did with a job.
type CompletionKind uint8

const (
	Started CompletionKind = iota
	Decoded
	Failed
)

func (k CompletionKind) String() string {
	switch k {
	case Started:
		return "started"
	case Decoded:
		return "decoded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("CompletionKind(%d)", uint8(k))
}

// Completion is the only message workers send to the owning loop.
type Completion struct {
	Key        tile.Key
	Kind       CompletionKind
	Pixels     image.Image
	Err        error
	Generation int64
	Attempt    int
	Elapsed    time.Duration
}

// pool runs decode workers until the queue closes.
type pool struct {
	src     tile.ImageSource
	q       *queue
	out     chan<- Completion
	timeout time.Duration
	g       *errgroup.Group
	ctx     context.Context
}

func startPool(ctx context.Context, workers int, src tile.ImageSource, q *queue, out chan<- Completion, timeout time.Duration) *pool {
	g, gctx := errgroup.WithContext(ctx)
	p := &pool{src: src, q: q, out: out, timeout: timeout, g: g, ctx: gctx}
	context.AfterFunc(gctx, q.close)
	for i := 0; i < workers; i++ {
		g.Go(p.work)
	}
	return p
}

func (p *pool) wait() error {
	return p.g.Wait()
}

func (p *pool) work() error {
	for {
		j, ok := p.q.pop()
		if !ok {
			return nil
		}
		if !p.send(Completion{Key: j.key, Kind: Started, Generation: j.generation, Attempt: j.attempt}) {
			return nil
		}
		start := time.Now()
		img, err := p.decode(j)
		c := Completion{Key: j.key, Generation: j.generation, Attempt: j.attempt, Elapsed: time.Since(start)}
		if err != nil {
			c.Kind, c.Err = Failed, err
		} else {
			c.Kind, c.Pixels = Decoded, img
		}
		if !p.send(c) {
			return nil
		}
	}
}

func (p *pool) send(c Completion) bool {
	select {
	case p.out <- c:
		return true
	case <-p.ctx.Done():
		return false
	}
}

type decodeResult struct {
	img image.Image
	err error
}

// decode runs one region decode under the timeout. A source that ignores
// its context still times out; its late result is discarded.
func (p *pool) decode(j job) (image.Image, error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ch := make(chan decodeResult, 1)
	go func() {
		img, err := p.src.DecodeRegion(ctx, j.rect, j.sampleSize)
		ch <- decodeResult{img, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && r.img == nil {
			r.err = fmt.Errorf("source returned no pixels for %v", j.rect)
		}
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
