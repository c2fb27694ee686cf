package tilecache

import (
	"image"
	"slices"
	"sync"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// job is one region decode waiting for a worker.
type job struct {
	key        tile.Key
	rect       image.Rectangle
	sampleSize int
	generation int64
	attempt    int
}

// queue is the bounded mailbox between the owning loop and the workers. It
// holds jobs only, never tile state.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	limit  int
	closed bool
}

func newQueue(limit int) *queue {
	q := &queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends j. It returns false if the queue is full or closed.
func (q *queue) push(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || (q.limit > 0 && len(q.jobs) >= q.limit) {
		return false
	}
	q.jobs = append(q.jobs, j)
	q.cond.Signal()
	return true
}

// pop blocks until a job is available or the queue is closed.
func (q *queue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = job{}
	q.jobs = q.jobs[1:]
	return j, true
}

// supersede drops queued jobs whose key has no priority in the new plan and
// reorders the rest by priority (lower first). It returns the dropped keys.
func (q *queue) supersede(priority map[tile.Key]int) []tile.Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []tile.Key
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if _, ok := priority[j.key]; ok {
			kept = append(kept, j)
		} else {
			dropped = append(dropped, j.key)
		}
	}
	clear(q.jobs[len(kept):])
	q.jobs = kept
	slices.SortStableFunc(q.jobs, func(a, b job) int {
		return priority[a.key] - priority[b.key]
	})
	return dropped
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// close wakes all waiting workers. Queued jobs are discarded.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.jobs = nil
	q.cond.Broadcast()
}
