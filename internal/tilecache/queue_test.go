package tilecache

import (
	"testing"
	"time"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

func TestQueueSupersedeDropsAndReorders(t *testing.T) {
	q := newQueue(0)
	for _, k := range row(3, 4) {
		q.push(job{key: k})
	}
	dropped := q.supersede(map[tile.Key]int{
		{Tier: 3, Col: 3}: 0,
		{Tier: 3, Col: 1}: 1,
	})
	if len(dropped) != 2 || dropped[0] != (tile.Key{Tier: 3, Col: 0}) || dropped[1] != (tile.Key{Tier: 3, Col: 2}) {
		t.Fatalf("dropped = %v", dropped)
	}
	first, _ := q.pop()
	second, _ := q.pop()
	if first.key.Col != 3 || second.key.Col != 1 {
		t.Errorf("pop order = %v, %v; want priority order", first.key, second.key)
	}
}

func TestQueueBounded(t *testing.T) {
	q := newQueue(2)
	if !q.push(job{}) || !q.push(job{}) {
		t.Fatal("pushes within the limit should succeed")
	}
	if q.push(job{}) {
		t.Error("push beyond the limit should fail")
	}
}

func TestQueueCloseWakesWorkers(t *testing.T) {
	q := newQueue(0)
	done := make(chan bool)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()
	select {
	case ok := <-done:
		if ok {
			t.Error("pop after close should report false")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiting worker")
	}
	if q.push(job{}) {
		t.Error("push after close should fail")
	}
}
