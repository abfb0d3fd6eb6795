package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runQueue(t *testing.T, q *Queue, handler Handler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, handler)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("queue did not stop")
		}
	}
}

func TestPriorityOrderWithCeilingOne(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Push("low-1", 1)
	q.Push("high", 5)
	q.Push("low-2", 1)

	var mu sync.Mutex
	var order []string
	all := make(chan struct{})
	stop := runQueue(t, q, func(ctx context.Context, id string) {
		mu.Lock()
		order = append(order, id)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(all)
		}
	})
	defer stop()

	select {
	case <-all:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out, order so far %v", order)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "low-1", "low-2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCeilingIsNeverExceeded(t *testing.T) {
	t.Parallel()

	q := New(2)
	var current, peak atomic.Int32
	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		q.Push(string(rune('a'+i)), i%3)
	}
	stop := runQueue(t, q, func(ctx context.Context, id string) {
		defer wg.Done()
		v := current.Add(1)
		for {
			p := peak.Load()
			if v <= p || peak.CompareAndSwap(p, v) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
	})
	defer stop()

	waitGroup(t, &wg)
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d", p)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d", q.Len())
	}
}

func TestSlotFreedDispatchesPromptly(t *testing.T) {
	t.Parallel()

	q := New(1)
	release := make(chan struct{})
	started := make(chan string, 2)
	stop := runQueue(t, q, func(ctx context.Context, id string) {
		started <- id
		if id == "first" {
			<-release
		}
	})
	defer stop()

	q.Push("first", 0)
	if got := <-started; got != "first" {
		t.Fatalf("started %s", got)
	}
	q.Push("second", 0)
	if q.Running() != 1 || q.Len() != 1 {
		t.Fatalf("running=%d len=%d", q.Running(), q.Len())
	}
	close(release)
	select {
	case got := <-started:
		if got != "second" {
			t.Fatalf("started %s", got)
		}
	case <-time.After(fallbackTick / 2):
		t.Fatalf("second item waited for the fallback tick")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Push("a", 0)
	q.Push("b", 3)
	q.Push("c", 1)
	if !q.Remove("b") {
		t.Fatalf("remove b failed")
	}
	if q.Remove("b") {
		t.Fatalf("second remove should fail")
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d", q.Len())
	}
	id, ok := q.next()
	if !ok || id != "c" {
		t.Fatalf("next = %s, %v", id, ok)
	}
	if q.Remove("c") {
		t.Fatalf("dispatched item must not be removable")
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("handlers did not finish")
	}
}
