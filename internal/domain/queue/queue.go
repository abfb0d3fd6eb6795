package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

const fallbackTick = 500 * time.Millisecond

// Handler runs one admitted item. It owns the item until it returns.
type Handler func(ctx context.Context, id string)

// Queue admits items by priority under a concurrency ceiling.
type Queue struct {
	mu      sync.Mutex
	items   itemHeap
	byID    map[string]*item
	seq     uint64
	ceiling int
	running int

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(ceiling int) *Queue {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Queue{
		byID:    map[string]*item{},
		ceiling: ceiling,
		wake:    make(chan struct{}, 1),
	}
}

// Push enqueues id. Ties in priority keep submission order.
func (q *Queue) Push(id string, priority int) {
	q.mu.Lock()
	q.seq++
	it := &item{id: id, priority: priority, seq: q.seq}
	heap.Push(&q.items, it)
	q.byID[id] = it
	q.mu.Unlock()
	q.signal()
}

// Remove drops id if it has not been dispatched yet.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, id)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Ceiling() int {
	return q.ceiling
}

// Run dispatches items until ctx is done, then waits for in-flight handlers.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(fallbackTick)
	defer ticker.Stop()
	for {
		for {
			id, ok := q.next()
			if !ok {
				break
			}
			q.wg.Add(1)
			go func() {
				defer q.release()
				handler(ctx, id)
			}()
		}
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running >= q.ceiling || q.items.Len() == 0 {
		return "", false
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.byID, it.id)
	q.running++
	return it.id, true
}

func (q *Queue) release() {
	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.wg.Done()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
