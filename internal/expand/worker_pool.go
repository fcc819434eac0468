package expand

import (
	"context"
	"sync"
)

// workerPool runs fn for queued items on a fixed number of goroutines.
type workerPool[T any] struct {
	queue chan T
	fn    func(ctx context.Context, t T)
	wg    sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool
}

// newWorkerPool starts n workers reading from a queue of capacity depth.
// Workers exit when ctx is cancelled or the pool is drained.
func newWorkerPool[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *workerPool[T] {
	p := &workerPool[T]{
		queue: make(chan T, depth),
		fn:    fn,
	}
	for range max(n, 1) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case t, ok := <-p.queue:
					if !ok {
						return
					}
					p.fn(ctx, t)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return p
}

// Submit enqueues an item without blocking (returns false if full or
// drained).
func (p *workerPool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for queued items to finish.
func (p *workerPool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Utilization returns queued / capacity (0–1).
func (p *workerPool[T]) Utilization() float64 {
	if cap(p.queue) == 0 {
		return 0
	}
	return float64(len(p.queue)) / float64(cap(p.queue))
}
