package loop

import (
	"context"
	"sync"
)

// Queue collects completion callbacks posted from any goroutine and runs
// them when the owner calls Drain. All callbacks run on the draining
// goroutine, in post order.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wg      sync.WaitGroup
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Post schedules fn to run on the next Drain. Safe for concurrent use.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Go runs work on a new goroutine and posts the callback it returns. A nil
// callback posts nothing.
func (q *Queue) Go(ctx context.Context, work func(ctx context.Context) func()) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.Post(work(ctx))
	}()
}

// Drain runs every callback posted so far and returns how many ran.
// Callbacks posted while draining run on the next call.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Len returns the number of callbacks waiting to be drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until every goroutine started by Go has posted.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Settle waits for outstanding work and drains until nothing is left,
// including work started by the drained callbacks themselves. Used by tests
// and the headless report to run the loop to quiescence.
func (q *Queue) Settle() {
	for {
		q.Wait()
		if q.Drain() == 0 {
			return
		}
	}
}

// Run is Go for work producing a value. done receives the result on the
// draining goroutine.
func Run[T any](ctx context.Context, q *Queue, work func(ctx context.Context) (T, error), done func(T, error)) {
	q.Go(ctx, func(ctx context.Context) func() {
		v, err := work(ctx)
		return func() { done(v, err) }
	})
}
