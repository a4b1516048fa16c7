package stream

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDone signals clean exhaustion: the queue was closed and every pushed
	// item has been consumed.
	ErrDone = errors.New("stream: done")

	// ErrClosed is returned by Push after Close or Fail.
	ErrClosed = errors.New("stream: queue closed")
)

// Queue is an unbounded FIFO connecting one producing action to one consuming
// iterator. Push never blocks, so an action that outpaces its consumer keeps
// running; the consumer observes items strictly in push order. Safe for
// concurrent producers; Next expects a single consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	err    error
	ready  chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item. It returns ErrClosed if the queue was closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return nil
}

// Close marks the queue complete. Pending items remain consumable; once
// drained, Next returns ErrDone. Close is idempotent.
func (q *Queue[T]) Close() {
	q.close(nil)
}

// Fail marks the queue complete with a terminal error. Pending items remain
// consumable; once drained, Next returns err. A nil err behaves like Close.
func (q *Queue[T]) Fail(err error) {
	q.close(err)
}

func (q *Queue[T]) close(err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
	}
	q.mu.Unlock()
	q.notify()
}

// Next returns the next item in push order. It blocks until an item is
// available, the queue is exhausted (ErrDone or the Fail error), or ctx is
// canceled.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err == nil {
				err = ErrDone
			}
			return zero, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// notify wakes a blocked Next without blocking the caller.
func (q *Queue[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
