package channel

import "sync"

// queue is an unbounded FIFO decoupling change dispatch from the transport
// read path. It grows by doubling when full, so a slow topic handler delays
// other handlers but never blocks the socket.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	tail   int
	count  int
	closed bool
}

func newQueue[T any](initialCapacity int) *queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &queue[T]{buf: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends an item. Returns false if the queue is closed.
func (q *queue[T]) Put(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.cond.Signal()
	return true
}

// Take removes and returns the oldest item, blocking until one is available.
// Returns false once the queue is closed and drained.
func (q *queue[T]) Take() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// Close stops accepting items. Blocked Take calls drain the remainder and
// then return false.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles capacity. Caller holds the lock.
func (q *queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
}
