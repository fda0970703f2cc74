// internal/debugging/queue.go
package debugging

import "sync"

// queue is an unbounded FIFO of byte slices. ready holds a token while
// the queue is non-empty so a single consumer can block on it.
type queue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	q.signal()
}

// pushFront returns undelivered items to the head, keeping their order
func (q *queue) pushFront(items [][]byte) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append([][]byte(nil), items...), q.items...)
	q.mu.Unlock()
	q.signal()
}

// popAll takes every queued item
func (q *queue) popAll() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
