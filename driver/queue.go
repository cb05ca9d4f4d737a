package driver

import (
	"context"
	"sync"
)

// lineQueue is an unbounded FIFO of received lines with a single consumer.
// signal has capacity one so a push between the consumer's emptiness check
// and its select is never lost.
type lineQueue struct {
	mu     sync.Mutex
	lines  []string
	err    error
	signal chan struct{}
}

func newLineQueue() *lineQueue {
	return &lineQueue{signal: make(chan struct{}, 1)}
}

func (q *lineQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	if q.err == nil {
		q.lines = append(q.lines, line)
	}
	q.mu.Unlock()
	q.notify()
}

// close fails every current and future receive with err once the queue
// has drained
func (q *lineQueue) close(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.notify()
}

// reset drops every queued line
func (q *lineQueue) reset() {
	q.mu.Lock()
	q.lines = nil
	q.mu.Unlock()
}

func (q *lineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// next blocks until a line is available, the queue is closed, ctx is done or
// abort is closed. A nil abort channel never fires.
func (q *lineQueue) next(ctx context.Context, abort <-chan struct{}) (string, error) {
	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines[0] = ""
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, nil
		}
		err := q.err
		q.mu.Unlock()
		if err != nil {
			return "", err
		}

		select {
		case <-q.signal:
		case <-abort:
			return "", ErrAborted
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
