package inbox

import (
	"context"
	"log/slog"
	"sync"
)

// serialQueue runs tasks one at a time in submission order on a single
// goroutine. Enqueue never blocks; the backlog is unbounded.
type serialQueue struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func newSerialQueue(name string, logger *slog.Logger) *serialQueue {
	q := &serialQueue{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// enqueue appends task. It returns false once the queue is closed.
func (q *serialQueue) enqueue(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

func (q *serialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.exec(task)
	}
}

func (q *serialQueue) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic in queued task", "queue", q.name, "panic", r)
		}
	}()
	task()
}

// close stops accepting tasks and waits for the backlog to drain or for ctx
// to end, whichever comes first.
func (q *serialQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pending returns the number of queued tasks not yet started.
func (q *serialQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
