package inbox

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestSerialQueue(t *testing.T) {
	t.Run("runs tasks in order", func(t *testing.T) {
		q := newSerialQueue("test", discardLogger())
		var mu sync.Mutex
		var got []int
		for i := range 100 {
			q.enqueue(func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}
		if err := q.close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
		if len(got) != 100 || !slices.IsSorted(got) {
			t.Errorf("tasks ran out of order or were lost: %d", len(got))
		}
	})

	t.Run("survives panics", func(t *testing.T) {
		q := newSerialQueue("test", discardLogger())
		ran := false
		q.enqueue(func() { panic("boom") })
		q.enqueue(func() { ran = true })
		q.close(context.Background())
		if !ran {
			t.Error("task after panic did not run")
		}
	})

	t.Run("rejects after close", func(t *testing.T) {
		q := newSerialQueue("test", discardLogger())
		q.close(context.Background())
		if q.enqueue(func() {}) {
			t.Error("expected enqueue to fail after close")
		}
	})

	t.Run("close honours context", func(t *testing.T) {
		q := newSerialQueue("test", discardLogger())
		release := make(chan struct{})
		q.enqueue(func() { <-release })
		q.enqueue(func() {})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := q.close(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if q.pending() != 1 {
			t.Errorf("expected 1 pending task, got %d", q.pending())
		}
		close(release)
	})
}
