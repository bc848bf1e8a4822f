package inbox

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/memory"
	"github.com/rbaliyan/inbox/store/storetest"
)

// fakeTransport serves a configurable server list and records reports.
type fakeTransport struct {
	mu         sync.Mutex
	messages   []store.Message
	watermark  string
	fetchErr   error
	readErr    error
	deleteErr  error
	fetchCalls int
	seen       []string // watermarks received
	readIDs    []string
	deletedIDs []string

	// gate, when set, blocks FetchMessages until it is closed.
	gate chan struct{}
}

func newFakeTransport(msgs ...store.Message) *fakeTransport {
	return &fakeTransport{messages: msgs, watermark: "w1"}
}

func (f *fakeTransport) FetchMessages(ctx context.Context, watermark string) (*FetchResult, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	f.seen = append(f.seen, watermark)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if watermark != "" && watermark == f.watermark {
		return &FetchResult{NotModified: true}, nil
	}
	msgs := make([]store.Message, len(f.messages))
	for i, m := range f.messages {
		msgs[i] = m.Clone()
	}
	return &FetchResult{Messages: msgs, Watermark: f.watermark}, nil
}

func (f *fakeTransport) PostMarkRead(_ context.Context, msgs []store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	for _, m := range msgs {
		f.readIDs = append(f.readIDs, m.ID)
	}
	return nil
}

func (f *fakeTransport) PostDelete(_ context.Context, msgs []store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, m := range msgs {
		f.deletedIDs = append(f.deletedIDs, m.ID)
	}
	return nil
}

// setServer replaces the server list and bumps the watermark.
func (f *fakeTransport) setServer(watermark string, msgs ...store.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = msgs
	f.watermark = watermark
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeTransport) reported() (read, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	read = slices.Clone(f.readIDs)
	deleted = slices.Clone(f.deletedIDs)
	slices.Sort(read)
	slices.Sort(deleted)
	return read, deleted
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// msg is a shorthand for storetest.NewMessage with an offset in minutes.
func msg(id string, minutes int, unread bool) store.Message {
	return storetest.NewMessage(id, time.Duration(minutes)*time.Minute, unread)
}

// setupInbox returns a connected inbox over a memory repository.
func setupInbox(t *testing.T, tr Transport, opts ...Option) (*Inbox, *memory.Store) {
	t.Helper()
	repo := memory.New()
	base := []Option{
		WithRepository(repo),
		WithLogger(discardLogger()),
		WithAutoRetry(false),
		WithExpiryRefresh(false),
	}
	if tr != nil {
		base = append(base, WithTransport(tr))
	}
	ib, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create inbox: %v", err)
	}
	if err := ib.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ib.Close(context.Background()) })
	return ib, repo
}

// drain waits until every task queued on the worker so far has run.
func drain(t *testing.T, ib *Inbox) {
	t.Helper()
	done := make(chan struct{})
	if !ib.worker.Load().enqueue(func() { close(done) }) {
		t.Fatal("worker closed")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for worker")
	}
}

// settle waits for the worker and then the delivery queue to run everything
// queued so far.
func settle(t *testing.T, ib *Inbox) {
	t.Helper()
	drain(t, ib)
	done := make(chan struct{})
	if !ib.delivery.Load().enqueue(func() { close(done) }) {
		t.Fatal("delivery queue closed")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delivery queue")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ids(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
