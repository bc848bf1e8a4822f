package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/inbox"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeTarget struct {
	runs    atomic.Int32
	verdict inbox.Verdict
	panics  bool
	block   chan struct{}
}

func (f *fakeTarget) RunSyncCycle(ctx context.Context) inbox.Verdict {
	f.runs.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return inbox.VerdictRetry
		}
	}
	if f.panics {
		panic("boom")
	}
	return f.verdict
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdd(t *testing.T) {
	s := New(WithLogger(testLogger))

	if err := s.Add("a", "@every 1m", &fakeTarget{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", "@every 1m", &fakeTarget{}); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
	if err := s.Add("b", "not a schedule", &fakeTarget{}); err == nil {
		t.Error("expected parse error")
	}
	if err := s.Add("c", "@every 1m", nil); err == nil {
		t.Error("expected error for nil target")
	}
	if err := s.Add("d", "*/10 * * * * *", &fakeTarget{}); err != nil {
		t.Errorf("six-field schedule: %v", err)
	}

	st := s.Status()
	if len(st) != 2 || st[0].Name != "a" || st[1].Name != "d" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRunOnStart(t *testing.T) {
	s := New(WithLogger(testLogger), WithRunOnStart(true))
	ok := &fakeTarget{verdict: inbox.VerdictSuccess}
	bad := &fakeTarget{verdict: inbox.VerdictTerminal}
	s.Add("ok", "@every 1h", ok)
	s.Add("bad", "@every 1h", bad)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return ok.runs.Load() == 1 && bad.runs.Load() == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := s.Status()
	if st[0].Runs != 1 || st[0].LastVerdict != inbox.VerdictSuccess || st[0].LastRun.IsZero() {
		t.Errorf("unexpected ok status %+v", st[0])
	}
	if st[1].LastVerdict != inbox.VerdictTerminal {
		t.Errorf("unexpected bad status %+v", st[1])
	}
}

func TestScheduledRuns(t *testing.T) {
	s := New(WithLogger(testLogger))
	tgt := &fakeTarget{verdict: inbox.VerdictSuccess}
	if err := s.Add("every-second", "@every 1s", tgt); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return tgt.runs.Load() >= 2 })
	cancel()
	<-done
}

func TestRunTwice(t *testing.T) {
	s := New(WithLogger(testLogger))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running
	})
	if err := s.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}
	cancel()
	<-done
}

func TestJobPanicRecovered(t *testing.T) {
	s := New(WithLogger(testLogger))
	tgt := &fakeTarget{panics: true}
	s.Add("p", "@every 1h", tgt)

	s.runJob(context.Background(), s.jobs[0])
	if tgt.runs.Load() != 1 {
		t.Errorf("expected one run, got %d", tgt.runs.Load())
	}
}

func TestJobTimeout(t *testing.T) {
	s := New(WithLogger(testLogger), WithTimeout(50*time.Millisecond))
	tgt := &fakeTarget{block: make(chan struct{})}
	s.Add("slow", "@every 1h", tgt)

	s.runJob(context.Background(), s.jobs[0])
	if st := s.Status()[0]; st.LastVerdict != inbox.VerdictRetry {
		t.Errorf("expected retry verdict after timeout, got %v", st.LastVerdict)
	}
}
