package inbox

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/memory"
	"github.com/rbaliyan/inbox/store/storetest"
)

// plainRepository hides optional repository interfaces.
type plainRepository struct {
	store.Repository
}

func newTestSyncer(t *testing.T, tr Transport) (*syncer, *memory.Store) {
	t.Helper()
	repo := memory.New()
	if err := repo.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	otelInstr, err := newOtelInstrumentation(newOptions())
	if err != nil {
		t.Fatalf("otel: %v", err)
	}
	s := &syncer{
		repo:    repo,
		cursors: repo,
		cache:   newMessageCache(),
		logger:  discardLogger(),
		otel:    otelInstr,
		now:     time.Now,
	}
	if tr != nil {
		s.transport = tr
	}
	return s, repo
}

func TestSyncerFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("applies server list and moves watermark", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true), msg("b", 1, false))
		s, repo := newTestSyncer(t, tr)

		res := s.run(ctx)
		if res.Verdict != VerdictSuccess || !res.Merged {
			t.Fatalf("unexpected result %+v", res)
		}
		if res.Fetched != 2 || res.Inserted != 2 {
			t.Errorf("expected 2 fetched and inserted, got %d/%d", res.Fetched, res.Inserted)
		}
		if got := s.cache.counts(); got != (Counts{Total: 2, Unread: 1, Read: 1}) {
			t.Errorf("unexpected counts %+v", got)
		}
		if cur, _ := repo.Cursor(ctx); cur != "w1" {
			t.Errorf("expected watermark w1, got %q", cur)
		}
	})

	t.Run("not modified keeps cache", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		s, _ := newTestSyncer(t, tr)
		s.run(ctx)

		res := s.run(ctx)
		if res.Verdict != VerdictSuccess || !res.NotModified || res.Merged {
			t.Fatalf("unexpected result %+v", res)
		}
		if !slices.Equal(tr.seen, []string{"", "w1"}) {
			t.Errorf("unexpected watermarks sent %v", tr.seen)
		}
	})

	t.Run("removes vanished and keeps local edits", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true), msg("b", 1, true))
		tr.readErr = errors.New("offline")
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		// Local read of a, not yet reported.
		s.cache.setUnread([]string{"a"}, false)
		if err := repo.SetUnread(ctx, []string{"a"}, false); err != nil {
			t.Fatal(err)
		}

		tr.setServer("w2", msg("a", 0, true))
		res := s.run(ctx)
		if res.Removed != 1 {
			t.Errorf("expected 1 removed, got %d", res.Removed)
		}

		all, _ := repo.LoadAll(ctx)
		if len(all) != 1 || all[0].ID != "a" {
			t.Fatalf("expected only a in repository, got %v", ids(all))
		}
		if all[0].Unread || !all[0].ServerUnread {
			t.Errorf("expected local read with server unread, got unread=%v server=%v", all[0].Unread, all[0].ServerUnread)
		}
		if m, _ := s.cache.get("a"); m.Unread {
			t.Error("expected a read in cache")
		}
	})

	t.Run("keeps deleted rows hidden", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		tr.deleteErr = errors.New("offline")
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		s.cache.delete([]string{"a"})
		repo.MarkDeleted(ctx, []string{"a"})

		tr.setServer("w2", msg("a", 0, true))
		s.run(ctx)

		if _, ok := s.cache.get("a"); ok {
			t.Error("deleted message came back after sync")
		}
		pending, _ := repo.PendingDeletionIDs(ctx)
		if !slices.Equal(pending, []string{"a"}) {
			t.Errorf("expected a pending deletion, got %v", pending)
		}
	})

	t.Run("failure leaves watermark", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		tr.setServer("w2", msg("b", 0, true))
		repo.FailNextWrite(errors.New("disk full"))
		res := s.run(ctx)
		if res.Verdict != VerdictRetry {
			t.Errorf("expected retry verdict, got %v", res.Verdict)
		}
		var serr *SyncError
		if !errors.As(res.Err, &serr) || serr.Step != stepFetch {
			t.Errorf("expected fetch SyncError, got %v", res.Err)
		}
		if cur, _ := repo.Cursor(ctx); cur != "w1" {
			t.Errorf("expected watermark unchanged, got %q", cur)
		}
		// The snapshot is applied atomically: a is not removed and b not added.
		ids, _ := repo.AllIDs(ctx)
		storetest.AssertIDs(t, ids, "a")
	})

	t.Run("applies without snapshot writer", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true), msg("b", 1, false))
		s, repo := newTestSyncer(t, tr)
		s.repo = plainRepository{repo}
		s.run(ctx)

		tr.setServer("w2", msg("b", 1, true), msg("c", 2, true))
		res := s.run(ctx)
		if res.Verdict != VerdictSuccess || res.Inserted != 1 || res.Removed != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
		ids, _ := repo.AllIDs(ctx)
		storetest.AssertIDs(t, ids, "b", "c")
	})

	t.Run("clears watermark when server sends none", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		tr.setServer("", msg("a", 0, true))
		s.run(ctx)
		if cur, _ := repo.Cursor(ctx); cur != "" {
			t.Errorf("expected cleared watermark, got %q", cur)
		}
	})

	t.Run("verdicts", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want Verdict
		}{
			{"server error", &StatusError{Op: "fetch", StatusCode: http.StatusBadGateway}, VerdictRetry},
			{"client error", &StatusError{Op: "fetch", StatusCode: http.StatusUnauthorized}, VerdictTerminal},
			{"malformed", ErrMalformedPayload, VerdictTerminal},
			{"network", errors.New("connection reset"), VerdictRetry},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tr := newFakeTransport()
				tr.fetchErr = tt.err
				s, _ := newTestSyncer(t, tr)
				if got := s.run(ctx).Verdict; got != tt.want {
					t.Errorf("verdict = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("no transport is terminal", func(t *testing.T) {
		s, _ := newTestSyncer(t, nil)
		res := s.run(ctx)
		if res.Verdict != VerdictTerminal || !errors.Is(res.Err, ErrTransportRequired) {
			t.Errorf("unexpected result %+v", res)
		}
	})
}

func TestSyncerFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("reports reads and deletions", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true), msg("b", 1, true), msg("c", 2, false))
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		repo.SetUnread(ctx, []string{"a"}, false)
		repo.MarkDeleted(ctx, []string{"b"})

		if err := s.flush(ctx, "test"); err != nil {
			t.Fatalf("flush: %v", err)
		}
		read, deleted := tr.reported()
		if !slices.Equal(read, []string{"a"}) || !slices.Equal(deleted, []string{"b"}) {
			t.Errorf("reported read=%v deleted=%v", read, deleted)
		}

		unconfirmed, _ := repo.UnconfirmedReadIDs(ctx)
		pending, _ := repo.PendingDeletionIDs(ctx)
		if len(unconfirmed) != 0 || len(pending) != 0 {
			t.Errorf("expected nothing pending, got read=%v deleted=%v", unconfirmed, pending)
		}
		all, _ := repo.AllIDs(ctx)
		slices.Sort(all)
		if !slices.Equal(all, []string{"a", "c"}) {
			t.Errorf("expected b purged, got %v", all)
		}
	})

	t.Run("failed report stays pending", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)

		repo.SetUnread(ctx, []string{"a"}, false)
		tr.readErr = &StatusError{Op: "mark read", StatusCode: http.StatusServiceUnavailable}

		err := s.flush(ctx, "test")
		var serr *SyncError
		if !errors.As(err, &serr) || serr.Step != stepFlushRead {
			t.Fatalf("expected flush_read error, got %v", err)
		}
		unconfirmed, _ := repo.UnconfirmedReadIDs(ctx)
		if !slices.Equal(unconfirmed, []string{"a"}) {
			t.Errorf("expected a still unconfirmed, got %v", unconfirmed)
		}
	})

	t.Run("flush failure does not change verdict", func(t *testing.T) {
		tr := newFakeTransport(msg("a", 0, true))
		tr.deleteErr = errors.New("offline")
		s, repo := newTestSyncer(t, tr)
		s.run(ctx)
		repo.MarkDeleted(ctx, []string{"a"})

		if res := s.run(ctx); res.Verdict != VerdictSuccess {
			t.Errorf("expected success, got %v", res.Verdict)
		}
	})
}

func TestSyncerLoad(t *testing.T) {
	s, repo := newTestSyncer(t, nil)
	ctx := context.Background()
	repo.UpsertBatch(ctx, []store.Message{msg("a", 0, true), msg("b", 1, true), msg("c", 2, true)})

	got, err := s.load(ctx, []string{"c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids(got), []string{"c", "a"}) {
		t.Errorf("unexpected rows %v", ids(got))
	}
}
