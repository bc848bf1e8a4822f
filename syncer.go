package inbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/inbox/store"
	"go.opentelemetry.io/otel/attribute"
)

// Sync steps, used in SyncError and logs.
const (
	stepFetch        = "fetch"
	stepFlushRead    = "flush_read"
	stepFlushDeleted = "flush_deleted"
)

// SyncResult describes one sync cycle.
type SyncResult struct {
	CycleID     string
	Verdict     Verdict
	NotModified bool
	Fetched     int  // messages in the server list
	Inserted    int  // messages new to the repository
	Removed     int  // local rows absent from the server list
	Merged      bool // the cache was rebuilt from the repository
	Err         error
	Duration    time.Duration
}

// syncer runs the fetch, apply and flush steps against the repository.
// All methods run on the inbox worker.
type syncer struct {
	repo      store.Repository
	cursors   store.CursorStore
	transport Transport
	cache     *messageCache
	logger    *slog.Logger
	otel      *otelInstrumentation
	now       func() time.Time
}

// run executes one full cycle. It never returns an error; the outcome is
// in the verdict.
func (s *syncer) run(ctx context.Context) SyncResult {
	start := time.Now()
	res := SyncResult{CycleID: uuid.NewString()}
	logger := s.logger.With("cycle_id", res.CycleID)

	ctx, endSpan := s.otel.startSpan(ctx, "inbox.sync",
		attribute.String("cycle_id", res.CycleID),
	)

	if err := s.fetch(ctx, &res); err != nil {
		res.Err = &SyncError{CycleID: res.CycleID, Step: stepFetch, Err: err}
		res.Verdict = ClassifyError(err)
		logger.Warn("inbox fetch failed", "verdict", res.Verdict.String(), "error", err)
	} else {
		res.Verdict = VerdictSuccess
		logger.Debug("inbox fetch completed",
			"not_modified", res.NotModified,
			"fetched", res.Fetched,
			"inserted", res.Inserted,
			"removed", res.Removed,
		)
	}

	// Flushes run whatever the fetch outcome. Their failures are retried by
	// the next cycle and do not change the verdict.
	if err := s.flush(ctx, res.CycleID); err != nil {
		logger.Warn("inbox state flush failed", "error", err)
	}

	res.Duration = time.Since(start)
	endSpan(res.Err)
	s.otel.recordSync(ctx, res.Duration, res.Verdict)
	return res
}

// fetch performs the conditional list fetch and applies a changed list.
// On error the watermark is left untouched.
func (s *syncer) fetch(ctx context.Context, res *SyncResult) error {
	if s.transport == nil {
		return ErrTransportRequired
	}

	watermark, err := s.cursors.Cursor(ctx)
	if err != nil {
		return err
	}

	result, err := s.transport.FetchMessages(ctx, watermark)
	if err != nil {
		return err
	}
	if result == nil {
		return ErrMalformedPayload
	}
	if result.NotModified {
		res.NotModified = true
		return nil
	}
	res.Fetched = len(result.Messages)

	if err := s.apply(ctx, result.Messages, res); err != nil {
		return err
	}

	snapshot, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.cache.merge(snapshot, s.now())
	res.Merged = true

	// The watermark moves last so a failure above re-fetches the full list.
	if result.Watermark == "" {
		return s.cursors.ClearCursor(ctx)
	}
	return s.cursors.SetCursor(ctx, result.Watermark)
}

// apply writes the server list into the repository.
//
// Content always comes from the server. For a row that already exists the
// confirmed flag takes the server value while a pending local edit keeps
// its local flag. Rows missing from the list are removed. Repositories that
// implement store.SnapshotWriter apply everything in one transaction.
func (s *syncer) apply(ctx context.Context, msgs []store.Message, res *SyncResult) error {
	existing, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	local := make(map[string]store.Message, len(existing))
	for _, m := range existing {
		local[m.ID] = m
	}

	seen := make(map[string]struct{}, len(msgs))
	upserts := make([]store.Message, 0, len(msgs))
	inserted := 0
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}

		m.ServerUnread = m.Unread
		old, ok := local[m.ID]
		if !ok {
			m.Deleted = false
			inserted++
		} else {
			if old.Unread != old.ServerUnread {
				m.Unread = old.Unread
			}
			m.Deleted = old.Deleted
		}
		upserts = append(upserts, m)
	}

	var vanished []string
	for id := range local {
		if _, ok := seen[id]; !ok {
			vanished = append(vanished, id)
		}
	}

	if w, ok := s.repo.(store.SnapshotWriter); ok {
		if err := w.ApplySnapshot(ctx, upserts, vanished); err != nil {
			return err
		}
	} else {
		if err := s.repo.UpsertBatch(ctx, upserts); err != nil {
			return err
		}
		if len(vanished) > 0 {
			if err := s.repo.Delete(ctx, vanished); err != nil {
				return err
			}
		}
	}
	res.Inserted = inserted
	res.Removed = len(vanished)
	return nil
}

// flush reports pending reads and deletions.
func (s *syncer) flush(ctx context.Context, cycleID string) error {
	if s.transport == nil {
		return nil
	}
	return errors.Join(
		s.flushRead(ctx, cycleID),
		s.flushDeleted(ctx, cycleID),
	)
}

func (s *syncer) flushRead(ctx context.Context, cycleID string) (err error) {
	ids, err := s.repo.UnconfirmedReadIDs(ctx)
	if err != nil || len(ids) == 0 {
		return wrapStep(cycleID, stepFlushRead, err)
	}

	ctx, endSpan := s.otel.startSpan(ctx, "inbox.flush_read", attribute.Int("count", len(ids)))
	defer func() { endSpan(err) }()

	msgs, err := s.load(ctx, ids)
	if err != nil {
		return wrapStep(cycleID, stepFlushRead, err)
	}
	if err := s.transport.PostMarkRead(ctx, msgs); err != nil {
		s.otel.recordFlush(ctx, stepFlushRead, len(msgs), err)
		return wrapStep(cycleID, stepFlushRead, err)
	}
	s.otel.recordFlush(ctx, stepFlushRead, len(msgs), nil)
	return wrapStep(cycleID, stepFlushRead, s.repo.ConfirmRead(ctx, ids))
}

func (s *syncer) flushDeleted(ctx context.Context, cycleID string) (err error) {
	ids, err := s.repo.PendingDeletionIDs(ctx)
	if err != nil || len(ids) == 0 {
		return wrapStep(cycleID, stepFlushDeleted, err)
	}

	ctx, endSpan := s.otel.startSpan(ctx, "inbox.flush_deleted", attribute.Int("count", len(ids)))
	defer func() { endSpan(err) }()

	msgs, err := s.load(ctx, ids)
	if err != nil {
		return wrapStep(cycleID, stepFlushDeleted, err)
	}
	if err := s.transport.PostDelete(ctx, msgs); err != nil {
		s.otel.recordFlush(ctx, stepFlushDeleted, len(msgs), err)
		return wrapStep(cycleID, stepFlushDeleted, err)
	}
	s.otel.recordFlush(ctx, stepFlushDeleted, len(msgs), nil)
	return wrapStep(cycleID, stepFlushDeleted, s.repo.Delete(ctx, ids))
}

// load returns the repository rows for ids.
func (s *syncer) load(ctx context.Context, ids []string) ([]store.Message, error) {
	all, err := s.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	want := store.IDIn(ids...)
	out := make([]store.Message, 0, len(ids))
	for _, m := range all {
		if want(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func wrapStep(cycleID, step string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{CycleID: cycleID, Step: step, Err: err}
}
