package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/inbox/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the inbox package without importing store directly.
type (
	Message   = store.Message
	Predicate = store.Predicate
)

// Connection states.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// Inbox is an offline-first mirror of a user's message list.
//
// Reads are served from memory and never block on I/O. Local edits are
// visible immediately and persisted in the background, in order, by a single
// worker that also performs every network call. Refreshes are coalesced:
// concurrent non-forced requests share one sync job and one answer.
type Inbox struct {
	opts      *options
	repo      store.Repository
	logger    *slog.Logger
	otel      *otelInstrumentation
	cache     *messageCache
	listeners *listenerSet
	coord     *coordinator
	syncer    *syncer

	state    int32
	worker   atomic.Pointer[serialQueue]
	delivery atomic.Pointer[serialQueue]
	eventBus *event.Bus
	events   *Events

	timerMu      sync.Mutex
	expiryTimer  *time.Timer
	retryTimer   *time.Timer
	retryAttempt int
}

// New creates an inbox. Call Connect to load the repository and start the
// background worker.
func New(opts ...Option) (*Inbox, error) {
	o := newOptions(opts...)

	if o.repository == nil {
		return nil, ErrRepositoryRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	ib := &Inbox{
		opts:      o,
		repo:      o.repository,
		logger:    o.logger,
		otel:      otelInstr,
		cache:     newMessageCache(),
		listeners: newListenerSet(o.logger),
	}
	ib.syncer = &syncer{
		repo:      o.repository,
		cursors:   o.cursors,
		transport: o.transport,
		cache:     ib.cache,
		logger:    o.logger,
		otel:      otelInstr,
		now:       o.now,
	}
	ib.coord = newCoordinator(ib.dispatchRefresh, ib.deliver)
	ib.coord.coalesced = func() { otelInstr.recordCoalesced(context.Background()) }
	return ib, nil
}

// IsConnected returns true if the inbox is connected and ready.
func (ib *Inbox) IsConnected() bool {
	return atomic.LoadInt32(&ib.state) == stateConnected
}

// Events returns the inbox's event instances. Nil before Connect.
func (ib *Inbox) Events() *Events {
	return ib.events
}

// Connect connects the repository, loads it into memory and starts the
// background worker and delivery queue.
func (ib *Inbox) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&ib.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&ib.state, stateConnected)
		} else {
			atomic.StoreInt32(&ib.state, stateDisconnected)
		}
	}()

	if err := ib.repo.Connect(ctx); err != nil {
		return fmt.Errorf("connect repository: %w", err)
	}

	snapshot, err := ib.repo.LoadAll(ctx)
	if err != nil {
		ib.repo.Close(ctx)
		return fmt.Errorf("load repository: %w", err)
	}
	ib.cache.merge(snapshot, ib.opts.now())

	bus, events, err := newEventBus(ctx, ib.opts)
	if err != nil {
		ib.repo.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}
	ib.eventBus = bus
	ib.events = events

	ib.worker.Store(newSerialQueue("worker", ib.logger))
	ib.delivery.Store(newSerialQueue("delivery", ib.logger))

	success = true
	counts := ib.cache.counts()
	ib.logger.Info("inbox connected", "total", counts.Total, "unread", counts.Unread)

	ib.scheduleExpiryRefresh()
	ib.notify("load")
	return nil
}

// Close stops accepting work, waits for queued writes and callbacks up to
// the shutdown timeout and closes the repository.
func (ib *Inbox) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&ib.state, stateConnected, stateDisconnected) {
		return nil
	}

	ib.stopTimers()

	var errs []error
	shutdownCtx, cancel := context.WithTimeout(ctx, ib.opts.shutdownTimeout)
	defer cancel()

	// The worker drains first: finished jobs hand their callbacks to the
	// delivery queue, which must still be open.
	if w := ib.worker.Load(); w != nil {
		if err := w.close(shutdownCtx); err != nil {
			ib.logger.Warn("timeout draining inbox worker", "pending", w.pending(), "error", err)
			errs = append(errs, fmt.Errorf("drain worker: %w", err))
		}
	}
	ib.coord.abort()
	if d := ib.delivery.Load(); d != nil {
		if err := d.close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain delivery: %w", err))
		}
	}

	// The noop bus holds no resources.
	if ib.eventBus != nil && (ib.opts.eventTransport != nil || ib.opts.redisClient != nil) {
		if err := ib.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := ib.repo.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}

	ib.logger.Info("inbox closed")
	return errors.Join(errs...)
}

// =============================================================================
// Reads
// =============================================================================

// Counts returns the number of visible messages.
func (ib *Inbox) Counts() Counts {
	return ib.cache.counts()
}

// Messages returns visible messages matching pred, newest first.
// A nil predicate matches all.
func (ib *Inbox) Messages(pred Predicate) []Message {
	return ib.cache.list(pred)
}

// UnreadMessages returns unread messages matching pred, newest first.
func (ib *Inbox) UnreadMessages(pred Predicate) []Message {
	return ib.cache.list(store.And(store.UnreadOnly(), pred))
}

// ReadMessages returns read messages matching pred, newest first.
func (ib *Inbox) ReadMessages(pred Predicate) []Message {
	return ib.cache.list(store.And(store.ReadOnly(), pred))
}

// Message returns a visible message by id.
func (ib *Inbox) Message(id string) (Message, error) {
	m, ok := ib.cache.get(id)
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

// MessageByURL returns the visible message whose body URL is bodyURL.
func (ib *Inbox) MessageByURL(bodyURL string) (Message, error) {
	m, ok := ib.cache.getByURL(bodyURL)
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

// MessageIDs returns the ids of all visible messages in no particular order.
func (ib *Inbox) MessageIDs() []string {
	return ib.cache.ids()
}

// =============================================================================
// Local edits
// =============================================================================

// MarkRead marks messages read. Unknown ids are ignored.
func (ib *Inbox) MarkRead(ids ...string) {
	changed := ib.cache.setUnread(ids, false)
	if len(changed) == 0 {
		return
	}
	ib.otel.recordMutation(context.Background(), "mark_read", len(changed))
	ib.background("mark read", func(ctx context.Context) error {
		return ib.persistFlags(ctx, changed)
	})
	if ib.opts.stateSync {
		ib.SyncState()
	}
	ib.notify("mark_read")
}

// MarkUnread marks messages unread. Unknown ids are ignored.
// The server is not told; the local flag wins over later refreshes.
func (ib *Inbox) MarkUnread(ids ...string) {
	changed := ib.cache.setUnread(ids, true)
	if len(changed) == 0 {
		return
	}
	ib.otel.recordMutation(context.Background(), "mark_unread", len(changed))
	ib.background("mark unread", func(ctx context.Context) error {
		return ib.persistFlags(ctx, changed)
	})
	ib.notify("mark_unread")
}

// Delete hides messages and queues their deletion on the server.
// Unknown ids are ignored.
func (ib *Inbox) Delete(ids ...string) {
	removed := ib.cache.delete(ids)
	if len(removed) == 0 {
		return
	}
	ib.otel.recordMutation(context.Background(), "delete", len(removed))
	ib.background("delete", func(ctx context.Context) error {
		return ib.repo.MarkDeleted(ctx, removed)
	})
	if ib.opts.stateSync {
		ib.SyncState()
	}
	ib.notify("delete")
}

// persistFlags writes the cached read flag of ids to the repository, so the
// last queued write always matches the cache.
func (ib *Inbox) persistFlags(ctx context.Context, ids []string) error {
	var unread, read []string
	for _, id := range ids {
		m, ok := ib.cache.get(id)
		if !ok {
			continue
		}
		if m.Unread {
			unread = append(unread, id)
		} else {
			read = append(read, id)
		}
	}
	var errs []error
	if len(unread) > 0 {
		errs = append(errs, ib.repo.SetUnread(ctx, unread, true))
	}
	if len(read) > 0 {
		errs = append(errs, ib.repo.SetUnread(ctx, read, false))
	}
	return errors.Join(errs...)
}

// DeleteAll purges every message and the list watermark locally. The server
// is not told, so the next refresh downloads the full list again.
func (ib *Inbox) DeleteAll() {
	ib.cache.clear()
	ib.background("delete all", func(ctx context.Context) error {
		if err := ib.repo.DeleteAll(ctx); err != nil {
			return err
		}
		return ib.opts.cursors.ClearCursor(ctx)
	})
	ib.notify("delete_all")
}

// =============================================================================
// Listeners
// =============================================================================

// AddListener registers l and returns its id. A nil listener is ignored.
func (ib *Inbox) AddListener(l Listener) ListenerID {
	if l == nil {
		return 0
	}
	return ib.listeners.add(l)
}

// RemoveListener unregisters a listener. It reports whether it was registered.
func (ib *Inbox) RemoveListener(id ListenerID) bool {
	return ib.listeners.remove(id)
}

// notify tells listeners and event subscribers that the visible inbox
// changed. Delivery happens on the delivery queue, in call order.
func (ib *Inbox) notify(reason string) {
	d := ib.delivery.Load()
	if d == nil {
		return
	}
	counts := ib.cache.counts()
	d.enqueue(func() {
		ib.listeners.notify()
		if ib.events != nil {
			publish(context.Background(), ib.opts, ib.events.InboxUpdated, EventNameInboxUpdated, InboxUpdatedEvent{
				Reason:    reason,
				Total:     counts.Total,
				Unread:    counts.Unread,
				UpdatedAt: time.Now().UTC(),
			})
		}
	})
}

// =============================================================================
// Sync
// =============================================================================

// Refresh requests a sync with the server. cb, if not nil, receives the
// outcome on the delivery queue. A non-forced request joins an in-flight
// refresh; a forced one always starts a new sync.
func (ib *Inbox) Refresh(force bool, cb RefreshCallback) *PendingFetch {
	return ib.coord.request(cb, force)
}

// RefreshWait requests a refresh and waits for its outcome.
// If ctx ends first the callback is canceled; the sync itself keeps running.
func (ib *Inbox) RefreshWait(ctx context.Context, force bool) error {
	if !ib.IsConnected() {
		return ErrNotConnected
	}
	done := make(chan bool, 1)
	p := ib.Refresh(force, func(ok bool) { done <- ok })
	select {
	case ok := <-done:
		if !ok {
			return ErrRefreshFailed
		}
		return nil
	case <-ctx.Done():
		p.Cancel()
		return ctx.Err()
	}
}

// RunSyncCycle runs one sync cycle on the worker and returns its verdict.
// It is the entry point for external job schedulers. If ctx ends before the
// cycle finishes, VerdictRetry is returned and the cycle completes anyway.
func (ib *Inbox) RunSyncCycle(ctx context.Context) Verdict {
	w := ib.worker.Load()
	if w == nil || !ib.IsConnected() {
		return VerdictRetry
	}
	ch := make(chan Verdict, 1)
	if !w.enqueue(func() { ch <- ib.cycle().Verdict }) {
		return VerdictRetry
	}
	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		return VerdictRetry
	}
}

// SyncState reports pending reads and deletions without fetching the list.
func (ib *Inbox) SyncState() {
	ib.background("sync state", func(ctx context.Context) error {
		return ib.syncer.flush(ctx, "state")
	})
}

func (ib *Inbox) dispatchRefresh(gen uint64) bool {
	w := ib.worker.Load()
	if w == nil || !ib.IsConnected() {
		return false
	}
	return w.enqueue(func() { ib.runRefresh(gen) })
}

// runRefresh runs a coordinated refresh job. A panic counts as failure so
// waiting callers still get an answer.
func (ib *Inbox) runRefresh(gen uint64) {
	success := false
	defer func() {
		if r := recover(); r != nil {
			ib.logger.Error("panic in refresh job", "generation", gen, "panic", r)
		}
		ib.coord.finish(gen, success)
	}()
	success = ib.cycle().Verdict == VerdictSuccess
}

// cycle runs one sync cycle and its follow-ups. Must run on the worker.
func (ib *Inbox) cycle() SyncResult {
	ctx, cancel := context.WithTimeout(context.Background(), ib.opts.syncTimeout)
	defer cancel()

	res := ib.syncer.run(ctx)

	// Expiry is local; it applies whether or not the server was reachable.
	changed := ib.expireCached()
	switch res.Verdict {
	case VerdictSuccess:
		ib.resetRetry()
		changed = changed || res.Merged
	case VerdictRetry:
		ib.scheduleRetry()
	}
	if changed {
		ib.notify("refresh")
	}
	ib.scheduleExpiryRefresh()

	if ib.events != nil {
		publish(ctx, ib.opts, ib.events.SyncCompleted, EventNameSyncCompleted, SyncCompletedEvent{
			CycleID:     res.CycleID,
			Verdict:     res.Verdict.String(),
			NotModified: res.NotModified,
			Fetched:     res.Fetched,
			Removed:     res.Removed,
			Duration:    res.Duration,
			CompletedAt: time.Now().UTC(),
		})
	}
	return res
}

// expireCached drops expired messages from the cache and reports whether
// any were removed.
func (ib *Inbox) expireCached() bool {
	expired := ib.cache.expire(ib.opts.now())
	if len(expired) == 0 {
		return false
	}
	ib.logger.Debug("inbox messages expired", "count", len(expired))
	return true
}

// background queues a repository or network task on the worker.
func (ib *Inbox) background(name string, fn func(ctx context.Context) error) {
	w := ib.worker.Load()
	if w == nil {
		ib.logger.Debug("inbox not connected, dropping background task", "task", name)
		return
	}
	ok := w.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ib.opts.syncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			ib.logger.Warn("inbox background task failed", "task", name, "error", err)
		}
	})
	if !ok {
		ib.logger.Warn("inbox closed, dropping background task", "task", name)
	}
}

// deliver runs fn on the delivery queue, or on its own goroutine when the
// queue is not available, so callers always get an answer.
func (ib *Inbox) deliver(fn func()) {
	if d := ib.delivery.Load(); d != nil && d.enqueue(fn) {
		return
	}
	go fn()
}

// =============================================================================
// Timers
// =============================================================================

// scheduleExpiryRefresh arms a refresh for the earliest future expiry.
func (ib *Inbox) scheduleExpiryRefresh() {
	if !ib.opts.expiryRefresh {
		return
	}
	now := ib.opts.now()
	next, ok := ib.cache.nextExpiry(now)

	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	if ib.expiryTimer != nil {
		ib.expiryTimer.Stop()
		ib.expiryTimer = nil
	}
	if !ok || !ib.IsConnected() {
		return
	}
	ib.expiryTimer = time.AfterFunc(next.Sub(now), func() {
		if ib.expireCached() {
			ib.notify("expired")
		}
		ib.logger.Debug("message expired, refreshing inbox")
		ib.Refresh(false, nil)
	})
}

// scheduleRetry arms a backoff refresh after a transient failure.
func (ib *Inbox) scheduleRetry() {
	if !ib.opts.autoRetry {
		return
	}
	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	if ib.retryAttempt >= ib.opts.retryPolicy.MaxRetries || !ib.IsConnected() {
		ib.logger.Warn("inbox refresh retries exhausted", "attempts", ib.retryAttempt)
		return
	}
	delay := ib.opts.retryPolicy.Backoff(ib.retryAttempt)
	ib.retryAttempt++
	if ib.retryTimer != nil {
		ib.retryTimer.Stop()
	}
	ib.logger.Info("scheduling inbox refresh retry", "attempt", ib.retryAttempt, "delay", delay)
	ib.retryTimer = time.AfterFunc(delay, func() {
		ib.Refresh(false, nil)
	})
}

func (ib *Inbox) resetRetry() {
	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	ib.retryAttempt = 0
	if ib.retryTimer != nil {
		ib.retryTimer.Stop()
		ib.retryTimer = nil
	}
}

func (ib *Inbox) stopTimers() {
	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	if ib.expiryTimer != nil {
		ib.expiryTimer.Stop()
		ib.expiryTimer = nil
	}
	if ib.retryTimer != nil {
		ib.retryTimer.Stop()
		ib.retryTimer = nil
	}
}
