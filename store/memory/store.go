// Package memory provides an in-memory Repository implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/inbox/store"
)

// Compile-time check
var (
	_ store.Repository     = (*Store)(nil)
	_ store.SnapshotWriter = (*Store)(nil)
)

// Store implements store.Repository with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]store.Message
	cursor    string
	connected int32

	// failNext, when set, is returned once by the next write and cleared.
	failNext error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{messages: make(map[string]store.Message)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// FailNextWrite makes the next write operation return err.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// beginWrite locks for writing and consumes an injected failure.
// The caller must unlock when err is nil.
func (s *Store) beginWrite() error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// LoadAll returns clones of every row, newest first.
func (s *Store) LoadAll(_ context.Context) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]store.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()
	store.Sort(out)
	return out, nil
}

// AllIDs returns the id of every row.
func (s *Store) AllIDs(_ context.Context) ([]string, error) {
	return s.collectIDs(func(store.Message) bool { return true })
}

// UnconfirmedReadIDs returns rows read locally but not on the server.
func (s *Store) UnconfirmedReadIDs(_ context.Context) ([]string, error) {
	return s.collectIDs(store.Message.HasPendingRead)
}

// PendingDeletionIDs returns rows marked deleted.
func (s *Store) PendingDeletionIDs(_ context.Context) ([]string, error) {
	return s.collectIDs(func(m store.Message) bool { return m.Deleted })
}

func (s *Store) collectIDs(match func(store.Message) bool) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, m := range s.messages {
		if match(m) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Upsert stores a copy of msg.
func (s *Store) Upsert(_ context.Context, msg store.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// UpsertBatch stores copies of msgs. Validation happens before any write.
func (s *Store) UpsertBatch(_ context.Context, msgs []store.Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages[m.ID] = m.Clone()
	}
	return nil
}

// ApplySnapshot upserts and deletes under one lock.
func (s *Store) ApplySnapshot(_ context.Context, upserts []store.Message, deletes []string) error {
	for _, m := range upserts {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, m := range upserts {
		s.messages[m.ID] = m.Clone()
	}
	for _, id := range deletes {
		delete(s.messages, id)
	}
	return nil
}

// Delete removes rows. Unknown ids are ignored.
func (s *Store) Delete(_ context.Context, ids []string) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.messages, id)
	}
	return nil
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(_ context.Context) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	clear(s.messages)
	return nil
}

// SetUnread sets the local read flag.
func (s *Store) SetUnread(_ context.Context, ids []string, unread bool) error {
	return s.update(ids, func(m *store.Message) { m.Unread = unread })
}

// MarkDeleted flags rows for deletion on the server.
func (s *Store) MarkDeleted(_ context.Context, ids []string) error {
	return s.update(ids, func(m *store.Message) { m.Deleted = true })
}

// ConfirmRead copies the local read flag into the confirmed one.
func (s *Store) ConfirmRead(_ context.Context, ids []string) error {
	return s.update(ids, func(m *store.Message) { m.ServerUnread = m.Unread })
}

func (s *Store) update(ids []string, fn func(*store.Message)) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok {
			continue
		}
		fn(&m)
		s.messages[id] = m
	}
	return nil
}

// Cursor returns the stored watermark.
func (s *Store) Cursor(_ context.Context) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

// SetCursor stores the watermark.
func (s *Store) SetCursor(_ context.Context, cursor string) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

// ClearCursor removes the watermark.
func (s *Store) ClearCursor(ctx context.Context) error {
	return s.SetCursor(ctx, "")
}
