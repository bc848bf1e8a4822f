package inbox

import (
	"log/slog"
	"sync"
)

// Listener is notified after the visible inbox changes.
// Notifications are delivered on a dedicated goroutine, one at a time and in
// the order the changes happened.
type Listener interface {
	OnInboxUpdated()
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func()

// OnInboxUpdated calls f.
func (f ListenerFunc) OnInboxUpdated() { f() }

// ListenerID identifies a registered listener.
type ListenerID uint64

// listenerSet is the registry of listeners. Notification iterates over a
// copy so listeners may add or remove listeners, including themselves.
type listenerSet struct {
	mu     sync.Mutex
	next   ListenerID
	byID   map[ListenerID]Listener
	order  []ListenerID
	logger *slog.Logger
}

func newListenerSet(logger *slog.Logger) *listenerSet {
	return &listenerSet{byID: make(map[ListenerID]Listener), logger: logger}
}

func (s *listenerSet) add(l Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.byID[s.next] = l
	s.order = append(s.order, s.next)
	return s.next
}

func (s *listenerSet) remove(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *listenerSet) snapshot() []ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListenerID, len(s.order))
	copy(out, s.order)
	return out
}

func (s *listenerSet) lookup(id ListenerID) (Listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	return l, ok
}

// notify calls every listener registered at the time of the call. A
// listener removed before its turn is skipped.
func (s *listenerSet) notify() {
	for _, id := range s.snapshot() {
		l, ok := s.lookup(id)
		if !ok {
			continue
		}
		s.invoke(id, l)
	}
}

func (s *listenerSet) invoke(id ListenerID, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in inbox listener", "listener", uint64(id), "panic", r)
		}
	}()
	l.OnInboxUpdated()
}
