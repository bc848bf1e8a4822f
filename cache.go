package inbox

import (
	"sync"
	"time"

	"github.com/rbaliyan/inbox/store"
)

// Counts summarizes the cached inbox.
type Counts struct {
	Total  int
	Unread int
	Read   int
}

// messageCache is the in-memory view of the inbox.
//
// A message id lives in at most one of unread and read. pendingDeleted
// records ids deleted locally; a merge never brings them back.
type messageCache struct {
	mu             sync.RWMutex
	unread         map[string]store.Message
	read           map[string]store.Message
	pendingDeleted map[string]struct{}
	byURL          map[string]string // body url -> id
}

func newMessageCache() *messageCache {
	return &messageCache{
		unread:         make(map[string]store.Message),
		read:           make(map[string]store.Message),
		pendingDeleted: make(map[string]struct{}),
		byURL:          make(map[string]string),
	}
}

// addOrReplaceLocked puts msg into the partition matching its Unread flag,
// dropping any previous copy of the id. Callers hold c.mu.
func (c *messageCache) addOrReplaceLocked(msg store.Message) {
	c.removeLocked(msg.ID)
	if msg.Unread {
		c.unread[msg.ID] = msg
	} else {
		c.read[msg.ID] = msg
	}
	if msg.BodyURL != "" {
		c.byURL[msg.BodyURL] = msg.ID
	}
}

// removeLocked drops id from both partitions and the url index. Idempotent.
// Callers hold c.mu.
func (c *messageCache) removeLocked(id string) (store.Message, bool) {
	m, ok := c.unread[id]
	if !ok {
		m, ok = c.read[id]
	}
	if !ok {
		return store.Message{}, false
	}
	delete(c.unread, id)
	delete(c.read, id)
	if m.BodyURL != "" && c.byURL[m.BodyURL] == id {
		delete(c.byURL, m.BodyURL)
	}
	return m, true
}

func (c *messageCache) get(id string) (store.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.unread[id]; ok {
		return m.Clone(), true
	}
	if m, ok := c.read[id]; ok {
		return m.Clone(), true
	}
	return store.Message{}, false
}

func (c *messageCache) getByURL(bodyURL string) (store.Message, bool) {
	c.mu.RLock()
	id, ok := c.byURL[bodyURL]
	c.mu.RUnlock()
	if !ok {
		return store.Message{}, false
	}
	return c.get(id)
}

func (c *messageCache) counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Counts{
		Total:  len(c.unread) + len(c.read),
		Unread: len(c.unread),
		Read:   len(c.read),
	}
}

// list returns a sorted snapshot of both partitions filtered by pred.
func (c *messageCache) list(pred store.Predicate) []store.Message {
	c.mu.RLock()
	out := make([]store.Message, 0, len(c.unread)+len(c.read))
	for _, part := range []map[string]store.Message{c.unread, c.read} {
		for _, m := range part {
			if pred.Match(m) {
				out = append(out, m.Clone())
			}
		}
	}
	c.mu.RUnlock()
	store.Sort(out)
	return out
}

func (c *messageCache) ids() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.unread)+len(c.read))
	for id := range c.unread {
		ids = append(ids, id)
	}
	for id := range c.read {
		ids = append(ids, id)
	}
	return ids
}

// setUnread moves the given ids to the requested partition and returns the
// ids that actually moved. Unknown ids are ignored.
func (c *messageCache) setUnread(ids []string, unread bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, to := c.unread, c.read
	if unread {
		from, to = c.read, c.unread
	}
	var changed []string
	for _, id := range ids {
		m, ok := from[id]
		if !ok {
			continue
		}
		delete(from, id)
		m.Unread = unread
		to[id] = m
		changed = append(changed, id)
	}
	return changed
}

// delete removes ids that are present and records them as pending deletion.
// It returns the removed ids.
func (c *messageCache) delete(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if _, ok := c.removeLocked(id); ok {
			c.pendingDeleted[id] = struct{}{}
			removed = append(removed, id)
		}
	}
	return removed
}

func (c *messageCache) isPendingDeleted(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pendingDeleted[id]
	return ok
}

// clear drops all state, including pending deletions.
func (c *messageCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.unread)
	clear(c.read)
	clear(c.pendingDeleted)
	clear(c.byURL)
}

// merge rebuilds the partitions from snapshot.
//
// Status known before the merge wins over the snapshot: an id that was unread
// stays unread and an id that was read stays read. Ids that were pending
// deletion, or that the snapshot marks deleted or expired, are kept out of the
// partitions. Content always comes from the snapshot.
func (c *messageCache) merge(snapshot []store.Message, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevUnread := c.unread
	prevRead := c.read
	prevDeleted := make(map[string]struct{}, len(c.pendingDeleted))
	for id := range c.pendingDeleted {
		prevDeleted[id] = struct{}{}
	}

	c.unread = make(map[string]store.Message, len(prevUnread))
	c.read = make(map[string]store.Message, len(prevRead))
	clear(c.byURL)

	for _, m := range snapshot {
		_, wasDeleted := prevDeleted[m.ID]
		if m.Deleted || wasDeleted || m.IsExpired(now) {
			c.pendingDeleted[m.ID] = struct{}{}
			continue
		}
		m = m.Clone()
		if _, ok := prevUnread[m.ID]; ok {
			m.Unread = true
		} else if _, ok := prevRead[m.ID]; ok {
			m.Unread = false
		}
		c.addOrReplaceLocked(m)
	}
}

// expire removes messages whose expiry has passed and records them as
// pending deletion. It returns the removed ids.
func (c *messageCache) expire(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for _, part := range []map[string]store.Message{c.unread, c.read} {
		for id, m := range part {
			if m.IsExpired(now) {
				removed = append(removed, id)
			}
		}
	}
	for _, id := range removed {
		c.removeLocked(id)
		c.pendingDeleted[id] = struct{}{}
	}
	return removed
}

// nextExpiry returns the earliest expiry after now among cached messages.
func (c *messageCache) nextExpiry(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var next time.Time
	found := false
	for _, part := range []map[string]store.Message{c.unread, c.read} {
		for _, m := range part {
			if m.ExpiresAt == nil || !m.ExpiresAt.After(now) {
				continue
			}
			if !found || m.ExpiresAt.Before(next) {
				next = *m.ExpiresAt
				found = true
			}
		}
	}
	return next, found
}
