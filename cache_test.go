package inbox

import (
	"slices"
	"testing"
	"time"

	"github.com/rbaliyan/inbox/store"
)

func TestCacheMerge(t *testing.T) {
	now := time.Now()

	t.Run("partitions by unread flag", func(t *testing.T) {
		c := newMessageCache()
		c.merge([]store.Message{msg("a", 0, true), msg("b", 1, false)}, now)

		got := c.counts()
		if got != (Counts{Total: 2, Unread: 1, Read: 1}) {
			t.Errorf("unexpected counts %+v", got)
		}
	})

	t.Run("known status wins over snapshot", func(t *testing.T) {
		c := newMessageCache()
		c.merge([]store.Message{msg("a", 0, true), msg("b", 1, false)}, now)

		// Snapshot flips both flags; the cached status must survive.
		a := msg("a", 0, false)
		a.Title = "new title"
		c.merge([]store.Message{a, msg("b", 1, true), msg("c", 2, true)}, now)

		m, _ := c.get("a")
		if !m.Unread {
			t.Error("expected a to stay unread")
		}
		if m.Title != "new title" {
			t.Errorf("expected content from snapshot, got %q", m.Title)
		}
		if m, _ := c.get("b"); m.Unread {
			t.Error("expected b to stay read")
		}
		if m, _ := c.get("c"); !m.Unread {
			t.Error("expected new message c to take snapshot flag")
		}
	})

	t.Run("drops ids missing from snapshot", func(t *testing.T) {
		c := newMessageCache()
		c.merge([]store.Message{msg("a", 0, true), msg("b", 1, false)}, now)
		c.merge([]store.Message{msg("b", 1, false)}, now)

		if _, ok := c.get("a"); ok {
			t.Error("expected a to be gone")
		}
		if c.counts().Total != 1 {
			t.Errorf("expected 1 message, got %d", c.counts().Total)
		}
	})

	t.Run("excludes deleted expired and pending deletion", func(t *testing.T) {
		c := newMessageCache()
		c.merge([]store.Message{msg("a", 0, true)}, now)
		c.delete([]string{"a"})

		gone := now.Add(-time.Minute)
		later := now.Add(time.Hour)
		deleted := msg("d", 1, true)
		deleted.Deleted = true
		expired := msg("e", 2, true)
		expired.ExpiresAt = &gone
		live := msg("f", 3, true)
		live.ExpiresAt = &later

		c.merge([]store.Message{msg("a", 0, true), deleted, expired, live}, now)

		if got := c.ids(); !slices.Equal(got, []string{"f"}) {
			t.Errorf("expected only f visible, got %v", got)
		}
		for _, id := range []string{"a", "d", "e"} {
			if !c.isPendingDeleted(id) {
				t.Errorf("expected %s pending deletion", id)
			}
		}
	})
}

func TestCacheAddOrReplace(t *testing.T) {
	c := newMessageCache()
	a := msg("a", 0, true)

	c.mu.Lock()
	c.addOrReplaceLocked(a)
	a.Unread = false
	a.BodyURL = "https://example.com/a2"
	c.addOrReplaceLocked(a)
	c.mu.Unlock()

	if got := c.counts(); got != (Counts{Total: 1, Unread: 0, Read: 1}) {
		t.Errorf("expected a moved to read, got %+v", got)
	}
	if m, ok := c.getByURL("https://example.com/a2"); !ok || m.ID != "a" {
		t.Errorf("expected lookup by new url, got %+v %v", m, ok)
	}
	if _, ok := c.getByURL(msg("a", 0, true).BodyURL); ok {
		t.Error("expected old url dropped from index")
	}

	c.mu.Lock()
	_, removed := c.removeLocked("a")
	_, again := c.removeLocked("a")
	c.mu.Unlock()
	if !removed || again {
		t.Errorf("expected first remove to succeed only, got %v/%v", removed, again)
	}
	if c.counts().Total != 0 {
		t.Errorf("expected empty cache, got %+v", c.counts())
	}
}

func TestCacheEdits(t *testing.T) {
	now := time.Now()
	c := newMessageCache()
	c.merge([]store.Message{msg("a", 0, true), msg("b", 1, true), msg("c", 2, false)}, now)

	t.Run("setUnread reports only moved ids", func(t *testing.T) {
		changed := c.setUnread([]string{"a", "c", "missing"}, false)
		if !slices.Equal(changed, []string{"a"}) {
			t.Errorf("expected [a], got %v", changed)
		}
		if got := c.counts(); got.Unread != 1 || got.Read != 2 {
			t.Errorf("unexpected counts %+v", got)
		}
	})

	t.Run("delete ignores unknown ids", func(t *testing.T) {
		removed := c.delete([]string{"b", "missing"})
		if !slices.Equal(removed, []string{"b"}) {
			t.Errorf("expected [b], got %v", removed)
		}
		if c.isPendingDeleted("missing") {
			t.Error("unknown id must not become pending deletion")
		}
	})

	t.Run("lookup by url", func(t *testing.T) {
		m, ok := c.getByURL("https://example.com/body/c")
		if !ok || m.ID != "c" {
			t.Errorf("expected c, got %v %v", m.ID, ok)
		}
		if _, ok := c.getByURL("https://example.com/body/b"); ok {
			t.Error("deleted message must not be found by url")
		}
	})

	t.Run("reads are copies", func(t *testing.T) {
		m, _ := c.get("c")
		m.Extras["id"] = "changed"
		again, _ := c.get("c")
		if again.Extras["id"] != "c" {
			t.Error("mutating a returned message changed the cache")
		}
	})

	t.Run("clear", func(t *testing.T) {
		c.clear()
		if c.counts().Total != 0 || c.isPendingDeleted("b") {
			t.Error("expected empty cache")
		}
	})
}

func TestCacheList(t *testing.T) {
	c := newMessageCache()
	tie := msg("b", 5, true)
	c.merge([]store.Message{msg("old", 0, false), msg("c", 5, false), tie, msg("new", 10, true)}, time.Now())

	got := ids(c.list(nil))
	want := []string{"new", "b", "c", "old"}
	if !slices.Equal(got, want) {
		t.Errorf("list order = %v, want %v", got, want)
	}

	got = ids(c.list(store.UnreadOnly()))
	if !slices.Equal(got, []string{"new", "b"}) {
		t.Errorf("unread list = %v", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	now := time.Now()
	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)

	a := msg("a", 0, true)
	a.ExpiresAt = &later
	b := msg("b", 1, true)
	b.ExpiresAt = &soon

	c := newMessageCache()
	c.merge([]store.Message{a, b, msg("c", 2, true)}, now)

	next, ok := c.nextExpiry(now)
	if !ok || !next.Equal(soon) {
		t.Fatalf("nextExpiry = %v %v, want %v", next, ok, soon)
	}

	removed := c.expire(soon.Add(time.Second))
	if !slices.Equal(removed, []string{"b"}) {
		t.Errorf("expire removed %v, want [b]", removed)
	}
	if !c.isPendingDeleted("b") {
		t.Error("expired message should be pending deletion")
	}

	if _, ok := c.nextExpiry(later.Add(time.Second)); ok {
		t.Error("expected no future expiry")
	}
}
