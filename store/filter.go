package store

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Predicate selects messages in list queries. A nil Predicate matches all.
type Predicate func(Message) bool

// Match reports whether m satisfies p. A nil predicate matches everything.
func (p Predicate) Match(m Message) bool {
	return p == nil || p(m)
}

// And matches messages accepted by every predicate. Nil entries are skipped.
func And(preds ...Predicate) Predicate {
	return func(m Message) bool {
		for _, p := range preds {
			if !p.Match(m) {
				return false
			}
		}
		return true
	}
}

// Or matches messages accepted by at least one predicate.
func Or(preds ...Predicate) Predicate {
	return func(m Message) bool {
		for _, p := range preds {
			if p != nil && p(m) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(m Message) bool { return !p.Match(m) }
}

// UnreadOnly matches locally unread messages.
func UnreadOnly() Predicate {
	return func(m Message) bool { return m.Unread }
}

// ReadOnly matches locally read messages.
func ReadOnly() Predicate {
	return func(m Message) bool { return !m.Unread }
}

// IDIn matches messages whose ID is in ids.
func IDIn(ids ...string) Predicate {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(m Message) bool {
		_, ok := set[m.ID]
		return ok
	}
}

// SentAfter matches messages sent strictly after t.
func SentAfter(t time.Time) Predicate {
	return func(m Message) bool { return m.SentAt.After(t) }
}

// SentBefore matches messages sent strictly before t.
func SentBefore(t time.Time) Predicate {
	return func(m Message) bool { return m.SentAt.Before(t) }
}

// HasExtra matches messages carrying extra key with the given value.
// An empty value matches any message that has the key.
func HasExtra(key, value string) Predicate {
	return func(m Message) bool {
		v, ok := m.Extras[key]
		if !ok {
			return false
		}
		return value == "" || v == value
	}
}

// ContentTypeIs matches on the media type, ignoring parameters and case.
func ContentTypeIs(mediaType string) Predicate {
	want := strings.ToLower(strings.TrimSpace(mediaType))
	return func(m Message) bool {
		got, _, _ := strings.Cut(m.ContentType, ";")
		return strings.ToLower(strings.TrimSpace(got)) == want
	}
}

// TitleContains matches a case-insensitive substring of the title.
func TitleContains(s string) Predicate {
	needle := strings.ToLower(s)
	return func(m Message) bool {
		return strings.Contains(strings.ToLower(m.Title), needle)
	}
}

// Compare orders messages newest first, breaking ties by ascending ID.
func Compare(a, b Message) int {
	if c := b.SentAt.Compare(a.SentAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort orders msgs in place using Compare.
func Sort(msgs []Message) {
	slices.SortFunc(msgs, Compare)
}
