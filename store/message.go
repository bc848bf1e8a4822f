package store

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Extra keys with a conventional meaning in Message.Extras.
const (
	// ExtraSubtitle is the listing subtitle shown under the title.
	ExtraSubtitle = "com.urbanairship.listing.field1"
)

// Message is a single inbox message as tracked on the device.
//
// Two read flags are kept. Unread is the effective local state and may lead
// the server. ServerUnread is the last value the server confirmed. A row with
// Unread false and ServerUnread true carries a local mark-read that has not
// reached the server yet.
type Message struct {
	// ID is the server-assigned identifier. Immutable.
	ID string

	// Rendering fields extracted from the payload. The engine never
	// interprets them.
	Title       string
	BodyURL     string
	MessageURL  string
	ReadURL     string
	ListIconURL string
	ContentType string
	Extras      map[string]string

	// Reporting is the opaque blob the server expects echoed back when the
	// message is reported read or deleted.
	Reporting json.RawMessage

	// Payload is the raw server JSON for the message.
	Payload json.RawMessage

	SentAt    time.Time
	ExpiresAt *time.Time

	ServerUnread bool
	Unread       bool
	Deleted      bool
}

// IsExpired reports whether the message has an expiry at or before now.
func (m Message) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// IsRead is the inverse of Unread.
func (m Message) IsRead() bool { return !m.Unread }

// HasPendingRead reports whether the message was read locally but the server
// has not confirmed it.
func (m Message) HasPendingRead() bool {
	return !m.Unread && m.ServerUnread
}

// Subtitle returns the listing subtitle extra, if any.
func (m Message) Subtitle() string {
	return m.Extras[ExtraSubtitle]
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.Extras != nil {
		c.Extras = maps.Clone(m.Extras)
	}
	if m.Reporting != nil {
		c.Reporting = slices.Clone(m.Reporting)
	}
	if m.Payload != nil {
		c.Payload = slices.Clone(m.Payload)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}

// Validate checks the fields every backend relies on.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrInvalidID
	}
	if m.SentAt.IsZero() {
		return ErrInvalidMessage
	}
	return nil
}
