package mongo

import (
	"encoding/json"
	"time"

	"github.com/rbaliyan/inbox/store"
)

// messageDoc is the MongoDB document representation. Reporting and payload
// are kept as JSON text so they round-trip byte for byte.
type messageDoc struct {
	ID          string            `bson:"_id"`
	Title       string            `bson:"title"`
	BodyURL     string            `bson:"body_url"`
	MessageURL  string            `bson:"message_url"`
	ReadURL     string            `bson:"read_url,omitempty"`
	ListIconURL string            `bson:"list_icon_url,omitempty"`
	ContentType string            `bson:"content_type,omitempty"`
	Extras      map[string]string `bson:"extras,omitempty"`
	Reporting   string            `bson:"reporting,omitempty"`
	Payload     string            `bson:"payload,omitempty"`
	SentAt      time.Time         `bson:"sent_at"`
	ExpiresAt   *time.Time        `bson:"expires_at,omitempty"`
	Unread      bool              `bson:"unread"`
	UnreadOrig  bool              `bson:"unread_orig"`
	Deleted     bool              `bson:"deleted"`
}

// stateDoc holds a single named value of the state collection.
type stateDoc struct {
	ID    string `bson:"_id"`
	Value string `bson:"value"`
}

func messageToDoc(m store.Message) *messageDoc {
	d := &messageDoc{
		ID:          m.ID,
		Title:       m.Title,
		BodyURL:     m.BodyURL,
		MessageURL:  m.MessageURL,
		ReadURL:     m.ReadURL,
		ListIconURL: m.ListIconURL,
		ContentType: m.ContentType,
		Extras:      m.Extras,
		Reporting:   string(m.Reporting),
		Payload:     string(m.Payload),
		SentAt:      m.SentAt.UTC(),
		Unread:      m.Unread,
		UnreadOrig:  m.ServerUnread,
		Deleted:     m.Deleted,
	}
	if m.ExpiresAt != nil {
		t := m.ExpiresAt.UTC()
		d.ExpiresAt = &t
	}
	return d
}

func docToMessage(d *messageDoc) store.Message {
	m := store.Message{
		ID:           d.ID,
		Title:        d.Title,
		BodyURL:      d.BodyURL,
		MessageURL:   d.MessageURL,
		ReadURL:      d.ReadURL,
		ListIconURL:  d.ListIconURL,
		ContentType:  d.ContentType,
		Extras:       d.Extras,
		SentAt:       d.SentAt.UTC(),
		ServerUnread: d.UnreadOrig,
		Unread:       d.Unread,
		Deleted:      d.Deleted,
	}
	if d.Reporting != "" {
		m.Reporting = json.RawMessage(d.Reporting)
	}
	if d.Payload != "" {
		m.Payload = json.RawMessage(d.Payload)
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}
	return m
}
