package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rbaliyan/inbox/store"
)

// messageColumns lists the columns of inbox_messages in row order.
const messageColumns = `message_id, title, body_url, message_url, read_url, list_icon_url,
	content_type, extras, reporting, payload, sent_at, expires_at,
	unread, unread_orig, deleted`

// messageRow is the database representation of a message. Times are unix
// milliseconds; extras are a JSON object.
type messageRow struct {
	ID          string         `db:"message_id"`
	Title       string         `db:"title"`
	BodyURL     string         `db:"body_url"`
	MessageURL  string         `db:"message_url"`
	ReadURL     string         `db:"read_url"`
	ListIconURL string         `db:"list_icon_url"`
	ContentType string         `db:"content_type"`
	Extras      string         `db:"extras"`
	Reporting   sql.NullString `db:"reporting"`
	Payload     sql.NullString `db:"payload"`
	SentAt      int64          `db:"sent_at"`
	ExpiresAt   sql.NullInt64  `db:"expires_at"`
	Unread      bool           `db:"unread"`
	UnreadOrig  bool           `db:"unread_orig"`
	Deleted     bool           `db:"deleted"`
}

func toRow(m store.Message) (messageRow, error) {
	extras := "{}"
	if len(m.Extras) > 0 {
		b, err := json.Marshal(m.Extras)
		if err != nil {
			return messageRow{}, fmt.Errorf("encode extras: %w", err)
		}
		extras = string(b)
	}

	r := messageRow{
		ID:          m.ID,
		Title:       m.Title,
		BodyURL:     m.BodyURL,
		MessageURL:  m.MessageURL,
		ReadURL:     m.ReadURL,
		ListIconURL: m.ListIconURL,
		ContentType: m.ContentType,
		Extras:      extras,
		Reporting:   nullJSON(m.Reporting),
		Payload:     nullJSON(m.Payload),
		SentAt:      m.SentAt.UnixMilli(),
		Unread:      m.Unread,
		UnreadOrig:  m.ServerUnread,
		Deleted:     m.Deleted,
	}
	if m.ExpiresAt != nil {
		r.ExpiresAt = sql.NullInt64{Int64: m.ExpiresAt.UnixMilli(), Valid: true}
	}
	return r, nil
}

func (r messageRow) toMessage() (store.Message, error) {
	m := store.Message{
		ID:           r.ID,
		Title:        r.Title,
		BodyURL:      r.BodyURL,
		MessageURL:   r.MessageURL,
		ReadURL:      r.ReadURL,
		ListIconURL:  r.ListIconURL,
		ContentType:  r.ContentType,
		SentAt:       time.UnixMilli(r.SentAt).UTC(),
		ServerUnread: r.UnreadOrig,
		Unread:       r.Unread,
		Deleted:      r.Deleted,
	}
	if r.Extras != "" && r.Extras != "{}" {
		if err := json.Unmarshal([]byte(r.Extras), &m.Extras); err != nil {
			return store.Message{}, fmt.Errorf("decode extras of %s: %w", r.ID, err)
		}
	}
	if r.Reporting.Valid {
		m.Reporting = json.RawMessage(r.Reporting.String)
	}
	if r.Payload.Valid {
		m.Payload = json.RawMessage(r.Payload.String)
	}
	if r.ExpiresAt.Valid {
		t := time.UnixMilli(r.ExpiresAt.Int64).UTC()
		m.ExpiresAt = &t
	}
	return m, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
