package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/inbox/content"
	"github.com/rbaliyan/inbox/store"
)

// wireMessage is a message as listed by the server.
type wireMessage struct {
	ID          string                     `json:"message_id"`
	Title       string                     `json:"title"`
	BodyURL     string                     `json:"message_body_url"`
	MessageURL  string                     `json:"message_url"`
	ReadURL     string                     `json:"message_read_url"`
	Sent        string                     `json:"message_sent"`
	Expiry      string                     `json:"message_expiry"`
	Unread      *bool                      `json:"unread"`
	Extras      map[string]json.RawMessage `json:"extra"`
	Reporting   json.RawMessage            `json:"message_reporting"`
	ContentType string                     `json:"content_type"`
	Icons       struct {
		ListIcon string `json:"list_icon"`
	} `json:"icons"`
}

// listResponse is the body of a message list response.
type listResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// reportRequest is the body of mark-read and delete requests.
type reportRequest struct {
	Messages []json.RawMessage `json:"messages"`
}

// Server timestamps are ISO 8601 in UTC, with or without the T separator,
// fraction and zone. Stored times have millisecond precision.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

var errInvalidPayload = errors.New("invalid message payload")

// decodeMessage converts one list entry into a store message. now is used
// when the server omits the sent date.
func decodeMessage(raw json.RawMessage, now time.Time) (store.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return store.Message{}, fmt.Errorf("%w: %w", errInvalidPayload, err)
	}

	switch {
	case w.ID == "":
		return store.Message{}, fmt.Errorf("%w: missing message_id", errInvalidPayload)
	case w.Title == "":
		return store.Message{}, fmt.Errorf("%w: missing title", errInvalidPayload)
	case w.BodyURL == "":
		return store.Message{}, fmt.Errorf("%w: missing message_body_url", errInvalidPayload)
	case w.MessageURL == "":
		return store.Message{}, fmt.Errorf("%w: missing message_url", errInvalidPayload)
	}

	if _, err := content.Parse(w.ContentType); err != nil {
		return store.Message{}, fmt.Errorf("%w: %w", errInvalidPayload, err)
	}

	sent := now.UTC().Truncate(time.Millisecond)
	if w.Sent != "" {
		t, err := parseTime(w.Sent)
		if err != nil {
			return store.Message{}, fmt.Errorf("%w: message_sent: %w", errInvalidPayload, err)
		}
		sent = t
	}

	// An unparseable expiry means the message never expires.
	var expires *time.Time
	if w.Expiry != "" {
		if t, err := parseTime(w.Expiry); err == nil {
			expires = &t
		}
	}

	unread := w.Unread != nil && *w.Unread

	return store.Message{
		ID:           w.ID,
		Title:        w.Title,
		BodyURL:      w.BodyURL,
		MessageURL:   w.MessageURL,
		ReadURL:      w.ReadURL,
		ListIconURL:  w.Icons.ListIcon,
		ContentType:  w.ContentType,
		Extras:       coerceExtras(w.Extras),
		Reporting:    nullToNil(w.Reporting),
		Payload:      append(json.RawMessage(nil), raw...),
		SentAt:       sent,
		ExpiresAt:    expires,
		ServerUnread: unread,
		Unread:       unread,
	}, nil
}

// coerceExtras turns extra values into strings. Non-string values keep
// their JSON text.
func coerceExtras(in map[string]json.RawMessage) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// reportingOf returns the reporting object for msg, falling back to one
// built from its id.
func reportingOf(m store.Message) json.RawMessage {
	if len(m.Reporting) > 0 {
		return m.Reporting
	}
	b, _ := json.Marshal(map[string]string{"message_id": m.ID})
	return b
}
