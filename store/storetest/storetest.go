// Package storetest provides a conformance suite for store.Repository
// implementations. Backend packages call Run from their own tests.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/rbaliyan/inbox/store"
)

// Factory returns a connected, empty repository. It registers its own cleanup.
type Factory func(t *testing.T) store.Repository

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.UnixMilli(1767225600000).UTC()

// NewMessage builds a valid message with the given id and offset from a fixed base time.
func NewMessage(id string, offset time.Duration, unread bool) store.Message {
	return store.Message{
		ID:           id,
		Title:        "title " + id,
		BodyURL:      "https://example.com/body/" + id,
		MessageURL:   "https://example.com/message/" + id,
		ReadURL:      "https://example.com/read/" + id,
		ContentType:  "text/html",
		Extras:       map[string]string{"id": id},
		Reporting:    json.RawMessage(`{"id":"` + id + `"}`),
		Payload:      json.RawMessage(`{"message_id":"` + id + `"}`),
		SentAt:       base.Add(offset),
		ServerUnread: unread,
		Unread:       unread,
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		repo := newRepo(t)
		exp := base.Add(48 * time.Hour)
		m := NewMessage("a", 0, true)
		m.ExpiresAt = &exp
		m.ListIconURL = "https://example.com/icon.png"
		m.Unread = false
		m.Deleted = true

		if err := repo.Upsert(ctx, m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		all, err := repo.LoadAll(ctx)
		if err != nil {
			t.Fatalf("load all: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 message, got %d", len(all))
		}
		AssertEqual(t, m, all[0])
	})

	t.Run("upsert replaces", func(t *testing.T) {
		repo := newRepo(t)
		m := NewMessage("a", 0, true)
		if err := repo.Upsert(ctx, m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		m.Title = "changed"
		m.Unread = false
		if err := repo.Upsert(ctx, m); err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		all, err := repo.LoadAll(ctx)
		if err != nil {
			t.Fatalf("load all: %v", err)
		}
		if len(all) != 1 || all[0].Title != "changed" || all[0].Unread {
			t.Errorf("expected replaced row, got %+v", all)
		}
	})

	t.Run("upsert rejects invalid", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Upsert(ctx, store.Message{}); !store.IsInvalidID(err) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("batch and ids", func(t *testing.T) {
		repo := newRepo(t)
		batch := []store.Message{
			NewMessage("a", 0, true),
			NewMessage("b", time.Minute, true),
			NewMessage("c", 2*time.Minute, false),
		}
		if err := repo.UpsertBatch(ctx, batch); err != nil {
			t.Fatalf("upsert batch: %v", err)
		}
		if err := repo.UpsertBatch(ctx, nil); err != nil {
			t.Fatalf("empty batch: %v", err)
		}
		ids, err := repo.AllIDs(ctx)
		if err != nil {
			t.Fatalf("all ids: %v", err)
		}
		AssertIDs(t, ids, "a", "b", "c")

		if err := repo.Delete(ctx, []string{"a", "missing"}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		ids, _ = repo.AllIDs(ctx)
		AssertIDs(t, ids, "b", "c")

		if err := repo.DeleteAll(ctx); err != nil {
			t.Fatalf("delete all: %v", err)
		}
		ids, _ = repo.AllIDs(ctx)
		AssertIDs(t, ids)
	})

	t.Run("read flags", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.UpsertBatch(ctx, []store.Message{
			NewMessage("a", 0, true),
			NewMessage("b", time.Minute, true),
			NewMessage("c", 2*time.Minute, false),
		}); err != nil {
			t.Fatalf("upsert batch: %v", err)
		}

		if err := repo.SetUnread(ctx, []string{"a", "b", "missing"}, false); err != nil {
			t.Fatalf("set unread: %v", err)
		}
		ids, err := repo.UnconfirmedReadIDs(ctx)
		if err != nil {
			t.Fatalf("unconfirmed: %v", err)
		}
		AssertIDs(t, ids, "a", "b")

		if err := repo.ConfirmRead(ctx, []string{"a"}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		ids, _ = repo.UnconfirmedReadIDs(ctx)
		AssertIDs(t, ids, "b")

		// Marking unread again cancels the pending report.
		if err := repo.SetUnread(ctx, []string{"b"}, true); err != nil {
			t.Fatalf("set unread: %v", err)
		}
		ids, _ = repo.UnconfirmedReadIDs(ctx)
		AssertIDs(t, ids)
	})

	t.Run("pending deletion", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.UpsertBatch(ctx, []store.Message{
			NewMessage("a", 0, true),
			NewMessage("b", time.Minute, true),
		}); err != nil {
			t.Fatalf("upsert batch: %v", err)
		}
		if err := repo.MarkDeleted(ctx, []string{"b"}); err != nil {
			t.Fatalf("mark deleted: %v", err)
		}
		ids, err := repo.PendingDeletionIDs(ctx)
		if err != nil {
			t.Fatalf("pending deletion: %v", err)
		}
		AssertIDs(t, ids, "b")

		all, _ := repo.LoadAll(ctx)
		if len(all) != 2 {
			t.Errorf("deleted rows must still load, got %d rows", len(all))
		}
	})

	t.Run("cursor", func(t *testing.T) {
		repo := newRepo(t)
		c, err := repo.Cursor(ctx)
		if err != nil || c != "" {
			t.Fatalf("expected empty cursor, got %q, %v", c, err)
		}
		if err := repo.SetCursor(ctx, "Wed, 21 Oct 2015 07:28:00 GMT"); err != nil {
			t.Fatalf("set cursor: %v", err)
		}
		if err := repo.SetCursor(ctx, "Thu, 22 Oct 2015 07:28:00 GMT"); err != nil {
			t.Fatalf("overwrite cursor: %v", err)
		}
		c, _ = repo.Cursor(ctx)
		if c != "Thu, 22 Oct 2015 07:28:00 GMT" {
			t.Errorf("unexpected cursor %q", c)
		}
		if err := repo.ClearCursor(ctx); err != nil {
			t.Fatalf("clear cursor: %v", err)
		}
		c, _ = repo.Cursor(ctx)
		if c != "" {
			t.Errorf("expected cleared cursor, got %q", c)
		}
	})

	t.Run("apply snapshot", func(t *testing.T) {
		repo := newRepo(t)
		w, ok := repo.(store.SnapshotWriter)
		if !ok {
			t.Skip("repository does not implement store.SnapshotWriter")
		}
		if err := repo.UpsertBatch(ctx, []store.Message{
			NewMessage("a", 0, true),
			NewMessage("b", time.Minute, true),
		}); err != nil {
			t.Fatalf("upsert batch: %v", err)
		}

		// An invalid entry aborts the whole snapshot.
		err := w.ApplySnapshot(ctx, []store.Message{NewMessage("c", 0, true), {}}, []string{"a"})
		if !store.IsInvalidID(err) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
		ids, _ := repo.AllIDs(ctx)
		AssertIDs(t, ids, "a", "b")

		b := NewMessage("b", time.Minute, true)
		b.Title = "changed"
		if err := w.ApplySnapshot(ctx, []store.Message{b, NewMessage("c", 0, true)}, []string{"a"}); err != nil {
			t.Fatalf("apply snapshot: %v", err)
		}
		all, err := repo.LoadAll(ctx)
		if err != nil {
			t.Fatalf("load all: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(all))
		}
		AssertEqual(t, b, all[0])
		ids, _ = repo.AllIDs(ctx)
		AssertIDs(t, ids, "b", "c")

		if err := w.ApplySnapshot(ctx, nil, nil); err != nil {
			t.Errorf("empty snapshot: %v", err)
		}
	})
}

// AssertIDs compares id sets ignoring order.
func AssertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	g := slices.Clone(got)
	w := slices.Clone(want)
	slices.Sort(g)
	slices.Sort(w)
	if !slices.Equal(g, w) {
		t.Errorf("ids = %v, want %v", g, w)
	}
}

// AssertEqual compares every persisted field.
func AssertEqual(t *testing.T, want, got store.Message) {
	t.Helper()
	if want.ID != got.ID || want.Title != got.Title || want.BodyURL != got.BodyURL ||
		want.MessageURL != got.MessageURL || want.ReadURL != got.ReadURL ||
		want.ListIconURL != got.ListIconURL || want.ContentType != got.ContentType {
		t.Errorf("string fields differ:\nwant %+v\ngot  %+v", want, got)
	}
	if !maps.Equal(want.Extras, got.Extras) {
		t.Errorf("extras = %v, want %v", got.Extras, want.Extras)
	}
	if !bytes.Equal(want.Reporting, got.Reporting) {
		t.Errorf("reporting = %s, want %s", got.Reporting, want.Reporting)
	}
	if !bytes.Equal(want.Payload, got.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, want.Payload)
	}
	if !want.SentAt.Equal(got.SentAt) {
		t.Errorf("sent at = %v, want %v", got.SentAt, want.SentAt)
	}
	switch {
	case want.ExpiresAt == nil && got.ExpiresAt != nil,
		want.ExpiresAt != nil && got.ExpiresAt == nil:
		t.Errorf("expires at = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	case want.ExpiresAt != nil && !want.ExpiresAt.Equal(*got.ExpiresAt):
		t.Errorf("expires at = %v, want %v", *got.ExpiresAt, *want.ExpiresAt)
	}
	if want.Unread != got.Unread || want.ServerUnread != got.ServerUnread || want.Deleted != got.Deleted {
		t.Errorf("flags = (unread %v, server %v, deleted %v), want (%v, %v, %v)",
			got.Unread, got.ServerUnread, got.Deleted, want.Unread, want.ServerUnread, want.Deleted)
	}
}
