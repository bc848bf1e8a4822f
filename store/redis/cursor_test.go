package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/inbox/store"
)

func newTestCursorStore(t *testing.T, opts ...Option) (*CursorStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c, err := NewCursorStore(client, "u1", opts...)
	if err != nil {
		t.Fatalf("NewCursorStore: %v", err)
	}
	return c, mr
}

func TestNewCursorStore(t *testing.T) {
	if _, err := NewCursorStore(nil, "u1"); err == nil {
		t.Error("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewCursorStore(client, ""); !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCursorStore(t)

	if c.Key() != "inbox:cursor:u1" {
		t.Errorf("unexpected key %q", c.Key())
	}

	got, err := c.Cursor(ctx)
	if err != nil || got != "" {
		t.Fatalf("expected empty cursor, got %q, %v", got, err)
	}

	if err := c.SetCursor(ctx, "Fri, 02 Jan 2026 10:00:00 GMT"); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if v, _ := mr.Get(c.Key()); v != "Fri, 02 Jan 2026 10:00:00 GMT" {
		t.Errorf("unexpected stored value %q", v)
	}
	got, _ = c.Cursor(ctx)
	if got != "Fri, 02 Jan 2026 10:00:00 GMT" {
		t.Errorf("unexpected cursor %q", got)
	}

	if err := c.ClearCursor(ctx); err != nil {
		t.Fatalf("ClearCursor: %v", err)
	}
	if mr.Exists(c.Key()) {
		t.Error("expected key removed")
	}
}

func TestCursorTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCursorStore(t, WithTTL(time.Hour), WithKeyPrefix("app:"))

	if err := c.SetCursor(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if c.Key() != "app:u1" {
		t.Errorf("unexpected key %q", c.Key())
	}
	if ttl := mr.TTL(c.Key()); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	got, err := c.Cursor(ctx)
	if err != nil || got != "" {
		t.Errorf("expected expired cursor, got %q, %v", got, err)
	}
}

func TestCursorError(t *testing.T) {
	c, mr := newTestCursorStore(t, WithTimeout(time.Second))
	mr.SetError("boom")
	defer mr.SetError("")

	if _, err := c.Cursor(context.Background()); err == nil {
		t.Error("expected error")
	}
	if err := c.SetCursor(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}
