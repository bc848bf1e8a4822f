// Package redis provides a store.CursorStore backed by Redis, so several
// processes syncing the same user can share one list watermark.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/inbox/store"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "inbox:cursor:"
	DefaultTimeout   = 5 * time.Second
)

// Compile-time check
var _ store.CursorStore = (*CursorStore)(nil)

// CursorStore keeps the list watermark under one Redis key.
type CursorStore struct {
	client redis.UniversalClient
	key    string
	opts   *options
	logger *slog.Logger
}

// NewCursorStore creates a cursor store for userID. The key is the
// configured prefix followed by userID.
func NewCursorStore(client redis.UniversalClient, userID string, opts ...Option) (*CursorStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis: client is required")
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}
	o := newOptions(opts...)
	return &CursorStore{
		client: client,
		key:    o.prefix + userID,
		opts:   o,
		logger: o.logger,
	}, nil
}

// Key returns the Redis key holding the cursor.
func (c *CursorStore) Key() string {
	return c.key
}

// Cursor returns the stored watermark, or "" when none is set.
func (c *CursorStore) Cursor(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	v, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return v, nil
}

// SetCursor stores the watermark. With a TTL configured the key expires and
// the next sync fetches the full list.
func (c *CursorStore) SetCursor(ctx context.Context, cursor string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key, cursor, c.opts.ttl).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	c.logger.Debug("stored inbox cursor", "key", c.key)
	return nil
}

// ClearCursor deletes the watermark.
func (c *CursorStore) ClearCursor(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}
