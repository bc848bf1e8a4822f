package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rbaliyan/inbox/store"
)

const cursorKey = "cursor"

// LoadAll returns every row, newest first.
func (s *Store) LoadAll(ctx context.Context) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []messageRow
	query := `SELECT ` + messageColumns + ` FROM inbox_messages ORDER BY sent_at DESC, message_id ASC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]store.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AllIDs returns the id of every row.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	return s.selectIDs(ctx, `SELECT message_id FROM inbox_messages`)
}

// UnconfirmedReadIDs returns rows read locally whose read state the server
// has not confirmed.
func (s *Store) UnconfirmedReadIDs(ctx context.Context) ([]string, error) {
	return s.selectIDs(ctx, `SELECT message_id FROM inbox_messages WHERE NOT unread AND unread_orig`)
}

// PendingDeletionIDs returns rows deleted locally but not yet removed.
func (s *Store) PendingDeletionIDs(ctx context.Context) ([]string, error) {
	return s.selectIDs(ctx, `SELECT message_id FROM inbox_messages WHERE deleted`)
}

func (s *Store) selectIDs(ctx context.Context, query string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	return ids, nil
}

// Cursor returns the stored list watermark, or "" when none is set.
func (s *Store) Cursor(ctx context.Context) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM inbox_state WHERE name = ?`), cursorKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return value, nil
}

// SetCursor stores the list watermark.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := s.db.Rebind(`
		INSERT INTO inbox_state (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`)
	if _, err := s.db.ExecContext(ctx, query, cursorKey, cursor); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// ClearCursor removes the list watermark.
func (s *Store) ClearCursor(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM inbox_state WHERE name = ?`), cursorKey); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}
