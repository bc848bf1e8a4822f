package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rbaliyan/inbox/store"
)

const upsertQuery = `
	INSERT INTO inbox_messages (` + messageColumns + `)
	VALUES (:message_id, :title, :body_url, :message_url, :read_url, :list_icon_url,
		:content_type, :extras, :reporting, :payload, :sent_at, :expires_at,
		:unread, :unread_orig, :deleted)
	ON CONFLICT (message_id) DO UPDATE SET
		title = excluded.title,
		body_url = excluded.body_url,
		message_url = excluded.message_url,
		read_url = excluded.read_url,
		list_icon_url = excluded.list_icon_url,
		content_type = excluded.content_type,
		extras = excluded.extras,
		reporting = excluded.reporting,
		payload = excluded.payload,
		sent_at = excluded.sent_at,
		expires_at = excluded.expires_at,
		unread = excluded.unread,
		unread_orig = excluded.unread_orig,
		deleted = excluded.deleted
`

const deleteQuery = `DELETE FROM inbox_messages WHERE message_id IN (?)`

// Upsert writes msg, replacing any existing row with the same id.
func (s *Store) Upsert(ctx context.Context, msg store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	row, err := toRow(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.db.NamedExecContext(ctx, upsertQuery, row); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// UpsertBatch writes msgs in one transaction. Nothing is written if any
// message is invalid.
func (s *Store) UpsertBatch(ctx context.Context, msgs []store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	rows, err := toRows(msgs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return upsertRows(ctx, tx, rows)
	})
}

// ApplySnapshot upserts and deletes in a single transaction.
func (s *Store) ApplySnapshot(ctx context.Context, upserts []store.Message, deletes []string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}
	rows, err := toRows(upserts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertRows(ctx, tx, rows); err != nil {
			return err
		}
		return execIDsTx(ctx, tx, "delete messages", deleteQuery, deletes)
	})
}

func toRows(msgs []store.Message) ([]messageRow, error) {
	rows := make([]messageRow, len(msgs))
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		r, err := toRow(m)
		if err != nil {
			return nil, err
		}
		rows[i] = r
	}
	return rows, nil
}

func upsertRows(ctx context.Context, tx *sqlx.Tx, rows []messageRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return fmt.Errorf("upsert message %s: %w", r.ID, err)
		}
	}
	return nil
}

// Delete removes rows. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	return s.execIDs(ctx, "delete messages", deleteQuery, ids)
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbox_messages`); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

// SetUnread sets the local read flag of ids.
func (s *Store) SetUnread(ctx context.Context, ids []string, unread bool) error {
	return s.execIDs(ctx, "set unread", `UPDATE inbox_messages SET unread = ? WHERE message_id IN (?)`, ids, unread)
}

// MarkDeleted flags ids as deleted locally.
func (s *Store) MarkDeleted(ctx context.Context, ids []string) error {
	return s.execIDs(ctx, "mark deleted", `UPDATE inbox_messages SET deleted = ? WHERE message_id IN (?)`, ids, true)
}

// ConfirmRead records that the server accepted the local read state of ids.
func (s *Store) ConfirmRead(ctx context.Context, ids []string) error {
	return s.execIDs(ctx, "confirm read", `UPDATE inbox_messages SET unread_orig = unread WHERE message_id IN (?)`, ids)
}

// execIDs runs query once per chunk of ids inside a transaction. query takes
// args followed by a single IN (?) placeholder for the ids.
func (s *Store) execIDs(ctx context.Context, op, query string, ids []string, args ...any) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return execIDsTx(ctx, tx, op, query, ids, args...)
	})
}

func execIDsTx(ctx context.Context, tx *sqlx.Tx, op, query string, ids []string, args ...any) error {
	for start := 0; start < len(ids); start += maxBatchIDs {
		chunk := ids[start:min(start+maxBatchIDs, len(ids))]
		q, qargs, err := sqlx.In(query, append(args[:len(args):len(args)], chunk)...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), qargs...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", store.ErrTransactionFailed, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", store.ErrTransactionFailed, err)
	}
	return nil
}
