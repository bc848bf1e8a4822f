// Package store defines the persistence contract for the inbox.
// Implementations are in store/memory, store/sqlstore and store/mongo.
// store/redis provides a CursorStore that can be shared between processes.
//
// # Single Writer
//
// The inbox routes every repository write through one serial worker, so
// implementations never see concurrent writers from the same inbox. They
// must still be safe for concurrent use: reads may run from any goroutine
// and several processes may share a database.
//
// # Two Read Flags
//
// Each row carries the local read state (Message.Unread) and the last state
// the server confirmed (Message.ServerUnread). Local mark-read and mark-unread
// only touch the local flag. ConfirmRead copies the local flag into the
// confirmed one once the server has accepted the report. The pair is the
// durable record of "the server knows about this edit".
//
// # Deletion
//
// Delete removes rows physically. A local delete is first recorded with
// MarkDeleted and only removed after the server confirms it, so an unsent
// deletion survives restarts.
package store

import "context"

// Repository is the durable storage for inbox messages.
//
// LoadAll returns every row including deleted and expired ones, so the
// caller can compute diffs against a server snapshot.
type Repository interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Reads
	LoadAll(ctx context.Context) ([]Message, error)
	AllIDs(ctx context.Context) ([]string, error)

	// Upsert writes the message as given, replacing any existing row.
	Upsert(ctx context.Context, msg Message) error
	// UpsertBatch writes several messages in one transaction.
	UpsertBatch(ctx context.Context, msgs []Message) error
	// Delete physically removes rows. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error
	// DeleteAll removes every row.
	DeleteAll(ctx context.Context) error

	// Local state
	SetUnread(ctx context.Context, ids []string, unread bool) error
	MarkDeleted(ctx context.Context, ids []string) error

	// Server reconciliation
	UnconfirmedReadIDs(ctx context.Context) ([]string, error)
	ConfirmRead(ctx context.Context, ids []string) error
	PendingDeletionIDs(ctx context.Context) ([]string, error)

	CursorStore
}

// SnapshotWriter is implemented by repositories that can apply a server
// list atomically: upserts and deletions commit together or not at all.
type SnapshotWriter interface {
	ApplySnapshot(ctx context.Context, upserts []Message, deletes []string) error
}

// CursorStore persists the opaque list watermark (the server's
// Last-Modified value). An empty cursor means "fetch everything".
type CursorStore interface {
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, cursor string) error
	ClearCursor(ctx context.Context) error
}
