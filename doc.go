// Package inbox provides an offline-first message inbox for Go.
//
// An Inbox mirrors a user's message list from a remote service into a local
// repository and an in-memory cache. Reads never block on I/O. Local edits
// (mark read, mark unread, delete) are visible immediately, persisted in the
// background and reported to the server on the next sync. Refresh requests
// are coalesced so concurrent callers share one network round trip.
//
// # Basic Usage
//
//	// Create in-memory repository for testing
//	repo := memory.New()
//
//	// Create the inbox
//	ib, err := inbox.New(
//	    inbox.WithRepository(repo),
//	    inbox.WithTransport(api.NewClient(baseURL, api.WithCredentials(user, token))),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect loads the repository and starts the worker
//	if err := ib.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ib.Close(ctx)
//
//	// Refresh and wait for the outcome
//	if err := ib.RefreshWait(ctx, false); err != nil {
//	    log.Printf("refresh failed: %v", err)
//	}
//
//	for _, m := range ib.UnreadMessages(nil) {
//	    fmt.Println(m.Title)
//	}
//
// # Inbox Operations
//
//   - Counts, Messages, UnreadMessages, ReadMessages: snapshots, newest first
//   - Message, MessageByURL, MessageIDs: lookups
//   - MarkRead, MarkUnread, Delete, DeleteAll: local edits
//   - Refresh, RefreshWait, RunSyncCycle, SyncState: synchronization
//   - AddListener, RemoveListener: change notifications
//
// # Storage Backends
//
// The store package defines the Repository contract and provides:
//   - SQL (store/sqlstore) - SQLite or PostgreSQL via sqlx, with migrations
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - In-memory (store/memory) - for testing
//
// The list watermark can be kept apart from messages with WithCursorStore,
// for example in Redis (store/redis).
//
// # Events
//
// Inbox publishes typed events using the github.com/rbaliyan/event/v3
// library. Pass WithRedisClient or WithEventTransport to fan them out:
//
//	ib, err := inbox.New(
//	    inbox.WithRepository(repo),
//	    inbox.WithRedisClient(redisClient),
//	)
//
// Events are registered during Connect():
//
//	ib.Events().InboxUpdated.Subscribe(ctx, handler)
//	ib.Events().SyncCompleted.Subscribe(ctx, handler)
//
// Available events:
//   - InboxUpdated - after the visible inbox changes
//   - SyncCompleted - after every sync cycle, with its verdict
package inbox
