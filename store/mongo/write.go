package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/inbox/store"
)

// Upsert replaces the document for msg, inserting it if missing.
func (s *Store) Upsert(ctx context.Context, msg store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": msg.ID},
		messageToDoc(msg),
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// UpsertBatch writes msgs with one ordered bulk write. Every message is
// validated before anything is sent. Without a replica set transaction a
// server-side failure can leave a prefix of the batch written.
func (s *Store) UpsertBatch(ctx context.Context, msgs []store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(msgs))
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": m.ID}).
			SetReplacement(messageToDoc(m)).
			SetUpsert(true)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("%w: bulk upsert: %w", store.ErrTransactionFailed, err)
	}
	return nil
}

// Delete removes documents. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return s.checkConnected()
	}
	return s.deleteMany(ctx, "delete messages", bson.M{"_id": bson.M{"$in": ids}})
}

// DeleteAll removes every document.
func (s *Store) DeleteAll(ctx context.Context) error {
	return s.deleteMany(ctx, "delete all messages", bson.M{})
}

// SetUnread sets the local read flag of ids.
func (s *Store) SetUnread(ctx context.Context, ids []string, unread bool) error {
	return s.updateIDs(ctx, "set unread", ids, bson.M{"$set": bson.M{"unread": unread}})
}

// MarkDeleted flags ids as deleted locally.
func (s *Store) MarkDeleted(ctx context.Context, ids []string) error {
	return s.updateIDs(ctx, "mark deleted", ids, bson.M{"$set": bson.M{"deleted": true}})
}

// ConfirmRead records that the server accepted the local read state of ids.
func (s *Store) ConfirmRead(ctx context.Context, ids []string) error {
	// Pipeline update copies one field into another.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"unread_orig": "$unread"}}},
	}
	return s.updateIDs(ctx, "confirm read", ids, update)
}

// SetCursor stores the list watermark.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err := s.state.ReplaceOne(ctx,
		bson.M{"_id": cursorKey},
		stateDoc{ID: cursorKey, Value: cursor},
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
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

	if _, err := s.state.DeleteOne(ctx, bson.M{"_id": cursorKey}); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

func (s *Store) updateIDs(ctx context.Context, op string, ids []string, update any) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) deleteMany(ctx context.Context, op string, filter bson.M) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
