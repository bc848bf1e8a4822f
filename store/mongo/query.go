package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/inbox/store"
)

const cursorKey = "cursor"

// LoadAll returns every document, newest first.
func (s *Store) LoadAll(ctx context.Context) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{
		bson.E{Key: "sent_at", Value: -1},
		bson.E{Key: "_id", Value: 1},
	})
	cursor, err := s.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]store.Message, len(docs))
	for i := range docs {
		messages[i] = docToMessage(&docs[i])
	}
	return messages, nil
}

// AllIDs returns the id of every document.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	return s.findIDs(ctx, bson.M{})
}

// UnconfirmedReadIDs returns messages read locally whose read state the
// server has not confirmed.
func (s *Store) UnconfirmedReadIDs(ctx context.Context) ([]string, error) {
	return s.findIDs(ctx, bson.M{"unread": false, "unread_orig": true})
}

// PendingDeletionIDs returns messages deleted locally but not yet removed.
func (s *Store) PendingDeletionIDs(ctx context.Context) ([]string, error) {
	return s.findIDs(ctx, bson.M{"deleted": true})
}

func (s *Store) findIDs(ctx context.Context, filter bson.M) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find ids: %w", err)
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
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

	var doc stateDoc
	err := s.state.FindOne(ctx, bson.M{"_id": cursorKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return doc.Value, nil
}
