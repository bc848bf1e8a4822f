package mongo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/storetest"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestConformance(t *testing.T) {
	uri := os.Getenv("INBOX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("INBOX_TEST_MONGO_URI not set")
	}

	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) store.Repository {
		db := "inbox_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
		s := New(client, WithDatabase(db), WithLogger(testLogger))
		ctx := context.Background()
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() {
			client.Database(db).Drop(ctx)
			s.Close(ctx)
		})
		return s
	})
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	s := New(nil, WithLogger(testLogger))

	if err := s.Connect(ctx); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := s.LoadAll(ctx); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("LoadAll: expected ErrNotConnected, got %v", err)
	}
	if err := s.SetUnread(ctx, []string{"a"}, false); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("SetUnread: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Cursor(ctx); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("Cursor: expected ErrNotConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDocRoundTrip(t *testing.T) {
	exp := time.UnixMilli(1767312000123).UTC()
	m := storetest.NewMessage("a", time.Minute, true)
	m.ExpiresAt = &exp
	m.Unread = false
	m.Deleted = true
	m.ListIconURL = "https://example.com/icon.png"

	got := docToMessage(messageToDoc(m))
	storetest.AssertEqual(t, m, got)

	bare := store.Message{ID: "b", SentAt: exp}
	got = docToMessage(messageToDoc(bare))
	if got.Reporting != nil || got.Payload != nil || got.ExpiresAt != nil {
		t.Errorf("expected empty optional fields, got %+v", got)
	}
}

func TestOptions(t *testing.T) {
	o := newOptions(
		WithDatabase("db"),
		WithCollection("msgs"),
		WithStateCollection("state"),
		WithTimeout(time.Second),
		WithDatabase(""),
		WithTimeout(-1),
	)
	if o.database != "db" || o.collection != "msgs" || o.stateCollection != "state" {
		t.Errorf("unexpected names %+v", o)
	}
	if o.timeout != time.Second {
		t.Errorf("timeout = %v", o.timeout)
	}
}
