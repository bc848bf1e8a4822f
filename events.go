package inbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
)

// Event names for inbox events.
const (
	EventNameInboxUpdated  = "inbox.updated"
	EventNameSyncCompleted = "inbox.sync.completed"
)

// InboxUpdatedEvent is published after the visible inbox changes.
type InboxUpdatedEvent struct {
	Reason    string    `json:"reason"` // "refresh", "expired", "mark_read", "mark_unread", "delete", "delete_all"
	Total     int       `json:"total"`
	Unread    int       `json:"unread"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncCompletedEvent is published after every sync cycle.
type SyncCompletedEvent struct {
	CycleID     string        `json:"cycle_id"`
	Verdict     string        `json:"verdict"`
	NotModified bool          `json:"not_modified"`
	Fetched     int           `json:"fetched"`
	Removed     int           `json:"removed"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Events provides access to per-inbox event instances.
//
//	ib.Events().InboxUpdated.Subscribe(ctx, handler)
type Events struct {
	InboxUpdated  event.Event[InboxUpdatedEvent]
	SyncCompleted event.Event[SyncCompletedEvent]
}

func newEvents(namePrefix string) *Events {
	return &Events{
		InboxUpdated:  event.New[InboxUpdatedEvent](namePrefix + "." + EventNameInboxUpdated),
		SyncCompleted: event.New[SyncCompletedEvent](namePrefix + "." + EventNameSyncCompleted),
	}
}

func registerEvents(ctx context.Context, bus *event.Bus, events *Events) error {
	if err := event.Register(ctx, bus, events.InboxUpdated); err != nil {
		return fmt.Errorf("register InboxUpdated: %w", err)
	}
	if err := event.Register(ctx, bus, events.SyncCompleted); err != nil {
		return fmt.Errorf("register SyncCompleted: %w", err)
	}
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// newEventBus creates the bus for one inbox and registers its events.
func newEventBus(ctx context.Context, o *options) (*event.Bus, *Events, error) {
	busName := fmt.Sprintf("%s-%d", o.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case o.eventTransport != nil:
		o.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(o.eventTransport))
	case o.redisClient != nil:
		o.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(o.redisClient)
		if transportErr != nil {
			return nil, nil, fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		o.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create event bus: %w", err)
	}

	events := newEvents(busName)
	if err := registerEvents(ctx, bus, events); err != nil {
		bus.Close(ctx)
		return nil, nil, fmt.Errorf("register events: %w", err)
	}
	return bus, events, nil
}

// publish sends an event and reports failures through the configured hook.
func publish[T any](ctx context.Context, o *options, ev event.Event[T], name string, data T) {
	if err := ev.Publish(ctx, data); err != nil {
		o.safeEventPublishFailure(name, err)
	}
}
