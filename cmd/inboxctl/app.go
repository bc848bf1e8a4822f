package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/time/rate"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/api"
	"github.com/rbaliyan/inbox/internal/config"
	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/memory"
	mongostore "github.com/rbaliyan/inbox/store/mongo"
	rediscursor "github.com/rbaliyan/inbox/store/redis"
	"github.com/rbaliyan/inbox/store/sqlstore"
)

// errNoRemote is returned by commands that need the API.
var errNoRemote = errors.New("no API configured: set api.base_url and api.user")

// app is a connected inbox plus the resources it was built from.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	inbox   *inbox.Inbox
	remote  bool
	closers []func(context.Context) error
}

// appMode selects behaviour for one-shot commands versus long-running ones.
type appMode int

const (
	modeOneShot appMode = iota
	modeDaemon
)

// loadConfig reads the configuration named by the root flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	return config.Load(flags.configPath, flags.envFile)
}

// openApp builds and connects an inbox from the configuration.
func openApp(ctx context.Context, flags *rootFlags, mode appMode) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: cfg.Logger()}

	repo, err := a.openRepository(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	opts := []inbox.Option{
		inbox.WithRepository(repo),
		inbox.WithLogger(a.logger),
		inbox.WithSyncTimeout(cfg.Sync.Timeout),
		inbox.WithAutoRetry(mode == modeDaemon),
		inbox.WithExpiryRefresh(mode == modeDaemon),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		opts = append(opts, inbox.WithRedisClient(client))

		if cfg.API.User != "" {
			cursors, err := rediscursor.NewCursorStore(client, cfg.API.User,
				rediscursor.WithTTL(cfg.Redis.CursorTTL),
				rediscursor.WithLogger(a.logger),
			)
			if err != nil {
				a.close(ctx)
				return nil, err
			}
			opts = append(opts, inbox.WithCursorStore(cursors))
		}
	}

	if cfg.HasRemote() {
		client, err := api.NewClient(cfg.API.BaseURL,
			api.WithCredentials(cfg.API.User, cfg.API.Token),
			api.WithChannelID(cfg.API.ChannelID),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRateLimit(rate.Limit(cfg.API.RateLimit), max(1, int(2*cfg.API.RateLimit))),
			api.WithLogger(a.logger),
		)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.remote = true
		opts = append(opts, inbox.WithTransport(client))
	}
	opts = append(opts, inbox.WithStateSync(cfg.Sync.StateSync && a.remote))

	ib, err := inbox.New(opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := ib.Connect(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("connect inbox: %w", err)
	}
	a.inbox = ib
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (store.Repository, error) {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		return sqlstore.Open(cfg.Driver, cfg.DSN, sqlstore.WithLogger(a.logger))
	case config.DriverMongo:
		client, err := mongo.Connect(mongoopts.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)
		return mongostore.New(client,
			mongostore.WithDatabase(cfg.Database),
			mongostore.WithLogger(a.logger),
		), nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Close drains the inbox and releases every resource.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.inbox != nil {
		errs = append(errs, a.inbox.Close(ctx))
	}
	errs = append(errs, a.close(ctx))
	return errors.Join(errs...)
}

// close runs the resource closers in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
