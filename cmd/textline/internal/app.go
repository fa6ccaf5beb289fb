package internal

import (
	"context"
	"errors"
	"time"

	"github.com/agencyos/textline/pkg/config"
	"github.com/agencyos/textline/pkg/conversation"
	"github.com/agencyos/textline/pkg/dispatch"
	"github.com/agencyos/textline/pkg/events"
	"github.com/agencyos/textline/pkg/notify"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/store/memory"
	"github.com/agencyos/textline/pkg/store/postgres"
	"github.com/agencyos/textline/pkg/trigger"
)

// App holds the wired service graph shared by serve and one-shot
// trigger runs.
type App struct {
	Config   *config.Config
	Store    store.Store
	Resolver *conversation.Resolver
	Log      *conversation.Log
	Sender   dispatch.Sender
	Notifier notify.Notifier
	Bus      events.Publisher
	Runner   *trigger.Runner

	closers []func()
}

// NewApp wires the service from configuration.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		app.Store = pg.Bundle()
		app.closers = append(app.closers, pg.Close)
	case "memory":
		app.Store = memory.New().Bundle()
	default:
		return nil, errors.New("unknown database driver " + cfg.Database.Driver)
	}

	app.Bus = events.NopPublisher{}
	if cfg.Events.Enabled {
		bus, err := events.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Bus = bus
		app.closers = append(app.closers, func() { _ = bus.Close() })
	}

	app.Sender = dispatch.NewCarrierClient(cfg.Carrier)
	if cfg.Notify.WebhookURL != "" {
		app.Notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookKey)
	}

	app.Resolver = conversation.NewResolver(app.Store.Conversations)
	app.Log = conversation.NewLog(app.Store.Messages, app.Store.Conversations)
	app.Runner = trigger.NewRunner(app.Store, app.Resolver, app.Log, app.Sender, app.Bus)

	return app, nil
}

// Close releases everything the app opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// SchedulerTick is the configured scheduler check interval.
func (a *App) SchedulerTick() time.Duration {
	return time.Duration(a.Config.Scheduler.TickSeconds) * time.Second
}
