package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyos/textline/cmd/textline/internal"
	"github.com/agencyos/textline/pkg/api"
	"github.com/agencyos/textline/pkg/drafts"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/trigger"
	"github.com/agencyos/textline/pkg/webhook"
)

func NewServeCommand() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the textline service",
		Args:  cobra.NoArgs,
		Example: `  textline serve
  textline serve --no-scheduler`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(noScheduler)
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false,
		"Serve HTTP only, without the trigger scheduler")
	return cmd
}

func run(noScheduler bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.LogJSON {
		logger.SetJSON(slog.LevelInfo)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	queue := drafts.NewQueue(app.Store, app.Sender, app.Bus)
	inbound := webhook.NewHandler(app.Store, app.Resolver, app.Log, app.Sender,
		app.Notifier, app.Runner, app.Bus)
	server := api.NewServer(queue, inbound, app.Store.Messages)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}

	if cfg.Scheduler.Enabled && !noScheduler {
		scheduler := trigger.NewScheduler(app.Runner, trigger.Registry(), app.SchedulerTick())
		go scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("serve", "HTTP server listening", map[string]any{
			"addr": httpServer.Addr,
		})
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.InfoCF("serve", "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
