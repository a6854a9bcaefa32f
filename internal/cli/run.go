package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/relaylink/internal/config"
	"github.com/rickgao/relaylink/internal/connection"
	"github.com/rickgao/relaylink/internal/credentials"
	"github.com/rickgao/relaylink/internal/dashboard"
	"github.com/rickgao/relaylink/internal/dispatch"
	"github.com/rickgao/relaylink/internal/eventbus"
	"github.com/rickgao/relaylink/internal/executor"
	"github.com/rickgao/relaylink/internal/journal"
	"github.com/rickgao/relaylink/internal/scheduler"
	"github.com/rickgao/relaylink/internal/status"
	"github.com/rickgao/relaylink/internal/subscription"
	"github.com/rickgao/relaylink/internal/supervisor"
	"github.com/rickgao/relaylink/internal/telemetry"
	"github.com/rickgao/relaylink/internal/version"
)

const (
	serviceName     = "relaylink"
	retryBackoff    = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay and serve requests",
		Long: `Connect to the relay and serve requests until SIGINT or SIGTERM.

The connection is checked every relay.check_interval; a closed connection is
reopened once the reconnect delay chosen for its close code has passed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runRelay(ctx, cfg, logger)
		},
	}
}

// runRelay wires every component and blocks until ctx is cancelled.
func runRelay(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) error {
	logger.Info("starting relaylink",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	exporter := telemetry.ExporterNone
	if cfg.Tracing.Enabled {
		exporter = cfg.Tracing.Exporter
	}
	shutdownTracer, err := telemetry.InitTracer(serviceName, exporter, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	store, err := credentials.NewStore(cfg.Credentials.APIKey, cfg.Credentials.APIKeyPath, logger)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	rec, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer rec.Close()

	bus := eventbus.New(logger)
	defer bus.Close()

	feeds := subscription.NewFeeds(logger)
	producer := dashboard.NewProducer(cfg.Subscriptions.DashboardInterval, bus, nil, logger)
	feeds.Register(dashboard.Field, producer)
	defer producer.Stop()

	exec := executor.NewClient(cfg.Local.GraphQLURL,
		executor.WithLogger(logger),
		executor.WithTimeout(cfg.Local.Timeout),
		executor.WithRetries(cfg.Local.MaxRetries, retryBackoff),
	)
	disp := dispatch.New(store, credentials.NewResolver(cfg.Instance.ID), exec, logger)

	sup := supervisor.New(supervisorConfig(cfg, store, logger), supervisor.Deps{
		Bus:        bus,
		Feeds:      feeds,
		Dispatcher: disp,
		Journal:    rec,
	}, logger)

	store.OnChange(func(key string) {
		if key != "" && sup.ResumeAfterCredentialChange() {
			logger.Info("new api key, relay connection may reopen")
		}
	})

	runner := scheduler.New(logger)
	if err := runner.Add(scheduler.Job{
		Name:     "check-connection",
		Interval: cfg.Relay.CheckInterval,
		Run: func(ctx context.Context) error {
			sup.CheckConnection(ctx)
			return nil
		},
	}); err != nil {
		return err
	}
	if cfg.Credentials.APIKeyPath != "" {
		if err := runner.Add(scheduler.Job{
			Name:     "reload-credentials",
			Interval: cfg.Relay.CheckInterval,
			Run: func(ctx context.Context) error {
				return store.Reload()
			},
		}); err != nil {
			return err
		}
	}

	srv := status.New(cfg.Status.Port, sup, bus, rec, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		if err := runner.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return runner.Stop(stopCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sup.Shutdown(stopCtx)
	})

	logger.Info("relaylink running",
		"relay_url", cfg.Relay.URL,
		"status_port", cfg.Status.Port,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("relaylink stopped")
	return nil
}

func supervisorConfig(cfg *config.RelayConfig, store *credentials.Store, logger *slog.Logger) supervisor.Config {
	client := connection.DefaultClientConfig()
	client.URL = cfg.Relay.URL
	client.Subprotocol = cfg.Relay.Subprotocol
	client.HandshakeTimeout = cfg.Relay.HandshakeTimeout
	client.PingInterval = cfg.Relay.PingInterval
	client.PingTimeout = cfg.Relay.PingTimeout
	client.WriteTimeout = cfg.Relay.WriteTimeout

	subs := subscription.DefaultConfig()
	subs.CoalesceWindow = cfg.Subscriptions.CoalesceWindow
	subs.HighChurnFields = cfg.Subscriptions.HighChurnFields

	return supervisor.Config{
		Client:            client,
		KeepAliveInterval: cfg.Relay.KeepAliveInterval,
		Subscriptions:     subs,
		ShouldConnect: func() bool {
			return cfg.Relay.ShouldConnect() && store.APIKey() != ""
		},
		Headers: func() http.Header {
			return store.Headers(cfg.Instance.ID)
		},
		OnInvalidCredential: store.Invalidate,
		OnVersionMismatch: func() {
			logger.Error("relay reports this client is out of date; upgrade relaylink",
				"version", version.Version,
			)
		},
	}
}
