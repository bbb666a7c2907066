package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/bsc-payment-watcher/internal/admin"
	"github.com/emperorhan/bsc-payment-watcher/internal/alert"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc"
	"github.com/emperorhan/bsc-payment-watcher/internal/config"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/eventbus"
	"github.com/emperorhan/bsc-payment-watcher/internal/payment"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/emperorhan/bsc-payment-watcher/internal/store/postgres"
	redispkg "github.com/emperorhan/bsc-payment-watcher/internal/store/redis"
	"github.com/emperorhan/bsc-payment-watcher/internal/supervisor"
	"github.com/emperorhan/bsc-payment-watcher/internal/tracing"
	"github.com/emperorhan/bsc-payment-watcher/internal/wallet"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting bsc-payment-watcher",
		"seeded_chains", len(cfg.Chains),
		"redis_enabled", cfg.Redis.URL != "",
		"health_port", cfg.Server.HealthPort,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("watcher failed", "error", err)
		os.Exit(1)
	}
	logger.Info("watcher stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	settingsRepo := postgres.NewSettingsRepo(db)
	invoiceRepo := postgres.NewInvoiceRepo(db)
	paymentStore := postgres.NewPaymentStore(db)
	storeRepo := postgres.NewStoreRepo(db)

	if err := seedChainSettings(ctx, settingsRepo, cfg, logger); err != nil {
		return err
	}

	var (
		outbox  eventbus.Outbox
		streams *redispkg.Stream
	)
	if cfg.Redis.URL != "" {
		streams, err = redispkg.NewStream(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer streams.Close()
		outbox = redispkg.NewOutbox(streams.Client(), logger,
			redispkg.WithStreamName(cfg.Redis.Stream),
			redispkg.WithMaxLen(cfg.Redis.MaxLen),
		)
		logger.Info("redis outbox enabled", "stream", cfg.Redis.Stream)
	} else {
		outbox = redispkg.NewInMemoryOutbox()
		logger.Warn("REDIS_URL not set, outbound notifications stay in memory")
	}

	bus := eventbus.New(logger,
		eventbus.WithMailboxSize(cfg.Bus.MailboxSize),
		eventbus.WithOutbox(outbox, event.KindPaymentReceived, event.KindInvoiceNeedsUpdate),
	)
	defer bus.Close()

	alerter := buildAlerter(cfg.Alert, logger)

	reconciler := payment.New(invoiceRepo, paymentStore, bus, logger, payment.WithAlerter(alerter))
	defer eventbus.Subscribe(bus, "reconciler-transfers", reconciler.HandleTransfer)()
	defer eventbus.Subscribe(bus, "reconciler-balances", reconciler.HandleBalance)()

	manager := wallet.NewManager(storeRepo, bus, logger)
	defer eventbus.Subscribe(bus, "address-allocator", manager.HandleRequest)()
	reserver := wallet.NewReserver(bus, cfg.Wallet.ReservationTimeout)
	defer reserver.Close()

	sup := supervisor.New(
		settingsRepo,
		supervisor.BSCDialer(bsc.DialConfig{
			RateLimit:        cfg.RPC.RateLimit,
			Burst:            cfg.RPC.Burst,
			Timeout:          cfg.RPC.Timeout,
			BreakerThreshold: cfg.RPC.BreakerThreshold,
			BreakerCooldown:  cfg.RPC.BreakerCooldown,
		}, logger),
		supervisor.ChainServices{
			Settings:           settingsRepo,
			Invoices:           invoiceRepo,
			Reconciler:         reconciler,
			Bus:                bus,
			BalanceConcurrency: cfg.Balance.Concurrency,
			BalanceTokens:      cfg.Balance.Tokens,
			WatchListReload:    cfg.Supervisor.WatchListReloadInterval,
			Logger:             logger,
		},
		alerter,
		logger,
		supervisor.Config{
			IdleInterval:     cfg.Supervisor.ReconcileInterval,
			RetryInterval:    cfg.Supervisor.RetryInterval,
			EnsureMaxElapsed: cfg.Supervisor.EnsureMaxElapsed,
			StaleBlocks:      cfg.Supervisor.StaleBlocks,
		},
	)
	defer sup.Subscribe(bus)()

	watcher := supervisor.NewSettingsWatcher(settingsRepo, bus, logger, cfg.Supervisor.SettingsReloadInterval)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		db.ReportPoolStats(gCtx, cfg.DB.PoolStatsInterval)
		return nil
	})

	var limitOpts []admin.RateLimitOption
	if cfg.Server.TrustProxy {
		limitOpts = append(limitOpts, admin.WithTrustedProxy())
	}
	limiter := admin.NewRateLimitMiddleware(logger, limitOpts...)
	g.Go(func() error {
		return ignoreCanceled(limiter.Run(gCtx))
	})
	adminAPI := admin.NewServer(settingsRepo, bus, logger,
		admin.WithStatusProvider(sup),
		admin.WithAddressReserver(reserver),
		admin.WithSettingsPoller(watcher),
	)
	handler := newHandler(sup, admin.AuditMiddleware(logger, limiter.Wrap(adminAPI.Handler())), logger)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, handler, logger)
	})

	g.Go(func() error {
		return ignoreCanceled(sup.Run(gCtx))
	})

	g.Go(func() error {
		return ignoreCanceled(watcher.Run(gCtx))
	})

	if streams != nil {
		inbox := redispkg.NewInbox(streams.Client(), bus, cfg.Redis.InboxStream, logger)
		g.Go(func() error {
			return ignoreCanceled(inbox.Run(gCtx))
		})
	}

	return g.Wait()
}

// seedChainSettings stores the CONFIG_FILE chains that have no settings
// yet. Stored settings always win over the file.
func seedChainSettings(ctx context.Context, repo store.SettingsRepository, cfg *config.Config, logger *slog.Logger) error {
	for _, s := range cfg.Chains {
		existing, err := repo.Get(ctx, s.ChainID)
		if err != nil {
			return fmt.Errorf("read settings of chain %s: %w", s.ChainID, err)
		}
		if existing != nil {
			logger.Debug("chain settings already stored", "chain_id", int64(s.ChainID))
			continue
		}
		if err := repo.Save(ctx, s); err != nil {
			return fmt.Errorf("seed settings of chain %s: %w", s.ChainID, err)
		}
		logger.Info("seeded chain settings", "chain_id", int64(s.ChainID), "rpc_url_set", s.RPCURL != "")
	}
	return nil
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		channels = append(channels, alert.NewLogAlerter(logger))
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
