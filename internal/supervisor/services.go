package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/eventbus"
	"github.com/emperorhan/bsc-payment-watcher/internal/payment"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller/balance"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller/block"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller/transfer"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/emperorhan/bsc-payment-watcher/internal/watchlist"
)

// BSCDialer dials chains over JSON-RPC with the process-wide transport
// settings.
func BSCDialer(cfg bsc.DialConfig, logger *slog.Logger) Dialer {
	return func(settings model.ChainSettings) (chain.Ledger, error) {
		l, err := bsc.Dial(settings, cfg, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// ChainServices builds the block, transfer and balance pollers and the
// confirmation tracker of one chain.
type ChainServices struct {
	Settings           store.SettingsRepository
	Invoices           store.InvoiceRepository
	Reconciler         *payment.Reconciler
	Bus                *eventbus.Bus
	BalanceConcurrency int
	BalanceTokens      bool
	// WatchListReload re-reads pending invoices into both watch-lists.
	// Zero disables the periodic reload.
	WatchListReload time.Duration
	Logger          *slog.Logger
}

func (c ChainServices) Build(ctx context.Context, ledger chain.Ledger, settings poller.SettingsSource) ([]Service, func(), error) {
	chainID := ledger.ChainID()

	transferWatch := watchlist.New(chainID, string(ServiceTransferPoller), c.Invoices, c.Logger)
	balanceWatch := watchlist.New(chainID, string(ServiceBalancePoller), c.Invoices, c.Logger,
		watchlist.WithStatuses(model.InvoiceStatusNew))

	var balanceOpts []balance.Option
	if c.BalanceConcurrency > 0 {
		balanceOpts = append(balanceOpts, balance.WithConcurrency(c.BalanceConcurrency))
	}
	if c.BalanceTokens {
		balanceOpts = append(balanceOpts, balance.WithTokens())
	}

	blockPoller := block.New(ledger, c.Settings, c.Bus, settings, c.Logger)
	transferPoller := transfer.New(ledger, c.Settings, c.Bus, settings, transferWatch, c.Logger)
	balancePoller := balance.New(ledger, c.Invoices, c.Bus, settings, balanceWatch, c.Logger, balanceOpts...)
	tracker := payment.NewTracker(c.Reconciler, ledger, c.Logger)

	// Subscribe before loading so lifecycle events raised during the load
	// are not lost.
	suffix := "-" + chainID.String()
	unsubs := []func(){
		transferWatch.Subscribe(c.Bus),
		balanceWatch.Subscribe(c.Bus),
		eventbus.Subscribe(c.Bus, string(ServiceTransferPoller)+suffix, transferPoller.HandleNewBlock),
		eventbus.Subscribe(c.Bus, string(ServiceBalancePoller)+suffix, balancePoller.HandleNewBlock),
		eventbus.Subscribe(c.Bus, string(ServiceConfirmationTracker)+suffix, tracker.HandleNewBlock),
	}
	release := func() {
		for _, u := range unsubs {
			u()
		}
	}

	if err := transferWatch.Load(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("load transfer watch-list: %w", err)
	}
	if err := balanceWatch.Load(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("load balance watch-list: %w", err)
	}

	services := []Service{
		{Kind: ServiceBlockPoller, Run: blockPoller.Run},
		{Kind: ServiceTransferPoller, Run: transferPoller.Run},
		{Kind: ServiceBalancePoller, Run: balancePoller.Run},
		{Kind: ServiceConfirmationTracker, Run: tracker.Run},
	}
	if c.WatchListReload > 0 {
		services = append(services, Service{
			Kind: ServiceWatchListReload,
			Run: func(ctx context.Context) error {
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return transferWatch.RunReload(gctx, c.WatchListReload) })
				g.Go(func() error { return balanceWatch.RunReload(gctx, c.WatchListReload) })
				return g.Wait()
			},
		})
	}
	return services, release, nil
}
