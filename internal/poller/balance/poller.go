// Package balance reads native-coin balances of watched addresses for
// invoices that are still open.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/emperorhan/bsc-payment-watcher/internal/watchlist"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

type Option func(*Poller)

// WithConcurrency bounds the number of balance reads in flight.
func WithConcurrency(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTokens also reads BEP20 balances through balanceOf.
func WithTokens() Option {
	return func(p *Poller) { p.tokens = true }
}

type Poller struct {
	chainID     model.ChainID
	ledger      chain.Ledger
	invoices    store.InvoiceRepository
	bus         poller.Publisher
	source      poller.SettingsSource
	watch       *watchlist.WatchList
	concurrency int
	tokens      bool
	coins       map[model.CryptoCode]model.Coin
	logger      *slog.Logger

	cycleMu sync.Mutex

	mu       sync.Mutex
	height   uint64
	lastRead map[model.CryptoCode]uint64
}

func New(
	ledger chain.Ledger,
	invoices store.InvoiceRepository,
	bus poller.Publisher,
	source poller.SettingsSource,
	watch *watchlist.WatchList,
	logger *slog.Logger,
	opts ...Option,
) *Poller {
	chainID := ledger.ChainID()
	p := &Poller{
		chainID:     chainID,
		ledger:      ledger,
		invoices:    invoices,
		bus:         bus,
		source:      source,
		watch:       watch,
		concurrency: defaultConcurrency,
		coins:       make(map[model.CryptoCode]model.Coin),
		logger:      logger.With("component", "balance_poller", "chain_id", int64(chainID)),
		lastRead:    make(map[model.CryptoCode]uint64),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, c := range model.CoinsForChain(chainID) {
		if c.IsNative() || p.tokens {
			p.coins[c.Code] = c
		}
	}
	return p
}

// HandleNewBlock records the latest announced height.
func (p *Poller) HandleNewBlock(_ context.Context, e event.NewBlock) error {
	if e.ChainID != p.chainID {
		return nil
	}
	p.mu.Lock()
	if e.Height > p.height {
		p.height = e.Height
	}
	p.mu.Unlock()
	return nil
}

func (p *Poller) Run(ctx context.Context) error {
	interval := p.source.Snapshot().BalancePollInterval
	p.logger.Info("balance poller started", "interval", interval, "concurrency", p.concurrency)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("balance poller stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("balance poller cycle failed", "error", err)
			}
		}
	}
}

type read struct {
	entry  model.WatchListEntry
	coin   model.Coin
	ref    model.BlockReference
	amount *big.Int
	err    error
}

// Tick reads every watched address once. Addresses whose invoice already
// holds an accounted payment are read at the latest height, and only when
// that height moved since the coin was last read; the rest are read at the
// pending block.
func (p *Poller) Tick(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	entries := p.watch.Entries()
	if len(entries) == 0 {
		return nil
	}

	height, err := p.currentHeight(ctx)
	if err != nil {
		return err
	}

	reads, err := p.plan(ctx, entries, height)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range reads {
		r := &reads[i]
		g.Go(func() error {
			r.amount, r.err = p.ledger.Balance(gctx, r.coin, r.entry.Destination, r.ref)
			return nil
		})
	}
	_ = g.Wait()

	label := p.chainID.String()
	failed := make(map[model.CryptoCode]bool)
	for _, r := range reads {
		refLabel := "pending"
		if !r.ref.IsPending() {
			refLabel = "height"
		}
		if r.err != nil {
			metrics.BalancePollerErrors.WithLabelValues(label).Inc()
			p.logger.Warn("balance read failed",
				"invoice_id", r.entry.InvoiceID, "address", r.entry.Destination,
				"coin", r.coin.Code, "ref", r.ref.String(), "error", r.err)
			if !r.ref.IsPending() {
				failed[r.coin.Code] = true
			}
			continue
		}
		metrics.BalancePollerReads.WithLabelValues(label, refLabel).Inc()

		if err := p.bus.Publish(ctx, event.BalanceObserved{Balance: model.BalanceObservation{
			ChainID: p.chainID,
			Coin:    r.coin.Code,
			Address: r.entry.Destination,
			Amount:  r.amount,
			Block:   r.ref,
		}}); err != nil {
			return fmt.Errorf("publish balance %s: %w", r.entry.Destination, err)
		}
	}

	p.mu.Lock()
	for _, r := range reads {
		if !r.ref.IsPending() && !failed[r.coin.Code] {
			p.lastRead[r.coin.Code] = height
		}
	}
	p.mu.Unlock()
	return nil
}

func (p *Poller) plan(ctx context.Context, entries []model.WatchListEntry, height uint64) ([]read, error) {
	p.mu.Lock()
	lastRead := make(map[model.CryptoCode]uint64, len(p.lastRead))
	for k, v := range p.lastRead {
		lastRead[k] = v
	}
	p.mu.Unlock()

	invoices := make(map[string]*model.Invoice)
	var out []read
	for _, e := range entries {
		coin, ok := p.coins[e.Coin]
		if !ok {
			continue
		}
		inv, seen := invoices[e.InvoiceID]
		if !seen {
			var err error
			inv, err = p.invoices.GetInvoice(ctx, e.InvoiceID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.logger.Warn("load invoice failed", "invoice_id", e.InvoiceID, "error", err)
			}
			invoices[e.InvoiceID] = inv
		}
		if inv == nil {
			continue
		}

		r := read{entry: e, coin: coin, ref: model.PendingBlock()}
		if inv.AccountedPayment(e.Coin, e.Destination) != nil {
			if lastRead[coin.Code] == height {
				continue
			}
			r.ref = model.AtHeight(height)
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Poller) currentHeight(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	h := p.height
	p.mu.Unlock()
	if h > 0 {
		return h, nil
	}

	h, err := p.ledger.LatestHeight(ctx)
	if err != nil {
		metrics.BalancePollerErrors.WithLabelValues(p.chainID.String()).Inc()
		return 0, fmt.Errorf("latest height: %w", err)
	}
	p.mu.Lock()
	if h > p.height {
		p.height = h
	}
	p.mu.Unlock()
	return h, nil
}
