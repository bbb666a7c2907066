// Package block announces every new chain height exactly once, in order.
package block

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

// Poller reads the latest height on a fixed interval and publishes one
// NewBlock event per height it has not announced before. The last
// announced height is persisted before the event goes out, so a restart
// may skip a height but never announces one twice.
type Poller struct {
	chainID  model.ChainID
	ledger   chain.Ledger
	settings store.SettingsRepository
	bus      poller.Publisher
	source   poller.SettingsSource
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen uint64
	loaded   bool
}

func New(
	ledger chain.Ledger,
	settings store.SettingsRepository,
	bus poller.Publisher,
	source poller.SettingsSource,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		chainID:  ledger.ChainID(),
		ledger:   ledger,
		settings: settings,
		bus:      bus,
		source:   source,
		logger:   logger.With("component", "block_poller", "chain_id", int64(ledger.ChainID())),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	interval := p.source.Snapshot().BlockPollInterval
	p.logger.Info("block poller started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("block poller tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("block poller stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LastSeen is the last height announced or adopted as baseline.
func (p *Poller) LastSeen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// Tick performs one poll. A failed height read leaves all state untouched.
func (p *Poller) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(ctx); err != nil {
		return err
	}

	latest, err := p.ledger.LatestHeight(ctx)
	if err != nil {
		metrics.BlockPollerTickErrors.WithLabelValues(p.chainID.String()).Inc()
		return fmt.Errorf("latest height: %w", err)
	}

	if p.lastSeen == 0 {
		if err := p.settings.AdvanceLastSeen(ctx, p.chainID, latest); err != nil {
			metrics.BlockPollerTickErrors.WithLabelValues(p.chainID.String()).Inc()
			return fmt.Errorf("persist baseline height: %w", err)
		}
		p.lastSeen = latest
		metrics.BlockPollerLastSeen.WithLabelValues(p.chainID.String()).Set(float64(latest))
		p.logger.Info("block poller baseline", "height", latest)
		return nil
	}

	for next := p.lastSeen + 1; next <= latest; next++ {
		// Persisted before publish: a crash in between loses that NewBlock,
		// which restart semantics allow since heights may be skipped.
		if err := p.settings.AdvanceLastSeen(ctx, p.chainID, next); err != nil {
			metrics.BlockPollerTickErrors.WithLabelValues(p.chainID.String()).Inc()
			return fmt.Errorf("persist height %d: %w", next, err)
		}
		p.lastSeen = next
		metrics.BlockPollerLastSeen.WithLabelValues(p.chainID.String()).Set(float64(next))

		if err := p.bus.Publish(ctx, event.NewBlock{ChainID: p.chainID, Height: next}); err != nil {
			return fmt.Errorf("publish height %d: %w", next, err)
		}
	}
	return nil
}

func (p *Poller) loadLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	s, err := p.settings.Get(ctx, p.chainID)
	if err != nil {
		return fmt.Errorf("load last seen height: %w", err)
	}
	if s != nil {
		p.lastSeen = s.LastSeenBlockNumber
	}
	p.loaded = true
	return nil
}
