// Package transfer scans token Transfer logs towards watched addresses for
// the heights announced by the block poller.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/emperorhan/bsc-payment-watcher/internal/watchlist"
)

// maxResumeBlocks bounds how many unscanned heights are re-queued after a
// restart.
const maxResumeBlocks = 50_000

type Poller struct {
	chainID  model.ChainID
	ledger   chain.Ledger
	settings store.SettingsRepository
	bus      poller.Publisher
	source   poller.SettingsSource
	watch    *watchlist.WatchList
	coins    []model.Coin
	codes    []model.CryptoCode
	logger   *slog.Logger

	cycleMu  sync.Mutex
	nextScan uint64

	mu      sync.Mutex
	pending map[uint64]struct{}
}

func New(
	ledger chain.Ledger,
	settings store.SettingsRepository,
	bus poller.Publisher,
	source poller.SettingsSource,
	watch *watchlist.WatchList,
	logger *slog.Logger,
) *Poller {
	chainID := ledger.ChainID()
	p := &Poller{
		chainID:  chainID,
		ledger:   ledger,
		settings: settings,
		bus:      bus,
		source:   source,
		watch:    watch,
		logger:   logger.With("component", "transfer_poller", "chain_id", int64(chainID)),
		pending:  make(map[uint64]struct{}),
	}
	for _, c := range model.CoinsForChain(chainID) {
		if c.IsNative() {
			continue
		}
		p.coins = append(p.coins, c)
		p.codes = append(p.codes, c.Code)
	}
	return p
}

// Coins are the token coins whose logs the poller scans.
func (p *Poller) Coins() []model.Coin {
	return p.coins
}

// HandleNewBlock queues the announced height for the next scan.
func (p *Poller) HandleNewBlock(_ context.Context, e event.NewBlock) error {
	if e.ChainID != p.chainID {
		return nil
	}
	p.enqueue(e.Height, e.Height)
	return nil
}

// Pending returns the queued heights in ascending order.
func (p *Poller) Pending() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, len(p.pending))
	for h := range p.pending {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Poller) Run(ctx context.Context) error {
	if err := p.Resume(ctx); err != nil {
		p.logger.Warn("resume unscanned heights failed", "error", err)
	}

	interval := p.source.Snapshot().TransferPollInterval
	p.logger.Info("transfer poller started", "interval", interval, "coins", len(p.coins))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transfer poller stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("transfer poller cycle failed", "error", err)
			}
		}
	}
}

// Resume queues heights the block poller announced before a restart that
// were never scanned.
func (p *Poller) Resume(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	s, err := p.settings.Get(ctx, p.chainID)
	if err != nil {
		return fmt.Errorf("load scan cursor: %w", err)
	}
	if s == nil || s.NextScanBlockNumber == 0 {
		return nil
	}
	p.nextScan = s.NextScanBlockNumber
	if s.LastSeenBlockNumber < s.NextScanBlockNumber {
		return nil
	}
	from, to := s.NextScanBlockNumber, s.LastSeenBlockNumber
	if to-from+1 > maxResumeBlocks {
		p.logger.Warn("unscanned backlog truncated", "from", from, "to", to, "kept", maxResumeBlocks)
		from = to - maxResumeBlocks + 1
	}
	p.enqueue(from, to)
	p.logger.Info("resumed unscanned heights", "from", from, "to", to)
	return nil
}

// Tick runs one scan cycle over every queued height, newest window first.
// A failed window leaves itself and everything older queued. The stored
// cursor stays at the lowest queued height until the whole range is done.
func (p *Poller) Tick(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	cfg := p.source.Snapshot()
	addresses := p.watch.Addresses(p.codes...)

	p.mu.Lock()
	if len(addresses) == 0 || len(p.coins) == 0 {
		drained := len(p.pending) > 0
		_, hi := p.boundsLocked()
		p.pending = make(map[uint64]struct{})
		p.mu.Unlock()
		p.reportPending()
		if !drained {
			return nil
		}
		// nothing is watched, so the dropped heights hold nothing to find
		return p.checkpoint(ctx, hi+1)
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	lo, hi := p.boundsLocked()
	p.mu.Unlock()

	if err := p.checkpoint(ctx, lo); err != nil {
		return err
	}

	window := windowSize(cfg.TransferWindow, lo, hi)
	seen := make(map[model.TransferKey]struct{})
	label := p.chainID.String()

	for end := hi; ; {
		from := lo
		if end-lo > window {
			from = end - window
		}

		logs, err := p.ledger.TransferLogs(ctx, chain.TransferQuery{
			Coins:      p.coins,
			To:         addresses,
			FromHeight: from,
			ToHeight:   end,
		})
		if err != nil {
			metrics.TransferPollerErrors.WithLabelValues(label).Inc()
			return fmt.Errorf("scan window [%d, %d]: %w", from, end, err)
		}
		metrics.TransferPollerWindows.WithLabelValues(label).Inc()

		for _, obs := range logs {
			if obs.Removed {
				continue
			}
			key := obs.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if err := p.bus.Publish(ctx, event.TransferObserved{Transfer: obs}); err != nil {
				return fmt.Errorf("publish transfer %s/%d: %w", obs.TxHash, obs.LogIndex, err)
			}
			metrics.TransferPollerObserved.WithLabelValues(label, string(obs.Coin)).Inc()
		}

		p.ack(from, end)
		if from <= lo {
			break
		}
		end = from
	}

	if err := p.checkpoint(ctx, hi+1); err != nil {
		return err
	}
	p.logger.Debug("transfer scan completed", "from", lo, "to", hi, "transfers", len(seen))
	return nil
}

// checkpoint stores next as the lowest unscanned height unless it is
// already stored.
func (p *Poller) checkpoint(ctx context.Context, next uint64) error {
	if next == p.nextScan {
		return nil
	}
	if err := p.settings.SetNextScan(ctx, p.chainID, next); err != nil {
		return fmt.Errorf("persist scan cursor %d: %w", next, err)
	}
	p.nextScan = next
	return nil
}

// windowSize is max(1, min(configured, hi-lo)).
func windowSize(configured, lo, hi uint64) uint64 {
	w := hi - lo
	if configured < w {
		w = configured
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (p *Poller) enqueue(from, to uint64) {
	p.mu.Lock()
	for h := from; h <= to; h++ {
		p.pending[h] = struct{}{}
	}
	p.mu.Unlock()
	p.reportPending()
}

// ack drops the scanned heights. Heights queued above the cycle's range
// while it ran stay queued.
func (p *Poller) ack(from, to uint64) {
	p.mu.Lock()
	for h := range p.pending {
		if h >= from && h <= to {
			delete(p.pending, h)
		}
	}
	p.mu.Unlock()
	p.reportPending()
}

func (p *Poller) boundsLocked() (lo, hi uint64) {
	first := true
	for h := range p.pending {
		if first || h < lo {
			lo = h
		}
		if first || h > hi {
			hi = h
		}
		first = false
	}
	return lo, hi
}

func (p *Poller) reportPending() {
	p.mu.Lock()
	n := len(p.pending)
	p.mu.Unlock()
	metrics.TransferPollerPendingBlocks.WithLabelValues(p.chainID.String()).Set(float64(n))
}
