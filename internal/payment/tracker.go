package payment

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
)

// Tracker runs a confirmation pass for one chain whenever a new height is
// announced. Heights announced while a pass runs collapse into one
// follow-up pass at the newest height.
type Tracker struct {
	reconciler *Reconciler
	ledger     chain.Ledger
	logger     *slog.Logger

	latest atomic.Uint64
	wake   chan struct{}
}

func NewTracker(reconciler *Reconciler, ledger chain.Ledger, logger *slog.Logger) *Tracker {
	return &Tracker{
		reconciler: reconciler,
		ledger:     ledger,
		logger:     logger.With("component", "confirmation_tracker", "chain_id", int64(ledger.ChainID())),
		wake:       make(chan struct{}, 1),
	}
}

func (t *Tracker) HandleNewBlock(_ context.Context, e event.NewBlock) error {
	if e.ChainID != t.ledger.ChainID() {
		return nil
	}
	for {
		cur := t.latest.Load()
		if e.Height <= cur || t.latest.CompareAndSwap(cur, e.Height) {
			break
		}
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("confirmation tracker started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("confirmation tracker stopping")
			return ctx.Err()
		case <-t.wake:
			latest := t.latest.Load()
			if err := t.reconciler.TrackConfirmations(ctx, t.ledger, latest); err != nil && ctx.Err() == nil {
				t.logger.Warn("confirmation pass failed", "height", latest, "error", err)
			}
		}
	}
}
