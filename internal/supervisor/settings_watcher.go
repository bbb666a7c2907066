package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

const settingsWatcherDefaultInterval = 60 * time.Second

// SettingsWatcher polls the stored chain settings and publishes
// ChainSettingsChanged when an operator-owned field changes, a chain
// appears or a chain disappears. Poller cursors are ignored.
type SettingsWatcher struct {
	repo     store.SettingsRepository
	bus      poller.Publisher
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	seeded   bool
	lastSeen map[model.ChainID]model.ChainSettings
}

func NewSettingsWatcher(repo store.SettingsRepository, bus poller.Publisher, logger *slog.Logger, interval time.Duration) *SettingsWatcher {
	if interval <= 0 {
		interval = settingsWatcherDefaultInterval
	}
	return &SettingsWatcher{
		repo:     repo,
		bus:      bus,
		logger:   logger.With("component", "settings_watcher"),
		interval: interval,
		lastSeen: make(map[model.ChainID]model.ChainSettings),
	}
}

func (w *SettingsWatcher) Run(ctx context.Context) error {
	w.logger.Info("settings watcher started", "poll_interval", w.interval)

	w.Poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settings watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll compares the stored settings with the last poll. The first
// successful poll only records a baseline. Safe to call outside Run, e.g.
// right after an operator edit.
func (w *SettingsWatcher) Poll(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list, err := w.repo.List(ctx)
	if err != nil {
		w.logger.Warn("settings watcher poll failed", "error", err)
		metrics.SettingsWatcherErrors.Inc()
		return
	}

	current := make(map[model.ChainID]model.ChainSettings, len(list))
	for _, cs := range list {
		current[cs.ChainID] = cs
	}

	if !w.seeded {
		w.lastSeen = current
		w.seeded = true
		return
	}

	var changed []model.ChainID
	for id, cs := range current {
		prev, ok := w.lastSeen[id]
		if ok && prev.SameOperatorConfig(cs) {
			continue
		}
		w.logger.Info("chain settings changed",
			"chain_id", int64(id),
			"new_chain", !ok,
			"rpc_url", cs.RPCURL,
		)
		changed = append(changed, id)
	}
	for id := range w.lastSeen {
		if _, ok := current[id]; !ok {
			w.logger.Info("chain settings removed", "chain_id", int64(id))
			changed = append(changed, id)
		}
	}

	published := make(map[model.ChainID]model.ChainSettings, len(current))
	for id, cs := range current {
		published[id] = cs
	}
	for _, id := range changed {
		metrics.SettingsChanges.WithLabelValues(id.String()).Inc()
		if err := w.bus.Publish(ctx, event.ChainSettingsChanged{ChainID: id}); err != nil {
			w.logger.Warn("publish settings change failed", "chain_id", int64(id), "error", err)
			// Retry on the next poll.
			if prev, ok := w.lastSeen[id]; ok {
				published[id] = prev
			} else {
				delete(published, id)
			}
		}
	}
	w.lastSeen = published
}
