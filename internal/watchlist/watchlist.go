// Package watchlist keeps the set of deposit addresses a poller is
// responsible for, refreshed from invoice lifecycle notifications.
package watchlist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/eventbus"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

// Filter decides whether an invoice belongs on the list.
type Filter func(inv *model.Invoice) bool

// WithStatuses keeps only invoices in one of the given statuses.
func WithStatuses(statuses ...model.InvoiceStatus) Option {
	return func(w *WatchList) {
		allowed := make(map[model.InvoiceStatus]bool, len(statuses))
		for _, s := range statuses {
			allowed[s] = true
		}
		w.filter = func(inv *model.Invoice) bool { return allowed[inv.Status] }
	}
}

// WithCoins restricts entries to the given crypto codes.
func WithCoins(codes ...model.CryptoCode) Option {
	return func(w *WatchList) {
		w.coins = make(map[model.CryptoCode]bool, len(codes))
		for _, c := range codes {
			w.coins[c.Normalize()] = true
		}
	}
}

type Option func(*WatchList)

// WatchList maps invoice ids to the entries they contribute for one chain.
// It is safe for concurrent use: readers get snapshots.
type WatchList struct {
	chainID  model.ChainID
	owner    string
	invoices store.InvoiceRepository
	filter   Filter
	coins    map[model.CryptoCode]bool
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string][]model.WatchListEntry
}

func New(chainID model.ChainID, owner string, invoices store.InvoiceRepository, logger *slog.Logger, opts ...Option) *WatchList {
	w := &WatchList{
		chainID:  chainID,
		owner:    owner,
		invoices: invoices,
		filter:   func(*model.Invoice) bool { return true },
		logger:   logger.With("component", "watchlist", "chain_id", int64(chainID), "owner", owner),
		entries:  make(map[string][]model.WatchListEntry),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Load replaces the list with every pending invoice that passes the filter.
func (w *WatchList) Load(ctx context.Context) error {
	invoices, err := w.invoices.GetPendingInvoices(ctx)
	if err != nil {
		return fmt.Errorf("load pending invoices: %w", err)
	}
	next := make(map[string][]model.WatchListEntry, len(invoices))
	for _, inv := range invoices {
		if entries := w.entriesFor(inv); len(entries) > 0 {
			next[inv.ID] = entries
		}
	}

	w.mu.Lock()
	w.entries = next
	w.mu.Unlock()
	w.report()

	w.logger.Debug("watch-list loaded", "invoices", len(next))
	return nil
}

// RunReload reloads the list every interval so invoices whose lifecycle
// notification was missed are still picked up. A failed reload keeps the
// previous contents.
func (w *WatchList) RunReload(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Load(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("watch-list reload failed", "error", err)
			}
		}
	}
}

// Refresh re-reads one invoice and replaces its entries. An invoice that
// no longer exists or no longer passes the filter is removed.
func (w *WatchList) Refresh(ctx context.Context, invoiceID string) error {
	inv, err := w.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("refresh invoice %s: %w", invoiceID, err)
	}
	var entries []model.WatchListEntry
	if inv != nil {
		entries = w.entriesFor(inv)
	}

	w.mu.Lock()
	if len(entries) == 0 {
		delete(w.entries, invoiceID)
	} else {
		w.entries[invoiceID] = entries
	}
	w.mu.Unlock()
	w.report()
	return nil
}

func (w *WatchList) Remove(invoiceID string) {
	w.mu.Lock()
	delete(w.entries, invoiceID)
	w.mu.Unlock()
	w.report()
}

// HandleLifecycle applies an invoice lifecycle code. Unknown codes are
// ignored.
func (w *WatchList) HandleLifecycle(ctx context.Context, e event.InvoiceLifecycle) error {
	switch e.Code.WatchAction() {
	case event.WatchRefresh:
		return w.Refresh(ctx, e.InvoiceID)
	case event.WatchRemove:
		w.Remove(e.InvoiceID)
	}
	return nil
}

// Subscribe wires the list to lifecycle and stop-watching events and
// returns a function that detaches it.
func (w *WatchList) Subscribe(bus *eventbus.Bus) func() {
	name := "watchlist-" + w.owner + "-" + w.chainID.String()
	unsubLifecycle := eventbus.Subscribe(bus, name, w.HandleLifecycle)
	unsubStop := eventbus.Subscribe(bus, name, func(_ context.Context, e event.InvoiceStopWatched) error {
		w.Remove(e.InvoiceID)
		return nil
	})
	return func() {
		unsubLifecycle()
		unsubStop()
	}
}

// Entries returns a snapshot of every activated entry, ordered by invoice.
func (w *WatchList) Entries() []model.WatchListEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]string, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []model.WatchListEntry
	for _, id := range ids {
		out = append(out, w.entries[id]...)
	}
	return out
}

// Addresses returns the distinct lower-cased destinations for the given
// coins, or for every coin when none are given.
func (w *WatchList) Addresses(coins ...model.CryptoCode) []string {
	want := make(map[model.CryptoCode]bool, len(coins))
	for _, c := range coins {
		want[c.Normalize()] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, e := range w.Entries() {
		if len(want) > 0 && !want[e.Coin] {
			continue
		}
		addr := strings.ToLower(e.Destination)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len is the number of invoices on the list.
func (w *WatchList) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

func (w *WatchList) entriesFor(inv *model.Invoice) []model.WatchListEntry {
	if !w.filter(inv) {
		return nil
	}
	var out []model.WatchListEntry
	for _, e := range inv.WatchEntries() {
		if e.ChainID != w.chainID || !e.Activated {
			continue
		}
		if w.coins != nil && !w.coins[e.Coin] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (w *WatchList) report() {
	metrics.WatchListAddresses.
		WithLabelValues(w.chainID.String(), w.owner).
		Set(float64(w.Len()))
}
