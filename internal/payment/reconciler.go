// Package payment turns transfer and balance observations into payment
// records and keeps their confirmation counts current.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emperorhan/bsc-payment-watcher/internal/alert"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/retry"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/google/uuid"
)

type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// passFailureAlertThreshold is the number of consecutive failed writes on
// a chain that raises a pass-failure alert.
const passFailureAlertThreshold = 3

// errPersistence marks failures of the store, the only ones a transfer
// pass retries.
var errPersistence = errors.New("payment store")

type Option func(*Reconciler)

// WithAlerter raises an alert when payment passes keep failing to persist.
func WithAlerter(a alert.Alerter) Option {
	return func(r *Reconciler) { r.alerter = a }
}

// WithBackOff sets the retry policy of transfer passes.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Reconciler) { r.newBackOff = newBackOff }
}

// Reconciler owns every write to payment records. Passes are serialized so
// each one works from a single consistent read of the invoices it touches.
type Reconciler struct {
	invoices store.InvoiceRepository
	payments store.PaymentStore
	bus      Publisher
	logger   *slog.Logger
	alerter  alert.Alerter
	now      func() time.Time
	newID    func() uuid.UUID

	newBackOff func() backoff.BackOff

	mu sync.Mutex
	// missing holds, per chain, the latest height at which each tracked
	// transaction was first reported unknown by the ledger.
	missing  map[model.ChainID]map[uuid.UUID]uint64
	failures map[model.ChainID]int
}

func New(invoices store.InvoiceRepository, payments store.PaymentStore, bus Publisher, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		invoices: invoices,
		payments: payments,
		bus:      bus,
		logger:   logger.With("component", "payment_reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.New,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(200*time.Millisecond),
				backoff.WithMaxInterval(10*time.Second),
				backoff.WithMaxElapsedTime(0),
			)
		},
		missing:  make(map[model.ChainID]map[uuid.UUID]uint64),
		failures: make(map[model.ChainID]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleTransfer records a token transfer towards an invoice address. A
// transfer already recorded for the invoice is ignored, unless it was
// dropped earlier, in which case it counts again. Transient store failures
// are retried until the pass lands or ctx is done; the transfer log is not
// delivered twice.
func (r *Reconciler) HandleTransfer(ctx context.Context, e event.TransferObserved) error {
	obs := e.Transfer
	if obs.Removed || obs.Value == nil || obs.Value.Sign() <= 0 {
		return nil
	}
	defer observePass(obs.ChainID, "transfer", time.Now())

	b := backoff.WithContext(r.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := r.applyTransfer(ctx, obs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errPersistence) || !retry.ClassifyStore(err).IsTransient() {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		metrics.ReconcilerPassRetries.WithLabelValues(obs.ChainID.String()).Inc()
		r.logger.Warn("transfer pass failed, retrying",
			"tx_hash", obs.TxHash, "log_index", obs.LogIndex,
			"next_attempt_in", next, "error", err)
	})
}

func (r *Reconciler) applyTransfer(ctx context.Context, obs model.TransferObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, method, err := r.resolve(ctx, obs.ChainID, obs.Coin, obs.To)
	if err != nil || inv == nil {
		return err
	}

	if existing := inv.TransferRecord(obs.Key()); existing != nil {
		if !existing.Accounted {
			r.logger.Info("dropped transfer seen again", "invoice_id", inv.ID, "tx_hash", obs.TxHash, "log_index", obs.LogIndex)
			ps := newPass(obs.ChainID, maxTracked(obs.ChainID, obs.Coin))
			ps.add(inv, Restore(*existing, obs))
			return r.commit(ctx, ps)
		}
		metrics.ReconcilerDuplicates.WithLabelValues(obs.ChainID.String()).Inc()
		r.logger.Debug("duplicate transfer ignored", "invoice_id", inv.ID, "tx_hash", obs.TxHash, "log_index", obs.LogIndex)
		return nil
	}

	template := r.template(inv, method)
	template.Source = obs.From
	template.TxHash = obs.TxHash
	template.LogIndex = obs.LogIndex
	template.TxIndex = obs.TxIndex
	template.BlockHash = obs.BlockHash

	ps := newPass(obs.ChainID, maxTracked(obs.ChainID, obs.Coin))
	ps.add(inv, Decision{
		Transition: TransitionCreate,
		Created:    newRecord(template, obs.Value, model.AtHeight(obs.BlockHeight)),
	})
	return r.commit(ctx, ps)
}

// HandleBalance applies a balance read to the accounted payment of the
// address. Token balances sum every transfer the address received, so for
// tokens the read only audits the accounted transfers and writes nothing.
func (r *Reconciler) HandleBalance(ctx context.Context, e event.BalanceObserved) error {
	obs := e.Balance
	if obs.Amount == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer observePass(obs.ChainID, "balance", time.Now())

	inv, method, err := r.resolve(ctx, obs.ChainID, obs.Coin, obs.Address)
	if err != nil || inv == nil {
		return err
	}

	if c, ok := model.LookupCoin(obs.ChainID, obs.Coin); ok && !c.IsNative() {
		r.auditTokenBalance(inv, obs)
		return nil
	}

	limit := maxTracked(obs.ChainID, obs.Coin)
	d := Decide(
		inv.AccountedPayment(obs.Coin, obs.Address),
		Observation{Value: obs.Amount, Block: obs.Block},
		r.template(inv, method),
		limit,
	)
	ps := newPass(obs.ChainID, limit)
	ps.add(inv, d)
	return r.commit(ctx, ps)
}

// TrackConfirmations re-reads every non-final transfer-backed payment on
// the ledger's chain and recomputes its confirmations against latest.
func (r *Reconciler) TrackConfirmations(ctx context.Context, ledger chain.Ledger, latest uint64) error {
	chainID := ledger.ChainID()

	r.mu.Lock()
	defer r.mu.Unlock()
	defer observePass(chainID, "confirmations", time.Now())

	invoices, err := r.invoices.GetPendingInvoices(ctx)
	if err != nil {
		metrics.ReconcilerPassErrors.WithLabelValues(chainID.String()).Inc()
		return fmt.Errorf("load pending invoices: %w", err)
	}

	seen := r.missing[chainID]
	missing := make(map[uuid.UUID]uint64)
	var dropped []uuid.UUID

	ps := newPass(chainID, model.DefaultMaxTrackedConfirmations)
	for _, inv := range invoices {
		for _, p := range inv.Payments {
			if !p.Accounted || p.ChainID != chainID || p.TxHash == "" {
				continue
			}
			limit := maxTracked(chainID, p.Coin)
			if p.Confirmations >= limit {
				continue
			}

			tx, err := ledger.Transaction(ctx, p.TxHash)
			if err != nil && !errors.Is(err, chain.ErrNotFound) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if first, ok := seen[p.ID]; ok {
					missing[p.ID] = first
				}
				r.logger.Warn("transaction lookup failed", "invoice_id", inv.ID, "tx_hash", p.TxHash, "error", err)
				continue
			}
			if tx == nil {
				first, ok := seen[p.ID]
				if !ok {
					first = latest
				}
				missing[p.ID] = first
				if latest < first+droppedAfterBlocks {
					continue
				}
			}

			d := Track(p, tx, latest, limit)
			if d.Transition == TransitionDropped {
				dropped = append(dropped, p.ID)
				r.logger.Warn("transaction dropped from chain",
					"invoice_id", inv.ID, "tx_hash", p.TxHash, "block", p.Block.String(), "latest", latest)
			}
			ps.addWithLimit(inv, d, limit)
		}
	}
	r.missing[chainID] = missing

	if err := r.commit(ctx, ps); err != nil {
		return err
	}
	for _, id := range dropped {
		delete(missing, id)
	}
	return nil
}

// auditTokenBalance compares a token balance read with the sum of the
// accounted transfers of the address.
func (r *Reconciler) auditTokenBalance(inv *model.Invoice, obs model.BalanceObservation) {
	total := inv.AccountedTotal(obs.Coin, obs.Address)
	if total.Cmp(obs.Amount) == 0 {
		return
	}
	metrics.ReconcilerBalanceMismatches.WithLabelValues(obs.ChainID.String(), obs.Coin.String()).Inc()
	r.logger.Warn("token balance differs from accounted transfers",
		"invoice_id", inv.ID, "coin", obs.Coin, "address", obs.Address,
		"balance", obs.Amount.String(), "accounted", total.String(), "block", obs.Block.String())
}

func (r *Reconciler) resolve(ctx context.Context, chainID model.ChainID, coin model.CryptoCode, address string) (*model.Invoice, *model.InvoicePaymentMethod, error) {
	inv, err := r.invoices.FindInvoiceByDestination(ctx, chainID, coin, address)
	if err != nil {
		metrics.ReconcilerPassErrors.WithLabelValues(chainID.String()).Inc()
		return nil, nil, fmt.Errorf("find invoice for %s: %w: %w", address, errPersistence, err)
	}
	if inv == nil {
		r.logger.Debug("no invoice for address", "chain_id", int64(chainID), "coin", coin, "address", address)
		return nil, nil, nil
	}
	method := inv.PaymentMethod(chainID, coin)
	if method == nil {
		return nil, nil, nil
	}
	return inv.Clone(), method, nil
}

func (r *Reconciler) template(inv *model.Invoice, method *model.InvoicePaymentMethod) model.PaymentRecord {
	return model.PaymentRecord{
		ID:          r.newID(),
		InvoiceID:   inv.ID,
		ChainID:     method.ChainID,
		Coin:        method.Coin.Normalize(),
		Destination: method.Destination,
		KeyPath:     method.KeyPath,
		ReceivedAt:  r.now(),
	}
}

// commit persists the pass and publishes its events. Nothing is published
// when the write fails.
func (r *Reconciler) commit(ctx context.Context, ps *pass) error {
	label := ps.chainID.String()
	for _, t := range ps.transitions {
		metrics.ReconcilerTransitions.WithLabelValues(label, string(t)).Inc()
	}
	if ps.Empty() {
		return nil
	}

	created, err := r.payments.ApplyPass(ctx, ps.PaymentPass)
	if err != nil {
		metrics.ReconcilerPassErrors.WithLabelValues(label).Inc()
		r.passFailed(ctx, ps.chainID, err)
		return fmt.Errorf("apply payment pass: %w: %w", errPersistence, err)
	}
	r.failures[ps.chainID] = 0

	createdIDs := make(map[uuid.UUID]bool, len(created))
	for _, p := range created {
		createdIDs[p.ID] = true
		if err := r.bus.Publish(ctx, event.PaymentReceived{InvoiceID: p.InvoiceID, Payment: p}); err != nil {
			return fmt.Errorf("publish payment received: %w", err)
		}
		r.logger.Info("payment received",
			"invoice_id", p.InvoiceID, "coin", p.Coin, "value", p.Value.String(),
			"block", p.Block.String(), "tx_hash", p.TxHash)
	}

	for _, id := range ps.order {
		view := ps.view(id, createdIDs)
		if view == nil {
			continue
		}
		e := event.InvoiceNeedsUpdate{InvoiceID: id}
		e.PaymentConfirmed, e.PaymentCompleted = paymentFlags(view)
		if err := r.bus.Publish(ctx, e); err != nil {
			return fmt.Errorf("publish invoice update: %w", err)
		}
	}
	return nil
}

// passFailed raises one alert per run of consecutive failed writes.
func (r *Reconciler) passFailed(ctx context.Context, chainID model.ChainID, err error) {
	r.failures[chainID]++
	if r.alerter == nil || r.failures[chainID] != passFailureAlertThreshold {
		return
	}
	a := alert.Alert{
		Type:    alert.AlertTypePassFailed,
		ChainID: chainID,
		Title:   "payment pass failing",
		Message: err.Error(),
		Fields:  map[string]string{"consecutive_failures": fmt.Sprint(passFailureAlertThreshold)},
	}
	if sendErr := r.alerter.Send(ctx, a); sendErr != nil {
		r.logger.Warn("send pass failure alert", "chain_id", int64(chainID), "error", sendErr)
	}
}

// paymentFlags reports whether any accounted payment reached the invoice's
// speed-policy threshold and whether any reached its final count.
func paymentFlags(inv *model.Invoice) (confirmed, completed bool) {
	required := inv.SpeedPolicy.ConfirmationsRequired()
	for _, p := range inv.Payments {
		if !p.Accounted {
			continue
		}
		if p.Confirmations >= required {
			confirmed = true
		}
		if p.Confirmations >= maxTracked(p.ChainID, p.Coin) {
			completed = true
		}
	}
	return confirmed, completed
}

func maxTracked(chainID model.ChainID, code model.CryptoCode) int64 {
	if c, ok := model.LookupCoin(chainID, code); ok && c.MaxTrackedConfirmations > 0 {
		return c.MaxTrackedConfirmations
	}
	return model.DefaultMaxTrackedConfirmations
}

func observePass(chainID model.ChainID, source string, start time.Time) {
	metrics.ReconcilerPassDuration.WithLabelValues(chainID.String(), source).Observe(time.Since(start).Seconds())
}
