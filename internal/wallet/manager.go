package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

var (
	ErrStoreNotFound      = errors.New("store not found")
	ErrNoPaymentMethod    = errors.New("store has no payment method for crypto code")
	ErrDerivationFailed   = errors.New("address derivation failed")
	ErrReservationTimeout = errors.New("address reservation timed out")
)

type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Manager answers address reservation requests. A single mutex serializes
// the read-increment-persist cycle so no index is handed out twice.
type Manager struct {
	stores store.StoreRepository
	derive Deriver
	bus    Publisher
	logger *slog.Logger

	mu sync.Mutex
}

func NewManager(stores store.StoreRepository, bus Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		stores: stores,
		derive: Derive,
		bus:    bus,
		logger: logger.With("component", "address_manager"),
	}
}

// HandleRequest reserves the next address and publishes the response,
// successful or not.
func (m *Manager) HandleRequest(ctx context.Context, req event.ReserveAddressRequest) error {
	resp := m.reserve(ctx, req)
	status := "ok"
	if resp.Err != nil {
		status = "failed"
		m.logger.Warn("address reservation failed",
			"op_id", req.OpID, "store_id", req.StoreID, "crypto_code", req.Code, "error", resp.Err)
	} else {
		m.logger.Info("address reserved",
			"op_id", req.OpID, "store_id", req.StoreID, "crypto_code", resp.Code, "index", resp.Index, "address", resp.Address)
	}
	metrics.AllocatorReservations.WithLabelValues(string(req.Code.Normalize()), status).Inc()
	return m.bus.Publish(ctx, resp)
}

func (m *Manager) reserve(ctx context.Context, req event.ReserveAddressRequest) event.ReserveAddressResponse {
	resp := event.ReserveAddressResponse{OpID: req.OpID, StoreID: req.StoreID, Code: req.Code}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.stores.FindStore(ctx, req.StoreID)
	if err != nil {
		resp.Err = fmt.Errorf("find store %s: %w", req.StoreID, err)
		return resp
	}
	if st == nil {
		resp.Err = fmt.Errorf("%w: %s", ErrStoreNotFound, req.StoreID)
		return resp
	}
	method := st.FindPaymentMethod(req.Code)
	if method == nil {
		resp.Err = fmt.Errorf("%w: %s", ErrNoPaymentMethod, req.Code)
		return resp
	}

	next := method.CurrentIndex + 1
	address, err := m.derive(method.XPub, next)
	if err != nil {
		resp.Err = fmt.Errorf("%w: %w", ErrDerivationFailed, err)
		return resp
	}

	method.CurrentIndex = next
	if err := m.stores.UpdateStore(ctx, st); err != nil {
		resp.Err = fmt.Errorf("persist index %d: %w", next, err)
		return resp
	}

	resp.Code = method.Coin.Normalize()
	resp.ChainID = method.ChainID
	resp.Address = address
	resp.Index = next
	resp.XPub = method.XPub
	if coin, ok := model.LookupCoin(method.ChainID, method.Coin); ok {
		resp.KeyPath = coin.KeyPath(next)
	}
	return resp
}
