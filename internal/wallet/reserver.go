package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/eventbus"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/google/uuid"
)

const DefaultReservationTimeout = 60 * time.Second

// Reservation is a successfully reserved deposit address.
type Reservation struct {
	OpID    string
	StoreID string
	Code    model.CryptoCode
	ChainID model.ChainID
	Address string
	Index   int64
	KeyPath string
}

// Reserver is the caller side of address reservation: it publishes a
// request and waits for the response carrying the same operation id.
type Reserver struct {
	bus     *eventbus.Bus
	timeout time.Duration

	mu      sync.Mutex
	waiting map[string]chan event.ReserveAddressResponse
	stop    func()
}

func NewReserver(bus *eventbus.Bus, timeout time.Duration) *Reserver {
	if timeout <= 0 {
		timeout = DefaultReservationTimeout
	}
	r := &Reserver{
		bus:     bus,
		timeout: timeout,
		waiting: make(map[string]chan event.ReserveAddressResponse),
	}
	r.stop = eventbus.Subscribe(bus, "reserver", r.deliver)
	return r
}

// Close detaches the reserver from the bus.
func (r *Reserver) Close() {
	r.stop()
}

// Reserve asks for the next address of the store's coin. An empty opID is
// replaced by a random one.
func (r *Reserver) Reserve(ctx context.Context, storeID string, code model.CryptoCode, opID string) (Reservation, error) {
	if opID == "" {
		opID = uuid.NewString()
	}
	start := time.Now()
	defer func() { metrics.AllocatorWaitDuration.Observe(time.Since(start).Seconds()) }()

	ch := make(chan event.ReserveAddressResponse, 1)
	r.mu.Lock()
	r.waiting[opID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiting, opID)
		r.mu.Unlock()
	}()

	if err := r.bus.Publish(ctx, event.ReserveAddressRequest{OpID: opID, StoreID: storeID, Code: code}); err != nil {
		return Reservation{}, fmt.Errorf("publish reservation: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return Reservation{}, resp.Err
		}
		return Reservation{
			OpID:    resp.OpID,
			StoreID: resp.StoreID,
			Code:    resp.Code,
			ChainID: resp.ChainID,
			Address: resp.Address,
			Index:   resp.Index,
			KeyPath: resp.KeyPath,
		}, nil
	case <-timer.C:
		return Reservation{}, fmt.Errorf("%w: op %s", ErrReservationTimeout, opID)
	case <-ctx.Done():
		return Reservation{}, ctx.Err()
	}
}

func (r *Reserver) deliver(_ context.Context, resp event.ReserveAddressResponse) error {
	r.mu.Lock()
	ch, ok := r.waiting[resp.OpID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case ch <- resp:
	default:
	}
	return nil
}
