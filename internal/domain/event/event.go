// Package event defines the typed messages exchanged over the event bus.
// Event is a closed set: only the variants declared here implement it.
package event

import "github.com/emperorhan/bsc-payment-watcher/internal/domain/model"

type Kind string

const (
	KindNewBlock               Kind = "new_block"
	KindTransferObserved       Kind = "transfer_observed"
	KindBalanceObserved        Kind = "balance_observed"
	KindPaymentReceived        Kind = "payment_received"
	KindInvoiceNeedsUpdate     Kind = "invoice_needs_update"
	KindInvoiceLifecycle       Kind = "invoice_lifecycle"
	KindInvoiceStopWatched     Kind = "invoice_stop_watched"
	KindReserveAddressRequest  Kind = "reserve_address_request"
	KindReserveAddressResponse Kind = "reserve_address_response"
	KindChainSettingsChanged   Kind = "chain_settings_changed"
	KindChainRestartRequested  Kind = "chain_restart_requested"
)

func (k Kind) String() string {
	return string(k)
}

type Event interface {
	Kind() Kind
	isEvent()
}

type sealed struct{}

func (sealed) isEvent() {}

// NewBlock announces one newly observed chain height.
type NewBlock struct {
	sealed
	ChainID model.ChainID
	Height  uint64
}

func (NewBlock) Kind() Kind { return KindNewBlock }

type TransferObserved struct {
	sealed
	Transfer model.TransferObservation
}

func (TransferObserved) Kind() Kind { return KindTransferObserved }

type BalanceObserved struct {
	sealed
	Balance model.BalanceObservation
}

func (BalanceObserved) Kind() Kind { return KindBalanceObserved }

// PaymentReceived is published once per newly created payment record.
type PaymentReceived struct {
	sealed
	InvoiceID string              `json:"invoiceId"`
	Payment   model.PaymentRecord `json:"payment"`
}

func (PaymentReceived) Kind() Kind { return KindPaymentReceived }

// InvoiceNeedsUpdate tells the invoice system that persisted payments of
// the invoice changed and its state should be recomputed.
type InvoiceNeedsUpdate struct {
	sealed
	InvoiceID        string `json:"invoiceId"`
	PaymentConfirmed bool   `json:"paymentConfirmed"`
	PaymentCompleted bool   `json:"paymentCompleted"`
}

func (InvoiceNeedsUpdate) Kind() Kind { return KindInvoiceNeedsUpdate }

type InvoiceLifecycle struct {
	sealed
	InvoiceID string
	Code      InvoiceEventCode
}

func (InvoiceLifecycle) Kind() Kind { return KindInvoiceLifecycle }

type InvoiceStopWatched struct {
	sealed
	InvoiceID string
}

func (InvoiceStopWatched) Kind() Kind { return KindInvoiceStopWatched }

// ReserveAddressRequest asks the address allocator for the next deposit
// address. OpID correlates the response.
type ReserveAddressRequest struct {
	sealed
	OpID    string
	StoreID string
	Code    model.CryptoCode
}

func (ReserveAddressRequest) Kind() Kind { return KindReserveAddressRequest }

// ReserveAddressResponse answers a request with the same OpID. Err is set
// on failure and the address fields are then empty.
type ReserveAddressResponse struct {
	sealed
	OpID    string
	StoreID string
	Code    model.CryptoCode
	ChainID model.ChainID
	Address string
	Index   int64
	KeyPath string
	XPub    string
	Err     error
}

func (ReserveAddressResponse) Kind() Kind { return KindReserveAddressResponse }

type ChainSettingsChanged struct {
	sealed
	ChainID model.ChainID
}

func (ChainSettingsChanged) Kind() Kind { return KindChainSettingsChanged }

type ChainRestartRequested struct {
	sealed
	ChainID model.ChainID
	Reason  string
}

func (ChainRestartRequested) Kind() Kind { return KindChainRestartRequested }
