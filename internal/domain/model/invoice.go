package model

import (
	"math/big"
	"time"
)

type InvoiceStatus string

const (
	InvoiceStatusNew        InvoiceStatus = "New"
	InvoiceStatusProcessing InvoiceStatus = "Processing"
	InvoiceStatusSettled    InvoiceStatus = "Settled"
	InvoiceStatusExpired    InvoiceStatus = "Expired"
	InvoiceStatusInvalid    InvoiceStatus = "Invalid"
)

// InvoicePaymentMethod is a prepared payment method of an invoice: the
// deposit address a payer was shown for one coin.
type InvoicePaymentMethod struct {
	ChainID     ChainID    `db:"chain_id"`
	Coin        CryptoCode `db:"crypto_code"`
	Destination string     `db:"destination"`
	KeyPath     string     `db:"key_path"`
	Activated   bool       `db:"activated"`
}

type Invoice struct {
	ID             string                 `db:"id"`
	StoreID        string                 `db:"store_id"`
	Status         InvoiceStatus          `db:"status"`
	SpeedPolicy    SpeedPolicy            `db:"speed_policy"`
	CreatedAt      time.Time              `db:"created_at"`
	PaymentMethods []InvoicePaymentMethod `db:"-"`
	Payments       []PaymentRecord        `db:"-"`
}

// AccountedPayment returns the accounted record paying coin at address.
func (inv *Invoice) AccountedPayment(coin CryptoCode, address string) *PaymentRecord {
	for i := range inv.Payments {
		p := &inv.Payments[i]
		if p.Accounted && p.SameDestination(coin, address) {
			return p
		}
	}
	return nil
}

// AccountedTotal sums the accounted records paying coin at address.
func (inv *Invoice) AccountedTotal(coin CryptoCode, address string) *big.Int {
	total := new(big.Int)
	for _, p := range inv.Payments {
		if p.Accounted && p.Value != nil && p.SameDestination(coin, address) {
			total.Add(total, p.Value)
		}
	}
	return total
}

// TransferRecord returns the record, accounted or not, carrying the
// transfer key.
func (inv *Invoice) TransferRecord(key TransferKey) *PaymentRecord {
	for i := range inv.Payments {
		if k, ok := inv.Payments[i].TransferKey(); ok && k == key {
			return &inv.Payments[i]
		}
	}
	return nil
}

// HasTransfer reports whether any record, accounted or not, already
// carries the transfer key.
func (inv *Invoice) HasTransfer(key TransferKey) bool {
	return inv.TransferRecord(key) != nil
}

// PaymentMethod finds the invoice's method for a coin on a chain.
func (inv *Invoice) PaymentMethod(chainID ChainID, coin CryptoCode) *InvoicePaymentMethod {
	for i := range inv.PaymentMethods {
		m := &inv.PaymentMethods[i]
		if m.ChainID == chainID && m.Coin.Normalize() == coin.Normalize() {
			return m
		}
	}
	return nil
}

// WatchEntries lists the invoice's payment methods as watch-list entries.
func (inv *Invoice) WatchEntries() []WatchListEntry {
	out := make([]WatchListEntry, 0, len(inv.PaymentMethods))
	for _, m := range inv.PaymentMethods {
		if m.Destination == "" {
			continue
		}
		out = append(out, WatchListEntry{
			InvoiceID:   inv.ID,
			ChainID:     m.ChainID,
			Coin:        m.Coin.Normalize(),
			Destination: m.Destination,
			Activated:   m.Activated,
		})
	}
	return out
}

// Clone deep-copies the invoice so a reconciliation pass can mutate it
// without touching the cached original.
func (inv *Invoice) Clone() *Invoice {
	out := *inv
	out.PaymentMethods = append([]InvoicePaymentMethod(nil), inv.PaymentMethods...)
	out.Payments = make([]PaymentRecord, len(inv.Payments))
	for i, p := range inv.Payments {
		out.Payments[i] = p.Clone()
	}
	return &out
}
