package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is one observed payment towards an invoice. Records are
// never deleted; a correction marks the old record unaccounted and adds a
// new one.
type PaymentRecord struct {
	ID            uuid.UUID      `db:"id"`
	InvoiceID     string         `db:"invoice_id"`
	ChainID       ChainID        `db:"chain_id"`
	Coin          CryptoCode     `db:"crypto_code"`
	Destination   string         `db:"destination"`
	Source        string         `db:"source"`
	Value         *big.Int       `db:"value"`
	Block         BlockReference `db:"block_ref"`
	Confirmations int64          `db:"confirmations"`
	TxHash        string         `db:"tx_hash"`
	LogIndex      uint64         `db:"log_index"`
	TxIndex       uint64         `db:"tx_index"`
	BlockHash     string         `db:"block_hash"`
	KeyPath       string         `db:"key_path"`
	Accounted     bool           `db:"accounted"`
	ReceivedAt    time.Time      `db:"received_at"`
}

// TransferKey returns the log identity of transfer-backed records. Records
// created from balance reads carry no transaction and return false.
func (p PaymentRecord) TransferKey() (TransferKey, bool) {
	if p.TxHash == "" {
		return TransferKey{}, false
	}
	return NewTransferKey(p.TxHash, p.LogIndex), true
}

// Clone returns a copy that does not share the Value pointer.
func (p PaymentRecord) Clone() PaymentRecord {
	if p.Value != nil {
		p.Value = new(big.Int).Set(p.Value)
	}
	return p
}

// SameDestination reports whether the record pays the given coin and address.
func (p PaymentRecord) SameDestination(coin CryptoCode, address string) bool {
	return p.Coin.Normalize() == coin.Normalize() && strings.EqualFold(p.Destination, address)
}

// DestinationKey is the "<address>#<PAYMENTMETHODID>" key invoices are
// looked up by.
func DestinationKey(address string, coin CryptoCode) string {
	return strings.ToLower(address) + "#" + string(coin.Normalize())
}
