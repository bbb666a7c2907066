package model

import "strings"

// SupportedPaymentMethod is a store's derivation configuration for one coin.
// CurrentIndex is the last index handed out; -1 means none yet.
type SupportedPaymentMethod struct {
	ChainID      ChainID    `db:"chain_id"`
	Coin         CryptoCode `db:"crypto_code"`
	XPub         string     `db:"xpub"`
	CurrentIndex int64      `db:"current_index"`
}

type Store struct {
	ID             string                   `db:"id"`
	Name           string                   `db:"name"`
	PaymentMethods []SupportedPaymentMethod `db:"-"`
}

// FindPaymentMethod matches the crypto code case-insensitively.
func (s *Store) FindPaymentMethod(code CryptoCode) *SupportedPaymentMethod {
	for i := range s.PaymentMethods {
		if strings.EqualFold(string(s.PaymentMethods[i].Coin), string(code)) {
			return &s.PaymentMethods[i]
		}
	}
	return nil
}

// AddressAllocation is the allocator's view of one (store, coin) counter.
type AddressAllocation struct {
	StoreID      string     `db:"store_id"`
	Coin         CryptoCode `db:"crypto_code"`
	CurrentIndex int64      `db:"current_index"`
}
