package model

import "math/big"

// BalanceObservation is a balance read of one address at one block reference.
type BalanceObservation struct {
	ChainID ChainID
	Coin    CryptoCode
	Address string
	Amount  *big.Int
	Block   BlockReference
}
