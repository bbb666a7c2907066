package model

import (
	"math/big"
	"strings"
)

// TransferKey identifies one log entry on chain. Two observations with the
// same key describe the same transfer.
type TransferKey struct {
	TxHash   string
	LogIndex uint64
}

func NewTransferKey(txHash string, logIndex uint64) TransferKey {
	return TransferKey{TxHash: strings.ToLower(txHash), LogIndex: logIndex}
}

// TransferObservation is one token Transfer log entry addressed to a
// watched address.
type TransferObservation struct {
	ChainID     ChainID
	Coin        CryptoCode
	From        string
	To          string
	Value       *big.Int
	Contract    string
	BlockHash   string
	BlockHeight uint64
	LogIndex    uint64
	TxHash      string
	TxIndex     uint64
	Removed     bool
}

func (t TransferObservation) Key() TransferKey {
	return NewTransferKey(t.TxHash, t.LogIndex)
}

// TransactionInfo is the subset of a transaction the confirmation tracker
// needs. BlockHeight is nil while the transaction is still pending.
type TransactionInfo struct {
	Hash        string
	BlockHeight *uint64
	BlockHash   string
	TxIndex     uint64
}

func (t TransactionInfo) IsPending() bool {
	return t.BlockHeight == nil
}
