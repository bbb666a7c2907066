// Package chain defines the boundary between the watcher and the ledger
// RPC endpoint.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

var (
	// ErrNotFound is returned when the ledger does not know the requested
	// object. It is distinct from a failed call.
	ErrNotFound = errors.New("not found on ledger")

	// ErrChainMismatch means the endpoint serves a different chain than
	// the one it was configured for.
	ErrChainMismatch = errors.New("endpoint chain id mismatch")

	// ErrInvalidEndpoint means the configured RPC endpoint is missing or
	// malformed.
	ErrInvalidEndpoint = errors.New("invalid rpc endpoint")
)

// TransferQuery selects Transfer logs of the given token coins sent to any
// of the addresses within [FromHeight, ToHeight].
type TransferQuery struct {
	Coins      []model.Coin
	To         []string
	FromHeight uint64
	ToHeight   uint64
}

//go:generate mockgen -source=ledger.go -destination=mocks/mock_ledger.go -package=mocks

// Ledger is the read-only view of one chain.
type Ledger interface {
	ChainID() model.ChainID
	EnsureChain(ctx context.Context) error
	LatestHeight(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, coin model.Coin, address string, ref model.BlockReference) (*big.Int, error)
	TransferLogs(ctx context.Context, q TransferQuery) ([]model.TransferObservation, error)
	Transaction(ctx context.Context, txHash string) (*model.TransactionInfo, error)
}
