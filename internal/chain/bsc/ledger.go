// Package bsc implements the ledger boundary over a BNB Smart Chain
// JSON-RPC endpoint.
package bsc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/cache"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc/rpc"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	balanceCacheSize = 4096
	balanceCacheTTL  = 2 * time.Minute
)

// RPC is the subset of the JSON-RPC client the ledger uses.
type RPC interface {
	ChainID(ctx context.Context) (uint64, error)
	BlockNumber(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, address, block string) (*big.Int, error)
	Call(ctx context.Context, msg rpc.CallMsg, block string) ([]byte, error)
	GetLogs(ctx context.Context, filter rpc.LogFilter) ([]rpc.Log, error)
	GetTransactionByHash(ctx context.Context, hash string) (*rpc.Transaction, error)
}

type balanceKey struct {
	coin    model.CryptoCode
	address string
	height  uint64
}

type Ledger struct {
	rpc      RPC
	chainID  model.ChainID
	balances *cache.LRU[balanceKey, *big.Int]
	logger   *slog.Logger
}

var _ chain.Ledger = (*Ledger)(nil)

func NewLedger(chainID model.ChainID, client RPC, logger *slog.Logger) *Ledger {
	return &Ledger{
		rpc:      client,
		chainID:  chainID,
		balances: cache.NewLRU[balanceKey, *big.Int](balanceCacheSize, balanceCacheTTL),
		logger:   logger.With("component", "bsc_ledger", "chain_id", chainID),
	}
}

func (l *Ledger) ChainID() model.ChainID {
	return l.chainID
}

// EnsureChain fails with chain.ErrChainMismatch when the endpoint serves a
// different chain than configured.
func (l *Ledger) EnsureChain(ctx context.Context) error {
	got, err := l.rpc.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if model.ChainID(got) != l.chainID {
		return fmt.Errorf("%w: endpoint reports %d, configured %d", chain.ErrChainMismatch, got, l.chainID)
	}
	return nil
}

func (l *Ledger) LatestHeight(ctx context.Context) (uint64, error) {
	return l.rpc.BlockNumber(ctx)
}

// Balance reads the native balance or, for token coins, balanceOf on the
// coin's contract. Reads at a concrete height are cached.
func (l *Ledger) Balance(ctx context.Context, coin model.Coin, address string, ref model.BlockReference) (*big.Int, error) {
	height, concrete := ref.Height()
	key := balanceKey{coin: coin.Code, address: strings.ToLower(address), height: height}
	if concrete {
		if v, ok := l.balances.Get(key); ok {
			metrics.BalanceCacheHits.WithLabelValues(l.chainID.String()).Inc()
			return new(big.Int).Set(v), nil
		}
	}

	var (
		v   *big.Int
		err error
	)
	if coin.IsNative() {
		v, err = l.rpc.GetBalance(ctx, common.HexToAddress(address).Hex(), ref.RPCParam())
	} else {
		v, err = l.tokenBalance(ctx, coin, address, ref)
	}
	if err != nil {
		return nil, err
	}
	if concrete {
		l.balances.Put(key, new(big.Int).Set(v))
	}
	return v, nil
}

func (l *Ledger) tokenBalance(ctx context.Context, coin model.Coin, holder string, ref model.BlockReference) (*big.Int, error) {
	out, err := l.rpc.Call(ctx, rpc.CallMsg{To: coin.Contract, Data: balanceOfCalldata(holder)}, ref.RPCParam())
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s on %s: %w", holder, coin.Code, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// TransferLogs returns Transfer logs of the queried token coins sent to any
// of the addresses, in the order the node returned them. Entries that do
// not decode are logged and skipped.
func (l *Ledger) TransferLogs(ctx context.Context, q chain.TransferQuery) ([]model.TransferObservation, error) {
	if len(q.To) == 0 {
		return nil, nil
	}
	if q.FromHeight > q.ToHeight {
		return nil, fmt.Errorf("invalid range %d..%d", q.FromHeight, q.ToHeight)
	}

	byContract := make(map[string]model.Coin, len(q.Coins))
	contracts := make([]string, 0, len(q.Coins))
	for _, c := range q.Coins {
		if c.IsNative() {
			continue
		}
		addr := common.HexToAddress(c.Contract).Hex()
		byContract[strings.ToLower(addr)] = c
		contracts = append(contracts, addr)
	}
	if len(contracts) == 0 {
		return nil, nil
	}

	recipients := make([]string, 0, len(q.To))
	for _, a := range q.To {
		recipients = append(recipients, addressTopic(a))
	}

	logs, err := l.rpc.GetLogs(ctx, rpc.LogFilter{
		FromBlock: hexutil.EncodeUint64(q.FromHeight),
		ToBlock:   hexutil.EncodeUint64(q.ToHeight),
		Address:   contracts,
		Topics:    []any{TransferTopic.Hex(), nil, recipients},
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.TransferObservation, 0, len(logs))
	for _, raw := range logs {
		coin, ok := byContract[strings.ToLower(raw.Address)]
		if !ok {
			l.logger.Warn("log from unexpected contract", "address", raw.Address, "tx_hash", raw.TransactionHash)
			continue
		}
		obs, err := decodeTransfer(l.chainID, coin, raw)
		if err != nil {
			l.logger.Warn("skip undecodable transfer log",
				"tx_hash", raw.TransactionHash,
				"log_index", raw.LogIndex,
				"error", err,
			)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Transaction returns chain.ErrNotFound for unknown hashes and a nil
// BlockHeight while the transaction is pending.
func (l *Ledger) Transaction(ctx context.Context, txHash string) (*model.TransactionInfo, error) {
	tx, err := l.rpc.GetTransactionByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", txHash, chain.ErrNotFound)
	}

	info := &model.TransactionInfo{Hash: tx.Hash}
	if tx.BlockNumber == nil {
		return info, nil
	}
	height, err := hexutil.DecodeUint64(*tx.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("decode block number of %s: %w", txHash, err)
	}
	info.BlockHeight = &height
	if tx.BlockHash != nil {
		info.BlockHash = *tx.BlockHash
	}
	if tx.TransactionIndex != nil {
		if idx, err := hexutil.DecodeUint64(*tx.TransactionIndex); err == nil {
			info.TxIndex = idx
		}
	}
	return info, nil
}
