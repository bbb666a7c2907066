package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_chainId")
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_blockNumber")
}

func (c *Client) quantity(ctx context.Context, method string, params ...any) (uint64, error) {
	result, err := c.call(ctx, method, params...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("%s: unmarshal result: %w", method, err)
	}
	n, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("%s: decode %q: %w", method, hex, err)
	}
	return n, nil
}

// GetBalance returns the native balance of address at block (a 0x quantity
// or a tag such as "pending").
func (c *Client) GetBalance(ctx context.Context, address, block string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", address, block)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance(%s, %s): %w", address, block, err)
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return nil, fmt.Errorf("eth_getBalance: unmarshal result: %w", err)
	}
	v, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance: decode %q: %w", hex, err)
	}
	return v, nil
}

// Call executes a read-only contract call and returns the raw return data.
func (c *Client) Call(ctx context.Context, msg CallMsg, block string) ([]byte, error) {
	result, err := c.call(ctx, "eth_call", msg, block)
	if err != nil {
		return nil, fmt.Errorf("eth_call(%s): %w", msg.To, err)
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return nil, fmt.Errorf("eth_call: unmarshal result: %w", err)
	}
	data, err := hexutil.Decode(hex)
	if err != nil {
		return nil, fmt.Errorf("eth_call: decode result: %w", err)
	}
	return data, nil
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	result, err := c.call(ctx, "eth_getLogs", filter)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs(%s..%s): %w", filter.FromBlock, filter.ToBlock, err)
	}
	var logs []Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("eth_getLogs: unmarshal result: %w", err)
	}
	return logs, nil
}

// GetTransactionByHash returns nil, nil when the node does not know the
// transaction.
func (c *Client) GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	result, err := c.call(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash(%s): %w", hash, err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash: unmarshal result: %w", err)
	}
	return &tx, nil
}
