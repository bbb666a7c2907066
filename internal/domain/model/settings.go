package model

import (
	"fmt"
	"time"
)

const (
	DefaultBlockPollInterval    = 5 * time.Second
	DefaultTransferPollInterval = 10 * time.Second
	DefaultBalancePollInterval  = 30 * time.Second
	DefaultTransferWindow       = uint64(1000)
)

// ChainSettings is the per-chain poller configuration. The block poller
// owns LastSeenBlockNumber and the transfer poller owns
// NextScanBlockNumber; everything else belongs to the operator.
type ChainSettings struct {
	ChainID                ChainID       `db:"chain_id"`
	RPCURL                 string        `db:"rpc_url"`
	Username               string        `db:"rpc_username"`
	Password               string        `db:"rpc_password"`
	BlockPollInterval      time.Duration `db:"block_poll_interval_ms"`
	TransferPollInterval   time.Duration `db:"transfer_poll_interval_ms"`
	BalancePollInterval    time.Duration `db:"balance_poll_interval_ms"`
	TransferWindow         uint64        `db:"transfer_window"`
	LastSeenBlockNumber    uint64        `db:"last_seen_block_number"`
	NextScanBlockNumber    uint64        `db:"next_scan_block_number"`
	UpdatedAt              time.Time     `db:"updated_at"`
}

// SettingsKey is the storage key of the chain's settings blob.
func SettingsKey(id ChainID) string {
	return fmt.Sprintf("BSCConfiguration_%d", id)
}

func DefaultChainSettings(id ChainID) ChainSettings {
	return ChainSettings{
		ChainID:              id,
		BlockPollInterval:    DefaultBlockPollInterval,
		TransferPollInterval: DefaultTransferPollInterval,
		BalancePollInterval:  DefaultBalancePollInterval,
		TransferWindow:       DefaultTransferWindow,
	}
}

// Configured reports whether an RPC endpoint has been set.
func (s ChainSettings) Configured() bool {
	return s.RPCURL != ""
}

// WithDefaults fills zero intervals and window size.
func (s ChainSettings) WithDefaults() ChainSettings {
	d := DefaultChainSettings(s.ChainID)
	if s.BlockPollInterval <= 0 {
		s.BlockPollInterval = d.BlockPollInterval
	}
	if s.TransferPollInterval <= 0 {
		s.TransferPollInterval = d.TransferPollInterval
	}
	if s.BalancePollInterval <= 0 {
		s.BalancePollInterval = d.BalancePollInterval
	}
	if s.TransferWindow == 0 {
		s.TransferWindow = d.TransferWindow
	}
	return s
}

// SameOperatorConfig compares everything except the poller-owned cursors
// and the update timestamp.
func (s ChainSettings) SameOperatorConfig(o ChainSettings) bool {
	return s.ChainID == o.ChainID &&
		s.RPCURL == o.RPCURL &&
		s.Username == o.Username &&
		s.Password == o.Password &&
		s.BlockPollInterval == o.BlockPollInterval &&
		s.TransferPollInterval == o.TransferPollInterval &&
		s.BalancePollInterval == o.BalancePollInterval &&
		s.TransferWindow == o.TransferWindow
}
