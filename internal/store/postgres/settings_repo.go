package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

const settingsColumns = `chain_id, rpc_url, rpc_username, rpc_password,
	block_poll_interval_ms, transfer_poll_interval_ms, balance_poll_interval_ms,
	transfer_window, last_seen_block_number, next_scan_block_number, updated_at`

func scanSettings(row interface{ Scan(...any) error }) (model.ChainSettings, error) {
	var (
		s                     model.ChainSettings
		blockMS, transferMS   int64
		balanceMS, window     int64
		lastSeen, nextScan    int64
	)
	err := row.Scan(
		&s.ChainID, &s.RPCURL, &s.Username, &s.Password,
		&blockMS, &transferMS, &balanceMS,
		&window, &lastSeen, &nextScan, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	s.BlockPollInterval = time.Duration(blockMS) * time.Millisecond
	s.TransferPollInterval = time.Duration(transferMS) * time.Millisecond
	s.BalancePollInterval = time.Duration(balanceMS) * time.Millisecond
	s.TransferWindow = uint64(window)
	s.LastSeenBlockNumber = uint64(lastSeen)
	s.NextScanBlockNumber = uint64(nextScan)
	return s, nil
}

func (r *SettingsRepo) List(ctx context.Context) ([]model.ChainSettings, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+settingsColumns+` FROM chain_settings ORDER BY chain_id`)
	if err != nil {
		return nil, fmt.Errorf("query chain settings: %w", err)
	}
	defer rows.Close()

	var out []model.ChainSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SettingsRepo) Get(ctx context.Context, chainID model.ChainID) (*model.ChainSettings, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	s, err := scanSettings(r.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM chain_settings WHERE chain_id = $1`, chainID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chain settings %d: %w", chainID, err)
	}
	return &s, nil
}

func (r *SettingsRepo) Save(ctx context.Context, s model.ChainSettings) error {
	s = s.WithDefaults()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chain_settings (chain_id, rpc_url, rpc_username, rpc_password,
			block_poll_interval_ms, transfer_poll_interval_ms, balance_poll_interval_ms, transfer_window)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id) DO UPDATE SET
			rpc_url = EXCLUDED.rpc_url,
			rpc_username = EXCLUDED.rpc_username,
			rpc_password = EXCLUDED.rpc_password,
			block_poll_interval_ms = EXCLUDED.block_poll_interval_ms,
			transfer_poll_interval_ms = EXCLUDED.transfer_poll_interval_ms,
			balance_poll_interval_ms = EXCLUDED.balance_poll_interval_ms,
			transfer_window = EXCLUDED.transfer_window,
			updated_at = now()
	`, s.ChainID, s.RPCURL, s.Username, s.Password,
		s.BlockPollInterval.Milliseconds(), s.TransferPollInterval.Milliseconds(),
		s.BalancePollInterval.Milliseconds(), int64(s.TransferWindow))
	if err != nil {
		return fmt.Errorf("save chain settings %d: %w", s.ChainID, err)
	}
	return nil
}

func (r *SettingsRepo) AdvanceLastSeen(ctx context.Context, chainID model.ChainID, height uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chain_settings (chain_id, last_seen_block_number)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET
			last_seen_block_number = GREATEST(chain_settings.last_seen_block_number, $2),
			updated_at = now()
	`, chainID, int64(height))
	if err != nil {
		return fmt.Errorf("advance last seen %d: %w", chainID, err)
	}
	return nil
}

func (r *SettingsRepo) SetNextScan(ctx context.Context, chainID model.ChainID, height uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chain_settings (chain_id, next_scan_block_number)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET
			next_scan_block_number = $2,
			updated_at = now()
	`, chainID, int64(height))
	if err != nil {
		return fmt.Errorf("set last scanned %d: %w", chainID, err)
	}
	return nil
}
