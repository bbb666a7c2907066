package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/google/uuid"
)

type PaymentStore struct {
	db *DB
}

func NewPaymentStore(db *DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// ApplyPass writes one reconciliation pass in a single transaction. Updates
// go first so a superseded record is unaccounted before its replacement
// lands.
func (s *PaymentStore) ApplyPass(ctx context.Context, pass store.PaymentPass) ([]model.PaymentRecord, error) {
	if pass.Empty() {
		return nil, nil
	}

	var created []model.PaymentRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range pass.Updates {
			if err := updatePaymentTx(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, p := range pass.Inserts {
			ok, err := insertPaymentTx(ctx, tx, p)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, p)
			}
		}
		for _, id := range pass.PendingInvoices {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pending_invoices (invoice_id) VALUES ($1)
				ON CONFLICT (invoice_id) DO NOTHING
			`, id); err != nil {
				return fmt.Errorf("add pending invoice %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func updatePaymentTx(ctx context.Context, tx *sql.Tx, p model.PaymentRecord) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET
			value = $2::numeric,
			block_height = $3,
			confirmations = $4,
			block_hash = $5,
			tx_index = $6,
			accounted = $7,
			updated_at = now()
		WHERE id = $1
	`, p.ID, valueArg(p.Value), blockHeightArg(p.Block), p.Confirmations,
		p.BlockHash, int64(p.TxIndex), p.Accounted)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update payment %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

// insertPaymentTx reports false when the transfer key already exists for
// the invoice.
func insertPaymentTx(ctx context.Context, tx *sql.Tx, p model.PaymentRecord) (bool, error) {
	if p.ID == uuid.Nil {
		return false, fmt.Errorf("insert payment for invoice %s: missing id", p.InvoiceID)
	}
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO payments (id, invoice_id, chain_id, crypto_code, destination, source,
			value, block_height, confirmations, tx_hash, log_index, tx_index,
			block_hash, key_path, accounted, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, p.ID, p.InvoiceID, p.ChainID, p.Coin.Normalize(), p.Destination, p.Source,
		valueArg(p.Value), blockHeightArg(p.Block), p.Confirmations, p.TxHash,
		int64(p.LogIndex), int64(p.TxIndex), p.BlockHash, p.KeyPath, p.Accounted, p.ReceivedAt,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return true, nil
}
