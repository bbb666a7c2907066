package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

type StoreRepo struct {
	db *DB
}

func NewStoreRepo(db *DB) *StoreRepo {
	return &StoreRepo{db: db}
}

func (r *StoreRepo) FindStore(ctx context.Context, id string) (*model.Store, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var s model.Store
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM stores WHERE id = $1`, id).Scan(&s.ID, &s.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find store %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT chain_id, crypto_code, xpub, current_index
		FROM store_payment_methods
		WHERE store_id = $1
		ORDER BY crypto_code
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query store payment methods %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.SupportedPaymentMethod
		if err := rows.Scan(&m.ChainID, &m.Coin, &m.XPub, &m.CurrentIndex); err != nil {
			return nil, fmt.Errorf("scan store payment method: %w", err)
		}
		s.PaymentMethods = append(s.PaymentMethods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store payment methods: %w", err)
	}
	return &s, nil
}

// UpdateStore persists the store and every payment method's counter.
func (r *StoreRepo) UpdateStore(ctx context.Context, s *model.Store) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE stores SET name = $2 WHERE id = $1`, s.ID, s.Name)
		if err != nil {
			return fmt.Errorf("update store %s: %w", s.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update store %s: %w", s.ID, store.ErrNotFound)
		}
		for _, m := range s.PaymentMethods {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO store_payment_methods (store_id, crypto_code, chain_id, xpub, current_index)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (store_id, crypto_code) DO UPDATE SET
					chain_id = EXCLUDED.chain_id,
					xpub = EXCLUDED.xpub,
					current_index = EXCLUDED.current_index,
					updated_at = now()
			`, s.ID, m.Coin.Normalize(), m.ChainID, m.XPub, m.CurrentIndex); err != nil {
				return fmt.Errorf("upsert store payment method %s/%s: %w", s.ID, m.Coin, err)
			}
		}
		return nil
	})
}

// CreateStore inserts a store with its payment methods.
func (r *StoreRepo) CreateStore(ctx context.Context, s *model.Store) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO stores (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.Name); err != nil {
		return fmt.Errorf("create store %s: %w", s.ID, err)
	}
	return r.UpdateStore(ctx, s)
}
