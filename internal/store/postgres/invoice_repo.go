package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/lib/pq"
)

type InvoiceRepo struct {
	db *DB
}

func NewInvoiceRepo(db *DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// GetPendingInvoices returns open invoices plus any invoice flagged for
// further confirmation tracking.
func (r *InvoiceRepo) GetPendingInvoices(ctx context.Context) ([]*model.Invoice, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, status, speed_policy, created_at
		FROM invoices
		WHERE status IN ('New', 'Processing')
		   OR id IN (SELECT invoice_id FROM pending_invoices)
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending invoices: %w", err)
	}
	invoices, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *InvoiceRepo) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var inv model.Invoice
	err := r.db.QueryRowContext(ctx, `
		SELECT id, store_id, status, speed_policy, created_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.StoreID, &inv.Status, &inv.SpeedPolicy, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	if err := r.hydrate(ctx, []*model.Invoice{&inv}); err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindInvoiceByDestination resolves the newest invoice whose payment method
// for coin pays address. Address matching is case-insensitive.
func (r *InvoiceRepo) FindInvoiceByDestination(ctx context.Context, chainID model.ChainID, coin model.CryptoCode, address string) (*model.Invoice, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT i.id
		FROM invoice_payment_methods m
		JOIN invoices i ON i.id = m.invoice_id
		WHERE m.chain_id = $1 AND m.crypto_code = $2 AND lower(m.destination) = lower($3)
		ORDER BY i.created_at DESC
		LIMIT 1
	`, chainID, coin.Normalize(), address).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice by destination: %w", err)
	}
	return r.GetInvoice(ctx, id)
}

func (r *InvoiceRepo) AddPendingInvoiceIfNotPresent(ctx context.Context, invoiceID string) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_invoices (invoice_id) VALUES ($1)
		ON CONFLICT (invoice_id) DO NOTHING
	`, invoiceID); err != nil {
		return fmt.Errorf("add pending invoice %s: %w", invoiceID, err)
	}
	return nil
}

// CreateInvoice inserts an invoice with its prepared payment methods.
func (r *InvoiceRepo) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoices (id, store_id, status, speed_policy)
			VALUES ($1, $2, $3, $4)
		`, inv.ID, inv.StoreID, inv.Status, inv.SpeedPolicy); err != nil {
			return fmt.Errorf("insert invoice %s: %w", inv.ID, err)
		}
		for _, m := range inv.PaymentMethods {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO invoice_payment_methods (invoice_id, chain_id, crypto_code, destination, key_path, activated)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, inv.ID, m.ChainID, m.Coin.Normalize(), m.Destination, m.KeyPath, m.Activated); err != nil {
				return fmt.Errorf("insert payment method %s/%s: %w", inv.ID, m.Coin, err)
			}
		}
		return nil
	})
}

// SetStatus moves an invoice through its lifecycle.
func (r *InvoiceRepo) SetStatus(ctx context.Context, id string, status model.InvoiceStatus) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE invoices SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("set invoice status %s: %w", id, err)
	}
	return nil
}

func scanInvoices(rows *sql.Rows) ([]*model.Invoice, error) {
	defer rows.Close()
	var out []*model.Invoice
	for rows.Next() {
		var inv model.Invoice
		if err := rows.Scan(&inv.ID, &inv.StoreID, &inv.Status, &inv.SpeedPolicy, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// hydrate loads payment methods and payments for the given invoices.
func (r *InvoiceRepo) hydrate(ctx context.Context, invoices []*model.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	byID := make(map[string]*model.Invoice, len(invoices))
	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
		ids = append(ids, inv.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT invoice_id, chain_id, crypto_code, destination, key_path, activated
		FROM invoice_payment_methods
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, chain_id, crypto_code
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query invoice payment methods: %w", err)
	}
	for rows.Next() {
		var (
			invoiceID string
			m         model.InvoicePaymentMethod
		)
		if err := rows.Scan(&invoiceID, &m.ChainID, &m.Coin, &m.Destination, &m.KeyPath, &m.Activated); err != nil {
			rows.Close()
			return fmt.Errorf("scan invoice payment method: %w", err)
		}
		byID[invoiceID].PaymentMethods = append(byID[invoiceID].PaymentMethods, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate invoice payment methods: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM payments
		WHERE invoice_id = ANY($1)
		ORDER BY received_at, id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		byID[p.InvoiceID].Payments = append(byID[p.InvoiceID].Payments, p)
	}
	return rows.Err()
}

const paymentColumns = `id, invoice_id, chain_id, crypto_code, destination, source,
	value::text, block_height, confirmations, tx_hash, log_index, tx_index,
	block_hash, key_path, accounted, received_at`

func scanPayment(row interface{ Scan(...any) error }) (model.PaymentRecord, error) {
	var (
		p        model.PaymentRecord
		value    string
		height   sql.NullInt64
		logIndex int64
		txIndex  int64
	)
	if err := row.Scan(
		&p.ID, &p.InvoiceID, &p.ChainID, &p.Coin, &p.Destination, &p.Source,
		&value, &height, &p.Confirmations, &p.TxHash, &logIndex, &txIndex,
		&p.BlockHash, &p.KeyPath, &p.Accounted, &p.ReceivedAt,
	); err != nil {
		return p, err
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return p, fmt.Errorf("payment %s: invalid value %q", p.ID, value)
	}
	p.Value = v
	if height.Valid {
		p.Block = model.AtHeight(uint64(height.Int64))
	} else {
		p.Block = model.PendingBlock()
	}
	p.LogIndex = uint64(logIndex)
	p.TxIndex = uint64(txIndex)
	return p, nil
}

func blockHeightArg(ref model.BlockReference) sql.NullInt64 {
	h, ok := ref.Height()
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(h), Valid: true}
}

func valueArg(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
