package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

// ErrNotFound is returned by writes that target a row that does not exist.
// Reads return a nil result instead.
var ErrNotFound = errors.New("record not found")

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// SettingsRepository persists the per-chain poller configuration.
type SettingsRepository interface {
	List(ctx context.Context) ([]model.ChainSettings, error)
	Get(ctx context.Context, chainID model.ChainID) (*model.ChainSettings, error)
	// Save writes the operator-owned fields and leaves the poller cursors
	// untouched.
	Save(ctx context.Context, s model.ChainSettings) error
	// AdvanceLastSeen raises the stored last-seen height; a lower value
	// is ignored.
	AdvanceLastSeen(ctx context.Context, chainID model.ChainID, height uint64) error
	// SetNextScan records the lowest height the transfer poller has not
	// scanned yet. Zero means no position was ever recorded.
	SetNextScan(ctx context.Context, chainID model.ChainID, height uint64) error
}

// InvoiceRepository reads invoices and their prepared payment methods.
type InvoiceRepository interface {
	GetPendingInvoices(ctx context.Context) ([]*model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	FindInvoiceByDestination(ctx context.Context, chainID model.ChainID, coin model.CryptoCode, address string) (*model.Invoice, error)
	AddPendingInvoiceIfNotPresent(ctx context.Context, invoiceID string) error
}

// PaymentPass is every mutation produced by one reconciliation pass.
type PaymentPass struct {
	Inserts         []model.PaymentRecord
	Updates         []model.PaymentRecord
	PendingInvoices []string
}

func (p PaymentPass) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.PendingInvoices) == 0
}

// PaymentStore applies a pass atomically. The returned records are the
// inserts that were actually created; inserts whose transfer key already
// exists for the invoice are dropped.
type PaymentStore interface {
	ApplyPass(ctx context.Context, pass PaymentPass) ([]model.PaymentRecord, error)
}

// StoreRepository reads and updates merchant stores.
type StoreRepository interface {
	FindStore(ctx context.Context, id string) (*model.Store, error)
	UpdateStore(ctx context.Context, s *model.Store) error
}
