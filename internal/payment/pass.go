package payment

import (
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/google/uuid"
)

// pass collects the mutations of one reconciliation pass together with
// the post-pass view of every invoice it touched.
type pass struct {
	store.PaymentPass

	chainID     model.ChainID
	limit       int64
	transitions []Transition
	invoices    map[string]*model.Invoice
	changed     map[string]bool
	order       []string
	pending     map[string]bool
}

func newPass(chainID model.ChainID, limit int64) *pass {
	return &pass{
		chainID:  chainID,
		limit:    limit,
		invoices: make(map[string]*model.Invoice),
		changed:  make(map[string]bool),
		pending:  make(map[string]bool),
	}
}

func (p *pass) add(inv *model.Invoice, d Decision) {
	p.addWithLimit(inv, d, p.limit)
}

func (p *pass) addWithLimit(inv *model.Invoice, d Decision, limit int64) {
	p.transitions = append(p.transitions, d.Transition)
	if d.Updated == nil && d.Created == nil {
		return
	}

	view, ok := p.invoices[inv.ID]
	if !ok {
		view = inv.Clone()
		p.invoices[inv.ID] = view
		p.order = append(p.order, inv.ID)
	}

	if d.Updated != nil {
		p.Updates = append(p.Updates, *d.Updated)
		for i := range view.Payments {
			if view.Payments[i].ID == d.Updated.ID {
				view.Payments[i] = d.Updated.Clone()
			}
		}
		p.changed[inv.ID] = true
		p.markPending(inv.ID, d.Updated, limit)
	}
	if d.Created != nil {
		p.Inserts = append(p.Inserts, *d.Created)
		view.Payments = append(view.Payments, d.Created.Clone())
		p.markPending(inv.ID, d.Created, limit)
	}
}

func (p *pass) markPending(invoiceID string, rec *model.PaymentRecord, limit int64) {
	if !rec.Accounted || rec.Confirmations >= limit || p.pending[invoiceID] {
		return
	}
	p.pending[invoiceID] = true
	p.PendingInvoices = append(p.PendingInvoices, invoiceID)
}

// view returns the post-pass invoice when its persisted records changed:
// an update landed or one of its inserts was actually created. Inserts the
// store dropped are removed from the view.
func (p *pass) view(invoiceID string, created map[uuid.UUID]bool) *model.Invoice {
	view := p.invoices[invoiceID]
	if view == nil {
		return nil
	}
	inserted := false
	kept := view.Payments[:0]
	for _, rec := range view.Payments {
		if p.isInsert(rec.ID) {
			if !created[rec.ID] {
				continue
			}
			inserted = true
		}
		kept = append(kept, rec)
	}
	view.Payments = kept
	if !inserted && !p.changed[invoiceID] {
		return nil
	}
	return view
}

func (p *pass) isInsert(id uuid.UUID) bool {
	for _, rec := range p.Inserts {
		if rec.ID == id {
			return true
		}
	}
	return false
}
