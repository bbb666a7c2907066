package payment

import (
	"math/big"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

// Transition names the outcome of applying one observation to a lineage.
type Transition string

const (
	TransitionNone           Transition = "none"
	TransitionCreate         Transition = "create"
	TransitionSupersede      Transition = "supersede"
	TransitionConfirmPending Transition = "confirm_pending"
	TransitionAdvance        Transition = "advance"
	TransitionReset          Transition = "reset"
	TransitionCapped         Transition = "capped"
	TransitionDropped        Transition = "dropped"
	TransitionRestore        Transition = "restore"
)

// droppedAfterBlocks is how far the chain must move past a transfer's
// recorded height, with the transaction unknown to the ledger the whole
// time, before the transfer stops counting.
const droppedAfterBlocks = 15

// Observation is a value seen for one destination at one block reference.
type Observation struct {
	Value *big.Int
	Block model.BlockReference
}

// Decision is the outcome of Decide. Updated is the existing record after
// the change; Created is a new record to insert. Either may be nil.
type Decision struct {
	Transition Transition
	Updated    *model.PaymentRecord
	Created    *model.PaymentRecord
}

// Decide applies a balance observation to the accounted record of its
// destination. template supplies the identity fields of a created record.
//
//	no record, value > 0          create (0 confirmations at pending, 1 otherwise)
//	value differs or is zero      unaccount the record, create when value > 0
//	record pending, obs concrete  move to the height with 1 confirmation
//	both concrete, obs newer      confirmations = height delta; a drop resets to 1
//
// Records at or above maxTracked confirmations are never edited.
func Decide(existing *model.PaymentRecord, obs Observation, template model.PaymentRecord, maxTracked int64) Decision {
	value := obs.Value
	if value == nil {
		value = new(big.Int)
	}

	if existing == nil {
		if value.Sign() <= 0 {
			return Decision{Transition: TransitionNone}
		}
		return Decision{Transition: TransitionCreate, Created: newRecord(template, value, obs.Block)}
	}

	if existing.Confirmations >= maxTracked {
		return Decision{Transition: TransitionCapped}
	}

	if existing.Value == nil || existing.Value.Cmp(value) != 0 || value.Sign() <= 0 {
		superseded := existing.Clone()
		superseded.Accounted = false
		d := Decision{Transition: TransitionSupersede, Updated: &superseded}
		if value.Sign() > 0 {
			d.Created = newRecord(template, value, obs.Block)
		}
		return d
	}

	obsHeight, obsConcrete := obs.Block.Height()
	curHeight, curConcrete := existing.Block.Height()

	switch {
	case !curConcrete && obsConcrete:
		updated := existing.Clone()
		updated.Block = obs.Block
		updated.Confirmations = 1
		return Decision{Transition: TransitionConfirmPending, Updated: &updated}

	case curConcrete && obsConcrete && obsHeight > curHeight:
		confirmations := int64(obsHeight - curHeight)
		if confirmations > maxTracked {
			confirmations = maxTracked
		}
		switch {
		case confirmations < existing.Confirmations:
			updated := existing.Clone()
			updated.Block = obs.Block
			updated.Confirmations = 1
			return Decision{Transition: TransitionReset, Updated: &updated}
		case confirmations > existing.Confirmations:
			updated := existing.Clone()
			updated.Confirmations = confirmations
			return Decision{Transition: TransitionAdvance, Updated: &updated}
		}
	}
	return Decision{Transition: TransitionNone}
}

// Track recomputes the confirmations of a transfer-backed record from the
// transaction's current inclusion. tx nil means the ledger no longer knows
// the transaction: once latest is droppedAfterBlocks past the recorded
// height the record is unaccounted. Pending records have no height to
// measure from and are left alone.
func Track(existing model.PaymentRecord, tx *model.TransactionInfo, latest uint64, maxTracked int64) Decision {
	if existing.Confirmations >= maxTracked {
		return Decision{Transition: TransitionCapped}
	}
	if tx == nil {
		h, ok := existing.Block.Height()
		if !ok || latest < h+droppedAfterBlocks {
			return Decision{Transition: TransitionNone}
		}
		dropped := existing.Clone()
		dropped.Accounted = false
		dropped.Confirmations = 0
		return Decision{Transition: TransitionDropped, Updated: &dropped}
	}

	if tx.IsPending() {
		if existing.Block.IsPending() {
			return Decision{Transition: TransitionNone}
		}
		updated := existing.Clone()
		updated.Block = model.PendingBlock()
		updated.Confirmations = 0
		return Decision{Transition: TransitionReset, Updated: &updated}
	}

	txHeight := *tx.BlockHeight
	curHeight, curConcrete := existing.Block.Height()

	if !curConcrete || curHeight != txHeight {
		updated := existing.Clone()
		updated.Block = model.AtHeight(txHeight)
		updated.BlockHash = tx.BlockHash
		updated.TxIndex = tx.TxIndex
		updated.Confirmations = 1
		t := TransitionReset
		if !curConcrete {
			t = TransitionConfirmPending
		}
		return Decision{Transition: t, Updated: &updated}
	}

	var confirmations int64
	if latest > txHeight {
		confirmations = int64(latest - txHeight)
	}
	if confirmations > maxTracked {
		confirmations = maxTracked
	}
	switch {
	case confirmations > existing.Confirmations:
		updated := existing.Clone()
		updated.Confirmations = confirmations
		return Decision{Transition: TransitionAdvance, Updated: &updated}
	case confirmations < existing.Confirmations && existing.Confirmations > 1:
		updated := existing.Clone()
		updated.Confirmations = 1
		return Decision{Transition: TransitionReset, Updated: &updated}
	}
	return Decision{Transition: TransitionNone}
}

func newRecord(template model.PaymentRecord, value *big.Int, ref model.BlockReference) *model.PaymentRecord {
	rec := template.Clone()
	rec.Value = new(big.Int).Set(value)
	rec.Block = ref
	rec.Accounted = true
	if ref.IsPending() {
		rec.Confirmations = 0
	} else {
		rec.Confirmations = 1
	}
	return &rec
}

// Restore re-accounts a dropped transfer whose log showed up again.
func Restore(existing model.PaymentRecord, obs model.TransferObservation) Decision {
	restored := existing.Clone()
	restored.Accounted = true
	restored.Block = model.AtHeight(obs.BlockHeight)
	restored.BlockHash = obs.BlockHash
	restored.TxIndex = obs.TxIndex
	restored.Confirmations = 1
	return Decision{Transition: TransitionRestore, Updated: &restored}
}
