package payment

import (
	"math/big"
	"testing"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(value int64, ref model.BlockReference, confirmations int64) *model.PaymentRecord {
	return &model.PaymentRecord{
		ID:            uuid.New(),
		InvoiceID:     "inv-1",
		Coin:          model.CodeBNB,
		Destination:   "0xAAA",
		Value:         big.NewInt(value),
		Block:         ref,
		Confirmations: confirmations,
		Accounted:     true,
	}
}

func TestDecide(t *testing.T) {
	template := model.PaymentRecord{ID: uuid.New(), InvoiceID: "inv-1", Coin: model.CodeBNB, Destination: "0xAAA"}
	const limit = model.DefaultMaxTrackedConfirmations

	tests := []struct {
		name          string
		existing      *model.PaymentRecord
		value         int64
		ref           model.BlockReference
		want          Transition
		wantUpdated   bool
		wantCreated   bool
		confirmations int64
		height        uint64
	}{
		{name: "zero balance without payment", value: 0, ref: model.PendingBlock(), want: TransitionNone},
		{name: "first seen in mempool", value: 500, ref: model.PendingBlock(), want: TransitionCreate, wantCreated: true, confirmations: 0},
		{name: "first seen in block", value: 500, ref: model.AtHeight(102), want: TransitionCreate, wantCreated: true, confirmations: 1, height: 102},
		{name: "pending gets mined", existing: record(500, model.PendingBlock(), 0), value: 500, ref: model.AtHeight(110), want: TransitionConfirmPending, wantUpdated: true, confirmations: 1, height: 110},
		{name: "confirmations advance", existing: record(500, model.AtHeight(100), 1), value: 500, ref: model.AtHeight(104), want: TransitionAdvance, wantUpdated: true, confirmations: 4, height: 100},
		{name: "advance is capped", existing: record(500, model.AtHeight(100), 1), value: 500, ref: model.AtHeight(200), want: TransitionAdvance, wantUpdated: true, confirmations: limit, height: 100},
		{name: "drop resets to new height", existing: record(500, model.AtHeight(100), 6), value: 500, ref: model.AtHeight(103), want: TransitionReset, wantUpdated: true, confirmations: 1, height: 103},
		{name: "same height is a no-op", existing: record(500, model.AtHeight(100), 2), value: 500, ref: model.AtHeight(100), want: TransitionNone},
		{name: "older height is a no-op", existing: record(500, model.AtHeight(100), 2), value: 500, ref: model.AtHeight(90), want: TransitionNone},
		{name: "pending read of mined payment is a no-op", existing: record(500, model.AtHeight(100), 2), value: 500, ref: model.PendingBlock(), want: TransitionNone},
		{name: "changed value supersedes", existing: record(500, model.AtHeight(100), 2), value: 600, ref: model.AtHeight(105), want: TransitionSupersede, wantUpdated: true, wantCreated: true, confirmations: 1, height: 105},
		{name: "zero value unaccounts", existing: record(500, model.AtHeight(100), 2), value: 0, ref: model.AtHeight(105), want: TransitionSupersede, wantUpdated: true},
		{name: "final payment is never edited", existing: record(500, model.AtHeight(100), limit), value: 600, ref: model.AtHeight(200), want: TransitionCapped},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.existing, Observation{Value: big.NewInt(tc.value), Block: tc.ref}, template, limit)
			assert.Equal(t, tc.want, d.Transition)
			assert.Equal(t, tc.wantUpdated, d.Updated != nil, "updated")
			assert.Equal(t, tc.wantCreated, d.Created != nil, "created")

			switch {
			case d.Transition == TransitionSupersede:
				assert.False(t, d.Updated.Accounted)
				assert.True(t, tc.existing.Accounted, "existing record is not mutated")
				if d.Created != nil {
					assert.True(t, d.Created.Accounted)
					assert.Equal(t, tc.value, d.Created.Value.Int64())
					assert.Equal(t, tc.confirmations, d.Created.Confirmations)
				}
			case d.Created != nil:
				assert.Equal(t, template.ID, d.Created.ID)
				assert.Equal(t, tc.value, d.Created.Value.Int64())
				assert.Equal(t, tc.confirmations, d.Created.Confirmations)
				assert.True(t, d.Created.Accounted)
				if h, ok := d.Created.Block.Height(); ok {
					assert.Equal(t, tc.height, h)
				}
			case d.Updated != nil:
				assert.Equal(t, tc.confirmations, d.Updated.Confirmations)
				h, ok := d.Updated.Block.Height()
				require.True(t, ok)
				assert.Equal(t, tc.height, h)
				assert.True(t, d.Updated.Accounted)
			}
		})
	}
}

func TestTrack(t *testing.T) {
	const limit = model.DefaultMaxTrackedConfirmations
	at := func(h uint64) *model.TransactionInfo {
		return &model.TransactionInfo{Hash: "0xT1", BlockHeight: &h, BlockHash: "0xblock"}
	}

	tests := []struct {
		name          string
		existing      *model.PaymentRecord
		tx            *model.TransactionInfo
		latest        uint64
		want          Transition
		confirmations int64
		pending       bool
		height        uint64
		dropped       bool
	}{
		{name: "unknown transaction within grace", existing: record(1, model.AtHeight(102), 3), tx: nil, latest: 116, want: TransitionNone},
		{name: "unknown transaction past grace", existing: record(1, model.AtHeight(102), 3), tx: nil, latest: 117, want: TransitionDropped, confirmations: 0, height: 102, dropped: true},
		{name: "unknown pending transaction", existing: record(1, model.PendingBlock(), 0), tx: nil, latest: 500, want: TransitionNone},
		{name: "capped", existing: record(1, model.AtHeight(102), limit), tx: at(102), latest: 500, want: TransitionCapped},
		{name: "advance from height delta", existing: record(1, model.AtHeight(102), 1), tx: at(102), latest: 110, want: TransitionAdvance, confirmations: 8, height: 102},
		{name: "delta equals current", existing: record(1, model.AtHeight(102), 1), tx: at(102), latest: 103, want: TransitionNone},
		{name: "tip in same block keeps one", existing: record(1, model.AtHeight(102), 1), tx: at(102), latest: 102, want: TransitionNone},
		{name: "height went backwards", existing: record(1, model.AtHeight(102), 5), tx: at(102), latest: 104, want: TransitionReset, confirmations: 1, height: 102},
		{name: "moved to another block", existing: record(1, model.AtHeight(102), 3), tx: at(104), latest: 110, want: TransitionReset, confirmations: 1, height: 104},
		{name: "mined after pending", existing: record(1, model.PendingBlock(), 0), tx: at(105), latest: 105, want: TransitionConfirmPending, confirmations: 1, height: 105},
		{name: "back in mempool", existing: record(1, model.AtHeight(102), 4), tx: &model.TransactionInfo{Hash: "0xT1"}, latest: 110, want: TransitionReset, confirmations: 0, pending: true},
		{name: "still in mempool", existing: record(1, model.PendingBlock(), 0), tx: &model.TransactionInfo{Hash: "0xT1"}, latest: 110, want: TransitionNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Track(*tc.existing, tc.tx, tc.latest, limit)
			assert.Equal(t, tc.want, d.Transition)
			assert.Nil(t, d.Created)
			if d.Updated == nil {
				return
			}
			assert.Equal(t, tc.confirmations, d.Updated.Confirmations)
			assert.Equal(t, !tc.dropped, d.Updated.Accounted)
			if tc.pending {
				assert.True(t, d.Updated.Block.IsPending())
				return
			}
			h, ok := d.Updated.Block.Height()
			require.True(t, ok)
			assert.Equal(t, tc.height, h)
		})
	}
}

func TestRestore(t *testing.T) {
	existing := *record(300, model.AtHeight(102), 0)
	existing.Accounted = false
	existing.TxHash = "0xT1"

	d := Restore(existing, model.TransferObservation{TxHash: "0xT1", BlockHeight: 120, BlockHash: "0xnew", TxIndex: 4})
	assert.Equal(t, TransitionRestore, d.Transition)
	require.NotNil(t, d.Updated)
	assert.Equal(t, existing.ID, d.Updated.ID)
	assert.True(t, d.Updated.Accounted)
	assert.Equal(t, int64(1), d.Updated.Confirmations)
	assert.Equal(t, "0xnew", d.Updated.BlockHash)
	assert.Equal(t, uint64(4), d.Updated.TxIndex)
	h, ok := d.Updated.Block.Height()
	require.True(t, ok)
	assert.Equal(t, uint64(120), h)
	assert.Equal(t, int64(300), d.Updated.Value.Int64())
}
