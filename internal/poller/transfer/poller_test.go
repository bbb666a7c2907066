package transfer

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	chainmocks "github.com/emperorhan/bsc-payment-watcher/internal/chain/mocks"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	storemocks "github.com/emperorhan/bsc-payment-watcher/internal/store/mocks"
	"github.com/emperorhan/bsc-payment-watcher/internal/watchlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const watched = "0x00000000000000000000000000000000000000aa"

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(_ context.Context, e event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) transfers() []model.TransferObservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.TransferObservation
	for _, e := range b.events {
		out = append(out, e.(event.TransferObserved).Transfer)
	}
	return out
}

type fixture struct {
	poller   *Poller
	ledger   *chainmocks.MockLedger
	settings *storemocks.MockSettingsRepository
	bus      *recordingBus
}

func newFixture(t *testing.T, window uint64, destinations ...string) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	ledger := chainmocks.NewMockLedger(ctrl)
	ledger.EXPECT().ChainID().Return(model.ChainBSCMainnet).AnyTimes()
	settings := storemocks.NewMockSettingsRepository(ctrl)
	invoices := storemocks.NewMockInvoiceRepository(ctrl)

	var pending []*model.Invoice
	for i, d := range destinations {
		pending = append(pending, &model.Invoice{
			ID:     "inv-" + string(rune('a'+i)),
			Status: model.InvoiceStatusNew,
			PaymentMethods: []model.InvoicePaymentMethod{{
				ChainID: model.ChainBSCMainnet, Coin: model.CodeWPROSUS, Destination: d, Activated: true,
			}},
		})
	}
	invoices.EXPECT().GetPendingInvoices(gomock.Any()).Return(pending, nil)
	watch := watchlist.New(model.ChainBSCMainnet, "transfer", invoices, slog.Default())
	require.NoError(t, watch.Load(context.Background()))

	s := model.DefaultChainSettings(model.ChainBSCMainnet)
	s.TransferWindow = window
	bus := &recordingBus{}
	p := New(ledger, settings, bus, poller.NewSettings(s), watch, slog.Default())
	return fixture{poller: p, ledger: ledger, settings: settings, bus: bus}
}

func announce(t *testing.T, p *Poller, heights ...uint64) {
	t.Helper()
	for _, h := range heights {
		require.NoError(t, p.HandleNewBlock(context.Background(), event.NewBlock{ChainID: model.ChainBSCMainnet, Height: h}))
	}
}

func transferAt(height uint64, tx string, logIndex uint64, value int64) model.TransferObservation {
	return model.TransferObservation{
		ChainID:     model.ChainBSCMainnet,
		Coin:        model.CodeWPROSUS,
		To:          watched,
		Value:       big.NewInt(value),
		BlockHeight: height,
		TxHash:      tx,
		LogIndex:    logIndex,
	}
}

func rangeOf(q chain.TransferQuery) [2]uint64 {
	return [2]uint64{q.FromHeight, q.ToHeight}
}

func TestTick_SingleWindowPublishesTransfer(t *testing.T) {
	f := newFixture(t, 1000, watched)
	announce(t, f.poller, 101, 102, 103)

	f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q chain.TransferQuery) ([]model.TransferObservation, error) {
			assert.Equal(t, [2]uint64{101, 103}, rangeOf(q))
			assert.Equal(t, []string{watched}, q.To)
			require.Len(t, q.Coins, 1)
			assert.Equal(t, model.CodeWPROSUS, q.Coins[0].Code)
			return []model.TransferObservation{transferAt(102, "0xT1", 0, 500)}, nil
		})
	gomock.InOrder(
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(101)).Return(nil),
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(104)).Return(nil),
	)

	require.NoError(t, f.poller.Tick(context.Background()))

	got := f.bus.transfers()
	require.Len(t, got, 1)
	assert.Equal(t, "0xT1", got[0].TxHash)
	assert.Equal(t, uint64(102), got[0].BlockHeight)
	assert.Equal(t, int64(500), got[0].Value.Int64())
	assert.Empty(t, f.poller.Pending())
}

func TestTick_WindowsNewestFirstWithDedupe(t *testing.T) {
	f := newFixture(t, 3, watched)
	for h := uint64(1); h <= 10; h++ {
		announce(t, f.poller, h)
	}

	boundary := transferAt(7, "0xB", 2, 9)
	var scanned [][2]uint64
	f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Times(3).
		DoAndReturn(func(_ context.Context, q chain.TransferQuery) ([]model.TransferObservation, error) {
			scanned = append(scanned, rangeOf(q))
			switch q.ToHeight {
			case 10:
				return []model.TransferObservation{transferAt(9, "0xA", 0, 1), boundary}, nil
			case 7:
				return []model.TransferObservation{boundary, transferAt(5, "0xC", 0, 3)}, nil
			default:
				return nil, nil
			}
		})
	gomock.InOrder(
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(1)).Return(nil),
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(11)).Return(nil),
	)

	require.NoError(t, f.poller.Tick(context.Background()))

	assert.Equal(t, [][2]uint64{{7, 10}, {4, 7}, {1, 4}}, scanned)
	var hashes []string
	for _, tr := range f.bus.transfers() {
		hashes = append(hashes, tr.TxHash)
	}
	assert.Equal(t, []string{"0xA", "0xB", "0xC"}, hashes)
	assert.Empty(t, f.poller.Pending())
}

func TestTick_FailedWindowKeepsRemainderQueued(t *testing.T) {
	f := newFixture(t, 3, watched)
	for h := uint64(1); h <= 10; h++ {
		announce(t, f.poller, h)
	}

	gomock.InOrder(
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, nil),
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout")),
	)
	f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(1)).Return(nil)

	require.Error(t, f.poller.Tick(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, f.poller.Pending())
}

func TestTick_RestartAfterFailedWindowRescansOlderHeights(t *testing.T) {
	f := newFixture(t, 3, watched)
	for h := uint64(1); h <= 10; h++ {
		announce(t, f.poller, h)
	}

	var stored uint64
	f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.ChainID, h uint64) error {
			stored = h
			return nil
		}).AnyTimes()
	gomock.InOrder(
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, nil),
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout")),
	)
	require.Error(t, f.poller.Tick(context.Background()))
	require.Equal(t, uint64(1), stored)

	restarted := newFixture(t, 3, watched)
	s := model.DefaultChainSettings(model.ChainBSCMainnet)
	s.LastSeenBlockNumber = 10
	s.NextScanBlockNumber = stored
	restarted.settings.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(&s, nil)

	require.NoError(t, restarted.poller.Resume(context.Background()))
	assert.Contains(t, restarted.poller.Pending(), uint64(5))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, restarted.poller.Pending())
}

func TestTick_RetryAfterFailureOnlyAdvancesCursorOnSuccess(t *testing.T) {
	f := newFixture(t, 1000, watched)
	announce(t, f.poller, 20, 21)

	gomock.InOrder(
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(20)).Return(nil),
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout")),
		f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).Return(nil, nil),
		f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(22)).Return(nil),
	)

	require.Error(t, f.poller.Tick(context.Background()))
	assert.Equal(t, []uint64{20, 21}, f.poller.Pending())
	require.NoError(t, f.poller.Tick(context.Background()))
	assert.Empty(t, f.poller.Pending())
}

func TestTick_EmptyWatchListClearsQueue(t *testing.T) {
	f := newFixture(t, 1000)
	announce(t, f.poller, 5, 6)
	f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(7)).Return(nil)

	require.NoError(t, f.poller.Tick(context.Background()))
	assert.Empty(t, f.poller.Pending())
}

func TestTick_SkipsRemovedLogs(t *testing.T) {
	f := newFixture(t, 1000, watched)
	announce(t, f.poller, 50)

	removed := transferAt(50, "0xGone", 0, 1)
	removed.Removed = true
	f.ledger.EXPECT().TransferLogs(gomock.Any(), gomock.Any()).
		Return([]model.TransferObservation{removed, transferAt(50, "0xKept", 1, 2)}, nil)
	f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(50)).Return(nil)
	f.settings.EXPECT().SetNextScan(gomock.Any(), model.ChainBSCMainnet, uint64(51)).Return(nil)

	require.NoError(t, f.poller.Tick(context.Background()))
	got := f.bus.transfers()
	require.Len(t, got, 1)
	assert.Equal(t, "0xKept", got[0].TxHash)
}

func TestHandleNewBlock_IgnoresOtherChains(t *testing.T) {
	f := newFixture(t, 1000, watched)
	require.NoError(t, f.poller.HandleNewBlock(context.Background(), event.NewBlock{ChainID: model.ChainBSCTestnet, Height: 9}))
	assert.Empty(t, f.poller.Pending())
}

func TestResume_QueuesUnscannedHeights(t *testing.T) {
	f := newFixture(t, 1000, watched)
	s := model.DefaultChainSettings(model.ChainBSCMainnet)
	s.LastSeenBlockNumber = 120
	s.NextScanBlockNumber = 118
	f.settings.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(&s, nil)

	require.NoError(t, f.poller.Resume(context.Background()))
	assert.Equal(t, []uint64{118, 119, 120}, f.poller.Pending())
}

func TestResume_NoStoredCursorQueuesNothing(t *testing.T) {
	f := newFixture(t, 1000, watched)
	s := model.DefaultChainSettings(model.ChainBSCMainnet)
	s.LastSeenBlockNumber = 120
	f.settings.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(&s, nil)

	require.NoError(t, f.poller.Resume(context.Background()))
	assert.Empty(t, f.poller.Pending())
}

func TestWindowSize(t *testing.T) {
	tests := []struct {
		configured, lo, hi, want uint64
	}{
		{configured: 1000, lo: 100, hi: 103, want: 3},
		{configured: 2, lo: 100, hi: 103, want: 2},
		{configured: 1000, lo: 7, hi: 7, want: 1},
		{configured: 0, lo: 1, hi: 10, want: 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, windowSize(tc.configured, tc.lo, tc.hi))
	}
}
