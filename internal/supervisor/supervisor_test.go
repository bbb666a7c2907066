package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/bsc-payment-watcher/internal/alert"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	chainmocks "github.com/emperorhan/bsc-payment-watcher/internal/chain/mocks"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSettings struct {
	mu      sync.Mutex
	byID    map[model.ChainID]model.ChainSettings
	listErr error
}

func newMemSettings(list ...model.ChainSettings) *memSettings {
	m := &memSettings{byID: make(map[model.ChainID]model.ChainSettings)}
	for _, s := range list {
		m.byID[s.ChainID] = s
	}
	return m
}

func (m *memSettings) List(context.Context) ([]model.ChainSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.ChainSettings, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out, nil
}

func (m *memSettings) Get(_ context.Context, id model.ChainID) (*model.ChainSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSettings) Save(_ context.Context, s model.ChainSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ChainID] = s
	return nil
}

func (m *memSettings) AdvanceLastSeen(_ context.Context, id model.ChainID, h uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if h > s.LastSeenBlockNumber {
		s.LastSeenBlockNumber = h
	}
	m.byID[id] = s
	return nil
}

func (m *memSettings) SetNextScan(_ context.Context, id model.ChainID, h uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	s.NextScanBlockNumber = h
	m.byID[id] = s
	return nil
}

func (m *memSettings) remove(id model.ChainID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

type fakeBuilder struct {
	mu       sync.Mutex
	builds   int
	released int
	err      error
	stopped  int
}

func (b *fakeBuilder) Build(_ context.Context, _ chain.Ledger, _ poller.SettingsSource) ([]Service, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds++
	if b.err != nil {
		return nil, nil, b.err
	}
	run := func(ctx context.Context) error {
		<-ctx.Done()
		b.mu.Lock()
		b.stopped++
		b.mu.Unlock()
		return ctx.Err()
	}
	release := func() {
		b.mu.Lock()
		b.released++
		b.mu.Unlock()
	}
	return []Service{
		{Kind: ServiceBlockPoller, Run: run},
		{Kind: ServiceTransferPoller, Run: run},
	}, release, nil
}

func (b *fakeBuilder) counts() (builds, released, stopped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds, b.released, b.stopped
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) types() []alert.AlertType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.AlertType, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Type)
	}
	return out
}

func configured(id model.ChainID) model.ChainSettings {
	s := model.DefaultChainSettings(id)
	s.RPCURL = "https://rpc.example/" + id.String()
	return s
}

type harness struct {
	sup      *Supervisor
	settings *memSettings
	builder  *fakeBuilder
	alerter  *recordingAlerter
	ledgers  map[model.ChainID]*chainmocks.MockLedger
	dials    map[model.ChainID]int
	dialMu   sync.Mutex
	ctx      context.Context
}

func newHarness(t *testing.T, list ...model.ChainSettings) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		settings: newMemSettings(list...),
		builder:  &fakeBuilder{},
		alerter:  &recordingAlerter{},
		ledgers:  make(map[model.ChainID]*chainmocks.MockLedger),
		dials:    make(map[model.ChainID]int),
	}
	for _, id := range []model.ChainID{model.ChainBSCMainnet, model.ChainBSCTestnet} {
		l := chainmocks.NewMockLedger(ctrl)
		l.EXPECT().ChainID().Return(id).AnyTimes()
		h.ledgers[id] = l
	}
	dial := func(s model.ChainSettings) (chain.Ledger, error) {
		h.dialMu.Lock()
		h.dials[s.ChainID]++
		h.dialMu.Unlock()
		return h.ledgers[s.ChainID], nil
	}
	h.sup = New(h.settings, dial, h.builder, h.alerter, testLogger(), Config{
		IdleInterval:          time.Hour,
		RetryInterval:         time.Second,
		EnsureInitialInterval: time.Millisecond,
		EnsureMaxElapsed:      time.Second,
		StaleBlocks:           -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	t.Cleanup(func() {
		cancel()
		h.sup.stopAll()
	})
	return h
}

func (h *harness) waitState(t *testing.T, id model.ChainID, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range h.sup.Statuses() {
			if st.ChainID == id {
				return st.State == want
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "chain %s never reached %s", id, want)
}

func TestReconcile_StartsConfiguredChains(t *testing.T) {
	unconfigured := model.DefaultChainSettings(model.ChainBSCTestnet)
	h := newHarness(t, configured(model.ChainBSCMainnet), unconfigured)
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil)

	assert.Equal(t, time.Second, h.sup.Reconcile(h.ctx), "a chain was started")
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	assert.True(t, h.sup.IsAvailable(model.ChainBSCMainnet))
	assert.False(t, h.sup.IsAvailable(model.ChainBSCTestnet))
	assert.Equal(t, []ServiceKind{ServiceBlockPoller, ServiceTransferPoller}, h.sup.Services(model.ChainBSCMainnet))

	assert.Equal(t, time.Hour, h.sup.Reconcile(h.ctx), "everything is up")
	builds, _, _ := h.builder.counts()
	assert.Equal(t, 1, builds, "running chains are left untouched")
}

func TestReconcile_MisconfiguredChainIsUnavailable(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	mismatch := fmt.Errorf("%w: endpoint reports 97", chain.ErrChainMismatch)
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(mismatch).Times(1)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateUnavailable)

	assert.False(t, h.sup.IsAvailable(model.ChainBSCMainnet))
	assert.Eventually(t, func() bool { return !h.sup.isRunning(model.ChainBSCMainnet) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []alert.AlertType{alert.AlertTypeMisconfig}, h.alerter.types())

	builds, _, _ := h.builder.counts()
	assert.Zero(t, builds, "services are not started")

	st := h.sup.Statuses()
	require.Len(t, st, 1)
	assert.Contains(t, st[0].LastError, "chain id mismatch")
}

func TestReconcile_RetriesUnavailableChainAndAlertsRecovery(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	l := h.ledgers[model.ChainBSCMainnet]
	gomock.InOrder(
		l.EXPECT().EnsureChain(gomock.Any()).Return(chain.ErrInvalidEndpoint),
		l.EXPECT().EnsureChain(gomock.Any()).Return(nil),
	)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateUnavailable)
	require.Eventually(t, func() bool { return !h.sup.isRunning(model.ChainBSCMainnet) }, time.Second, 5*time.Millisecond)

	assert.Equal(t, time.Second, h.sup.Reconcile(h.ctx))
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	assert.Equal(t, []alert.AlertType{alert.AlertTypeMisconfig, alert.AlertTypeRecovery}, h.alerter.types())
}

func TestEnsureChain_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	l := h.ledgers[model.ChainBSCMainnet]
	gomock.InOrder(
		l.EXPECT().EnsureChain(gomock.Any()).Return(context.DeadlineExceeded),
		l.EXPECT().EnsureChain(gomock.Any()).Return(context.DeadlineExceeded),
		l.EXPECT().EnsureChain(gomock.Any()).Return(nil),
	)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateRunning)
	assert.Empty(t, h.alerter.types())
}

func TestBuildFailure_MarksChainUnavailable(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil)
	h.builder.err = errors.New("load pending invoices: connection refused")

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateUnavailable)
	assert.Equal(t, []alert.AlertType{alert.AlertTypeUnavailable}, h.alerter.types())
}

func TestRestart_ReplacesServices(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil).Times(2)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	updated := configured(model.ChainBSCMainnet)
	updated.RPCURL = "https://rpc.example/other"
	require.NoError(t, h.settings.Save(h.ctx, updated))

	h.sup.restart(h.ctx, restartRequest{chainID: model.ChainBSCMainnet, reason: "settings_changed"})
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	builds, released, stopped := h.builder.counts()
	assert.Equal(t, 2, builds)
	assert.Equal(t, 1, released, "old subscriptions dropped")
	assert.Equal(t, 2, stopped, "both old services stopped")

	h.dialMu.Lock()
	assert.Equal(t, 2, h.dials[model.ChainBSCMainnet], "fresh ledger per start")
	h.dialMu.Unlock()
	assert.Contains(t, h.alerter.types(), alert.AlertTypeRestarted)
}

func TestRestart_UnconfiguredChainStaysStopped(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	h.settings.remove(model.ChainBSCMainnet)
	h.sup.restart(h.ctx, restartRequest{chainID: model.ChainBSCMainnet, reason: "settings_changed"})

	h.waitState(t, model.ChainBSCMainnet, StateStopped)
	assert.False(t, h.sup.isRunning(model.ChainBSCMainnet))
}

func TestReconcile_StopsRemovedChain(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	h.settings.remove(model.ChainBSCMainnet)
	assert.Equal(t, time.Hour, h.sup.Reconcile(h.ctx))

	h.waitState(t, model.ChainBSCMainnet, StateStopped)
	_, released, _ := h.builder.counts()
	assert.Equal(t, 1, released)
}

func TestReconcile_ListFailureRetriesSoon(t *testing.T) {
	h := newHarness(t)
	h.settings.listErr = errors.New("db down")
	assert.Equal(t, time.Second, h.sup.Reconcile(h.ctx))
}

func TestRun_RestartRequestAndShutdown(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil).Times(2)

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	h.waitState(t, model.ChainBSCMainnet, StateRunning)
	require.NoError(t, h.sup.RequestRestart(ctx, model.ChainBSCMainnet, "requested"))
	require.Eventually(t, func() bool {
		builds, _, _ := h.builder.counts()
		return builds == 2 && h.sup.IsAvailable(model.ChainBSCMainnet)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	h.waitState(t, model.ChainBSCMainnet, StateStopped)
	assert.False(t, h.sup.isRunning(model.ChainBSCMainnet))
}

func TestHandleNewBlock_RecordsHeight(t *testing.T) {
	h := newHarness(t, configured(model.ChainBSCMainnet))
	h.ledgers[model.ChainBSCMainnet].EXPECT().EnsureChain(gomock.Any()).Return(nil)

	h.sup.Reconcile(h.ctx)
	h.waitState(t, model.ChainBSCMainnet, StateRunning)

	require.NoError(t, h.sup.HandleNewBlock(h.ctx, event.NewBlock{ChainID: model.ChainBSCMainnet, Height: 42}))
	require.NoError(t, h.sup.HandleNewBlock(h.ctx, event.NewBlock{ChainID: model.ChainBSCTestnet, Height: 7}))

	st := h.sup.Statuses()
	require.Len(t, st, 1)
	assert.Equal(t, uint64(42), st[0].Height)
	assert.NotNil(t, st[0].LastBlockAt)
	assert.Equal(t, model.NetworkMainnet, st[0].Network)
}
