package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	storemocks "github.com/emperorhan/bsc-payment-watcher/internal/store/mocks"
	"github.com/emperorhan/bsc-payment-watcher/internal/supervisor"
	"github.com/emperorhan/bsc-payment-watcher/internal/wallet"
)

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (b *recordingBus) Publish(_ context.Context, e event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, e)
	return nil
}

type fakeStatuses []supervisor.ChainStatus

func (f fakeStatuses) Statuses() []supervisor.ChainStatus { return f }

type fakeReserver struct {
	gotStore string
	gotCode  model.CryptoCode
	gotOpID  string
	res      wallet.Reservation
	err      error
}

func (f *fakeReserver) Reserve(_ context.Context, storeID string, code model.CryptoCode, opID string) (wallet.Reservation, error) {
	f.gotStore, f.gotCode, f.gotOpID = storeID, code, opID
	return f.res, f.err
}

type countingPoller struct{ polls int }

func (p *countingPoller) Poll(context.Context) { p.polls++ }

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListChains(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewServer(nil, &recordingBus{}, testLogger(), WithStatusProvider(fakeStatuses{
		{ChainID: model.ChainBSCMainnet, Network: model.NetworkMainnet, State: supervisor.StateRunning, Height: 42, Since: since},
	}))

	rec := serve(t, s, http.MethodGet, "/admin/v1/chains", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, float64(56), got[0]["chain_id"])
	assert.Equal(t, "RUNNING", got[0]["state"])
	assert.Equal(t, float64(42), got[0]["height"])
}

func TestListChains_Unavailable(t *testing.T) {
	s := NewServer(nil, &recordingBus{}, testLogger())
	rec := serve(t, s, http.MethodGet, "/admin/v1/chains", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSettings_RedactsPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockSettingsRepository(ctrl)
	stored := model.DefaultChainSettings(model.ChainBSCMainnet)
	stored.RPCURL = "https://bsc.example"
	stored.Username = "watcher"
	stored.Password = "hunter2"
	stored.LastSeenBlockNumber = 100
	repo.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(&stored, nil)

	s := NewServer(repo, &recordingBus{}, testLogger())
	rec := serve(t, s, http.MethodGet, "/admin/v1/chains/56/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var got settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.PasswordSet)
	assert.Equal(t, "https://bsc.example", got.RPCURL)
	assert.Equal(t, "5s", got.BlockPollInterval)
	assert.Equal(t, uint64(100), got.LastSeenBlock)
}

func TestGetSettings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		setup  func(repo *storemocks.MockSettingsRepository)
		status int
	}{
		{"not a number", "/admin/v1/chains/bsc/settings", nil, http.StatusBadRequest},
		{"unknown chain", "/admin/v1/chains/1/settings", nil, http.StatusNotFound},
		{"not stored", "/admin/v1/chains/97/settings", func(repo *storemocks.MockSettingsRepository) {
			repo.EXPECT().Get(gomock.Any(), model.ChainBSCTestnet).Return(nil, nil)
		}, http.StatusNotFound},
		{"repo failure", "/admin/v1/chains/56/settings", func(repo *storemocks.MockSettingsRepository) {
			repo.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(nil, errors.New("db down"))
		}, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := storemocks.NewMockSettingsRepository(ctrl)
			if tc.setup != nil {
				tc.setup(repo)
			}
			s := NewServer(repo, &recordingBus{}, testLogger())
			rec := serve(t, s, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestPutSettings_MergesAndPolls(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockSettingsRepository(ctrl)
	stored := model.DefaultChainSettings(model.ChainBSCMainnet)
	stored.RPCURL = "https://old.example"
	stored.Password = "keep-me"
	stored.NextScanBlockNumber = 77

	want := stored
	want.RPCURL = "https://new.example"
	want.TransferPollInterval = 3 * time.Second
	want.TransferWindow = 250

	repo.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(&stored, nil)
	repo.EXPECT().Save(gomock.Any(), want).Return(nil)

	poller := &countingPoller{}
	s := NewServer(repo, &recordingBus{}, testLogger(), WithSettingsPoller(poller))
	rec := serve(t, s, http.MethodPut, "/admin/v1/chains/56/settings",
		`{"rpc_url":"https://new.example","transfer_poll_interval":"3s","transfer_window":250}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, poller.polls)
	var got settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.PasswordSet)
	assert.Equal(t, uint64(77), got.NextScanBlock)
}

func TestPutSettings_NewChainStartsFromDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockSettingsRepository(ctrl)

	want := model.DefaultChainSettings(model.ChainBSCTestnet)
	want.RPCURL = "https://testnet.example"

	repo.EXPECT().Get(gomock.Any(), model.ChainBSCTestnet).Return(nil, nil)
	repo.EXPECT().Save(gomock.Any(), want).Return(nil)

	s := NewServer(repo, &recordingBus{}, testLogger())
	rec := serve(t, s, http.MethodPut, "/admin/v1/chains/97/settings", `{"rpc_url":"https://testnet.example"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPutSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"bad interval", `{"block_poll_interval":"soon"}`},
		{"negative interval", `{"balance_poll_interval":"-1s"}`},
		{"zero window", `{"transfer_window":0}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := storemocks.NewMockSettingsRepository(ctrl)
			repo.EXPECT().Get(gomock.Any(), model.ChainBSCMainnet).Return(nil, nil).AnyTimes()

			s := NewServer(repo, &recordingBus{}, testLogger())
			rec := serve(t, s, http.MethodPut, "/admin/v1/chains/56/settings", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRestart(t *testing.T) {
	bus := &recordingBus{}
	s := NewServer(nil, bus, testLogger())

	rec := serve(t, s, http.MethodPost, "/admin/v1/chains/56/restart", `{"reason":"rpc rotated"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, s, http.MethodPost, "/admin/v1/chains/97/restart", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []event.Event{
		event.ChainRestartRequested{ChainID: model.ChainBSCMainnet, Reason: "rpc rotated"},
		event.ChainRestartRequested{ChainID: model.ChainBSCTestnet, Reason: "admin"},
	}, bus.events)
}

func TestRestart_PublishFailure(t *testing.T) {
	s := NewServer(nil, &recordingBus{err: errors.New("bus closed")}, testLogger())
	rec := serve(t, s, http.MethodPost, "/admin/v1/chains/56/restart", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReserveAddress(t *testing.T) {
	r := &fakeReserver{res: wallet.Reservation{
		OpID:    "op-1",
		StoreID: "store-1",
		Code:    model.CodeBNB,
		ChainID: model.ChainBSCMainnet,
		Address: "0xabc",
		Index:   7,
		KeyPath: "0/7",
	}}
	s := NewServer(nil, &recordingBus{}, testLogger(), WithAddressReserver(r))

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/stores/store-1/addresses/bnb", nil)
	req.Header.Set("Idempotency-Key", "op-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "store-1", r.gotStore)
	assert.Equal(t, model.CodeBNB, r.gotCode)
	assert.Equal(t, "op-1", r.gotOpID)

	var got reservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0xabc", got.Address)
	assert.Equal(t, "BNB", got.CryptoCode)
	assert.Equal(t, int64(56), got.ChainID)
	assert.Equal(t, int64(7), got.Index)
}

func TestReserveAddress_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: s1", wallet.ErrStoreNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: DOGE", wallet.ErrNoPaymentMethod), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: op x", wallet.ErrReservationTimeout), http.StatusGatewayTimeout},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.want), func(t *testing.T) {
			s := NewServer(nil, &recordingBus{}, testLogger(), WithAddressReserver(&fakeReserver{err: tc.err}))
			rec := serve(t, s, http.MethodPost, "/admin/v1/stores/s1/addresses/BNB", "")

			assert.Equal(t, tc.want, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestReserveAddress_NotConfigured(t *testing.T) {
	s := NewServer(nil, &recordingBus{}, testLogger())
	rec := serve(t, s, http.MethodPost, "/admin/v1/stores/s1/addresses/BNB", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
