package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/supervisor"
)

type fakeStatuses []supervisor.ChainStatus

func (f fakeStatuses) Statuses() []supervisor.ChainStatus { return f }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name       string
		statuses   fakeStatuses
		wantStatus string
	}{
		{"no chains", nil, "ok"},
		{"running", fakeStatuses{{ChainID: model.ChainBSCMainnet, State: supervisor.StateRunning, Since: since}}, "ok"},
		{"stopped is not degraded", fakeStatuses{{ChainID: model.ChainBSCTestnet, State: supervisor.StateStopped, Since: since}}, "ok"},
		{"unavailable", fakeStatuses{
			{ChainID: model.ChainBSCMainnet, State: supervisor.StateRunning, Since: since},
			{ChainID: model.ChainBSCTestnet, State: supervisor.StateUnavailable, LastError: "dial: refused", Since: since},
		}, "degraded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(tc.statuses, nil, discardLogger())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Len(t, body.Chains, len(tc.statuses))
		})
	}
}

func TestHandler_MountsAdmin(t *testing.T) {
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := newHandler(fakeStatuses{}, admin, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/chains", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
