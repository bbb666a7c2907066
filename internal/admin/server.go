package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
	"github.com/emperorhan/bsc-payment-watcher/internal/supervisor"
	"github.com/emperorhan/bsc-payment-watcher/internal/wallet"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// StatusProvider returns the per-chain health snapshots.
type StatusProvider interface {
	Statuses() []supervisor.ChainStatus
}

// AddressReserver hands out deposit addresses.
type AddressReserver interface {
	Reserve(ctx context.Context, storeID string, code model.CryptoCode, opID string) (wallet.Reservation, error)
}

// SettingsPoller re-reads stored settings and announces what changed.
type SettingsPoller interface {
	Poll(ctx context.Context)
}

// Publisher is the slice of the event bus the admin API writes to.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Server provides the HTTP operator API of the watcher.
type Server struct {
	settingsRepo store.SettingsRepository
	bus          Publisher
	statuses     StatusProvider
	reserver     AddressReserver
	poller       SettingsPoller
	logger       *slog.Logger
}

// NewServer creates the admin API. Optional features are enabled through
// ServerOption; routes whose dependency is missing answer 503.
func NewServer(
	settingsRepo store.SettingsRepository,
	bus Publisher,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		settingsRepo: settingsRepo,
		bus:          bus,
		logger:       logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

func WithStatusProvider(sp StatusProvider) ServerOption {
	return func(s *Server) { s.statuses = sp }
}

func WithAddressReserver(r AddressReserver) ServerOption {
	return func(s *Server) { s.reserver = r }
}

// WithSettingsPoller makes settings edits take effect without waiting for
// the next scheduled poll.
func WithSettingsPoller(p SettingsPoller) ServerOption {
	return func(s *Server) { s.poller = p }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/chains", s.handleListChains)
	mux.HandleFunc("GET /admin/v1/chains/{chain_id}/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /admin/v1/chains/{chain_id}/settings", s.handlePutSettings)
	mux.HandleFunc("POST /admin/v1/chains/{chain_id}/restart", s.handleRestart)
	mux.HandleFunc("POST /admin/v1/stores/{store_id}/addresses/{code}", s.handleReserveAddress)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireChainID parses the chain_id path value and checks that the
// chain has registered coins.
func requireChainID(w http.ResponseWriter, r *http.Request) (model.ChainID, bool) {
	raw := r.PathValue("chain_id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chain_id must be an integer")
		return 0, false
	}
	id := model.ChainID(n)
	if !model.KnownChain(id) {
		writeError(w, http.StatusNotFound, "unknown chain")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	if s.statuses == nil {
		writeError(w, http.StatusServiceUnavailable, "chain status not available")
		return
	}
	writeJSON(w, http.StatusOK, s.statuses.Statuses())
}

// --- Settings ---

// settingsResponse never carries the RPC password.
type settingsResponse struct {
	ChainID              int64  `json:"chain_id"`
	RPCURL               string `json:"rpc_url"`
	Username             string `json:"username,omitempty"`
	PasswordSet          bool   `json:"password_set"`
	BlockPollInterval    string `json:"block_poll_interval"`
	TransferPollInterval string `json:"transfer_poll_interval"`
	BalancePollInterval  string `json:"balance_poll_interval"`
	TransferWindow       uint64 `json:"transfer_window"`
	LastSeenBlock        uint64 `json:"last_seen_block"`
	NextScanBlock        uint64 `json:"next_scan_block"`
}

func toSettingsResponse(cs model.ChainSettings) settingsResponse {
	return settingsResponse{
		ChainID:              int64(cs.ChainID),
		RPCURL:               cs.RPCURL,
		Username:             cs.Username,
		PasswordSet:          cs.Password != "",
		BlockPollInterval:    cs.BlockPollInterval.String(),
		TransferPollInterval: cs.TransferPollInterval.String(),
		BalancePollInterval:  cs.BalancePollInterval.String(),
		TransferWindow:       cs.TransferWindow,
		LastSeenBlock:        cs.LastSeenBlockNumber,
		NextScanBlock:        cs.NextScanBlockNumber,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := requireChainID(w, r)
	if !ok {
		return
	}
	cs, err := s.settingsRepo.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get chain settings failed", "chain_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if cs == nil {
		writeError(w, http.StatusNotFound, "chain settings not found")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(*cs))
}

// putSettingsRequest is a partial update: omitted fields keep their
// stored value. Password is write-only.
type putSettingsRequest struct {
	RPCURL               *string `json:"rpc_url"`
	Username             *string `json:"username"`
	Password             *string `json:"password"`
	BlockPollInterval    *string `json:"block_poll_interval"`
	TransferPollInterval *string `json:"transfer_poll_interval"`
	BalancePollInterval  *string `json:"balance_poll_interval"`
	TransferWindow       *uint64 `json:"transfer_window"`
}

func (req putSettingsRequest) apply(cs *model.ChainSettings) error {
	if req.RPCURL != nil {
		cs.RPCURL = *req.RPCURL
	}
	if req.Username != nil {
		cs.Username = *req.Username
	}
	if req.Password != nil {
		cs.Password = *req.Password
	}
	for _, f := range []struct {
		raw *string
		dst *time.Duration
	}{
		{req.BlockPollInterval, &cs.BlockPollInterval},
		{req.TransferPollInterval, &cs.TransferPollInterval},
		{req.BalancePollInterval, &cs.BalancePollInterval},
	} {
		if f.raw == nil {
			continue
		}
		d, err := time.ParseDuration(*f.raw)
		if err != nil || d <= 0 {
			return errors.New("poll intervals must be positive durations")
		}
		*f.dst = d
	}
	if req.TransferWindow != nil {
		if *req.TransferWindow == 0 {
			return errors.New("transfer_window must be positive")
		}
		cs.TransferWindow = *req.TransferWindow
	}
	return nil
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := requireChainID(w, r)
	if !ok {
		return
	}
	var req putSettingsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	current, err := s.settingsRepo.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get chain settings failed", "chain_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	next := model.DefaultChainSettings(id)
	if current != nil {
		next = *current
	}
	if err := req.apply(&next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.settingsRepo.Save(r.Context(), next); err != nil {
		s.logger.Error("save chain settings failed", "chain_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Info("chain settings updated via admin API",
		"chain_id", int64(id),
		"rpc_url", next.RPCURL,
	)

	if s.poller != nil {
		s.poller.Poll(r.Context())
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(next))
}

// --- Restart ---

type restartRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id, ok := requireChainID(w, r)
	if !ok {
		return
	}
	var req restartRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "admin"
	}

	if err := s.bus.Publish(r.Context(), event.ChainRestartRequested{ChainID: id, Reason: req.Reason}); err != nil {
		s.logger.Error("publish restart request failed", "chain_id", int64(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Info("chain restart requested via admin API", "chain_id", int64(id), "reason", req.Reason)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- Address reservation ---

type reservationResponse struct {
	OpID       string `json:"op_id"`
	StoreID    string `json:"store_id"`
	CryptoCode string `json:"crypto_code"`
	ChainID    int64  `json:"chain_id"`
	Address    string `json:"address"`
	Index      int64  `json:"index"`
	KeyPath    string `json:"key_path"`
}

func (s *Server) handleReserveAddress(w http.ResponseWriter, r *http.Request) {
	if s.reserver == nil {
		writeError(w, http.StatusServiceUnavailable, "address reservation not available")
		return
	}
	storeID := r.PathValue("store_id")
	code := model.CryptoCode(r.PathValue("code")).Normalize()

	res, err := s.reserver.Reserve(r.Context(), storeID, code, r.Header.Get("Idempotency-Key"))
	if err != nil {
		status := reservationStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("address reservation failed", "store_id", storeID, "crypto_code", code, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reservationResponse{
		OpID:       res.OpID,
		StoreID:    res.StoreID,
		CryptoCode: res.Code.String(),
		ChainID:    int64(res.ChainID),
		Address:    res.Address,
		Index:      res.Index,
		KeyPath:    res.KeyPath,
	})
}

func reservationStatus(err error) int {
	switch {
	case errors.Is(err, wallet.ErrStoreNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrNoPaymentMethod):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrReservationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
