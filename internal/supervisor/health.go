package supervisor

import (
	"sync"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
)

// State is the availability of one chain's watcher.
type State string

const (
	StateUnknown     State = "UNKNOWN"
	StateRunning     State = "RUNNING"
	StateDegraded    State = "DEGRADED"
	StateUnavailable State = "UNAVAILABLE"
	StateStopped     State = "STOPPED"
)

func (s State) gauge() float64 {
	switch s {
	case StateRunning:
		return 1
	case StateDegraded:
		return 2
	case StateUnavailable:
		return 3
	case StateStopped:
		return 4
	default:
		return 0
	}
}

// ChainStatus is the health snapshot served on /healthz.
type ChainStatus struct {
	ChainID     model.ChainID `json:"chain_id"`
	Network     model.Network `json:"network"`
	State       State         `json:"state"`
	Height      uint64        `json:"height"`
	LastBlockAt *time.Time    `json:"last_block_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Since       time.Time     `json:"since"`
}

// chainHealth tracks one chain. A running chain whose block poller has
// not announced a height within staleAfter is reported as degraded.
type chainHealth struct {
	mu          sync.RWMutex
	chainID     model.ChainID
	state       State
	since       time.Time
	height      uint64
	lastBlockAt *time.Time
	lastError   string
	staleAfter  time.Duration
}

func newChainHealth(chainID model.ChainID, now time.Time) *chainHealth {
	return &chainHealth{
		chainID: chainID,
		state:   StateUnknown,
		since:   now,
	}
}

// set changes the state and returns the previous one.
func (h *chainHealth) set(state State, reason string, now time.Time) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state
	if prev != state {
		h.state = state
		h.since = now
	}
	h.lastError = reason
	metrics.ChainStatus.WithLabelValues(h.chainID.String()).Set(state.gauge())
	return prev
}

func (h *chainHealth) setStaleAfter(d time.Duration) {
	h.mu.Lock()
	h.staleAfter = d
	h.mu.Unlock()
}

func (h *chainHealth) recordBlock(height uint64, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if height > h.height {
		h.height = height
	}
	h.lastBlockAt = &now
}

func (h *chainHealth) snapshot(now time.Time) ChainStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := ChainStatus{
		ChainID:   h.chainID,
		Network:   h.chainID.Network(),
		State:     h.state,
		Height:    h.height,
		LastError: h.lastError,
		Since:     h.since,
	}
	if h.lastBlockAt != nil {
		t := *h.lastBlockAt
		st.LastBlockAt = &t
	}
	if h.state == StateRunning && h.staleAfter > 0 {
		ref := h.since
		if h.lastBlockAt != nil && h.lastBlockAt.After(ref) {
			ref = *h.lastBlockAt
		}
		if now.Sub(ref) > h.staleAfter {
			st.State = StateDegraded
		}
	}
	return st
}
