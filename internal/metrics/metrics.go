package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poller, reconciler and allocator collectors. Chain-scoped series are
// partitioned by chain_id.

var (
	// Event bus
	BusEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Total events published on the in-process bus",
	}, []string{"kind"})

	BusHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "bus",
		Name:      "handler_errors_total",
		Help:      "Total handler invocations that returned an error or panicked",
	}, []string{"kind", "handler"})

	BusMailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "bus",
		Name:      "mailbox_depth",
		Help:      "Events queued per kind waiting for dispatch",
	}, []string{"kind"})

	BusOutboxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "bus",
		Name:      "outbox_errors_total",
		Help:      "Total events that could not be forwarded to the outbox",
	}, []string{"kind"})

	// Ledger RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by method and outcome",
	}, []string{"chain_id", "method", "status"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "JSON-RPC call latency",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain_id", "method"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total calls delayed by the client-side rate limiter",
	}, []string{"chain_id"})

	RPCCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"chain_id"})

	BalanceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "balance_cache_hits_total",
		Help:      "Balance reads served from the height-keyed cache",
	}, []string{"chain_id"})

	// Block poller
	BlockPollerLastSeen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "block_poller",
		Name:      "last_seen_height",
		Help:      "Last block height announced by the block poller",
	}, []string{"chain_id"})

	BlockPollerTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "block_poller",
		Name:      "tick_errors_total",
		Help:      "Total block poller ticks skipped because of an error",
	}, []string{"chain_id"})

	// Transfer poller
	TransferPollerWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "transfer_poller",
		Name:      "windows_scanned_total",
		Help:      "Total log windows scanned",
	}, []string{"chain_id"})

	TransferPollerObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "transfer_poller",
		Name:      "transfers_observed_total",
		Help:      "Total transfer log entries published",
	}, []string{"chain_id", "coin"})

	TransferPollerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "transfer_poller",
		Name:      "errors_total",
		Help:      "Total aborted scan cycles",
	}, []string{"chain_id"})

	TransferPollerPendingBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "transfer_poller",
		Name:      "pending_blocks",
		Help:      "Block heights waiting for a log scan",
	}, []string{"chain_id"})

	WatchListAddresses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "watch_list",
		Name:      "addresses",
		Help:      "Distinct destination addresses being watched",
	}, []string{"chain_id", "owner"})

	// Balance poller
	BalancePollerReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "balance_poller",
		Name:      "reads_total",
		Help:      "Total balance reads by block reference kind",
	}, []string{"chain_id", "ref"})

	BalancePollerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "balance_poller",
		Name:      "errors_total",
		Help:      "Total failed balance reads",
	}, []string{"chain_id"})

	// Reconciler
	ReconcilerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "transitions_total",
		Help:      "Payment state transitions applied",
	}, []string{"chain_id", "transition"})

	ReconcilerDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "duplicate_transfers_total",
		Help:      "Transfer observations ignored because the log entry was already recorded",
	}, []string{"chain_id"})

	ReconcilerPassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "pass_errors_total",
		Help:      "Reconciliation passes that failed to persist",
	}, []string{"chain_id"})

	ReconcilerPassRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "pass_retries_total",
		Help:      "Transfer passes retried after a transient store failure",
	}, []string{"chain_id"})

	ReconcilerBalanceMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "token_balance_mismatches_total",
		Help:      "Token balance reads that differ from the recorded transfers",
	}, []string{"chain_id", "coin"})

	ReconcilerPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paywatch",
		Subsystem: "reconciler",
		Name:      "pass_duration_seconds",
		Help:      "Reconciliation pass duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"chain_id", "source"})

	// Address allocator
	AllocatorReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "allocator",
		Name:      "reservations_total",
		Help:      "Address reservations by outcome",
	}, []string{"coin", "status"})

	AllocatorWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paywatch",
		Subsystem: "allocator",
		Name:      "reservation_duration_seconds",
		Help:      "Time from reservation request to response",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
	})

	// Supervisor
	ChainStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "supervisor",
		Name:      "chain_status",
		Help:      "Chain status (0=unknown, 1=running, 2=degraded, 3=unavailable, 4=stopped)",
	}, []string{"chain_id"})

	ChainRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "supervisor",
		Name:      "restarts_total",
		Help:      "Total chain service restarts",
	}, []string{"chain_id", "reason"})

	SettingsWatcherErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "supervisor",
		Name:      "settings_reload_errors_total",
		Help:      "Failed chain settings reloads",
	})

	SettingsChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "supervisor",
		Name:      "settings_changes_total",
		Help:      "Chain settings changes detected by the settings watcher",
	}, []string{"chain_id"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered per channel",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open connections in the database pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "db_pool",
		Name:      "in_use_connections",
		Help:      "Connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "db_pool",
		Name:      "idle_connections",
		Help:      "Idle connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "paywatch",
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Total connections waited for",
	})
)
