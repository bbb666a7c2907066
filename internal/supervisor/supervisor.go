// Package supervisor owns the per-chain watcher services: it starts them
// once a chain's endpoint is verified, restarts them when the chain's
// settings change and keeps retrying chains that are unavailable.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/bsc-payment-watcher/internal/alert"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/eventbus"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/poller"
	"github.com/emperorhan/bsc-payment-watcher/internal/retry"
	"github.com/emperorhan/bsc-payment-watcher/internal/store"
)

const (
	DefaultIdleInterval  = 24 * time.Hour
	DefaultRetryInterval = 5 * time.Second

	defaultEnsureMaxElapsed = 2 * time.Minute
	defaultStaleBlocks      = 20
	restartQueueSize        = 16
)

type ServiceKind string

const (
	ServiceBlockPoller         ServiceKind = "block_poller"
	ServiceTransferPoller      ServiceKind = "transfer_poller"
	ServiceBalancePoller       ServiceKind = "balance_poller"
	ServiceConfirmationTracker ServiceKind = "confirmation_tracker"
	ServiceWatchListReload     ServiceKind = "watchlist_reload"
)

// Service is one long-running worker of a chain. Run returns when ctx is
// cancelled.
type Service struct {
	Kind ServiceKind
	Run  func(ctx context.Context) error
}

// Builder assembles a chain's services around a verified ledger. The
// returned release function drops whatever the services subscribed to.
type Builder interface {
	Build(ctx context.Context, ledger chain.Ledger, settings poller.SettingsSource) ([]Service, func(), error)
}

// Dialer creates a ledger client for the given settings.
type Dialer func(settings model.ChainSettings) (chain.Ledger, error)

type Config struct {
	// IdleInterval is the reconcile delay while every chain is running.
	IdleInterval time.Duration
	// RetryInterval is the reconcile delay while a chain is not running.
	RetryInterval time.Duration
	// EnsureInitialInterval and EnsureMaxElapsed bound the retries of a
	// transient chain id check.
	EnsureInitialInterval time.Duration
	EnsureMaxElapsed      time.Duration
	// StaleBlocks is how many block poll intervals may pass without a new
	// height before a running chain reports degraded. Negative disables.
	StaleBlocks int
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.EnsureMaxElapsed <= 0 {
		c.EnsureMaxElapsed = defaultEnsureMaxElapsed
	}
	if c.StaleBlocks == 0 {
		c.StaleBlocks = defaultStaleBlocks
	}
	return c
}

type chainRun struct {
	chainID  model.ChainID
	settings *poller.Settings
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	services map[ServiceKind]Service
}

type restartRequest struct {
	chainID model.ChainID
	reason  string
}

// Supervisor is the only owner of the chain registry.
type Supervisor struct {
	cfg      Config
	settings store.SettingsRepository
	dial     Dialer
	builder  Builder
	alerter  alert.Alerter
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	runs   map[model.ChainID]*chainRun
	health map[model.ChainID]*chainHealth

	requests chan restartRequest
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func New(
	settings store.SettingsRepository,
	dial Dialer,
	builder Builder,
	alerter alert.Alerter,
	logger *slog.Logger,
	cfg Config,
) *Supervisor {
	return &Supervisor{
		cfg:      cfg.withDefaults(),
		settings: settings,
		dial:     dial,
		builder:  builder,
		alerter:  alerter,
		logger:   logger.With("component", "supervisor"),
		now:      time.Now,
		runs:     make(map[model.ChainID]*chainRun),
		health:   make(map[model.ChainID]*chainHealth),
		requests: make(chan restartRequest, restartQueueSize),
		quit:     make(chan struct{}),
	}
}

// Subscribe wires restart triggers and block heights into the supervisor.
func (s *Supervisor) Subscribe(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.Subscribe(bus, "supervisor", func(ctx context.Context, e event.ChainSettingsChanged) error {
			return s.RequestRestart(ctx, e.ChainID, "settings_changed")
		}),
		eventbus.Subscribe(bus, "supervisor", func(ctx context.Context, e event.ChainRestartRequested) error {
			s.logger.Info("chain restart requested", "chain_id", int64(e.ChainID), "reason", e.Reason)
			return s.RequestRestart(ctx, e.ChainID, "requested")
		}),
		eventbus.Subscribe(bus, "supervisor", s.HandleNewBlock),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleNewBlock feeds the staleness check of the chain's health.
func (s *Supervisor) HandleNewBlock(_ context.Context, e event.NewBlock) error {
	s.mu.RLock()
	h := s.health[e.ChainID]
	s.mu.RUnlock()
	if h != nil {
		h.recordBlock(e.Height, s.now())
	}
	return nil
}

// RequestRestart queues a stop-and-start of the chain's services.
func (s *Supervisor) RequestRestart(ctx context.Context, chainID model.ChainID, reason string) error {
	select {
	case s.requests <- restartRequest{chainID: chainID, reason: reason}:
		return nil
	case <-s.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		"idle_interval", s.cfg.IdleInterval,
		"retry_interval", s.cfg.RetryInterval,
	)
	defer func() {
		s.quitOnce.Do(func() { close(s.quit) })
		s.stopAll()
	}()

	for {
		delay := s.Reconcile(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("supervisor stopping")
			return ctx.Err()
		case req := <-s.requests:
			timer.Stop()
			s.restart(ctx, req)
		case <-timer.C:
		}
	}
}

// Reconcile starts every configured chain that is not running and stops
// running chains that lost their configuration. Running chains are left
// untouched. It returns the delay until the next reconcile.
func (s *Supervisor) Reconcile(ctx context.Context) time.Duration {
	list, err := s.settings.List(ctx)
	if err != nil {
		s.logger.Warn("list chain settings failed", "error", err)
		return s.cfg.RetryInterval
	}

	configured := make(map[model.ChainID]model.ChainSettings, len(list))
	for _, cs := range list {
		if !cs.Configured() {
			continue
		}
		if !model.KnownChain(cs.ChainID) {
			s.logger.Warn("no coins registered for chain, skipping", "chain_id", int64(cs.ChainID))
			continue
		}
		configured[cs.ChainID] = cs
	}

	for _, id := range s.running() {
		if _, ok := configured[id]; !ok {
			s.logger.Info("chain no longer configured", "chain_id", int64(id))
			s.stop(ctx, id)
		}
	}

	allUp := true
	for id, cs := range configured {
		if !s.isRunning(id) {
			s.start(ctx, cs)
			allUp = false
			continue
		}
		if !s.IsAvailable(id) {
			allUp = false
		}
	}
	if allUp {
		return s.cfg.IdleInterval
	}
	return s.cfg.RetryInterval
}

// IsAvailable reports whether the chain's services are up.
func (s *Supervisor) IsAvailable(chainID model.ChainID) bool {
	s.mu.RLock()
	h := s.health[chainID]
	s.mu.RUnlock()
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state == StateRunning
}

// Statuses returns a snapshot of every chain the supervisor has seen,
// ordered by chain id.
func (s *Supervisor) Statuses() []ChainStatus {
	now := s.now()
	s.mu.RLock()
	out := make([]ChainStatus, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, h.snapshot(now))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Services lists the kinds of services running for the chain.
func (s *Supervisor) Services(chainID model.ChainID) []ServiceKind {
	s.mu.RLock()
	run := s.runs[chainID]
	s.mu.RUnlock()
	if run == nil {
		return nil
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]ServiceKind, 0, len(run.services))
	for k := range run.services {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Supervisor) restart(ctx context.Context, req restartRequest) {
	metrics.ChainRestarts.WithLabelValues(req.chainID.String(), req.reason).Inc()
	s.stop(ctx, req.chainID)

	cs, err := s.settings.Get(ctx, req.chainID)
	if err != nil {
		s.logger.Warn("load chain settings for restart failed", "chain_id", int64(req.chainID), "error", err)
		return
	}
	if cs == nil || !cs.Configured() || !model.KnownChain(cs.ChainID) {
		s.logger.Info("chain not configured, leaving stopped", "chain_id", int64(req.chainID))
		return
	}
	s.logger.Info("restarting chain", "chain_id", int64(req.chainID), "reason", req.reason)
	s.sendAlert(ctx, alert.Alert{
		Type:    alert.AlertTypeRestarted,
		ChainID: req.chainID,
		Title:   "Chain watcher restarted",
		Message: fmt.Sprintf("services restarted: %s", req.reason),
	})
	s.start(ctx, *cs)
}

func (s *Supervisor) start(ctx context.Context, cs model.ChainSettings) {
	s.mu.Lock()
	if _, ok := s.runs[cs.ChainID]; ok {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &chainRun{
		chainID:  cs.ChainID,
		settings: poller.NewSettings(cs),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.runs[cs.ChainID] = run
	h := s.healthLocked(cs.ChainID)
	s.mu.Unlock()

	if s.cfg.StaleBlocks > 0 {
		h.setStaleAfter(time.Duration(s.cfg.StaleBlocks) * run.settings.Snapshot().BlockPollInterval)
	}

	s.logger.Info("starting chain", "chain_id", int64(cs.ChainID), "rpc_url", cs.RPCURL)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runChain(runCtx, run, h)
	}()
}

func (s *Supervisor) runChain(ctx context.Context, run *chainRun, h *chainHealth) {
	defer close(run.done)
	err := s.serve(ctx, run, h)

	s.mu.Lock()
	owned := s.runs[run.chainID] == run
	if owned {
		delete(s.runs, run.chainID)
	}
	s.mu.Unlock()
	run.cancel()

	switch {
	case err != nil && ctx.Err() == nil:
		s.transition(ctx, h, StateUnavailable, err)
	case owned:
		// Not stopped through stop(): the parent context ended or every
		// service returned.
		s.transition(ctx, h, StateStopped, nil)
	}
}

func (s *Supervisor) serve(ctx context.Context, run *chainRun, h *chainHealth) error {
	ledger, err := s.dial(run.settings.Snapshot())
	if err != nil {
		return fmt.Errorf("dial chain %s: %w", run.chainID, err)
	}
	if err := s.ensureChain(ctx, ledger); err != nil {
		return fmt.Errorf("verify chain %s: %w", run.chainID, err)
	}

	services, release, err := s.builder.Build(ctx, ledger, run.settings)
	if err != nil {
		return fmt.Errorf("build services for chain %s: %w", run.chainID, err)
	}
	if release != nil {
		defer release()
	}

	run.mu.Lock()
	run.services = make(map[ServiceKind]Service, len(services))
	for _, svc := range services {
		run.services[svc.Kind] = svc
	}
	run.mu.Unlock()

	s.transition(ctx, h, StateRunning, nil)

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			if err := svc.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("%s: %w", svc.Kind, err)
			}
			return nil
		})
	}
	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ensureChain verifies the endpoint serves the expected chain. Transient
// failures are retried with exponential backoff; anything else stops the
// attempt immediately.
func (s *Supervisor) ensureChain(ctx context.Context, ledger chain.Ledger) error {
	opts := []backoff.ExponentialBackOffOpts{backoff.WithMaxElapsedTime(s.cfg.EnsureMaxElapsed)}
	if s.cfg.EnsureInitialInterval > 0 {
		opts = append(opts, backoff.WithInitialInterval(s.cfg.EnsureInitialInterval))
	}
	b := backoff.WithContext(backoff.NewExponentialBackOff(opts...), ctx)

	return backoff.RetryNotify(func() error {
		err := ledger.EnsureChain(ctx)
		if err == nil {
			return nil
		}
		if !retry.Classify(err).IsTransient() {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		s.logger.Warn("chain id check failed, retrying",
			"chain_id", int64(ledger.ChainID()),
			"next_attempt_in", next,
			"error", err,
		)
	})
}

func (s *Supervisor) stop(ctx context.Context, chainID model.ChainID) bool {
	s.mu.Lock()
	run, ok := s.runs[chainID]
	if ok {
		delete(s.runs, chainID)
	}
	h := s.health[chainID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	run.cancel()
	<-run.done
	if h != nil {
		s.transition(ctx, h, StateStopped, nil)
	}
	return true
}

func (s *Supervisor) stopAll() {
	for _, id := range s.running() {
		s.stop(context.Background(), id)
	}
	s.wg.Wait()
}

func (s *Supervisor) running() []model.ChainID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChainID, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	return out
}

func (s *Supervisor) isRunning(chainID model.ChainID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[chainID]
	return ok
}

// healthLocked must be called with mu held.
func (s *Supervisor) healthLocked(chainID model.ChainID) *chainHealth {
	h, ok := s.health[chainID]
	if !ok {
		h = newChainHealth(chainID, s.now())
		s.health[chainID] = h
	}
	return h
}

func (s *Supervisor) transition(ctx context.Context, h *chainHealth, state State, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	prev := h.set(state, reason, s.now())
	if prev == state {
		return
	}

	logger := s.logger.With("chain_id", int64(h.chainID), "from", prev, "to", state)
	switch state {
	case StateUnavailable:
		logger.Error("chain unavailable", "error", cause)
		typ := alert.AlertTypeUnavailable
		if retry.Classify(cause).IsMisconfigured() {
			typ = alert.AlertTypeMisconfig
		}
		s.sendAlert(ctx, alert.Alert{
			Type:    typ,
			ChainID: h.chainID,
			Title:   "Chain unavailable",
			Message: reason,
		})
	case StateRunning:
		logger.Info("chain running")
		if prev == StateUnavailable {
			s.sendAlert(ctx, alert.Alert{
				Type:    alert.AlertTypeRecovery,
				ChainID: h.chainID,
				Title:   "Chain recovered",
				Message: "services are running again",
			})
		}
	default:
		logger.Info("chain state changed")
	}
}

func (s *Supervisor) sendAlert(ctx context.Context, a alert.Alert) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Send(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Warn("send alert failed", "type", a.Type, "chain_id", int64(a.ChainID), "error", err)
	}
}
