package bsc

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc/rpc"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/ratelimit"
	"github.com/emperorhan/bsc-payment-watcher/internal/circuitbreaker"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
)

// DialConfig holds the process-wide transport knobs applied to every
// chain's endpoint.
type DialConfig struct {
	RateLimit        float64
	Burst            int
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Dial builds a ledger for the chain's current settings. A missing or
// malformed endpoint is reported as chain.ErrInvalidEndpoint.
func Dial(settings model.ChainSettings, cfg DialConfig, logger *slog.Logger) (*Ledger, error) {
	if err := validateEndpoint(settings.RPCURL); err != nil {
		return nil, err
	}

	label := settings.ChainID.String()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.RPCCircuitState.WithLabelValues(label).Set(float64(to))
			logger.Warn("rpc circuit breaker state changed",
				"chain_id", label,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	client := rpc.NewClient(rpc.Config{
		URL:        settings.RPCURL,
		Username:   settings.Username,
		Password:   settings.Password,
		ChainLabel: label,
		Timeout:    cfg.Timeout,
	}, logger,
		rpc.WithLimiter(ratelimit.New(cfg.RateLimit, cfg.Burst, label)),
		rpc.WithBreaker(breaker),
	)
	return NewLedger(settings.ChainID, client, logger), nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty url", chain.ErrInvalidEndpoint)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", chain.ErrInvalidEndpoint, raw)
	}
	return nil
}
