// Package ratelimit throttles JSON-RPC calls per ledger endpoint.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every call made against one endpoint.
// A nil *Limiter never waits.
type Limiter struct {
	bucket  *rate.Limiter
	chainID string
}

// New allows rps calls per second with the given burst. rps <= 0 disables
// throttling.
func New(rps float64, burst int, chainID string) *Limiter {
	if rps <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 0), chainID: chainID}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:  rate.NewLimiter(rate.Limit(rps), burst),
		chainID: chainID,
	}
}

// Wait consumes one token, sleeping until it is available or ctx ends. A
// cancelled wait returns its token to the bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.bucket.Reserve()
	if !r.OK() {
		return errors.New("rate limiter: burst exceeded")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	metrics.RPCRateLimitWaits.WithLabelValues(l.chainID).Inc()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
