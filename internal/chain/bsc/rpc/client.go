// Package rpc is the JSON-RPC transport to a BSC node.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain/ratelimit"
	"github.com/emperorhan/bsc-payment-watcher/internal/circuitbreaker"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
	"github.com/emperorhan/bsc-payment-watcher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 32 << 20

type Config struct {
	URL      string
	Username string
	Password string
	// ChainLabel tags metrics and spans; it is the configured chain id.
	ChainLabel string
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	requestID  atomic.Int64
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		tracer:     tracing.Tracer("bsc-rpc"),
		logger:     logger.With("component", "bsc_rpc", "chain_id", cfg.ChainLabel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one JSON-RPC round trip. Transport failures, 429 and 5xx
// replies count against the circuit breaker; node-level JSON-RPC errors do
// not.
func (c *Client) call(ctx context.Context, method string, params ...any) (result json.RawMessage, err error) {
	ctx, span := c.tracer.Start(ctx, "rpc."+method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		tracing.ChainAttr(c.cfg.ChainLabel),
	))
	start := time.Now()
	defer func() {
		metrics.RPCCallDuration.WithLabelValues(c.cfg.ChainLabel, method).Observe(time.Since(start).Seconds())
		metrics.RPCCallsTotal.WithLabelValues(c.cfg.ChainLabel, method, Outcome(err)).Inc()
		tracing.End(span, err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	result, err = c.roundTrip(ctx, method, params)
	if c.breaker != nil {
		if countsAsEndpointFailure(err) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return result, err
}

func (c *Client) roundTrip(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var rpcResp Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func countsAsEndpointFailure(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Outcome buckets a call result for the calls_total metric.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var httpErr *HTTPError
	var rpcErr *Error
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &httpErr):
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return "unauthorized"
		case httpErr.StatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	case errors.As(err, &rpcErr):
		return "rpc_error"
	default:
		return "network_error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
