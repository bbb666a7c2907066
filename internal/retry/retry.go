// Package retry decides what a failed ledger call means for the caller:
// try again next cycle, give up on the item, or stop polling the chain
// until an operator fixes its configuration.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain"
	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc/rpc"
	"github.com/emperorhan/bsc-payment-watcher/internal/circuitbreaker"
)

type Class string

const (
	ClassTransient     Class = "transient"
	ClassTerminal      Class = "terminal"
	ClassMisconfigured Class = "misconfigured"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

func (d Decision) IsMisconfigured() bool {
	return d.Class == ClassMisconfigured
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	switch {
	case errors.Is(err, chain.ErrChainMismatch):
		return Decision{Class: ClassMisconfigured, Reason: "chain_id_mismatch"}
	case errors.Is(err, chain.ErrInvalidEndpoint):
		return Decision{Class: ClassMisconfigured, Reason: "invalid_endpoint"}
	case errors.Is(err, chain.ErrNotFound):
		return Decision{Class: ClassTerminal, Reason: "not_found"}
	case errors.Is(err, circuitbreaker.ErrOpen):
		return Decision{Class: ClassTransient, Reason: "circuit_open"}
	case errors.Is(err, context.Canceled):
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var httpErr *rpc.HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(httpErr.StatusCode)
	}
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Decision{Class: ClassTransient, Reason: "net_error"}
	}

	lower := strings.ToLower(err.Error())
	for _, token := range transientMessageTokens {
		if strings.Contains(lower, token) {
			return Decision{Class: ClassTransient, Reason: "message_transient"}
		}
	}
	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// ClassifyStore classifies a persistence failure. Postgres errors are
// judged by their SQLSTATE class; errors without one are transient.
func ClassifyStore(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57", "58":
			return Decision{Class: ClassTransient, Reason: "sqlstate_" + string(pqErr.Code.Class())}
		default:
			return Decision{Class: ClassTerminal, Reason: "sqlstate_" + string(pqErr.Code.Class())}
		}
	}
	return Decision{Class: ClassTransient, Reason: "store_unclassified"}
}

func classifyHTTP(status int) Decision {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Decision{Class: ClassMisconfigured, Reason: "http_unauthorized"}
	case status == http.StatusNotFound:
		return Decision{Class: ClassMisconfigured, Reason: "http_not_found"}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return Decision{Class: ClassTransient, Reason: "http_retryable"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_client_error"}
	}
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == -32603 || code == -32005:
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_transient"}
	case code <= -32000 && code >= -32099:
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_range"}
	default:
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
	}
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"too many requests",
	"rate limit",
	"no such host",
}
