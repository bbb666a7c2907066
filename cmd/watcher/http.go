package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emperorhan/bsc-payment-watcher/internal/supervisor"
)

type statusSource interface {
	Statuses() []supervisor.ChainStatus
}

type healthResponse struct {
	Status string                   `json:"status"`
	Chains []supervisor.ChainStatus `json:"chains"`
}

// newHandler serves liveness and metrics and mounts the admin API under
// /admin/.
func newHandler(statuses statusSource, adminAPI http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		chains := statuses.Statuses()
		resp := healthResponse{Status: "ok", Chains: chains}
		for _, c := range chains {
			if c.State == supervisor.StateDegraded || c.State == supervisor.StateUnavailable {
				resp.Status = "degraded"
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	if adminAPI != nil {
		mux.Handle("/admin/", adminAPI)
	}
	return mux
}

func runHealthServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
