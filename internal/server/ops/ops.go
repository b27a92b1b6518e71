// Package ops serves the operational HTTP endpoints: liveness, readiness
// and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Config wires the router.
type Config struct {
	Metrics http.Handler
	Checks  map[string]Check
	Version string
	Timeout time.Duration
	Log     *zap.Logger
}

// NewRouter registers /healthz, /readyz and /metrics.
func NewRouter(cfg Config) *mux.Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyz(cfg)).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz runs every check; any failure answers 503 with the failing names.
func readyz(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
		defer cancel()

		failed := map[string]string{}
		for name, check := range cfg.Checks {
			if err := check(ctx); err != nil {
				cfg.Log.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
				failed[name] = err.Error()
			}
		}
		ver := cfg.Version
		if ver == "" {
			ver = "dev"
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed, "version": ver})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": ver})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
