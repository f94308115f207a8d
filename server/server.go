// Package server exposes the bot's small HTTP surface: liveness and readiness
// probes, a JSON status summary, and Prometheus metrics. Every request gets a
// correlation id and, when tracing is enabled, a span.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chattender/store"
	"github.com/onnwee/chattender/telemetry"
	"github.com/onnwee/chattender/users"
)

// Config carries the dependencies the HTTP surface reports on.
type Config struct {
	Users  *users.Repository
	Tokens store.TokenStore

	// Ping checks the token storage backend, e.g. (*sql.DB).PingContext.
	// Optional; readiness skips the check when nil.
	Ping func(ctx context.Context) error
}

// NewMux returns the HTTP handler with all routes.
func NewMux(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { handleReadyz(w, r, cfg) })
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) { handleStatus(w, r, cfg) })
	return withCorrelation(mux)
}

// withCorrelation injects a correlation id, starts a span, and logs the
// request at debug level.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("component", "http"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks the token storage backend. The bot itself is usable
// without upstream data, so storage is the only gate.
func handleReadyz(w http.ResponseWriter, r *http.Request, cfg Config) {
	w.Header().Set("Content-Type", "application/json")
	if cfg.Ping != nil {
		if err := cfg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": "storage",
				"error":        err.Error(),
			})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type channelStatus struct {
	Handle        string `json:"handle"`
	Authenticated bool   `json:"authenticated"`
}

// handleStatus reports which configured channels have stored credentials.
func handleStatus(w http.ResponseWriter, r *http.Request, cfg Config) {
	out := struct {
		Channels []channelStatus `json:"channels"`
	}{Channels: []channelStatus{}}

	if cfg.Users != nil {
		for _, u := range cfg.Users.Users() {
			cs := channelStatus{Handle: u.Handle}
			if cfg.Tokens != nil {
				tok, ok, err := cfg.Tokens.AccessToken(r.Context(), u.Handle)
				if err != nil {
					telemetry.LoggerWithCorr(r.Context()).Warn("status token read failed",
						slog.String("handle", u.Handle), slog.Any("err", err))
				}
				cs.Authenticated = ok && tok != ""
			}
			out.Channels = append(out.Channels, cs)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Start runs the HTTP server and shuts down gracefully on context
// cancellation.
func Start(ctx context.Context, addr string, cfg Config) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(cfg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
