// Package telemetry provides Prometheus metrics, optional OpenTelemetry
// tracing, and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Credential lifecycle
	TokenValidations *prometheus.CounterVec // result: valid|invalid|skipped|error
	TokenRefreshes   *prometheus.CounterVec // result: ok|failed
	ValidationCycles prometheus.Counter

	// Repository caches, labelled by repository name
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Upstream fetches, labelled by upstream name
	FetchFailures prometheus.Counter
	FetchDuration prometheus.ObserverVec

	// Chat
	CommandsHandled *prometheus.CounterVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_token_validations_total", Help: "Access token validation outcomes"}, []string{"result"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_token_refreshes_total", Help: "Refresh token exchange outcomes"}, []string{"result"})
		ValidationCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_validation_cycles_total", Help: "Number of validate-and-refresh cycles run"})
		CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_cache_hits_total", Help: "Repository cache hits"}, []string{"repo"})
		CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_cache_misses_total", Help: "Repository cache misses"}, []string{"repo"})
		FetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_upstream_fetch_failures_total", Help: "Upstream fetches that produced no record"})
		FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_upstream_fetch_duration_seconds", Help: "Upstream fetch duration seconds", Buckets: prometheus.DefBuckets}, []string{"upstream"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_commands_handled_total", Help: "Chat commands handled"}, []string{"command"})
	})
}

// CountValidation records one validation outcome if metrics are initialized.
func CountValidation(result string) {
	if TokenValidations != nil {
		TokenValidations.WithLabelValues(result).Inc()
	}
}

// CountRefresh records one refresh outcome if metrics are initialized.
func CountRefresh(result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// CountCache records a repository cache hit or miss.
func CountCache(repo string, hit bool) {
	if hit {
		if CacheHits != nil {
			CacheHits.WithLabelValues(repo).Inc()
		}
		return
	}
	if CacheMisses != nil {
		CacheMisses.WithLabelValues(repo).Inc()
	}
}

// TimeFetch measures fn and records its duration under the upstream label.
func TimeFetch(upstream string, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if FetchDuration != nil {
		FetchDuration.WithLabelValues(upstream).Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying the given correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute when one is present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
