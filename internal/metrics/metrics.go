// Package metrics exposes the internal counters the balancer supervisor's
// status() call reports (restarts, health_checks, backend_swaps — spec
// §4.6) as Prometheus collectors, on an opt-in /metrics HTTP endpoint.
// Grounded in etalazz-vsa's churn package (global prometheus.NewCounter/
// NewGauge vars registered in init, with a tiny standalone promhttp
// server started only when an address is configured).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Restarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunter_balancer_restarts_total",
		Help: "Number of times the balancer's serving engine subprocess has been restarted",
	})
	HealthChecks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunter_balancer_health_checks_total",
		Help: "Number of balancer health-loop iterations run",
	})
	BackendSwaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunter_balancer_backend_swaps_total",
		Help: "Number of times the balancer's backend set has been swapped",
	})
	// CycleDuration, BenchResultsTotal and GoldBackends are registered and
	// exposed on /metrics, but no package updates them: they keep their
	// initial empty values.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hunter_cycle_duration_seconds",
		Help:    "Wall-clock duration of a full orchestrator cycle",
		Buckets: prometheus.DefBuckets,
	})
	BenchResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunter_bench_results_total",
		Help: "Benchmark results produced, partitioned by tier",
	}, []string{"tier"})
	GoldBackends = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hunter_balancer_backends_gold",
		Help: "Number of gold-tier backends currently enrolled in the balancer",
	})
)

func init() {
	prometheus.MustRegister(Restarts, HealthChecks, BackendSwaps, CycleDuration, BenchResultsTotal, GoldBackends)
}

// ServeAddr starts a dedicated /metrics endpoint at addr in the background,
// shutting it down when ctx is cancelled. A no-op if addr is empty.
// Mirrors etalazz-vsa's "tiny standalone promhttp server" idiom
// (churn.startMetricsEndpoint), made cancellable since the orchestrator
// owns a root context to drain.
func ServeAddr(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
