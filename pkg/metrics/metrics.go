// Package metrics exposes the collector's Prometheus metrics over HTTP.
// Collectors are declared with promauto in the packages that own them
// (source, cache, ratelimit, scheduler, store); this package only serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Gatherer reads the metrics promauto registered in every package.
var Gatherer = prometheus.DefaultGatherer

// Handler serves /metrics and a /health liveness probe.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server serves Handler on one address for the lifetime of a run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr. Use ":0" to pick a free port.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server, waiting for open scrapes up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Source (pkg/source):
//   - hn_requests_total{endpoint, status} (Counter): requests by endpoint (maxitem, item) and HTTP status
//   - hn_request_duration_seconds{endpoint} (Histogram): request duration
//   - hn_errors_total{class} (Counter): errors by class (client, server, rate_limit, network, decode)
//
// Cache (pkg/cache):
//   - hn_cache_hits_total (Counter): lookups answered from the run cache
//   - hn_cache_misses_total (Counter): lookups that went to the source
//   - hn_cache_coalesced_total (Counter): fetches shared between concurrent callers
//   - hn_cache_items (Gauge): items held by the run cache
//
// Dispatch gate (pkg/ratelimit):
//   - hn_ratelimit_wait_seconds (Histogram): time spent waiting for a dispatch slot
//   - hn_ratelimit_pauses_total (Counter): pauses requested by the source (429 Retry-After)
//
// Scheduler (pkg/scheduler):
//   - hn_scheduler_transitions_total{state} (Counter): entry transitions by target state
//   - hn_retries_total{error_class} (Counter): retries by error class
//   - hn_retry_backoff_seconds (Histogram): backoff before each retry
//   - hn_frontier_size (Gauge): entries waiting in the frontier
//
// Store (pkg/store):
//   - hn_store_upserts_total{backend, result} (Counter): upserts by backend and result (ok, error)
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(hn_cache_hits_total[5m])) /
//   (sum(rate(hn_cache_hits_total[5m])) + sum(rate(hn_cache_misses_total[5m])))
//
//   # Retry rate by class
//   sum by (error_class) (rate(hn_retries_total[5m]))
//
//   # Failed entries
//   hn_scheduler_transitions_total{state="failed"}
//
//   # P95 item latency
//   histogram_quantile(0.95, rate(hn_request_duration_seconds_bucket{endpoint="item"}[5m]))
