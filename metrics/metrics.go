// Package metrics exposes Prometheus collectors for the rendezvous service
// and the HTTP server that serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Join results used as the "result" label of joins_total.
const (
	JoinResultOK         = "ok"
	JoinResultNotFound   = "not_found"
	JoinResultBusy       = "busy"
	JoinResultInvalid    = "invalid"
	JoinResultStoreError = "store_error"
)

// RendezvousMetrics holds the coordinator collectors. A nil *RendezvousMetrics
// is valid and records nothing.
type RendezvousMetrics struct {
	sessionsInitialized prometheus.Counter
	joins               *prometheus.CounterVec
	roundsStarted       prometheus.Counter
	storeConflicts      prometheus.Counter
	joinDuration        prometheus.Histogram
}

// NewRendezvousMetrics creates the coordinator collectors and registers them with reg.
func NewRendezvousMetrics(namespace string, reg prometheus.Registerer) (*RendezvousMetrics, error) {
	m := &RendezvousMetrics{
		sessionsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_initialized_total",
			Help:      "Number of initialized rendezvous sessions.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Number of join calls by result.",
		}, []string{"result"}),
		roundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Number of rounds started by a rollover.",
		}),
		storeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Number of compare-and-swap conflicts on signup records.",
		}),
		joinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "join_duration_seconds",
			Help:      "Join latency including store round trips.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.sessionsInitialized, m.joins, m.roundsStarted, m.storeConflicts, m.joinDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionInitialized counts a new session. All recorders are no-ops on a nil receiver.
func (m *RendezvousMetrics) SessionInitialized() {
	if m == nil {
		return
	}
	m.sessionsInitialized.Inc()
}

// Join counts a join attempt by result and observes how long it took.
func (m *RendezvousMetrics) Join(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(result).Inc()
	m.joinDuration.Observe(duration.Seconds())
}

// RoundStarted counts a round rollover of an existing session.
func (m *RendezvousMetrics) RoundStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

// StoreConflict counts a compare-and-swap that lost to a concurrent writer.
func (m *RendezvousMetrics) StoreConflict() {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}

// MetricsServer serves a Prometheus registry over HTTP.
type MetricsServer struct {
	registry   *prometheus.Registry
	rendezvous *RendezvousMetrics
	srv        *http.Server
}

// New creates a metrics server listening on addr with Go runtime, process
// and rendezvous collectors registered under namespace.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	rendezvous, err := NewRendezvousMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry:   registry,
		rendezvous: rendezvous,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Rendezvous returns the coordinator collectors registered with this server.
func (s *MetricsServer) Rendezvous() *RendezvousMetrics {
	return s.rendezvous
}

// Registry returns the underlying registry.
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// ListenAndServe serves /metrics until Shutdown, returning nil on a clean stop.
func (s *MetricsServer) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the metrics listener gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
