package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendezvousMetrics_NilIsNoop(t *testing.T) {
	var m *RendezvousMetrics
	assert.NotPanics(t, func() {
		m.SessionInitialized()
		m.Join(JoinResultOK, time.Millisecond)
		m.RoundStarted()
		m.StoreConflict()
	})
}

func TestRendezvousMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewRendezvousMetrics("rendezvous", reg)
	require.NoError(t, err)

	m.Join(JoinResultOK, 10*time.Millisecond)
	m.Join(JoinResultOK, 20*time.Millisecond)
	m.Join(JoinResultBusy, time.Second)
	m.StoreConflict()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.joins.WithLabelValues(JoinResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.joins.WithLabelValues(JoinResultBusy)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storeConflicts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.joinDuration))

	// Registering twice under one namespace fails
	_, err = NewRendezvousMetrics("rendezvous", reg)
	assert.Error(t, err)
}

func TestMetricsServer_Exposition(t *testing.T) {
	srv, err := New("rendezvous", "127.0.0.1:0")
	require.NoError(t, err)

	srv.Rendezvous().SessionInitialized()

	handler := promhttp.HandlerFor(srv.Registry(), promhttp.HandlerOpts{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rendezvous_sessions_initialized_total 1"))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsServer_CleanShutdown(t *testing.T) {
	srv, err := New("rendezvous", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
