package observability_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"PowerVault/internal/observability"
)

func TestHealthChecker_ReadinessRunsChecks(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	require.True(t, h.IsReady())

	h.AddCheck("postgres", func() error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.CommandsApplied.WithLabelValues("Mint").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsApplied.WithLabelValues("Mint")))

	// A second registry must not collide with the first.
	require.NotPanics(t, func() { observability.NewMetrics(prometheus.NewRegistry()) })
}

func TestNewTestLogger_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewTestLogger(&buf, "core")
	log.Info().Str("op", "mint").Msg("applied")
	require.Contains(t, buf.String(), `"component":"core"`)
	require.Contains(t, buf.String(), `"op":"mint"`)
}
