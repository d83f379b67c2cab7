package observability_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/observability"
)

var errProbeFailed = errors.New("engine unreachable")

func TestNilMetricsRecordingIsSafe(t *testing.T) {
	t.Parallel()

	var m *observability.Metrics

	m.RecordRun(observability.RunOutcomeOK, time.Second)
	m.RecordChunkSynthesized()
	m.RecordRegeneration()
	m.RecordQualityFailure("volume consistency")
	m.RecordChunkBelowTarget()
	m.RecordCrossfade("smoothstep")
	m.RecordUsageTokens(128)
}

func TestMetricsRecording(t *testing.T) {
	t.Parallel()

	// Registered once on the default registry; a second NewMetrics with the
	// same namespace would panic, so all assertions share this instance.
	m := observability.NewMetrics("narrationtest")

	m.RecordRun(observability.RunOutcomeOK, 2*time.Second)
	m.RecordRun(observability.RunOutcomeFailed, time.Second)
	m.RecordChunkSynthesized()
	m.RecordChunkSynthesized()
	m.RecordRegeneration()
	m.RecordQualityFailure("spectral consistency")
	m.RecordQualityFailure("spectral consistency")
	m.RecordChunkBelowTarget()
	m.RecordCrossfade("exponential")
	m.RecordUsageTokens(100)
	m.RecordUsageTokens(-5)

	okRuns := m.NarrationsTotal.WithLabelValues(observability.RunOutcomeOK)
	assert.InDelta(t, 1.0, testutil.ToFloat64(okRuns), 1e-9)

	failedRuns := m.NarrationsTotal.WithLabelValues(observability.RunOutcomeFailed)
	assert.InDelta(t, 1.0, testutil.ToFloat64(failedRuns), 1e-9)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.ChunksSynthesized), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Regenerations), 1e-9)

	spectral := m.QualityFailures.WithLabelValues("spectral consistency")
	assert.InDelta(t, 2.0, testutil.ToFloat64(spectral), 1e-9)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ChunksBelowTarget), 1e-9)

	exponential := m.Crossfades.WithLabelValues("exponential")
	assert.InDelta(t, 1.0, testutil.ToFloat64(exponential), 1e-9)

	assert.InDelta(t, 100.0, testutil.ToFloat64(m.UsageTokens), 1e-9)
}

func TestAdminRouterEndpoints(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(observability.NewAdminRouter(nil))
	defer server.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)

	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestAdminRouterReadinessProbeFailure(t *testing.T) {
	t.Parallel()

	router := observability.NewAdminRouter(func(_ context.Context) error {
		return errProbeFailed
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)

	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "engine unreachable")
}
