package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/enrichment/internal/model"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobCreated(model.EnrichmentEmbeddings)
	m.Attempt(model.EnrichmentEmbeddings, OutcomeCompleted)
	m.SyncEvent(model.UpdateOpUpsert)
	m.BackendCall("local", model.EnrichmentEmbeddings)()
}

func TestCounters(t *testing.T) {
	m := New()
	m.JobCreated(model.EnrichmentMoodAnalysis)
	m.JobCreated(model.EnrichmentMoodAnalysis)
	m.Attempt(model.EnrichmentMoodAnalysis, OutcomeRetrying)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsCreated.WithLabelValues("mood_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("mood_analysis", "retrying")))

	done := m.BackendCall("local", model.EnrichmentMoodAnalysis)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestHandler(t *testing.T) {
	m := New()
	m.JobCreated(model.EnrichmentSimilarity)

	app := fiber.New()
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `enrichment_jobs_created_total{enrichment_type="similarity"} 1`)
}
