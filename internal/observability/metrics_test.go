package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each test uses its own registry so metric names never collide.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry("test_paperagg", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t)

	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.PagesFetched)
	assert.NotNil(t, m.RecordsInserted)
	assert.NotNil(t, m.RecordsUpdated)
	assert.NotNil(t, m.RecordsUnchanged)
	assert.NotNil(t, m.WriteFailures)
	assert.NotNil(t, m.RunsStarted)
	assert.NotNil(t, m.RunsSkipped)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.EventsPublished)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordSourceRequest("arxiv", 1)
		m.RecordSourceRequestFailed("arxiv", "status")
		m.RecordSourceRateLimited("arxiv")
		m.RecordPage("arxiv", "incremental", 10)
		m.RecordWrite("arxiv", 1, 2, 3)
		m.RecordWriteFailure("arxiv", "insert")
		m.RecordRunStarted("incremental")
		m.RecordRunCompleted("incremental", 1)
		m.RecordRunSkipped("incremental")
		m.RecordEventPublished(true)
	})
}

func TestRecordSourceRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSourceRequest("arxiv", 0.4)
	m.RecordSourceRequest("arxiv", 0.6)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("arxiv")))
	count, err := getHistogramVecSampleCount(m.SourceRequestDuration, "arxiv")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordSourceRequestFailed(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSourceRequestFailed("google_scholar", "parse")
	m.RecordSourceRateLimited("google_scholar")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("google_scholar", "parse")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("google_scholar")))
}

func TestRecordPageAndWrite(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPage("arxiv", "historical", 100)
	m.RecordWrite("arxiv", 40, 10, 50)
	m.RecordWriteFailure("arxiv", "update")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PagesFetched.WithLabelValues("arxiv", "historical")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.RecordsFetched.WithLabelValues("arxiv")))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.RecordsInserted.WithLabelValues("arxiv")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.RecordsUpdated.WithLabelValues("arxiv")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.RecordsUnchanged.WithLabelValues("arxiv")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WriteFailures.WithLabelValues("arxiv", "update")))
}

func TestRecordRuns(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRunStarted("incremental")
	m.RecordRunCompleted("incremental", 12.5)
	m.RecordRunSkipped("historical")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsStarted.WithLabelValues("incremental")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCompleted.WithLabelValues("incremental")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsSkipped.WithLabelValues("historical")))

	count, err := getHistogramVecSampleCount(m.RunDuration, "incremental")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordEventPublished(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventPublished(true)
	m.RecordEventPublished(false)
	m.RecordEventPublished(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))
}

func getHistogramVecSampleCount(h *prometheus.HistogramVec, labels ...string) (uint64, error) {
	observer, err := h.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0, err
	}
	metric := &dto.Metric{}
	if err := observer.(prometheus.Metric).Write(metric); err != nil {
		return 0, err
	}
	return metric.GetHistogram().GetSampleCount(), nil
}
