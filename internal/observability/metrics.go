package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper aggregator.
// Metrics are organized by subsystem: provider requests, pages, records, runs
// and events. A nil *Metrics is valid and records nothing, which keeps tests
// and one-shot CLI runs free of registry setup.
type Metrics struct {
	// SourceRequestsTotal counts HTTP requests to provider APIs, labeled by source.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts provider soft-failures, labeled by source and reason
	// (network, status, parse).
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes provider request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts 429 responses from providers, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// PagesFetched counts pages processed by the orchestrator, labeled by source and mode.
	PagesFetched *prometheus.CounterVec

	// RecordsFetched counts normalized records returned by providers, labeled by source.
	RecordsFetched *prometheus.CounterVec

	// RecordsInserted counts records written as new, labeled by source.
	RecordsInserted *prometheus.CounterVec

	// RecordsUpdated counts records merged into an existing record, labeled by source.
	RecordsUpdated *prometheus.CounterVec

	// RecordsUnchanged counts fetched records that matched an identical stored record.
	RecordsUnchanged *prometheus.CounterVec

	// WriteFailures counts per-record store failures, labeled by source and operation.
	WriteFailures *prometheus.CounterVec

	// RunsStarted counts scheduler runs, labeled by mode.
	RunsStarted *prometheus.CounterVec

	// RunsCompleted counts scheduler runs that finished, labeled by mode.
	RunsCompleted *prometheus.CounterVec

	// RunsSkipped counts triggers rejected because a run was already in progress.
	RunsSkipped *prometheus.CounterVec

	// RunDuration observes scheduler run duration in seconds, labeled by mode.
	RunDuration *prometheus.HistogramVec

	// EventsPublished counts completion events, labeled by outcome (ok, error).
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default
// Prometheus registry. The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Sources
		SourceRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to provider APIs",
		}, []string{"source"}),
		SourceRequestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed provider requests",
		}, []string{"source", "reason"}),
		SourceRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of provider requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		SourceRateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limited responses from providers",
		}, []string{"source"}),

		// Pages and records
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of provider pages processed",
		}, []string{"source", "mode"}),
		RecordsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Total number of records returned by providers",
		}, []string{"source"}),
		RecordsInserted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Total number of new records inserted",
		}, []string{"source"}),
		RecordsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_updated_total",
			Help:      "Total number of existing records updated",
		}, []string{"source"}),
		RecordsUnchanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_unchanged_total",
			Help:      "Total number of fetched records identical to stored ones",
		}, []string{"source"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Total number of per-record store failures",
		}, []string{"source", "op"}),

		// Runs
		RunsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of sync runs started",
		}, []string{"mode"}),
		RunsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of sync runs completed",
		}, []string{"mode"}),
		RunsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_skipped_total",
			Help:      "Total number of triggers skipped because a run was in progress",
		}, []string{"mode"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"mode"}),

		// Events
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of sync completion events published",
		}, []string{"outcome"}),
	}
}

// RecordSourceRequest records a request to a provider.
func (m *Metrics) RecordSourceRequest(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source).Inc()
	m.SourceRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a provider soft-failure.
func (m *Metrics) RecordSourceRequestFailed(source, reason string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, reason).Inc()
}

// RecordSourceRateLimited records a rate limit response from a provider.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordPage records one processed page and the number of records it carried.
func (m *Metrics) RecordPage(source, mode string, records int) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(source, mode).Inc()
	m.RecordsFetched.WithLabelValues(source).Add(float64(records))
}

// RecordWrite records the outcome of one page's dedup and write.
func (m *Metrics) RecordWrite(source string, inserted, updated, unchanged int) {
	if m == nil {
		return
	}
	m.RecordsInserted.WithLabelValues(source).Add(float64(inserted))
	m.RecordsUpdated.WithLabelValues(source).Add(float64(updated))
	m.RecordsUnchanged.WithLabelValues(source).Add(float64(unchanged))
}

// RecordWriteFailure records a per-record store failure.
func (m *Metrics) RecordWriteFailure(source, op string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(source, op).Inc()
}

// RecordRunStarted records the start of a scheduler run.
func (m *Metrics) RecordRunStarted(mode string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a finished scheduler run.
func (m *Metrics) RecordRunCompleted(mode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(mode).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordRunSkipped records a trigger rejected by the run lock.
func (m *Metrics) RecordRunSkipped(mode string) {
	if m == nil {
		return
	}
	m.RunsSkipped.WithLabelValues(mode).Inc()
}

// RecordEventPublished records a completion event publish attempt.
func (m *Metrics) RecordEventPublished(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
