// Package metrics provides Prometheus metrics for the GitRank service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Sync
	syncRuns        *prometheus.CounterVec
	syncUsers       *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	syncLastUnix    prometheus.Gauge
	syncLastTotal   prometheus.Gauge
	syncLastSynced  prometheus.Gauge
	syncRetries     prometheus.Counter
	syncChunkLength prometheus.Histogram

	// GitHub fetcher
	fetchLatency   prometheus.Histogram
	fetchErrors    *prometheus.CounterVec
	fetchRequests  prometheus.Counter
	quotaRemaining prometheus.Gauge

	// Community signals
	votes              *prometheus.CounterVec
	ratingTransfer     prometheus.Histogram
	endorsementToggles *prometheus.CounterVec

	// Aggregate view
	refreshDuration prometheus.Histogram
	refreshErrors   prometheus.Counter
	refreshTotal    prometheus.Counter
	refreshLastUnix prometheus.Gauge
	rankedUsers     prometheus.Gauge

	// Sync job queue
	queueCapacity    prometheus.Gauge
	queueSize        prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	queueDuplicates  prometheus.Counter
	workerActive     prometheus.Gauge
	workerLatency    prometheus.Histogram
	workerErrors     prometheus.Counter
	workerJobsPerSec prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry served on /metrics

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "gitrank",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.syncRuns = m.counterVec("sync_runs_total", "Sync runs by mode (batch, single)", "mode")
	m.syncUsers = m.counterVec("sync_users_total", "Per-user sync outcomes", "outcome")
	m.syncDuration = m.histogram("sync_duration_milliseconds", "Wall time of a batch sync run", m.histogramBuckets)
	m.syncLastUnix = m.gauge("sync_last_unix", "Unix timestamp of the last completed batch sync")
	m.syncLastTotal = m.gauge("sync_last_total", "Candidates in the last batch sync")
	m.syncLastSynced = m.gauge("sync_last_synced", "Users persisted by the last batch sync")
	m.syncRetries = m.counter("sync_retries_total", "Per-user fetch retries after transient failures")
	m.syncChunkLength = m.histogram("sync_chunk_size", "Members per sync chunk", []float64{1, 5, 10, 25, 50, 100})

	m.fetchLatency = m.histogram("github_fetch_latency_milliseconds", "Latency of a full per-user metrics fetch", m.histogramBuckets)
	m.fetchErrors = m.counterVec("github_fetch_errors_total", "Fetch failures by kind", "kind")
	m.fetchRequests = m.counter("github_requests_total", "Outbound GitHub API round trips")
	m.quotaRemaining = m.gauge("github_quota_remaining", "Remaining GitHub API quota as last observed")

	m.votes = m.counterVec("votes_total", "Pairwise votes by outcome", "outcome")
	m.ratingTransfer = m.histogram("rating_transfer_points", "Rating points moved per vote", []float64{1, 2, 4, 8, 12, 16, 20, 24, 28, 32})
	m.endorsementToggles = m.counterVec("endorsement_toggles_total", "Endorsement toggles by resulting action", "action")

	m.refreshDuration = m.histogram("aggregate_refresh_duration_milliseconds", "Aggregate view refresh duration", m.histogramBuckets)
	m.refreshErrors = m.counter("aggregate_refresh_errors_total", "Failed aggregate view refreshes")
	m.refreshTotal = m.counter("aggregate_refresh_total", "Completed aggregate view refreshes")
	m.refreshLastUnix = m.gauge("aggregate_refresh_last_unix", "Unix timestamp of the last published aggregate view")
	m.rankedUsers = m.gauge("ranked_users", "Users in the published aggregate view")

	m.queueCapacity = m.gauge("sync_queue_capacity", "Capacity of the async sync job queue")
	m.queueSize = m.gauge("sync_queue_size", "Jobs waiting in the async sync queue")
	m.queueEnqueued = m.counter("sync_queue_enqueued_total", "Jobs accepted by the async sync queue")
	m.queueDequeued = m.counter("sync_queue_dequeued_total", "Jobs handed to workers")
	m.queueRejected = m.counterVec("sync_queue_rejected_total", "Jobs rejected by the queue by reason", "reason")
	m.queueDuplicates = m.counter("sync_queue_duplicates_total", "Jobs dropped because the user was already queued")
	m.workerActive = m.gauge("sync_workers", "Running async sync workers")
	m.workerLatency = m.histogram("sync_worker_latency_milliseconds", "Time a worker spends on one job", m.histogramBuckets)
	m.workerErrors = m.counter("sync_worker_errors_total", "Jobs that finished with an error")
	m.workerJobsPerSec = m.gauge("sync_worker_jobs_per_second", "Average jobs processed per second")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration", Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Sync

// RecordSyncRun counts a sync run; mode is "batch" or "single".
func RecordSyncRun(mode string) { globalManager.syncRuns.WithLabelValues(mode).Inc() }

// RecordSyncUser counts one per-user outcome ("success" or "failure").
func RecordSyncUser(outcome string) { globalManager.syncUsers.WithLabelValues(outcome).Inc() }

// RecordSyncRetry counts a retried fetch.
func RecordSyncRetry() { globalManager.syncRetries.Inc() }

// RecordSyncChunk observes the size of a processed chunk.
func RecordSyncChunk(size int) { globalManager.syncChunkLength.Observe(float64(size)) }

// RecordBatchSync records the summary of a finished batch run.
func RecordBatchSync(synced, total int, durationMs float64, finishedUnix int64) {
	globalManager.syncDuration.Observe(durationMs)
	globalManager.syncLastSynced.Set(float64(synced))
	globalManager.syncLastTotal.Set(float64(total))
	globalManager.syncLastUnix.Set(float64(finishedUnix))
}

// GitHub

// RecordFetchLatency observes a full per-user fetch.
func RecordFetchLatency(latencyMs float64) { globalManager.fetchLatency.Observe(latencyMs) }

// RecordFetchError counts a fetch failure by kind.
func RecordFetchError(kind string) { globalManager.fetchErrors.WithLabelValues(kind).Inc() }

// RecordGitHubRequest counts one outbound round trip.
func RecordGitHubRequest() { globalManager.fetchRequests.Inc() }

// UpdateGitHubQuota sets the last observed remaining quota.
func UpdateGitHubQuota(remaining int) { globalManager.quotaRemaining.Set(float64(remaining)) }

// Community signals

// RecordVote counts a vote by outcome ("accepted", "rejected", "failed").
func RecordVote(outcome string) { globalManager.votes.WithLabelValues(outcome).Inc() }

// RecordRatingTransfer observes the points moved by an accepted vote.
func RecordRatingTransfer(points float64) { globalManager.ratingTransfer.Observe(points) }

// RecordEndorsementToggle counts a toggle by resulting action ("added", "removed").
func RecordEndorsementToggle(action string) {
	globalManager.endorsementToggles.WithLabelValues(action).Inc()
}

// Aggregate view

// RecordAggregateRefresh records a successful refresh.
func RecordAggregateRefresh(durationMs float64, rows int, finishedUnix int64) {
	globalManager.refreshDuration.Observe(durationMs)
	globalManager.refreshTotal.Inc()
	globalManager.rankedUsers.Set(float64(rows))
	globalManager.refreshLastUnix.Set(float64(finishedUnix))
}

// RecordAggregateRefreshError counts a failed refresh.
func RecordAggregateRefreshError() { globalManager.refreshErrors.Inc() }

// Queue and workers

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the number of waiting jobs.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a job handed to a worker.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected counts a rejected job by reason (closed, full, canceled).
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// RecordQueueDuplicate counts a job dropped as already queued.
func RecordQueueDuplicate() { globalManager.queueDuplicates.Inc() }

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerActive.Set(float64(count)) }

// RecordWorkerLatency observes the time spent on one job.
func RecordWorkerLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError counts a job that failed.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// UpdateWorkerJobsPerSecond sets the average throughput.
func UpdateWorkerJobsPerSecond(rate float64) { globalManager.workerJobsPerSec.Set(rate) }

// HTTP

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Errors

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an HTTP error with endpoint, method and type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
