package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	queueDepth          prometheus.Gauge
	actionsEnqueued     *prometheus.CounterVec
	syncCyclesTotal     *prometheus.CounterVec
	syncActionOutcomes  *prometheus.CounterVec
	syncDurationSeconds prometheus.Histogram
	admissionDecisions  *prometheus.CounterVec
	connectivityOnline  prometheus.Gauge
	connectivityChanges *prometheus.CounterVec
	workpoolActive      prometheus.Gauge
	statusStreamClients prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the agent.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Number of actions waiting in the durable queue.",
		})

		actionsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_actions_enqueued_total",
			Help: "Actions appended to the durable queue.",
		}, []string{"type"})

		syncCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Queue drain attempts by outcome.",
		}, []string{"outcome"})

		syncActionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_action_outcomes_total",
			Help: "Replayed actions by type and outcome (success, retained, dropped).",
		}, []string{"type", "outcome"})

		syncDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of queue drains that processed at least one action.",
			Buckets: prometheus.DefBuckets,
		})

		admissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_admission_decisions_total",
			Help: "Admission control decisions by action and decision.",
		}, []string{"action", "decision"})

		connectivityOnline = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_connectivity_online",
			Help: "1 while the agent considers the backend reachable.",
		})

		connectivityChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_connectivity_transitions_total",
			Help: "Connectivity transitions by target state and source.",
		}, []string{"state", "source"})

		workpoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_workpool_active",
			Help: "Bulk import workers currently running.",
		})

		statusStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_status_stream_clients",
			Help: "Connected status stream subscribers.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			queueDepth, actionsEnqueued, syncCyclesTotal, syncActionOutcomes, syncDurationSeconds,
			admissionDecisions, connectivityOnline, connectivityChanges, workpoolActive, statusStreamClients,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

func QueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return queueDepth
}

func ActionsEnqueued() *prometheus.CounterVec {
	RegisterMetrics()
	return actionsEnqueued
}

func SyncCycles() *prometheus.CounterVec {
	RegisterMetrics()
	return syncCyclesTotal
}

func SyncActionOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return syncActionOutcomes
}

func SyncDuration() prometheus.Histogram {
	RegisterMetrics()
	return syncDurationSeconds
}

func AdmissionDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return admissionDecisions
}

func ConnectivityOnline() prometheus.Gauge {
	RegisterMetrics()
	return connectivityOnline
}

func ConnectivityTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return connectivityChanges
}

func WorkpoolActive() prometheus.Gauge {
	RegisterMetrics()
	return workpoolActive
}

func StatusStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamClients
}
