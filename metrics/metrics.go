package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magpie_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Memory pipeline metrics
	memorySubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_memory_submissions_total",
			Help: "Total number of conversation batches submitted for memorization",
		},
		[]string{"status"},
	)

	memoryPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_memory_polls_total",
			Help: "Total number of task status polls",
		},
	)

	memoryTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_memory_tasks_total",
			Help: "Total number of memorization tasks by terminal outcome",
		},
		[]string{"outcome"},
	)

	memoryTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magpie_memory_task_duration_seconds",
			Help:    "Time from submission to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	promptRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_prompt_refreshes_total",
			Help: "Total number of prompt refreshes applied to live sessions",
		},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_active_sessions",
			Help: "Number of live conversation sessions",
		},
	)

	conversationTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_conversation_turns_total",
			Help: "Total number of conversation turns by role",
		},
		[]string{"role"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			memorySubmissionsTotal,
			memoryPollsTotal,
			memoryTasksTotal,
			memoryTaskDuration,
			promptRefreshesTotal,
			activeSessions,
			conversationTurnsTotal,
		)
	})
}

// Handler returns an HTTP handler for the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMemorySubmission records a submission attempt outcome.
func RecordMemorySubmission(status string) {
	memorySubmissionsTotal.WithLabelValues(status).Inc()
}

// RecordMemoryPoll records one task status poll.
func RecordMemoryPoll() {
	memoryPollsTotal.Inc()
}

// RecordMemoryTaskOutcome records a task reaching a terminal state.
func RecordMemoryTaskOutcome(outcome string, duration time.Duration) {
	memoryTasksTotal.WithLabelValues(outcome).Inc()
	memoryTaskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPromptRefresh records a prompt swap on a live session.
func RecordPromptRefresh() {
	promptRefreshesTotal.Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordConversationTurn records one conversation turn.
func RecordConversationTurn(role string) {
	conversationTurnsTotal.WithLabelValues(role).Inc()
}
