package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// WebSocket Subscription Metrics
	wsMessagesTotal      *prometheus.CounterVec
	wsReconnectsTotal    *prometheus.CounterVec
	wsSubscriptionActive *prometheus.GaugeVec

	// Account Update Processing Metrics
	updatesWrittenTotal *prometheus.CounterVec
	updatesSkippedTotal *prometheus.CounterVec

	// Workflow Metrics
	pollWorkflowDuration        *prometheus.HistogramVec
	pollWorkflowExecutionsTotal *prometheus.CounterVec
	pollActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// WebSocket Subscription Metrics
		wsMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_messages_total",
				Help: "Total number of account notifications received over WebSocket",
			},
			[]string{"program_id"},
		),
		wsReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_reconnects_total",
				Help: "Total number of WebSocket reconnection attempts",
			},
			[]string{"program_id", "reason"},
		),
		wsSubscriptionActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ws_subscription_active",
				Help: "Whether the program subscription is currently connected (1) or not (0)",
			},
			[]string{"program_id"},
		),

		// Account Update Processing Metrics
		updatesWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_updates_written_total",
				Help: "Total number of account updates written to the database",
			},
			[]string{"program_id"},
		),
		updatesSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_updates_skipped_total",
				Help: "Total number of account updates skipped",
			},
			[]string{"program_id", "reason"},
		),

		// Workflow Metrics
		pollWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_workflow_duration_seconds",
				Help:    "Duration of poll workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"program_id", "status"},
		),
		pollWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_workflow_executions_total",
				Help: "Total number of poll workflow executions",
			},
			[]string{"program_id", "status"},
		),
		pollActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_activity_duration_seconds",
				Help:    "Duration of poll workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "program_id"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"program_id"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"program_id", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// WebSocket metric helpers

// RecordWSMessage records an account notification received over the subscription.
func (m *Metrics) RecordWSMessage(programID string) {
	m.wsMessagesTotal.WithLabelValues(programID).Inc()
}

// RecordWSReconnect records a reconnection attempt.
func (m *Metrics) RecordWSReconnect(programID, reason string) {
	m.wsReconnectsTotal.WithLabelValues(programID, reason).Inc()
}

// SetSubscriptionActive records whether the subscription is connected.
func (m *Metrics) SetSubscriptionActive(programID string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.wsSubscriptionActive.WithLabelValues(programID).Set(v)
}

// Account update metric helpers

// RecordUpdatesWritten records account updates written to the database.
func (m *Metrics) RecordUpdatesWritten(programID string, count int) {
	m.updatesWrittenTotal.WithLabelValues(programID).Add(float64(count))
}

// RecordUpdatesSkipped records account updates skipped.
func (m *Metrics) RecordUpdatesSkipped(programID, reason string, count int) {
	m.updatesSkippedTotal.WithLabelValues(programID, reason).Add(float64(count))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(programID, status string, duration float64) {
	m.pollWorkflowDuration.WithLabelValues(programID, status).Observe(duration)
	m.pollWorkflowExecutionsTotal.WithLabelValues(programID, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, programID string, duration float64) {
	m.pollActivityDuration.WithLabelValues(activity, programID).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(programID string, delta float64) {
	m.sseActiveConnections.WithLabelValues(programID).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(programID, eventType string) {
	m.sseEventsSent.WithLabelValues(programID, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
