package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtracker_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtracker_http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtracker_websocket_connections_active",
			Help: "Number of active WebSocket event stream connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_websocket_messages_dropped_total",
			Help: "Events dropped because a WebSocket client buffer was full",
		},
	)

	// Входящие отсчеты
	SamplesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_samples_accepted_total",
			Help: "Total number of geo samples accepted by the validator",
		},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_samples_rejected_total",
			Help: "Total number of geo samples rejected by the validator",
		},
		[]string{"filter"},
	)

	SamplesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_samples_throttled_total",
			Help: "Total number of geo samples dropped by low-power throttling",
		},
	)

	// Жизненный цикл пробежки
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_runs_total",
			Help: "Total number of runs by lifecycle status (started, completed, interrupted)",
		},
		[]string{"status"}, // started, completed, interrupted
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_state_transitions_total",
			Help: "Total number of run state transitions",
		},
		[]string{"transition"}, // start, pause, auto_pause, resume, auto_resume, complete, interrupt
	)

	SplitsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_splits_completed_total",
			Help: "Total number of completed kilometer splits",
		},
	)

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtracker_tick_duration_seconds",
			Help:    "Duration of periodic engine ticks in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"tick"}, // metrics, motion, flush
	)

	// Восстановление после ошибок
	RecoveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_recovery_errors_total",
			Help: "Total number of handled dependency errors",
		},
		[]string{"kind"},
	)

	RecoveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_recovery_retries_total",
			Help: "Total number of scheduled recovery retries",
		},
		[]string{"kind"},
	)

	RecoveryFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_recovery_fallbacks_total",
			Help: "Total number of fallback activations",
		},
		[]string{"kind"},
	)

	BufferedWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtracker_buffered_writes",
			Help: "Number of persistence writes buffered in memory",
		},
	)

	// Хранилище
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtracker_store_operation_duration_seconds",
			Help:    "Duration of run store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_store_operation_errors_total",
			Help: "Total number of run store operation errors",
		},
		[]string{"backend", "operation"},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received",
		},
		[]string{"topic_type"},
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_mqtt_parse_errors_total",
			Help: "Total number of MQTT payload parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtracker_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtracker_app_info",
			Help: "Application information",
		},
		[]string{"version"},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version).Set(1)
}
