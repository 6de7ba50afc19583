package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняло decode -> authorize -> dispatch
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во execute по операциям и исходам
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker хранилища аудита (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Сколько ключей выдано в локальном реестре
	GrantedActions prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_execute_duration_seconds",
			Help:    "Histogram of execute latencies.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_execute_total",
			Help: "Total number of execute calls by operation and outcome.",
		}, []string{"operation", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of rejected execute calls by type.",
		}, []string{"type"}), // типы: decode, policy_deny, unknown_operation, operation, rate_limit

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		GrantedActions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_granted_actions",
			Help: "Number of granted action ids in the local registry.",
		}),
	}
}
