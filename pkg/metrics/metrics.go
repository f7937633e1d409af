package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "formintake"

// Metrics agrupa las métricas de la aplicación.
type Metrics struct {
	// Submissions
	SubmissionsCreated   prometheus.Counter
	SubmissionsDuplicate prometheus.Counter
	SubmissionsRejected  prometheus.Counter

	// Outbox
	OutboxEventsDrained     *prometheus.CounterVec
	OutboxProcessingLatency prometheus.Histogram

	// Store
	DatabaseOperations *prometheus.CounterVec
}

// New registra todas las métricas en reg. Cada test puede pasar su propio
// prometheus.NewRegistry() para evitar registros duplicados.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_created_total",
			Help:      "Total number of accepted submissions",
		}),
		SubmissionsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_duplicate_total",
			Help:      "Total number of submissions rejected by the dedupe window",
		}),
		SubmissionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_invalid_total",
			Help:      "Total number of submissions rejected as invalid input",
		}),
		OutboxEventsDrained: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_drained_total",
			Help:      "Outbox events processed, by final status",
		}, []string{"status"}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent claiming and dispatching one outbox event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of store operations",
		}, []string{"operation", "status"}),
	}
}

// ObserveDB cuenta una operación del store según su resultado.
func (m *Metrics) ObserveDB(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}
