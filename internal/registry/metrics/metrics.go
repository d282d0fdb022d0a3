package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry module.
type Metrics struct {
	HandlesCreated     prometheus.Counter
	AuthorityTransfers prometheus.Counter
	DestinationUpdates prometheus.Counter
	Rejections         *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
}

// New registers the registry metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HandlesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_handles_created_total",
			Help: "Total number of handles registered",
		}),
		AuthorityTransfers: factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_authority_transfers_total",
			Help: "Total number of committed authority transfers",
		}),
		DestinationUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_destination_updates_total",
			Help: "Total number of committed destination changes",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stealth_operation_rejections_total",
			Help: "Registry operations rejected, by operation and error code",
		}, []string{"operation", "code"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stealth_operation_duration_seconds",
			Help:    "Duration of registry operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRejection(operation, code string) {
	m.Rejections.WithLabelValues(operation, code).Inc()
}
