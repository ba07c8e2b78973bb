package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects branch participant and sweeper metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	sweeps         *prometheus.CounterVec
	sweepCancelled prometheus.Counter
	sweepFailed    prometheus.Counter
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tcc_branch_operations_total",
			Help: "TCC branch operations by phase and result",
		}, []string{"phase", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tcc_branch_operation_duration_seconds",
			Help:    "Duration of TCC branch operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tcc_sweeps_total",
			Help: "Recovery sweeps by outcome",
		}, []string{"outcome"}),
		sweepCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcc_sweep_cancelled_branches_total",
			Help: "Branches cancelled by the recovery sweeper",
		}),
		sweepFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcc_sweep_failed_branches_total",
			Help: "Branches the recovery sweeper failed to cancel",
		}),
	}
}

func (m *Metrics) ObserveOperation(phase, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(phase, result).Inc()
	m.duration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSweep(outcome string, cancelled, failed int) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.sweepCancelled.Add(float64(cancelled))
	m.sweepFailed.Add(float64(failed))
}
