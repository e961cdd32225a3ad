package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты цикла восстановления для метки result.
const (
	CycleOK      = "ok"
	CycleError   = "error"
	CycleStopped = "stopped"
)

// Действия над эпизодами срабатывания для метки action.
const (
	ActionRefired  = "refired"
	ActionReleased = "released"
	ActionDeleted  = "deleted"
)

// Metrics — метрики узла.
type Metrics struct {
	Checkins         prometheus.Counter
	RecoveryCycles   *prometheus.CounterVec
	RecoveryDuration prometheus.Histogram
	FailedInstances  prometheus.Counter
	FiredRecovered   *prometheus.CounterVec
	LockAcquire      *prometheus.HistogramVec
	Dispatched       prometheus.Counter
}

// NewMetrics регистрирует метрики в reg.
// nil reg — метрики создаются, но нигде не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Checkins: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_checkins_total",
			Help: "Total number of scheduler check-ins written by this instance",
		}),
		RecoveryCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobstore_recovery_cycles_total",
			Help: "Total number of cluster recovery cycles by result",
		}, []string{"result"}),
		RecoveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobstore_recovery_cycle_seconds",
			Help:    "Duration of cluster recovery cycles",
			Buckets: prometheus.DefBuckets,
		}),
		FailedInstances: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_failed_instances_total",
			Help: "Total number of failed scheduler instances recovered",
		}),
		FiredRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobstore_fired_triggers_recovered_total",
			Help: "Total number of orphaned fired triggers processed by action",
		}, []string{"action"}),
		LockAcquire: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobstore_lock_acquire_seconds",
			Help:    "Time spent waiting for named scheduler locks",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"lock"}),
		Dispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_triggers_dispatched_total",
			Help: "Total number of trigger firings published for execution",
		}),
	}
}

// ObserveLockWait — колбэк для lock.Observed.
func (m *Metrics) ObserveLockWait(name string, d time.Duration) {
	m.LockAcquire.WithLabelValues(name).Observe(d.Seconds())
}
