package frwlock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an optional Prometheus instrumentation bundle for an RwLock.
// A lock with no Metrics wired in (the default) pays only an `if m != nil`
// branch per slow-path event; the fast path never touches it at all.
type Metrics struct {
	contendedAcquires *prometheus.CounterVec
	parkedWaiters     *prometheus.GaugeVec
	fairUnlocks       prometheus.Counter
	waitSeconds       prometheus.Histogram
}

// NewMetrics builds a Metrics bundle and registers its collectors with reg.
// Pass the same Metrics to every RwLock that should share one set of
// counters (e.g. all locks guarding shards of one logical table), or build
// one per lock for per-instance detail.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		contendedAcquires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "frwlock_contended_acquires_total",
			Help: "Acquires that missed the lock-free fast path and entered the park/unpark slow path, by key kind.",
		}, []string{"key"}),
		parkedWaiters: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "frwlock_parked_waiters",
			Help: "Goroutines currently parked waiting for the lock, by key kind.",
		}, []string{"key"}),
		fairUnlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "frwlock_fair_unlocks_total",
			Help: "Releases that performed a direct-handoff (be-fair) wake instead of an unfair release.",
		}),
		waitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "frwlock_wait_seconds",
			Help:    "Time spent parked before being granted the lock.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
}

func (m *Metrics) onParked(keyKind string) {
	if m == nil {
		return
	}
	m.contendedAcquires.WithLabelValues(keyKind).Inc()
	m.parkedWaiters.WithLabelValues(keyKind).Inc()
}

func (m *Metrics) onUnparked(keyKind string, waited time.Duration) {
	if m == nil {
		return
	}
	m.parkedWaiters.WithLabelValues(keyKind).Dec()
	m.waitSeconds.Observe(waited.Seconds())
}

func (m *Metrics) onFairRelease() {
	if m == nil {
		return
	}
	m.fairUnlocks.Inc()
}
