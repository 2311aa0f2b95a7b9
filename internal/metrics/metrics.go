package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotwise"

var (
	once sync.Once

	slotComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_computations_total",
			Help:      "Count of slot list computations by result.",
		},
		[]string{"result"},
	)

	slotComputationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_computation_seconds",
			Help:      "Time spent computing one resource-day of slots.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	availabilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_checks_total",
			Help:      "Count of point availability checks by reason.",
		},
		[]string{"reason"},
	)

	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occupancy_commits_total",
			Help:      "Count of occupancy commit attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_requests_total",
			Help:      "Count of slot cache lookups by result.",
		},
		[]string{"result"},
	)

	configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_config_reloads_total",
			Help:      "Count of schedule configuration reloads by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(slotComputations, slotComputationSeconds, availabilityChecks, commits, cacheRequests, configReloads)
	})
}

func IncSlotComputation(result string) {
	slotComputations.WithLabelValues(result).Inc()
}

func ObserveSlotComputation(d time.Duration) {
	slotComputationSeconds.Observe(d.Seconds())
}

func IncAvailabilityCheck(reason string) {
	availabilityChecks.WithLabelValues(reason).Inc()
}

func IncCommit(outcome string) {
	commits.WithLabelValues(outcome).Inc()
}

func IncCacheRequest(result string) {
	cacheRequests.WithLabelValues(result).Inc()
}

func IncConfigReload(result string) {
	configReloads.WithLabelValues(result).Inc()
}
