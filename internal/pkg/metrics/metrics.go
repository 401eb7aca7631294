package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "profilesync"

var (
	gatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Gateway adapter calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Gateway adapter call latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"operation"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profile_cache",
		Name:      "lookups_total",
		Help:      "Profile cache lookups by result (overlay, hit, miss).",
	}, []string{"result"})

	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "results_total",
		Help:      "Classification results by origin (cache, live, fallback, empty).",
	}, []string{"origin"})

	queueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "refresh_queue",
		Name:      "jobs",
		Help:      "Refresh jobs by state as of the last maintenance run.",
	}, []string{"state"})

	queueEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh_queue",
		Name:      "events_total",
		Help:      "Refresh queue transitions (enqueued, claimed, completed, failed).",
	}, []string{"event"})

	lifecycleActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "actions_total",
		Help:      "Lifecycle actions by action and outcome.",
	}, []string{"action", "outcome"})
)

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveGatewayCall records one adapter call.
func ObserveGatewayCall(operation string, ok bool, took time.Duration) {
	gatewayCalls.WithLabelValues(operation, outcome(ok)).Inc()
	gatewayLatency.WithLabelValues(operation).Observe(took.Seconds())
}

// CacheLookup records a profile cache lookup result.
func CacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// Classified records where a classification result came from.
func Classified(origin string) {
	classifications.WithLabelValues(origin).Inc()
}

// QueueEvent records a queue transition.
func QueueEvent(event string, n int) {
	queueEvents.WithLabelValues(event).Add(float64(n))
}

// SetQueueDepth publishes the job counts per state.
func SetQueueDepth(pending, due, locked, stuck int64) {
	queueJobs.WithLabelValues("pending").Set(float64(pending))
	queueJobs.WithLabelValues("due").Set(float64(due))
	queueJobs.WithLabelValues("locked").Set(float64(locked))
	queueJobs.WithLabelValues("stuck").Set(float64(stuck))
}

// LifecycleAction records a cancel/suspend/reactivate/update outcome.
func LifecycleAction(action string, ok bool) {
	lifecycleActions.WithLabelValues(action, outcome(ok)).Inc()
}
