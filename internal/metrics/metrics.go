// Package metrics holds the Prometheus collectors for scheduling and dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "postflow"

type Metrics struct {
	JobsScheduled    *prometheus.CounterVec
	JobsCancelled    prometheus.Counter
	Dispatches       *prometheus.CounterVec
	PublishDuration  prometheus.Histogram
	CounterConflicts prometheus.Counter
	ResyncRuns       *prometheus.CounterVec
	ResyncEntries    prometheus.Counter
}

// New registers all collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "jobs_scheduled_total",
			Help:      "Delayed publish jobs enqueued, by whether the job was due immediately.",
		}, []string{"due"}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "jobs_cancelled_total",
			Help:      "Delayed publish jobs removed from the queue.",
		}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "publish_duration_seconds",
			Help:      "Latency of calls to the publishing endpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		CounterConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "usage_counter_conflicts_total",
			Help:      "Rotation counter updates lost to a concurrent writer.",
		}),
		ResyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resync",
			Name:      "runs_total",
			Help:      "Resync passes by result.",
		}, []string{"result"}),
		ResyncEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resync",
			Name:      "entries_scheduled_total",
			Help:      "Entries rescheduled by resync passes.",
		}),
	}
}

// Discard returns collectors registered on a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
