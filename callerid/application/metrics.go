package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidateOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callerid",
			Name:      "candidate_outcomes_total",
			Help:      "Candidates evaluated by the allocation loop, by outcome.",
		},
		[]string{"outcome"},
	)

	allocationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callerid",
			Name:      "allocations_total",
			Help:      "Allocate calls by result.",
		},
		[]string{"result"}, // success, invalid, rate_limited, exhausted, store_unavailable, canceled
	)

	allocationDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "callerid",
			Name:      "allocation_duration_seconds",
			Help:      "Duration of Allocate calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	bestEffortFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callerid",
			Name:      "best_effort_failures_total",
			Help:      "Post-reservation writes that failed and were swallowed.",
		},
		[]string{"step"}, // usage, rotation, last_used, event, stats, evict
	)
)
