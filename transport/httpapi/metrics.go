package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientRejectionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callerid",
			Subsystem: "http",
			Name:      "rejections_total",
			Help:      "Requests rejected before reaching the engine.",
		},
		[]string{"reason"}, // rate, concurrency
	)

	responsesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callerid",
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by route and status.",
		},
		[]string{"route", "status"},
	)
)
