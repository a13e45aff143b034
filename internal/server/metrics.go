package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tableocr_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tableocr_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "tableocr_extraction_duration_seconds",
		Help: "Wall time of direct extractions started over HTTP.",
		// Direct extraction of a multi-page scan runs minutes, not
		// milliseconds.
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
