// Package metrics declares the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActivitiesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spine_activities_ingested_total",
		Help: "Activities inserted as new rows, labelled by source.",
	}, []string{"source"})

	ActivitiesDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spine_activities_deduplicated_total",
		Help: "Create attempts that resolved to an existing activity, labelled by source.",
	}, []string{"source"})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spine_ingest_errors_total",
		Help: "Payloads rejected during normalization or validation, labelled by source.",
	}, []string{"source"})

	DeltasDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spine_deltas_delivered_total",
		Help: "Deltas placed on a live subscriber channel.",
	})

	DeltasDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spine_deltas_dropped_total",
		Help: "Deltas dropped because a subscriber channel was full.",
	})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spine_live_subscribers",
		Help: "Currently registered streaming subscribers across all tenants.",
	})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spine_store_operation_duration_ms",
		Help:    "Activity store operation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"op"})

	ArchiveExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spine_archive_exports_total",
		Help: "Per-tenant archive exports, labelled by result.",
	}, []string{"result"})
)

// ObserveStore records the latency of one store operation started at begin.
func ObserveStore(op string, begin time.Time) {
	StoreLatency.WithLabelValues(op).Observe(float64(time.Since(begin).Microseconds()) / 1000)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
