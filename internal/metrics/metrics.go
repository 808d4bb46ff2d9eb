// Package metrics holds the Prometheus collectors shared by the services and
// the HTTP layer. Collectors register with the default registry, which
// /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	Ingests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_ingests_total",
			Help: "Files ingested, by outcome.",
		},
		[]string{"outcome"},
	)

	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_retrievals_total",
			Help: "File retrievals, by outcome (ok, not_found, integrity, error).",
		},
		[]string{"outcome"},
	)

	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbox_stored_bytes_total",
		Help: "Encrypted bytes written to blob storage.",
	})

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbox_pipeline_duration_seconds",
			Help:    "Duration of ingest and retrieve operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	OrphanedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbox_orphaned_blobs_total",
		Help: "Blobs left behind because the catalog write and the cleanup delete both failed.",
	})

	SharesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbox_shares_issued_total",
		Help: "Share links issued.",
	})

	ShareRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_share_redemptions_total",
			Help: "Shared download attempts, by outcome (ok, rejected, error).",
		},
		[]string{"outcome"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_reconcile_runs_total",
			Help: "Reconciliation passes, by outcome.",
		},
		[]string{"outcome"},
	)

	ReconcileIssues = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sealbox_reconcile_issues",
			Help: "Issues found by the last reconciliation pass, by type.",
		},
		[]string{"type"},
	)

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sealbox_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbox_http_requests_total",
			Help: "HTTP requests, by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbox_http_request_duration_seconds",
			Help:    "HTTP request duration, by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
