// Package metrics registers the prometheus metrics of the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Ingest = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_ingest_total",
			Help: "Messages passed through the ingestion pipeline.",
		},
		[]string{
			"outcome", // "inserted", "skipped", "failed"
		},
	)
	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_sessions_total",
			Help: "Mailbox transport sessions opened.",
		},
		[]string{
			"result", // "ok", "error"
		},
	)
	Drains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_drains_total",
			Help: "Fetch-and-ingest passes, by trigger.",
		},
		[]string{
			"trigger", // "backfill", "push", "timer"
		},
	)
	SweepDocuments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxsync_sweep_documents_total",
			Help: "Unprocessed documents classified by the catch-up sweeper.",
		},
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_notifications_total",
			Help: "Notifications for interested mail.",
		},
		[]string{
			"result", // "ok", "error"
		},
	)
	ClassifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inboxsync_classify_duration_seconds",
			Help:    "Classifier call duration.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{
			"result", // "ok", "error"
		},
	)
)

// Result maps an error to a "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
