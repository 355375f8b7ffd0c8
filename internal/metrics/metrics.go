package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_messages_ingested_total",
			Help: "Messages normalized and persisted.",
		},
		[]string{"account"},
	)
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_fetch_failures_total",
			Help: "Messages skipped because their fetch failed.",
		},
		[]string{"account"},
	)
	AccountAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_account_aborts_total",
			Help: "Account runs aborted before completion.",
		},
		[]string{
			"account",
			"kind", // connection, listing, persistence
		},
	)
	AccountSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsync_account_sync_seconds",
			Help:    "Duration of one account synchronization in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)
)
