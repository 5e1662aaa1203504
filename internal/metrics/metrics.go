package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbu_sync_failed_total",
			Help: "Total number of failed sync passes",
		},
		[]string{"flow"},
	)

	syncSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbu_sync_succeeded_total",
			Help: "Total number of successful sync passes",
		},
		[]string{"flow"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbu_sync_duration_seconds",
			Help:    "Sync pass duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"flow"},
	)

	snapshotBuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbu_snapshot_builds_total",
			Help: "Total number of snapshot artifact builds",
		},
	)

	snapshotsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbu_snapshots_deleted_total",
			Help: "Total number of snapshots removed by the retention sweep",
		},
	)

	lastSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sbu_last_sync_end_timestamp",
			Help: "Unix timestamp of when the last sync pass ended",
		},
		[]string{"flow"},
	)
)

func SyncSucceeded(flow string, startTime time.Time) {
	syncSucceeded.WithLabelValues(flow).Inc()
	syncDuration.WithLabelValues(flow).Observe(time.Since(startTime).Seconds())
	lastSyncEnd.WithLabelValues(flow).SetToCurrentTime()
}

func SyncFailed(flow string) {
	syncFailed.WithLabelValues(flow).Inc()
	lastSyncEnd.WithLabelValues(flow).SetToCurrentTime()
}

func SnapshotBuilt() {
	snapshotBuilds.Inc()
}

func SnapshotsDeleted(n int) {
	snapshotsDeleted.Add(float64(n))
}
