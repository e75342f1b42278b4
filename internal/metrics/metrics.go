// Package metrics exposes Prometheus counters for backup engine outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

var (
	// BackupOperationsTotal counts engine operations by kind and outcome.
	BackupOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenaz_backup_operations_total",
			Help: "Total backup engine operations by operation and status",
		},
		[]string{"operation", "status"}, // create, list, delete, sync, restore, export, import
	)

	MediaFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenaz_backup_media_fetch_total",
			Help: "Media references resolved during backup",
		},
		[]string{"result"}, // fetched, failed, inline, unsupported
	)

	RestoreNotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenaz_backup_restore_notes_total",
			Help: "Notes processed by restore",
		},
		[]string{"result"}, // created, skipped_duplicate, failed
	)

	SyncEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenaz_backup_sync_entries_total",
			Help: "Local cache entries processed by sync",
		},
		[]string{"result"}, // removed, promoted, retained
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kenaz_backup_create_duration_seconds",
			Help:    "Time to build and persist a backup",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)
)

// Operation records one operation outcome.
func Operation(op, status string) {
	BackupOperationsTotal.WithLabelValues(op, status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
