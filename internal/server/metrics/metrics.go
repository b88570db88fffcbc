// Package metrics declares the Prometheus collectors of the movie image
// service and small helpers to record into them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// ImageOperationsTotal counts coordinator operations by outcome.
	ImageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "images",
			Name:      "operations_total",
			Help:      "Total image lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	// CompensationsTotal counts remote deletes issued to undo an upload
	// whose record could not be stored.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "images",
			Name:      "compensations_total",
			Help:      "Total compensating remote deletes",
		},
		[]string{"status"},
	)

	ProviderOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "media_provider",
			Name:      "operations_total",
			Help:      "Total media provider operations",
		},
		[]string{"operation", "status"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "movies",
			Subsystem: "media_provider",
			Name:      "duration_seconds",
			Help:      "Media provider operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "media_provider",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"format"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result (hit, miss, error)",
		},
		[]string{"entry", "result"},
	)

	OrphanSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "reconciler",
			Name:      "sweeps_total",
			Help:      "Total orphan sweeps by outcome (success, error, skipped)",
		},
		[]string{"status"},
	)

	OrphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "movies",
			Subsystem: "reconciler",
			Name:      "orphans_removed_total",
			Help:      "Total orphan image records removed",
		},
	)

	OrphanSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "movies",
			Subsystem: "reconciler",
			Name:      "sweep_duration_seconds",
			Help:      "Orphan sweep duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 120},
		},
	)
)

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordImageOperation records one coordinator operation.
func RecordImageOperation(operation string, err error) {
	ImageOperationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordCompensation records a compensating delete.
func RecordCompensation(err error) {
	CompensationsTotal.WithLabelValues(status(err)).Inc()
}

// RecordProviderOperation records a media provider call.
func RecordProviderOperation(operation string, err error, durationSec float64) {
	ProviderOperationsTotal.WithLabelValues(operation, status(err)).Inc()
	ProviderDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordUploadBytes records the size of a stored asset.
func RecordUploadBytes(format string, bytes int64) {
	UploadBytesTotal.WithLabelValues(format).Add(float64(bytes))
}

// RecordCache records a cache lookup result for an entry kind.
func RecordCache(entry, result string) {
	CacheRequestsTotal.WithLabelValues(entry, result).Inc()
}

// RecordSweep records one reconciler cycle.
func RecordSweep(status string, removed int, durationSec float64) {
	OrphanSweepsTotal.WithLabelValues(status).Inc()
	if removed > 0 {
		OrphansRemovedTotal.Add(float64(removed))
	}
	OrphanSweepDuration.Observe(durationSec)
}
