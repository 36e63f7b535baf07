// Package metrics provides Prometheus metrics for storage and definition activity.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Archive load results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

var (
	archiveLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packfs_archive_loads_total",
			Help: "Total number of archive loads by result",
		},
		[]string{"result"},
	)

	archiveEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packfs_archive_entries",
			Help:    "Number of entries in accepted archives",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	bytesDecompressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packfs_bytes_decompressed_total",
			Help: "Total bytes decompressed from archive entries",
		},
	)

	contentLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packfs_content_loads_total",
			Help: "Total number of file content loads by status",
		},
		[]string{"status"},
	)

	contentSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packfs_content_saves_total",
			Help: "Total number of file content saves by status",
		},
		[]string{"status"},
	)

	writesAvoidedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packfs_writes_avoided_total",
			Help: "Content updates skipped because the new content was structurally identical",
		},
	)

	managerLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packfs_manager_loads_total",
			Help: "Total number of definition manager loads by result",
		},
		[]string{"result"},
	)

	managerInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packfs_manager_invalidations_total",
			Help: "Managers reset because their file was updated from elsewhere",
		},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordArchiveLoad records an archive load outcome and, when accepted, its entry count.
func RecordArchiveLoad(result string, entries int) {
	archiveLoadsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		archiveEntries.Observe(float64(entries))
	}
}

// RecordDecompressed records bytes inflated from an archive.
func RecordDecompressed(n int) {
	bytesDecompressed.Add(float64(n))
}

// RecordContentLoad records a file content fetch.
func RecordContentLoad(success bool) {
	contentLoadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordContentSave records a flush to the backing medium.
func RecordContentSave(success bool) {
	contentSavesTotal.WithLabelValues(status(success)).Inc()
}

// RecordWriteAvoided records a structurally identical SetContent.
func RecordWriteAvoided() {
	writesAvoidedTotal.Inc()
}

// RecordManagerLoad records a definition manager load.
func RecordManagerLoad(success bool) {
	managerLoadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordManagerInvalidation records a manager reset by an external update.
func RecordManagerInvalidation() {
	managerInvalidationsTotal.Inc()
}

// WriteText writes every registered metric family in the Prometheus text format.
func WriteText(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("write metric %s: %w", family.GetName(), err)
		}
	}

	return nil
}
