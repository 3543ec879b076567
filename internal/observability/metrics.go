package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exported by coldvault.
type Metrics struct {
	// Archive operation metrics
	ArchiveOperationsTotal *prometheus.CounterVec
	ArchivesActive         prometheus.Gauge
	ArchiveDuration        *prometheus.HistogramVec
	BytesOriginalTotal     prometheus.Counter
	BytesStoredTotal       prometheus.Counter
	ChunksWrittenTotal     prometheus.Counter
	ChunksDedupedTotal     prometheus.Counter

	// Remote repository connection metrics
	QUICConnectionsTotal   *prometheus.CounterVec
	QUICConnectionsActive  prometheus.Gauge
	QUICConnectionDuration prometheus.Histogram
	QUICStreamsActive      prometheus.Gauge

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram
	TAMVerificationsTotal   *prometheus.CounterVec

	// Storage metrics
	LivenessBitmapPersistDuration prometheus.Histogram
	DatabaseOperationsTotal       *prometheus.CounterVec
	RepositorySizeBytes           prometheus.Gauge
	CompactionReclaimedBytesTotal prometheus.Counter

	activeArchives int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ArchiveOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_archive_operations_total",
				Help: "Archive operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),

		ArchivesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coldvault_archives_active",
				Help: "Currently running archive operations",
			},
		),

		ArchiveDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coldvault_archive_duration_seconds",
				Help:    "Archive operation completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"operation"},
		),

		BytesOriginalTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_bytes_original_total",
				Help: "Total uncompressed bytes seen by archive create",
			},
		),

		BytesStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_bytes_stored_total",
				Help: "Total bytes written to the repository after dedup and compression",
			},
		),

		ChunksWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_chunks_written_total",
				Help: "Total new chunks written to the repository",
			},
		),

		ChunksDedupedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_chunks_deduped_total",
				Help: "Total chunks that already existed and were skipped",
			},
		),

		QUICConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_quic_connections_total",
				Help: "Remote repository connection attempts",
			},
			[]string{"result"},
		),

		QUICConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coldvault_quic_connections_active",
				Help: "Active remote repository connections",
			},
		),

		QUICConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coldvault_quic_connection_duration_seconds",
				Help:    "Remote repository connection lifetime",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 1800},
			},
		),

		QUICStreamsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coldvault_quic_streams_active",
				Help: "Active RPC streams to remote repositories",
			},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coldvault_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		TAMVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_tam_verifications_total",
				Help: "Manifest authentication (TAM) verifications",
			},
			[]string{"result"},
		),

		LivenessBitmapPersistDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coldvault_liveness_bitmap_persist_duration_seconds",
				Help:    "Segment liveness bitmap persistence latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_database_operations_total",
				Help: "Cache database (bolt/sqlite) operation count",
			},
			[]string{"operation", "result"},
		),

		RepositorySizeBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coldvault_repository_size_bytes",
				Help: "On-disk size of the segment log",
			},
		),

		CompactionReclaimedBytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_compaction_reclaimed_bytes_total",
				Help: "Bytes reclaimed by repository compaction",
			},
		),
	}

	return m
}

// RecordArchiveStart increments the active-archive-operation gauge.
func (m *Metrics) RecordArchiveStart() {
	atomic.AddInt64(&m.activeArchives, 1)
	m.ArchivesActive.Set(float64(atomic.LoadInt64(&m.activeArchives)))
}

// RecordArchiveComplete records completion metrics for one archive operation.
func (m *Metrics) RecordArchiveComplete(operation string, success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeArchives, -1)
	m.ArchivesActive.Set(float64(atomic.LoadInt64(&m.activeArchives)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.ArchiveOperationsTotal.WithLabelValues(operation, status).Inc()
	m.ArchiveDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordChunkWritten updates metrics for a newly stored chunk.
func (m *Metrics) RecordChunkWritten(storedBytes int, originalBytes int) {
	m.ChunksWrittenTotal.Inc()
	m.BytesStoredTotal.Add(float64(storedBytes))
	m.BytesOriginalTotal.Add(float64(originalBytes))
}

// RecordChunkDeduped updates metrics for a chunk already present in the repository.
func (m *Metrics) RecordChunkDeduped(originalBytes int) {
	m.ChunksDedupedTotal.Inc()
	m.BytesOriginalTotal.Add(float64(originalBytes))
}

// RecordQUICConnection logs remote repository connection attempts.
func (m *Metrics) RecordQUICConnection(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.QUICConnectionsTotal.WithLabelValues(result).Inc()

	if success {
		m.QUICConnectionsActive.Inc()
	}
}

// RecordQUICConnectionClose updates metrics for a closed remote connection.
func (m *Metrics) RecordQUICConnectionClose(durationSeconds float64) {
	m.QUICConnectionsActive.Dec()
	m.QUICConnectionDuration.Observe(durationSeconds)
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordTAMVerification increments manifest-authentication verification counters.
func (m *Metrics) RecordTAMVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.TAMVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordCompaction records bytes reclaimed by a compaction pass.
func (m *Metrics) RecordCompaction(reclaimedBytes int64) {
	m.CompactionReclaimedBytesTotal.Add(float64(reclaimedBytes))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
