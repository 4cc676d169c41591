// Package metrics defines custom Prometheus metrics for modelgate.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Upload protocol metrics.
var (
	// ChunksReceivedTotal counts accepted chunk uploads.
	ChunksReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_chunks_received_total",
			Help: "Chunk uploads accepted",
		},
	)

	// ChunkBytesReceivedTotal counts total accepted chunk payload bytes.
	ChunkBytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_chunk_bytes_received_total",
			Help: "Chunk payload bytes accepted",
		},
	)

	// ChunkRejectionsTotal counts rejected chunk uploads by reason.
	ChunkRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_chunk_rejections_total",
			Help: "Chunk uploads rejected, by reason",
		},
		[]string{"reason"},
	)

	// SessionResetsTotal counts metadata submissions that replaced a session.
	SessionResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_session_resets_total",
			Help: "Upload sessions created or replaced",
		},
	)
)

// Materialization metrics.
var (
	// BatchesProcessedTotal counts continue calls that applied at least one chunk.
	BatchesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_init_batches_processed_total",
			Help: "Materialization batches applied",
		},
	)

	// ChunksProcessedTotal counts chunks consumed during materialization.
	ChunksProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_init_chunks_processed_total",
			Help: "Chunks consumed during materialization",
		},
	)

	// InitFailuresTotal counts batches that transitioned the machine to failed.
	InitFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_init_failures_total",
			Help: "Materialization batch failures",
		},
	)

	// VerificationsTotal counts integrity verifications by result.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_verifications_total",
			Help: "Artifact integrity verifications, by result",
		},
		[]string{"result"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			ChunksReceivedTotal,
			ChunkBytesReceivedTotal,
			ChunkRejectionsTotal,
			SessionResetsTotal,
			BatchesProcessedTotal,
			ChunksProcessedTotal,
			InitFailuresTotal,
			VerificationsTotal,
		)
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from per-chunk URLs.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json", "/", "":
		if path == "" {
			return "/"
		}
		return path
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/v1/model/chunks/") {
		return "/v1/model/chunks/{index}"
	}
	return path
}
