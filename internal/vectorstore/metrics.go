package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

var (
	// OperationDuration tracks backend call latency.
	// Labels: backend, operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediarag",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed operations.
	// Labels: backend, operation, kind (apperr kind)
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediarag",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation", "kind"},
	)

	// DocumentsInserted counts stored documents per collection.
	DocumentsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediarag",
			Subsystem: "vectorstore",
			Name:      "documents_inserted_total",
			Help:      "Total number of documents inserted",
		},
		[]string{"collection"},
	)

	// DocumentsDeleted counts documents removed by bulk deletes.
	DocumentsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediarag",
			Subsystem: "vectorstore",
			Name:      "documents_deleted_total",
			Help:      "Total number of documents removed by bulk delete",
		},
		[]string{"collection"},
	)

	// SearchHits tracks how many hits a search returns.
	SearchHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediarag",
			Subsystem: "vectorstore",
			Name:      "search_hits",
			Help:      "Number of hits returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
		[]string{"collection"},
	)
)

// observe records one backend call.
func observe(backend, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(backend, operation, string(apperr.KindOf(err))).Inc()
	}
}
