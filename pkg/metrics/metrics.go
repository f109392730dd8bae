package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntakeFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "intake_files_total",
		Help:      "Files seen by the watcher, by outcome (inserted, duplicate, unsupported, error)",
	}, []string{"outcome"})

	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "claims_total",
		Help:      "Claim attempts by result (won, lost)",
	}, []string{"result"})

	PhotoOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "photo_outcomes_total",
		Help:      "Terminal photo statuses written by workers",
	}, []string{"status"})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceforward",
		Name:      "processing_duration_seconds",
		Help:      "Duration of photo processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	PersonsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "persons_created_total",
		Help:      "Persons created by identification",
	})

	RecoveredPhotos = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "recovered_photos_total",
		Help:      "Orphaned processing rows handled by recovery (reset, stuck)",
	}, []string{"result"})

	CloudCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "cloud_calls_total",
		Help:      "Remote storage calls by operation and result kind",
	}, []string{"op", "result"})

	CloudUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "cloud_uploads_total",
		Help:      "Mirror uploads by result (uploaded, skipped, failed)",
	}, []string{"result"})

	WipeItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "wipe_items_total",
		Help:      "Remote items handled during wipes (trashed, kept, skipped, failed)",
	}, []string{"result"})

	PhotosByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "faceforward",
		Name:      "photos",
		Help:      "Photos per status, refreshed by the stats snapshot job",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceforward",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceforward",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the API rate limiter",
	})
)
