package conflict

import (
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conflicts_detected",
		Help: "The number of conflicts that became active.",
	}, []string{"type", "severity"})

	detectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conflict_detection_seconds",
		Help:    "The time spent detecting the conflicts of an object.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	detectionResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conflict_detection_results",
		Help:    "The number of conflicts found by a detection.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conflict_cache_lookups",
		Help: "The number of detection cache lookups.",
	}, []string{"result"})

	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conflict_resolutions",
		Help: "The number of attempted conflict resolutions.",
	}, []string{"outcome"})

	indexDesyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conflict_index_desyncs",
		Help: "The number of operations that left or found the indices out of sync.",
	}, []string{"operation"})
)

func instrumentConflict(r *models.ConflictReport) {
	conflictsDetected.WithLabelValues(string(r.Type), string(r.Severity)).Inc()
}

func instrumentDetection(d time.Duration, reports []*models.ConflictReport) {
	detectionDuration.Observe(d.Seconds())
	detectionResults.Observe(float64(len(reports)))
}

func instrumentCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func instrumentResolution(outcome string) {
	resolutions.WithLabelValues(outcome).Inc()
}

func instrumentIndexDesync(op string) {
	indexDesyncs.WithLabelValues(op).Inc()
}
