package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ressKim-io/leafscan/internal/domain/service"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leafscan_uploads_total",
		Help: "Number of classification uploads by outcome",
	}, []string{"outcome"})

	uploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leafscan_upload_duration_seconds",
		Help:    "Time spent waiting for the classification API",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"outcome"})

	uploadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leafscan_uploads_in_flight",
		Help: "Number of uploads currently waiting for the classification API",
	})

	labelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leafscan_labels_total",
		Help: "Number of classifications by returned label",
	}, []string{"label"})
)

// Labels come from the classification API. Past maxLabels distinct values
// they are counted under otherLabel.
const (
	maxLabels  = 32
	otherLabel = "other"
)

type recorder struct {
	mu        sync.Mutex
	labels    map[string]struct{}
	maxLabels int
}

// NewRecorder returns UploadMetrics backed by the default prometheus registry
func NewRecorder() service.UploadMetrics {
	return newRecorder(maxLabels)
}

func newRecorder(limit int) *recorder {
	return &recorder{labels: make(map[string]struct{}), maxLabels: limit}
}

func (r *recorder) UploadStarted() {
	uploadsInFlight.Inc()
}

// UploadFinished counts the label only for results that reached the page
func (r *recorder) UploadFinished(outcome, label string, elapsed time.Duration) {
	uploadsInFlight.Dec()
	uploadsTotal.WithLabelValues(outcome).Inc()
	uploadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == service.OutcomeSucceeded && label != "" {
		labelsTotal.WithLabelValues(r.bucket(label)).Inc()
	}
}

func (r *recorder) bucket(label string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.labels[label]; ok {
		return label
	}
	if len(r.labels) >= r.maxLabels {
		return otherLabel
	}
	r.labels[label] = struct{}{}
	return label
}
