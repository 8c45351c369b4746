package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crosscheck"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConflictsDetected    *prometheus.CounterVec
	ConflictsPersisted   prometheus.Counter
	DetectorFailures     *prometheus.CounterVec
	DetectionDuration    prometheus.Histogram
	ShelfRequestsCreated prometheus.Counter

	Classifications        *prometheus.CounterVec
	ClassificationFailures prometheus.Counter
	MergeFailures          prometheus.Counter

	SchedulerRuns *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConflictsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detection",
				Name:      "conflicts_detected_total",
				Help:      "Candidate conflicts found by detectors, before deduplication",
			},
			[]string{"mismatch_type"},
		),
		ConflictsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "conflicts_persisted_total",
			Help:      "New conflict objects written to the store",
		}),
		DetectorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detection",
				Name:      "detector_failures_total",
				Help:      "Detector runs that failed to query the graph",
			},
			[]string{"mismatch_type"},
		),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full detection run",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		ShelfRequestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "shelf_requests_created_total",
			Help:      "Evidence requests raised for control gaps",
		}),
		Classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "classifier",
				Name:      "classifications_total",
				Help:      "Conflicts classified, by resolution type",
			},
			[]string{"resolution_type"},
		),
		ClassificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "save_failures_total",
			Help:      "Classifications that could not be saved and stay unclassified",
		}),
		MergeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "merge_failures_total",
			Help:      "Naming variant merges that failed in the graph",
		}),
		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Scheduled engagement runs, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) ObserveDetected(mismatchType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ConflictsDetected.WithLabelValues(mismatchType).Add(float64(n))
}

func (m *Metrics) ObserveDetectorFailure(mismatchType string) {
	if m == nil {
		return
	}
	m.DetectorFailures.WithLabelValues(mismatchType).Inc()
}

func (m *Metrics) ObservePersisted(conflicts, shelfRequests int) {
	if m == nil {
		return
	}
	m.ConflictsPersisted.Add(float64(conflicts))
	m.ShelfRequestsCreated.Add(float64(shelfRequests))
}

func (m *Metrics) ObserveDetectionRun(started time.Time) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveClassification(resolutionType string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(resolutionType).Inc()
}

func (m *Metrics) ObserveClassificationFailure() {
	if m == nil {
		return
	}
	m.ClassificationFailures.Inc()
}

func (m *Metrics) ObserveMergeFailure() {
	if m == nil {
		return
	}
	m.MergeFailures.Inc()
}

func (m *Metrics) ObserveSchedulerRun(outcome string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(outcome).Inc()
}
