// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "facepass"

var Enrollments = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "enrollment",
	Name:      "enrollments_total",
}, []string{"result"})

var SamplesStored = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "enrollment",
	Name:      "samples_stored_total",
})

var CaptureFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "capture",
	Name:      "frames_total",
}, []string{"result"})

var CacheBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "descriptors",
	Name:      "build_duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
})

var CacheSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "descriptors",
	Name:      "samples_total",
}, []string{"result"})

var RecognitionFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "recognition",
	Name:      "frames_total",
}, []string{"result"})

var RecognitionVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "recognition",
	Name:      "verdicts_total",
}, []string{"outcome"})

var ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "recognition",
	Name:      "active_sessions",
})

// Register adds all collectors to reg. Collectors already registered with reg are skipped.
func Register(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{
		Enrollments,
		SamplesStored,
		CaptureFrames,
		CacheBuildDuration,
		CacheSamples,
		RecognitionFrames,
		RecognitionVerdicts,
		ActiveSessions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
}
