// Package metrics holds the prometheus collectors shared by the relay pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sinkcam"

var (
	// Buffer pools.
	poolReallocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "reallocations_total",
		Help:      "Buffer pool rings created, including rebuilds after a format change",
	}, []string{"pool"})

	poolExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "exhausted_total",
		Help:      "Allocations refused because every buffer in the ring was in use",
	}, []string{"pool"})

	// Conversion.
	conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "conversion",
		Name:      "duration_seconds",
		Help:      "Time from job creation to readback for pixel format conversions",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"kind"})

	conversionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conversion",
		Name:      "errors_total",
		Help:      "Failed pixel format conversions",
	}, []string{"kind"})

	// Relay.
	framesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "frames_relayed_total",
		Help:      "Producer frames forwarded to consumers",
	})

	framesSynthetic = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "frames_synthetic_total",
		Help:      "Placeholder frames pushed while no producer frame was available",
	})

	pullErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "pull_errors_total",
		Help:      "Failed producer pulls by reason",
	}, []string{"reason"})

	pushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "push_errors_total",
		Help:      "Failed consumer pushes",
	}, []string{"consumer"})

	relayState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "state",
		Help:      "1 for the relay's current state, 0 otherwise",
	}, []string{"state"})

	// Activation.
	observers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "activation",
		Name:      "observers",
		Help:      "Consumers currently observing the relay",
	})

	// Transport.
	sinkSamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "samples_dropped_total",
		Help:      "Producer samples dropped because the sink queue was full or the format mismatched",
	}, []string{"reason"})
)

// relayStates lists every label value the state gauge uses.
var relayStates = []string{"idle", "waiting", "streaming", "error"}

// IncPoolReallocation records a new buffer ring for pool.
func IncPoolReallocation(pool string) {
	poolReallocations.WithLabelValues(pool).Inc()
}

// IncPoolExhausted records a refused allocation for pool.
func IncPoolExhausted(pool string) {
	poolExhausted.WithLabelValues(pool).Inc()
}

// ObserveConversion records a successful conversion.
func ObserveConversion(kind string, seconds float64) {
	conversionDuration.WithLabelValues(kind).Observe(seconds)
}

// IncConversionError records a failed conversion.
func IncConversionError(kind string) {
	conversionErrors.WithLabelValues(kind).Inc()
}

// IncFramesRelayed records a forwarded producer frame.
func IncFramesRelayed() {
	framesRelayed.Inc()
}

// IncFramesSynthetic records a pushed placeholder frame.
func IncFramesSynthetic() {
	framesSynthetic.Inc()
}

// IncPullError records a failed producer pull.
func IncPullError(reason string) {
	pullErrors.WithLabelValues(reason).Inc()
}

// IncPushError records a failed consumer push.
func IncPushError(consumer string) {
	pushErrors.WithLabelValues(consumer).Inc()
}

// SetRelayState marks state as current and clears the others.
func SetRelayState(state string) {
	for _, s := range relayStates {
		if s == state {
			relayState.WithLabelValues(s).Set(1)
		} else {
			relayState.WithLabelValues(s).Set(0)
		}
	}
}

// SetObservers records the current observer count.
func SetObservers(n int) {
	observers.Set(float64(n))
}

// IncSinkDropped records a dropped producer sample.
func IncSinkDropped(reason string) {
	sinkSamplesDropped.WithLabelValues(reason).Inc()
}

// Handler returns the prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
