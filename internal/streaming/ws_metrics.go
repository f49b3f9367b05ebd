package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sinkcam",
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Open websocket connections by role",
	}, []string{"role"})

	wsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sinkcam",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Frames carried over websockets by direction",
	}, []string{"direction"})

	wsBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sinkcam",
		Subsystem: "websocket",
		Name:      "bytes_total",
		Help:      "Frame bytes carried over websockets by direction",
	}, []string{"direction"})
)

func connOpened(role string) {
	wsConnections.WithLabelValues(role).Inc()
}

func connClosed(role string) {
	wsConnections.WithLabelValues(role).Dec()
}

// countFrame records one frame of n bytes. direction is "in" or "out".
func countFrame(direction string, n int) {
	wsFrames.WithLabelValues(direction).Inc()
	wsBytes.WithLabelValues(direction).Add(float64(n))
}
