package runner

import "github.com/prometheus/client_golang/prometheus"

// FramesDroppedNoObserver exposes the drop counter for frames reported with no observer.
func FramesDroppedNoObserver() prometheus.Counter {
	return framesDropped.WithLabelValues(dropNoObserver)
}
