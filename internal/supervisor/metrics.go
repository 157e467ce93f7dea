package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	framesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filterd_supervisor_frames_persisted_total",
		Help: "Frame records written to the store.",
	})

	persistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filterd_supervisor_persist_errors_total",
		Help: "Frame or run records that could not be written.",
	})

	brokerDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filterd_supervisor_broker_dropped_total",
		Help: "Frame messages dropped for slow stream subscribers.",
	})
)

func init() {
	prometheus.MustRegister(framesPersisted)
	prometheus.MustRegister(persistErrors)
	prometheus.MustRegister(brokerDropped)
}
