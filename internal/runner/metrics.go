package runner

import "github.com/prometheus/client_golang/prometheus"

// Reasons a reported frame never reached an observer.
const (
	dropNoRun      = "no_run"
	dropNoObserver = "no_observer"
	dropAtDispatch = "unobserved_at_dispatch"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_runner_runs_total",
			Help: "Total number of finished graph runs by outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filterd_runner_run_duration_seconds",
			Help:    "Wall time from Run to the worker posting its completion, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filterd_runner_active_workers",
			Help: "Number of worker goroutines currently driving an engine.",
		},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_runner_steps_total",
			Help: "Total number of engine steps by returned status.",
		},
		[]string{"status"},
	)

	framesForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filterd_runner_frames_forwarded_total",
			Help: "Frames retained and queued for the launcher.",
		},
	)

	framesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filterd_runner_frames_delivered_total",
			Help: "Frames handed to the frame observer.",
		},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_runner_frames_dropped_total",
			Help: "Frames reported by an engine that no observer received.",
		},
		[]string{"reason"},
	)

	eventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filterd_runner_event_queue_depth",
			Help: "Events posted by the worker and not yet dispatched.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(framesForwarded)
	prometheus.MustRegister(framesDelivered)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(eventQueueDepth)

	for _, reason := range []string{dropNoRun, dropNoObserver, dropAtDispatch} {
		framesDropped.WithLabelValues(reason)
	}
	for _, o := range []Outcome{OutcomeCompleted, OutcomeStopped} {
		runsTotal.WithLabelValues(o.String())
	}
}
