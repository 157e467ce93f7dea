package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/filterd/internal/runner"
	"github.com/seantiz/filterd/internal/supervisor"
)

const (
	unmatched = "unmatched"
	// scrapeTimeout bounds how long a scrape waits for the launcher.
	scrapeTimeout = time.Second
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filterd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds. Frame streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// metricsMiddleware counts requests by chi route pattern. Durations of SSE
// streams measure how long a client watched a run, so they stay out of the
// latency histogram.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// supervisorCollector reports the launcher's view of the controller on each
// scrape. The snapshot is taken on the launcher goroutine, so a wedged
// launcher shows up as filterd_launcher_up 0 instead of a hung scrape.
type supervisorCollector struct {
	sup *supervisor.Supervisor

	up             *prometheus.Desc
	runActive      *prometheus.Desc
	pendingEvents  *prometheus.Desc
	liveFrames     *prometheus.Desc
	gpuActive      *prometheus.Desc
	gpuActivations *prometheus.Desc
	gpuViolations  *prometheus.Desc
	liveTopics     *prometheus.Desc
	subscribers    *prometheus.Desc
}

func newSupervisorCollector(sup *supervisor.Supervisor) *supervisorCollector {
	return &supervisorCollector{
		sup:            sup,
		up:             prometheus.NewDesc("filterd_launcher_up", "Whether the launcher goroutine answered the scrape.", nil, nil),
		runActive:      prometheus.NewDesc("filterd_controller_run_active", "Whether a graph run is in progress.", nil, nil),
		pendingEvents:  prometheus.NewDesc("filterd_controller_pending_events", "Worker events waiting for the launcher.", nil, nil),
		liveFrames:     prometheus.NewDesc("filterd_frames_live", "Pooled frames currently checked out.", nil, nil),
		gpuActive:      prometheus.NewDesc("filterd_gpu_context_active", "Whether some thread holds the GPU context.", nil, nil),
		gpuActivations: prometheus.NewDesc("filterd_gpu_context_activations_total", "Successful GPU context activations.", nil, nil),
		gpuViolations:  prometheus.NewDesc("filterd_gpu_context_violations_total", "GPU context calls that broke exclusive ownership.", nil, nil),
		liveTopics:     prometheus.NewDesc("filterd_stream_live_runs", "Runs with an open frame stream topic.", nil, nil),
		subscribers:    prometheus.NewDesc("filterd_stream_subscribers", "Clients subscribed to live frame streams.", nil, nil),
	}
}

func (c *supervisorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.runActive
	ch <- c.pendingEvents
	ch <- c.liveFrames
	ch <- c.gpuActive
	ch <- c.gpuActivations
	ch <- c.gpuViolations
	ch <- c.liveTopics
	ch <- c.subscribers
}

func (c *supervisorCollector) Collect(ch chan<- prometheus.Metric) {
	broker := c.sup.Broker()
	ch <- prometheus.MustNewConstMetric(c.liveTopics, prometheus.GaugeValue, float64(broker.Topics()))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(broker.Subscribers()))

	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	st, err := c.sup.Status(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.runActive, prometheus.GaugeValue, boolValue(st.State == runner.StateRunning.String()))
	ch <- prometheus.MustNewConstMetric(c.pendingEvents, prometheus.GaugeValue, float64(st.PendingEvents))
	ch <- prometheus.MustNewConstMetric(c.liveFrames, prometheus.GaugeValue, float64(st.LiveFrames))
	ch <- prometheus.MustNewConstMetric(c.gpuActive, prometheus.GaugeValue, boolValue(st.GPUActive))
	ch <- prometheus.MustNewConstMetric(c.gpuActivations, prometheus.CounterValue, float64(st.GPUActivations))
	ch <- prometheus.MustNewConstMetric(c.gpuViolations, prometheus.CounterValue, float64(st.GPUViolations))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// metricsHandler serves the process-wide metrics together with the ones
// collected for this server's supervisor.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{})
}
