package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	responseBytes     *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	pipelineResults   *prometheus.CounterVec
	pipelineDuration  *prometheus.HistogramVec
	outputFormats     *prometheus.CounterVec
	bytesSaved        prometheus.Counter
	pixelsProcessed   prometheus.Counter
	activeTransforms  prometheus.Gauge
	archiveResults    *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_api_response_bytes",
			Help:    "Response body size by route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"route"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		pipelineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_pipeline_results_total",
			Help: "Pipeline runs by route and outcome (ok or error kind).",
		}, []string{"route", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_pipeline_duration_seconds",
			Help:    "Time spent in the transform pipeline.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		outputFormats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_pipeline_output_format_total",
			Help: "Successful pipeline runs by output format.",
		}, []string{"format"}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_pipeline_bytes_saved_total",
			Help: "Bytes saved across successful runs; growth counts as zero.",
		}),
		pixelsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_pipeline_pixels_processed_total",
			Help: "Output pixels produced across successful runs.",
		}),
		activeTransforms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpress_pipeline_active_transforms",
			Help: "Transforms currently holding a processing slot.",
		}),
		archiveResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_archive_results_total",
			Help: "Archive attempts by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.responseBytes,
		m.rateLimitRejected,
		m.pipelineResults,
		m.pipelineDuration,
		m.outputFormats,
		m.bytesSaved,
		m.pixelsProcessed,
		m.activeTransforms,
		m.archiveResults,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.responseBytes.WithLabelValues(route).Observe(float64(recorder.written))
	})
}

func (m *metrics) observePipeline(route string, res domain.CompressionResult, err error, elapsed time.Duration) {
	m.pipelineDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	if err != nil {
		outcome := domain.KindOf(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			outcome = "timeout"
		}
		m.pipelineResults.WithLabelValues(route, outcome).Inc()
		return
	}

	m.pipelineResults.WithLabelValues(route, "ok").Inc()
	m.outputFormats.WithLabelValues(res.OutputFormat.String()).Inc()
	m.pixelsProcessed.Add(float64(res.Width) * float64(res.Height))
	if saved := res.OriginalSize - res.OptimizedSize; saved > 0 {
		m.bytesSaved.Add(float64(saved))
	}
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel keeps metric and span cardinality bounded to the known routes.
func routeLabel(path string) string {
	switch path {
	case "/optimize", "/resize", "/optimize-binary", "/healthz", "/metrics", "/usage":
		return path
	default:
		return "unmatched"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}
