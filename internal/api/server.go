package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/pixelpress/internal/compose"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/normalize"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const archiveTimeout = 30 * time.Second

type imageProcessor interface {
	Process(ctx context.Context, raw []byte, opts domain.TransformOptions) (domain.CompressionResult, error)
}

type outputArchiver interface {
	Store(ctx context.Context, requestID string, res domain.CompressionResult) (string, bool, error)
}

// Options wires a Server. Processor and Normalizer are required; everything
// else is optional.
type Options struct {
	Logger                 *log.Logger
	Processor              imageProcessor
	Normalizer             *normalize.Normalizer
	AllowedOrigins         []string
	RequestTimeout         time.Duration
	MaxActiveTransforms    int
	RateLimiter            RateLimiter
	RateLimitUserHeader    string
	RateLimitBytesPerToken int64
	Usage                  store.UsageStore
	Archiver               outputArchiver
}

type Server struct {
	logger                 *log.Logger
	processor              imageProcessor
	normalizer             *normalize.Normalizer
	cors                   corsPolicy
	requestTimeout         time.Duration
	slots                  *semaphore.Weighted
	rateLimiter            RateLimiter
	rateLimitUserIDHeader  string
	rateLimitBytesPerToken int64
	usage                  store.UsageStore
	archiver               outputArchiver
	metrics                *metrics
	tracer                 trace.Tracer
	mux                    *http.ServeMux
	handler                http.Handler
	background             sync.WaitGroup
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lmsgprefix)
	}
	usage := opts.Usage
	if usage == nil {
		usage = store.NewMemoryUsageStore()
	}
	userHeader := strings.TrimSpace(opts.RateLimitUserHeader)
	if userHeader == "" {
		userHeader = "X-User-ID"
	}

	s := &Server{
		logger:                 logger,
		processor:              opts.Processor,
		normalizer:             opts.Normalizer,
		cors:                   newCORSPolicy(opts.AllowedOrigins),
		requestTimeout:         opts.RequestTimeout,
		slots:                  semaphore.NewWeighted(int64(max(1, opts.MaxActiveTransforms))),
		rateLimiter:            opts.RateLimiter,
		rateLimitUserIDHeader:  userHeader,
		rateLimitBytesPerToken: opts.RateLimitBytesPerToken,
		usage:                  usage,
		archiver:               opts.Archiver,
		metrics:                newMetrics(),
		tracer:                 otel.Tracer("pixelpress/api"),
		mux:                    http.NewServeMux(),
	}
	s.routes()

	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = withRequestID(h)
	h = s.withCORS(h)
	s.handler = h
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close waits for background archive uploads to finish.
func (s *Server) Close() {
	s.background.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /optimize", s.handleOptimize)
	s.mux.HandleFunc("POST /resize", s.handleResize)
	s.mux.HandleFunc("POST /optimize-binary", s.handleOptimizeBinary)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /usage", s.handleUsage)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, compose.ErrorBody{Error: "Not Found"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.usage.Summary(r.Context())
	if err != nil {
		s.logger.Printf("usage summary failed request_id=%s err=%v", requestIDFrom(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, compose.ErrorBody{Error: "failed to load usage"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleOptimize serves multipart uploads with a binary response and any
// other body as the structured JSON path.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if normalize.IsMultipart(r.Header.Get("Content-Type")) {
		s.serveMultipart(w, r, false)
		return
	}

	body, err := normalize.ReadBody(r.Body, s.normalizer.BodyLimit())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.normalizer.FromStructured(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, ok := s.transform(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, compose.Structured(res))
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	if !normalize.IsMultipart(r.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusBadRequest, compose.ErrorBody{Error: "Content-Type must be multipart/form-data"})
		return
	}
	s.serveMultipart(w, r, true)
}

func (s *Server) handleOptimizeBinary(w http.ResponseWriter, r *http.Request) {
	body, err := normalize.ReadBody(r.Body, int64(s.normalizer.MaxImageBytes()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.normalizer.FromRaw(body, r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, ok := s.transform(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, compose.Structured(res))
}

func (s *Server) serveMultipart(w http.ResponseWriter, r *http.Request, withResize bool) {
	req, err := s.normalizer.FromMultipart(r.Header.Get("Content-Type"), r.Body, r.URL.Query(), withResize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, ok := s.transform(w, r, req)
	if !ok {
		return
	}
	if err := compose.NewBinary(res).Write(w); err != nil {
		s.logger.Printf("write binary response failed request_id=%s err=%v", requestIDFrom(r.Context()), err)
	}
}

// transform runs the pipeline and the post-success hooks. On failure the
// error response has been written and ok is false.
func (s *Server) transform(w http.ResponseWriter, r *http.Request, req normalize.Request) (domain.CompressionResult, bool) {
	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	route := routeLabel(r.URL.Path)
	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.writeError(w, r, fmt.Errorf("waiting for a transform slot: %w", err))
		return domain.CompressionResult{}, false
	}
	s.metrics.activeTransforms.Inc()
	start := time.Now()
	res, err := s.processor.Process(ctx, req.Image, req.Options)
	elapsed := time.Since(start)
	s.metrics.activeTransforms.Dec()
	s.slots.Release(1)
	s.metrics.observePipeline(route, res, err, elapsed)
	if err != nil {
		s.writeError(w, r, err)
		return domain.CompressionResult{}, false
	}

	requestID := requestIDFrom(r.Context())
	s.logger.Printf("optimized request_id=%s route=%s path=%s format=%s->%s size=%s->%s ratio=%.1f%% quality=%d duration=%s",
		requestID, route, req.Path, res.OriginalFormat, res.OutputFormat,
		humanize.Bytes(uint64(res.OriginalSize)), humanize.Bytes(uint64(res.OptimizedSize)),
		res.CompressionRatio, res.QualityUsed, elapsed.Round(time.Millisecond))

	usage := domain.NewUsageLog(requestID, route, res, elapsed.Milliseconds(), time.Now())
	if err := s.usage.Record(r.Context(), usage); err != nil {
		s.logger.Printf("record usage failed request_id=%s err=%v", requestID, err)
	}
	s.archive(r.Context(), requestID, res)
	return res, true
}

func (s *Server) archive(ctx context.Context, requestID string, res domain.CompressionResult) {
	if s.archiver == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()

		key, uploaded, err := s.archiver.Store(ctx, requestID, res)
		if err != nil {
			s.metrics.archiveResults.WithLabelValues("error").Inc()
			s.logger.Printf("archive failed request_id=%s key=%s err=%v", requestID, key, err)
			return
		}
		if uploaded {
			s.metrics.archiveResults.WithLabelValues("uploaded").Inc()
		} else {
			s.metrics.archiveResults.WithLabelValues("exists").Inc()
		}
	}()
}

// writeError maps every pipeline failure to 400 with its message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = "timeout"
	}
	s.logger.Printf("request failed request_id=%s route=%s kind=%s err=%v",
		requestIDFrom(r.Context()), routeLabel(r.URL.Path), kind, err)
	writeJSON(w, http.StatusBadRequest, compose.ErrorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
