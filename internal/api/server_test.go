package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dunamismax/pixelpress/internal/compose"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/normalize"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/redis/go-redis/v9"
)

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, data []byte) (string, *bytes.Buffer) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(normalize.FileField, "upload.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return writer.FormDataContentType(), &body
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *store.MemoryUsageStore) {
	t.Helper()

	processor, err := pipeline.NewProcessor(pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}
	usage := store.NewMemoryUsageStore()
	opts := Options{
		Logger:         log.New(io.Discard, "", 0),
		Processor:      processor,
		Normalizer:     normalize.New(1<<20, 75),
		AllowedOrigins: []string{"*"},
		Usage:          usage,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(opts)
	t.Cleanup(srv.Close)
	return srv, usage
}

func decodeOptimizeResponse(t *testing.T, rec *httptest.ResponseRecorder) compose.OptimizeResponse {
	t.Helper()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var out compose.OptimizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var out compose.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out.Error
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest(http.MethodGet, "/optimize", nil),
		httptest.NewRequest(http.MethodPost, "/healthz", nil),
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", req.Method, req.URL.Path, rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "Not Found" {
			t.Fatalf("expected Not Found, got %q", msg)
		}
	}
}

func TestPreflightAnswersAnyPath(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/whatever", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("unexpected methods %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Fatalf("unexpected headers %q", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) {
		o.AllowedOrigins = []string{"https://app.example"}
	})

	cases := map[string]string{
		"https://app.example":  "https://app.example",
		"https://evil.example": "null",
		"":                     "null",
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/optimize", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %q: expected %q, got %q", origin, want, got)
		}
	}
}

func TestOptimizeStructuredJSON(t *testing.T) {
	srv, usage := newTestServer(t, nil)
	raw := buildTestPNG(t, 40, 20)
	body, _ := json.Marshal(map[string]any{"image_data": base64.StdEncoding.EncodeToString(raw)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize", bytes.NewReader(body)))

	out := decodeOptimizeResponse(t, rec)
	if out.OriginalFormat != "png" || out.OutputFormat != "jpeg" {
		t.Fatalf("unexpected formats %+v", out)
	}
	if out.QualityUsed != 75 {
		t.Fatalf("expected structured default quality 75, got %d", out.QualityUsed)
	}
	if out.OriginalSize != len(raw) {
		t.Fatalf("expected original size %d, got %d", len(raw), out.OriginalSize)
	}
	decoded, err := base64.StdEncoding.DecodeString(out.OptimizedImage)
	if err != nil || len(decoded) != out.OptimizedSize {
		t.Fatalf("optimized_image does not match optimized_size: %v", err)
	}

	logs := usage.Logs()
	if len(logs) != 1 || logs[0].Route != "/optimize" || logs[0].PixelsProcessed != 800 {
		t.Fatalf("unexpected usage logs %+v", logs)
	}
}

func TestOptimizeStructuredFallback(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	body := base64.StdEncoding.EncodeToString(buildTestPNG(t, 16, 16))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize", strings.NewReader(body)))

	out := decodeOptimizeResponse(t, rec)
	if out.QualityUsed != 60 {
		t.Fatalf("expected fallback quality 60, got %d", out.QualityUsed)
	}
}

func TestOptimizeRejectsBadBase64(t *testing.T) {
	srv, usage := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize", strings.NewReader(`{"image_data":"@@@"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "base64") {
		t.Fatalf("expected base64 error, got %q", msg)
	}
	if len(usage.Logs()) != 0 {
		t.Fatalf("expected no usage for failed request")
	}
}

func TestOptimizeMultipartReturnsBinary(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	raw := buildTestPNG(t, 30, 30)
	contentType, body := multipartBody(t, raw)

	req := httptest.NewRequest(http.MethodPost, "/optimize?q=70&f=png&br=5", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if got := rec.Header().Get(compose.HeaderOriginalFormat); got != "png" {
		t.Fatalf("expected original format header png, got %q", got)
	}
	if rec.Header().Get("ETag") != compose.ETag(rec.Body.Bytes()) {
		t.Fatalf("etag does not match body")
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode png body: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Fatalf("expected rounded corner, got alpha %d", a)
	}
}

func TestResizeRequiresMultipart(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/resize?w=10", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Content-Type must be multipart/form-data" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestResizeMultipart(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	contentType, body := multipartBody(t, buildTestPNG(t, 100, 50))

	req := httptest.NewRequest(http.MethodPost, "/resize?w=50", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode body config: %v", err)
	}
	if format != "jpeg" || cfg.Width != 50 || cfg.Height != 25 {
		t.Fatalf("expected 50x25 jpeg, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

func TestResizeWithoutDimensions(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	contentType, body := multipartBody(t, buildTestPNG(t, 10, 10))

	req := httptest.NewRequest(http.MethodPost, "/resize", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOptimizeBinary(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	raw := buildTestPNG(t, 20, 20)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary?quality=90&aggressive=true", bytes.NewReader(raw)))

	out := decodeOptimizeResponse(t, rec)
	if out.OutputFormat != "jpeg" || out.QualityUsed != 60 {
		t.Fatalf("unexpected response %+v", out)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary", http.NoBody))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary", strings.NewReader("plain text, not an image")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestOptimizeBinaryPayloadTooLarge(t *testing.T) {
	raw := buildTestPNG(t, 20, 20)
	srv, _ := newTestServer(t, func(o *Options) {
		o.Normalizer = normalize.New(len(raw)-1, 75)
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary", bytes.NewReader(raw)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRateLimitTransformRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewRedisTokenBucket(client, ratelimit.Config{Capacity: 1, Window: time.Hour})
	if err != nil {
		t.Fatalf("NewRedisTokenBucket returned error: %v", err)
	}
	srv, _ := newTestServer(t, func(o *Options) {
		o.RateLimiter = limiter
	})
	raw := buildTestPNG(t, 8, 8)

	send := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/optimize-binary", bytes.NewReader(raw))
		req.Header.Set("X-User-ID", userID)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := send("alice"); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := send("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit 1, got %q", got)
	}
	if rec := send("bob"); rec.Code != http.StatusOK {
		t.Fatalf("expected another user to pass, got %d", rec.Code)
	}

	health := httptest.NewRecorder()
	srv.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("expected healthz to bypass rate limiting, got %d", health.Code)
	}
}

func TestRequestCost(t *testing.T) {
	cases := []struct {
		length, perToken, want int64
	}{
		{length: 0, perToken: 1 << 20, want: 1},
		{length: -1, perToken: 1 << 20, want: 1},
		{length: 5 << 20, perToken: 0, want: 1},
		{length: 1, perToken: 1 << 20, want: 1},
		{length: 1 << 20, perToken: 1 << 20, want: 1},
		{length: 1<<20 + 1, perToken: 1 << 20, want: 2},
		{length: 2 << 20, perToken: 1 << 20, want: 2},
		{length: 3 << 20, perToken: 1 << 20, want: 3},
	}
	for _, tc := range cases {
		if got := requestCost(tc.length, tc.perToken); got != tc.want {
			t.Fatalf("requestCost(%d, %d) = %d, want %d", tc.length, tc.perToken, got, tc.want)
		}
	}
}

type recordingArchiver struct {
	mu      sync.Mutex
	results []domain.CompressionResult
}

func (a *recordingArchiver) Store(_ context.Context, _ string, res domain.CompressionResult) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	return "outputs/test.jpeg", true, nil
}

func TestArchiveHookRunsAfterSuccess(t *testing.T) {
	archiver := &recordingArchiver{}
	srv, _ := newTestServer(t, func(o *Options) {
		o.Archiver = archiver
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary", bytes.NewReader(buildTestPNG(t, 8, 8))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	srv.Close()

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.results) != 1 || archiver.results[0].OutputFormat != domain.FormatJPEG {
		t.Fatalf("expected one archived jpeg, got %+v", archiver.results)
	}
}

func TestMetricsAndUsageEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimize-binary", bytes.NewReader(buildTestPNG(t, 8, 8))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	for _, name := range []string{"pixelpress_pipeline_results_total", "pixelpress_api_requests_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage", nil))
	var summary domain.UsageSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if summary.Requests != 1 {
		t.Fatalf("expected one recorded request, got %+v", summary)
	}
}

func TestRouteLabel(t *testing.T) {
	if got := routeLabel("/optimize"); got != "/optimize" {
		t.Fatalf("expected /optimize, got %s", got)
	}
	if got := routeLabel("/random/path/123"); got != "unmatched" {
		t.Fatalf("expected unmatched, got %s", got)
	}
}
