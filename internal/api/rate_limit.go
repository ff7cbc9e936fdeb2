package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/compose"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// withRateLimit charges POSTs to the transform routes against the caller's
// bucket. Subjects are the user header value scoped by route.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, limited := limitedRoute(r)
		if !limited {
			next.ServeHTTP(w, r)
			return
		}

		user := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if user == "" {
			user = "anonymous"
		}
		subject := user + ":" + route
		cost := requestCost(r.ContentLength, s.rateLimitBytesPerToken)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			s.logger.Printf("rate limiter unavailable subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Retry-After", strconv.Itoa(max(1, int(decision.RetryAfter.Round(time.Second)/time.Second))))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		s.logger.Printf("rate limited request_id=%s subject=%s cost=%d retry_after=%s",
			requestIDFrom(r.Context()), subject, cost, decision.RetryAfter)
		writeJSON(w, http.StatusTooManyRequests, compose.ErrorBody{Error: "rate limit exceeded"})
	})
}

// limitedRoute reports the metrics label of a transform route, or false for
// everything that is never limited.
func limitedRoute(r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		return "", false
	}
	switch r.URL.Path {
	case "/optimize", "/resize", "/optimize-binary":
		return routeLabel(r.URL.Path), true
	default:
		return "", false
	}
}

// requestCost is ceil(contentLength/bytesPerToken) tokens, at least one. A
// non-positive bytesPerToken or unknown length costs one token.
func requestCost(contentLength, bytesPerToken int64) int64 {
	if bytesPerToken <= 0 || contentLength <= 0 {
		return 1
	}
	return 1 + (contentLength-1)/bytesPerToken
}
