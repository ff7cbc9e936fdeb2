package api

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// withTracing opens a server span per request, continuing any trace the
// caller propagated in its headers.
func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		parent := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(parent, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int64("http.request.body.size", r.ContentLength),
				attribute.String("pixelpress.request_id", requestIDFrom(r.Context())),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(
			attribute.Int("http.response.status_code", rec.status),
			attribute.Int64("http.response.body.size", rec.written),
		)
		switch {
		case rec.status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		case rec.status >= http.StatusBadRequest:
			span.SetStatus(codes.Error, "client error: "+http.StatusText(rec.status))
		}
	})
}
