// Package serverless serves API Gateway proxy events through a plain
// http.Handler.
package serverless

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Adapter converts API Gateway HTTP API (v2) and REST API (v1) proxy events
// into requests for handler.
type Adapter struct {
	handler http.Handler
	logger  *log.Logger
}

func New(handler http.Handler, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[lambda] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Adapter{handler: handler, logger: logger}
}

type eventProbe struct {
	Version    string `json:"version"`
	RawPath    string `json:"rawPath"`
	HTTPMethod string `json:"httpMethod"`
}

// Handle is the Lambda entry point. The v2 response shape is a superset of
// the v1 one, so it is returned for both event versions.
func (a *Adapter) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayV2HTTPResponse, error) {
	var probe eventProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("decode proxy event: %w", err)
	}

	var (
		req *http.Request
		err error
	)
	switch {
	case probe.Version == "2.0" || probe.RawPath != "":
		var event events.APIGatewayV2HTTPRequest
		if err := json.Unmarshal(raw, &event); err != nil {
			return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("decode http api event: %w", err)
		}
		req, err = RequestFromV2(ctx, event)
	case probe.HTTPMethod != "":
		var event events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &event); err != nil {
			return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("decode rest api event: %w", err)
		}
		req, err = RequestFromV1(ctx, event)
	default:
		err = errors.New("event is neither an http api nor a rest api proxy event")
	}
	if err != nil {
		a.logger.Printf("event conversion failed err=%v", err)
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}

	rw := newResponseWriter()
	a.handler.ServeHTTP(rw, req)
	return rw.response(), nil
}

// RequestFromV2 builds an *http.Request from an HTTP API payload.
func RequestFromV2(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	body, err := eventBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	target := &url.URL{Path: defaultPath(event.RawPath), RawQuery: event.RawQueryString}
	req, err := http.NewRequestWithContext(ctx, event.RequestContext.HTTP.Method, target.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range event.Headers {
		req.Header.Set(key, value)
	}
	if len(event.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	req.RemoteAddr = event.RequestContext.HTTP.SourceIP
	finishRequest(req, body)
	return req, nil
}

// RequestFromV1 builds an *http.Request from a REST API payload.
func RequestFromV1(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body, err := eventBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, values := range event.MultiValueQueryStringParameters {
		query[key] = append([]string(nil), values...)
	}
	for key, value := range event.QueryStringParameters {
		if _, ok := query[key]; !ok {
			query.Set(key, value)
		}
	}

	target := &url.URL{Path: defaultPath(event.Path), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, event.HTTPMethod, target.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range event.MultiValueHeaders {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, value := range event.Headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	req.RemoteAddr = event.RequestContext.Identity.SourceIP
	finishRequest(req, body)
	return req, nil
}

func eventBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 event body: %w", err)
	}
	return data, nil
}

func defaultPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func finishRequest(req *http.Request, body []byte) {
	req.ContentLength = int64(len(body))
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	req.RequestURI = req.URL.RequestURI()
}

// responseWriter buffers a handler response for conversion into a proxy
// response.
type responseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: make(http.Header)}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *responseWriter) response() events.APIGatewayV2HTTPResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}

	resp := events.APIGatewayV2HTTPResponse{
		StatusCode:        status,
		Headers:           make(map[string]string, len(w.header)),
		MultiValueHeaders: make(map[string][]string, len(w.header)),
	}
	for key, values := range w.header {
		resp.Headers[key] = strings.Join(values, ", ")
		resp.MultiValueHeaders[key] = append([]string(nil), values...)
	}

	if isTextual(w.header.Get("Content-Type")) {
		resp.Body = w.body.String()
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(w.body.Bytes())
		resp.IsBase64Encoded = true
	}
	return resp
}

// isTextual reports whether a body of contentType can travel as a plain
// string. Empty content types count as text since empty bodies carry none.
func isTextual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func errorResponse(status int, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]string{"error": message})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
