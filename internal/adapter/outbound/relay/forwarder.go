// Package relay provides the outbound HTTP adapter that replays captured
// requests against a sink's forward URL.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpguts"

	"github.com/requestsink/requestsink/internal/domain/sink"
	"github.com/requestsink/requestsink/internal/port/outbound"
)

const (
	// DefaultTimeout bounds a single relay, including reading the response.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps how much of an upstream body is kept.
	DefaultMaxResponseBytes = 10 * 1024 * 1024 // 10MB

	tracerName = "github.com/requestsink/requestsink/internal/adapter/outbound/relay"
)

// unsafeHeaders are never copied to the upstream request.
var unsafeHeaders = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"proxy-connection":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

// contentHeaders describe the body and travel with it instead of with the
// general request headers.
var contentHeaders = map[string]struct{}{
	"content-type":     {},
	"content-length":   {},
	"content-encoding": {},
	"content-language": {},
	"content-location": {},
	"content-md5":      {},
	"content-range":    {},
	"expires":          {},
	"last-modified":    {},
}

// methodsWithBody are the methods whose captured body is relayed.
var methodsWithBody = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// ShouldForwardHeader reports whether a request header may be relayed at all.
func ShouldForwardHeader(name string) bool {
	_, skip := unsafeHeaders[strings.ToLower(name)]
	return !skip
}

// IsContentHeader reports whether name describes the request body.
func IsContentHeader(name string) bool {
	_, ok := contentHeaders[strings.ToLower(name)]
	return ok
}

// MethodSupportsBody reports whether a body is relayed for method.
func MethodSupportsBody(method string) bool {
	_, ok := methodsWithBody[strings.ToUpper(method)]
	return ok
}

// Forwarder implements outbound.Forwarder over a shared HTTP client.
type Forwarder struct {
	client           *http.Client
	timeout          time.Duration
	tracer           trace.Tracer
	logger           *slog.Logger
	maxResponseBytes int64
}

// Option is a functional option for configuring Forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets a custom HTTP client. The forwarder works on a copy, so
// a timeout set with WithTimeout never leaks into client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithTimeout bounds each relay. It is applied after every other option, so
// it holds regardless of where it appears relative to WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxResponseBytes caps the upstream body size kept per response.
func WithMaxResponseBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxResponseBytes = n
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for relay spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Forwarder) {
		f.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the logger for the forwarder.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a Forwarder with sensible HTTP client defaults.
func NewForwarder(opts ...Option) *Forwarder {
	f := &Forwarder{
		client: &http.Client{
			Timeout: DefaultTimeout,
			// Do not follow redirects -- pass them through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tracer:           otel.Tracer(tracerName),
		logger:           slog.Default(),
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.timeout > 0 {
		client := *f.client
		client.Timeout = f.timeout
		f.client = &client
	}
	return f
}

// Relay replays req against baseURL. It never fails: any error produces a
// synthesized 502 response. Either way req is updated with the outcome.
func (f *Forwarder) Relay(ctx context.Context, req *sink.CapturedRequest, baseURL string) *sink.CapturedResponse {
	start := time.Now()

	ctx, span := f.tracer.Start(ctx, "relay.forward", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := buildTargetURL(baseURL, req.Path, req.QueryParams)
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", target),
	)

	resp, err := f.send(ctx, req, target)
	elapsed := time.Since(start)

	if err != nil {
		f.logger.Error("failed to forward request", "forward_url", baseURL, "method", req.Method, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward failed")
		resp = failureResponse(err)
		req.ForwardedTo = baseURL
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		req.ForwardedTo = target
	}

	req.WasForwarded = true
	req.ForwardDuration = elapsed
	req.Response = resp
	return resp
}

// send performs the upstream round trip and converts the reply.
func (f *Forwarder) send(ctx context.Context, req *sink.CapturedRequest, target string) (*sink.CapturedResponse, error) {
	withBody := req.Body != "" && MethodSupportsBody(req.Method)

	var body io.Reader
	if withBody {
		body = strings.NewReader(req.Body)
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	for name, value := range req.Headers {
		if !ShouldForwardHeader(name) {
			continue
		}
		if IsContentHeader(name) {
			if withBody {
				f.setHeader(outReq.Header, name, value)
			}
			continue
		}
		f.setHeader(outReq.Header, name, value)
	}

	if withBody {
		// The transport computes the length of the relayed body itself.
		outReq.Header.Del("Content-Length")
		if req.ContentType != "" {
			f.setHeader(outReq.Header, "Content-Type", req.ContentType)
		}
	}

	resp, err := f.client.Do(outReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	contentLength := resp.ContentLength
	if contentLength < 0 {
		contentLength = int64(len(data))
	}

	return &sink.CapturedResponse{
		StatusCode:    resp.StatusCode,
		StatusText:    reasonPhrase(resp),
		Headers:       JoinHeaders(resp.Header),
		Body:          string(data),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: contentLength,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// setHeader copies one header, skipping it if the name or value would be
// rejected on the wire.
func (f *Forwarder) setHeader(h http.Header, name, value string) {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		f.logger.Warn("failed to add header", "header", name, "error", "invalid header field")
		return
	}
	h.Set(name, value)
}

// buildTargetURL joins base and path with exactly one slash and appends the
// captured query parameters.
func buildTargetURL(base, path string, query map[string]string) string {
	target := strings.TrimRight(base, "/")
	if p := strings.TrimLeft(path, "/"); p != "" {
		target += "/" + p
	}

	if len(query) == 0 {
		return target
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, escapeDataString(k)+"="+escapeDataString(query[k]))
	}

	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + strings.Join(pairs, "&")
}

// escapeDataString percent-encodes s, spaces included.
func escapeDataString(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// reasonPhrase extracts the reason phrase from a "200 OK" style status line.
func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}
	return phrase
}

// failureResponse is returned in place of an upstream reply when relaying fails.
func failureResponse(err error) *sink.CapturedResponse {
	body := "Failed to forward request: " + err.Error()
	return &sink.CapturedResponse{
		StatusCode:    http.StatusBadGateway,
		StatusText:    sink.ForwardFailedStatusText,
		Headers:       map[string]string{},
		Body:          body,
		ContentType:   "text/plain",
		ContentLength: int64(len(body)),
		Timestamp:     time.Now().UTC(),
	}
}

// JoinHeaders flattens multi-valued headers into "a, b" strings keyed by
// canonical header name.
func JoinHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[http.CanonicalHeaderKey(name)] = strings.Join(values, ", ")
	}
	return out
}

// Compile-time interface verification.
var _ outbound.Forwarder = (*Forwarder)(nil)
