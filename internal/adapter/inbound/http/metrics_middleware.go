package http

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"
)

// otherMethod labels every request method outside knownMethods, keeping the
// method label set fixed while sinks accept any method token.
const otherMethod = "OTHER"

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// unmeteredPaths are served without being recorded.
var unmeteredPaths = map[string]struct{}{
	"/metrics": {},
	"/health":  {},
}

// MetricsMiddleware records the duration and outcome of every sink and API
// request:
// - request_duration_seconds histogram (by method)
// - requests_total counter (by method and status)
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := unmeteredPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			method := methodLabel(r.Method)
			metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(method, statusToLabel(rec.status)).Inc()
		})
	}
}

// methodLabel returns method if it is a standard HTTP method, otherMethod if not.
func methodLabel(method string) string {
	if _, ok := knownMethods[method]; ok {
		return method
	}
	return otherMethod
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack delegates to the underlying ResponseWriter so WebSocket upgrades
// work through the middleware. A hijacked request is recorded as 101.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// statusToLabel converts HTTP status code to label value
func statusToLabel(code int) string {
	if code >= 100 && code < 400 {
		return "ok"
	}
	return "error"
}
