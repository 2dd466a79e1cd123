package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/requestsink/requestsink/internal/domain/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoed captures what the upstream test server received.
type echoed struct {
	method string
	uri    string
	header http.Header
	body   string
}

func newEchoServer(t *testing.T, status int, reply string) (*httptest.Server, <-chan echoed) {
	t.Helper()
	got := make(chan echoed, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- echoed{method: r.Method, uri: r.URL.RequestURI(), header: r.Header.Clone(), body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("X-Upstream", "a")
		w.Header().Add("X-Upstream", "b")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestBuildTargetURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		path  string
		query map[string]string
		want  string
	}{
		{name: "root path", base: "http://up", path: "/", want: "http://up"},
		{name: "empty path", base: "http://up/", path: "", want: "http://up"},
		{name: "single slash join", base: "http://up/base/", path: "/api/x", want: "http://up/base/api/x"},
		{name: "no leading slash", base: "http://up", path: "a/b", want: "http://up/a/b"},
		{
			name:  "encoded separators stay in path",
			base:  "http://up",
			path:  "/a%3Fb%23c",
			query: map[string]string{"x": "1"},
			want:  "http://up/a%3Fb%23c?x=1",
		},
		{
			name:  "sorted and encoded query",
			base:  "http://up",
			path:  "/q",
			query: map[string]string{"z": "1", "a b": "x y", "amp": "1&2"},
			want:  "http://up/q?a%20b=x%20y&amp=1%262&z=1",
		},
		{
			name:  "base already has query",
			base:  "http://up/path?token=abc",
			path:  "",
			query: map[string]string{"q": "1"},
			want:  "http://up/path?token=abc&q=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildTargetURL(tt.base, tt.path, tt.query); got != tt.want {
				t.Errorf("buildTargetURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeaderClassification(t *testing.T) {
	for _, h := range []string{"Host", "connection", "Transfer-Encoding", "UPGRADE", "Proxy-Connection", "Proxy-Authenticate", "Proxy-Authorization"} {
		if ShouldForwardHeader(h) {
			t.Errorf("ShouldForwardHeader(%q) = true, want false", h)
		}
	}
	for _, h := range []string{"Content-Type", "content-length", "Content-Encoding", "Content-MD5", "Expires", "Last-Modified"} {
		if !IsContentHeader(h) {
			t.Errorf("IsContentHeader(%q) = false, want true", h)
		}
	}
	if !ShouldForwardHeader("Authorization") || IsContentHeader("Authorization") {
		t.Error("Authorization must be forwarded as a general header")
	}
	for method, want := range map[string]bool{"POST": true, "put": true, "PATCH": true, "DELETE": true, "GET": false, "HEAD": false, "OPTIONS": false} {
		if got := MethodSupportsBody(method); got != want {
			t.Errorf("MethodSupportsBody(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestForwarder_RelayGet(t *testing.T) {
	t.Parallel()

	srv, got := newEchoServer(t, http.StatusOK, `{"ok":true}`)
	f := NewForwarder(WithLogger(discardLogger()))

	req := &sink.CapturedRequest{
		Method: http.MethodGet,
		Path:   "/api/test",
		Headers: map[string]string{
			"Host":                "capture.local",
			"Connection":          "keep-alive",
			"Proxy-Authorization": "secret",
			"Content-Type":        "text/plain",
			"X-Custom":            "v1",
		},
		QueryParams: map[string]string{"foo": "bar"},
		Body:        "ignored for GET",
	}

	resp := f.Relay(context.Background(), req, srv.URL)

	up := <-got
	if up.method != http.MethodGet {
		t.Errorf("upstream method = %q, want GET", up.method)
	}
	if up.uri != "/api/test?foo=bar" {
		t.Errorf("upstream uri = %q, want /api/test?foo=bar", up.uri)
	}
	if up.body != "" {
		t.Errorf("upstream body = %q, want empty for GET", up.body)
	}
	if up.header.Get("X-Custom") != "v1" {
		t.Errorf("X-Custom = %q, want v1", up.header.Get("X-Custom"))
	}
	for _, h := range []string{"Proxy-Authorization", "Content-Type"} {
		if v := up.header.Get(h); v != "" {
			t.Errorf("upstream received %s = %q, want absent", h, v)
		}
	}

	if resp.StatusCode != http.StatusOK || resp.StatusText != "OK" {
		t.Errorf("status = %d %q, want 200 OK", resp.StatusCode, resp.StatusText)
	}
	if resp.Body != `{"ok":true}` {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", resp.ContentType)
	}
	if resp.ContentLength != int64(len(`{"ok":true}`)) {
		t.Errorf("ContentLength = %d", resp.ContentLength)
	}
	if resp.Headers["X-Upstream"] != "a, b" {
		t.Errorf("X-Upstream = %q, want %q", resp.Headers["X-Upstream"], "a, b")
	}

	if !req.WasForwarded {
		t.Error("WasForwarded = false, want true")
	}
	if req.ForwardedTo != srv.URL+"/api/test?foo=bar" {
		t.Errorf("ForwardedTo = %q", req.ForwardedTo)
	}
	if req.Response != resp {
		t.Error("Response not attached to the captured request")
	}
	if req.ForwardDuration <= 0 {
		t.Errorf("ForwardDuration = %v, want > 0", req.ForwardDuration)
	}
}

func TestForwarder_RelayPostCarriesBody(t *testing.T) {
	t.Parallel()

	srv, got := newEchoServer(t, http.StatusCreated, "made")
	f := NewForwarder(WithLogger(discardLogger()))

	req := &sink.CapturedRequest{
		Method:      http.MethodPost,
		Path:        "/items",
		Headers:     map[string]string{"Content-Type": "application/json", "Content-Length": "999", "Content-Language": "en"},
		Body:        `{"name":"x"}`,
		ContentType: "application/json",
	}
	resp := f.Relay(context.Background(), req, srv.URL+"/")

	up := <-got
	if up.body != `{"name":"x"}` {
		t.Errorf("upstream body = %q", up.body)
	}
	if up.header.Get("Content-Type") != "application/json" {
		t.Errorf("upstream Content-Type = %q", up.header.Get("Content-Type"))
	}
	if up.header.Get("Content-Language") != "en" {
		t.Errorf("upstream Content-Language = %q, want en", up.header.Get("Content-Language"))
	}
	if resp.StatusCode != http.StatusCreated || resp.StatusText != "Created" {
		t.Errorf("status = %d %q, want 201 Created", resp.StatusCode, resp.StatusText)
	}
}

func TestForwarder_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	f := NewForwarder(WithLogger(discardLogger()))
	resp := f.Relay(context.Background(), &sink.CapturedRequest{Method: http.MethodGet, Path: "/"}, srv.URL)

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
	if resp.Headers["Location"] != "/elsewhere" {
		t.Errorf("Location = %q, want /elsewhere", resp.Headers["Location"])
	}
}

func TestForwarder_FailureSynthesizes502(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	f := NewForwarder(WithLogger(discardLogger()))
	req := &sink.CapturedRequest{Method: http.MethodGet, Path: "/x"}
	resp := f.Relay(context.Background(), req, base)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("StatusCode = %d, want 502", resp.StatusCode)
	}
	if resp.StatusText != "Bad Gateway - Forward Failed" {
		t.Errorf("StatusText = %q", resp.StatusText)
	}
	if !strings.HasPrefix(resp.Body, "Failed to forward request: ") {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", resp.ContentType)
	}
	if resp.ContentLength != int64(len(resp.Body)) {
		t.Errorf("ContentLength = %d, want %d", resp.ContentLength, len(resp.Body))
	}
	if !req.WasForwarded || req.ForwardedTo != base {
		t.Errorf("WasForwarded = %v ForwardedTo = %q, want true %q", req.WasForwarded, req.ForwardedTo, base)
	}
}

func TestForwarder_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewForwarder(WithLogger(discardLogger()), WithTimeout(50*time.Millisecond))
	resp := f.Relay(context.Background(), &sink.CapturedRequest{Method: http.MethodGet, Path: "/slow"}, srv.URL)

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502 on timeout", resp.StatusCode)
	}
}

func TestForwarder_TimeoutWithCustomClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts func(c *http.Client) []Option
	}{
		{
			name: "timeout after client",
			opts: func(c *http.Client) []Option {
				return []Option{WithHTTPClient(c), WithTimeout(3 * time.Second)}
			},
		},
		{
			name: "timeout before client",
			opts: func(c *http.Client) []Option {
				return []Option{WithTimeout(3 * time.Second), WithHTTPClient(c)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			shared := &http.Client{Timeout: time.Minute}
			f := NewForwarder(tt.opts(shared)...)

			if f.client.Timeout != 3*time.Second {
				t.Errorf("relay client timeout = %v, want 3s", f.client.Timeout)
			}
			if shared.Timeout != time.Minute {
				t.Errorf("shared client timeout = %v, want untouched 1m", shared.Timeout)
			}
		})
	}
}

func TestForwarder_ResponseBodyCap(t *testing.T) {
	t.Parallel()

	srv, _ := newEchoServer(t, http.StatusOK, strings.Repeat("x", 64))
	f := NewForwarder(WithLogger(discardLogger()), WithMaxResponseBytes(16))

	resp := f.Relay(context.Background(), &sink.CapturedRequest{Method: http.MethodGet, Path: "/"}, srv.URL)
	if len(resp.Body) != 16 {
		t.Errorf("len(Body) = %d, want 16", len(resp.Body))
	}
	if resp.ContentLength != 64 {
		t.Errorf("ContentLength = %d, want upstream-declared 64", resp.ContentLength)
	}
}

func TestForwarder_SkipsInvalidHeaders(t *testing.T) {
	t.Parallel()

	srv, got := newEchoServer(t, http.StatusOK, "")
	f := NewForwarder(WithLogger(discardLogger()))

	req := &sink.CapturedRequest{
		Method:  http.MethodGet,
		Path:    "/",
		Headers: map[string]string{"Bad Header": "x", "X-Bad-Value": "line\nbreak", "X-Good": "ok"},
	}
	resp := f.Relay(context.Background(), req, srv.URL)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	up := <-got
	if up.header.Get("X-Good") != "ok" {
		t.Errorf("X-Good = %q, want ok", up.header.Get("X-Good"))
	}
	if up.header.Get("X-Bad-Value") != "" {
		t.Error("header with invalid value was relayed")
	}
}

func TestForwarder_RecordsSpan(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	srv, _ := newEchoServer(t, http.StatusOK, "")
	f := NewForwarder(WithLogger(discardLogger()), WithTracerProvider(tp))
	f.Relay(context.Background(), &sink.CapturedRequest{Method: http.MethodGet, Path: "/"}, srv.URL)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "relay.forward" {
		t.Errorf("span name = %q, want relay.forward", spans[0].Name())
	}
}

func TestJoinHeaders(t *testing.T) {
	got := JoinHeaders(map[string][]string{"accept": {"a", "b"}, "X-One": {"1"}})
	if got["Accept"] != "a, b" {
		t.Errorf("Accept = %q, want %q", got["Accept"], "a, b")
	}
	if got["X-One"] != "1" {
		t.Errorf("X-One = %q, want 1", got["X-One"])
	}
}
