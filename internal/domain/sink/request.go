package sink

import (
	"encoding/json"
	"maps"
	"net/http"
	"time"
)

// CapturedRequest is one recorded HTTP exchange. It is immutable once
// stored; the forwarding outcome is attached before the store sees it.
type CapturedRequest struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	// Path always starts with "/" and is relative to the sink.
	Path string `json:"path"`
	// Headers and QueryParams join repeated values with ", ".
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	QueryParams   map[string]string `json:"queryParams"`
	ClientIP      string            `json:"clientIp"`
	UserAgent     string            `json:"userAgent"`
	ContentType   string            `json:"contentType"`
	ContentLength int64             `json:"contentLength"`

	// Forwarding outcome, zero unless the sink had a forward URL.
	Response        *CapturedResponse `json:"response,omitempty"`
	WasForwarded    bool              `json:"wasForwarded"`
	ForwardedTo     string            `json:"forwardedTo,omitempty"`
	ForwardDuration time.Duration     `json:"-"`
}

// ForwardFailedStatusText is the status text of the response synthesized
// when a relay could not reach its target.
const ForwardFailedStatusText = "Bad Gateway - Forward Failed"

// CapturedResponse is the upstream reply to a forwarded request.
type CapturedResponse struct {
	StatusCode    int               `json:"statusCode"`
	StatusText    string            `json:"statusText"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	ContentType   string            `json:"contentType"`
	ContentLength int64             `json:"contentLength"`
	Timestamp     time.Time         `json:"timestamp"`
}

// IsForwardFailure reports whether r was synthesized for a failed relay
// rather than received from upstream.
func (r *CapturedResponse) IsForwardFailure() bool {
	return r != nil && r.StatusCode == http.StatusBadGateway && r.StatusText == ForwardFailedStatusText
}

// MarshalJSON renders ForwardDuration as fractional milliseconds.
func (r CapturedRequest) MarshalJSON() ([]byte, error) {
	type plain CapturedRequest
	var ms *float64
	if r.WasForwarded {
		v := float64(r.ForwardDuration) / float64(time.Millisecond)
		ms = &v
	}
	return json.Marshal(struct {
		plain
		ForwardDurationMs *float64 `json:"forwardDurationMs,omitempty"`
	}{plain: plain(r), ForwardDurationMs: ms})
}

// Clone returns a deep copy of the request.
func (r *CapturedRequest) Clone() *CapturedRequest {
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.QueryParams = maps.Clone(r.QueryParams)
	if r.Response != nil {
		resp := *r.Response
		resp.Headers = maps.Clone(r.Response.Headers)
		c.Response = &resp
	}
	return &c
}
