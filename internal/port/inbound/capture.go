// Package inbound defines the inbound port interfaces for the capture core.
// Inbound adapters (HTTP, WebSocket) call these interfaces.
package inbound

import (
	"context"
	"time"

	"github.com/requestsink/requestsink/internal/domain/sink"
)

// CaptureInput is the transport-neutral view of one inbound request.
type CaptureInput struct {
	Method string
	// Path is relative to the sink, with or without a leading slash.
	Path string
	// Headers and Query keep every value; they are joined when recorded.
	Headers       map[string][]string
	Query         map[string][]string
	Body          []byte
	ContentLength int64
	// RemoteAddr is the transport peer address ("host:port" or bare host).
	RemoteAddr string
}

// CaptureResult is the outcome of a successful capture.
type CaptureResult struct {
	SinkID  string
	Request *sink.CapturedRequest
	// Response is the upstream reply when the sink forwards, else nil.
	Response *sink.CapturedResponse
}

// Forwarded reports whether the request was relayed upstream.
func (r *CaptureResult) Forwarded() bool {
	return r.Response != nil
}

// Timestamp is the capture time.
func (r *CaptureResult) Timestamp() time.Time {
	return r.Request.Timestamp
}

// CaptureService is the inbound port for the capture flow.
type CaptureService interface {
	// Capture records one request against sinkID.
	// Returns sink.ErrSinkNotFound if the sink is missing or inactive.
	Capture(ctx context.Context, sinkID string, in CaptureInput) (*CaptureResult, error)

	// SetForwardURL sets or clears (empty string) the sink's relay target.
	// Returns sink.ErrSinkNotFound, sink.ErrInvalidForwardURL or
	// sink.ErrForwardUpdateFailed.
	SetForwardURL(ctx context.Context, sinkID, forwardURL string) error
}
