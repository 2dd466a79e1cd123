// Package outbound defines the outbound port interfaces the capture core
// depends on: relaying captures upstream and publishing capture events.
package outbound

import (
	"context"

	"github.com/requestsink/requestsink/internal/domain/sink"
)

// Forwarder relays a captured request to an upstream base URL.
// Adapters implement this over a concrete HTTP client.
type Forwarder interface {
	// Relay sends req to baseURL and returns the upstream response.
	// It never fails: transport errors yield a synthesized 502 response.
	// On return req carries the forwarding outcome.
	Relay(ctx context.Context, req *sink.CapturedRequest, baseURL string) *sink.CapturedResponse
}

// Publisher pushes capture events to whoever watches a sink.
type Publisher interface {
	// Publish schedules delivery of req to the sink's subscribers and returns
	// immediately. Delivery failures are never reported to the caller.
	Publish(sinkID string, req *sink.CapturedRequest)
}
