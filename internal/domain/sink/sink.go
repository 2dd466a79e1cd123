// Package sink contains the domain types for request sinks: named, ephemeral
// endpoints that record the HTTP traffic sent to them.
package sink

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultMaxRequests is the default history capacity of a sink.
const DefaultMaxRequests = 100

// DefaultTimeout is how long a sink may stay idle before the expiry sweep
// removes it.
const DefaultTimeout = 1 * time.Hour

// Sink is a named capture target.
type Sink struct {
	// ID is a short URL-safe token, see GenerateSinkID.
	ID string `json:"id"`
	// CreatedAt is when the sink was created (UTC).
	CreatedAt time.Time `json:"createdAt"`
	// LastActivity is updated on every captured request (UTC).
	LastActivity time.Time `json:"lastActivity"`
	// Requests holds the captured history, oldest first.
	Requests []CapturedRequest `json:"requests"`
	// ConnectionID identifies the connection currently watching the sink.
	// It is only used to deactivate the sink when that connection goes away.
	ConnectionID string `json:"connectionId,omitempty"`
	// Active is false once the watching connection disconnected.
	Active bool `json:"isActive"`
	// MaxRequests bounds len(Requests).
	MaxRequests int `json:"maxRequests"`
	// ForwardURL is the relay base URL. Empty disables forwarding.
	ForwardURL string `json:"forwardUrl,omitempty"`
}

// New returns an active sink with an empty history.
func New(id, connectionID string, maxRequests int, now time.Time) *Sink {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	return &Sink{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Requests:     make([]CapturedRequest, 0),
		ConnectionID: connectionID,
		Active:       true,
		MaxRequests:  maxRequests,
	}
}

// IsForwardingEnabled reports whether captures are relayed upstream.
func (s *Sink) IsForwardingEnabled() bool {
	return s.ForwardURL != ""
}

// AddRequest records req and evicts the oldest entry once the history
// exceeds MaxRequests.
func (s *Sink) AddRequest(req CapturedRequest, now time.Time) {
	s.LastActivity = now
	s.Requests = append(s.Requests, req)

	limit := s.MaxRequests
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	if len(s.Requests) > limit {
		n := copy(s.Requests, s.Requests[1:])
		s.Requests[n] = CapturedRequest{}
		s.Requests = s.Requests[:n]
	}
}

// IsExpired reports whether the sink has been idle for longer than timeout.
func (s *Sink) IsExpired(timeout time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Clone returns a deep copy of the sink.
func (s *Sink) Clone() *Sink {
	c := *s
	c.Requests = make([]CapturedRequest, len(s.Requests))
	for i := range s.Requests {
		c.Requests[i] = *s.Requests[i].Clone()
	}
	return &c
}

// ValidateForwardURL checks that raw is an absolute http or https URL.
// The empty string is valid and means "disable forwarding".
func ValidateForwardURL(raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidForwardURL, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidForwardURL)
	}
	return nil
}
