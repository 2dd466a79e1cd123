package sink

import (
	"context"
	"errors"
)

// Sentinel errors for sink operations.
var (
	// ErrSinkNotFound is returned when a sink does not exist or is inactive.
	// Callers cannot tell the two apart.
	ErrSinkNotFound = errors.New("sink not found")
	// ErrInvalidForwardURL is returned when a forward URL fails validation.
	ErrInvalidForwardURL = errors.New("invalid forward url")
	// ErrForwardUpdateFailed is returned when the store rejects a forward URL update.
	ErrForwardUpdateFailed = errors.New("failed to update forward url")
)

// Store owns the set of live sinks.
// This is a port (interface) in the hexagonal architecture.
// Implementations: in-memory (memory package).
type Store interface {
	// Create inserts a new active sink owned by connectionID and returns it.
	Create(ctx context.Context, connectionID string) (*Sink, error)

	// Get returns a snapshot of the sink.
	// Returns ErrSinkNotFound if the sink doesn't exist. Inactive sinks are
	// returned; callers decide what inactive means to them.
	Get(ctx context.Context, id string) (*Sink, error)

	// Append records req in the sink's history. Appending to a missing or
	// inactive sink is a silent no-op.
	Append(ctx context.Context, id string, req *CapturedRequest) error

	// SetForwardURL updates the relay target. Empty disables forwarding.
	// Returns false if the sink doesn't exist.
	SetForwardURL(ctx context.Context, id, forwardURL string) bool

	// SetConnection records the connection currently watching the sink.
	// Returns false if the sink doesn't exist.
	SetConnection(ctx context.Context, id, connectionID string) bool

	// MarkInactive deactivates the sink. Idempotent.
	MarkInactive(ctx context.Context, id string)

	// MarkInactiveIfWatchedBy deactivates the sink only while connectionID is
	// its watching connection. Returns true if the sink was deactivated.
	MarkInactiveIfWatchedBy(ctx context.Context, id, connectionID string) bool

	// Delete removes the sink. Idempotent.
	Delete(ctx context.Context, id string)

	// ListActive returns snapshots of all active sinks.
	ListActive(ctx context.Context) []*Sink
}
