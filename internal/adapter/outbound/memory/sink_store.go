// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/requestsink/requestsink/internal/domain/sink"
)

// DefaultCleanupInterval is how often the expiry sweep runs.
const DefaultCleanupInterval = 10 * time.Minute

// shardCount is the number of independently locked partitions of the sink map.
const shardCount = 32

// maxCreateAttempts bounds sink ID regeneration on collision.
const maxCreateAttempts = 3

// errIDExhausted is returned when every generated sink ID collided.
var errIDExhausted = errors.New("sink ID space exhausted")

// sinkEntry guards a single sink. removed is set under mu when the entry
// leaves the map, so holders of a stale pointer see the deletion.
type sinkEntry struct {
	mu      sync.Mutex
	sink    *sink.Sink
	removed bool
}

type sinkShard struct {
	mu      sync.RWMutex
	entries map[string]*sinkEntry
}

// MemorySinkStore implements sink.Store with a sharded in-memory map.
// Shards are chosen by hashing the sink ID, and every entry carries its own
// mutex, so mutations on different sinks never contend on a global lock.
// Background cleanup goroutine removes expired sinks periodically.
type MemorySinkStore struct {
	shards [shardCount]*sinkShard

	maxRequests     int
	timeout         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // Prevent double-close panic on Stop()
}

// SinkStoreOption configures MemorySinkStore.
type SinkStoreOption func(*MemorySinkStore)

// WithMaxRequests sets the history capacity of newly created sinks.
func WithMaxRequests(n int) SinkStoreOption {
	return func(s *MemorySinkStore) {
		if n > 0 {
			s.maxRequests = n
		}
	}
}

// WithSinkTimeout sets the idle duration after which the sweep removes a sink.
func WithSinkTimeout(d time.Duration) SinkStoreOption {
	return func(s *MemorySinkStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCleanupInterval sets how often the background sweep runs.
func WithCleanupInterval(d time.Duration) SinkStoreOption {
	return func(s *MemorySinkStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) SinkStoreOption {
	return func(s *MemorySinkStore) {
		s.now = now
	}
}

// WithStoreLogger sets the logger used by the cleanup goroutine.
func WithStoreLogger(logger *slog.Logger) SinkStoreOption {
	return func(s *MemorySinkStore) {
		s.logger = logger
	}
}

// NewSinkStore creates a new in-memory sink store.
func NewSinkStore(opts ...SinkStoreOption) *MemorySinkStore {
	s := &MemorySinkStore{
		maxRequests:     sink.DefaultMaxRequests,
		timeout:         sink.DefaultTimeout,
		cleanupInterval: DefaultCleanupInterval,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &sinkShard{entries: make(map[string]*sinkEntry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemorySinkStore) shardFor(id string) *sinkShard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

// lookup returns the entry for id, or nil. The shard lock is released before
// returning; callers lock the entry and check removed.
func (s *MemorySinkStore) lookup(id string) *sinkEntry {
	shard := s.shardFor(id)
	shard.mu.RLock()
	e := shard.entries[id]
	shard.mu.RUnlock()
	return e
}

// withSink runs fn on the live sink under its entry lock.
// Returns false if the sink doesn't exist.
func (s *MemorySinkStore) withSink(id string, fn func(*sink.Sink)) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	fn(e.sink)
	return true
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine will periodically remove expired sinks.
// Call Stop() to stop the cleanup goroutine gracefully.
func (s *MemorySinkStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n := s.SweepExpired(s.timeout); n > 0 {
					s.logger.Debug("cleaned expired sinks", "count", n)
				}
			}
		}
	}()
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySinkStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// SweepExpired removes every sink idle for longer than timeout and returns
// how many were removed. Entries are checked under their own lock, so an
// in-flight append either lands first (refreshing LastActivity) or is
// discarded with the sink.
func (s *MemorySinkStore) SweepExpired(timeout time.Duration) int {
	now := s.now()
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, e := range shard.entries {
			e.mu.Lock()
			if e.sink.IsExpired(timeout, now) {
				e.removed = true
				delete(shard.entries, id)
				removed++
			}
			e.mu.Unlock()
		}
		shard.mu.Unlock()
	}
	return removed
}

// Create stores a new active sink with an empty history.
func (s *MemorySinkStore) Create(ctx context.Context, connectionID string) (*sink.Sink, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := sink.GenerateSinkID()
		if err != nil {
			return nil, err
		}

		shard := s.shardFor(id)
		shard.mu.Lock()
		if _, exists := shard.entries[id]; exists {
			shard.mu.Unlock()
			continue
		}
		created := sink.New(id, connectionID, s.maxRequests, s.now())
		shard.entries[id] = &sinkEntry{sink: created}
		shard.mu.Unlock()

		return created.Clone(), nil
	}
	return nil, fmt.Errorf("failed to create sink: %w", errIDExhausted)
}

// Get retrieves a snapshot of a sink by ID.
// Returns sink.ErrSinkNotFound if the sink doesn't exist.
func (s *MemorySinkStore) Get(ctx context.Context, id string) (*sink.Sink, error) {
	var snapshot *sink.Sink
	if !s.withSink(id, func(sk *sink.Sink) { snapshot = sk.Clone() }) {
		return nil, sink.ErrSinkNotFound
	}
	return snapshot, nil
}

// Append records a copy of req in the sink's history.
// Missing and inactive sinks are left untouched.
func (s *MemorySinkStore) Append(ctx context.Context, id string, req *sink.CapturedRequest) error {
	stored := *req.Clone()
	s.withSink(id, func(sk *sink.Sink) {
		if !sk.Active {
			return
		}
		sk.AddRequest(stored, s.now())
	})
	return nil
}

// SetForwardURL updates the relay target of a sink.
func (s *MemorySinkStore) SetForwardURL(ctx context.Context, id, forwardURL string) bool {
	return s.withSink(id, func(sk *sink.Sink) {
		sk.ForwardURL = forwardURL
	})
}

// SetConnection records the connection currently watching a sink.
func (s *MemorySinkStore) SetConnection(ctx context.Context, id, connectionID string) bool {
	return s.withSink(id, func(sk *sink.Sink) {
		sk.ConnectionID = connectionID
	})
}

// MarkInactive deactivates a sink.
func (s *MemorySinkStore) MarkInactive(ctx context.Context, id string) {
	s.withSink(id, func(sk *sink.Sink) {
		sk.Active = false
	})
}

// MarkInactiveIfWatchedBy deactivates a sink whose watching connection is
// connectionID. Sinks taken over by a later join are left active.
func (s *MemorySinkStore) MarkInactiveIfWatchedBy(ctx context.Context, id, connectionID string) bool {
	deactivated := false
	s.withSink(id, func(sk *sink.Sink) {
		if sk.Active && sk.ConnectionID == connectionID {
			sk.Active = false
			deactivated = true
		}
	})
	return deactivated
}

// Delete removes a sink.
func (s *MemorySinkStore) Delete(ctx context.Context, id string) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.entries[id]
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	delete(shard.entries, id)
}

// ListActive returns snapshots of every active sink.
func (s *MemorySinkStore) ListActive(ctx context.Context) []*sink.Sink {
	var entries []*sinkEntry
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, e := range shard.entries {
			entries = append(entries, e)
		}
		shard.mu.RUnlock()
	}

	result := make([]*sink.Sink, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.sink.Active {
			result = append(result, e.sink.Clone())
		}
		e.mu.Unlock()
	}
	return result
}

// Size returns the number of sinks currently stored, active or not.
func (s *MemorySinkStore) Size() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// Compile-time interface verification.
var _ sink.Store = (*MemorySinkStore)(nil)
