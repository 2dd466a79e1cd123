package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/requestsink/requestsink/internal/domain/sink"
)

// SinkService manages the sink lifecycle outside the capture path.
type SinkService struct {
	store  sink.Store
	logger *slog.Logger
}

// NewSinkService creates a SinkService.
func NewSinkService(store sink.Store, logger *slog.Logger) *SinkService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkService{store: store, logger: logger}
}

// Create makes a new active sink owned by connectionID, which may be empty
// when the sink is created over plain HTTP.
func (s *SinkService) Create(ctx context.Context, connectionID string) (*sink.Sink, error) {
	created, err := s.store.Create(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sink created", "sink_id", created.ID, "connection_id", connectionID)
	return created, nil
}

// Get returns a snapshot of the sink, including its captured history.
// Inactive sinks are returned so their history stays inspectable until the
// sweep removes them.
func (s *SinkService) Get(ctx context.Context, id string) (*sink.Sink, error) {
	sk, err := s.store.Get(ctx, id)
	if errors.Is(err, sink.ErrSinkNotFound) {
		return nil, &NotFoundError{SinkID: id}
	}
	return sk, err
}

// Delete removes the sink and its history.
func (s *SinkService) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, sink.ErrSinkNotFound) {
			return &NotFoundError{SinkID: id}
		}
		return err
	}
	s.store.Delete(ctx, id)
	s.logger.Info("sink deleted", "sink_id", id)
	return nil
}

// ListActive returns snapshots of every active sink.
func (s *SinkService) ListActive(ctx context.Context) []*sink.Sink {
	return s.store.ListActive(ctx)
}
