// Package service contains the application services of the request sink:
// the capture flow, sink management and live notification fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/requestsink/requestsink/internal/ctxkey"
	"github.com/requestsink/requestsink/internal/domain/sink"
	"github.com/requestsink/requestsink/internal/port/inbound"
	"github.com/requestsink/requestsink/internal/port/outbound"
)

// loggerFromContext retrieves the enriched logger from context.
// Uses the same key as HTTP middleware for request_id enrichment.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// NotFoundError carries the sink ID of a failed lookup. It matches
// sink.ErrSinkNotFound with errors.Is.
type NotFoundError struct {
	SinkID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Request sink '%s' not found or inactive", e.SinkID)
}

func (e *NotFoundError) Unwrap() error {
	return sink.ErrSinkNotFound
}

// CaptureService runs the capture flow: resolve the sink, record the
// request, relay it when forwarding is enabled, store it, and notify.
type CaptureService struct {
	store     sink.Store
	forwarder outbound.Forwarder
	publisher outbound.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewCaptureService creates a CaptureService. publisher may be nil.
func NewCaptureService(store sink.Store, forwarder outbound.Forwarder, publisher outbound.Publisher, logger *slog.Logger) *CaptureService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureService{
		store:     store,
		forwarder: forwarder,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// resolve returns a snapshot of an active sink.
func (s *CaptureService) resolve(ctx context.Context, sinkID string) (*sink.Sink, error) {
	sk, err := s.store.Get(ctx, sinkID)
	if err != nil {
		if errors.Is(err, sink.ErrSinkNotFound) {
			return nil, &NotFoundError{SinkID: sinkID}
		}
		return nil, err
	}
	if !sk.Active {
		return nil, &NotFoundError{SinkID: sinkID}
	}
	return sk, nil
}

// Capture records one inbound request against sinkID.
func (s *CaptureService) Capture(ctx context.Context, sinkID string, in inbound.CaptureInput) (*inbound.CaptureResult, error) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	sk, err := s.resolve(ctx, sinkID)
	if err != nil {
		return nil, err
	}

	req := s.buildRequest(in)

	// The relay outcome is attached before Append so readers never observe
	// a half-populated forwarded request.
	var resp *sink.CapturedResponse
	if sk.IsForwardingEnabled() && s.forwarder != nil {
		resp = s.forwarder.Relay(ctx, req, sk.ForwardURL)
		logger.Debug("request forwarded",
			"sink_id", sinkID,
			"forwarded_to", req.ForwardedTo,
			"status", resp.StatusCode,
			"duration", req.ForwardDuration,
		)
	}

	if err := s.store.Append(ctx, sinkID, req); err != nil {
		return nil, fmt.Errorf("failed to store request: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(sinkID, req.Clone())
	}

	logger.Info("request captured",
		"sink_id", sinkID,
		"capture_id", req.ID,
		"method", req.Method,
		"path", req.Path,
		"forwarded", req.WasForwarded,
	)

	return &inbound.CaptureResult{SinkID: sinkID, Request: req, Response: resp}, nil
}

// SetForwardURL sets or clears the relay target of an active sink.
func (s *CaptureService) SetForwardURL(ctx context.Context, sinkID, forwardURL string) error {
	if _, err := s.resolve(ctx, sinkID); err != nil {
		return err
	}
	if err := sink.ValidateForwardURL(forwardURL); err != nil {
		return err
	}
	if !s.store.SetForwardURL(ctx, sinkID, forwardURL) {
		return fmt.Errorf("%w for sink %s", sink.ErrForwardUpdateFailed, sinkID)
	}

	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	if forwardURL == "" {
		logger.Info("forwarding disabled", "sink_id", sinkID)
	} else {
		logger.Info("forward url updated", "sink_id", sinkID, "forward_url", forwardURL)
	}
	return nil
}

// buildRequest converts transport input into a CapturedRequest.
func (s *CaptureService) buildRequest(in inbound.CaptureInput) *sink.CapturedRequest {
	headers := joinValues(in.Headers)

	var body string
	if in.ContentLength != 0 && len(in.Body) > 0 {
		body = strings.ToValidUTF8(string(in.Body), "\uFFFD")
	}

	contentLength := in.ContentLength
	if contentLength < 0 {
		contentLength = int64(len(in.Body))
	}

	return &sink.CapturedRequest{
		ID:            uuid.NewString(),
		Timestamp:     s.now(),
		Method:        in.Method,
		Path:          normalizePath(in.Path),
		Headers:       headers,
		Body:          body,
		QueryParams:   joinValues(in.Query),
		ClientIP:      clientIP(in.Headers, in.RemoteAddr),
		UserAgent:     headerValue(in.Headers, "User-Agent"),
		ContentType:   headerValue(in.Headers, "Content-Type"),
		ContentLength: contentLength,
	}
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func joinValues(m map[string][]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// headerValue looks name up case-insensitively and joins repeated values.
func headerValue(h map[string][]string, name string) string {
	if v, ok := h[name]; ok {
		return strings.Join(v, ", ")
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return strings.Join(v, ", ")
		}
	}
	return ""
}

// clientIP prefers the first X-Forwarded-For entry, then the peer host.
func clientIP(h map[string][]string, remoteAddr string) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := headerValue(h, "X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Compile-time interface verification.
var _ inbound.CaptureService = (*CaptureService)(nil)
