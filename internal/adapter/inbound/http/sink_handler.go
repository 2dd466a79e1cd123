package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/requestsink/requestsink/internal/domain/sink"
	"github.com/requestsink/requestsink/internal/port/inbound"
)

// maxCaptureBodyBytes caps how much of an inbound body is recorded.
const maxCaptureBodyBytes = 10 * 1024 * 1024 // 10MB

// mirrorSkipHeaders are set by the server itself when mirroring an upstream reply.
var mirrorSkipHeaders = map[string]struct{}{
	"server":            {},
	"date":              {},
	"content-length":    {},
	"transfer-encoding": {},
}

// SinkManager is the sink lifecycle surface used by the management API.
type SinkManager interface {
	Create(ctx context.Context, connectionID string) (*sink.Sink, error)
	Get(ctx context.Context, id string) (*sink.Sink, error)
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) []*sink.Sink
}

// SinkHandler serves the capture endpoint, the forward URL endpoint and the
// sink management API.
type SinkHandler struct {
	capture inbound.CaptureService
	sinks   SinkManager
	metrics *Metrics
	logger  *slog.Logger
}

// NewSinkHandler creates a SinkHandler. metrics may be nil.
func NewSinkHandler(capture inbound.CaptureService, sinks SinkManager, metrics *Metrics, logger *slog.Logger) *SinkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkHandler{
		capture: capture,
		sinks:   sinks,
		metrics: metrics,
		logger:  logger,
	}
}

// Register mounts the handler's routes on mux.
func (h *SinkHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sink/{sinkId}", h.handleCapture)
	mux.HandleFunc("/sink/{sinkId}/{path...}", h.handleCapture)
	mux.HandleFunc("POST /sink/{sinkId}/api/forward-url", h.handleSetForwardURL)

	mux.HandleFunc("POST /api/sinks", h.handleCreateSink)
	mux.HandleFunc("GET /api/sinks", h.handleListSinks)
	mux.HandleFunc("GET /api/sinks/{sinkId}", h.handleGetSink)
	mux.HandleFunc("DELETE /api/sinks/{sinkId}", h.handleDeleteSink)
}

// captureAck is returned when a sink records without forwarding.
type captureAck struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
	Sink      string    `json:"sink"`
}

func (h *SinkHandler) handleCapture(w http.ResponseWriter, r *http.Request) {
	sinkID := r.PathValue("sinkId")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBodyBytes))
	if err != nil {
		LoggerFromContext(r.Context()).Warn("failed to read request body", "sink_id", sinkID, "error", err)
		h.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	headers := r.Header.Clone()
	if r.Host != "" {
		// net/http moves Host out of the header map.
		headers.Set("Host", r.Host)
	}

	res, err := h.capture.Capture(r.Context(), sinkID, inbound.CaptureInput{
		Method:        r.Method,
		Path:          relayPath(r),
		Headers:       headers,
		Query:         r.URL.Query(),
		Body:          body,
		ContentLength: r.ContentLength,
		RemoteAddr:    r.RemoteAddr,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.recordCapture(res)

	if res.Forwarded() {
		h.mirror(w, res.Response)
		return
	}

	h.respondJSON(w, http.StatusOK, captureAck{
		Message:   "Request captured successfully",
		Timestamp: res.Timestamp(),
		RequestID: res.Request.ID,
		Sink:      res.SinkID,
	})
}

// relayPath returns the part of the request path after /sink/{sinkId}, still
// percent-encoded, so an encoded '?' or '#' stays part of the path when the
// capture is relayed.
func relayPath(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/sink/")
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "/"
	}
	return rest[i:]
}

// mirror replays an upstream reply as the response to the captured request.
func (h *SinkHandler) mirror(w http.ResponseWriter, resp *sink.CapturedResponse) {
	for name, value := range resp.Headers {
		if _, skip := mirrorSkipHeaders[strings.ToLower(name)]; skip {
			continue
		}
		w.Header().Set(name, value)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.WriteString(w, resp.Body); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		h.logger.Debug("failed to write mirrored body", "error", err)
	}
}

func (h *SinkHandler) recordCapture(res *inbound.CaptureResult) {
	if h.metrics == nil {
		return
	}
	h.metrics.CapturesTotal.WithLabelValues(strconv.FormatBool(res.Forwarded())).Inc()
	if res.Forwarded() {
		h.metrics.ForwardDuration.Observe(res.Request.ForwardDuration.Seconds())
		if res.Response.IsForwardFailure() {
			h.metrics.ForwardFailures.Inc()
		}
	}
}

type forwardURLRequest struct {
	ForwardURL *string `json:"forwardUrl"`
}

type forwardURLResponse struct {
	Message    string  `json:"message"`
	ForwardURL *string `json:"forwardUrl"`
}

func (h *SinkHandler) handleSetForwardURL(w http.ResponseWriter, r *http.Request) {
	sinkID := r.PathValue("sinkId")

	var req forwardURLRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	forwardURL := ""
	if req.ForwardURL != nil {
		forwardURL = strings.TrimSpace(*req.ForwardURL)
	}

	if err := h.capture.SetForwardURL(r.Context(), sinkID, forwardURL); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := forwardURLResponse{Message: "Forward URL updated successfully"}
	if forwardURL != "" {
		resp.ForwardURL = &forwardURL
	}
	h.respondJSON(w, http.StatusOK, resp)
}

type createSinkResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// sinkSummary is the list view of a sink, without its history.
type sinkSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Active       bool      `json:"isActive"`
	RequestCount int       `json:"requestCount"`
	MaxRequests  int       `json:"maxRequests"`
	ForwardURL   string    `json:"forwardUrl,omitempty"`
}

func (h *SinkHandler) handleCreateSink(w http.ResponseWriter, r *http.Request) {
	created, err := h.sinks.Create(r.Context(), "")
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, createSinkResponse{
		ID:  created.ID,
		URL: sinkURL(r, created.ID),
	})
}

func (h *SinkHandler) handleListSinks(w http.ResponseWriter, r *http.Request) {
	sinks := h.sinks.ListActive(r.Context())
	out := make([]sinkSummary, 0, len(sinks))
	for _, sk := range sinks {
		out = append(out, sinkSummary{
			ID:           sk.ID,
			CreatedAt:    sk.CreatedAt,
			LastActivity: sk.LastActivity,
			Active:       sk.Active,
			RequestCount: len(sk.Requests),
			MaxRequests:  sk.MaxRequests,
			ForwardURL:   sk.ForwardURL,
		})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *SinkHandler) handleGetSink(w http.ResponseWriter, r *http.Request) {
	sk, err := h.sinks.Get(r.Context(), r.PathValue("sinkId"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sk)
}

func (h *SinkHandler) handleDeleteSink(w http.ResponseWriter, r *http.Request) {
	if err := h.sinks.Delete(r.Context(), r.PathValue("sinkId")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleServiceError maps service errors to HTTP responses.
func (h *SinkHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sink.ErrSinkNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sink.ErrInvalidForwardURL), errors.Is(err, sink.ErrForwardUpdateFailed):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// sinkURL builds the absolute capture URL of a sink as seen by the caller.
func sinkURL(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/sink/" + id
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *SinkHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *SinkHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
// Returns an error if the body cannot be decoded as JSON.
func (h *SinkHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(v)
}
