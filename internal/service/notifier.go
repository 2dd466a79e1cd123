package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/requestsink/requestsink/internal/domain/sink"
	"github.com/requestsink/requestsink/internal/port/outbound"
)

// EventNewRequest is the type tag of capture events pushed to subscribers.
const EventNewRequest = "NewRequest"

// Connection is a live subscriber endpoint, such as a WebSocket client.
type Connection interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Send delivers one encoded event. It must be safe for concurrent use.
	Send(ctx context.Context, payload []byte) error
}

// RequestEvent is the payload delivered to sink subscribers.
type RequestEvent struct {
	Type    string                `json:"type"`
	SinkID  string                `json:"sinkId"`
	Request *sink.CapturedRequest `json:"request"`
}

type publication struct {
	sinkID string
	req    *sink.CapturedRequest
}

// Notifier fans capture events out to the connections subscribed to a sink.
// Publish enqueues onto a bounded channel and never blocks; a background
// worker does the actual delivery.
type Notifier struct {
	store  sink.Store
	logger *slog.Logger

	queue       chan publication
	queueSize   int
	sendTimeout time.Duration
	dropCount   atomic.Int64

	mu     sync.RWMutex
	topics map[string]map[string]Connection // sinkID -> connID -> conn
	joined map[string]map[string]struct{}   // connID -> sinkIDs

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NotifierOption configures Notifier.
type NotifierOption func(*Notifier)

// WithQueueSize sets the capacity of the event queue.
func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan publication, size)
			n.queueSize = size
		}
	}
}

// WithNotifySendTimeout bounds each delivery to a single connection.
func WithNotifySendTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.sendTimeout = d
		}
	}
}

// NewNotifier creates a Notifier. store is updated on subscribe and disconnect.
func NewNotifier(store sink.Store, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	defaultQueueSize := 1000
	n := &Notifier{
		store:       store,
		logger:      logger,
		queue:       make(chan publication, defaultQueueSize),
		queueSize:   defaultQueueSize,
		sendTimeout: 5 * time.Second,
		topics:      make(map[string]map[string]Connection),
		joined:      make(map[string]map[string]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start begins the background delivery worker. The worker exits when ctx is
// cancelled or Stop is called, delivering what is already queued either way.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.worker(ctx)
}

// Stop signals the worker to exit after delivering what is already queued,
// and waits for it. Safe to call multiple times.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.done)
	})
	n.wg.Wait()
}

// Subscribe adds conn to the sink's topic and records it as the sink's
// watching connection. Subscribing to an unknown sink is allowed; it merely
// receives nothing until such a sink captures traffic.
func (n *Notifier) Subscribe(ctx context.Context, sinkID string, conn Connection) {
	connID := conn.ID()

	n.mu.Lock()
	subs, ok := n.topics[sinkID]
	if !ok {
		subs = make(map[string]Connection)
		n.topics[sinkID] = subs
	}
	subs[connID] = conn

	sinks, ok := n.joined[connID]
	if !ok {
		sinks = make(map[string]struct{})
		n.joined[connID] = sinks
	}
	sinks[sinkID] = struct{}{}
	n.mu.Unlock()

	// Single watcher per sink: the latest join wins.
	n.store.SetConnection(ctx, sinkID, connID)
}

// Unsubscribe removes conn from the sink's topic. The sink stays active.
func (n *Notifier) Unsubscribe(sinkID string, conn Connection) {
	connID := conn.ID()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.removeLocked(sinkID, connID)
	if sinks, ok := n.joined[connID]; ok {
		delete(sinks, sinkID)
		if len(sinks) == 0 {
			delete(n.joined, connID)
		}
	}
}

// Disconnect drops every subscription held by conn and marks inactive each
// joined sink that conn is still the watching connection of. A sink another
// connection joined later stays active with its new watcher.
func (n *Notifier) Disconnect(ctx context.Context, conn Connection) {
	connID := conn.ID()

	n.mu.Lock()
	sinks := n.joined[connID]
	delete(n.joined, connID)
	for sinkID := range sinks {
		n.removeLocked(sinkID, connID)
	}
	n.mu.Unlock()

	deactivated := 0
	for sinkID := range sinks {
		if n.store.MarkInactiveIfWatchedBy(ctx, sinkID, connID) {
			deactivated++
		}
	}
	if len(sinks) > 0 {
		n.logger.Debug("connection closed",
			"connection_id", connID,
			"sinks_joined", len(sinks),
			"sinks_deactivated", deactivated,
		)
	}
}

func (n *Notifier) removeLocked(sinkID, connID string) {
	subs, ok := n.topics[sinkID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(n.topics, sinkID)
	}
}

// Publish enqueues a NewRequest event for the sink's subscribers.
// When the queue is full the event is dropped and counted.
func (n *Notifier) Publish(sinkID string, req *sink.CapturedRequest) {
	select {
	case n.queue <- publication{sinkID: sinkID, req: req}:
	default:
		drops := n.dropCount.Add(1)
		n.logger.Warn("notification dropped", "sink_id", sinkID, "total_drops", drops)
	}
}

// DroppedEvents returns the number of events dropped on a full queue.
func (n *Notifier) DroppedEvents() int64 {
	return n.dropCount.Load()
}

// QueueDepth returns the number of events waiting for delivery.
func (n *Notifier) QueueDepth() int {
	return len(n.queue)
}

// QueueCapacity returns the event queue size.
func (n *Notifier) QueueCapacity() int {
	return n.queueSize
}

// SubscriberCount returns how many connections watch sinkID.
func (n *Notifier) SubscriberCount(sinkID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.topics[sinkID])
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case p := <-n.queue:
			n.dispatch(ctx, p)
		case <-ctx.Done():
			// Sends keep their own timeout once the parent is gone.
			n.drain(context.WithoutCancel(ctx))
			return
		case <-n.done:
			n.drain(ctx)
			return
		}
	}
}

// drain delivers whatever is still queued, then returns.
func (n *Notifier) drain(ctx context.Context) {
	for {
		select {
		case p := <-n.queue:
			n.dispatch(ctx, p)
		default:
			return
		}
	}
}

// dispatch delivers one event to every connection subscribed right now.
func (n *Notifier) dispatch(ctx context.Context, p publication) {
	n.mu.RLock()
	subs := make([]Connection, 0, len(n.topics[p.sinkID]))
	for _, conn := range n.topics[p.sinkID] {
		subs = append(subs, conn)
	}
	n.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(RequestEvent{Type: EventNewRequest, SinkID: p.sinkID, Request: p.req})
	if err != nil {
		n.logger.Error("failed to encode notification", "sink_id", p.sinkID, "error", err)
		return
	}

	for _, conn := range subs {
		sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
		if err := conn.Send(sendCtx, payload); err != nil {
			n.logger.Debug("notification delivery failed",
				"sink_id", p.sinkID,
				"connection_id", conn.ID(),
				"error", err,
			)
		}
		cancel()
	}
}

// Compile-time interface verification.
var _ outbound.Publisher = (*Notifier)(nil)
