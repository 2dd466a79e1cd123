// Package http provides the HTTP transport for requestsink.
//
// A sink is a short-lived capture endpoint. Anything sent to it is recorded,
// optionally relayed to the sink's forward URL, and pushed to clients
// watching the sink over the real-time hub.
//
// # Usage
//
//	transport := http.NewHTTPTransport(captureService, sinkService,
//	    http.WithAddr(":8080"),
//	    http.WithHub(hub),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	ANY    /sink/{sinkId}[/{path...}]       - Capture a request
//	POST   /sink/{sinkId}/api/forward-url   - Set or clear the forward URL
//	POST   /api/sinks                       - Create a sink
//	GET    /api/sinks                       - List active sinks
//	GET    /api/sinks/{sinkId}              - Sink with its captured history
//	DELETE /api/sinks/{sinkId}              - Delete a sink
//	GET    /hubs/requests                   - WebSocket hub
//	GET    /health                          - Component health
//	GET    /metrics                         - Prometheus metrics
//
// # Capture responses
//
// Without a forward URL the capture endpoint answers with a JSON
// acknowledgment:
//
//	{"message":"Request captured successfully","timestamp":"...","requestId":"...","sink":"..."}
//
// With a forward URL the upstream reply is mirrored: status, body, content
// type and headers, except Server, Date, Content-Length and
// Transfer-Encoding which the server sets itself. An unreachable upstream is
// mirrored as a synthesized 502.
//
// Unknown and inactive sinks answer 404 with a plain-text message.
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Request count and duration
//  2. RequestIDMiddleware - X-Request-ID correlation and logger enrichment
//  3. RecoveryMiddleware - Panic to 500
//  4. CORSMiddleware - Allow any origin; answers preflights
package http
