// Package api implements the node's status HTTP server.
//
// Routes:
//   - GET /healthz: 200 while the broker session is open, 503 otherwise
//   - GET /metrics: Prometheus exposition (when a metrics handler is supplied)
//   - GET /api/v1/health: version, uptime and named dependency checks
//   - GET /api/v1/status: connection state, broker and backoff window
//   - GET /api/v1/ws: WebSocket stream of connection events
//
// The WebSocket Hub implements supervisor.Observer, so every connection
// attempt, state change and publish outcome is broadcast to subscribed
// clients. Clients subscribe by sending
//
//	{"type":"subscribe","id":"1","payload":{"channels":["connection.state_changed"]}}
//
// Unknown channels are rejected with an error frame. A connection.state_changed
// subscriber first receives the current state.
//
// The server is read-only and unauthenticated; bind it to a management
// interface.
package api
