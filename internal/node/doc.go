// Package node wires the supervisor into the node's lifecycle.
//
// Initialize runs once at startup: it waits for the network, resolves the
// broker (from config or mDNS), configures the supervisor and requests the
// first connection. Poll is called on every loop tick; it drives reconnects
// and the optional heartbeat message. Run owns the loop.
package node
