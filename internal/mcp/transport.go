package mcp

import "context"

// Transport is the interface for delivering JSON-RPC messages to a tool
// server. Implementations handle framing, encoding, and response
// correlation for a specific channel (stdio, HTTP, or WebSocket).
type Transport interface {
	// Send sends a JSON-RPC request and returns the matching response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}
