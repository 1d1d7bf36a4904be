// Package mcp implements both sides of the MCP (Model Context Protocol)
// tool-calling wire: a client that connects to tool servers and a server
// that exposes a local tool registry.
//
// MCP uses JSON-RPC 2.0 over three transports: stdio (newline-delimited
// messages to a subprocess), HTTP POST, and WebSocket. The client
// performs the initialize handshake, discovers tools via tools/list, and
// invokes them via tools/call. Discovered tools are bridged into the
// local tool registry so the model sees them as native tools.
//
// Transport failures are surfaced as *TransportError so callers can tell
// a dead channel apart from a tool that merely failed. A tool failure
// comes back as an isError result and feeds back into the conversation;
// a TransportError ends the session.
package mcp
