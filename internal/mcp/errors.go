package mcp

import "fmt"

// TransportError indicates the channel to a tool server is broken: the
// subprocess died, the socket closed, or a write/read failed outright.
// Unlike a tool error, which is fed back into the conversation, a
// TransportError is fatal to the session.
type TransportError struct {
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (server %s): %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
