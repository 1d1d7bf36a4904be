package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket transport that talks to a remote tool
// server over a persistent socket.
type WSConfig struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Headers are additional HTTP headers sent with the upgrade
	// request (e.g., Authorization).
	Headers map[string]string

	// HandshakeTimeout bounds the dial. Zero means 10 seconds.
	HandshakeTimeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WSTransport carries JSON-RPC messages over a single WebSocket
// connection. Each request is written as one text message; responses
// are read until one with a matching ID arrives.
type WSTransport struct {
	config WSConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport creates a WebSocket transport for the given config.
// The connection is not dialed until the first Send or Notify call.
func NewWSTransport(cfg WSConfig) *WSTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &WSTransport{
		config: cfg,
		logger: logger,
	}
}

// connect dials the server if no connection is live. Caller must hold t.mu.
func (t *WSTransport) connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	t.logger.Info("dialing tool server", "url", t.config.URL)

	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", t.config.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	t.conn = conn
	return nil
}

// Send writes a JSON-RPC request and reads messages until the matching
// response arrives. The mutex serializes calls since gorilla connections
// do not support concurrent writers.
func (t *WSTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	if err := t.conn.WriteJSON(req); err != nil {
		t.drop()
		return nil, fmt.Errorf("write to tool server socket: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	// gorilla reads do not take a context. Expire the read deadline on
	// cancellation so a blocked read unblocks.
	conn := t.conn
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.drop()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("read from tool server socket: %w", ctx.Err())
			}
			return nil, fmt.Errorf("read from tool server socket: %w", err)
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Debug("skipping non-JSON message from tool server",
				"message", string(data),
			)
			continue
		}

		if resp.ID == req.ID {
			return &resp, nil
		}

		t.logger.Debug("skipping unmatched message", "id", resp.ID)
	}
}

// Notify writes a JSON-RPC notification. No response is expected.
func (t *WSTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return err
	}

	if err := t.conn.WriteJSON(notif); err != nil {
		t.drop()
		return fmt.Errorf("write notification to tool server socket: %w", err)
	}

	return nil
}

// Close sends a close frame and tears down the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	err := t.conn.Close()
	t.conn = nil
	return err
}

// drop discards a broken connection so the next call redials. Caller
// must hold t.mu.
func (t *WSTransport) drop() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
