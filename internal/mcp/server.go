package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nimbuslabs/nimbus/internal/tools"
)

// Server exposes a tool registry over the protocol. It serves stdio
// (newline-delimited JSON-RPC on stdin/stdout) and WebSocket; each
// connection performs its own initialize handshake.
type Server struct {
	name     string
	version  string
	registry *tools.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a server that exposes the registry's tools under
// the given server name and version.
func NewServer(name, version string, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:     name,
		version:  version,
		registry: registry,
		logger:   logger.With("component", "mcp_server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
		},
	}
}

// serverConn tracks per-connection handshake state.
type serverConn struct {
	srv         *Server
	initialized bool
}

// ServeStdio reads newline-delimited JSON-RPC messages from r and
// writes responses to w until EOF or a read error. Blank lines are
// skipped; notifications produce no response.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	conn := &serverConn{srv: s}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := conn.handle(ctx, line)
		if resp == nil {
			continue
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	return scanner.Err()
}

// ServeWS upgrades an HTTP request to a WebSocket and serves JSON-RPC
// messages on it until the peer disconnects. Suitable as an
// http.HandlerFunc.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	s.logger.Info("websocket client connected", "remote", ws.RemoteAddr().String())

	conn := &serverConn{srv: s}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		resp := conn.handle(r.Context(), data)
		if resp == nil {
			continue
		}

		if err := ws.WriteJSON(resp); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// incomingMessage distinguishes requests from notifications: a
// notification carries no id.
type incomingMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// handle processes one raw JSON-RPC message and returns the response,
// or nil for notifications.
func (c *serverConn) handle(ctx context.Context, raw []byte) any {
	s := c.srv

	var msg incomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("unparseable message", "error", err)
		return newParseErrorResponse(fmt.Sprintf("parse error: %v", err))
	}

	if msg.ID == nil {
		// Notification. notifications/initialized completes the
		// handshake; anything else is ignored.
		s.logger.Debug("notification received", "method", msg.Method)
		return nil
	}

	id := *msg.ID

	switch msg.Method {
	case "initialize":
		return c.handleInitialize(id, msg.Params)
	case "ping":
		return c.respond(id, map[string]any{})
	case "tools/list":
		return c.handleToolsList(id)
	case "tools/call":
		return c.handleToolsCall(ctx, id, msg.Params)
	default:
		s.logger.Debug("unknown method", "method", msg.Method)
		return NewErrorResponse(id, CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))
	}
}

// initializeParams is the subset of the initialize request we care about.
type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (c *serverConn) handleInitialize(id int64, params json.RawMessage) *Response {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return NewErrorResponse(id, CodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err))
		}
	}

	c.initialized = true
	c.srv.logger.Info("client initialized",
		"client_name", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
		"protocol_version", p.ProtocolVersion,
	)

	return c.respond(id, initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: c.srv.name, Version: c.srv.version},
		Capabilities:    serverCapabilities{Tools: &struct{}{}},
	})
}

func (c *serverConn) handleToolsList(id int64) *Response {
	if !c.initialized {
		return NewErrorResponse(id, CodeInvalidRequest, "server not initialized")
	}

	registered := c.srv.registry.Tools()
	defs := make([]ToolDefinition, 0, len(registered))
	for _, t := range registered {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return c.respond(id, toolsListResult{Tools: defs})
}

// callToolParams is the params payload of a tools/call request.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (c *serverConn) handleToolsCall(ctx context.Context, id int64, params json.RawMessage) *Response {
	if !c.initialized {
		return NewErrorResponse(id, CodeInvalidRequest, "server not initialized")
	}

	var p callToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return NewErrorResponse(id, CodeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", err))
	}
	if p.Name == "" {
		return NewErrorResponse(id, CodeInvalidParams, "tools/call params missing name")
	}

	result, err := c.srv.registry.Execute(ctx, p.Name, p.Arguments)
	if err != nil {
		// Tool-level failures (unknown tool, bad arguments, handler
		// error) feed back to the caller as isError results so the
		// session keeps going. Only protocol violations get JSON-RPC
		// error responses.
		c.srv.logger.Warn("tool call failed", "tool", p.Name, "error", err)
		return c.respond(id, callToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}

	return c.respond(id, callToolResult{
		Content: []ContentBlock{{Type: "text", Text: result}},
	})
}

// respond marshals a success result, degrading to an internal error
// response if the payload cannot be encoded.
func (c *serverConn) respond(id int64, result any) *Response {
	resp, err := NewResultResponse(id, result)
	if err != nil {
		c.srv.logger.Error("marshal result failed", "error", err)
		return NewErrorResponse(id, CodeInternalError, "internal error")
	}
	return resp
}
