package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	sendErr   error                // returned from Send when non-nil
	sent      []Request            // captured requests
	notifs    []Notification       // captured notifications
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	resp, ok := m.responses[req.Method]
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	// Copy response and set matching ID.
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

func TestClient_Initialize(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo:      serverInfo{Name: "weather-server", Version: "1.0.0"},
		Capabilities:    serverCapabilities{},
	})

	client := NewClient("weather", mt, nil)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if len(mt.sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(mt.sent))
	}
	if mt.sent[0].Method != "initialize" {
		t.Errorf("method = %q, want %q", mt.sent[0].Method, "initialize")
	}

	// The handshake finishes with the initialized notification.
	if len(mt.notifs) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(mt.notifs))
	}
	if mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notification method = %q, want %q", mt.notifs[0].Method, "notifications/initialized")
	}

	client.mu.RLock()
	defer client.mu.RUnlock()
	if client.serverName != "weather-server" {
		t.Errorf("serverName = %q, want %q", client.serverName, "weather-server")
	}
}

func TestClient_InitializeSendsClientInfo(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo:      serverInfo{Name: "weather-server", Version: "1.0.0"},
	})

	client := NewClient("weather", mt, nil)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	params, ok := mt.sent[0].Params.(map[string]any)
	if !ok {
		t.Fatalf("params is %T, want map", mt.sent[0].Params)
	}
	if params["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v, want %q", params["protocolVersion"], protocolVersion)
	}
	info, ok := params["clientInfo"].(map[string]any)
	if !ok {
		t.Fatalf("clientInfo is %T, want map", params["clientInfo"])
	}
	if info["name"] != "nimbus" {
		t.Errorf("clientInfo.name = %v, want nimbus", info["name"])
	}
}

func TestClient_ListTools(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/list", toolsListResult{
		Tools: []ToolDefinition{
			{
				Name:        "get_weather",
				Description: "Get current weather for a location",
				InputSchema: map[string]any{"type": "object"},
			},
			{
				Name:        "get_forecast",
				Description: "Get a short forecast",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"location": map[string]any{"type": "string"},
					},
				},
			},
		},
	})

	client := NewClient("weather", mt, nil)

	defs, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	if len(defs) != 2 {
		t.Fatalf("got %d tools, want 2", len(defs))
	}
	if defs[0].Name != "get_weather" {
		t.Errorf("defs[0].Name = %q, want %q", defs[0].Name, "get_weather")
	}
	if defs[1].Name != "get_forecast" {
		t.Errorf("defs[1].Name = %q, want %q", defs[1].Name, "get_forecast")
	}

	// Second call returns the cached list without another request.
	defs2, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools (cached): %v", err)
	}
	if len(defs2) != 2 {
		t.Fatalf("cached: got %d tools, want 2", len(defs2))
	}
	if len(mt.sent) != 1 {
		t.Errorf("sent %d requests, want 1 (single tools/list)", len(mt.sent))
	}
}

func TestClient_CallTool_TextResult(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: `{"location":"Madison, Wisconsin","temperature":68,"condition":"clear"}`},
		},
	})

	client := NewClient("weather", mt, nil)

	result, err := client.CallTool(context.Background(), "get_weather", map[string]any{
		"location": "Madison",
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	want := `{"location":"Madison, Wisconsin","temperature":68,"condition":"clear"}`
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestClient_CallTool_MultipleContentBlocks(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "Result line 1"},
			{Type: "image"},
			{Type: "text", Text: "Result line 2"},
		},
	})

	client := NewClient("weather", mt, nil)

	result, err := client.CallTool(context.Background(), "mixed_tool", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	want := "Result line 1\n[image]\nResult line 2"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestClient_CallTool_ErrorResult(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "no location found matching \"Atlantis\""},
		},
		IsError: true,
	})

	client := NewClient("weather", mt, nil)

	_, err := client.CallTool(context.Background(), "get_weather", map[string]any{
		"location": "Atlantis",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	// A tool error is an ordinary error, not a transport failure.
	var te *TransportError
	if errors.As(err, &te) {
		t.Errorf("tool error should not be a TransportError: %v", err)
	}
}

func TestClient_CallTool_RPCError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("tools/call", CodeMethodNotFound, "method not found")

	client := NewClient("weather", mt, nil)

	_, err := client.CallTool(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error %v should wrap *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestClient_SendFailureIsTransportError(t *testing.T) {
	mt := newMockTransport()
	mt.sendErr = errors.New("broken pipe")

	client := NewClient("weather", mt, nil)

	_, err := client.CallTool(context.Background(), "get_weather", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %v should wrap *TransportError", err)
	}
	if te.Server != "weather" {
		t.Errorf("Server = %q, want %q", te.Server, "weather")
	}
}

func TestClient_Ping(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("ping", map[string]any{})

	client := NewClient("weather", mt, nil)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	mt := newMockTransport()
	client := NewClient("weather", mt, nil)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mt.closed {
		t.Error("transport was not closed")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		blocks []ContentBlock
		want   string
	}{
		{
			name:   "single text block",
			blocks: []ContentBlock{{Type: "text", Text: "hello"}},
			want:   "hello",
		},
		{
			name:   "multiple text blocks",
			blocks: []ContentBlock{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}},
			want:   "a\nb",
		},
		{
			name:   "image placeholder",
			blocks: []ContentBlock{{Type: "image"}},
			want:   "[image]",
		},
		{
			name:   "unknown type",
			blocks: []ContentBlock{{Type: "audio"}},
			want:   "[audio]",
		},
		{
			name:   "empty",
			blocks: nil,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(tt.blocks)
			if got != tt.want {
				t.Errorf("extractText() = %q, want %q", got, tt.want)
			}
		})
	}
}
