package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestClient spins up a WebSocket server backed by testRegistry and
// returns a client connected to it.
func wsTestClient(t *testing.T) *Client {
	t.Helper()

	srv := NewServer("nimbus-weather", "1.0.0", testRegistry(t), nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	tr := NewWSTransport(WSConfig{URL: wsURL})

	client := NewClient("weather", tr, nil)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWebSocket_EndToEnd(t *testing.T) {
	client := wsTestClient(t)
	ctx := context.Background()

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "get_weather" {
		t.Fatalf("tools = %+v, want one get_weather", defs)
	}

	result, err := client.CallTool(ctx, "get_weather", map[string]any{"location": "Madison"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !strings.Contains(result, `"temperature":68`) {
		t.Errorf("result = %q, want weather payload", result)
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestWebSocket_ToolErrorFeedsBack(t *testing.T) {
	client := wsTestClient(t)
	ctx := context.Background()

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := client.CallTool(ctx, "get_weather", map[string]any{"location": "Atlantis"})
	if err == nil {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(err.Error(), "no location found") {
		t.Errorf("error = %v, want handler message", err)
	}
}

func TestWSTransport_DialFailure(t *testing.T) {
	tr := NewWSTransport(WSConfig{URL: "ws://127.0.0.1:1/rpc"})

	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send to unreachable server should fail")
	}
}

func TestWSTransport_SendUnblocksOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Swallow requests and never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	tr := NewWSTransport(WSConfig{URL: "ws" + strings.TrimPrefix(ts.URL, "http")})
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tr.Send(ctx, NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send should fail once the context is cancelled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Send blocked %v after cancellation", elapsed)
	}
}

func TestWSTransport_CloseWithoutDial(t *testing.T) {
	tr := NewWSTransport(WSConfig{URL: "ws://127.0.0.1:1/rpc"})
	if err := tr.Close(); err != nil {
		t.Errorf("Close() on undialed transport = %v, want nil", err)
	}
}
