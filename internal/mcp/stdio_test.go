package mcp

import (
	"context"
	"errors"
	"testing"
	"time"
)

// cat echoes each request line back verbatim, which parses as a
// response with a matching ID. Good enough to exercise the framing.
func TestStdioTransport_SendRoundtrip(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "cat"})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.ID != 1 {
		t.Errorf("resp.ID = %d, want 1", resp.ID)
	}
}

func TestStdioTransport_SkipsNonJSONLines(t *testing.T) {
	// The subprocess emits a junk line before echoing the request.
	tr := NewStdioTransport(StdioConfig{
		Command: "sh",
		Args:    []string{"-c", `read line; echo "starting up"; echo "$line"`},
	})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), NewRequest(7, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.ID != 7 {
		t.Errorf("resp.ID = %d, want 7", resp.ID)
	}
}

func TestStdioTransport_SendContextTimeout(t *testing.T) {
	// sleep never responds; the read must unblock on context expiry.
	tr := NewStdioTransport(StdioConfig{
		Command: "sleep",
		Args:    []string{"60"},
	})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, NewRequest(1, "ping", nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() = %v, want context.DeadlineExceeded", err)
	}
}

func TestStdioTransport_NotifyWrites(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "cat"})
	defer tr.Close()

	if err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestStdioTransport_CloseWithoutStart(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "cat"})
	if err := tr.Close(); err != nil {
		t.Errorf("Close() on unstarted transport = %v, want nil", err)
	}
}

func TestStdioTransport_SendAfterClose_Restarts(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "cat"})

	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A new subprocess is started on demand.
	resp, err := tr.Send(context.Background(), NewRequest(2, "ping", nil))
	if err != nil {
		t.Fatalf("Send after Close: %v", err)
	}
	if resp.ID != 2 {
		t.Errorf("resp.ID = %d, want 2", resp.ID)
	}
	tr.Close()
}

func TestStdioTransport_StartUnknownCommand(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "/nonexistent/tool-server"})

	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send with unknown command should fail")
	}
}
