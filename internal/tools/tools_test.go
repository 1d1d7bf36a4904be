package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestRegister_InvalidNames(t *testing.T) {
	reg := NewRegistry(nil)

	bad := []string{"", "get weather", "get-weather", "météo", "tools/call", "a.b"}
	for _, name := range bad {
		err := reg.Register(&Tool{Name: name, Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})
		var invalid *InvalidToolNameError
		if !errors.As(err, &invalid) {
			t.Errorf("Register(%q) error = %v, want *InvalidToolNameError", name, err)
		}
	}

	good := []string{"get_weather", "Tool2", "_hidden", "ALLCAPS"}
	for _, name := range good {
		if err := reg.Register(echoTool(name)); err != nil {
			t.Errorf("Register(%q) error = %v, want nil", name, err)
		}
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry(nil)

	first := echoTool("echo")
	if err := reg.Register(first); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := reg.Register(echoTool("echo"))
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("Register duplicate error = %v, want *DuplicateToolError", err)
	}
	if dup.Name != "echo" {
		t.Errorf("dup.Name = %q, want %q", dup.Name, "echo")
	}

	// The registry still contains only the first registration.
	if got := reg.Get("echo"); got != first {
		t.Error("registry no longer holds the first registration")
	}
	if names := reg.Names(); len(names) != 1 {
		t.Errorf("Names() = %v, want 1 entry", names)
	}
}

func TestNames_RegistrationOrder(t *testing.T) {
	reg := NewRegistry(nil)
	order := []string{"zeta", "alpha", "mid"}
	for _, name := range order {
		if err := reg.Register(echoTool(name)); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}

	got := reg.Names()
	if len(got) != len(order) {
		t.Fatalf("Names() = %v, want %v", got, order)
	}
	for i := range order {
		if got[i] != order[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], order[i])
		}
	}

	defs := reg.List()
	if len(defs) != len(order) {
		t.Fatalf("List() = %d defs, want %d", len(defs), len(order))
	}
	fn := defs[0]["function"].(map[string]any)
	if fn["name"] != "zeta" {
		t.Errorf("List()[0] name = %v, want zeta", fn["name"])
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	invoked := 0
	reg.Register(&Tool{
		Name: "present",
		Handler: func(context.Context, map[string]any) (string, error) {
			invoked++
			return "", nil
		},
	})

	_, err := reg.Execute(context.Background(), "absent", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Execute error = %v, want *UnknownToolError", err)
	}
	if invoked != 0 {
		t.Errorf("handler invoked %d times, want 0", invoked)
	}
}

func TestExecute_InvalidArguments(t *testing.T) {
	reg := NewRegistry(nil)
	invoked := 0
	reg.Register(&Tool{
		Name:        "get_weather",
		Description: "weather lookup",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
				"days":     map[string]any{"type": "integer"},
			},
			"required": []string{"location"},
		},
		Handler: func(context.Context, map[string]any) (string, error) {
			invoked++
			return "sunny", nil
		},
	})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"missing required nil args", nil},
		{"wrong type", map[string]any{"location": 42}},
		{"wrong type optional", map[string]any{"location": "Springfield", "days": "three"}},
	}

	for _, tt := range tests {
		_, err := reg.Execute(context.Background(), "get_weather", tt.args)
		var invalid *InvalidArgumentsError
		if !errors.As(err, &invalid) {
			t.Errorf("%s: error = %v, want *InvalidArgumentsError", tt.name, err)
		}
	}
	if invoked != 0 {
		t.Errorf("handler invoked %d times, want 0", invoked)
	}

	got, err := reg.Execute(context.Background(), "get_weather", map[string]any{"location": "Springfield"})
	if err != nil {
		t.Fatalf("Execute with valid args: %v", err)
	}
	if got != "sunny" {
		t.Errorf("result = %q, want %q", got, "sunny")
	}
	if invoked != 1 {
		t.Errorf("handler invoked %d times, want 1", invoked)
	}
}

func TestExecute_HandlerError(t *testing.T) {
	reg := NewRegistry(nil)
	boom := fmt.Errorf("upstream unreachable")
	reg.Register(&Tool{
		Name: "flaky",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", boom
		},
	})

	_, err := reg.Execute(context.Background(), "flaky", nil)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("Execute error = %v, want *HandlerError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("HandlerError should wrap the handler's error")
	}
}

func TestExecute_HandlerPanic(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&Tool{
		Name: "panicky",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("nil map write")
		},
	})

	result, err := reg.Execute(context.Background(), "panicky", nil)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("Execute error = %v, want *HandlerError", err)
	}
	if result != "" {
		t.Errorf("result = %q, want empty", result)
	}
}

func TestExecuteJSON(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(echoTool("echo"))

	got, err := reg.ExecuteJSON(context.Background(), "echo", `{"text":"hello"}`)
	if err != nil {
		t.Fatalf("ExecuteJSON: %v", err)
	}
	if got != "hello" {
		t.Errorf("result = %q, want %q", got, "hello")
	}

	_, err = reg.ExecuteJSON(context.Background(), "echo", `{not json`)
	var invalid *InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Errorf("ExecuteJSON with bad JSON error = %v, want *InvalidArgumentsError", err)
	}
}

func TestRegister_BadSchema(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.Register(&Tool{
		Name: "broken",
		Parameters: map[string]any{
			"type":     "object",
			"required": "location", // must be an array
		},
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	if err == nil {
		t.Fatal("Register with malformed schema should error")
	}
	if reg.Get("broken") != nil {
		t.Error("failed registration must not leave the tool behind")
	}
}
