package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nimbuslabs/nimbus/internal/buildinfo"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), strings.NewReader(""), &stdout, &stderr, []string{"version"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "nimbus-weather ") {
		t.Errorf("stdout = %q, want version line", stdout.String())
	}
	if !strings.Contains(stdout.String(), buildinfo.Version) || !strings.Contains(stdout.String(), buildinfo.GitCommit) {
		t.Errorf("stdout = %q, want version and commit", stdout.String())
	}
}

func TestRun_UnknownArgument(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), strings.NewReader(""), &stdout, &stderr, []string{"-bogus"})
	if err == nil {
		t.Fatal("run with unknown argument should fail")
	}
}

func TestRun_StdioHandshakeAndList(t *testing.T) {
	stdin := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n",
	)
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), stdin, &stdout, &stderr, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2: %q", len(lines), stdout.String())
	}

	var init struct {
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &init); err != nil {
		t.Fatalf("unmarshal initialize response: %v", err)
	}
	if init.Result.ServerInfo.Name != "nimbus-weather" {
		t.Errorf("serverInfo.name = %q, want nimbus-weather", init.Result.ServerInfo.Name)
	}

	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &list); err != nil {
		t.Fatalf("unmarshal tools/list response: %v", err)
	}

	var names []string
	for _, tool := range list.Result.Tools {
		names = append(names, tool.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "get_weather") || !strings.Contains(joined, "get_forecast") {
		t.Errorf("tools = %v, want get_weather and get_forecast", names)
	}

	// Protocol traffic stays off stderr.
	if strings.Contains(stderr.String(), `"jsonrpc"`) {
		t.Error("stderr should carry logs only")
	}
}
