package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nimbuslabs/nimbus/internal/config"
)

func TestRunInit_CreatesConfig(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}

	// The shipped example must parse.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load generated config: %v", err)
	}
	if cfg.Model.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Model.Provider)
	}
	if len(cfg.Servers) == 0 {
		t.Error("example config should configure at least one server")
	}
}

func TestRunInit_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	custom := []byte("model:\n  provider: bedrock\n")
	if err := os.WriteFile(cfgPath, custom, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, custom) {
		t.Error("init overwrote an existing config.yaml")
	}
}

func TestRun_InitSubcommand(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer

	err := run(t.Context(), bytes.NewReader(nil), &stdout, &stderr, []string{"init", dir})
	if err != nil {
		t.Fatalf("run init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config.yaml not created: %v", err)
	}
}
