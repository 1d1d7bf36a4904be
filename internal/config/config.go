// Package config handles nimbus configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nimbus/config.yaml, /etc/nimbus/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nimbus", "config.yaml"))
	}

	paths = append(paths, "/etc/nimbus/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all nimbus configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Session   SessionConfig   `yaml:"session"`
	Servers   []ServerConfig  `yaml:"servers"`
	LogLevel  string          `yaml:"log_level"`
}

// ModelConfig selects the completion provider and model.
type ModelConfig struct {
	// Provider is "anthropic" (direct API) or "bedrock" (AWS gateway).
	Provider string `yaml:"provider"`
	// Name is the provider-specific model identifier.
	Name string `yaml:"name"`
	// MaxTokens caps the completion length (default 2048).
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls sampling (default 0).
	Temperature float32 `yaml:"temperature"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// BedrockConfig defines AWS Bedrock gateway settings. Credentials come
// from the standard AWS credential chain (env, shared config, IMDS).
type BedrockConfig struct {
	Region string `yaml:"region"`
}

// SessionConfig bounds the client-side session loop.
type SessionConfig struct {
	// MaxToolRounds limits completion/tool-dispatch cycles per user
	// turn. Zero means the default (8).
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// SystemPrompt overrides the default system prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// ServerConfig describes one tool server connection.
type ServerConfig struct {
	// Name identifies the server; it prefixes bridged tool names.
	Name string `yaml:"name"`

	// Transport is "stdio", "http", or "websocket".
	Transport string `yaml:"transport"`

	// Command and Args launch the subprocess for stdio transports.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Env holds additional "KEY=VALUE" entries for the subprocess.
	Env []string `yaml:"env"`

	// URL is the endpoint for http and websocket transports.
	URL string `yaml:"url"`
	// Headers are sent with every http transport request.
	Headers map[string]string `yaml:"headers"`

	// IncludeTools / ExcludeTools filter which discovered tools are
	// bridged. Include wins when both are set.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "anthropic",
			Name:        "claude-sonnet-4-20250514",
			MaxTokens:   2048,
			Temperature: 0,
		},
		Bedrock: BedrockConfig{
			Region: "us-west-2",
		},
		Session: SessionConfig{
			MaxToolRounds: 8,
		},
	}
}
