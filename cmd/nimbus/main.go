// Nimbus is an interactive chat client that mediates tool calls between
// a model and one or more tool server processes.
//
// It connects to the configured servers (spawning stdio servers as
// subprocesses), discovers their tools, and exposes them to the model.
// When the model requests a tool call, nimbus dispatches it to the
// owning server and feeds the result back into the conversation.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	nimbus                   Start an interactive chat session
//	nimbus ask <question>    Ask a single question and exit
//	nimbus init [dir]        Initialize a working directory with defaults
//	nimbus version           Print version and build information
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/nimbuslabs/nimbus/internal/agent"
	"github.com/nimbuslabs/nimbus/internal/buildinfo"
	"github.com/nimbuslabs/nimbus/internal/config"
	"github.com/nimbuslabs/nimbus/internal/llm"
	"github.com/nimbuslabs/nimbus/internal/mcp"
	"github.com/nimbuslabs/nimbus/internal/tools"
)

// main constructs the OS-level environment and delegates to run, which
// keeps os.Exit and the real stdio out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's global state gets in the way of driving run from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		info := buildinfo.Info()
		for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
			if v, ok := info[k]; ok {
				fmt.Fprintf(stdout, "  %-12s %s\n", k+":", v)
			}
		}
		return nil
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	}

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfgPath != "" {
		logger.Info("configuration loaded", "path", cfgPath)
	} else {
		logger.Info("no configuration file found, using defaults")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := buildModelClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)

	clients, err := connectServers(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	if names := registry.Names(); len(names) > 0 {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		fmt.Fprintf(stdout, "Connected with tools: %s\n", strings.Join(sorted, ", "))
	}

	session := agent.NewSession(logger, client, cfg.Model.Name, registry)
	if cfg.Session.SystemPrompt != "" {
		session.SetSystemPrompt(cfg.Session.SystemPrompt)
	} else {
		session.SetSystemPrompt("You are a helpful AI assistant.")
	}
	session.SetMaxToolRounds(cfg.Session.MaxToolRounds)
	session.SetToolCallObserver(func(name string, callArgs map[string]any) {
		fmt.Fprintf(stdout, "[calling %s %s]\n", name, formatArgs(callArgs))
	})

	switch command {
	case "":
		return repl(ctx, session, stdin, stdout)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: nimbus ask <question>")
		}
		answer, err := session.Turn(ctx, strings.Join(cmdArgs, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, answer)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// repl runs the interactive prompt loop until the user quits or the
// session dies.
func repl(ctx context.Context, session *agent.Session, stdin io.Reader, stdout io.Writer) error {
	fmt.Fprintln(stdout, "Type a message, 'clear' to reset the conversation, or 'quit' to exit.")

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(stdout, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			session.Terminate()
			return nil
		case "clear":
			if err := session.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Conversation cleared.")
			continue
		}

		answer, err := session.Turn(ctx, line)
		if err != nil {
			var te *mcp.TransportError
			if errors.As(err, &te) {
				return fmt.Errorf("session terminated: %w", te)
			}
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}

		fmt.Fprintln(stdout, answer)
	}
}

// buildModelClient wires the completion providers into a routing
// client. The configured provider is constructed first and acts as the
// fallback; the other provider is registered when its configuration
// allows, so models mapped to it still route correctly.
func buildModelClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	provider := cfg.Model.Provider
	if provider == "" {
		provider = "anthropic"
	}

	var fallback llm.Client
	switch provider {
	case "anthropic":
		client, err := buildAnthropicClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		fallback = client
	case "bedrock":
		client, err := buildBedrockClient(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create bedrock client: %w", err)
		}
		fallback = client
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider(provider, fallback)

	if provider != "anthropic" {
		if client, err := buildAnthropicClient(cfg, logger); err == nil {
			multi.AddProvider("anthropic", client)
			logger.Info("anthropic provider configured")
		}
	}
	if provider != "bedrock" && cfg.Bedrock.Region != "" {
		if client, err := buildBedrockClient(ctx, cfg, logger); err == nil {
			multi.AddProvider("bedrock", client)
			logger.Info("bedrock provider configured")
		}
	}

	if cfg.Model.Name != "" {
		multi.AddModel(cfg.Model.Name, provider)
	}
	return multi, nil
}

func buildAnthropicClient(cfg *config.Config, logger *slog.Logger) (*llm.AnthropicClient, error) {
	apiKey := cfg.Anthropic.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key (anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	client := llm.NewAnthropicClient(apiKey, logger)
	if cfg.Model.MaxTokens > 0 {
		client.SetMaxTokens(cfg.Model.MaxTokens)
	}
	return client, nil
}

func buildBedrockClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.BedrockClient, error) {
	client, err := llm.NewBedrockClient(ctx, cfg.Bedrock.Region, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Model.MaxTokens > 0 {
		client.SetMaxTokens(cfg.Model.MaxTokens)
	}
	client.SetTemperature(cfg.Model.Temperature)
	return client, nil
}

// connectServers dials every configured tool server, performs the
// handshake, and bridges the discovered tools into the registry.
// Returns the connected clients so the caller can close them.
func connectServers(ctx context.Context, cfg *config.Config, registry *tools.Registry, logger *slog.Logger) ([]*mcp.Client, error) {
	var clients []*mcp.Client

	for _, sc := range cfg.Servers {
		transport, err := buildTransport(sc, logger)
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("server %s: %w", sc.Name, err)
		}

		client := mcp.NewClient(sc.Name, transport, logger)
		if err := client.Initialize(ctx); err != nil {
			closeAll(clients)
			_ = client.Close()
			return nil, fmt.Errorf("initialize server %s: %w", sc.Name, err)
		}

		count, err := mcp.BridgeTools(ctx, client, sc.Name, registry, sc.IncludeTools, sc.ExcludeTools, logger)
		if err != nil {
			closeAll(clients)
			_ = client.Close()
			return nil, fmt.Errorf("bridge server %s: %w", sc.Name, err)
		}

		logger.Info("tool server connected",
			"server", sc.Name,
			"transport", sc.Transport,
			"tools", count,
		)
		clients = append(clients, client)
	}

	return clients, nil
}

// buildTransport constructs the transport named by the server config.
func buildTransport(sc config.ServerConfig, logger *slog.Logger) (mcp.Transport, error) {
	switch sc.Transport {
	case "", "stdio":
		if sc.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return mcp.NewStdioTransport(mcp.StdioConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Logger:  logger,
		}), nil
	case "http":
		if sc.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Logger:  logger,
		}), nil
	case "websocket":
		if sc.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a url")
		}
		return mcp.NewWSTransport(mcp.WSConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", sc.Transport)
	}
}

func closeAll(clients []*mcp.Client) {
	for _, c := range clients {
		_ = c.Close()
	}
}

// formatArgs renders tool arguments compactly for progress markers.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", k, args[k])
	}
	sb.WriteString("}")
	return sb.String()
}

// loadConfig locates and parses the YAML configuration file. When no
// file is found and none was requested explicitly, built-in defaults
// apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger creates a structured text logger writing to w at the
// configured level. Bad level strings degrade to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `nimbus - chat client with tool server mediation

Usage:
  nimbus [flags]               Start an interactive chat session
  nimbus [flags] ask <text>    Ask a single question and exit
  nimbus init [dir]            Initialize a working directory with defaults
  nimbus version               Print version and build information

Flags:
  -config <path>   Explicit configuration file path
`)
	return nil
}
