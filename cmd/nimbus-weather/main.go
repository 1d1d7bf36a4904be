// Nimbus-weather is a tool server exposing weather lookup tools.
//
// By default it speaks newline-delimited JSON-RPC on stdin/stdout so a
// client can spawn it as a subprocess. With -listen it additionally
// serves the same protocol over WebSocket.
//
// Usage:
//
//	nimbus-weather                     Serve on stdin/stdout
//	nimbus-weather -listen :8700       Serve WebSocket on :8700/rpc
//	nimbus-weather version             Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimbuslabs/nimbus/internal/buildinfo"
	"github.com/nimbuslabs/nimbus/internal/config"
	"github.com/nimbuslabs/nimbus/internal/mcp"
	"github.com/nimbuslabs/nimbus/internal/tools"
	"github.com/nimbuslabs/nimbus/internal/weather"
)

const serverName = "nimbus-weather"

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var listenAddr string
	var logLevel string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-listen" && i+1 < len(args):
			listenAddr = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-listen="):
			listenAddr = strings.TrimPrefix(args[i], "-listen=")
		case args[i] == "-log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log-level="):
			logLevel = strings.TrimPrefix(args[i], "-log-level=")
		case args[i] == "version":
			fmt.Fprintf(stdout, "%s %s (%s, built %s)\n", serverName, buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
			return nil
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	// Logs must go to stderr: stdout is the protocol channel.
	logger := newLogger(stderr, logLevel)
	slog.SetDefault(logger)

	registry := tools.NewRegistry(logger)

	// Registration failures mean a broken tool definition. Refuse to
	// start rather than serve a partial tool set.
	weatherClient := weather.NewClient(logger)
	if err := weather.RegisterTools(registry, weatherClient); err != nil {
		return fmt.Errorf("register weather tools: %w", err)
	}

	logger.Info("tool server starting",
		"version", buildinfo.Version,
		"tools", registry.Names(),
	)

	srv := mcp.NewServer(serverName, buildinfo.Version, registry, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if listenAddr != "" {
		return serveWebSocket(ctx, srv, listenAddr, logger)
	}

	if err := srv.ServeStdio(ctx, stdin, stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve stdio: %w", err)
	}

	logger.Info("tool server stopped")
	return nil
}

// serveWebSocket runs the protocol over WebSocket at /rpc until the
// context is cancelled.
func serveWebSocket(ctx context.Context, srv *mcp.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", srv.ServeWS)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("websocket listener started", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("websocket listener: %w", err)
	}
}

// newLogger creates a structured text logger writing to w. Bad level
// strings degrade to info.
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
	fmt.Fprint(w, `nimbus-weather - weather tool server

Usage:
  nimbus-weather [flags]     Serve newline-delimited JSON-RPC on stdin/stdout
  nimbus-weather version     Print version and build information

Flags:
  -listen <addr>      Also serve WebSocket on this address at /rpc
  -log-level <level>  trace, debug, info, warn, or error (default info)
`)
	return nil
}
