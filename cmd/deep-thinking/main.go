// Deep-thinking MCP server. Drives structured multi-step reasoning
// flows for a host LLM over stdio.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/server"
	"github.com/mcps/deep-thinking/pkg/store"
	"github.com/mcps/deep-thinking/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config",
		getEnv("DEEP_THINKING_CONFIG", ""),
		"Path to the YAML configuration file (empty: built-in flows only)")
	logLevel := flag.String("log-level",
		getEnv("LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	validateOnly := flag.Bool("validate", false,
		"Validate the configuration and exit")
	flag.Parse()

	// Load .env next to the working directory; absence is fine.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// The MCP transport owns stdout; all logging goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	})))

	slog.Info("Starting deep-thinking server",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *validateOnly {
		slog.Info("Configuration is valid", "stats", cfg.Stats().String())
		return
	}

	// 2. Open the session store
	dbPath := getEnv("DEEP_THINKING_DB", cfg.Server.DatabasePath)
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		slog.Error("Failed to open session store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing session store", "error", err)
		}
	}()
	slog.Info("Session store ready", "path", dbPath)

	// 3. Assemble the MCP server
	srv := server.New(cfg, st)

	// 4. Serve stdio until the host disconnects or we get a signal
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeStdio(serveCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			slog.Error("MCP server stopped with error", "error", err)
			os.Exit(1)
		}
		slog.Info("Host disconnected")
	}

	slog.Info("Shutdown complete")
}
