package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/mcp"
)

var (
	snapshotDir     string
	transportType   string
	httpAddr        string
	mcpEndpointPath string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol (MCP) server that exposes the
snapshot analysis engines as MCP tools for AI assistants.

Supports two transport modes:
  - stdio: standard input/output (default, for subprocess-based MCP clients)
  - http: streamable HTTP server with /health and /metrics endpoints`,
	Run: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", getEnv("HINDSIGHT_SNAPSHOT_DIR", ""), "Snapshot directory (overrides config)")
	mcpCmd.Flags().StringVar(&transportType, "transport", "", "Transport type: stdio or http (overrides config)")
	mcpCmd.Flags().StringVar(&httpAddr, "http-addr", getEnv("HINDSIGHT_HTTP_ADDR", ""), "HTTP server address (host:port, overrides config)")
	mcpCmd.Flags().StringVar(&mcpEndpointPath, "mcp-endpoint", getEnv("HINDSIGHT_MCP_ENDPOINT", ""), "HTTP endpoint path for MCP requests (overrides config)")
}

func runMCP(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("mcp")

	cfg, err := loadConfig()
	if err != nil {
		HandleError(err, "Failed to load config")
	}
	if snapshotDir != "" {
		cfg.SnapshotDir = snapshotDir
	}
	if transportType != "" {
		cfg.Transport = transportType
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if mcpEndpointPath != "" {
		cfg.MCPEndpoint = mcpEndpointPath
	}

	logger.Info("starting hindsight MCP server (transport: %s, snapshot dir: %s)", cfg.Transport, cfg.SnapshotDir)

	server, err := mcp.NewServer(cfg, Version)
	if err != nil {
		logger.Fatal("failed to create MCP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal: %v, shutting down", sig)
		cancel()
	}()

	switch cfg.Transport {
	case "http":
		err = server.ServeHTTP(ctx, cfg.HTTPAddr, cfg.MCPEndpoint)
	case "stdio":
		err = server.ServeStdio(ctx)
	default:
		logger.Fatal("invalid transport type: %s (must be 'stdio' or 'http')", cfg.Transport)
	}
	if err != nil {
		logger.Error("transport error: %v", err)
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error during shutdown: %v", err)
	}
	logger.Info("server stopped")
}
