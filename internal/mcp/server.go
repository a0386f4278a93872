// Package mcp exposes the analysis engines as Model Context Protocol
// tools over stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/hindsight/internal/config"
	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/mcp/tools"
	"github.com/moolen/hindsight/internal/snapshot"
	"github.com/moolen/hindsight/internal/telemetry"
)

// Tool defines the interface all tool implementations share.
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// Server wraps the mcp-go server with the hindsight tool surface.
type Server struct {
	mcpServer *server.MCPServer
	toolset   *tools.Toolset
	tools     map[string]Tool
	toolOrder []string
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics
	tracing   *telemetry.TracingProvider
	watcher   *snapshot.Watcher
	logger    *logging.Logger
	version   string
}

// NewServer creates the MCP server, wires the engines and registers
// all tools and prompts.
func NewServer(cfg *config.Config, version string) (*Server, error) {
	logger := logging.GetLogger("mcp")

	toolset, err := tools.NewToolset(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create toolset: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewMetrics(registry)
	}

	tracing, err := telemetry.NewTracingProvider(telemetry.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		TLSInsecure: cfg.TracingInsecure,
		TLSCAPath:   cfg.TracingCAPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	mcpServer := server.NewMCPServer(
		"Hindsight MCP Server",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		toolset:   toolset,
		tools:     make(map[string]Tool),
		registry:  registry,
		metrics:   metrics,
		tracing:   tracing,
		logger:    logger,
		version:   version,
	}

	if cfg.WatchSnapshots && cfg.SnapshotDir != "" {
		watcher, err := snapshot.NewWatcher(snapshot.WatcherConfig{Dir: cfg.SnapshotDir}, toolset.Cache, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create snapshot watcher: %w", err)
		}
		s.watcher = watcher
	}

	s.registerTools()
	s.registerPrompts()

	return s, nil
}

// ToolNames returns the registered tool names in registration order.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.toolOrder...)
}

// Toolset exposes the shared engines, used by the CLI subcommands that
// run tools without an MCP transport.
func (s *Server) Toolset() *tools.Toolset {
	return s.toolset
}

// ExecuteTool runs a registered tool by name. The CLI uses this for
// direct invocations.
func (s *Server) ExecuteTool(ctx context.Context, name string, input json.RawMessage) (interface{}, error) {
	tool, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, input)
}

// Shutdown flushes telemetry and stops the snapshot watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("error stopping snapshot watcher: %v", err)
		}
	}
	return s.tracing.Shutdown(ctx)
}

func (s *Server) registerTool(name, description string, tool Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool
	s.toolOrder = append(s.toolOrder, name)

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		// Schemas are static maps; a marshal failure is a programming error.
		panic(fmt.Sprintf("failed to marshal schema for tool %s: %v", name, err))
	}

	mcpTool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(mcpTool, s.createToolHandler(name, tool))
}

// createToolHandler adapts a Tool to the mcp-go handler shape and
// records one invocation in the telemetry layer.
func (s *Server) createToolHandler(name string, tool Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		invocationID := telemetry.NewInvocationID()
		start := time.Now()

		var span trace.Span
		if s.tracing.IsEnabled() {
			ctx, span = s.tracing.Tracer("mcp").Start(ctx, "tool/"+name,
				trace.WithAttributes(attribute.String("invocation_id", invocationID)))
			defer span.End()
		}

		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		result, err := tool.Execute(ctx, args)
		s.metrics.ObserveInvocation(name, time.Since(start), err)
		if err != nil {
			if span != nil {
				span.RecordError(err)
			}
			s.logger.Error("tool %s failed (invocation %s): %v", name, invocationID, err)
			return mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err)), nil
		}
		s.logger.Debug("tool %s completed (invocation %s) in %s", name, invocationID, time.Since(start))

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}
