package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeStdio runs the MCP server over standard input/output. It blocks
// until the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("starting stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP runs the MCP server as a streamable HTTP endpoint with
// /health and /metrics next to it. It blocks until ctx is cancelled or
// the listener fails.
func (s *Server) ServeHTTP(ctx context.Context, addr, endpointPath string) error {
	if endpointPath == "" {
		endpointPath = "/mcp"
	} else if endpointPath[0] != '/' {
		endpointPath = "/" + endpointPath
	}

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":    "Hindsight MCP Server",
			"version": s.version,
		})
	})

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Stateless session management keeps clients that don't track
	// sessions working.
	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	mux.Handle(endpointPath, streamableServer)

	s.logger.Info("starting HTTP server on %s (endpoint: %s)", addr, endpointPath)

	errCh := make(chan error, 1)
	go func() {
		if err := streamableServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return streamableServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
