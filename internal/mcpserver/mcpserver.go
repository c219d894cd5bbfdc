// Package mcpserver wraps github.com/mark3labs/mcp-go/server.MCPServer,
// the upstream MCP framing library, giving the request router (C9) a
// place to register/replace the exposed tool surface without touching
// wire-level JSON-RPC framing itself. Grounded on the teacher's
// broker.go NewMCPServer/hooks construction.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server is the upstream-facing MCP surface.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New constructs a Server advertising name/version to connecting clients.
func New(name, version string, logger *slog.Logger) *Server {
	hooks := &server.Hooks{}
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcp.MCPMethod, _ any) {
		logger.Debug("processing request", "method", method)
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		logger.Warn("mcp server error", "method", method, "error", err)
	})

	s := server.NewMCPServer(
		name,
		version,
		server.WithHooks(hooks),
		server.WithToolCapabilities(true),
	)
	return &Server{mcp: s, logger: logger}
}

// Underlying returns the wrapped *server.MCPServer for transport binding
// (stdio or streamable-HTTP) in cmd/hypertool-mcp.
func (s *Server) Underlying() *server.MCPServer {
	return s.mcp
}

// ReplaceTools atomically swaps the advertised tool set: everything
// currently registered is removed, then tools is added. AddTools/
// DeleteTools on the underlying server.MCPServer trigger
// notifications/tools/list_changed to every connected client on their
// own, so callers need not push the notification separately.
func (s *Server) ReplaceTools(current []string, tools []server.ServerTool) {
	if len(current) > 0 {
		s.mcp.DeleteTools(current...)
	}
	if len(tools) > 0 {
		s.mcp.AddTools(tools...)
	}
}
