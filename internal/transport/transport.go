// Package transport provides one Client implementation per downstream MCP
// wire transport (stdio, HTTP, SSE), each a thin wrapper over
// github.com/mark3labs/mcp-go's client package — the "upstream MCP framing
// library" spec.md treats as an external collaborator. Callers (the
// supervisor) see only the narrow Client capability set below and never
// branch on which concrete transport they are holding.
package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// Client is the capability set a connection supervisor needs from any
// downstream transport: connect/disconnect, an outbound call, a liveness
// probe, and subscription to server-pushed events.
type Client interface {
	// Connect performs the transport-level connection and the MCP
	// initialize handshake. Calling Connect on an already-connected
	// stdio or SSE client is a no-op; the HTTP client instead re-probes
	// the server with Ping and returns its result.
	Connect(ctx context.Context) error
	// Disconnect tears down the connection. Idempotent.
	Disconnect() error
	// ListTools enumerates the tools the downstream server exposes.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool invokes a tool by its original (unnamespaced) name.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	// Ping performs a liveness probe.
	Ping(ctx context.Context) error
	// OnNotification registers a callback for server-pushed notifications,
	// in particular notifications/tools/list_changed.
	OnNotification(func(mcp.JSONRPCNotification))
	// OnConnectionLost registers a callback fired when the underlying
	// transport observes the connection drop outside of an explicit
	// Disconnect call.
	OnConnectionLost(func(error))
}

// New constructs the Client appropriate for cfg.Type. The returned Client
// has not yet connected — call Connect before use.
func New(cfg config.ServerConfig) (Client, error) {
	switch cfg.Type {
	case config.TransportStdio:
		return newStdio(cfg), nil
	case config.TransportHTTP:
		return newHTTP(cfg), nil
	case config.TransportSSE:
		return newSSE(cfg), nil
	default:
		return nil, errkind.New(errkind.KindUnknownTransport, "unknown transport "+string(cfg.Type))
	}
}

func mergeHeaders(cfg config.ServerConfig) map[string]string {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cred := cfg.Credential(); cred != "" {
		headers["Authorization"] = cred
	}
	return headers
}

func envSlice(overlay map[string]string) []string {
	// Overlay wins over inherited keys with the same name: build a map of
	// the current environment, apply the overlay on top, then flatten.
	merged := map[string]string{}
	for _, kv := range osEnviron() {
		k, v := splitEnv(kv)
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
