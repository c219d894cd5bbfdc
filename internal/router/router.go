// Package router implements the request router (C9): the mode-switched
// upstream MCP surface. Normal mode serves the active toolset's exposed
// tools plus a mode-switch tool; configuration mode serves the toolset
// management tools. Every catalog or toolset mutation is pushed to the
// upstream client as notifications/tools/list_changed via the wrapped
// mcpserver.Server.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolprint/hypertool-mcp-go/internal/discovery"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/mcpserver"
	"github.com/toolprint/hypertool-mcp-go/internal/recovery"
	"github.com/toolprint/hypertool-mcp-go/internal/toolset"
)

// Mode is the router's two-mode exposed tool surface.
type Mode string

const (
	ModeNormal        Mode = "normal"
	ModeConfiguration Mode = "configuration"
)

const toolEnterConfiguration = "enter-configuration-mode"

// Dispatcher is the capability the router needs to reach a downstream
// server's tool, satisfied directly by *pool.Pool; the interface keeps the
// router from importing the connection pool package.
type Dispatcher interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error)
}

// Router is the request router (C9). It holds non-owning references to
// the discovery engine, the toolset manager, and a Dispatcher onto the
// connection pool, per spec.md's ownership summary.
type Router struct {
	logger     *slog.Logger
	upstream   *mcpserver.Server
	engine     *discovery.Engine
	resolver   *discovery.Resolver
	toolsets   *toolset.Manager
	dispatcher Dispatcher
	breakers   *recovery.Registry
	validate   bool

	mu           sync.Mutex
	mode         atomic.Value // Mode
	currentNames []string     // names currently registered on mcpserver
}

// New constructs a Router. validateArgs enables input-schema validation
// before dispatching a call downstream.
func New(logger *slog.Logger, upstream *mcpserver.Server, engine *discovery.Engine, resolver *discovery.Resolver, toolsets *toolset.Manager, dispatcher Dispatcher, breakers *recovery.Registry, validateArgs bool) *Router {
	r := &Router{
		logger:     logger,
		upstream:   upstream,
		engine:     engine,
		resolver:   resolver,
		toolsets:   toolsets,
		dispatcher: dispatcher,
		breakers:   breakers,
		validate:   validateArgs,
	}
	r.mode.Store(ModeNormal)

	toolsets.OnToolsetChanged(func(toolset.ChangedEvent) { r.refresh() })
	engine.OnToolsChanged(func(discovery.ToolsChangedSummary) {
		toolsets.Reconcile()
		r.refresh()
	})

	r.refresh()
	return r
}

func (r *Router) currentMode() Mode { return r.mode.Load().(Mode) }

// refresh rebuilds the currently advertised tool surface for the active
// mode and pushes it to the upstream server, which emits
// notifications/tools/list_changed on any change.
func (r *Router) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var serverTools []server.ServerTool
	var names []string

	switch r.currentMode() {
	case ModeNormal:
		for _, et := range r.toolsets.GetMcpTools() {
			st := r.exposedServerTool(et)
			serverTools = append(serverTools, st)
			names = append(names, et.ExposedName)
		}
		modeTool := server.ServerTool{
			Tool: mcp.Tool{
				Name:        toolEnterConfiguration,
				Description: "Switch to configuration mode to manage toolsets",
			},
			Handler: r.handleEnterConfiguration,
		}
		serverTools = append(serverTools, modeTool)
		names = append(names, toolEnterConfiguration)

	case ModeConfiguration:
		for _, mt := range managementTools(r) {
			serverTools = append(serverTools, mt)
			names = append(names, mt.Tool.Name)
		}
	}

	r.upstream.ReplaceTools(r.currentNames, serverTools)
	r.currentNames = names
}

func (r *Router) exposedServerTool(et toolset.ExposedTool) server.ServerTool {
	tool := et.Tool.Definition
	tool.Name = et.ExposedName
	exposedName := et.ExposedName
	return server.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return r.callExposed(ctx, exposedName, req)
		},
	}
}

func (r *Router) handleEnterConfiguration(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r.mode.Store(ModeConfiguration)
	r.refresh()
	return mcp.NewToolResultText("entered configuration mode"), nil
}

// callExposed resolves exposedName to its downstream server/tool,
// optionally validates arguments, and dispatches through the circuit
// breaker keyed by server name. Downstream failures become a tool-call
// error result, never a protocol error, per spec.md §7.
func (r *Router) callExposed(ctx context.Context, exposedName string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ns, ok := r.toolsets.GetOriginalToolName(exposedName)
	if !ok {
		return errorResult(errkind.New(errkind.KindNotFound, "tool not found: "+exposedName)), nil
	}
	tool, ok := r.engine.LookupByNamespacedName(ns)
	if !ok {
		return errorResult(errkind.New(errkind.KindNotFound, "tool not connected: "+ns)), nil
	}

	args, _ := req.Params.Arguments.(map[string]any)
	if r.validate {
		if err := validateArgs(tool.Definition, args); err != nil {
			return errorResult(errkind.Wrap(errkind.KindInvalidParams, "argument validation failed", err)), nil
		}
	}

	breaker := r.breakers.For(tool.ServerName)
	chain := recovery.NewFallbackChain(recovery.CircuitOpenFallback{ServerName: tool.ServerName})
	out, err := chain.Run(ctx, func(ctx context.Context) (any, error) {
		var result *mcp.CallToolResult
		callErr := breaker.Call(func() error {
			var ce error
			result, ce = r.dispatcher.CallTool(ctx, tool.ServerName, tool.Name, args)
			return ce
		})
		if callErr != nil {
			return nil, callErr
		}
		return result, nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	switch v := out.(type) {
	case *mcp.CallToolResult:
		return v, nil
	case string:
		return mcp.NewToolResultText(v), nil
	default:
		return errorResult(errkind.New(errkind.KindRoutingError, "unexpected fallback result type")), nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func notFoundErr(name string) error {
	return errkind.New(errkind.KindNotFound, "no saved toolset named "+name)
}

// validateArgs is a minimal required-field check against the downstream
// tool's input schema; full JSON Schema validation is out of scope.
func validateArgs(tool mcp.Tool, args map[string]any) error {
	for _, required := range tool.InputSchema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}
	return nil
}

// marshalArgs is used by management tool handlers to decode structured
// arguments from the generic map MCP delivers.
func marshalArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
