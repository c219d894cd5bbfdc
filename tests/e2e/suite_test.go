//go:build e2e

// Package e2e drives the aggregator against real downstream MCP server
// processes (tests/servers/*) over stdio, and a real in-process MCP
// client against the aggregator's own upstream surface, with no cluster
// or external service dependency.
package e2e

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/discovery"
	"github.com/toolprint/hypertool-mcp-go/internal/mcpserver"
	"github.com/toolprint/hypertool-mcp-go/internal/pool"
	"github.com/toolprint/hypertool-mcp-go/internal/recovery"
	"github.com/toolprint/hypertool-mcp-go/internal/router"
	"github.com/toolprint/hypertool-mcp-go/internal/supervisor"
	"github.com/toolprint/hypertool-mcp-go/internal/toolcache"
	"github.com/toolprint/hypertool-mcp-go/internal/toolset"
)

// harness wires the full in-process stack (minus its own cmd/ main) the
// same way cmd/hypertool-mcp/main.go does, so the suite exercises the
// real wiring rather than a parallel test-only assembly.
type harness struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pool     *pool.Pool
	engine   *discovery.Engine
	resolver *discovery.Resolver
	toolsets *toolset.Manager
	upstream *mcpserver.Server
	router   *router.Router
	client   *mcpclient.Client
}

func serverPath(name string) string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "servers", name)
}

func newHarness(servers map[string]config.ServerConfig) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cache := toolcache.New(toolcache.WithTTL(0))
	connPool := pool.New(logger, pool.WithMaxConcurrentConnections(4))

	source := func(name string) (discovery.Lister, discovery.StatusProvider, bool) {
		sup, ok := connPool.Supervisor(name)
		if !ok {
			return nil, nil, false
		}
		return sup, sup, true
	}
	engine := discovery.New(cache, source, 0, logger)
	resolver := discovery.NewResolver(engine)
	toolsets := toolset.New(GinkgoT().TempDir(), resolver)
	breakers := recovery.NewRegistry(3, 1, time.Second)
	upstream := mcpserver.New("hypertool-mcp-e2e", "0.1.0", logger)
	r := router.New(logger, upstream, engine, resolver, toolsets, connPool, breakers, true)

	connPool.OnNotifications(func(serverName string, n mcp.JSONRPCNotification) {
		if n.Method == "notifications/tools/list_changed" {
			_ = engine.HandleToolsListChanged(ctx, serverName)
		}
	})
	go func() {
		for ev := range connPool.Events() {
			switch ev.Kind {
			case supervisor.EventConnected:
				_ = engine.HandleConnected(ctx, ev.ServerName)
			case supervisor.EventDisconnected, supervisor.EventToolsUnavailable:
				engine.HandleDisconnected(ev.ServerName)
			}
		}
	}()

	connPool.OnConfigChange(ctx, servers)

	inproc := transport.NewInProcessTransport(upstream.Underlying())
	Expect(inproc.Start(ctx)).To(Succeed())
	c := mcpclient.NewClient(inproc)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "e2e-client", Version: "0.1.0"}
	_, err := c.Initialize(ctx, initReq)
	Expect(err).NotTo(HaveOccurred())

	return &harness{
		ctx: ctx, cancel: cancel,
		pool: connPool, engine: engine, resolver: resolver,
		toolsets: toolsets, upstream: upstream, router: r, client: c,
	}
}

func (h *harness) waitConnected(name string) {
	Eventually(func() supervisor.State {
		statuses := h.pool.Statuses()
		return statuses[name].State
	}, 15*time.Second, 50*time.Millisecond).Should(Equal(supervisor.StateConnected))
}

func (h *harness) close() {
	_ = h.client.Close()
	h.pool.Stop()
	h.cancel()
}

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "hypertool-mcp e2e suite")
}
