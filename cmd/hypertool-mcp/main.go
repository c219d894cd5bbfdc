// main wires together the connection pool, discovery engine, toolset
// manager, and request router into a single running broker process,
// following the teacher's cmd/mcp-broker-router flag/viper/godotenv
// bootstrap pattern generalized to the in-process architecture described
// in SPEC_FULL.md.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

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

func main() {
	var (
		configFile         string
		toolsetDir         string
		transport          string
		httpAddr           string
		logLevel           int
		logFormat          string
		ttl                time.Duration
		perServerCap       int
		maxConcurrent      int
		pingInterval       time.Duration
		circuitThreshold   int
		circuitSuccesses   int
		circuitRecoverySec int
		validateArgs       bool
	)

	flag.StringVar(&configFile, "config", "./config/servers.yaml", "path to the downstream server configuration file")
	flag.StringVar(&toolsetDir, "toolset-dir", "./config/toolsets", "directory holding persisted toolsets")
	flag.StringVar(&transport, "transport", "", "upstream transport (required): stdio or http")
	flag.StringVar(&httpAddr, "http-address", "0.0.0.0:8080", "listen address when --transport=http")
	flag.IntVar(&logLevel, "log-level", int(slog.LevelInfo), "log level: -4=debug, 0=info, 4=warn, 8=error")
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.DurationVar(&ttl, "tool-ttl", 5*time.Minute, "tool cache entry TTL")
	flag.IntVar(&perServerCap, "per-server-tool-cap", 500, "maximum cached tools per server")
	flag.IntVar(&maxConcurrent, "max-concurrent-connections", 16, "maximum simultaneous downstream connection attempts")
	flag.DurationVar(&pingInterval, "ping-interval", 30*time.Second, "liveness ping interval once connected")
	flag.IntVar(&circuitThreshold, "circuit-failure-threshold", 5, "consecutive failures before a circuit opens")
	flag.IntVar(&circuitSuccesses, "circuit-success-threshold", 3, "consecutive half-open successes before a circuit closes")
	flag.IntVar(&circuitRecoverySec, "circuit-recovery-seconds", 30, "seconds a circuit stays open before probing again")
	flag.BoolVar(&validateArgs, "validate-arguments", true, "validate tool call arguments against the downstream input schema")
	flag.Parse()

	_ = godotenv.Load()

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.Level(logLevel)}
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if transport != "stdio" && transport != "http" {
		logger.Error("--transport is required and must be stdio or http", "transport", transport)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cache := toolcache.New(
		toolcache.WithTTL(ttl),
		toolcache.WithPerServerCap(perServerCap),
	)
	cache.StartSweeper(ttl / 2)
	defer cache.Stop()

	connPool := pool.New(logger,
		pool.WithMaxConcurrentConnections(maxConcurrent),
		pool.WithPingPolicy(supervisor.PingPolicy{Interval: pingInterval}),
	)

	source := func(name string) (discovery.Lister, discovery.StatusProvider, bool) {
		sup, ok := connPool.Supervisor(name)
		if !ok {
			return nil, nil, false
		}
		return sup, sup, true
	}
	engine := discovery.New(cache, source, ttl, logger)
	resolver := discovery.NewResolver(engine)

	toolsets := toolset.New(toolsetDir, resolver)
	if err := toolsets.LoadAll(); err != nil {
		logger.Error("failed to load saved toolsets", "error", err)
		os.Exit(1)
	}

	breakers := recovery.NewRegistry(circuitThreshold, circuitSuccesses, time.Duration(circuitRecoverySec)*time.Second)

	upstream := mcpserver.New("hypertool-mcp", "0.1.0", logger)
	rt := router.New(logger, upstream, engine, resolver, toolsets, connPool, breakers, validateArgs)
	_ = rt

	connPool.OnNotifications(func(serverName string, n mcp.JSONRPCNotification) {
		if n.Method == "notifications/tools/list_changed" {
			if err := engine.HandleToolsListChanged(ctx, serverName); err != nil {
				logger.Warn("re-enumeration after list_changed failed", "server", serverName, "error", err)
			}
		}
	})
	go func() {
		for ev := range connPool.Events() {
			switch ev.Kind {
			case supervisor.EventConnected:
				if err := engine.HandleConnected(ctx, ev.ServerName); err != nil {
					logger.Warn("initial enumeration failed", "server", ev.ServerName, "error", err)
				}
			case supervisor.EventDisconnected, supervisor.EventToolsUnavailable:
				engine.HandleDisconnected(ev.ServerName)
			}
		}
	}()

	loader := config.NewLoader(configFile, logger)
	loader.RegisterObserver(connPool)
	ownCommand, _ := os.Executable()
	servers, err := loader.Load(ownCommand)
	if err != nil {
		logger.Error("failed to load server configuration", "error", err)
		os.Exit(1)
	}
	loader.Notify(ctx, servers)
	go loader.Watch(ctx, ownCommand)

	switch transport {
	case "stdio":
		go func() {
			if err := server.ServeStdio(upstream.Underlying()); err != nil {
				logger.Error("stdio server exited", "error", err)
			}
			cancel()
		}()
	case "http":
		httpSrv := &http.Server{
			Addr:         httpAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		streamable := server.NewStreamableHTTPServer(upstream.Underlying(), server.WithStreamableHTTPServer(httpSrv))
		mux := http.NewServeMux()
		mux.Handle("/mcp", streamable)
		httpSrv.Handler = mux
		go func() {
			logger.Info("listening", "address", httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server exited", "error", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	connPool.Stop()
	fmt.Fprintln(os.Stderr, "hypertool-mcp stopped")
}
