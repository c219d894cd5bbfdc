// Package pool implements the connection pool/manager (spec.md §4.3): it
// owns one supervisor.Supervisor per configured downstream server, bounds
// the number of simultaneous in-flight connection attempts, and reconciles
// the server set whenever internal/config reports a change.
package pool

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/supervisor"
	"github.com/toolprint/hypertool-mcp-go/internal/transport"
)

func errServerNotFound(name string) error {
	return errkind.New(errkind.KindServerDown, "server not found: "+name)
}

// entry pairs a supervisor with the config it was built from, so
// reconcile can detect an edited server (same name, different config)
// versus an unchanged one.
type entry struct {
	cfg config.ServerConfig
	sup *supervisor.Supervisor
}

// Pool is the connection pool/manager (C3). It satisfies
// config.Observer: registering a Pool with a config.Loader is sufficient
// to keep it reconciled against the on-disk server set.
type Pool struct {
	logger *slog.Logger
	retry  supervisor.RetryPolicy
	ping   supervisor.PingPolicy

	// sem bounds the number of connect attempts in flight at once,
	// per spec.md §5's maxConcurrentConnections.
	sem chan struct{}

	mu      sync.RWMutex
	entries map[string]*entry

	events chan supervisor.Event

	onNotify func(serverName string, n mcp.JSONRPCNotification)
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithMaxConcurrentConnections bounds the number of simultaneous connect
// attempts. Zero or negative disables the bound.
func WithMaxConcurrentConnections(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// WithRetryPolicy overrides the default retry backoff applied to every
// supervisor the pool creates.
func WithRetryPolicy(r supervisor.RetryPolicy) Option {
	return func(p *Pool) { p.retry = r }
}

// WithPingPolicy overrides the default liveness-probe interval applied to
// every supervisor the pool creates.
func WithPingPolicy(pp supervisor.PingPolicy) Option {
	return func(p *Pool) { p.ping = pp }
}

// New constructs an empty Pool. Servers are added via OnConfigChange or
// AddServer.
func New(logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:  logger,
		retry:   supervisor.DefaultRetryPolicy(),
		ping:    supervisor.DefaultPingPolicy(),
		entries: make(map[string]*entry),
		events:  make(chan supervisor.Event, 256),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the fanned-in event stream of every supervisor the pool
// manages. Events keep arriving after a server is removed only until its
// supervisor finishes disconnecting.
func (p *Pool) Events() <-chan supervisor.Event { return p.events }

// OnNotifications registers a callback invoked for every server-pushed
// notification from any managed server, tagged with the originating
// server name. Used by discovery (C5) to react to tools/list_changed.
func (p *Pool) OnNotifications(fn func(serverName string, n mcp.JSONRPCNotification)) {
	p.mu.Lock()
	p.onNotify = fn
	p.mu.Unlock()
}

// OnConfigChange implements config.Observer: it reconciles the pool's
// managed servers against the newly loaded set, adding, removing, and
// restarting entries as needed.
func (p *Pool) OnConfigChange(ctx context.Context, servers map[string]config.ServerConfig) {
	p.reconcile(ctx, servers)
}

// reconcile adds supervisors for new/changed servers and removes ones no
// longer present. An edited server (same name, different config) is torn
// down and rebuilt rather than mutated in place.
func (p *Pool) reconcile(ctx context.Context, servers map[string]config.ServerConfig) {
	ownCommand, _ := os.Executable()

	p.mu.Lock()
	var toRemove []*entry
	for name, e := range p.entries {
		if _, ok := servers[name]; !ok {
			toRemove = append(toRemove, e)
			delete(p.entries, name)
		}
	}
	var toAdd []config.ServerConfig
	for name, cfg := range servers {
		if cfg.IsSelfReference(ownCommand) {
			p.logger.Warn("dropping self-referential server", "server", name)
			continue
		}
		existing, ok := p.entries[name]
		if ok && reflect.DeepEqual(existing.cfg, cfg) {
			continue
		}
		if ok {
			toRemove = append(toRemove, existing)
			delete(p.entries, name)
		}
		toAdd = append(toAdd, cfg)
	}
	p.mu.Unlock()

	for _, e := range toRemove {
		go e.sup.Disconnect()
	}
	for _, cfg := range toAdd {
		p.addServer(ctx, cfg)
	}
}

// addServer constructs a transport.Client and supervisor.Supervisor for
// cfg, registers it, wires its events into the pool's fan-in channel, and
// begins connecting in the background, respecting the concurrency
// semaphore.
func (p *Pool) addServer(ctx context.Context, cfg config.ServerConfig) {
	client, err := transport.New(cfg)
	if err != nil {
		p.logger.Error("unknown transport, skipping server", "server", cfg.Name, "error", err)
		return
	}

	sup := supervisor.New(cfg, client, p.retry, p.ping, p.logger)
	sup.OnNotification(func(n mcp.JSONRPCNotification) {
		p.mu.RLock()
		fn := p.onNotify
		p.mu.RUnlock()
		if fn != nil {
			fn(cfg.Name, n)
		}
	})

	p.mu.Lock()
	p.entries[cfg.Name] = &entry{cfg: cfg, sup: sup}
	p.mu.Unlock()

	go p.fanIn(sup)
	go p.connect(ctx, sup)
}

func (p *Pool) fanIn(sup *supervisor.Supervisor) {
	for ev := range sup.Events() {
		select {
		case p.events <- ev:
		default:
			p.logger.Warn("pool event channel full, dropping event", "server", ev.ServerName, "kind", ev.Kind)
		}
	}
}

func (p *Pool) connect(ctx context.Context, sup *supervisor.Supervisor) {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return
		}
	}
	if err := sup.Connect(ctx); err != nil {
		p.logger.Debug("initial connect failed, supervisor will retry", "server", sup.ServerName(), "error", err)
	}
}

// AddServer adds a single server outside of a full reconcile; a server
// whose name is already managed is left as it is.
func (p *Pool) AddServer(ctx context.Context, cfg config.ServerConfig) {
	p.mu.Lock()
	if _, ok := p.entries[cfg.Name]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.addServer(ctx, cfg)
}

// RemoveServer disconnects and forgets the named server.
func (p *Pool) RemoveServer(name string) {
	p.mu.Lock()
	e, ok := p.entries[name]
	if ok {
		delete(p.entries, name)
	}
	p.mu.Unlock()
	if ok {
		e.sup.Disconnect()
	}
}

// Supervisor returns the managed supervisor for name, if any.
func (p *Pool) Supervisor(name string) (*supervisor.Supervisor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	if !ok {
		return nil, false
	}
	return e.sup, true
}

// Statuses returns a snapshot of every managed server's connection status.
func (p *Pool) Statuses() map[string]supervisor.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]supervisor.Status, len(p.entries))
	for name, e := range p.entries {
		out[name] = e.sup.Status()
	}
	return out
}

// CallTool dispatches a tool call to the named server's supervisor,
// satisfying router.Dispatcher.
func (p *Pool) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	sup, ok := p.Supervisor(serverName)
	if !ok {
		return nil, errServerNotFound(serverName)
	}
	return sup.CallTool(ctx, toolName, args)
}

// Stop disconnects every managed server and waits for their supervisors
// to finish tearing down.
func (p *Pool) Stop() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.sup.Disconnect()
		}(e)
	}
	wg.Wait()
}
