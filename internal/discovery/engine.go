// Package discovery implements the discovery engine (C5) and the tool
// reference resolver (C6): it enumerates each connected server's tool
// catalog, computes content-addressed identity for every tool, maintains
// a lookup index and per-server state, and serves the resolution policy
// toolset reconciliation depends on.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/supervisor"
	"github.com/toolprint/hypertool-mcp-go/internal/toolcache"
)

const namespaceSep = "."

const maxHashHistory = 16

// DiscoveredTool is the catalog entry C5 produces for every enumerated
// tool: identity (namespacedName, toolHash) plus the live definition and
// bookkeeping timestamps.
type DiscoveredTool struct {
	Name           string
	ServerName     string
	NamespacedName string
	Definition     mcp.Tool
	DiscoveredAt   time.Time
	LastUpdated    time.Time
	ServerStatus   supervisor.State
	ToolHash       string
}

// ServerToolState is the per-server discovery bookkeeping record.
type ServerToolState struct {
	ServerName      string
	IsConnected     bool
	Tools           map[string]DiscoveredTool // keyed by namespacedName
	ToolCount       int
	LastDiscovery   time.Time
	LastError       string
	ServerToolsHash string
}

// ToolsChangedSummary describes a diff produced by re-enumeration.
type ToolsChangedSummary struct {
	ServerName string
	Added      []string
	Updated    []string
	Removed    []string
	Unchanged  []string
}

// Lister is the capability the engine needs from a connected server: list
// its tools. Satisfied directly by *supervisor.Supervisor (as returned by
// pool.Pool.Supervisor), kept narrow so the engine can be tested with a
// fake.
type Lister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// StatusProvider resolves a server's current ConnectionStatus.
type StatusProvider interface {
	Status() supervisor.Status
}

// ServerSource yields the Lister/StatusProvider pair for a server name.
type ServerSource func(serverName string) (Lister, StatusProvider, bool)

// Engine is the discovery engine (C5). It exclusively owns the tool
// cache, the lookup index, and the per-tool hash history, per spec.md's
// ownership summary.
type Engine struct {
	logger *slog.Logger
	cache  *toolcache.Cache
	source ServerSource
	ttl    time.Duration

	mu            sync.Mutex
	byNamespace   map[string]DiscoveredTool   // global view, namespacedName -> tool
	byHash        map[string][]DiscoveredTool // global view, toolHash -> tools sharing it (collisions across servers aren't forbidden)
	servers       map[string]*ServerToolState
	hashHistory   map[string][]string // namespacedName -> recent toolHash values, most recent last
	enumerateLock map[string]*sync.Mutex

	onChanged []func(ToolsChangedSummary)
}

// New constructs an Engine. cache is the tool cache the engine owns
// exclusively; source resolves a server name to its live transport
// capabilities at enumeration time.
func New(cache *toolcache.Cache, source ServerSource, ttl time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		logger:        logger,
		cache:         cache,
		source:        source,
		ttl:           ttl,
		byNamespace:   make(map[string]DiscoveredTool),
		byHash:        make(map[string][]DiscoveredTool),
		servers:       make(map[string]*ServerToolState),
		hashHistory:   make(map[string][]string),
		enumerateLock: make(map[string]*sync.Mutex),
	}
}

// OnToolsChanged registers fn to be invoked after every successful
// enumeration of any server, with that enumeration's diff summary (which
// may list no added, updated or removed tools).
func (e *Engine) OnToolsChanged(fn func(ToolsChangedSummary)) {
	e.mu.Lock()
	e.onChanged = append(e.onChanged, fn)
	e.mu.Unlock()
}

func (e *Engine) emit(summary ToolsChangedSummary) {
	e.mu.Lock()
	fns := append([]func(ToolsChangedSummary){}, e.onChanged...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(summary)
	}
}

func (e *Engine) lockFor(serverName string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.enumerateLock[serverName]
	if !ok {
		l = &sync.Mutex{}
		e.enumerateLock[serverName] = l
	}
	return l
}

// HandleConnected enumerates tools on serverName after a CONNECTED event,
// per spec.md §4.5. A second notification arriving mid-enumeration for the
// same server is sequenced behind this call rather than coalesced — the
// per-server enumeration lock resolves spec.md §9's open tie-break
// question by serializing instead of merging concurrent enumerations.
func (e *Engine) HandleConnected(ctx context.Context, serverName string) error {
	lock := e.lockFor(serverName)
	lock.Lock()
	defer lock.Unlock()
	return e.enumerate(ctx, serverName)
}

// HandleToolsListChanged re-runs enumeration for serverName in response to
// a downstream notifications/tools/list_changed push.
func (e *Engine) HandleToolsListChanged(ctx context.Context, serverName string) error {
	lock := e.lockFor(serverName)
	lock.Lock()
	defer lock.Unlock()
	return e.enumerate(ctx, serverName)
}

func (e *Engine) enumerate(ctx context.Context, serverName string) error {
	lister, statusProvider, ok := e.source(serverName)
	if !ok {
		return errkind.New(errkind.KindListFailed, "unknown server "+serverName)
	}

	tools, err := lister.ListTools(ctx)
	if err != nil {
		e.mu.Lock()
		st := e.stateLocked(serverName)
		st.LastError = err.Error()
		st.IsConnected = false
		for ns := range st.Tools {
			delete(e.byNamespace, ns)
		}
		e.removeFromHashIndexLocked(serverName)
		e.mu.Unlock()
		e.logger.Warn("tools/list failed, server marked not-connected", "server", serverName, "error", err)
		return errkind.Wrap(errkind.KindListFailed, "list tools "+serverName, err)
	}

	status := supervisor.Status{State: supervisor.StateConnected}
	if statusProvider != nil {
		status = statusProvider.Status()
	}

	now := time.Now()
	fresh := make(map[string]DiscoveredTool, len(tools))
	var hashes []string
	for _, t := range tools {
		ns := serverName + namespaceSep + t.Name
		hash := HashTool(serverName, t)
		hashes = append(hashes, hash)
		fresh[ns] = DiscoveredTool{
			Name:           t.Name,
			ServerName:     serverName,
			NamespacedName: ns,
			Definition:     t,
			DiscoveredAt:   now,
			LastUpdated:    now,
			ServerStatus:   status.State,
			ToolHash:       hash,
		}
	}
	serverHash := HashServerTools(hashes)

	e.mu.Lock()
	prev := e.stateLocked(serverName)
	summary := diffTools(prev.Tools, fresh)

	// Atomically replace the per-server state: clear prior cache/index
	// entries for this server, then insert the fresh set, per spec.md's
	// "clears prior cache and index entries for s, then inserts new
	// ones" instruction.
	for ns := range prev.Tools {
		delete(e.byNamespace, ns)
		e.cache.Delete(ns)
	}
	e.cache.ClearServer(serverName)
	e.removeFromHashIndexLocked(serverName)

	for ns, tool := range fresh {
		e.byNamespace[ns] = tool
		e.byHash[tool.ToolHash] = append(e.byHash[tool.ToolHash], tool)
		e.cache.Set(ns, serverName, tool, now)
		e.pushHashHistoryLocked(ns, tool.ToolHash)
	}

	e.servers[serverName] = &ServerToolState{
		ServerName:      serverName,
		IsConnected:     true,
		Tools:           fresh,
		ToolCount:       len(fresh),
		LastDiscovery:   now,
		ServerToolsHash: serverHash,
	}
	e.mu.Unlock()

	summary.ServerName = serverName
	e.emit(summary)
	return nil
}

func (e *Engine) stateLocked(serverName string) *ServerToolState {
	st, ok := e.servers[serverName]
	if !ok {
		st = &ServerToolState{ServerName: serverName, Tools: make(map[string]DiscoveredTool)}
		e.servers[serverName] = st
	}
	return st
}

// removeFromHashIndexLocked drops every byHash entry belonging to
// serverName, keeping entries other servers share the same hash with.
// Caller must hold e.mu.
func (e *Engine) removeFromHashIndexLocked(serverName string) {
	for hash, tools := range e.byHash {
		kept := tools[:0]
		for _, t := range tools {
			if t.ServerName != serverName {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(e.byHash, hash)
		} else {
			e.byHash[hash] = kept
		}
	}
}

func (e *Engine) pushHashHistoryLocked(namespacedName, hash string) {
	hist := e.hashHistory[namespacedName]
	hist = append(hist, hash)
	if len(hist) > maxHashHistory {
		hist = hist[len(hist)-maxHashHistory:]
	}
	e.hashHistory[namespacedName] = hist
}

// diffTools classifies every namespacedName in prev ∪ fresh as added,
// updated (hash differs), removed, or unchanged.
func diffTools(prev, fresh map[string]DiscoveredTool) ToolsChangedSummary {
	var s ToolsChangedSummary
	for ns, f := range fresh {
		if p, ok := prev[ns]; !ok {
			s.Added = append(s.Added, ns)
		} else if p.ToolHash != f.ToolHash {
			s.Updated = append(s.Updated, ns)
		} else {
			s.Unchanged = append(s.Unchanged, ns)
		}
	}
	for ns := range prev {
		if _, ok := fresh[ns]; !ok {
			s.Removed = append(s.Removed, ns)
		}
	}
	return s
}

// HandleDisconnected marks serverName's state not-connected and clears its
// index entries, but preserves cached DiscoveredTool objects until TTL
// expiry or an explicit clear — per spec.md §4.5.
func (e *Engine) HandleDisconnected(serverName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeFromHashIndexLocked(serverName)
	st, ok := e.servers[serverName]
	if !ok {
		return
	}
	st.IsConnected = false
	for ns, tool := range st.Tools {
		tool.ServerStatus = supervisor.StateDisconnected
		st.Tools[ns] = tool
		delete(e.byNamespace, ns)
	}
}

// GetAvailableTools returns every known tool. When connectedOnly is true,
// tools belonging to a not-connected server are filtered out.
func (e *Engine) GetAvailableTools(connectedOnly bool) []DiscoveredTool {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []DiscoveredTool
	for _, st := range e.servers {
		for _, tool := range st.Tools {
			if connectedOnly && !st.IsConnected {
				continue
			}
			out = append(out, tool)
		}
	}
	return out
}

// ServerState returns a copy of the per-server discovery state.
func (e *Engine) ServerState(serverName string) (ServerToolState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.servers[serverName]
	if !ok {
		return ServerToolState{}, false
	}
	clone := *st
	clone.Tools = make(map[string]DiscoveredTool, len(st.Tools))
	for k, v := range st.Tools {
		clone.Tools[k] = v
	}
	return clone, true
}

// LookupByNamespacedName returns the current tool registered under ns, if
// any is connected.
func (e *Engine) LookupByNamespacedName(ns string) (DiscoveredTool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.byNamespace[ns]
	return t, ok
}

// LookupByHash returns a tool registered under hash, if any is connected.
// hash collisions across servers are not forbidden (spec.md's tool
// identity is content-addressed per server, not globally unique); when
// more than one tool shares hash, the first one discovered is returned.
func (e *Engine) LookupByHash(hash string) (DiscoveredTool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tools := e.byHash[hash]
	if len(tools) == 0 {
		return DiscoveredTool{}, false
	}
	return tools[0], true
}

// StatusOf returns the live ConnectionStatus for serverName, consulting
// the ServerSource directly so callers always see the current status
// rather than one captured at enumeration time.
func (e *Engine) StatusOf(serverName string) (supervisor.Status, bool) {
	_, statusProvider, ok := e.source(serverName)
	if !ok || statusProvider == nil {
		return supervisor.Status{}, false
	}
	return statusProvider.Status(), true
}
