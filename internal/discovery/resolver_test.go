package discovery

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/supervisor"
	"github.com/toolprint/hypertool-mcp-go/internal/toolcache"
)

type fakeLister struct {
	tools []mcp.Tool
	err   error
}

func (f *fakeLister) ListTools(ctx context.Context) ([]mcp.Tool, error) { return f.tools, f.err }

type fakeStatus struct{ status supervisor.Status }

func (f *fakeStatus) Status() supervisor.Status { return f.status }

func newTestEngine(listers map[string]*fakeLister) *Engine {
	cache := toolcache.New()
	source := func(name string) (Lister, StatusProvider, bool) {
		l, ok := listers[name]
		if !ok {
			return nil, nil, false
		}
		return l, &fakeStatus{status: supervisor.Status{ServerName: name, State: supervisor.StateConnected}}, true
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cache, source, 0, logger)
}

func mustEnumerate(t *testing.T, e *Engine, server string) {
	t.Helper()
	if err := e.HandleConnected(context.Background(), server); err != nil {
		t.Fatalf("enumerate %s: %v", server, err)
	}
}

func TestResolveBothMatchAgree(t *testing.T) {
	tool := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	e := newTestEngine(map[string]*fakeLister{"srv": {tools: []mcp.Tool{tool}}})
	mustEnumerate(t, e, "srv")

	dt, ok := e.LookupByNamespacedName("srv.search")
	if !ok {
		t.Fatal("expected tool to be discovered")
	}

	r := NewResolver(e)
	res, err := r.Resolve(ToolReference{NamespacedName: "srv.search", ToolHash: dt.ToolHash}, ResolveOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Exists || !res.NamespacedNameMatch || !res.RefIDMatch || res.Warning != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveNeitherIdentifierIsError(t *testing.T) {
	e := newTestEngine(nil)
	r := NewResolver(e)
	if _, err := r.Resolve(ToolReference{}, ResolveOptions{}); err == nil {
		t.Fatal("expected error for reference with neither identifier")
	}
}

func TestResolveHashNameMismatchStrictRejects(t *testing.T) {
	toolA := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	toolB := mcp.Tool{Name: "lookup", InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"q"}}}
	e := newTestEngine(map[string]*fakeLister{"srv": {tools: []mcp.Tool{toolA, toolB}}})
	mustEnumerate(t, e, "srv")

	dtB, _ := e.LookupByNamespacedName("srv.lookup")
	r := NewResolver(e)

	// Reference points at toolA's name but toolB's hash: disagreement.
	_, err := r.Resolve(ToolReference{NamespacedName: "srv.search", ToolHash: dtB.ToolHash}, ResolveOptions{AllowStaleRefs: false})
	if err == nil {
		t.Fatal("expected strict mode to reject a name/hash disagreement")
	}
}

func TestResolveHashNameMismatchRelaxedPrefersHash(t *testing.T) {
	toolA := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	toolB := mcp.Tool{Name: "lookup", InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"q"}}}
	e := newTestEngine(map[string]*fakeLister{"srv": {tools: []mcp.Tool{toolA, toolB}}})
	mustEnumerate(t, e, "srv")

	dtB, _ := e.LookupByNamespacedName("srv.lookup")
	r := NewResolver(e)

	res, err := r.Resolve(ToolReference{NamespacedName: "srv.search", ToolHash: dtB.ToolHash}, ResolveOptions{AllowStaleRefs: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Exists || res.Tool.NamespacedName != "srv.lookup" || res.Warning == "" {
		t.Fatalf("expected relaxed mode to resolve by hash with a warning, got %+v", res)
	}
}

func TestResolveUnknownReferenceDoesNotExist(t *testing.T) {
	e := newTestEngine(nil)
	r := NewResolver(e)
	res, err := r.Resolve(ToolReference{NamespacedName: "srv.missing"}, ResolveOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Exists {
		t.Fatal("expected Exists=false for an unresolvable reference")
	}
}

func TestEnumerateDiffAndDisconnectPreservesCache(t *testing.T) {
	toolA := mcp.Tool{Name: "a", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	listers := map[string]*fakeLister{"srv": {tools: []mcp.Tool{toolA}}}
	e := newTestEngine(listers)

	var summaries []ToolsChangedSummary
	e.OnToolsChanged(func(s ToolsChangedSummary) { summaries = append(summaries, s) })

	mustEnumerate(t, e, "srv")
	if len(summaries) != 1 || len(summaries[0].Added) != 1 {
		t.Fatalf("expected one added tool on first enumeration, got %+v", summaries)
	}

	toolB := mcp.Tool{Name: "b", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	listers["srv"].tools = []mcp.Tool{toolA, toolB}
	mustEnumerate(t, e, "srv")
	if len(summaries) != 2 || len(summaries[1].Added) != 1 || len(summaries[1].Unchanged) != 1 {
		t.Fatalf("expected one added, one unchanged on second enumeration, got %+v", summaries[1])
	}

	if _, ok := e.LookupByNamespacedName("srv.a"); !ok {
		t.Fatal("expected srv.a to still be looked-up after re-enumeration")
	}

	e.HandleDisconnected("srv")
	if _, ok := e.LookupByNamespacedName("srv.a"); ok {
		t.Fatal("expected index entries to be cleared on disconnect")
	}
	state, ok := e.ServerState("srv")
	if !ok || state.IsConnected {
		t.Fatal("expected server state to remain but marked not connected")
	}
	if _, ok := state.Tools["srv.a"]; !ok {
		t.Fatal("expected cached tool objects to survive a disconnect")
	}
}
