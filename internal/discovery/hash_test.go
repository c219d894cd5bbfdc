package discovery

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestHashToolStableAcrossCalls(t *testing.T) {
	tool := mcp.Tool{
		Name:        "search",
		Description: "search the index",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"query"}},
	}

	h1 := HashTool("serverA", tool)
	h2 := HashTool("serverA", tool)
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q then %q", h1, h2)
	}
}

func TestHashToolIgnoresDescription(t *testing.T) {
	base := mcp.Tool{
		Name:        "search",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
	reworded := base
	reworded.Description = "a completely different description"

	if HashTool("serverA", base) != HashTool("serverA", reworded) {
		t.Fatal("expected description changes to not affect toolHash")
	}
}

func TestHashToolChangesWithSchema(t *testing.T) {
	base := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	changed := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"query"}}}

	if HashTool("serverA", base) == HashTool("serverA", changed) {
		t.Fatal("expected schema change to change toolHash")
	}
}

func TestHashToolDiffersByServer(t *testing.T) {
	tool := mcp.Tool{Name: "search", InputSchema: mcp.ToolInputSchema{Type: "object"}}
	if HashTool("serverA", tool) == HashTool("serverB", tool) {
		t.Fatal("expected two servers exposing the same tool shape to hash differently")
	}
}

func TestHashServerToolsOrderIndependent(t *testing.T) {
	a := []string{"h1", "h2", "h3"}
	b := []string{"h3", "h1", "h2"}
	if HashServerTools(a) != HashServerTools(b) {
		t.Fatal("expected HashServerTools to be independent of input order")
	}
}

func TestHashServerToolsChangesWithMembership(t *testing.T) {
	a := []string{"h1", "h2"}
	b := []string{"h1", "h2", "h3"}
	if HashServerTools(a) == HashServerTools(b) {
		t.Fatal("expected adding a tool to change the server tools hash")
	}
}
