package discovery

import "testing"

// TestHashIndexKeepsBothToolsOnCollision checks that byHash keeps every
// server's tool under a shared hash key: two tools from different servers
// are indexed under the same key, and disconnecting one server removes
// only that server's entry, leaving the other's resolvable by hash.
func TestHashIndexKeepsBothToolsOnCollision(t *testing.T) {
	e := newTestEngine(nil)

	toolA := DiscoveredTool{Name: "a", ServerName: "srv-a", NamespacedName: "srv-a.a", ToolHash: "shared-hash"}
	toolB := DiscoveredTool{Name: "b", ServerName: "srv-b", NamespacedName: "srv-b.b", ToolHash: "shared-hash"}

	e.mu.Lock()
	e.byHash["shared-hash"] = append(e.byHash["shared-hash"], toolA, toolB)
	e.mu.Unlock()

	e.mu.Lock()
	beforeCount := len(e.byHash["shared-hash"])
	e.mu.Unlock()
	if beforeCount != 2 {
		t.Fatalf("expected both colliding tools to be indexed, got %d", beforeCount)
	}

	e.HandleDisconnected("srv-a")

	e.mu.Lock()
	remaining := append([]DiscoveredTool(nil), e.byHash["shared-hash"]...)
	e.mu.Unlock()

	if len(remaining) != 1 || remaining[0].ServerName != "srv-b" {
		t.Fatalf("expected only srv-b's entry to survive disconnecting srv-a, got %+v", remaining)
	}

	if _, ok := e.LookupByHash("shared-hash"); !ok {
		t.Fatal("expected a hash lookup to still resolve to the surviving server's tool")
	}
}
