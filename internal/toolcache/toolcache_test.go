package toolcache

import (
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New()
	now := time.Now()
	c.Set("srv.tool", "srv", "payload", now)

	e, ok := c.Get("srv.tool")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if e.Tool != "payload" || e.ServerName != "srv" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestGetMissIncrementsMisses(t *testing.T) {
	c := New()
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss for unknown key")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", c.Stats().Misses)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(WithTTL(time.Millisecond))
	c.Set("srv.tool", "srv", "payload", time.Now())
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("srv.tool"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestPerServerCapEvictsOldest(t *testing.T) {
	c := New(WithPerServerCap(2))
	base := time.Now()
	c.Set("srv.a", "srv", "a", base)
	c.Set("srv.b", "srv", "b", base.Add(time.Second))
	c.Set("srv.c", "srv", "c", base.Add(2*time.Second))

	if _, ok := c.Get("srv.a"); ok {
		t.Fatal("expected the oldest entry to be evicted at cap")
	}
	if _, ok := c.Get("srv.b"); !ok {
		t.Fatal("expected srv.b to survive")
	}
	if _, ok := c.Get("srv.c"); !ok {
		t.Fatal("expected srv.c to survive")
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestPerServerCapIsIndependentAcrossServers(t *testing.T) {
	c := New(WithPerServerCap(1))
	now := time.Now()
	c.Set("srvA.tool", "srvA", "a", now)
	c.Set("srvB.tool", "srvB", "b", now)

	if _, ok := c.Get("srvA.tool"); !ok {
		t.Fatal("expected srvA's entry to survive despite srvB also being at cap")
	}
	if _, ok := c.Get("srvB.tool"); !ok {
		t.Fatal("expected srvB's entry to survive")
	}
}

func TestClearServerRemovesOnlyThatServer(t *testing.T) {
	c := New()
	now := time.Now()
	c.Set("srvA.tool", "srvA", "a", now)
	c.Set("srvB.tool", "srvB", "b", now)

	c.ClearServer("srvA")

	if _, ok := c.Get("srvA.tool"); ok {
		t.Fatal("expected srvA's entry to be cleared")
	}
	if _, ok := c.Get("srvB.tool"); !ok {
		t.Fatal("expected srvB's entry to remain")
	}
}

func TestServerEntriesSortedAndFiltersExpired(t *testing.T) {
	c := New(WithTTL(time.Hour))
	now := time.Now()
	c.Set("srv.b", "srv", "b", now)
	c.Set("srv.a", "srv", "a", now)

	entries := c.ServerEntries("srv")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Tool != "a" || entries[1].Tool != "b" {
		t.Fatalf("expected entries sorted by namespaced name, got %+v", entries)
	}

	expiring := New(WithTTL(time.Millisecond))
	expiring.Set("srv.old", "srv", "old", now)
	time.Sleep(5 * time.Millisecond)
	if got := expiring.ServerEntries("srv"); len(got) != 0 {
		t.Fatalf("expected expired entries to be filtered out, got %d", len(got))
	}
}
