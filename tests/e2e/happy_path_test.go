//go:build e2e

package e2e

import (
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/discovery"
	"github.com/toolprint/hypertool-mcp-go/internal/toolset"
)

func stdioServer(name string) config.ServerConfig {
	return config.ServerConfig{
		Name:    name,
		Type:    config.TransportStdio,
		Command: "go",
		Args:    []string{"run", serverPath(name)},
	}
}

var _ = Describe("cold start across two downstream servers", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(map[string]config.ServerConfig{
			"server1": stdioServer("server1"),
			"server2": stdioServer("server2"),
		})
		h.waitConnected("server1")
		h.waitConnected("server2")
	})

	AfterEach(func() { h.close() })

	It("discovers and namespaces tools from both servers without collision", func() {
		_, ok := h.engine.LookupByNamespacedName("server1.greet")
		Expect(ok).To(BeTrue())
		_, ok = h.engine.LookupByNamespacedName("server2.hello_world")
		Expect(ok).To(BeTrue())

		state1, ok := h.engine.ServerState("server1")
		Expect(ok).To(BeTrue())
		Expect(state1.IsConnected).To(BeTrue())
		Expect(state1.ToolCount).To(BeNumerically(">", 0))
	})

	It("resolves a strict-mode reference only when name and hash agree", func() {
		tool, ok := h.engine.LookupByNamespacedName("server1.time")
		Expect(ok).To(BeTrue())

		res, err := h.resolver.Resolve(discovery.ToolReference{
			NamespacedName: "server1.time",
			ToolHash:       tool.ToolHash,
		}, discovery.ResolveOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Exists).To(BeTrue())

		_, err = h.resolver.Resolve(discovery.ToolReference{
			NamespacedName: "server1.time",
			ToolHash:       "deadbeef",
		}, discovery.ResolveOptions{})
		Expect(err).To(HaveOccurred())

		relaxed, err := h.resolver.Resolve(discovery.ToolReference{
			NamespacedName: "server1.time",
			ToolHash:       "deadbeef",
		}, discovery.ResolveOptions{AllowStaleRefs: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(relaxed.Warning).NotTo(BeEmpty())
	})

	It("routes a tool call from the aggregator through to the correct downstream server", func() {
		cfg := toolset.Config{
			Name:    "research",
			Version: 1,
			Tools:   []toolset.ToolReference{{NamespacedName: "server1.greet"}},
		}
		_, err := h.toolsets.SetCurrentToolset(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.toolsets.EquipToolset("research")).To(Succeed())

		req := mcp.CallToolRequest{}
		req.Params.Name = "server1_greet"
		req.Params.Arguments = map[string]any{"name": "world"}
		res, err := h.client.CallTool(h.ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeFalse())
	})

	It("reports a change summary when re-enumerating an unchanged catalog", func() {
		before, ok := h.engine.ServerState("server1")
		Expect(ok).To(BeTrue())

		var changed bool
		h.engine.OnToolsChanged(func(discovery.ToolsChangedSummary) { changed = true })
		Expect(h.engine.HandleToolsListChanged(h.ctx, "server1")).To(Succeed())
		Expect(changed).To(BeTrue())

		after, ok := h.engine.ServerState("server1")
		Expect(ok).To(BeTrue())
		Expect(after.ToolCount).To(Equal(before.ToolCount))
	})
})

var _ = Describe("a server that fails downstream validation", func() {
	It("is never resolved into the live catalog", func() {
		h := newHarness(map[string]config.ServerConfig{
			"broken": {
				Name:    "broken",
				Type:    config.TransportStdio,
				Command: "go",
				Args:    []string{"run", serverPath("broken-server"), "--failure-mode", "no-tools"},
			},
		})
		defer h.close()

		Consistently(func() bool {
			_, ok := h.pool.Supervisor("broken")
			return ok
		}, "2s", "100ms").Should(BeTrue(), "the pool keeps retrying a server that never becomes healthy")

		_, ok := h.engine.LookupByNamespacedName("broken.anything")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("a self-referential stdio server", func() {
	It("is dropped instead of being connected", func() {
		ownCommand, err := os.Executable()
		Expect(err).NotTo(HaveOccurred())

		h := newHarness(map[string]config.ServerConfig{
			"self": {Name: "self", Type: config.TransportStdio, Command: ownCommand},
			"server1": stdioServer("server1"),
		})
		defer h.close()

		h.waitConnected("server1")
		_, ok := h.pool.Supervisor("self")
		Expect(ok).To(BeFalse())
	})
})
