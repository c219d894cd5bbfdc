package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// httpClient wraps mcp-go's streamable HTTP client. Each call is an
// independent request/response; Connect performs a liveness probe rather
// than assuming success from construction, per spec.md §4.1.
type httpClient struct {
	cfg    config.ServerConfig
	client *client.Client
}

func newHTTP(cfg config.ServerConfig) Client {
	return &httpClient{cfg: cfg}
}

func (h *httpClient) Connect(ctx context.Context) error {
	if h.client != nil {
		return h.Ping(ctx)
	}
	c, err := client.NewStreamableHttpClient(h.cfg.URL, transport.WithHTTPHeaders(mergeHeaders(h.cfg)))
	if err != nil {
		return errkind.Wrap(errkind.KindConnect, "create http client "+h.cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		return errkind.Wrap(errkind.KindConnect, "start http client "+h.cfg.Name, err).WithRetry()
	}
	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return errkind.Wrap(errkind.KindConnect, "initialize http server "+h.cfg.Name, err).WithRetry()
	}
	h.client = c
	return nil
}

func (h *httpClient) Disconnect() error {
	if h.client == nil {
		return nil
	}
	err := h.client.Close()
	h.client = nil
	if err != nil {
		return errkind.Wrap(errkind.KindClosed, "close http server "+h.cfg.Name, err)
	}
	return nil
}

func (h *httpClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if h.client == nil {
		return nil, errkind.New(errkind.KindClosed, "not connected")
	}
	res, err := h.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.KindListFailed, "list tools "+h.cfg.Name, err)
	}
	return res.Tools, nil
}

func (h *httpClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if h.client == nil {
		return nil, errkind.New(errkind.KindClosed, "not connected")
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := h.client.CallTool(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSend, "call tool "+name, err)
	}
	return res, nil
}

func (h *httpClient) Ping(ctx context.Context) error {
	if h.client == nil {
		return errkind.New(errkind.KindConnect, "not connected")
	}
	if err := h.client.Ping(ctx); err != nil {
		return errkind.Wrap(errkind.KindPing, "ping "+h.cfg.Name, err)
	}
	return nil
}

func (h *httpClient) OnNotification(fn func(mcp.JSONRPCNotification)) {
	if h.client != nil {
		h.client.OnNotification(fn)
	}
}

func (h *httpClient) OnConnectionLost(fn func(error)) {
	if h.client != nil {
		h.client.OnConnectionLost(fn)
	}
}
