package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// sseClient wraps mcp-go's SSE client: an event stream for server-pushed
// notifications plus HTTP POST for outbound requests, correlated by
// request id — per spec.md §4.1. Correlation is handled inside the
// library. Each call passes the caller's ctx through unchanged; this
// wrapper adds no deadline of its own, so a call is bounded only by a
// deadline the caller's ctx already carries.
type sseClient struct {
	cfg    config.ServerConfig
	client *client.Client
}

func newSSE(cfg config.ServerConfig) Client {
	return &sseClient{cfg: cfg}
}

func (s *sseClient) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	var opts []client.ClientOption
	if headers := mergeHeaders(s.cfg); len(headers) > 0 {
		opts = append(opts, client.WithHeaders(headers))
	}
	c, err := client.NewSSEMCPClient(s.cfg.URL, opts...)
	if err != nil {
		return errkind.Wrap(errkind.KindConnect, "create sse client "+s.cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		return errkind.Wrap(errkind.KindConnect, "start sse stream "+s.cfg.Name, err).WithRetry()
	}
	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return errkind.Wrap(errkind.KindConnect, "initialize sse server "+s.cfg.Name, err).WithRetry()
	}
	s.client = c
	return nil
}

func (s *sseClient) Disconnect() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return errkind.Wrap(errkind.KindClosed, "close sse server "+s.cfg.Name, err)
	}
	return nil
}

func (s *sseClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if s.client == nil {
		return nil, errkind.New(errkind.KindClosed, "not connected")
	}
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.KindListFailed, "list tools "+s.cfg.Name, err)
	}
	return res.Tools, nil
}

func (s *sseClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if s.client == nil {
		return nil, errkind.New(errkind.KindClosed, "not connected")
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSend, "call tool "+name, err)
	}
	return res, nil
}

func (s *sseClient) Ping(ctx context.Context) error {
	if s.client == nil {
		return errkind.New(errkind.KindConnect, "not connected")
	}
	if err := s.client.Ping(ctx); err != nil {
		return errkind.Wrap(errkind.KindPing, "ping "+s.cfg.Name, err)
	}
	return nil
}

func (s *sseClient) OnNotification(fn func(mcp.JSONRPCNotification)) {
	if s.client != nil {
		s.client.OnNotification(fn)
	}
}

func (s *sseClient) OnConnectionLost(fn func(error)) {
	if s.client != nil {
		s.client.OnConnectionLost(fn)
	}
}
