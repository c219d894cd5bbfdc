package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// shutdownGrace is how long Disconnect waits for a stdio child to exit
// cleanly before the underlying transport force-kills it, per spec.md
// §4.1. mcp-go's stdio transport owns the kill itself; we keep an explicit
// timer here so the grace period is visible and independently testable.
const shutdownGrace = 5 * time.Second

type stdioClient struct {
	cfg    config.ServerConfig
	client *client.Client
}

func newStdio(cfg config.ServerConfig) Client {
	return &stdioClient{cfg: cfg}
}

func (s *stdioClient) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	c, err := client.NewStdioMCPClient(s.cfg.Command, envSlice(s.cfg.Env), s.cfg.Args...)
	if err != nil {
		return errkind.Wrap(errkind.KindConnect, "spawn stdio server "+s.cfg.Name, err).WithRetry()
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return errkind.Wrap(errkind.KindConnect, "start stdio server "+s.cfg.Name, err).WithRetry()
	}
	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return errkind.Wrap(errkind.KindConnect, "initialize stdio server "+s.cfg.Name, err).WithRetry()
	}
	s.client = c
	return nil
}

func (s *stdioClient) Disconnect() error {
	if s.client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.client.Close() }()
	select {
	case err := <-done:
		s.client = nil
		if err != nil {
			return errkind.Wrap(errkind.KindClosed, "close stdio server "+s.cfg.Name, err)
		}
		return nil
	case <-time.After(shutdownGrace):
		s.client = nil
		return errkind.New(errkind.KindClosed, fmt.Sprintf("stdio server %s did not exit within grace period", s.cfg.Name))
	}
}

func (s *stdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if s.client == nil {
		return nil, errkind.New(errkind.KindClosed, "not connected")
	}
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.KindListFailed, "list tools "+s.cfg.Name, err)
	}
	return res.Tools, nil
}

func (s *stdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
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

func (s *stdioClient) Ping(ctx context.Context) error {
	if s.client == nil {
		return errkind.New(errkind.KindClosed, "not connected")
	}
	if err := s.client.Ping(ctx); err != nil {
		return errkind.Wrap(errkind.KindPing, "ping "+s.cfg.Name, err)
	}
	return nil
}

func (s *stdioClient) OnNotification(fn func(mcp.JSONRPCNotification)) {
	if s.client != nil {
		s.client.OnNotification(fn)
	}
}

func (s *stdioClient) OnConnectionLost(fn func(error)) {
	if s.client != nil {
		s.client.OnConnectionLost(fn)
	}
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "hypertool-mcp",
		Version: "0.1.0",
	}
	return req
}
