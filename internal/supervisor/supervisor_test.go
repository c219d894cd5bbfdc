package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
)

type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	connectCalls int
	pingErr      error
	lostFn       func(error)
	notifyFn     func(mcp.JSONRPCNotification)
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}
func (f *fakeClient) Disconnect() error { return nil }
func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "search"}}, nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("ok"), nil
}
func (f *fakeClient) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeClient) OnNotification(fn func(mcp.JSONRPCNotification)) {
	f.mu.Lock()
	f.notifyFn = fn
	f.mu.Unlock()
}
func (f *fakeClient) OnConnectionLost(fn func(error)) {
	f.mu.Lock()
	f.lostFn = fn
	f.mu.Unlock()
}

func (f *fakeClient) triggerConnectionLost(err error) {
	f.mu.Lock()
	fn := f.lostFn
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConnectTransitionsToConnected(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	client := &fakeClient{}
	s := New(cfg, client, DefaultRetryPolicy(), PingPolicy{}, testLogger())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsConnected() {
		t.Fatal("expected supervisor to be connected")
	}
	if s.Status().State != StateConnected {
		t.Fatalf("expected state connected, got %s", s.Status().State)
	}
}

func TestConnectFailureSchedulesRetryAndEmitsFailed(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	client := &fakeClient{connectErr: errors.New("refused")}
	retry := RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2, MaxRetries: 5, Jitter: false}
	s := New(cfg, client, retry, PingPolicy{}, testLogger())

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error to propagate")
	}

	var sawFailed, sawReconnecting bool
	deadline := time.After(time.Second)
	for !sawFailed || !sawReconnecting {
		select {
		case ev := <-s.Events():
			switch ev.Kind {
			case EventFailed:
				sawFailed = true
			case EventReconnecting:
				sawReconnecting = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for failed/reconnecting events (failed=%v reconnecting=%v)", sawFailed, sawReconnecting)
		}
	}
	s.Disconnect()
}

func TestConcurrentConnectIsGuarded(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	client := &fakeClient{}
	s := New(cfg, client, DefaultRetryPolicy(), PingPolicy{}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Connect(context.Background())
		}()
	}
	wg.Wait()

	client.mu.Lock()
	calls := client.connectCalls
	client.mu.Unlock()
	if calls == 0 {
		t.Fatal("expected at least one connect call")
	}
}

func TestDisconnectIsIdempotentAndClearsState(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	client := &fakeClient{}
	s := New(cfg, client, DefaultRetryPolicy(), PingPolicy{}, testLogger())
	_ = s.Connect(context.Background())

	if err := s.Disconnect(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("expected a second Disconnect to be a no-op, got %v", err)
	}
	if s.IsConnected() {
		t.Fatal("expected disconnected state")
	}
}

func TestReconnectAfterDisconnectResumesPingAndRetry(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	client := &fakeClient{}
	retry := RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2, MaxRetries: 5, Jitter: false}
	s := New(cfg, client, retry, PingPolicy{Interval: time.Millisecond}, testLogger())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error on first connect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("unexpected error on first disconnect: %v", err)
	}

	// A Connect on the same Supervisor after Disconnect must not be left
	// talking to a permanently-closed done channel: pings must still run
	// and a later connection loss must still schedule a retry.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error on reconnect: %v", err)
	}
	if !s.IsConnected() {
		t.Fatal("expected supervisor to be connected after reconnect")
	}

	client.pingErr = errors.New("downstream unreachable")
	var sawReconnecting bool
	deadline := time.After(time.Second)
	for !sawReconnecting {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventReconnecting {
				sawReconnecting = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for a retry to be scheduled after reconnect; the ping loop or retry timer from the new generation never ran")
		}
	}
	s.Disconnect()
}

func TestListToolsFailsWhenNotConnected(t *testing.T) {
	cfg := config.ServerConfig{Name: "srv", Type: config.TransportStdio, Command: "x"}
	s := New(cfg, &fakeClient{}, DefaultRetryPolicy(), PingPolicy{}, testLogger())
	if _, err := s.ListTools(context.Background()); err == nil {
		t.Fatal("expected an error listing tools on a disconnected supervisor")
	}
}
