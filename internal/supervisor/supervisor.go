// Package supervisor implements the per-server connection state machine
// (spec.md §3/§4.2): one Supervisor owns one transport.Client, schedules
// retries and liveness pings, and emits lifecycle events that the pool
// (C3) fans in and discovery (C5) reacts to.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/toolprint/hypertool-mcp-go/internal/config"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/transport"
)

// State is one of the five connection states of spec.md §3.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// EventKind identifies the lifecycle event carried on a Supervisor's event
// channel, per the set in spec.md §4.2.
type EventKind string

const (
	EventConnecting       EventKind = "connecting"
	EventConnected        EventKind = "connected"
	EventDisconnected     EventKind = "disconnected"
	EventReconnecting     EventKind = "reconnecting"
	EventFailed           EventKind = "failed"
	EventError            EventKind = "error"
	EventToolsUnavailable EventKind = "tools_unavailable"
)

// Event is emitted on every state transition or ping failure.
type Event struct {
	Kind       EventKind
	ServerName string
	Err        error
}

// RetryPolicy governs the backoff schedule used between connect attempts.
type RetryPolicy struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	MaxRetries        int
	Jitter            bool
}

// DefaultRetryPolicy matches the documented defaults in spec.md §6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetries:        5,
		Jitter:            true,
	}
}

func (p RetryPolicy) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: p.InitialDelay,
		Factor:   p.BackoffMultiplier,
		Steps:    p.MaxRetries,
		Cap:      p.MaxDelay,
	}
}

// delayForAttempt returns min(maxDelay, initialDelay*multiplier^(n-1)),
// matching spec.md §4.2 exactly, with optional jitter applied on top.
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	b := p.backoff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.Step()
	}
	if p.Jitter {
		d = wait.Jitter(d, 0.2)
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

// PingPolicy governs the liveness probe run while CONNECTED.
type PingPolicy struct {
	Interval time.Duration
}

// DefaultPingPolicy matches the documented default in spec.md §6.
func DefaultPingPolicy() PingPolicy {
	return PingPolicy{Interval: 30 * time.Second}
}

// Status is a shallow, race-free snapshot of a Supervisor's connection
// state — spec.md's ConnectionStatus. Callers always receive a copy.
type Status struct {
	ServerID    string
	ServerName  string
	State       State
	RetryCount  int
	LastError   string
	ConnectedAt time.Time
	LastPing    time.Time
	Transport   config.Transport
}

// Supervisor owns one downstream server's transport.Client and the
// connection state machine described in spec.md §3. All state mutation
// happens under mu; external reads (Status) receive a copy.
type Supervisor struct {
	cfg    config.ServerConfig
	client transport.Client
	retry  RetryPolicy
	ping   PingPolicy
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	retryCount  int
	lastErr     string
	connectedAt time.Time
	lastPing    time.Time

	retryTimer *time.Timer
	pingTicker *time.Ticker
	connecting bool // guards against overlapping connect attempts (B3)

	notifyFn func(mcp.JSONRPCNotification)

	events chan Event
	// done signals every timer/goroutine belonging to the current connect
	// generation to stop. It is created lazily by Connect (nil -> fresh
	// channel) and closed+cleared by Disconnect, so a later Connect on the
	// same Supervisor starts a new generation instead of finding a
	// permanently-closed channel left over from a prior Disconnect.
	done chan struct{}
}

// New constructs a Supervisor for cfg. client is typically built by
// transport.New(cfg); accepting it as a parameter keeps Supervisor
// testable against fakes.
func New(cfg config.ServerConfig, client transport.Client, retry RetryPolicy, ping PingPolicy, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		client: client,
		retry:  retry,
		ping:   ping,
		logger: logger.With("server", cfg.Name),
		state:  StateDisconnected,
		events: make(chan Event, 16),
	}
}

// Events returns the channel of lifecycle events for this supervisor.
func (s *Supervisor) Events() <-chan Event { return s.events }

// OnNotification registers the handler invoked for every server-pushed
// notification forwarded by the underlying transport, in particular
// notifications/tools/list_changed. Must be called before Connect.
func (s *Supervisor) OnNotification(fn func(mcp.JSONRPCNotification)) {
	s.mu.Lock()
	s.notifyFn = fn
	s.mu.Unlock()
}

// ServerName returns the configured name of the downstream server.
func (s *Supervisor) ServerName() string { return s.cfg.Name }

func (s *Supervisor) emit(kind EventKind, err error) {
	select {
	case s.events <- Event{Kind: kind, ServerName: s.cfg.Name, Err: err}:
	default:
		s.logger.Warn("event channel full, dropping event", "kind", kind)
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// IsConnected reports whether the supervisor is currently CONNECTED.
func (s *Supervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// Status returns a race-free snapshot of the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ServerID:    s.cfg.Name,
		ServerName:  s.cfg.Name,
		State:       s.state,
		RetryCount:  s.retryCount,
		LastError:   s.lastErr,
		ConnectedAt: s.connectedAt,
		LastPing:    s.lastPing,
		Transport:   s.cfg.Type,
	}
}

// Connect transitions DISCONNECTED -> CONNECTING -> CONNECTED (or FAILED).
// At most one in-flight connect attempt is allowed per B3: a second
// concurrent call observes connecting=true and returns immediately without
// attempting a second transport handshake.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.state = StateConnecting
	if s.done == nil {
		s.done = make(chan struct{})
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	s.emit(EventConnecting, nil)

	if err := s.client.Connect(ctx); err != nil {
		s.onConnectFailure(err)
		return err
	}

	s.client.OnNotification(func(n mcp.JSONRPCNotification) {
		s.mu.Lock()
		fn := s.notifyFn
		s.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	})
	s.client.OnConnectionLost(func(err error) { s.onConnectionLost(err) })

	s.mu.Lock()
	s.state = StateConnected
	s.retryCount = 0
	s.lastErr = ""
	s.connectedAt = time.Now()
	s.mu.Unlock()

	s.emit(EventConnected, nil)
	s.startPing()
	return nil
}

func (s *Supervisor) onConnectFailure(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err.Error()
	retryCount := s.retryCount
	maxRetries := s.retry.MaxRetries
	s.mu.Unlock()

	s.emit(EventFailed, err)

	if retryCount < maxRetries {
		s.scheduleRetry()
	}
}

func (s *Supervisor) onConnectionLost(err error) {
	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.state = StateFailed
	s.lastErr = err.Error()
	retryCount := s.retryCount
	maxRetries := s.retry.MaxRetries
	s.mu.Unlock()

	s.stopPing()
	if wasConnected {
		s.emit(EventToolsUnavailable, err)
	}
	s.emit(EventError, err)
	s.emit(EventFailed, err)

	if retryCount < maxRetries {
		s.scheduleRetry()
	}
}

// scheduleRetry arms the retry timer per the geometric backoff of
// spec.md §4.2 (B1). Only armed while FAILED/RECONNECTING.
func (s *Supervisor) scheduleRetry() {
	s.mu.Lock()
	s.state = StateReconnecting
	s.retryCount++
	attempt := s.retryCount
	s.mu.Unlock()

	delay := s.retry.delayForAttempt(attempt)
	s.emit(EventReconnecting, nil)

	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	done := s.done
	s.retryTimer = time.AfterFunc(delay, func() {
		select {
		case <-done:
			return
		default:
		}
		s.setState(StateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Connect(ctx); err != nil {
			s.logger.Debug("retry connect failed", "error", err)
		}
	})
	s.mu.Unlock()
}

func (s *Supervisor) startPing() {
	s.mu.Lock()
	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	if s.ping.Interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.pingTicker = time.NewTicker(s.ping.Interval)
	ticker := s.pingTicker
	done := s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-ticker.C:
				if !ok {
					return
				}
				s.runPing()
			}
		}
	}()
}

func (s *Supervisor) runPing() {
	if !s.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx); err != nil {
		s.emit(EventError, err)
		s.mu.Lock()
		s.lastErr = err.Error()
		stillConnected := s.state == StateConnected
		retryCount := s.retryCount
		maxRetries := s.retry.MaxRetries
		s.mu.Unlock()
		if stillConnected && retryCount < maxRetries {
			s.mu.Lock()
			s.state = StateFailed
			s.mu.Unlock()
			s.stopPing()
			s.emit(EventToolsUnavailable, err)
			s.emit(EventFailed, err)
			s.scheduleRetry()
		}
		return
	}
	s.mu.Lock()
	s.lastPing = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) stopPing() {
	s.mu.Lock()
	if s.pingTicker != nil {
		s.pingTicker.Stop()
		s.pingTicker = nil
	}
	s.mu.Unlock()
}

// Disconnect clears all timers, closes the transport, and sets the state
// to DISCONNECTED. A repeated call leaves the same DISCONNECTED state but
// closes the transport again and emits EventDisconnected again. Per spec.md §4.2,
// timers are always cleared before the state is set.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()
	s.stopPing()

	err := s.client.Disconnect()

	s.mu.Lock()
	s.state = StateDisconnected
	s.connectedAt = time.Time{}
	s.mu.Unlock()

	s.emit(EventDisconnected, err)
	if err != nil {
		return errkind.Wrap(errkind.KindClosed, "disconnect "+s.cfg.Name, err)
	}
	return nil
}

// Ping performs an on-demand liveness probe without altering retry state.
func (s *Supervisor) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// ListTools enumerates the tools on the downstream server, delegating to
// the underlying transport client. Used by the discovery engine; fails if
// the supervisor is not currently connected.
func (s *Supervisor) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if !s.IsConnected() {
		return nil, errkind.New(errkind.KindServerDown, "server "+s.cfg.Name+" not connected")
	}
	return s.client.ListTools(ctx)
}

// CallTool invokes a tool by its original (unnamespaced) name on the
// downstream server this supervisor owns.
func (s *Supervisor) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if !s.IsConnected() {
		return nil, errkind.New(errkind.KindServerDown, "server "+s.cfg.Name+" not connected")
	}
	return s.client.CallTool(ctx, name, args)
}
