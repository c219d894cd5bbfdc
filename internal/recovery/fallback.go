package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// FallbackStrategy is one link in a FallbackChain: it declares whether it
// can handle a given error and, if so, runs its alternate execution path.
type FallbackStrategy interface {
	CanHandle(err error) bool
	Execute(ctx context.Context) (any, error)
}

// FallbackChain tries an ordered list of strategies after a primary
// operation fails, stopping at the first one that both claims the error
// and succeeds.
type FallbackChain struct {
	strategies []FallbackStrategy
}

// NewFallbackChain constructs a FallbackChain from strategies, tried in
// order.
func NewFallbackChain(strategies ...FallbackStrategy) *FallbackChain {
	return &FallbackChain{strategies: strategies}
}

// Run executes primary; on failure, tries each strategy that CanHandle
// the returned error in order. If every matching strategy also fails, the
// original error from primary is returned.
func (f *FallbackChain) Run(ctx context.Context, primary func(ctx context.Context) (any, error)) (any, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	original := err
	for _, s := range f.strategies {
		if !s.CanHandle(original) {
			continue
		}
		result, ferr := s.Execute(ctx)
		if ferr == nil {
			return result, nil
		}
	}
	return nil, original
}

// CircuitOpenFallback recognizes a circuit-open failure for one downstream
// server and substitutes a canned degraded-service response, so a tripped
// breaker fails soft instead of surfacing the raw circuit error on every
// call while it recovers.
type CircuitOpenFallback struct {
	ServerName string
}

// CanHandle reports whether err is the breaker's own circuit-open error.
func (f CircuitOpenFallback) CanHandle(err error) bool {
	var e *errkind.Error
	return errors.As(err, &e) && e.Kind == errkind.KindCircuitOpen
}

// Execute returns the canned degraded-service message.
func (f CircuitOpenFallback) Execute(_ context.Context) (any, error) {
	return fmt.Sprintf("server %q is temporarily unavailable (circuit open); try again shortly", f.ServerName), nil
}
