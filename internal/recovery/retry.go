// Package recovery implements the recovery primitives (C8) shared by the
// connection supervisor and the request router: a jittered retry
// executor, a per-name circuit breaker, and an ordered fallback chain.
// Grounded on the teacher's ConfigureBackOff/retryDiscovery use of
// k8s.io/apimachinery/pkg/util/wait for exponential backoff.
package recovery

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// Classifier decides whether an error returned by a retried operation is
// worth retrying at all.
type Classifier func(error) bool

// DefaultClassifier retries only errors explicitly marked retryable by
// errkind, mirroring the taxonomy in spec.md §7.
func DefaultClassifier(err error) bool {
	var kindErr *errkind.Error
	if ok := asErrkind(err, &kindErr); ok {
		return kindErr.Retryable
	}
	return false
}

func asErrkind(err error, target **errkind.Error) bool {
	for err != nil {
		if e, ok := err.(*errkind.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// RetryPolicy configures a Retrier's backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
	Classify    Classifier
}

// DefaultRetryPolicy matches the documented defaults in spec.md §6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2.0,
		Jitter:      true,
		Classify:    DefaultClassifier,
	}
}

// Retrier runs an operation up to MaxAttempts times, sleeping a backed-off
// delay between attempts, retrying only errors its Classifier accepts.
type Retrier struct {
	policy RetryPolicy
}

// NewRetrier constructs a Retrier from policy. A non-positive MaxAttempts
// falls back to DefaultRetryPolicy's and a nil Classify to
// DefaultClassifier; every other field is used as given.
func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.Classify == nil {
		policy.Classify = DefaultClassifier
	}
	return &Retrier{policy: policy}
}

// Do runs op, retrying on a retryable error up to MaxAttempts times.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := wait.Backoff{
		Duration: r.policy.BaseDelay,
		Factor:   r.policy.Factor,
		Steps:    r.policy.MaxAttempts,
		Cap:      r.policy.MaxDelay,
	}

	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.Step()
			if r.policy.Jitter {
				delay = wait.Jitter(delay, 0.2)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.policy.Classify(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
