package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
)

// Policy configures a bounded retry loop. Total attempts are MaxRetries+1.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// ShouldRetry lets the caller stop early on errors it knows are
	// permanent. Nil means every failure is retried until the budget is
	// spent.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns 3 retries waiting 1s, 2s and 4s, capped at 30s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Backoff returns the wait before attempt k (k >= 1):
// min(InitialDelay * Multiplier^(k-1), MaxDelay).
func (p Policy) Backoff(k int) time.Duration {
	if k < 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(k-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Executor runs fallible operations under a Policy. Waits go through the
// injected clock and end early when the context is cancelled.
type Executor struct {
	clock  clockwork.Clock
	policy Policy
	logger *zap.Logger
}

// NewExecutor creates a new executor
func NewExecutor(clock clockwork.Clock, policy Policy, logger *zap.Logger) *Executor {
	return &Executor{
		clock:  clock,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the executor's policy
func (e *Executor) Policy() Policy {
	return e.policy
}

// WithPolicy returns an executor sharing the clock and logger
func (e *Executor) WithPolicy(p Policy) *Executor {
	return &Executor{clock: e.clock, policy: p, logger: e.logger}
}

// Operation is one attempt of a retried action
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op until it succeeds or the retry budget is spent. After the last
// failed attempt it returns *errors.ExhaustedRetriesError, whose message and
// Unwrap are the last attempt's error. Cancelling ctx during a wait stops
// further attempts; an attempt already running is not interrupted by the
// executor.
func Do[T any](ctx context.Context, e *Executor, op Operation[T]) (T, error) {
	var zero T
	p := e.policy
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			e.logger.Debug("Retrying operation",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := e.wait(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, err)
			}
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, err
		}
	}

	e.logger.Debug("Retries exhausted",
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return zero, &errors.ExhaustedRetriesError{Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := e.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRecoverable reports whether err is worth retrying: network failures,
// timeouts, 408/429 and 5xx responses. Validation failures, version
// conflicts, other 4xx responses and caller cancellation are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := errors.AsValidation(err); ok {
		return false
	}
	if _, ok := errors.AsVersionConflict(err); ok {
		return false
	}
	if te, ok := errors.AsTransport(err); ok {
		return te.Recoverable
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}
