package retry

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
)

func TestPolicyBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 16*time.Second, p.Backoff(5))
	assert.Equal(t, 30*time.Second, p.Backoff(6))
	assert.Equal(t, 30*time.Second, p.Backoff(20))
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	e := NewExecutor(clockwork.NewFakeClock(), DefaultPolicy(), zap.NewNop())
	calls := 0
	val, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 1, calls)
}

func TestDo_WaitsExactBackoffThenExhausts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var delays []time.Duration
	policy := DefaultPolicy()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	e := NewExecutor(clock, policy, zap.NewNop())

	var calls atomic.Int32
	lastErr := errors.StatusError(http.StatusServiceUnavailable, errors.ErrorCodeServiceDown, "attempt failed")
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), e, func(ctx context.Context) (struct{}, error) {
			calls.Add(1)
			return struct{}{}, lastErr
		})
		done <- err
	}()

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		clock.BlockUntil(1)
		assert.Equal(t, int32(i+1), calls.Load())

		// one millisecond short of the backoff must not start the next attempt
		clock.Advance(want - time.Millisecond)
		clock.BlockUntil(1)
		assert.Equal(t, int32(i+1), calls.Load())

		clock.Advance(time.Millisecond)
	}

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish")
	}

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)

	var exhausted *errors.ExhaustedRetriesError
	require.True(t, stderrors.As(err, &exhausted))
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, lastErr.Error(), err.Error())
	assert.True(t, stderrors.Is(err, lastErr))
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewExecutor(clock, DefaultPolicy(), zap.NewNop())

	var calls atomic.Int32
	done := make(chan int, 1)
	go func() {
		val, _ := Do(context.Background(), e, func(ctx context.Context) (int, error) {
			if calls.Add(1) < 2 {
				return 0, errors.NetworkError("dial", stderrors.New("connection refused"))
			}
			return 7, nil
		})
		done <- val
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	assert.Equal(t, 7, <-done)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_CancelDuringWaitPreventsNextAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewExecutor(clock, DefaultPolicy(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, func(ctx context.Context) error {
			calls.Add(1)
			return stderrors.New("transient")
		})
	}()

	clock.BlockUntil(1)
	cancel()
	err := <-done

	assert.True(t, stderrors.Is(err, context.Canceled))
	clock.Advance(time.Minute)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ShouldRetryStopsOnPermanentError(t *testing.T) {
	policy := DefaultPolicy()
	policy.ShouldRetry = IsRecoverable
	e := NewExecutor(clockwork.NewFakeClock(), policy, zap.NewNop())

	forbidden := errors.StatusError(http.StatusForbidden, errors.ErrorCodeForbidden, "denied")
	calls := 0
	err := e.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return forbidden
	})
	assert.Same(t, forbidden, err)
	assert.Equal(t, 1, calls)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.NetworkError("dial", stderrors.New("refused")), true},
		{"net.Error", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"503", errors.StatusError(503, errors.ErrorCodeServiceDown, "down"), true},
		{"429", errors.StatusError(429, errors.ErrorCodeRateLimited, "slow down"), true},
		{"400", errors.StatusError(400, errors.ErrorCodeInvalidRequest, "bad"), false},
		{"401", errors.StatusError(401, errors.ErrorCodeUnauthorized, "who"), false},
		{"403", errors.StatusError(403, errors.ErrorCodeForbidden, "no"), false},
		{"404", errors.StatusError(404, errors.ErrorCodeNotFound, "gone"), false},
		{"validation", errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeEmptyUpdate, "", "empty")}, false},
		{"conflict", errors.NewVersionConflict("region", "r1", 1, 2, nil), false},
		{"exhausted transient", &errors.ExhaustedRetriesError{Attempts: 4, Err: errors.NetworkError("dial", nil)}, true},
		{"message mentions network", stderrors.New("network unreachable"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}
