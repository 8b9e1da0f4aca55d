package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/domain/failure"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestDelayForAttempt_Strategies(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		n      int
		want   time.Duration
	}{
		{"none", Policy{Strategy: StrategyNoneKind, InitialDelay: time.Second}, 1, 0},
		{"immediate", Policy{Strategy: StrategyImmediate, InitialDelay: time.Second}, 3, 0},
		{"linear", Policy{Strategy: StrategyLinear, InitialDelay: time.Second}, 3, 3 * time.Second},
		{"exponential", Policy{Strategy: StrategyExponential, InitialDelay: time.Second, BackoffFactor: 2}, 3, 4 * time.Second},
		{"exponential_capped", Policy{Strategy: StrategyExponential, InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 3 * time.Second}, 3, 3 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.policy.delayForAttempt(c.n)
			if got != c.want {
				t.Errorf("delayForAttempt(%d) = %v, want %v", c.n, got, c.want)
			}
		})
	}
}

func TestDelayForAttempt_JitterAddsNoMoreThanFactor(t *testing.T) {
	p := Policy{Strategy: StrategyExponentialJitter, InitialDelay: time.Second, BackoffFactor: 2, JitterFactor: 0.5}
	base := time.Second * 4 // attempt 3: 1s * 2^2
	for i := 0; i < 20; i++ {
		d := p.delayForAttempt(3)
		if d < base || d > base+time.Duration(float64(base)*0.5) {
			t.Fatalf("jittered delay %v out of expected range [%v, %v]", d, base, base+time.Duration(float64(base)*0.5))
		}
	}
}

func TestShouldRetry_RespectsMaxRetriesAndRetryability(t *testing.T) {
	p := Policy{MaxRetries: 2, Strategy: StrategyImmediate}

	retryable := failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil)
	if !p.shouldRetry(1, retryable) {
		t.Error("expected retry on attempt 1 of 2")
	}
	if p.shouldRetry(2, retryable) {
		t.Error("expected no retry once attempt reaches max_retries")
	}

	nonRetryable := failure.NewFailureSignal(failure.SourceTool, failure.TypePermissionDenied, failure.ExitRetryable, "x", "", "t", nil)
	if p.shouldRetry(1, nonRetryable) {
		t.Error("permission_denied must never be retried")
	}
}

func TestShouldRetry_StrategyNoneNeverRetries(t *testing.T) {
	p := NoRetryPolicy()
	sig := failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil)
	if p.shouldRetry(0, sig) {
		t.Error("strategy none must never retry")
	}
}

func TestShouldRetry_FiltersByRetryableTypes(t *testing.T) {
	p := Policy{MaxRetries: 5, Strategy: StrategyImmediate, RetryableTypes: []failure.Type{failure.TypeRateLimited}}

	matching := failure.NewFailureSignal(failure.SourceTool, failure.TypeRateLimited, failure.ExitRetryable, "x", "", "t", nil)
	if !p.shouldRetry(1, matching) {
		t.Error("expected retry for a type present in RetryableTypes")
	}

	other := failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil)
	if p.shouldRetry(1, other) {
		t.Error("expected no retry for a type absent from RetryableTypes")
	}
}

func TestExecute_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	e := NewExecutor(nil, testLogger())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		return "ok", failure.NewSuccessSignal(failure.SourceTool, "t", nil), nil
	}

	result := e.Execute(context.Background(), DefaultPolicy(), fn)
	if !result.Success || result.Attempts != 1 || calls != 1 {
		t.Fatalf("unexpected result: %+v calls=%d", result, calls)
	}
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	e := NewExecutor(nil, testLogger())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		if calls < 3 {
			return nil, failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil), nil
		}
		return "ok", failure.NewSuccessSignal(failure.SourceTool, "t", nil), nil
	}

	policy := Policy{MaxRetries: 5, Strategy: StrategyImmediate}
	result := e.Execute(context.Background(), policy, fn)
	if !result.Success || result.Attempts != 3 {
		t.Fatalf("expected success on 3rd attempt, got %+v", result)
	}
}

func TestExecute_StopsAtMaxRetries(t *testing.T) {
	e := NewExecutor(nil, testLogger())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		return nil, failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "always fails", "", "t", nil), nil
	}

	policy := Policy{MaxRetries: 3, Strategy: StrategyImmediate}
	result := e.Execute(context.Background(), policy, fn)
	if result.Success {
		t.Fatal("expected failure after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestExecute_ObserverThreeStrikeStopsEarly(t *testing.T) {
	observer := failure.NewObserver(nil, testLogger())
	e := NewExecutor(observer, testLogger())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		return nil, failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "flaky", nil), nil
	}

	policy := Policy{MaxRetries: 10, Strategy: StrategyImmediate}
	result := e.Execute(context.Background(), policy, fn)
	if result.Success {
		t.Fatal("expected failure")
	}
	if calls != 3 {
		t.Fatalf("expected observer 3-strike to stop retries at 3 attempts, got %d", calls)
	}
}

func TestExecute_FatalExitCodeStopsImmediately(t *testing.T) {
	observer := failure.NewObserver(nil, testLogger())
	e := NewExecutor(observer, testLogger())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		return nil, failure.NewFailureSignal(failure.SourceSystem, failure.TypeUnknown, failure.ExitFatal, "boom", "", "t", nil), nil
	}

	policy := Policy{MaxRetries: 10, Strategy: StrategyImmediate}
	result := e.Execute(context.Background(), policy, fn)
	if result.Success || calls != 1 {
		t.Fatalf("expected immediate stop on fatal exit code, got calls=%d result=%+v", calls, result)
	}
}

func TestExecute_ContextCancelledDuringDelayAborts(t *testing.T) {
	e := NewExecutor(nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fn := func(ctx context.Context) (interface{}, failure.Signal, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return nil, failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil), nil
	}

	policy := Policy{MaxRetries: 5, Strategy: StrategyLinear, InitialDelay: time.Hour}
	result := e.Execute(ctx, policy, fn)
	if result.Success || !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled error, got %+v", result)
	}
}

func TestExecuteWithFallback_UsesFallbackAfterPrimaryExhausted(t *testing.T) {
	e := NewExecutor(nil, testLogger())
	primaryCalls, fallbackCalls := 0, 0
	primary := func(ctx context.Context) (interface{}, failure.Signal, error) {
		primaryCalls++
		return nil, failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "primary", nil), nil
	}
	fallback := func(ctx context.Context) (interface{}, failure.Signal, error) {
		fallbackCalls++
		return "fallback-ok", failure.NewSuccessSignal(failure.SourceTool, "fallback", nil), nil
	}

	policy := Policy{MaxRetries: 2, Strategy: StrategyImmediate}
	result := e.ExecuteWithFallback(context.Background(), policy, primary, fallback)
	if !result.Success || result.Value != "fallback-ok" {
		t.Fatalf("expected fallback success, got %+v", result)
	}
	if primaryCalls != 2 || fallbackCalls != 1 {
		t.Fatalf("expected primary exhausted (2) then fallback succeeds (1), got primary=%d fallback=%d", primaryCalls, fallbackCalls)
	}
	if result.Attempts != primaryCalls+fallbackCalls {
		t.Errorf("expected merged attempt count, got %d", result.Attempts)
	}
}

func TestRateLimitedPolicy_OnlyRetriesRateLimitedType(t *testing.T) {
	p := RateLimitedPolicy()
	other := failure.NewFailureSignal(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "x", "", "t", nil)
	if p.shouldRetry(0, other) {
		t.Error("RateLimitedPolicy should not retry non-rate_limited failure types")
	}
	rl := failure.NewFailureSignal(failure.SourceTool, failure.TypeRateLimited, failure.ExitRetryable, "x", "", "t", nil)
	if !p.shouldRetry(0, rl) {
		t.Error("RateLimitedPolicy should retry rate_limited failures")
	}
}
