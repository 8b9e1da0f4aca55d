// Package retry implements the Retry Executor (C2): attempt-count-bounded
// retry of an async callable under a configurable backoff strategy, plus
// per-error-class presets and a primary/fallback execution helper.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentcore/agentcore/internal/domain/failure"
)

// Strategy selects the backoff shape used between attempts.
type Strategy string

const (
	StrategyNoneKind              Strategy = "none"
	StrategyImmediate             Strategy = "immediate"
	StrategyLinear                Strategy = "linear"
	StrategyExponential           Strategy = "exponential"
	StrategyExponentialJitter     Strategy = "exponential_jitter"
)

// Policy configures one Retry Executor invocation.
type Policy struct {
	MaxRetries     int
	Strategy       Strategy
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFactor   float64 // [0,1]
	RetryableTypes []failure.Type // optional filter; empty = no filter

	// Limiter, when set, additionally throttles attempts against a shared
	// token bucket — used by RateLimitedPolicy so concurrent callers hitting
	// the same rate-limited dependency don't all retry in lockstep.
	Limiter *rate.Limiter
}

// DefaultPolicy is a conservative general-purpose baseline.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		Strategy:      StrategyExponentialJitter,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// RateLimitedPolicy is the preset for rate_limited-class failures: longer
// initial delay, more retries, higher jitter so concurrent callers don't
// resynchronize against the same limiter window, plus a shared token-bucket
// limiter so concurrent retries of the same dependency self-space.
func RateLimitedPolicy() Policy {
	return Policy{
		MaxRetries:     6,
		Strategy:       StrategyExponentialJitter,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.5,
		RetryableTypes: []failure.Type{failure.TypeRateLimited},
		Limiter:        rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// NoRetryPolicy is the preset for classes that should never be retried
// (permission_denied, invalid_params).
func NoRetryPolicy() Policy {
	return Policy{MaxRetries: 0, Strategy: StrategyNoneKind}
}

// delayForAttempt computes the backoff delay before attempt n (1-indexed),
// capped at MaxDelay. The jitter variant adds delay * JitterFactor * U(0,1).
func (p Policy) delayForAttempt(n int) time.Duration {
	var d time.Duration
	switch p.Strategy {
	case StrategyNoneKind, StrategyImmediate:
		d = 0
	case StrategyLinear:
		d = p.InitialDelay * time.Duration(n)
	case StrategyExponential, StrategyExponentialJitter:
		factor := math.Pow(p.BackoffFactor, float64(n-1))
		d = time.Duration(float64(p.InitialDelay) * factor)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Strategy == StrategyExponentialJitter && d > 0 {
		d += time.Duration(float64(d) * p.JitterFactor * rand.Float64())
	}
	return d
}

// shouldRetry reports whether attempt n (the attempt that just failed,
// 1-indexed) may be retried under p given signal.
func (p Policy) shouldRetry(n int, signal failure.Signal) bool {
	if p.Strategy == StrategyNoneKind {
		return false
	}
	if n >= p.MaxRetries {
		return false
	}
	if !signal.IsRetryable() {
		return false
	}
	if len(p.RetryableTypes) == 0 {
		return true
	}
	for _, t := range p.RetryableTypes {
		if t == signal.Type {
			return true
		}
	}
	return false
}

// Attempt is the async callable the executor drives. It returns a value,
// the FailureSignal describing this attempt's outcome (success or not),
// and an error only for unrecoverable programmer/context errors.
type Attempt func(ctx context.Context) (value interface{}, signal failure.Signal, err error)

// Result reports the outcome of Execute/ExecuteWithFallback.
type Result struct {
	Success      bool
	Value        interface{}
	Err          error
	Attempts     int
	TotalDelay   time.Duration
	LastSignal   *failure.Signal
}

// Executor drives Attempt under a Policy, consulting an Observer for the
// should_stop_retry 3-strike/fatal override.
type Executor struct {
	observer *failure.Observer
	log      *zap.Logger
}

// NewExecutor creates a Retry Executor backed by the given Observer (may be
// nil, in which case only the policy's own rules apply).
func NewExecutor(observer *failure.Observer, log *zap.Logger) *Executor {
	return &Executor{observer: observer, log: log}
}

// Execute repeatedly attempts fn under policy until it succeeds, the policy
// exhausts retries, or the Observer's 3-strike/fatal rule fires.
func (e *Executor) Execute(ctx context.Context, policy Policy, fn Attempt) Result {
	var (
		attempts   int
		totalDelay time.Duration
		lastSignal *failure.Signal
		lastErr    error
		lastValue  interface{}
	)

	for attempt := 1; ; attempt++ {
		attempts = attempt

		value, signal, err := fn(ctx)
		lastValue, lastErr = value, err
		sig := signal
		lastSignal = &sig

		if e.observer != nil {
			e.observer.Observe(signal)
		}

		if err == nil && signal.IsSuccess() {
			return Result{Success: true, Value: value, Attempts: attempts, TotalDelay: totalDelay, LastSignal: lastSignal}
		}

		if e.observer != nil && e.observer.ShouldStopRetry(signal) {
			e.log.Debug("retry executor: observer requested stop", zap.String("tool", signal.ToolName))
			break
		}
		if !policy.shouldRetry(attempt, signal) {
			break
		}

		delay := policy.delayForAttempt(attempt)
		totalDelay += delay
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{Success: false, Err: ctx.Err(), Attempts: attempts, TotalDelay: totalDelay, LastSignal: lastSignal}
			case <-timer.C:
			}
		}
		if policy.Limiter != nil {
			if err := policy.Limiter.Wait(ctx); err != nil {
				return Result{Success: false, Err: err, Attempts: attempts, TotalDelay: totalDelay, LastSignal: lastSignal}
			}
		}
	}

	return Result{Success: false, Value: lastValue, Err: lastErr, Attempts: attempts, TotalDelay: totalDelay, LastSignal: lastSignal}
}

// ExecuteWithFallback tries primary under policy, and on failure tries
// fallback under the same policy, merging attempt counts and total delay.
func (e *Executor) ExecuteWithFallback(ctx context.Context, policy Policy, primary, fallback Attempt) Result {
	primaryResult := e.Execute(ctx, policy, primary)
	if primaryResult.Success {
		return primaryResult
	}

	fallbackResult := e.Execute(ctx, policy, fallback)
	fallbackResult.Attempts += primaryResult.Attempts
	fallbackResult.TotalDelay += primaryResult.TotalDelay
	return fallbackResult
}
