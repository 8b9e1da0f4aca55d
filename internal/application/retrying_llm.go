package application

import (
	"context"
	"time"

	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/retry"
	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

// asPlainContext recovers the concrete context.Context behind LLMClient's
// narrow Done()-only parameter — same idiom as infrastructure/llm's
// unexported asContext, needed here because retry.Executor.Execute wants a
// real context.Context (for its ctx.Done()-gated backoff timer).
func asPlainContext(ctx interface{ Done() <-chan struct{} }) context.Context {
	if cc, ok := ctx.(context.Context); ok {
		return cc
	}
	return context.Background()
}

// retryingLLMClient wraps a service.LLMClient with the Retry Executor
// (C2), the wiring this module's provider/Router layer otherwise has no
// home for: the teacher's callLLMWithRetry wrapped its own HTTP client
// inline, but here the Retry Executor is a standalone, independently
// testable domain component, so the wrapping happens once at the wiring
// boundary instead of inside every provider.
type retryingLLMClient struct {
	inner    service.LLMClient
	executor *retry.Executor
	policy   retry.Policy
}

// newRetryingLLMClient builds a retryingLLMClient from the session's
// Observer (shares the session's 3-strike bookkeeping) and the configured
// max-retries/base-wait.
func newRetryingLLMClient(inner service.LLMClient, observer *failure.Observer, maxRetries int, baseWait time.Duration, log *zap.Logger) *retryingLLMClient {
	if maxRetries <= 0 {
		maxRetries = retry.DefaultPolicy().MaxRetries
	}
	if baseWait <= 0 {
		baseWait = retry.DefaultPolicy().InitialDelay
	}
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	p.InitialDelay = baseWait
	return &retryingLLMClient{
		inner:    inner,
		executor: retry.NewExecutor(observer, log),
		policy:   p,
	}
}

var _ service.LLMClient = (*retryingLLMClient)(nil)

func (c *retryingLLMClient) Generate(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (*service.LLMResponse, error) {
	cctx := asPlainContext(ctx)
	result := c.executor.Execute(cctx, c.policy, func(_ context.Context) (interface{}, failure.Signal, error) {
		resp, err := c.inner.Generate(ctx, req)
		if err != nil {
			classified := service.ClassifyError(err, "llm", req.Model)
			failType, exitCode := classifyLLMError(classified)
			return nil, failure.NewFailureSignal(failure.SourceLLM, failType, exitCode, classified.Error(), "", "llm_generate", nil), nil
		}
		return resp, failure.NewSuccessSignal(failure.SourceLLM, "llm_generate", nil), nil
	})

	if !result.Success {
		if result.Err != nil {
			return nil, result.Err
		}
		msg := "llm generate failed after retries"
		if result.LastSignal != nil {
			msg = result.LastSignal.Message
		}
		return nil, &llmRetriesExhaustedError{message: msg, attempts: result.Attempts}
	}
	return result.Value.(*service.LLMResponse), nil
}

func (c *retryingLLMClient) GenerateStream(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (<-chan service.StreamChunk, error) {
	// Streaming responses are consumed incrementally by the caller, so a
	// whole-call retry (which would replay already-emitted chunks) isn't a
	// good fit — pass straight through. Non-streaming Generate is the path
	// actually exercised by the Task/Planner/Answer/Summarizer adapters.
	return c.inner.GenerateStream(ctx, req)
}

type llmRetriesExhaustedError struct {
	message  string
	attempts int
}

func (e *llmRetriesExhaustedError) Error() string {
	return e.message
}

// classifyLLMError maps service.ClassifyError's provider-agnostic
// LLMErrorKind onto the failure package's Type/ExitCode pair the Retry
// Executor's policy filters against — auth/bad-request/content-filter
// failures and cancellations are fatal (retrying a rejected API key never
// succeeds), the rest are retryable.
func classifyLLMError(e *service.LLMError) (failure.Type, failure.ExitCode) {
	switch e.Kind {
	case service.ErrKindAuth:
		return failure.TypePermissionDenied, failure.ExitFatal
	case service.ErrKindBadRequest:
		return failure.TypeInvalidParams, failure.ExitFatal
	case service.ErrKindContentFilter:
		return failure.TypeRejected, failure.ExitFatal
	case service.ErrKindBudget:
		return failure.TypeRateLimited, failure.ExitRetryable
	case service.ErrKindCancelled:
		return failure.TypeTimeout, failure.ExitFatal
	default:
		return failure.TypeNetworkError, failure.ExitRetryable
	}
}
