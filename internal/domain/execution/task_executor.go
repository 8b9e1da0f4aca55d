// Package execution implements the Task Executor (C8), Answer Agent (C9)
// and Execution Router (C10): the components that run a single Task as an
// isolated inner reasoning loop, assemble per-task outputs into a final
// answer, and decide which of the SKILL / MCP_CODE / LLM paths handles a
// query.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/guardrail"
	"github.com/agentcore/agentcore/internal/domain/planning"
	"github.com/agentcore/agentcore/internal/domain/service"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracer emits one span per Task.Execute call and one child span per inner
// loop iteration, alongside the trace_id zap field already threaded through
// taskLog — the otel spans carry timing/attributes a log line can't.
var tracer = otel.Tracer("github.com/agentcore/agentcore/internal/domain/execution")

// ResultStatus is the terminal status carried by a TaskResult / DONE event.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultTimeout ResultStatus = "timeout"
	ResultSkipped ResultStatus = "skipped"
)

// TaskResult is the outcome of running one Task to completion, consumed by
// the Scheduler (to decide retry/skip/replan) and the Answer Agent (to
// assemble the final response).
type TaskResult struct {
	TaskID     string
	TaskTitle  string
	Status     ResultStatus
	Output     string
	Error      string
	Iterations int
}

// ToolOutcome is the domain-facing shape of a single tool invocation's
// result — deliberately independent of the infrastructure executor's own
// result type so this package never imports infrastructure/tool.
type ToolOutcome struct {
	ToolCallID string
	Output     string
	Success    bool
	Error      string
	Metadata   map[string]interface{}
}

// ToolRunner is the narrow collaborator the inner loop dispatches tool
// calls through. An infrastructure-side adapter wraps the concrete
// infrastructure/tool.Executor to satisfy this at wiring time.
type ToolRunner interface {
	ExecuteAll(ctx context.Context, calls []domaintool.ToolCall) []*ToolOutcome
}

// ValidationLevel selects which output validator the executor consults
// before emitting success.
type ValidationLevel string

const (
	ValidationGeneric   ValidationLevel = "generic"
	ValidationFinancial ValidationLevel = "financial"
)

// Validator checks a candidate task output against its validation_level,
// returning a critique to append to the inner loop when it fails.
type Validator interface {
	Validate(level ValidationLevel, output string) (ok bool, critique string)
}

// defaultValidator implements the two validation levels named in the spec
// with simple, dependency-free heuristics — no example repo in this corpus
// ships a generic "LLM output validator" abstraction to ground a richer
// implementation on, so this stays on stdlib regexp/strings by design.
type defaultValidator struct{}

// NewDefaultValidator returns the built-in Validator.
func NewDefaultValidator() Validator { return defaultValidator{} }

var financialFigure = regexp.MustCompile(`[$€£]\s?\d|[0-9][0-9,]*\.\d{2}|\d+\s?%`)

func (defaultValidator) Validate(level ValidationLevel, output string) (bool, string) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return false, "output is empty; produce a concrete result before finishing"
	}
	switch level {
	case ValidationFinancial:
		if !financialFigure.MatchString(trimmed) {
			return false, "expected a concrete figure (currency amount or percentage) in the output; restate the finding with numbers"
		}
		return true, ""
	default:
		return true, ""
	}
}

const (
	defaultMaxIterations  = 10
	defaultTimeoutSeconds = 300
)

// TaskExecutorConfig bounds one Task's inner loop.
type TaskExecutorConfig struct {
	MaxIterations int
	Timeout       time.Duration
	Model         string

	// ModelPolicyOverrides, when set, lets an operator tune per-model-family
	// runtime behavior (e.g. progress interval, prompt style) without a
	// binary rebuild — see service.LoadModelPolicyOverrides.
	ModelPolicyOverrides map[string]*service.ModelPolicyOverride
}

// DefaultTaskExecutorConfig mirrors spec defaults (10 iterations, 300s).
func DefaultTaskExecutorConfig() TaskExecutorConfig {
	return TaskExecutorConfig{MaxIterations: defaultMaxIterations, Timeout: defaultTimeoutSeconds * time.Second}
}

// TaskExecutor runs a single Task as its own inner reason/act/observe loop,
// isolated from sibling tasks — grounded on the teacher's AgentLoop.runLoop
// shape but scoped to one Task's ExecutionContext instead of the whole
// session, and sharing the engine's failure.Observer so inner tool failures
// count transitively toward the outer 3-strike rule.
type TaskExecutor struct {
	llm        service.LLMClient
	tools      ToolRunner
	toolDefs   []domaintool.Definition
	observer   *failure.Observer
	validator  Validator
	log        *zap.Logger
	cfg        TaskExecutorConfig
	middleware   *service.MiddlewarePipeline
	toolCache    *service.ToolResultCache
	loopDetector *guardrail.LoopDetector
	modelPolicy  service.ModelPolicy
}

// NewTaskExecutor constructs a TaskExecutor. observer is shared with the
// owning engine so strikes accumulate per session, not per task. The inner
// loop always runs through a small built-in middleware pipeline (dangling
// tool-call patching, reasoning-tag stripping) and a short-TTL tool result
// cache, the way the teacher's AgentLoop wired its own middleware chain
// around every model call.
func NewTaskExecutor(llm service.LLMClient, tools ToolRunner, toolDefs []domaintool.Definition, observer *failure.Observer, validator Validator, log *zap.Logger, cfg TaskExecutorConfig) *TaskExecutor {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if validator == nil {
		validator = NewDefaultValidator()
	}

	mw := service.NewMiddlewarePipeline(log)
	mw.Use(service.NewDanglingToolCallMiddleware(log), service.NewReasoningStripMiddleware())

	return &TaskExecutor{
		llm: llm, tools: tools, toolDefs: toolDefs, observer: observer, validator: validator, log: log, cfg: cfg,
		middleware:   mw,
		toolCache:    service.NewToolResultCache(30*time.Second, 200),
		loopDetector: guardrail.NewLoopDetector(guardrail.DefaultWindowSize, guardrail.DefaultExactThreshold, guardrail.DefaultNameThreshold, log),
		modelPolicy:  service.ResolveModelPolicy(cfg.Model, cfg.ModelPolicyOverrides),
	}
}

// Execute runs task to completion (non-streaming) and returns its result.
func (e *TaskExecutor) Execute(ctx context.Context, task *planning.Task, planPreamble string) *TaskResult {
	var final *TaskResult
	for ev := range e.runLoop(ctx, task, planPreamble) {
		if ev.Type == entity.EventDone {
			final = doneEventToResult(task, ev)
		}
	}
	if final == nil {
		final = &TaskResult{TaskID: task.ID, TaskTitle: task.Title, Status: ResultFailed, Error: "inner loop produced no result"}
	}
	return final
}

// ExecuteStream runs task to completion, emitting THINKING/TOOL_CALL/
// TOOL_RESULT events in order, followed by exactly one DONE event.
func (e *TaskExecutor) ExecuteStream(ctx context.Context, task *planning.Task, planPreamble string) <-chan entity.AgentEvent {
	return e.runLoop(ctx, task, planPreamble)
}

func doneEventToResult(task *planning.Task, ev entity.AgentEvent) *TaskResult {
	status, _ := ev.Payload["status"].(string)
	output, _ := ev.Payload["output"].(string)
	errMsg, _ := ev.Payload["error"].(string)
	iterations, _ := ev.Payload["iterations"].(int)
	return &TaskResult{
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		Status:     ResultStatus(status),
		Output:     output,
		Error:      errMsg,
		Iterations: iterations,
	}
}

func (e *TaskExecutor) runLoop(ctx context.Context, task *planning.Task, planPreamble string) chan entity.AgentEvent {
	out := make(chan entity.AgentEvent, 16)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task executor panic recovered", zap.Any("recover", r), zap.String("task", task.ID))
				out <- doneEvent(ResultFailed, "", fmt.Sprintf("internal error: %v", r), 0)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		ctx = service.WithTraceID(ctx, task.ID)
		taskLog := e.log.With(zap.String("trace_id", service.TraceIDFromContext(ctx)), zap.String("task_id", task.ID))
		e.loopDetector.Reset()

		ctx, span := tracer.Start(ctx, "task.execute", trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.title", task.Title),
			attribute.String("model", e.cfg.Model),
		))
		defer span.End()

		messages := []service.LLMMessage{{Role: "system", Content: e.buildInnerPrompt(task, planPreamble)}}
		validatorLevel := detectValidationLevel(task)

		var lastOutput, lastAssistantText string
		requestedFinalSummary := false
		for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
			iterCtx, iterSpan := tracer.Start(ctx, "task.iteration", trace.WithAttributes(attribute.Int("iteration", iter)))

			select {
			case <-ctx.Done():
				iterSpan.End()
				span.SetStatus(codes.Error, "timeout")
				out <- doneEvent(ResultTimeout, lastOutput, "inner loop exceeded its timeout", iter-1)
				return
			default:
			}

			messages = e.middleware.RunBeforeModel(iterCtx, messages, iter)

			resp, err := e.llm.Generate(iterCtx, &service.LLMRequest{
				Model:    e.cfg.Model,
				Messages: messages,
				Tools:    toolDefinitions(e.toolDefs),
			})
			if err != nil {
				if service.IsContextOverflowError(err) {
					before := len(messages)
					messages = truncateOnOverflow(messages)
					taskLog.Warn("inner loop: context overflow, truncating history",
						zap.Int("messages_before", before), zap.Int("messages_after", len(messages)))
					iterSpan.End()
					continue
				}
				signal := failure.NewFailureSignal(failure.SourceLLM, failure.TypeExecutionError, failure.ExitRetryable, err.Error(), "", "llm", nil)
				e.observer.Observe(signal)
				iterSpan.RecordError(err)
				iterSpan.End()
				if e.observer.ShouldStopRetry(signal) {
					span.SetStatus(codes.Error, "llm call failed repeatedly")
					out <- doneEvent(ResultFailed, lastOutput, "llm call failed repeatedly: "+err.Error(), iter)
					return
				}
				continue
			}
			resp = e.middleware.RunAfterModel(iterCtx, resp, iter)

			out <- entity.NewAgentEvent(entity.EventThinking, map[string]interface{}{"content": resp.Content, "iteration": iter})
			if strings.TrimSpace(resp.Content) != "" {
				lastAssistantText = resp.Content
			}

			if domaintool.HasFinalAnswer(resp.Content) {
				answer := domaintool.ExtractAnswer(resp.Content)
				if answer == "" {
					// Some models (ReasoningFormat != "native") reliably emit an
					// empty <final> block on the first attempt — ask once for an
					// explicit summary before falling back to its last non-empty
					// turn, matching the teacher's three-tier runLoop fallback.
					if !requestedFinalSummary && e.modelPolicy.ReasoningFormat != "native" {
						requestedFinalSummary = true
						messages = append(messages, service.LLMMessage{Role: "assistant", Content: resp.Content})
						messages = append(messages, service.LLMMessage{Role: "user", Content: "[SYSTEM] Your final answer was empty. State the result explicitly now."})
						iterSpan.End()
						continue
					}
					answer = lastAssistantText
				}
				lastOutput = answer
				if ok, critique := e.validator.Validate(validatorLevel, answer); !ok {
					if task.RetryCount+iter < e.cfg.MaxIterations {
						messages = append(messages, service.LLMMessage{Role: "assistant", Content: resp.Content})
						messages = append(messages, service.LLMMessage{Role: "user", Content: "Validation failed: " + critique})
						iterSpan.End()
						continue
					}
					iterSpan.End()
					span.SetStatus(codes.Error, "validation failed")
					out <- doneEvent(ResultFailed, answer, "validation failed: "+critique, iter)
					return
				}
				iterSpan.End()
				span.SetStatus(codes.Ok, "")
				out <- doneEvent(ResultSuccess, answer, "", iter)
				return
			}

			calls := domaintool.ParseToolCalls(resp.Content)
			if len(calls) == 0 {
				messages = append(messages, service.LLMMessage{Role: "assistant", Content: resp.Content})
				messages = append(messages, service.LLMMessage{Role: "user", Content: "No tool call or final answer was found; call a tool or emit a final answer."})
				iterSpan.End()
				continue
			}

			var loopNudge string
			for _, c := range calls {
				out <- entity.NewAgentEvent(entity.EventToolCall, map[string]interface{}{"id": c.ID, "name": c.Name, "arguments": c.Arguments})
				if n := e.loopDetector.RecordName(c.Name); n != "" && loopNudge == "" {
					loopNudge = n
				}
				if n := e.loopDetector.Record(c.Name, argsSignature(c.Arguments)); n != "" && loopNudge == "" {
					loopNudge = n
				}
			}

			results := e.executeWithCache(iterCtx, calls)
			messages = append(messages, service.LLMMessage{Role: "assistant", Content: resp.Content})
			for i, r := range results {
				signal := toolResultToSignal(calls[i], r)
				e.observer.Observe(signal)
				out <- entity.NewAgentEvent(entity.EventToolResult, map[string]interface{}{
					"id": r.ToolCallID, "name": calls[i].Name, "output": r.Output, "success": r.Success, "error": r.Error,
				})
				messages = append(messages, service.LLMMessage{
					Role:       "tool",
					Name:       calls[i].Name,
					ToolCallID: r.ToolCallID,
					Content:    toolResultText(r),
				})
				if !r.Success {
					lastOutput = r.Output
				}
				if e.observer.ShouldStopRetry(signal) {
					iterSpan.End()
					span.SetStatus(codes.Error, "tool failures exceeded the 3-strike threshold")
					out <- doneEvent(ResultFailed, lastOutput, "tool failures exceeded the 3-strike threshold", iter)
					return
				}
			}
			if loopNudge != "" {
				messages = append(messages, service.LLMMessage{Role: "user", Content: loopNudge})
			}
			iterSpan.End()
		}

		span.SetStatus(codes.Error, "max_iterations exceeded")
		out <- doneEvent(ResultFailed, lastOutput, "max_iterations exceeded without a final answer", e.cfg.MaxIterations)
	}()

	return out
}

// executeWithCache serves repeated identical tool calls (same name+args)
// within the cache's TTL straight from e.toolCache instead of re-dispatching
// them — the LLM re-issuing a call it already made (a retry, or looping on
// the same probe) is common enough in the inner loop to be worth the cache.
func (e *TaskExecutor) executeWithCache(ctx context.Context, calls []domaintool.ToolCall) []*ToolOutcome {
	results := make([]*ToolOutcome, len(calls))
	var misses []domaintool.ToolCall
	missIdx := make([]int, 0, len(calls))

	for i, c := range calls {
		if output, success, hit := e.toolCache.Get(c.Name, c.Arguments); hit {
			results[i] = &ToolOutcome{ToolCallID: c.ID, Output: output, Success: success}
			continue
		}
		misses = append(misses, c)
		missIdx = append(missIdx, i)
	}

	if len(misses) > 0 {
		outcomes := e.tools.ExecuteAll(ctx, misses)
		for j, r := range outcomes {
			results[missIdx[j]] = r
			e.toolCache.Put(misses[j].Name, misses[j].Arguments, r.Output, r.Success)
		}
	}

	return results
}

// truncateOnOverflow drops the oldest half of the non-system messages when
// the provider itself rejects a request as too large — a last-resort
// recovery distinct from the session-level Context Compressor (C5), which
// only runs between outer iterations and never sees an inner task's own
// message history.
func truncateOnOverflow(messages []service.LLMMessage) []service.LLMMessage {
	var system []service.LLMMessage
	var rest []service.LLMMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
			continue
		}
		rest = append(rest, m)
	}
	if len(rest) <= 2 {
		return messages
	}
	keepFrom := len(rest) / 2
	out := make([]service.LLMMessage, 0, len(system)+len(rest)-keepFrom)
	out = append(out, system...)
	out = append(out, rest[keepFrom:]...)
	return out
}

func (e *TaskExecutor) buildInnerPrompt(task *planning.Task, planPreamble string) string {
	var b strings.Builder
	if planPreamble != "" {
		b.WriteString(planPreamble)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if task.AcceptanceCriteria != "" {
		fmt.Fprintf(&b, "Acceptance criteria: %s\n", task.AcceptanceCriteria)
	}
	if len(task.ToolsHint) > 0 {
		fmt.Fprintf(&b, "Suggested tools: %s\n", strings.Join(task.ToolsHint, ", "))
	}
	b.WriteString("Call tools as needed, then respond with <final_answer>...</final_answer> when done.")
	return b.String()
}

// detectValidationLevel infers a task's validation level from its title and
// description — a coarse heuristic, not an ML classifier; see the note
// attached to defaultValidator on why this stays dependency-free.
func detectValidationLevel(task *planning.Task) ValidationLevel {
	text := strings.ToLower(task.Title + " " + task.Description)
	for _, kw := range []string{"price", "revenue", "cost", "budget", "invoice", "portfolio", "valuation"} {
		if strings.Contains(text, kw) {
			return ValidationFinancial
		}
	}
	return ValidationGeneric
}

func toolDefinitions(defs []domaintool.Definition) []service.ToolDefinition {
	out := make([]service.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = service.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// argsSignature renders a tool call's arguments into a stable string for the
// LoopDetector's exact-match comparison. Marshal failure degrades to an empty
// signature (name-only detection still applies).
func argsSignature(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

func toolResultText(r *ToolOutcome) string {
	if r.Success {
		return service.TruncateOutput(r.Output, service.DefaultMaxToolOutputChars)
	}
	if r.Error != "" {
		return "error: " + r.Error
	}
	return "error: tool call failed"
}

func toolResultToSignal(call domaintool.ToolCall, r *ToolOutcome) failure.Signal {
	if r.Success {
		return failure.NewSuccessSignal(failure.SourceTool, call.Name, call.Arguments)
	}
	typ := failure.TypeExecutionError
	if ft, ok := r.Metadata["failure_type"].(string); ok {
		typ = failure.Type(ft)
	}
	exitCode := failure.ExitRetryable
	if typ == failure.TypePermissionDenied || typ == failure.TypeInvalidParams {
		exitCode = failure.ExitFatal
	}
	return failure.NewFailureSignal(failure.SourceTool, typ, exitCode, r.Error, "", call.Name, call.Arguments)
}

func doneEvent(status ResultStatus, output, errMsg string, iterations int) entity.AgentEvent {
	payload := map[string]interface{}{"status": string(status), "output": output, "iterations": iterations}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return entity.NewAgentEvent(entity.EventDone, payload)
}
