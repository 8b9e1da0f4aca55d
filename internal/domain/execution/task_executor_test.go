package execution

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/planning"
	"github.com/agentcore/agentcore/internal/domain/service"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

type doneCtx interface {
	Done() <-chan struct{}
}

// scriptedLLM replays a fixed sequence of responses, one per Generate call.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(_ doneCtx, _ *service.LLMRequest) (*service.LLMResponse, error) {
	if s.calls >= len(s.responses) {
		return &service.LLMResponse{Content: "<final_answer>out of script</final_answer>"}, nil
	}
	resp := &service.LLMResponse{Content: s.responses[s.calls]}
	s.calls++
	return resp, nil
}

func (s *scriptedLLM) GenerateStream(_ doneCtx, _ *service.LLMRequest) (<-chan service.StreamChunk, error) {
	return nil, nil
}

// noopTools returns a fixed ToolOutcome for every call.
type scriptedTools struct {
	outcome *ToolOutcome
}

func (s *scriptedTools) ExecuteAll(_ context.Context, calls []domaintool.ToolCall) []*ToolOutcome {
	out := make([]*ToolOutcome, len(calls))
	for i, c := range calls {
		o := *s.outcome
		o.ToolCallID = c.ID
		out[i] = &o
	}
	return out
}

func collectEvents(ch <-chan entity.AgentEvent) []entity.AgentEvent {
	var events []entity.AgentEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestExecute_FinalAnswerOnFirstIterationSucceeds(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`<final_answer>the answer</final_answer>`}}
	ex := NewTaskExecutor(llm, &scriptedTools{}, nil, failure.NewObserver(nil, testLogger()), nil, testLogger(), DefaultTaskExecutorConfig())

	task := planning.NewTask("t1", "do a thing")
	result := ex.Execute(context.Background(), task, "")

	if result.Status != ResultSuccess || result.Output != "the answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecute_ToolCallThenFinalAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`<tool_call name="read_file">{"path":"a.txt"}</tool_call>`,
		`<final_answer>done after tool</final_answer>`,
	}}
	tools := &scriptedTools{outcome: &ToolOutcome{Success: true, Output: "file contents"}}
	ex := NewTaskExecutor(llm, tools, nil, failure.NewObserver(nil, testLogger()), nil, testLogger(), DefaultTaskExecutorConfig())

	task := planning.NewTask("t1", "read a file")
	events := collectEvents(ex.ExecuteStream(context.Background(), task, ""))

	var sawToolCall, sawToolResult, sawDone bool
	for _, ev := range events {
		switch ev.Type {
		case entity.EventToolCall:
			sawToolCall = true
		case entity.EventToolResult:
			sawToolResult = true
		case entity.EventDone:
			sawDone = true
			if ev.Payload["status"] != string(ResultSuccess) {
				t.Fatalf("expected success done event, got %+v", ev.Payload)
			}
		}
	}
	if !sawToolCall || !sawToolResult || !sawDone {
		t.Fatalf("expected tool_call, tool_result and done events; got %+v", events)
	}
}

func TestExecute_ValidationFailureTriggersCritiqueThenRetry(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`<final_answer>no numbers here</final_answer>`,
		`<final_answer>the cost is $42.00</final_answer>`,
	}}
	ex := NewTaskExecutor(llm, &scriptedTools{}, nil, failure.NewObserver(nil, testLogger()), nil, testLogger(), DefaultTaskExecutorConfig())

	task := planning.NewTask("t1", "estimate project cost")
	result := ex.Execute(context.Background(), task, "")

	if result.Status != ResultSuccess || result.Output != "the cost is $42.00" {
		t.Fatalf("expected validated success after critique retry, got %+v", result)
	}
}

func TestExecute_MaxIterationsExceededFails(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"thinking without a final answer or tool call",
		"thinking without a final answer or tool call",
	}}
	cfg := TaskExecutorConfig{MaxIterations: 2}
	ex := NewTaskExecutor(llm, &scriptedTools{}, nil, failure.NewObserver(nil, testLogger()), nil, testLogger(), cfg)

	task := planning.NewTask("t1", "do a thing")
	result := ex.Execute(context.Background(), task, "")

	if result.Status != ResultFailed {
		t.Fatalf("expected failed status after exhausting max_iterations, got %+v", result)
	}
}

func TestExecute_ThreeStrikeToolFailureStopsEarly(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`<tool_call name="read_file">{"path":"a.txt"}</tool_call>`,
		`<tool_call name="read_file">{"path":"a.txt"}</tool_call>`,
		`<tool_call name="read_file">{"path":"a.txt"}</tool_call>`,
		`<final_answer>should never get here</final_answer>`,
	}}
	tools := &scriptedTools{outcome: &ToolOutcome{Success: false, Error: "boom", Metadata: map[string]interface{}{"failure_type": "execution_error"}}}
	ex := NewTaskExecutor(llm, tools, nil, failure.NewObserver(nil, testLogger()), nil, testLogger(), DefaultTaskExecutorConfig())

	task := planning.NewTask("t1", "read a file repeatedly")
	result := ex.Execute(context.Background(), task, "")

	if result.Status != ResultFailed {
		t.Fatalf("expected failed result once 3-strike threshold trips, got %+v", result)
	}
	if llm.calls >= 4 {
		t.Fatalf("expected the loop to stop before the 4th LLM call, got %d calls", llm.calls)
	}
}

func TestDetectValidationLevel_FinancialKeywords(t *testing.T) {
	task := planning.NewTask("t1", "estimate quarterly revenue")
	if lvl := detectValidationLevel(task); lvl != ValidationFinancial {
		t.Fatalf("expected financial validation level, got %s", lvl)
	}
}

func TestDetectValidationLevel_DefaultsToGeneric(t *testing.T) {
	task := planning.NewTask("t1", "summarize the document")
	if lvl := detectValidationLevel(task); lvl != ValidationGeneric {
		t.Fatalf("expected generic validation level, got %s", lvl)
	}
}
