package agent

import (
	"context"
	"testing"

	domaincontext "github.com/agentcore/agentcore/internal/domain/context"
	"github.com/agentcore/agentcore/internal/domain/entity"
	"github.com/agentcore/agentcore/internal/domain/execution"
	"github.com/agentcore/agentcore/internal/domain/failure"
	"github.com/agentcore/agentcore/internal/domain/service"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

// fakeLLM always answers with a final_answer block, never requesting a
// tool call, so the Task Executor's inner loop finishes on its first
// iteration.
type fakeLLM struct{ answer string }

func (f *fakeLLM) Generate(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (*service.LLMResponse, error) {
	return &service.LLMResponse{Content: "<final_answer>" + f.answer + "</final_answer>"}, nil
}

func (f *fakeLLM) GenerateStream(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (<-chan service.StreamChunk, error) {
	ch := make(chan service.StreamChunk)
	close(ch)
	return ch, nil
}

type fakeToolRunner struct{}

func (fakeToolRunner) ExecuteAll(ctx context.Context, calls []domaintool.ToolCall) []*execution.ToolOutcome {
	return nil
}

type noMatchSkillMatcher struct{}

func (noMatchSkillMatcher) Match(ctx context.Context, query string) (*execution.SkillMatch, error) {
	return nil, nil
}

type emptySkillRegistry struct{}

func (emptySkillRegistry) Get(skillID string) (*entity.Skill, bool) { return nil, false }

type noopSkillLoader struct{}

func (noopSkillLoader) LoadL2(skillID string) (string, error) { return "", nil }

type noopSkillExecutor struct{}

func (noopSkillExecutor) CanExecute(skillID string) bool { return false }
func (noopSkillExecutor) Execute(ctx context.Context, skillID, query string, toolsHint []string) (*execution.SkillExecResult, error) {
	return nil, nil
}

type noopSandbox struct{}

func (noopSandbox) ExecuteScript(ctx context.Context, interpreter, script string) (*execution.SandboxResult, error) {
	return &execution.SandboxResult{}, nil
}

type fakeAssemblyClient struct{ answer string }

func (f *fakeAssemblyClient) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	return &service.LLMResponse{Content: f.answer}, nil
}

// buildTestEngine wires a minimal Engine whose LLM path always answers
// directly, with no tools and no skill/MCP matches, so DIRECT mode
// resolves deterministically in a single Task Executor iteration.
func buildTestEngine(t *testing.T, answer string) *Engine {
	t.Helper()
	log := testLogger()

	llm := &fakeLLM{answer: answer}
	observer := failure.NewObserver(nil, log)
	taskExec := execution.NewTaskExecutor(llm, fakeToolRunner{}, nil, observer, execution.NewDefaultValidator(), log, execution.DefaultTaskExecutorConfig())

	router := execution.NewRouter(
		noMatchSkillMatcher{}, emptySkillRegistry{}, noopSkillLoader{}, noopSkillExecutor{}, noopSandbox{},
		domaintool.NewAllowList(), taskExec, execution.DefaultRouterConfig(), log,
	)

	answerAgent := execution.NewAnswerAgent(&fakeAssemblyClient{answer: answer}, "test-model", log)

	sm := service.NewStateMachine(50, log)
	ctxMgr := domaincontext.NewManager()

	deps := Deps{
		LLM:          llm,
		StateMachine: sm,
		Context:      ctxMgr,
		Observer:     observer,
		TaskExecutor: taskExec,
		Router:       router,
		AnswerAgent:  answerAgent,
	}

	return NewEngine("test-session", deps, service.DefaultEngineConfig(), log)
}

func TestEngine_Run_DirectMode_ReturnsFinalAnswer(t *testing.T) {
	e := buildTestEngine(t, "the answer is 42")

	result := e.Run(context.Background(), "what is the answer?")

	if !result.Success {
		t.Fatalf("expected success, got error=%v", result.Error)
	}
	if result.FinalContent != "the answer is 42" {
		t.Fatalf("unexpected final content: %q", result.FinalContent)
	}
}

func TestEngine_Execute_DirectMode_EmitsDoneEvent(t *testing.T) {
	e := buildTestEngine(t, "short reply")

	var sawDone bool
	for ev := range e.Execute(context.Background(), "hi", ModeDirect) {
		if ev.Type == entity.EventDone {
			sawDone = true
			if status, _ := ev.Payload["status"].(string); status != "success" {
				t.Errorf("expected success status, got %v", ev.Payload["status"])
			}
		}
	}
	if !sawDone {
		t.Fatal("expected a done event to be emitted")
	}
}

func TestPlanningShaped(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"hi", false},
		{"what's 2+2?", false},
		{"please research and compare three vendors comprehensively", true},
	}
	for _, tt := range tests {
		if got := planningShaped(tt.query); got != tt.want {
			t.Errorf("planningShaped(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
	long := make([]byte, planningShapedLengthThreshold+1)
	for i := range long {
		long[i] = 'a'
	}
	if !planningShaped(string(long)) {
		t.Error("expected a long query to be treated as planning-shaped")
	}
}

func TestToPolicyMessagesAndBack_RoundTripsRoleContentTokens(t *testing.T) {
	in := []domaincontext.Message{
		{Role: "user", Content: "hello", Tokens: 3},
		{Role: "tool", Content: "result", ToolCallID: "call-0", Tokens: 5},
	}

	out := toContextMessages(toPolicyMessages(in))

	if len(out) != len(in) {
		t.Fatalf("expected %d messages, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Role != in[i].Role || out[i].Content != in[i].Content || out[i].Tokens != in[i].Tokens {
			t.Errorf("message %d: got %+v, want role/content/tokens from %+v", i, out[i], in[i])
		}
	}
}
