package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

func newTestProvider() *OpenAIProvider {
	return &OpenAIProvider{
		name:    "test",
		logger:  zap.NewNop(),
		breaker: NewCircuitBreaker(5, 0),
	}
}

func drainChunks(ch <-chan service.StreamChunk) []service.StreamChunk {
	var result []service.StreamChunk
	for c := range ch {
		result = append(result, c)
	}
	return result
}

func TestParseSSEStream_TextOnly(t *testing.T) {
	p := newTestProvider()

	sseData := `data: {"id":"chatcmpl-1","choices":[{"delta":{"role":"assistant","content":"Hello"},"finish_reason":null}],"model":"gpt-4"}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":" world"},"finish_reason":null}],"model":"gpt-4"}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"!"},"finish_reason":"stop"}],"model":"gpt-4","usage":{"total_tokens":42}}

data: [DONE]
`

	out := make(chan service.StreamChunk, 64)
	err := p.parseSSEStream(context.Background(), strings.NewReader(sseData), out)
	close(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var content strings.Builder
	sawDone := false
	for _, c := range drainChunks(out) {
		content.WriteString(c.Delta)
		if c.Done {
			sawDone = true
		}
	}
	if content.String() != "Hello world!" {
		t.Fatalf("expected 'Hello world!', got %q", content.String())
	}
	if !sawDone {
		t.Fatal("expected a terminal Done chunk")
	}
}

func TestParseSSEStream_ToolCall(t *testing.T) {
	p := newTestProvider()

	sseData := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":"{\"q\""}}]},"finish_reason":null}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"go\"}"}}]},"finish_reason":"tool_calls"}]}

data: [DONE]
`

	out := make(chan service.StreamChunk, 64)
	err := p.parseSSEStream(context.Background(), strings.NewReader(sseData), out)
	close(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var refs []service.ToolCallRef
	for _, c := range drainChunks(out) {
		refs = append(refs, c.ToolCallRefs...)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 assembled tool call, got %d", len(refs))
	}
	if refs[0].Name != "search" {
		t.Fatalf("expected tool name 'search', got %q", refs[0].Name)
	}
	if refs[0].Arguments["q"] != "go" {
		t.Fatalf("expected argument q=go, got %v", refs[0].Arguments)
	}
}

func TestBuildAPIRequest_StripsProviderPrefix(t *testing.T) {
	p := newTestProvider()
	req := &service.LLMRequest{Model: "bailian/qwen3-coder-plus", System: "be helpful"}
	apiReq := p.buildAPIRequest(req)

	if apiReq.Model != "qwen3-coder-plus" {
		t.Fatalf("expected stripped model name, got %q", apiReq.Model)
	}
	if len(apiReq.Messages) != 1 || apiReq.Messages[0].Role != "system" {
		t.Fatalf("expected system message to be injected, got %+v", apiReq.Messages)
	}
}

func TestConvertSchema_DefaultsToObject(t *testing.T) {
	got := convertSchema(nil)
	if got["type"] != "object" {
		t.Fatalf("expected default object schema, got %+v", got)
	}
}

func TestSupportsModel_WildcardWhenEmpty(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Name: "ollama"}, zap.NewNop())
	if !p.SupportsModel("anything") {
		t.Fatal("expected wildcard support when Models is empty")
	}
}
