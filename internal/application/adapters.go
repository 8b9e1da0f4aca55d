// Package application wires the domain/infrastructure layers named across
// C1-C13 into one running Agent Engine per session, the way the teacher's
// application.App bound its use cases to its HTTP/REPL surfaces.
package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	domaincontext "github.com/agentcore/agentcore/internal/domain/context"
	"github.com/agentcore/agentcore/internal/domain/execution"
	"github.com/agentcore/agentcore/internal/domain/planning"
	"github.com/agentcore/agentcore/internal/domain/policy"
	"github.com/agentcore/agentcore/internal/domain/service"
)

// plannerLLMAdapter satisfies planning.PlannerLLM, delegating to the shared
// service.LLMClient with a fixed model and empty tool advertisement — the
// Planner only ever wants free-text completion, never tool calls.
type plannerLLMAdapter struct {
	client service.LLMClient
	model  string
}

func (a *plannerLLMAdapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.Generate(ctx, &service.LLMRequest{
		Model:  a.model,
		System: system,
		Messages: []service.LLMMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// assemblyClientAdapter satisfies execution.AssemblyClient. The Answer
// Agent already builds a fully-formed *service.LLMRequest — this adapter
// exists only because AssemblyClient's ctx parameter is a plain
// context.Context rather than LLMClient's narrow Done()-only shape, so the
// two cannot share a method value directly.
type assemblyClientAdapter struct {
	client service.LLMClient
}

func (a *assemblyClientAdapter) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	return a.client.Generate(ctx, req)
}

// modelClientAdapter satisfies context.ModelClient (single prompt in,
// single string out), used by the LLM-backed conversation summarizer.
type modelClientAdapter struct {
	client service.LLMClient
	model  string
}

func (a *modelClientAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Generate(ctx, &service.LLMRequest{
		Model: a.model,
		Messages: []service.LLMMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// policySummarizerAdapter satisfies policy.Summarizer by delegating to a
// domaincontext.Summarizer, converting policy.Message <-> context.Message
// at the boundary the way engine.go's toContextMessages/toPolicyMessages
// already do for the Context Manager.
type policySummarizerAdapter struct {
	inner domaincontext.Summarizer
}

func (a *policySummarizerAdapter) Summarize(ctx context.Context, messages []policy.Message) (string, error) {
	converted := make([]domaincontext.Message, len(messages))
	for i, m := range messages {
		converted[i] = domaincontext.Message{Role: m.Role, Content: m.Content, Tokens: m.Tokens}
	}
	return a.inner.Summarize(ctx, converted)
}

// prunerAdapter satisfies policy.Pruner by delegating to a
// domaincontext.Pruner, converting policy.Message <-> context.Message at the
// boundary — the same adaptation policySummarizerAdapter does for
// Summarizer. It is the Compressor's alternate, importance-ranked way of
// shrinking the older-messages block before StrategyAggressive summarizes
// whatever survives.
type prunerAdapter struct {
	inner *domaincontext.Pruner
}

func (a *prunerAdapter) Prune(messages []policy.Message) []policy.Message {
	converted := make([]domaincontext.Message, len(messages))
	for i, m := range messages {
		converted[i] = domaincontext.Message{Role: m.Role, Content: m.Content, Tokens: m.Tokens}
	}
	pruned := a.inner.Prune(converted)
	out := make([]policy.Message, len(pruned))
	for i, m := range pruned {
		out[i] = policy.Message{Role: m.Role, Content: m.Content, Tokens: m.Tokens}
	}
	return out
}

// osFilesystem satisfies scratchpad.Filesystem over the real filesystem,
// rooted nowhere in particular — callers pass fully-qualified paths (the
// Scratchpad itself prefixes every call with its per-session base dir).
type osFilesystem struct{}

func (osFilesystem) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (osFilesystem) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("osFilesystem: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (osFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newPlannerLLM and the adapters built below it serve the
// planning/assembly/summarization calls — all route through the same
// MultiProvider failover chain as the main task loop, just tagged with the
// session's configured default model.
func newPlannerLLM(client service.LLMClient, model string) planning.PlannerLLM {
	return &plannerLLMAdapter{client: client, model: model}
}

func newAssemblyClient(client service.LLMClient) execution.AssemblyClient {
	return &assemblyClientAdapter{client: client}
}

func newModelClient(client service.LLMClient, model string) domaincontext.ModelClient {
	return &modelClientAdapter{client: client, model: model}
}
