package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name      string
	models    []string
	available bool
	resp      *service.LLMResponse
	err       error
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Models() []string { return f.models }
func (f *fakeProvider) SupportsModel(model string) bool {
	if len(f.models) == 0 {
		return true
	}
	for _, m := range f.models {
		if m == model {
			return true
		}
	}
	return false
}
func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return f.available }
func (f *fakeProvider) Generate(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (*service.LLMResponse, error) {
	return f.resp, f.err
}
func (f *fakeProvider) GenerateStream(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (<-chan service.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan service.StreamChunk, 1)
	ch <- service.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestMultiProvider_FallsOverToNextOnFailure(t *testing.T) {
	m := NewMultiProvider(zap.NewNop())
	m.AddProvider(&fakeProvider{name: "primary", available: true, err: errors.New("boom")})
	m.AddProvider(&fakeProvider{name: "fallback", available: true, resp: &service.LLMResponse{Content: "ok"}})

	resp, err := m.Generate(context.Background(), &service.LLMRequest{Model: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected fallback response, got %+v", resp)
	}
}

func TestMultiProvider_SkipsUnavailableProvider(t *testing.T) {
	m := NewMultiProvider(zap.NewNop())
	m.AddProvider(&fakeProvider{name: "down", available: false})
	m.AddProvider(&fakeProvider{name: "up", available: true, resp: &service.LLMResponse{Content: "ok"}})

	resp, err := m.Generate(context.Background(), &service.LLMRequest{Model: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response from available provider, got %+v", resp)
	}
}

func TestMultiProvider_ReturnsErrorWhenAllFail(t *testing.T) {
	m := NewMultiProvider(zap.NewNop())
	m.AddProvider(&fakeProvider{name: "a", available: true, err: errors.New("fail a")})
	m.AddProvider(&fakeProvider{name: "b", available: true, err: errors.New("fail b")})

	_, err := m.Generate(context.Background(), &service.LLMRequest{Model: "x"})
	if err == nil {
		t.Fatal("expected an error when all providers fail")
	}
}
