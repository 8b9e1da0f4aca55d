package llm

import (
	"fmt"
	"sync"

	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

// MultiProvider implements service.LLMClient by routing to the first
// available, model-supporting provider in priority order, falling over to
// the next on failure. Generalized from the teacher's Router, simplified
// to this module's single-process deployment (no cross-process stats).
type MultiProvider struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *zap.Logger
}

// NewMultiProvider creates an empty provider chain.
func NewMultiProvider(logger *zap.Logger) *MultiProvider {
	return &MultiProvider{logger: logger.With(zap.String("component", "llm-router"))}
}

var _ service.LLMClient = (*MultiProvider)(nil)

// AddProvider appends p to the failover chain; providers are tried in the
// order they were added.
func (m *MultiProvider) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
	m.logger.Info("llm provider added", zap.String("name", p.Name()), zap.Strings("models", p.Models()))
}

func (m *MultiProvider) snapshot() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, len(m.providers))
	copy(out, m.providers)
	return out
}

// Generate implements service.LLMClient, trying each eligible provider in
// order until one succeeds.
func (m *MultiProvider) Generate(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (*service.LLMResponse, error) {
	cctx := asContext(ctx)
	var lastErr error
	for _, p := range m.snapshot() {
		if !p.SupportsModel(req.Model) || !p.IsAvailable(cctx) {
			continue
		}
		resp, err := p.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		m.logger.Warn("provider generate failed, trying next", zap.String("provider", p.Name()), zap.Error(err))
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all llm providers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no llm provider available for model %q", req.Model)
}

// GenerateStream implements service.LLMClient, trying each eligible
// provider in order until one opens a stream successfully.
func (m *MultiProvider) GenerateStream(ctx interface{ Done() <-chan struct{} }, req *service.LLMRequest) (<-chan service.StreamChunk, error) {
	cctx := asContext(ctx)
	var lastErr error
	for _, p := range m.snapshot() {
		if !p.SupportsModel(req.Model) || !p.IsAvailable(cctx) {
			continue
		}
		ch, err := p.GenerateStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		m.logger.Warn("provider generate-stream failed, trying next", zap.String("provider", p.Name()), zap.Error(err))
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all llm providers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no llm provider available for model %q", req.Model)
}
