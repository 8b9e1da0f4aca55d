// Package llm provides Go-native service.LLMClient implementations:
// an OpenAI-compatible HTTP client plus a per-provider circuit breaker and
// a priority-ordered multi-provider router, generalized from the teacher's
// provider registry onto the agent's single consumed LLMClient port.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcore/agentcore/internal/domain/service"
	"go.uber.org/zap"
)

// Provider is the infrastructure-layer LLM provider interface. Each
// provider implements service.LLMClient to be usable by the Agent Engine.
type Provider interface {
	service.LLMClient

	Name() string
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig holds configuration for one LLM provider, generalized
// from config.LLMProviderConfig.
type ProviderConfig struct {
	Name     string
	BaseURL  string
	APIKey   string
	Models   []string
	Priority int // lower = preferred
}

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

func init() {
	RegisterFactory("openai", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewOpenAIProvider(cfg, logger)
	})
}

// CreateProvider creates a Provider using the registered factory for typeName.
// Defaults to "openai" when typeName is empty — every example provider in
// the pack speaks an OpenAI-compatible wire format (Bailian, MiniMax,
// Ollama, Antigravity proxy) so this single builtin covers them all.
func CreateProvider(typeName string, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if typeName == "" {
		typeName = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[typeName]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider type %q", typeName)
	}
	return factory(cfg, logger), nil
}
