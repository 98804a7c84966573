package providers

import (
	"fmt"
	"os"
	"sync"

	"github.com/deepserve/deepserve/internal/agent"
	"github.com/deepserve/deepserve/pkg/models"
)

// Factory builds providers from stored model configurations and caches one
// instance per configuration name.
type Factory struct {
	mu    sync.Mutex
	cache map[string]agent.LLMProvider
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]agent.LLMProvider)}
}

// Provider returns the provider for a model configuration, building it on
// first use.
func (f *Factory) Provider(cfg *models.LLMModelConfig) (agent.LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if provider, ok := f.cache[cfg.Name]; ok {
		return provider, nil
	}

	provider, err := build(cfg)
	if err != nil {
		return nil, err
	}
	f.cache[cfg.Name] = provider
	return provider, nil
}

// Invalidate drops a cached instance, e.g. after its configuration row
// changed.
func (f *Factory) Invalidate(name string) {
	f.mu.Lock()
	delete(f.cache, name)
	f.mu.Unlock()
}

func build(cfg *models.LLMModelConfig) (agent.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       apiKey(cfg, "ANTHROPIC_API_KEY"),
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.ModelID,
		})
	case "openai", "openai-compatible":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       apiKey(cfg, "OPENAI_API_KEY"),
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.ModelID,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q in model config %q", cfg.Provider, cfg.Name)
	}
}

// apiKey resolves the key from the config's named env var, falling back to
// the provider's conventional one.
func apiKey(cfg *models.LLMModelConfig, fallbackEnv string) string {
	if cfg.APIKeyEnv != "" {
		if key := os.Getenv(cfg.APIKeyEnv); key != "" {
			return key
		}
	}
	return os.Getenv(fallbackEnv)
}
