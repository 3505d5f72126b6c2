package llm

import (
	"fmt"
	"os"

	"patchsmith/pkg/config"
)

// NewClient builds a provider client from a model config and wraps it in the
// standard resilience middleware.
func NewClient(cfg config.ModelConfig) (Client, error) {
	base, err := newRawClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewResilientClient(base), nil
}

func newRawClient(cfg config.ModelConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewAnthropicClient(key, cfg.Model), nil
	case config.ProviderOpenAI:
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(key, cfg.Model), nil
	case config.ProviderGoogle:
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewGeminiClient(key, cfg.Model), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.Host, cfg.Model), nil
	case config.ProviderMock:
		return NewMockClient(nil, nil), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func apiKey(cfg config.ModelConfig) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		return "", fmt.Errorf("provider %s requires api_key_env in config", cfg.Provider)
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return key, nil
}
