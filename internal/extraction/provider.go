package extraction

import (
	"context"
	"fmt"
	"time"
)

// Supported model providers
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and configures a model provider
type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewClient creates the Client for cfg.Provider
func NewClient(ctx context.Context, cfg ProviderConfig) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		client, err = NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	case ProviderGemini:
		client, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOllama:
		client, err = NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown provider %q: valid providers are anthropic, gemini or ollama", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", cfg.Provider, err)
	}
	return client, nil
}
