// Package llm adapts hosted language models to the single-prompt summarizer
// used by the analysis pipeline.
package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"onebreath/internal/config"
	"onebreath/pkg/domain"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"
)

// Provider generates text for a prompt. Implementations honour ctx
// cancellation and do not retry internally.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// New selects a provider from configuration. Hosted providers without an API
// key fall back to the local provider with a warning.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderOpenAI
	}
	if name != ProviderLocal && strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("llm api key not set; falling back to local provider", zap.String("provider", name))
		return NewLocal(), nil
	}
	switch name {
	case ProviderOpenAI:
		p := NewOpenAI(cfg)
		logger.Info("llm provider selected", zap.String("provider", name), zap.String("model", p.model))
		return p, nil
	case ProviderGemini:
		p, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("llm provider selected", zap.String("provider", name), zap.String("model", p.model))
		return p, nil
	case ProviderLocal:
		logger.Info("llm provider selected", zap.String("provider", name))
		return NewLocal(), nil
	default:
		return nil, domain.Errorf(domain.KindInvalid, "select llm provider", "unknown provider %q", cfg.Provider)
	}
}
