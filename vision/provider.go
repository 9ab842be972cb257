package vision

import (
	"fmt"

	"github.com/hagyro/paper-md/config"
)

// NewDescriber builds the describer selected by configuration. The
// "none" provider returns a nil describer, which callers treat as
// enrichment disabled.
func NewDescriber(cfg *config.Config) (Describer, error) {
	switch cfg.VisionProvider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOllama:
		return NewOllamaDescriber(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("vision provider %q requires OPENAI_API_KEY", cfg.VisionProvider)
		}
		return NewOpenAIDescriber(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("vision provider %q requires GEMINI_API_KEY", cfg.VisionProvider)
		}
		return NewGeminiDescriber(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.VisionProvider)
	}
}
