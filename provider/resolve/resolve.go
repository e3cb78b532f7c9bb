// Package resolve creates chat providers from provider-agnostic
// configuration and answers model metadata questions (context windows,
// provider inference from model name prefixes).
package resolve

import (
	"fmt"
	"strings"

	"github.com/nevindra/hive"
	"github.com/nevindra/hive/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a Provider.
type Config struct {
	Provider string // "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers

	// Common cross-provider options (nil = provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// Provider creates a hive.Provider from a Config. An empty Provider field
// is inferred from the model name prefix.
func Provider(cfg Config) (hive.Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = InferProvider(cfg.Model)
	}
	switch name {
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg, name), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func openaiCompatProvider(cfg Config, name string) hive.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL(name)
	}
	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(name)}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithDefaults(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

// InferProvider guesses the provider from a model name. Models with a
// vendor path ("meta-llama/…") default to openrouter.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(model, "mistral"), strings.HasPrefix(model, "ministral"), strings.HasPrefix(model, "codestral"):
		return "mistral"
	case strings.HasPrefix(model, "llama"), strings.HasPrefix(model, "qwen"), strings.HasPrefix(model, "gemma"):
		return "groq"
	case strings.Contains(model, "/"):
		return "openrouter"
	default:
		return "openai"
	}
}

// DefaultBaseURL returns the API base for a known provider.
func DefaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

// contextWindows maps model name prefixes to context window sizes in
// tokens. Longest matching prefix wins.
var contextWindows = map[string]int{
	"gpt-4o":        128_000,
	"gpt-4.1":       1_047_576,
	"gpt-4-turbo":   128_000,
	"gpt-4":         8_192,
	"gpt-3.5-turbo": 16_385,
	"o1":            200_000,
	"o3":            200_000,
	"o4-mini":       200_000,
	"deepseek":      64_000,
	"mistral-large": 128_000,
	"mistral-small": 32_000,
	"codestral":     256_000,
	"llama-3.1":     128_000,
	"llama-3.3":     128_000,
	"qwen":          32_768,
	"gemma":         8_192,
}

// ContextWindowFor returns the context window for a model, 0 when unknown.
// Vendor path prefixes ("meta-llama/llama-3.1-70b") are stripped before
// matching.
func ContextWindowFor(model string) int {
	name := model
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	best := 0
	bestLen := 0
	for prefix, window := range contextWindows {
		if strings.HasPrefix(name, prefix) && len(prefix) > bestLen {
			best = window
			bestLen = len(prefix)
		}
	}
	return best
}
