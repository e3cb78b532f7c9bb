package hive

import "context"

// Provider abstracts the LLM backend. Implementations live under
// provider/; middleware (WithRetry, WithRateLimit) composes around any
// Provider.
type Provider interface {
	// Chat sends a request and returns a complete response. When
	// req.Tools is non-empty the response may contain tool calls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string
}

// ProviderFactory resolves a model identifier to a Provider. The swarm
// calls it once per agent at build time.
type ProviderFactory func(model string) (Provider, error)
