package openaicompat

import (
	"log/slog"
	"net/http"
)

// Option mutates a request body before it is sent.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) Option {
	return func(r *ChatRequest) { r.Stop = stop }
}

// WithSeed requests deterministic sampling where the backend supports it.
func WithSeed(seed int) Option {
	return func(r *ChatRequest) { r.Seed = &seed }
}

// ProviderOption configures a Provider at construction time.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported in errors and events.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithDefaults sets request options applied to every request.
func WithDefaults(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}
