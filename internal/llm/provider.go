// Package llm defines the provider abstraction (C2): a uniform four-operation
// capability set — generate, stream, health_check, list_models — implemented
// by Local, Anthropic, OpenAI, and Custom (OpenAI-compatible) variants, each
// guarded by its own CircuitBreaker and fed through the Registry for
// credential-aware construction and usage logging.
package llm

import "context"

// Message is a single turn in a generation request. NEXUS uses plain
// text generation for RAG answers and Brain synthesis, not agentic tool
// calling, so this carries none of the tool-call/thinking-block machinery
// the underlying SDKs otherwise support.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting for a single provider call, fed into
// UsageLogger for cost-estimated persistence.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// GenerateResult is the non-streaming output of Provider.Generate.
type GenerateResult struct {
	Content  string
	Model    string
	Provider string
	Usage    Usage
}

// StreamHandler receives incremental content as it is produced.
type StreamHandler interface {
	OnDelta(text string)
}

// Provider is the uniform capability set every backend (local, cloud, or
// custom OpenAI-compatible) implements. All variants are interchangeable at
// this interface; Registry composes each with its own CircuitBreaker.
type Provider interface {
	// Name identifies the provider for circuit-breaker naming, usage
	// logging, and fallback attribution.
	Name() string
	// Generate returns a complete response for messages.
	Generate(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (GenerateResult, error)
	// Stream forwards content deltas to h as they arrive and returns the
	// final usage once the stream completes.
	Stream(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, h StreamHandler) (Usage, error)
	// HealthCheck reports whether the backend is currently reachable.
	HealthCheck(ctx context.Context) error
	// ListModels enumerates model ids the backend currently serves.
	ListModels(ctx context.Context) ([]string, error)
}
