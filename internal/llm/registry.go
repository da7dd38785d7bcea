package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mnemosyne/internal/config"
)

// entry composes one Provider instance with its own circuit breaker (spec
// §4.2: "a central registry holds active instances, each composed with its
// own circuit breaker").
type entry struct {
	provider Provider
	breaker  *CircuitBreaker
}

// Registry is the polymorphic provider registry (C2). It holds the Local
// variant plus any configured cloud/custom variants, and transparently falls
// back from a failing non-local provider to Local for a single request
// (spec §8: "If a cloud provider fails, the pipeline transparently falls
// back to the local provider for that request").
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string // registration order
	usageLog *UsageLogger
}

// NewRegistry builds an empty registry. Providers are added with Register.
func NewRegistry(usageLog *UsageLogger) *Registry {
	return &Registry{entries: make(map[string]*entry), usageLog: usageLog}
}

// Register installs p under its own Name(), composed with a fresh circuit
// breaker sized from cfg.
func (r *Registry) Register(p Provider, cfg config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	r.entries[name] = &entry{
		provider: p,
		breaker:  NewCircuitBreaker(name, cfg.CircuitFailureThreshold, time.Duration(cfg.CircuitRecoveryTimeoutS)*time.Second),
	}
	for _, existing := range r.order {
		if existing == name {
			return
		}
	}
	r.order = append(r.order, name)
}

// get returns the named provider entry, or nil if unregistered.
func (r *Registry) get(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names lists registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Status returns every registered provider's circuit breaker status, keyed
// by provider name, for a health endpoint.
func (r *Registry) Status() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.breaker.GetStatus()
	}
	return out
}

// GenerateOutcome carries the result of a registry-mediated Generate call
// plus which provider actually produced the content, so callers can record
// it in retrieval metadata even when a fallback occurred.
type GenerateOutcome struct {
	GenerateResult
	UsedProvider   string
	FellBackFrom   string // non-empty only when the primary provider failed
}

// Generate invokes the named provider's Generate through its circuit
// breaker, falling back to "local" once if primary is non-local and fails
// (including a fast-failed CircuitOpen). The caller's ownerID/useCase/
// conversationID are forwarded to usage logging, attributed to whichever
// provider actually produced the tokens.
func (r *Registry) Generate(ctx context.Context, ownerID, providerName string, messages []Message, model string, temperature float64, maxTokens int, useCase, conversationID string) (GenerateOutcome, error) {
	primary := r.get(providerName)
	if primary == nil {
		return GenerateOutcome{}, fmt.Errorf("llm: unknown provider %q", providerName)
	}

	res, err := r.callGenerate(ctx, primary, messages, model, temperature, maxTokens)
	if err == nil {
		r.usageLog.Log(ctx, ownerID, res.Provider, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens, useCase, conversationID)
		return GenerateOutcome{GenerateResult: res, UsedProvider: providerName}, nil
	}
	if providerName == localProviderName {
		return GenerateOutcome{}, err
	}

	local := r.get(localProviderName)
	if local == nil {
		return GenerateOutcome{}, err
	}
	fallbackRes, fallbackErr := r.callGenerate(ctx, local, messages, model, temperature, maxTokens)
	if fallbackErr != nil {
		return GenerateOutcome{}, fmt.Errorf("llm: %s failed (%w) and local fallback also failed: %v", providerName, err, fallbackErr)
	}
	r.usageLog.Log(ctx, ownerID, fallbackRes.Provider, fallbackRes.Model, fallbackRes.Usage.InputTokens, fallbackRes.Usage.OutputTokens, useCase, conversationID)
	return GenerateOutcome{GenerateResult: fallbackRes, UsedProvider: localProviderName, FellBackFrom: providerName}, nil
}

func (r *Registry) callGenerate(ctx context.Context, e *entry, messages []Message, model string, temperature float64, maxTokens int) (GenerateResult, error) {
	if err := e.breaker.PreRequest(); err != nil {
		return GenerateResult{}, err
	}
	res, err := e.provider.Generate(ctx, messages, model, temperature, maxTokens)
	if err != nil {
		e.breaker.RecordFailure()
		return GenerateResult{}, err
	}
	e.breaker.RecordSuccess()
	return res, nil
}

// Stream invokes the named provider's Stream through its circuit breaker,
// falling back to local once on a pre-first-byte failure. Once bytes have
// been forwarded to h, no fallback is attempted (the caller already emitted
// partial content), matching the stream error contract in spec §8.
func (r *Registry) Stream(ctx context.Context, ownerID, providerName string, messages []Message, model string, temperature float64, maxTokens int, h StreamHandler, useCase, conversationID string) (GenerateOutcome, error) {
	primary := r.get(providerName)
	if primary == nil {
		return GenerateOutcome{}, fmt.Errorf("llm: unknown provider %q", providerName)
	}

	guard := &firstByteGuard{h: h}
	if err := primary.breaker.PreRequest(); err == nil {
		usage, streamErr := primary.provider.Stream(ctx, messages, model, temperature, maxTokens, guard)
		if streamErr == nil {
			primary.breaker.RecordSuccess()
			r.usageLog.Log(ctx, ownerID, providerName, model, usage.InputTokens, usage.OutputTokens, useCase, conversationID)
			return GenerateOutcome{GenerateResult: GenerateResult{Model: model, Provider: providerName, Usage: usage}, UsedProvider: providerName}, nil
		}
		primary.breaker.RecordFailure()
		if guard.wrote || providerName == localProviderName {
			return GenerateOutcome{}, streamErr
		}
	} else if providerName == localProviderName {
		return GenerateOutcome{}, err
	}

	local := r.get(localProviderName)
	if local == nil {
		return GenerateOutcome{}, fmt.Errorf("llm: %s unavailable and no local fallback registered", providerName)
	}
	if err := local.breaker.PreRequest(); err != nil {
		return GenerateOutcome{}, err
	}
	usage, err := local.provider.Stream(ctx, messages, model, temperature, maxTokens, guard)
	if err != nil {
		local.breaker.RecordFailure()
		return GenerateOutcome{}, err
	}
	local.breaker.RecordSuccess()
	r.usageLog.Log(ctx, ownerID, localProviderName, model, usage.InputTokens, usage.OutputTokens, useCase, conversationID)
	return GenerateOutcome{GenerateResult: GenerateResult{Model: model, Provider: localProviderName, Usage: usage}, UsedProvider: localProviderName, FellBackFrom: providerName}, nil
}

// firstByteGuard tracks whether any content has already reached the caller's
// StreamHandler, so the registry can decide whether a mid-stream failure is
// still eligible for a silent fallback.
type firstByteGuard struct {
	h     StreamHandler
	wrote bool
}

func (g *firstByteGuard) OnDelta(text string) {
	if text == "" {
		return
	}
	g.wrote = true
	g.h.OnDelta(text)
}

// HealthCheck reports every registered provider's reachability, keyed by
// name.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	ents := make([]*entry, 0, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		ents = append(ents, e)
	}
	r.mu.RUnlock()

	out := make(map[string]error, len(names))
	for i, name := range names {
		out[name] = ents[i].provider.HealthCheck(ctx)
	}
	return out
}

// ListModels aggregates every registered provider's model ids, prefixed by
// provider name for disambiguation, sorted for stable output.
func (r *Registry) ListModels(ctx context.Context) (map[string][]string, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	ents := make(map[string]*entry, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		ents[name] = e
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string][]string, len(names))
	var firstErr error
	for _, name := range names {
		models, err := ents[name].provider.ListModels(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("llm: list models for %s: %w", name, err)
			}
			continue
		}
		out[name] = models
	}
	return out, firstErr
}
