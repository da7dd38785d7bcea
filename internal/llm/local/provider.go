// Package local wires the self-hosted model server (LOCAL_MODEL_HOST) as the
// default llm.Provider: an OpenAI Chat Completions compatible endpoint with
// no API key, matching the reference service's default Ollama/llama.cpp
// deployment. Local usage rows are skipped by llm.UsageLogger (cloud cost
// accounting does not apply).
package local

import (
	"mnemosyne/internal/config"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/llm/openai"
)

// ProviderName is the registry key and usage-log provider string for the
// local backend.
const ProviderName = "local"

// New builds the local provider from the resolved application config.
func New(cfg config.Config) llm.Provider {
	return openai.New(openai.Config{
		Name:    ProviderName,
		BaseURL: cfg.LocalModelHost,
		APIKey:  "",
		Model:   cfg.LocalTextModel,
	})
}
