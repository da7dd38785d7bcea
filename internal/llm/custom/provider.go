// Package custom wires a user-supplied OpenAI-compatible endpoint (spec
// §4.2's "Custom" variant) into the registry. Credential storage/decryption
// is a CRUD/HTTP concern outside this engine's scope; callers that own a
// decrypted credential bundle construct one Client per distinct endpoint.
package custom

import (
	"mnemosyne/internal/llm"
	"mnemosyne/internal/llm/openai"
)

// Credential is the minimal bundle a caller must supply to stand up a
// Custom provider instance: a name (for circuit-breaker/usage attribution),
// the OpenAI-compatible base URL, the bearer API key, and a default model id.
type Credential struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// New builds a Custom provider instance from a decrypted credential.
func New(cred Credential) llm.Provider {
	return openai.New(openai.Config{
		Name:    cred.Name,
		BaseURL: cred.BaseURL,
		APIKey:  cred.APIKey,
		Model:   cred.Model,
	})
}
