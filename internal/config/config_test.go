package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POSTGRES_DSN", "LOCAL_MODEL_HOST", "CREDENTIAL_ENCRYPTION_KEY",
		"EMBEDDING_DIMENSION", "SEMANTIC_EDGE_THRESHOLD", "KAFKA_BROKERS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "LOCAL_MODEL_HOST")
	assert.Contains(t, err.Error(), "CREDENTIAL_ENCRYPTION_KEY")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	os.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	os.Setenv("LOCAL_MODEL_HOST", "http://localhost:11434")
	os.Setenv("CREDENTIAL_ENCRYPTION_KEY", "test-key")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", cfg.LocalTextModel)
	assert.Equal(t, 768, cfg.EmbeddingDimension)
	assert.Equal(t, 0.7, cfg.SemanticEdgeThreshold)
	assert.Equal(t, 3, cfg.CircuitFailureThreshold)
}

func TestLoad_ObsDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	os.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	os.Setenv("LOCAL_MODEL_HOST", "http://localhost:11434")
	os.Setenv("CREDENTIAL_ENCRYPTION_KEY", "test-key")
	os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	os.Unsetenv("OTEL_SERVICE_NAME")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Obs.OTLP)
	assert.Equal(t, "nexusd", cfg.Obs.ServiceName)
	assert.Equal(t, "dev", cfg.Obs.ServiceVersion)
	assert.Equal(t, "development", cfg.Obs.Environment)
}

func TestLoad_InvalidSemanticEdgeThreshold(t *testing.T) {
	clearEnv(t)
	os.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	os.Setenv("LOCAL_MODEL_HOST", "http://localhost:11434")
	os.Setenv("CREDENTIAL_ENCRYPTION_KEY", "test-key")
	os.Setenv("SEMANTIC_EDGE_THRESHOLD", "1.5")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEMANTIC_EDGE_THRESHOLD")
}
