// Package config loads runtime configuration from the environment, in the
// teacher's style: godotenv.Overload for local development, explicit
// strings.TrimSpace reads, and fail-loud validation once all sources have
// been applied rather than scattered zero-value defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the fully resolved runtime configuration for nexusd.
type Config struct {
	// Postgres / Qdrant / Redis connection strings.
	PostgresDSN string
	QdrantAddr  string
	RedisAddr   string

	// Local model host (spec §4.2 default provider).
	LocalModelHost  string
	LocalTextModel  string
	LocalContextLen int
	BrainModel      string

	// Cloud provider credentials, optional.
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string

	// Embedding.
	EmbeddingModel     string
	EmbeddingDimension int

	// RAG / Brain generation knobs.
	RAGTemperature   float64
	BrainTemperature float64
	RAGTokenBudget   int
	BrainTokenBudget int

	// Graph thresholds.
	SemanticEdgeThreshold float64

	// Circuit breaker.
	CircuitFailureThreshold int
	CircuitRecoveryTimeoutS int

	// Task Orchestrator (spec §4.13).
	OrchestratorWorkers        int
	OrchestratorPollIntervalMS int
	OrchestratorStuckAfterMin  int

	// Secrets.
	CredentialEncryptionKey string

	LogLevel string
	LogPath  string
	Obs      ObsConfig
}

// ObsConfig configures the OpenTelemetry exporters observability.InitOTel
// wires up. Left with an empty OTLP endpoint, nexusd skips tracing/metrics
// export and runs with structured logging only.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Load reads configuration from the process environment, overlaying a
// local .env file when present, and validates required fields.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		LocalTextModel:             "llama3.1",
		LocalContextLen:            8192,
		BrainModel:                 "llama3.1",
		EmbeddingModel:             "nomic-embed-text",
		EmbeddingDimension:         768,
		RAGTemperature:             0.3,
		BrainTemperature:           0.5,
		RAGTokenBudget:             6000,
		BrainTokenBudget:           4000,
		SemanticEdgeThreshold:      0.7,
		CircuitFailureThreshold:    3,
		CircuitRecoveryTimeoutS:    30,
		LogLevel:                   "info",
		OrchestratorWorkers:        4,
		OrchestratorPollIntervalMS: 500,
		OrchestratorStuckAfterMin:  10,
	}

	cfg.PostgresDSN = getenv("POSTGRES_DSN")
	cfg.QdrantAddr = getenv("QDRANT_ADDR")
	cfg.RedisAddr = getenv("REDIS_ADDR")

	if v := getenv("LOCAL_MODEL_HOST"); v != "" {
		cfg.LocalModelHost = v
	}
	if v := getenv("LOCAL_TEXT_MODEL"); v != "" {
		cfg.LocalTextModel = v
	}
	if v := getenv("LOCAL_CONTEXT_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: LOCAL_CONTEXT_LENGTH: %w", err)
		}
		cfg.LocalContextLen = n
	}
	if v := getenv("BRAIN_MODEL"); v != "" {
		cfg.BrainModel = v
	}

	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = getenv("ANTHROPIC_MODEL")
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getenv("OPENAI_MODEL")

	if v := getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := getenv("EMBEDDING_DIMENSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: EMBEDDING_DIMENSION: %w", err)
		}
		cfg.EmbeddingDimension = n
	}

	if v := getenv("RAG_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: RAG_TEMPERATURE: %w", err)
		}
		cfg.RAGTemperature = f
	}
	if v := getenv("BRAIN_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: BRAIN_TEMPERATURE: %w", err)
		}
		cfg.BrainTemperature = f
	}
	if v := getenv("RAG_TOKEN_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: RAG_TOKEN_BUDGET: %w", err)
		}
		cfg.RAGTokenBudget = n
	}
	if v := getenv("BRAIN_TOKEN_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: BRAIN_TOKEN_BUDGET: %w", err)
		}
		cfg.BrainTokenBudget = n
	}
	if v := getenv("SEMANTIC_EDGE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: SEMANTIC_EDGE_THRESHOLD: %w", err)
		}
		cfg.SemanticEdgeThreshold = f
	}
	if v := getenv("CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: CIRCUIT_FAILURE_THRESHOLD: %w", err)
		}
		cfg.CircuitFailureThreshold = n
	}
	if v := getenv("CIRCUIT_RECOVERY_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: CIRCUIT_RECOVERY_TIMEOUT_SECONDS: %w", err)
		}
		cfg.CircuitRecoveryTimeoutS = n
	}

	if v := getenv("ORCHESTRATOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: ORCHESTRATOR_WORKERS: %w", err)
		}
		cfg.OrchestratorWorkers = n
	}
	if v := getenv("ORCHESTRATOR_POLL_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: ORCHESTRATOR_POLL_INTERVAL_MS: %w", err)
		}
		cfg.OrchestratorPollIntervalMS = n
	}
	if v := getenv("ORCHESTRATOR_STUCK_AFTER_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: ORCHESTRATOR_STUCK_AFTER_MINUTES: %w", err)
		}
		cfg.OrchestratorStuckAfterMin = n
	}

	cfg.CredentialEncryptionKey = getenv("CREDENTIAL_ENCRYPTION_KEY")

	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.LogPath = getenv("LOG_PATH")

	cfg.Obs = ObsConfig{
		OTLP:           getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:    orDefault(getenv("OTEL_SERVICE_NAME"), "nexusd"),
		ServiceVersion: orDefault(getenv("OTEL_SERVICE_VERSION"), "dev"),
		Environment:    orDefault(getenv("OTEL_ENVIRONMENT"), "development"),
	}

	return cfg, cfg.validate()
}

// validate fails loudly rather than letting nexusd start half-configured.
func (c Config) validate() error {
	var missing []string
	if c.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if c.LocalModelHost == "" {
		missing = append(missing, "LOCAL_MODEL_HOST")
	}
	if c.CredentialEncryptionKey == "" {
		missing = append(missing, "CREDENTIAL_ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.SemanticEdgeThreshold < 0 || c.SemanticEdgeThreshold > 1 {
		return fmt.Errorf("config: SEMANTIC_EDGE_THRESHOLD must be in [0,1], got %f", c.SemanticEdgeThreshold)
	}
	return nil
}
