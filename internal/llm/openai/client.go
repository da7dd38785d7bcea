// Package openai implements llm.Provider over any OpenAI Chat Completions
// compatible endpoint: OpenAI's cloud API, a local llama.cpp/Ollama server,
// or a user-configured custom endpoint. One Client type serves all three
// (spec §4.2: Local, OpenAI, and Custom are all "OpenAI-compatible" variants
// of the same capability set); only construction differs.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"mnemosyne/internal/llm"
	"mnemosyne/internal/observability"
)

// Client adapts the openai-go SDK to llm.Provider.
type Client struct {
	sdk   sdk.Client
	name  string
	model string
}

// Config constructs a Client. BaseURL empty means OpenAI's cloud API.
type Config struct {
	Name    string // provider name for circuit breaker / usage logging
	BaseURL string
	APIKey  string
	Model   string
}

// New builds a Client for cfg, instrumented with otelhttp via
// observability.NewHTTPClient the way the teacher wires every outbound LLM
// transport.
func New(cfg Config) *Client {
	httpClient := observability.NewHTTPClient(nil)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	return &Client{sdk: sdk.NewClient(opts...), name: cfg.Name, model: cfg.Model}
}

func (c *Client) Name() string { return c.name }

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) effectiveModel(model string) string {
	if model != "" {
		return model
	}
	return c.model
}

// Generate implements llm.Provider.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, model string, temperature float64, maxTokens int) (llm.GenerateResult, error) {
	effModel := c.effectiveModel(model)
	ctx, span := llm.StartRequestSpan(ctx, c.name+" Generate", effModel, 0, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(effModel),
		Messages:    adaptMessages(messages),
		Temperature: sdk.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", effModel).Dur("duration", dur).Msg("generate_error")
		span.RecordError(err)
		return llm.GenerateResult{}, err
	}

	var content string
	if len(comp.Choices) > 0 {
		content = comp.Choices[0].Message.Content
	}
	usage := llm.Usage{InputTokens: int(comp.Usage.PromptTokens), OutputTokens: int(comp.Usage.CompletionTokens)}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.InputTokens+usage.OutputTokens)
	llm.RecordTokenMetrics(effModel, usage.InputTokens, usage.OutputTokens)
	llm.LogRedactedResponse(ctx, comp.Choices)
	log.Debug().Str("model", effModel).Dur("duration", dur).Int("prompt_tokens", usage.InputTokens).Int("completion_tokens", usage.OutputTokens).Msg("generate_ok")

	return llm.GenerateResult{Content: content, Model: effModel, Provider: c.name, Usage: usage}, nil
}

// Stream implements llm.Provider.Stream.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, model string, temperature float64, maxTokens int, h llm.StreamHandler) (llm.Usage, error) {
	effModel := c.effectiveModel(model)
	ctx, span := llm.StartRequestSpan(ctx, c.name+" Stream", effModel, 0, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(effModel),
		Messages:    adaptMessages(messages),
		Temperature: sdk.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage llm.Usage
	var content strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = llm.Usage{InputTokens: int(chunk.Usage.PromptTokens), OutputTokens: int(chunk.Usage.CompletionTokens)}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			h.OnDelta(delta)
			content.WriteString(delta)
		}
	}
	err := stream.Err()
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", effModel).Dur("duration", dur).Msg("stream_error")
		span.RecordError(err)
		return llm.Usage{}, err
	}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.InputTokens+usage.OutputTokens)
	llm.RecordTokenMetrics(effModel, usage.InputTokens, usage.OutputTokens)
	log.Debug().Str("model", effModel).Dur("duration", dur).Msg("stream_ok")
	return usage, nil
}

// HealthCheck implements llm.Provider.HealthCheck by listing models.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// ListModels implements llm.Provider.ListModels.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.sdk.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", c.name, err)
	}
	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

var _ llm.Provider = (*Client)(nil)
