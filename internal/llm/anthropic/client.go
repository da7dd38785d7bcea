// Package anthropic implements llm.Provider over the Anthropic Messages API,
// grounded on the teacher's SDK-construction and streaming-loop shape but
// stripped of tool-calling, extended-thinking, and prompt-cache control
// blocks that NEXUS's plain-text generation/streaming needs do not exercise.
package anthropic

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mnemosyne/internal/llm"
	"mnemosyne/internal/observability"
)

// ProviderName is the registry key and usage-log provider string.
const ProviderName = "anthropic"

// Client adapts the anthropic-sdk-go SDK to llm.Provider.
type Client struct {
	sdk       sdk.Client
	model     string
	maxTokens int64
}

// Config constructs a Client for the Anthropic cloud API.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// New builds a Client from cfg, instrumented with otelhttp the way every
// other outbound LLM transport in this package is.
func New(cfg Config) *Client {
	httpClient := observability.NewHTTPClient(nil)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model, maxTokens: maxTokens}
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) effectiveModel(model string) string {
	if model != "" {
		return model
	}
	return c.model
}

// splitSystem pulls any "system" role messages out of msgs (the Anthropic
// API takes system as a separate top-level field, not an in-band message).
func splitSystem(msgs []llm.Message) (string, []sdk.MessageParam) {
	var system strings.Builder
	turns := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return system.String(), turns
}

func maxTokensOrDefault(maxTokens int, fallback int64) int64 {
	if maxTokens > 0 {
		return int64(maxTokens)
	}
	return fallback
}

// Generate implements llm.Provider.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, model string, temperature float64, maxTokens int) (llm.GenerateResult, error) {
	effModel := c.effectiveModel(model)
	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Generate", effModel, 0, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	system, turns := splitSystem(messages)
	params := sdk.MessageNewParams{
		Model:       sdk.Model(effModel),
		MaxTokens:   maxTokensOrDefault(maxTokens, c.maxTokens),
		Messages:    turns,
		Temperature: sdk.Float(temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", effModel).Dur("duration", dur).Msg("generate_error")
		span.RecordError(err)
		return llm.GenerateResult{}, err
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	usage := llm.Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.InputTokens+usage.OutputTokens)
	llm.RecordTokenMetrics(effModel, usage.InputTokens, usage.OutputTokens)
	log.Debug().Str("model", effModel).Dur("duration", dur).Int("input_tokens", usage.InputTokens).Int("output_tokens", usage.OutputTokens).Msg("generate_ok")

	return llm.GenerateResult{Content: content.String(), Model: effModel, Provider: ProviderName, Usage: usage}, nil
}

// Stream implements llm.Provider.Stream.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, model string, temperature float64, maxTokens int, h llm.StreamHandler) (llm.Usage, error) {
	effModel := c.effectiveModel(model)
	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Stream", effModel, 0, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	system, turns := splitSystem(messages)
	params := sdk.MessageNewParams{
		Model:       sdk.Model(effModel),
		MaxTokens:   maxTokensOrDefault(maxTokens, c.maxTokens),
		Messages:    turns,
		Temperature: sdk.Float(temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	stream := c.sdk.Messages.NewStreaming(ctx, params)

	var usage llm.Usage
	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				h.OnDelta(delta.Delta.Text)
			}
		case sdk.MessageDeltaEvent:
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
		case sdk.MessageStartEvent:
			usage.InputTokens = int(delta.Message.Usage.InputTokens)
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

// HealthCheck implements llm.Provider.HealthCheck with a minimal request.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.sdk.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	return err
}

// ListModels implements llm.Provider.ListModels. Anthropic does not expose a
// discovery endpoint in the SDK surface used here, so this returns the
// single configured model id.
func (c *Client) ListModels(_ context.Context) ([]string, error) {
	return []string{c.model}, nil
}

var _ llm.Provider = (*Client)(nil)
