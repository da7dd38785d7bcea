package llm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

// costRate is the per-1M-token (input, output) USD rate for a model.
type costRate struct {
	input  float64
	output float64
}

// costTable mirrors the reference service's per-model rate table; unknown
// models fall back to defaultCost.
var costTable = map[string]costRate{
	"claude-opus-4-0520":         {15.0, 75.0},
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-haiku-4-5-20251001":  {0.80, 4.0},
	"gpt-4o":                     {2.50, 10.0},
	"gpt-4o-mini":                {0.15, 0.60},
	"o1":                         {15.0, 60.0},
	"o3-mini":                    {1.10, 4.40},
	"gpt-4.1":                    {2.0, 8.0},
	"gpt-4.1-mini":               {0.40, 1.60},
}

var defaultCost = costRate{1.0, 3.0}

// EstimateCostUSD estimates the dollar cost of a call from its token counts.
func EstimateCostUSD(model string, inputTokens, outputTokens int) float64 {
	rate, ok := costTable[model]
	if !ok {
		rate = defaultCost
	}
	cost := float64(inputTokens)*rate.input/1_000_000 + float64(outputTokens)*rate.output/1_000_000
	return roundTo6(cost)
}

func roundTo6(f float64) float64 {
	const scale = 1e6
	return float64(int64(f*scale+0.5)) / scale
}

// localProviderName identifies the self-hosted provider variant; its usage
// rows are skipped since local inference has no cloud cost.
const localProviderName = "local"

// UsageLogger persists a side-effectful log_usage call (spec §4.2): every
// cloud-provider generation/stream is recorded with its estimated cost;
// local-provider calls are skipped entirely.
type UsageLogger struct {
	store store.UsageLogStore
}

// NewUsageLogger builds a usage logger writing through s.
func NewUsageLogger(s store.UsageLogStore) *UsageLogger {
	return &UsageLogger{store: s}
}

// Log records a single provider call. Errors are swallowed to a best-effort
// log line: a failed usage write must never fail the generation it is
// accounting for.
func (u *UsageLogger) Log(ctx context.Context, ownerID, provider, model string, inputTokens, outputTokens int, useCase, conversationID string) {
	if u == nil || u.store == nil {
		return
	}
	if strings.EqualFold(provider, localProviderName) {
		return
	}
	entry := domain.AIUsageLog{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Provider:         provider,
		Model:            model,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		UseCase:          useCase,
		ConversationID:   conversationID,
		EstimatedCostUSD: EstimateCostUSD(model, inputTokens, outputTokens),
		CreatedAt:        time.Now().UTC(),
	}
	if err := u.store.LogUsage(ctx, entry); err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("model", model).Msg("usage_log_failed")
	}
}
