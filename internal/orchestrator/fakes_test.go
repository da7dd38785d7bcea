package orchestrator

import (
	"context"

	"mnemosyne/internal/config"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/llm"
)

type fakeProvider struct {
	reply string
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Generate(_ context.Context, _ []llm.Message, model string, _ float64, _ int) (llm.GenerateResult, error) {
	if f.err != nil {
		return llm.GenerateResult{}, f.err
	}
	return llm.GenerateResult{Content: f.reply, Model: model, Provider: "fake"}, nil
}
func (f *fakeProvider) Stream(context.Context, []llm.Message, string, float64, int, llm.StreamHandler) (llm.Usage, error) {
	return llm.Usage{}, nil
}
func (f *fakeProvider) HealthCheck(context.Context) error            { return nil }
func (f *fakeProvider) ListModels(context.Context) ([]string, error) { return nil, nil }

func newRegistry(reply string, err error) *llm.Registry {
	reg := llm.NewRegistry(llm.NewUsageLogger(nil))
	reg.Register(&fakeProvider{reply: reply, err: err}, config.Config{CircuitFailureThreshold: 3, CircuitRecoveryTimeoutS: 30})
	return reg
}

type fakeEmbedClient struct{}

func (fakeEmbedClient) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}
func (f fakeEmbedClient) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}
func (fakeEmbedClient) Dimension() int            { return 3 }
func (fakeEmbedClient) Ping(context.Context) error { return nil }

type fakeClusterer struct{}

func (fakeClusterer) DetectCommunities(context.Context, string) ([]domain.CommunityMetadata, error) {
	return nil, nil
}
