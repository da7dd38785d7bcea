package navigator

import (
	"context"
	"testing"

	"mnemosyne/internal/config"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/llm"
)

type fakeNavStore struct {
	caches map[domain.NavigationCacheType]domain.NexusNavigationCache
}

func (f *fakeNavStore) GetNavigationCache(_ context.Context, _ string, t domain.NavigationCacheType) (domain.NexusNavigationCache, error) {
	return f.caches[t], nil
}
func (f *fakeNavStore) PutNavigationCache(context.Context, domain.NexusNavigationCache) error { return nil }

type fakeNoteStore struct {
	notes map[string]domain.Note
}

func (f *fakeNoteStore) GetNote(_ context.Context, _, id string) (domain.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return domain.Note{}, context.Canceled
	}
	return n, nil
}
func (f *fakeNoteStore) PutNote(context.Context, domain.Note) error               { return nil }
func (f *fakeNoteStore) ListNotes(context.Context, string) ([]domain.Note, error) { return nil, nil }
func (f *fakeNoteStore) ReplaceChunks(context.Context, string, []domain.NoteChunk) error {
	return nil
}
func (f *fakeNoteStore) ChunksForNote(context.Context, string) ([]domain.NoteChunk, error) {
	return nil, nil
}

type fakeProvider struct {
	reply string
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Generate(_ context.Context, _ []llm.Message, model string, _ float64, _ int) (llm.GenerateResult, error) {
	return llm.GenerateResult{Content: f.reply, Model: model, Provider: "fake"}, nil
}
func (f *fakeProvider) Stream(context.Context, []llm.Message, string, float64, int, llm.StreamHandler) (llm.Usage, error) {
	return llm.Usage{}, nil
}
func (f *fakeProvider) HealthCheck(context.Context) error             { return nil }
func (f *fakeProvider) ListModels(context.Context) ([]string, error) { return nil, nil }

func newRegistry(reply string) *llm.Registry {
	reg := llm.NewRegistry(llm.NewUsageLogger(nil))
	reg.Register(&fakeProvider{reply: reply}, config.Config{CircuitFailureThreshold: 3, CircuitRecoveryTimeoutS: 30})
	return reg
}

func bothCaches() *fakeNavStore {
	return &fakeNavStore{caches: map[domain.NavigationCacheType]domain.NexusNavigationCache{
		domain.CacheCommunityMap: {Content: "[1] Projects (5 notes): go, rag"},
		domain.CacheTagOverview:  {Content: "#go (5), #rag (3)"},
	}}
}

func TestNavigate_HydratesReturnedNoteIDs(t *testing.T) {
	nav := New(bothCaches(), &fakeNoteStore{notes: map[string]domain.Note{
		"n1": {ID: "n1", Title: "Note One"},
		"n2": {ID: "n2", Title: "Note Two"},
	}}, newRegistry(`["n1", "n2"]`))

	got := nav.Navigate(context.Background(), "owner-1", "fake", "what is rag?", 0)
	if len(got.Notes) != 2 || got.Notes[0].ID != "n1" || got.Notes[1].ID != "n2" {
		t.Fatalf("expected both notes hydrated in order, got %+v", got.Notes)
	}
}

func TestNavigate_MissingCacheReturnsEmpty(t *testing.T) {
	nav := New(&fakeNavStore{caches: map[domain.NavigationCacheType]domain.NexusNavigationCache{
		domain.CacheCommunityMap: {Content: "[1] Projects"},
	}}, &fakeNoteStore{}, newRegistry(`["n1"]`))

	got := nav.Navigate(context.Background(), "owner-1", "fake", "query", 0)
	if len(got.Notes) != 0 {
		t.Fatalf("expected empty result with tag_overview cache missing, got %+v", got.Notes)
	}
}

func TestNavigate_MalformedLLMOutputReturnsEmpty(t *testing.T) {
	nav := New(bothCaches(), &fakeNoteStore{}, newRegistry("I'm not sure, sorry!"))

	got := nav.Navigate(context.Background(), "owner-1", "fake", "query", 0)
	if len(got.Notes) != 0 {
		t.Fatalf("expected empty result on malformed JSON, got %+v", got.Notes)
	}
}

func TestNavigate_SkipsTrashedNotes(t *testing.T) {
	nav := New(bothCaches(), &fakeNoteStore{notes: map[string]domain.Note{
		"n1": {ID: "n1", IsTrashed: true},
		"n2": {ID: "n2"},
	}}, newRegistry(`["n1", "n2"]`))

	got := nav.Navigate(context.Background(), "owner-1", "fake", "query", 0)
	if len(got.Notes) != 1 || got.Notes[0].ID != "n2" {
		t.Fatalf("expected only the non-trashed note, got %+v", got.Notes)
	}
}

func TestNavigate_MaxResultsCapsOutput(t *testing.T) {
	nav := New(bothCaches(), &fakeNoteStore{notes: map[string]domain.Note{
		"n1": {ID: "n1"}, "n2": {ID: "n2"}, "n3": {ID: "n3"},
	}}, newRegistry(`["n1", "n2", "n3"]`))

	got := nav.Navigate(context.Background(), "owner-1", "fake", "query", 2)
	if len(got.Notes) != 2 {
		t.Fatalf("expected maxResults to cap at 2, got %d", len(got.Notes))
	}
}
