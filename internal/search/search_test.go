package search

import (
	"context"
	"testing"
	"time"

	"mnemosyne/internal/store"
)

type fakeVectorIndex struct {
	rows []store.VectorResult
}

func (f *fakeVectorIndex) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (f *fakeVectorIndex) Delete(context.Context, string) error                                { return nil }
func (f *fakeVectorIndex) SimilaritySearch(_ context.Context, _ []float32, k int, filter map[string]string) ([]store.VectorResult, error) {
	var out []store.VectorResult
	for _, r := range f.rows {
		if filter["owner_id"] != "" && r.Metadata["owner_id"] != filter["owner_id"] {
			continue
		}
		if st, ok := filter["source_type"]; ok && r.Metadata["source_type"] != st {
			continue
		}
		out = append(out, r)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type fakeFullTextIndex struct {
	rows []store.FullTextResult
}

func (f *fakeFullTextIndex) Index(context.Context, string, string, map[string]string) error { return nil }
func (f *fakeFullTextIndex) Remove(context.Context, string) error                            { return nil }
func (f *fakeFullTextIndex) Search(_ context.Context, _ string, limit int, filter map[string]string) ([]store.FullTextResult, error) {
	var out []store.FullTextResult
	for _, r := range f.rows {
		if filter["owner_id"] != "" && r.Metadata["owner_id"] != filter["owner_id"] {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (fakeEmbed) BatchEmbed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbed) Dimension() int             { return 3 }
func (fakeEmbed) Ping(context.Context) error { return nil }

func TestSemanticSearch_FiltersByThresholdAndOwner(t *testing.T) {
	vectors := &fakeVectorIndex{rows: []store.VectorResult{
		{ID: "n1", Score: 0.9, Metadata: map[string]string{"owner_id": "u1", "source_type": "note", "entity_id": "n1"}},
		{ID: "n2", Score: 0.1, Metadata: map[string]string{"owner_id": "u1", "source_type": "note", "entity_id": "n2"}},
		{ID: "n3", Score: 0.9, Metadata: map[string]string{"owner_id": "u2", "source_type": "note", "entity_id": "n3"}},
	}}
	svc := NewService(vectors, &fakeFullTextIndex{}, fakeEmbed{})

	got, err := svc.SemanticSearch(context.Background(), "u1", "query", "", 10, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "n1" {
		t.Fatalf("expected only n1 above threshold for u1, got %+v", got)
	}
}

func TestSemanticSearch_NoEmbedClientDegradesToEmpty(t *testing.T) {
	svc := NewService(&fakeVectorIndex{}, &fakeFullTextIndex{}, nil)
	got, err := svc.SemanticSearch(context.Background(), "u1", "query", "", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil (degrade to fulltext elsewhere), got %+v", got)
	}
}

func TestFulltextSearch_DateRangeFilter(t *testing.T) {
	now := time.Now()
	old := now.Add(-400 * 24 * time.Hour)
	fulltext := &fakeFullTextIndex{rows: []store.FullTextResult{
		{ID: "d1", Score: 1.0, Metadata: map[string]string{"owner_id": "u1", "created_at": now.Format(time.RFC3339)}},
		{ID: "d2", Score: 0.5, Metadata: map[string]string{"owner_id": "u1", "created_at": old.Format(time.RFC3339)}},
	}}
	svc := NewService(&fakeVectorIndex{}, fulltext, fakeEmbed{})

	got, err := svc.FulltextSearch(context.Background(), "u1", "query", "", RangeMonth, SortRelevance, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "d1" {
		t.Fatalf("expected only the recent hit within the month window, got %+v", got)
	}
}

func TestFulltextSearch_SortByTitle(t *testing.T) {
	fulltext := &fakeFullTextIndex{rows: []store.FullTextResult{
		{ID: "b", Score: 0.5, Metadata: map[string]string{"owner_id": "u1", "title": "Banana"}},
		{ID: "a", Score: 0.1, Metadata: map[string]string{"owner_id": "u1", "title": "Apple"}},
	}}
	svc := NewService(&fakeVectorIndex{}, fulltext, fakeEmbed{})

	got, err := svc.FulltextSearch(context.Background(), "u1", "query", "", RangeAll, SortTitle, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Title != "Apple" || got[1].Title != "Banana" {
		t.Fatalf("expected alphabetical order, got %+v", got)
	}
}

func TestHybridSearch_BoostsResultsInBoth(t *testing.T) {
	vectors := &fakeVectorIndex{rows: []store.VectorResult{
		{ID: "shared", Score: 0.8, Metadata: map[string]string{"owner_id": "u1", "source_type": "note", "entity_id": "shared"}},
		{ID: "semantic-only", Score: 0.5, Metadata: map[string]string{"owner_id": "u1", "source_type": "note", "entity_id": "semantic-only"}},
	}}
	fulltext := &fakeFullTextIndex{rows: []store.FullTextResult{
		{ID: "shared", Score: 0.9, Metadata: map[string]string{"owner_id": "u1", "source_type": "note"}},
		{ID: "fulltext-only", Score: 0.9, Metadata: map[string]string{"owner_id": "u1", "source_type": "note"}},
	}}
	svc := NewService(vectors, fulltext, fakeEmbed{})

	got, err := svc.HybridSearch(context.Background(), "u1", "query", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 || got[0].SourceID != "shared" {
		t.Fatalf("expected the dual-hit candidate ranked first, got %+v", got)
	}
}
