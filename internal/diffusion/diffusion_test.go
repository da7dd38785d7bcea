package diffusion

import (
	"context"
	"testing"
	"time"

	"mnemosyne/internal/domain"
)

type fakeNoteStore struct {
	notes []domain.Note
}

func (f *fakeNoteStore) GetNote(context.Context, string, string) (domain.Note, error) {
	return domain.Note{}, nil
}
func (f *fakeNoteStore) PutNote(context.Context, domain.Note) error { return nil }
func (f *fakeNoteStore) ListNotes(context.Context, string) ([]domain.Note, error) {
	return f.notes, nil
}
func (f *fakeNoteStore) ReplaceChunks(context.Context, string, []domain.NoteChunk) error {
	return nil
}
func (f *fakeNoteStore) ChunksForNote(context.Context, string) ([]domain.NoteChunk, error) {
	return nil, nil
}

type fakeWikiLinkStore struct {
	links []domain.WikiLink
}

func (f *fakeWikiLinkStore) ReplaceOutgoing(context.Context, string, []domain.WikiLink) error {
	return nil
}
func (f *fakeWikiLinkStore) Outgoing(context.Context, string) ([]domain.WikiLink, error) {
	return nil, nil
}
func (f *fakeWikiLinkStore) Incoming(context.Context, string) ([]domain.WikiLink, error) {
	return nil, nil
}
func (f *fakeWikiLinkStore) AllWikiLinks(context.Context, string) ([]domain.WikiLink, error) {
	return f.links, nil
}

type fakeSemanticEdgeStore struct {
	edges []domain.SemanticEdge
}

func (f *fakeSemanticEdgeStore) ReplaceForOwner(context.Context, string, []domain.SemanticEdge) error {
	return nil
}
func (f *fakeSemanticEdgeStore) EdgesFor(context.Context, string, string) ([]domain.SemanticEdge, error) {
	return nil, nil
}
func (f *fakeSemanticEdgeStore) AllSemanticEdges(context.Context, string) ([]domain.SemanticEdge, error) {
	return f.edges, nil
}

type fakeTagStore struct {
	tags map[string][]domain.Tag
}

func (f *fakeTagStore) TagsFor(_ context.Context, _, entityID string) ([]domain.Tag, error) {
	return f.tags[entityID], nil
}
func (f *fakeTagStore) AllTags(context.Context, string) ([]domain.Tag, error) { return nil, nil }

func note(id string, embedding []float32, age time.Duration) domain.Note {
	return domain.Note{
		ID:        id,
		OwnerID:   "owner-1",
		Embedding: embedding,
		UpdatedAt: time.Now().Add(-age),
	}
}

func TestRank_TooFewEligibleNotesReturnsEmpty(t *testing.T) {
	r := New(&fakeNoteStore{notes: []domain.Note{note("n1", []float32{1, 0, 0}, 0)}},
		&fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map for < 2 eligible notes, got %+v", got)
	}
}

func TestRank_SkipsTrashedAndUnembeddedNotes(t *testing.T) {
	notes := []domain.Note{
		note("n1", []float32{1, 0, 0}, 0),
		{ID: "n2", OwnerID: "owner-1", IsTrashed: true, Embedding: []float32{1, 0, 0}},
		{ID: "n3", OwnerID: "owner-1"},
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map when only one note is eligible, got %+v", got)
	}
}

func TestRank_WikilinkEdgeBiasesTowardLinkedNote(t *testing.T) {
	notes := []domain.Note{
		note("hub", []float32{1, 0, 0}, 0),
		note("linked", []float32{1, 0, 0}, time.Hour),
		note("isolated", []float32{1, 0, 0}, 2*time.Hour),
	}
	links := []domain.WikiLink{{SourceNoteID: "hub", TargetNoteID: "linked"}}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{links: links}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["linked"] <= got["isolated"] {
		t.Fatalf("expected wikilink target to outrank an isolated note, got %+v", got)
	}
}

func TestRank_SemanticEdgeWeightScalesWithSimilarityScore(t *testing.T) {
	baseNotes := func() []domain.Note {
		return []domain.Note{
			note("hub", []float32{1, 0, 0}, 0),
			note("strong", []float32{1, 0, 0}, time.Hour),
			note("weak", []float32{1, 0, 0}, 2*time.Hour),
		}
	}
	edges := []domain.SemanticEdge{
		{SourceID: "hub", TargetID: "strong", SourceType: domain.SourceNote, TargetType: domain.SourceNote, SimilarityScore: 0.9},
		{SourceID: "hub", TargetID: "weak", SourceType: domain.SourceNote, TargetType: domain.SourceNote, SimilarityScore: 0.2},
	}
	r := New(&fakeNoteStore{notes: baseNotes()}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{edges: edges}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["strong"] <= got["weak"] {
		t.Fatalf("expected the higher-similarity edge to rank its target higher, got %+v", got)
	}
}

func TestRank_IgnoresNonNoteSemanticEdges(t *testing.T) {
	notes := []domain.Note{
		note("hub", []float32{1, 0, 0}, 0),
		note("other", []float32{1, 0, 0}, time.Hour),
	}
	edges := []domain.SemanticEdge{
		{SourceID: "hub", TargetID: "doc-1", SourceType: domain.SourceNote, TargetType: domain.SourceDocument, SimilarityScore: 0.9},
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{edges: edges}, &fakeTagStore{})

	if _, err := r.Rank(context.Background(), "owner-1", nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRank_SharedTagConnectsUnlinkedNotes(t *testing.T) {
	notes := []domain.Note{
		note("hub", []float32{1, 0, 0}, 0),
		note("tagged", []float32{1, 0, 0}, time.Hour),
		note("untagged", []float32{1, 0, 0}, 2*time.Hour),
	}
	tags := map[string][]domain.Tag{
		"hub":    {{Name: "go"}},
		"tagged": {{Name: "go"}},
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{tags: tags})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["tagged"] <= got["untagged"] {
		t.Fatalf("expected the shared-tag note to outrank the untagged note, got %+v", got)
	}
}

func TestRank_QueryEmbeddingBiasesTowardSimilarNote(t *testing.T) {
	notes := []domain.Note{
		note("similar", []float32{1, 0, 0}, 0),
		note("dissimilar", []float32{0, 1, 0}, time.Hour),
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", []float32{1, 0, 0}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["similar"] <= got["dissimilar"] {
		t.Fatalf("expected query-similar note to rank higher, got %+v", got)
	}
}

func TestRank_NilQueryEmbeddingYieldsSymmetricScores(t *testing.T) {
	notes := []domain.Note{
		note("a", []float32{1, 0, 0}, 0),
		note("b", []float32{0, 1, 0}, time.Hour),
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both disconnected notes to clear the floor with a uniform prior, got %+v", got)
	}
}

func TestRank_ScoresNormalizedToMaxOne(t *testing.T) {
	notes := []domain.Note{
		note("hub", []float32{1, 0, 0}, 0),
		note("linked", []float32{1, 0, 0}, time.Hour),
	}
	links := []domain.WikiLink{{SourceNoteID: "hub", TargetNoteID: "linked"}}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{links: links}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, score := range got {
		if score > 1.0+1e-9 {
			t.Fatalf("score for %s exceeds 1.0: %v", id, score)
		}
	}
	foundMax := false
	for _, score := range got {
		if score == 1.0 {
			foundMax = true
		}
	}
	if !foundMax {
		t.Fatalf("expected at least one note normalized to exactly 1.0, got %+v", got)
	}
}

func TestRank_RespectsMaxCandidatesMostRecentFirst(t *testing.T) {
	notes := []domain.Note{
		note("old", []float32{1, 0, 0}, 10*time.Hour),
		note("newer", []float32{1, 0, 0}, time.Hour),
		note("newest", []float32{1, 0, 0}, 0),
	}
	r := New(&fakeNoteStore{notes: notes}, &fakeWikiLinkStore{}, &fakeSemanticEdgeStore{}, &fakeTagStore{})

	got, err := r.Rank(context.Background(), "owner-1", nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["old"]; ok {
		t.Fatalf("expected the oldest note to be dropped by the candidate cap, got %+v", got)
	}
	if _, ok := got["newest"]; !ok {
		t.Fatalf("expected the newest note to survive the candidate cap, got %+v", got)
	}
}
