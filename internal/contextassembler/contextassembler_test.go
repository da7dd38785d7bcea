package contextassembler

import (
	"context"
	"testing"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/fusion"
	"mnemosyne/internal/search"
)

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

type fakeDocumentStore struct {
	docs map[string]domain.Document
}

func (f *fakeDocumentStore) GetDocument(_ context.Context, _, id string) (domain.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, context.Canceled
	}
	return d, nil
}
func (f *fakeDocumentStore) PutDocument(context.Context, domain.Document) error { return nil }
func (f *fakeDocumentStore) ReplaceDocumentChunks(context.Context, string, []domain.DocumentChunk) error {
	return nil
}

type fakeImageStore struct {
	images map[string]domain.Image
}

func (f *fakeImageStore) GetImage(_ context.Context, _, id string) (domain.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return domain.Image{}, context.Canceled
	}
	return img, nil
}
func (f *fakeImageStore) PutImage(context.Context, domain.Image) error { return nil }
func (f *fakeImageStore) ReplaceImageChunks(context.Context, string, []domain.ImageChunk) error {
	return nil
}

type fakeTagStore struct {
	tags map[string][]domain.Tag
}

func (f *fakeTagStore) TagsFor(_ context.Context, _, entityID string) ([]domain.Tag, error) {
	return f.tags[entityID], nil
}
func (f *fakeTagStore) AllTags(context.Context, string) ([]domain.Tag, error) { return nil, nil }

type fakeWikiLinkStore struct {
	outgoing map[string][]domain.WikiLink
}

func (f *fakeWikiLinkStore) ReplaceOutgoing(context.Context, string, []domain.WikiLink) error {
	return nil
}
func (f *fakeWikiLinkStore) Outgoing(_ context.Context, noteID string) ([]domain.WikiLink, error) {
	return f.outgoing[noteID], nil
}
func (f *fakeWikiLinkStore) Incoming(context.Context, string) ([]domain.WikiLink, error) {
	return nil, nil
}
func (f *fakeWikiLinkStore) AllWikiLinks(context.Context, string) ([]domain.WikiLink, error) {
	return nil, nil
}

type fakeCommunityStore struct {
	communities []domain.CommunityMetadata
}

func (f *fakeCommunityStore) ReplaceCommunities(context.Context, string, []domain.CommunityMetadata) error {
	return nil
}
func (f *fakeCommunityStore) Communities(context.Context, string) ([]domain.CommunityMetadata, error) {
	return f.communities, nil
}

func candidate(id, title string, score float64) fusion.ScoredCandidate {
	return fusion.ScoredCandidate{
		SourceType: search.SourceNote, SourceID: id, EntityID: id,
		Title: title, FinalScore: score, Strategies: []string{"vector_search"},
	}
}

func TestAssemble_ResolvesNoteCitationsInRankOrder(t *testing.T) {
	notes := map[string]domain.Note{
		"n1": {ID: "n1", Title: "Docker Networking", Content: "bridge networks explained"},
		"n2": {ID: "n2", Title: "Recipes", Content: "pasta and sauce"},
	}
	a := New(&fakeNoteStore{notes: notes}, &fakeDocumentStore{}, &fakeImageStore{},
		&fakeTagStore{}, &fakeWikiLinkStore{}, &fakeCommunityStore{})

	ranked := []fusion.ScoredCandidate{candidate("n1", "Docker Networking", 0.9), candidate("n2", "Recipes", 0.5)}
	got, err := a.Assemble(context.Background(), "owner-1", ranked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.RichCitations) != 2 || got.RichCitations[0].Index != 1 || got.RichCitations[0].Title != "Docker Networking" {
		t.Fatalf("expected citations in rank order with 1-based indices, got %+v", got.RichCitations)
	}
}

func TestAssemble_SkipsCandidateWhoseSourceVanished(t *testing.T) {
	notes := map[string]domain.Note{"n1": {ID: "n1", Title: "Survivor"}}
	a := New(&fakeNoteStore{notes: notes}, &fakeDocumentStore{}, &fakeImageStore{},
		&fakeTagStore{}, &fakeWikiLinkStore{}, &fakeCommunityStore{})

	ranked := []fusion.ScoredCandidate{candidate("missing", "Ghost", 0.9), candidate("n1", "Survivor", 0.5)}
	got, err := a.Assemble(context.Background(), "owner-1", ranked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.RichCitations) != 1 || got.RichCitations[0].Title != "Survivor" {
		t.Fatalf("expected the vanished note to be skipped, got %+v", got.RichCitations)
	}
}

func TestAssemble_TruncatesWhenBudgetExceeded(t *testing.T) {
	notes := map[string]domain.Note{
		"n1": {ID: "n1", Title: "A", Content: strLong("alpha", 500)},
		"n2": {ID: "n2", Title: "B", Content: strLong("beta", 500)},
	}
	a := New(&fakeNoteStore{notes: notes}, &fakeDocumentStore{}, &fakeImageStore{},
		&fakeTagStore{}, &fakeWikiLinkStore{}, &fakeCommunityStore{})

	ranked := []fusion.ScoredCandidate{candidate("n1", "A", 0.9), candidate("n2", "B", 0.5)}
	got, err := a.Assemble(context.Background(), "owner-1", ranked, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Truncated {
		t.Fatalf("expected truncation with a tiny budget, got %+v", got)
	}
}

func TestAssemble_SharedCommunityProducesConnectionInsight(t *testing.T) {
	community := 7
	notes := map[string]domain.Note{
		"n1": {ID: "n1", Title: "A", CommunityID: &community},
		"n2": {ID: "n2", Title: "B", CommunityID: &community},
	}
	communities := []domain.CommunityMetadata{{CommunityID: 7, Label: "Infrastructure"}}
	a := New(&fakeNoteStore{notes: notes}, &fakeDocumentStore{}, &fakeImageStore{},
		&fakeTagStore{}, &fakeWikiLinkStore{}, &fakeCommunityStore{communities: communities})

	ranked := []fusion.ScoredCandidate{candidate("n1", "A", 0.9), candidate("n2", "B", 0.5)}
	got, err := a.Assemble(context.Background(), "owner-1", ranked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ConnectionInsights) != 1 || got.ConnectionInsights[0].ConnectionType != "shared_community" {
		t.Fatalf("expected one shared_community insight, got %+v", got.ConnectionInsights)
	}
}

func TestAssemble_UncoveredCommunitySuggestsExploration(t *testing.T) {
	community := 1
	notes := map[string]domain.Note{"n1": {ID: "n1", Title: "A", CommunityID: &community}}
	communities := []domain.CommunityMetadata{
		{CommunityID: 1, Label: "Infrastructure"},
		{CommunityID: 2, Label: "Cooking"},
	}
	a := New(&fakeNoteStore{notes: notes}, &fakeDocumentStore{}, &fakeImageStore{},
		&fakeTagStore{}, &fakeWikiLinkStore{}, &fakeCommunityStore{communities: communities})

	ranked := []fusion.ScoredCandidate{candidate("n1", "A", 0.9)}
	got, err := a.Assemble(context.Background(), "owner-1", ranked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ExplorationSuggestions) != 1 {
		t.Fatalf("expected one suggestion for the uncovered Cooking community, got %+v", got.ExplorationSuggestions)
	}
}

func TestUsedCitationIndices_ExtractsDistinctMarkersInOrder(t *testing.T) {
	got := UsedCitationIndices("As shown in [2] and confirmed by [1], also see [2] again.")
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("expected [2, 1] in first-appearance order, got %v", got)
	}
}

func strLong(word string, n int) string {
	out := make([]byte, 0, len(word)*n)
	for i := 0; i < n; i++ {
		out = append(out, word...)
		out = append(out, ' ')
	}
	return string(out)
}
