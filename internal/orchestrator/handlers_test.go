package orchestrator

import (
	"context"
	"errors"
	"testing"

	"mnemosyne/internal/chunker"
	"mnemosyne/internal/consolidation"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

func newTestDeps(reply string, genErr error) (Deps, *store.Memory) {
	mem := store.NewMemory()
	embed := fakeEmbedClient{}
	return Deps{
		Notes:         mem,
		Documents:     mem,
		Images:        mem,
		WikiLinks:     mem,
		Chunker:       chunker.NewService(mem, mem, mem, embed, 0, 0),
		Embed:         embed,
		Registry:      newRegistry(reply, genErr),
		Consolidation: consolidation.New(mem, mem, mem, mem, mem, mem, mem, mem),
		ProviderName:  "fake",
		Model:         "fake-model",
		Temperature:   0.5,
	}, mem
}

func TestHandleNoteEmbedRegeneratesChunksAndEmbedding(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("unused", nil)
	note := domain.Note{ID: "n1", OwnerID: "owner-1", Title: "T", Content: "hello world, this is note content"}
	if err := mem.PutNote(ctx, note); err != nil {
		t.Fatalf("put note: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "n1", Kind: domain.JobNoteEmbed}
	if err := d.handleNoteEmbed(ctx, job); err != nil {
		t.Fatalf("handleNoteEmbed: %v", err)
	}

	got, err := mem.GetNote(ctx, "owner-1", "n1")
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if len(got.Embedding) == 0 {
		t.Fatal("expected note embedding to be populated")
	}
	chunks, _ := mem.ChunksForNote(ctx, "n1")
	if len(chunks) == 0 {
		t.Fatal("expected note chunks to be regenerated")
	}
}

func TestHandleNoteEmbedResolvesWikilinksToOutgoingEdges(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("unused", nil)
	target := domain.Note{ID: "n2", OwnerID: "owner-1", Title: "Recipes", Slug: "recipes"}
	source := domain.Note{ID: "n1", OwnerID: "owner-1", Title: "Source", Slug: "source",
		Content: "see [[Recipes]] for details"}
	if err := mem.PutNote(ctx, target); err != nil {
		t.Fatalf("put target: %v", err)
	}
	if err := mem.PutNote(ctx, source); err != nil {
		t.Fatalf("put source: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "n1", Kind: domain.JobNoteEmbed}
	if err := d.handleNoteEmbed(ctx, job); err != nil {
		t.Fatalf("handleNoteEmbed: %v", err)
	}

	outgoing, err := mem.Outgoing(ctx, "n1")
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].TargetNoteID != "n2" {
		t.Fatalf("expected one outgoing edge to n2, got %+v", outgoing)
	}
}

func TestHandleDocumentAnalyzeParsesEnrichmentAndMovesToNeedsReview(t *testing.T) {
	ctx := context.Background()
	reply := `Here is the result: {"summary":"a short summary","tags":["go","notes"],"wikilinks":["Related Note"]} thanks`
	d, mem := newTestDeps(reply, nil)
	doc := domain.Document{ID: "d1", OwnerID: "owner-1", Title: "Doc", ExtractedText: "some extracted body text",
		AIAnalysisStatus: domain.StatusProcessing}
	if err := mem.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "d1", Kind: domain.JobDocumentAnalyze}
	if err := d.handleDocumentAnalyze(ctx, job); err != nil {
		t.Fatalf("handleDocumentAnalyze: %v", err)
	}

	got, err := mem.GetDocument(ctx, "owner-1", "d1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.AIAnalysisStatus != domain.StatusNeedsReview {
		t.Fatalf("expected status needs_review, got %s", got.AIAnalysisStatus)
	}
	if got.AISummary != "a short summary" {
		t.Fatalf("expected parsed summary, got %q", got.AISummary)
	}
	if len(got.SuggestedTags) != 2 || len(got.SuggestedWikilinks) != 1 {
		t.Fatalf("expected tags/wikilinks to be parsed, got %+v / %+v", got.SuggestedTags, got.SuggestedWikilinks)
	}
}

func TestHandleDocumentAnalyzeFailsWithoutExtractedText(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("reply", nil)
	doc := domain.Document{ID: "d2", OwnerID: "owner-1", Title: "Empty"}
	if err := mem.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "d2", Kind: domain.JobDocumentAnalyze}
	if err := d.handleDocumentAnalyze(ctx, job); err == nil {
		t.Fatal("expected an error for a document with no extracted text")
	}

	got, _ := mem.GetDocument(ctx, "owner-1", "d2")
	if got.AIAnalysisStatus != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.AIAnalysisStatus)
	}
}

func TestHandleDocumentEmbedSkipsWhileAnalysisInFlight(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("reply", nil)
	doc := domain.Document{ID: "d3", OwnerID: "owner-1", ExtractedText: "body", AIAnalysisStatus: domain.StatusProcessing}
	if err := mem.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "d3", Kind: domain.JobDocumentEmbed}
	if err := d.handleDocumentEmbed(ctx, job); err != nil {
		t.Fatalf("handleDocumentEmbed: %v", err)
	}

	got, _ := mem.GetDocument(ctx, "owner-1", "d3")
	if len(got.Embedding) != 0 {
		t.Fatal("document embedding must not be written while analysis is still processing")
	}
}

func TestHandleDocumentEmbedRunsOncePastProcessing(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("reply", nil)
	doc := domain.Document{ID: "d4", OwnerID: "owner-1", ExtractedText: "body text to embed",
		AIAnalysisStatus: domain.StatusNeedsReview, AISummary: "a summary"}
	if err := mem.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "d4", Kind: domain.JobDocumentEmbed}
	if err := d.handleDocumentEmbed(ctx, job); err != nil {
		t.Fatalf("handleDocumentEmbed: %v", err)
	}

	got, _ := mem.GetDocument(ctx, "owner-1", "d4")
	if len(got.Embedding) == 0 {
		t.Fatal("expected document embedding to be populated once past processing")
	}
}

func TestHandleImageAnalyzePersistsCaptionAndLinkedNote(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("a photo of a mountain lake", nil)
	img := domain.Image{ID: "i1", OwnerID: "owner-1", FilePath: "/uploads/lake.jpg"}
	if err := mem.PutImage(ctx, img); err != nil {
		t.Fatalf("put image: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "i1", Kind: domain.JobImageAnalyze}
	if err := d.handleImageAnalyze(ctx, job); err != nil {
		t.Fatalf("handleImageAnalyze: %v", err)
	}

	got, err := mem.GetImage(ctx, "owner-1", "i1")
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	if got.AIAnalysisResult != "a photo of a mountain lake" {
		t.Fatalf("expected caption to be persisted, got %q", got.AIAnalysisResult)
	}
	if got.AIAnalysisStatus != domain.StatusNeedsReview {
		t.Fatalf("expected status needs_review, got %s", got.AIAnalysisStatus)
	}

	notes, err := mem.ListNotes(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected a linked summary note to be created, got %d notes", len(notes))
	}
}

func TestHandleImageAnalyzeFailsImageWhenGenerationErrors(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("", errors.New("provider down"))
	img := domain.Image{ID: "i2", OwnerID: "owner-1", FilePath: "/uploads/x.jpg"}
	if err := mem.PutImage(ctx, img); err != nil {
		t.Fatalf("put image: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "i2", Kind: domain.JobImageAnalyze}
	if err := d.handleImageAnalyze(ctx, job); err == nil {
		t.Fatal("expected an error when the provider call fails")
	}
	got, _ := mem.GetImage(ctx, "owner-1", "i2")
	if got.AIAnalysisStatus != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.AIAnalysisStatus)
	}
}

func TestHandleConsolidationTreatsPartialStepFailureAsSuccess(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDeps("reply", nil)
	if err := mem.PutNote(ctx, domain.Note{ID: "n1", OwnerID: "owner-1", Title: "A", Content: "alpha beta"}); err != nil {
		t.Fatalf("put note: %v", err)
	}
	job := domain.Job{OwnerID: "owner-1", Kind: domain.JobConsolidation}
	if err := d.handleConsolidation(ctx, job); err != nil {
		t.Fatalf("handleConsolidation: %v", err)
	}
}

func TestHandleConsolidationPropagatesTotalFailure(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDeps("reply", nil)
	d.Consolidation = consolidation.New(failingNoteStore{}, nil, nil, nil, nil, nil, nil, nil)
	job := domain.Job{OwnerID: "owner-1", Kind: domain.JobConsolidation}
	if err := d.handleConsolidation(ctx, job); err == nil {
		t.Fatal("expected an error when ListNotes itself fails for every step")
	}
}

type failingNoteStore struct{ store.NoteStore }

func (failingNoteStore) ListNotes(context.Context, string) ([]domain.Note, error) {
	return nil, errors.New("db unreachable")
}
