package chunker

import (
	"context"
	"testing"

	"mnemosyne/internal/domain"
)

type fakeNoteStore struct {
	replaced []domain.NoteChunk
}

func (f *fakeNoteStore) GetNote(context.Context, string, string) (domain.Note, error) { return domain.Note{}, nil }
func (f *fakeNoteStore) PutNote(context.Context, domain.Note) error                    { return nil }
func (f *fakeNoteStore) ListNotes(context.Context, string) ([]domain.Note, error)      { return nil, nil }
func (f *fakeNoteStore) ReplaceChunks(_ context.Context, _ string, chunks []domain.NoteChunk) error {
	f.replaced = chunks
	return nil
}
func (f *fakeNoteStore) ChunksForNote(context.Context, string) ([]domain.NoteChunk, error) {
	return f.replaced, nil
}

type fakeDocumentStore struct {
	replaced []domain.DocumentChunk
}

func (f *fakeDocumentStore) GetDocument(context.Context, string, string) (domain.Document, error) {
	return domain.Document{}, nil
}
func (f *fakeDocumentStore) PutDocument(context.Context, domain.Document) error { return nil }
func (f *fakeDocumentStore) ReplaceDocumentChunks(_ context.Context, _ string, chunks []domain.DocumentChunk) error {
	f.replaced = chunks
	return nil
}

type fakeImageStore struct {
	replaced []domain.ImageChunk
}

func (f *fakeImageStore) GetImage(context.Context, string, string) (domain.Image, error) {
	return domain.Image{}, nil
}
func (f *fakeImageStore) PutImage(context.Context, domain.Image) error { return nil }
func (f *fakeImageStore) ReplaceImageChunks(_ context.Context, _ string, chunks []domain.ImageChunk) error {
	f.replaced = chunks
	return nil
}

type fakeEmbedClient struct {
	dim int
}

func (f *fakeEmbedClient) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}
func (f *fakeEmbedClient) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}
func (f *fakeEmbedClient) Dimension() int             { return f.dim }
func (f *fakeEmbedClient) Ping(context.Context) error { return nil }

func TestService_RegenerateNote_EmbedsAndReplaces(t *testing.T) {
	notes := &fakeNoteStore{}
	svc := NewService(notes, &fakeDocumentStore{}, &fakeImageStore{}, &fakeEmbedClient{dim: 1}, 500, 50)

	n, err := svc.RegenerateNote(context.Background(), "note-1", "First paragraph.\n\nSecond paragraph.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == 0 || len(notes.replaced) != n {
		t.Fatalf("expected %d chunks replaced, got %d", n, len(notes.replaced))
	}
	for _, c := range notes.replaced {
		if c.NoteID != "note-1" {
			t.Fatalf("expected NoteID set on every chunk, got %+v", c)
		}
		if c.Embedding == nil {
			t.Fatalf("expected embedding to be populated, got nil for %+v", c)
		}
	}
}

func TestService_RegenerateDocument_SetsPageNumbers(t *testing.T) {
	documents := &fakeDocumentStore{}
	svc := NewService(&fakeNoteStore{}, documents, &fakeImageStore{}, &fakeEmbedClient{dim: 1}, 500, 50)

	text := "Intro.\n--- Page 1 ---\nBody one.\n--- Page 2 ---\nBody two."
	n, err := svc.RegenerateDocument(context.Background(), "doc-1", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(documents.replaced) {
		t.Fatalf("expected %d chunks replaced, got %d", n, len(documents.replaced))
	}
	var sawPage2 bool
	for _, c := range documents.replaced {
		if c.DocumentID != "doc-1" {
			t.Fatalf("expected DocumentID set, got %+v", c)
		}
		if c.PageNumber == 2 {
			sawPage2 = true
		}
	}
	if !sawPage2 {
		t.Fatalf("expected a chunk on page 2, got %+v", documents.replaced)
	}
}

func TestService_RegenerateImage_NoEmbedClientLeavesNilVectors(t *testing.T) {
	images := &fakeImageStore{}
	svc := NewService(&fakeNoteStore{}, &fakeDocumentStore{}, images, nil, 500, 50)

	n, err := svc.RegenerateImage(context.Background(), "img-1", "A caption describing the photo.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk, got %d", n)
	}
	if images.replaced[0].Embedding != nil {
		t.Fatalf("expected nil embedding with no embed client, got %v", images.replaced[0].Embedding)
	}
	if images.replaced[0].ImageID != "img-1" {
		t.Fatalf("expected ImageID set, got %+v", images.replaced[0])
	}
}

func TestService_RegenerateDocument_EmptyTextReplacesWithEmptySet(t *testing.T) {
	documents := &fakeDocumentStore{replaced: []domain.DocumentChunk{{DocumentID: "doc-1", Content: "stale"}}}
	svc := NewService(&fakeNoteStore{}, documents, &fakeImageStore{}, &fakeEmbedClient{dim: 1}, 500, 50)

	n, err := svc.RegenerateDocument(context.Background(), "doc-1", "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 chunks for blank text, got %d", n)
	}
	if len(documents.replaced) != 0 {
		t.Fatalf("expected stale chunks cleared, got %+v", documents.replaced)
	}
}
