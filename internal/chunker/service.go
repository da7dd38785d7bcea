package chunker

import (
	"context"
	"fmt"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/store"
)

// Service regenerates chunks (and their embeddings) for notes, documents,
// and images, always atomically replacing whatever chunk set previously
// existed for the owning entity.
type Service struct {
	notes     store.NoteStore
	documents store.DocumentStore
	images    store.ImageStore
	embed     embedclient.Client
	chunkSize int
	overlap   int
}

// NewService builds a Service. chunkSize/overlap of 0 fall back to the
// package defaults.
func NewService(notes store.NoteStore, documents store.DocumentStore, images store.ImageStore, embed embedclient.Client, chunkSize, overlap int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return &Service{notes: notes, documents: documents, images: images, embed: embed, chunkSize: chunkSize, overlap: overlap}
}

// embedAll batch-embeds chunk content, tolerating a nil/unavailable embed
// client by leaving every Embedding nil (the caller persists chunks either
// way; search falls back to fulltext for chunks with no vector).
func (s *Service) embedAll(ctx context.Context, chunks []Chunk) [][]float32 {
	vectors := make([][]float32, len(chunks))
	if s.embed == nil || len(chunks) == 0 {
		return vectors
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embedded, err := s.embed.BatchEmbed(ctx, texts)
	if err != nil {
		return vectors
	}
	copy(vectors, embedded)
	return vectors
}

// RegenerateNote rechunks and re-embeds a note's body, atomically replacing
// its existing chunks.
func (s *Service) RegenerateNote(ctx context.Context, noteID, content string) (int, error) {
	raw := Chunk(content, s.chunkSize, s.overlap)
	vectors := s.embedAll(ctx, raw)

	out := make([]domain.NoteChunk, len(raw))
	for i, c := range raw {
		out[i] = domain.NoteChunk{
			NoteID:     noteID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			ChunkType:  c.ChunkType,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			Embedding:  vectors[i],
		}
	}
	if err := s.notes.ReplaceChunks(ctx, noteID, out); err != nil {
		return 0, fmt.Errorf("replace note chunks: %w", err)
	}
	return len(out), nil
}

// RegenerateDocument rechunks and re-embeds a document's extracted text
// (which may carry "--- Page N ---" markers), atomically replacing its
// existing chunks.
func (s *Service) RegenerateDocument(ctx context.Context, documentID, extractedText string) (int, error) {
	raw := Chunk(extractedText, s.chunkSize, s.overlap)
	vectors := s.embedAll(ctx, raw)

	out := make([]domain.DocumentChunk, len(raw))
	for i, c := range raw {
		out[i] = domain.DocumentChunk{
			DocumentID: documentID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			ChunkType:  c.ChunkType,
			PageNumber: c.PageNumber,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			Embedding:  vectors[i],
		}
	}
	if err := s.documents.ReplaceDocumentChunks(ctx, documentID, out); err != nil {
		return 0, fmt.Errorf("replace document chunks: %w", err)
	}
	return len(out), nil
}

// RegenerateImage rechunks and re-embeds an image's AI-generated analysis
// text (caption/OCR/description). Images carry no pagination, so every
// chunk is produced against a single logical page; ChunkType/PageNumber
// carry no meaning for ImageChunk and are dropped at the mapping boundary.
func (s *Service) RegenerateImage(ctx context.Context, imageID, analysisText string) (int, error) {
	raw := Chunk(analysisText, s.chunkSize, s.overlap)
	vectors := s.embedAll(ctx, raw)

	out := make([]domain.ImageChunk, len(raw))
	for i, c := range raw {
		out[i] = domain.ImageChunk{
			ImageID:    imageID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Embedding:  vectors[i],
		}
	}
	if err := s.images.ReplaceImageChunks(ctx, imageID, out); err != nil {
		return 0, fmt.Errorf("replace image chunks: %w", err)
	}
	return len(out), nil
}
