package chunker

import (
	"strings"
	"testing"

	"mnemosyne/internal/domain"
)

func TestChunk_Empty(t *testing.T) {
	if got := Chunk("   \n\n  ", 500, 50); got != nil {
		t.Fatalf("expected nil for blank text, got %v", got)
	}
}

func TestChunk_SingleParagraphNoPageMarkers(t *testing.T) {
	text := "Just one short paragraph."
	chunks := Chunk(text, 500, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].PageNumber != 1 {
		t.Fatalf("expected page 1 for markerless text, got %d", chunks[0].PageNumber)
	}
	if chunks[0].Content != text {
		t.Fatalf("expected content preserved, got %q", chunks[0].Content)
	}
}

func TestChunk_MergesSmallParagraphs(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := Chunk(text, 500, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected paragraphs to merge into 1 chunk, got %d: %+v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0].Content, "First paragraph.") || !strings.Contains(chunks[0].Content, "Third paragraph.") {
		t.Fatalf("expected merged content to contain all paragraphs, got %q", chunks[0].Content)
	}
}

func TestChunk_SplitsOnPageMarkers(t *testing.T) {
	text := "Intro text.\n--- Page 1 ---\nPage one body.\n--- Page 2 ---\nPage two body."
	chunks := Chunk(text, 500, 50)
	var sawPage1, sawPage2 bool
	for _, c := range chunks {
		if c.PageNumber == 1 && strings.Contains(c.Content, "Page one body") {
			sawPage1 = true
		}
		if c.PageNumber == 2 && strings.Contains(c.Content, "Page two body") {
			sawPage2 = true
		}
	}
	if !sawPage1 || !sawPage2 {
		t.Fatalf("expected chunks on both page 1 and page 2, got %+v", chunks)
	}
}

func TestChunk_SplitsOversizedParagraphAtSentenceBoundary(t *testing.T) {
	sentence := "This is one sentence of a certain length. "
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(sentence)
	}
	chunks := Chunk(b.String(), 100, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected oversized paragraph to split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Content) > 130 {
			t.Fatalf("expected each sub-chunk to stay near chunk_size, got len %d: %q", len(c.Content), c.Content)
		}
	}
}

func TestChunk_ChunkIndexIsMonotonic(t *testing.T) {
	text := strings.Repeat("Paragraph body text here.\n\n", 40)
	chunks := Chunk(text, 80, 10)
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("expected monotonic chunk_index, got %d at position %d", c.ChunkIndex, i)
		}
	}
}

func TestChunk_InfersChunkType(t *testing.T) {
	cases := []struct {
		content string
		want    domain.ChunkType
	}{
		{"# Heading one", domain.ChunkHeading},
		{"- a list item", domain.ChunkList},
		{"1. a numbered item", domain.ChunkList},
		{"some code:\n```go\nfunc f() {}\n```", domain.ChunkCode},
		{"a plain paragraph of text", domain.ChunkParagraph},
	}
	for _, tc := range cases {
		got := inferChunkType(tc.content)
		if got != tc.want {
			t.Fatalf("inferChunkType(%q) = %s, want %s", tc.content, got, tc.want)
		}
	}
}

func TestChunk_CharOffsetsAreWithinBounds(t *testing.T) {
	text := "Paragraph one.\n\nParagraph two.\n\nParagraph three."
	chunks := Chunk(text, 500, 50)
	for _, c := range chunks {
		if c.CharStart < 0 || c.CharEnd < c.CharStart {
			t.Fatalf("invalid char offsets: start=%d end=%d", c.CharStart, c.CharEnd)
		}
	}
}

func TestSplitOnSentenceBoundary_KeepsTerminalPunctuation(t *testing.T) {
	got := splitOnSentenceBoundary("One. Two! Three?")
	want := []string{"One.", "Two!", "Three?"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
