// Package chunker splits extracted text (notes, documents, image
// analysis) into retrieval-sized chunks carrying page and character-offset
// metadata, grounded on the paragraph/sentence chunking algorithm used for
// document ingestion in the system this was distilled from.
//
// Chunking strategy:
//   - split on paragraph boundaries (blank lines)
//   - merge small paragraphs up to chunkSize
//   - split oversized paragraphs at sentence boundaries
//   - track CharStart/CharEnd for every chunk
package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"mnemosyne/internal/domain"
)

// DefaultChunkSize and DefaultOverlap mirror the source service's defaults.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// Chunk is the chunker's generic output unit. PageNumber is 1 for text with
// no page markers (notes, image captions); CharStart/CharEnd are offsets
// that run on across pages, counted over the trimmed paragraphs with two
// characters per paragraph separator.
type Chunk struct {
	Content    string
	ChunkIndex int
	ChunkType  domain.ChunkType
	PageNumber int
	CharStart  int
	CharEnd    int
}

var (
	sentenceBoundaryRE = regexp.MustCompile(`[.!?]\s+`)
	pageMarkerRE       = regexp.MustCompile(`\n--- Page (\d+) ---\n`)
	paragraphSplitRE   = regexp.MustCompile(`\n\s*\n`)
)

// Chunk splits text into chunks with metadata. chunkSize/overlap fall back
// to DefaultChunkSize/DefaultOverlap when <= 0. overlap is accepted for
// parity with the source algorithm's signature but, as in that algorithm,
// is not applied: oversized paragraphs are split at sentence boundaries
// with no repeated trailing content between chunks.
func Chunk(text string, chunkSize, overlap int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}

	var chunks []Chunk
	chunkIndex := 0
	globalOffset := 0

	for _, page := range parsePages(text) {
		paragraphs := splitParagraphs(page.text)

		var buffer strings.Builder
		bufferStart := globalOffset

		flush := func() {
			if s := strings.TrimSpace(buffer.String()); s != "" {
				chunks = append(chunks, makeChunk(s, chunkIndex, page.number, bufferStart, bufferStart+buffer.Len()))
				chunkIndex++
			}
			buffer.Reset()
		}

		for _, para := range paragraphs {
			paraLen := len(para)

			if buffer.Len()+paraLen+1 <= chunkSize {
				if buffer.Len() > 0 {
					buffer.WriteString("\n\n")
				}
				buffer.WriteString(para)
			} else {
				flush()

				if paraLen > chunkSize {
					for _, sub := range splitSentences(para, chunkSize) {
						sub = strings.TrimSpace(sub)
						if sub == "" {
							continue
						}
						chunks = append(chunks, makeChunk(sub, chunkIndex, page.number, globalOffset, globalOffset+len(sub)))
						chunkIndex++
					}
					bufferStart = globalOffset + paraLen
				} else {
					buffer.WriteString(para)
					bufferStart = globalOffset
				}
			}

			globalOffset += paraLen + 2 // +2 for the paragraph separator
		}

		flush()
	}

	return chunks
}

type page struct {
	number int
	text   string
}

// parsePages splits text on "--- Page N ---" markers (inserted by document
// text extraction) into (page number, page text) pairs. Text without
// markers is treated as a single page 1.
func parsePages(text string) []page {
	loc := pageMarkerRE.FindAllStringSubmatchIndex(text, -1)
	if len(loc) == 0 {
		return []page{{number: 1, text: text}}
	}

	var pages []page
	if pre := strings.TrimSpace(text[:loc[0][0]]); pre != "" {
		pages = append(pages, page{number: 1, text: pre})
	}
	for i, m := range loc {
		num, _ := strconv.Atoi(text[m[2]:m[3]])
		end := len(text)
		if i+1 < len(loc) {
			end = loc[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if body != "" {
			pages = append(pages, page{number: num, text: body})
		}
	}
	if len(pages) == 0 {
		return []page{{number: 1, text: text}}
	}
	return pages
}

func splitParagraphs(text string) []string {
	parts := paragraphSplitRE.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits long text at sentence boundaries, greedily packing
// sentences up to chunkSize.
func splitSentences(text string, chunkSize int) []string {
	sentences := splitOnSentenceBoundary(text)
	var out []string
	var current string

	for _, sentence := range sentences {
		if len(current)+len(sentence)+1 <= chunkSize {
			if current != "" {
				current = current + " " + sentence
			} else {
				current = sentence
			}
		} else {
			if current != "" {
				out = append(out, current)
			}
			current = sentence
		}
	}
	if current != "" {
		out = append(out, current)
	}
	if len(out) == 0 {
		if len(text) > chunkSize {
			return []string{text[:chunkSize]}
		}
		return []string{text}
	}
	return out
}

// splitOnSentenceBoundary splits on [.!?] followed by whitespace, keeping the
// terminal punctuation with the preceding sentence (Go's RE2 has no
// lookbehind, so the boundary is located manually rather than via a
// zero-width split).
func splitOnSentenceBoundary(text string) []string {
	matches := sentenceBoundaryRE.FindAllStringIndex(text, -1)
	if matches == nil {
		return []string{text}
	}
	var out []string
	start := 0
	for _, m := range matches {
		out = append(out, text[start:m[0]+1])
		start = m[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func makeChunk(content string, index, pageNumber, charStart, charEnd int) Chunk {
	return Chunk{
		Content:    content,
		ChunkIndex: index,
		ChunkType:  inferChunkType(content),
		PageNumber: pageNumber,
		CharStart:  charStart,
		CharEnd:    charEnd,
	}
}

func inferChunkType(content string) domain.ChunkType {
	switch {
	case strings.HasPrefix(content, "#"):
		return domain.ChunkHeading
	case strings.HasPrefix(content, "-"), strings.HasPrefix(content, "*"), strings.HasPrefix(content, "1."):
		return domain.ChunkList
	case strings.Contains(content, "```"):
		return domain.ChunkCode
	default:
		return domain.ChunkParagraph
	}
}
