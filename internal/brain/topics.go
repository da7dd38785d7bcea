package brain

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"mnemosyne/internal/domain"
)

// topicResult mirrors topic_generator.py's TopicResult dataclass.
type topicResult struct {
	FileKey              string
	Title                string
	Content              string
	CommunityID          int
	Keywords             []string
	SourceNoteIDs        []string
	TokenCountApprox     int
	CompressedContent    string
	CompressedTokenCount int
}

// topicSummary is the compact projection of a topic fed into the core-file
// generation prompts, mirroring brain_builder.py's topics_summary list.
type topicSummary struct {
	FileKey  string
	Title    string
	Keywords []string
	Content  string
}

var topicStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "and": true, "or": true, "but": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "into": true, "this": true, "that": true, "it": true, "not": true, "no": true,
	"do": true, "does": true, "did": true, "has": true, "have": true, "had": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true, "can": true,
	"i": true, "my": true, "me": true, "we": true, "our": true, "you": true, "your": true,
	"they": true, "them": true, "about": true, "how": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "some": true, "all": true, "any": true,
	"more": true, "very": true, "just": true, "also": true, "so": true,
}

// extractKeywords weights title words 3x and the first 200 chars of content
// 1x, then returns the top maxKeywordsPerTopic words by frequency — ported
// from topic_generator.py's _extract_keywords_from_notes.
func extractKeywords(notes []domain.Note) []string {
	freq := make(map[string]int)
	add := func(text string, weight int) {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,!?;:()[]{}\"'")
			if len(w) <= 2 || topicStopWords[w] {
				continue
			}
			freq[w] += weight
		}
	}
	for _, n := range notes {
		add(n.Title, 3)
		add(truncate(n.Content, 200), 1)
	}
	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(freq))
	for w, c := range freq {
		ranked = append(ranked, wc{w, c})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > maxKeywordsPerTopic {
		ranked = ranked[:maxKeywordsPerTopic]
	}
	out := make([]string, len(ranked))
	for i, w := range ranked {
		out[i] = w.word
	}
	return out
}

// generateTopicFile synthesizes one community's notes into a structured
// markdown topic document, grounded on topic_generator.py's
// generate_topic_file. A nil, nil return (no error) mirrors the source
// returning None when the LLM produced nothing usable.
func (b *Builder) generateTopicFile(ctx context.Context, ownerID string, communityID, topicIndex int, notes []domain.Note) (*topicResult, error) {
	if len(notes) == 0 {
		return nil, nil
	}

	parts := make([]string, 0, len(notes))
	sourceIDs := make([]string, 0, len(notes))
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = "Untitled"
		}
		parts = append(parts, "### "+title+"\n"+truncate(n.Content, maxCharsPerNoteInTopic))
		sourceIDs = append(sourceIDs, n.ID)
	}
	notesContent := strings.Join(parts, "\n\n---\n\n")

	prompt := topicGenerationPrompt(len(notes), notesContent)
	text, err := b.generate(ctx, ownerID, "", prompt, genMaxTokens)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	title := "Topic " + strconv.Itoa(topicIndex)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(line[2:])
			break
		}
	}

	return &topicResult{
		FileKey:          "topic_" + strconv.Itoa(topicIndex),
		Title:            title,
		Content:          text,
		CommunityID:      communityID,
		Keywords:         extractKeywords(notes),
		SourceNoteIDs:    sourceIDs,
		TokenCountApprox: estimateTokens(text),
	}, nil
}

// compressTopic fills t.CompressedContent in place, falling back to a
// truncated prefix of the full content when the LLM call fails or returns
// nothing, per topic_generator.py's compress_topic_content.
func (b *Builder) compressTopic(ctx context.Context, ownerID string, t *topicResult) {
	prompt := topicCompressionPrompt(truncate(t.Content, maxCharsForCompression))
	text, err := b.generate(ctx, ownerID, "", prompt, 512)
	if err == nil && text != "" {
		t.CompressedContent = text
		t.CompressedTokenCount = estimateTokens(text)
		return
	}
	fallback := truncate(t.Content, fallbackCompressChars)
	t.CompressedContent = fallback
	t.CompressedTokenCount = estimateTokens(fallback)
}

func buildTopicsSummary(topics []topicSummary) string {
	lines := make([]string, 0, len(topics))
	for _, t := range topics {
		kw := t.Keywords
		if len(kw) > 5 {
			kw = kw[:5]
		}
		lines = append(lines, "- **"+t.Title+"** ("+t.FileKey+"): "+strings.Join(kw, ", "))
	}
	return strings.Join(lines, "\n")
}

// topicGenerationPrompt asks the model to synthesize a cluster of notes into
// a reference-style markdown document. Equivalent in intent to
// prompts.py's TOPIC_GENERATION_PROMPT, worded independently.
func topicGenerationPrompt(noteCount int, notesContent string) string {
	return "Synthesize these " + strconv.Itoa(noteCount) + " related notes, all from the same thematic cluster, " +
		"into one structured markdown document.\n\nNOTES:\n" + notesContent + "\n\n" +
		"Produce exactly this structure:\n\n" +
		"# [Topic Title]\n\n" +
		"## Overview\n2-3 sentences on what this topic covers.\n\n" +
		"## Key Points\n- The most important facts and ideas, with specific names, dates, and numbers\n\n" +
		"## Details\n- Deeper paragraphs covering examples, relationships between concepts, and nuances\n\n" +
		"## Connections\n- How this topic relates to other areas of interest\n\n" +
		"Stay under 800 words total, use specifics from the notes rather than generic summaries, " +
		"and write in a factual, reference tone."
}

// topicCompressionPrompt asks for a dense single-paragraph index entry.
// Equivalent in intent to prompts.py's TOPIC_COMPRESSION_PROMPT.
func topicCompressionPrompt(topicContent string) string {
	return "Compress this topic into one dense paragraph of 80-120 words: the topic's title, 3-5 key facts, " +
		"its main themes, and how it connects to other topics. No bullets or headers, plain prose only.\n\n" +
		"TOPIC:\n" + topicContent
}
