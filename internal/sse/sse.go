// Package sse defines the typed event contract the query pipeline streams
// to clients: a fixed sequence of token, citations, connections,
// suggestions, metadata and done frames, each framed as one SSE "data:"
// line of JSON.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mnemosyne/internal/domain"
)

// Citation is the wire shape of a domain.NexusRichCitation: the fields a
// client needs to render a citation card and deep-link back into the graph.
type Citation struct {
	Index           int      `json:"index"`
	SourceType      string   `json:"source_type"`
	SourceID        string   `json:"source_id"`
	Title           string   `json:"title"`
	ContentPreview  string   `json:"content_preview"`
	RelevanceScore  float64  `json:"relevance_score"`
	RetrievalMethod string   `json:"retrieval_method"`
	HopCount        int      `json:"hop_count"`
	OriginType      string   `json:"origin_type"`
	CommunityName   string   `json:"community_name,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	DirectWikilinks []string `json:"direct_wikilinks,omitempty"`
	NoteURL         string   `json:"note_url,omitempty"`
	GraphURL        string   `json:"graph_url,omitempty"`
	ArtifactURL     string   `json:"artifact_url,omitempty"`
}

// Connection is the wire shape of a domain.ConnectionInsight.
type Connection struct {
	SourceIndex    int    `json:"source_index"`
	TargetIndex    int    `json:"target_index"`
	ConnectionType string `json:"connection_type"`
	Description    string `json:"description"`
}

// Suggestion is the wire shape of a domain.ExplorationSuggestion.
type Suggestion struct {
	Query                  string `json:"query"`
	Reason                 string `json:"reason"`
	RelatedCitationIndices []int  `json:"related_citation_indices,omitempty"`
}

// CitationFrom converts an assembled rich citation into its wire form.
func CitationFrom(c domain.NexusRichCitation) Citation {
	return Citation{
		Index:           c.Index,
		SourceType:      c.SourceType,
		SourceID:        c.SourceID,
		Title:           c.Title,
		ContentPreview:  c.ContentPreview,
		RelevanceScore:  c.RelevanceScore,
		RetrievalMethod: c.RetrievalMethod,
		HopCount:        c.HopCount,
		OriginType:      string(c.OriginType),
		CommunityName:   c.CommunityName,
		Tags:            c.Tags,
		DirectWikilinks: c.DirectWikilinks,
		NoteURL:         c.NoteURL,
		GraphURL:        c.GraphURL,
		ArtifactURL:     c.ArtifactURL,
	}
}

// CitationsFrom converts a slice in one pass, preserving index order.
func CitationsFrom(cs []domain.NexusRichCitation) []Citation {
	out := make([]Citation, len(cs))
	for i, c := range cs {
		out[i] = CitationFrom(c)
	}
	return out
}

// ConnectionFrom converts a domain.ConnectionInsight into its wire form.
func ConnectionFrom(c domain.ConnectionInsight) Connection {
	return Connection{
		SourceIndex:    c.SourceIndex,
		TargetIndex:    c.TargetIndex,
		ConnectionType: c.ConnectionType,
		Description:    c.Description,
	}
}

func ConnectionsFrom(cs []domain.ConnectionInsight) []Connection {
	out := make([]Connection, len(cs))
	for i, c := range cs {
		out[i] = ConnectionFrom(c)
	}
	return out
}

// SuggestionFrom converts a domain.ExplorationSuggestion into its wire form.
func SuggestionFrom(s domain.ExplorationSuggestion) Suggestion {
	return Suggestion{
		Query:                  s.Query,
		Reason:                 s.Reason,
		RelatedCitationIndices: s.RelatedCitationIndices,
	}
}

func SuggestionsFrom(ss []domain.ExplorationSuggestion) []Suggestion {
	out := make([]Suggestion, len(ss))
	for i, s := range ss {
		out[i] = SuggestionFrom(s)
	}
	return out
}

// envelope carries the "type" discriminator every event frame needs,
// alongside whichever of the typed payloads below applies to it.
type envelope struct {
	Type        string         `json:"type"`
	Content     string         `json:"content,omitempty"`
	Citations   []Citation     `json:"citations,omitempty"`
	UsedIndices []int          `json:"used_indices,omitempty"`
	Connections []Connection   `json:"connections,omitempty"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"`
}

// Writer emits the event sequence over an io.Writer, framing each event as
// one "data: <json>\n\n" line per the SSE wire format. It flushes after
// every write when the underlying writer supports http.Flusher, but never
// requires one, so it stays usable against a plain bytes.Buffer in tests.
type Writer struct {
	w io.Writer
	f http.Flusher
}

// NewWriter wraps w. When w is an http.ResponseWriter it also sets the
// standard SSE response headers; any other writer gets no headers.
func NewWriter(w io.Writer) *Writer {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
	}
	f, _ := w.(http.Flusher)
	return &Writer{w: w, f: f}
}

func (w *Writer) send(e envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sse: marshal %s event: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("sse: write %s event: %w", e.Type, err)
	}
	if w.f != nil {
		w.f.Flush()
	}
	return nil
}

// Token emits one generated token/content fragment.
func (w *Writer) Token(content string) error {
	return w.send(envelope{Type: "token", Content: content})
}

// Citations emits the full citation list plus which indices the answer
// actually referenced.
func (w *Writer) Citations(citations []Citation, usedIndices []int) error {
	return w.send(envelope{Type: "citations", Citations: citations, UsedIndices: usedIndices})
}

// Connections emits discovered relationships between included citations.
func (w *Writer) Connections(connections []Connection) error {
	return w.send(envelope{Type: "connections", Connections: connections})
}

// Suggestions emits follow-up query suggestions.
func (w *Writer) Suggestions(suggestions []Suggestion) error {
	return w.send(envelope{Type: "suggestions", Suggestions: suggestions})
}

// Metadata emits response metadata: mode, strategies used, model, message id.
func (w *Writer) Metadata(metadata map[string]any) error {
	return w.send(envelope{Type: "metadata", Metadata: metadata})
}

// Error emits an error frame and nothing else; query.Engine.StreamQuery
// follows it with Done.
func (w *Writer) Error(content, errType string) error {
	return w.send(envelope{Type: "error", Content: content, ErrorType: errType})
}

// Done emits the final frame marking a clean end of stream.
func (w *Writer) Done() error {
	return w.send(envelope{Type: "done"})
}
