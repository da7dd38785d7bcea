// Package search implements NEXUS's candidate-retrieval layer: semantic
// (vector), fulltext (lexical), and hybrid search scoped to a single owner,
// grounded on the source system's fulltext/semantic search routers and its
// result-ranking/merge helpers.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/store"
)

// SourceType identifies which entity kind a Candidate was retrieved from.
type SourceType string

const (
	SourceNote          SourceType = "note"
	SourceChunk         SourceType = "chunk"
	SourceDocumentChunk SourceType = "document_chunk"
	SourceImage         SourceType = "image"
)

// Candidate is a single retrieved item, common to semantic, fulltext, and
// hybrid results (and, downstream, to the navigator/diffusion streams C7
// fuses alongside these).
type Candidate struct {
	SourceType SourceType
	SourceID   string
	EntityID   string // the note/document/image a chunk belongs to; equals SourceID for non-chunk sources
	Title      string
	Snippet    string
	Similarity float64 // semantic score, 0 when not computed
	TextScore  float64 // fulltext rank, 0 when not computed
	CreatedAt  time.Time
}

// DateRange selects a recency window for fulltext search.
type DateRange string

const (
	RangeAll   DateRange = "all"
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
	RangeYear  DateRange = "year"
)

// SortBy selects the fulltext result ordering.
type SortBy string

const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
	SortTitle     SortBy = "title"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a semantic
// hit to be returned.
const DefaultSimilarityThreshold = 0.3

// hybridFulltextWeight/hybridSemanticWeight/hybridBothBoost mirror the
// source system's merge_search_results defaults.
const (
	hybridFulltextWeight = 0.6
	hybridSemanticWeight = 0.4
	hybridBothBoost      = 0.1
)

// Service retrieves candidates scoped to an owner. It never mutates state;
// population (Upsert/Index calls per entity) is driven by the ingestion
// pipeline (chunker, document/image analysis) rather than by Service itself.
type Service struct {
	vectors  store.VectorIndex
	fulltext store.FullTextIndex
	embed    embedclient.Client
}

// NewService builds a Service. embed may be nil, in which case SemanticSearch
// and the semantic half of HybridSearch degrade to empty (see spec fallback:
// "if the embedding column/index is not populated ... silently degrades to
// fulltext").
func NewService(vectors store.VectorIndex, fulltext store.FullTextIndex, embed embedclient.Client) *Service {
	return &Service{vectors: vectors, fulltext: fulltext, embed: embed}
}

// IndexEntity upserts one entity's embedding and full text into both
// indices, tagging it with ownerID and sourceType so later searches can be
// scoped. vector may be nil; the vector-index write is skipped in that case
// (fulltext coverage still applies, satisfying the degrade-to-fulltext rule).
func (s *Service) IndexEntity(ctx context.Context, ownerID string, sourceType SourceType, entityID, docID, text string, vector []float32) error {
	meta := map[string]string{"owner_id": ownerID, "source_type": string(sourceType), "entity_id": entityID}
	if s.fulltext != nil && strings.TrimSpace(text) != "" {
		if err := s.fulltext.Index(ctx, docID, text, meta); err != nil {
			return err
		}
	}
	if s.vectors != nil && vector != nil {
		if err := s.vectors.Upsert(ctx, docID, vector, meta); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEntity removes docID from both indices (e.g. on note deletion or
// chunk regeneration prior to re-indexing).
func (s *Service) RemoveEntity(ctx context.Context, docID string) error {
	if s.fulltext != nil {
		if err := s.fulltext.Remove(ctx, docID); err != nil {
			return err
		}
	}
	if s.vectors != nil {
		if err := s.vectors.Delete(ctx, docID); err != nil {
			return err
		}
	}
	return nil
}

// SemanticSearch embeds query and returns the top-k candidates above
// threshold (<=0 uses DefaultSimilarityThreshold), scoped to ownerID and
// optionally a single sourceType ("" searches every indexed type).
func (s *Service) SemanticSearch(ctx context.Context, ownerID, query string, sourceType SourceType, k int, threshold float64) ([]Candidate, error) {
	if s.embed == nil || s.vectors == nil {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if k <= 0 {
		k = 20
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	filter := map[string]string{"owner_id": ownerID}
	if sourceType != "" {
		filter["source_type"] = string(sourceType)
	}
	hits, err := s.vectors.SimilaritySearch(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, candidateFromVector(h))
	}
	return out, nil
}

// FulltextSearch runs a lexical search scoped to ownerID, optionally
// filtered by sourceType and a recency window, then sorted by sortBy.
func (s *Service) FulltextSearch(ctx context.Context, ownerID, query string, sourceType SourceType, dateRange DateRange, sortBy SortBy, limit int) ([]Candidate, error) {
	if s.fulltext == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	filter := map[string]string{"owner_id": ownerID}
	if sourceType != "" {
		filter["source_type"] = string(sourceType)
	}
	hits, err := s.fulltext.Search(ctx, query, limit, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		c := candidateFromFulltext(h)
		if !withinRange(c.CreatedAt, dateRange) {
			continue
		}
		out = append(out, c)
	}
	sortCandidates(out, sortBy)
	return out, nil
}

// HybridSearch linearly combines fulltext and semantic results, boosting
// candidates that appear in both, grounded on merge_search_results.
func (s *Service) HybridSearch(ctx context.Context, ownerID, query string, sourceType SourceType, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	fulltextHits, err := s.FulltextSearch(ctx, ownerID, query, sourceType, RangeAll, SortRelevance, limit)
	if err != nil {
		return nil, err
	}
	semanticHits, err := s.SemanticSearch(ctx, ownerID, query, sourceType, limit, DefaultSimilarityThreshold)
	if err != nil {
		return nil, err
	}
	return mergeResults(fulltextHits, semanticHits, limit), nil
}

func candidateFromVector(h store.VectorResult) Candidate {
	c := Candidate{
		SourceType: SourceType(h.Metadata["source_type"]),
		SourceID:   h.ID,
		EntityID:   h.Metadata["entity_id"],
		Title:      h.Metadata["title"],
		Similarity: h.Score,
	}
	if c.EntityID == "" {
		c.EntityID = h.ID
	}
	return c
}

func candidateFromFulltext(h store.FullTextResult) Candidate {
	c := Candidate{
		SourceType: SourceType(h.Metadata["source_type"]),
		SourceID:   h.ID,
		EntityID:   h.Metadata["entity_id"],
		Title:      h.Metadata["title"],
		Snippet:    h.Snippet,
		TextScore:  h.Score,
	}
	if c.EntityID == "" {
		c.EntityID = h.ID
	}
	if ts, ok := h.Metadata["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			c.CreatedAt = t
		}
	}
	return c
}

func withinRange(t time.Time, r DateRange) bool {
	if r == "" || r == RangeAll || t.IsZero() {
		return true
	}
	age := time.Since(t)
	switch r {
	case RangeToday:
		return age <= 24*time.Hour
	case RangeWeek:
		return age <= 7*24*time.Hour
	case RangeMonth:
		return age <= 30*24*time.Hour
	case RangeYear:
		return age <= 365*24*time.Hour
	default:
		return true
	}
}

func sortCandidates(cands []Candidate, sortBy SortBy) {
	switch sortBy {
	case SortDate:
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].CreatedAt.After(cands[j].CreatedAt) })
	case SortTitle:
		sort.SliceStable(cands, func(i, j int) bool {
			return strings.ToLower(cands[i].Title) < strings.ToLower(cands[j].Title)
		})
	default:
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].TextScore > cands[j].TextScore })
	}
}

// mergeResults combines fulltext and semantic candidates keyed by
// (SourceType, SourceID): a hit appearing in both sources gets
// hybridBothBoost added on top of its weighted sum.
func mergeResults(fulltextHits, semanticHits []Candidate, limit int) []Candidate {
	type key struct {
		t  SourceType
		id string
	}
	semanticByKey := make(map[key]Candidate, len(semanticHits))
	for _, c := range semanticHits {
		semanticByKey[key{c.SourceType, c.SourceID}] = c
	}

	type scored struct {
		c     Candidate
		score float64
	}
	var merged []scored
	seen := make(map[key]bool)

	for _, c := range fulltextHits {
		k := key{c.SourceType, c.SourceID}
		seen[k] = true
		combined := c.TextScore * hybridFulltextWeight
		if sem, ok := semanticByKey[k]; ok {
			c.Similarity = sem.Similarity
			combined = c.TextScore*hybridFulltextWeight + sem.Similarity*hybridSemanticWeight + hybridBothBoost
		}
		merged = append(merged, scored{c: c, score: combined})
	}
	for _, c := range semanticHits {
		k := key{c.SourceType, c.SourceID}
		if seen[k] {
			continue
		}
		merged = append(merged, scored{c: c, score: c.Similarity * hybridSemanticWeight})
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	out := make([]Candidate, len(merged))
	for i, m := range merged {
		out[i] = m.c
	}
	return out
}
