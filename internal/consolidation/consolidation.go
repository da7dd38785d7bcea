// Package consolidation implements the Consolidation Engine (spec §4.9): a
// scheduled maintenance pass over one owner's graph that refreshes derived
// structure five independent steps at a time — PageRank importance,
// community detection, semantic edge refresh, missing-link detection, and
// the navigator's compact navigation cache. A failure in any one step is
// recorded on the Report and never blocks the remaining steps, matching the
// source system's per-step try/except in consolidation.py.
//
// Community detection and semantic-edge refresh have no ported source: the
// source system delegates them to features.graph.services.clustering and
// features.graph.services.semantic_edges, neither of which was present in
// the retrieval pack. Both are built directly from spec §4.9's prose
// instead — see DESIGN.md.
package consolidation

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/store"
)

// PageRank tuning mirrors consolidation.py's networkx.pagerank(G, alpha=0.85,
// max_iter=100) call.
const (
	pageRankDamping     = 0.85
	pageRankMaxIter     = 100
	pageRankConvergence = 1e-8
)

// semanticEdgeThreshold mirrors SemanticEdge's documented default (§3);
// missingLinkThreshold and maxLinkSuggestions are missing_links.py's
// SIMILARITY_THRESHOLD and MAX_SUGGESTIONS constants, ported as-is.
const (
	semanticEdgeThreshold = 0.7
	missingLinkThreshold  = 0.75
	maxLinkSuggestions    = 50
)

// louvainMaxPasses bounds the single-level local-moving phase below; a full
// multilevel Louvain (repeated community-graph aggregation) was judged out
// of scope for one consolidation run over a personal-scale graph.
const louvainMaxPasses = 20

const topTermCount = 5

// Engine runs one owner's consolidation pass against the graph stores.
type Engine struct {
	notes       store.NoteStore
	wikiLink    store.WikiLinkStore
	semantic    store.SemanticEdgeStore
	tags        store.TagStore
	communities store.CommunityStore
	importance  store.ImportanceStore
	links       store.LinkSuggestionStore
	navigation  store.NavigationStore
}

// New builds a consolidation Engine.
func New(
	notes store.NoteStore,
	wikiLink store.WikiLinkStore,
	semantic store.SemanticEdgeStore,
	tags store.TagStore,
	communities store.CommunityStore,
	importance store.ImportanceStore,
	links store.LinkSuggestionStore,
	navigation store.NavigationStore,
) *Engine {
	return &Engine{
		notes: notes, wikiLink: wikiLink, semantic: semantic, tags: tags,
		communities: communities, importance: importance, links: links, navigation: navigation,
	}
}

// Report summarizes one Run; a non-nil step error means that step alone was
// skipped, not that the whole run failed.
type Report struct {
	NotesConsidered int

	PageRankUpdated int
	PageRankErr     error

	CommunitiesFound int
	CommunityErr     error

	SemanticEdgesUpdated int
	SemanticEdgeErr      error

	LinkSuggestionsCreated int
	LinkSuggestionErr      error

	NavigationCacheRebuilt bool
	NavigationCacheErr     error
}

// Run executes all five consolidation steps for ownerID.
func (e *Engine) Run(ctx context.Context, ownerID string) Report {
	var rep Report

	all, err := e.notes.ListNotes(ctx, ownerID)
	if err != nil {
		rep.PageRankErr, rep.CommunityErr, rep.SemanticEdgeErr, rep.LinkSuggestionErr, rep.NavigationCacheErr =
			err, err, err, err, err
		return rep
	}
	eligible := eligibleNotes(all)
	rep.NotesConsidered = len(eligible)

	rep.PageRankUpdated, rep.PageRankErr = e.refreshPageRank(ctx, ownerID, eligible)
	if rep.PageRankErr != nil {
		log.Warn().Err(rep.PageRankErr).Str("owner_id", ownerID).Msg("consolidation: pagerank step skipped")
	}

	communities, err := e.refreshCommunities(ctx, ownerID, eligible)
	rep.CommunityErr = err
	rep.CommunitiesFound = len(communities)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Msg("consolidation: community refresh skipped")
	}

	rep.SemanticEdgesUpdated, rep.SemanticEdgeErr = e.refreshSemanticEdges(ctx, ownerID, eligible)
	if rep.SemanticEdgeErr != nil {
		log.Warn().Err(rep.SemanticEdgeErr).Str("owner_id", ownerID).Msg("consolidation: semantic edge refresh skipped")
	}

	rep.LinkSuggestionsCreated, rep.LinkSuggestionErr = e.detectMissingLinks(ctx, ownerID)
	if rep.LinkSuggestionErr != nil {
		log.Warn().Err(rep.LinkSuggestionErr).Str("owner_id", ownerID).Msg("consolidation: missing-link detection skipped")
	}

	rep.NavigationCacheRebuilt, rep.NavigationCacheErr = e.rebuildNavigationCache(ctx, ownerID, communities)
	if rep.NavigationCacheErr != nil {
		log.Warn().Err(rep.NavigationCacheErr).Str("owner_id", ownerID).Msg("consolidation: navigation cache rebuild skipped")
	}

	return rep
}

// DetectCommunities runs step 2 (community refresh) on its own, independent
// of a full Run — the Brain Builder (§4.10) calls this directly before
// grouping notes into topics, mirroring brain_helpers.py's
// run_community_detection delegating to the same clustering service
// consolidation.py uses for its own community-refresh step.
func (e *Engine) DetectCommunities(ctx context.Context, ownerID string) ([]domain.CommunityMetadata, error) {
	all, err := e.notes.ListNotes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return e.refreshCommunities(ctx, ownerID, eligibleNotes(all))
}

func eligibleNotes(all []domain.Note) []domain.Note {
	out := make([]domain.Note, 0, len(all))
	for _, n := range all {
		if !n.IsTrashed {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- step 1: pagerank ------------------------------------------------------

// refreshPageRank runs unpersonalized PageRank over the owner's wikilink
// graph (treated as directed, forward link = vote for the target) and
// upserts one NexusImportanceScore per note. A graph with fewer than 2
// notes, or with no wikilinks at all, is left untouched — matching
// consolidation.py's skip when the graph has no edges.
func (e *Engine) refreshPageRank(ctx context.Context, ownerID string, notes []domain.Note) (int, error) {
	n := len(notes)
	if n < 2 {
		return 0, nil
	}

	idIdx := make(map[string]int, n)
	for i, nt := range notes {
		idIdx[nt.ID] = i
	}

	links, err := e.wikiLink.AllWikiLinks(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	adj := mat.NewDense(n, n, nil)
	hasEdge := false
	for _, l := range links {
		src, ok1 := idIdx[l.SourceNoteID]
		tgt, ok2 := idIdx[l.TargetNoteID]
		if !ok1 || !ok2 {
			continue
		}
		adj.Set(tgt, src, adj.At(tgt, src)+1)
		hasEdge = true
	}
	if !hasEdge {
		return 0, nil
	}

	dangling := make([]bool, n)
	for c := 0; c < n; c++ {
		var sum float64
		for r := 0; r < n; r++ {
			sum += adj.At(r, c)
		}
		if sum == 0 {
			dangling[c] = true
			continue
		}
		for r := 0; r < n; r++ {
			adj.Set(r, c, adj.At(r, c)/sum)
		}
	}

	scores := pageRankIterate(adj, dangling, n)

	out := make([]domain.NexusImportanceScore, n)
	for i, nt := range notes {
		out[i] = domain.NexusImportanceScore{OwnerID: ownerID, NoteID: nt.ID, Score: scores.AtVec(i)}
	}
	if err := e.importance.ReplaceScores(ctx, ownerID, out); err != nil {
		return 0, err
	}
	return n, nil
}

// pageRankIterate is the standard (non-personalized) power iteration with
// dangling-node mass redistribution, matching networkx.pagerank's behavior
// for nodes with no outgoing edges.
func pageRankIterate(adj *mat.Dense, dangling []bool, n int) *mat.VecDense {
	uniform := 1.0 / float64(n)
	scores := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		scores.SetVec(i, uniform)
	}

	next := mat.NewVecDense(n, nil)
	for iter := 0; iter < pageRankMaxIter; iter++ {
		next.MulVec(adj, scores)

		var danglingMass float64
		for i, d := range dangling {
			if d {
				danglingMass += scores.AtVec(i)
			}
		}
		redistribute := danglingMass / float64(n)

		var delta float64
		for i := 0; i < n; i++ {
			v := (1-pageRankDamping)*uniform + pageRankDamping*(next.AtVec(i)+redistribute)
			delta += math.Abs(v - scores.AtVec(i))
			next.SetVec(i, v)
		}
		scores, next = next, scores
		if delta < pageRankConvergence {
			break
		}
	}
	return scores
}

// --- step 2: community refresh ----------------------------------------------

// refreshCommunities clusters notes by a single-level Louvain local-moving
// pass over the undirected graph of wikilinks and semantic edges, writes
// each note's new CommunityID, and replaces the owner's CommunityMetadata.
// Fewer than 3 eligible notes, or a graph with no edges at all, yields
// errs.ErrClustering — the same graceful-skip signal consolidation.py uses
// when its clustering dependency is unavailable.
func (e *Engine) refreshCommunities(ctx context.Context, ownerID string, notes []domain.Note) ([]domain.CommunityMetadata, error) {
	n := len(notes)
	if n < 3 {
		return nil, errs.ErrClustering
	}

	idIdx := make(map[string]int, n)
	for i, nt := range notes {
		idIdx[nt.ID] = i
	}

	weight := make([]map[int]float64, n)
	for i := range weight {
		weight[i] = make(map[int]float64)
	}
	addEdge := func(a, b int, w float64) {
		if a == b {
			return
		}
		weight[a][b] += w
		weight[b][a] += w
	}

	links, err := e.wikiLink.AllWikiLinks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if src, ok1 := idIdx[l.SourceNoteID]; ok1 {
			if tgt, ok2 := idIdx[l.TargetNoteID]; ok2 {
				addEdge(src, tgt, 1.0)
			}
		}
	}

	edges, err := e.semantic.AllSemanticEdges(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, se := range edges {
		if se.SourceType != domain.SourceNote || se.TargetType != domain.SourceNote {
			continue
		}
		src, ok1 := idIdx[se.SourceID]
		tgt, ok2 := idIdx[se.TargetID]
		if !ok1 || !ok2 {
			continue
		}
		addEdge(src, tgt, se.SimilarityScore)
	}

	degree := make([]float64, n)
	var totalWeight float64
	for i := 0; i < n; i++ {
		for _, w := range weight[i] {
			degree[i] += w
		}
		totalWeight += degree[i]
	}
	totalWeight /= 2 // each undirected edge counted from both endpoints
	if totalWeight == 0 {
		return nil, errs.ErrClustering
	}

	community := louvainLocalMove(n, weight, degree, totalWeight)

	// Renumber by first appearance for stable, compact IDs.
	renumber := make(map[int]int)
	members := make(map[int][]int)
	for i := 0; i < n; i++ {
		c, ok := renumber[community[i]]
		if !ok {
			c = len(renumber)
			renumber[community[i]] = c
		}
		members[c] = append(members[c], i)
	}

	metas := make([]domain.CommunityMetadata, 0, len(members))
	for c := 0; c < len(members); c++ {
		idxs := members[c]
		memberNotes := make([]domain.Note, len(idxs))
		for k, idx := range idxs {
			nt := notes[idx]
			cid := c
			nt.CommunityID = &cid
			memberNotes[k] = nt
			if err := e.notes.PutNote(ctx, nt); err != nil {
				return nil, err
			}
		}
		terms := topTerms(memberNotes)
		metas = append(metas, domain.CommunityMetadata{
			OwnerID:     ownerID,
			CommunityID: c,
			Label:       communityLabel(terms, c),
			NodeCount:   len(idxs),
			TopTerms:    terms,
		})
	}

	if err := e.communities.ReplaceCommunities(ctx, ownerID, metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// louvainLocalMove runs the local-moving phase of Louvain modularity
// optimization (no multilevel aggregation): repeatedly offers each node to
// its best neighboring community until a full pass produces no move.
func louvainLocalMove(n int, weight []map[int]float64, degree []float64, m float64) []int {
	community := make([]int, n)
	communityWeight := make([]float64, n)
	for i := 0; i < n; i++ {
		community[i] = i
		communityWeight[i] = degree[i]
	}

	for pass := 0; pass < louvainMaxPasses; pass++ {
		improved := false
		for i := 0; i < n; i++ {
			own := community[i]
			communityWeight[own] -= degree[i]

			neighborWeight := make(map[int]float64)
			for j, w := range weight[i] {
				neighborWeight[community[j]] += w
			}

			bestComm, bestGain := own, neighborWeight[own]/m-communityWeight[own]*degree[i]/(2*m*m)
			for c, wsum := range neighborWeight {
				gain := wsum/m - communityWeight[c]*degree[i]/(2*m*m)
				if gain > bestGain {
					bestGain, bestComm = gain, c
				}
			}

			community[i] = bestComm
			communityWeight[bestComm] += degree[i]
			if bestComm != own {
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return community
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "have": true, "are": true, "was": true, "were": true, "been": true,
	"has": true, "not": true, "but": true, "you": true, "your": true, "into": true,
	"about": true, "their": true, "which": true, "when": true, "what": true, "all": true,
	"can": true, "will": true, "would": true, "there": true, "also": true, "more": true,
}

// topTerms picks the topTermCount most frequent non-stopword words across a
// community's note titles and content, for use as a human-readable label.
func topTerms(notes []domain.Note) []string {
	freq := make(map[string]int)
	for _, n := range notes {
		for _, w := range strings.Fields(strings.ToLower(n.Title + " " + n.Content)) {
			w = strings.Trim(w, ".,!?:;\"'()[]{}")
			if len(w) < 4 || stopWords[w] {
				continue
			}
			freq[w]++
		}
	}
	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(freq))
	for w, c := range freq {
		ranked = append(ranked, wc{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > topTermCount {
		ranked = ranked[:topTermCount]
	}
	out := make([]string, len(ranked))
	for i, w := range ranked {
		out[i] = w.word
	}
	return out
}

func communityLabel(terms []string, id int) string {
	if len(terms) == 0 {
		return "Cluster " + strconv.Itoa(id)
	}
	n := len(terms)
	if n > 2 {
		n = 2
	}
	return strings.Join(terms[:n], " & ")
}

// --- step 3: semantic edge refresh ------------------------------------------

// refreshSemanticEdges recomputes every pairwise note<->note cosine
// similarity above semanticEdgeThreshold and replaces the owner's note<->note
// edge set, leaving any document/image edges untouched (ReplaceForOwner
// replaces the whole per-owner set, so non-note edges are read back and
// carried forward rather than dropped).
func (e *Engine) refreshSemanticEdges(ctx context.Context, ownerID string, notes []domain.Note) (int, error) {
	existing, err := e.semantic.AllSemanticEdges(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	kept := existing[:0:0]
	for _, se := range existing {
		if se.SourceType != domain.SourceNote || se.TargetType != domain.SourceNote {
			kept = append(kept, se)
		}
	}

	embedded := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if len(n.Embedding) > 0 {
			embedded = append(embedded, n)
		}
	}

	fresh := make([]domain.SemanticEdge, 0)
	now := time.Now()
	for i := 0; i < len(embedded); i++ {
		for j := i + 1; j < len(embedded); j++ {
			sim := embedclient.CosineSimilarity(embedded[i].Embedding, embedded[j].Embedding)
			if sim < semanticEdgeThreshold {
				continue
			}
			src, tgt := embedded[i].ID, embedded[j].ID
			if src > tgt {
				src, tgt = tgt, src
			}
			fresh = append(fresh, domain.SemanticEdge{
				ID:              uuid.NewString(),
				OwnerID:         ownerID,
				SourceID:        src,
				TargetID:        tgt,
				SourceType:      domain.SourceNote,
				TargetType:      domain.SourceNote,
				SimilarityScore: sim,
				UpdatedAt:       now,
			})
		}
	}

	if err := e.semantic.ReplaceForOwner(ctx, ownerID, append(kept, fresh...)); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// --- step 4: missing-link detection -----------------------------------------

// detectMissingLinks finds note<->note semantic edges at or above
// missingLinkThreshold that have no wikilink in either direction, and
// upserts a pending NexusLinkSuggestion for each — capped at
// maxLinkSuggestions, strongest similarity first. Ported from
// missing_links.py's detect_missing_links; the store's UpsertSuggestion
// never overwrites an existing user decision (accepted/dismissed), so a
// repeat run is always safe to call.
func (e *Engine) detectMissingLinks(ctx context.Context, ownerID string) (int, error) {
	edges, err := e.semantic.AllSemanticEdges(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	links, err := e.wikiLink.AllWikiLinks(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	linked := make(map[[2]string]bool, len(links)*2)
	for _, l := range links {
		linked[[2]string{l.SourceNoteID, l.TargetNoteID}] = true
		linked[[2]string{l.TargetNoteID, l.SourceNoteID}] = true
	}

	candidates := make([]domain.SemanticEdge, 0)
	for _, se := range edges {
		if se.SourceType != domain.SourceNote || se.TargetType != domain.SourceNote {
			continue
		}
		if se.SimilarityScore < missingLinkThreshold {
			continue
		}
		if linked[[2]string{se.SourceID, se.TargetID}] {
			continue
		}
		candidates = append(candidates, se)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].SimilarityScore > candidates[j].SimilarityScore })
	if len(candidates) > maxLinkSuggestions {
		candidates = candidates[:maxLinkSuggestions]
	}

	now := time.Now()
	for _, se := range candidates {
		s := domain.NexusLinkSuggestion{
			ID:              uuid.NewString(),
			OwnerID:         ownerID,
			SourceNoteID:    se.SourceID,
			TargetNoteID:    se.TargetID,
			SimilarityScore: se.SimilarityScore,
			Status:          domain.LinkPending,
			CreatedAt:       now,
		}
		if err := e.links.UpsertSuggestion(ctx, s); err != nil {
			return 0, err
		}
	}
	return len(candidates), nil
}

// --- step 5: navigation cache rebuild ----------------------------------------

// rebuildNavigationCache regenerates the compact community_map and
// tag_overview blobs the Graph Navigator (§4.5) consumes, bumping each
// cache's version.
func (e *Engine) rebuildNavigationCache(ctx context.Context, ownerID string, communities []domain.CommunityMetadata) (bool, error) {
	if err := e.putCache(ctx, ownerID, domain.CacheCommunityMap, communityMapText(communities)); err != nil {
		return false, err
	}

	tags, err := e.tags.AllTags(ctx, ownerID)
	if err != nil {
		return false, err
	}
	notes, err := e.notes.ListNotes(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if err := e.putCache(ctx, ownerID, domain.CacheTagOverview, tagOverviewText(ctx, e.tags, ownerID, tags, notes)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) putCache(ctx context.Context, ownerID string, t domain.NavigationCacheType, content string) error {
	existing, err := e.navigation.GetNavigationCache(ctx, ownerID, t)
	version := 1
	if err == nil {
		version = existing.Version + 1
	}
	return e.navigation.PutNavigationCache(ctx, domain.NexusNavigationCache{
		OwnerID: ownerID, CacheType: t, Content: content, Version: version, UpdatedAt: time.Now(),
	})
}

func communityMapText(communities []domain.CommunityMetadata) string {
	if len(communities) == 0 {
		return "No communities yet."
	}
	var b strings.Builder
	for i, c := range communities {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Label)
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(c.NodeCount))
		b.WriteString(" notes): ")
		b.WriteString(strings.Join(c.TopTerms, ", "))
	}
	return b.String()
}

func tagOverviewText(ctx context.Context, tags store.TagStore, ownerID string, allTags []domain.Tag, notes []domain.Note) string {
	count := make(map[string]int, len(allTags))
	for _, n := range notes {
		noteTags, err := tags.TagsFor(ctx, ownerID, n.ID)
		if err != nil {
			continue
		}
		for _, t := range noteTags {
			count[t.Name]++
		}
	}
	type tc struct {
		name string
		n    int
	}
	ranked := make([]tc, 0, len(count))
	for name, n := range count {
		ranked = append(ranked, tc{name, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) == 0 {
		return "No tags yet."
	}
	var b strings.Builder
	for i, t := range ranked {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t.name)
		b.WriteString(": ")
		b.WriteString(strconv.Itoa(t.n))
	}
	return b.String()
}
