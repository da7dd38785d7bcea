// Package fusion implements the Query Router + Fusion stage (spec §4.7):
// classifying a query's mode/intent, deciding which retrieval strategies to
// run, and merging their candidate streams with intent-weighted scores and
// a cross-confirmation boost.
//
// Grounded on the source system's result_fusion.py (weight matrix, weight
// redistribution on missing strategies, cross-confirmation boost, min-score
// floor — ported constant-for-constant) and pipeline.py's call site for the
// FAST/STANDARD/DEEP strategy gating. query_router.py itself was not present
// in the retrieval pack, so ClassifyRoute's lexical cue lists are built
// directly from spec.md §4.7 rather than ported from a source file.
package fusion

import (
	"context"
	"math"
	"sort"
	"strings"

	"mnemosyne/internal/diffusion"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/navigator"
	"mnemosyne/internal/search"
)

// Mode selects which retrieval strategies a query runs.
type Mode string

const (
	ModeFast     Mode = "FAST"
	ModeStandard Mode = "STANDARD"
	ModeDeep     Mode = "DEEP"
	ModeAuto     Mode = "AUTO"
)

// Intent is a coarse query classification that drives fusion weights.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentSynthesis   Intent = "synthesis"
	IntentExploration Intent = "exploration"
	IntentTemporal    Intent = "temporal"
	IntentCreative    Intent = "creative"
)

// CrossConfirmationBoost multiplies the score of any candidate seen by more
// than one strategy. MinScore drops candidates below a floor after fusion.
const (
	CrossConfirmationBoost = 1.3
	MinScore               = 1e-3
	DefaultMaxResults      = 10
)

type weights struct{ graph, vector, diffusion float64 }

// intentWeights is the (graph, vector, diffusion) matrix from spec §4.7.
var intentWeights = map[Intent]weights{
	IntentFactual:     {0.30, 0.50, 0.20},
	IntentSynthesis:   {0.40, 0.30, 0.30},
	IntentExploration: {0.50, 0.20, 0.30},
	IntentTemporal:    {0.20, 0.60, 0.20},
	IntentCreative:    {0.40, 0.40, 0.20},
}

// Route is the outcome of classifying a query.
type Route struct {
	Mode         Mode
	Intent       Intent
	AutoDetected bool
}

var (
	temporalMarkers    = []string{"when", "yesterday", "last week", "recently", "history", "timeline", "date"}
	synthesisMarkers   = []string{"summarize", "summary", "overview", "compare", "relationship", "connect", "pattern", "theme", "organize", "organized", "relate"}
	explorationMarkers = []string{"explore", "discover", "related", "similar", "what else", "browse", "more about"}
	creativeMarkers    = []string{"brainstorm", "idea", "imagine", "creative", "generate", "invent"}
)

// classifyIntent is a lexical + shallow cue classifier; checked in a fixed
// priority order since a query can trip more than one marker list. Defaults
// to factual.
func classifyIntent(query string) Intent {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, temporalMarkers):
		return IntentTemporal
	case containsAny(q, synthesisMarkers):
		return IntentSynthesis
	case containsAny(q, explorationMarkers):
		return IntentExploration
	case containsAny(q, creativeMarkers):
		return IntentCreative
	default:
		return IntentFactual
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// ClassifyRoute decides mode and intent for a query. forced overrides AUTO
// mode inference when non-empty/non-AUTO. navCachePopulated reflects
// whether the owner's community_map/tag_overview caches exist — AUTO never
// escalates past FAST without them, since the navigator would return empty
// anyway (§4.5).
func ClassifyRoute(query string, forced Mode, navCachePopulated bool) Route {
	intent := classifyIntent(query)

	if forced != "" && forced != ModeAuto {
		return Route{Mode: forced, Intent: intent, AutoDetected: false}
	}

	wordCount := len(strings.Fields(query))
	aggregative := intent == IntentSynthesis || intent == IntentExploration

	var mode Mode
	switch {
	case !navCachePopulated:
		mode = ModeFast
	case aggregative && wordCount > 12:
		mode = ModeDeep
	case aggregative || wordCount > 20:
		mode = ModeStandard
	default:
		mode = ModeFast
	}
	return Route{Mode: mode, Intent: intent, AutoDetected: true}
}

// ScoredCandidate is one fused candidate: its per-strategy raw scores, the
// strategies that produced it, and its final weighted rank.
type ScoredCandidate struct {
	SourceType     search.SourceType
	SourceID       string
	EntityID       string
	Title          string
	Snippet        string
	VectorScore    float64
	GraphScore     float64
	DiffusionScore float64
	Strategies     []string
	FinalScore     float64
	CrossConfirmed bool
	Rank           int
}

// Config tunes Fuse's output size and thresholds; zero value is DefaultConfig.
type Config struct {
	MaxResults             int
	CrossConfirmationBoost float64
	MinScore               float64
}

// DefaultConfig mirrors result_fusion.py's FusionConfig defaults.
func DefaultConfig() Config {
	return Config{MaxResults: DefaultMaxResults, CrossConfirmationBoost: CrossConfirmationBoost, MinScore: MinScore}
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.CrossConfirmationBoost <= 0 {
		c.CrossConfirmationBoost = CrossConfirmationBoost
	}
	if c.MinScore <= 0 {
		c.MinScore = MinScore
	}
	return c
}

type candidateKey struct {
	t  search.SourceType
	id string
}

// Fuse combines a vector/fulltext candidate stream (C4), an optional graph
// navigator note list (C5), and optional diffusion scores (C6, note_id ->
// score) into one ranked list, using intent's weight matrix. A strategy
// with no results has its weight redistributed to the others, exactly as
// result_fusion.py's fuse_results does.
func Fuse(vectorCandidates []search.Candidate, graphNotes []domain.Note, diffusionScores map[string]float64, intent Intent, cfg Config) []ScoredCandidate {
	cfg = cfg.withDefaults()

	w, ok := intentWeights[intent]
	if !ok {
		w = intentWeights[IntentFactual]
	}
	graphW, vectorW, diffusionW := w.graph, w.vector, w.diffusion

	if len(graphNotes) == 0 {
		vectorW += graphW
		graphW = 0
	}
	if len(diffusionScores) == 0 {
		vectorW += diffusionW * 0.5
		graphW += diffusionW * 0.5
		diffusionW = 0
	}
	if total := graphW + vectorW + diffusionW; total > 0 {
		graphW /= total
		vectorW /= total
		diffusionW /= total
	}

	byKey := make(map[candidateKey]*ScoredCandidate)
	var order []candidateKey

	get := func(t search.SourceType, id string) *ScoredCandidate {
		k := candidateKey{t, id}
		if sc, ok := byKey[k]; ok {
			return sc
		}
		sc := &ScoredCandidate{SourceType: t, SourceID: id}
		byKey[k] = sc
		order = append(order, k)
		return sc
	}
	addStrategy := func(sc *ScoredCandidate, strat string) {
		for _, s := range sc.Strategies {
			if s == strat {
				return
			}
		}
		sc.Strategies = append(sc.Strategies, strat)
	}

	for _, c := range vectorCandidates {
		sc := get(c.SourceType, c.SourceID)
		sc.EntityID = c.EntityID
		sc.Title, sc.Snippet = c.Title, c.Snippet
		sc.VectorScore = vectorScoreOf(c)
		addStrategy(sc, "vector_search")
	}

	// graph_nav has no per-candidate relevance score of its own (the
	// navigator returns an ordered ID list, not scored results), so its
	// contribution decays by the LLM's own ranking: first-listed strongest.
	for i, n := range graphNotes {
		sc := get(search.SourceNote, n.ID)
		if sc.Title == "" {
			sc.Title, sc.EntityID = n.Title, n.ID
		}
		sc.GraphScore = 1.0 / float64(i+1)
		addStrategy(sc, "graph_navigator")
	}

	for id, score := range diffusionScores {
		sc := get(search.SourceNote, id)
		if sc.EntityID == "" {
			sc.EntityID = id
		}
		sc.DiffusionScore = score
		addStrategy(sc, "diffusion")
	}

	fused := make([]ScoredCandidate, 0, len(order))
	for _, k := range order {
		sc := byKey[k]
		weighted := sc.VectorScore*vectorW + sc.GraphScore*graphW + sc.DiffusionScore*diffusionW
		if len(sc.Strategies) > 1 {
			weighted *= cfg.CrossConfirmationBoost
			sc.CrossConfirmed = true
		}
		if weighted < cfg.MinScore {
			continue
		}
		sc.FinalScore = weighted
		fused = append(fused, *sc)
	}

	sort.SliceStable(fused, func(i, j int) bool { return fused[i].FinalScore > fused[j].FinalScore })
	if len(fused) > cfg.MaxResults {
		fused = fused[:cfg.MaxResults]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// vectorScoreOf collapses a Candidate's semantic/fulltext scores into one
// strategy score for fusion, matching HybridSearch's own weighting (0.6
// fulltext / 0.4 semantic) when both are present.
func vectorScoreOf(c search.Candidate) float64 {
	switch {
	case c.Similarity > 0 && c.TextScore > 0:
		return c.TextScore*0.6 + c.Similarity*0.4
	default:
		return math.Max(c.Similarity, c.TextScore)
	}
}

// Router orchestrates C4 (always), C5 (STANDARD/DEEP), and C6 (DEEP) and
// fuses their output, grounded on pipeline.py's run_nexus_pipeline.
type Router struct {
	search    *search.Service
	navigator *navigator.Navigator
	diffusion *diffusion.Ranker
	embed     embedclient.Client
}

// NewRouter builds a Router. navigator/diffusion/embed may be nil, in which
// case their strategies are simply never run (equivalent to STANDARD/DEEP
// degrading to whatever strategies remain available).
func NewRouter(s *search.Service, nav *navigator.Navigator, rank *diffusion.Ranker, embed embedclient.Client) *Router {
	return &Router{search: s, navigator: nav, diffusion: rank, embed: embed}
}

// Execute runs routing, retrieval, and fusion for one query and returns the
// route taken, the fused candidates, and the list of strategies that
// actually contributed (for NexusRetrievalMetadata.strategies_used).
func (r *Router) Execute(ctx context.Context, ownerID, providerName, query string, forced Mode, navCachePopulated bool, cfg Config) (Route, []ScoredCandidate, []string, error) {
	route := ClassifyRoute(query, forced, navCachePopulated)

	vectorCandidates, err := r.search.HybridSearch(ctx, ownerID, query, "", 50)
	if err != nil {
		return route, nil, nil, err
	}
	var strategies []string
	if len(vectorCandidates) > 0 {
		strategies = append(strategies, "vector_search")
	}

	var graphNotes []domain.Note
	if (route.Mode == ModeStandard || route.Mode == ModeDeep) && r.navigator != nil {
		res := r.navigator.Navigate(ctx, ownerID, providerName, query, 0)
		graphNotes = res.Notes
		if len(graphNotes) > 0 {
			strategies = append(strategies, "graph_navigator")
		}
	}

	var diffusionScores map[string]float64
	if route.Mode == ModeDeep && r.diffusion != nil {
		var queryEmbedding []float32
		if r.embed != nil {
			queryEmbedding, _ = r.embed.Embed(ctx, query)
		}
		scores, err := r.diffusion.Rank(ctx, ownerID, queryEmbedding, 0)
		if err == nil && len(scores) > 0 {
			diffusionScores = scores
			strategies = append(strategies, "diffusion")
		}
	}

	fused := Fuse(vectorCandidates, graphNotes, diffusionScores, route.Intent, cfg)
	return route, fused, strategies, nil
}
