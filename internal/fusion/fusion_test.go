package fusion

import (
	"testing"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/search"
)

func TestClassifyRoute_ForcedModeOverridesAuto(t *testing.T) {
	route := ClassifyRoute("summarize my notes on docker", ModeFast, true)
	if route.Mode != ModeFast || route.AutoDetected {
		t.Fatalf("expected forced FAST with AutoDetected=false, got %+v", route)
	}
}

func TestClassifyRoute_NoNavCacheStaysFast(t *testing.T) {
	route := ClassifyRoute("summarize and compare my notes on docker and kubernetes networking please", ModeAuto, false)
	if route.Mode != ModeFast {
		t.Fatalf("expected FAST without a populated nav cache, got %+v", route)
	}
}

func TestClassifyRoute_SynthesisMarkersEscalateToDeep(t *testing.T) {
	route := ClassifyRoute("can you summarize and compare how my docker and kubernetes notes relate to each other overall", ModeAuto, true)
	if route.Intent != IntentSynthesis {
		t.Fatalf("expected synthesis intent, got %v", route.Intent)
	}
	if route.Mode != ModeDeep {
		t.Fatalf("expected DEEP for a long synthesis query, got %+v", route)
	}
}

func TestClassifyRoute_ShortFactualQueryStaysFast(t *testing.T) {
	route := ClassifyRoute("docker bridge network", ModeAuto, true)
	if route.Intent != IntentFactual || route.Mode != ModeFast {
		t.Fatalf("expected FAST/factual for a short lookup, got %+v", route)
	}
}

func TestClassifyRoute_TemporalMarkerDetected(t *testing.T) {
	route := ClassifyRoute("when did I last write about recipes", ModeAuto, true)
	if route.Intent != IntentTemporal {
		t.Fatalf("expected temporal intent, got %v", route.Intent)
	}
}

func TestFuse_SingleStrategyGetsFullVectorWeight(t *testing.T) {
	vec := []search.Candidate{{SourceType: search.SourceNote, SourceID: "n1", Similarity: 0.9}}
	got := Fuse(vec, nil, nil, IntentFactual, DefaultConfig())
	if len(got) != 1 || got[0].SourceID != "n1" {
		t.Fatalf("expected one fused candidate, got %+v", got)
	}
	if got[0].FinalScore <= 0 {
		t.Fatalf("expected a positive final score, got %v", got[0].FinalScore)
	}
	if got[0].CrossConfirmed {
		t.Fatalf("single-strategy candidate should not be cross-confirmed")
	}
}

func TestFuse_CrossConfirmedCandidateOutranksSingleStrategy(t *testing.T) {
	vec := []search.Candidate{
		{SourceType: search.SourceNote, SourceID: "both", Similarity: 0.5},
		{SourceType: search.SourceNote, SourceID: "vector-only", Similarity: 0.5},
	}
	graph := []domain.Note{{ID: "both", Title: "Both"}}

	got := Fuse(vec, graph, nil, IntentFactual, DefaultConfig())
	if len(got) < 2 {
		t.Fatalf("expected both candidates to survive, got %+v", got)
	}
	if got[0].SourceID != "both" || !got[0].CrossConfirmed {
		t.Fatalf("expected the cross-confirmed candidate ranked first, got %+v", got)
	}
}

func TestFuse_MissingGraphRedistributesWeightToVector(t *testing.T) {
	vec := []search.Candidate{{SourceType: search.SourceNote, SourceID: "n1", Similarity: 0.5}}
	got := Fuse(vec, nil, nil, IntentExploration, DefaultConfig())
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %+v", got)
	}
	// exploration's vector_w=0.20 absorbs graph_w=0.50 and half of
	// diffusion_w=0.30 (both missing), normalizing to vector=0.85/graph=0.15
	// of the total weight; score = 0.5 * 0.85 = 0.425.
	want := 0.425
	if diff := got[0].FinalScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected redistributed vector score ~%v, got %v", want, got[0].FinalScore)
	}
}

func TestFuse_CandidatesBelowMinScoreAreDropped(t *testing.T) {
	vec := []search.Candidate{{SourceType: search.SourceNote, SourceID: "n1", Similarity: 0.001}}
	cfg := DefaultConfig()
	cfg.MinScore = 0.5
	got := Fuse(vec, nil, nil, IntentFactual, cfg)
	if len(got) != 0 {
		t.Fatalf("expected the low-score candidate to be dropped, got %+v", got)
	}
}

func TestFuse_MaxResultsCapsAndRanksSequentially(t *testing.T) {
	vec := []search.Candidate{
		{SourceType: search.SourceNote, SourceID: "a", Similarity: 0.9},
		{SourceType: search.SourceNote, SourceID: "b", Similarity: 0.8},
		{SourceType: search.SourceNote, SourceID: "c", Similarity: 0.7},
	}
	cfg := DefaultConfig()
	cfg.MaxResults = 2
	got := Fuse(vec, nil, nil, IntentFactual, cfg)
	if len(got) != 2 {
		t.Fatalf("expected MaxResults to cap at 2, got %d", len(got))
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Fatalf("expected sequential 1-based ranks, got %+v", got)
	}
}

func TestFuse_GraphOnlyCandidateRankedByLLMOrder(t *testing.T) {
	graph := []domain.Note{
		{ID: "first", Title: "First"},
		{ID: "second", Title: "Second"},
	}
	got := Fuse(nil, graph, nil, IntentExploration, DefaultConfig())
	if len(got) != 2 || got[0].SourceID != "first" {
		t.Fatalf("expected the first-listed navigator note ranked highest, got %+v", got)
	}
}

func TestFuse_DiffusionOnlyScoreSurvivesWithRedistributedWeight(t *testing.T) {
	diffusionScores := map[string]float64{"n1": 0.8}
	got := Fuse(nil, nil, diffusionScores, IntentFactual, DefaultConfig())
	if len(got) != 1 || got[0].SourceID != "n1" {
		t.Fatalf("expected the diffusion-only candidate to survive, got %+v", got)
	}
}
