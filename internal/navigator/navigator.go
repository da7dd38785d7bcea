// Package navigator implements the Graph Navigator (spec §4.5): a single
// LLM call that turns the cached community map and tag overview into a
// shortlist of navigation-relevant note IDs, hydrated against the store.
//
// Grounded on the source system's navigation_cache_service.py (cache shape
// and "missing cache" semantics) and pipeline.py's call site (navigate only
// runs for STANDARD/DEEP routes, and contributes a parallel candidate
// stream that the fuser treats as optional).
package navigator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/store"
)

const useCase = "graph_navigator"

// systemPrompt instructs the model to answer with nothing but a JSON array
// of note IDs; navigate treats anything else as malformed output.
const systemPrompt = `You are a navigation assistant for a personal knowledge graph.
Given a community map and a tag overview, identify which notes are most
relevant for answering the user's query.
Respond with ONLY a JSON array of note ID strings, most relevant first.
Example: ["note-123", "note-456"]
If nothing is clearly relevant, respond with [].`

// Navigator asks an LLM which notes are navigation-relevant for a query,
// given the owner's cached graph overview, then hydrates the answer.
type Navigator struct {
	nav   store.NavigationStore
	notes store.NoteStore
	llm   *llm.Registry
}

// New builds a Navigator.
func New(nav store.NavigationStore, notes store.NoteStore, registry *llm.Registry) *Navigator {
	return &Navigator{nav: nav, notes: notes, llm: registry}
}

// Result is the navigator's output: the hydrated notes it considered
// relevant, in the order the LLM returned them.
type Result struct {
	Notes []domain.Note
}

// Navigate returns an empty Result, never an error, whenever either cache is
// missing or the LLM's answer isn't parseable JSON — the navigator's weight
// is redistributed by the fuser (§4.7) in that case rather than failing the
// whole query. maxResults <= 0 means no cap beyond what the model returned.
func (n *Navigator) Navigate(ctx context.Context, ownerID, providerName, query string, maxResults int) Result {
	communityMap, err := n.nav.GetNavigationCache(ctx, ownerID, domain.CacheCommunityMap)
	if err != nil || strings.TrimSpace(communityMap.Content) == "" {
		return Result{}
	}
	tagOverview, err := n.nav.GetNavigationCache(ctx, ownerID, domain.CacheTagOverview)
	if err != nil || strings.TrimSpace(tagOverview.Content) == "" {
		return Result{}
	}

	prompt := fmt.Sprintf("Community map:\n%s\n\nTag overview:\n%s\n\nUser query: %s",
		communityMap.Content, tagOverview.Content, query)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	outcome, err := n.llm.Generate(ctx, ownerID, providerName, messages, "", 0, 512, useCase, "")
	if err != nil {
		return Result{}
	}

	ids := parseNoteIDs(outcome.Content)
	if len(ids) == 0 {
		return Result{}
	}
	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}

	notes := make([]domain.Note, 0, len(ids))
	for _, id := range ids {
		note, err := n.notes.GetNote(ctx, ownerID, id)
		if err != nil || note.IsTrashed {
			continue
		}
		notes = append(notes, note)
	}
	return Result{Notes: notes}
}

// jsonArrayRE extracts the first top-level JSON array from a model response,
// tolerating leading/trailing prose or a fenced code block.
var jsonArrayRE = regexp.MustCompile(`(?s)\[.*\]`)

func parseNoteIDs(content string) []string {
	match := jsonArrayRE.FindString(content)
	if match == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(match), &ids); err != nil {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
