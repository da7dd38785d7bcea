// Package contextassembler implements the Context Assembler (spec §4.8):
// it turns a fused, ranked candidate list into an AssembledContext —
// numbered citation blocks packed into a token budget, plus the graph
// insights and follow-up suggestions the UI renders alongside the answer.
//
// Grounded on the source system's nexus/schemas.py (NexusRichCitation,
// ConnectionInsight, ExplorationSuggestion field shapes) and nexus/
// models/nexus_citation.py (origin tracing, graph context, deep links);
// context_builder.py itself was not present in the retrieval pack, so the
// packing/insight/suggestion algorithms are built from spec.md §4.8 rather
// than ported line-for-line.
package contextassembler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/fusion"
	"mnemosyne/internal/store"
)

// DefaultContextBudget is the approximate token ceiling for packed citation
// blocks before Assemble stops and sets Truncated.
const DefaultContextBudget = 4000

// insightCharBudget caps the total length of connection-insight
// descriptions emitted for one assembly.
const insightCharBudget = 2000

// maxExplorationSuggestions caps how many follow-up queries Assemble emits.
const maxExplorationSuggestions = 5

// previewChars is how much of a source's content becomes its citation preview.
const previewChars = 320

// Assembler resolves ranked candidates into rich citations and derives the
// graph insights that accompany them. It never mutates state.
type Assembler struct {
	notes       store.NoteStore
	documents   store.DocumentStore
	images      store.ImageStore
	tags        store.TagStore
	wikiLinks   store.WikiLinkStore
	communities store.CommunityStore
	encoding    *tiktoken.Tiktoken // nil falls back to a chars/4 estimate
}

// New builds an Assembler. Token counting degrades to a chars/4 estimate if
// the cl100k_base encoding can't be loaded (e.g. no network access to fetch
// its vocabulary file at startup).
func New(notes store.NoteStore, documents store.DocumentStore, images store.ImageStore, tags store.TagStore, wikiLinks store.WikiLinkStore, communities store.CommunityStore) *Assembler {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Assembler{
		notes: notes, documents: documents, images: images,
		tags: tags, wikiLinks: wikiLinks, communities: communities,
		encoding: enc,
	}
}

func (a *Assembler) countTokens(s string) int {
	if a.encoding != nil {
		return len(a.encoding.Encode(s, nil, nil))
	}
	return len(s) / 4
}

// Assemble resolves each ranked candidate's source chain into a rich
// citation, packs them into the prompt up to contextBudget (<=0 uses
// DefaultContextBudget), and derives connection insights and exploration
// suggestions.
func (a *Assembler) Assemble(ctx context.Context, ownerID string, ranked []fusion.ScoredCandidate, contextBudget int) (domain.AssembledContext, error) {
	if contextBudget <= 0 {
		contextBudget = DefaultContextBudget
	}

	communityByID, err := a.communityIndex(ctx, ownerID)
	if err != nil {
		return domain.AssembledContext{}, err
	}

	citations := make([]domain.NexusRichCitation, 0, len(ranked))
	for i, c := range ranked {
		rc, err := a.resolveCitation(ctx, ownerID, i+1, c, communityByID)
		if err != nil {
			continue // a candidate whose source vanished is skipped, not fatal
		}
		citations = append(citations, rc)
	}

	var sb strings.Builder
	tokens := 0
	truncated := false
	for i, rc := range citations {
		block := fmt.Sprintf("[%d] %s\n%s\n\n", rc.Index, rc.Title, rc.ContentPreview)
		blockTokens := a.countTokens(block)
		if tokens+blockTokens > contextBudget {
			truncated = len(citations) > i
			break
		}
		sb.WriteString(block)
		tokens += blockTokens
	}

	insights := a.connectionInsights(citations)
	suggestions := a.explorationSuggestions(citations, communityByID)

	return domain.AssembledContext{
		SystemPrompt:           sb.String(),
		RichCitations:          citations,
		ConnectionInsights:     insights,
		ExplorationSuggestions: suggestions,
		TotalTokensApprox:      tokens,
		Truncated:              truncated,
	}, nil
}

func (a *Assembler) communityIndex(ctx context.Context, ownerID string) (map[int]domain.CommunityMetadata, error) {
	out := map[int]domain.CommunityMetadata{}
	if a.communities == nil {
		return out, nil
	}
	all, err := a.communities.Communities(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, cm := range all {
		out[cm.CommunityID] = cm
	}
	return out, nil
}

// resolveCitation hydrates one candidate's entity and builds its rich
// citation, including origin tracing and graph context. sourceType-specific
// entities (document_chunk, image) trace their origin directly from the
// entity kind; note/chunk citations default to manual, since this domain
// model does not carry a note's generating-artifact backlink.
func (a *Assembler) resolveCitation(ctx context.Context, ownerID string, index int, c fusion.ScoredCandidate, communities map[int]domain.CommunityMetadata) (domain.NexusRichCitation, error) {
	rc := domain.NexusRichCitation{
		Index:           index,
		SourceType:      string(c.SourceType),
		SourceID:        c.SourceID,
		RelevanceScore:  c.FinalScore,
		RetrievalMethod: primaryStrategy(c),
	}

	switch c.SourceType {
	case "note", "chunk":
		note, err := a.notes.GetNote(ctx, ownerID, c.EntityID)
		if err != nil {
			return domain.NexusRichCitation{}, err
		}
		rc.Title = note.Title
		rc.ContentPreview = preview(firstNonEmpty(c.Snippet, note.Content))
		rc.OriginType = domain.OriginManual
		rc.NoteURL = fmt.Sprintf("/notes/%s", note.ID)
		rc.GraphURL = fmt.Sprintf("/graph?note=%s", note.ID)
		if note.CommunityID != nil {
			rc.CommunityID = note.CommunityID
			if cm, ok := communities[*note.CommunityID]; ok {
				rc.CommunityName = cm.Label
				rc.CommunityTopTerms = strings.Join(cm.TopTerms, ", ")
			}
		}
		if a.tags != nil {
			if tags, err := a.tags.TagsFor(ctx, ownerID, note.ID); err == nil {
				for _, t := range tags {
					rc.Tags = append(rc.Tags, t.Name)
				}
			}
		}
		if a.wikiLinks != nil {
			if links, err := a.wikiLinks.Outgoing(ctx, note.ID); err == nil {
				for _, l := range links {
					rc.DirectWikilinks = append(rc.DirectWikilinks, l.TargetNoteID)
				}
			}
		}
	case "document_chunk":
		doc, err := a.documents.GetDocument(ctx, ownerID, c.EntityID)
		if err != nil {
			return domain.NexusRichCitation{}, err
		}
		rc.Title = doc.Title
		rc.ContentPreview = preview(firstNonEmpty(c.Snippet, doc.ExtractedText))
		rc.OriginType = domain.OriginDocumentAnalysis
		rc.ArtifactID = doc.ID
		rc.ArtifactURL = fmt.Sprintf("/documents/%s", doc.ID)
		if doc.SummaryNoteID != nil {
			rc.NoteURL = fmt.Sprintf("/notes/%s", *doc.SummaryNoteID)
		}
	case "image":
		img, err := a.images.GetImage(ctx, ownerID, c.EntityID)
		if err != nil {
			return domain.NexusRichCitation{}, err
		}
		rc.Title = artifactFilename(img.FilePath)
		rc.ContentPreview = preview(firstNonEmpty(c.Snippet, img.AIAnalysisResult))
		rc.OriginType = domain.OriginImageAnalysis
		rc.ArtifactID = img.ID
		rc.ArtifactFilename = rc.Title
		rc.ArtifactURL = fmt.Sprintf("/images/%s", img.ID)
	default:
		rc.Title = c.Title
		rc.ContentPreview = preview(c.Snippet)
	}
	return rc, nil
}

func primaryStrategy(c fusion.ScoredCandidate) string {
	if len(c.Strategies) == 0 {
		return "vector_search"
	}
	return c.Strategies[0]
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewChars {
		return s
	}
	return s[:previewChars] + "..."
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func artifactFilename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// connectionInsights derives one insight per unordered pair of resolved
// citations that share a wikilink, community, or tag (checked in that
// order), capped at insightCharBudget total description length. It emits no
// co_retrieval insights: a citation carries only its primary retrieval
// method, not the full list of strategies that found it.
func (a *Assembler) connectionInsights(citations []domain.NexusRichCitation) []domain.ConnectionInsight {
	var out []domain.ConnectionInsight
	budget := insightCharBudget

	add := func(ci domain.ConnectionInsight) bool {
		if budget-len(ci.Description) < 0 {
			return false
		}
		out = append(out, ci)
		budget -= len(ci.Description)
		return true
	}

	for i := 0; i < len(citations); i++ {
		for j := i + 1; j < len(citations); j++ {
			x, y := citations[i], citations[j]

			if containsString(x.DirectWikilinks, noteIDOf(y)) || containsString(y.DirectWikilinks, noteIDOf(x)) {
				if !add(domain.ConnectionInsight{
					SourceIndex: x.Index, TargetIndex: y.Index, ConnectionType: "wikilink",
					Description: fmt.Sprintf("%q links directly to %q", x.Title, y.Title),
				}) {
					return out
				}
				continue
			}
			if x.CommunityID != nil && y.CommunityID != nil && *x.CommunityID == *y.CommunityID {
				if !add(domain.ConnectionInsight{
					SourceIndex: x.Index, TargetIndex: y.Index, ConnectionType: "shared_community",
					Description: fmt.Sprintf("%q and %q are in the same community (%s)", x.Title, y.Title, x.CommunityName),
				}) {
					return out
				}
				continue
			}
			if shared := sharedTag(x.Tags, y.Tags); shared != "" {
				if !add(domain.ConnectionInsight{
					SourceIndex: x.Index, TargetIndex: y.Index, ConnectionType: "shared_tag",
					Description: fmt.Sprintf("%q and %q share the #%s tag", x.Title, y.Title, shared),
				}) {
					return out
				}
				continue
			}
		}
	}
	return out
}

func noteIDOf(rc domain.NexusRichCitation) string {
	if rc.SourceType == "note" || rc.SourceType == "chunk" {
		return rc.SourceID
	}
	return ""
}

func containsString(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sharedTag(a, b []string) string {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if set[t] {
			return t
		}
	}
	return ""
}

// explorationSuggestions surfaces communities not represented by any
// resolved citation, as a nudge toward unexplored parts of the graph. Tags
// are not used as a source of suggestions.
func (a *Assembler) explorationSuggestions(citations []domain.NexusRichCitation, communities map[int]domain.CommunityMetadata) []domain.ExplorationSuggestion {
	covered := map[int]bool{}
	for _, c := range citations {
		if c.CommunityID != nil {
			covered[*c.CommunityID] = true
		}
	}

	var ids []int
	for id := range communities {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []domain.ExplorationSuggestion
	for _, id := range ids {
		if covered[id] {
			continue
		}
		cm := communities[id]
		out = append(out, domain.ExplorationSuggestion{
			Query:  fmt.Sprintf("What's in my %s notes?", cm.Label),
			Reason: "this community wasn't directly retrieved for this query",
		})
		if len(out) >= maxExplorationSuggestions {
			break
		}
	}
	return out
}

// citationIndexRE extracts [n] markers from generated text.
var citationIndexRE = regexp.MustCompile(`\[(\d+)\]`)

// UsedCitationIndices scans assistant output for [n] markers and returns the
// distinct indices referenced, in first-appearance order.
func UsedCitationIndices(answer string) []int {
	matches := citationIndexRE.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]bool, len(matches))
	var out []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
