// Package query implements the NEXUS retrieval-and-generation entrypoint
// (spec §4's request data flow): route + fuse (C7) → assemble context
// (C8) → stream tokens from the LLM registry (C2), emitting the typed
// event sequence internal/sse defines and persisting the resulting
// message + citations.
//
// Grounded on the source system's pipeline.py's run_nexus_pipeline, which
// strings together the same router/assembler/generation call sequence this
// package's Engine does; it is distinct from internal/brain.Pipeline (C11),
// which drives the two-tier Brain memory chat rather than graph retrieval.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mnemosyne/internal/contextassembler"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/fusion"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/sse"
	"mnemosyne/internal/store"
)

// Config selects the LLM call used for answer generation and the packing
// budget handed to the Context Assembler.
type Config struct {
	ProviderName  string
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextBudget int
}

// Engine ties the Query Router + Fusion (C7), Context Assembler (C8), and
// LLM Provider Registry (C2) into one callable query surface.
type Engine struct {
	router        *fusion.Router
	assembler     *contextassembler.Assembler
	registry      *llm.Registry
	conversations store.ConversationStore
	cfg           Config
}

// New builds an Engine. conversations may be nil, in which case Query/
// StreamQuery run without persisting any chat history (useful for one-off
// callers that manage their own conversation state).
func New(router *fusion.Router, assembler *contextassembler.Assembler, registry *llm.Registry,
	conversations store.ConversationStore, cfg Config) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Engine{router: router, assembler: assembler, registry: registry, conversations: conversations, cfg: cfg}
}

// Answer is the non-streaming result of Query.
type Answer struct {
	Mode           fusion.Mode
	Intent         fusion.Intent
	StrategiesUsed []string
	Content        string
	Assembled      domain.AssembledContext
	UsedIndices    []int
	Provider       string
	FellBackFrom   string
}

// Query runs the full route→fuse→assemble→generate pipeline once and
// returns the complete answer. forced overrides AUTO mode inference;
// navCachePopulated should reflect whether the owner's consolidation
// caches are populated (spec §4.7: AUTO never escalates past FAST without
// them).
func (e *Engine) Query(ctx context.Context, ownerID, query string, forced fusion.Mode, navCachePopulated bool) (Answer, error) {
	route, candidates, strategies, err := e.router.Execute(ctx, ownerID, e.cfg.ProviderName, query, forced, navCachePopulated, fusion.DefaultConfig())
	if err != nil {
		return Answer{}, fmt.Errorf("query: route: %w", err)
	}
	assembled, err := e.assembler.Assemble(ctx, ownerID, candidates, e.cfg.ContextBudget)
	if err != nil {
		return Answer{}, fmt.Errorf("query: assemble context: %w", err)
	}

	messages := []llm.Message{
		{Role: "system", Content: assembled.SystemPrompt},
		{Role: "user", Content: query},
	}
	outcome, err := e.registry.Generate(ctx, ownerID, e.cfg.ProviderName, messages, e.cfg.Model, e.cfg.Temperature, e.cfg.MaxTokens, "nexus_query", "")
	if err != nil {
		return Answer{}, fmt.Errorf("query: generate: %w", err)
	}

	return Answer{
		Mode:           route.Mode,
		Intent:         route.Intent,
		StrategiesUsed: strategies,
		Content:        outcome.Content,
		Assembled:      assembled,
		UsedIndices:    contextassembler.UsedCitationIndices(outcome.Content),
		Provider:       outcome.UsedProvider,
		FellBackFrom:   outcome.FellBackFrom,
	}, nil
}

// tokenForwarder adapts an sse.Writer to llm.StreamHandler, forwarding each
// delta as a token event while accumulating the full answer so
// StreamQuery can compute which citations the finished answer references.
type tokenForwarder struct {
	w    *sse.Writer
	full strings.Builder
}

func (f *tokenForwarder) OnDelta(text string) {
	f.full.WriteString(text)
	_ = f.w.Token(text) // a dropped frame does not abort generation already underway
}

// StreamQuery runs the same pipeline as Query but streams tokens to w as
// they are produced, then emits citations, connections, suggestions,
// metadata, and a final done event in that fixed order (spec §6). If
// conversationID is non-empty and the Engine was built with a
// ConversationStore, the user/assistant turn and citations are persisted.
//
// Per spec §8: a generation failure mid-stream emits one error event
// followed by done, and any persisted assistant message is marked with the
// failure's error type rather than rolled back.
func (e *Engine) StreamQuery(ctx context.Context, ownerID, conversationID, query string, forced fusion.Mode, navCachePopulated bool, w *sse.Writer) error {
	route, candidates, strategies, err := e.router.Execute(ctx, ownerID, e.cfg.ProviderName, query, forced, navCachePopulated, fusion.DefaultConfig())
	if err != nil {
		_ = w.Error(err.Error(), "retrieval_error")
		_ = w.Done()
		return fmt.Errorf("query: route: %w", err)
	}
	assembled, err := e.assembler.Assemble(ctx, ownerID, candidates, e.cfg.ContextBudget)
	if err != nil {
		_ = w.Error(err.Error(), "context_error")
		_ = w.Done()
		return fmt.Errorf("query: assemble context: %w", err)
	}

	if conversationID != "" && e.conversations != nil {
		if perr := e.conversations.AppendMessage(ctx, domain.ChatMessage{
			ID: uuid.NewString(), ConversationID: conversationID, Role: "user", Content: query, CreatedAt: time.Now(),
		}); perr != nil {
			_ = w.Error(perr.Error(), "persistence_error")
			_ = w.Done()
			return fmt.Errorf("query: persist user message: %w", perr)
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: assembled.SystemPrompt},
		{Role: "user", Content: query},
	}
	forwarder := &tokenForwarder{w: w}
	messageID := uuid.NewString()

	_, genErr := e.registry.Stream(ctx, ownerID, e.cfg.ProviderName, messages, e.cfg.Model, e.cfg.Temperature, e.cfg.MaxTokens, forwarder, "nexus_query", conversationID)
	if genErr != nil {
		errType := string(errs.Classify(genErr))
		_ = w.Error(genErr.Error(), errType)
		if conversationID != "" && e.conversations != nil {
			_ = e.conversations.AppendMessage(ctx, domain.ChatMessage{
				ID: messageID, ConversationID: conversationID, Role: "assistant",
				Content: forwarder.full.String(), ErrorType: errType, CreatedAt: time.Now(),
			})
		}
		_ = w.Done()
		return fmt.Errorf("query: generate: %w", genErr)
	}

	answer := forwarder.full.String()
	used := contextassembler.UsedCitationIndices(answer)

	_ = w.Citations(sse.CitationsFrom(assembled.RichCitations), used)
	_ = w.Connections(sse.ConnectionsFrom(assembled.ConnectionInsights))
	_ = w.Suggestions(sse.SuggestionsFrom(assembled.ExplorationSuggestions))
	_ = w.Metadata(map[string]any{
		"mode":            string(route.Mode),
		"intent":          string(route.Intent),
		"strategies_used": strategies,
		"model":           e.cfg.Model,
		"message_id":      messageID,
	})

	if conversationID != "" && e.conversations != nil {
		if perr := e.conversations.AppendMessage(ctx, domain.ChatMessage{
			ID: messageID, ConversationID: conversationID, Role: "assistant", Content: answer, CreatedAt: time.Now(),
		}); perr != nil {
			_ = w.Done()
			return fmt.Errorf("query: persist assistant message: %w", perr)
		}
		if citations := citationsFor(messageID, assembled.RichCitations); len(citations) > 0 {
			if perr := e.conversations.PutCitations(ctx, citations); perr != nil {
				_ = w.Done()
				return fmt.Errorf("query: persist citations: %w", perr)
			}
		}
	}

	return w.Done()
}

// citationsFor narrows the in-flight rich citations down to the persisted
// record shape, keyed to the assistant message they accompanied.
func citationsFor(messageID string, rich []domain.NexusRichCitation) []domain.NexusCitation {
	out := make([]domain.NexusCitation, len(rich))
	for i, rc := range rich {
		out[i] = domain.NexusCitation{
			ID:                 uuid.NewString(),
			MessageID:          messageID,
			SourceType:         rc.SourceType,
			SourceID:           rc.SourceID,
			CitationIndex:      rc.Index,
			RelevanceScore:     rc.RelevanceScore,
			RetrievalMethod:    rc.RetrievalMethod,
			OriginType:         rc.OriginType,
			ArtifactID:         rc.ArtifactID,
			CommunityName:      rc.CommunityName,
			CommunityID:        rc.CommunityID,
			Tags:               rc.Tags,
			DirectWikilinks:    rc.DirectWikilinks,
			PathToOtherResults: rc.PathToOtherResults,
			NoteURL:            rc.NoteURL,
			GraphURL:           rc.GraphURL,
			ArtifactURL:        rc.ArtifactURL,
		}
	}
	return out
}
