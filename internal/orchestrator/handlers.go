package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mnemosyne/internal/brain"
	"mnemosyne/internal/chunker"
	"mnemosyne/internal/consolidation"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/store"
	"mnemosyne/internal/wikilink"
)

// Deps bundles every collaborator the default job Handlers need. It mirrors
// the teacher's Runner-plus-Producer split in handler.go, widened to the
// set of NEXUS components each background job drives.
type Deps struct {
	Notes     store.NoteStore
	Documents store.DocumentStore
	Images    store.ImageStore
	WikiLinks store.WikiLinkStore

	Chunker       *chunker.Service
	Embed         embedclient.Client
	Registry      *llm.Registry
	Builder       *brain.Builder
	Updater       *brain.Updater
	Pipeline      *brain.Pipeline
	Consolidation *consolidation.Engine

	ProviderName string
	Model        string
	Temperature  float64
}

// RegisterDefaultHandlers wires every domain.JobKind named in spec §4.13 to
// its handler on pool. Callers that only run a subset of jobs (e.g. a
// worker dedicated to brain maintenance) can call Register selectively
// instead.
func RegisterDefaultHandlers(pool *WorkerPool, d Deps) {
	pool.Register(domain.JobNoteEmbed, d.handleNoteEmbed)
	pool.Register(domain.JobDocumentAnalyze, d.handleDocumentAnalyze)
	pool.Register(domain.JobDocumentEmbed, d.handleDocumentEmbed)
	pool.Register(domain.JobImageAnalyze, d.handleImageAnalyze)
	pool.Register(domain.JobBrainBuild, d.handleBrainBuild)
	pool.Register(domain.JobIncrementalUpdate, d.handleIncrementalUpdate)
	pool.Register(domain.JobMemoryEvolution, d.handleMemoryEvolution)
	pool.Register(domain.JobConversationSummary, d.handleConversationSummary)
	pool.Register(domain.JobConsolidation, d.handleConsolidation)
}

// handleNoteEmbed regenerates a note's chunks and its top-level embedding.
// Idempotent: ReplaceChunks truncates-then-inserts, and re-running against
// the same content produces the same vectors.
func (d Deps) handleNoteEmbed(ctx context.Context, job domain.Job) error {
	n, err := d.Notes.GetNote(ctx, job.OwnerID, job.EntityID)
	if err != nil {
		return fmt.Errorf("note embed: load note: %w", err)
	}
	if _, err := d.Chunker.RegenerateNote(ctx, n.ID, n.Content); err != nil {
		return fmt.Errorf("note embed: regenerate chunks: %w", err)
	}
	if d.Embed != nil {
		if vec, err := d.Embed.Embed(ctx, n.Content); err == nil {
			n.Embedding = vec
			if err := d.Notes.PutNote(ctx, n); err != nil {
				return fmt.Errorf("note embed: persist embedding: %w", err)
			}
		}
	}
	if d.WikiLinks != nil {
		if _, err := wikilink.ResolveAndReplace(ctx, d.Notes, d.WikiLinks, job.OwnerID, n.ID, n.Content); err != nil {
			return fmt.Errorf("note embed: resolve wikilinks: %w", err)
		}
	}
	return nil
}

// documentEnrichment is the structured shape the enrichment prompt is asked
// to answer in, parsed out of the model's JSON reply.
type documentEnrichment struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Wikilinks []string `json:"wikilinks"`
}

// handleDocumentAnalyze runs phase 1 of document enrichment: summarize the
// already-extracted text and propose tags/wikilinks, then move the document
// to needs_review. It does not enqueue the document_embed job. Extraction, thumbnailing, and
// vision-OCR fallback belong to the upload pipeline (out of scope here);
// this handler picks up once ExtractedText is already populated.
func (d Deps) handleDocumentAnalyze(ctx context.Context, job domain.Job) error {
	doc, err := d.Documents.GetDocument(ctx, job.OwnerID, job.EntityID)
	if err != nil {
		return fmt.Errorf("document analyze: load document: %w", err)
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		doc.AIAnalysisStatus = domain.StatusFailed
		_ = d.Documents.PutDocument(ctx, doc)
		return fmt.Errorf("document analyze: %w: no extracted text", errs.ErrValidation)
	}

	system := "You summarize documents for a personal knowledge base. Reply with strict JSON " +
		`{"summary":"...","tags":["..."],"wikilinks":["..."]}` +
		" and nothing else. Tags are short lowercase topics; wikilinks are note titles this document likely relates to."
	prompt := fmt.Sprintf("Title: %s\n\nText:\n%s", doc.Title, truncate(doc.ExtractedText, 6000))
	reply, err := d.generate(ctx, job.OwnerID, "document_analyze", system, prompt, 800)
	if err != nil {
		doc.AIAnalysisStatus = domain.StatusFailed
		_ = d.Documents.PutDocument(ctx, doc)
		return fmt.Errorf("document analyze: generate enrichment: %w", err)
	}

	var enrichment documentEnrichment
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &enrichment); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("document analyze: could not parse enrichment JSON, keeping raw summary")
		enrichment.Summary = reply
	}

	doc.AISummary = enrichment.Summary
	doc.SuggestedTags = enrichment.Tags
	doc.SuggestedWikilinks = enrichment.Wikilinks
	doc.AIAnalysisStatus = domain.StatusNeedsReview
	if err := d.Documents.PutDocument(ctx, doc); err != nil {
		return fmt.Errorf("document analyze: persist phase 1: %w", err)
	}
	return nil
}

// handleDocumentEmbed chunks and embeds a document's extracted text and
// summary. It defensively no-ops while analysis is still in flight, per
// spec §4.13's "skips if status is not past processing".
func (d Deps) handleDocumentEmbed(ctx context.Context, job domain.Job) error {
	doc, err := d.Documents.GetDocument(ctx, job.OwnerID, job.EntityID)
	if err != nil {
		return fmt.Errorf("document embed: load document: %w", err)
	}
	if doc.AIAnalysisStatus == domain.StatusQueued || doc.AIAnalysisStatus == domain.StatusProcessing {
		log.Debug().Str("document_id", doc.ID).Msg("document embed: analysis still in flight, skipping")
		return nil
	}

	if _, err := d.Chunker.RegenerateDocument(ctx, doc.ID, doc.ExtractedText); err != nil {
		return fmt.Errorf("document embed: regenerate chunks: %w", err)
	}
	if d.Embed != nil {
		summaryText := doc.AISummary
		if summaryText == "" {
			summaryText = doc.ExtractedText
		}
		if vec, err := d.Embed.Embed(ctx, summaryText); err == nil {
			doc.Embedding = vec
			if err := d.Documents.PutDocument(ctx, doc); err != nil {
				return fmt.Errorf("document embed: persist embedding: %w", err)
			}
		}
	}
	return nil
}

// handleImageAnalyze runs the image analysis job: phase 1 persists a
// caption/description, phase 2 best-effort derives a linked summary note.
// No multimodal provider is wired in this pack's llm.Provider surface, so
// the "vision-model call" runs as a text completion over the image's
// already-stored analysis text (FilePath plus any prior
// AIAnalysisResult) rather than over raw pixels — a simplification noted in
// the component's design ledger, not a behavior this handler hides.
func (d Deps) handleImageAnalyze(ctx context.Context, job domain.Job) error {
	img, err := d.Images.GetImage(ctx, job.OwnerID, job.EntityID)
	if err != nil {
		return fmt.Errorf("image analyze: load image: %w", err)
	}

	system := "You describe images for a personal knowledge base from whatever textual evidence " +
		"is available (prior OCR/alt-text, file path, perceptual hash). Reply with a short plain-text caption."
	prompt := fmt.Sprintf("File: %s\nExisting analysis: %s", img.FilePath, img.AIAnalysisResult)
	caption, err := d.generate(ctx, job.OwnerID, "image_analyze", system, prompt, 300)
	if err != nil {
		img.AIAnalysisStatus = domain.StatusFailed
		_ = d.Images.PutImage(ctx, img)
		return fmt.Errorf("image analyze: generate caption: %w", err)
	}

	// Phase 1: persist the core analysis result.
	img.AIAnalysisResult = caption
	img.AIAnalysisStatus = domain.StatusNeedsReview
	if err := d.Images.PutImage(ctx, img); err != nil {
		return fmt.Errorf("image analyze: persist phase 1: %w", err)
	}

	// Phase 2: best-effort linked summary note. A failure here does not roll
	// back phase 1; tag extraction and album membership are left to the CRUD
	// surface this package does not own (no write-path TagStore exists in
	// this pack — TagStore is read-only by design).
	note := domain.Note{
		ID:        uuid.NewString(),
		OwnerID:   img.OwnerID,
		Title:     "Image: " + img.FilePath,
		Content:   caption,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := d.Notes.PutNote(ctx, note); err != nil {
		log.Warn().Err(err).Str("image_id", img.ID).Msg("image analyze: phase 2 linked note skipped")
		return nil
	}
	if _, err := d.Chunker.RegenerateImage(ctx, img.ID, caption); err != nil {
		log.Warn().Err(err).Str("image_id", img.ID).Msg("image analyze: phase 2 chunking skipped")
	}
	return nil
}

func (d Deps) handleBrainBuild(ctx context.Context, job domain.Job) error {
	report, err := d.Builder.Build(ctx, job.OwnerID, nil)
	if err != nil {
		return fmt.Errorf("brain build: %w", err)
	}
	if report.Status == "failed" {
		return fmt.Errorf("brain build: %s", report.ErrorMessage)
	}
	return nil
}

func (d Deps) handleIncrementalUpdate(ctx context.Context, job domain.Job) error {
	kind, _ := job.Payload["change_kind"].(string)
	var ck brain.ChangeKind
	switch kind {
	case string(brain.NoteCreated):
		ck = brain.NoteCreated
	case string(brain.NoteDeleted):
		ck = brain.NoteDeleted
	default:
		ck = brain.NoteUpdated
	}
	if err := d.Updater.Apply(ctx, job.OwnerID, job.EntityID, ck); err != nil {
		return fmt.Errorf("incremental update: %w", err)
	}
	return nil
}

func (d Deps) handleMemoryEvolution(ctx context.Context, job domain.Job) error {
	if err := d.Pipeline.EvolveMemory(ctx, job.OwnerID, job.EntityID); err != nil {
		return fmt.Errorf("memory evolution: %w", err)
	}
	return nil
}

func (d Deps) handleConversationSummary(ctx context.Context, job domain.Job) error {
	if err := d.Pipeline.SummarizeIfDue(ctx, job.OwnerID, job.EntityID); err != nil {
		return fmt.Errorf("conversation summary: %w", err)
	}
	return nil
}

// handleConsolidation treats Run's own per-step graceful degradation as the
// job's success contract: each of the five steps already logs and continues
// past its own failure, so only a total failure (ListNotes itself failing,
// which Run signals by stamping every *Err field with the same error) is
// worth retrying at the job level.
func (d Deps) handleConsolidation(ctx context.Context, job domain.Job) error {
	report := d.Consolidation.Run(ctx, job.OwnerID)
	if report.PageRankErr != nil && report.PageRankErr == report.CommunityErr &&
		report.CommunityErr == report.SemanticEdgeErr &&
		report.SemanticEdgeErr == report.LinkSuggestionErr &&
		report.LinkSuggestionErr == report.NavigationCacheErr {
		return fmt.Errorf("consolidation: %w", report.PageRankErr)
	}
	return nil
}

func (d Deps) generate(ctx context.Context, ownerID, useCase, system, prompt string, maxTokens int) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	outcome, err := d.Registry.Generate(ctx, ownerID, d.ProviderName, messages, d.Model, d.Temperature, maxTokens, useCase, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(outcome.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSONObject returns the substring spanning the first '{' through
// the last '}', tolerating a model that wraps its JSON reply in prose or a
// markdown fence despite being asked not to.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
