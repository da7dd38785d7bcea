// Package brain implements the Brain Builder (spec §4.10), the Brain Query
// Pipeline (§4.11), and the Incremental Updater (§4.12): together the
// system that turns an owner's notes into a two-tier synthesized knowledge
// representation (BrainFile rows) an LLM chats against.
//
// Grounded on the source system's features/mnemosyne_brain package:
// brain_builder.py and brain_helpers.py for the build pipeline,
// topic_generator.py and core_file_generator.py for file synthesis,
// topic_selector.py for query-time topic selection, and prompts.py for the
// intent (not the literal text) of each generation prompt.
package brain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/store"
)

const buildUseCase = "brain_build"

const (
	minNotesToBuild      = 3
	maxCharsPerNoteInTopic = 1500
	maxKeywordsPerTopic    = 10
	maxCharsForCompression = 2000
	fallbackCompressChars  = 400
	genMaxTokens           = 2048
)

// unassignedCommunity is the bucket notes with no CommunityID fall into,
// mirroring brain_helpers.py's group_notes_by_community default of -1.
const unassignedCommunity = -1

// Clusterer runs community detection over an owner's notes, writing each
// note's new CommunityID. Satisfied by *consolidation.Engine; a non-nil
// error (including errs.ErrClustering) means the build proceeds with every
// note unassigned rather than failing, mirroring brain_helpers.py's
// run_community_detection swallowing a missing clustering dependency.
type Clusterer interface {
	DetectCommunities(ctx context.Context, ownerID string) ([]domain.CommunityMetadata, error)
}

// Builder runs the full brain build pipeline for one owner.
type Builder struct {
	notes    store.NoteStore
	files    store.BrainStore
	cluster  Clusterer
	registry *llm.Registry
	embed    embedclient.Client

	providerName string
	model        string
	temperature  float64
}

// New builds a Builder. providerName/model/temperature select the LLM call
// used for every generation step (config.BrainModel / config.BrainTemperature
// in cmd/nexusd's wiring).
func New(notes store.NoteStore, files store.BrainStore, cluster Clusterer, registry *llm.Registry,
	embed embedclient.Client, providerName, model string, temperature float64) *Builder {
	return &Builder{
		notes: notes, files: files, cluster: cluster, registry: registry, embed: embed,
		providerName: providerName, model: model, temperature: temperature,
	}
}

// Report summarizes one Build call; it stands in for brain_build_log's
// persisted row, returned to the caller instead of written to a store since
// progress reporting is a UI surface the HTTP layer owns, not this package.
type Report struct {
	Status               string // "completed" or "failed"
	ErrorMessage         string
	NotesProcessed       int
	CommunitiesDetected  int
	TopicFilesGenerated  int
	TotalTokensGenerated int
	CompletedAt          time.Time
}

// ProgressFunc receives the same (pct, step) pairs brain_builder.py wrote to
// build_log.progress_pct / current_step. May be nil.
type ProgressFunc func(pct int, step string)

// Build runs Collect -> Cluster -> Group -> topic synthesis -> compression
// -> core file generation -> persist, end to end, for ownerID.
func (b *Builder) Build(ctx context.Context, ownerID string, onProgress ProgressFunc) (Report, error) {
	progress := func(pct int, step string) {
		if onProgress != nil {
			onProgress(pct, step)
		}
	}

	progress(5, "Collecting notes")
	all, err := b.notes.ListNotes(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}
	notes := collectNotes(all)
	if len(notes) < minNotesToBuild {
		return Report{
			Status:       "failed",
			ErrorMessage: fmt.Sprintf("need at least %d notes (found %d)", minNotesToBuild, len(notes)),
			CompletedAt:  time.Now(),
		}, nil
	}

	progress(15, "Detecting communities")
	communities, err := b.cluster.DetectCommunities(ctx, ownerID)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Msg("brain build: community detection skipped")
		communities = nil
	}
	// Re-fetch: DetectCommunities wrote each note's CommunityID in place.
	all, err = b.notes.ListNotes(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}
	notes = collectNotes(all)

	progress(25, "Grouping notes by topic")
	order, groups := groupByCommunity(notes)

	progress(30, "Generating topic files")
	topics := make([]*topicResult, 0, len(order))
	for idx, communityID := range order {
		pct := 30 + (idx*30)/maxInt(len(order), 1)
		progress(pct, fmt.Sprintf("Generating topic %d", len(topics)+1))
		t, err := b.generateTopicFile(ctx, ownerID, communityID, len(topics), groups[communityID])
		if err != nil {
			log.Warn().Err(err).Int("community_id", communityID).Msg("brain build: topic generation failed")
			continue
		}
		if t == nil {
			continue
		}
		topics = append(topics, t)
	}

	progress(60, "Compressing topics")
	for idx, t := range topics {
		pct := 60 + (idx*5)/maxInt(len(topics), 1)
		progress(pct, fmt.Sprintf("Compressing topic %d", idx+1))
		b.compressTopic(ctx, ownerID, t)
	}

	summaries := make([]topicSummary, len(topics))
	for i, t := range topics {
		summaries[i] = topicSummary{FileKey: t.FileKey, Title: t.Title, Keywords: t.Keywords, Content: t.Content}
	}

	progress(65, "Generating askimap")
	askimap := b.generateAskimap(ctx, ownerID, summaries)

	progress(70, "Generating knowledge map")
	overview := b.generateOverview(ctx, ownerID, summaries, len(notes), len(communities))

	progress(75, "Generating user profile")
	sample := notes
	if len(sample) > 15 {
		sample = sample[:15]
	}
	profile := b.generateUserProfile(ctx, ownerID, summaries, sample)

	progress(80, "Preserving user files")
	soul, memory, err := b.soulAndMemory(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}

	progress(85, "Saving brain files")
	keep := make([]string, 0, len(topics)+5)
	totalTokens := 0
	for _, t := range topics {
		embedding := b.tryEmbed(ctx, truncate(t.Content, 2000))
		f := domain.BrainFile{
			FileKey: t.FileKey, FileType: domain.FileTopic, Title: t.Title, Content: t.Content,
			CompressedContent: t.CompressedContent, CompressedTokenCount: t.CompressedTokenCount,
			CommunityID: &t.CommunityID, TopicKeywords: t.Keywords, SourceNoteIDs: t.SourceNoteIDs,
			TokenCountApprox: t.TokenCountApprox, Embedding: embedding,
		}
		if err := b.upsert(ctx, ownerID, f); err != nil {
			return Report{}, err
		}
		totalTokens += t.TokenCountApprox
		keep = append(keep, t.FileKey)
	}
	for _, core := range []domain.BrainFile{askimap, overview, profile} {
		if err := b.upsert(ctx, ownerID, core); err != nil {
			return Report{}, err
		}
		totalTokens += core.TokenCountApprox
		keep = append(keep, core.FileKey)
	}
	// soul/memory are always kept even when this build didn't regenerate
	// them — they only get deleted by an explicit user action, never by
	// cleanup, matching postgres.go's DeleteBrainFilesNotIn protection.
	keep = append(keep, "soul", "memory")
	if soul != nil {
		if err := b.upsert(ctx, ownerID, *soul); err != nil {
			return Report{}, err
		}
		totalTokens += soul.TokenCountApprox
	}
	if memory != nil {
		if err := b.upsert(ctx, ownerID, *memory); err != nil {
			return Report{}, err
		}
		totalTokens += memory.TokenCountApprox
	}

	progress(95, "Cleaning up old topics")
	if err := b.files.DeleteBrainFilesNotIn(ctx, ownerID, keep); err != nil {
		return Report{}, err
	}

	progress(100, "Complete")
	return Report{
		Status:               "completed",
		NotesProcessed:       len(notes),
		CommunitiesDetected:  len(communities),
		TopicFilesGenerated:  len(topics),
		TotalTokensGenerated: totalTokens,
		CompletedAt:          time.Now(),
	}, nil
}

func collectNotes(all []domain.Note) []domain.Note {
	out := make([]domain.Note, 0, len(all))
	for _, n := range all {
		if !n.IsTrashed {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// groupByCommunity buckets notes by CommunityID (nil -> unassignedCommunity)
// and returns the bucket keys in first-appearance order, so topic_N file
// keys stay stable run to run when the note set is unchanged.
func groupByCommunity(notes []domain.Note) ([]int, map[int][]domain.Note) {
	groups := make(map[int][]domain.Note)
	var order []int
	for _, n := range notes {
		cid := unassignedCommunity
		if n.CommunityID != nil {
			cid = *n.CommunityID
		}
		if _, ok := groups[cid]; !ok {
			order = append(order, cid)
		}
		groups[cid] = append(groups[cid], n)
	}
	return order, groups
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// estimateTokens mirrors topic_generator.py's rough ~4-chars-per-token rule.
func estimateTokens(s string) int {
	return len(s) / 4
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (b *Builder) tryEmbed(ctx context.Context, text string) []float32 {
	if text == "" || b.embed == nil {
		return nil
	}
	vec, err := b.embed.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("brain build: embedding generation failed")
		return nil
	}
	return vec
}

func (b *Builder) generate(ctx context.Context, ownerID, system, prompt string, maxTokens int) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	outcome, err := b.registry.Generate(ctx, ownerID, b.providerName, messages, b.model, b.temperature, maxTokens, buildUseCase, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(outcome.Content), nil
}

// upsert mirrors brain_helpers.py's upsert_brain_file, adapted so each
// caller supplies the complete desired row rather than a partial dict: an
// existing file's ID/CreatedAt/Version are carried forward, and a
// user-edited soul or memory file (domain.CoreFileTypes) is left untouched
// entirely.
func (b *Builder) upsert(ctx context.Context, ownerID string, f domain.BrainFile) error {
	existing, err := b.files.GetBrainFile(ctx, ownerID, f.FileKey)
	now := time.Now()
	if err == nil {
		if existing.IsUserEdited && domain.CoreFileTypes[existing.FileType] {
			return nil
		}
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
		f.Version = existing.Version + 1
		f.IsUserEdited = existing.IsUserEdited
		if len(f.Embedding) == 0 {
			f.Embedding = existing.Embedding
		}
	} else {
		f.ID = uuid.NewString()
		f.CreatedAt = now
		f.Version = 1
	}
	f.OwnerID = ownerID
	f.ContentHash = contentHash(f.Content)
	f.IsStale = false
	f.UpdatedAt = now
	return b.files.PutBrainFile(ctx, f)
}

// soulAndMemory decides whether soul/memory need (re)generating this build.
// Soul regenerates every run unless the user has edited it; memory is
// created once as a scaffold and afterward is owned entirely by the memory
// evolution step (§4.11), never touched by a build again.
func (b *Builder) soulAndMemory(ctx context.Context, ownerID string) (soul, memory *domain.BrainFile, err error) {
	existingSoul, err := b.files.GetBrainFile(ctx, ownerID, "soul")
	if err != nil || !existingSoul.IsUserEdited {
		f := defaultSoul()
		soul = &f
	}
	if _, err := b.files.GetBrainFile(ctx, ownerID, "memory"); err != nil {
		f := defaultMemory()
		memory = &f
	}
	return soul, memory, nil
}
