package brain

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

// ChangeKind is the note-level event the Incremental Updater reacts to.
type ChangeKind string

const (
	NoteCreated ChangeKind = "created"
	NoteUpdated ChangeKind = "updated"
	NoteDeleted ChangeKind = "deleted"
)

// keywordOverlapThreshold is spec §4.12's "best overlap" cutoff for routing
// a newly created note into an existing topic instead of a micro-topic.
const keywordOverlapThreshold = 0.3

// microTopicLogThreshold is when to log (never auto-trigger) a full-rebuild
// recommendation — an Open Question decision; see DESIGN.md.
const microTopicLogThreshold = 5

const microTopicPrefix = "topic_micro_"

// Updater implements the Incremental Updater (§4.12): routes a single
// note-level change to the smallest set of topic regenerations, reusing
// the Builder's topic-synthesis and compression steps rather than
// re-running a full build.
type Updater struct {
	notes   store.NoteStore
	files   store.BrainStore
	builder *Builder
}

// NewUpdater builds an Updater sharing a Builder's LLM/embedding wiring.
func NewUpdater(notes store.NoteStore, files store.BrainStore, builder *Builder) *Updater {
	return &Updater{notes: notes, files: files, builder: builder}
}

// Apply routes one note's change to topic regeneration, then refreshes the
// master Knowledge Map overview. A regeneration failure marks the affected
// topic stale instead of aborting or deleting it, per spec §4.12.
func (u *Updater) Apply(ctx context.Context, ownerID, noteID string, kind ChangeKind) error {
	switch kind {
	case NoteCreated:
		if err := u.applyCreated(ctx, ownerID, noteID); err != nil {
			return err
		}
	case NoteUpdated:
		if err := u.applyUpdated(ctx, ownerID, noteID); err != nil {
			return err
		}
	case NoteDeleted:
		if err := u.applyDeleted(ctx, ownerID, noteID); err != nil {
			return err
		}
	}

	if err := u.refreshKnowledgeMap(ctx, ownerID); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Msg("incremental update: knowledge map refresh failed")
	}
	u.logMicroTopicRecommendation(ctx, ownerID)
	return nil
}

func (u *Updater) applyCreated(ctx context.Context, ownerID, noteID string) error {
	note, err := u.notes.GetNote(ctx, ownerID, noteID)
	if err != nil {
		return err
	}
	topics, err := u.files.BrainFilesByType(ctx, ownerID, domain.FileTopic)
	if err != nil {
		return err
	}
	noteKeywords := extractKeywords([]domain.Note{note})

	best, bestScore := domain.BrainFile{}, 0.0
	found := false
	for _, t := range topics {
		score := keywordOverlap(noteKeywords, t.TopicKeywords)
		if score >= keywordOverlapThreshold && score > bestScore {
			best, bestScore, found = t, score, true
		}
	}

	if found {
		best.SourceNoteIDs = append(best.SourceNoteIDs, note.ID)
		if err := u.regenerateTopic(ctx, ownerID, best); err != nil {
			log.Warn().Err(err).Str("file_key", best.FileKey).Msg("incremental update: regeneration failed, marking stale")
			u.markStale(ctx, ownerID, best.FileKey)
		}
		return nil
	}

	communityID := unassignedCommunity
	if note.CommunityID != nil {
		communityID = *note.CommunityID
	}
	t, err := u.builder.generateTopicFile(ctx, ownerID, communityID, 0, []domain.Note{note})
	if err != nil || t == nil {
		return err
	}
	t.FileKey = microTopicPrefix + uuid.NewString()[:8]
	u.builder.compressTopic(ctx, ownerID, t)
	return u.persistTopic(ctx, ownerID, t)
}

func (u *Updater) applyUpdated(ctx context.Context, ownerID, noteID string) error {
	topics, err := u.files.BrainFilesByType(ctx, ownerID, domain.FileTopic)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if !containsID(t.SourceNoteIDs, noteID) {
			continue
		}
		if err := u.regenerateTopic(ctx, ownerID, t); err != nil {
			log.Warn().Err(err).Str("file_key", t.FileKey).Msg("incremental update: regeneration failed, marking stale")
			u.markStale(ctx, ownerID, t.FileKey)
		}
	}
	return nil
}

func (u *Updater) applyDeleted(ctx context.Context, ownerID, noteID string) error {
	topics, err := u.files.BrainFilesByType(ctx, ownerID, domain.FileTopic)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if !containsID(t.SourceNoteIDs, noteID) {
			continue
		}
		t.SourceNoteIDs = removeID(t.SourceNoteIDs, noteID)
		if len(t.SourceNoteIDs) == 0 {
			if err := u.deleteBrainFile(ctx, ownerID, t.FileKey); err != nil {
				return err
			}
			continue
		}
		if err := u.regenerateTopic(ctx, ownerID, t); err != nil {
			log.Warn().Err(err).Str("file_key", t.FileKey).Msg("incremental update: regeneration failed, marking stale")
			u.markStale(ctx, ownerID, t.FileKey)
		}
	}
	return nil
}

// regenerateTopic re-synthesizes and re-compresses one topic from its
// current SourceNoteIDs, reusing Builder's topic-synth and compression
// sub-steps as spec §4.12 requires.
func (u *Updater) regenerateTopic(ctx context.Context, ownerID string, existing domain.BrainFile) error {
	notes := make([]domain.Note, 0, len(existing.SourceNoteIDs))
	for _, id := range existing.SourceNoteIDs {
		n, err := u.notes.GetNote(ctx, ownerID, id)
		if err != nil {
			continue
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return u.deleteBrainFile(ctx, ownerID, existing.FileKey)
	}

	communityID := unassignedCommunity
	if existing.CommunityID != nil {
		communityID = *existing.CommunityID
	}
	t, err := u.builder.generateTopicFile(ctx, ownerID, communityID, 0, notes)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	t.FileKey = existing.FileKey
	u.builder.compressTopic(ctx, ownerID, t)
	return u.persistTopic(ctx, ownerID, t)
}

func (u *Updater) persistTopic(ctx context.Context, ownerID string, t *topicResult) error {
	embedding := u.builder.tryEmbed(ctx, truncate(t.Content, 2000))
	f := domain.BrainFile{
		FileKey: t.FileKey, FileType: domain.FileTopic, Title: t.Title, Content: t.Content,
		CompressedContent: t.CompressedContent, CompressedTokenCount: t.CompressedTokenCount,
		CommunityID: &t.CommunityID, TopicKeywords: t.Keywords, SourceNoteIDs: t.SourceNoteIDs,
		TokenCountApprox: t.TokenCountApprox, Embedding: embedding,
	}
	return u.builder.upsert(ctx, ownerID, f)
}

func (u *Updater) markStale(ctx context.Context, ownerID, fileKey string) {
	f, err := u.files.GetBrainFile(ctx, ownerID, fileKey)
	if err != nil {
		return
	}
	f.IsStale = true
	_ = u.files.PutBrainFile(ctx, f)
}

// deleteBrainFile removes one file by key; BrainStore only exposes a
// keep-list bulk delete (the Builder's own cleanup primitive), so deleting
// a single file means listing everything else and keeping it.
func (u *Updater) deleteBrainFile(ctx context.Context, ownerID, fileKey string) error {
	all, err := u.files.BrainFiles(ctx, ownerID)
	if err != nil {
		return err
	}
	keep := make([]string, 0, len(all))
	for _, f := range all {
		if f.FileKey != fileKey {
			keep = append(keep, f.FileKey)
		}
	}
	return u.files.DeleteBrainFilesNotIn(ctx, ownerID, keep)
}

// refreshKnowledgeMap regenerates the mnemosyne.md master overview from the
// current topic set, the one piece of the Knowledge Map that is actually
// persisted (Pipeline.Assemble's concatenated summary view is computed
// fresh from topics on every call and needs no separate regeneration).
func (u *Updater) refreshKnowledgeMap(ctx context.Context, ownerID string) error {
	topics, err := u.files.BrainFilesByType(ctx, ownerID, domain.FileTopic)
	if err != nil {
		return err
	}
	notes, err := u.notes.ListNotes(ctx, ownerID)
	if err != nil {
		return err
	}
	eligible := collectNotes(notes)

	summaries := make([]topicSummary, len(topics))
	for i, t := range topics {
		summaries[i] = topicSummary{FileKey: t.FileKey, Title: t.Title, Keywords: t.TopicKeywords, Content: t.Content}
	}
	communityCount := countDistinctCommunities(topics)
	overview := u.builder.generateOverview(ctx, ownerID, summaries, len(eligible), communityCount)
	return u.builder.upsert(ctx, ownerID, overview)
}

func (u *Updater) logMicroTopicRecommendation(ctx context.Context, ownerID string) {
	topics, err := u.files.BrainFilesByType(ctx, ownerID, domain.FileTopic)
	if err != nil {
		return
	}
	count := 0
	for _, t := range topics {
		if strings.HasPrefix(t.FileKey, microTopicPrefix) {
			count++
		}
	}
	if count > microTopicLogThreshold {
		log.Warn().Str("owner_id", ownerID).Int("micro_topics", count).
			Msg("incremental update: micro-topic count is high, a full brain rebuild is recommended")
	}
}

func countDistinctCommunities(topics []domain.BrainFile) int {
	seen := make(map[int]bool, len(topics))
	for _, t := range topics {
		if t.CommunityID != nil {
			seen[*t.CommunityID] = true
		}
	}
	return len(seen)
}

// keywordOverlap is the fraction of a note's extracted keywords that also
// appear in a topic's keyword set — the same overlap measure spec §4.12
// calls for when routing a new note to an existing topic.
func keywordOverlap(noteKeywords, topicKeywords []string) float64 {
	if len(noteKeywords) == 0 || len(topicKeywords) == 0 {
		return 0
	}
	set := make(map[string]bool, len(topicKeywords))
	for _, k := range topicKeywords {
		set[strings.ToLower(k)] = true
	}
	matches := 0
	for _, k := range noteKeywords {
		if set[strings.ToLower(k)] {
			matches++
		}
	}
	return float64(matches) / float64(len(noteKeywords))
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
