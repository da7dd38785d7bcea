package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/errs"
)

// Memory is an in-process Store used by tests and by the single-user local
// deployment path, grounded on the teacher's memChatStore (map-backed,
// sync.RWMutex guarded, deterministic ordering on reads).
type Memory struct {
	mu sync.RWMutex

	notes         map[string]domain.Note
	noteChunks    map[string][]domain.NoteChunk
	documents     map[string]domain.Document
	documentChunks map[string][]domain.DocumentChunk
	images        map[string]domain.Image
	imageChunks   map[string][]domain.ImageChunk
	tags          map[string][]domain.Tag // entityID -> tags
	allTags       map[string]map[string]domain.Tag // ownerID -> name -> tag

	wikilinksOut map[string][]domain.WikiLink // noteID -> outgoing
	semanticEdges map[string][]domain.SemanticEdge // ownerID -> edges
	communities   map[string][]domain.CommunityMetadata
	positions     map[string]map[string]domain.GraphPosition // ownerID -> noteID -> pos

	conversations map[string]domain.Conversation
	messages      map[string][]domain.ChatMessage
	citations     map[string][]domain.NexusCitation

	brainFiles        map[string]map[string]domain.BrainFile // ownerID -> fileKey -> file
	brainConversations map[string]domain.BrainConversation
	brainMessages     map[string][]domain.BrainMessage

	navCache map[string]map[domain.NavigationCacheType]domain.NexusNavigationCache

	importance map[string][]domain.NexusImportanceScore
	suggestions map[string]domain.NexusLinkSuggestion

	usage []domain.AIUsageLog

	jobs map[string]domain.Job
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		notes:              map[string]domain.Note{},
		noteChunks:         map[string][]domain.NoteChunk{},
		documents:          map[string]domain.Document{},
		documentChunks:     map[string][]domain.DocumentChunk{},
		images:             map[string]domain.Image{},
		imageChunks:        map[string][]domain.ImageChunk{},
		tags:               map[string][]domain.Tag{},
		allTags:            map[string]map[string]domain.Tag{},
		wikilinksOut:       map[string][]domain.WikiLink{},
		semanticEdges:      map[string][]domain.SemanticEdge{},
		communities:        map[string][]domain.CommunityMetadata{},
		positions:          map[string]map[string]domain.GraphPosition{},
		conversations:      map[string]domain.Conversation{},
		messages:           map[string][]domain.ChatMessage{},
		citations:          map[string][]domain.NexusCitation{},
		brainFiles:         map[string]map[string]domain.BrainFile{},
		brainConversations: map[string]domain.BrainConversation{},
		brainMessages:      map[string][]domain.BrainMessage{},
		navCache:           map[string]map[domain.NavigationCacheType]domain.NexusNavigationCache{},
		importance:         map[string][]domain.NexusImportanceScore{},
		suggestions:        map[string]domain.NexusLinkSuggestion{},
		jobs:               map[string]domain.Job{},
	}
}

func (m *Memory) Close() {}

// --- notes ---

func (m *Memory) GetNote(ctx context.Context, ownerID, id string) (domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	if !ok || n.OwnerID != ownerID || n.IsTrashed {
		return domain.Note{}, fmt.Errorf("note %s: %w", id, errs.ErrNotFound)
	}
	return n, nil
}

func (m *Memory) PutNote(ctx context.Context, n domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[n.ID] = n
	return nil
}

func (m *Memory) ListNotes(ctx context.Context, ownerID string) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Note, 0, len(m.notes))
	for _, n := range m.notes {
		if n.OwnerID == ownerID && !n.IsTrashed {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReplaceChunks(ctx context.Context, noteID string, chunks []domain.NoteChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.NoteChunk, len(chunks))
	copy(cp, chunks)
	m.noteChunks[noteID] = cp
	return nil
}

func (m *Memory) ChunksForNote(ctx context.Context, noteID string) ([]domain.NoteChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.NoteChunk(nil), m.noteChunks[noteID]...), nil
}

// --- documents ---

func (m *Memory) GetDocument(ctx context.Context, ownerID, id string) (domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok || d.OwnerID != ownerID {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return d, nil
}

func (m *Memory) PutDocument(ctx context.Context, d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *Memory) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.DocumentChunk, len(chunks))
	copy(cp, chunks)
	m.documentChunks[documentID] = cp
	return nil
}

// --- images ---

func (m *Memory) GetImage(ctx context.Context, ownerID, id string) (domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok || img.OwnerID != ownerID {
		return domain.Image{}, fmt.Errorf("image %s: %w", id, errs.ErrNotFound)
	}
	return img, nil
}

func (m *Memory) PutImage(ctx context.Context, img domain.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = img
	return nil
}

func (m *Memory) ReplaceImageChunks(ctx context.Context, imageID string, chunks []domain.ImageChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.ImageChunk, len(chunks))
	copy(cp, chunks)
	m.imageChunks[imageID] = cp
	return nil
}

// --- tags ---

func (m *Memory) TagsFor(ctx context.Context, ownerID, entityID string) ([]domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Tag(nil), m.tags[entityID]...), nil
}

func (m *Memory) AllTags(ctx context.Context, ownerID string) ([]domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName := m.allTags[ownerID]
	out := make([]domain.Tag, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetEntityTags is a memory-store-only helper used by ingestion paths to
// populate the tag join table; the interface only needs read access.
func (m *Memory) SetEntityTags(ownerID, entityID string, tags []domain.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[entityID] = tags
	if m.allTags[ownerID] == nil {
		m.allTags[ownerID] = map[string]domain.Tag{}
	}
	for _, t := range tags {
		m.allTags[ownerID][t.Name] = t
	}
}

// --- wikilinks ---

func (m *Memory) ReplaceOutgoing(ctx context.Context, sourceNoteID string, links []domain.WikiLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.WikiLink, len(links))
	copy(cp, links)
	m.wikilinksOut[sourceNoteID] = cp
	return nil
}

func (m *Memory) Outgoing(ctx context.Context, noteID string) ([]domain.WikiLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.WikiLink(nil), m.wikilinksOut[noteID]...), nil
}

func (m *Memory) Incoming(ctx context.Context, noteID string) ([]domain.WikiLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.WikiLink
	for _, links := range m.wikilinksOut {
		for _, l := range links {
			if l.TargetNoteID == noteID {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (m *Memory) AllWikiLinks(ctx context.Context, ownerID string) ([]domain.WikiLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.WikiLink
	for _, links := range m.wikilinksOut {
		for _, l := range links {
			if l.OwnerID == ownerID {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// --- semantic edges ---

func (m *Memory) ReplaceForOwner(ctx context.Context, ownerID string, edges []domain.SemanticEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.SemanticEdge, len(edges))
	copy(cp, edges)
	m.semanticEdges[ownerID] = cp
	return nil
}

func (m *Memory) EdgesFor(ctx context.Context, ownerID, entityID string) ([]domain.SemanticEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SemanticEdge
	for _, e := range m.semanticEdges[ownerID] {
		if e.SourceID == entityID || e.TargetID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AllSemanticEdges(ctx context.Context, ownerID string) ([]domain.SemanticEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.SemanticEdge(nil), m.semanticEdges[ownerID]...), nil
}

// --- communities ---

func (m *Memory) ReplaceCommunities(ctx context.Context, ownerID string, communities []domain.CommunityMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.CommunityMetadata, len(communities))
	copy(cp, communities)
	m.communities[ownerID] = cp
	return nil
}

func (m *Memory) Communities(ctx context.Context, ownerID string) ([]domain.CommunityMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.CommunityMetadata(nil), m.communities[ownerID]...), nil
}

// --- graph positions ---

func (m *Memory) Positions(ctx context.Context, ownerID string) ([]domain.GraphPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.GraphPosition, 0, len(m.positions[ownerID]))
	for _, p := range m.positions[ownerID] {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) PutPositions(ctx context.Context, positions []domain.GraphPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if m.positions[p.OwnerID] == nil {
			m.positions[p.OwnerID] = map[string]domain.GraphPosition{}
		}
		if existing, ok := m.positions[p.OwnerID][p.NoteID]; ok && existing.IsPinned {
			continue
		}
		m.positions[p.OwnerID][p.NoteID] = p
	}
	return nil
}

// --- conversations ---

func (m *Memory) GetConversation(ctx context.Context, ownerID, id string) (domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, errs.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) PutConversation(ctx context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *Memory) Messages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[conversationID]
	if limit <= 0 || limit >= len(all) {
		return append([]domain.ChatMessage(nil), all...), nil
	}
	return append([]domain.ChatMessage(nil), all[len(all)-limit:]...), nil
}

func (m *Memory) PutCitations(ctx context.Context, citations []domain.NexusCitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range citations {
		m.citations[c.MessageID] = append(m.citations[c.MessageID], c)
	}
	return nil
}

func (m *Memory) Citations(ctx context.Context, messageID string) ([]domain.NexusCitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.NexusCitation(nil), m.citations[messageID]...), nil
}

// --- brain ---

func (m *Memory) GetBrainFile(ctx context.Context, ownerID, fileKey string) (domain.BrainFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.brainFiles[ownerID][fileKey]
	if !ok {
		return domain.BrainFile{}, fmt.Errorf("brain file %s: %w", fileKey, errs.ErrNotFound)
	}
	return f, nil
}

func (m *Memory) PutBrainFile(ctx context.Context, f domain.BrainFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.brainFiles[f.OwnerID] == nil {
		m.brainFiles[f.OwnerID] = map[string]domain.BrainFile{}
	}
	if existing, ok := m.brainFiles[f.OwnerID][f.FileKey]; ok && existing.IsUserEdited && domain.CoreFileTypes[f.FileType] {
		f.Content = existing.Content
		f.IsUserEdited = true
	}
	m.brainFiles[f.OwnerID][f.FileKey] = f
	return nil
}

func (m *Memory) BrainFiles(ctx context.Context, ownerID string) ([]domain.BrainFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.BrainFile, 0, len(m.brainFiles[ownerID]))
	for _, f := range m.brainFiles[ownerID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileKey < out[j].FileKey })
	return out, nil
}

func (m *Memory) BrainFilesByType(ctx context.Context, ownerID string, t domain.BrainFileType) ([]domain.BrainFile, error) {
	all, _ := m.BrainFiles(ctx, ownerID)
	out := all[:0:0]
	for _, f := range all {
		if f.FileType == t {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Memory) DeleteBrainFilesNotIn(ctx context.Context, ownerID string, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	for key, f := range m.brainFiles[ownerID] {
		if !keepSet[key] && !(f.IsUserEdited && domain.CoreFileTypes[f.FileType]) {
			delete(m.brainFiles[ownerID], key)
		}
	}
	return nil
}

func (m *Memory) GetBrainConversation(ctx context.Context, ownerID, id string) (domain.BrainConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.brainConversations[id]
	if !ok || c.OwnerID != ownerID {
		return domain.BrainConversation{}, fmt.Errorf("brain conversation %s: %w", id, errs.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) PutBrainConversation(ctx context.Context, c domain.BrainConversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brainConversations[c.ID] = c
	return nil
}

func (m *Memory) AppendBrainMessage(ctx context.Context, msg domain.BrainMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brainMessages[msg.ConversationID] = append(m.brainMessages[msg.ConversationID], msg)
	return nil
}

func (m *Memory) BrainMessages(ctx context.Context, conversationID string, limit int) ([]domain.BrainMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.brainMessages[conversationID]
	if limit <= 0 || limit >= len(all) {
		return append([]domain.BrainMessage(nil), all...), nil
	}
	return append([]domain.BrainMessage(nil), all[len(all)-limit:]...), nil
}

// --- navigation cache ---

func (m *Memory) GetNavigationCache(ctx context.Context, ownerID string, t domain.NavigationCacheType) (domain.NexusNavigationCache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.navCache[ownerID][t]
	if !ok {
		return domain.NexusNavigationCache{}, fmt.Errorf("navigation cache %s: %w", t, errs.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) PutNavigationCache(ctx context.Context, c domain.NexusNavigationCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.navCache[c.OwnerID] == nil {
		m.navCache[c.OwnerID] = map[domain.NavigationCacheType]domain.NexusNavigationCache{}
	}
	m.navCache[c.OwnerID][c.CacheType] = c
	return nil
}

// --- importance ---

func (m *Memory) ReplaceScores(ctx context.Context, ownerID string, scores []domain.NexusImportanceScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.NexusImportanceScore, len(scores))
	copy(cp, scores)
	m.importance[ownerID] = cp
	return nil
}

func (m *Memory) Scores(ctx context.Context, ownerID string) ([]domain.NexusImportanceScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.NexusImportanceScore(nil), m.importance[ownerID]...), nil
}

// --- link suggestions ---

func (m *Memory) UpsertSuggestion(ctx context.Context, s domain.NexusLinkSuggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.SourceNoteID + "|" + s.TargetNoteID
	if existing, ok := m.suggestions[key]; ok && existing.Status != domain.LinkPending {
		return nil
	}
	m.suggestions[key] = s
	return nil
}

func (m *Memory) Suggestions(ctx context.Context, ownerID string, status domain.LinkSuggestionStatus) ([]domain.NexusLinkSuggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NexusLinkSuggestion
	for _, s := range m.suggestions {
		if s.OwnerID == ownerID && s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SetStatus(ctx context.Context, id string, status domain.LinkSuggestionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.suggestions {
		if s.ID == id {
			s.Status = status
			m.suggestions[key] = s
			return nil
		}
	}
	return fmt.Errorf("link suggestion %s: %w", id, errs.ErrNotFound)
}

// --- usage ---

func (m *Memory) LogUsage(ctx context.Context, u domain.AIUsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, u)
	return nil
}

// --- jobs ---

func (m *Memory) EnqueueJob(ctx context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	m.jobs[j.ID] = j
	return nil
}

// ClaimNextJob picks the oldest queued, due job, in creation order so
// earlier-enqueued work is not starved by a flood of later jobs.
func (m *Memory) ClaimNextJob(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.Job
	for key, j := range m.jobs {
		if j.Status != domain.JobQueued || j.RunAfter.After(now) {
			continue
		}
		if best == nil || j.CreatedAt.Before(best.CreatedAt) {
			jCopy := m.jobs[key]
			best = &jCopy
		}
	}
	if best == nil {
		return domain.Job{}, false, nil
	}
	best.Status = domain.JobProcessing
	best.UpdatedAt = now
	m.jobs[best.ID] = *best
	return *best, true, nil
}

func (m *Memory) CompleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errs.ErrNotFound)
	}
	j.Status = domain.JobCompleted
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

func (m *Memory) RetryJob(ctx context.Context, id, lastErr string, runAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errs.ErrNotFound)
	}
	j.Status = domain.JobQueued
	j.Attempts++
	j.LastError = lastErr
	j.RunAfter = runAfter
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

func (m *Memory) FailJob(ctx context.Context, id, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errs.ErrNotFound)
	}
	j.Status = domain.JobFailed
	j.LastError = lastErr
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

// ResetStuckJobs implements the stuck-task recovery sweep (§4.13): any job
// left JobProcessing past olderThan is reset to JobFailed so callers may
// requeue it.
func (m *Memory) ResetStuckJobs(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, j := range m.jobs {
		if j.Status == domain.JobProcessing && j.UpdatedAt.Before(olderThan) {
			j.Status = domain.JobFailed
			j.LastError = "stuck in processing past the recovery threshold"
			j.UpdatedAt = time.Now()
			m.jobs[id] = j
			count++
		}
	}
	return count, nil
}
