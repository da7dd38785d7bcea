// Package store defines the persistence interfaces NEXUS's components use
// and an in-memory implementation of them, following the teacher's pluggable
// backend pattern in internal/persistence/databases (FullTextSearch,
// VectorStore, GraphDB interfaces + a Manager holding concrete backends).
package store

import (
	"context"
	"time"

	"mnemosyne/internal/domain"
)

// NoteStore persists notes and their chunks. A trashed note must never be
// returned by List/Search.
type NoteStore interface {
	GetNote(ctx context.Context, ownerID, id string) (domain.Note, error)
	PutNote(ctx context.Context, n domain.Note) error
	ListNotes(ctx context.Context, ownerID string) ([]domain.Note, error)
	ReplaceChunks(ctx context.Context, noteID string, chunks []domain.NoteChunk) error
	ChunksForNote(ctx context.Context, noteID string) ([]domain.NoteChunk, error)
}

// DocumentStore persists uploaded documents and their chunks.
type DocumentStore interface {
	GetDocument(ctx context.Context, ownerID, id string) (domain.Document, error)
	PutDocument(ctx context.Context, d domain.Document) error
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error
}

// ImageStore persists owned images and their analysis chunks.
type ImageStore interface {
	GetImage(ctx context.Context, ownerID, id string) (domain.Image, error)
	PutImage(ctx context.Context, img domain.Image) error
	ReplaceImageChunks(ctx context.Context, imageID string, chunks []domain.ImageChunk) error
}

// TagStore resolves the tags attached to a note or image.
type TagStore interface {
	TagsFor(ctx context.Context, ownerID, entityID string) ([]domain.Tag, error)
	AllTags(ctx context.Context, ownerID string) ([]domain.Tag, error)
}

// WikiLinkStore persists and queries the directed wikilink graph.
type WikiLinkStore interface {
	ReplaceOutgoing(ctx context.Context, sourceNoteID string, links []domain.WikiLink) error
	Outgoing(ctx context.Context, noteID string) ([]domain.WikiLink, error)
	Incoming(ctx context.Context, noteID string) ([]domain.WikiLink, error)
	AllWikiLinks(ctx context.Context, ownerID string) ([]domain.WikiLink, error)
}

// SemanticEdgeStore persists the undirected similarity graph.
type SemanticEdgeStore interface {
	ReplaceForOwner(ctx context.Context, ownerID string, edges []domain.SemanticEdge) error
	EdgesFor(ctx context.Context, ownerID, entityID string) ([]domain.SemanticEdge, error)
	AllSemanticEdges(ctx context.Context, ownerID string) ([]domain.SemanticEdge, error)
}

// CommunityStore persists the output of modularity optimization.
type CommunityStore interface {
	ReplaceCommunities(ctx context.Context, ownerID string, communities []domain.CommunityMetadata) error
	Communities(ctx context.Context, ownerID string) ([]domain.CommunityMetadata, error)
}

// GraphPositionStore persists cached map-view coordinates.
type GraphPositionStore interface {
	Positions(ctx context.Context, ownerID string) ([]domain.GraphPosition, error)
	PutPositions(ctx context.Context, positions []domain.GraphPosition) error
}

// ConversationStore persists NEXUS chat history.
type ConversationStore interface {
	GetConversation(ctx context.Context, ownerID, id string) (domain.Conversation, error)
	PutConversation(ctx context.Context, c domain.Conversation) error
	AppendMessage(ctx context.Context, m domain.ChatMessage) error
	Messages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error)
	PutCitations(ctx context.Context, citations []domain.NexusCitation) error
	Citations(ctx context.Context, messageID string) ([]domain.NexusCitation, error)
}

// BrainStore persists the Brain's two-tier memory files and its own chat
// history track.
type BrainStore interface {
	GetBrainFile(ctx context.Context, ownerID, fileKey string) (domain.BrainFile, error)
	PutBrainFile(ctx context.Context, f domain.BrainFile) error
	BrainFiles(ctx context.Context, ownerID string) ([]domain.BrainFile, error)
	BrainFilesByType(ctx context.Context, ownerID string, t domain.BrainFileType) ([]domain.BrainFile, error)
	DeleteBrainFilesNotIn(ctx context.Context, ownerID string, keep []string) error

	GetBrainConversation(ctx context.Context, ownerID, id string) (domain.BrainConversation, error)
	PutBrainConversation(ctx context.Context, c domain.BrainConversation) error
	AppendBrainMessage(ctx context.Context, m domain.BrainMessage) error
	BrainMessages(ctx context.Context, conversationID string, limit int) ([]domain.BrainMessage, error)
}

// NavigationStore persists the compact navigation-cache blobs the Graph
// Navigator consumes.
type NavigationStore interface {
	GetNavigationCache(ctx context.Context, ownerID string, t domain.NavigationCacheType) (domain.NexusNavigationCache, error)
	PutNavigationCache(ctx context.Context, c domain.NexusNavigationCache) error
}

// ImportanceStore persists per-note PageRank scores.
type ImportanceStore interface {
	ReplaceScores(ctx context.Context, ownerID string, scores []domain.NexusImportanceScore) error
	Scores(ctx context.Context, ownerID string) ([]domain.NexusImportanceScore, error)
}

// LinkSuggestionStore persists missing-link candidates; a user decision on
// an existing suggestion must never be overwritten by a later consolidation
// run.
type LinkSuggestionStore interface {
	UpsertSuggestion(ctx context.Context, s domain.NexusLinkSuggestion) error
	Suggestions(ctx context.Context, ownerID string, status domain.LinkSuggestionStatus) ([]domain.NexusLinkSuggestion, error)
	SetStatus(ctx context.Context, id string, status domain.LinkSuggestionStatus) error
}

// UsageLogStore records provider calls for cost accounting.
type UsageLogStore interface {
	LogUsage(ctx context.Context, u domain.AIUsageLog) error
}

// JobStore persists the Task Orchestrator's durable job queue (§4.13).
// ClaimNextJob must atomically move one due, queued job to JobProcessing so
// two workers polling concurrently never claim the same row. ResetStuckJobs
// implements the stuck-task recovery sweep: any job left JobProcessing past
// olderThan is reset to JobFailed.
type JobStore interface {
	EnqueueJob(ctx context.Context, j domain.Job) error
	ClaimNextJob(ctx context.Context, now time.Time) (domain.Job, bool, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id, lastErr string, runAfter time.Time) error
	FailJob(ctx context.Context, id, lastErr string) error
	ResetStuckJobs(ctx context.Context, olderThan time.Time) (int, error)
}

// VectorResult is a single nearest-neighbor hit, mirroring the teacher's
// databases.VectorResult shape.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorIndex is a pluggable embedding index, implemented by both the
// Postgres/pgvector store and the Qdrant adapter (C4).
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// FullTextResult is a single full-text search hit.
type FullTextResult struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]string
}

// FullTextIndex is a pluggable lexical search backend (C4). Search's filter
// behaves like VectorIndex.SimilaritySearch's: a metadata-containment match,
// used by C4 to scope results to an owner and optionally a source type.
type FullTextIndex interface {
	Index(ctx context.Context, id, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int, filter map[string]string) ([]FullTextResult, error)
}

// Store aggregates every persistence capability NEXUS needs, mirroring the
// teacher's databases.Manager aggregate.
type Store interface {
	NoteStore
	DocumentStore
	ImageStore
	TagStore
	WikiLinkStore
	SemanticEdgeStore
	CommunityStore
	GraphPositionStore
	ConversationStore
	BrainStore
	NavigationStore
	ImportanceStore
	LinkSuggestionStore
	UsageLogStore
	JobStore

	Close()
}
