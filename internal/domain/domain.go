// Package domain holds the entity contracts of spec.md §3: the persistent
// knowledge graph (notes, chunks, documents, images), the derived graph
// metadata NEXUS consumes, and the Brain's two-tier memory files.
package domain

import "time"

// AIAnalysisStatus tracks background enrichment of documents and images.
type AIAnalysisStatus string

const (
	StatusQueued      AIAnalysisStatus = "queued"
	StatusProcessing  AIAnalysisStatus = "processing"
	StatusNeedsReview AIAnalysisStatus = "needs_review"
	StatusCompleted   AIAnalysisStatus = "completed"
	StatusFailed      AIAnalysisStatus = "failed"
)

// ChunkType classifies a chunk's leading content for citation rendering.
type ChunkType string

const (
	ChunkParagraph ChunkType = "paragraph"
	ChunkHeading   ChunkType = "heading"
	ChunkList      ChunkType = "list"
	ChunkCode      ChunkType = "code"
)

// Note is the atomic unit of the knowledge graph. A trashed note must never
// appear in retrieval results; a nil Embedding is treated by the ranker as
// zero similarity rather than an error.
type Note struct {
	ID          string
	OwnerID     string
	Title       string
	Slug        string
	Content     string
	HTML        string
	Embedding   []float32
	CommunityID *int
	IsTrashed   bool
	IsFavorite  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NoteChunk is a retrievable fragment of a Note. (NoteID, ChunkIndex) is
// unique; all chunks for a note are rewritten atomically on regeneration.
type NoteChunk struct {
	ID         string
	NoteID     string
	Content    string
	ChunkIndex int
	ChunkType  ChunkType
	CharStart  int
	CharEnd    int
	Embedding  []float32
}

// Document is an uploaded file whose extracted text feeds DocumentChunks
// and, on success, a generated summary Note.
type Document struct {
	ID                 string
	OwnerID            string
	Title              string
	ExtractedText      string
	PageCount          int
	AISummary          string
	SuggestedTags      []string
	SuggestedWikilinks []string
	AIAnalysisStatus   AIAnalysisStatus
	SummaryNoteID       *string
	Embedding          []float32
	IsTrashed          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DocumentChunk mirrors NoteChunk but also carries a page number and exists
// only when extraction succeeded.
type DocumentChunk struct {
	ID         string
	DocumentID string
	Content    string
	ChunkIndex int
	ChunkType  ChunkType
	PageNumber int
	CharStart  int
	CharEnd    int
	Embedding  []float32
}

// Image is an owned media asset that may carry AI analysis and its own RAG
// chunks.
type Image struct {
	ID               string
	OwnerID          string
	FilePath         string
	BlurHash         string
	AIAnalysisStatus AIAnalysisStatus
	AIAnalysisResult string
	Embedding        []float32
	IsTrashed        bool
	IsFavorite       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ImageChunk holds fragments of an image's AI analysis text for RAG.
type ImageChunk struct {
	ID         string
	ImageID    string
	Content    string
	ChunkIndex int
	Embedding  []float32
}

// Tag is a per-owner label joined many-to-many to notes/images.
type Tag struct {
	ID      string
	OwnerID string
	Name    string
}

// WikiLink is a directed edge resolved from a `[[Title]]` / `[[Title|alias]]`
// marker in note content. Edges are deduplicated per ordered pair.
type WikiLink struct {
	ID           string
	OwnerID      string
	SourceNoteID string
	TargetNoteID string
	Alias        string
}

// SemanticEdgeSourceType distinguishes which entity kinds a semantic edge
// connects; the core only requires note<->note edges for ranking, but the
// field keeps the shape open for images/documents.
type SemanticEdgeSourceType string

const (
	SourceNote     SemanticEdgeSourceType = "note"
	SourceDocument SemanticEdgeSourceType = "document"
	SourceImage    SemanticEdgeSourceType = "image"
)

// SemanticEdge is an undirected similarity link between two entities above
// a configurable threshold (default 0.7).
type SemanticEdge struct {
	ID               string
	OwnerID          string
	SourceID         string
	TargetID         string
	SourceType       SemanticEdgeSourceType
	TargetType       SemanticEdgeSourceType
	SimilarityScore  float64
	UpdatedAt        time.Time
}

// CommunityMetadata describes a cluster of densely interlinked notes
// produced by modularity optimization. Cluster IDs are stable within a
// single consolidation run but may renumber across runs.
type CommunityMetadata struct {
	OwnerID    string
	CommunityID int
	Label      string
	NodeCount  int
	TopTerms   []string
	CenterX    float64
	CenterY    float64
}

// GraphPosition is a cached (x,y) for map view, optionally pinned by the
// user so consolidation does not move it.
type GraphPosition struct {
	OwnerID  string
	NoteID   string
	X        float64
	Y        float64
	IsPinned bool
}

// Conversation is a user chat session; NEXUS and Brain chat use separate
// Conversation/BrainConversation tracks.
type Conversation struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is one turn of a Conversation.
type ChatMessage struct {
	ID               string
	ConversationID   string
	Role             string // "user" | "assistant"
	Content          string
	ConfidenceScore  float64
	ErrorType        string
	CreatedAt        time.Time
}

// CitationOrigin records why a cited source exists: a manually written note
// vs. one generated from image or document analysis.
type CitationOrigin string

const (
	OriginManual          CitationOrigin = "manual"
	OriginImageAnalysis    CitationOrigin = "image_analysis"
	OriginDocumentAnalysis CitationOrigin = "document_analysis"
)

// NexusCitation is a rich per-assistant-message citation record capturing
// origin, community context, direct wikilinks, and paths to co-cited
// sources.
type NexusCitation struct {
	ID                 string
	MessageID          string
	SourceType         string // note | chunk | document_chunk | image
	SourceID           string
	CitationIndex      int
	RelevanceScore     float64
	RetrievalMethod    string
	OriginType         CitationOrigin
	ArtifactID         string
	CommunityName      string
	CommunityID        *int
	Tags               []string
	DirectWikilinks    []string
	PathToOtherResults []string
	NoteURL            string
	GraphURL           string
	ArtifactURL        string
}

// NexusRichCitation is the in-flight, UI-facing form of a citation: every
// ranked candidate the context assembler resolved (including any that did
// not fit the prompt's token budget), carrying
// its graph context and deep-link URLs. NexusCitation (above) is the subset
// actually persisted once the assistant's reply is known to reference it.
type NexusRichCitation struct {
	Index              int
	SourceType         string
	SourceID           string
	Title              string
	ContentPreview     string
	RelevanceScore     float64
	RetrievalMethod    string
	HopCount           int
	OriginType         CitationOrigin
	ArtifactID         string
	ArtifactFilename   string
	CommunityName      string
	CommunityID        *int
	CommunityTopTerms  string
	Tags               []string
	DirectWikilinks    []string
	PathToOtherResults []string
	NoteURL            string
	GraphURL           string
	ArtifactURL        string
}

// ConnectionInsight is a discovered relationship between two included
// citations, indexed by their position in AssembledContext.RichCitations.
type ConnectionInsight struct {
	SourceIndex    int
	TargetIndex    int
	ConnectionType string // wikilink | shared_community | shared_tag | co_retrieval
	Description    string
}

// ExplorationSuggestion is a follow-up query surfaced from graph context
// (a community or tag) not fully covered by the current citations.
type ExplorationSuggestion struct {
	Query                  string
	Reason                 string
	RelatedCitationIndices []int
}

// AssembledContext is the Context Assembler's output (§4.8): the prompt
// text plus everything needed to render rich citations and suggestions in
// the UI. TotalTokensApprox counts the packed citation blocks with the
// cl100k_base tokenizer, or as a chars/4 estimate when that encoding is
// unavailable.
type AssembledContext struct {
	SystemPrompt           string
	RichCitations          []NexusRichCitation
	ConnectionInsights     []ConnectionInsight
	ExplorationSuggestions []ExplorationSuggestion
	TotalTokensApprox      int
	Truncated              bool
}

// BrainFileType enumerates the kinds of file in a user's Brain.
type BrainFileType string

const (
	FileSoul        BrainFileType = "soul"
	FileMnemosyne   BrainFileType = "mnemosyne"
	FileMemory      BrainFileType = "memory"
	FileUserProfile BrainFileType = "user_profile"
	FileAskimap     BrainFileType = "askimap"
	FileTopic       BrainFileType = "topic"
)

// CoreFileTypes names the files §4.10 preserves when IsUserEdited is set.
var CoreFileTypes = map[BrainFileType]bool{
	FileSoul:   true,
	FileMemory: true,
}

// BrainFile is one row of the user's synthesized knowledge representation.
// (OwnerID, FileKey) is unique.
type BrainFile struct {
	ID                   string
	OwnerID              string
	FileKey              string
	FileType             BrainFileType
	Title                string
	Content              string
	CompressedContent    string
	CompressedTokenCount int
	CommunityID          *int
	TopicKeywords        []string
	SourceNoteIDs        []string
	TokenCountApprox     int
	Embedding            []float32
	ContentHash          string
	Version              int
	IsStale              bool
	IsUserEdited         bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BrainConversation is the separate history track for Brain chat.
type BrainConversation struct {
	ID                    string
	OwnerID               string
	Title                 string
	MessagesSinceSummary  int
	ConversationSummary   string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// BrainMessage records which brain files and topics fed an assistant turn.
type BrainMessage struct {
	ID                string
	ConversationID    string
	Role              string
	Content           string
	BrainFilesLoaded  []string
	TopicsMatched     []string
	CreatedAt         time.Time
}

// NavigationCacheType enumerates the two compact navigation blobs.
type NavigationCacheType string

const (
	CacheCommunityMap NavigationCacheType = "community_map"
	CacheTagOverview  NavigationCacheType = "tag_overview"
)

// NexusNavigationCache is a per-owner compact text blob consumed by the
// Graph Navigator, with a monotonically increasing version.
type NexusNavigationCache struct {
	OwnerID   string
	CacheType NavigationCacheType
	Content   string
	Version   int
	UpdatedAt time.Time
}

// NexusImportanceScore is a note's PageRank score, refreshed by
// consolidation.
type NexusImportanceScore struct {
	OwnerID string
	NoteID  string
	Score   float64
}

// LinkSuggestionStatus tracks user review of a missing-link candidate.
type LinkSuggestionStatus string

const (
	LinkPending   LinkSuggestionStatus = "pending"
	LinkAccepted  LinkSuggestionStatus = "accepted"
	LinkDismissed LinkSuggestionStatus = "dismissed"
)

// NexusLinkSuggestion is a candidate missing wikilink detected during
// consolidation. A user decision is never overwritten by a later run.
type NexusLinkSuggestion struct {
	ID             string
	OwnerID        string
	SourceNoteID   string
	TargetNoteID   string
	SimilarityScore float64
	Status         LinkSuggestionStatus
	CreatedAt      time.Time
}

// AIUsageLog records a single provider call for cost accounting.
type AIUsageLog struct {
	ID             string
	OwnerID        string
	Provider       string
	Model          string
	InputTokens    int
	OutputTokens   int
	UseCase        string
	ConversationID string
	EstimatedCostUSD float64
	CreatedAt      time.Time
}

// JobKind enumerates the background job types the Task Orchestrator (§4.13)
// runs. Payload carries kind-specific arguments as a JSON-shaped map so the
// queue itself stays agnostic of any one job's argument shape.
type JobKind string

const (
	JobDocumentAnalyze     JobKind = "document_analyze"
	JobDocumentEmbed       JobKind = "document_embed"
	JobImageAnalyze        JobKind = "image_analyze"
	JobNoteEmbed           JobKind = "note_embed"
	JobBrainBuild          JobKind = "brain_build"
	JobIncrementalUpdate   JobKind = "incremental_update"
	JobMemoryEvolution     JobKind = "memory_evolution"
	JobConversationSummary JobKind = "conversation_summary"
	JobConsolidation       JobKind = "consolidation"
)

// JobStatus is a Job's lifecycle state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of at-least-once background work. EntityID is the
// note/document/image/conversation the job acts on, for idempotent
// re-processing; Payload carries any additional kind-specific arguments.
type Job struct {
	ID         string
	OwnerID    string
	Kind       JobKind
	EntityID   string
	Payload    map[string]any
	Status     JobStatus
	Attempts   int
	MaxRetries int
	LastError  string
	RunAfter   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
