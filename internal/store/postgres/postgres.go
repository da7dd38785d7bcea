// Package postgres implements store.Store and store.FullTextIndex on top of
// Postgres, pgvector, and pg_trgm, grounded on the teacher's
// internal/persistence/databases pg* adapters (pool-per-Manager,
// CREATE TABLE IF NOT EXISTS bootstrap, ON CONFLICT upserts).
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/store"
)

// Store is a Postgres-backed store.Store, also implementing
// store.FullTextIndex and store.VectorIndex over the chunk tables.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool, bootstraps the schema, and returns a
// ready-to-use Store.
func Open(ctx context.Context, dsn string, embeddingDim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.bootstrap(ctx, embeddingDim); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) bootstrap(ctx context.Context, dim int) error {
	vec := "vector"
	if dim > 0 {
		vec = fmt.Sprintf("vector(%d)", dim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, title TEXT NOT NULL,
			slug TEXT NOT NULL DEFAULT '', content TEXT NOT NULL DEFAULT '',
			html TEXT NOT NULL DEFAULT '', embedding ` + vec + `,
			community_id INT, is_trashed BOOLEAN NOT NULL DEFAULT false,
			is_favorite BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS note_chunks (
			id TEXT PRIMARY KEY, note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			content TEXT NOT NULL, chunk_index INT NOT NULL, chunk_type TEXT NOT NULL,
			char_start INT NOT NULL, char_end INT NOT NULL, embedding ` + vec + `,
			UNIQUE(note_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, title TEXT NOT NULL,
			extracted_text TEXT NOT NULL DEFAULT '', page_count INT NOT NULL DEFAULT 0,
			ai_summary TEXT NOT NULL DEFAULT '', suggested_tags JSONB NOT NULL DEFAULT '[]',
			suggested_wikilinks JSONB NOT NULL DEFAULT '[]', ai_analysis_status TEXT NOT NULL DEFAULT 'queued',
			summary_note_id TEXT, embedding ` + vec + `, is_trashed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY, document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL, chunk_index INT NOT NULL, chunk_type TEXT NOT NULL,
			page_number INT NOT NULL DEFAULT 0, char_start INT NOT NULL, char_end INT NOT NULL,
			embedding ` + vec + `, UNIQUE(document_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, file_path TEXT NOT NULL,
			blur_hash TEXT NOT NULL DEFAULT '', ai_analysis_status TEXT NOT NULL DEFAULT 'queued',
			ai_analysis_result TEXT NOT NULL DEFAULT '', embedding ` + vec + `,
			is_trashed BOOLEAN NOT NULL DEFAULT false, is_favorite BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS image_chunks (
			id TEXT PRIMARY KEY, image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			content TEXT NOT NULL, chunk_index INT NOT NULL, embedding ` + vec + `
		)`,
		`CREATE TABLE IF NOT EXISTS entity_tags (
			owner_id TEXT NOT NULL, entity_id TEXT NOT NULL, tag_id TEXT NOT NULL, tag_name TEXT NOT NULL,
			PRIMARY KEY (entity_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS wikilinks (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, source_note_id TEXT NOT NULL,
			target_note_id TEXT NOT NULL, alias TEXT NOT NULL DEFAULT '',
			UNIQUE(source_note_id, target_note_id)
		)`,
		`CREATE TABLE IF NOT EXISTS semantic_edges (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, source_id TEXT NOT NULL, target_id TEXT NOT NULL,
			source_type TEXT NOT NULL, target_type TEXT NOT NULL, similarity_score DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS communities (
			owner_id TEXT NOT NULL, community_id INT NOT NULL, label TEXT NOT NULL DEFAULT '',
			node_count INT NOT NULL DEFAULT 0, top_terms JSONB NOT NULL DEFAULT '[]',
			center_x DOUBLE PRECISION NOT NULL DEFAULT 0, center_y DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (owner_id, community_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graph_positions (
			owner_id TEXT NOT NULL, note_id TEXT NOT NULL, x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL, is_pinned BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (owner_id, note_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY, conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL, content TEXT NOT NULL, confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '', created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS nexus_citations (
			id TEXT PRIMARY KEY, message_id TEXT NOT NULL, source_type TEXT NOT NULL, source_id TEXT NOT NULL,
			citation_index INT NOT NULL, relevance_score DOUBLE PRECISION NOT NULL, retrieval_method TEXT NOT NULL DEFAULT '',
			origin_type TEXT NOT NULL DEFAULT 'manual', artifact_id TEXT NOT NULL DEFAULT '',
			community_name TEXT NOT NULL DEFAULT '', community_id INT, tags JSONB NOT NULL DEFAULT '[]',
			direct_wikilinks JSONB NOT NULL DEFAULT '[]', path_to_other_results JSONB NOT NULL DEFAULT '[]',
			note_url TEXT NOT NULL DEFAULT '', graph_url TEXT NOT NULL DEFAULT '', artifact_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS brain_files (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, file_key TEXT NOT NULL, file_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '', content TEXT NOT NULL DEFAULT '',
			compressed_content TEXT NOT NULL DEFAULT '', compressed_token_count INT NOT NULL DEFAULT 0,
			community_id INT, topic_keywords JSONB NOT NULL DEFAULT '[]', source_note_ids JSONB NOT NULL DEFAULT '[]',
			token_count_approx INT NOT NULL DEFAULT 0, embedding ` + vec + `, content_hash TEXT NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 1, is_stale BOOLEAN NOT NULL DEFAULT false,
			is_user_edited BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(owner_id, file_key)
		)`,
		`CREATE TABLE IF NOT EXISTS brain_conversations (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, title TEXT NOT NULL DEFAULT '',
			messages_since_summary INT NOT NULL DEFAULT 0, conversation_summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS brain_messages (
			id TEXT PRIMARY KEY, conversation_id TEXT NOT NULL REFERENCES brain_conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL, content TEXT NOT NULL, brain_files_loaded JSONB NOT NULL DEFAULT '[]',
			topics_matched JSONB NOT NULL DEFAULT '[]', created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS navigation_cache (
			owner_id TEXT NOT NULL, cache_type TEXT NOT NULL, content TEXT NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 0, updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_id, cache_type)
		)`,
		`CREATE TABLE IF NOT EXISTS importance_scores (
			owner_id TEXT NOT NULL, note_id TEXT NOT NULL, score DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (owner_id, note_id)
		)`,
		`CREATE TABLE IF NOT EXISTS link_suggestions (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, source_note_id TEXT NOT NULL,
			target_note_id TEXT NOT NULL, similarity_score DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending', created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(source_note_id, target_note_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ai_usage_log (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, provider TEXT NOT NULL, model TEXT NOT NULL,
			input_tokens INT NOT NULL, output_tokens INT NOT NULL, use_case TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '', estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS fulltext_index (
			id TEXT PRIMARY KEY, text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS fulltext_index_ts_idx ON fulltext_index USING GIN (ts)`,
		`CREATE TABLE IF NOT EXISTS vector_index (
			id TEXT PRIMARY KEY, embedding ` + vec + ` NOT NULL, metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, kind TEXT NOT NULL, entity_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}'::jsonb, status TEXT NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0, max_retries INT NOT NULL DEFAULT 3, last_error TEXT NOT NULL DEFAULT '',
			run_after TIMESTAMPTZ NOT NULL DEFAULT now(), created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (status, run_after, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: bootstrap: %w", err)
		}
	}
	return nil
}

func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func jsonOf(v any) ([]byte, error) { return json.Marshal(v) }

// --- notes ---

func (s *Store) GetNote(ctx context.Context, ownerID, id string) (domain.Note, error) {
	var n domain.Note
	var emb *pgvector.Vector
	var communityID *int
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, title, slug, content, html, embedding, community_id,
		is_trashed, is_favorite, created_at, updated_at FROM notes WHERE id=$1 AND owner_id=$2 AND is_trashed=false`,
		id, ownerID).Scan(&n.ID, &n.OwnerID, &n.Title, &n.Slug, &n.Content, &n.HTML, &emb, &communityID,
		&n.IsTrashed, &n.IsFavorite, &n.CreatedAt, &n.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Note{}, fmt.Errorf("note %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return domain.Note{}, errs.Wrap("get note", err)
	}
	if emb != nil {
		n.Embedding = emb.Slice()
	}
	n.CommunityID = communityID
	return n, nil
}

func (s *Store) PutNote(ctx context.Context, n domain.Note) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notes (id, owner_id, title, slug, content, html, embedding,
		community_id, is_trashed, is_favorite, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, slug=EXCLUDED.slug, content=EXCLUDED.content,
			html=EXCLUDED.html, embedding=EXCLUDED.embedding, community_id=EXCLUDED.community_id,
			is_trashed=EXCLUDED.is_trashed, is_favorite=EXCLUDED.is_favorite, updated_at=EXCLUDED.updated_at`,
		n.ID, n.OwnerID, n.Title, n.Slug, n.Content, n.HTML, toVector(n.Embedding), n.CommunityID,
		n.IsTrashed, n.IsFavorite, n.CreatedAt, n.UpdatedAt)
	return errs.Wrap("put note", err)
}

func (s *Store) ListNotes(ctx context.Context, ownerID string) ([]domain.Note, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, title, slug, content, html, community_id,
		is_trashed, is_favorite, created_at, updated_at FROM notes WHERE owner_id=$1 AND is_trashed=false ORDER BY id`, ownerID)
	if err != nil {
		return nil, errs.Wrap("list notes", err)
	}
	defer rows.Close()
	var out []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Slug, &n.Content, &n.HTML, &n.CommunityID,
			&n.IsTrashed, &n.IsFavorite, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, errs.Wrap("scan note", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceChunks(ctx context.Context, noteID string, chunks []domain.NoteChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace chunks", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM note_chunks WHERE note_id=$1`, noteID); err != nil {
		return errs.Wrap("delete chunks", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `INSERT INTO note_chunks (id, note_id, content, chunk_index, chunk_type,
			char_start, char_end, embedding) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, noteID, c.Content, c.ChunkIndex, c.ChunkType, c.CharStart, c.CharEnd, toVector(c.Embedding)); err != nil {
			return errs.Wrap("insert chunk", err)
		}
	}
	return errs.Wrap("commit replace chunks", tx.Commit(ctx))
}

func (s *Store) ChunksForNote(ctx context.Context, noteID string) ([]domain.NoteChunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, note_id, content, chunk_index, chunk_type, char_start, char_end
		FROM note_chunks WHERE note_id=$1 ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, errs.Wrap("chunks for note", err)
	}
	defer rows.Close()
	var out []domain.NoteChunk
	for rows.Next() {
		var c domain.NoteChunk
		if err := rows.Scan(&c.ID, &c.NoteID, &c.Content, &c.ChunkIndex, &c.ChunkType, &c.CharStart, &c.CharEnd); err != nil {
			return nil, errs.Wrap("scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- documents ---

func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (domain.Document, error) {
	var d domain.Document
	var tags, links []byte
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, title, extracted_text, page_count, ai_summary,
		suggested_tags, suggested_wikilinks, ai_analysis_status, summary_note_id, is_trashed, created_at, updated_at
		FROM documents WHERE id=$1 AND owner_id=$2`, id, ownerID).Scan(&d.ID, &d.OwnerID, &d.Title, &d.ExtractedText,
		&d.PageCount, &d.AISummary, &tags, &links, &d.AIAnalysisStatus, &d.SummaryNoteID, &d.IsTrashed, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, errs.Wrap("get document", err)
	}
	_ = json.Unmarshal(tags, &d.SuggestedTags)
	_ = json.Unmarshal(links, &d.SuggestedWikilinks)
	return d, nil
}

func (s *Store) PutDocument(ctx context.Context, d domain.Document) error {
	tags, err := jsonOf(d.SuggestedTags)
	if err != nil {
		return errs.Wrap("marshal suggested tags", err)
	}
	links, err := jsonOf(d.SuggestedWikilinks)
	if err != nil {
		return errs.Wrap("marshal suggested wikilinks", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO documents (id, owner_id, title, extracted_text, page_count, ai_summary,
		suggested_tags, suggested_wikilinks, ai_analysis_status, summary_note_id, embedding, is_trashed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, extracted_text=EXCLUDED.extracted_text,
			page_count=EXCLUDED.page_count, ai_summary=EXCLUDED.ai_summary, suggested_tags=EXCLUDED.suggested_tags,
			suggested_wikilinks=EXCLUDED.suggested_wikilinks, ai_analysis_status=EXCLUDED.ai_analysis_status,
			summary_note_id=EXCLUDED.summary_note_id, embedding=EXCLUDED.embedding, is_trashed=EXCLUDED.is_trashed,
			updated_at=EXCLUDED.updated_at`,
		d.ID, d.OwnerID, d.Title, d.ExtractedText, d.PageCount, d.AISummary, tags, links, d.AIAnalysisStatus,
		d.SummaryNoteID, toVector(d.Embedding), d.IsTrashed, d.CreatedAt, d.UpdatedAt)
	return errs.Wrap("put document", err)
}

func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace document chunks", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return errs.Wrap("delete document chunks", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `INSERT INTO document_chunks (id, document_id, content, chunk_index, chunk_type,
			page_number, char_start, char_end, embedding) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			c.ID, documentID, c.Content, c.ChunkIndex, c.ChunkType, c.PageNumber, c.CharStart, c.CharEnd, toVector(c.Embedding)); err != nil {
			return errs.Wrap("insert document chunk", err)
		}
	}
	return errs.Wrap("commit replace document chunks", tx.Commit(ctx))
}

// --- images ---

func (s *Store) GetImage(ctx context.Context, ownerID, id string) (domain.Image, error) {
	var img domain.Image
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, file_path, blur_hash, ai_analysis_status, ai_analysis_result,
		is_trashed, is_favorite, created_at, updated_at FROM images WHERE id=$1 AND owner_id=$2`, id, ownerID).
		Scan(&img.ID, &img.OwnerID, &img.FilePath, &img.BlurHash, &img.AIAnalysisStatus, &img.AIAnalysisResult,
			&img.IsTrashed, &img.IsFavorite, &img.CreatedAt, &img.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Image{}, fmt.Errorf("image %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return domain.Image{}, errs.Wrap("get image", err)
	}
	return img, nil
}

func (s *Store) PutImage(ctx context.Context, img domain.Image) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO images (id, owner_id, file_path, blur_hash, ai_analysis_status,
		ai_analysis_result, embedding, is_trashed, is_favorite, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET file_path=EXCLUDED.file_path, blur_hash=EXCLUDED.blur_hash,
			ai_analysis_status=EXCLUDED.ai_analysis_status, ai_analysis_result=EXCLUDED.ai_analysis_result,
			embedding=EXCLUDED.embedding, is_trashed=EXCLUDED.is_trashed, is_favorite=EXCLUDED.is_favorite,
			updated_at=EXCLUDED.updated_at`,
		img.ID, img.OwnerID, img.FilePath, img.BlurHash, img.AIAnalysisStatus, img.AIAnalysisResult,
		toVector(img.Embedding), img.IsTrashed, img.IsFavorite, img.CreatedAt, img.UpdatedAt)
	return errs.Wrap("put image", err)
}

func (s *Store) ReplaceImageChunks(ctx context.Context, imageID string, chunks []domain.ImageChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace image chunks", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM image_chunks WHERE image_id=$1`, imageID); err != nil {
		return errs.Wrap("delete image chunks", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `INSERT INTO image_chunks (id, image_id, content, chunk_index, embedding)
			VALUES ($1,$2,$3,$4,$5)`, c.ID, imageID, c.Content, c.ChunkIndex, toVector(c.Embedding)); err != nil {
			return errs.Wrap("insert image chunk", err)
		}
	}
	return errs.Wrap("commit replace image chunks", tx.Commit(ctx))
}

// --- tags ---

func (s *Store) TagsFor(ctx context.Context, ownerID, entityID string) ([]domain.Tag, error) {
	rows, err := s.pool.Query(ctx, `SELECT tag_id, tag_name FROM entity_tags WHERE owner_id=$1 AND entity_id=$2`, ownerID, entityID)
	if err != nil {
		return nil, errs.Wrap("tags for", err)
	}
	defer rows.Close()
	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errs.Wrap("scan tag", err)
		}
		t.OwnerID = ownerID
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AllTags(ctx context.Context, ownerID string) ([]domain.Tag, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tag_id, tag_name FROM entity_tags WHERE owner_id=$1 ORDER BY tag_name`, ownerID)
	if err != nil {
		return nil, errs.Wrap("all tags", err)
	}
	defer rows.Close()
	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errs.Wrap("scan tag", err)
		}
		t.OwnerID = ownerID
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- wikilinks ---

func (s *Store) ReplaceOutgoing(ctx context.Context, sourceNoteID string, links []domain.WikiLink) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace outgoing", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM wikilinks WHERE source_note_id=$1`, sourceNoteID); err != nil {
		return errs.Wrap("delete wikilinks", err)
	}
	for _, l := range links {
		if _, err := tx.Exec(ctx, `INSERT INTO wikilinks (id, owner_id, source_note_id, target_note_id, alias)
			VALUES ($1,$2,$3,$4,$5) ON CONFLICT (source_note_id, target_note_id) DO UPDATE SET alias=EXCLUDED.alias`,
			l.ID, l.OwnerID, sourceNoteID, l.TargetNoteID, l.Alias); err != nil {
			return errs.Wrap("insert wikilink", err)
		}
	}
	return errs.Wrap("commit replace outgoing", tx.Commit(ctx))
}

func (s *Store) Outgoing(ctx context.Context, noteID string) ([]domain.WikiLink, error) {
	return s.queryWikilinks(ctx, `SELECT id, owner_id, source_note_id, target_note_id, alias FROM wikilinks WHERE source_note_id=$1`, noteID)
}

func (s *Store) Incoming(ctx context.Context, noteID string) ([]domain.WikiLink, error) {
	return s.queryWikilinks(ctx, `SELECT id, owner_id, source_note_id, target_note_id, alias FROM wikilinks WHERE target_note_id=$1`, noteID)
}

func (s *Store) AllWikiLinks(ctx context.Context, ownerID string) ([]domain.WikiLink, error) {
	return s.queryWikilinks(ctx, `SELECT id, owner_id, source_note_id, target_note_id, alias FROM wikilinks WHERE owner_id=$1`, ownerID)
}

func (s *Store) queryWikilinks(ctx context.Context, query string, arg string) ([]domain.WikiLink, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errs.Wrap("query wikilinks", err)
	}
	defer rows.Close()
	var out []domain.WikiLink
	for rows.Next() {
		var l domain.WikiLink
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.SourceNoteID, &l.TargetNoteID, &l.Alias); err != nil {
			return nil, errs.Wrap("scan wikilink", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- semantic edges ---

func (s *Store) ReplaceForOwner(ctx context.Context, ownerID string, edges []domain.SemanticEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace semantic edges", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM semantic_edges WHERE owner_id=$1`, ownerID); err != nil {
		return errs.Wrap("delete semantic edges", err)
	}
	for _, e := range edges {
		if _, err := tx.Exec(ctx, `INSERT INTO semantic_edges (id, owner_id, source_id, target_id, source_type,
			target_type, similarity_score, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ID, ownerID, e.SourceID, e.TargetID, e.SourceType, e.TargetType, e.SimilarityScore, e.UpdatedAt); err != nil {
			return errs.Wrap("insert semantic edge", err)
		}
	}
	return errs.Wrap("commit replace semantic edges", tx.Commit(ctx))
}

func (s *Store) EdgesFor(ctx context.Context, ownerID, entityID string) ([]domain.SemanticEdge, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, source_id, target_id, source_type, target_type,
		similarity_score, updated_at FROM semantic_edges WHERE owner_id=$1 AND (source_id=$2 OR target_id=$2)`, ownerID, entityID)
	if err != nil {
		return nil, errs.Wrap("edges for", err)
	}
	defer rows.Close()
	return scanSemanticEdges(rows)
}

func (s *Store) AllSemanticEdges(ctx context.Context, ownerID string) ([]domain.SemanticEdge, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, source_id, target_id, source_type, target_type,
		similarity_score, updated_at FROM semantic_edges WHERE owner_id=$1`, ownerID)
	if err != nil {
		return nil, errs.Wrap("all semantic edges", err)
	}
	defer rows.Close()
	return scanSemanticEdges(rows)
}

func scanSemanticEdges(rows pgx.Rows) ([]domain.SemanticEdge, error) {
	var out []domain.SemanticEdge
	for rows.Next() {
		var e domain.SemanticEdge
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.SourceID, &e.TargetID, &e.SourceType, &e.TargetType,
			&e.SimilarityScore, &e.UpdatedAt); err != nil {
			return nil, errs.Wrap("scan semantic edge", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- communities ---

func (s *Store) ReplaceCommunities(ctx context.Context, ownerID string, communities []domain.CommunityMetadata) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace communities", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM communities WHERE owner_id=$1`, ownerID); err != nil {
		return errs.Wrap("delete communities", err)
	}
	for _, c := range communities {
		terms, err := jsonOf(c.TopTerms)
		if err != nil {
			return errs.Wrap("marshal top terms", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO communities (owner_id, community_id, label, node_count, top_terms,
			center_x, center_y) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ownerID, c.CommunityID, c.Label, c.NodeCount, terms, c.CenterX, c.CenterY); err != nil {
			return errs.Wrap("insert community", err)
		}
	}
	return errs.Wrap("commit replace communities", tx.Commit(ctx))
}

func (s *Store) Communities(ctx context.Context, ownerID string) ([]domain.CommunityMetadata, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id, community_id, label, node_count, top_terms, center_x, center_y
		FROM communities WHERE owner_id=$1 ORDER BY community_id`, ownerID)
	if err != nil {
		return nil, errs.Wrap("communities", err)
	}
	defer rows.Close()
	var out []domain.CommunityMetadata
	for rows.Next() {
		var c domain.CommunityMetadata
		var terms []byte
		if err := rows.Scan(&c.OwnerID, &c.CommunityID, &c.Label, &c.NodeCount, &terms, &c.CenterX, &c.CenterY); err != nil {
			return nil, errs.Wrap("scan community", err)
		}
		_ = json.Unmarshal(terms, &c.TopTerms)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- graph positions ---

func (s *Store) Positions(ctx context.Context, ownerID string) ([]domain.GraphPosition, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id, note_id, x, y, is_pinned FROM graph_positions WHERE owner_id=$1`, ownerID)
	if err != nil {
		return nil, errs.Wrap("positions", err)
	}
	defer rows.Close()
	var out []domain.GraphPosition
	for rows.Next() {
		var p domain.GraphPosition
		if err := rows.Scan(&p.OwnerID, &p.NoteID, &p.X, &p.Y, &p.IsPinned); err != nil {
			return nil, errs.Wrap("scan position", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutPositions(ctx context.Context, positions []domain.GraphPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin put positions", err)
	}
	defer tx.Rollback(ctx)
	for _, p := range positions {
		if _, err := tx.Exec(ctx, `INSERT INTO graph_positions (owner_id, note_id, x, y, is_pinned)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (owner_id, note_id) DO UPDATE SET x=CASE WHEN graph_positions.is_pinned THEN graph_positions.x ELSE EXCLUDED.x END,
				y=CASE WHEN graph_positions.is_pinned THEN graph_positions.y ELSE EXCLUDED.y END,
				is_pinned=graph_positions.is_pinned OR EXCLUDED.is_pinned`,
			p.OwnerID, p.NoteID, p.X, p.Y, p.IsPinned); err != nil {
			return errs.Wrap("upsert position", err)
		}
	}
	return errs.Wrap("commit put positions", tx.Commit(ctx))
}

// --- conversations ---

func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id=$1 AND owner_id=$2`,
		id, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return domain.Conversation{}, errs.Wrap("get conversation", err)
	}
	return c, nil
}

func (s *Store) PutConversation(ctx context.Context, c domain.Conversation) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, updated_at=EXCLUDED.updated_at`,
		c.ID, c.OwnerID, c.Title, c.CreatedAt, c.UpdatedAt)
	return errs.Wrap("put conversation", err)
}

func (s *Store) AppendMessage(ctx context.Context, m domain.ChatMessage) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_messages (id, conversation_id, role, content, confidence_score,
		error_type, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.ConfidenceScore, m.ErrorType, m.CreatedAt)
	return errs.Wrap("append message", err)
}

func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	q := `SELECT id, conversation_id, role, content, confidence_score, error_type, created_at
		FROM chat_messages WHERE conversation_id=$1 ORDER BY created_at`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+` DESC LIMIT $2`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx, q, conversationID)
	}
	if err != nil {
		return nil, errs.Wrap("messages", err)
	}
	defer rows.Close()
	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ConfidenceScore, &m.ErrorType, &m.CreatedAt); err != nil {
			return nil, errs.Wrap("scan message", err)
		}
		out = append(out, m)
	}
	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, rows.Err()
}

func (s *Store) PutCitations(ctx context.Context, citations []domain.NexusCitation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin put citations", err)
	}
	defer tx.Rollback(ctx)
	for _, c := range citations {
		tags, _ := jsonOf(c.Tags)
		direct, _ := jsonOf(c.DirectWikilinks)
		path, _ := jsonOf(c.PathToOtherResults)
		if _, err := tx.Exec(ctx, `INSERT INTO nexus_citations (id, message_id, source_type, source_id,
			citation_index, relevance_score, retrieval_method, origin_type, artifact_id, community_name,
			community_id, tags, direct_wikilinks, path_to_other_results, note_url, graph_url, artifact_url)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			c.ID, c.MessageID, c.SourceType, c.SourceID, c.CitationIndex, c.RelevanceScore, c.RetrievalMethod,
			c.OriginType, c.ArtifactID, c.CommunityName, c.CommunityID, tags, direct, path, c.NoteURL, c.GraphURL, c.ArtifactURL); err != nil {
			return errs.Wrap("insert citation", err)
		}
	}
	return errs.Wrap("commit put citations", tx.Commit(ctx))
}

func (s *Store) Citations(ctx context.Context, messageID string) ([]domain.NexusCitation, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, message_id, source_type, source_id, citation_index, relevance_score,
		retrieval_method, origin_type, artifact_id, community_name, community_id, tags, direct_wikilinks,
		path_to_other_results, note_url, graph_url, artifact_url FROM nexus_citations WHERE message_id=$1 ORDER BY citation_index`, messageID)
	if err != nil {
		return nil, errs.Wrap("citations", err)
	}
	defer rows.Close()
	var out []domain.NexusCitation
	for rows.Next() {
		var c domain.NexusCitation
		var tags, direct, path []byte
		if err := rows.Scan(&c.ID, &c.MessageID, &c.SourceType, &c.SourceID, &c.CitationIndex, &c.RelevanceScore,
			&c.RetrievalMethod, &c.OriginType, &c.ArtifactID, &c.CommunityName, &c.CommunityID, &tags, &direct,
			&path, &c.NoteURL, &c.GraphURL, &c.ArtifactURL); err != nil {
			return nil, errs.Wrap("scan citation", err)
		}
		_ = json.Unmarshal(tags, &c.Tags)
		_ = json.Unmarshal(direct, &c.DirectWikilinks)
		_ = json.Unmarshal(path, &c.PathToOtherResults)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- brain ---

func (s *Store) GetBrainFile(ctx context.Context, ownerID, fileKey string) (domain.BrainFile, error) {
	var f domain.BrainFile
	var keywords, sources []byte
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, file_key, file_type, title, content, compressed_content,
		compressed_token_count, community_id, topic_keywords, source_note_ids, token_count_approx, content_hash,
		version, is_stale, is_user_edited, created_at, updated_at FROM brain_files WHERE owner_id=$1 AND file_key=$2`,
		ownerID, fileKey).Scan(&f.ID, &f.OwnerID, &f.FileKey, &f.FileType, &f.Title, &f.Content, &f.CompressedContent,
		&f.CompressedTokenCount, &f.CommunityID, &keywords, &sources, &f.TokenCountApprox, &f.ContentHash, &f.Version,
		&f.IsStale, &f.IsUserEdited, &f.CreatedAt, &f.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.BrainFile{}, fmt.Errorf("brain file %s: %w", fileKey, errs.ErrNotFound)
	}
	if err != nil {
		return domain.BrainFile{}, errs.Wrap("get brain file", err)
	}
	_ = json.Unmarshal(keywords, &f.TopicKeywords)
	_ = json.Unmarshal(sources, &f.SourceNoteIDs)
	return f, nil
}

// PutBrainFile upserts a brain file. Per spec.md §4.10, a user-edited core
// file (soul/memory) is never silently overwritten by regeneration: the
// caller is expected to check IsUserEdited via GetBrainFile first, but this
// method also refuses the overwrite defensively at the SQL layer.
func (s *Store) PutBrainFile(ctx context.Context, f domain.BrainFile) error {
	keywords, err := jsonOf(f.TopicKeywords)
	if err != nil {
		return errs.Wrap("marshal topic keywords", err)
	}
	sources, err := jsonOf(f.SourceNoteIDs)
	if err != nil {
		return errs.Wrap("marshal source note ids", err)
	}
	protectCore := domain.CoreFileTypes[f.FileType]
	_, err = s.pool.Exec(ctx, `INSERT INTO brain_files (id, owner_id, file_key, file_type, title, content,
		compressed_content, compressed_token_count, community_id, topic_keywords, source_note_ids,
		token_count_approx, embedding, content_hash, version, is_stale, is_user_edited, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (owner_id, file_key) DO UPDATE SET
			title=EXCLUDED.title,
			content=CASE WHEN $20 AND brain_files.is_user_edited THEN brain_files.content ELSE EXCLUDED.content END,
			compressed_content=EXCLUDED.compressed_content, compressed_token_count=EXCLUDED.compressed_token_count,
			community_id=EXCLUDED.community_id, topic_keywords=EXCLUDED.topic_keywords,
			source_note_ids=EXCLUDED.source_note_ids, token_count_approx=EXCLUDED.token_count_approx,
			embedding=EXCLUDED.embedding, content_hash=EXCLUDED.content_hash, version=brain_files.version+1,
			is_stale=EXCLUDED.is_stale,
			is_user_edited=CASE WHEN $20 THEN brain_files.is_user_edited OR EXCLUDED.is_user_edited ELSE EXCLUDED.is_user_edited END,
			updated_at=EXCLUDED.updated_at`,
		f.ID, f.OwnerID, f.FileKey, f.FileType, f.Title, f.Content, f.CompressedContent, f.CompressedTokenCount,
		f.CommunityID, keywords, sources, f.TokenCountApprox, toVector(f.Embedding), f.ContentHash, f.Version,
		f.IsStale, f.IsUserEdited, f.CreatedAt, f.UpdatedAt, protectCore)
	return errs.Wrap("put brain file", err)
}

func (s *Store) BrainFiles(ctx context.Context, ownerID string) ([]domain.BrainFile, error) {
	return s.queryBrainFiles(ctx, `SELECT id, owner_id, file_key, file_type, title, content, compressed_content,
		compressed_token_count, community_id, topic_keywords, source_note_ids, token_count_approx, content_hash,
		version, is_stale, is_user_edited, created_at, updated_at FROM brain_files WHERE owner_id=$1 ORDER BY file_key`, ownerID)
}

func (s *Store) BrainFilesByType(ctx context.Context, ownerID string, t domain.BrainFileType) ([]domain.BrainFile, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, file_key, file_type, title, content, compressed_content,
		compressed_token_count, community_id, topic_keywords, source_note_ids, token_count_approx, content_hash,
		version, is_stale, is_user_edited, created_at, updated_at FROM brain_files WHERE owner_id=$1 AND file_type=$2 ORDER BY file_key`,
		ownerID, t)
	if err != nil {
		return nil, errs.Wrap("brain files by type", err)
	}
	defer rows.Close()
	return scanBrainFiles(rows)
}

func (s *Store) queryBrainFiles(ctx context.Context, q, ownerID string) ([]domain.BrainFile, error) {
	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, errs.Wrap("brain files", err)
	}
	defer rows.Close()
	return scanBrainFiles(rows)
}

func scanBrainFiles(rows pgx.Rows) ([]domain.BrainFile, error) {
	var out []domain.BrainFile
	for rows.Next() {
		var f domain.BrainFile
		var keywords, sources []byte
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.FileKey, &f.FileType, &f.Title, &f.Content, &f.CompressedContent,
			&f.CompressedTokenCount, &f.CommunityID, &keywords, &sources, &f.TokenCountApprox, &f.ContentHash,
			&f.Version, &f.IsStale, &f.IsUserEdited, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, errs.Wrap("scan brain file", err)
		}
		_ = json.Unmarshal(keywords, &f.TopicKeywords)
		_ = json.Unmarshal(sources, &f.SourceNoteIDs)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBrainFilesNotIn(ctx context.Context, ownerID string, keep []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM brain_files WHERE owner_id=$1 AND NOT (file_key = ANY($2))
		AND NOT (is_user_edited AND file_type IN ('soul','memory'))`, ownerID, keep)
	return errs.Wrap("delete brain files not in", err)
}

func (s *Store) GetBrainConversation(ctx context.Context, ownerID, id string) (domain.BrainConversation, error) {
	var c domain.BrainConversation
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, title, messages_since_summary, conversation_summary,
		created_at, updated_at FROM brain_conversations WHERE id=$1 AND owner_id=$2`, id, ownerID).
		Scan(&c.ID, &c.OwnerID, &c.Title, &c.MessagesSinceSummary, &c.ConversationSummary, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.BrainConversation{}, fmt.Errorf("brain conversation %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return domain.BrainConversation{}, errs.Wrap("get brain conversation", err)
	}
	return c, nil
}

func (s *Store) PutBrainConversation(ctx context.Context, c domain.BrainConversation) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO brain_conversations (id, owner_id, title, messages_since_summary,
		conversation_summary, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, messages_since_summary=EXCLUDED.messages_since_summary,
			conversation_summary=EXCLUDED.conversation_summary, updated_at=EXCLUDED.updated_at`,
		c.ID, c.OwnerID, c.Title, c.MessagesSinceSummary, c.ConversationSummary, c.CreatedAt, c.UpdatedAt)
	return errs.Wrap("put brain conversation", err)
}

func (s *Store) AppendBrainMessage(ctx context.Context, m domain.BrainMessage) error {
	loaded, _ := jsonOf(m.BrainFilesLoaded)
	topics, _ := jsonOf(m.TopicsMatched)
	_, err := s.pool.Exec(ctx, `INSERT INTO brain_messages (id, conversation_id, role, content, brain_files_loaded,
		topics_matched, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ConversationID, m.Role, m.Content, loaded, topics, m.CreatedAt)
	return errs.Wrap("append brain message", err)
}

func (s *Store) BrainMessages(ctx context.Context, conversationID string, limit int) ([]domain.BrainMessage, error) {
	q := `SELECT id, conversation_id, role, content, brain_files_loaded, topics_matched, created_at
		FROM brain_messages WHERE conversation_id=$1 ORDER BY created_at`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+` DESC LIMIT $2`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx, q, conversationID)
	}
	if err != nil {
		return nil, errs.Wrap("brain messages", err)
	}
	defer rows.Close()
	var out []domain.BrainMessage
	for rows.Next() {
		var m domain.BrainMessage
		var loaded, topics []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &loaded, &topics, &m.CreatedAt); err != nil {
			return nil, errs.Wrap("scan brain message", err)
		}
		_ = json.Unmarshal(loaded, &m.BrainFilesLoaded)
		_ = json.Unmarshal(topics, &m.TopicsMatched)
		out = append(out, m)
	}
	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, rows.Err()
}

// --- navigation cache ---

func (s *Store) GetNavigationCache(ctx context.Context, ownerID string, t domain.NavigationCacheType) (domain.NexusNavigationCache, error) {
	var c domain.NexusNavigationCache
	err := s.pool.QueryRow(ctx, `SELECT owner_id, cache_type, content, version, updated_at FROM navigation_cache
		WHERE owner_id=$1 AND cache_type=$2`, ownerID, t).Scan(&c.OwnerID, &c.CacheType, &c.Content, &c.Version, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.NexusNavigationCache{}, fmt.Errorf("navigation cache %s: %w", t, errs.ErrNotFound)
	}
	if err != nil {
		return domain.NexusNavigationCache{}, errs.Wrap("get navigation cache", err)
	}
	return c, nil
}

func (s *Store) PutNavigationCache(ctx context.Context, c domain.NexusNavigationCache) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO navigation_cache (owner_id, cache_type, content, version, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (owner_id, cache_type) DO UPDATE SET content=EXCLUDED.content,
			version=navigation_cache.version+1, updated_at=EXCLUDED.updated_at`,
		c.OwnerID, c.CacheType, c.Content, c.Version, c.UpdatedAt)
	return errs.Wrap("put navigation cache", err)
}

// --- importance ---

func (s *Store) ReplaceScores(ctx context.Context, ownerID string, scores []domain.NexusImportanceScore) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap("begin replace scores", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM importance_scores WHERE owner_id=$1`, ownerID); err != nil {
		return errs.Wrap("delete scores", err)
	}
	for _, sc := range scores {
		if _, err := tx.Exec(ctx, `INSERT INTO importance_scores (owner_id, note_id, score) VALUES ($1,$2,$3)`,
			ownerID, sc.NoteID, sc.Score); err != nil {
			return errs.Wrap("insert score", err)
		}
	}
	return errs.Wrap("commit replace scores", tx.Commit(ctx))
}

func (s *Store) Scores(ctx context.Context, ownerID string) ([]domain.NexusImportanceScore, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id, note_id, score FROM importance_scores WHERE owner_id=$1`, ownerID)
	if err != nil {
		return nil, errs.Wrap("scores", err)
	}
	defer rows.Close()
	var out []domain.NexusImportanceScore
	for rows.Next() {
		var sc domain.NexusImportanceScore
		if err := rows.Scan(&sc.OwnerID, &sc.NoteID, &sc.Score); err != nil {
			return nil, errs.Wrap("scan score", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- link suggestions ---

func (s *Store) UpsertSuggestion(ctx context.Context, sg domain.NexusLinkSuggestion) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO link_suggestions (id, owner_id, source_note_id, target_note_id,
		similarity_score, status, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (source_note_id, target_note_id) DO UPDATE SET similarity_score=EXCLUDED.similarity_score`,
		sg.ID, sg.OwnerID, sg.SourceNoteID, sg.TargetNoteID, sg.SimilarityScore, sg.Status, sg.CreatedAt)
	return errs.Wrap("upsert suggestion", err)
}

func (s *Store) Suggestions(ctx context.Context, ownerID string, status domain.LinkSuggestionStatus) ([]domain.NexusLinkSuggestion, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, source_note_id, target_note_id, similarity_score, status,
		created_at FROM link_suggestions WHERE owner_id=$1 AND status=$2`, ownerID, status)
	if err != nil {
		return nil, errs.Wrap("suggestions", err)
	}
	defer rows.Close()
	var out []domain.NexusLinkSuggestion
	for rows.Next() {
		var sg domain.NexusLinkSuggestion
		if err := rows.Scan(&sg.ID, &sg.OwnerID, &sg.SourceNoteID, &sg.TargetNoteID, &sg.SimilarityScore, &sg.Status, &sg.CreatedAt); err != nil {
			return nil, errs.Wrap("scan suggestion", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, id string, status domain.LinkSuggestionStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE link_suggestions SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return errs.Wrap("set status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link suggestion %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// --- usage ---

func (s *Store) LogUsage(ctx context.Context, u domain.AIUsageLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ai_usage_log (id, owner_id, provider, model, input_tokens, output_tokens,
		use_case, conversation_id, estimated_cost_usd, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.OwnerID, u.Provider, u.Model, u.InputTokens, u.OutputTokens, u.UseCase, u.ConversationID,
		u.EstimatedCostUSD, u.CreatedAt)
	return errs.Wrap("log usage", err)
}

// --- full-text index (store.FullTextIndex) ---

func (s *Store) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO fulltext_index (id, text, metadata) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, metadata=EXCLUDED.metadata`, id, text, metadata)
	return errs.Wrap("index fulltext", err)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM fulltext_index WHERE id=$1`, id)
	return errs.Wrap("remove fulltext", err)
}

func (s *Store) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]store.FullTextResult, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	sql := `SELECT id, ts_rank(ts, plainto_tsquery('simple',$1)) AS score, left(text,200), metadata
		FROM fulltext_index WHERE ts @@ plainto_tsquery('simple',$1)`
	args := []any{query}
	if len(filter) > 0 {
		fj, err := jsonOf(filter)
		if err != nil {
			return nil, errs.Wrap("marshal filter", err)
		}
		sql += ` AND metadata @> $2::jsonb`
		args = append(args, string(fj))
	}
	sql += ` ORDER BY score DESC LIMIT ` + fmt.Sprintf("%d", limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap("search fulltext", err)
	}
	defer rows.Close()
	var out []store.FullTextResult
	for rows.Next() {
		var r store.FullTextResult
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &metadata); err != nil {
			return nil, errs.Wrap("scan fulltext result", err)
		}
		_ = json.Unmarshal(metadata, &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- vector index (store.VectorIndex), a general-purpose pgvector-backed
// point index mirroring the qdrant.Index adapter. Entity embeddings (notes,
// chunks, brain files) live on their own tables and are queried directly by
// SimilaritySearch-over-note_chunks style callers; this table serves callers
// that want the plain VectorIndex contract (e.g. an alternate pgvector-only
// deployment that skips Qdrant entirely).

func (s *Store) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO vector_index (id, embedding, metadata) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata`,
		id, toVector(vector), metadata)
	return errs.Wrap("vector index upsert", err)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vector_index WHERE id=$1`, id)
	return errs.Wrap("vector index delete", err)
}

func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]store.VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := toVector(vector)
	query := `SELECT id, 1 - (embedding <=> $1::vector) AS score, metadata FROM vector_index`
	args := []any{vec}
	if len(filter) > 0 {
		query += ` WHERE metadata @> $2::jsonb`
		fj, err := jsonOf(filter)
		if err != nil {
			return nil, errs.Wrap("marshal filter", err)
		}
		args = append(args, string(fj))
	}
	query += ` ORDER BY embedding <=> $1::vector LIMIT ` + fmt.Sprintf("%d", k)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap("similarity search", err)
	}
	defer rows.Close()
	var out []store.VectorResult
	for rows.Next() {
		var r store.VectorResult
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Score, &metadata); err != nil {
			return nil, errs.Wrap("scan similarity result", err)
		}
		_ = json.Unmarshal(metadata, &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- jobs ---

func (s *Store) EnqueueJob(ctx context.Context, j domain.Job) error {
	payload, err := jsonOf(j.Payload)
	if err != nil {
		return errs.Wrap("marshal job payload", err)
	}
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = j.CreatedAt
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO jobs (id, owner_id, kind, entity_id, payload, status, attempts,
		max_retries, last_error, run_after, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		j.ID, j.OwnerID, j.Kind, j.EntityID, payload, j.Status, j.Attempts, j.MaxRetries, j.LastError,
		j.RunAfter, j.CreatedAt, j.UpdatedAt)
	return errs.Wrap("enqueue job", err)
}

// ClaimNextJob atomically moves the oldest due, queued job to processing.
// FOR UPDATE SKIP LOCKED lets concurrent workers each land on a distinct row
// instead of blocking behind one another's transaction.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Job{}, false, errs.Wrap("begin claim job", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM jobs WHERE status=$1 AND run_after<=$2
		ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED`, domain.JobQueued, now).Scan(&id)
	if err == pgx.ErrNoRows {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, errs.Wrap("select next job", err)
	}

	var j domain.Job
	var payload []byte
	err = tx.QueryRow(ctx, `UPDATE jobs SET status=$1, updated_at=$2 WHERE id=$3
		RETURNING id, owner_id, kind, entity_id, payload, status, attempts, max_retries, last_error,
		run_after, created_at, updated_at`, domain.JobProcessing, now, id).Scan(
		&j.ID, &j.OwnerID, &j.Kind, &j.EntityID, &payload, &j.Status, &j.Attempts, &j.MaxRetries,
		&j.LastError, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return domain.Job{}, false, errs.Wrap("claim job", err)
	}
	_ = json.Unmarshal(payload, &j.Payload)

	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, false, errs.Wrap("commit claim job", err)
	}
	return j, true, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1, updated_at=now() WHERE id=$2`,
		domain.JobCompleted, id)
	return errs.Wrap("complete job", err)
}

func (s *Store) RetryJob(ctx context.Context, id, lastErr string, runAfter time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1, attempts=attempts+1, last_error=$2,
		run_after=$3, updated_at=now() WHERE id=$4`, domain.JobQueued, lastErr, runAfter, id)
	return errs.Wrap("retry job", err)
}

func (s *Store) FailJob(ctx context.Context, id, lastErr string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1, last_error=$2, updated_at=now() WHERE id=$3`,
		domain.JobFailed, lastErr, id)
	return errs.Wrap("fail job", err)
}

// ResetStuckJobs recovers jobs a worker claimed and then died without ever
// completing or failing: anything still processing past olderThan is
// considered abandoned and marked failed so it can be re-enqueued upstream.
func (s *Store) ResetStuckJobs(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$1, last_error=$2, updated_at=now()
		WHERE status=$3 AND updated_at<$4`,
		domain.JobFailed, "reset: stuck in processing past staleness threshold", domain.JobProcessing, olderThan)
	if err != nil {
		return 0, errs.Wrap("reset stuck jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ store.Store = (*Store)(nil)
var _ store.FullTextIndex = (*Store)(nil)
var _ store.VectorIndex = (*Store)(nil)
