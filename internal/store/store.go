// Package store persists indexed chunks and serves the two search
// halves: BM25 lexical matching through SQLite FTS5 and approximate
// nearest-neighbor semantic matching through an in-memory HNSW graph.
//
// SQLite is the single source of truth. The HNSW graph is derived
// state, rebuilt from the vectors column when the store opens, so a
// crash between writes never leaves the index unreadable.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/scrivano/scrivano/internal/chunk"
	"github.com/scrivano/scrivano/internal/errs"
)

const schemaVersion = 1

// sectionSeparator joins section path elements for storage.
const sectionSeparator = "\x1f"

// Method labels attached to search hits.
const (
	MethodLexical  = "lexical"
	MethodSemantic = "semantic"
	MethodHybrid   = "hybrid"
)

// Options configures a Store.
type Options struct {
	// Model is the embedding model whose vectors this store serves.
	// Chunks embedded with a different model stay searchable lexically
	// but are excluded from semantic search until re-embedded.
	Model string

	// Dimensions is the embedding dimension. Vectors of any other
	// length are rejected at upsert.
	Dimensions int
}

// Entry is one chunk ready for indexing.
type Entry struct {
	Chunk *chunk.Chunk

	// Vector is the chunk's embedding; nil indexes the chunk for
	// lexical search only.
	Vector []float32

	// DocVersion is the version token of the chunk's document at
	// indexing time.
	DocVersion string
}

// Hit is one search result.
type Hit struct {
	Chunk      *chunk.Chunk
	DocVersion string
	Score      float64
	Method     string

	// IndexedAt is when the chunk was written, used as the recency
	// tie break: equal scores rank the newest indexing first.
	IndexedAt int64
}

// Stats summarizes store contents.
type Stats struct {
	Chunks     int
	Documents  int
	Vectors    int
	Model      string
	Dimensions int
	Path       string
}

// Store is the persistent chunk index.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	path    string
	opts    Options
	vectors *vectorIndex
	closed  bool
}

// Open opens or creates a store at path. An empty path opens an
// in-memory store for tests. The semantic graph is rebuilt from the
// persisted vectors before Open returns.
func Open(path string, opts Options) (*Store, error) {
	if opts.Dimensions <= 0 {
		return nil, errs.Store("store dimensions must be positive", nil)
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Store("failed to create index directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Store("failed to open index database", err)
	}

	// Single connection: avoids lock contention and keeps the in-memory
	// database from evaporating between pool connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN pragma parameters; set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errs.Store("failed to set pragma", err)
		}
	}

	s := &Store{
		db:      db,
		path:    path,
		opts:    opts,
		vectors: newVectorIndex(opts.Dimensions),
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errs.Store("failed to initialize schema", err)
	}
	if err := s.rebuildVectorIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		doc_path     TEXT NOT NULL,
		section_path TEXT NOT NULL,
		offset       INTEGER NOT NULL,
		text         TEXT NOT NULL,
		doc_version  TEXT NOT NULL,
		embed_model  TEXT NOT NULL,
		vector       BLOB,
		indexed_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_path ON chunks(doc_path);

	-- chunk_id is stored but not tokenized; content carries the text.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}

// rebuildVectorIndex loads every vector embedded with the configured
// model into the HNSW graph.
func (s *Store) rebuildVectorIndex() error {
	rows, err := s.db.Query(
		`SELECT id, vector FROM chunks WHERE vector IS NOT NULL AND embed_model = ?`,
		s.opts.Model)
	if err != nil {
		return errs.Store("failed to load vectors", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return errs.Store("failed to scan vector row", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return errs.Store("corrupt vector for chunk "+id, err)
		}
		if len(vec) != s.opts.Dimensions {
			// Dimension drift from an older model config; lexical only.
			continue
		}
		s.vectors.add(id, vec)
	}
	return rows.Err()
}

// Upsert writes entries in one transaction. Chunk identity comes from
// the chunk ID, so re-indexing unchanged content overwrites in place and
// the operation is idempotent.
func (s *Store) Upsert(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.Store("store is closed", nil)
	}

	for _, e := range entries {
		if e.Vector != nil && len(e.Vector) != s.opts.Dimensions {
			return errs.Store(fmt.Sprintf("vector dimension mismatch for chunk %s: expected %d, got %d",
				e.Chunk.ID, s.opts.Dimensions, len(e.Vector)), nil)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, doc_path, section_path, offset, text, doc_version, embed_model, vector, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Store("failed to prepare chunk statement", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	// FTS5 virtual tables have no REPLACE; delete then insert.
	ftsDeleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE chunk_id = ?`)
	if err != nil {
		return errs.Store("failed to prepare FTS delete statement", err)
	}
	defer func() { _ = ftsDeleteStmt.Close() }()

	ftsInsertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return errs.Store("failed to prepare FTS insert statement", err)
	}
	defer func() { _ = ftsInsertStmt.Close() }()

	now := time.Now().UnixNano()
	for _, e := range entries {
		c := e.Chunk
		var blob []byte
		if e.Vector != nil {
			blob = encodeVector(e.Vector)
		}

		if _, err := chunkStmt.ExecContext(ctx,
			c.ID, c.DocPath, strings.Join(c.SectionPath, sectionSeparator),
			c.Offset, c.Text, e.DocVersion, s.opts.Model, blob, now); err != nil {
			return errs.Store("failed to write chunk "+c.ID, err)
		}
		if _, err := ftsDeleteStmt.ExecContext(ctx, c.ID); err != nil {
			return errs.Store("failed to clear FTS entry for chunk "+c.ID, err)
		}
		if _, err := ftsInsertStmt.ExecContext(ctx, c.ID, c.Text); err != nil {
			return errs.Store("failed to index chunk "+c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Store("failed to commit upsert", err)
	}

	// Graph update follows the commit; on crash the graph is rebuilt
	// from SQLite anyway.
	for _, e := range entries {
		if e.Vector != nil {
			s.vectors.add(e.Chunk.ID, e.Vector)
		} else {
			s.vectors.remove(e.Chunk.ID)
		}
	}

	return nil
}

// Delete removes chunks by ID.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.Store("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM chunks WHERE id IN (%s)", in), args...); err != nil {
		return errs.Store("failed to delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_chunks WHERE chunk_id IN (%s)", in), args...); err != nil {
		return errs.Store("failed to delete FTS entries", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Store("failed to commit delete", err)
	}

	for _, id := range ids {
		s.vectors.remove(id)
	}
	return nil
}

// DeleteDoc removes every chunk of a document and returns how many
// chunks were removed.
func (s *Store) DeleteDoc(ctx context.Context, docPath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errs.Store("store is closed", nil)
	}

	ids, err := s.chunkIDsByDoc(ctx, docPath)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Store("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_path = ?`, docPath); err != nil {
		return 0, errs.Store("failed to delete chunks for "+docPath, err)
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM fts_chunks WHERE chunk_id IN (%s)", strings.Join(placeholders, ",")),
		args...); err != nil {
		return 0, errs.Store("failed to delete FTS entries for "+docPath, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Store("failed to commit delete", err)
	}

	for _, id := range ids {
		s.vectors.remove(id)
	}
	return len(ids), nil
}

func (s *Store) chunkIDsByDoc(ctx context.Context, docPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE doc_path = ?`, docPath)
	if err != nil {
		return nil, errs.Store("failed to query chunks for "+docPath, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Store("failed to scan chunk ID", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchLexical returns the chunks best matching query by BM25,
// ordered by score descending, newest indexed first on ties, chunk ID
// ascending as the final tie break. A blank query or limit of zero
// yields no hits.
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errs.Store("store is closed", nil)
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*Hit{}, nil
	}

	// bm25() returns negative values, lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.doc_path, c.section_path, c.offset, c.text, c.doc_version,
		       c.indexed_at, -bm25(fts_chunks) AS score
		FROM fts_chunks
		JOIN chunks c ON c.id = fts_chunks.chunk_id
		WHERE fts_chunks.content MATCH ?
		ORDER BY score DESC, c.indexed_at DESC, c.id ASC
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		// FTS5 rejects queries it cannot parse; treat as no matches.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*Hit{}, nil
		}
		return nil, errs.Store("lexical search failed", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*Hit
	for rows.Next() {
		hit, err := scanHit(rows, MethodLexical)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each query term so FTS5 operators in user input
// ("AND", "-", quotes) match literally instead of erroring.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// SearchSemantic returns the chunks nearest to the query vector,
// scored by cosine similarity mapped to [0,1]. Only vectors from the
// configured embedding model participate.
func (s *Store) SearchSemantic(ctx context.Context, vector []float32, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errs.Store("store is closed", nil)
	}
	if limit <= 0 {
		return []*Hit{}, nil
	}
	if len(vector) != s.opts.Dimensions {
		return nil, errs.Store(fmt.Sprintf("query vector dimension mismatch: expected %d, got %d",
			s.opts.Dimensions, len(vector)), nil)
	}

	neighbors := s.vectors.search(vector, limit)
	if len(neighbors) == 0 {
		return []*Hit{}, nil
	}

	hits := make([]*Hit, 0, len(neighbors))
	for _, n := range neighbors {
		hit, err := s.loadHit(ctx, n.id, n.score, MethodSemantic)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		hits = append(hits, hit)
	}

	sortHits(hits)
	return hits, nil
}

// loadHit reads one chunk row and attaches the given score.
func (s *Store) loadHit(ctx context.Context, id string, score float64, method string) (*Hit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, doc_path, section_path, offset, text, doc_version, indexed_at
		FROM chunks WHERE id = ?`, id)

	var c chunk.Chunk
	var sectionJoined, docVersion string
	var indexedAt int64
	if err := row.Scan(&c.ID, &c.DocPath, &sectionJoined, &c.Offset, &c.Text, &docVersion, &indexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("chunk "+id+" is not indexed", nil)
		}
		return nil, errs.Store("failed to load chunk "+id, err)
	}
	c.SectionPath = strings.Split(sectionJoined, sectionSeparator)

	return &Hit{Chunk: &c, DocVersion: docVersion, Score: score, Method: method, IndexedAt: indexedAt}, nil
}

type hitScanner interface {
	Scan(dest ...any) error
}

func scanHit(rows hitScanner, method string) (*Hit, error) {
	var c chunk.Chunk
	var sectionJoined, docVersion string
	var indexedAt int64
	var score float64
	if err := rows.Scan(&c.ID, &c.DocPath, &sectionJoined, &c.Offset, &c.Text, &docVersion, &indexedAt, &score); err != nil {
		return nil, errs.Store("failed to scan hit", err)
	}
	c.SectionPath = strings.Split(sectionJoined, sectionSeparator)
	return &Hit{Chunk: &c, DocVersion: docVersion, Score: score, Method: method, IndexedAt: indexedAt}, nil
}

// sortHits orders by score descending, newest indexing first on ties,
// chunk ID ascending as the final tie break.
func sortHits(hits []*Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].IndexedAt != hits[j].IndexedAt {
			return hits[i].IndexedAt > hits[j].IndexedAt
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// DocVersions returns the version token recorded for every indexed
// document. This is the ledger incremental indexing diffs against.
func (s *Store) DocVersions(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errs.Store("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_path, MAX(doc_version) FROM chunks GROUP BY doc_path`)
	if err != nil {
		return nil, errs.Store("failed to query document versions", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]string)
	for rows.Next() {
		var path, version string
		if err := rows.Scan(&path, &version); err != nil {
			return nil, errs.Store("failed to scan document version", err)
		}
		versions[path] = version
	}
	return versions, rows.Err()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errs.Store("store is closed", nil)
	}

	st := &Stats{
		Model:      s.opts.Model,
		Dimensions: s.opts.Dimensions,
		Path:       s.path,
		Vectors:    s.vectors.len(),
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT doc_path) FROM chunks`)
	if err := row.Scan(&st.Chunks, &st.Documents); err != nil {
		return nil, errs.Store("failed to read stats", err)
	}
	return st, nil
}

// Clear removes every chunk. It takes the write lock for its full
// duration, so concurrent searches and upserts never observe a
// half-empty index.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.Store("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return errs.Store("failed to clear chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks`); err != nil {
		return errs.Store("failed to clear FTS index", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Store("failed to commit clear", err)
	}

	s.vectors = newVectorIndex(s.opts.Dimensions)
	return nil
}

// Close releases the database. Further calls on the store fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return errs.Store("failed to close index database", err)
	}
	return nil
}

// encodeVector packs a vector as little-endian float32 bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
