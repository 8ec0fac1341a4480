package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/theoremgraph/record"
)

func init() {
	sqlite_vec.Auto()
}

// DefaultEmbeddingDim matches nomic-embed-text, the usual Ollama embedder.
const DefaultEmbeddingDim = 768

// SQLite is the embedded Graph backend. Nodes live in one table per label
// and relationships in a single edges table keyed by both endpoints.
type SQLite struct {
	db           *sql.DB
	embeddingDim int
}

var _ Graph = (*SQLite)(nil)

// NewSQLite opens (or creates) a SQLite database at the given path. Call
// EnsureSchema before use.
func NewSQLite(dbPath string, embeddingDim int) (*SQLite, error) {
	if embeddingDim <= 0 {
		embeddingDim = DefaultEmbeddingDim
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLite{db: db, embeddingDim: embeddingDim}, nil
}

// EnsureSchema creates tables and indexes and runs pending migrations.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL(s.embeddingDim)); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *SQLite) EmbeddingDim() int {
	return s.embeddingDim
}

// --- writes ---

// Write runs fn inside a single database transaction.
func (s *SQLite) Write(ctx context.Context, fn func(Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteTx{tx: tx})
	})
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) MergeTheorem(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO theorems (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	return err
}

func (t *sqliteTx) SetTheorem(ctx context.Context, name string, f TheoremFields) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE theorems SET
			statement = ?, proof = ?, type = ?, subject = ?, domain = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, f.Statement, f.Proof, string(f.Type), f.Subject, f.Domain, name)
	return err
}

func (t *sqliteTx) MergeExample(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO examples (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	return err
}

func (t *sqliteTx) SetExample(ctx context.Context, name string, f ExampleFields) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE examples SET
			content = ?, difficulty = ?, subject = ?, domain = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, f.Content, string(f.Difficulty), f.Subject, f.Domain, name)
	return err
}

func (t *sqliteTx) MergeSubject(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO subjects (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	return err
}

func (t *sqliteTx) MergeDomain(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO domains (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	return err
}

func (t *sqliteTx) MergeEdge(ctx context.Context, e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (kind, src_label, src_name, dst_label, dst_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(e.Kind), string(e.From.Label), e.From.Name, string(e.To.Label), e.To.Name)
	return err
}

func (t *sqliteTx) TheoremExists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, t.tx, "SELECT EXISTS(SELECT 1 FROM theorems WHERE name = ?)", name)
}

func (t *sqliteTx) DomainSubject(ctx context.Context, domain string) (string, bool, error) {
	var subject string
	err := t.tx.QueryRowContext(ctx, `
		SELECT dst_name FROM edges
		WHERE kind = ? AND src_label = ? AND src_name = ?
		ORDER BY rowid LIMIT 1
	`, string(PartOfSubject), string(LabelDomain), domain).Scan(&subject)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

// --- reads ---

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// TheoremExists reports whether a theorem node (stub or full) has this name.
func (s *SQLite) TheoremExists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, s.db, "SELECT EXISTS(SELECT 1 FROM theorems WHERE name = ?)", name)
}

// ExampleExists reports whether an example node has this name.
func (s *SQLite) ExampleExists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, s.db, "SELECT EXISTS(SELECT 1 FROM examples WHERE name = ?)", name)
}

const theoremColumns = "t.id, t.name, t.statement, t.proof, t.type, t.subject, t.domain"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTheorem reads theoremColumns followed by any extra destinations.
func scanTheorem(row rowScanner, extra ...any) (int64, record.Theorem, error) {
	var (
		id                                     int64
		th                                     record.Theorem
		statement, proof, typ, subject, domain sql.NullString
	)
	dest := append([]any{&id, &th.Name, &statement, &proof, &typ, &subject, &domain}, extra...)
	if err := row.Scan(dest...); err != nil {
		return 0, th, err
	}
	th.Statement = statement.String
	th.Proof = proof.String
	th.Type = record.TheoremType(typ.String)
	th.Subject = subject.String
	th.Domain = domain.String
	return id, th, nil
}

// Theorem returns the named theorem with its dependency names.
func (s *SQLite) Theorem(ctx context.Context, name string) (*record.Theorem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+theoremColumns+" FROM theorems t WHERE t.name = ?", name)
	_, th, err := scanTheorem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	deps, err := s.dependencyNames(ctx, name)
	if err != nil {
		return nil, err
	}
	th.Dependencies = deps
	return &th, nil
}

func (s *SQLite) dependencyNames(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dst_name FROM edges
		WHERE kind = ? AND src_label = ? AND src_name = ?
		ORDER BY dst_name
	`, string(DependsOn), string(LabelTheorem), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Dependencies returns the direct DEPENDS_ON targets of name, stubs included.
func (s *SQLite) Dependencies(ctx context.Context, name string) ([]record.Theorem, error) {
	return s.queryTheorems(ctx, `
		SELECT `+theoremColumns+`
		FROM edges e
		JOIN theorems t ON t.name = e.dst_name
		WHERE e.kind = ? AND e.src_label = ? AND e.src_name = ? AND e.dst_label = ?
		ORDER BY t.name
	`, string(DependsOn), string(LabelTheorem), name, string(LabelTheorem))
}

// TheoremsBySubject lists theorems linked to a subject, ordered by name.
func (s *SQLite) TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error) {
	return s.theoremsByEdge(ctx, BelongsToSubject, subject, limit)
}

// TheoremsByDomain lists theorems linked to a domain, ordered by name.
func (s *SQLite) TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error) {
	return s.theoremsByEdge(ctx, BelongsToDomain, domain, limit)
}

func (s *SQLite) theoremsByEdge(ctx context.Context, kind EdgeKind, target string, limit int) ([]record.Theorem, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryTheorems(ctx, `
		SELECT `+theoremColumns+`
		FROM edges e
		JOIN theorems t ON t.name = e.src_name
		WHERE e.kind = ? AND e.src_label = ? AND e.dst_name = ?
		ORDER BY t.name
		LIMIT ?
	`, string(kind), string(LabelTheorem), target, limit)
}

func (s *SQLite) queryTheorems(ctx context.Context, query string, args ...any) ([]record.Theorem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Theorem
	for rows.Next() {
		_, th, err := scanTheorem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func scanExample(row rowScanner) (record.Example, error) {
	var (
		ex                                   record.Example
		content, difficulty, subject, domain sql.NullString
	)
	if err := row.Scan(&ex.Name, &content, &difficulty, &subject, &domain); err != nil {
		return ex, err
	}
	ex.Content = content.String
	ex.Difficulty = record.Difficulty(difficulty.String)
	ex.Subject = subject.String
	ex.Domain = domain.String
	return ex, nil
}

// Example returns the named example with the theorems it illustrates.
func (s *SQLite) Example(ctx context.Context, name string) (*record.Example, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, content, difficulty, subject, domain FROM examples WHERE name = ?", name)
	ex, err := scanExample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dst_name FROM edges
		WHERE kind = ? AND src_label = ? AND src_name = ?
		ORDER BY dst_name
	`, string(Illustrates), string(LabelExample), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ex.IllustratesTheorems = []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		ex.IllustratesTheorems = append(ex.IllustratesTheorems, n)
	}
	return &ex, rows.Err()
}

// ExamplesFor returns examples with an ILLUSTRATES edge to the theorem.
func (s *SQLite) ExamplesFor(ctx context.Context, theorem string, limit int) ([]record.Example, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT x.name, x.content, x.difficulty, x.subject, x.domain
		FROM edges e
		JOIN examples x ON x.name = e.src_name
		WHERE e.kind = ? AND e.src_label = ? AND e.dst_name = ?
		ORDER BY x.name
		LIMIT ?
	`, string(Illustrates), string(LabelExample), theorem, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Example
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		ex.IllustratesTheorems = []string{theorem}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// --- documents ---

// Document returns the registry entry for path, or ErrNotFound.
func (s *SQLite) Document(ctx context.Context, path string) (*Document, error) {
	var (
		d          Document
		ingestedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, chunks, theorems, examples, ingested_at
		FROM documents WHERE path = ?
	`, path).Scan(&d.Path, &d.Hash, &d.Chunks, &d.Theorems, &d.Examples, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingestedAt)
	return &d, nil
}

// RecordDocument inserts or replaces the registry entry for doc.Path.
func (s *SQLite) RecordDocument(ctx context.Context, doc Document) error {
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, content_hash, chunks, theorems, examples, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunks = excluded.chunks,
			theorems = excluded.theorems,
			examples = excluded.examples,
			ingested_at = excluded.ingested_at
	`, doc.Path, doc.Hash, doc.Chunks, doc.Theorems, doc.Examples, doc.IngestedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// --- embeddings ---

// SetTheoremEmbedding stores the statement embedding for a theorem.
func (s *SQLite) SetTheoremEmbedding(ctx context.Context, name string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM theorems WHERE name = ?", name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		// vec0 tables do not support upserts.
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_theorems WHERE theorem_id = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO vec_theorems (theorem_id, embedding) VALUES (?, ?)",
			id, serializeFloat32(embedding))
		return err
	})
}

// SimilarTheorems performs a KNN search over theorem embeddings.
func (s *SQLite) SimilarTheorems(ctx context.Context, embedding []float32, k int) ([]ScoredTheorem, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+theoremColumns+`, v.distance
		FROM vec_theorems v
		JOIN theorems t ON t.id = v.theorem_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredTheorem
	for rows.Next() {
		var distance float64
		_, th, err := scanTheorem(rows, &distance)
		if err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		out = append(out, ScoredTheorem{Theorem: th, Score: 1.0 - distance})
	}
	return out, rows.Err()
}

// --- stats ---

// Stats returns node and edge counts.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Edges: make(map[EdgeKind]int)}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM theorems WHERE statement IS NOT NULL", &stats.Theorems},
		{"SELECT COUNT(*) FROM theorems WHERE statement IS NULL", &stats.Stubs},
		{"SELECT COUNT(*) FROM examples", &stats.Examples},
		{"SELECT COUNT(*) FROM subjects", &stats.Subjects},
		{"SELECT COUNT(*) FROM domains", &stats.Domains},
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM vec_theorems", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM edges GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		stats.Edges[EdgeKind(kind)] = n
	}
	return stats, rows.Err()
}

// --- helpers ---

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
