package store

import "fmt"

// schemaSQL returns the DDL for the SQLite graph. Node scalars are nullable
// so a theorem first created as a dependency stub has no statement yet.
// embeddingDim controls the vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS theorems (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    statement TEXT,
    proof TEXT,
    type TEXT,
    subject TEXT,
    domain TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS examples (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    content TEXT,
    difficulty TEXT,
    subject TEXT,
    domain TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subjects (
    name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS domains (
    name TEXT PRIMARY KEY
);

-- Typed relationships between named nodes
CREATE TABLE IF NOT EXISTS edges (
    kind TEXT NOT NULL,
    src_label TEXT NOT NULL,
    src_name TEXT NOT NULL,
    dst_label TEXT NOT NULL,
    dst_name TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (kind, src_label, src_name, dst_label, dst_name)
);

-- Ingested sources with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    chunks INTEGER DEFAULT 0,
    theorems INTEGER DEFAULT 0,
    examples INTEGER DEFAULT 0,
    ingested_at DATETIME NOT NULL
);

-- Theorem statement embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_theorems USING vec0(
    theorem_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE INDEX IF NOT EXISTS idx_theorems_type ON theorems(type);
CREATE INDEX IF NOT EXISTS idx_theorems_subject ON theorems(subject);
CREATE INDEX IF NOT EXISTS idx_theorems_domain ON theorems(domain);
CREATE INDEX IF NOT EXISTS idx_examples_difficulty ON examples(difficulty);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(kind, dst_label, dst_name);
`, embeddingDim)
}
