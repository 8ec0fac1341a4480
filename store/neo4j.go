package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/theoremgraph/record"
)

// Neo4jConfig holds connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI         string        `json:"uri" yaml:"uri"`
	Username    string        `json:"username" yaml:"username"`
	Password    string        `json:"password" yaml:"password"`
	Database    string        `json:"database" yaml:"database"`
	MaxPoolSize int           `json:"max_pool_size" yaml:"max_pool_size"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

const vectorIndexName = "theorem_embedding"

// Neo4j is the Graph backend for a Neo4j server.
type Neo4j struct {
	driver       neo4j.DriverWithContext
	database     string
	embeddingDim int
}

var _ Graph = (*Neo4j)(nil)

// NewNeo4j connects to Neo4j and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig, embeddingDim int) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	if cfg.Username == "" {
		cfg.Username = "neo4j"
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if embeddingDim <= 0 {
		embeddingDim = DefaultEmbeddingDim
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Neo4j{driver: driver, database: cfg.Database, embeddingDim: embeddingDim}, nil
}

// schemaStatements are idempotent constraint and index definitions.
func schemaStatements(embeddingDim int) []string {
	return []string{
		"CREATE CONSTRAINT theorem_name_unique IF NOT EXISTS FOR (t:Theorem) REQUIRE t.name IS UNIQUE",
		"CREATE CONSTRAINT example_name_unique IF NOT EXISTS FOR (e:Example) REQUIRE e.name IS UNIQUE",
		"CREATE CONSTRAINT document_path_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.path IS UNIQUE",
		"CREATE INDEX subject_name_idx IF NOT EXISTS FOR (s:Subject) ON (s.name)",
		"CREATE INDEX domain_name_idx IF NOT EXISTS FOR (d:Domain) ON (d.name)",
		"CREATE INDEX theorem_type_idx IF NOT EXISTS FOR (t:Theorem) ON (t.type)",
		"CREATE INDEX example_difficulty_idx IF NOT EXISTS FOR (e:Example) ON (e.difficulty)",
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (t:Theorem) ON (t.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			vectorIndexName, embeddingDim),
	}
}

// EnsureSchema creates constraints and indexes. The vector index needs
// Neo4j 5.11+; failure to create it is logged and similarity search is then
// unavailable.
func (n *Neo4j) EnsureSchema(ctx context.Context) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: n.database,
	})
	defer session.Close(ctx)

	stmts := schemaStatements(n.embeddingDim)
	for i, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			if i == len(stmts)-1 {
				slog.Warn("store: neo4j vector index unavailable", "error", err)
				continue
			}
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}

// Close closes the driver.
func (n *Neo4j) Close() error {
	return n.driver.Close(context.Background())
}

// --- writes ---

// Write runs fn in a managed write transaction. The driver retries the
// whole function on transient errors, which is safe because every Tx
// mutation is idempotent.
func (n *Neo4j) Write(ctx context.Context, fn func(Tx) error) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: n.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t *neo4jTx) exec(ctx context.Context, query string, params map[string]any) error {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (t *neo4jTx) MergeTheorem(ctx context.Context, name string) error {
	return t.exec(ctx, "MERGE (:Theorem {name: $name})", map[string]any{"name": name})
}

func (t *neo4jTx) SetTheorem(ctx context.Context, name string, f TheoremFields) error {
	return t.exec(ctx, `
MATCH (t:Theorem {name: $name})
SET t.statement = $statement,
    t.proof = $proof,
    t.type = $type,
    t.subject = $subject,
    t.domain = $domain
`, map[string]any{
		"name":      name,
		"statement": f.Statement,
		"proof":     f.Proof,
		"type":      string(f.Type),
		"subject":   f.Subject,
		"domain":    f.Domain,
	})
}

func (t *neo4jTx) MergeExample(ctx context.Context, name string) error {
	return t.exec(ctx, "MERGE (:Example {name: $name})", map[string]any{"name": name})
}

func (t *neo4jTx) SetExample(ctx context.Context, name string, f ExampleFields) error {
	return t.exec(ctx, `
MATCH (e:Example {name: $name})
SET e.content = $content,
    e.difficulty = $difficulty,
    e.subject = $subject,
    e.domain = $domain
`, map[string]any{
		"name":       name,
		"content":    f.Content,
		"difficulty": string(f.Difficulty),
		"subject":    f.Subject,
		"domain":     f.Domain,
	})
}

func (t *neo4jTx) MergeSubject(ctx context.Context, name string) error {
	return t.exec(ctx, "MERGE (:Subject {name: $name})", map[string]any{"name": name})
}

func (t *neo4jTx) MergeDomain(ctx context.Context, name string) error {
	return t.exec(ctx, "MERGE (:Domain {name: $name})", map[string]any{"name": name})
}

func (t *neo4jTx) MergeEdge(ctx context.Context, e Edge) error {
	query, err := mergeEdgeCypher(e)
	if err != nil {
		return err
	}
	return t.exec(ctx, query, map[string]any{"from": e.From.Name, "to": e.To.Name})
}

// mergeEdgeCypher builds the MERGE for e. Labels and relationship types
// cannot be query parameters, so they come only from the validated set.
func mergeEdgeCypher(e Edge) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("MATCH (a:%s {name: $from}) MATCH (b:%s {name: $to}) MERGE (a)-[:%s]->(b)",
		e.From.Label, e.To.Label, e.Kind), nil
}

func (t *neo4jTx) DomainSubject(ctx context.Context, domain string) (string, bool, error) {
	res, err := t.tx.Run(ctx,
		"MATCH (:Domain {name: $name})-[:PART_OF_SUBJECT]->(s:Subject) RETURN s.name AS subject LIMIT 1",
		map[string]any{"name": domain})
	if err != nil {
		return "", false, err
	}
	if !res.Next(ctx) {
		return "", false, res.Err()
	}
	subject, _, err := neo4j.GetRecordValue[string](res.Record(), "subject")
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

func (t *neo4jTx) TheoremExists(ctx context.Context, name string) (bool, error) {
	res, err := t.tx.Run(ctx, "MATCH (t:Theorem {name: $name}) RETURN count(t) > 0 AS found",
		map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return false, err
	}
	found, _, err := neo4j.GetRecordValue[bool](rec, "found")
	return found, err
}

// --- reads ---

func (n *Neo4j) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := neo4j.ExecuteQuery(ctx, n.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (n *Neo4j) exists(ctx context.Context, query, name string) (bool, error) {
	recs, err := n.read(ctx, query, map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, nil
	}
	found, _, err := neo4j.GetRecordValue[bool](recs[0], "found")
	return found, err
}

// TheoremExists reports whether a theorem node (stub or full) has this name.
func (n *Neo4j) TheoremExists(ctx context.Context, name string) (bool, error) {
	return n.exists(ctx, "MATCH (t:Theorem {name: $name}) RETURN count(t) > 0 AS found", name)
}

// ExampleExists reports whether an example node has this name.
func (n *Neo4j) ExampleExists(ctx context.Context, name string) (bool, error) {
	return n.exists(ctx, "MATCH (e:Example {name: $name}) RETURN count(e) > 0 AS found", name)
}

const theoremReturn = `t.name AS name, t.statement AS statement, t.proof AS proof,
       t.type AS type, t.subject AS subject, t.domain AS domain`

// recordString reads a string column, treating null as empty.
func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordStrings(rec *neo4j.Record, key string) []string {
	out := []string{}
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return out
	}
	list, _ := v.([]any)
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func theoremFromRecord(rec *neo4j.Record) record.Theorem {
	return record.Theorem{
		Name:      recordString(rec, "name"),
		Statement: recordString(rec, "statement"),
		Proof:     recordString(rec, "proof"),
		Type:      record.TheoremType(recordString(rec, "type")),
		Subject:   recordString(rec, "subject"),
		Domain:    recordString(rec, "domain"),
	}
}

func (n *Neo4j) theorems(ctx context.Context, query string, params map[string]any) ([]record.Theorem, error) {
	recs, err := n.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]record.Theorem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, theoremFromRecord(rec))
	}
	return out, nil
}

// Theorem returns the named theorem with its dependency names.
func (n *Neo4j) Theorem(ctx context.Context, name string) (*record.Theorem, error) {
	recs, err := n.read(ctx, `
MATCH (t:Theorem {name: $name})
OPTIONAL MATCH (t)-[:DEPENDS_ON]->(d:Theorem)
WITH t, d ORDER BY d.name
RETURN `+theoremReturn+`, collect(d.name) AS dependencies
`, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	th := theoremFromRecord(recs[0])
	th.Dependencies = recordStrings(recs[0], "dependencies")
	return &th, nil
}

// Dependencies returns the direct DEPENDS_ON targets of name, stubs included.
func (n *Neo4j) Dependencies(ctx context.Context, name string) ([]record.Theorem, error) {
	return n.theorems(ctx, `
MATCH (:Theorem {name: $name})-[:DEPENDS_ON]->(t:Theorem)
RETURN `+theoremReturn+`
ORDER BY t.name
`, map[string]any{"name": name})
}

// TheoremsBySubject lists theorems linked to a subject, ordered by name.
func (n *Neo4j) TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error) {
	if limit <= 0 {
		limit = 10
	}
	return n.theorems(ctx, `
MATCH (t:Theorem)-[:BELONGS_TO_SUBJECT]->(:Subject {name: $subject})
RETURN `+theoremReturn+`
ORDER BY t.name
LIMIT $limit
`, map[string]any{"subject": subject, "limit": int64(limit)})
}

// TheoremsByDomain lists theorems linked to a domain, ordered by name.
func (n *Neo4j) TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error) {
	if limit <= 0 {
		limit = 10
	}
	return n.theorems(ctx, `
MATCH (t:Theorem)-[:BELONGS_TO_DOMAIN]->(:Domain {name: $domain})
RETURN `+theoremReturn+`
ORDER BY t.name
LIMIT $limit
`, map[string]any{"domain": domain, "limit": int64(limit)})
}

const exampleReturn = `e.name AS name, e.content AS content, e.difficulty AS difficulty,
       e.subject AS subject, e.domain AS domain`

func exampleFromRecord(rec *neo4j.Record) record.Example {
	return record.Example{
		Name:       recordString(rec, "name"),
		Content:    recordString(rec, "content"),
		Difficulty: record.Difficulty(recordString(rec, "difficulty")),
		Subject:    recordString(rec, "subject"),
		Domain:     recordString(rec, "domain"),
	}
}

// Example returns the named example with the theorems it illustrates.
func (n *Neo4j) Example(ctx context.Context, name string) (*record.Example, error) {
	recs, err := n.read(ctx, `
MATCH (e:Example {name: $name})
OPTIONAL MATCH (e)-[:ILLUSTRATES]->(t:Theorem)
WITH e, t ORDER BY t.name
RETURN `+exampleReturn+`, collect(t.name) AS illustrates
`, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	ex := exampleFromRecord(recs[0])
	ex.IllustratesTheorems = recordStrings(recs[0], "illustrates")
	return &ex, nil
}

// ExamplesFor returns examples with an ILLUSTRATES edge to the theorem.
func (n *Neo4j) ExamplesFor(ctx context.Context, theorem string, limit int) ([]record.Example, error) {
	if limit <= 0 {
		limit = 3
	}
	recs, err := n.read(ctx, `
MATCH (e:Example)-[:ILLUSTRATES]->(:Theorem {name: $name})
RETURN `+exampleReturn+`
ORDER BY e.name
LIMIT $limit
`, map[string]any{"name": theorem, "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]record.Example, 0, len(recs))
	for _, rec := range recs {
		ex := exampleFromRecord(rec)
		ex.IllustratesTheorems = []string{theorem}
		out = append(out, ex)
	}
	return out, nil
}

// --- documents ---

// Document returns the registry entry for path, or ErrNotFound.
func (n *Neo4j) Document(ctx context.Context, path string) (*Document, error) {
	recs, err := n.read(ctx, `
MATCH (d:Document {path: $path})
RETURN d.path AS path, d.hash AS hash, d.chunks AS chunks,
       d.theorems AS theorems, d.examples AS examples, d.ingested_at AS ingested_at
`, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	rec := recs[0]
	doc := &Document{
		Path: recordString(rec, "path"),
		Hash: recordString(rec, "hash"),
	}
	for key, dest := range map[string]*int{"chunks": &doc.Chunks, "theorems": &doc.Theorems, "examples": &doc.Examples} {
		v, _, err := neo4j.GetRecordValue[int64](rec, key)
		if err != nil {
			return nil, fmt.Errorf("neo4j document %s: %w", key, err)
		}
		*dest = int(v)
	}
	doc.IngestedAt, _ = time.Parse(time.RFC3339Nano, recordString(rec, "ingested_at"))
	return doc, nil
}

// RecordDocument inserts or replaces the registry entry for doc.Path.
func (n *Neo4j) RecordDocument(ctx context.Context, doc Document) error {
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	return n.Write(ctx, func(tx Tx) error {
		return tx.(*neo4jTx).exec(ctx, `
MERGE (d:Document {path: $path})
SET d.hash = $hash,
    d.chunks = $chunks,
    d.theorems = $theorems,
    d.examples = $examples,
    d.ingested_at = $ingested_at
`, map[string]any{
			"path":        doc.Path,
			"hash":        doc.Hash,
			"chunks":      int64(doc.Chunks),
			"theorems":    int64(doc.Theorems),
			"examples":    int64(doc.Examples),
			"ingested_at": doc.IngestedAt.UTC().Format(time.RFC3339Nano),
		})
	})
}

// --- embeddings ---

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// SetTheoremEmbedding stores the statement embedding on the theorem node.
func (n *Neo4j) SetTheoremEmbedding(ctx context.Context, name string, embedding []float32) error {
	if len(embedding) != n.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), n.embeddingDim)
	}
	found := false
	err := n.Write(ctx, func(tx Tx) error {
		res, err := tx.(*neo4jTx).tx.Run(ctx,
			"MATCH (t:Theorem {name: $name}) SET t.embedding = $embedding RETURN count(t) AS n",
			map[string]any{"name": name, "embedding": toFloat64s(embedding)})
		if err != nil {
			return err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return err
		}
		count, _, err := neo4j.GetRecordValue[int64](rec, "n")
		found = count > 0
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// SimilarTheorems queries the vector index for the k nearest theorems.
func (n *Neo4j) SimilarTheorems(ctx context.Context, embedding []float32, k int) ([]ScoredTheorem, error) {
	if k <= 0 {
		k = 5
	}
	recs, err := n.read(ctx, `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node AS t, score
RETURN `+theoremReturn+`, score
ORDER BY score DESC
`, map[string]any{"index": vectorIndexName, "k": int64(k), "embedding": toFloat64s(embedding)})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredTheorem, 0, len(recs))
	for _, rec := range recs {
		score, _, err := neo4j.GetRecordValue[float64](rec, "score")
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredTheorem{Theorem: theoremFromRecord(rec), Score: score})
	}
	return out, nil
}

// --- stats ---

// Stats returns node and edge counts.
func (n *Neo4j) Stats(ctx context.Context) (*Stats, error) {
	recs, err := n.read(ctx, `
CALL { MATCH (t:Theorem) WHERE t.statement IS NOT NULL RETURN count(t) AS theorems }
CALL { MATCH (t:Theorem) WHERE t.statement IS NULL RETURN count(t) AS stubs }
CALL { MATCH (t:Theorem) WHERE t.embedding IS NOT NULL RETURN count(t) AS embeddings }
CALL { MATCH (e:Example) RETURN count(e) AS examples }
CALL { MATCH (s:Subject) RETURN count(s) AS subjects }
CALL { MATCH (d:Domain) RETURN count(d) AS domains }
CALL { MATCH (d:Document) RETURN count(d) AS documents }
RETURN theorems, stubs, embeddings, examples, subjects, domains, documents
`, nil)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Edges: make(map[EdgeKind]int)}
	if len(recs) > 0 {
		for key, dest := range map[string]*int{
			"theorems":   &stats.Theorems,
			"stubs":      &stats.Stubs,
			"embeddings": &stats.Embeddings,
			"examples":   &stats.Examples,
			"subjects":   &stats.Subjects,
			"domains":    &stats.Domains,
			"documents":  &stats.Documents,
		} {
			v, _, err := neo4j.GetRecordValue[int64](recs[0], key)
			if err != nil {
				return nil, fmt.Errorf("neo4j stats %s: %w", key, err)
			}
			*dest = int(v)
		}
	}

	edgeRecs, err := n.read(ctx, "MATCH ()-[r]->() RETURN type(r) AS kind, count(r) AS n", nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range edgeRecs {
		cnt, _, err := neo4j.GetRecordValue[int64](rec, "n")
		if err != nil {
			return nil, err
		}
		stats.Edges[EdgeKind(recordString(rec, "kind"))] = int(cnt)
	}
	return stats, nil
}
