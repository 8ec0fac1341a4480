// Package store persists the theorem graph. Two backends implement Graph:
// an embedded SQLite database (the default) and Neo4j.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brunobiangulo/theoremgraph/record"
)

// ErrNotFound is returned by single-node reads that match nothing.
var ErrNotFound = errors.New("store: not found")

// Label names a node kind.
type Label string

const (
	LabelTheorem Label = "Theorem"
	LabelExample Label = "Example"
	LabelSubject Label = "Subject"
	LabelDomain  Label = "Domain"
)

// EdgeKind names a relationship type.
type EdgeKind string

const (
	BelongsToSubject EdgeKind = "BELONGS_TO_SUBJECT"
	BelongsToDomain  EdgeKind = "BELONGS_TO_DOMAIN"
	PartOfSubject    EdgeKind = "PART_OF_SUBJECT"
	DependsOn        EdgeKind = "DEPENDS_ON"
	Illustrates      EdgeKind = "ILLUSTRATES"
)

// edgeShapes lists, per relationship type, the node labels it may connect.
var edgeShapes = map[EdgeKind][][2]Label{
	BelongsToSubject: {{LabelTheorem, LabelSubject}, {LabelExample, LabelSubject}},
	BelongsToDomain:  {{LabelTheorem, LabelDomain}, {LabelExample, LabelDomain}},
	PartOfSubject:    {{LabelDomain, LabelSubject}},
	DependsOn:        {{LabelTheorem, LabelTheorem}},
	Illustrates:      {{LabelExample, LabelTheorem}},
}

// NodeRef identifies a node by label and name.
type NodeRef struct {
	Label Label
	Name  string
}

// Edge is a directed, typed relationship between two named nodes.
type Edge struct {
	Kind EdgeKind
	From NodeRef
	To   NodeRef
}

// Validate reports whether the edge joins labels its kind allows.
func (e Edge) Validate() error {
	for _, shape := range edgeShapes[e.Kind] {
		if shape[0] == e.From.Label && shape[1] == e.To.Label {
			if e.From.Name == "" || e.To.Name == "" {
				return fmt.Errorf("store: %s edge with empty endpoint", e.Kind)
			}
			return nil
		}
	}
	return fmt.Errorf("store: %s edge cannot join %s to %s", e.Kind, e.From.Label, e.To.Label)
}

// TheoremFields are the scalar properties overwritten on every theorem write.
type TheoremFields struct {
	Statement string
	Proof     string
	Type      record.TheoremType
	Subject   string
	Domain    string
}

// ExampleFields are the scalar properties overwritten on every example write.
type ExampleFields struct {
	Content    string
	Difficulty record.Difficulty
	Subject    string
	Domain     string
}

// Tx is a write transaction. Every mutation is create-if-absent or a scalar
// overwrite, so replaying the same sequence leaves the graph unchanged.
type Tx interface {
	// MergeTheorem creates a bare theorem node if none has this name.
	MergeTheorem(ctx context.Context, name string) error
	SetTheorem(ctx context.Context, name string, f TheoremFields) error
	MergeExample(ctx context.Context, name string) error
	SetExample(ctx context.Context, name string, f ExampleFields) error
	MergeSubject(ctx context.Context, name string) error
	MergeDomain(ctx context.Context, name string) error
	// MergeEdge asserts the edge; both endpoints must already exist.
	MergeEdge(ctx context.Context, e Edge) error
	TheoremExists(ctx context.Context, name string) (bool, error)
	// DomainSubject returns the subject the domain is already PART_OF, if any.
	DomainSubject(ctx context.Context, domain string) (string, bool, error)
}

// Document records one ingested source so unchanged files can be skipped.
type Document struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Chunks     int       `json:"chunks"`
	Theorems   int       `json:"theorems"`
	Examples   int       `json:"examples"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Stats summarises the graph contents.
type Stats struct {
	Theorems   int              `json:"theorems"`
	Stubs      int              `json:"stubs"`
	Examples   int              `json:"examples"`
	Subjects   int              `json:"subjects"`
	Domains    int              `json:"domains"`
	Documents  int              `json:"documents"`
	Embeddings int              `json:"embeddings"`
	Edges      map[EdgeKind]int `json:"edges"`
}

// ScoredTheorem is a similarity search hit. Score is cosine similarity.
type ScoredTheorem struct {
	Theorem record.Theorem `json:"theorem"`
	Score   float64        `json:"score"`
}

// Graph is the theorem graph store.
type Graph interface {
	// EnsureSchema creates constraints and indexes. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	// Write runs fn in one transaction, committing only if fn returns nil.
	Write(ctx context.Context, fn func(Tx) error) error

	TheoremExists(ctx context.Context, name string) (bool, error)
	ExampleExists(ctx context.Context, name string) (bool, error)
	// Theorem returns the named theorem with its dependency names, or
	// ErrNotFound.
	Theorem(ctx context.Context, name string) (*record.Theorem, error)
	// Dependencies returns the direct DEPENDS_ON targets of name.
	Dependencies(ctx context.Context, name string) ([]record.Theorem, error)
	TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error)
	TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error)
	Example(ctx context.Context, name string) (*record.Example, error)
	// ExamplesFor returns examples that illustrate the named theorem.
	ExamplesFor(ctx context.Context, theorem string, limit int) ([]record.Example, error)

	Document(ctx context.Context, path string) (*Document, error)
	RecordDocument(ctx context.Context, doc Document) error

	SetTheoremEmbedding(ctx context.Context, name string, embedding []float32) error
	SimilarTheorems(ctx context.Context, embedding []float32, k int) ([]ScoredTheorem, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config selects and configures a backend.
type Config struct {
	Backend      string      `json:"backend" yaml:"backend"`
	Path         string      `json:"path" yaml:"path"` // SQLite database file
	EmbeddingDim int         `json:"embedding_dim" yaml:"embedding_dim"`
	Neo4j        Neo4jConfig `json:"neo4j" yaml:"neo4j"`
}

// Open connects to the configured backend. It does not create the schema.
func Open(ctx context.Context, cfg Config) (Graph, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLite(cfg.Path, cfg.EmbeddingDim)
	case BackendNeo4j:
		return NewNeo4j(ctx, cfg.Neo4j, cfg.EmbeddingDim)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
