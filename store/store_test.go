//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/theoremgraph/record"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	return s
}

// writeTheorem performs the same mutations the graph writer issues.
func writeTheorem(t *testing.T, s *SQLite, th record.Theorem) {
	t.Helper()
	err := s.Write(context.Background(), func(tx Tx) error {
		ctx := context.Background()
		if err := tx.MergeTheorem(ctx, th.Name); err != nil {
			return err
		}
		if err := tx.SetTheorem(ctx, th.Name, TheoremFields{
			Statement: th.Statement, Proof: th.Proof, Type: th.Type, Subject: th.Subject, Domain: th.Domain,
		}); err != nil {
			return err
		}
		if err := tx.MergeSubject(ctx, th.Subject); err != nil {
			return err
		}
		if err := tx.MergeDomain(ctx, th.Domain); err != nil {
			return err
		}
		for _, e := range []Edge{
			{Kind: BelongsToSubject, From: NodeRef{LabelTheorem, th.Name}, To: NodeRef{LabelSubject, th.Subject}},
			{Kind: BelongsToDomain, From: NodeRef{LabelTheorem, th.Name}, To: NodeRef{LabelDomain, th.Domain}},
			{Kind: PartOfSubject, From: NodeRef{LabelDomain, th.Domain}, To: NodeRef{LabelSubject, th.Subject}},
		} {
			if err := tx.MergeEdge(ctx, e); err != nil {
				return err
			}
		}
		for _, dep := range th.Dependencies {
			if err := tx.MergeTheorem(ctx, dep); err != nil {
				return err
			}
			if err := tx.MergeEdge(ctx, Edge{Kind: DependsOn, From: NodeRef{LabelTheorem, th.Name}, To: NodeRef{LabelTheorem, dep}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("writing theorem %q: %v", th.Name, err)
	}
}

func lagrange() record.Theorem {
	return record.Theorem{
		Name:         "Lagrange's Theorem",
		Statement:    "The order of a subgroup divides the order of the group.",
		Proof:        record.ProofNotProvided,
		Subject:      "Algebra",
		Domain:       "Group Theory",
		Type:         record.TypeTheorem,
		Dependencies: []string{"Coset Partition Lemma"},
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
	var version int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestNewSQLiteCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := NewSQLite(dbPath, 0)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	defer s.Close()
	if s.EmbeddingDim() != DefaultEmbeddingDim {
		t.Errorf("embedding dim = %d, want %d", s.EmbeddingDim(), DefaultEmbeddingDim)
	}
}

func TestTheoremRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())

	got, err := s.Theorem(ctx, "Lagrange's Theorem")
	if err != nil {
		t.Fatalf("Theorem: %v", err)
	}
	if got.Statement != lagrange().Statement || got.Subject != "Algebra" || got.Type != record.TypeTheorem {
		t.Errorf("unexpected theorem %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "Coset Partition Lemma" {
		t.Errorf("dependencies = %v", got.Dependencies)
	}

	stub, err := s.Theorem(ctx, "Coset Partition Lemma")
	if err != nil {
		t.Fatalf("stub lookup: %v", err)
	}
	if !stub.IsStub() {
		t.Errorf("dependency target should be a stub, got %+v", stub)
	}

	if _, err := s.Theorem(ctx, "Nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing theorem error = %v, want ErrNotFound", err)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())
	first, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	writeTheorem(t, s, lagrange())
	second, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if first.Theorems != second.Theorems || first.Stubs != second.Stubs ||
		first.Subjects != second.Subjects || first.Domains != second.Domains {
		t.Errorf("node counts changed: %+v -> %+v", first, second)
	}
	for kind, n := range first.Edges {
		if second.Edges[kind] != n {
			t.Errorf("%s edges changed: %d -> %d", kind, n, second.Edges[kind])
		}
	}
	if first.Theorems != 1 || first.Stubs != 1 || first.Edges[DependsOn] != 1 || first.Edges[PartOfSubject] != 1 {
		t.Errorf("unexpected stats %+v", first)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Write(ctx, func(tx Tx) error {
		if err := tx.MergeTheorem(ctx, "Half Written"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Write error = %v, want boom", err)
	}
	ok, err := s.TheoremExists(ctx, "Half Written")
	if err != nil {
		t.Fatalf("TheoremExists: %v", err)
	}
	if ok {
		t.Error("theorem from rolled-back transaction should not exist")
	}
}

func TestDomainSubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		before, after string
		hadBefore     bool
		hadAfter      bool
	)
	err := s.Write(ctx, func(tx Tx) error {
		var err error
		before, hadBefore, err = tx.DomainSubject(ctx, "Group Theory")
		return err
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if hadBefore || before != "" {
		t.Errorf("unattached domain reported subject %q", before)
	}

	writeTheorem(t, s, lagrange())
	err = s.Write(ctx, func(tx Tx) error {
		var err error
		after, hadAfter, err = tx.DomainSubject(ctx, "Group Theory")
		return err
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !hadAfter || after != "Algebra" {
		t.Errorf("DomainSubject = %q, %v; want Algebra", after, hadAfter)
	}
}

func TestMergeEdgeRejectsInvalidShape(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Write(ctx, func(tx Tx) error {
		return tx.MergeEdge(ctx, Edge{Kind: Illustrates, From: NodeRef{LabelTheorem, "A"}, To: NodeRef{LabelExample, "B"}})
	})
	if err == nil {
		t.Fatal("expected error for theorem-illustrates-example edge")
	}
}

func TestTheoremsBySubjectAndDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())
	writeTheorem(t, s, record.Theorem{
		Name: "Cauchy's Theorem", Statement: "If p divides |G| then G has an element of order p.",
		Proof: "Not provided", Subject: "Algebra", Domain: "Group Theory", Type: record.TypeTheorem,
	})
	writeTheorem(t, s, record.Theorem{
		Name: "Bolzano-Weierstrass", Statement: "Every bounded sequence has a convergent subsequence.",
		Proof: "Not provided", Subject: "Analysis", Domain: "Real Analysis", Type: record.TypeTheorem,
	})

	algebra, err := s.TheoremsBySubject(ctx, "Algebra", 10)
	if err != nil {
		t.Fatalf("TheoremsBySubject: %v", err)
	}
	if len(algebra) != 2 || algebra[0].Name != "Cauchy's Theorem" || algebra[1].Name != "Lagrange's Theorem" {
		t.Errorf("unexpected algebra theorems %+v", algebra)
	}

	limited, err := s.TheoremsBySubject(ctx, "Algebra", 1)
	if err != nil {
		t.Fatalf("TheoremsBySubject: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d", len(limited))
	}

	real, err := s.TheoremsByDomain(ctx, "Real Analysis", 0)
	if err != nil {
		t.Fatalf("TheoremsByDomain: %v", err)
	}
	if len(real) != 1 || real[0].Name != "Bolzano-Weierstrass" {
		t.Errorf("unexpected real analysis theorems %+v", real)
	}
}

func TestDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())

	deps, err := s.Dependencies(ctx, "Lagrange's Theorem")
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "Coset Partition Lemma" || !deps[0].IsStub() {
		t.Errorf("unexpected dependencies %+v", deps)
	}
}

func TestExamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())

	err := s.Write(ctx, func(tx Tx) error {
		if err := tx.MergeExample(ctx, "Subgroups of Z6"); err != nil {
			return err
		}
		if err := tx.SetExample(ctx, "Subgroups of Z6", ExampleFields{
			Content: "Orders 1, 2, 3, 6.", Difficulty: record.DifficultyEasy, Subject: "Algebra", Domain: "Group Theory",
		}); err != nil {
			return err
		}
		return tx.MergeEdge(ctx, Edge{Kind: Illustrates, From: NodeRef{LabelExample, "Subgroups of Z6"}, To: NodeRef{LabelTheorem, "Lagrange's Theorem"}})
	})
	if err != nil {
		t.Fatalf("writing example: %v", err)
	}

	ex, err := s.Example(ctx, "Subgroups of Z6")
	if err != nil {
		t.Fatalf("Example: %v", err)
	}
	if ex.Difficulty != record.DifficultyEasy || len(ex.IllustratesTheorems) != 1 {
		t.Errorf("unexpected example %+v", ex)
	}

	for_, err := s.ExamplesFor(ctx, "Lagrange's Theorem", 0)
	if err != nil {
		t.Fatalf("ExamplesFor: %v", err)
	}
	if len(for_) != 1 || for_[0].Name != "Subgroups of Z6" {
		t.Errorf("unexpected examples %+v", for_)
	}

	ok, err := s.ExampleExists(ctx, "Subgroups of Z6")
	if err != nil || !ok {
		t.Errorf("ExampleExists = %v, %v", ok, err)
	}
	if _, err := s.Example(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing example error = %v", err)
	}
}

func TestDocumentRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Document(ctx, "/books/algebra.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{Path: "/books/algebra.pdf", Hash: "h1", Chunks: 3, Theorems: 5, Examples: 2, IngestedAt: at}
	if err := s.RecordDocument(ctx, doc); err != nil {
		t.Fatalf("RecordDocument: %v", err)
	}
	doc.Hash = "h2"
	if err := s.RecordDocument(ctx, doc); err != nil {
		t.Fatalf("RecordDocument update: %v", err)
	}

	got, err := s.Document(ctx, "/books/algebra.pdf")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if got.Hash != "h2" || got.Theorems != 5 || !got.IngestedAt.Equal(at) {
		t.Errorf("unexpected document %+v", got)
	}
}

func TestSimilarTheorems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTheorem(t, s, lagrange())
	writeTheorem(t, s, record.Theorem{
		Name: "Bolzano-Weierstrass", Statement: "Every bounded sequence has a convergent subsequence.",
		Proof: "Not provided", Subject: "Analysis", Domain: "Real Analysis", Type: record.TypeTheorem,
	})

	if err := s.SetTheoremEmbedding(ctx, "Lagrange's Theorem", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("SetTheoremEmbedding: %v", err)
	}
	if err := s.SetTheoremEmbedding(ctx, "Bolzano-Weierstrass", []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("SetTheoremEmbedding: %v", err)
	}
	// Replacing an embedding must not fail.
	if err := s.SetTheoremEmbedding(ctx, "Lagrange's Theorem", []float32{0.9, 0.1, 0, 0}); err != nil {
		t.Fatalf("SetTheoremEmbedding replace: %v", err)
	}

	hits, err := s.SimilarTheorems(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SimilarTheorems: %v", err)
	}
	if len(hits) != 2 || hits[0].Theorem.Name != "Lagrange's Theorem" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("hits not ordered by score: %v, %v", hits[0].Score, hits[1].Score)
	}

	if err := s.SetTheoremEmbedding(ctx, "Unknown", []float32{1, 0, 0, 0}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown theorem error = %v", err)
	}
	if err := s.SetTheoremEmbedding(ctx, "Lagrange's Theorem", []float32{1, 0}); err == nil {
		t.Error("expected dimension mismatch error")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Embeddings != 2 {
		t.Errorf("embeddings = %d, want 2", stats.Embeddings)
	}
}
