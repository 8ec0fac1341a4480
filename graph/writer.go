package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

// Writer persists records with merge semantics: nodes are created if absent,
// scalar fields are overwritten and edges are asserted. Replaying a write is
// a no-op.
type Writer struct {
	g store.Graph

	mu sync.Mutex
	// conflicts maps a domain to subjects refused as its parent since the
	// last Commit.
	conflicts map[string][]string
}

// NewWriter creates a writer over g.
func NewWriter(g store.Graph) *Writer {
	return &Writer{g: g}
}

// BatchReport counts the outcome of a Commit.
type BatchReport struct {
	TheoremsWritten int `json:"theorems_written"`
	TheoremsFailed  int `json:"theorems_failed"`
	ExamplesWritten int `json:"examples_written"`
	ExamplesFailed  int `json:"examples_failed"`
	// Missing maps example names to illustrated theorems that did not exist
	// at write time.
	Missing map[string][]string `json:"missing,omitempty"`
	// Collisions lists names used by both a theorem and an example.
	Collisions []string `json:"collisions,omitempty"`
	// DomainConflicts maps a domain to the subjects it was not attached to
	// because it already belonged to another one.
	DomainConflicts map[string][]string `json:"domain_conflicts,omitempty"`
	// Canceled is set when the context ended before every record was written.
	Canceled bool `json:"canceled,omitempty"`
}

// Failed returns the number of records that could not be written.
func (r BatchReport) Failed() int { return r.TheoremsFailed + r.ExamplesFailed }

// WriteTheorem merges t, its subject and domain, their hierarchy edges and
// a DEPENDS_ON edge per dependency. Unknown dependencies become stub nodes.
func (w *Writer) WriteTheorem(ctx context.Context, t record.Theorem) error {
	if t.Name == "" {
		return fmt.Errorf("graph: theorem without name")
	}
	deps := record.CleanNames(t.Dependencies, t.Name)
	node := store.NodeRef{Label: store.LabelTheorem, Name: t.Name}

	var refused string
	err := w.g.Write(ctx, func(tx store.Tx) error {
		refused = ""
		if err := tx.MergeTheorem(ctx, t.Name); err != nil {
			return err
		}
		if err := tx.SetTheorem(ctx, t.Name, store.TheoremFields{
			Statement: t.Statement,
			Proof:     t.Proof,
			Type:      t.Type,
			Subject:   t.Subject,
			Domain:    t.Domain,
		}); err != nil {
			return err
		}
		var err error
		if refused, err = mergeHierarchy(ctx, tx, node, t.Subject, t.Domain); err != nil {
			return err
		}
		for _, dep := range deps {
			if err := tx.MergeTheorem(ctx, dep); err != nil {
				return err
			}
			if err := tx.MergeEdge(ctx, store.Edge{
				Kind: store.DependsOn,
				From: node,
				To:   store.NodeRef{Label: store.LabelTheorem, Name: dep},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.noteConflict(t.Domain, refused)
	return nil
}

// WriteExample merges e and its hierarchy edges, then links it to every
// illustrated theorem that already exists. The names that did not exist are
// returned; the example itself is still written.
func (w *Writer) WriteExample(ctx context.Context, e record.Example) ([]string, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("graph: example without name")
	}
	targets := record.CleanNames(e.IllustratesTheorems, "")
	node := store.NodeRef{Label: store.LabelExample, Name: e.Name}

	var (
		missing []string
		refused string
	)
	err := w.g.Write(ctx, func(tx store.Tx) error {
		missing = missing[:0]
		if err := tx.MergeExample(ctx, e.Name); err != nil {
			return err
		}
		if err := tx.SetExample(ctx, e.Name, store.ExampleFields{
			Content:    e.Content,
			Difficulty: e.Difficulty,
			Subject:    e.Subject,
			Domain:     e.Domain,
		}); err != nil {
			return err
		}
		var err error
		if refused, err = mergeHierarchy(ctx, tx, node, e.Subject, e.Domain); err != nil {
			return err
		}
		for _, name := range targets {
			ok, err := tx.TheoremExists(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, name)
				continue
			}
			if err := tx.MergeEdge(ctx, store.Edge{
				Kind: store.Illustrates,
				From: node,
				To:   store.NodeRef{Label: store.LabelTheorem, Name: name},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.noteConflict(e.Domain, refused)
	if len(missing) > 0 {
		slog.Warn("graph: example illustrates unknown theorems", "example", e.Name, "missing", missing)
	}
	return missing, nil
}

// mergeHierarchy asserts node -> subject, node -> domain and domain ->
// subject. A domain keeps the first subject it was attached to; a different
// subject is returned as refused and no second PART_OF_SUBJECT edge is made.
func mergeHierarchy(ctx context.Context, tx store.Tx, node store.NodeRef, subject, domain string) (refused string, err error) {
	subj := store.NodeRef{Label: store.LabelSubject, Name: subject}
	dom := store.NodeRef{Label: store.LabelDomain, Name: domain}
	if subject != "" {
		if err := tx.MergeSubject(ctx, subject); err != nil {
			return "", err
		}
		if err := tx.MergeEdge(ctx, store.Edge{Kind: store.BelongsToSubject, From: node, To: subj}); err != nil {
			return "", err
		}
	}
	if domain != "" {
		if err := tx.MergeDomain(ctx, domain); err != nil {
			return "", err
		}
		if err := tx.MergeEdge(ctx, store.Edge{Kind: store.BelongsToDomain, From: node, To: dom}); err != nil {
			return "", err
		}
	}
	if subject == "" || domain == "" {
		return "", nil
	}
	parent, ok, err := tx.DomainSubject(ctx, domain)
	if err != nil {
		return "", err
	}
	if ok && parent != subject {
		slog.Warn("graph: domain already belongs to another subject",
			"domain", domain, "kept", parent, "refused", subject, "node", node.Name)
		return subject, nil
	}
	return "", tx.MergeEdge(ctx, store.Edge{Kind: store.PartOfSubject, From: dom, To: subj})
}

func (w *Writer) noteConflict(domain, refused string) {
	if refused == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conflicts == nil {
		w.conflicts = make(map[string][]string)
	}
	if !slices.Contains(w.conflicts[domain], refused) {
		w.conflicts[domain] = append(w.conflicts[domain], refused)
	}
}

func (w *Writer) takeConflicts() map[string][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.conflicts
	w.conflicts = nil
	return out
}

// TheoremExists reports whether a theorem (stub or full) has this name.
func (w *Writer) TheoremExists(ctx context.Context, name string) (bool, error) {
	return w.g.TheoremExists(ctx, name)
}

// Commit writes all theorems, then all examples, in name order. Failures
// are logged and counted without aborting the batch, so a partial batch can
// be retried as a whole.
func (w *Writer) Commit(ctx context.Context, theorems []record.Theorem, examples []record.Example) (rep BatchReport) {
	w.takeConflicts()
	defer func() {
		rep.DomainConflicts = w.takeConflicts()
		if len(rep.DomainConflicts) > 0 {
			slog.Warn("graph: domains referenced under several subjects", "conflicts", rep.DomainConflicts)
		}
	}()

	theorems = sortedByName(theorems, theoremName)
	examples = sortedByName(examples, exampleName)

	for _, t := range theorems {
		if ctx.Err() != nil {
			rep.Canceled = true
			return rep
		}
		if err := w.WriteTheorem(ctx, t); err != nil {
			slog.Warn("graph: theorem write failed", "theorem", t.Name, "error", err)
			rep.TheoremsFailed++
			continue
		}
		rep.TheoremsWritten++
		if ok, err := w.g.ExampleExists(ctx, t.Name); err == nil && ok {
			rep.Collisions = append(rep.Collisions, t.Name)
		}
	}

	for _, e := range examples {
		if ctx.Err() != nil {
			rep.Canceled = true
			return rep
		}
		if ok, err := w.g.TheoremExists(ctx, e.Name); err == nil && ok {
			rep.Collisions = append(rep.Collisions, e.Name)
		}
		missing, err := w.WriteExample(ctx, e)
		if err != nil {
			slog.Warn("graph: example write failed", "example", e.Name, "error", err)
			rep.ExamplesFailed++
			continue
		}
		rep.ExamplesWritten++
		if len(missing) > 0 {
			if rep.Missing == nil {
				rep.Missing = make(map[string][]string)
			}
			rep.Missing[e.Name] = missing
		}
	}

	if len(rep.Collisions) > 0 {
		rep.Collisions = record.CleanNames(rep.Collisions, "")
		slog.Warn("graph: names shared by a theorem and an example", "names", rep.Collisions)
	}
	slog.Info("graph: batch committed",
		"theorems", rep.TheoremsWritten, "theorems_failed", rep.TheoremsFailed,
		"examples", rep.ExamplesWritten, "examples_failed", rep.ExamplesFailed)
	return rep
}

func sortedByName[T any](items []T, name func(T) string) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return name(out[i]) < name(out[j]) })
	return out
}
