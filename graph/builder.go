// Package graph turns document chunks into theorem and example records and
// writes them into the graph store.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/theoremgraph/chunker"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

// ErrAllChunksFailed is returned by Build when the model could not be
// reached for any chunk.
var ErrAllChunksFailed = errors.New("graph: extraction failed for every chunk")

// defaultConcurrency suits a single local model server.
const defaultConcurrency = 1

// perChunkTimeout caps how long both extraction passes of one chunk can take.
const perChunkTimeout = 90 * time.Second

// embedBatchSize bounds how many statements go into one embedding request.
const embedBatchSize = 32

// Builder drives extraction over a document's chunks and commits the
// deduplicated records.
type Builder struct {
	extractor    *Extractor
	writer       *Writer
	embed        llm.Provider
	concurrency  int
	chunkTimeout time.Duration
}

// NewBuilder creates a builder. embed may be nil, in which case theorem
// statements are not embedded.
func NewBuilder(g store.Graph, chat, embed llm.Provider, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{
		extractor:    NewExtractor(chat),
		writer:       NewWriter(g),
		embed:        embed,
		concurrency:  concurrency,
		chunkTimeout: perChunkTimeout,
	}
}

// Report summarises one Build.
type Report struct {
	Chunks        int           `json:"chunks"`
	ChunksSkipped int           `json:"chunks_skipped"`
	ChunksFailed  int           `json:"chunks_failed"`
	Candidates    int           `json:"candidates"`
	Rejected      int           `json:"rejected"`
	Theorems      int           `json:"theorems"`
	Examples      int           `json:"examples"`
	Embedded      int           `json:"embedded"`
	Batch         BatchReport   `json:"batch"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Build extracts records from every chunk, waits for all of them, dedupes
// the combined candidates in chunk order and commits the result. Individual
// chunk failures are tolerated; ErrAllChunksFailed is returned only when no
// chunk reached the model.
func (b *Builder) Build(ctx context.Context, chunks []chunker.Chunk) (*Report, error) {
	start := time.Now()
	rep := &Report{Chunks: len(chunks)}

	var eligible []chunker.Chunk
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			slog.Info("graph: skipping blank chunk", "chunk", c.Index)
			rep.ChunksSkipped++
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		rep.Elapsed = time.Since(start)
		return rep, nil
	}

	slog.Info("graph: processing chunks", "total", len(chunks), "eligible", len(eligible),
		"skipped", rep.ChunksSkipped, "concurrency", b.concurrency)

	results := make([]Extraction, len(eligible))
	var (
		mu        sync.Mutex
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, c := range eligible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			chunkCtx, cancel := context.WithTimeout(gctx, b.chunkTimeout)
			defer cancel()

			chunkStart := time.Now()
			results[i] = b.extractor.Extract(chunkCtx, c)

			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			slog.Info("graph: chunk processed",
				"progress", fmt.Sprintf("%d/%d", n, len(eligible)),
				"chunk", c.Index,
				"theorems", len(results[i].Theorems),
				"examples", len(results[i].Examples),
				"elapsed", time.Since(chunkStart).Round(time.Millisecond),
				"total_elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("graph: build interrupted: %w", err)
	}

	var (
		theorems []record.Theorem
		examples []record.Example
		firstErr error
	)
	for _, r := range results {
		if r.Err != nil {
			rep.ChunksFailed++
			if firstErr == nil {
				firstErr = r.Err
			}
		}
		rep.Rejected += r.Rejected
		theorems = append(theorems, r.Theorems...)
		examples = append(examples, r.Examples...)
	}
	if rep.ChunksFailed == len(eligible) {
		return nil, fmt.Errorf("%w (%d chunks): %w", ErrAllChunksFailed, len(eligible), firstErr)
	}
	if rep.ChunksFailed > 0 {
		slog.Warn("graph: extraction completed with failures",
			"succeeded", len(eligible)-rep.ChunksFailed, "failed", rep.ChunksFailed, "total", len(eligible))
	}

	rep.Candidates = len(theorems) + len(examples)
	theorems = DedupeTheorems(theorems)
	examples = DedupeExamples(examples)
	rep.Theorems = len(theorems)
	rep.Examples = len(examples)

	rep.Batch = b.writer.Commit(ctx, theorems, examples)
	if rep.Batch.Canceled {
		return nil, fmt.Errorf("graph: commit interrupted: %w", ctx.Err())
	}

	if b.embed != nil {
		rep.Embedded = b.embedTheorems(ctx, theorems)
	}

	rep.Elapsed = time.Since(start)
	slog.Info("graph: build complete",
		"chunks", len(eligible), "theorems", rep.Theorems, "examples", rep.Examples,
		"rejected", rep.Rejected, "elapsed", rep.Elapsed.Round(time.Millisecond))
	return rep, nil
}

// embedTheorems stores a statement embedding for each theorem. Failures are
// logged; the graph is usable without embeddings.
func (b *Builder) embedTheorems(ctx context.Context, theorems []record.Theorem) int {
	var embedded int
	for start := 0; start < len(theorems); start += embedBatchSize {
		end := min(start+embedBatchSize, len(theorems))
		batch := theorems[start:end]

		texts := make([]string, len(batch))
		for i, t := range batch {
			texts[i] = t.Name + ": " + t.Statement
		}
		vecs, err := b.embed.Embed(ctx, texts)
		if err != nil {
			slog.Warn("graph: embedding theorems failed", "batch_start", start, "error", err)
			continue
		}
		if len(vecs) != len(batch) {
			slog.Warn("graph: embedding count mismatch", "want", len(batch), "got", len(vecs))
			continue
		}
		for i, t := range batch {
			if err := b.writer.g.SetTheoremEmbedding(ctx, t.Name, vecs[i]); err != nil {
				slog.Warn("graph: storing embedding failed", "theorem", t.Name, "error", err)
				continue
			}
			embedded++
		}
	}
	return embedded
}
