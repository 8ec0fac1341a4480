// Package theoremgraph answers algebra questions from a graph of theorems
// and examples extracted out of source documents by a language model.
package theoremgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/theoremgraph/chunker"
	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/graph"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/metrics"
	"github.com/brunobiangulo/theoremgraph/parser"
	"github.com/brunobiangulo/theoremgraph/reasoning"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/retrieval"
	"github.com/brunobiangulo/theoremgraph/source"
	"github.com/brunobiangulo/theoremgraph/store"
)

// Engine is the main entry point for the theorem graph.
type Engine interface {
	// Ingest extracts theorems and examples from a document into the graph.
	// Skips the document if its content hash is unchanged.
	Ingest(ctx context.Context, path string, opts ...IngestOption) (*IngestReport, error)

	// IngestDir ingests every matching document under dir. Per-document
	// failures are joined into the returned error; successful reports are
	// returned either way.
	IngestDir(ctx context.Context, dir string, opts ...IngestOption) ([]*IngestReport, error)

	// IngestText ingests raw text registered under name.
	IngestText(ctx context.Context, name, text string, opts ...IngestOption) (*IngestReport, error)

	// Query resolves the theorems a question needs and answers it.
	Query(ctx context.Context, question string, opts ...QueryOption) (*Answer, error)

	// Theorem returns a fully extracted theorem or ErrTheoremNotFound.
	Theorem(ctx context.Context, name string) (*record.Theorem, error)
	// Prerequisites returns the transitive dependencies of a theorem.
	Prerequisites(ctx context.Context, name string, depth int) ([]graph.Prerequisite, error)
	TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error)
	TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error)
	// SearchTheorems ranks theorems for free text by name, embedding
	// similarity, subject and domain.
	SearchTheorems(ctx context.Context, query string, k int) ([]retrieval.Hit, error)

	Stats(ctx context.Context) (*store.Stats, error)

	// Metrics returns the collector, or nil when metrics are disabled.
	Metrics() *metrics.Collector

	// Close cleanly shuts down the engine.
	Close() error
}

// Answer is the result of a query.
type Answer = reasoning.Answer

// IngestReport describes one ingested document.
type IngestReport struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	// Skipped is set when the content hash matched the previous ingestion.
	Skipped bool `json:"skipped"`
	// Partial is set when some chunks or records failed, or no text was
	// extracted. Such a document is not registered, so the next Ingest
	// retries it in full.
	Partial bool `json:"partial,omitempty"`
	Chunks  int  `json:"chunks"`
	// Kinds counts chunks by their dominant block type.
	Kinds   map[chunker.Kind]int `json:"kinds,omitempty"`
	Build   *graph.Report        `json:"build,omitempty"`
	Elapsed time.Duration        `json:"elapsed"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	force bool
}

// WithForce re-extracts a document even if its hash hasn't changed.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// QueryOption configures query behavior.
type QueryOption func(*queryOptions)

type queryOptions struct {
	conversationID string
}

// WithConversation continues an existing conversation. Without it a new
// conversation id is issued and returned on the Answer.
func WithConversation(id string) QueryOption {
	return func(o *queryOptions) { o.conversationID = id }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	graph     store.Graph
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	parsers   *parser.Registry
	chunkr    *chunker.Chunker
	builder   *graph.Builder
	resolver  *retrieval.Resolver
	searcher  *retrieval.Searcher
	composer  *reasoning.Composer
	history   conversation.Store
	collector *metrics.Collector
}

// New creates an engine from cfg: it connects to the graph store, creates
// the schema if needed, and builds the language model clients.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, err := OpenGraph(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chatLLM, err := llm.NewProvider(cfg.Chat)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%w: chat provider: %w", ErrInvalidConfig, err)
	}
	chatLLM = llm.WithBreaker("chat", chatLLM, cfg.Breaker)

	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(cfg.Embedding)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("%w: embedding provider: %w", ErrInvalidConfig, err)
		}
		embedLLM = llm.WithBreaker("embedding", embedLLM, cfg.Breaker)
	}

	history, err := conversation.Open(ctx, cfg.Conversation)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	slog.Info("engine: ready", "graph", cfg.Graph.Backend, "chat_model", cfg.Chat.Model,
		"embedding_model", cfg.Embedding.Model, "conversation", cfg.Conversation.Backend)
	return newEngine(cfg, g, chatLLM, embedLLM, history, collector), nil
}

// OpenGraph connects to the configured graph store and establishes its
// schema. The CLI uses it directly for commands that need no model.
func OpenGraph(ctx context.Context, cfg Config) (store.Graph, error) {
	storeCfg := cfg.Graph
	if storeCfg.Backend == "" || storeCfg.Backend == store.BackendSQLite {
		storeCfg.Path = cfg.resolveDBPath()
	}
	g, err := store.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphUnavailable, err)
	}
	if err := g.EnsureSchema(ctx); err != nil {
		g.Close()
		return nil, fmt.Errorf("%w: creating schema: %w", ErrGraphUnavailable, err)
	}
	return g, nil
}

// newEngine wires the pipeline around already-open collaborators.
func newEngine(cfg Config, g store.Graph, chat, embed llm.Provider, history conversation.Store, collector *metrics.Collector) *engine {
	return &engine{
		cfg:       cfg,
		graph:     g,
		chatLLM:   chat,
		embedLLM:  embed,
		parsers:   parser.NewRegistry(),
		chunkr:    chunker.New(chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		builder:   graph.NewBuilder(g, chat, embed, cfg.ExtractConcurrency),
		resolver:  retrieval.NewResolver(g, chat, embed, cfg.Retrieval),
		searcher:  retrieval.NewSearcher(g, embed, cfg.SearchWeights),
		composer:  reasoning.NewComposer(chat),
		history:   history,
		collector: collector,
	}
}

// Ingest processes a document through the full pipeline.
func (e *engine) Ingest(ctx context.Context, path string, opts ...IngestOption) (*IngestReport, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	format := parser.Format(absPath)
	if _, err := e.parsers.Get(format); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	hash, err := source.Fingerprint(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}
	if rep, ok := e.unchanged(ctx, absPath, hash, options); ok {
		return rep, nil
	}

	slog.Info("ingest: parsing document", "file", filepath.Base(absPath), "format", format)
	parseStart := time.Now()
	text, err := e.parsers.ExtractText(ctx, absPath)
	if err != nil {
		e.collector.DocumentFailed()
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	slog.Info("ingest: parsing complete", "file", filepath.Base(absPath),
		"chars", len(text), "elapsed", time.Since(parseStart).Round(time.Millisecond))

	return e.ingest(ctx, absPath, hash, text)
}

// IngestText runs raw text through the pipeline under name.
func (e *engine) IngestText(ctx context.Context, name, text string, opts ...IngestOption) (*IngestReport, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("ingest: text needs a name")
	}
	hash := source.FingerprintBytes([]byte(text))
	if rep, ok := e.unchanged(ctx, name, hash, options); ok {
		return rep, nil
	}
	return e.ingest(ctx, name, hash, text)
}

// unchanged reports a skip when the registry already holds this hash.
func (e *engine) unchanged(ctx context.Context, path, hash string, options *ingestOptions) (*IngestReport, bool) {
	if options.force {
		return nil, false
	}
	doc, err := e.graph.Document(ctx, path)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("ingest: document registry lookup failed", "path", path, "error", err)
		}
		return nil, false
	}
	if doc.Hash != hash {
		return nil, false
	}
	slog.Info("ingest: document unchanged, skipping", "path", path)
	e.collector.DocumentSkipped()
	return &IngestReport{Path: path, Hash: hash, Skipped: true, Chunks: doc.Chunks}, true
}

func (e *engine) ingest(ctx context.Context, path, hash, text string) (*IngestReport, error) {
	start := time.Now()
	name := filepath.Base(path)

	chunks := e.chunkr.Split(text)
	slog.Info("ingest: chunking complete", "file", name, "chunks", len(chunks),
		"size", e.chunkr.Config().Size, "overlap", e.chunkr.Config().Overlap)

	rep := &IngestReport{Path: path, Hash: hash, Chunks: len(chunks), Kinds: make(map[chunker.Kind]int)}
	for _, c := range chunks {
		rep.Kinds[c.Kind]++
	}

	build, err := e.builder.Build(ctx, chunks)
	if err != nil {
		e.collector.DocumentFailed()
		if errors.Is(err, graph.ErrAllChunksFailed) {
			return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, name, err)
		}
		return nil, fmt.Errorf("building graph for %s: %w", name, err)
	}
	rep.Build = build
	e.collector.DocumentIngested(build)

	rep.Partial = len(chunks) == 0 || build.ChunksFailed > 0 || build.Batch.Failed() > 0
	if rep.Partial {
		slog.Warn("ingest: incomplete build, document left unregistered", "file", name,
			"chunks", len(chunks), "chunks_failed", build.ChunksFailed, "records_failed", build.Batch.Failed())
	} else {
		err := e.graph.RecordDocument(ctx, store.Document{
			Path:     path,
			Hash:     hash,
			Chunks:   len(chunks),
			Theorems: build.Batch.TheoremsWritten,
			Examples: build.Batch.ExamplesWritten,
		})
		if err != nil {
			return rep, fmt.Errorf("recording document: %w", err)
		}
	}

	rep.Elapsed = time.Since(start)
	slog.Info("ingest: document ready", "file", name,
		"theorems", build.Batch.TheoremsWritten, "examples", build.Batch.ExamplesWritten,
		"failed", build.Batch.Failed(), "total_elapsed", rep.Elapsed.Round(time.Millisecond))
	return rep, nil
}

// IngestDir ingests every document under dir that matches the configured
// source patterns, in path order.
func (e *engine) IngestDir(ctx context.Context, dir string, opts ...IngestOption) ([]*IngestReport, error) {
	files, err := source.Scan(dir, e.cfg.Source.Patterns)
	if err != nil {
		return nil, err
	}
	slog.Info("ingest: scanning directory", "dir", dir, "documents", len(files))

	var (
		reports []*IngestReport
		errs    []error
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := e.Ingest(ctx, f, opts...)
		if err != nil {
			slog.Error("ingest: document failed", "path", f, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

// Query resolves the theorems the question names and composes an answer.
// History is appended only after an answer has been produced.
func (e *engine) Query(ctx context.Context, question string, opts ...QueryOption) (*Answer, error) {
	options := &queryOptions{}
	for _, o := range opts {
		o(options)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	id := options.conversationID
	if id == "" {
		id = conversation.NewID()
	}
	start := time.Now()

	history, err := e.history.History(ctx, id)
	if err != nil {
		slog.Warn("conversation: history unavailable, answering without it", "conversation", id, "error", err)
		history = nil
	}

	res, err := e.resolver.Resolve(ctx, question, history)
	if err != nil {
		e.collector.QueryAnswered("error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}

	answer, err := e.composer.Compose(ctx, question, history, res.Resolutions)
	if err != nil {
		e.collector.QueryAnswered("error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	answer.ConversationID = id

	turn := conversation.Turn{
		Question: question,
		Answer:   answer.Text,
		Theorems: res.Names(),
		At:       time.Now().UTC(),
	}
	if err := e.history.Append(ctx, id, turn); err != nil {
		slog.Warn("conversation: append failed", "conversation", id, "error", err)
	}

	outcome := "ungrounded"
	if answer.Grounded {
		outcome = "grounded"
	}
	e.collector.QueryAnswered(outcome, time.Since(start))
	return answer, nil
}

func (e *engine) Theorem(ctx context.Context, name string) (*record.Theorem, error) {
	t, err := e.graph.Theorem(ctx, name)
	if errors.Is(err, store.ErrNotFound) || (err == nil && t.IsStub()) {
		return nil, fmt.Errorf("%w: %q", ErrTheoremNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *engine) Prerequisites(ctx context.Context, name string, depth int) ([]graph.Prerequisite, error) {
	if _, err := e.Theorem(ctx, name); err != nil {
		return nil, err
	}
	return graph.Prerequisites(ctx, e.graph, name, depth)
}

func (e *engine) TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error) {
	return e.graph.TheoremsBySubject(ctx, subject, limit)
}

func (e *engine) TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error) {
	return e.graph.TheoremsByDomain(ctx, domain, limit)
}

func (e *engine) SearchTheorems(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	return e.searcher.Search(ctx, strings.TrimSpace(query), k)
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.graph.Stats(ctx)
}

func (e *engine) Metrics() *metrics.Collector { return e.collector }

// Close releases the conversation store and the graph connection.
func (e *engine) Close() error {
	return errors.Join(e.history.Close(), e.graph.Close())
}
