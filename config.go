package theoremgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/theoremgraph/chunker"
	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/retrieval"
	"github.com/brunobiangulo/theoremgraph/source"
	"github.com/brunobiangulo/theoremgraph/store"
)

// Config holds all configuration for the theoremgraph engine.
type Config struct {
	// Graph selects the store backend. For SQLite an empty Path defaults to
	// ~/.theoremgraph/<DBName>.db.
	Graph store.Config `json:"graph" yaml:"graph"`

	// DBName is the name for the database (used when Graph.Path is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when Graph.Path
	// is not explicitly set. Options: "home" (default) uses ~/.theoremgraph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Embedding is optional: an empty provider disables
	// theorem embeddings, similarity fallback and vector search.
	Chat      llm.Config        `json:"chat" yaml:"chat"`
	Embedding llm.Config        `json:"embedding" yaml:"embedding"`
	Breaker   llm.BreakerConfig `json:"breaker" yaml:"breaker"`

	// Chunking, in characters
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Graph building
	ExtractConcurrency int `json:"extract_concurrency" yaml:"extract_concurrency"` // Max parallel extraction calls (default 1)

	// Retrieval
	Retrieval     retrieval.Config        `json:"retrieval" yaml:"retrieval"`
	SearchWeights retrieval.SearchWeights `json:"search_weights" yaml:"search_weights"`

	Conversation conversation.Config `json:"conversation" yaml:"conversation"`
	Source       SourceConfig        `json:"source" yaml:"source"`
	Server       ServerConfig        `json:"server" yaml:"server"`
	Metrics      MetricsConfig       `json:"metrics" yaml:"metrics"`
}

// SourceConfig configures directory ingestion and watching.
type SourceConfig struct {
	Patterns []string      `json:"patterns" yaml:"patterns"`
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	CORSOrigins  []string      `json:"cors_origins" yaml:"cors_origins"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// UploadDir receives documents posted to /api/ingest.
	UploadDir string `json:"upload_dir" yaml:"upload_dir"`
	// IngestRoots are the directories whose files /api/ingest accepts by
	// path. UploadDir is always allowed.
	IngestRoots []string `json:"ingest_roots" yaml:"ingest_roots"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.theoremgraph/theoremgraph.db by default.
func DefaultConfig() Config {
	return Config{
		Graph: store.Config{
			Backend:      store.BackendSQLite,
			EmbeddingDim: 768,
		},
		DBName:     "theoremgraph",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Breaker:            llm.DefaultBreakerConfig(),
		ChunkSize:          chunker.DefaultSize,
		ChunkOverlap:       chunker.DefaultOverlap,
		ExtractConcurrency: 1,
		Retrieval: retrieval.Config{
			ExamplesPerTheorem: 2,
		},
		SearchWeights: retrieval.DefaultSearchWeights(),
		Conversation: conversation.Config{
			Backend:  conversation.BackendMemory,
			MaxTurns: conversation.DefaultMaxTurns,
			TTL:      24 * time.Hour,
		},
		Source: SourceConfig{
			Patterns: append([]string(nil), source.DefaultPatterns...),
			Debounce: source.DefaultDebounce,
		},
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			UploadDir:    "uploads",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "theoremgraph",
		},
	}
}

// LoadConfig reads a YAML (or JSON) file over DefaultConfig. Keys missing
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. THEOREMGRAPH_* variables
// take precedence over the unprefixed names used by existing deployments.
func (c *Config) ApplyEnv() error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v, ok := os.LookupEnv(n); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, name string) error {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
		}
		*dst = n
		return nil
	}

	str(&c.Graph.Backend, "THEOREMGRAPH_GRAPH_BACKEND")
	str(&c.Graph.Path, "THEOREMGRAPH_DB_PATH")
	str(&c.Graph.Neo4j.URI, "THEOREMGRAPH_NEO4J_URI", "NEO4J_URI")
	str(&c.Graph.Neo4j.Username, "THEOREMGRAPH_NEO4J_USERNAME", "NEO4J_USERNAME")
	str(&c.Graph.Neo4j.Password, "THEOREMGRAPH_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	str(&c.Graph.Neo4j.Database, "THEOREMGRAPH_NEO4J_DATABASE")

	var ollama string
	str(&ollama, "OLLAMA_BASE_URL")
	if ollama != "" {
		if c.Chat.Provider == "ollama" {
			c.Chat.BaseURL = ollama
		}
		if c.Embedding.Provider == "ollama" {
			c.Embedding.BaseURL = ollama
		}
	}
	str(&c.Chat.Provider, "THEOREMGRAPH_CHAT_PROVIDER")
	str(&c.Chat.Model, "THEOREMGRAPH_CHAT_MODEL", "CHAT_LLM", "LLM")
	str(&c.Chat.BaseURL, "THEOREMGRAPH_CHAT_BASE_URL")
	str(&c.Chat.APIKey, "THEOREMGRAPH_CHAT_API_KEY")
	str(&c.Embedding.Provider, "THEOREMGRAPH_EMBEDDING_PROVIDER")
	str(&c.Embedding.Model, "THEOREMGRAPH_EMBEDDING_MODEL")
	str(&c.Embedding.BaseURL, "THEOREMGRAPH_EMBEDDING_BASE_URL")
	str(&c.Embedding.APIKey, "THEOREMGRAPH_EMBEDDING_API_KEY")
	if err := num(&c.Graph.EmbeddingDim, "THEOREMGRAPH_EMBEDDING_DIM"); err != nil {
		return err
	}
	if v := os.Getenv("THEOREMGRAPH_EMBEDDING_PROVIDER"); strings.EqualFold(v, "none") {
		c.Embedding.Provider = ""
	}

	if err := num(&c.ExtractConcurrency, "THEOREMGRAPH_EXTRACT_CONCURRENCY"); err != nil {
		return err
	}

	str(&c.Conversation.Backend, "THEOREMGRAPH_CONVERSATION_BACKEND")
	str(&c.Conversation.Redis.Addr, "THEOREMGRAPH_REDIS_ADDR", "REDIS_ADDR")
	str(&c.Conversation.Redis.Password, "THEOREMGRAPH_REDIS_PASSWORD", "REDIS_PASSWORD")

	str(&c.Server.Addr, "THEOREMGRAPH_ADDR")
	var origins string
	str(&origins, "THEOREMGRAPH_CORS_ORIGINS", "CORS_ORIGIN", "Github_URL")
	if origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	var roots string
	str(&roots, "THEOREMGRAPH_INGEST_ROOTS")
	if roots != "" {
		c.Server.IngestRoots = splitList(roots)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Graph.Backend {
	case "", store.BackendSQLite:
	case store.BackendNeo4j:
		if c.Graph.Neo4j.URI == "" {
			problems = append(problems, "graph.neo4j.uri is required for the neo4j backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown graph backend %q", c.Graph.Backend))
	}
	if c.Graph.EmbeddingDim <= 0 {
		problems = append(problems, "graph.embedding_dim must be positive")
	}
	if c.Chat.Provider == "" {
		problems = append(problems, "chat.provider is required")
	}
	if c.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		problems = append(problems, "chunk_overlap must be in [0, chunk_size)")
	}
	if c.ExtractConcurrency < 0 {
		problems = append(problems, "extract_concurrency must not be negative")
	}
	switch c.Conversation.Backend {
	case "", conversation.BackendMemory:
	case conversation.BackendRedis:
		if c.Conversation.Redis.Addr == "" {
			problems = append(problems, "conversation.redis.addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown conversation backend %q", c.Conversation.Backend))
	}
	if s := c.Retrieval.MinSimilarity; s < 0 || s > 1 {
		problems = append(problems, "retrieval.min_similarity must be in [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.Graph.Path != "" {
		return c.Graph.Path
	}

	name := c.DBName
	if name == "" {
		name = "theoremgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".theoremgraph", name+".db")
	}
}
