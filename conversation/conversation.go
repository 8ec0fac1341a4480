// Package conversation keeps per-conversation question/answer history.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultID is used by callers that do not track conversations.
const DefaultID = "default"

// DefaultMaxTurns bounds the history kept per conversation.
const DefaultMaxTurns = 20

// Turn is one answered exchange.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Theorems []string  `json:"theorems,omitempty"`
	At       time.Time `json:"at"`
}

// Store holds conversation histories. Implementations are safe for
// concurrent use.
type Store interface {
	// History returns the turns of id, oldest first. An unknown id has an
	// empty history.
	History(ctx context.Context, id string) ([]Turn, error)
	// Append adds a turn to id, dropping the oldest turns beyond the limit.
	Append(ctx context.Context, id string, t Turn) error
	Close() error
}

// NewID issues a fresh conversation id.
func NewID() string { return uuid.NewString() }

// Format renders turns as the transcript passed to prompts.
func Format(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects a history backend.
type Config struct {
	Backend  string        `json:"backend" yaml:"backend"`
	MaxTurns int           `json:"max_turns" yaml:"max_turns"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"` // redis only; zero keeps history forever
	Redis    RedisConfig   `json:"redis" yaml:"redis"`
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(cfg.MaxTurns), nil
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis, cfg.MaxTurns, cfg.TTL)
	default:
		return nil, fmt.Errorf("conversation: unknown backend %q", cfg.Backend)
	}
}
