package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

const defaultKeyPrefix = "theoremgraph:conversation:"

// Redis stores each conversation as a JSON-encoded list.
type Redis struct {
	rdb      *goredis.Client
	prefix   string
	maxTurns int
	ttl      time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, maxTurns int, ttl time.Duration) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("conversation: missing redis addr")
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("conversation: redis ping: %w", err)
	}
	slog.Info("conversation: connected to redis", "addr", cfg.Addr, "max_turns", maxTurns)

	return &Redis{rdb: rdb, prefix: prefix, maxTurns: maxTurns, ttl: ttl}, nil
}

func (r *Redis) key(id string) string { return r.prefix + id }

func (r *Redis) History(ctx context.Context, id string) ([]Turn, error) {
	raw, err := r.rdb.LRange(ctx, r.key(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: reading %s: %w", id, err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, s := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			slog.Warn("conversation: skipping corrupt turn", "conversation", id, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append pushes the turn, trims the list and refreshes the TTL in a single
// round trip.
func (r *Redis) Append(ctx context.Context, id string, t Turn) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	key := r.key(id)
	_, err = r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.LTrim(ctx, key, int64(-r.maxTurns), -1)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: appending to %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
