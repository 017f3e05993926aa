// Package cache keeps query embeddings in Redis so repeated searches skip the
// embedding provider.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
)

const (
	keyPrefix  = "docsearch:embed:"
	DefaultTTL = 24 * time.Hour
)

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// EmbeddingCache wraps an ai.Client and caches query embeddings. Document
// embeddings and generation calls pass straight through.
type EmbeddingCache struct {
	next  ai.Client
	kv    KV
	model string
	ttl   time.Duration
}

var _ ai.Client = (*EmbeddingCache)(nil)

// NewEmbeddingCache decorates next. model is part of the key so switching
// embedding models never serves stale vectors.
func NewEmbeddingCache(next ai.Client, kv KV, model string, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EmbeddingCache{next: next, kv: kv, model: model, ttl: ttl}
}

// Key returns the Redis key for a query text.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string, task ai.TaskType) ([]float32, error) {
	if task != ai.TaskQuery {
		return c.next.Embed(ctx, text, task)
	}

	key := Key(c.model, text)
	if vec, ok := c.lookup(ctx, key); ok {
		log.Debug().Str("key", key).Msg("embedding cache hit")
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text, task)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(vec)
	if err == nil {
		err = c.kv.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("embedding cache write failed")
	}
	return vec, nil
}

func (c *EmbeddingCache) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.kv.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("embedding cache read failed")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		log.Warn().Err(err).Str("key", key).Msg("discarding bad cache entry")
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) Generate(ctx context.Context, prompt string) (string, error) {
	return c.next.Generate(ctx, prompt)
}

func (c *EmbeddingCache) Dim() int { return c.next.Dim() }

// Wrap decorates next with a Redis-backed cache when opts.Addr is set and
// returns next unchanged otherwise. The returned func closes the connection.
func Wrap(ctx context.Context, next ai.Client, opts Options, model string) (ai.Client, func(), error) {
	if opts.Addr == "" {
		return next, func() {}, nil
	}
	rdb, err := Connect(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", opts.Addr).Dur("ttl", opts.TTL).Msg("query embedding cache enabled")
	return NewEmbeddingCache(next, rdb, model, opts.TTL), func() { _ = rdb.Close() }, nil
}
